package cli

import (
	"context"
	"net"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"agri-inference-service/api"
	"agri-inference-service/event"
)

const shutdownTimeout = 10 * time.Second

var (
	restAddrOverride string
	grpcAddrOverride string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the REST and gRPC servers",
	RunE: func(cmd *cobra.Command, args []string) error {
		if restAddrOverride != "" {
			cfg.Server.RESTAddr = restAddrOverride
		}
		if grpcAddrOverride != "" {
			cfg.Server.GRPCAddr = grpcAddrOverride
		}

		p, err := newPipeline(cfg, log)
		if err != nil {
			return err
		}
		defer func() {
			if err := p.Close(); err != nil {
				log.WithError(err).Warn("Failed to release resources")
			}
		}()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, p)
	},
}

func serve(ctx context.Context, p *pipeline) error {
	events := event.NewBus(cfg.EventBuffer, log.WithField("component", "events"))
	dispatcher := event.NewDispatcher(p.history, log.WithField("component", "events"))
	dispatched := make(chan struct{})
	go func() {
		defer close(dispatched)
		dispatcher.Run(context.WithoutCancel(ctx), events.Events())
	}()

	restServer := api.NewRESTServer(api.Deps{
		Detector:      p.detector,
		Knowledge:     p.kb,
		History:       p.history,
		Models:        p.lifecycle,
		Events:        events,
		Gatherer:      p.registry,
		Log:           log.WithField("component", "rest"),
		MaxUploadSize: cfg.Server.MaxUploadSize,
		CORSOrigins:   cfg.Server.CORSOrigins,
	})

	grpcServer := grpc.NewServer(grpc.MaxRecvMsgSize(cfg.Server.MaxUploadSize + 1<<10))
	api.RegisterLeafAnalysisServer(grpcServer, api.NewLeafAnalysisServer(
		p.detector, p.kb, events, log.WithField("component", "grpc"), cfg.Server.MaxUploadSize,
	))

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		events.Close()
		<-dispatched
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Infof("Starting gRPC server on %s", cfg.Server.GRPCAddr)
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		log.Infof("Starting Fiber server on %s", cfg.Server.RESTAddr)
		return restServer.Listen(cfg.Server.RESTAddr)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down")
		grpcServer.GracefulStop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return restServer.ShutdownWithContext(shutdownCtx)
	})

	err = g.Wait()
	// Handlers outliving the shutdown timeout see a closed bus and drop
	// their events.
	events.Close()
	<-dispatched
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func init() {
	serveCmd.Flags().StringVar(&restAddrOverride, "rest-addr", "", "REST listen address (overrides config)")
	serveCmd.Flags().StringVar(&grpcAddrOverride, "grpc-addr", "", "gRPC listen address (overrides config)")
	rootCmd.AddCommand(serveCmd)
}
