package cli

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"agri-inference-service/config"
	"agri-inference-service/data"
	"agri-inference-service/model"
	"agri-inference-service/service"
)

// pipeline holds everything a detection needs, built once per process.
type pipeline struct {
	kb        *data.KnowledgeBase
	lifecycle *model.Lifecycle
	detector  *service.Detector
	history   data.HistoryStore
	registry  *prometheus.Registry

	closers []func() error
}

func newPipeline(cfg *config.Config, log *logrus.Logger) (*pipeline, error) {
	kb, err := data.LoadKnowledgeBase(cfg.KnowledgeBase)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := service.NewMetrics(registry)

	modelLog := log.WithField("component", "model")
	spec := model.ModelSpec{
		InputName:  cfg.Model.InputName,
		OutputName: cfg.Model.OutputName,
		OutputSize: cfg.Model.OutputSize,
	}
	sources := model.Sources(cfg.Model.CachePath, cfg.Model.URL, spec)
	loader := &model.ONNXLoader{
		Client:      &http.Client{},
		CachePath:   cfg.Model.CachePath,
		LibraryPath: cfg.Model.LibraryPath,
		Log:         modelLog,
	}
	lifecycle := model.NewLifecycle(loader, sources,
		model.WithLoadTimeout(cfg.Model.LoadTimeout),
		model.WithLogger(modelLog),
		model.WithStateObserver(metrics.ObserveModelState),
	)

	p := &pipeline{
		kb:        kb,
		lifecycle: lifecycle,
		registry:  registry,
		closers:   []func() error{lifecycle.Close, model.ShutdownRuntime},
	}

	if cfg.Database.Driver == "" {
		p.history = data.NewMemoryHistory(cfg.Database.MaxRetained)
	} else {
		db, err := data.Open(cfg.Database.Driver, cfg.Database.DSN)
		if err != nil {
			return nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get database handle: %w", err)
		}
		p.closers = append(p.closers, sqlDB.Close)
		p.history = data.NewRepository(db, cfg.Database.MaxRetained)
	}

	p.detector = service.NewDetector(service.DetectorDeps{
		Remote:      service.NewRemoteClient(cfg.Remote.URL, cfg.Remote.Timeout, log.WithField("component", "remote")),
		Models:      lifecycle,
		Engine:      service.NewInferenceService(lifecycle),
		Interpreter: service.NewInterpreter(kb, nil),
		Heuristic:   service.NewHeuristic(kb, nil),
		Metrics:     metrics,
		Log:         log.WithField("component", "detector"),
	})
	return p, nil
}

func (p *pipeline) Close() error {
	var errs []error
	for _, c := range p.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
