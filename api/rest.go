package api

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"agri-inference-service/data"
	"agri-inference-service/event"
	"agri-inference-service/model"
	"agri-inference-service/service"
)

const (
	version             = "1.0.0"
	defaultHistoryLimit  = 10
	defaultCommonLimit   = 5
	defaultActivityLimit = 20
	multipartOverhead   = 1 << 20
)

// Detector is the tiered detection pipeline.
type Detector interface {
	Detect(ctx context.Context, img service.Image, cropType string) service.DetectionResult
}

// Publisher queues events for the history dispatcher without blocking.
type Publisher interface {
	Publish(ev event.Event) bool
}

// ModelStatus reports the on-device model state for health checks.
type ModelStatus interface {
	State() model.State
}

type Deps struct {
	Detector      Detector
	Knowledge     *data.KnowledgeBase
	History       data.HistoryStore
	Models        ModelStatus
	Events        Publisher
	Gatherer      prometheus.Gatherer
	Log           *logrus.Entry
	MaxUploadSize int
	CORSOrigins   []string
}

// NewRESTServer builds the fiber app with every route mounted.
func NewRESTServer(deps Deps) *fiber.App {
	if deps.Log == nil {
		deps.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	if deps.MaxUploadSize <= 0 {
		deps.MaxUploadSize = 10 << 20
	}

	app := fiber.New(fiber.Config{
		AppName:               "agri-inference-service",
		BodyLimit:             deps.MaxUploadSize + multipartOverhead,
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler(deps.Log),
	})

	app.Use(recover.New())
	app.Use(requestLogger(deps.Log))
	app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(deps.CORSOrigins, ","),
		AllowMethods: "GET,POST,DELETE,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept",
	}))

	app.Get("/api/health", HandleHealth(deps.Models))
	app.Post("/api/detect-disease", HandleDetectDisease(deps.Detector, deps.Knowledge, deps.Events, deps.Log, deps.MaxUploadSize))
	app.Get("/api/diseases", HandleDiseases(deps.Knowledge))
	app.Get("/api/crops", HandleCrops(deps.Knowledge))
	app.Post("/api/predict-yield", HandlePredictYield(deps.Events, deps.Log))

	history := app.Group("/api/history/detections")
	history.Get("/", HandleDetectionHistory(deps.History))
	history.Get("/:id", HandleGetDetection(deps.History))
	history.Delete("/:id", HandleDeleteDetection(deps.History))
	app.Get("/api/history/predictions", HandlePredictionHistory(deps.History))
	app.Get("/api/analytics/diseases/:crop", HandleDiseaseAnalytics(deps.History))
	app.Get("/api/analytics/yield/:crop", HandleYieldAnalytics(deps.History))
	app.Get("/api/activity", HandleActivity(deps.History))

	if deps.Gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   "Endpoint not found",
			"message": "The requested resource does not exist",
			"status":  fiber.StatusNotFound,
		})
	})
	return app
}

func HandleDetectDisease(detector Detector, kb *data.KnowledgeBase, events Publisher, log *logrus.Entry, maxSize int) fiber.Handler {
	return func(c *fiber.Ctx) error {
		file, err := c.FormFile("image")
		if err != nil {
			return fail(c, fiber.StatusBadRequest, "No image provided")
		}
		if file.Filename == "" || file.Size == 0 {
			return fail(c, fiber.StatusBadRequest, "No selected file")
		}
		if file.Size > int64(maxSize) {
			return fail(c, fiber.StatusRequestEntityTooLarge, "Image exceeds upload limit")
		}

		cropType := resolveCrop(kb, c.FormValue("cropType"), log)

		fileContent, err := file.Open()
		if err != nil {
			return fail(c, fiber.StatusInternalServerError, "Failed to open file")
		}
		defer fileContent.Close()

		buffer := make([]byte, file.Size)
		if _, err := io.ReadFull(fileContent, buffer); err != nil {
			return fail(c, fiber.StatusInternalServerError, "Failed to read file")
		}

		res := detector.Detect(c.UserContext(), service.Image{Filename: file.Filename, Data: buffer}, cropType)

		ev := event.NewDetectionEvent(file.Filename, cropType, res)
		publish(events, ev)

		response := Present(res, file.Filename)
		response.AnalysisID = ev.ID
		response.AnalysisTimestamp = ev.Timestamp
		return c.JSON(response)
	}
}

func HandleDiseases(kb *data.KnowledgeBase) fiber.Handler {
	return func(c *fiber.Ctx) error {
		names := kb.CropNames()
		if crop := c.Query("crop"); crop != "" {
			if !kb.Supports(crop) {
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
					"error":          "Crop not supported",
					"success":        false,
					"supportedCrops": names,
				})
			}
			names = []string{strings.ToLower(strings.TrimSpace(crop))}
		}

		diseases := make(map[string][]data.DiseaseRecord, len(names))
		total := 0
		for _, name := range names {
			crop, _ := kb.Crop(name)
			diseases[name] = crop.Records()
			total += len(diseases[name])
		}
		return c.JSON(fiber.Map{
			"success":  true,
			"diseases": diseases,
			"total":    total,
		})
	}
}

func HandleCrops(kb *data.KnowledgeBase) fiber.Handler {
	return func(c *fiber.Ctx) error {
		names := kb.CropNames()
		return c.JSON(fiber.Map{
			"crops":       names,
			"total":       len(names),
			"defaultCrop": kb.DefaultCrop(),
			"yieldCrops":  service.SupportedYieldCrops(),
		})
	}
}

type yieldRequest struct {
	CropType          string   `json:"cropType"`
	Area              *float64 `json:"area"`
	SoilQuality       string   `json:"soilQuality"`
	WaterAvailability string   `json:"waterAvailability"`
	Sunlight          *float64 `json:"sunlight"`
}

var yieldRequired = []string{"cropType", "area", "soilQuality", "waterAvailability", "sunlight"}

func HandlePredictYield(events Publisher, log *logrus.Entry) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req yieldRequest
		if err := c.BodyParser(&req); err != nil {
			return fail(c, fiber.StatusBadRequest, "Invalid request body")
		}
		if req.CropType == "" || req.Area == nil || req.SoilQuality == "" || req.WaterAvailability == "" || req.Sunlight == nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error":    "Missing required fields",
				"success":  false,
				"required": yieldRequired,
			})
		}

		input := service.YieldInput{
			CropType:          req.CropType,
			Area:              *req.Area,
			SoilQuality:       req.SoilQuality,
			WaterAvailability: req.WaterAvailability,
			Sunlight:          *req.Sunlight,
		}
		prediction, err := service.PredictYield(input)
		switch {
		case errors.Is(err, service.ErrUnsupportedCrop):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error":          "Crop not supported",
				"success":        false,
				"supportedCrops": service.SupportedYieldCrops(),
			})
		case err != nil:
			return fail(c, fiber.StatusBadRequest, err.Error())
		}

		ev := event.NewYieldEvent(input, prediction)
		saved := publish(events, ev)
		if !saved {
			log.WithField("crop", ev.Crop).Debug("Yield prediction not queued for history")
		}
		return c.JSON(fiber.Map{
			"success":    true,
			"prediction": prediction,
			"input":      input,
			"timestamp":  ev.Timestamp,
			"saved":      saved,
		})
	}
}

func HandlePredictionHistory(history data.HistoryStore) fiber.Handler {
	return func(c *fiber.Ctx) error {
		crop := strings.ToLower(c.Query("crop"))
		predictions, err := history.RecentYields(c.UserContext(), crop, c.QueryInt("limit", defaultHistoryLimit))
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{
			"success":     true,
			"predictions": predictions,
			"crop":        crop,
			"total":       len(predictions),
		})
	}
}

func HandleYieldAnalytics(history data.HistoryStore) fiber.Handler {
	return func(c *fiber.Ctx) error {
		crop := strings.ToLower(c.Params("crop"))
		stats, err := history.YieldStatistics(c.UserContext(), crop)
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{
			"success":    true,
			"crop":       crop,
			"statistics": stats,
		})
	}
}

func HandleActivity(history data.HistoryStore) fiber.Handler {
	return func(c *fiber.Ctx) error {
		activityType := c.Query("type")
		logs, err := history.RecentActivity(c.UserContext(), activityType, c.QueryInt("limit", defaultActivityLimit))
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{
			"success":  true,
			"activity": logs,
			"type":     activityType,
			"total":    len(logs),
		})
	}
}

func HandleDetectionHistory(history data.HistoryStore) fiber.Handler {
	return func(c *fiber.Ctx) error {
		filter := data.HistoryFilter{
			CropType:    strings.ToLower(c.Query("crop")),
			DiseaseName: c.Query("disease"),
		}
		records, err := history.Recent(c.UserContext(), filter, c.QueryInt("limit", defaultHistoryLimit))
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{
			"success":    true,
			"detections": records,
			"disease":    filter.DiseaseName,
			"total":      len(records),
		})
	}
}

func HandleGetDetection(history data.HistoryStore) fiber.Handler {
	return func(c *fiber.Ctx) error {
		rec, err := history.Get(c.UserContext(), c.Params("id"))
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{"success": true, "detection": rec})
	}
}

func HandleDeleteDetection(history data.HistoryStore) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := history.Delete(c.UserContext(), c.Params("id")); err != nil {
			return err
		}
		return c.JSON(fiber.Map{"success": true})
	}
}

func HandleDiseaseAnalytics(history data.HistoryStore) fiber.Handler {
	return func(c *fiber.Ctx) error {
		crop := strings.ToLower(c.Params("crop"))
		diseases, err := history.CommonDiseases(c.UserContext(), crop, c.QueryInt("limit", defaultCommonLimit))
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{
			"success":  true,
			"crop":     crop,
			"diseases": diseases,
			"total":    len(diseases),
		})
	}
}

func HandleHealth(models ModelStatus) fiber.Handler {
	return func(c *fiber.Ctx) error {
		state := model.StateUnloaded
		if models != nil {
			state = models.State()
		}
		return c.JSON(fiber.Map{
			"status":    "healthy",
			"message":   "AI Agriculture Assistant Backend",
			"timestamp": time.Now(),
			"version":   version,
			"model":     state.String(),
		})
	}
}

// resolveCrop lowercases cropType and replaces an unknown or missing crop with
// the knowledge base default.
func resolveCrop(kb *data.KnowledgeBase, cropType string, log *logrus.Entry) string {
	cropType = strings.ToLower(strings.TrimSpace(cropType))
	if kb.Supports(cropType) {
		return cropType
	}
	if cropType != "" {
		log.WithField("crop", cropType).Warn("Unsupported crop type, using default")
	}
	return kb.DefaultCrop()
}

func publish(events Publisher, ev event.Event) bool {
	if events == nil {
		return false
	}
	return events.Publish(ev)
}

func fail(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{
		"error":   msg,
		"success": false,
	})
}

func errorHandler(log *logrus.Entry) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		if errors.Is(err, data.ErrNotFound) {
			return fail(c, fiber.StatusNotFound, "Detection not found")
		}
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return fail(c, fe.Code, fe.Message)
		}
		log.WithError(err).WithField("path", c.Path()).Error("Request failed")
		return fail(c, fiber.StatusInternalServerError, "Internal server error")
	}
}

func requestLogger(log *logrus.Entry) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		status := c.Response().StatusCode()
		if err != nil {
			var fe *fiber.Error
			if errors.As(err, &fe) {
				status = fe.Code
			}
		}
		log.WithFields(logrus.Fields{
			"method":   c.Method(),
			"path":     c.Path(),
			"status":   status,
			"duration": time.Since(start),
		}).Info("HTTP request")
		return err
	}
}
