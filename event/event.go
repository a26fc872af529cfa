package event

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"agri-inference-service/data"
	"agri-inference-service/service"
)

const (
	TypeDetectionCompleted = "detection.completed"
	TypeYieldPredicted     = "yield.predicted"
)

// Event is emitted once per completed detection or yield prediction. Result
// is set for detections and Yield for predictions.
type Event struct {
	ID        string
	Type      string
	Timestamp time.Time
	Filename  string
	Crop      string
	Result    service.DetectionResult
	Yield     *YieldOutcome
}

// YieldOutcome is the request and answer of one yield prediction.
type YieldOutcome struct {
	Input      service.YieldInput
	Prediction service.YieldPrediction
}

// NewDetectionEvent stamps a fresh id and the current time.
func NewDetectionEvent(filename, crop string, res service.DetectionResult) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      TypeDetectionCompleted,
		Timestamp: time.Now(),
		Filename:  filename,
		Crop:      crop,
		Result:    res,
	}
}

func NewYieldEvent(in service.YieldInput, prediction service.YieldPrediction) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      TypeYieldPredicted,
		Timestamp: time.Now(),
		Crop:      strings.ToLower(strings.TrimSpace(in.CropType)),
		Yield:     &YieldOutcome{Input: in, Prediction: prediction},
	}
}

// Bus is a buffered event queue that can be published to concurrently and
// closed while publishers are still running. Publishing never blocks: a full
// or closed bus drops the event.
type Bus struct {
	mu     sync.RWMutex
	ch     chan Event
	closed bool
	log    *logrus.Entry
}

func NewBus(size int, log *logrus.Entry) *Bus {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Bus{ch: make(chan Event, size), log: log}
}

// Publish reports whether ev was queued.
func (b *Bus) Publish(ev Event) bool {
	if b == nil {
		return false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	log := b.log.WithFields(logrus.Fields{"event_id": ev.ID, "type": ev.Type})
	if b.closed {
		log.Warn("Event bus closed, dropping event")
		return false
	}
	select {
	case b.ch <- ev:
		return true
	default:
		log.Warn("Event bus full, dropping event")
		return false
	}
}

// Events is the receiving side, closed by Close.
func (b *Bus) Events() <-chan Event {
	return b.ch
}

// Close stops accepting events. Events already queued stay readable.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.ch)
	}
}

// Record flattens a detection event into a history row. The full result is
// kept as JSON.
func Record(ev Event) (*data.DetectionRecord, error) {
	body, err := json.Marshal(ev.Result)
	if err != nil {
		return nil, err
	}
	return &data.DetectionRecord{
		ID:            ev.ID,
		CropType:      detectionCrop(ev),
		DiseaseName:   ev.Result.Name,
		Confidence:    ev.Result.Confidence,
		Severity:      string(ev.Result.Severity),
		Pesticide:     ev.Result.Pesticide,
		Method:        string(ev.Result.Method),
		ImageFilename: ev.Filename,
		Body:          string(body),
		CreatedAt:     ev.Timestamp,
	}, nil
}

// RecordYield flattens a yield event into a prediction row.
func RecordYield(ev Event) *data.YieldRecord {
	in, p := ev.Yield.Input, ev.Yield.Prediction
	return &data.YieldRecord{
		ID:                ev.ID,
		CropType:          ev.Crop,
		Area:              in.Area,
		SoilQuality:       in.SoilQuality,
		WaterAvailability: in.WaterAvailability,
		SunlightHours:     in.Sunlight,
		PredictedYield:    p.PredictedYield,
		YieldPerHectare:   p.YieldPerHectare,
		Confidence:        p.Confidence,
		CreatedAt:         ev.Timestamp,
	}
}

// Activity builds the activity log entry for ev.
func Activity(ev Event) (*data.ActivityRecord, error) {
	rec := &data.ActivityRecord{CreatedAt: ev.Timestamp}
	var details any
	switch ev.Type {
	case TypeYieldPredicted:
		rec.ActivityType = data.ActivityPredictYield
		rec.CropType = ev.Crop
		details = ev.Yield.Input
	default:
		rec.ActivityType = data.ActivityDetectDisease
		rec.CropType = detectionCrop(ev)
		details = map[string]any{
			"disease":    ev.Result.Name,
			"confidence": ev.Result.Confidence,
			"method":     ev.Result.Method,
		}
	}
	raw, err := json.Marshal(details)
	if err != nil {
		return nil, err
	}
	rec.Details = string(raw)
	return rec, nil
}

func detectionCrop(ev Event) string {
	if ev.Result.Crop != "" {
		return ev.Result.Crop
	}
	return ev.Crop
}

// Dispatcher persists events into the history store.
type Dispatcher struct {
	store data.HistoryStore
	log   *logrus.Entry
}

func NewDispatcher(store data.HistoryStore, log *logrus.Entry) *Dispatcher {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Dispatcher{store: store, log: log}
}

// Run consumes events until events is closed or ctx is done. Store failures
// are logged and the event is discarded.
func (d *Dispatcher) Run(ctx context.Context, events <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			d.handle(ctx, ev)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, ev Event) {
	log := d.log.WithFields(logrus.Fields{"event_id": ev.ID, "type": ev.Type})

	switch ev.Type {
	case TypeDetectionCompleted:
		rec, err := Record(ev)
		if err != nil {
			log.WithError(err).Error("Failed to encode detection event")
			return
		}
		if err := d.store.Append(ctx, rec); err != nil {
			log.WithError(err).Error("Failed to store detection")
			return
		}
	case TypeYieldPredicted:
		if ev.Yield == nil {
			log.Error("Yield event without a prediction")
			return
		}
		if err := d.store.AppendYield(ctx, RecordYield(ev)); err != nil {
			log.WithError(err).Error("Failed to store yield prediction")
			return
		}
	default:
		log.Warn("Unknown event type")
		return
	}

	activity, err := Activity(ev)
	if err != nil {
		log.WithError(err).Error("Failed to encode activity")
		return
	}
	if err := d.store.LogActivity(ctx, activity); err != nil {
		log.WithError(err).Error("Failed to log activity")
		return
	}
	log.Debug("Event stored")
}
