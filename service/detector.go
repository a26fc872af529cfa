package service

import (
	"bytes"
	"context"
	"math"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"agri-inference-service/model"
)

// RemoteDetector is the first tier.
type RemoteDetector interface {
	Detect(ctx context.Context, img Image, cropType string) (DetectionResult, error)
}

// ModelManager makes the on-device model available, loading it on first use.
type ModelManager interface {
	EnsureLoaded(ctx context.Context) bool
}

// Engine runs the loaded model over a preprocessed image.
type Engine interface {
	Infer(ctx context.Context, t *model.Tensor) (model.RawScores, error)
}

// DetectorDeps wires the three tiers. Heuristic is required. A nil Remote, or
// a nil Models, Engine or Interpreter, makes that tier fail on every call.
type DetectorDeps struct {
	Remote      RemoteDetector
	Models      ModelManager
	Engine      Engine
	Interpreter *Interpreter
	Heuristic   *Heuristic
	Metrics     *Metrics
	Log         *logrus.Entry
}

// Detector runs RemoteAPI, OnDeviceModel and HeuristicMock in that order and
// returns the first success.
type Detector struct {
	remote      RemoteDetector
	models      ModelManager
	engine      Engine
	interpreter *Interpreter
	heuristic   *Heuristic
	metrics     *Metrics
	log         *logrus.Entry
	now         func() time.Time
}

func NewDetector(deps DetectorDeps) *Detector {
	log := deps.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Detector{
		remote:      deps.Remote,
		models:      deps.Models,
		engine:      deps.Engine,
		interpreter: deps.Interpreter,
		heuristic:   deps.Heuristic,
		metrics:     deps.Metrics,
		log:         log,
		now:         time.Now,
	}
}

// Detect always returns a result. Failures of the first two tiers are logged
// and counted, never returned.
func (d *Detector) Detect(ctx context.Context, img Image, cropType string) DetectionResult {
	cropType = strings.ToLower(strings.TrimSpace(cropType))
	log := d.log.WithFields(logrus.Fields{"crop": cropType, "filename": img.Filename})

	res, err := d.detectRemote(ctx, img, cropType)
	if err == nil {
		return d.done(log, res)
	}
	d.fail(log, err)

	res, err = d.detectOnDevice(ctx, img, cropType)
	if err == nil {
		return d.done(log, res)
	}
	d.fail(log, err)

	return d.done(log, d.heuristic.Detect(cropType))
}

func (d *Detector) detectRemote(ctx context.Context, img Image, cropType string) (DetectionResult, error) {
	if d.remote == nil {
		return DetectionResult{}, &TierError{Tier: MethodRemoteAPI, Err: ErrRemoteDisabled}
	}
	res, err := d.remote.Detect(ctx, img, cropType)
	if err != nil {
		return DetectionResult{}, &TierError{Tier: MethodRemoteAPI, Err: err}
	}
	res.Method = MethodRemoteAPI
	return res, nil
}

func (d *Detector) detectOnDevice(ctx context.Context, img Image, cropType string) (DetectionResult, error) {
	fail := func(err error) (DetectionResult, error) {
		return DetectionResult{}, &TierError{Tier: MethodOnDeviceModel, Err: err}
	}
	if d.models == nil || d.engine == nil || d.interpreter == nil {
		return fail(ErrModelUnavailable)
	}
	if !d.models.EnsureLoaded(ctx) {
		return fail(ErrModelUnavailable)
	}

	start := d.now()
	tensor, err := model.Preprocess(bytes.NewReader(img.Data))
	if err != nil {
		return fail(err)
	}
	scores, err := d.engine.Infer(ctx, tensor)
	if err != nil {
		return fail(err)
	}
	elapsed := d.now().Sub(start)

	res, err := d.interpreter.Interpret(scores, cropType)
	if err != nil {
		return fail(err)
	}
	ms := math.Round(float64(elapsed.Microseconds())/10) / 100
	res.ProcessingTimeMs = &ms
	return res, nil
}

func (d *Detector) fail(log *logrus.Entry, err error) {
	tier := Method("unknown")
	if te, ok := err.(*TierError); ok {
		tier = te.Tier
	}
	d.metrics.tierFailure(tier)
	log.WithError(err).WithField("tier", string(tier)).Warn("Detection tier failed, falling back")
}

func (d *Detector) done(log *logrus.Entry, res DetectionResult) DetectionResult {
	d.metrics.detection(res.Method)
	log.WithFields(logrus.Fields{
		"method":     string(res.Method),
		"disease":    res.Name,
		"confidence": res.Confidence,
	}).Info("Detection completed")
	return res
}
