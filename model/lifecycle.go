package model

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// State is the load state of the shared model.
type State int32

const (
	StateUnloaded State = iota
	StateLoading
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

const (
	loadKey            = "model"
	defaultLoadTimeout = 2 * time.Minute
)

// Lifecycle owns the one model instance of the process. At most one load runs
// at a time; concurrent callers wait on it and share its outcome.
type Lifecycle struct {
	loader  Loader
	sources []Source
	timeout time.Duration
	log     *logrus.Entry
	observe func(State)

	group singleflight.Group

	mu        sync.RWMutex
	state     State
	predictor Predictor
	closed    bool
}

type LifecycleOption func(*Lifecycle)

// WithLoadTimeout bounds a whole load attempt across all sources.
func WithLoadTimeout(d time.Duration) LifecycleOption {
	return func(l *Lifecycle) {
		if d > 0 {
			l.timeout = d
		}
	}
}

func WithLogger(log *logrus.Entry) LifecycleOption {
	return func(l *Lifecycle) { l.log = log }
}

// WithStateObserver registers fn to be called on every state transition.
func WithStateObserver(fn func(State)) LifecycleOption {
	return func(l *Lifecycle) { l.observe = fn }
}

// NewLifecycle creates an unloaded lifecycle that will try sources in order.
func NewLifecycle(loader Loader, sources []Source, opts ...LifecycleOption) *Lifecycle {
	l := &Lifecycle{
		loader:  loader,
		sources: sources,
		timeout: defaultLoadTimeout,
		log:     logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// State returns the current load state.
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Predictor returns the loaded model when the state is Ready.
func (l *Lifecycle) Predictor() (Predictor, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.state != StateReady {
		return nil, false
	}
	return l.predictor, true
}

// EnsureLoaded reports whether a model is Ready after the call. It never
// returns an error: load failures leave the state Failed and return false, and
// a caller whose ctx ends while waiting gets false without affecting the load.
func (l *Lifecycle) EnsureLoaded(ctx context.Context) bool {
	if l.State() == StateReady {
		return true
	}

	detached := context.WithoutCancel(ctx)
	ch := l.group.DoChan(loadKey, func() (interface{}, error) {
		return l.load(detached), nil
	})

	select {
	case res := <-ch:
		ok, _ := res.Val.(bool)
		return ok
	case <-ctx.Done():
		l.log.WithError(ctx.Err()).Warn("Gave up waiting for model load")
		return false
	}
}

func (l *Lifecycle) load(ctx context.Context) (ok bool) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	if l.state == StateReady {
		l.mu.Unlock()
		return true
	}
	l.setStateLocked(StateLoading)
	l.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			l.log.WithField("panic", r).Error("Model loader panicked")
			l.mu.Lock()
			l.setStateLocked(StateFailed)
			l.mu.Unlock()
			ok = false
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	for _, src := range l.sources {
		start := time.Now()
		l.log.WithField("source", src.Name).Info("Loading model")
		p, err := l.loader.Load(ctx, src)
		if err != nil {
			l.log.WithError(err).WithField("source", src.Name).Warn("Model source failed")
			continue
		}

		l.mu.Lock()
		if l.closed {
			l.mu.Unlock()
			if err := p.Close(); err != nil {
				l.log.WithError(err).Warn("Failed to release model loaded after close")
			}
			return false
		}
		l.predictor = p
		l.setStateLocked(StateReady)
		l.mu.Unlock()
		l.log.WithFields(logrus.Fields{
			"source":   src.Name,
			"duration": time.Since(start),
		}).Info("Model ready")
		return true
	}

	l.mu.Lock()
	if !l.closed {
		l.setStateLocked(StateFailed)
	}
	l.mu.Unlock()
	l.log.WithField("sources", len(l.sources)).Error("All model sources failed")
	return false
}

// Close releases the model and returns the lifecycle to Unloaded. A load still
// in flight is discarded when it finishes, and later loads are refused.
func (l *Lifecycle) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.closed = true
	var err error
	if l.predictor != nil {
		err = l.predictor.Close()
		l.predictor = nil
	}
	l.setStateLocked(StateUnloaded)
	return err
}

func (l *Lifecycle) setStateLocked(s State) {
	if l.state == s {
		return
	}
	l.log.WithFields(logrus.Fields{"from": l.state.String(), "to": s.String()}).Debug("Model state transition")
	l.state = s
	if l.observe != nil {
		l.observe(s)
	}
}
