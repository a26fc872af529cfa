package model

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// maxModelBytes bounds a downloaded model document.
const maxModelBytes = 512 << 20

// Predictor is a loaded model able to score one preprocessed image.
type Predictor interface {
	Predict(input []float32) ([]float32, error)
	Close() error
}

// Source is one candidate location for the model: a local file path or an
// http(s) URL.
type Source struct {
	Name     string
	Location string
	Spec     ModelSpec
}

// Loader turns a Source into a ready Predictor.
type Loader interface {
	Load(ctx context.Context, src Source) (Predictor, error)
}

// LoadError reports why a single source could not be loaded.
type LoadError struct {
	Source string
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load model from %s: %v", e.Source, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// ONNXLoader loads ONNX models from disk or over HTTP. Downloaded models are
// written to CachePath so the next process finds them locally.
type ONNXLoader struct {
	Client      *http.Client
	CachePath   string
	LibraryPath string
	Log         *logrus.Entry
}

func (l *ONNXLoader) Load(ctx context.Context, src Source) (Predictor, error) {
	if isRemote(src.Location) {
		raw, err := l.download(ctx, src.Location)
		if err != nil {
			return nil, &LoadError{Source: src.Name, Err: err}
		}
		if err := InitRuntime(l.LibraryPath); err != nil {
			return nil, &LoadError{Source: src.Name, Err: err}
		}
		m, err := NewONNXModelFromBytes(raw, src.Spec)
		if err != nil {
			return nil, &LoadError{Source: src.Name, Err: err}
		}
		l.writeCache(raw)
		l.logShapes(src, m)
		return m, nil
	}

	if _, err := os.Stat(src.Location); err != nil {
		return nil, &LoadError{Source: src.Name, Err: err}
	}
	if err := InitRuntime(l.LibraryPath); err != nil {
		return nil, &LoadError{Source: src.Name, Err: err}
	}
	m, err := NewONNXModel(src.Location, src.Spec)
	if err != nil {
		return nil, &LoadError{Source: src.Name, Err: err}
	}
	l.logShapes(src, m)
	return m, nil
}

// Sources lists where the model is looked for, in order: the local cache,
// then the pretrained URL when one is set.
func Sources(cachePath, url string, spec ModelSpec) []Source {
	sources := []Source{{Name: "cache", Location: cachePath, Spec: spec}}
	if url != "" {
		sources = append(sources, Source{Name: "pretrained", Location: url, Spec: spec})
	}
	return sources
}

func (l *ONNXLoader) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	client := l.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download bad status: %s", resp.Status)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxModelBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read model body: %w", err)
	}
	if len(raw) > maxModelBytes {
		return nil, fmt.Errorf("model larger than %d bytes", maxModelBytes)
	}
	return raw, nil
}

// writeCache is best effort; a failure only costs a re-download next start.
func (l *ONNXLoader) writeCache(raw []byte) {
	if l.CachePath == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(l.CachePath), 0o755); err != nil {
		l.warn(err)
		return
	}
	tmp := l.CachePath + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		l.warn(err)
		return
	}
	if err := os.Rename(tmp, l.CachePath); err != nil {
		l.warn(err)
	}
}

func (l *ONNXLoader) logShapes(src Source, m *ONNXModel) {
	if l.Log != nil {
		l.Log.WithFields(logrus.Fields{
			"source": src.Name,
			"input":  m.GetInputShape(),
			"output": m.GetOutputShape(),
		}).Debug("ONNX session created")
	}
}

func (l *ONNXLoader) warn(err error) {
	if l.Log != nil {
		l.Log.WithError(err).WithField("path", l.CachePath).Warn("Failed to cache downloaded model")
	}
}

func isRemote(location string) bool {
	return strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://")
}
