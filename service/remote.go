package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"agri-inference-service/data"
)

// DefaultRemoteTimeout bounds one call to the upstream detection endpoint.
const DefaultRemoteTimeout = 30 * time.Second

const maxRemoteBody = 1 << 20

type remoteAnalysis struct {
	Disease        string   `json:"disease"`
	Name           string   `json:"name"`
	Confidence     *float64 `json:"confidence"`
	Severity       string   `json:"severity"`
	Description    string   `json:"description"`
	Pesticide      string   `json:"pesticide"`
	Treatment      string   `json:"treatment"`
	Recommendation string   `json:"recommendation"`
}

type remoteResponse struct {
	Success  *bool           `json:"success"`
	Analysis *remoteAnalysis `json:"analysis"`
	CropType string          `json:"cropType"`
	Method   string          `json:"method"`
}

// RemoteClient posts leaf images to an upstream detection backend.
type RemoteClient struct {
	url     string
	timeout time.Duration
	client  *http.Client
	log     *logrus.Entry
}

// NewRemoteClient returns a client for url. An empty url disables the tier.
func NewRemoteClient(url string, timeout time.Duration, log *logrus.Entry) *RemoteClient {
	if timeout <= 0 {
		timeout = DefaultRemoteTimeout
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &RemoteClient{
		url:     url,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
		log:     log,
	}
}

// Detect submits img as multipart fields "image" and "cropType".
func (c *RemoteClient) Detect(ctx context.Context, img Image, cropType string) (DetectionResult, error) {
	if c.url == "" {
		return DetectionResult{}, ErrRemoteDisabled
	}

	body, contentType, err := encodeUpload(img, cropType)
	if err != nil {
		return DetectionResult{}, fmt.Errorf("build upload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, body)
	if err != nil {
		return DetectionResult{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return DetectionResult{}, fmt.Errorf("remote timeout after %s: %w", c.timeout, context.DeadlineExceeded)
		}
		return DetectionResult{}, fmt.Errorf("remote call failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxRemoteBody))
	if err != nil {
		return DetectionResult{}, fmt.Errorf("read remote body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return DetectionResult{}, fmt.Errorf("remote non-2xx: %s, body: %s", resp.Status, truncate(raw, 200))
	}

	var out remoteResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return DetectionResult{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	res, err := normalizeRemote(out, cropType)
	if err != nil {
		return DetectionResult{}, err
	}
	c.log.WithFields(logrus.Fields{
		"upstream_method": out.Method,
		"disease":         res.Name,
	}).Debug("Remote detection succeeded")
	return res, nil
}

func normalizeRemote(out remoteResponse, cropType string) (DetectionResult, error) {
	if out.Success != nil && !*out.Success {
		return DetectionResult{}, fmt.Errorf("%w: success=false", ErrMalformedResponse)
	}
	a := out.Analysis
	if a == nil {
		return DetectionResult{}, fmt.Errorf("%w: missing analysis", ErrMalformedResponse)
	}
	name := firstNonEmpty(a.Disease, a.Name)
	if name == "" {
		return DetectionResult{}, fmt.Errorf("%w: missing disease name", ErrMalformedResponse)
	}
	severity, ok := data.ParseSeverity(a.Severity)
	if !ok {
		return DetectionResult{}, fmt.Errorf("%w: unknown severity %q", ErrMalformedResponse, a.Severity)
	}

	var confidence float64
	if a.Confidence != nil {
		confidence = *a.Confidence
	}
	crop := strings.ToLower(firstNonEmpty(out.CropType, cropType))

	return DetectionResult{
		Name:           name,
		Confidence:     ClampConfidence(confidence),
		Severity:       severity,
		Description:    firstNonEmpty(a.Description, "No description available"),
		Pesticide:      firstNonEmpty(a.Pesticide, "Consult expert"),
		Treatment:      firstNonEmpty(a.Treatment, "Follow agricultural guidelines"),
		Recommendation: firstNonEmpty(a.Recommendation, a.Description, "No recommendations available"),
		Crop:           crop,
		Method:         MethodRemoteAPI,
	}, nil
}

func encodeUpload(img Image, cropType string) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	filename := img.Filename
	if filename == "" {
		filename = "leaf.jpg"
	}
	part, err := w.CreateFormFile("image", filename)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(img.Data); err != nil {
		return nil, "", err
	}
	if err := w.WriteField("cropType", cropType); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
