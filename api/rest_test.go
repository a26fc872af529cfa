package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agri-inference-service/data"
	"agri-inference-service/event"
	"agri-inference-service/model"
	"agri-inference-service/service"
)

type stubDetector struct {
	gotCrop  string
	gotImage service.Image
	res      service.DetectionResult
}

func (d *stubDetector) Detect(ctx context.Context, img service.Image, cropType string) service.DetectionResult {
	d.gotCrop = cropType
	d.gotImage = img
	res := d.res
	res.Crop = cropType
	return res
}

type stubModels struct{ state model.State }

func (m stubModels) State() model.State { return m.state }

type restFixture struct {
	detector *stubDetector
	history  *data.MemoryHistory
	events   *event.Bus
	deps     Deps
}

func newRESTFixture(t *testing.T) *restFixture {
	t.Helper()
	kb, err := data.DefaultKnowledgeBase()
	require.NoError(t, err)

	f := &restFixture{
		detector: &stubDetector{res: service.DetectionResult{
			Name:           "Late Blight",
			Confidence:     88,
			Severity:       data.SeverityCritical,
			Description:    "Water-soaked spots",
			Pesticide:      "Ridomil",
			Treatment:      "Remove infected plants",
			Recommendation: "Act immediately",
			Method:         service.MethodHeuristicMock,
			Note:           service.SimulatedNote,
		}},
		history: data.NewMemoryHistory(10),
		events:  event.NewBus(4, nil),
	}
	f.deps = Deps{
		Detector:      f.detector,
		Knowledge:     kb,
		History:       f.history,
		Models:        stubModels{state: model.StateReady},
		Events:        f.events,
		Gatherer:      prometheus.NewRegistry(),
		MaxUploadSize: 1024,
		CORSOrigins:   []string{"http://localhost:3000"},
	}
	return f
}

func uploadRequest(t *testing.T, field, filename string, content []byte, crop string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if field != "" {
		part, err := w.CreateFormFile(field, filename)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	if crop != "" {
		require.NoError(t, w.WriteField("cropType", crop))
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/detect-disease", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	return out
}

func TestDetectDisease(t *testing.T) {
	f := newRESTFixture(t)
	app := NewRESTServer(f.deps)

	resp, err := app.Test(uploadRequest(t, "image", "leaf.jpg", []byte("jpeg bytes"), "Tomato"))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode(t, resp)

	assert.Equal(t, "tomato", f.detector.gotCrop)
	assert.Equal(t, []byte("jpeg bytes"), f.detector.gotImage.Data)
	assert.Equal(t, "leaf.jpg", f.detector.gotImage.Filename)

	assert.Equal(t, true, body["success"])
	assert.Equal(t, "leaf.jpg", body["filename"])
	assert.Equal(t, "tomato", body["cropType"])
	assert.Equal(t, "HeuristicMock", body["method"])
	assert.Equal(t, service.SimulatedNote, body["note"])
	assert.Equal(t, "High", body["confidenceLevel"])

	analysis := body["analysis"].(map[string]any)
	assert.Equal(t, "Late Blight", analysis["disease"])
	assert.Equal(t, float64(88), analysis["confidence"])
	assert.Equal(t, "Critical", analysis["severity"])
	assert.Equal(t, "#27ae60", analysis["confidenceColor"])
	assert.Equal(t, "#c0392b", analysis["severityColor"])

	select {
	case ev := <-f.events.Events():
		assert.Equal(t, body["analysisId"], ev.ID)
		assert.Equal(t, "leaf.jpg", ev.Filename)
		assert.Equal(t, "Late Blight", ev.Result.Name)
	default:
		t.Fatal("no detection event published")
	}
}

func TestDetectDiseaseUnknownCropUsesDefault(t *testing.T) {
	f := newRESTFixture(t)
	app := NewRESTServer(f.deps)

	resp, err := app.Test(uploadRequest(t, "image", "leaf.jpg", []byte("x"), "rice"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "potato", f.detector.gotCrop)
}

func TestDetectDiseaseRejectsBadUploads(t *testing.T) {
	tests := []struct {
		name   string
		req    func(t *testing.T) *http.Request
		status int
	}{
		{
			name:   "missing image",
			req:    func(t *testing.T) *http.Request { return uploadRequest(t, "", "", nil, "potato") },
			status: http.StatusBadRequest,
		},
		{
			name:   "empty image",
			req:    func(t *testing.T) *http.Request { return uploadRequest(t, "image", "leaf.jpg", nil, "potato") },
			status: http.StatusBadRequest,
		},
		{
			name: "too large",
			req: func(t *testing.T) *http.Request {
				return uploadRequest(t, "image", "leaf.jpg", bytes.Repeat([]byte("a"), 2048), "potato")
			},
			status: http.StatusRequestEntityTooLarge,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newRESTFixture(t)
			app := NewRESTServer(f.deps)

			resp, err := app.Test(tt.req(t))
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
			body := decode(t, resp)
			assert.Equal(t, false, body["success"])
			assert.NotEmpty(t, body["error"])
			assert.Empty(t, f.detector.gotImage.Data)
		})
	}
}

func TestDiseasesAndCrops(t *testing.T) {
	app := NewRESTServer(newRESTFixture(t).deps)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/diseases?crop=tomato", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode(t, resp)
	diseases := body["diseases"].(map[string]any)
	assert.Len(t, diseases, 1)
	assert.Len(t, diseases["tomato"], 4)
	assert.Equal(t, float64(4), body["total"])

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/diseases", nil))
	require.NoError(t, err)
	assert.Equal(t, float64(8), decode(t, resp)["total"])

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/diseases?crop=rice", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/crops", nil))
	require.NoError(t, err)
	body = decode(t, resp)
	assert.Equal(t, []any{"potato", "tomato"}, body["crops"])
	assert.Equal(t, "potato", body["defaultCrop"])
}

func TestPredictYieldEndpoint(t *testing.T) {
	app := NewRESTServer(newRESTFixture(t).deps)

	post := func(body string) *http.Response {
		req := httptest.NewRequest(http.MethodPost, "/api/predict-yield", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		resp, err := app.Test(req)
		require.NoError(t, err)
		return resp
	}

	resp := post(`{"cropType": "potato", "area": 2, "soilQuality": "good", "waterAvailability": "moderate", "sunlight": 8}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	prediction := decode(t, resp)["prediction"].(map[string]any)
	assert.Equal(t, 52.0, prediction["predictedYield"])
	assert.Equal(t, 26.0, prediction["yieldPerHectare"])
	assert.Equal(t, "tons", prediction["unit"])

	resp = post(`{"cropType": "potato", "area": 2}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Missing required fields", decode(t, resp)["error"])

	resp = post(`{"cropType": "rice", "area": 2, "soilQuality": "good", "waterAvailability": "low", "sunlight": 6}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Crop not supported", decode(t, resp)["error"])

	resp = post(`{"cropType": "tomato", "area": 0, "soilQuality": "good", "waterAvailability": "low", "sunlight": 6}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestYieldPredictionsAreRecorded(t *testing.T) {
	f := newRESTFixture(t)
	app := NewRESTServer(f.deps)

	for _, body := range []string{
		`{"cropType": "potato", "area": 2, "soilQuality": "good", "waterAvailability": "moderate", "sunlight": 8}`,
		`{"cropType": "Potato", "area": 1, "soilQuality": "poor", "waterAvailability": "low", "sunlight": 8}`,
		`{"cropType": "tomato", "area": 1, "soilQuality": "moderate", "waterAvailability": "moderate", "sunlight": 8}`,
	} {
		req := httptest.NewRequest(http.MethodPost, "/api/predict-yield", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		resp, err := app.Test(req)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		out := decode(t, resp)
		assert.Equal(t, true, out["saved"])
		assert.NotNil(t, out["input"])
	}

	f.events.Close()
	event.NewDispatcher(f.history, nil).Run(context.Background(), f.events.Events())

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/history/predictions?crop=potato", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode(t, resp)
	assert.Equal(t, float64(2), body["total"])
	predictions := body["predictions"].([]any)
	assert.Equal(t, 11.2, predictions[0].(map[string]any)["predicted_yield"])

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/analytics/yield/Potato", nil))
	require.NoError(t, err)
	body = decode(t, resp)
	assert.Equal(t, "potato", body["crop"])
	stats := body["statistics"].(map[string]any)
	assert.Equal(t, float64(2), stats["total_predictions"])
	assert.Equal(t, 52.0, stats["max_yield"])
	assert.Equal(t, 11.2, stats["min_yield"])

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/activity?type=predict_yield&limit=2", nil))
	require.NoError(t, err)
	body = decode(t, resp)
	assert.Equal(t, float64(2), body["total"])
	assert.Equal(t, "predict_yield", body["type"])

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/activity", nil))
	require.NoError(t, err)
	assert.Equal(t, float64(3), decode(t, resp)["total"])
}

func TestPredictYieldWithClosedBus(t *testing.T) {
	f := newRESTFixture(t)
	f.events.Close()
	app := NewRESTServer(f.deps)

	req := httptest.NewRequest(http.MethodPost, "/api/predict-yield", strings.NewReader(
		`{"cropType": "tomato", "area": 1, "soilQuality": "good", "waterAvailability": "low", "sunlight": 6}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, decode(t, resp)["saved"])

	resp, err = app.Test(uploadRequest(t, "image", "leaf.jpg", []byte("x"), "potato"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHistoryEndpoints(t *testing.T) {
	f := newRESTFixture(t)
	ctx := context.Background()
	for _, rec := range []data.DetectionRecord{
		{ID: "a", CropType: "potato", DiseaseName: "Late Blight", Confidence: 90, CreatedAt: time.Now()},
		{ID: "b", CropType: "potato", DiseaseName: "Early Blight", Confidence: 70, CreatedAt: time.Now()},
		{ID: "c", CropType: "potato", DiseaseName: "Late Blight", Confidence: 80, CreatedAt: time.Now()},
	} {
		r := rec
		require.NoError(t, f.history.Append(ctx, &r))
	}
	app := NewRESTServer(f.deps)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/history/detections?disease=Late%20Blight", nil))
	require.NoError(t, err)
	body := decode(t, resp)
	assert.Equal(t, float64(2), body["total"])

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/history/detections/b", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	detection := decode(t, resp)["detection"].(map[string]any)
	assert.Equal(t, "Early Blight", detection["disease_name"])

	resp, err = app.Test(httptest.NewRequest(http.MethodDelete, "/api/history/detections/b", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/history/detections/b", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/analytics/diseases/potato?limit=5", nil))
	require.NoError(t, err)
	body = decode(t, resp)
	assert.Equal(t, "potato", body["crop"])
	diseases := body["diseases"].([]any)
	require.Len(t, diseases, 1)
	top := diseases[0].(map[string]any)
	assert.Equal(t, "Late Blight", top["disease_name"])
	assert.Equal(t, float64(2), top["count"])
	assert.Equal(t, float64(85), top["avg_confidence"])
}

func TestHealthAndMetrics(t *testing.T) {
	app := NewRESTServer(newRESTFixture(t).deps)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.NoError(t, err)
	body := decode(t, resp)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "ready", body["model"])

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/prices", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCORSAllowList(t *testing.T) {
	app := NewRESTServer(newRESTFixture(t).deps)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}
