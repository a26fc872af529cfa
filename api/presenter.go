package api

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"agri-inference-service/data"
	"agri-inference-service/service"
)

type AnalysisResult struct {
	Disease         string        `json:"disease"`
	Confidence      int           `json:"confidence"`
	Severity        data.Severity `json:"severity"`
	Description     string        `json:"description"`
	Pesticide       string        `json:"pesticide"`
	Treatment       string        `json:"treatment"`
	Recommendation  string        `json:"recommendation"`
	ConfidenceColor string        `json:"confidenceColor"`
	SeverityColor   string        `json:"severityColor"`
}

type DetectionResponse struct {
	Success           bool           `json:"success"`
	AnalysisID        string         `json:"analysisId"`
	AnalysisTimestamp time.Time      `json:"timestamp"`
	Analysis          AnalysisResult `json:"analysis"`
	Filename          string         `json:"filename"`
	CropType          string         `json:"cropType"`
	Method            string         `json:"method"`
	ConfidenceLevel   string         `json:"confidenceLevel"`
	ProcessingTimeMs  *float64       `json:"processingTimeMs,omitempty"`
	Note              string         `json:"note"`
}

// Present converts a detection into the response the web client renders.
func Present(res service.DetectionResult, filename string) DetectionResponse {
	return DetectionResponse{
		Success:           true,
		AnalysisID:        uuid.New().String(),
		AnalysisTimestamp: time.Now(),
		Analysis: AnalysisResult{
			Disease:         res.Name,
			Confidence:      res.Confidence,
			Severity:        res.Severity,
			Description:     res.Description,
			Pesticide:       res.Pesticide,
			Treatment:       res.Treatment,
			Recommendation:  res.Recommendation,
			ConfidenceColor: ConfidenceColor(res.Confidence),
			SeverityColor:   SeverityColor(res.Severity),
		},
		Filename:         filename,
		CropType:         res.Crop,
		Method:           string(res.Method),
		ConfidenceLevel:  ConfidenceLevel(res.Confidence),
		ProcessingTimeMs: res.ProcessingTimeMs,
		Note:             res.Note,
	}
}

// AsMap returns the response as generic JSON values, for transports that do
// not carry Go structs.
func (r DetectionResponse) AsMap() (map[string]any, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func ConfidenceColor(confidence int) string {
	switch {
	case confidence >= 85:
		return "#27ae60"
	case confidence >= 70:
		return "#f39c12"
	case confidence >= 55:
		return "#e67e22"
	default:
		return "#e74c3c"
	}
}

var severityColors = map[data.Severity]string{
	data.SeverityNone:     "#27ae60",
	data.SeverityLow:      "#f39c12",
	data.SeverityMedium:   "#e67e22",
	data.SeverityHigh:     "#e74c3c",
	data.SeverityCritical: "#c0392b",
}

func SeverityColor(s data.Severity) string {
	if c, ok := severityColors[s]; ok {
		return c
	}
	return "#95a5a6"
}

// ConfidenceLevel is the label shown next to the confidence bar.
func ConfidenceLevel(confidence int) string {
	switch {
	case confidence >= 90:
		return "Very High"
	case confidence >= 75:
		return "High"
	case confidence >= 60:
		return "Moderate"
	case confidence >= 45:
		return "Low"
	default:
		return "Very Low"
	}
}
