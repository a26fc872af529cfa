package service

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

var (
	ErrUnsupportedCrop = errors.New("crop not supported")
	ErrInvalidArea     = errors.New("area must be positive")
)

var baseYield = map[string]float64{
	"potato": 20,
	"tomato": 15,
}

var soilModifiers = map[string]float64{"poor": 0.7, "moderate": 1.0, "good": 1.3}

var waterModifiers = map[string]float64{"low": 0.8, "moderate": 1.0, "high": 1.2}

// YieldInput is a field description. Area is in hectares.
type YieldInput struct {
	CropType          string  `json:"cropType"`
	Area              float64 `json:"area"`
	SoilQuality       string  `json:"soilQuality"`
	WaterAvailability string  `json:"waterAvailability"`
	Sunlight          float64 `json:"sunlight"`
}

type YieldPrediction struct {
	PredictedYield   float64 `json:"predictedYield"`
	YieldPerHectare  float64 `json:"yieldPerHectare"`
	Unit             string  `json:"unit"`
	Confidence       int     `json:"confidence"`
	SoilModifier     float64 `json:"soil_modifier"`
	WaterModifier    float64 `json:"water_modifier"`
	SunlightModifier float64 `json:"sunlight_modifier"`
	Description      string  `json:"description"`
}

// SupportedYieldCrops lists the crops PredictYield accepts.
func SupportedYieldCrops() []string {
	return []string{"potato", "tomato"}
}

// PredictYield applies the rule-of-thumb estimate: base tons per hectare
// scaled by soil, water and sunlight (optimal at 8 hours, capped at 1.2).
// Unknown soil or water levels count as moderate.
func PredictYield(in YieldInput) (YieldPrediction, error) {
	crop := strings.ToLower(strings.TrimSpace(in.CropType))
	base, ok := baseYield[crop]
	if !ok {
		return YieldPrediction{}, fmt.Errorf("%w: %q", ErrUnsupportedCrop, in.CropType)
	}
	if !(in.Area > 0) {
		return YieldPrediction{}, fmt.Errorf("%w: %v", ErrInvalidArea, in.Area)
	}

	soil := modifier(soilModifiers, in.SoilQuality)
	water := modifier(waterModifiers, in.WaterAvailability)
	sun := math.Min(in.Sunlight/8, 1.2)

	predicted := round2(base * in.Area * soil * water * sun)
	return YieldPrediction{
		PredictedYield:   predicted,
		YieldPerHectare:  round2(predicted / in.Area),
		Unit:             "tons",
		Confidence:       min(85+int(in.Sunlight*2), 95),
		SoilModifier:     soil,
		WaterModifier:    water,
		SunlightModifier: sun,
		Description:      fmt.Sprintf("Estimated %v tons yield for %v hectares of %s", predicted, in.Area, crop),
	}, nil
}

func modifier(table map[string]float64, level string) float64 {
	if m, ok := table[strings.ToLower(strings.TrimSpace(level))]; ok {
		return m
	}
	return 1.0
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
