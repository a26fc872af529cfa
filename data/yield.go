package data

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// YieldRecord is one persisted yield prediction.
type YieldRecord struct {
	ID                string    `gorm:"primaryKey;size:36" json:"id"`
	CropType          string    `gorm:"size:32;index" json:"crop_type"`
	Area              float64   `json:"area"`
	SoilQuality       string    `gorm:"size:32" json:"soil_quality"`
	WaterAvailability string    `gorm:"size:32" json:"water_availability"`
	SunlightHours     float64   `json:"sunlight_hours"`
	PredictedYield    float64   `json:"predicted_yield"`
	YieldPerHectare   float64   `json:"yield_per_hectare"`
	Confidence        int       `json:"confidence"`
	CreatedAt         time.Time `gorm:"not null;index" json:"created_at"`
}

func (YieldRecord) TableName() string {
	return "yield_predictions"
}

func (r *YieldRecord) BeforeCreate(*gorm.DB) error {
	stamp(&r.ID, &r.CreatedAt)
	return nil
}

// YieldStats summarizes the predictions made for one crop.
type YieldStats struct {
	TotalPredictions int64   `json:"total_predictions"`
	AvgYield         float64 `json:"avg_yield"`
	MaxYield         float64 `json:"max_yield"`
	MinYield         float64 `json:"min_yield"`
	AvgConfidence    float64 `json:"avg_confidence"`
}

type YieldStore interface {
	AppendYield(ctx context.Context, rec *YieldRecord) error
	RecentYields(ctx context.Context, cropType string, limit int) ([]YieldRecord, error)
	YieldStatistics(ctx context.Context, cropType string) (YieldStats, error)
}

type YieldRepository struct {
	db          *gorm.DB
	maxRetained int
}

func NewYieldRepository(db *gorm.DB, maxRetained int) *YieldRepository {
	if maxRetained <= 0 {
		maxRetained = DefaultMaxRetained
	}
	return &YieldRepository{db: db, maxRetained: maxRetained}
}

func (r *YieldRepository) AppendYield(ctx context.Context, rec *YieldRecord) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(rec).Error; err != nil {
			return err
		}
		return pruneOldest(tx, &YieldRecord{}, r.maxRetained)
	})
}

func (r *YieldRepository) RecentYields(ctx context.Context, cropType string, limit int) ([]YieldRecord, error) {
	q := r.db.WithContext(ctx).Order("created_at desc").Limit(clampLimit(limit, r.maxRetained))
	if cropType != "" {
		q = q.Where("crop_type = ?", cropType)
	}
	var records []YieldRecord
	if err := q.Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// YieldStatistics reports zeros for a crop with no predictions.
func (r *YieldRepository) YieldStatistics(ctx context.Context, cropType string) (YieldStats, error) {
	var stats YieldStats
	err := r.db.WithContext(ctx).
		Model(&YieldRecord{}).
		Select("COUNT(*) AS total_predictions, " +
			"COALESCE(AVG(predicted_yield), 0) AS avg_yield, " +
			"COALESCE(MAX(predicted_yield), 0) AS max_yield, " +
			"COALESCE(MIN(predicted_yield), 0) AS min_yield, " +
			"COALESCE(AVG(confidence), 0) AS avg_confidence").
		Where("crop_type = ?", cropType).
		Scan(&stats).Error
	return stats, err
}

func stamp(id *string, createdAt *time.Time) {
	if *id == "" {
		*id = uuid.NewString()
	}
	if createdAt.IsZero() {
		*createdAt = time.Now()
	}
}
