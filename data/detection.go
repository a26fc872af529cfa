package data

import (
	"context"
	"errors"
	"math"
	"time"

	"gorm.io/gorm"
)

// ErrNotFound is returned when a history record does not exist.
var ErrNotFound = errors.New("record not found")

// DefaultMaxRetained caps the history when no limit is configured.
const DefaultMaxRetained = 100

// DetectionRecord is the flattened, persisted form of one detection.
type DetectionRecord struct {
	ID            string    `gorm:"primaryKey;size:36" json:"id"`
	CropType      string    `gorm:"size:32;index" json:"crop_type"`
	DiseaseName   string    `gorm:"size:128;index" json:"disease_name"`
	Confidence    int       `json:"confidence"`
	Severity      string    `gorm:"size:16" json:"severity"`
	Pesticide     string    `gorm:"size:255" json:"pesticide"`
	Method        string    `gorm:"size:32" json:"method"`
	ImageFilename string    `gorm:"size:255" json:"image_filename"`
	Body          string    `gorm:"type:json" json:"body"`
	CreatedAt     time.Time `gorm:"not null;index" json:"created_at"`
}

func (DetectionRecord) TableName() string {
	return "disease_detections"
}

func (r *DetectionRecord) BeforeCreate(*gorm.DB) error {
	stamp(&r.ID, &r.CreatedAt)
	return nil
}

// HistoryFilter narrows Recent. Empty fields match everything.
type HistoryFilter struct {
	CropType    string
	DiseaseName string
}

// DiseaseCount is one row of the per-crop disease analytics.
type DiseaseCount struct {
	DiseaseName   string  `json:"disease_name"`
	Count         int64   `json:"count"`
	AvgConfidence float64 `json:"avg_confidence"`
}

// DetectionStore is the append-only detection log.
type DetectionStore interface {
	Append(ctx context.Context, rec *DetectionRecord) error
	Recent(ctx context.Context, filter HistoryFilter, limit int) ([]DetectionRecord, error)
	Get(ctx context.Context, id string) (*DetectionRecord, error)
	Delete(ctx context.Context, id string) error
	CommonDiseases(ctx context.Context, cropType string, limit int) ([]DiseaseCount, error)
}

// HistoryStore records everything the service produces: detections, yield
// predictions and the activity log both of them write to.
type HistoryStore interface {
	DetectionStore
	YieldStore
	ActivityStore
}

type DetectionRepository struct {
	db          *gorm.DB
	maxRetained int
}

func NewDetectionRepository(db *gorm.DB, maxRetained int) *DetectionRepository {
	if maxRetained <= 0 {
		maxRetained = DefaultMaxRetained
	}
	return &DetectionRepository{
		db:          db,
		maxRetained: maxRetained,
	}
}

// Append inserts rec and prunes everything past the newest maxRetained rows.
func (r *DetectionRepository) Append(ctx context.Context, rec *DetectionRecord) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(rec).Error; err != nil {
			return err
		}
		return pruneOldest(tx, &DetectionRecord{}, r.maxRetained)
	})
}

func (r *DetectionRepository) Get(ctx context.Context, id string) (*DetectionRecord, error) {
	var rec DetectionRecord
	err := r.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *DetectionRepository) Recent(ctx context.Context, filter HistoryFilter, limit int) ([]DetectionRecord, error) {
	q := r.db.WithContext(ctx).Order("created_at desc").Limit(clampLimit(limit, r.maxRetained))
	if filter.CropType != "" {
		q = q.Where("crop_type = ?", filter.CropType)
	}
	if filter.DiseaseName != "" {
		q = q.Where("disease_name = ?", filter.DiseaseName)
	}
	var records []DetectionRecord
	if err := q.Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func (r *DetectionRepository) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Delete(&DetectionRecord{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *DetectionRepository) CommonDiseases(ctx context.Context, cropType string, limit int) ([]DiseaseCount, error) {
	var out []DiseaseCount
	err := r.db.WithContext(ctx).
		Model(&DetectionRecord{}).
		Select("disease_name, COUNT(*) AS count, AVG(confidence) AS avg_confidence").
		Where("crop_type = ?", cropType).
		Group("disease_name").
		Order("count desc").
		Limit(clampLimit(limit, r.maxRetained)).
		Scan(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

// pruneOldest deletes the rows of model's table past the newest keep rows.
func pruneOldest(tx *gorm.DB, model any, keep int) error {
	var stale []string
	err := tx.Model(model).
		Order("created_at desc").
		Limit(math.MaxInt32).
		Offset(keep).
		Pluck("id", &stale).Error
	if err != nil {
		return err
	}
	if len(stale) == 0 {
		return nil
	}
	return tx.Where("id IN ?", stale).Delete(model).Error
}

func clampLimit(limit, ceiling int) int {
	if limit <= 0 || limit > ceiling {
		return ceiling
	}
	return limit
}
