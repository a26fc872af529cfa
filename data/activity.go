package data

import (
	"context"
	"time"

	"gorm.io/gorm"
)

const (
	ActivityDetectDisease = "detect_disease"
	ActivityPredictYield  = "predict_yield"
)

// ActivityRecord is one entry of the user activity log. Details holds a JSON
// object describing the request.
type ActivityRecord struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	ActivityType string    `gorm:"size:32;index" json:"activity_type"`
	CropType     string    `gorm:"size:32" json:"crop_type"`
	Details      string    `gorm:"type:json" json:"details"`
	CreatedAt    time.Time `gorm:"not null;index" json:"created_at"`
}

func (ActivityRecord) TableName() string {
	return "user_activity"
}

func (r *ActivityRecord) BeforeCreate(*gorm.DB) error {
	stamp(&r.ID, &r.CreatedAt)
	if r.Details == "" {
		r.Details = "{}"
	}
	return nil
}

type ActivityStore interface {
	LogActivity(ctx context.Context, rec *ActivityRecord) error
	RecentActivity(ctx context.Context, activityType string, limit int) ([]ActivityRecord, error)
}

type ActivityRepository struct {
	db          *gorm.DB
	maxRetained int
}

func NewActivityRepository(db *gorm.DB, maxRetained int) *ActivityRepository {
	if maxRetained <= 0 {
		maxRetained = DefaultMaxRetained
	}
	return &ActivityRepository{db: db, maxRetained: maxRetained}
}

func (r *ActivityRepository) LogActivity(ctx context.Context, rec *ActivityRecord) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(rec).Error; err != nil {
			return err
		}
		return pruneOldest(tx, &ActivityRecord{}, r.maxRetained)
	})
}

func (r *ActivityRepository) RecentActivity(ctx context.Context, activityType string, limit int) ([]ActivityRecord, error) {
	q := r.db.WithContext(ctx).Order("created_at desc").Limit(clampLimit(limit, r.maxRetained))
	if activityType != "" {
		q = q.Where("activity_type = ?", activityType)
	}
	var records []ActivityRecord
	if err := q.Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}
