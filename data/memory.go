package data

import (
	"context"
	"sort"
	"sync"
)

// MemoryHistory keeps the newest records in process memory. It is used when no
// database is configured, the same way the browser client kept a capped list.
type MemoryHistory struct {
	mu          sync.RWMutex
	records     []DetectionRecord // newest first
	yields      []YieldRecord     // newest first
	activity    []ActivityRecord  // newest first
	maxRetained int
}

func NewMemoryHistory(maxRetained int) *MemoryHistory {
	if maxRetained <= 0 {
		maxRetained = DefaultMaxRetained
	}
	return &MemoryHistory{maxRetained: maxRetained}
}

func (m *MemoryHistory) Append(_ context.Context, rec *DetectionRecord) error {
	stamp(&rec.ID, &rec.CreatedAt)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = prepend(m.records, *rec, m.maxRetained)
	return nil
}

func (m *MemoryHistory) Recent(_ context.Context, filter HistoryFilter, limit int) ([]DetectionRecord, error) {
	limit = clampLimit(limit, m.maxRetained)

	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]DetectionRecord, 0, limit)
	for _, rec := range m.records {
		if filter.CropType != "" && rec.CropType != filter.CropType {
			continue
		}
		if filter.DiseaseName != "" && rec.DiseaseName != filter.DiseaseName {
			continue
		}
		out = append(out, rec)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryHistory) Get(_ context.Context, id string) (*DetectionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := range m.records {
		if m.records[i].ID == id {
			rec := m.records[i]
			return &rec, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryHistory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.records {
		if m.records[i].ID == id {
			m.records = append(m.records[:i], m.records[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (m *MemoryHistory) CommonDiseases(_ context.Context, cropType string, limit int) ([]DiseaseCount, error) {
	m.mu.RLock()
	counts := make(map[string]*DiseaseCount)
	var order []string
	for _, rec := range m.records {
		if rec.CropType != cropType {
			continue
		}
		dc, ok := counts[rec.DiseaseName]
		if !ok {
			dc = &DiseaseCount{DiseaseName: rec.DiseaseName}
			counts[rec.DiseaseName] = dc
			order = append(order, rec.DiseaseName)
		}
		dc.Count++
		dc.AvgConfidence += float64(rec.Confidence)
	}
	m.mu.RUnlock()

	out := make([]DiseaseCount, 0, len(order))
	for _, name := range order {
		dc := counts[name]
		dc.AvgConfidence /= float64(dc.Count)
		out = append(out, *dc)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	if limit = clampLimit(limit, m.maxRetained); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryHistory) AppendYield(_ context.Context, rec *YieldRecord) error {
	stamp(&rec.ID, &rec.CreatedAt)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.yields = prepend(m.yields, *rec, m.maxRetained)
	return nil
}

func (m *MemoryHistory) RecentYields(_ context.Context, cropType string, limit int) ([]YieldRecord, error) {
	limit = clampLimit(limit, m.maxRetained)

	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]YieldRecord, 0, limit)
	for _, rec := range m.yields {
		if cropType != "" && rec.CropType != cropType {
			continue
		}
		out = append(out, rec)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryHistory) YieldStatistics(_ context.Context, cropType string) (YieldStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var stats YieldStats
	var confidence float64
	for _, rec := range m.yields {
		if rec.CropType != cropType {
			continue
		}
		if stats.TotalPredictions == 0 || rec.PredictedYield > stats.MaxYield {
			stats.MaxYield = rec.PredictedYield
		}
		if stats.TotalPredictions == 0 || rec.PredictedYield < stats.MinYield {
			stats.MinYield = rec.PredictedYield
		}
		stats.TotalPredictions++
		stats.AvgYield += rec.PredictedYield
		confidence += float64(rec.Confidence)
	}
	if stats.TotalPredictions > 0 {
		stats.AvgYield /= float64(stats.TotalPredictions)
		stats.AvgConfidence = confidence / float64(stats.TotalPredictions)
	}
	return stats, nil
}

func (m *MemoryHistory) LogActivity(_ context.Context, rec *ActivityRecord) error {
	stamp(&rec.ID, &rec.CreatedAt)
	if rec.Details == "" {
		rec.Details = "{}"
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.activity = prepend(m.activity, *rec, m.maxRetained)
	return nil
}

func (m *MemoryHistory) RecentActivity(_ context.Context, activityType string, limit int) ([]ActivityRecord, error) {
	limit = clampLimit(limit, m.maxRetained)

	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ActivityRecord, 0, limit)
	for _, rec := range m.activity {
		if activityType != "" && rec.ActivityType != activityType {
			continue
		}
		out = append(out, rec)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// prepend puts rec in front and drops whatever falls past keep.
func prepend[T any](list []T, rec T, keep int) []T {
	list = append([]T{rec}, list...)
	if len(list) > keep {
		list = list[:keep]
	}
	return list
}
