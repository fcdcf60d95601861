package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"sahtee-exposure/internal/domain"

	"github.com/google/uuid"
)

// MemoryExposuresRepo 内存实现（DB 未启用时使用，也用于测试）
type MemoryExposuresRepo struct {
	mu        sync.RWMutex
	exposures map[string]*domain.ExposureRecord
}

func NewMemoryExposuresRepo() *MemoryExposuresRepo {
	return &MemoryExposuresRepo{exposures: map[string]*domain.ExposureRecord{}}
}

func (r *MemoryExposuresRepo) CreateExposure(_ context.Context, e *domain.ExposureRecord) error {
	if e == nil {
		return fmt.Errorf("exposure is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if _, ok := r.exposures[e.ID]; ok {
		return fmt.Errorf("exposure %s already exists", e.ID)
	}
	if err := domain.ValidateHistoryOrder(e.MeasurementHistory); err != nil {
		return err
	}
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
	r.exposures[e.ID] = e.Clone()
	return nil
}

func (r *MemoryExposuresRepo) GetExposure(_ context.Context, exposureID string) (*domain.ExposureRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.exposures[exposureID]
	if !ok {
		return nil, fmt.Errorf("exposure %s: %w", exposureID, domain.ErrNotFound)
	}
	return e.Clone(), nil
}

func (r *MemoryExposuresRepo) ListExposures(_ context.Context, q ExposureQuery) ([]*domain.ExposureRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var search string
	if q.Search != nil {
		search = strings.ToLower(strings.TrimSpace(*q.Search))
	}

	out := make([]*domain.ExposureRecord, 0, len(r.exposures))
	for _, e := range r.exposures {
		if q.HazardCategory != nil && e.HazardCategory != *q.HazardCategory {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(e.Agent), search) &&
			!strings.Contains(strings.ToLower(e.Area), search) {
			continue
		}
		out = append(out, e.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *MemoryExposuresRepo) AppendMeasurement(_ context.Context, exposureID string, m domain.Measurement) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.exposures[exposureID]
	if !ok {
		return fmt.Errorf("exposure %s: %w", exposureID, domain.ErrNotFound)
	}
	m.Date = m.Date.UTC()
	if last, ok := e.Latest(); ok {
		if err := domain.CheckChronological(last.Date, m.Date); err != nil {
			return fmt.Errorf("exposure %s: %w", exposureID, err)
		}
	}
	e.MeasurementHistory = append(e.MeasurementHistory, m)
	e.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryExposuresRepo) GetMeasurementHistory(_ context.Context, exposureID string) ([]domain.Measurement, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.exposures[exposureID]
	if !ok {
		return nil, fmt.Errorf("exposure %s: %w", exposureID, domain.ErrNotFound)
	}
	return append([]domain.Measurement(nil), e.MeasurementHistory...), nil
}
