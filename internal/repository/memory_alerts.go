package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"sahtee-exposure/internal/domain"

	"github.com/google/uuid"
)

// MemoryAlertsRepo 内存实现；单个互斥锁保证去重检查与插入的原子性
type MemoryAlertsRepo struct {
	mu     sync.RWMutex
	alerts map[string]*domain.HealthAlert
}

func NewMemoryAlertsRepo() *MemoryAlertsRepo {
	return &MemoryAlertsRepo{alerts: map[string]*domain.HealthAlert{}}
}

func (r *MemoryAlertsRepo) CreateIfNoOpen(_ context.Context, alert *domain.HealthAlert) (*domain.HealthAlert, bool, error) {
	if alert == nil {
		return nil, false, fmt.Errorf("alert is required")
	}
	if alert.SubjectID == "" {
		return nil, false, fmt.Errorf("subject_id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, a := range r.alerts {
		if a.SubjectID == alert.SubjectID && a.Type == alert.Type && a.Status.Open() {
			return a.Clone(), false, nil
		}
	}

	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = now
	}
	alert.UpdatedAt = now
	alert.Version = 1
	r.alerts[alert.ID] = alert.Clone()
	return alert.Clone(), true, nil
}

func (r *MemoryAlertsRepo) GetAlert(_ context.Context, alertID string) (*domain.HealthAlert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.alerts[alertID]
	if !ok {
		return nil, fmt.Errorf("alert %s: %w", alertID, domain.ErrNotFound)
	}
	return a.Clone(), nil
}

func (r *MemoryAlertsRepo) ListAlerts(_ context.Context, filter domain.AlertFilter) ([]*domain.HealthAlert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []*domain.HealthAlert{}
	for _, a := range r.alerts {
		if filter.Status != nil && a.Status != *filter.Status {
			continue
		}
		if filter.Severity != nil && a.Severity != *filter.Severity {
			continue
		}
		if filter.Type != nil && a.Type != *filter.Type {
			continue
		}
		out = append(out, a.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (r *MemoryAlertsRepo) UpdateAlert(_ context.Context, alert *domain.HealthAlert) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.alerts[alert.ID]
	if !ok {
		return fmt.Errorf("alert %s: %w", alert.ID, domain.ErrNotFound)
	}
	if stored.Version != alert.Version-1 {
		return fmt.Errorf("alert %s version %d: %w", alert.ID, stored.Version, domain.ErrConflict)
	}
	alert.UpdatedAt = time.Now().UTC()
	r.alerts[alert.ID] = alert.Clone()
	return nil
}
