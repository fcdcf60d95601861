package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"sahtee-exposure/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newExposure(agent string, category domain.HazardCategory) *domain.ExposureRecord {
	return &domain.ExposureRecord{
		Agent:               agent,
		HazardCategory:      category,
		Area:                "Atelier peinture",
		RegulatoryLimit:     0.05,
		Unit:                "mg/m3",
		MonitoringFrequency: domain.FrequencyMonthly,
	}
}

func TestMemoryExposures_AppendPreservesOrder(t *testing.T) {
	repo := NewMemoryExposuresRepo()
	ctx := context.Background()

	e := newExposure("Benzene", domain.HazardChemical)
	require.NoError(t, repo.CreateExposure(ctx, e))
	require.NotEmpty(t, e.ID)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, v := range []float64{0.03, 0.01, 0.06, 0.02} {
		require.NoError(t, repo.AppendMeasurement(ctx, e.ID, domain.Measurement{Value: v, Date: base.AddDate(0, i, 0)}))
	}

	history, err := repo.GetMeasurementHistory(ctx, e.ID)
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, []float64{0.03, 0.01, 0.06, 0.02},
		[]float64{history[0].Value, history[1].Value, history[2].Value, history[3].Value})

	reloaded, err := repo.GetExposure(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, history, reloaded.MeasurementHistory)
}

func TestMemoryExposures_RejectsEarlierMeasurement(t *testing.T) {
	repo := NewMemoryExposuresRepo()
	ctx := context.Background()

	e := newExposure("Benzene", domain.HazardChemical)
	require.NoError(t, repo.CreateExposure(ctx, e))

	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.AppendMeasurement(ctx, e.ID, domain.Measurement{Value: 0.010, Date: now.Add(-48 * time.Hour)}))
	require.NoError(t, repo.AppendMeasurement(ctx, e.ID, domain.Measurement{Value: 0.020, Date: now.Add(-time.Hour)}))

	err := repo.AppendMeasurement(ctx, e.ID, domain.Measurement{Value: 0.005, Date: now.Add(-240 * time.Hour)})
	assert.ErrorIs(t, err, domain.ErrValidation)

	// 同一时刻允许
	require.NoError(t, repo.AppendMeasurement(ctx, e.ID, domain.Measurement{Value: 0.030, Date: now.Add(-time.Hour)}))

	history, err := repo.GetMeasurementHistory(ctx, e.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, []float64{0.010, 0.020, 0.030},
		[]float64{history[0].Value, history[1].Value, history[2].Value})
}

func TestMemoryExposures_CreateRejectsUnorderedHistory(t *testing.T) {
	repo := NewMemoryExposuresRepo()
	ctx := context.Background()

	now := time.Now()
	e := newExposure("Silice", domain.HazardChemical)
	e.MeasurementHistory = []domain.Measurement{
		{Value: 0.02, Date: now},
		{Value: 0.01, Date: now.AddDate(0, -1, 0)},
	}

	assert.ErrorIs(t, repo.CreateExposure(ctx, e), domain.ErrValidation)

	list, err := repo.ListExposures(ctx, ExposureQuery{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestMemoryExposures_ReturnedCopiesAreIsolated(t *testing.T) {
	repo := NewMemoryExposuresRepo()
	ctx := context.Background()
	e := newExposure("Noise", domain.HazardPhysical)
	require.NoError(t, repo.CreateExposure(ctx, e))
	require.NoError(t, repo.AppendMeasurement(ctx, e.ID, domain.Measurement{Value: 1, Date: time.Now()}))

	got, err := repo.GetExposure(ctx, e.ID)
	require.NoError(t, err)
	got.MeasurementHistory[0].Value = 999

	again, err := repo.GetExposure(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, 1.0, again.MeasurementHistory[0].Value)
}

func TestMemoryExposures_NotFound(t *testing.T) {
	repo := NewMemoryExposuresRepo()
	ctx := context.Background()

	err := repo.AppendMeasurement(ctx, "missing", domain.Measurement{Value: 1})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = repo.GetExposure(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = repo.GetMeasurementHistory(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMemoryExposures_ListFilters(t *testing.T) {
	repo := NewMemoryExposuresRepo()
	ctx := context.Background()
	require.NoError(t, repo.CreateExposure(ctx, newExposure("Benzene", domain.HazardChemical)))
	require.NoError(t, repo.CreateExposure(ctx, newExposure("Toluene", domain.HazardChemical)))
	require.NoError(t, repo.CreateExposure(ctx, newExposure("Noise", domain.HazardPhysical)))

	chemical := domain.HazardChemical
	list, err := repo.ListExposures(ctx, ExposureQuery{HazardCategory: &chemical})
	require.NoError(t, err)
	assert.Len(t, list, 2)

	search := "tolu"
	list, err = repo.ListExposures(ctx, ExposureQuery{Search: &search})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Toluene", list[0].Agent)
}

func TestMemoryExposures_ConcurrentAppendsAcrossRecords(t *testing.T) {
	repo := NewMemoryExposuresRepo()
	ctx := context.Background()
	a := newExposure("A", domain.HazardChemical)
	b := newExposure("B", domain.HazardChemical)
	require.NoError(t, repo.CreateExposure(ctx, a))
	require.NoError(t, repo.CreateExposure(ctx, b))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); _ = repo.AppendMeasurement(ctx, a.ID, domain.Measurement{Value: 1}) }()
		go func() { defer wg.Done(); _ = repo.AppendMeasurement(ctx, b.ID, domain.Measurement{Value: 2}) }()
	}
	wg.Wait()

	ha, _ := repo.GetMeasurementHistory(ctx, a.ID)
	hb, _ := repo.GetMeasurementHistory(ctx, b.ID)
	assert.Len(t, ha, 50)
	assert.Len(t, hb, 50)
}

func openAlert(subject string) *domain.HealthAlert {
	return &domain.HealthAlert{
		Type:      domain.AlertTypeExposureThreshold,
		Severity:  domain.SeverityCritical,
		Status:    domain.AlertStatusActive,
		Title:     "Benzene over limit",
		SubjectID: subject,
	}
}

func TestMemoryAlerts_CreateIfNoOpen_Dedup(t *testing.T) {
	repo := NewMemoryAlertsRepo()
	ctx := context.Background()

	first, created, err := repo.CreateIfNoOpen(ctx, openAlert("exp-1"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, int64(1), first.Version)

	second, created, err := repo.CreateIfNoOpen(ctx, openAlert("exp-1"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	// 其他主体不受影响
	_, created, err = repo.CreateIfNoOpen(ctx, openAlert("exp-2"))
	require.NoError(t, err)
	assert.True(t, created)
}

func TestMemoryAlerts_CreateIfNoOpen_Concurrent(t *testing.T) {
	repo := NewMemoryAlertsRepo()
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	createdCount := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, created, err := repo.CreateIfNoOpen(ctx, openAlert("exp-1"))
			if err == nil && created {
				mu.Lock()
				createdCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, createdCount)
}

func TestMemoryAlerts_UpdateAlert_CAS(t *testing.T) {
	repo := NewMemoryAlertsRepo()
	ctx := context.Background()

	a, _, err := repo.CreateIfNoOpen(ctx, openAlert("exp-1"))
	require.NoError(t, err)

	a.Status = domain.AlertStatusAcknowledged
	a.Version = 2
	require.NoError(t, repo.UpdateAlert(ctx, a))

	stale := a.Clone()
	stale.Status = domain.AlertStatusResolved
	stale.Version = 2 // 基于 version 1 的过期写入
	assert.ErrorIs(t, repo.UpdateAlert(ctx, stale), domain.ErrConflict)

	missing := openAlert("x")
	missing.ID = "missing"
	missing.Version = 2
	assert.ErrorIs(t, repo.UpdateAlert(ctx, missing), domain.ErrNotFound)
}

func TestMemoryAlerts_ListFilter(t *testing.T) {
	repo := NewMemoryAlertsRepo()
	ctx := context.Background()
	_, _, _ = repo.CreateIfNoOpen(ctx, openAlert("a"))
	w := openAlert("b")
	w.Severity = domain.SeverityWarning
	_, _, _ = repo.CreateIfNoOpen(ctx, w)

	sev := domain.SeverityWarning
	list, err := repo.ListAlerts(ctx, domain.AlertFilter{Severity: &sev})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "b", list[0].SubjectID)

	status := domain.AlertStatusResolved
	list, err = repo.ListAlerts(ctx, domain.AlertFilter{Status: &status})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestMemoryRecommendations_DecideOnce(t *testing.T) {
	repo := NewMemoryRecommendationsRepo()
	ctx := context.Background()

	rec := domain.Recommendation{ID: "r-1", Status: domain.RecStatusPending, CreatedAt: time.Now()}
	require.NoError(t, repo.SaveRecommendations(ctx, []domain.Recommendation{rec}))

	decided, err := repo.DecideRecommendation(ctx, "r-1", domain.RecStatusAccepted, time.Now())
	require.NoError(t, err)
	assert.Equal(t, domain.RecStatusAccepted, decided.Status)
	assert.NotNil(t, decided.DecidedAt)

	_, err = repo.DecideRecommendation(ctx, "r-1", domain.RecStatusRejected, time.Now())
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	// 重新保存同 ID 的 pending 实例不会覆盖已决策实例
	require.NoError(t, repo.SaveRecommendations(ctx, []domain.Recommendation{rec}))
	got, err := repo.GetRecommendation(ctx, "r-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RecStatusAccepted, got.Status)

	_, err = repo.DecideRecommendation(ctx, "r-1", domain.RecStatusPending, time.Now())
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = repo.DecideRecommendation(ctx, "missing", domain.RecStatusAccepted, time.Now())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMemoryRecommendations_SaveReplacesPending(t *testing.T) {
	repo := NewMemoryRecommendationsRepo()
	ctx := context.Background()
	first := time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC)
	second := first.Add(24 * time.Hour)

	require.NoError(t, repo.SaveRecommendations(ctx, []domain.Recommendation{
		{ID: "a-1", Status: domain.RecStatusPending, CreatedAt: first},
		{ID: "b-1", Status: domain.RecStatusPending, CreatedAt: first},
	}))
	_, err := repo.DecideRecommendation(ctx, "a-1", domain.RecStatusAccepted, first)
	require.NoError(t, err)

	require.NoError(t, repo.SaveRecommendations(ctx, []domain.Recommendation{
		{ID: "a-2", Status: domain.RecStatusPending, CreatedAt: second},
		{ID: "b-2", Status: domain.RecStatusPending, CreatedAt: second},
	}))

	all, err := repo.ListRecommendations(ctx, nil)
	require.NoError(t, err)
	ids := make([]string, len(all))
	for i, r := range all {
		ids[i] = r.ID
	}
	assert.Equal(t, []string{"a-2", "b-2", "a-1"}, ids)

	_, err = repo.GetRecommendation(ctx, "b-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// id 为空时整批拒绝，已有数据不变
	assert.Error(t, repo.SaveRecommendations(ctx, []domain.Recommendation{{Status: domain.RecStatusPending}}))
	all, err = repo.ListRecommendations(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
