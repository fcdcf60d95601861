package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"sahtee-exposure/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThresholdScenario_CriticalAlertThenResolve(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	id, err := env.exposures.CreateExposure(ctx, benzene())
	require.NoError(t, err)

	res, err := env.exposures.AppendMeasurement(ctx, id, measurement(0.06, time.Now()))
	require.NoError(t, err)
	require.NotNil(t, res.Evaluation)
	assert.InDelta(t, 120, res.Evaluation.PercentOfLimit, 1e-9)
	assert.Equal(t, domain.AlertLevelCritical, res.Evaluation.AlertLevel)
	assert.False(t, res.Measurement.WithinLimits)

	require.True(t, res.AlertCreated)
	alert := res.Alert
	assert.Equal(t, domain.AlertTypeExposureThreshold, alert.Type)
	assert.Equal(t, domain.SeverityCritical, alert.Severity)
	assert.Equal(t, domain.AlertStatusActive, alert.Status)
	require.NotNil(t, alert.ExposureID)
	assert.Equal(t, id, *alert.ExposureID)

	resolved, err := env.alerts.ResolveAlert(ctx, alert.ID, "ventilation upgraded", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.AlertStatusResolved, resolved.Status)
	require.NotNil(t, resolved.ResolvedAt)
	require.NotNil(t, resolved.ResolutionNotes)
	assert.Equal(t, "ventilation upgraded", *resolved.ResolutionNotes)
	firstResolvedAt := *resolved.ResolvedAt

	_, err = env.alerts.ResolveAlert(ctx, alert.ID, "ventilation upgraded", nil)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	stored, err := env.alerts.GetAlert(ctx, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, firstResolvedAt, *stored.ResolvedAt)

	assert.Equal(t, []domain.AlertEventKind{domain.AlertEventCreated, domain.AlertEventResolved}, env.publisher.kinds())
}

func TestDedup_OpenAlertSuppressesSecond(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	id, err := env.exposures.CreateExposure(ctx, benzene())
	require.NoError(t, err)

	first, err := env.exposures.AppendMeasurement(ctx, id, measurement(0.045, time.Now()))
	require.NoError(t, err)
	require.True(t, first.AlertCreated)
	assert.Equal(t, domain.SeverityWarning, first.Alert.Severity)

	_, err = env.alerts.AcknowledgeAlert(ctx, first.Alert.ID)
	require.NoError(t, err)

	second, err := env.exposures.AppendMeasurement(ctx, id, measurement(0.07, time.Now()))
	require.NoError(t, err)
	assert.False(t, second.AlertCreated)
	assert.Equal(t, first.Alert.ID, second.Alert.ID)

	all, err := env.alerts.ListAlerts(ctx, domain.AlertFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)

	// after resolution a new alert may be opened
	_, err = env.alerts.ResolveAlert(ctx, first.Alert.ID, "done", nil)
	require.NoError(t, err)
	third, err := env.exposures.AppendMeasurement(ctx, id, measurement(0.07, time.Now()))
	require.NoError(t, err)
	assert.True(t, third.AlertCreated)
	assert.NotEqual(t, first.Alert.ID, third.Alert.ID)
}

func TestAppendMeasurement_BelowThresholdNoAlert(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	id, err := env.exposures.CreateExposure(ctx, benzene())
	require.NoError(t, err)

	res, err := env.exposures.AppendMeasurement(ctx, id, measurement(0.03, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, domain.AlertLevelModerate, res.Evaluation.AlertLevel)
	assert.True(t, res.Measurement.WithinLimits)
	assert.Nil(t, res.Alert)
	assert.Empty(t, env.publisher.kinds())
}

func TestAcknowledge_Idempotent(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	id, _ := env.exposures.CreateExposure(ctx, benzene())
	res, err := env.exposures.AppendMeasurement(ctx, id, measurement(0.06, time.Now()))
	require.NoError(t, err)

	a1, err := env.alerts.AcknowledgeAlert(ctx, res.Alert.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AlertStatusAcknowledged, a1.Status)
	require.NotNil(t, a1.AcknowledgedAt)

	a2, err := env.alerts.AcknowledgeAlert(ctx, res.Alert.ID)
	require.NoError(t, err)
	assert.Equal(t, a1.Version, a2.Version)
	assert.Equal(t, *a1.AcknowledgedAt, *a2.AcknowledgedAt)

	_, err = env.alerts.ResolveAlert(ctx, res.Alert.ID, "ok", nil)
	require.NoError(t, err)
	_, err = env.alerts.AcknowledgeAlert(ctx, res.Alert.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	assert.Equal(t, []domain.AlertEventKind{
		domain.AlertEventCreated, domain.AlertEventAcknowledged, domain.AlertEventResolved,
	}, env.publisher.kinds())
}

func TestAcknowledge_ConcurrentSingleWinner(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	id, _ := env.exposures.CreateExposure(ctx, benzene())
	res, err := env.exposures.AppendMeasurement(ctx, id, measurement(0.06, time.Now()))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a, err := env.alerts.AcknowledgeAlert(ctx, res.Alert.ID)
			assert.NoError(t, err)
			assert.Equal(t, domain.AlertStatusAcknowledged, a.Status)
		}()
	}
	wg.Wait()

	stored, err := env.alerts.GetAlert(ctx, res.Alert.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored.Version)

	acks := 0
	for _, k := range env.publisher.kinds() {
		if k == domain.AlertEventAcknowledged {
			acks++
		}
	}
	assert.Equal(t, 1, acks)
}

func TestResolve_ConcurrentSingleWinner(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	id, _ := env.exposures.CreateExposure(ctx, benzene())
	res, err := env.exposures.AppendMeasurement(ctx, id, measurement(0.06, time.Now()))
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded, rejected := 0, 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.alerts.ResolveAlert(ctx, res.Alert.ID, "fixed", nil)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
			} else if assert.ErrorIs(t, err, domain.ErrInvalidTransition) {
				rejected++
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 9, rejected)
}

func TestResolve_LinksCapa(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	id, _ := env.exposures.CreateExposure(ctx, benzene())
	res, _ := env.exposures.AppendMeasurement(ctx, id, measurement(0.06, time.Now()))

	capa := "capa-42"
	resolved, err := env.alerts.ResolveAlert(ctx, res.Alert.ID, "captage installé", &capa)
	require.NoError(t, err)
	require.NotNil(t, resolved.LinkedCapaID)
	assert.Equal(t, "capa-42", *resolved.LinkedCapaID)
}

func TestTransitions_NotFound(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	_, err := env.alerts.AcknowledgeAlert(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = env.alerts.ResolveAlert(ctx, "missing", "", nil)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRaise_VisitOverdueSeverity(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	days := 12
	a, created, err := env.alerts.Raise(ctx, AlertRequest{
		Type: domain.AlertTypeVisitOverdue, SubjectID: "emp-1", Title: "Visite en retard", DaysOverdue: &days,
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, domain.SeverityWarning, a.Severity)

	days = 45
	a, created, err = env.alerts.Raise(ctx, AlertRequest{
		Type: domain.AlertTypeVisitOverdue, SubjectID: "emp-2", Title: "Visite en retard", DaysOverdue: &days,
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, domain.SeverityCritical, a.Severity)

	// same subject and type while open: deduplicated
	_, created, err = env.alerts.Raise(ctx, AlertRequest{
		Type: domain.AlertTypeVisitOverdue, SubjectID: "emp-2", Title: "Visite en retard", DaysOverdue: &days,
	})
	require.NoError(t, err)
	assert.False(t, created)
}

func TestRaise_Validation(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	_, _, err := env.alerts.Raise(ctx, AlertRequest{Type: domain.AlertTypeOutbreak, Title: "x"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, _, err = env.alerts.Raise(ctx, AlertRequest{Type: domain.AlertTypeExposureThreshold, SubjectID: "e", Title: "x", Severity: domain.SeverityCritical})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, _, err = env.alerts.Raise(ctx, AlertRequest{Type: domain.AlertTypeOutbreak, SubjectID: "site-1", Title: "x"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, _, err = env.alerts.Raise(ctx, AlertRequest{Type: domain.AlertTypeVisitOverdue, SubjectID: "e", Title: "x"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	notUUID := "line-2"
	_, _, err = env.alerts.Raise(ctx, AlertRequest{Type: domain.AlertTypeOutbreak, SubjectID: "site-1", Title: "x",
		Severity: domain.SeverityWarning, ExposureID: &notUUID})
	assert.ErrorIs(t, err, domain.ErrValidation)

	exposureID := "3f2b8c1e-6d4a-4f7b-9a61-2c5d8e0f1a23"
	a, created, err := env.alerts.Raise(ctx, AlertRequest{Type: domain.AlertTypeOutbreak, SubjectID: "site-1", Title: "x",
		Severity: domain.SeverityWarning, ExposureID: &exposureID})
	require.NoError(t, err)
	assert.True(t, created)
	require.NotNil(t, a.ExposureID)
	assert.Equal(t, exposureID, *a.ExposureID)
}

func TestVisitOverdueSeverity(t *testing.T) {
	assert.Equal(t, domain.SeverityWarning, VisitOverdueSeverity(0))
	assert.Equal(t, domain.SeverityWarning, VisitOverdueSeverity(30))
	assert.Equal(t, domain.SeverityCritical, VisitOverdueSeverity(31))
}

func TestListAlerts_InvalidFilter(t *testing.T) {
	env := newTestEnv()
	status := domain.AlertStatus("closed")
	_, err := env.alerts.ListAlerts(context.Background(), domain.AlertFilter{Status: &status})
	assert.ErrorIs(t, err, domain.ErrValidation)
}
