package analysis

import (
	"context"
	"errors"
	"testing"
	"time"

	"sahtee-exposure/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubGenerator struct {
	text  string
	err   error
	delay time.Duration
	calls int
}

func (s *stubGenerator) Generate(ctx context.Context, rec domain.Recommendation) (string, error) {
	s.calls++
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if s.err != nil {
		return "", s.err
	}
	return s.text + " " + rec.ID, nil
}

func sampleRecs() []domain.Recommendation {
	return []domain.Recommendation{
		{ID: "r1", Type: domain.RecTraining, Priority: domain.PriorityHaute, Confidence: 0.7, Status: domain.RecStatusPending},
		{ID: "r2", Type: domain.RecEquipment, Priority: domain.PriorityHaute, Confidence: 0.7, Status: domain.RecStatusPending},
	}
}

func TestEnrich_AttachesRationaleOnly(t *testing.T) {
	gen := &stubGenerator{text: "Because"}
	e := NewEnricher(gen, time.Second, zap.NewNop())
	in := sampleRecs()

	out, err := e.Enrich(context.Background(), in)

	require.NoError(t, err)
	require.Len(t, out, 2)
	require.NotNil(t, out[0].Rationale)
	assert.Equal(t, "Because r1", *out[0].Rationale)
	assert.Nil(t, in[0].Rationale)

	stripped := out[0]
	stripped.Rationale = nil
	assert.Equal(t, in[0], stripped)
}

func TestEnrich_TimeoutFallsBack(t *testing.T) {
	gen := &stubGenerator{text: "slow", delay: time.Second}
	e := NewEnricher(gen, 20*time.Millisecond, zap.NewNop())
	in := sampleRecs()

	out, err := e.Enrich(context.Background(), in)

	assert.ErrorIs(t, err, domain.ErrAnalysisUnavailable)
	assert.Equal(t, in, out)
}

func TestEnrich_FailureFallsBack(t *testing.T) {
	gen := &stubGenerator{err: errors.New("backend down")}
	e := NewEnricher(gen, time.Second, zap.NewNop())

	out, err := e.Enrich(context.Background(), sampleRecs())

	assert.ErrorIs(t, err, domain.ErrAnalysisUnavailable)
	assert.Equal(t, sampleRecs(), out)
	assert.Equal(t, 2, gen.calls)
}

func TestEnrich_CancelledContextStops(t *testing.T) {
	gen := &stubGenerator{text: "x"}
	e := NewEnricher(gen, time.Second, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := e.Enrich(ctx, sampleRecs())

	assert.ErrorIs(t, err, domain.ErrAnalysisUnavailable)
	assert.Equal(t, 0, gen.calls)
	assert.Equal(t, sampleRecs(), out)
}

func TestEnrich_Disabled(t *testing.T) {
	e := NewEnricher(nil, 0, zap.NewNop())
	out, err := e.Enrich(context.Background(), sampleRecs())
	require.NoError(t, err)
	assert.Equal(t, sampleRecs(), out)
	assert.False(t, e.Enabled())
}
