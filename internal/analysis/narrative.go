package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"sahtee-exposure/internal/domain"

	"go.uber.org/zap"
)

// NarrativeGenerator phrases a rationale for a recommendation. Implementations may be slow
// or unavailable.
type NarrativeGenerator interface {
	Generate(ctx context.Context, rec domain.Recommendation) (string, error)
}

// Enricher 可选的叙述增强；只写 Rationale，不改确定性字段
type Enricher struct {
	generator NarrativeGenerator
	timeout   time.Duration
	logger    *zap.Logger
}

// NewEnricher generator 为 nil 时 Enrich 直接返回确定性结果
func NewEnricher(generator NarrativeGenerator, timeout time.Duration, logger *zap.Logger) *Enricher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Enricher{generator: generator, timeout: timeout, logger: logger}
}

// Enabled reports whether a generator is configured.
func (e *Enricher) Enabled() bool {
	return e != nil && e.generator != nil
}

// Enrich returns copies of recs with Rationale attached where generation succeeded.
// Failures degrade to the deterministic recommendation; the returned error wraps
// ErrAnalysisUnavailable and is informational only.
func (e *Enricher) Enrich(ctx context.Context, recs []domain.Recommendation) ([]domain.Recommendation, error) {
	out := make([]domain.Recommendation, len(recs))
	copy(out, recs)
	if !e.Enabled() {
		return out, nil
	}

	failed := 0
	var firstErr error
	for i := range out {
		if err := ctx.Err(); err != nil {
			failed += len(out) - i
			if firstErr == nil {
				firstErr = err
			}
			break
		}
		text, err := e.generate(ctx, out[i])
		if err != nil {
			failed++
			if firstErr == nil {
				firstErr = err
			}
			e.logger.Warn("Narrative generation failed, keeping deterministic recommendation",
				zap.String("recommendation_id", out[i].ID),
				zap.Error(err),
			)
			continue
		}
		out[i].Rationale = &text
	}

	if failed > 0 {
		return out, fmt.Errorf("%d of %d narratives unavailable: %v: %w",
			failed, len(out), firstErr, domain.ErrAnalysisUnavailable)
	}
	return out, nil
}

func (e *Enricher) generate(ctx context.Context, rec domain.Recommendation) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	text, err := e.generator.Generate(callCtx, rec)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("narrative timed out after %s: %w", e.timeout, err)
		}
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("empty narrative")
	}
	return text, nil
}
