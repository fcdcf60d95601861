package narrative

import (
	"context"
	"fmt"
	"time"

	"sahtee-exposure/internal/domain"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// GenerateRequest 文本生成请求
type GenerateRequest struct {
	Prompt         string                `json:"prompt"`
	Recommendation domain.Recommendation `json:"recommendation"`
	Language       string                `json:"language"`
}

// GenerateResponse 文本生成响应
type GenerateResponse struct {
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

// Client 外部文本生成服务客户端（实现 analysis.NarrativeGenerator）
type Client struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewClient 创建客户端；超时由调用方 context 控制，这里只设一个上限
func NewClient(baseURL, apiKey string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(1 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if apiKey != "" {
		client.SetAuthToken(apiKey)
	}

	return &Client{
		httpClient: client,
		logger:     logger,
	}
}

// Generate asks the backend for a short rationale for rec.
func (c *Client) Generate(ctx context.Context, rec domain.Recommendation) (string, error) {
	request := GenerateRequest{
		Prompt:         buildPrompt(rec),
		Recommendation: rec,
		Language:       "fr",
	}

	var response GenerateResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(request).
		SetResult(&response).
		SetError(&response).
		Post("/v1/generate")
	if err != nil {
		c.logger.Debug("Narrative API call failed",
			zap.String("recommendation_id", rec.ID),
			zap.Error(err),
		)
		return "", fmt.Errorf("failed to call narrative API: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("narrative API error: status %d: %s", resp.StatusCode(), response.Error)
	}
	if response.Text == "" {
		return "", fmt.Errorf("narrative API returned empty text")
	}
	return response.Text, nil
}

func buildPrompt(rec domain.Recommendation) string {
	return fmt.Sprintf(
		"Rédige en deux phrases la justification d'une recommandation de type %s (priorité %s, impact attendu %s, confiance %.0f%%) : %s. %s",
		rec.Type, rec.Priority, rec.ExpectedImpact, rec.Confidence*100, rec.Title, rec.Description,
	)
}
