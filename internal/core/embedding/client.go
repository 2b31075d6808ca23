// Package embedding 文字轉向量的外部服務客戶端與快取
package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"recipe-matcher/internal/pkg/common"
	"recipe-matcher/internal/pkg/metrics"
)

// TaskHint 告訴嵌入服務這段文字的用途；部分模型對查詢與文件使用不對稱的表示
type TaskHint string

const (
	// TaskQuery 即時查詢
	TaskQuery TaskHint = "RETRIEVAL_QUERY"
	// TaskDocument 存起來供日後查詢
	TaskDocument TaskHint = "RETRIEVAL_DOCUMENT"
)

// Embedder 文字轉向量
type Embedder interface {
	Embed(ctx context.Context, text string, hint TaskHint) ([]float32, error)
}

// Options 客戶端設定
type Options struct {
	BaseURL           string
	APIKey            string
	Model             string
	Dimensions        int
	Timeout           time.Duration
	MaxRetries        int
	RetryWait         time.Duration
	RetryMaxWait      time.Duration
	RequestsPerSecond float64
	Burst             int
}

// Client 嵌入服務 HTTP 客戶端
type Client struct {
	http    *resty.Client
	opts    Options
	limiter *rate.Limiter
}

type embedRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	TaskType   TaskHint `json:"task_type,omitempty"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Model string `json:"model"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// NewClient 創建嵌入客戶端。
// 網路錯誤、429 與 5xx 會以指數退避重試，最多 MaxRetries 次。
func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.RetryWait <= 0 {
		opts.RetryWait = 200 * time.Millisecond
	}
	if opts.RetryMaxWait < opts.RetryWait {
		opts.RetryMaxWait = opts.RetryWait * 10
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
		SetTimeout(opts.Timeout).
		SetHeader("Content-Type", "application/json").
		SetRetryCount(opts.MaxRetries).
		SetRetryWaitTime(opts.RetryWait).
		SetRetryMaxWaitTime(opts.RetryMaxWait).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return !errors.Is(err, context.Canceled)
			}
			return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= http.StatusInternalServerError
		})
	if opts.APIKey != "" {
		client.SetAuthToken(opts.APIKey)
	}

	c := &Client{http: client, opts: opts}
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return c
}

// Model 模型名稱
func (c *Client) Model() string { return c.opts.Model }

// Embed 取得單一文字的向量；任何失敗都回傳 EmbeddingUnavailable，不會回傳零向量
func (c *Client) Embed(ctx context.Context, text string, hint TaskHint) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, common.NewInvalidInputError("text to embed is empty")
	}

	start := time.Now()
	vec, err := c.embed(ctx, text, hint)
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.EmbeddingLatency.WithLabelValues(string(hint), status).Observe(metrics.Since(start))
	common.LogEmbeddingCall(string(hint), time.Since(start), err)
	if err != nil {
		return nil, common.NewEmbeddingUnavailableError(err)
	}
	return vec, nil
}

func (c *Client) embed(ctx context.Context, text string, hint TaskHint) ([]float32, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	var out embedResponse
	var apiErr apiError
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(embedRequest{
			Model:      c.opts.Model,
			Input:      []string{text},
			TaskType:   hint,
			Dimensions: c.opts.Dimensions,
		}).
		SetResult(&out).
		SetError(&apiErr).
		Post("/embeddings")
	if err != nil {
		return nil, fmt.Errorf("failed to send embedding request: %w", err)
	}
	if resp.IsError() {
		msg := apiErr.Error.Message
		if msg == "" {
			msg = resp.Status()
		}
		common.LogDebug("嵌入服務回傳錯誤",
			zap.Int("status", resp.StatusCode()),
			zap.String("message", msg),
		)
		return nil, fmt.Errorf("embedding service returned %d: %s", resp.StatusCode(), msg)
	}

	if len(out.Data) == 0 {
		return nil, errors.New("embedding response has no data")
	}
	vec := out.Data[0].Embedding
	if err := c.validate(vec); err != nil {
		return nil, err
	}
	return vec, nil
}

func (c *Client) validate(vec []float32) error {
	if len(vec) == 0 {
		return errors.New("embedding is empty")
	}
	if c.opts.Dimensions > 0 && len(vec) != c.opts.Dimensions {
		return fmt.Errorf("embedding has %d dimensions, want %d", len(vec), c.opts.Dimensions)
	}
	zero := true
	for _, f := range vec {
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			return errors.New("embedding contains non-finite values")
		}
		if f != 0 {
			zero = false
		}
	}
	if zero {
		return errors.New("embedding is a zero vector")
	}
	return nil
}
