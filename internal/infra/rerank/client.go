package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/jinford/doc-rag/internal/core/retrieve"
	"github.com/jinford/doc-rag/pkg/apperr"
)

const (
	// DefaultModel はリランキングに使用するデフォルトモデル
	DefaultModel = "rerank-v3.5"

	defaultTimeout    = 10 * time.Second
	defaultMaxRetries = 3
)

// Client はHTTP APIベースのリランカークライアント。
// 一過性の障害（5xx・ネットワークエラー）は指数バックオフでリトライし、
// それでも失敗した場合は ProviderUnavailableError として返す。
type Client struct {
	endpoint   string
	apiKey     string
	model      string
	httpClient *http.Client
	maxRetries uint64
}

var _ retrieve.Reranker = (*Client)(nil)

type ClientOption func(*Client)

// WithModel はリランキングモデルを設定する
func WithModel(model string) ClientOption {
	return func(c *Client) {
		c.model = model
	}
}

// WithHTTPClient はHTTPクライアントを差し替える
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithMaxRetries はリトライ回数の上限を設定する
func WithMaxRetries(n uint64) ClientOption {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// NewClient は新しいリランカークライアントを作成する
func NewClient(endpoint, apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		endpoint:   endpoint,
		apiKey:     apiKey,
		model:      DefaultModel,
		httpClient: &http.Client{Timeout: defaultTimeout},
		maxRetries: defaultMaxRetries,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// Rerank はクエリとドキュメントの組を関連度順に並べ替え、
// 元のスライスに対するインデックス列を返す。
func (c *Client) Rerank(ctx context.Context, pairs []retrieve.RerankPair, topK int) ([]int, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	if topK <= 0 || topK > len(pairs) {
		topK = len(pairs)
	}

	docs := make([]string, len(pairs))
	for i, pair := range pairs {
		docs[i] = pair.Document
	}

	body, err := json.Marshal(rerankRequest{
		Model:     c.model,
		Query:     pairs[0].Query,
		Documents: docs,
		TopN:      topK,
	})
	if err != nil {
		return nil, fmt.Errorf("リランクリクエストのエンコードに失敗しました: %w", err)
	}

	var resp rerankResponse
	operation := func() error {
		return c.doRequest(ctx, body, &resp)
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, classifyError(err)
	}

	indices := make([]int, 0, len(resp.Results))
	for _, result := range resp.Results {
		if result.Index < 0 || result.Index >= len(pairs) {
			return nil, apperr.NewProviderUnavailable("rerank", apperr.ReasonOther,
				fmt.Errorf("out of range index in rerank response: %d", result.Index))
		}
		indices = append(indices, result.Index)
	}
	return indices, nil
}

// doRequest は単発のHTTPリクエストを実行する。
// 4xx はリトライしても無駄なので backoff.Permanent で打ち切る。
func (c *Client) doRequest(ctx context.Context, body []byte, out *rerankResponse) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer httpResp.Body.Close()

	switch {
	case httpResp.StatusCode == http.StatusOK:
		if err := json.NewDecoder(httpResp.Body).Decode(out); err != nil {
			return backoff.Permanent(fmt.Errorf("リランクレスポンスのデコードに失敗しました: %w", err))
		}
		return nil
	case httpResp.StatusCode == http.StatusUnauthorized || httpResp.StatusCode == http.StatusForbidden:
		return backoff.Permanent(&httpStatusError{status: httpResp.StatusCode})
	case httpResp.StatusCode == http.StatusTooManyRequests:
		return &httpStatusError{status: httpResp.StatusCode}
	case httpResp.StatusCode >= 500:
		_, _ = io.Copy(io.Discard, httpResp.Body)
		return &httpStatusError{status: httpResp.StatusCode}
	default:
		return backoff.Permanent(&httpStatusError{status: httpResp.StatusCode})
	}
}

type httpStatusError struct {
	status int
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("rerank API returned status %d", e.status)
}

// classifyError はリトライ上限到達後のエラーを障害分類付きで包む
func classifyError(err error) error {
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		switch statusErr.status {
		case http.StatusUnauthorized, http.StatusForbidden:
			return apperr.NewProviderUnavailable("rerank", apperr.ReasonAuth, err)
		case http.StatusTooManyRequests:
			return apperr.NewProviderUnavailable("rerank", apperr.ReasonRateLimit, err)
		}
		return apperr.NewProviderUnavailable("rerank", apperr.ReasonOther, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.NewProviderUnavailable("rerank", apperr.ReasonTimeout, err)
	}
	return apperr.NewProviderUnavailable("rerank", apperr.ReasonOther, err)
}
