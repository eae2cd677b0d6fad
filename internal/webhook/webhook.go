// Package webhook はジョブ終了時のコールバック通知を提供します。
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/yourusername/pixel-forge/internal/jobs"
)

// Payload はコールバックPOSTの本文です。
// ResultURL はジョブが完了した場合のみ設定され、それ以外では null になります。
type Payload struct {
	JobID     string  `json:"job_id"`
	Status    string  `json:"status"`
	ResultURL *string `json:"result_url"`
}

// Client は登録されたコールバックURLへ通知を送信します。
// 送信は終了状態ごとに最大1回で、失敗してもリトライしません。
// 配信を保証する必要がある場合はステータスAPIをポーリングしてください。
type Client struct {
	httpClient    *http.Client
	resultBaseURL string
	logger        *log.Logger
}

// NewClient は Client を作成します。
// resultBaseURL が空の場合、result_url は相対パスになります。
func NewClient(timeout time.Duration, resultBaseURL string, logger *log.Logger) *Client {
	return &Client{
		httpClient:    &http.Client{Timeout: timeout},
		resultBaseURL: resultBaseURL,
		logger:        logger,
	}
}

// Notify はジョブの終了状態を callback_url へ通知します。
// callback_url が未登録の場合は何もしません。
// 送信失敗はログに記録されるだけで、ジョブ状態には影響しません。
func (c *Client) Notify(ctx context.Context, record *jobs.Record) {
	if record == nil || record.CallbackURL == "" {
		return
	}

	payload := Payload{
		JobID:  record.JobID,
		Status: string(record.Status),
	}
	if record.Status == jobs.StatusCompleted {
		resultURL := c.resultURL(record.JobID)
		payload.ResultURL = &resultURL
	}

	body, err := json.Marshal(payload)
	if err != nil {
		c.logf("failed to encode webhook payload job=%s: %v", record.JobID, err)
		return
	}

	if err := c.post(ctx, record.CallbackURL, body); err != nil {
		c.logf("failed to deliver webhook job=%s url=%s: %v", record.JobID, record.CallbackURL, err)
		return
	}
	c.logf("webhook delivered job=%s status=%s", record.JobID, record.Status)
}

func (c *Client) post(ctx context.Context, callbackURL string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, callbackURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("non-2xx status: %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) resultURL(jobID string) string {
	if c.resultBaseURL == "" {
		return "/download/" + jobID
	}
	return strings.TrimRight(c.resultBaseURL, "/") + "/download/" + jobID
}

// ValidateURL はコールバックURLとして登録できる形式かを検証します。
func ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}

func (c *Client) logf(format string, args ...any) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
	}
}
