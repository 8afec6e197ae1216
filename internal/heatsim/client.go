package heatsim

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

	"github.com/okian/wodboard/internal/domain/model"
	"github.com/okian/wodboard/internal/domain/types"
)

const (
	maxAttempts  = 6
	retryBase    = 20 * time.Millisecond
	retryCeiling = time.Second
)

var errRetryable = errors.New("retryable response")

// Ack is the service answer to a judge command.
type Ack struct {
	Record    *model.ScoreRecord `json:"record"`
	Applied   bool               `json:"applied"`
	Duplicate bool               `json:"duplicate"`
}

// Client talks to the scoring API as a judge tablet would.
type Client struct {
	base  string
	judge string
	http  *http.Client
}

// NewClient creates a client for base that signs commands as judge.
func NewClient(base, judge string, timeout time.Duration) *Client {
	return &Client{base: base, judge: judge, http: &http.Client{Timeout: timeout}}
}

// Health checks that the service answers /healthz.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.send(ctx, http.MethodGet, "/healthz", nil, "")
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	return nil
}

// Command posts body to path with an idempotency key. Busy and unavailable
// answers are retried with the same key, so a retry never double counts.
func (c *Client) Command(ctx context.Context, path string, body any, key string) (Ack, error) {
	var ack Ack
	err := c.postJSON(ctx, path, body, key, &ack)
	return ack, err
}

// Leaderboard fetches the current board of workoutID in category.
func (c *Client) Leaderboard(ctx context.Context, workoutID string, category model.Category) (types.Board, error) {
	var b types.Board
	resp, err := c.send(ctx, http.MethodGet, fmt.Sprintf("/workouts/%s/leaderboard?category=%s", workoutID, category), nil, "")
	if err != nil {
		return b, err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(&b); err != nil {
		return b, fmt.Errorf("decode leaderboard: %w", err)
	}
	return b, nil
}

// Export downloads the xlsx board of workoutID into w.
func (c *Client) Export(ctx context.Context, workoutID string, category model.Category, w io.Writer) error {
	resp, err := c.send(ctx, http.MethodGet, fmt.Sprintf("/workouts/%s/leaderboard.xlsx?category=%s", workoutID, category), nil, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("download workbook: %w", err)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, path string, body any, key string, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	resp, err := c.send(ctx, http.MethodPost, path, data, key)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// send runs one request with retries and returns a 2xx response.
func (c *Client) send(ctx context.Context, method, path string, body []byte, key string) (*http.Response, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryBase
	b.MaxInterval = retryCeiling

	var resp *http.Response
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, method, c.base+path, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.judge != "" {
			req.Header.Set("X-Judge-ID", c.judge)
		}
		if key != "" {
			req.Header.Set("Idempotency-Key", key)
		}
		r, err := c.http.Do(req)
		if err != nil {
			return err
		}
		switch {
		case r.StatusCode < http.StatusMultipleChoices:
			resp = r
			return nil
		case r.StatusCode == http.StatusConflict, r.StatusCode >= http.StatusInternalServerError:
			_ = r.Body.Close()
			return fmt.Errorf("%w: %s %s: %d", errRetryable, method, path, r.StatusCode)
		default:
			msg, _ := io.ReadAll(io.LimitReader(r.Body, 512))
			_ = r.Body.Close()
			return backoff.Permanent(fmt.Errorf("%s %s: %d %s", method, path, r.StatusCode, bytes.TrimSpace(msg)))
		}
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(b, maxAttempts-1), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, err
	}
	return resp, nil
}
