// Package reminders is a client for the reminders REST API.
package reminders

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tazhate/remindbot/internal/domain"
)

const (
	DefaultTimeout  = 30 * time.Second
	DefaultAttempts = 3
	DefaultBackoff  = 500 * time.Millisecond
)

// Client talks to the reminders API on behalf of one user.
type Client struct {
	baseURL    string
	auth       string
	httpClient *http.Client
	log        *zap.Logger
	attempts   int
	backoff    time.Duration
}

type Option func(*Client)

// WithHTTPClient replaces the default http client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithLogger(log *zap.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithRetry sets how many times idempotent reads are attempted and the base
// delay between attempts. The delay grows linearly.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(c *Client) {
		if attempts < 1 {
			attempts = 1
		}
		c.attempts = attempts
		c.backoff = backoff
	}
}

// NewClient creates a client for baseURL (including the version prefix, e.g.
// https://host/v1). auth is the Telegram init data; a value that already
// carries a scheme is sent unchanged.
func NewClient(baseURL, auth string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		auth:    authHeader(auth),
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		log:      zap.NewNop(),
		attempts: DefaultAttempts,
		backoff:  DefaultBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func authHeader(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	if scheme, _, ok := strings.Cut(v, " "); ok && (strings.EqualFold(scheme, "tma") || strings.EqualFold(scheme, "bearer")) {
		return v
	}
	return "tma " + v
}

// IsConfigured returns true if the client has a base URL
func (c *Client) IsConfigured() bool {
	return c.baseURL != ""
}

// WithAuth returns a copy of c that authenticates as another user.
func (c *Client) WithAuth(auth string) *Client {
	cp := *c
	cp.auth = authHeader(auth)
	return &cp
}

// List returns a page of the user's reminders.
func (c *Client) List(ctx context.Context, q domain.ListQuery) (*domain.PagedReminders, error) {
	q = q.Normalized()
	params := url.Values{}
	params.Set("page", strconv.Itoa(q.Page))
	params.Set("pageSize", strconv.Itoa(q.PageSize))
	params.Set("sortBy", string(q.Sort.SortBy))
	params.Set("order", string(q.Sort.Order))

	var page domain.PagedReminders
	if err := c.get(ctx, "/reminders?"+params.Encode(), &page); err != nil {
		return nil, fmt.Errorf("list reminders: %w", err)
	}
	return &page, nil
}

// Get returns one reminder.
func (c *Client) Get(ctx context.Context, id uuid.UUID) (*domain.ReminderResponse, error) {
	var r domain.ReminderResponse
	if err := c.get(ctx, "/reminders/"+id.String(), &r); err != nil {
		return nil, fmt.Errorf("get reminder %s: %w", id, err)
	}
	return &r, nil
}

// Create creates a reminder. The returned id is uuid.Nil when the server
// answers without a body.
func (c *Client) Create(ctx context.Context, req domain.CreateReminderRequest) (uuid.UUID, error) {
	var created domain.ReminderCreated
	if err := c.do(ctx, http.MethodPost, "/reminders", req, &created); err != nil {
		return uuid.Nil, fmt.Errorf("create reminder: %w", err)
	}
	return created.ReminderID, nil
}

// Update applies text and schedule operations. The result is nil when the
// server answers without a body.
func (c *Client) Update(ctx context.Context, id uuid.UUID, req domain.UpdateReminderRequest) (*domain.UpdateResult, error) {
	var res *domain.UpdateResult
	if err := c.do(ctx, http.MethodPatch, "/reminders/"+id.String(), req, &res); err != nil {
		return nil, fmt.Errorf("update reminder %s: %w", id, err)
	}
	return res, nil
}

// Delete removes a reminder.
func (c *Client) Delete(ctx context.Context, id uuid.UUID) error {
	if err := c.do(ctx, http.MethodDelete, "/reminders/"+id.String(), nil, nil); err != nil {
		return fmt.Errorf("delete reminder %s: %w", id, err)
	}
	return nil
}

// ChangeStatus pauses, activates or converts a reminder to a draft.
func (c *Client) ChangeStatus(ctx context.Context, id uuid.UUID, status domain.State) (*domain.StatusResult, error) {
	var res *domain.StatusResult
	body := domain.ChangeStatusRequest{Status: status}
	if err := c.do(ctx, http.MethodPatch, "/reminders/"+id.String()+"/status", body, &res); err != nil {
		return nil, fmt.Errorf("change reminder %s status to %s: %w", id, status, err)
	}
	return res, nil
}

// get retries recoverable failures.
func (c *Client) get(ctx context.Context, path string, result any) error {
	var err error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		err = c.do(ctx, http.MethodGet, path, nil, result)
		if err == nil || !IsRecoverable(err) || attempt == c.attempts {
			return err
		}
		c.log.Debug("retrying request",
			zap.String("path", path),
			zap.Int("attempt", attempt),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.backoff * time.Duration(attempt)):
		}
	}
	return err
}

// do performs one request. A 2xx answer with an empty body leaves result
// untouched.
func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if c.auth != "" {
		req.Header.Set("Authorization", c.auth)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return networkError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return networkError(fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode >= 400 {
		var p problem
		if len(data) > 0 && json.Unmarshal(data, &p) == nil {
			return newAPIError(resp.StatusCode, &p)
		}
		e := newAPIError(resp.StatusCode, nil)
		if msg := strings.TrimSpace(string(data)); msg != "" {
			e.Message = msg
		}
		return e
	}

	if result == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, result); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	return nil
}
