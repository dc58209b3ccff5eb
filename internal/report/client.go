package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ent0n29/prepvoice/internal/reliability"
)

type ClientConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// StatusError is a non-2xx response from the sessions API.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("sessions API HTTP %d: %s", e.StatusCode, e.Body)
}

// Client talks to the sessions API: report polling, explicit completion and notes.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *zap.Logger
}

func NewClient(cfg ClientConfig, logger *zap.Logger) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("sessions API base URL is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid sessions API base URL: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: base,
		token:   strings.TrimSpace(cfg.Token),
		http:    &http.Client{Timeout: cfg.Timeout},
		logger:  logger,
	}, nil
}

// Fetch polls the report. It returns (nil, nil) while the report is not ready yet and
// ErrInvalidReport when a report is present but structurally empty.
func (c *Client) Fetch(ctx context.Context, sessionID string) (*FinalReport, error) {
	var out struct {
		Success bool            `json:"success"`
		Report  json.RawMessage `json:"report"`
	}
	if err := c.do(ctx, http.MethodGet, sessionID, "report", nil, &out); err != nil {
		return nil, err
	}
	if !out.Success {
		return nil, nil
	}
	return Decode(out.Report)
}

// Complete marks the session complete over HTTP.
func (c *Client) Complete(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodPut, sessionID, "complete", nil, nil)
}

// SaveNotes attaches free-form notes to the session.
func (c *Client) SaveNotes(ctx context.Context, sessionID, notes string) error {
	return c.do(ctx, http.MethodPost, sessionID, "notes", map[string]string{"notes": notes}, nil)
}

func (c *Client) do(ctx context.Context, method, sessionID, action string, in, out any) error {
	if strings.TrimSpace(sessionID) == "" {
		return errors.New("session id is required")
	}
	endpoint := c.baseURL + "/sessions/" + url.PathEscape(sessionID) + "/" + action

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, action, err)
	}
	defer resp.Body.Close()
	c.logger.Debug("sessions API call",
		zap.String("method", method),
		zap.String("action", action),
		zap.String("session_id", sessionID),
		zap.Int("status", resp.StatusCode))

	b, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}
	if !reliability.IsSuccessHTTPStatus(resp.StatusCode) {
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if out == nil || len(bytes.TrimSpace(b)) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("decode %s response: %w", action, err)
	}
	return nil
}
