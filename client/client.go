package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	goRecovery "github.com/MrEthical07/goRecovery"
	"go.uber.org/zap"
)

const (
	defaultTimeout  = 30 * time.Second
	maxResponseBody = 1 << 20
)

var _ goRecovery.Transport = (*Client)(nil)

// Client calls the recovery proxy routes. It implements goRecovery.Transport.
type Client struct {
	env    Environment
	http   *http.Client
	logger *zap.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client. The caller's client keeps
// its own cookie jar, if any.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithLogger sets the debug logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New returns a Client reading base URL and locale from env on every call.
// The default HTTP client keeps cookies so the proxy's flow cookie is sent
// back on later steps.
func New(env Environment, opts ...Option) (*Client, error) {
	if env == nil {
		return nil, errors.New("client environment required")
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	c := &Client{
		env:    env,
		http:   &http.Client{Timeout: defaultTimeout, Jar: jar},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

func (c *Client) ForgotPassword(ctx context.Context, req goRecovery.ForgotPasswordRequest) (goRecovery.TokenResponse, error) {
	var out goRecovery.TokenResponse
	err := c.post(ctx, goRecovery.StepChooseMethod, goRecovery.RouteForgotPassword, req.Payload, &out)
	return out, err
}

func (c *Client) VerifyOTP(ctx context.Context, req goRecovery.VerifyOTPRequest) (goRecovery.TokenResponse, error) {
	var out goRecovery.TokenResponse

	route := goRecovery.VerifyRoute(req.Method)
	if route == "" {
		return out, &goRecovery.APIError{
			Step:    goRecovery.StepAwaitingOTP,
			Message: goRecovery.DefaultFailureMessage(goRecovery.StepAwaitingOTP),
			Err:     fmt.Errorf("unknown recovery method %q", req.Method),
		}
	}

	err := c.post(ctx, goRecovery.StepAwaitingOTP, route, req.Payload, &out)
	return out, err
}

func (c *Client) ResetPassword(ctx context.Context, req goRecovery.ResetPasswordRequest) (goRecovery.MessageResponse, error) {
	var out goRecovery.MessageResponse
	err := c.post(ctx, goRecovery.StepAwaitingNewPassword, goRecovery.RouteResetPassword, req, &out)
	return out, err
}

func (c *Client) post(ctx context.Context, step goRecovery.Step, route string, body, out any) error {
	fallback := goRecovery.DefaultFailureMessage(step)

	payload, err := json.Marshal(body)
	if err != nil {
		return &goRecovery.APIError{Step: step, Message: fallback, Err: err}
	}

	url := strings.TrimRight(c.env.BaseURL(), "/") + route
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return &goRecovery.APIError{Step: step, Message: fallback, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if locale := c.env.Locale(); locale != "" {
		req.Header.Set("Accept-Language", locale)
	}
	if id := goRecovery.RequestID(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("recovery call failed",
			zap.String("route", route),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return &goRecovery.APIError{Step: step, Message: fallback, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return &goRecovery.APIError{Step: step, Status: resp.StatusCode, Message: fallback, Err: err}
	}

	c.logger.Debug("recovery call",
		zap.String("route", route),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := serverMessage(raw)
		if msg == "" {
			msg = fallback
		}
		return &goRecovery.APIError{Step: step, Status: resp.StatusCode, Message: msg}
	}

	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &goRecovery.APIError{Step: step, Status: resp.StatusCode, Message: fallback, Err: err}
	}

	return nil
}

// serverMessage extracts a string "message" field. Arrays of messages are
// joined with ", ".
func serverMessage(raw []byte) string {
	var body struct {
		Message json.RawMessage `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err != nil || len(body.Message) == 0 {
		return ""
	}

	var single string
	if err := json.Unmarshal(body.Message, &single); err == nil {
		return strings.TrimSpace(single)
	}

	var many []string
	if err := json.Unmarshal(body.Message, &many); err == nil {
		return strings.TrimSpace(strings.Join(many, ", "))
	}

	return ""
}
