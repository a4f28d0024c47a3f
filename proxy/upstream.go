package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Upstream paths on the backend, relative to Config.BackendURL.
const (
	UpstreamForgotPassword = "/auth/forgot-password"
	UpstreamVerifyEmail    = "/auth/verify-email"
	UpstreamVerifyPhone    = "/auth/verify-phone"
	UpstreamResetPassword  = "/auth/reset-password"
)

const maxUpstreamBody = 1 << 20

// ErrUpstreamUnavailable wraps transport failures talking to the backend.
var ErrUpstreamUnavailable = errors.New("recovery upstream unavailable")

var emptyObject = []byte("{}")

// UpstreamResponse is a backend reply with its body already normalized to a
// JSON document.
type UpstreamResponse struct {
	Status int
	Body   []byte
}

// Upstream forwards validated bodies to the backend.
type Upstream struct {
	baseURL string
	langID  string
	http    *http.Client
}

func NewUpstream(baseURL, langID string, client *http.Client) *Upstream {
	if client == nil {
		client = http.DefaultClient
	}
	if langID == "" {
		langID = DefaultLangID
	}
	return &Upstream{
		baseURL: strings.TrimRight(baseURL, "/"),
		langID:  langID,
		http:    client,
	}
}

// Configured reports whether a backend base URL was supplied.
func (u *Upstream) Configured() bool {
	return u != nil && u.baseURL != ""
}

// Post sends payload as JSON to path and returns the upstream status with a
// body that is always valid JSON: an empty or unparseable upstream body
// becomes {}.
func (u *Upstream) Post(ctx context.Context, path string, payload any, requestID string) (UpstreamResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return UpstreamResponse{}, fmt.Errorf("encode upstream body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return UpstreamResponse{}, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("lang-id", u.langID)
	if requestID != "" {
		req.Header.Set("X-Request-ID", requestID)
	}

	resp, err := u.http.Do(req)
	if err != nil {
		return UpstreamResponse{}, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBody))
	if err != nil {
		return UpstreamResponse{}, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}

	return UpstreamResponse{Status: resp.StatusCode, Body: normalizeBody(raw)}, nil
}

func normalizeBody(raw []byte) []byte {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || !json.Valid(raw) {
		return emptyObject
	}
	return raw
}

// OK reports a 2xx status.
func (r UpstreamResponse) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// tokenFields reads the optional "token" and "otpRef" fields of a success body.
func (r UpstreamResponse) tokenFields() (token, otpRef string) {
	var fields struct {
		Token  string `json:"token"`
		OTPRef string `json:"otpRef"`
	}
	if err := json.Unmarshal(r.Body, &fields); err != nil {
		return "", ""
	}
	return fields.Token, fields.OTPRef
}
