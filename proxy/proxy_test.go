package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	goRecovery "github.com/MrEthical07/goRecovery"
	"github.com/MrEthical07/goRecovery/flowtoken"
	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type upstreamCall struct {
	Path      string
	LangID    string
	RequestID string
	Body      map[string]string
}

type upstreamReply struct {
	status int
	body   string
}

// fakeBackend records every call and answers from a per-path table.
type fakeBackend struct {
	mu      sync.Mutex
	calls   []upstreamCall
	replies map[string]upstreamReply
	srv     *httptest.Server
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	b := &fakeBackend{
		replies: map[string]upstreamReply{
			UpstreamForgotPassword: {200, `{"token":"tok1","otpRef":"ref1","message":"OTP sent"}`},
			UpstreamVerifyEmail:    {200, `{"token":"tok2","statusCode":200}`},
			UpstreamVerifyPhone:    {200, `{"token":"tok2","statusCode":200}`},
			UpstreamResetPassword:  {200, `{"message":"Password updated"}`},
		},
	}
	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]string
		_ = json.Unmarshal(raw, &body)

		b.mu.Lock()
		b.calls = append(b.calls, upstreamCall{
			Path:      r.URL.Path,
			LangID:    r.Header.Get("lang-id"),
			RequestID: r.Header.Get("X-Request-ID"),
			Body:      body,
		})
		reply := b.replies[r.URL.Path]
		b.mu.Unlock()

		w.WriteHeader(reply.status)
		_, _ = w.Write([]byte(reply.body))
	}))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *fakeBackend) reply(path string, status int, body string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.replies[path] = upstreamReply{status, body}
}

func (b *fakeBackend) recorded() []upstreamCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]upstreamCall, len(b.calls))
	copy(out, b.calls)
	return out
}

type proxyHarness struct {
	router   *gin.Engine
	backend  *fakeBackend
	mr       *miniredis.Miniredis
	metrics  *goRecovery.Metrics
	audit    *goRecovery.ChannelSink
	sessions *RedisSessionStore
}

type harnessOption func(*Config, *Deps, *proxyHarness)

func withLimiter(cfg LimiterConfig) harnessOption {
	return func(_ *Config, d *Deps, h *proxyHarness) {
		d.Limiter = NewRedisLimiter(redis.NewClient(&redis.Options{Addr: h.mr.Addr()}), cfg)
	}
}

func withoutContinuity() harnessOption {
	return func(_ *Config, d *Deps, _ *proxyHarness) {
		d.Sessions = nil
		d.Tokens = nil
	}
}

func newHarness(t *testing.T, opts ...harnessOption) *proxyHarness {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	tokens, err := flowtoken.NewManager(flowtoken.Config{
		TTL:           15 * time.Minute,
		SigningMethod: flowtoken.MethodHS256,
		PrivateKey:    []byte(strings.Repeat("k", 32)),
		Issuer:        "proxy-test",
	})
	require.NoError(t, err)

	h := &proxyHarness{
		backend:  newFakeBackend(t),
		mr:       mr,
		metrics:  goRecovery.NewMetrics(goRecovery.MetricsConfig{Enabled: true, EnableLatencyHistograms: true}),
		audit:    goRecovery.NewChannelSink(256),
		sessions: NewRedisSessionStore(rdb, "arf"),
	}

	cfg := DefaultConfig()
	cfg.BackendURL = h.backend.srv.URL + "/"
	deps := Deps{
		Sessions: h.sessions,
		Tokens:   tokens,
		Audit:    h.audit,
		Metrics:  h.metrics,
	}
	for _, opt := range opts {
		opt(&cfg, &deps, h)
	}

	h.router, err = NewRouter(cfg, deps)
	require.NoError(t, err)
	return h
}

func (h *proxyHarness) post(path, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "192.0.2.1:4000"
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func flowCookie(t *testing.T, w *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == DefaultCookieName {
			return c
		}
	}
	t.Fatalf("expected %s cookie in %v", DefaultCookieName, w.Header().Values("Set-Cookie"))
	return nil
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), "body: %s", w.Body.String())
	return out
}

func TestForgotPasswordForwardsNormalizedPhone(t *testing.T) {
	h := newHarness(t)

	w := h.post(goRecovery.RouteForgotPassword, `{"phone":" +66812345678 "}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"token":"tok1","otpRef":"ref1","message":"OTP sent"}`, w.Body.String())

	calls := h.backend.recorded()
	require.Len(t, calls, 1)
	assert.Equal(t, UpstreamForgotPassword, calls[0].Path)
	assert.Equal(t, map[string]string{"phone": "0812345678"}, calls[0].Body)
	assert.Equal(t, DefaultLangID, calls[0].LangID)
	assert.NotEmpty(t, calls[0].RequestID)
	assert.Equal(t, calls[0].RequestID, w.Header().Get("X-Request-ID"))

	c := flowCookie(t, w)
	assert.True(t, c.HttpOnly)
	assert.Equal(t, "/api/auth", c.Path)
	assert.Equal(t, uint64(1), h.metrics.Value(goRecovery.MetricOTPRequestSuccess))
}

func TestForgotPasswordPrefersEmail(t *testing.T) {
	h := newHarness(t)

	w := h.post(goRecovery.RouteForgotPassword, `{"phone":"0812345678","email":"admin@example.com"}`)
	require.Equal(t, http.StatusOK, w.Code)

	calls := h.backend.recorded()
	require.Len(t, calls, 1)
	assert.Equal(t, map[string]string{"email": "admin@example.com"}, calls[0].Body)
}

func TestRejectsBeforeUpstream(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		body       string
		wantStatus int
		wantMsg    string
	}{
		{name: "malformed json", path: goRecovery.RouteForgotPassword, body: `{"phone":`, wantStatus: 400, wantMsg: "Invalid JSON body"},
		{name: "not an object", path: goRecovery.RouteResetPassword, body: `[1,2]`, wantStatus: 400, wantMsg: "Invalid JSON body"},
		{name: "empty body", path: goRecovery.RouteVerifyPhone, body: ``, wantStatus: 400, wantMsg: "Invalid JSON body"},
		{name: "too large", path: goRecovery.RouteForgotPassword, body: `{"phone":"` + strings.Repeat("1", 70<<10) + `"}`, wantStatus: 413, wantMsg: "Request body too large"},
		{name: "empty contact", path: goRecovery.RouteForgotPassword, body: `{}`, wantStatus: 422, wantMsg: "Phone number is required"},
		{name: "bad email", path: goRecovery.RouteForgotPassword, body: `{"email":"nope"}`, wantStatus: 422, wantMsg: "Invalid email address"},
		{name: "short otp", path: goRecovery.RouteVerifyEmail, body: `{"email":"a@example.com","otp":"12","token":"t"}`, wantStatus: 422, wantMsg: "OTP must be at least 4 characters"},
		{name: "short password", path: goRecovery.RouteResetPassword, body: `{"token":"t","newPassword":"abc"}`, wantStatus: 422, wantMsg: "Password must be at least 6 characters"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			w := h.post(tc.path, tc.body)

			require.Equal(t, tc.wantStatus, w.Code, w.Body.String())
			assert.Equal(t, tc.wantMsg, decodeBody(t, w)["message"])
			assert.Empty(t, h.backend.recorded())
		})
	}
}

func TestValidationErrorListsIssues(t *testing.T) {
	h := newHarness(t)

	w := h.post(goRecovery.RouteVerifyPhone, `{"otp":"1"}`)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var body struct {
		Message string                  `json:"message"`
		Errors  []goRecovery.FieldIssue `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "Phone number is required", body.Message)
	require.Len(t, body.Errors, 3)
	assert.Equal(t, "otp", body.Errors[1].Field)
	assert.Equal(t, uint64(1), h.metrics.Value(goRecovery.MetricValidationRejected))
}

func TestBackendNotConfigured(t *testing.T) {
	h := newHarness(t, func(c *Config, _ *Deps, _ *proxyHarness) { c.BackendURL = "" })

	w := h.post(goRecovery.RouteForgotPassword, `{"email":"admin@example.com"}`)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Backend URL not configured", decodeBody(t, w)["message"])

	// Validation still runs first.
	w = h.post(goRecovery.RouteForgotPassword, `{"email":"bad"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestUpstreamUnavailable(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	h := newHarness(t, func(c *Config, _ *Deps, _ *proxyHarness) { c.BackendURL = deadURL })

	w := h.post(goRecovery.RouteForgotPassword, `{"email":"admin@example.com"}`)
	require.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "Upstream unavailable", decodeBody(t, w)["message"])
	assert.Equal(t, uint64(1), h.metrics.Value(goRecovery.MetricProxyUpstreamError))
	assert.Equal(t, uint64(1), h.metrics.Value(goRecovery.MetricOTPRequestFailure))
}

func TestUpstreamStatusAndBodyRelayed(t *testing.T) {
	h := newHarness(t)

	h.backend.reply(UpstreamVerifyEmail, http.StatusBadRequest, `{"message":"Invalid OTP code"}`)
	w := h.post(goRecovery.RouteVerifyEmail, `{"email":"a@example.com","otp":"123456","token":"t"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"message":"Invalid OTP code"}`, w.Body.String())

	h.backend.reply(UpstreamVerifyEmail, http.StatusBadGateway, `<html>gateway</html>`)
	w = h.post(goRecovery.RouteVerifyEmail, `{"email":"a@example.com","otp":"123456","token":"t"}`)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.JSONEq(t, `{}`, w.Body.String())

	h.backend.reply(UpstreamVerifyEmail, http.StatusOK, ``)
	w = h.post(goRecovery.RouteVerifyEmail, `{"email":"a@example.com","otp":"123456","token":"t"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{}`, w.Body.String())

	assert.Equal(t, uint64(2), h.metrics.Value(goRecovery.MetricOTPVerifyFailure))
	assert.Equal(t, uint64(1), h.metrics.Value(goRecovery.MetricOTPVerifySuccess))
}

func TestCookieCarriesFlowAcrossSteps(t *testing.T) {
	h := newHarness(t)

	w := h.post(goRecovery.RouteForgotPassword, `{"phone":"+66812345678"}`)
	require.Equal(t, http.StatusOK, w.Code)
	cookie := flowCookie(t, w)

	// The dashboard only resends the OTP; contact, token and otpRef come
	// from the stored session.
	w = h.post(goRecovery.RouteVerifyPhone, `{"otp":"123456"}`, cookie)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = h.post(goRecovery.RouteResetPassword, `{"newPassword":"secret1"}`, cookie)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	expired := flowCookie(t, w)
	assert.Equal(t, "", expired.Value)
	assert.True(t, expired.MaxAge < 0)

	calls := h.backend.recorded()
	require.Len(t, calls, 3)
	assert.Equal(t, map[string]string{
		"phone":  "0812345678",
		"otp":    "123456",
		"token":  "tok1",
		"otpRef": "ref1",
	}, calls[1].Body)
	assert.Equal(t, map[string]string{"token": "tok2", "newPassword": "secret1"}, calls[2].Body)

	assert.Empty(t, h.mr.Keys(), "session must be cleared after reset")
}

func TestExplicitBodyFieldsWinOverSession(t *testing.T) {
	h := newHarness(t)

	w := h.post(goRecovery.RouteForgotPassword, `{"email":"admin@example.com"}`)
	cookie := flowCookie(t, w)

	w = h.post(goRecovery.RouteVerifyEmail, `{"otp":"123456","token":"from-body"}`, cookie)
	require.Equal(t, http.StatusOK, w.Code)

	calls := h.backend.recorded()
	assert.Equal(t, "from-body", calls[1].Body["token"])
	assert.Equal(t, "admin@example.com", calls[1].Body["email"])
}

func TestSessionIgnoredForOtherMethod(t *testing.T) {
	h := newHarness(t)

	w := h.post(goRecovery.RouteForgotPassword, `{"phone":"0812345678"}`)
	cookie := flowCookie(t, w)

	w = h.post(goRecovery.RouteVerifyEmail, `{"otp":"123456"}`, cookie)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Len(t, h.backend.recorded(), 1)
}

func TestTamperedCookieIgnored(t *testing.T) {
	h := newHarness(t)

	w := h.post(goRecovery.RouteForgotPassword, `{"phone":"0812345678"}`)
	cookie := flowCookie(t, w)
	cookie.Value += "x"

	w = h.post(goRecovery.RouteVerifyPhone, `{"otp":"123456"}`, cookie)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestWithoutContinuityNoCookie(t *testing.T) {
	h := newHarness(t, withoutContinuity())

	w := h.post(goRecovery.RouteForgotPassword, `{"phone":"0812345678"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Result().Cookies())

	w = h.post(goRecovery.RouteResetPassword, `{"token":"tok2","newPassword":"secret1"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Result().Cookies())
}

func TestRateLimit(t *testing.T) {
	h := newHarness(t, withLimiter(LimiterConfig{
		PerContact:   true,
		PerIP:        true,
		RequestLimit: 1,
		VerifyLimit:  1,
		Window:       90 * time.Second,
	}))

	w := h.post(goRecovery.RouteForgotPassword, `{"email":"admin@example.com"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = h.post(goRecovery.RouteForgotPassword, `{"email":"admin@example.com"}`)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "Too many OTP requests", decodeBody(t, w)["message"])
	assert.Equal(t, "90", w.Header().Get("Retry-After"))

	verify := `{"email":"admin@example.com","otp":"123456","token":"t"}`
	require.Equal(t, http.StatusOK, h.post(goRecovery.RouteVerifyEmail, verify).Code)
	w = h.post(goRecovery.RouteVerifyEmail, verify)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "Too many OTP attempts", decodeBody(t, w)["message"])

	assert.Len(t, h.backend.recorded(), 2)
	assert.Equal(t, uint64(2), h.metrics.Value(goRecovery.MetricProxyRateLimited))
}

func TestRateLimitRetryAfterIsRemainingWindow(t *testing.T) {
	h := newHarness(t, withLimiter(LimiterConfig{
		PerContact:   true,
		RequestLimit: 1,
		Window:       90 * time.Second,
	}))

	require.Equal(t, http.StatusOK, h.post(goRecovery.RouteForgotPassword, `{"email":"admin@example.com"}`).Code)
	h.mr.FastForward(30 * time.Second)

	w := h.post(goRecovery.RouteForgotPassword, `{"email":"admin@example.com"}`)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
}

func TestRateLimitKeysPhoneOnCanonicalForm(t *testing.T) {
	h := newHarness(t, withoutContinuity(), withLimiter(LimiterConfig{
		PerContact:   true,
		RequestLimit: 1,
		VerifyLimit:  1,
		Window:       time.Minute,
	}))

	codes := make([]int, 0, 3)
	for _, phone := range []string{"0812345678", "+66812345678", "0066812345678"} {
		codes = append(codes, h.post(goRecovery.RouteForgotPassword, `{"phone":"`+phone+`"}`).Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests, http.StatusTooManyRequests}, codes)

	verify := `{"phone":"%s","otp":"123456","token":"t"}`
	require.Equal(t, http.StatusOK, h.post(goRecovery.RouteVerifyPhone, fmt.Sprintf(verify, "+66812345678")).Code)
	assert.Equal(t, http.StatusTooManyRequests, h.post(goRecovery.RouteVerifyPhone, fmt.Sprintf(verify, "0812345678")).Code)

	assert.Len(t, h.backend.recorded(), 2)
}

type failingLimiter struct{}

func (failingLimiter) CheckRequest(context.Context, string, string) error {
	return ErrLimiterUnavailable
}

func (failingLimiter) CheckVerify(context.Context, string, string) error {
	return ErrLimiterUnavailable
}

func TestLimiterUnavailable(t *testing.T) {
	h := newHarness(t, func(_ *Config, d *Deps, _ *proxyHarness) { d.Limiter = failingLimiter{} })

	w := h.post(goRecovery.RouteForgotPassword, `{"email":"admin@example.com"}`)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "Recovery temporarily unavailable", decodeBody(t, w)["message"])
	assert.Empty(t, h.backend.recorded())
}

func TestAuditEventsCarryNoSecrets(t *testing.T) {
	h := newHarness(t)

	w := h.post(goRecovery.RouteForgotPassword, `{"phone":"0812345678"}`)
	cookie := flowCookie(t, w)
	h.post(goRecovery.RouteVerifyPhone, `{"otp":"987654"}`, cookie)
	h.post(goRecovery.RouteResetPassword, `{"newPassword":"hunter22"}`, cookie)
	h.post(goRecovery.RouteForgotPassword, `{"email":"bad"}`)

	var events []goRecovery.AuditEvent
	for len(events) < 4 {
		select {
		case ev := <-h.audit.Events():
			events = append(events, ev)
		case <-time.After(time.Second):
			t.Fatalf("expected 4 audit events, got %d", len(events))
		}
	}

	assert.Equal(t, eventProxyOTPRequest, events[0].EventType)
	assert.True(t, events[0].Success)
	assert.NotEmpty(t, events[0].FlowID)
	assert.Equal(t, events[0].FlowID, events[1].FlowID)
	assert.Equal(t, eventProxyPasswordReset, events[2].EventType)
	assert.Equal(t, "phone", events[2].Method)
	assert.Equal(t, codeValidation, events[3].Error)
	assert.Equal(t, http.StatusUnprocessableEntity, events[3].Status)

	for _, ev := range events {
		ev.Timestamp = time.Time{}
		ev.FlowID = ""
		ev.RequestID = ""
		raw, err := json.Marshal(ev)
		require.NoError(t, err)
		for _, secret := range []string{"987654", "hunter22", "tok1", "tok2", "0812345678"} {
			assert.NotContains(t, string(raw), secret)
		}
	}
}

func TestHealthAndMetrics(t *testing.T) {
	h := newHarness(t)
	h.post(goRecovery.RouteForgotPassword, `{"email":"admin@example.com"}`)

	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))

	w = httptest.NewRecorder()
	h.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `gorecovery_step_total{step="otp_request",outcome="success"} 1`)
	assert.Contains(t, w.Body.String(), "gorecovery_upstream_latency_seconds_count 1")
}

func TestCORSPreflight(t *testing.T) {
	h := newHarness(t, func(c *Config, _ *Deps, _ *proxyHarness) {
		c.AllowedOrigins = []string{"https://admin.example"}
	})

	req := httptest.NewRequest(http.MethodOptions, goRecovery.RouteForgotPassword, nil)
	req.Header.Set("Origin", "https://admin.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://admin.example", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))

	req = httptest.NewRequest(http.MethodOptions, goRecovery.RouteForgotPassword, nil)
	req.Header.Set("Origin", "https://evil.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w = httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestNewHandlersValidation(t *testing.T) {
	tokens, err := flowtoken.NewManager(flowtoken.Config{
		TTL:           time.Minute,
		SigningMethod: flowtoken.MethodHS256,
		PrivateKey:    []byte(strings.Repeat("k", 32)),
	})
	require.NoError(t, err)

	_, err = NewHandlers(DefaultConfig(), Deps{Tokens: tokens})
	require.Error(t, err)

	cfg := DefaultConfig()
	cfg.MaxBodyBytes = -1
	_, err = NewHandlers(cfg, Deps{})
	require.Error(t, err)

	h, err := NewHandlers(Config{}, Deps{})
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().SessionTTL, h.config.SessionTTL)
	assert.False(t, h.upstream.Configured())
}
