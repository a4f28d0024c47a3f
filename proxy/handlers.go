package proxy

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	goRecovery "github.com/MrEthical07/goRecovery"
	"github.com/MrEthical07/goRecovery/middleware"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	msgInvalidJSON         = "Invalid JSON body"
	msgBodyTooLarge        = "Request body too large"
	msgBackendNotSet       = "Backend URL not configured"
	msgTooManyRequests     = "Too many OTP requests"
	msgTooManyAttempts     = "Too many OTP attempts"
	msgUpstreamUnavailable = "Upstream unavailable"
	msgTemporarilyDown     = "Recovery temporarily unavailable"
)

const (
	eventProxyOTPRequest    = "proxy_otp_request"
	eventProxyOTPVerify     = "proxy_otp_verify"
	eventProxyPasswordReset = "proxy_password_reset"
)

const (
	codeMalformed     = "malformed_body"
	codeValidation    = "validation_failed"
	codeNotConfigured = "backend_not_configured"
	codeRateLimited   = "rate_limited"
	codeUnavailable   = "limiter_unavailable"
	codeUpstream      = "upstream_error"
	codeRejected      = "rejected"
)

type forgotPasswordBody struct {
	Phone string `json:"phone"`
	Email string `json:"email"`
}

type verifyBody struct {
	Phone  string `json:"phone"`
	Email  string `json:"email"`
	OTP    string `json:"otp"`
	Token  string `json:"token"`
	OTPRef string `json:"otpRef"`
}

type resetBody struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

// routeMetrics groups the counters of one route.
type routeMetrics struct {
	attempt goRecovery.MetricID
	success goRecovery.MetricID
	failure goRecovery.MetricID
}

var (
	requestMetrics = routeMetrics{goRecovery.MetricOTPRequestAttempt, goRecovery.MetricOTPRequestSuccess, goRecovery.MetricOTPRequestFailure}
	verifyMetrics  = routeMetrics{goRecovery.MetricOTPVerifyAttempt, goRecovery.MetricOTPVerifySuccess, goRecovery.MetricOTPVerifyFailure}
	resetMetrics   = routeMetrics{goRecovery.MetricPasswordResetAttempt, goRecovery.MetricPasswordResetSuccess, goRecovery.MetricPasswordResetFailure}
)

func (h *Handlers) forgotPassword(c *gin.Context) {
	var body forgotPasswordBody
	if !h.bindJSON(c, eventProxyOTPRequest, &body) {
		return
	}

	method := goRecovery.MethodPhone
	contact := strings.TrimSpace(body.Phone)
	var schema any = goRecovery.PhoneContactSchema{Phone: contact}
	if email := strings.TrimSpace(body.Email); email != "" {
		method, contact = goRecovery.MethodEmail, email
		schema = goRecovery.EmailContactSchema{Email: email}
	}
	if !h.validate(c, eventProxyOTPRequest, method, schema) {
		return
	}

	payload := goRecovery.ContactPayload{Email: contact}
	limitKey := contact
	if method == goRecovery.MethodPhone {
		limitKey = goRecovery.FormatPhoneForAPI(contact)
		payload = goRecovery.ContactPayload{Phone: limitKey}
	}

	if !h.backendReady(c, eventProxyOTPRequest, method) {
		return
	}
	if !h.allow(c, eventProxyOTPRequest, method, msgTooManyRequests, func(ctx context.Context, ip string) error {
		return h.limiter.CheckRequest(ctx, limitKey, ip)
	}) {
		return
	}

	resp, ok := h.forward(c, eventProxyOTPRequest, method, UpstreamForgotPassword, payload, requestMetrics)
	if !ok {
		return
	}

	flowID := ""
	if resp.OK() && h.sessions != nil {
		token, otpRef := resp.tokenFields()
		if token != "" {
			flowID = h.startSession(c, Session{
				Method:  method,
				Contact: contact,
				Token:   token,
				OTPRef:  otpRef,
			})
		}
	}

	h.emit(c, eventProxyOTPRequest, flowID, method, resp)
	h.writeUpstream(c, resp)
}

func (h *Handlers) verify(method goRecovery.Method) gin.HandlerFunc {
	upstreamPath := UpstreamVerifyPhone
	if method == goRecovery.MethodEmail {
		upstreamPath = UpstreamVerifyEmail
	}

	return func(c *gin.Context) {
		var body verifyBody
		if !h.bindJSON(c, eventProxyOTPVerify, &body) {
			return
		}

		flowID, sess, hasSession := h.loadSession(c, method)
		if hasSession {
			if method == goRecovery.MethodEmail && strings.TrimSpace(body.Email) == "" {
				body.Email = sess.Contact
			}
			if method == goRecovery.MethodPhone && strings.TrimSpace(body.Phone) == "" {
				body.Phone = sess.Contact
			}
			if strings.TrimSpace(body.Token) == "" {
				body.Token = sess.Token
			}
			if strings.TrimSpace(body.OTPRef) == "" {
				body.OTPRef = sess.OTPRef
			}
		}

		body.OTP = strings.TrimSpace(body.OTP)
		body.Token = strings.TrimSpace(body.Token)
		body.OTPRef = strings.TrimSpace(body.OTPRef)

		var (
			schema   any
			contact  string
			limitKey string
			payload  goRecovery.VerifyPayload
		)
		if method == goRecovery.MethodEmail {
			contact = strings.TrimSpace(body.Email)
			schema = goRecovery.VerifyEmailSchema{Email: contact, OTP: body.OTP, Token: body.Token, OTPRef: body.OTPRef}
			payload = goRecovery.VerifyPayload{Email: contact, OTP: body.OTP, Token: body.Token, OTPRef: body.OTPRef}
			limitKey = contact
		} else {
			contact = strings.TrimSpace(body.Phone)
			schema = goRecovery.VerifyPhoneSchema{Phone: contact, OTP: body.OTP, Token: body.Token, OTPRef: body.OTPRef}
			limitKey = goRecovery.FormatPhoneForAPI(contact)
			payload = goRecovery.VerifyPayload{Phone: limitKey, OTP: body.OTP, Token: body.Token, OTPRef: body.OTPRef}
		}
		if !h.validate(c, eventProxyOTPVerify, method, schema) {
			return
		}
		if !h.backendReady(c, eventProxyOTPVerify, method) {
			return
		}
		if !h.allow(c, eventProxyOTPVerify, method, msgTooManyAttempts, func(ctx context.Context, ip string) error {
			return h.limiter.CheckVerify(ctx, limitKey, ip)
		}) {
			return
		}

		resp, ok := h.forward(c, eventProxyOTPVerify, method, upstreamPath, payload, verifyMetrics)
		if !ok {
			return
		}

		if resp.OK() && hasSession {
			if next, _ := resp.tokenFields(); next != "" && next != sess.Token {
				h.rotateToken(c.Request.Context(), flowID, sess, next)
			}
		}

		h.emit(c, eventProxyOTPVerify, flowID, method, resp)
		h.writeUpstream(c, resp)
	}
}

func (h *Handlers) resetPassword(c *gin.Context) {
	var body resetBody
	if !h.bindJSON(c, eventProxyPasswordReset, &body) {
		return
	}

	flowID, sess, hasSession := h.loadSession(c, "")
	if hasSession && strings.TrimSpace(body.Token) == "" {
		body.Token = sess.Token
	}
	body.Token = strings.TrimSpace(body.Token)

	schema := goRecovery.ResetPasswordPayloadSchema{Token: body.Token, NewPassword: body.NewPassword}
	if !h.validate(c, eventProxyPasswordReset, sess.Method, schema) {
		return
	}
	if !h.backendReady(c, eventProxyPasswordReset, sess.Method) {
		return
	}

	payload := goRecovery.ResetPasswordRequest{Token: body.Token, NewPassword: body.NewPassword}
	resp, ok := h.forward(c, eventProxyPasswordReset, sess.Method, UpstreamResetPassword, payload, resetMetrics)
	if !ok {
		return
	}

	if resp.OK() && h.sessions != nil {
		if hasSession {
			if err := h.sessions.Clear(c.Request.Context(), flowID); err != nil {
				h.logger.Warn("clear flow session", zap.String("flow_id", flowID), zap.Error(err))
			}
		}
		h.expireCookie(c)
	}

	h.emit(c, eventProxyPasswordReset, flowID, sess.Method, resp)
	h.writeUpstream(c, resp)
}

/*
====================================
REQUEST PIPELINE
====================================
*/

func (h *Handlers) bindJSON(c *gin.Context, event string, dst any) bool {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.config.MaxBodyBytes)
	if err := c.ShouldBindJSON(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.reject(c, event, "", http.StatusRequestEntityTooLarge, codeMalformed, gin.H{"message": msgBodyTooLarge})
			return false
		}
		h.reject(c, event, "", http.StatusBadRequest, codeMalformed, gin.H{"message": msgInvalidJSON})
		return false
	}
	return true
}

func (h *Handlers) validate(c *gin.Context, event string, method goRecovery.Method, schema any) bool {
	err := goRecovery.ValidateSchema(schema)
	if err == nil {
		return true
	}

	h.metrics.Inc(goRecovery.MetricValidationRejected)
	var verr *goRecovery.ValidationError
	if errors.As(err, &verr) {
		h.reject(c, event, method, http.StatusUnprocessableEntity, codeValidation, gin.H{
			"message": verr.Message,
			"errors":  verr.Issues,
		})
		return false
	}
	h.reject(c, event, method, http.StatusUnprocessableEntity, codeValidation, gin.H{"message": err.Error()})
	return false
}

func (h *Handlers) backendReady(c *gin.Context, event string, method goRecovery.Method) bool {
	if h.upstream.Configured() {
		return true
	}
	h.logger.Error("backend URL not configured")
	h.reject(c, event, method, http.StatusInternalServerError, codeNotConfigured, gin.H{"message": msgBackendNotSet})
	return false
}

func (h *Handlers) allow(c *gin.Context, event string, method goRecovery.Method, limitedMsg string, check func(context.Context, string) error) bool {
	if h.limiter == nil {
		return true
	}

	err := check(c.Request.Context(), c.ClientIP())
	switch {
	case err == nil:
		return true
	case errors.Is(err, ErrRateLimited):
		h.metrics.Inc(goRecovery.MetricProxyRateLimited)
		if wait := h.retryAfter(err); wait > 0 {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
		}
		h.reject(c, event, method, http.StatusTooManyRequests, codeRateLimited, gin.H{"message": limitedMsg})
	default:
		h.logger.Warn("otp limiter failed", zap.Error(err))
		h.reject(c, event, method, http.StatusServiceUnavailable, codeUnavailable, gin.H{"message": msgTemporarilyDown})
	}
	return false
}

func (h *Handlers) retryAfter(err error) time.Duration {
	var retry *RetryAfterError
	if errors.As(err, &retry) && retry.RetryAfter > 0 {
		return retry.RetryAfter
	}
	if w, ok := h.limiter.(interface{ Window() time.Duration }); ok {
		return w.Window()
	}
	return 0
}

func (h *Handlers) forward(c *gin.Context, event string, method goRecovery.Method, path string, payload any, m routeMetrics) (UpstreamResponse, bool) {
	h.metrics.Inc(m.attempt)

	start := h.now()
	resp, err := h.upstream.Post(c.Request.Context(), path, payload, middleware.RequestIDFrom(c))
	h.metrics.Observe(goRecovery.MetricUpstreamLatency, h.now().Sub(start))

	if err != nil {
		h.metrics.Inc(m.failure)
		h.metrics.Inc(goRecovery.MetricProxyUpstreamError)
		h.logger.Warn("upstream call failed", zap.String("path", path), zap.Error(err))
		h.reject(c, event, method, http.StatusBadGateway, codeUpstream, gin.H{"message": msgUpstreamUnavailable})
		return UpstreamResponse{}, false
	}

	if resp.OK() {
		h.metrics.Inc(m.success)
	} else {
		h.metrics.Inc(m.failure)
	}
	return resp, true
}

func (h *Handlers) writeUpstream(c *gin.Context, resp UpstreamResponse) {
	c.Data(resp.Status, "application/json; charset=utf-8", resp.Body)
}

func (h *Handlers) reject(c *gin.Context, event string, method goRecovery.Method, status int, code string, body gin.H) {
	h.audit.Emit(c.Request.Context(), goRecovery.AuditEvent{
		Timestamp: h.now().UTC(),
		EventType: event,
		RequestID: middleware.RequestIDFrom(c),
		Method:    string(method),
		IP:        c.ClientIP(),
		Success:   false,
		Status:    status,
		Error:     code,
	})
	c.AbortWithStatusJSON(status, body)
}

func (h *Handlers) emit(c *gin.Context, event, flowID string, method goRecovery.Method, resp UpstreamResponse) {
	ev := goRecovery.AuditEvent{
		Timestamp: h.now().UTC(),
		EventType: event,
		FlowID:    flowID,
		RequestID: middleware.RequestIDFrom(c),
		Method:    string(method),
		IP:        c.ClientIP(),
		Success:   resp.OK(),
		Status:    resp.Status,
	}
	if !resp.OK() {
		ev.Error = codeRejected
	}
	h.audit.Emit(c.Request.Context(), ev)
}
