package proxy

import (
	"context"
	"errors"
	"net/http"

	goRecovery "github.com/MrEthical07/goRecovery"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const cookiePath = "/api/auth"

// loadSession resolves the flow cookie to a stored session. An empty method
// accepts a session of either channel. Any failure yields ok=false and the
// request proceeds with the body as sent.
func (h *Handlers) loadSession(c *gin.Context, method goRecovery.Method) (flowID string, s Session, ok bool) {
	if h.sessions == nil {
		return "", Session{}, false
	}

	raw, err := c.Cookie(h.config.CookieName)
	if err != nil || raw == "" {
		return "", Session{}, false
	}

	claims, err := h.tokens.Parse(raw)
	if err != nil {
		h.logger.Debug("flow cookie rejected", zap.Error(err))
		return "", Session{}, false
	}
	if method != "" && claims.Method != string(method) {
		return "", Session{}, false
	}

	s, err = h.sessions.Get(c.Request.Context(), claims.FID)
	if err != nil {
		if !errors.Is(err, ErrSessionNotFound) {
			h.logger.Warn("load flow session", zap.String("flow_id", claims.FID), zap.Error(err))
		}
		return "", Session{}, false
	}
	if method != "" && s.Method != method {
		return "", Session{}, false
	}

	return claims.FID, s, true
}

// startSession stores s under a new flow ID and sets the signed cookie. It
// returns "" when either step fails; the OTP request itself still succeeds.
func (h *Handlers) startSession(c *gin.Context, s Session) string {
	flowID := h.newID()

	cookie, err := h.tokens.Issue(flowID, string(s.Method))
	if err != nil {
		h.logger.Error("issue flow cookie", zap.Error(err))
		return ""
	}
	if err := h.sessions.Set(c.Request.Context(), flowID, s, h.config.SessionTTL); err != nil {
		h.logger.Warn("store flow session", zap.String("flow_id", flowID), zap.Error(err))
		return ""
	}

	h.setCookie(c, cookie, int(h.config.SessionTTL.Seconds()))
	return flowID
}

func (h *Handlers) rotateToken(ctx context.Context, flowID string, s Session, next string) {
	var err error
	if rotator, ok := h.sessions.(TokenRotator); ok {
		err = rotator.RotateToken(ctx, flowID, s.Token, next)
	} else {
		s.Token = next
		err = h.sessions.Set(ctx, flowID, s, h.config.SessionTTL)
	}
	if err != nil {
		h.logger.Warn("rotate flow token", zap.String("flow_id", flowID), zap.Error(err))
	}
}

func (h *Handlers) expireCookie(c *gin.Context) {
	h.setCookie(c, "", -1)
}

func (h *Handlers) setCookie(c *gin.Context, value string, maxAge int) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     h.config.CookieName,
		Value:    value,
		Path:     cookiePath,
		Domain:   h.config.CookieDomain,
		MaxAge:   maxAge,
		Secure:   h.config.CookieSecure,
		HttpOnly: true,
		SameSite: h.config.CookieSameSite,
	})
}
