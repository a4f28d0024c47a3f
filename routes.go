package goRecovery

// Dashboard-facing routes served by package proxy and called by package client.
const (
	RouteForgotPassword = "/api/auth/forgot-password"
	RouteVerifyEmail    = "/api/auth/verify-email"
	RouteVerifyPhone    = "/api/auth/verify-phone"
	RouteResetPassword  = "/api/auth/reset-password"
)

// VerifyRoute returns the verify route for m, or "" for an unknown method.
func VerifyRoute(m Method) string {
	switch m {
	case MethodEmail:
		return RouteVerifyEmail
	case MethodPhone:
		return RouteVerifyPhone
	default:
		return ""
	}
}
