package goRecovery

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// Schemas shared by the request builders and the proxy routes. The json tag
// names the field in error messages and in FieldIssue.Field.

// PhoneContactSchema validates the phone OTP request body.
type PhoneContactSchema struct {
	Phone string `json:"phone" validate:"required"`
}

// EmailContactSchema validates the email OTP request body.
type EmailContactSchema struct {
	Email string `json:"email" validate:"required,email"`
}

// VerifyPhoneSchema validates the verify-phone body.
type VerifyPhoneSchema struct {
	Phone  string `json:"phone" validate:"required"`
	OTP    string `json:"otp" validate:"required,min=4"`
	Token  string `json:"token" validate:"required"`
	OTPRef string `json:"otpRef"`
}

// VerifyEmailSchema validates the verify-email body.
type VerifyEmailSchema struct {
	Email  string `json:"email" validate:"required,email"`
	OTP    string `json:"otp" validate:"required,min=4"`
	Token  string `json:"token" validate:"required"`
	OTPRef string `json:"otpRef"`
}

// ResetPasswordSchema validates the new-password form, including the
// confirmation field that is never transmitted.
type ResetPasswordSchema struct {
	Password        string `json:"password" validate:"min=6"`
	ConfirmPassword string `json:"confirmPassword" validate:"eqfield=Password"`
	Token           string `json:"token" validate:"required"`
}

// ResetPasswordPayloadSchema validates the reset body as it arrives at the proxy.
type ResetPasswordPayloadSchema struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"newPassword" validate:"min=6"`
}

var fieldLabels = map[string]string{
	"phone":           "Phone number",
	"email":           "Email",
	"otp":             "OTP",
	"otpRef":          "OTP reference",
	"token":           "Verification token",
	"password":        "Password",
	"confirmPassword": "Password confirmation",
	"newPassword":     "Password",
	"method":          "Recovery method",
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func schemaValidator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		validate = v
	})
	return validate
}

// ValidateSchema checks v against its validate tags. A schema failure is
// returned as *ValidationError whose Message is the first failing rule in
// field order; Issues carries every failure.
func ValidateSchema(v any) error {
	err := schemaValidator().Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return err
	}

	out := &ValidationError{
		Field:  fieldErrs[0].Field(),
		Tag:    fieldErrs[0].Tag(),
		Issues: make([]FieldIssue, 0, len(fieldErrs)),
	}
	for _, fe := range fieldErrs {
		out.Issues = append(out.Issues, FieldIssue{
			Field:   fe.Field(),
			Message: fieldErrorMessage(fe.Field(), fe.Tag(), fe.Param()),
		})
	}
	out.Message = out.Issues[0].Message

	return out
}

func fieldErrorMessage(field, tag, param string) string {
	label, ok := fieldLabels[field]
	if !ok {
		label = field
	}

	switch tag {
	case "required":
		return label + " is required"
	case "email":
		return "Invalid email address"
	case "min":
		return label + " must be at least " + param + " characters"
	case "max":
		return label + " must be at most " + param + " characters"
	case "eqfield":
		return "Passwords do not match"
	case "oneof":
		return "Select a recovery method"
	default:
		return label + " is invalid"
	}
}

func invalidMethodError() error {
	msg := fieldErrorMessage("method", "oneof", "")
	return &ValidationError{
		Field:   "method",
		Tag:     "oneof",
		Message: msg,
		Issues:  []FieldIssue{{Field: "method", Message: msg}},
	}
}
