package goRecovery

import "strings"

// BuildForgotPasswordRequest validates the contact field of the selected
// method and returns the tagged OTP request. The other contact field is
// ignored. Phone numbers are sent in local format.
func BuildForgotPasswordRequest(s State) (ForgotPasswordRequest, error) {
	switch s.Method {
	case MethodPhone:
		phone := strings.TrimSpace(s.Phone)
		if err := ValidateSchema(PhoneContactSchema{Phone: phone}); err != nil {
			return ForgotPasswordRequest{}, err
		}
		return ForgotPasswordRequest{
			Method:  MethodPhone,
			Payload: ContactPayload{Phone: FormatPhoneForAPI(phone)},
		}, nil
	case MethodEmail:
		email := strings.TrimSpace(s.Email)
		if err := ValidateSchema(EmailContactSchema{Email: email}); err != nil {
			return ForgotPasswordRequest{}, err
		}
		return ForgotPasswordRequest{
			Method:  MethodEmail,
			Payload: ContactPayload{Email: email},
		}, nil
	default:
		return ForgotPasswordRequest{}, invalidMethodError()
	}
}

// BuildVerifyOTPRequest joins the OTP slots, validates contact, OTP and
// token, and returns the tagged verify request. The phone is normalized
// again here because State keeps whatever format the user typed.
func BuildVerifyOTPRequest(s State) (VerifyOTPRequest, error) {
	otp := s.OTPCode()

	switch s.Method {
	case MethodPhone:
		phone := strings.TrimSpace(s.Phone)
		err := ValidateSchema(VerifyPhoneSchema{
			Phone:  phone,
			OTP:    otp,
			Token:  s.Token,
			OTPRef: s.OTPRef,
		})
		if err != nil {
			return VerifyOTPRequest{}, err
		}
		return VerifyOTPRequest{
			Method: MethodPhone,
			Payload: VerifyPayload{
				Phone:  FormatPhoneForAPI(phone),
				OTP:    otp,
				Token:  s.Token,
				OTPRef: s.OTPRef,
			},
		}, nil
	case MethodEmail:
		email := strings.TrimSpace(s.Email)
		err := ValidateSchema(VerifyEmailSchema{
			Email:  email,
			OTP:    otp,
			Token:  s.Token,
			OTPRef: s.OTPRef,
		})
		if err != nil {
			return VerifyOTPRequest{}, err
		}
		return VerifyOTPRequest{
			Method: MethodEmail,
			Payload: VerifyPayload{
				Email:  email,
				OTP:    otp,
				Token:  s.Token,
				OTPRef: s.OTPRef,
			},
		}, nil
	default:
		return VerifyOTPRequest{}, invalidMethodError()
	}
}

// BuildResetPasswordRequest checks the password length and confirmation and
// returns the reset body. ConfirmPassword is not part of the result.
func BuildResetPasswordRequest(s State) (ResetPasswordRequest, error) {
	err := ValidateSchema(ResetPasswordSchema{
		Password:        s.Password,
		ConfirmPassword: s.ConfirmPassword,
		Token:           s.Token,
	})
	if err != nil {
		return ResetPasswordRequest{}, err
	}

	return ResetPasswordRequest{
		Token:       s.Token,
		NewPassword: s.Password,
	}, nil
}
