package server

import (
	"errors"
	"fmt"

	"github.com/danhigham/telecharm-web/internal/bridge"
	"github.com/danhigham/telecharm-web/internal/domain"
	"github.com/danhigham/telecharm-web/internal/telegram"
)

const (
	msgNotAuthenticated = "Not authenticated"
	msgMessagesTimeout  = "Timeout loading messages. Try loading fewer messages."
	msgNoProfilePhoto   = "No profile photo"
	msgInvalidBody      = "Invalid request body"
	msgChatIDRequired   = "Chat ID is required"
)

// userMessage translates err into the text shown to the browser.
func userMessage(err error) string {
	var (
		verr *domain.ValidationError
		rerr *domain.RateLimitedError
	)
	switch {
	case errors.As(err, &verr):
		return verr.Message
	case errors.As(err, &rerr) && rerr.RetryAfter <= 0:
		return "Too many requests. Please try again later"
	case errors.As(err, &rerr):
		return fmt.Sprintf("Too many requests. Please wait %d seconds", rerr.Seconds())
	case errors.Is(err, domain.ErrPhoneNotSet):
		return "Phone number not set. Please restart login."
	case errors.Is(err, domain.ErrNotAuthenticated):
		return msgNotAuthenticated
	case errors.Is(err, domain.ErrInvalidPhone):
		return "Invalid phone number format"
	case errors.Is(err, domain.ErrMissingCredential):
		return "Missing code or password"
	case errors.Is(err, domain.ErrSecondFactorRequired):
		return "2fa_required"
	case errors.Is(err, domain.ErrInvalidCode):
		return "Invalid verification code"
	case errors.Is(err, domain.ErrCodeExpired):
		return "Verification code expired. Please request a new one."
	case errors.Is(err, domain.ErrInvalidPassword):
		return "Invalid password"
	case errors.Is(err, domain.ErrInvalidState):
		return "Login step not allowed right now. Please restart login."
	case errors.Is(err, domain.ErrEmptyMessage):
		return "Message is required"
	case errors.Is(err, domain.ErrEmptyQuery):
		return "Query is required"
	case errors.Is(err, bridge.ErrNotReady):
		return "Client loop not available"
	case errors.Is(err, bridge.ErrTimeout):
		return "Operation timed out"
	case errors.Is(err, telegram.ErrUnknownPeer):
		return "Chat not found"
	}
	return err.Error()
}
