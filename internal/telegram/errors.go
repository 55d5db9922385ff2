package telegram

import (
	"github.com/go-faster/errors"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tgerr"

	"github.com/danhigham/telecharm-web/internal/domain"
)

// mapAuthError translates RPC failures of the login calls into the domain
// taxonomy. Anything unrecognized is wrapped as a transport failure.
func mapAuthError(err error, op string) error {
	if err == nil {
		return nil
	}
	if d, ok := tgerr.AsFloodWait(err); ok {
		return &domain.RateLimitedError{RetryAfter: d}
	}

	switch {
	case errors.Is(err, auth.ErrPasswordAuthNeeded):
		return domain.ErrSecondFactorRequired
	case errors.Is(err, auth.ErrPasswordInvalid):
		return domain.ErrInvalidPassword
	case tgerr.Is(err, "PHONE_NUMBER_FLOOD"):
		// Too many codes requested for this number; Telegram gives no wait.
		return &domain.RateLimitedError{}
	case tgerr.Is(err, "PHONE_NUMBER_INVALID", "PHONE_NUMBER_BANNED"):
		return domain.ErrInvalidPhone
	case tgerr.Is(err, "PHONE_CODE_INVALID", "PHONE_CODE_EMPTY"):
		return domain.ErrInvalidCode
	case tgerr.Is(err, "PHONE_CODE_EXPIRED"):
		return domain.ErrCodeExpired
	case tgerr.Is(err, "PASSWORD_HASH_INVALID"):
		return domain.ErrInvalidPassword
	case tgerr.Is(err, "AUTH_KEY_UNREGISTERED", "SESSION_REVOKED", "USER_DEACTIVATED"):
		return domain.ErrNotAuthenticated
	}
	return errors.Wrap(err, op)
}

// mapError translates failures of data calls.
func mapError(err error, op string) error {
	if err == nil {
		return nil
	}
	if d, ok := tgerr.AsFloodWait(err); ok {
		return &domain.RateLimitedError{RetryAfter: d}
	}
	if tgerr.Is(err, "AUTH_KEY_UNREGISTERED", "SESSION_REVOKED", "USER_DEACTIVATED") {
		return domain.ErrNotAuthenticated
	}
	return errors.Wrap(err, op)
}
