package telegram

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tgerr"

	"github.com/danhigham/telecharm-web/internal/domain"
)

func TestMapAuthError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"invalid phone", tgerr.New(400, "PHONE_NUMBER_INVALID"), domain.ErrInvalidPhone},
		{"invalid code", tgerr.New(400, "PHONE_CODE_INVALID"), domain.ErrInvalidCode},
		{"expired code", tgerr.New(400, "PHONE_CODE_EXPIRED"), domain.ErrCodeExpired},
		{"bad password hash", tgerr.New(400, "PASSWORD_HASH_INVALID"), domain.ErrInvalidPassword},
		{"password needed", auth.ErrPasswordAuthNeeded, domain.ErrSecondFactorRequired},
		{"password invalid", auth.ErrPasswordInvalid, domain.ErrInvalidPassword},
		{"unregistered", tgerr.New(401, "AUTH_KEY_UNREGISTERED"), domain.ErrNotAuthenticated},
	}
	for _, tt := range tests {
		if got := mapAuthError(tt.err, "op"); !errors.Is(got, tt.want) {
			t.Errorf("%s: mapAuthError() = %v, want %v", tt.name, got, tt.want)
		}
	}

	if mapAuthError(nil, "op") != nil {
		t.Error("mapAuthError(nil) != nil")
	}
}

func TestMapAuthError_FloodWait(t *testing.T) {
	err := mapAuthError(tgerr.New(420, "FLOOD_WAIT_30"), "send code")
	var rl *domain.RateLimitedError
	if !errors.As(err, &rl) {
		t.Fatalf("mapAuthError() = %v, want RateLimitedError", err)
	}
	if rl.RetryAfter != 30*time.Second {
		t.Errorf("RetryAfter = %v, want 30s", rl.RetryAfter)
	}
}

func TestMapAuthError_PhoneFlood(t *testing.T) {
	err := mapAuthError(tgerr.New(400, "PHONE_NUMBER_FLOOD"), "send code")
	if errors.Is(err, domain.ErrInvalidPhone) {
		t.Fatalf("mapAuthError() = %v, flood reported as invalid phone", err)
	}
	var rl *domain.RateLimitedError
	if !errors.As(err, &rl) {
		t.Fatalf("mapAuthError() = %v, want RateLimitedError", err)
	}
	if rl.RetryAfter != 0 {
		t.Errorf("RetryAfter = %v, want unknown (0)", rl.RetryAfter)
	}
}

func TestMapError_WrapsUnknown(t *testing.T) {
	base := errors.New("connection reset")
	err := mapError(base, "get history")
	if !errors.Is(err, base) {
		t.Errorf("mapError() = %v, want it to wrap %v", err, base)
	}
	if errors.Is(err, domain.ErrNotAuthenticated) {
		t.Errorf("mapError() = %v, transport failure mapped to auth error", err)
	}
}

func TestCappedBuffer(t *testing.T) {
	b := &cappedBuffer{max: 4}
	if _, err := b.Write([]byte("abcd")); err != nil {
		t.Fatalf("Write() at cap = %v", err)
	}
	if _, err := b.Write([]byte("e")); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("Write() over cap = %v, want ErrTooLarge", err)
	}
	if !b.exceeded {
		t.Error("exceeded = false")
	}
	if !bytes.Equal(b.Bytes(), []byte("abcd")) {
		t.Errorf("Bytes() = %q", b.Bytes())
	}
}
