package domain

import "time"

// SessionStatus is the process-wide view of the Telegram session.
// Empty strings and a zero UserID mean the field is unset.
type SessionStatus struct {
	Connected     bool
	Authenticated bool
	Phone         string
	Name          string
	Username      string
	UserID        int64
}

// Self is the identity of the authenticated account.
type Self struct {
	ID        int64
	FirstName string
	LastName  string
	Username  string
	Phone     string
}

// DisplayName joins first and last name the way the status record shows it.
func (s Self) DisplayName() string {
	if s.LastName == "" {
		return s.FirstName
	}
	if s.FirstName == "" {
		return s.LastName
	}
	return s.FirstName + " " + s.LastName
}

// AuthenticatedStatus builds the status record for a signed-in identity.
func AuthenticatedStatus(self Self) SessionStatus {
	return SessionStatus{
		Connected:     true,
		Authenticated: true,
		Phone:         self.Phone,
		Name:          self.DisplayName(),
		Username:      self.Username,
		UserID:        self.ID,
	}
}

type DialogKind string

const (
	DialogDirect  DialogKind = "direct"
	DialogGroup   DialogKind = "group"
	DialogChannel DialogKind = "channel"
)

type Dialog struct {
	ID           int64
	Name         string
	UnreadCount  int
	Preview      string
	LastActivity time.Time
	Kind         DialogKind
}

type MediaKind string

const (
	MediaNone          MediaKind = "none"
	MediaPhoto         MediaKind = "photo"
	MediaImage         MediaKind = "image"
	MediaDocument      MediaKind = "document"
	MediaWebPage       MediaKind = "webpage"
	MediaOther         MediaKind = "other"
	MediaPhotoTooLarge MediaKind = "photo_too_large"
	MediaImageTooLarge MediaKind = "image_too_large"
	MediaPhotoFailed   MediaKind = "photo_failed"
	MediaImageFailed   MediaKind = "image_failed"
)

// MediaDescriptor is the projected form of a message attachment. Payload is
// a data URI only for photo and image kinds; otherwise a short label or empty.
type MediaDescriptor struct {
	Kind    MediaKind
	Payload string
}

type Message struct {
	ID         int
	Text       string
	HTML       string
	SenderName string
	Timestamp  time.Time
	Outgoing   bool
	Media      MediaDescriptor
}

type SearchResult struct {
	Text       string
	ChatName   string
	SenderName string
	Timestamp  time.Time
	ChatID     int64
}

// Notification is what the event relay pushes for an incoming message.
type Notification struct {
	ChatName   string
	SenderName string
	Text       string
	Time       string
	ChatID     int64
}

type AuthState int

const (
	AuthStateUnauthenticated AuthState = iota
	AuthStateCodeRequested
	AuthStatePasswordRequired
	AuthStateAuthenticated
)

func (s AuthState) String() string {
	switch s {
	case AuthStateUnauthenticated:
		return "unauthenticated"
	case AuthStateCodeRequested:
		return "code_requested"
	case AuthStatePasswordRequired:
		return "password_required"
	case AuthStateAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}
