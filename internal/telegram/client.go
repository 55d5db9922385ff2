package telegram

import (
	"context"
	"errors"
	"time"

	"github.com/gotd/td/tg"

	"github.com/danhigham/telecharm-web/internal/domain"
)

var (
	// ErrTooLarge is returned by downloads that exceed the caller's cap.
	ErrTooLarge = errors.New("media exceeds size cap")
	// ErrNoPhoto is returned when an entity has no profile photo.
	ErrNoPhoto = errors.New("entity has no photo")
	// ErrUnknownPeer is returned for chat IDs the session has not seen.
	ErrUnknownPeer = errors.New("unknown peer")
)

// Session is the set of native operations the rest of the program needs.
// Implementations translate backend failures into the domain error taxonomy.
type Session interface {
	// Status reports whether the stored session is authorized and, if so,
	// the identity it belongs to.
	Status(ctx context.Context) (self domain.Self, authorized bool, err error)
	SendCode(ctx context.Context, phone string) (codeHash string, err error)
	SignIn(ctx context.Context, phone, code, codeHash string) (domain.Self, error)
	Password(ctx context.Context, password string) (domain.Self, error)
	LogOut(ctx context.Context) error

	// Dialogs returns up to limit dialogs in the backend's recency order.
	Dialogs(ctx context.Context, limit int) ([]Dialog, error)
	// History returns up to limit messages older than beforeID (0 for the
	// newest), newest first as delivered by the backend.
	History(ctx context.Context, chatID int64, limit, beforeID int) ([]Message, error)
	Search(ctx context.Context, query string, limit int) ([]Message, error)
	SendText(ctx context.Context, chatID int64, text string) error

	// Download fetches media into memory, failing with ErrTooLarge once more
	// than max bytes arrive.
	Download(ctx context.Context, m *Media, max int64) ([]byte, error)
	ProfilePhoto(ctx context.Context, chatID int64, max int64) ([]byte, error)

	// Subscribe delivers incoming messages to fn until ctx is done.
	Subscribe(ctx context.Context, selfID int64, fn func(Incoming)) error
}

// Runner establishes a session and runs fn while it is connected.
type Runner interface {
	Run(ctx context.Context, fn func(ctx context.Context, s Session) error) error
}

// Dialog is a chat as listed by the backend, with its entity resolved.
type Dialog struct {
	ChatID      int64
	Entity      domain.Entity
	Kind        domain.DialogKind
	UnreadCount int
	// HasLast is false when the dialog has no last message.
	HasLast  bool
	LastText string
	LastDate time.Time
}

type MediaKind int

const (
	MediaPhoto MediaKind = iota + 1
	MediaDocument
	MediaWebPage
	MediaOther
)

// Media references an attachment. Size is the declared size in bytes, or 0
// when the backend does not announce one.
type Media struct {
	Kind     MediaKind
	ID       int64
	MimeType string
	Size     int64

	location tg.InputFileLocationClass
}

type Message struct {
	ID       int
	ChatID   int64
	Chat     domain.Entity
	SenderID int64
	Sender   domain.Entity
	Text     string
	// Markdown is Text with formatting entities applied.
	Markdown string
	Date     time.Time
	Out      bool
	Media    *Media
}

// Incoming is a new message delivered by the update stream.
type Incoming struct {
	Message
}
