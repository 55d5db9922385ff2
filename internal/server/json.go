package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/danhigham/telecharm-web/internal/domain"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 16 << 20

// isoFormat renders timestamps with an explicit numeric offset.
const isoFormat = "2006-01-02T15:04:05-07:00"

var errEmptyBody = errors.New("empty body")

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return errEmptyBody
	}
	defer func() { _ = r.Body.Close() }()

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	return dec.Decode(dst)
}

func isoTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(isoFormat)
}

// nullable maps the empty string to JSON null.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullableID(id int64) *int64 {
	if id == 0 {
		return nil
	}
	return &id
}

// chatID accepts a chat ID sent as a JSON number or a numeric string.
type chatID int64

func (c *chatID) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		*c = 0
		return nil
	}
	v, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return errors.New("chat_id must be an integer")
	}
	*c = chatID(v)
	return nil
}

type statusView struct {
	Connected     bool    `json:"connected"`
	Authenticated bool    `json:"authenticated"`
	Phone         *string `json:"phone"`
	Name          *string `json:"name"`
	Username      *string `json:"username"`
	UserID        *int64  `json:"user_id"`
}

func newStatusView(st domain.SessionStatus) statusView {
	return statusView{
		Connected:     st.Connected,
		Authenticated: st.Authenticated,
		Phone:         nullable(st.Phone),
		Name:          nullable(st.Name),
		Username:      nullable(st.Username),
		UserID:        nullableID(st.UserID),
	}
}

type dialogView struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	UnreadCount int    `json:"unread_count"`
	LastMessage string `json:"last_message"`
	Date        string `json:"date"`
	Kind        string `json:"kind"`
	IsUser      bool   `json:"is_user"`
	IsGroup     bool   `json:"is_group"`
	IsChannel   bool   `json:"is_channel"`
}

func newDialogView(d domain.Dialog) dialogView {
	return dialogView{
		ID:          d.ID,
		Name:        d.Name,
		UnreadCount: d.UnreadCount,
		LastMessage: d.Preview,
		Date:        isoTime(d.LastActivity),
		Kind:        string(d.Kind),
		IsUser:      d.Kind == domain.DialogDirect,
		IsGroup:     d.Kind == domain.DialogGroup,
		IsChannel:   d.Kind == domain.DialogChannel,
	}
}

type messageView struct {
	ID         int     `json:"id"`
	Text       string  `json:"text"`
	HTML       string  `json:"html"`
	SenderName string  `json:"sender_name"`
	Date       string  `json:"date"`
	IsOutgoing bool    `json:"is_outgoing"`
	Media      *string `json:"media"`
	MediaType  *string `json:"media_type"`
}

func newMessageView(m domain.Message) messageView {
	v := messageView{
		ID:         m.ID,
		Text:       m.Text,
		HTML:       m.HTML,
		SenderName: m.SenderName,
		Date:       isoTime(m.Timestamp),
		IsOutgoing: m.Outgoing,
	}
	if m.Media.Kind != "" && m.Media.Kind != domain.MediaNone {
		v.Media = nullable(m.Media.Payload)
		v.MediaType = nullable(string(m.Media.Kind))
	}
	return v
}

type searchView struct {
	Text       string `json:"text"`
	ChatName   string `json:"chat_name"`
	SenderName string `json:"sender_name"`
	Date       string `json:"date"`
	ChatID     int64  `json:"chat_id"`
}

func newSearchView(r domain.SearchResult) searchView {
	return searchView{
		Text:       r.Text,
		ChatName:   r.ChatName,
		SenderName: r.SenderName,
		Date:       isoTime(r.Timestamp),
		ChatID:     r.ChatID,
	}
}
