package retrieval_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/danhigham/telecharm-web/internal/bridge"
	"github.com/danhigham/telecharm-web/internal/domain"
	"github.com/danhigham/telecharm-web/internal/retrieval"
	"github.com/danhigham/telecharm-web/internal/state"
	"github.com/danhigham/telecharm-web/internal/telegram"
	"github.com/danhigham/telecharm-web/internal/telegram/telegramtest"
)

const testCap = 1024

func newService(t *testing.T, authenticated bool) (*retrieval.Service, *telegramtest.Session) {
	t.Helper()

	sess := telegramtest.NewSession()
	b := bridge.New[telegram.Session](bridge.Options{})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go b.Serve(ctx, sess)

	deadline := time.Now().Add(2 * time.Second)
	for !b.Ready() {
		if time.Now().After(deadline) {
			t.Fatal("bridge never became ready")
		}
		time.Sleep(5 * time.Millisecond)
	}

	store := state.New()
	if authenticated {
		store.Replace(domain.AuthenticatedStatus(domain.Self{ID: 1, FirstName: "Me"}))
	}

	svc := retrieval.New(b, store, retrieval.Options{
		MaxInlineBytes: testCap,
		MaxPhotoBytes:  testCap / 2,
	})
	return svc, sess
}

func TestService_RequiresAuthentication(t *testing.T) {
	svc, sess := newService(t, false)
	ctx := context.Background()

	if _, err := svc.ListDialogs(ctx, 0); !errors.Is(err, domain.ErrNotAuthenticated) {
		t.Errorf("ListDialogs() = %v, want ErrNotAuthenticated", err)
	}
	if _, err := svc.ListMessages(ctx, 1, 0, 0); !errors.Is(err, domain.ErrNotAuthenticated) {
		t.Errorf("ListMessages() = %v, want ErrNotAuthenticated", err)
	}
	if _, err := svc.SendMessage(ctx, 1, "hi"); !errors.Is(err, domain.ErrNotAuthenticated) {
		t.Errorf("SendMessage() = %v, want ErrNotAuthenticated", err)
	}
	if _, err := svc.Search(ctx, "q", 0); !errors.Is(err, domain.ErrNotAuthenticated) {
		t.Errorf("Search() = %v, want ErrNotAuthenticated", err)
	}
	if _, _, err := svc.ProfilePhoto(ctx, 1); !errors.Is(err, domain.ErrNotAuthenticated) {
		t.Errorf("ProfilePhoto() = %v, want ErrNotAuthenticated", err)
	}
	if sess.Calls("dialogs")+sess.Calls("history")+sess.Calls("send_text") != 0 {
		t.Error("backend called while unauthenticated")
	}
}

func TestListDialogs_Preview(t *testing.T) {
	svc, sess := newService(t, true)
	date := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	sess.DialogList = []telegram.Dialog{
		{ChatID: 1, Entity: domain.Individual(1, "Ada", "Lovelace"), Kind: domain.DialogDirect, UnreadCount: 2, HasLast: true, LastText: "hello", LastDate: date},
		{ChatID: -2, Entity: domain.Group(-2, "Team"), Kind: domain.DialogGroup, HasLast: true},
		{ChatID: -1000000000003, Entity: domain.Channel(-1000000000003, "News"), Kind: domain.DialogChannel},
		{ChatID: 4, Kind: domain.DialogDirect, HasLast: true, LastText: strings.Repeat("x", 60)},
	}

	got, err := svc.ListDialogs(context.Background(), 0)
	if err != nil {
		t.Fatalf("ListDialogs() error: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("len = %d, want 4", len(got))
	}

	if got[0].Name != "Ada Lovelace" || got[0].Preview != "hello" || got[0].UnreadCount != 2 || !got[0].LastActivity.Equal(date) {
		t.Errorf("dialog[0] = %+v", got[0])
	}
	if got[1].Preview != "[Media]" || got[1].Kind != domain.DialogGroup {
		t.Errorf("dialog[1] = %+v", got[1])
	}
	if got[2].Preview != "No messages" || got[2].Kind != domain.DialogChannel {
		t.Errorf("dialog[2] = %+v", got[2])
	}
	if got[3].Name != "Unknown" || got[3].Preview != strings.Repeat("x", 47)+"..." {
		t.Errorf("dialog[3] = %+v", got[3])
	}
}

func TestListDialogs_Limit(t *testing.T) {
	svc, sess := newService(t, true)
	for i := 0; i < 5; i++ {
		sess.DialogList = append(sess.DialogList, telegram.Dialog{ChatID: int64(i + 1)})
	}
	got, err := svc.ListDialogs(context.Background(), 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Errorf("len = %d, want 3", len(got))
	}
}

// history builds n text messages with IDs n..1, newest first.
func history(n int) []telegram.Message {
	out := make([]telegram.Message, 0, n)
	for id := n; id >= 1; id-- {
		out = append(out, telegram.Message{
			ID:       id,
			ChatID:   7,
			SenderID: 7,
			Sender:   domain.Individual(7, "Bob", ""),
			Text:     fmt.Sprintf("message %d", id),
			Markdown: fmt.Sprintf("message %d", id),
		})
	}
	return out
}

func TestListMessages_OldestFirst(t *testing.T) {
	svc, sess := newService(t, true)
	sess.Histories[7] = history(15)

	got, err := svc.ListMessages(context.Background(), 7, 10, 0)
	if err != nil {
		t.Fatalf("ListMessages() error: %v", err)
	}
	if len(got) != 10 {
		t.Fatalf("len = %d, want 10", len(got))
	}
	for i, m := range got {
		if want := 6 + i; m.ID != want {
			t.Errorf("messages[%d].ID = %d, want %d", i, m.ID, want)
		}
	}
	if got[0].SenderName != "Bob" {
		t.Errorf("SenderName = %q, want Bob", got[0].SenderName)
	}
}

func TestListMessages_BeforeID(t *testing.T) {
	svc, sess := newService(t, true)
	sess.Histories[7] = history(15)

	got, err := svc.ListMessages(context.Background(), 7, 3, 6)
	if err != nil {
		t.Fatal(err)
	}
	ids := []int{got[0].ID, got[1].ID, got[2].ID}
	if ids[0] != 3 || ids[1] != 4 || ids[2] != 5 {
		t.Errorf("ids = %v, want [3 4 5]", ids)
	}
}

func TestListMessages_Projection(t *testing.T) {
	svc, sess := newService(t, true)

	small := bytes.Repeat([]byte{0xAB}, testCap)
	over := bytes.Repeat([]byte{0xCD}, testCap+1)
	sess.Blobs[100] = small
	sess.Blobs[101] = over
	sess.Blobs[102] = small

	sess.Histories[7] = []telegram.Message{
		{ID: 9, Text: "", Media: &telegram.Media{Kind: telegram.MediaPhoto, ID: 100}},
		{ID: 8, Text: "", Media: &telegram.Media{Kind: telegram.MediaPhoto, ID: 101}},
		{ID: 7, Text: "", Media: &telegram.Media{Kind: telegram.MediaPhoto, ID: 102, Size: testCap + 1}},
		{ID: 6, Text: "png", Markdown: "png", Media: &telegram.Media{Kind: telegram.MediaDocument, ID: 100, MimeType: "image/png"}},
		{ID: 5, Text: "pdf", Markdown: "pdf", Media: &telegram.Media{Kind: telegram.MediaDocument, ID: 200, MimeType: "application/pdf"}},
		{ID: 4, Text: "link", Markdown: "link", Media: &telegram.Media{Kind: telegram.MediaWebPage}},
		{ID: 3, Text: "", Media: &telegram.Media{Kind: telegram.MediaOther}},
		{ID: 2},
		{ID: 1, Text: "**bold**", Markdown: "**bold**", Out: true},
		{ID: 0, Text: "", Media: &telegram.Media{Kind: telegram.MediaPhoto, ID: 999}},
	}

	got, err := svc.ListMessages(context.Background(), 7, 0, 0)
	if err != nil {
		t.Fatalf("ListMessages() error: %v", err)
	}
	if len(got) != 9 {
		t.Fatalf("len = %d, want 9 (empty message skipped)", len(got))
	}

	byID := make(map[int]domain.Message, len(got))
	for _, m := range got {
		byID[m.ID] = m
	}
	if _, ok := byID[2]; ok {
		t.Error("message without text or media was not skipped")
	}

	encoded := base64.StdEncoding.EncodeToString(small)
	tests := []struct {
		id      int
		kind    domain.MediaKind
		payload string
	}{
		{9, domain.MediaPhoto, "data:image/jpeg;base64," + encoded},
		{8, domain.MediaPhotoTooLarge, ""},
		{7, domain.MediaPhotoTooLarge, ""},
		{6, domain.MediaImage, "data:image/png;base64," + encoded},
		{5, domain.MediaDocument, "[Document: application/pdf]"},
		{4, domain.MediaWebPage, "[Web Preview]"},
		{3, domain.MediaOther, "[Media]"},
		{1, domain.MediaNone, ""},
		{0, domain.MediaPhotoFailed, "[Photo - failed to load]"},
	}
	for _, tt := range tests {
		m := byID[tt.id]
		if m.Media.Kind != tt.kind || m.Media.Payload != tt.payload {
			t.Errorf("message %d media = %s %.40q, want %s %.40q", tt.id, m.Media.Kind, m.Media.Payload, tt.kind, tt.payload)
		}
	}

	if byID[9].Text != "[Media]" {
		t.Errorf("media-only text = %q, want [Media]", byID[9].Text)
	}
	if byID[1].HTML != "<p><strong>bold</strong></p>" || !byID[1].Outgoing {
		t.Errorf("message 1 = %+v", byID[1])
	}
	if sess.Calls("download") != 4 {
		t.Errorf("downloads = %d, want 4 (declared oversize skipped)", sess.Calls("download"))
	}
}

func TestListMessages_ImageMime(t *testing.T) {
	svc, sess := newService(t, true)
	sess.Blobs[1] = []byte("img")

	for _, tt := range []struct{ mime, want string }{
		{"image/gif", "data:image/gif;base64,"},
		{"image/webp", "data:image/webp;base64,"},
		{"image/bmp", "data:image/jpeg;base64,"},
	} {
		sess.Histories[7] = []telegram.Message{{ID: 1, Media: &telegram.Media{Kind: telegram.MediaDocument, ID: 1, MimeType: tt.mime}}}
		got, err := svc.ListMessages(context.Background(), 7, 0, 0)
		if err != nil {
			t.Fatal(err)
		}
		if !strings.HasPrefix(got[0].Media.Payload, tt.want) {
			t.Errorf("%s payload = %.40q, want prefix %q", tt.mime, got[0].Media.Payload, tt.want)
		}
	}
}

func TestListMessages_PlainTextNotReformatted(t *testing.T) {
	svc, sess := newService(t, true)
	texts := []string{
		"1. first\n2. second",
		"2) only",
		"    indented by four",
		"\tindented by tab",
	}
	for i, text := range texts {
		sess.Histories[7] = append(sess.Histories[7], telegram.Message{
			ID:       len(texts) - i,
			Text:     text,
			Markdown: telegram.EntitiesToMarkdown(text, nil),
		})
	}

	got, err := svc.ListMessages(context.Background(), 7, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(texts) {
		t.Fatalf("len = %d, want %d", len(got), len(texts))
	}
	for _, m := range got {
		for _, tag := range []string{"<ol", "<pre", "<code"} {
			if strings.Contains(m.HTML, tag) {
				t.Errorf("message %d html %q contains %s", m.ID, m.HTML, tag)
			}
		}
		if !strings.HasPrefix(m.HTML, "<p>") {
			t.Errorf("message %d html %q, want a paragraph", m.ID, m.HTML)
		}
	}
	if !strings.Contains(got[len(got)-1].HTML, "1. first") {
		t.Errorf("html %q lost the list marker text", got[len(got)-1].HTML)
	}
}

func TestListMessages_BackendError(t *testing.T) {
	svc, _ := newService(t, true)
	if _, err := svc.ListMessages(context.Background(), 404, 0, 0); !errors.Is(err, telegram.ErrUnknownPeer) {
		t.Errorf("ListMessages() = %v, want ErrUnknownPeer", err)
	}
}

func TestSendMessage(t *testing.T) {
	svc, sess := newService(t, true)

	got, err := svc.SendMessage(context.Background(), 7, "  hello  ")
	if err != nil {
		t.Fatalf("SendMessage() error: %v", err)
	}
	if got != "Message sent successfully" {
		t.Errorf("SendMessage() = %q", got)
	}
	sent := sess.SentMessages()
	if len(sent) != 1 || sent[0].ChatID != 7 || sent[0].Text != "hello" {
		t.Errorf("sent = %+v", sent)
	}

	if _, err := svc.SendMessage(context.Background(), 7, " \n\t"); !errors.Is(err, domain.ErrEmptyMessage) {
		t.Errorf("SendMessage(blank) = %v, want ErrEmptyMessage", err)
	}
	if len(sess.SentMessages()) != 1 {
		t.Error("blank message reached the backend")
	}
}

func TestSendMessage_Concurrent(t *testing.T) {
	svc, sess := newService(t, true)

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.SendMessage(context.Background(), int64(i), fmt.Sprintf("msg %d", i))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("SendMessage() error: %v", err)
		}
	}
	if got := len(sess.SentMessages()); got != n {
		t.Errorf("sent = %d, want %d", got, n)
	}
}

func TestSearch(t *testing.T) {
	svc, sess := newService(t, true)
	date := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	sess.SearchHits = []telegram.Message{
		{ID: 1, ChatID: -5, Chat: domain.Group(-5, "Team"), SenderID: 9, Sender: domain.Individual(9, "Eve", ""), Text: strings.Repeat("é", 250), Date: date},
		{ID: 2, ChatID: 3, Media: &telegram.Media{Kind: telegram.MediaPhoto}},
		{ID: 3, ChatID: 4, SenderID: 4, Text: "short"},
	}

	got, err := svc.Search(context.Background(), " hello ", 0)
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if n := len([]rune(got[0].Text)); n != 200 {
		t.Errorf("text runes = %d, want 200", n)
	}
	if got[0].ChatName != "Team" || got[0].SenderName != "Eve" || got[0].ChatID != -5 || !got[0].Timestamp.Equal(date) {
		t.Errorf("result[0] = %+v", got[0])
	}
	if got[1].ChatName != "Unknown" || got[1].SenderName != "User 4" {
		t.Errorf("result[1] = %+v", got[1])
	}

	if _, err := svc.Search(context.Background(), "  ", 0); !errors.Is(err, domain.ErrEmptyQuery) {
		t.Errorf("Search(blank) = %v, want ErrEmptyQuery", err)
	}
}

func TestProfilePhoto(t *testing.T) {
	svc, sess := newService(t, true)
	sess.Photos[1] = []byte("face")
	sess.Photos[2] = bytes.Repeat([]byte{1}, testCap/2+1)

	uri, ok, err := svc.ProfilePhoto(context.Background(), 1)
	if err != nil || !ok {
		t.Fatalf("ProfilePhoto(1) = %q %v %v", uri, ok, err)
	}
	if uri != "data:image/jpeg;base64,"+base64.StdEncoding.EncodeToString([]byte("face")) {
		t.Errorf("uri = %q", uri)
	}

	if _, ok, err := svc.ProfilePhoto(context.Background(), 2); ok || err != nil {
		t.Errorf("ProfilePhoto(over cap) = %v %v, want not ok, nil", ok, err)
	}
	if _, ok, err := svc.ProfilePhoto(context.Background(), 3); ok || err != nil {
		t.Errorf("ProfilePhoto(no photo) = %v %v, want not ok, nil", ok, err)
	}
}

func TestService_Timeout(t *testing.T) {
	sess := telegramtest.NewSession()
	b := bridge.New[telegram.Session](bridge.Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Serve(ctx, sess)
	for !b.Ready() {
		time.Sleep(5 * time.Millisecond)
	}

	store := state.New()
	store.Replace(domain.AuthenticatedStatus(domain.Self{ID: 1}))
	svc := retrieval.New(b, store, retrieval.Options{DefaultTimeout: 20 * time.Millisecond})

	release := sess.Hold("send_text")
	defer release()

	if _, err := svc.SendMessage(context.Background(), 1, "hi"); !errors.Is(err, bridge.ErrTimeout) {
		t.Errorf("SendMessage() = %v, want ErrTimeout", err)
	}
}
