package telegram

import (
	"context"
	"sync"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/telegram/query/dialogs"
	"github.com/gotd/td/telegram/updates"
	"github.com/gotd/td/tg"

	"github.com/danhigham/telecharm-web/internal/domain"
)

// warmDialogs is how many dialogs are scanned to resolve a chat ID that has
// not been seen yet.
const warmDialogs = 200

// GotdRunner implements Runner using gotd/td. Each Run builds a fresh client
// on top of the shared session storage.
type GotdRunner struct {
	apiID   int
	apiHash string
	storage session.Storage
	logger  *zap.Logger
}

func NewGotdRunner(apiID int, apiHash string, storage session.Storage, logger *zap.Logger) *GotdRunner {
	return &GotdRunner{
		apiID:   apiID,
		apiHash: apiHash,
		storage: storage,
		logger:  logger,
	}
}

// Run connects and calls fn with a live session. It blocks until fn returns
// or ctx is cancelled.
func (r *GotdRunner) Run(ctx context.Context, fn func(ctx context.Context, s Session) error) error {
	router := &updateRouter{}
	client := telegram.NewClient(r.apiID, r.apiHash, telegram.Options{
		Logger:         r.logger.Named("gotd"),
		UpdateHandler:  router,
		SessionStorage: r.storage,
	})

	return client.Run(ctx, func(ctx context.Context) error {
		api := client.API()
		s := &gotdSession{
			client:     client,
			api:        api,
			sender:     message.NewSender(api),
			downloader: downloader.NewDownloader(),
			router:     router,
			peers:      newPeerCache(),
			logger:     r.logger,
		}
		return fn(ctx, s)
	})
}

// updateRouter forwards updates to the current subscriber, if any. The
// gotd client needs its handler at construction time, before anyone has
// signed in.
type updateRouter struct {
	mu      sync.RWMutex
	handler telegram.UpdateHandler
}

func (r *updateRouter) set(h telegram.UpdateHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handler = h
}

func (r *updateRouter) Handle(ctx context.Context, u tg.UpdatesClass) error {
	r.mu.RLock()
	h := r.handler
	r.mu.RUnlock()
	if h == nil {
		return nil
	}
	return h.Handle(ctx, u)
}

type gotdSession struct {
	client     *telegram.Client
	api        *tg.Client
	sender     *message.Sender
	downloader *downloader.Downloader
	router     *updateRouter
	peers      *peerCache
	logger     *zap.Logger

	mu   sync.Mutex
	self *domain.Self
}

func (s *gotdSession) setSelf(u *tg.User) domain.Self {
	self := selfFromUser(u)
	s.mu.Lock()
	s.self = &self
	s.mu.Unlock()
	s.peers.put(u.ID, userEntry(u))
	return self
}

func (s *gotdSession) currentSelf() *domain.Self {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.self
}

func (s *gotdSession) fetchSelf(ctx context.Context) (domain.Self, error) {
	u, err := s.client.Self(ctx)
	if err != nil {
		return domain.Self{}, mapError(err, "get self")
	}
	return s.setSelf(u), nil
}

func (s *gotdSession) Status(ctx context.Context) (domain.Self, bool, error) {
	st, err := s.client.Auth().Status(ctx)
	if err != nil {
		return domain.Self{}, false, mapError(err, "auth status")
	}
	if !st.Authorized {
		return domain.Self{}, false, nil
	}
	if st.User == nil {
		self, err := s.fetchSelf(ctx)
		return self, err == nil, err
	}
	return s.setSelf(st.User), true, nil
}

func (s *gotdSession) SendCode(ctx context.Context, phone string) (string, error) {
	sent, err := s.client.Auth().SendCode(ctx, phone, auth.SendCodeOptions{})
	if err != nil {
		return "", mapAuthError(err, "send code")
	}
	switch c := any(sent).(type) {
	case *tg.AuthSentCode:
		return c.PhoneCodeHash, nil
	default:
		return "", errors.Errorf("unexpected sent code type %T", sent)
	}
}

func (s *gotdSession) SignIn(ctx context.Context, phone, code, codeHash string) (domain.Self, error) {
	if _, err := s.client.Auth().SignIn(ctx, phone, code, codeHash); err != nil {
		return domain.Self{}, mapAuthError(err, "sign in")
	}
	return s.fetchSelf(ctx)
}

func (s *gotdSession) Password(ctx context.Context, password string) (domain.Self, error) {
	if _, err := s.client.Auth().Password(ctx, password); err != nil {
		return domain.Self{}, mapAuthError(err, "password")
	}
	return s.fetchSelf(ctx)
}

func (s *gotdSession) LogOut(ctx context.Context) error {
	if _, err := s.api.AuthLogOut(ctx); err != nil {
		return mapError(err, "log out")
	}
	s.mu.Lock()
	s.self = nil
	s.mu.Unlock()
	return nil
}

// Dialogs retrieves the list of dialogs and refreshes the peer cache.
func (s *gotdSession) Dialogs(ctx context.Context, limit int) ([]Dialog, error) {
	batch := limit
	if batch > 100 {
		batch = 100
	}
	iter := dialogs.NewQueryBuilder(s.api).GetDialogs().BatchSize(batch).Iter()

	var result []Dialog
	for len(result) < limit && iter.Next(ctx) {
		elem := iter.Value()

		entry := entryFromElem(elem)
		chatID := markedIDFromInput(elem.Peer)
		s.peers.put(chatID, entry)

		d := Dialog{
			ChatID: chatID,
			Entity: entry.entity,
			Kind:   kindOf(elem.Dialog.GetPeer(), entry.entity),
		}
		if dlg, ok := elem.Dialog.(*tg.Dialog); ok {
			d.UnreadCount = dlg.UnreadCount
		}
		if elem.Last != nil {
			d.HasLast = true
			if msg, ok := elem.Last.(*tg.Message); ok {
				d.LastText = msg.Message
				d.LastDate = unixTime(msg.Date)
			}
			if msg, ok := elem.Last.(*tg.MessageService); ok {
				d.LastDate = unixTime(msg.Date)
			}
		}

		result = append(result, d)
	}
	if err := iter.Err(); err != nil {
		return nil, mapError(err, "iterate dialogs")
	}

	return result, nil
}

// resolve finds the input peer for chatID, scanning dialogs once on a miss.
func (s *gotdSession) resolve(ctx context.Context, chatID int64) (peerEntry, error) {
	if e, ok := s.peers.get(chatID); ok {
		return e, nil
	}
	if _, err := s.Dialogs(ctx, warmDialogs); err != nil {
		return peerEntry{}, err
	}
	if e, ok := s.peers.get(chatID); ok {
		return e, nil
	}
	return peerEntry{}, errors.Wrapf(ErrUnknownPeer, "chat %d", chatID)
}

// History retrieves message history for a chat, newest first.
func (s *gotdSession) History(ctx context.Context, chatID int64, limit, beforeID int) ([]Message, error) {
	entry, err := s.resolve(ctx, chatID)
	if err != nil {
		return nil, err
	}

	return s.collectMessages(ctx, limit, pageCursor{offsetID: beforeID}, func(ctx context.Context, batch int, cur pageCursor) (tg.MessagesMessagesClass, error) {
		result, err := s.api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
			Peer:     entry.input,
			Limit:    batch,
			OffsetID: cur.offsetID,
		})
		if err != nil {
			return nil, mapError(err, "get history")
		}
		return result, nil
	})
}

func (s *gotdSession) Search(ctx context.Context, query string, limit int) ([]Message, error) {
	return s.collectMessages(ctx, limit, pageCursor{}, func(ctx context.Context, batch int, cur pageCursor) (tg.MessagesMessagesClass, error) {
		var offsetPeer tg.InputPeerClass = &tg.InputPeerEmpty{}
		if e, ok := s.peers.get(cur.offsetPeer); ok {
			offsetPeer = e.input
		}
		result, err := s.api.MessagesSearchGlobal(ctx, &tg.MessagesSearchGlobalRequest{
			Q:          query,
			Filter:     &tg.InputMessagesFilterEmpty{},
			OffsetRate: cur.offsetRate,
			OffsetPeer: offsetPeer,
			OffsetID:   cur.offsetID,
			Limit:      batch,
		})
		if err != nil {
			return nil, mapError(err, "search")
		}
		return result, nil
	})
}

// maxPage is the most messages Telegram returns for one history or search
// request.
const maxPage = 100

// pageCursor positions the next history or search request after the last
// message of the previous page.
type pageCursor struct {
	offsetID   int
	offsetRate int
	offsetPeer int64
}

type pageFetcher func(ctx context.Context, batch int, cur pageCursor) (tg.MessagesMessagesClass, error)

// collectMessages requests pages of at most maxPage messages until limit
// messages are gathered or the server has no more.
func (s *gotdSession) collectMessages(ctx context.Context, limit int, cur pageCursor, fetch pageFetcher) ([]Message, error) {
	var out []Message
	for len(out) < limit {
		batch := min(limit-len(out), maxPage)
		result, err := fetch(ctx, batch, cur)
		if err != nil {
			return nil, err
		}
		page, raw, err := s.convertResult(result)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)

		next, more := nextCursor(result, raw, batch)
		if !more {
			break
		}
		cur = next
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// nextCursor reports where the page after raw starts. A short page or a
// complete (non-slice) result means there is nothing more to fetch.
func nextCursor(result tg.MessagesMessagesClass, raw []tg.MessageClass, batch int) (pageCursor, bool) {
	if len(raw) == 0 || len(raw) < batch {
		return pageCursor{}, false
	}
	if _, ok := result.(*tg.MessagesMessages); ok {
		return pageCursor{}, false
	}

	var cur pageCursor
	switch m := raw[len(raw)-1].(type) {
	case *tg.Message:
		cur.offsetID, cur.offsetPeer = m.ID, markedID(m.PeerID)
	case *tg.MessageService:
		cur.offsetID, cur.offsetPeer = m.ID, markedID(m.PeerID)
	default:
		return pageCursor{}, false
	}
	if slice, ok := result.(*tg.MessagesMessagesSlice); ok {
		if rate, ok := slice.GetNextRate(); ok {
			cur.offsetRate = rate
		}
	}
	return cur, true
}

// convertResult converts the text messages of result and also returns every
// raw message, service messages included, for paging.
func (s *gotdSession) convertResult(result tg.MessagesMessagesClass) ([]Message, []tg.MessageClass, error) {
	msgs, users, chats, err := messagesResult(result)
	if err != nil {
		return nil, nil, err
	}

	set := entitySet{
		users: s.peers.rememberUsers(users),
		chats: s.peers.rememberChats(chats),
	}
	self := s.currentSelf()

	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		msg, ok := m.(*tg.Message)
		if !ok {
			continue
		}
		out = append(out, convertMessage(msg, set, s.peers, self))
	}
	return out, msgs, nil
}

// SendText sends a text message to the given chat.
func (s *gotdSession) SendText(ctx context.Context, chatID int64, text string) error {
	entry, err := s.resolve(ctx, chatID)
	if err != nil {
		return err
	}
	if _, err := s.sender.To(entry.input).Text(ctx, text); err != nil {
		return mapError(err, "send message")
	}
	return nil
}

func (s *gotdSession) Download(ctx context.Context, m *Media, max int64) ([]byte, error) {
	if m == nil || m.location == nil {
		return nil, errors.New("media has no downloadable location")
	}
	return download(ctx, s.api, s.downloader, m.location, max)
}

func (s *gotdSession) ProfilePhoto(ctx context.Context, chatID int64, max int64) ([]byte, error) {
	entry, err := s.resolve(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if entry.photoID == 0 {
		return nil, ErrNoPhoto
	}
	loc := &tg.InputPeerPhotoFileLocation{
		Big:     true,
		Peer:    entry.input,
		PhotoID: entry.photoID,
	}
	return download(ctx, s.api, s.downloader, loc, max)
}

// Subscribe runs the gap-aware update manager and forwards new messages to
// fn until ctx is done.
func (s *gotdSession) Subscribe(ctx context.Context, selfID int64, fn func(Incoming)) error {
	dispatcher := tg.NewUpdateDispatcher()

	forward := func(e tg.Entities, m tg.MessageClass) {
		msg, ok := m.(*tg.Message)
		if !ok {
			return
		}
		set := s.rememberEntities(e)
		fn(Incoming{Message: convertMessage(msg, set, s.peers, s.currentSelf())})
	}

	dispatcher.OnNewMessage(func(ctx context.Context, e tg.Entities, update *tg.UpdateNewMessage) error {
		forward(e, update.Message)
		return nil
	})
	dispatcher.OnNewChannelMessage(func(ctx context.Context, e tg.Entities, update *tg.UpdateNewChannelMessage) error {
		forward(e, update.Message)
		return nil
	})

	gaps := updates.New(updates.Config{
		Handler: dispatcher,
		Logger:  s.logger.Named("gaps"),
	})
	s.router.set(gaps)
	defer s.router.set(nil)

	return gaps.Run(ctx, s.api, selfID, updates.AuthOptions{})
}

// rememberEntities caches the entities attached to an update.
func (s *gotdSession) rememberEntities(e tg.Entities) entitySet {
	set := entitySet{
		users: e.Users,
		chats: make(map[int64]domain.Entity, len(e.Chats)+len(e.Channels)),
	}
	for _, u := range e.Users {
		s.peers.put(u.ID, userEntry(u))
	}
	for _, ch := range e.Chats {
		entry := chatEntry(ch)
		s.peers.put(-ch.ID, entry)
		set.chats[-ch.ID] = entry.entity
	}
	for _, ch := range e.Channels {
		entry := channelEntry(ch)
		s.peers.put(channelIDBase-ch.ID, entry)
		set.chats[channelIDBase-ch.ID] = entry.entity
	}
	return set
}

// entryFromElem resolves the dialog entity from the entities shipped with
// the dialog page.
func entryFromElem(elem dialogs.Elem) peerEntry {
	var entry peerEntry
	switch p := elem.Dialog.GetPeer().(type) {
	case *tg.PeerUser:
		if u, ok := elem.Entities.User(p.UserID); ok {
			entry = userEntry(u)
		}
	case *tg.PeerChat:
		if ch, ok := elem.Entities.Chat(p.ChatID); ok {
			entry = chatEntry(ch)
		}
	case *tg.PeerChannel:
		if ch, ok := elem.Entities.Channel(p.ChannelID); ok {
			entry = channelEntry(ch)
		}
	}
	// The dialog's own input peer carries the access hash used to list it.
	entry.input = elem.Peer
	return entry
}

func kindOf(peer tg.PeerClass, e domain.Entity) domain.DialogKind {
	if e.Kind != domain.EntityUnknown {
		return dialogKind(e)
	}
	switch peer.(type) {
	case *tg.PeerChat:
		return domain.DialogGroup
	case *tg.PeerChannel:
		return domain.DialogChannel
	default:
		return domain.DialogDirect
	}
}
