package telegram

import (
	"sync"

	"github.com/gotd/td/tg"

	"github.com/danhigham/telecharm-web/internal/domain"
)

// Chat IDs exposed to callers use the marked convention: users keep their
// ID, basic groups are negated, channels are offset below channelIDBase.
const channelIDBase = -1000000000000

func markedID(peer tg.PeerClass) int64 {
	switch p := peer.(type) {
	case *tg.PeerUser:
		return p.UserID
	case *tg.PeerChat:
		return -p.ChatID
	case *tg.PeerChannel:
		return channelIDBase - p.ChannelID
	default:
		return 0
	}
}

func markedIDFromInput(peer tg.InputPeerClass) int64 {
	switch p := peer.(type) {
	case *tg.InputPeerUser:
		return p.UserID
	case *tg.InputPeerChat:
		return -p.ChatID
	case *tg.InputPeerChannel:
		return channelIDBase - p.ChannelID
	default:
		return 0
	}
}

// peerEntry is what the session remembers about a chat it has seen.
type peerEntry struct {
	input   tg.InputPeerClass
	entity  domain.Entity
	photoID int64
}

// peerCache maps marked chat IDs to input peers and resolved entities.
type peerCache struct {
	mu    sync.Mutex
	peers map[int64]peerEntry
}

func newPeerCache() *peerCache {
	return &peerCache{peers: make(map[int64]peerEntry)}
}

func (c *peerCache) get(chatID int64) (peerEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.peers[chatID]
	return e, ok
}

func (c *peerCache) put(chatID int64, e peerEntry) {
	if chatID == 0 || e.input == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.peers[chatID] = e
}

func (c *peerCache) entity(chatID int64) domain.Entity {
	e, _ := c.get(chatID)
	return e.entity
}

// rememberUsers caches every full user object in users.
func (c *peerCache) rememberUsers(users []tg.UserClass) map[int64]*tg.User {
	m := usersToMap(users)
	for _, u := range m {
		c.put(u.ID, userEntry(u))
	}
	return m
}

// rememberChats caches every basic group and channel in chats and returns
// their entities keyed by marked ID.
func (c *peerCache) rememberChats(chats []tg.ChatClass) map[int64]domain.Entity {
	m := make(map[int64]domain.Entity, len(chats))
	for _, ch := range chats {
		switch ch := ch.(type) {
		case *tg.Chat:
			e := chatEntry(ch)
			c.put(-ch.ID, e)
			m[-ch.ID] = e.entity
		case *tg.Channel:
			e := channelEntry(ch)
			c.put(channelIDBase-ch.ID, e)
			m[channelIDBase-ch.ID] = e.entity
		}
	}
	return m
}

func userEntry(u *tg.User) peerEntry {
	e := peerEntry{
		input:  &tg.InputPeerUser{UserID: u.ID, AccessHash: u.AccessHash},
		entity: userEntity(u),
	}
	if p, ok := u.Photo.(*tg.UserProfilePhoto); ok {
		e.photoID = p.PhotoID
	}
	return e
}

func chatEntry(ch *tg.Chat) peerEntry {
	e := peerEntry{
		input:  &tg.InputPeerChat{ChatID: ch.ID},
		entity: domain.Group(-ch.ID, ch.Title),
	}
	if p, ok := ch.Photo.(*tg.ChatPhoto); ok {
		e.photoID = p.PhotoID
	}
	return e
}

func channelEntry(ch *tg.Channel) peerEntry {
	e := peerEntry{
		input:  &tg.InputPeerChannel{ChannelID: ch.ID, AccessHash: ch.AccessHash},
		entity: channelEntity(ch),
	}
	if p, ok := ch.Photo.(*tg.ChatPhoto); ok {
		e.photoID = p.PhotoID
	}
	return e
}

func userEntity(u *tg.User) domain.Entity {
	return domain.Individual(u.ID, u.FirstName, u.LastName)
}

// channelEntity treats megagroups as groups and broadcast channels as
// channels.
func channelEntity(ch *tg.Channel) domain.Entity {
	id := channelIDBase - ch.ID
	if ch.Broadcast {
		return domain.Channel(id, ch.Title)
	}
	return domain.Group(id, ch.Title)
}

func dialogKind(e domain.Entity) domain.DialogKind {
	switch e.Kind {
	case domain.EntityGroup:
		return domain.DialogGroup
	case domain.EntityChannel:
		return domain.DialogChannel
	case domain.EntityIndividual, domain.EntityUnknown:
		return domain.DialogDirect
	}
	return domain.DialogDirect
}

// usersToMap converts a UserClass slice to a map of User by ID.
func usersToMap(users []tg.UserClass) map[int64]*tg.User {
	m := make(map[int64]*tg.User, len(users))
	for _, u := range users {
		user, ok := u.(*tg.User)
		if !ok {
			continue
		}
		m[user.ID] = user
	}
	return m
}
