package telegram

import (
	"fmt"
	"time"

	"github.com/gotd/td/tg"

	"github.com/danhigham/telecharm-web/internal/domain"
)

// entitySet is the user and chat data delivered alongside messages.
type entitySet struct {
	users map[int64]*tg.User
	chats map[int64]domain.Entity
}

func (s entitySet) lookup(peer tg.PeerClass, cache *peerCache) domain.Entity {
	switch p := peer.(type) {
	case *tg.PeerUser:
		if u, ok := s.users[p.UserID]; ok {
			return userEntity(u)
		}
	case *tg.PeerChat, *tg.PeerChannel:
		if e, ok := s.chats[markedID(p)]; ok {
			return e
		}
	}
	if cache != nil {
		return cache.entity(markedID(peer))
	}
	return domain.Entity{}
}

// convertMessage converts a tg.Message into a Message with sender and chat
// resolved from set, falling back to the peer cache.
func convertMessage(msg *tg.Message, set entitySet, cache *peerCache, self *domain.Self) Message {
	out := Message{
		ID:       msg.ID,
		ChatID:   markedID(msg.PeerID),
		Text:     msg.Message,
		Markdown: EntitiesToMarkdown(msg.Message, msg.Entities),
		Date:     unixTime(msg.Date),
		Out:      msg.Out,
		Media:    convertMedia(msg.Media),
	}
	out.Chat = set.lookup(msg.PeerID, cache)

	switch {
	case msg.FromID != nil:
		out.SenderID = markedID(msg.FromID)
		out.Sender = set.lookup(msg.FromID, cache)
	case msg.Out && self != nil:
		// In DMs FromID is often nil; derive the sender from the Out flag.
		out.SenderID = self.ID
		out.Sender = domain.Individual(self.ID, self.FirstName, self.LastName)
	default:
		out.SenderID = out.ChatID
		out.Sender = out.Chat
	}

	return out
}

// convertMedia maps a message attachment to a Media reference.
func convertMedia(media tg.MessageMediaClass) *Media {
	if media == nil {
		return nil
	}

	switch m := media.(type) {
	case *tg.MessageMediaEmpty:
		return nil
	case *tg.MessageMediaPhoto:
		photo, ok := m.Photo.(*tg.Photo)
		if !ok {
			return &Media{Kind: MediaOther}
		}
		thumb, size := largestPhotoSize(photo.Sizes)
		return &Media{
			Kind:     MediaPhoto,
			ID:       photo.ID,
			MimeType: "image/jpeg",
			Size:     int64(size),
			location: &tg.InputPhotoFileLocation{
				ID:            photo.ID,
				AccessHash:    photo.AccessHash,
				FileReference: photo.FileReference,
				ThumbSize:     thumb,
			},
		}
	case *tg.MessageMediaDocument:
		doc, ok := m.Document.(*tg.Document)
		if !ok {
			return &Media{Kind: MediaOther}
		}
		return &Media{
			Kind:     MediaDocument,
			ID:       doc.ID,
			MimeType: doc.MimeType,
			Size:     doc.Size,
			location: &tg.InputDocumentFileLocation{
				ID:            doc.ID,
				AccessHash:    doc.AccessHash,
				FileReference: doc.FileReference,
			},
		}
	case *tg.MessageMediaWebPage:
		return &Media{Kind: MediaWebPage}
	default:
		return &Media{Kind: MediaOther}
	}
}

// largestPhotoSize picks the biggest downloadable size of a photo and
// returns its type and declared byte size.
func largestPhotoSize(sizes []tg.PhotoSizeClass) (string, int) {
	var (
		bestType string
		bestSize int
	)
	for _, s := range sizes {
		switch s := s.(type) {
		case *tg.PhotoSize:
			if s.Size >= bestSize {
				bestType, bestSize = s.Type, s.Size
			}
		case *tg.PhotoSizeProgressive:
			if n := len(s.Sizes); n > 0 && s.Sizes[n-1] >= bestSize {
				bestType, bestSize = s.Type, s.Sizes[n-1]
			}
		}
	}
	return bestType, bestSize
}

// messagesResult extracts messages, users and chats from a
// MessagesMessagesClass response.
func messagesResult(result tg.MessagesMessagesClass) ([]tg.MessageClass, []tg.UserClass, []tg.ChatClass, error) {
	switch r := result.(type) {
	case *tg.MessagesMessages:
		return r.Messages, r.Users, r.Chats, nil
	case *tg.MessagesMessagesSlice:
		return r.Messages, r.Users, r.Chats, nil
	case *tg.MessagesChannelMessages:
		return r.Messages, r.Users, r.Chats, nil
	default:
		return nil, nil, nil, fmt.Errorf("unexpected messages type: %T", result)
	}
}

func unixTime(date int) time.Time {
	return time.Unix(int64(date), 0)
}

// selfFromUser converts the account's own user object.
func selfFromUser(u *tg.User) domain.Self {
	return domain.Self{
		ID:        u.ID,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Username:  u.Username,
		Phone:     u.Phone,
	}
}
