package retrieval

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/danhigham/telecharm-web/internal/domain"
	"github.com/danhigham/telecharm-web/internal/telegram"
)

const (
	webPagePlaceholder     = "[Web Preview]"
	photoFailedPlaceholder = "[Photo - failed to load]"
	imageFailedPlaceholder = "[Image - failed to load]"
)

// resolveMedia turns an attachment into its projected descriptor,
// downloading photos and image documents up to the inline cap.
func (s *Service) resolveMedia(ctx context.Context, sess telegram.Session, m *telegram.Media) domain.MediaDescriptor {
	if m == nil {
		return domain.MediaDescriptor{Kind: domain.MediaNone}
	}

	switch m.Kind {
	case telegram.MediaPhoto:
		return s.inline(ctx, sess, m, "image/jpeg",
			domain.MediaPhoto, domain.MediaPhotoTooLarge, domain.MediaPhotoFailed, photoFailedPlaceholder)
	case telegram.MediaDocument:
		if !strings.HasPrefix(m.MimeType, "image/") {
			return domain.MediaDescriptor{Kind: domain.MediaDocument, Payload: "[Document: " + m.MimeType + "]"}
		}
		return s.inline(ctx, sess, m, imageMime(m.MimeType),
			domain.MediaImage, domain.MediaImageTooLarge, domain.MediaImageFailed, imageFailedPlaceholder)
	case telegram.MediaWebPage:
		return domain.MediaDescriptor{Kind: domain.MediaWebPage, Payload: webPagePlaceholder}
	}
	return domain.MediaDescriptor{Kind: domain.MediaOther, Payload: domain.MediaPlaceholder}
}

func (s *Service) inline(ctx context.Context, sess telegram.Session, m *telegram.Media, mime string, ok, tooLarge, failed domain.MediaKind, failedText string) domain.MediaDescriptor {
	limit := s.opts.MaxInlineBytes
	if m.Size > limit {
		s.log.Debug("Media over cap, skipping download",
			zap.Int64("media_id", m.ID), zap.Int64("size", m.Size), zap.Int64("limit", limit))
		return domain.MediaDescriptor{Kind: tooLarge}
	}

	data, err := sess.Download(ctx, m, limit)
	switch {
	case errors.Is(err, telegram.ErrTooLarge):
		return domain.MediaDescriptor{Kind: tooLarge}
	case err != nil:
		s.log.Warn("Media download failed", zap.Int64("media_id", m.ID), zap.Error(err))
		return domain.MediaDescriptor{Kind: failed, Payload: failedText}
	}
	return domain.MediaDescriptor{Kind: ok, Payload: dataURI(mime, data)}
}

// imageMime picks the data URI type for an image document.
func imageMime(mimeType string) string {
	switch {
	case strings.Contains(mimeType, "png"):
		return "image/png"
	case strings.Contains(mimeType, "gif"):
		return "image/gif"
	case strings.Contains(mimeType, "webp"):
		return "image/webp"
	default:
		return "image/jpeg"
	}
}

func dataURI(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}
