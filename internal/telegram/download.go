package telegram

import (
	"bytes"
	"context"

	"github.com/go-faster/errors"
	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/tg"
)

// cappedBuffer accumulates at most max bytes and fails with ErrTooLarge on
// the write that would exceed it.
type cappedBuffer struct {
	buf      bytes.Buffer
	max      int64
	exceeded bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if int64(b.buf.Len())+int64(len(p)) > b.max {
		b.exceeded = true
		return 0, ErrTooLarge
	}
	return b.buf.Write(p)
}

func (b *cappedBuffer) Bytes() []byte {
	return b.buf.Bytes()
}

// download streams loc into memory, aborting once max bytes are exceeded.
func download(ctx context.Context, api *tg.Client, d *downloader.Downloader, loc tg.InputFileLocationClass, max int64) ([]byte, error) {
	out := &cappedBuffer{max: max}
	if _, err := d.Download(api, loc).Stream(ctx, out); err != nil {
		if out.exceeded || errors.Is(err, ErrTooLarge) {
			return nil, ErrTooLarge
		}
		return nil, mapError(err, "download")
	}
	return out.Bytes(), nil
}
