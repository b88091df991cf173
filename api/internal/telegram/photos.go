package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"inkboard/api/internal/board"
	"inkboard/api/internal/canvas"
)

// maxDownload matches the Bot API's own download limit.
const maxDownload = 20 << 20

var errTooBig = errors.New("file is larger than 20 MB")

// imageFileID picks the largest photo size, or an image sent as a document.
func imageFileID(msg tgbotapi.Message) (string, bool) {
	if n := len(msg.Photo); n > 0 {
		return msg.Photo[n-1].FileID, true
	}
	if d := msg.Document; d != nil && strings.HasPrefix(d.MimeType, "image/") {
		return d.FileID, true
	}
	return "", false
}

// acceptPhoto sends the image down the chat board's upload path and replies
// with the result.
func (r *Router) acceptPhoto(msg tgbotapi.Message) {
	cid := msg.Chat.ID
	fileID, _ := imageFileID(msg)
	log := r.Log.With().Int64("chat_id", cid).Logger()

	url, err := r.Bot.GetFileDirectURL(fileID)
	if err != nil {
		r.SendError(cid, fmt.Errorf("get file: %w", err))
		return
	}
	data, err := r.download(url)
	if err != nil {
		r.SendError(cid, fmt.Errorf("download: %w", err))
		return
	}
	img, err := canvas.FitUpload(data)
	if err != nil {
		r.SendError(cid, err)
		return
	}

	b := r.Boards.Acquire(boardID(cid))
	b.SetEngine(r.EngManager.Get(cid))
	task, err := b.Upload(context.Background(), img)
	if err != nil {
		r.SendError(cid, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.waitTimeout())
	defer cancel()
	p, err := task.Wait(ctx)
	switch {
	case errors.Is(err, board.ErrStale):
		// A later photo or /clear took over; its own reply follows.
		log.Debug().Msg("photo superseded")
	case err != nil:
		r.SendError(cid, err)
	default:
		log.Info().Str("engine", task.Engine()).Str("formatted_equation", p.FormattedEquation).Msg("photo evaluated")
		r.SendResult(cid, p)
	}
}

func (r *Router) clearBoard(chatID int64) {
	if b, ok := r.Boards.Get(boardID(chatID)); ok {
		if err := b.Clear(); err != nil {
			r.Log.Warn().Err(err).Int64("chat_id", chatID).Msg("clear board")
		}
	}
	r.send(chatID, "Board cleared.")
}

func (r *Router) waitTimeout() time.Duration {
	if r.WaitTimeout > 0 {
		return r.WaitTimeout
	}
	return 3 * time.Minute
}

func (r *Router) download(url string) ([]byte, error) {
	resp, err := r.httpClient().Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(b))
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownload+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxDownload {
		return nil, errTooBig
	}
	return data, nil
}

func (r *Router) httpClient() *http.Client {
	if r.HTTPClient != nil {
		return r.HTTPClient
	}
	return &http.Client{Timeout: 60 * time.Second}
}
