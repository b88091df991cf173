package telegram

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"inkboard/api/internal/board"
	"inkboard/api/internal/recognize"
)

// Bot is the part of *tgbotapi.BotAPI the router uses.
type Bot interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
}

type Router struct {
	Bot        Bot
	Boards     *board.Registry
	EngManager *recognize.Manager
	Engines    recognize.Registry
	Log        zerolog.Logger

	// HTTPClient downloads files from Telegram. Nil means a 60s client.
	HTTPClient *http.Client
	// WaitTimeout bounds how long a chat waits for its result.
	WaitTimeout time.Duration
}

func boardID(chatID int64) string { return "tg:" + strconv.FormatInt(chatID, 10) }

// HandleUpdate runs one update to completion. A photo blocks until its
// result is sent, so callers that must not block should run it in a
// goroutine.
func (r *Router) HandleUpdate(upd tgbotapi.Update) {
	if upd.CallbackQuery != nil {
		r.handleCallback(*upd.CallbackQuery)
		return
	}
	if upd.Message == nil || upd.Message.Chat == nil {
		return
	}
	msg := upd.Message

	if msg.IsCommand() {
		r.HandleCommand(*msg)
		return
	}
	if _, ok := imageFileID(*msg); ok {
		r.acceptPhoto(*msg)
		return
	}
	if strings.TrimSpace(msg.Text) != "" {
		r.send(msg.Chat.ID, "Send a photo of a handwritten expression and I will evaluate it.")
	}
}

func (r *Router) HandleCommand(msg tgbotapi.Message) {
	cid := msg.Chat.ID
	switch msg.Command() {
	case "start", "help":
		r.send(cid, "Send a photo of a handwritten expression and I will return it typed out with its value.\n"+
			"Commands: /engine, /clear")
	case "engine":
		r.handleEngineCommand(cid, msg.CommandArguments())
	case "clear":
		r.clearBoard(cid)
	default:
		r.send(cid, "Unknown command")
	}
}

func (r *Router) send(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := r.Bot.Send(msg); err != nil {
		r.Log.Warn().Err(err).Int64("chat_id", chatID).Msg("telegram send")
	}
}

func (r *Router) SendResult(chatID int64, p recognize.Prediction) {
	msg := tgbotapi.NewMessage(chatID, formatResult(p))
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.ReplyMarkup = makeClearKeyboard()
	if _, err := r.Bot.Send(msg); err != nil {
		r.Log.Warn().Err(err).Int64("chat_id", chatID).Msg("telegram send result")
	}
}

func (r *Router) SendError(chatID int64, err error) {
	r.Log.Error().Err(err).Int64("chat_id", chatID).Msg("handle photo")
	r.send(chatID, "Could not evaluate the image: "+err.Error())
}
