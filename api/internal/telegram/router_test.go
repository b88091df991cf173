package telegram

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"inkboard/api/internal/board"
	"inkboard/api/internal/recognize"
)

type fakeBot struct {
	mu       sync.Mutex
	fileURL  string
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
}

func (b *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, c)
	return tgbotapi.Message{}, nil
}

func (b *fakeBot) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests = append(b.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (b *fakeBot) GetFileDirectURL(string) (string, error) { return b.fileURL, nil }

func (b *fakeBot) texts() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, c := range b.sent {
		if m, ok := c.(tgbotapi.MessageConfig); ok {
			out = append(out, m.Text)
		}
	}
	return out
}

func (b *fakeBot) last() tgbotapi.MessageConfig {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.sent) - 1; i >= 0; i-- {
		if m, ok := b.sent[i].(tgbotapi.MessageConfig); ok {
			return m
		}
	}
	return tgbotapi.MessageConfig{}
}

type stubEngine struct {
	name, model string
	pred        recognize.Prediction
}

func (s *stubEngine) Name() string     { return s.name }
func (s *stubEngine) GetModel() string { return s.model }
func (s *stubEngine) Predict(context.Context, string) (recognize.Prediction, error) {
	return s.pred, nil
}

func command(chatID int64, text string) tgbotapi.Update {
	cmd := strings.Fields(text)[0]
	return tgbotapi.Update{Message: &tgbotapi.Message{
		Chat:     &tgbotapi.Chat{ID: chatID},
		Text:     text,
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}},
	}}
}

func newRouter(t *testing.T, bot *fakeBot, engines recognize.Registry) *Router {
	t.Helper()
	reg := board.NewRegistry(func() *board.Board { return board.New(nil) }, 0, zerolog.Nop())
	t.Cleanup(func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		reg.Run(ctx, time.Hour)
	})
	return &Router{
		Bot:         bot,
		Boards:      reg,
		EngManager:  recognize.NewManager(engines.Predict),
		Engines:     engines,
		Log:         zerolog.Nop(),
		WaitTimeout: 5 * time.Second,
	}
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 64, 32))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	img.SetGray(5, 5, color.Gray{})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestPhotoIsEvaluated(t *testing.T) {
	data := pngBytes(t)
	files := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(data)
	}))
	defer files.Close()

	bot := &fakeBot{fileURL: files.URL + "/file.png"}
	predict := &stubEngine{name: "predict", pred: recognize.Prediction{FormattedEquation: "2+2", Solution: "4"}}
	r := newRouter(t, bot, recognize.Registry{Predict: predict})

	r.HandleUpdate(tgbotapi.Update{Message: &tgbotapi.Message{
		Chat:  &tgbotapi.Chat{ID: 42},
		Photo: []tgbotapi.PhotoSize{{FileID: "small"}, {FileID: "big"}},
	}})

	msg := bot.last()
	if !strings.Contains(msg.Text, "2+2") || !strings.Contains(msg.Text, "*4*") {
		t.Fatalf("reply = %q", msg.Text)
	}
	kb, ok := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	if !ok || kb.InlineKeyboard[0][0].CallbackData == nil || *kb.InlineKeyboard[0][0].CallbackData != cbClear {
		t.Errorf("reply markup = %#v", msg.ReplyMarkup)
	}

	b, ok := r.Boards.Get(boardID(42))
	if !ok {
		t.Fatal("chat board not mounted")
	}
	if v := b.View(); v.FormattedExpression != "2+2" || v.Result != "4" {
		t.Errorf("board view = %+v", v)
	}

	r.HandleUpdate(tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb1",
		Data:    cbClear,
		Message: &tgbotapi.Message{MessageID: 7, Chat: &tgbotapi.Chat{ID: 42}},
	}})
	if v := b.View(); v.FormattedExpression != "" || v.Result != "" {
		t.Errorf("after clear = %+v", v)
	}
	if len(bot.requests) != 1 {
		t.Errorf("callback not acknowledged")
	}
	if got := bot.last().Text; got != "Board cleared." {
		t.Errorf("last reply = %q", got)
	}
}

func TestPhotoDownloadFailure(t *testing.T) {
	files := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer files.Close()

	bot := &fakeBot{fileURL: files.URL}
	r := newRouter(t, bot, recognize.Registry{Predict: &stubEngine{name: "predict"}})
	r.HandleUpdate(tgbotapi.Update{Message: &tgbotapi.Message{
		Chat:     &tgbotapi.Chat{ID: 1},
		Document: &tgbotapi.Document{FileID: "doc", MimeType: "image/png"},
	}})
	if got := bot.last().Text; !strings.Contains(got, "status 404") {
		t.Errorf("reply = %q", got)
	}
}

func TestEngineCommand(t *testing.T) {
	predict := &stubEngine{name: "predict", model: "127.0.0.1:5000"}
	gemini := &stubEngine{name: "gemini", model: "gemini-2.5-flash"}
	withGemini := recognize.Registry{
		Predict: predict,
		Gemini:  gemini,
		GeminiModel: func(model string) recognize.Engine {
			return &stubEngine{name: "gemini", model: model}
		},
	}

	tests := []struct {
		name     string
		engines  recognize.Registry
		text     string
		wantName string
		wantText string
	}{
		{name: "show current", engines: recognize.Registry{Predict: predict}, text: "/engine", wantName: "predict", wantText: "Current engine: predict (127.0.0.1:5000)"},
		{name: "switch gemini", engines: withGemini, text: "/engine gemini", wantName: "gemini", wantText: "Engine: gemini (gemini-2.5-flash)"},
		{name: "gemini model", engines: withGemini, text: "/engine gemini gemini-2.5-pro", wantName: "gemini", wantText: "Engine: gemini (gemini-2.5-pro)"},
		{name: "gemini missing", engines: recognize.Registry{Predict: predict}, text: "/engine gemini", wantName: "predict", wantText: "gemini is not configured."},
		{name: "unknown", engines: recognize.Registry{Predict: predict}, text: "/engine yandex", wantName: "predict", wantText: "Unknown engine. Available: predict | gemini"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bot := &fakeBot{}
			r := newRouter(t, bot, tt.engines)
			r.HandleUpdate(command(9, tt.text))
			if got := r.EngManager.Get(9).Name(); got != tt.wantName {
				t.Errorf("engine = %q, want %q", got, tt.wantName)
			}
			if got := bot.last().Text; !strings.HasPrefix(got, tt.wantText) {
				t.Errorf("reply = %q, want prefix %q", got, tt.wantText)
			}
			if gemini.model != "gemini-2.5-flash" {
				t.Errorf("shared gemini engine changed to %q", gemini.model)
			}
		})
	}
}

func TestEngineModelIsPerChat(t *testing.T) {
	gemini := &stubEngine{name: "gemini", model: "gemini-2.5-flash"}
	bot := &fakeBot{}
	r := newRouter(t, bot, recognize.Registry{
		Predict: &stubEngine{name: "predict"},
		Gemini:  gemini,
		GeminiModel: func(model string) recognize.Engine {
			return &stubEngine{name: "gemini", model: model}
		},
	})

	r.HandleUpdate(command(1, "/engine gemini gemini-2.5-pro"))
	r.HandleUpdate(command(2, "/engine gemini"))

	if got := r.EngManager.Get(1).GetModel(); got != "gemini-2.5-pro" {
		t.Errorf("chat 1 model = %q", got)
	}
	if got := r.EngManager.Get(2); got != recognize.Engine(gemini) {
		t.Errorf("chat 2 engine = %#v, want the shared one", got)
	}
}

func TestOtherMessages(t *testing.T) {
	bot := &fakeBot{}
	r := newRouter(t, bot, recognize.Registry{Predict: &stubEngine{name: "predict"}})

	r.HandleUpdate(command(3, "/start"))
	r.HandleUpdate(command(3, "/nope"))
	r.HandleUpdate(command(3, "/clear"))
	r.HandleUpdate(tgbotapi.Update{Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 3}, Text: "hello"}})
	r.HandleUpdate(tgbotapi.Update{Message: &tgbotapi.Message{
		Chat:     &tgbotapi.Chat{ID: 3},
		Document: &tgbotapi.Document{FileID: "x", MimeType: "application/pdf"},
	}})
	r.HandleUpdate(tgbotapi.Update{})

	got := bot.texts()
	if len(got) != 4 {
		t.Fatalf("replies = %q", got)
	}
	if !strings.HasPrefix(got[0], "Send a photo") || got[1] != "Unknown command" || got[2] != "Board cleared." || !strings.HasPrefix(got[3], "Send a photo") {
		t.Errorf("replies = %q", got)
	}
}

func TestFormatResult(t *testing.T) {
	tests := []struct {
		name string
		in   recognize.Prediction
		want string
	}{
		{name: "plain", in: recognize.Prediction{FormattedEquation: "2+2", Solution: "4"}, want: "Expression: 2+2\nResult: *4*"},
		{name: "escaped", in: recognize.Prediction{FormattedEquation: "3*x_1", Solution: "6"}, want: "Expression: 3\\*x\\_1\nResult: *6*"},
		{name: "no solution", in: recognize.Prediction{FormattedEquation: "x"}, want: "Expression: x"},
		{name: "entered differs", in: recognize.Prediction{EnteredEquation: "2 + 2", FormattedEquation: "2+2", Solution: "4"}, want: "Expression: 2+2\nResult: *4*\nRead as: 2 + 2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatResult(tt.in); got != tt.want {
				t.Errorf("formatResult = %q, want %q", got, tt.want)
			}
		})
	}

	long := formatResult(recognize.Prediction{FormattedEquation: strings.Repeat("1", 5000)})
	if !strings.HasSuffix(long, "…") || len(long) > maxText+len("…") {
		t.Errorf("long result not truncated: %d", len(long))
	}

	wide := formatResult(recognize.Prediction{FormattedEquation: "x" + strings.Repeat("√", 2000)})
	if !utf8.ValidString(wide) || !strings.HasSuffix(wide, "…") || len(wide) > maxText+len("…") {
		t.Errorf("multibyte result cut badly: len=%d valid=%v", len(wide), utf8.ValidString(wide))
	}
}
