package telegram

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/go-telegram/bot/models"

	"github.com/aiprophet/prophet/internal/engine"
	"github.com/aiprophet/prophet/internal/tools/websearch"
)

func TestGreeting(t *testing.T) {
	tests := []struct {
		hour int
		want string
	}{
		{0, "Доброй ночи"},
		{5, "Доброй ночи"},
		{6, "С рассветом"},
		{11, "С рассветом"},
		{12, "Приветствую"},
		{17, "Приветствую"},
		{18, "Добрый вечер"},
		{23, "Добрый вечер"},
	}
	for _, tt := range tests {
		now := time.Date(2026, 3, 1, tt.hour, 0, 0, 0, time.UTC)
		got := greeting("Анна", now)
		if !strings.Contains(got, tt.want) || !strings.Contains(got, "Анна") {
			t.Errorf("greeting(hour %d) = %q, want %q", tt.hour, got, tt.want)
		}
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		in       string
		name     string
		args     string
		isCommad bool
	}{
		{"/start", "start", "", true},
		{"/Start@ProphetBot", "start", "", true},
		{"/search  golang generics ", "search", "golang generics", true},
		{"hello", "", "", false},
		{"/", "", "", false},
	}
	for _, tt := range tests {
		name, args, ok := parseCommand(tt.in)
		if name != tt.name || args != tt.args || ok != tt.isCommad {
			t.Errorf("parseCommand(%q) = %q, %q, %v", tt.in, name, args, ok)
		}
	}
}

func TestSplitMessage(t *testing.T) {
	if got := splitMessage("short", 10); len(got) != 1 || got[0] != "short" {
		t.Errorf("splitMessage(short) = %q", got)
	}

	text := "aaaa\nbbbb\ncccc"
	got := splitMessage(text, 6)
	if strings.Join(got, "") != text {
		t.Errorf("chunks do not reassemble: %q", got)
	}
	for _, chunk := range got {
		if len([]rune(chunk)) > 6 {
			t.Errorf("chunk %q exceeds limit", chunk)
		}
	}
	if got[0] != "aaaa\n" {
		t.Errorf("first chunk = %q, want cut at newline", got[0])
	}
}

func TestAdminURL(t *testing.T) {
	if got := adminURL("https://x.io/app/"); got != "https://x.io/app/?admin=true" {
		t.Errorf("adminURL() = %q", got)
	}
	if got := adminURL("https://x.io/?v=2"); got != "https://x.io/?v=2&admin=true" {
		t.Errorf("adminURL() = %q", got)
	}
}

func TestHandleStart(t *testing.T) {
	env := newTestEnv(t)
	env.adapter.handleUpdate(context.Background(), nil, textUpdate(10, "/start"))

	if len(env.client.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(env.client.sent))
	}
	msg := env.client.sent[0]
	if !strings.HasPrefix(msg.Text, "🌅 *С рассветом, Анна.*") || !strings.HasSuffix(msg.Text, textIntro) {
		t.Errorf("start text = %q", msg.Text)
	}
	if msg.ParseMode != models.ParseModeMarkdownV1 {
		t.Errorf("ParseMode = %q", msg.ParseMode)
	}
	kb, ok := msg.ReplyMarkup.(*models.ReplyKeyboardMarkup)
	if !ok || kb.Keyboard[0][0].WebApp == nil || kb.Keyboard[0][0].WebApp.URL != "https://example.com/app/" {
		t.Errorf("ReplyMarkup = %#v", msg.ReplyMarkup)
	}
}

func TestHandleStart_DefaultName(t *testing.T) {
	env := newTestEnv(t)
	update := textUpdate(10, "/start")
	update.Message.From.FirstName = ""
	env.adapter.handleUpdate(context.Background(), nil, update)

	if !strings.Contains(env.client.texts()[0], textDefaultName) {
		t.Errorf("start text = %q", env.client.texts()[0])
	}
}

func TestHandleAdmin(t *testing.T) {
	tests := []struct {
		name     string
		username string
		wantText string
		wantKB   bool
	}{
		{name: "owner", username: "Owner", wantText: textOwnerWelcome, wantKB: true},
		{name: "stranger", username: "anna", wantText: textOwnerOnly, wantKB: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			update := textUpdate(10, "/dizel0110")
			update.Message.From.Username = tt.username
			env.adapter.handleUpdate(context.Background(), nil, update)

			if len(env.client.sent) != 1 {
				t.Fatalf("sent %d messages, want 1", len(env.client.sent))
			}
			msg := env.client.sent[0]
			if msg.Text != tt.wantText {
				t.Errorf("text = %q, want %q", msg.Text, tt.wantText)
			}
			kb, ok := msg.ReplyMarkup.(*models.ReplyKeyboardMarkup)
			if ok != tt.wantKB {
				t.Fatalf("keyboard present = %v, want %v", ok, tt.wantKB)
			}
			if ok && kb.Keyboard[0][0].WebApp.URL != "https://example.com/app/?admin=true" {
				t.Errorf("admin URL = %q", kb.Keyboard[0][0].WebApp.URL)
			}
		})
	}
}

func TestHandleText(t *testing.T) {
	tests := []struct {
		name      string
		reply     engine.Reply
		err       error
		want      string
		wantParse models.ParseMode
	}{
		{
			name:      "gemini",
			reply:     geminiReply,
			want:      geminiReply.Text + textTextSuffix,
			wantParse: models.ParseModeMarkdownV1,
		},
		{
			name:      "fallback",
			reply:     hfReply,
			want:      textFallbackText(hfReply.Text),
			wantParse: models.ParseModeMarkdownV1,
		},
		{
			name: "no provider",
			err:  engine.ErrNoProvider,
			want: textApology,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.responder.chatReply, env.responder.chatErr = tt.reply, tt.err

			env.adapter.handleUpdate(context.Background(), nil, textUpdate(10, "Что такое Go?"))

			if len(env.client.actions) != 1 || env.client.actions[0].Action != models.ChatActionTyping {
				t.Errorf("chat actions = %+v", env.client.actions)
			}
			if len(env.responder.chatTexts) != 1 || env.responder.chatTexts[0] != "Что такое Go?" {
				t.Errorf("engine chat calls = %q", env.responder.chatTexts)
			}
			if len(env.client.sent) != 1 {
				t.Fatalf("sent %d messages, want 1", len(env.client.sent))
			}
			if got := env.client.sent[0]; got.Text != tt.want || got.ParseMode != tt.wantParse {
				t.Errorf("reply = %q (%q), want %q (%q)", got.Text, got.ParseMode, tt.want, tt.wantParse)
			}
		})
	}
}

func TestHandleText_UnknownCommandIsText(t *testing.T) {
	env := newTestEnv(t)
	env.responder.chatReply = geminiReply
	env.adapter.handleUpdate(context.Background(), nil, textUpdate(10, "/weather"))

	if len(env.responder.chatTexts) != 1 || env.responder.chatTexts[0] != "/weather" {
		t.Errorf("engine chat calls = %q", env.responder.chatTexts)
	}
}

func photoUpdate(chatID int64) *models.Update {
	return &models.Update{Message: &models.Message{
		ID:   2,
		Chat: models.Chat{ID: chatID},
		From: &models.User{ID: chatID, FirstName: "Анна"},
		Photo: []models.PhotoSize{
			{FileID: "small", Width: 90, Height: 90},
			{FileID: "large", Width: 1280, Height: 1280},
		},
	}}
}

func TestHandlePhoto_Gemini(t *testing.T) {
	env := newTestEnv(t)
	env.responder.visionReply = geminiReply

	// A stale file from an earlier photo must be cleaned up.
	stale := env.temp.PhotoPath(10, time.Unix(1, 0))
	if err := os.WriteFile(stale, []byte("old"), 0o600); err != nil {
		t.Fatal(err)
	}

	env.adapter.handleUpdate(context.Background(), nil, photoUpdate(10))

	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Errorf("stale photo still present: %v", err)
	}

	st, err := env.store.Get(context.Background(), 10)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if st.PendingPhoto == "" {
		t.Fatal("pending photo not recorded")
	}
	data, err := os.ReadFile(st.PendingPhoto)
	if err != nil {
		t.Fatalf("pending photo missing: %v", err)
	}
	if !strings.HasPrefix(string(data), "\xff\xd8") {
		t.Errorf("downloaded %q", data)
	}

	if len(env.responder.visionPrompts) != 1 || env.responder.visionPrompts[0] != promptDescribePhoto {
		t.Errorf("vision prompts = %q", env.responder.visionPrompts)
	}
	if len(env.responder.visionImages[0]) == 0 {
		t.Error("vision called without image")
	}

	texts := env.client.texts()
	if len(texts) != 2 || texts[0] != textPhotoStatus || texts[1] != textPhotoMenu {
		t.Fatalf("sent texts = %q", texts)
	}
	kb, ok := env.client.sent[1].ReplyMarkup.(*models.InlineKeyboardMarkup)
	if !ok || kb.InlineKeyboard[0][0].CallbackData != "vision_task:text" || kb.InlineKeyboard[1][0].CallbackData != "vision_task:summary" {
		t.Errorf("menu markup = %#v", env.client.sent[1].ReplyMarkup)
	}

	edits := env.client.editTexts()
	if len(edits) != 1 || edits[0] != photoGeminiText(geminiReply.Model, geminiReply.Text) {
		t.Errorf("edits = %q", edits)
	}
}

func TestHandlePhoto_Fallbacks(t *testing.T) {
	tests := []struct {
		name  string
		reply engine.Reply
		err   error
		want  string
	}{
		{name: "hf caption", reply: hfReply, want: photoFallbackText(hfReply.Text)},
		{name: "nothing", err: engine.ErrNoProvider, want: textPhotoNoisy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.responder.visionReply, env.responder.visionErr = tt.reply, tt.err

			env.adapter.handleUpdate(context.Background(), nil, photoUpdate(10))

			if texts := env.client.texts(); len(texts) != 1 {
				t.Errorf("sent texts = %q, want only the status", texts)
			}
			edits := env.client.editTexts()
			if len(edits) != 1 || edits[0] != tt.want {
				t.Errorf("edits = %q, want %q", edits, tt.want)
			}
			st, _ := env.store.Get(context.Background(), 10)
			if st.PendingPhoto == "" {
				t.Error("pending photo should survive for a later action")
			}
		})
	}
}

func TestHandlePhoto_DownloadFailure(t *testing.T) {
	env := newTestEnv(t)
	env.client.getFileErr = errors.New("file is too big")

	env.adapter.handleUpdate(context.Background(), nil, photoUpdate(10))

	if texts := env.client.texts(); len(texts) != 1 || texts[0] != textDownloadFailed {
		t.Errorf("sent texts = %q", texts)
	}
	if len(env.responder.visionPrompts) != 0 {
		t.Error("vision should not run without a photo")
	}
}

func setPending(t *testing.T, env *testEnv, chatID int64) string {
	t.Helper()
	path := env.temp.PhotoPath(chatID, time.Unix(100, 0))
	if err := os.WriteFile(path, []byte("\xff\xd8\xffpending"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := env.store.SetPendingPhoto(context.Background(), chatID, path); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestHandleText_PendingPhoto(t *testing.T) {
	tests := []struct {
		name        string
		reply       engine.Reply
		err         error
		wantEdit    string
		wantConsume bool
	}{
		{name: "gemini", reply: geminiReply, wantEdit: geminiReply.Text, wantConsume: true},
		{name: "fallback", reply: hfReply, wantEdit: visionFallbackText(hfReply.Text), wantConsume: true},
		{name: "failure keeps photo", err: engine.ErrNoProvider, wantEdit: textApology, wantConsume: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.responder.visionReply, env.responder.visionErr = tt.reply, tt.err
			path := setPending(t, env, 10)

			env.adapter.handleUpdate(context.Background(), nil, textUpdate(10, "переведи"))

			if len(env.responder.chatTexts) != 0 {
				t.Error("chat should not run while a photo is pending")
			}
			if len(env.responder.visionPrompts) != 1 || env.responder.visionPrompts[0] != visionPrompt("переведи") {
				t.Errorf("vision prompts = %q", env.responder.visionPrompts)
			}
			if len(env.responder.instructions) != 1 || env.responder.instructions[0] != "переведи" {
				t.Errorf("instructions = %q", env.responder.instructions)
			}
			if string(env.responder.visionImages[0]) != "\xff\xd8\xffpending" {
				t.Errorf("vision image = %q", env.responder.visionImages[0])
			}
			if texts := env.client.texts(); len(texts) != 1 || texts[0] != textVisionStatus {
				t.Errorf("sent texts = %q", texts)
			}
			if edits := env.client.editTexts(); len(edits) != 1 || edits[0] != tt.wantEdit {
				t.Errorf("edits = %q, want %q", edits, tt.wantEdit)
			}

			_, statErr := os.Stat(path)
			st, _ := env.store.Get(context.Background(), 10)
			if tt.wantConsume {
				if !os.IsNotExist(statErr) || st.PendingPhoto != "" {
					t.Errorf("photo not consumed: stat=%v pending=%q", statErr, st.PendingPhoto)
				}
			} else if statErr != nil || st.PendingPhoto != path {
				t.Errorf("photo consumed on failure: stat=%v pending=%q", statErr, st.PendingPhoto)
			}
		})
	}
}

func TestVisionAction_MissingFile(t *testing.T) {
	env := newTestEnv(t)
	env.responder.visionReply = geminiReply
	path := setPending(t, env, 10)
	os.Remove(path)

	env.adapter.visionAction(context.Background(), 10, "опиши")

	if len(env.responder.visionImages) != 1 || env.responder.visionImages[0] != nil {
		t.Errorf("vision image = %q, want none", env.responder.visionImages)
	}
	st, _ := env.store.Get(context.Background(), 10)
	if st.PendingPhoto != "" {
		t.Errorf("pending photo = %q, want cleared", st.PendingPhoto)
	}
}

func callbackUpdate(chatID int64, data string) *models.Update {
	return &models.Update{CallbackQuery: &models.CallbackQuery{
		ID:   "cb-1",
		From: models.User{ID: chatID},
		Message: models.MaybeInaccessibleMessage{
			Message: &models.Message{ID: 5, Chat: models.Chat{ID: chatID}},
		},
		Data: data,
	}}
}

func TestHandleCallback(t *testing.T) {
	env := newTestEnv(t)
	env.responder.visionReply = geminiReply
	setPending(t, env, 10)

	env.adapter.handleCallback(context.Background(), nil, callbackUpdate(10, "vision_task:summary"))

	if len(env.client.answers) != 1 || env.client.answers[0].Text != textCallbackAck || env.client.answers[0].CallbackQueryID != "cb-1" {
		t.Errorf("answers = %+v", env.client.answers)
	}
	if len(env.responder.visionPrompts) != 1 || env.responder.visionPrompts[0] != visionPrompt("Резюмируй кратко.") {
		t.Errorf("vision prompts = %q", env.responder.visionPrompts)
	}
}

func TestHandleCallback_UnknownTask(t *testing.T) {
	env := newTestEnv(t)
	env.adapter.handleUpdate(context.Background(), nil, callbackUpdate(10, "vision_task:dance"))

	if len(env.client.answers) != 1 || env.client.answers[0].Text != textUnknownTask {
		t.Errorf("answers = %+v", env.client.answers)
	}
	if len(env.responder.visionPrompts) != 0 {
		t.Error("vision should not run for an unknown task")
	}
}

func voiceUpdate(chatID int64) *models.Update {
	return &models.Update{Message: &models.Message{
		ID:    3,
		Chat:  models.Chat{ID: chatID},
		From:  &models.User{ID: chatID},
		Voice: &models.Voice{FileID: "voice-1", MimeType: "audio/ogg", Duration: 3},
	}}
}

func TestHandleVoice(t *testing.T) {
	env := newTestEnv(t)
	env.responder.transcript = engine.Reply{Text: " привет ", Provider: "huggingface", Model: "whisper"}
	env.responder.chatReply = geminiReply

	env.adapter.handleUpdate(context.Background(), nil, voiceUpdate(10))

	if env.responder.audioMIME != "audio/ogg" {
		t.Errorf("audio MIME = %q", env.responder.audioMIME)
	}
	edits := env.client.editTexts()
	if len(edits) != 1 || edits[0] != transcriptText("привет") {
		t.Errorf("edits = %q", edits)
	}
	if len(env.responder.chatTexts) != 1 || env.responder.chatTexts[0] != "привет" {
		t.Errorf("chat calls = %q", env.responder.chatTexts)
	}
	texts := env.client.texts()
	if len(texts) != 2 || texts[0] != textVoiceStatus || texts[1] != geminiReply.Text+textTextSuffix {
		t.Errorf("sent texts = %q", texts)
	}

	entries, _ := os.ReadDir(env.temp.Dir())
	if len(entries) != 0 {
		t.Errorf("temp dir not empty: %v", entries)
	}
}

func TestHandleVoice_TranscriptionFails(t *testing.T) {
	env := newTestEnv(t)
	env.responder.transErr = engine.ErrNoProvider

	env.adapter.handleUpdate(context.Background(), nil, voiceUpdate(10))

	if edits := env.client.editTexts(); len(edits) != 1 || edits[0] != textVoiceFailed {
		t.Errorf("edits = %q", edits)
	}
	if len(env.responder.chatTexts) != 0 {
		t.Error("chat should not run without a transcript")
	}
}

func TestHandleReset(t *testing.T) {
	env := newTestEnv(t)
	path := setPending(t, env, 10)

	env.adapter.handleUpdate(context.Background(), nil, textUpdate(10, "/reset"))

	if len(env.responder.resets) != 1 || env.responder.resets[0] != 10 {
		t.Errorf("resets = %v", env.responder.resets)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("pending photo not removed: %v", err)
	}
	st, _ := env.store.Get(context.Background(), 10)
	if st.PendingPhoto != "" {
		t.Errorf("pending = %q", st.PendingPhoto)
	}
	if texts := env.client.texts(); len(texts) != 1 || texts[0] != textReset {
		t.Errorf("sent texts = %q", texts)
	}
}

func TestHandleSearch(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		searcher *fakeSearcher
		want     string
	}{
		{
			name:     "results",
			text:     "/search golang",
			searcher: &fakeSearcher{results: []websearch.Result{{Title: "Go", Snippet: "lang", URL: "https://go.dev"}}},
			want:     "1. Go\nlang\nURL: https://go.dev",
		},
		{
			name:     "empty",
			text:     "/search nothing",
			searcher: &fakeSearcher{},
			want:     websearch.NoResults,
		},
		{
			name:     "error",
			text:     "/search golang",
			searcher: &fakeSearcher{err: errors.New("dial tcp: timeout")},
			want:     websearch.FormatError(errors.New("dial tcp: timeout")),
		},
		{
			name:     "usage",
			text:     "/search",
			searcher: &fakeSearcher{},
			want:     textSearchUsage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.adapter.deps.Search = tt.searcher

			env.adapter.handleUpdate(context.Background(), nil, textUpdate(10, tt.text))

			texts := env.client.texts()
			if len(texts) != 1 || texts[0] != tt.want {
				t.Errorf("sent texts = %q, want %q", texts, tt.want)
			}
		})
	}
}

func TestHandleSearch_DisabledFallsThroughToChat(t *testing.T) {
	env := newTestEnv(t)
	env.responder.chatReply = geminiReply

	env.adapter.handleUpdate(context.Background(), nil, textUpdate(10, "/search golang"))

	if len(env.responder.chatTexts) != 1 {
		t.Errorf("chat calls = %q, want the command passed as text", env.responder.chatTexts)
	}
}
