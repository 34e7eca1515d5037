package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/aiprophet/prophet/internal/backoff"
	"github.com/aiprophet/prophet/internal/channels"
	"github.com/aiprophet/prophet/internal/engine"
	"github.com/aiprophet/prophet/internal/media"
	"github.com/aiprophet/prophet/internal/providers"
	"github.com/aiprophet/prophet/internal/state"
	"github.com/aiprophet/prophet/internal/tools/websearch"
)

// mockBotClient records outgoing calls.
type mockBotClient struct {
	mu sync.Mutex

	fileServer string
	nextID     int

	sent       []*bot.SendMessageParams
	edits      []*bot.EditMessageTextParams
	actions    []*bot.SendChatActionParams
	answers    []*bot.AnswerCallbackQueryParams
	webhooks   []*bot.DeleteWebhookParams
	patterns   []string
	started    bool
	sendErrs   []error
	getFileErr error

	// onStart runs inside Start before it blocks on ctx.
	onStart func(ctx context.Context)
}

func (m *mockBotClient) SendMessage(_ context.Context, params *bot.SendMessageParams) (*models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *params
	m.sent = append(m.sent, &copied)
	if len(m.sendErrs) > 0 {
		err := m.sendErrs[0]
		m.sendErrs = m.sendErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	m.nextID++
	return &models.Message{ID: m.nextID, Text: params.Text}, nil
}

func (m *mockBotClient) EditMessageText(_ context.Context, params *bot.EditMessageTextParams) (*models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.edits = append(m.edits, params)
	return &models.Message{ID: params.MessageID, Text: params.Text}, nil
}

func (m *mockBotClient) SendChatAction(_ context.Context, params *bot.SendChatActionParams) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actions = append(m.actions, params)
	return true, nil
}

func (m *mockBotClient) AnswerCallbackQuery(_ context.Context, params *bot.AnswerCallbackQueryParams) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.answers = append(m.answers, params)
	return true, nil
}

func (m *mockBotClient) GetFile(_ context.Context, params *bot.GetFileParams) (*models.File, error) {
	if m.getFileErr != nil {
		return nil, m.getFileErr
	}
	return &models.File{FileID: params.FileID, FilePath: "files/" + params.FileID}, nil
}

func (m *mockBotClient) FileDownloadLink(f *models.File) string {
	return m.fileServer + "/" + f.FilePath
}

func (m *mockBotClient) DeleteWebhook(_ context.Context, params *bot.DeleteWebhookParams) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.webhooks = append(m.webhooks, params)
	return true, nil
}

func (m *mockBotClient) RegisterHandler(_ bot.HandlerType, pattern string, _ bot.MatchType, _ bot.HandlerFunc) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patterns = append(m.patterns, pattern)
	return pattern
}

func (m *mockBotClient) Start(ctx context.Context) {
	m.mu.Lock()
	m.started = true
	onStart := m.onStart
	m.mu.Unlock()
	if onStart != nil {
		onStart(ctx)
	}
	<-ctx.Done()
}

func (m *mockBotClient) texts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.sent))
	for i, p := range m.sent {
		out[i] = p.Text
	}
	return out
}

func (m *mockBotClient) editTexts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.edits))
	for i, p := range m.edits {
		out[i] = p.Text
	}
	return out
}

// fakeResponder scripts engine replies.
type fakeResponder struct {
	mu sync.Mutex

	chatReply   engine.Reply
	chatErr     error
	visionReply engine.Reply
	visionErr   error
	transcript  engine.Reply
	transErr    error

	chatTexts     []string
	visionPrompts []string
	instructions  []string
	visionImages  [][]byte
	audioMIME     string
	resets        []int64
}

func (f *fakeResponder) Chat(_ context.Context, _ int64, text string) (engine.Reply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chatTexts = append(f.chatTexts, text)
	return f.chatReply, f.chatErr
}

func (f *fakeResponder) Vision(_ context.Context, _ int64, prompt, instruction string, image []byte) (engine.Reply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.visionPrompts = append(f.visionPrompts, prompt)
	f.instructions = append(f.instructions, instruction)
	f.visionImages = append(f.visionImages, image)
	return f.visionReply, f.visionErr
}

func (f *fakeResponder) Transcribe(_ context.Context, _ []byte, mimeType string) (engine.Reply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audioMIME = mimeType
	return f.transcript, f.transErr
}

func (f *fakeResponder) Reset(chatID int64, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets = append(f.resets, chatID)
}

type fakeSearcher struct {
	results []websearch.Result
	err     error
	query   string
}

func (f *fakeSearcher) Search(_ context.Context, query string, _ int) ([]websearch.Result, error) {
	f.query = query
	return f.results, f.err
}

var (
	geminiReply = engine.Reply{Text: "Я вижу кота.", Provider: providers.GeminiName, Model: "gemini-2.5-flash"}
	hfReply     = engine.Reply{Text: "a cat on a sofa", Provider: providers.HuggingFaceName, Model: "blip"}
)

type testEnv struct {
	adapter   *Adapter
	client    *mockBotClient
	responder *fakeResponder
	store     *state.MemoryStore
	temp      *media.TempStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	files := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "voice") {
			w.Write([]byte("OggS\x00\x02voice-bytes"))
			return
		}
		w.Write([]byte("\xff\xd8\xff\xe0jpeg-bytes"))
	}))
	t.Cleanup(files.Close)

	temp, err := media.NewTempStore(t.TempDir(), nil, nil)
	if err != nil {
		t.Fatalf("NewTempStore() error = %v", err)
	}
	store := state.NewMemoryStore()
	responder := &fakeResponder{}

	a, err := New(Config{
		Token:         "test-token",
		OwnerUsername: "owner",
		MiniAppURL:    "https://example.com/app/",
		RateLimit:     1000,
		RateBurst:     1000,
		HTTPClient:    files.Client(),
		Location:      time.UTC,
	}, Deps{Engine: responder, State: store, Temp: temp})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	// Per-chat limiting would slow multi-message tests down.
	a.limiter = channels.NewChatRateLimiter(1000, 1000, 0, 0)
	a.sendRetry = backoff.Fixed(time.Millisecond)
	a.now = func() time.Time { return time.Date(2026, 1, 2, 9, 30, 0, 0, time.UTC) }

	client := &mockBotClient{fileServer: files.URL}
	a.client = client
	return &testEnv{adapter: a, client: client, responder: responder, store: store, temp: temp}
}

func textUpdate(chatID int64, text string) *models.Update {
	return &models.Update{Message: &models.Message{
		ID:   1,
		Chat: models.Chat{ID: chatID},
		From: &models.User{ID: chatID, FirstName: "Анна", Username: "anna"},
		Text: text,
	}}
}

func TestConfig_Validate(t *testing.T) {
	t.Run("missing token", func(t *testing.T) {
		cfg := Config{}
		err := cfg.Validate()
		if channels.GetErrorCode(err) != channels.ErrCodeConfig {
			t.Fatalf("Validate() error = %v, want config error", err)
		}
	})

	t.Run("defaults", func(t *testing.T) {
		cfg := Config{Token: "x", AdminCommand: "/Boss"}
		if err := cfg.Validate(); err != nil {
			t.Fatalf("Validate() error = %v", err)
		}
		if cfg.AdminCommand != "boss" {
			t.Errorf("AdminCommand = %q, want boss", cfg.AdminCommand)
		}
		if cfg.RateLimit != 30 || cfg.RateBurst != 20 {
			t.Errorf("rate = %v/%d, want 30/20", cfg.RateLimit, cfg.RateBurst)
		}
		if cfg.Workers != 4 {
			t.Errorf("Workers = %d, want 4", cfg.Workers)
		}
		if cfg.PollTimeout != time.Minute || cfg.HTTPClient == nil || cfg.Logger == nil {
			t.Errorf("defaults not applied: %+v", cfg)
		}
	})
}

func TestNew_RequiresDeps(t *testing.T) {
	_, err := New(Config{Token: "x"}, Deps{})
	if err == nil {
		t.Fatal("New() without deps should fail")
	}
}

func TestRun_DropsPendingUpdates(t *testing.T) {
	env := newTestEnv(t)
	env.adapter.config.DropPendingUpdates = true

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.adapter.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for !env.adapter.Status().Connected {
		select {
		case <-deadline:
			t.Fatal("adapter never reported connected")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	if err := <-done; err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if env.adapter.Status().Connected {
		t.Error("Status().Connected = true after stop")
	}
	if len(env.client.webhooks) != 1 || !env.client.webhooks[0].DropPendingUpdates {
		t.Errorf("DeleteWebhook calls = %+v", env.client.webhooks)
	}
	if len(env.client.patterns) != 1 || env.client.patterns[0] != callbackPrefix {
		t.Errorf("registered patterns = %v", env.client.patterns)
	}
}

func TestRun_WaitsForRunningHandlers(t *testing.T) {
	env := newTestEnv(t)

	entered := make(chan struct{})
	release := make(chan struct{})
	handler := env.adapter.track(func(context.Context, *bot.Bot, *models.Update) {
		close(entered)
		<-release
	})
	env.client.onStart = func(ctx context.Context) {
		go handler(ctx, nil, textUpdate(1, "привет"))
		<-entered
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	done := make(chan error, 1)
	go func() { done <- env.adapter.Run(ctx) }()

	select {
	case err := <-done:
		t.Fatalf("Run() returned %v while a handler was still running", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after the handler finished")
	}
}

func TestSend_MarkdownFallback(t *testing.T) {
	env := newTestEnv(t)
	env.client.sendErrs = []error{
		fmt.Errorf("%w, Bad Request: can't parse entities: can't find end of the entity starting at byte offset 3", errors.New("bad request")),
	}

	msg, err := env.adapter.send(context.Background(), 7, "*broken", true, nil)
	if err != nil {
		t.Fatalf("send() error = %v", err)
	}
	if msg == nil {
		t.Fatal("send() returned nil message")
	}
	if len(env.client.sent) != 2 {
		t.Fatalf("SendMessage calls = %d, want 2", len(env.client.sent))
	}
	if env.client.sent[0].ParseMode != models.ParseModeMarkdownV1 || env.client.sent[1].ParseMode != "" {
		t.Errorf("parse modes = %q, %q", env.client.sent[0].ParseMode, env.client.sent[1].ParseMode)
	}
}

func TestSend_Retries(t *testing.T) {
	tests := []struct {
		name      string
		errs      []error
		wantCode  channels.ErrorCode
		wantCalls int
	}{
		{
			name:      "transport failure retried once",
			errs:      []error{errors.New("dial tcp: connection reset by peer")},
			wantCalls: 2,
		},
		{
			name:      "flood wait retried once",
			errs:      []error{&bot.TooManyRequestsError{Message: "Too Many Requests", RetryAfter: 1}},
			wantCalls: 2,
		},
		{
			name:      "persistent transport failure",
			errs:      []error{errors.New("timeout"), errors.New("timeout")},
			wantCode:  channels.ErrCodeConnection,
			wantCalls: 2,
		},
		{
			name:      "blocked by user not retried",
			errs:      []error{fmt.Errorf("%w, Forbidden: bot was blocked by the user", bot.ErrorForbidden)},
			wantCode:  channels.ErrCodeInvalidInput,
			wantCalls: 1,
		},
		{
			name:      "revoked token not retried",
			errs:      []error{fmt.Errorf("%w, Unauthorized", bot.ErrorUnauthorized)},
			wantCode:  channels.ErrCodeAuthentication,
			wantCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.client.sendErrs = tt.errs

			msg, err := env.adapter.send(context.Background(), 7, "hi", false, nil)
			if tt.wantCode == "" {
				if err != nil || msg == nil {
					t.Fatalf("send() = %v, %v, want message", msg, err)
				}
			} else if channels.GetErrorCode(err) != tt.wantCode {
				t.Fatalf("send() error = %v, want %s", err, tt.wantCode)
			}
			if len(env.client.sent) != tt.wantCalls {
				t.Errorf("SendMessage calls = %d, want %d", len(env.client.sent), tt.wantCalls)
			}
		})
	}
}

func TestNew_SendRetryBacksOff(t *testing.T) {
	env := newTestEnv(t)
	a, err := New(Config{Token: "x"}, Deps{Engine: env.responder, State: env.store, Temp: env.temp})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	first, second := a.sendRetry.Compute(1), a.sendRetry.Compute(2)
	if first < 500*time.Millisecond || second <= first || second > 2*time.Second {
		t.Errorf("send retry delays = %v, %v, want growing from 500ms up to 2s", first, second)
	}
}

func TestSend_SplitsLongText(t *testing.T) {
	env := newTestEnv(t)
	long := strings.Repeat("строка\n", 1000)

	if _, err := env.adapter.send(context.Background(), 7, long, false, visionTaskKeyboard()); err != nil {
		t.Fatalf("send() error = %v", err)
	}
	if len(env.client.sent) < 2 {
		t.Fatalf("SendMessage calls = %d, want split", len(env.client.sent))
	}
	for i, p := range env.client.sent {
		last := i == len(env.client.sent)-1
		if (p.ReplyMarkup != nil) != last {
			t.Errorf("chunk %d markup = %v", i, p.ReplyMarkup)
		}
	}
}

func TestFileURL(t *testing.T) {
	env := newTestEnv(t)
	url, err := env.adapter.FileURL(context.Background(), "abc")
	if err != nil {
		t.Fatalf("FileURL() error = %v", err)
	}
	if !strings.HasSuffix(url, "/files/abc") {
		t.Errorf("FileURL() = %q", url)
	}

	env.client.getFileErr = errors.New("file is too big")
	if _, err := env.adapter.FileURL(context.Background(), "abc"); channels.GetErrorCode(err) != channels.ErrCodeMedia {
		t.Errorf("FileURL() error = %v, want media error", err)
	}
}
