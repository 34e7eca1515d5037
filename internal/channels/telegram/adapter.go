// Package telegram connects the bot to Telegram via long polling and turns
// updates into engine calls.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/aiprophet/prophet/internal/backoff"
	"github.com/aiprophet/prophet/internal/channels"
	"github.com/aiprophet/prophet/internal/engine"
	"github.com/aiprophet/prophet/internal/media"
	"github.com/aiprophet/prophet/internal/observability"
	"github.com/aiprophet/prophet/internal/state"
	"github.com/aiprophet/prophet/internal/tools/websearch"
)

// Config holds configuration for the Telegram adapter.
type Config struct {
	// Token is the bot token from @BotFather (required)
	Token string

	// OwnerUsername is the only user allowed to run AdminCommand.
	OwnerUsername string

	// AdminCommand is the owner command name without the slash.
	AdminCommand string

	// MiniAppURL is opened by the reply keyboard button.
	MiniAppURL string

	// DropPendingUpdates discards the backlog on startup.
	DropPendingUpdates bool

	// PollTimeout is the long polling timeout.
	PollTimeout time.Duration

	// Workers is the number of goroutines handling updates.
	Workers int

	// RateLimit configures rate limiting for API calls (operations per second)
	RateLimit float64

	// RateBurst configures the burst capacity for rate limiting
	RateBurst int

	// MaxDownloadBytes caps voice downloads; photos use the image limit.
	MaxDownloadBytes int64

	// SearchResults is the number of hits /search shows.
	SearchResults int

	// HTTPClient is used for Bot API calls and file downloads.
	HTTPClient *http.Client

	// Location is the time zone of the greeting. Defaults to time.Local.
	Location *time.Location

	// Logger is an optional slog.Logger instance
	Logger *slog.Logger
}

// Validate checks if the configuration is valid and applies defaults.
func (c *Config) Validate() error {
	if c.Token == "" {
		return channels.ErrConfig("token is required", nil)
	}
	if c.AdminCommand == "" {
		c.AdminCommand = "dizel0110"
	}
	c.AdminCommand = strings.ToLower(strings.TrimPrefix(c.AdminCommand, "/"))
	if c.PollTimeout <= 0 {
		c.PollTimeout = time.Minute
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.RateLimit == 0 {
		c.RateLimit = 30 // Telegram's limit is ~30 messages per second
	}
	if c.RateBurst == 0 {
		c.RateBurst = 20
	}
	if c.MaxDownloadBytes <= 0 {
		c.MaxDownloadBytes = media.MaxAudioBytes
	}
	if c.SearchResults <= 0 {
		c.SearchResults = 5
	}
	if c.HTTPClient == nil {
		// Requests must outlive the long polling timeout.
		c.HTTPClient = &http.Client{Timeout: c.PollTimeout + 30*time.Second}
	}
	if c.Location == nil {
		c.Location = time.Local
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Responder is the part of the engine the handlers use.
type Responder interface {
	Chat(ctx context.Context, chatID int64, text string) (engine.Reply, error)
	Vision(ctx context.Context, chatID int64, prompt, instruction string, image []byte) (engine.Reply, error)
	Transcribe(ctx context.Context, audio []byte, mimeType string) (engine.Reply, error)
	Reset(chatID int64, model string)
}

// Searcher answers /search.
type Searcher interface {
	Search(ctx context.Context, query string, max int) ([]websearch.Result, error)
}

// Deps are the collaborators of the adapter. Search may be nil.
type Deps struct {
	Engine  Responder
	State   state.Store
	Temp    *media.TempStore
	Search  Searcher
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
}

// Adapter receives Telegram updates and answers them.
type Adapter struct {
	config     Config
	deps       Deps
	client     BotClient
	downloader *media.Downloader
	limiter    *channels.ChatRateLimiter
	status     channels.StatusTracker
	logger     *slog.Logger
	now        func() time.Time

	sendRetry backoff.Policy

	// inflight counts running handlers; Run waits for it before returning.
	inflight sync.WaitGroup
}

// New creates an adapter. The Telegram connection is made by Run.
func New(config Config, deps Deps) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if deps.Engine == nil || deps.State == nil || deps.Temp == nil {
		return nil, channels.ErrConfig("engine, state and temp store are required", nil)
	}

	a := &Adapter{
		config:  config,
		deps:    deps,
		limiter: channels.NewChatRateLimiter(config.RateLimit, config.RateBurst, 1, 3),
		logger:  config.Logger.With("adapter", "telegram"),
		now:     time.Now,

		sendRetry: backoff.Policy{Initial: 500 * time.Millisecond, Max: 2 * time.Second, Factor: 2, Jitter: 0.2},
	}
	a.downloader = media.NewDownloader(a, config.HTTPClient)
	return a, nil
}

// Run connects, drops the webhook and long-polls until ctx is done.
func (a *Adapter) Run(ctx context.Context) error {
	if a.client == nil {
		b, err := bot.New(a.config.Token,
			bot.WithHTTPClient(a.config.PollTimeout, a.config.HTTPClient),
			bot.WithDefaultHandler(a.track(a.handleUpdate)),
			bot.WithErrorsHandler(a.handlePollError),
			bot.WithNotAsyncHandlers(),
			bot.WithWorkers(a.config.Workers),
		)
		if err != nil {
			a.status.SetConnected(false, fmt.Sprintf("failed to create bot: %v", err))
			a.deps.Metrics.RecordError("telegram", string(channels.ErrCodeAuthentication))
			return channels.ErrAuthentication("failed to create bot", err)
		}
		a.client = newRealBotClient(b)
	}
	a.registerHandlers()

	if _, err := a.client.DeleteWebhook(ctx, &bot.DeleteWebhookParams{
		DropPendingUpdates: a.config.DropPendingUpdates,
	}); err != nil {
		a.status.SetConnected(false, err.Error())
		return channels.ErrConnection("failed to delete webhook", err)
	}

	a.logger.Info("starting long polling",
		"drop_pending_updates", a.config.DropPendingUpdates,
		"rate_limit", a.config.RateLimit)
	a.status.SetConnected(true, "")

	// Start blocks until ctx is cancelled.
	a.client.Start(ctx)
	// Callers close the store after Run, so no handler may outlive it.
	a.inflight.Wait()

	a.status.SetConnected(false, "")
	a.logger.Info("telegram adapter stopped")
	return nil
}

func (a *Adapter) registerHandlers() {
	a.client.RegisterHandler(bot.HandlerTypeCallbackQueryData, callbackPrefix, bot.MatchTypePrefix, a.track(a.handleCallback))
}

// track wraps h so Run can wait for it to finish.
func (a *Adapter) track(h bot.HandlerFunc) bot.HandlerFunc {
	return func(ctx context.Context, b *bot.Bot, update *models.Update) {
		a.inflight.Add(1)
		defer a.inflight.Done()
		h(ctx, b, update)
	}
}

func (a *Adapter) handlePollError(err error) {
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	a.logger.Warn("telegram polling error", "error", err)
	a.status.SetConnected(true, err.Error())
	a.deps.Metrics.RecordError("telegram", string(channels.ErrCodeConnection))
}

// Status returns the current connection status.
func (a *Adapter) Status() channels.Status {
	return a.status.Status()
}

// FileURL resolves a Telegram file id to its download link.
func (a *Adapter) FileURL(ctx context.Context, fileID string) (string, error) {
	if a.client == nil {
		return "", channels.ErrConnection("bot not started", nil)
	}
	file, err := a.client.GetFile(ctx, &bot.GetFileParams{FileID: fileID})
	if err != nil {
		return "", channels.ErrMedia("get file", err)
	}
	return a.client.FileDownloadLink(file), nil
}

// send delivers text, splitting it at Telegram's length limit. The markup
// is attached to the last chunk. Markdown rejected by Telegram is resent
// as plain text.
func (a *Adapter) send(ctx context.Context, chatID int64, text string, markdown bool, markup models.ReplyMarkup) (*models.Message, error) {
	var last *models.Message
	chunks := splitMessage(text, maxMessageLength)
	for i, chunk := range chunks {
		params := &bot.SendMessageParams{ChatID: chatID, Text: chunk}
		if markdown {
			params.ParseMode = models.ParseModeMarkdownV1
		}
		if i == len(chunks)-1 && markup != nil {
			params.ReplyMarkup = markup
		}
		msg, err := a.sendMessage(ctx, chatID, params)
		if err != nil {
			return nil, err
		}
		last = msg
	}
	return last, nil
}

// sendAttempts bounds deliveries of one message when the failure is transient.
const sendAttempts = 2

func (a *Adapter) sendMessage(ctx context.Context, chatID int64, params *bot.SendMessageParams) (*models.Message, error) {
	for attempt := 1; ; attempt++ {
		msg, err := a.sendOnce(ctx, chatID, params)
		if err == nil {
			return msg, nil
		}
		if attempt >= sendAttempts || !channels.IsRetryable(err) {
			a.deps.Metrics.RecordError("telegram", string(channels.GetErrorCode(err)))
			return nil, err
		}
		a.logger.WarnContext(ctx, "send failed, retrying", "chat_id", chatID, "attempt", attempt, "error", err)
		if backoff.Sleep(ctx, a.sendRetry.Compute(attempt)) != nil {
			return nil, err
		}
	}
}

func (a *Adapter) sendOnce(ctx context.Context, chatID int64, params *bot.SendMessageParams) (*models.Message, error) {
	if err := a.limiter.Wait(ctx, chatID); err != nil {
		return nil, channels.ErrRateLimit("rate limit wait cancelled", err)
	}
	msg, err := a.client.SendMessage(ctx, params)
	if err != nil && params.ParseMode != "" && isEntityError(err) {
		a.logger.DebugContext(ctx, "markdown rejected, resending as plain text")
		params.ParseMode = ""
		msg, err = a.client.SendMessage(ctx, params)
	}
	if err != nil {
		return nil, classifyAPIError("send message", err)
	}
	return msg, nil
}

// edit replaces the text of a status message. Overflow beyond the length
// limit is sent as follow-up messages.
func (a *Adapter) edit(ctx context.Context, chatID int64, msg *models.Message, text string, markdown bool) error {
	if msg == nil {
		_, err := a.send(ctx, chatID, text, markdown, nil)
		return err
	}
	chunks := splitMessage(text, maxMessageLength)

	if err := a.limiter.Wait(ctx, chatID); err != nil {
		return channels.ErrRateLimit("rate limit wait cancelled", err)
	}
	params := &bot.EditMessageTextParams{ChatID: chatID, MessageID: msg.ID, Text: chunks[0]}
	if markdown {
		params.ParseMode = models.ParseModeMarkdownV1
	}
	_, err := a.client.EditMessageText(ctx, params)
	if err != nil && markdown && isEntityError(err) {
		params.ParseMode = ""
		_, err = a.client.EditMessageText(ctx, params)
	}
	if err != nil {
		chErr := classifyAPIError("edit message", err)
		a.deps.Metrics.RecordError("telegram", string(chErr.Code))
		return chErr
	}

	for _, chunk := range chunks[1:] {
		if _, err := a.send(ctx, chatID, chunk, markdown, nil); err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) typing(ctx context.Context, chatID int64) {
	if err := a.limiter.Wait(ctx, chatID); err != nil {
		return
	}
	if _, err := a.client.SendChatAction(ctx, &bot.SendChatActionParams{
		ChatID: chatID,
		Action: models.ChatActionTyping,
	}); err != nil {
		a.logger.DebugContext(ctx, "chat action failed", "error", err)
	}
}

// isEntityError reports whether Telegram refused the message markup.
// classifyAPIError maps a Bot API failure to a channel error. Only rate
// limits and transport failures are retryable.
func classifyAPIError(message string, err error) *channels.Error {
	var tooMany *bot.TooManyRequestsError
	switch {
	case errors.As(err, &tooMany):
		return channels.ErrRateLimit(message, err)
	case errors.Is(err, bot.ErrorUnauthorized):
		return channels.ErrAuthentication(message, err)
	case errors.Is(err, bot.ErrorBadRequest), errors.Is(err, bot.ErrorForbidden), errors.Is(err, bot.ErrorNotFound):
		return channels.ErrInvalidInput(message, err)
	default:
		return channels.ErrConnection(message, err)
	}
}

func isEntityError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "can't parse entities") || strings.Contains(msg, "can't find end of the entity")
}
