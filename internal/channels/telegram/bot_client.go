package telegram

import (
	"context"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// BotClient defines the interface for Telegram bot operations.
// This interface allows for mock injection in tests while wrapping
// the actual bot.Bot methods used by the adapter.
type BotClient interface {
	// SendMessage sends a text message to a chat.
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)

	// EditMessageText replaces the text of a message the bot sent earlier.
	EditMessageText(ctx context.Context, params *bot.EditMessageTextParams) (*models.Message, error)

	// SendChatAction shows a transient status such as "typing".
	SendChatAction(ctx context.Context, params *bot.SendChatActionParams) (bool, error)

	// AnswerCallbackQuery acknowledges an inline keyboard press.
	AnswerCallbackQuery(ctx context.Context, params *bot.AnswerCallbackQueryParams) (bool, error)

	// GetFile retrieves file information for downloading.
	GetFile(ctx context.Context, params *bot.GetFileParams) (*models.File, error)

	// FileDownloadLink builds the download URL for a resolved file.
	FileDownloadLink(f *models.File) string

	// DeleteWebhook removes any webhook so long polling can start.
	DeleteWebhook(ctx context.Context, params *bot.DeleteWebhookParams) (bool, error)

	// RegisterHandler registers a handler for a specific message type.
	RegisterHandler(handlerType bot.HandlerType, pattern string, matchType bot.MatchType, handler bot.HandlerFunc) string

	// Start begins long polling and blocks until ctx is done.
	Start(ctx context.Context)
}

// realBotClient wraps a *bot.Bot to implement BotClient.
type realBotClient struct {
	bot *bot.Bot
}

// newRealBotClient creates a new realBotClient wrapping the given bot.
func newRealBotClient(b *bot.Bot) BotClient {
	return &realBotClient{bot: b}
}

func (r *realBotClient) SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error) {
	return r.bot.SendMessage(ctx, params)
}

func (r *realBotClient) EditMessageText(ctx context.Context, params *bot.EditMessageTextParams) (*models.Message, error) {
	return r.bot.EditMessageText(ctx, params)
}

func (r *realBotClient) SendChatAction(ctx context.Context, params *bot.SendChatActionParams) (bool, error) {
	return r.bot.SendChatAction(ctx, params)
}

func (r *realBotClient) AnswerCallbackQuery(ctx context.Context, params *bot.AnswerCallbackQueryParams) (bool, error) {
	return r.bot.AnswerCallbackQuery(ctx, params)
}

func (r *realBotClient) GetFile(ctx context.Context, params *bot.GetFileParams) (*models.File, error) {
	return r.bot.GetFile(ctx, params)
}

func (r *realBotClient) FileDownloadLink(f *models.File) string {
	return r.bot.FileDownloadLink(f)
}

func (r *realBotClient) DeleteWebhook(ctx context.Context, params *bot.DeleteWebhookParams) (bool, error) {
	return r.bot.DeleteWebhook(ctx, params)
}

func (r *realBotClient) RegisterHandler(handlerType bot.HandlerType, pattern string, matchType bot.MatchType, handler bot.HandlerFunc) string {
	return r.bot.RegisterHandler(handlerType, pattern, matchType, handler)
}

func (r *realBotClient) Start(ctx context.Context) {
	r.bot.Start(ctx)
}
