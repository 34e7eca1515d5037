package telegram

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/aiprophet/prophet/internal/media"
	"github.com/aiprophet/prophet/internal/observability"
	"github.com/aiprophet/prophet/internal/tools/websearch"
)

// Update kinds used for metrics and spans.
const (
	kindCommand  = "command"
	kindText     = "text"
	kindPhoto    = "photo"
	kindVoice    = "voice"
	kindCallback = "callback"
)

// begin tags ctx with a request id and the chat, counts the update and
// opens its span.
func (a *Adapter) begin(ctx context.Context, kind string, chatID int64) (context.Context, trace.Span) {
	a.status.Touch(a.now())
	a.deps.Metrics.RecordUpdate(kind)

	ctx = observability.WithRequestID(ctx, uuid.NewString())
	ctx = observability.WithChatID(ctx, chatID)
	ctx = observability.WithChannel(ctx, "telegram")
	return a.deps.Tracer.TraceUpdate(ctx, kind, chatID)
}

// handleUpdate routes every update that no registered handler claimed.
func (a *Adapter) handleUpdate(ctx context.Context, _ *bot.Bot, update *models.Update) {
	if update == nil {
		return
	}
	if update.CallbackQuery != nil {
		a.handleCallback(ctx, nil, update)
		return
	}
	msg := update.Message
	if msg == nil {
		return
	}

	switch {
	case len(msg.Photo) > 0:
		a.handlePhoto(ctx, msg)
	case msg.Voice != nil || msg.Audio != nil:
		a.handleVoice(ctx, msg)
	case msg.Text != "":
		if name, args, ok := parseCommand(msg.Text); ok && a.handleCommand(ctx, msg, name, args) {
			return
		}
		ctx, span := a.begin(ctx, kindText, msg.Chat.ID)
		defer span.End()
		a.handleText(ctx, msg.Chat.ID, msg.Text)
	}
}

// handleCommand runs a known command and reports whether it did.
func (a *Adapter) handleCommand(ctx context.Context, msg *models.Message, name, args string) bool {
	var run func(context.Context, *models.Message, string)
	switch name {
	case "start":
		run = a.handleStart
	case a.config.AdminCommand:
		run = a.handleAdmin
	case "reset":
		run = a.handleReset
	case "search":
		if a.deps.Search == nil {
			return false
		}
		run = a.handleSearch
	default:
		return false
	}

	ctx, span := a.begin(ctx, kindCommand, msg.Chat.ID)
	defer span.End()
	a.logger.InfoContext(ctx, "command received", "command", name)
	run(ctx, msg, args)
	return true
}

func (a *Adapter) handleStart(ctx context.Context, msg *models.Message, _ string) {
	name := textDefaultName
	if msg.From != nil && msg.From.FirstName != "" {
		name = msg.From.FirstName
	}
	text := startText(name, a.now().In(a.config.Location))
	keyboard := miniAppKeyboard("📱 Открыть Mini App", a.config.MiniAppURL)
	if _, err := a.send(ctx, msg.Chat.ID, text, true, keyboard); err != nil {
		a.logger.ErrorContext(ctx, "failed to send greeting", "error", err)
	}
}

func (a *Adapter) handleAdmin(ctx context.Context, msg *models.Message, _ string) {
	if msg.From == nil || a.config.OwnerUsername == "" ||
		!strings.EqualFold(msg.From.Username, strings.TrimPrefix(a.config.OwnerUsername, "@")) {
		a.logger.WarnContext(ctx, "owner command refused")
		if _, err := a.send(ctx, msg.Chat.ID, textOwnerOnly, false, nil); err != nil {
			a.logger.ErrorContext(ctx, "failed to send refusal", "error", err)
		}
		return
	}
	keyboard := miniAppKeyboard("🛠 Админ Панель", adminURL(a.config.MiniAppURL))
	if _, err := a.send(ctx, msg.Chat.ID, textOwnerWelcome, true, keyboard); err != nil {
		a.logger.ErrorContext(ctx, "failed to send owner keyboard", "error", err)
	}
}

func (a *Adapter) handleReset(ctx context.Context, msg *models.Message, _ string) {
	chatID := msg.Chat.ID
	a.deps.Engine.Reset(chatID, "")
	a.deps.Temp.CleanupChat(chatID)
	if err := a.deps.State.Delete(ctx, chatID); err != nil {
		a.logger.WarnContext(ctx, "failed to delete chat state", "error", err)
	}
	if _, err := a.send(ctx, chatID, textReset, false, nil); err != nil {
		a.logger.ErrorContext(ctx, "failed to confirm reset", "error", err)
	}
}

func (a *Adapter) handleSearch(ctx context.Context, msg *models.Message, query string) {
	chatID := msg.Chat.ID
	if query == "" {
		a.send(ctx, chatID, textSearchUsage, false, nil)
		return
	}
	a.typing(ctx, chatID)

	var text string
	results, err := a.deps.Search.Search(ctx, query, a.config.SearchResults)
	if err != nil {
		a.logger.ErrorContext(ctx, "search failed", "error", err)
		a.deps.Metrics.RecordError("websearch", "request")
		text = websearch.FormatError(err)
	} else {
		text = websearch.Format(results)
	}
	if _, err := a.send(ctx, chatID, text, false, nil); err != nil {
		a.logger.ErrorContext(ctx, "failed to send search results", "error", err)
	}
}

// handlePhoto stores the photo as the chat's pending image and asks for a
// description.
func (a *Adapter) handlePhoto(ctx context.Context, msg *models.Message) {
	chatID := msg.Chat.ID
	ctx, span := a.begin(ctx, kindPhoto, chatID)
	defer span.End()

	a.deps.Temp.CleanupChat(chatID)

	// Sizes are ordered ascending; the last is the original resolution.
	photo := msg.Photo[len(msg.Photo)-1]
	path := a.deps.Temp.PhotoPath(chatID, a.now())
	if _, err := a.downloader.Download(ctx, photo.FileID, path, media.MaxBytesForKind(media.KindImage)); err != nil {
		a.logger.ErrorContext(ctx, "photo download failed", "error", err)
		observability.RecordError(span, err)
		a.deps.Metrics.RecordError("telegram", "download")
		a.send(ctx, chatID, textDownloadFailed, false, nil)
		return
	}
	if err := a.deps.State.SetPendingPhoto(ctx, chatID, path); err != nil {
		a.logger.WarnContext(ctx, "failed to record pending photo", "error", err)
	}

	status, err := a.send(ctx, chatID, textPhotoStatus, true, nil)
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to send status", "error", err)
		return
	}

	image, err := os.ReadFile(path)
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to read photo", "error", err)
		a.edit(ctx, chatID, status, textPhotoNoisy, true)
		return
	}

	reply, err := a.deps.Engine.Vision(ctx, chatID, promptDescribePhoto, "", image)
	switch {
	case err != nil:
		a.logger.WarnContext(ctx, "no provider described the photo", "error", err)
		observability.RecordError(span, err)
		a.edit(ctx, chatID, status, textPhotoNoisy, true)
	case reply.FromGemini():
		if err := a.edit(ctx, chatID, status, photoGeminiText(reply.Model, reply.Text), true); err != nil {
			a.logger.ErrorContext(ctx, "failed to show description", "error", err)
			return
		}
		a.send(ctx, chatID, textPhotoMenu, false, visionTaskKeyboard())
	default:
		a.edit(ctx, chatID, status, photoFallbackText(reply.Text), true)
	}
}

// handleCallback answers the vision_task buttons under a described photo.
func (a *Adapter) handleCallback(ctx context.Context, _ *bot.Bot, update *models.Update) {
	query := update.CallbackQuery
	if query == nil {
		return
	}
	var chatID int64
	if query.Message.Message != nil {
		chatID = query.Message.Message.Chat.ID
	} else if query.Message.InaccessibleMessage != nil {
		chatID = query.Message.InaccessibleMessage.Chat.ID
	}
	ctx, span := a.begin(ctx, kindCallback, chatID)
	defer span.End()

	task := strings.TrimPrefix(query.Data, callbackPrefix)
	instruction, ok := visionTasks[task]
	ack := textCallbackAck
	if !ok || chatID == 0 {
		ack = textUnknownTask
	}
	if _, err := a.client.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: query.ID,
		Text:            ack,
	}); err != nil {
		a.logger.WarnContext(ctx, "failed to answer callback", "error", err)
	}
	if ack != textCallbackAck {
		a.logger.WarnContext(ctx, "unknown callback", "data", query.Data)
		return
	}
	a.visionAction(ctx, chatID, instruction)
}

// handleText continues the conversation, or acts on the pending photo when
// there is one.
func (a *Adapter) handleText(ctx context.Context, chatID int64, text string) {
	a.typing(ctx, chatID)

	st, err := a.deps.State.Get(ctx, chatID)
	if err != nil {
		a.logger.WarnContext(ctx, "failed to load chat state", "error", err)
	}
	if st.PendingPhoto != "" {
		a.visionAction(ctx, chatID, text)
		return
	}

	reply, err := a.deps.Engine.Chat(ctx, chatID, text)
	var out string
	markdown := true
	switch {
	case err != nil:
		if errors.Is(err, context.Canceled) {
			return
		}
		a.logger.WarnContext(ctx, "no provider answered", "error", err)
		out, markdown = textApology, false
	case reply.FromGemini():
		out = reply.Text + textTextSuffix
	default:
		out = textFallbackText(reply.Text)
	}
	if _, err := a.send(ctx, chatID, out, markdown, nil); err != nil {
		a.logger.ErrorContext(ctx, "failed to send reply", "error", err)
	}
}

// visionAction runs instruction against the pending photo. The photo is
// consumed only when some provider answered.
func (a *Adapter) visionAction(ctx context.Context, chatID int64, instruction string) {
	st, err := a.deps.State.Get(ctx, chatID)
	if err != nil {
		a.logger.WarnContext(ctx, "failed to load chat state", "error", err)
	}
	path := st.PendingPhoto

	status, err := a.send(ctx, chatID, textVisionStatus, true, nil)
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to send status", "error", err)
		return
	}

	var image []byte
	if path != "" {
		image, err = os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			a.logger.WarnContext(ctx, "failed to read pending photo", "error", err)
		}
	}

	reply, err := a.deps.Engine.Vision(ctx, chatID, visionPrompt(instruction), instruction, image)
	switch {
	case err != nil:
		if errors.Is(err, context.Canceled) {
			return
		}
		a.logger.WarnContext(ctx, "vision action failed", "error", err)
		a.edit(ctx, chatID, status, textApology, false)
		return
	case reply.FromGemini():
		a.edit(ctx, chatID, status, reply.Text, false)
	default:
		a.edit(ctx, chatID, status, visionFallbackText(reply.Text), true)
	}

	if path != "" {
		a.deps.Temp.Remove(path)
		if err := a.deps.State.ClearPendingPhoto(ctx, chatID); err != nil {
			a.logger.WarnContext(ctx, "failed to clear pending photo", "error", err)
		}
	}
}

// handleVoice transcribes a voice note or audio file and treats the
// transcript as a text message.
func (a *Adapter) handleVoice(ctx context.Context, msg *models.Message) {
	chatID := msg.Chat.ID
	ctx, span := a.begin(ctx, kindVoice, chatID)
	defer span.End()

	a.deps.Temp.CleanupChat(chatID)

	fileID, reported := "", ""
	if msg.Voice != nil {
		fileID, reported = msg.Voice.FileID, msg.Voice.MimeType
	} else {
		fileID, reported = msg.Audio.FileID, msg.Audio.MimeType
	}

	limit := a.config.MaxDownloadBytes
	if kindMax := media.MaxBytesForKind(media.KindFromMIME(reported)); kindMax < limit {
		limit = kindMax
	}

	path := a.deps.Temp.AudioPath(chatID, a.now())
	defer a.deps.Temp.Remove(path)
	if _, err := a.downloader.Download(ctx, fileID, path, limit); err != nil {
		a.logger.ErrorContext(ctx, "audio download failed", "error", err)
		observability.RecordError(span, err)
		a.deps.Metrics.RecordError("telegram", "download")
		a.send(ctx, chatID, textVoiceFailed, false, nil)
		return
	}

	status, err := a.send(ctx, chatID, textVoiceStatus, true, nil)
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to send status", "error", err)
		return
	}

	audio, err := os.ReadFile(path)
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to read audio", "error", err)
		a.edit(ctx, chatID, status, textVoiceFailed, false)
		return
	}

	reply, err := a.deps.Engine.Transcribe(ctx, audio, media.DetectMIME(audio, path, reported))
	if err != nil || strings.TrimSpace(reply.Text) == "" {
		a.logger.WarnContext(ctx, "transcription failed", "error", err)
		observability.RecordError(span, err)
		a.edit(ctx, chatID, status, textVoiceFailed, false)
		return
	}

	text := strings.TrimSpace(reply.Text)
	a.edit(ctx, chatID, status, transcriptText(text), true)
	a.handleText(ctx, chatID, text)
}
