// Package engine routes prompts across the Gemini model list and the
// Hugging Face fallback, keeping one conversation per chat and model.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aiprophet/prophet/internal/observability"
	"github.com/aiprophet/prophet/internal/providers"
)

// ErrNoProvider is returned when every provider failed or none is configured.
var ErrNoProvider = errors.New("engine: no provider produced a reply")

// Operation labels used for metrics and spans.
const (
	OpChat       = "chat"
	OpVision     = "vision"
	OpTranscribe = "transcribe"
)

// SessionFactory opens Gemini conversations.
type SessionFactory interface {
	NewChat(ctx context.Context, model string) (providers.ChatSession, error)
}

// Fallback is the secondary provider tier.
type Fallback interface {
	Enabled() bool
	Model(task string) string
	Text(ctx context.Context, prompt string) (string, error)
	Caption(ctx context.Context, image []byte) (string, error)
	Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error)
}

// Config tunes the engine.
type Config struct {
	// Models is the Gemini fallback order.
	Models []string

	// QuotaCooldown is how long a model is skipped after a quota error.
	QuotaCooldown time.Duration

	// RequestTimeout bounds each provider attempt. Zero means no bound.
	RequestTimeout time.Duration
}

// Reply is a normalized answer and where it came from.
type Reply struct {
	Text     string
	Provider string
	Model    string
}

// FromGemini reports whether the primary tier answered.
func (r Reply) FromGemini() bool {
	return r.Provider == providers.GeminiName
}

type sessionKey struct {
	chatID int64
	model  string
}

// session serializes turns on one conversation.
type session struct {
	mu   sync.Mutex
	chat providers.ChatSession
}

// Engine is safe for concurrent use.
type Engine struct {
	gemini   SessionFactory
	fallback Fallback
	config   Config

	logger  *slog.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
	now     func() time.Time

	mu        sync.Mutex
	sessions  map[sessionKey]*session
	exhausted map[string]time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithTracer sets the tracer.
func WithTracer(t *observability.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New builds an Engine. gemini and fallback may be nil when the tier is
// not configured.
func New(config Config, gemini SessionFactory, fallback Fallback, opts ...Option) *Engine {
	e := &Engine{
		gemini:    gemini,
		fallback:  fallback,
		config:    config,
		logger:    slog.Default(),
		now:       time.Now,
		sessions:  make(map[sessionKey]*session),
		exhausted: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "engine")
	return e
}

// Chat answers text in the context of chatID's conversation.
func (e *Engine) Chat(ctx context.Context, chatID int64, text string) (Reply, error) {
	reply, lastErr := e.askGemini(ctx, OpChat, chatID, text, nil)
	if lastErr == nil {
		return reply, nil
	}
	if ctx.Err() != nil {
		return Reply{}, ctx.Err()
	}

	if e.fallbackEnabled() {
		model := e.fallback.Model(providers.TaskText)
		out, err := e.callFallback(ctx, OpChat, model, func(ctx context.Context) (string, error) {
			return e.fallback.Text(ctx, text)
		})
		if err == nil {
			e.metrics.RecordReply(OpChat, providers.HuggingFaceName)
			return Reply{Text: out, Provider: providers.HuggingFaceName, Model: model}, nil
		}
		lastErr = err
	}

	e.metrics.RecordReply(OpChat, "none")
	return Reply{}, noProvider(lastErr)
}

// Vision answers prompt about image. A nil image makes this a plain
// prompt on the same conversation. instruction is the user's own wording;
// the fallback text model gets it instead of prompt when there is no
// image. An empty instruction falls back to prompt.
func (e *Engine) Vision(ctx context.Context, chatID int64, prompt, instruction string, image []byte) (Reply, error) {
	var media []providers.Media
	if len(image) > 0 {
		media = []providers.Media{{Data: image, MIMEType: "image/jpeg"}}
	}

	reply, lastErr := e.askGemini(ctx, OpVision, chatID, prompt, media)
	if lastErr == nil {
		return reply, nil
	}
	if ctx.Err() != nil {
		return Reply{}, ctx.Err()
	}

	if e.fallbackEnabled() {
		task := providers.TaskText
		if instruction == "" {
			instruction = prompt
		}
		call := func(ctx context.Context) (string, error) { return e.fallback.Text(ctx, instruction) }
		if len(image) > 0 {
			task = providers.TaskVision
			call = func(ctx context.Context) (string, error) { return e.fallback.Caption(ctx, image) }
		}
		model := e.fallback.Model(task)
		out, err := e.callFallback(ctx, OpVision, model, call)
		if err == nil {
			e.metrics.RecordReply(OpVision, providers.HuggingFaceName)
			return Reply{Text: out, Provider: providers.HuggingFaceName, Model: model}, nil
		}
		lastErr = err
	}

	e.metrics.RecordReply(OpVision, "none")
	return Reply{}, noProvider(lastErr)
}

// Transcribe converts speech to text with the fallback tier's audio model.
func (e *Engine) Transcribe(ctx context.Context, audio []byte, mimeType string) (Reply, error) {
	if !e.fallbackEnabled() {
		e.metrics.RecordReply(OpTranscribe, "none")
		return Reply{}, noProvider(providers.ErrNotConfigured)
	}
	model := e.fallback.Model(providers.TaskAudio)
	out, err := e.callFallback(ctx, OpTranscribe, model, func(ctx context.Context) (string, error) {
		return e.fallback.Transcribe(ctx, audio, mimeType)
	})
	if err != nil {
		e.metrics.RecordReply(OpTranscribe, "none")
		if ctx.Err() != nil {
			return Reply{}, ctx.Err()
		}
		return Reply{}, noProvider(err)
	}
	e.metrics.RecordReply(OpTranscribe, providers.HuggingFaceName)
	return Reply{Text: out, Provider: providers.HuggingFaceName, Model: model}, nil
}

// Reset drops one conversation, or all of chatID's conversations when
// model is empty.
func (e *Engine) Reset(chatID int64, model string) {
	e.mu.Lock()
	for key := range e.sessions {
		if key.chatID == chatID && (model == "" || key.model == model) {
			delete(e.sessions, key)
		}
	}
	n := len(e.sessions)
	e.mu.Unlock()
	e.metrics.SetActiveSessions(n)
}

// Sessions returns the number of cached conversations.
func (e *Engine) Sessions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sessions)
}

// askGemini walks the model list. The returned error is nil on success
// and otherwise the last failure seen.
func (e *Engine) askGemini(ctx context.Context, op string, chatID int64, text string, media []providers.Media) (Reply, error) {
	lastErr := error(providers.ErrNotConfigured)
	if e.gemini == nil {
		return Reply{}, lastErr
	}

	for _, model := range e.config.Models {
		if err := ctx.Err(); err != nil {
			return Reply{}, err
		}
		if e.coolingDown(model) {
			e.metrics.SkipProvider(providers.GeminiName, model)
			e.logger.DebugContext(ctx, "model cooling down", "model", model)
			continue
		}

		sess, err := e.session(ctx, chatID, model)
		if err != nil {
			e.logger.WarnContext(ctx, "failed to open session", "model", model, "error", err)
			e.metrics.RecordError("engine", "session_create")
			lastErr = err
			continue
		}

		out, err := e.send(ctx, op, model, sess, text, media)
		if err == nil {
			e.metrics.RecordReply(op, providers.GeminiName)
			return Reply{Text: out, Provider: providers.GeminiName, Model: model}, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return Reply{}, ctx.Err()
		}

		reason := providers.ClassifyError(err)
		e.logger.WarnContext(ctx, "model failed, trying next",
			"model", model,
			"reason", string(reason),
			"error", err,
		)
		if providers.IsQuotaExhausted(err) {
			e.markExhausted(model)
		}
		// An empty answer leaves the conversation usable.
		if reason != providers.FailoverEmptyResponse {
			e.Reset(chatID, model)
		}
	}
	return Reply{}, lastErr
}

func (e *Engine) send(ctx context.Context, op, model string, sess *session, text string, media []providers.Media) (string, error) {
	ctx, cancel := e.attemptContext(ctx)
	defer cancel()

	ctx, span := e.tracer.TraceProviderCall(ctx, providers.GeminiName, model, op)
	defer span.End()

	started := time.Now()
	sess.mu.Lock()
	out, err := sess.chat.Send(ctx, text, media...)
	sess.mu.Unlock()

	e.metrics.ObserveProvider(providers.GeminiName, model, started, err)
	observability.RecordError(span, err)
	return out, err
}

func (e *Engine) callFallback(ctx context.Context, op, model string, call func(context.Context) (string, error)) (string, error) {
	ctx, cancel := e.attemptContext(ctx)
	defer cancel()

	ctx, span := e.tracer.TraceProviderCall(ctx, providers.HuggingFaceName, model, op)
	defer span.End()

	started := time.Now()
	out, err := call(ctx)
	e.metrics.ObserveProvider(providers.HuggingFaceName, model, started, err)
	observability.RecordError(span, err)
	if err != nil {
		e.logger.WarnContext(ctx, "fallback provider failed", "model", model, "operation", op, "error", err)
	}
	return out, err
}

func (e *Engine) session(ctx context.Context, chatID int64, model string) (*session, error) {
	key := sessionKey{chatID: chatID, model: model}

	e.mu.Lock()
	if s, ok := e.sessions[key]; ok {
		e.mu.Unlock()
		return s, nil
	}
	e.mu.Unlock()

	chat, err := e.gemini.NewChat(ctx, model)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	s, ok := e.sessions[key]
	if !ok {
		s = &session{chat: chat}
		e.sessions[key] = s
	}
	n := len(e.sessions)
	e.mu.Unlock()
	e.metrics.SetActiveSessions(n)
	return s, nil
}

func (e *Engine) coolingDown(model string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	until, ok := e.exhausted[model]
	if !ok {
		return false
	}
	if e.now().Before(until) {
		return true
	}
	delete(e.exhausted, model)
	return false
}

func (e *Engine) markExhausted(model string) {
	if e.config.QuotaCooldown <= 0 {
		return
	}
	e.mu.Lock()
	e.exhausted[model] = e.now().Add(e.config.QuotaCooldown)
	e.mu.Unlock()
}

func (e *Engine) fallbackEnabled() bool {
	return e.fallback != nil && e.fallback.Enabled()
}

func (e *Engine) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.config.RequestTimeout > 0 {
		return context.WithTimeout(ctx, e.config.RequestTimeout)
	}
	return context.WithCancel(ctx)
}

func noProvider(cause error) error {
	if cause == nil {
		return ErrNoProvider
	}
	return fmt.Errorf("%w: %w", ErrNoProvider, cause)
}
