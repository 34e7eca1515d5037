// Package providers implements the inference providers behind the engine:
// Google Gemini chat sessions and the Hugging Face Inference Router.
package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"
)

// GeminiName is the provider label used in errors, metrics and replies.
const GeminiName = "gemini"

// Media is an inline attachment sent with a chat turn.
type Media struct {
	Data     []byte
	MIMEType string
}

// ChatSession is one multi-turn conversation with a single model.
// Implementations keep their own history.
type ChatSession interface {
	Send(ctx context.Context, text string, media ...Media) (string, error)
}

// GoogleConfig holds configuration parameters for creating a GoogleProvider.
type GoogleConfig struct {
	// APIKey is the Gemini API key (required).
	APIKey string

	// SystemPrompt is installed as the system instruction of every session.
	SystemPrompt string

	// Temperature is the sampling temperature. Nil leaves the model default.
	Temperature *float32

	// BaseURL overrides the API endpoint; used by tests.
	BaseURL string

	// HTTPClient overrides the transport.
	HTTPClient *http.Client
}

// GoogleProvider creates Gemini chat sessions.
//
// GoogleProvider is safe for concurrent use; the sessions it returns are not.
type GoogleProvider struct {
	client *genai.Client
	config GoogleConfig
}

// NewGoogleProvider validates config and builds the Gen AI client.
func NewGoogleProvider(ctx context.Context, config GoogleConfig) (*GoogleProvider, error) {
	if strings.TrimSpace(config.APIKey) == "" {
		return nil, fmt.Errorf("gemini: %w", ErrNotConfigured)
	}

	cc := &genai.ClientConfig{
		APIKey:     config.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: config.HTTPClient,
	}
	if config.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: config.BaseURL}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini: failed to create client: %w", err)
	}
	return &GoogleProvider{client: client, config: config}, nil
}

// Name returns the provider identifier.
func (p *GoogleProvider) Name() string {
	return GeminiName
}

// NewChat opens a fresh conversation with model.
func (p *GoogleProvider) NewChat(ctx context.Context, model string) (ChatSession, error) {
	chat, err := p.client.Chats.Create(ctx, model, p.buildConfig(), nil)
	if err != nil {
		return nil, wrapGeminiError(err, model)
	}
	return &geminiChat{chat: chat, model: model}, nil
}

func (p *GoogleProvider) buildConfig() *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}
	if p.config.SystemPrompt != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: p.config.SystemPrompt}},
		}
	}
	if p.config.Temperature != nil {
		temperature := *p.config.Temperature
		config.Temperature = &temperature
	}
	return config
}

type geminiChat struct {
	chat  *genai.Chat
	model string
}

func (c *geminiChat) Send(ctx context.Context, text string, media ...Media) (string, error) {
	parts := make([]genai.Part, 0, len(media)+1)
	if text != "" {
		parts = append(parts, *genai.NewPartFromText(text))
	}
	for _, m := range media {
		if len(m.Data) == 0 {
			continue
		}
		parts = append(parts, *genai.NewPartFromBytes(m.Data, m.MIMEType))
	}
	if len(parts) == 0 {
		return "", &ProviderError{
			Reason:   FailoverInvalidRequest,
			Provider: GeminiName,
			Model:    c.model,
			Message:  "nothing to send",
		}
	}

	resp, err := c.chat.SendMessage(ctx, parts...)
	if err != nil {
		return "", wrapGeminiError(err, c.model)
	}

	out := strings.TrimSpace(resp.Text())
	if out == "" {
		reason := FailoverEmptyResponse
		msg := "empty response"
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			reason = FailoverContentFilter
			msg = fmt.Sprintf("prompt blocked: %s", resp.PromptFeedback.BlockReason)
		}
		return "", &ProviderError{Reason: reason, Provider: GeminiName, Model: c.model, Message: msg}
	}
	return out, nil
}

// wrapGeminiError converts SDK errors into ProviderErrors.
func wrapGeminiError(err error, model string) error {
	if err == nil {
		return nil
	}
	if IsProviderError(err) {
		return err
	}

	providerErr := NewProviderError(GeminiName, model, err)

	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		providerErr = providerErr.WithStatus(apiErr.Code).WithCode(apiErr.Status)
		if apiErr.Message != "" {
			providerErr = providerErr.WithMessage(apiErr.Message)
		}
	case errors.As(err, &apiErrPtr) && apiErrPtr != nil:
		providerErr = providerErr.WithStatus(apiErrPtr.Code).WithCode(apiErrPtr.Status)
		if apiErrPtr.Message != "" {
			providerErr = providerErr.WithMessage(apiErrPtr.Message)
		}
	}
	return providerErr
}
