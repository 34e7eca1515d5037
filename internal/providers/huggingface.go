package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// HuggingFaceName is the provider label used in errors, metrics and replies.
const HuggingFaceName = "huggingface"

// HF task names understood by Model.
const (
	TaskText      = "text"
	TaskVision    = "vision"
	TaskAudio     = "audio"
	TaskReasoning = "reasoning"
)

const maxResponseBytes = 4 << 20

// HuggingFaceConfig holds configuration for the Inference Router client.
type HuggingFaceConfig struct {
	Token string

	// InferenceURL is the raw task endpoint prefix; the model id is appended.
	InferenceURL string

	// ChatURL is the OpenAI-compatible base URL.
	ChatURL string

	// Tasks maps task names to model ids.
	Tasks map[string]string

	SystemPrompt string
	MaxNewTokens int
	Temperature  float32
	Timeout      time.Duration

	// HTTPClient overrides the transport for both raw and chat calls.
	HTTPClient *http.Client
}

// HuggingFace calls text, vision and speech models through the router.
type HuggingFace struct {
	config HuggingFaceConfig
	http   *http.Client
	chat   *openai.Client
}

// NewHuggingFace builds the client. A missing token is not an error here;
// every call then fails with ErrNotConfigured.
func NewHuggingFace(config HuggingFaceConfig) *HuggingFace {
	if config.MaxNewTokens <= 0 {
		config.MaxNewTokens = 500
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	if config.Tasks == nil {
		config.Tasks = map[string]string{}
	}

	client := config.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: config.Timeout}
	}

	chatConfig := openai.DefaultConfig(config.Token)
	if config.ChatURL != "" {
		chatConfig.BaseURL = strings.TrimRight(config.ChatURL, "/")
	}
	chatConfig.HTTPClient = client

	return &HuggingFace{
		config: config,
		http:   client,
		chat:   openai.NewClientWithConfig(chatConfig),
	}
}

// Name returns the provider identifier.
func (h *HuggingFace) Name() string {
	return HuggingFaceName
}

// Enabled reports whether a token is configured.
func (h *HuggingFace) Enabled() bool {
	return h != nil && strings.TrimSpace(h.config.Token) != ""
}

// Model returns the model id configured for task.
func (h *HuggingFace) Model(task string) string {
	return h.config.Tasks[task]
}

// Text answers prompt with the text model. The chat-completions route is
// tried first; raw text generation is the fallback.
func (h *HuggingFace) Text(ctx context.Context, prompt string) (string, error) {
	model, err := h.model(TaskText)
	if err != nil {
		return "", err
	}

	out, chatErr := h.chatCompletion(ctx, model, prompt)
	if chatErr == nil {
		return out, nil
	}
	if ctx.Err() != nil {
		return "", chatErr
	}

	payload := map[string]any{
		"inputs": fmt.Sprintf("%s\n\nUser: %s\n%s", h.config.SystemPrompt, prompt, replyMarker),
		"parameters": map[string]any{
			"max_new_tokens": h.config.MaxNewTokens,
		},
		"options": map[string]any{
			"wait_for_model": true,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("huggingface: encode payload: %w", err)
	}

	out, rawErr := h.infer(ctx, model, bytes.NewReader(body), "application/json")
	if rawErr != nil {
		return "", fmt.Errorf("chat completion: %v; text generation: %w", chatErr, rawErr)
	}
	return out, nil
}

// Caption describes image with the vision model.
func (h *HuggingFace) Caption(ctx context.Context, image []byte) (string, error) {
	model, err := h.model(TaskVision)
	if err != nil {
		return "", err
	}
	return h.infer(ctx, model, bytes.NewReader(image), "image/jpeg")
}

// Transcribe converts speech to text with the audio model. mimeType
// defaults to audio/ogg, the Telegram voice format.
func (h *HuggingFace) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	model, err := h.model(TaskAudio)
	if err != nil {
		return "", err
	}
	if mimeType == "" {
		mimeType = "audio/ogg"
	}
	return h.infer(ctx, model, bytes.NewReader(audio), mimeType)
}

func (h *HuggingFace) model(task string) (string, error) {
	if !h.Enabled() {
		return "", fmt.Errorf("huggingface: %w", ErrNotConfigured)
	}
	model := h.config.Tasks[task]
	if model == "" {
		return "", &ProviderError{
			Reason:   FailoverInvalidRequest,
			Provider: HuggingFaceName,
			Message:  fmt.Sprintf("no model configured for task %q", task),
		}
	}
	return model, nil
}

func (h *HuggingFace) chatCompletion(ctx context.Context, model, prompt string) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if h.config.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: h.config.SystemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})

	resp, err := h.chat.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   h.config.MaxNewTokens,
		Temperature: h.config.Temperature,
	})
	if err != nil {
		return "", wrapOpenAIError(err, model)
	}
	if len(resp.Choices) == 0 {
		return "", &ProviderError{Reason: FailoverEmptyResponse, Provider: HuggingFaceName, Model: model, Message: "no choices"}
	}
	out := strings.TrimSpace(resp.Choices[0].Message.Content)
	if out == "" {
		return "", &ProviderError{Reason: FailoverEmptyResponse, Provider: HuggingFaceName, Model: model, Message: "empty completion"}
	}
	return out, nil
}

// infer POSTs body to the raw task endpoint of model and normalizes the reply.
func (h *HuggingFace) infer(ctx context.Context, model string, body io.Reader, contentType string) (string, error) {
	url := strings.TrimRight(h.config.InferenceURL, "/") + "/" + model
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return "", fmt.Errorf("huggingface: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+h.config.Token)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-wait-for-model", "true")

	resp, err := h.http.Do(req)
	if err != nil {
		return "", NewProviderError(HuggingFaceName, model, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", NewProviderError(HuggingFaceName, model, fmt.Errorf("read body: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		msg := excerpt(data)
		var payload struct {
			Error any `json:"error"`
		}
		if json.Unmarshal(data, &payload) == nil && payload.Error != nil {
			msg = fmt.Sprint(payload.Error)
		}
		return "", NewProviderError(HuggingFaceName, model, errors.New(msg)).
			WithStatus(resp.StatusCode).
			WithMessage(msg)
	}

	out, err := Normalize(data)
	if err != nil {
		return "", attribute(err, HuggingFaceName, model)
	}
	return out, nil
}

func wrapOpenAIError(err error, model string) error {
	providerErr := NewProviderError(HuggingFaceName, model, err)

	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		providerErr = providerErr.WithStatus(apiErr.HTTPStatusCode).WithMessage(apiErr.Message)
		if code, ok := apiErr.Code.(string); ok {
			providerErr = providerErr.WithCode(code)
		}
	case errors.As(err, &reqErr):
		providerErr = providerErr.WithStatus(reqErr.HTTPStatusCode)
	}
	return providerErr
}

// attribute fills in provider and model on errors produced by Normalize.
func attribute(err error, provider, model string) error {
	if providerErr, ok := GetProviderError(err); ok {
		if providerErr.Provider == "" {
			providerErr.Provider = provider
		}
		if providerErr.Model == "" {
			providerErr.Model = model
		}
	}
	return err
}
