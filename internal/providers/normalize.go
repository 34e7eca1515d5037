package providers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// replyMarker separates the prompt echo from the answer in raw generation
// output.
const replyMarker = "Prophet:"

// Normalize extracts the reply text from any response shape the inference
// router returns: chat completions, generation arrays, transcription or
// caption objects and bare JSON strings. Hugging Face error bodies come back
// as classified ProviderErrors; unknown shapes are malformed_response errors.
func Normalize(body []byte) (string, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return "", &ProviderError{Reason: FailoverEmptyResponse, Message: "empty body"}
	}

	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", &ProviderError{
			Reason:  FailoverMalformedResponse,
			Message: fmt.Sprintf("invalid json: %s", excerpt(body)),
			Cause:   err,
		}
	}

	var text string
	switch v := decoded.(type) {
	case string:
		text = v
	case []any:
		if len(v) == 0 {
			return "", &ProviderError{Reason: FailoverEmptyResponse, Message: "empty result list"}
		}
		var ok bool
		text, ok = firstText(v[0], "generated_text", "text")
		if !ok {
			return "", malformed(body)
		}
		text = afterMarker(text)
	case map[string]any:
		if errVal, ok := v["error"]; ok && errVal != nil {
			return "", errorBody(errVal)
		}
		if choices, ok := v["choices"].([]any); ok {
			var found bool
			text, found = choiceText(choices)
			if !found {
				return "", malformed(body)
			}
			break
		}
		var ok bool
		text, ok = firstText(v, "text", "generated_text")
		if !ok {
			return "", malformed(body)
		}
	default:
		return "", malformed(body)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", &ProviderError{Reason: FailoverEmptyResponse, Message: "empty text"}
	}
	return text, nil
}

// firstText returns v itself when it is a string, or the first of keys
// present in it when it is an object.
func firstText(v any, keys ...string) (string, bool) {
	switch item := v.(type) {
	case string:
		return item, true
	case map[string]any:
		for _, key := range keys {
			if s, ok := item[key].(string); ok {
				return s, true
			}
		}
	}
	return "", false
}

func choiceText(choices []any) (string, bool) {
	if len(choices) == 0 {
		return "", false
	}
	choice, ok := choices[0].(map[string]any)
	if !ok {
		return "", false
	}
	if msg, ok := choice["message"].(map[string]any); ok {
		if s, ok := msg["content"].(string); ok {
			return s, true
		}
	}
	if s, ok := choice["text"].(string); ok {
		return s, true
	}
	return "", false
}

func afterMarker(s string) string {
	if i := strings.LastIndex(s, replyMarker); i >= 0 {
		return s[i+len(replyMarker):]
	}
	return s
}

func errorBody(v any) error {
	var msg string
	switch e := v.(type) {
	case string:
		msg = e
	case []any:
		parts := make([]string, 0, len(e))
		for _, p := range e {
			parts = append(parts, fmt.Sprint(p))
		}
		msg = strings.Join(parts, "; ")
	case map[string]any:
		if m, ok := e["message"].(string); ok {
			msg = m
		} else {
			msg = fmt.Sprint(e)
		}
	default:
		msg = fmt.Sprint(e)
	}
	err := NewProviderError("", "", errors.New(msg))
	if err.Reason == FailoverUnknown {
		err.Reason = FailoverServerError
	}
	return err
}

func malformed(body []byte) error {
	return &ProviderError{
		Reason:  FailoverMalformedResponse,
		Message: fmt.Sprintf("unexpected response shape: %s", excerpt(body)),
	}
}

func excerpt(body []byte) string {
	const limit = 200
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
