package llm

import (
	"encoding/json"
	"fmt"
)

// ContentPart is one element of a multimodal message body.
//
// Type: "text" or "image_url"
// Text: text content, for text parts
// ImageURL: image reference (data URI or HTTP URL), for image parts
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL wraps an image reference the way chat-completions APIs expect it.
type ImageURL struct {
	URL string `json:"url"`
}

// TextPart builds a text content part.
func TextPart(text string) ContentPart {
	return ContentPart{Type: "text", Text: text}
}

// ImagePart builds an image content part from a data URI or HTTP URL.
func ImagePart(url string) ContentPart {
	return ContentPart{Type: "image_url", ImageURL: &ImageURL{URL: url}}
}

// Message represents a chat message whose content is either a plain string
// or an ordered list of multimodal parts. Parts win over Text when both are
// set.
type Message struct {
	Role  string
	Text  string
	Parts []ContentPart
}

// TextMessage builds a plain text message.
func TextMessage(role, text string) Message {
	return Message{Role: role, Text: text}
}

// UserMessage builds a multimodal user message.
func UserMessage(parts ...ContentPart) Message {
	return Message{Role: "user", Parts: parts}
}

// MarshalJSON serializes content as a string for plain messages and as a
// part array for multimodal ones.
func (m Message) MarshalJSON() ([]byte, error) {
	if len(m.Parts) > 0 {
		return json.Marshal(&struct {
			Role    string        `json:"role"`
			Content []ContentPart `json:"content"`
		}{Role: m.Role, Content: m.Parts})
	}
	return json.Marshal(&struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}{Role: m.Role, Content: m.Text})
}

// ChatRequest represents a chat completion request.
// Compatible with the OpenAI API format; Model selects text-generation vs
// image-generation behavior on multi-model providers.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

// Envelope is the raw response body of the generation endpoint. The shape is
// not standardized across backing models and providers, so every field is
// optional and image payloads may appear in several places; see
// ExtractImageRef for the reconciliation rules.
type Envelope struct {
	ID      string            `json:"id,omitempty"`
	Model   string            `json:"model,omitempty"`
	Choices []EnvelopeChoice  `json:"choices,omitempty"`
	Images  []json.RawMessage `json:"images,omitempty"`
	Error   *APIError         `json:"error,omitempty"`
}

// EnvelopeChoice is one completion choice of the envelope.
type EnvelopeChoice struct {
	Message      EnvelopeMessage `json:"message"`
	FinishReason string          `json:"finish_reason,omitempty"`
}

// EnvelopeMessage keeps content raw because it may be a plain string or an
// ordered list of typed parts depending on the upstream model.
type EnvelopeMessage struct {
	Role    string            `json:"role,omitempty"`
	Content json.RawMessage   `json:"content,omitempty"`
	Images  []json.RawMessage `json:"images,omitempty"`
}

// ContentText returns the first choice's content when it is a plain string.
func (e *Envelope) ContentText() (string, bool) {
	if e == nil || len(e.Choices) == 0 || len(e.Choices[0].Message.Content) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(e.Choices[0].Message.Content, &s); err != nil {
		return "", false
	}
	return s, true
}

// APIError represents an error object embedded in the response body.
type APIError struct {
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
	Code    any    `json:"code,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("LLM API error: %s (type: %s)", e.Message, e.Type)
}

// TransportError reports a non-2xx HTTP status from the generation endpoint.
type TransportError struct {
	Status     int
	StatusText string
	Body       string
}

func (e *TransportError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("generation request failed with status %d %s: %s", e.Status, e.StatusText, e.Body)
	}
	return fmt.Sprintf("generation request failed with status %d %s", e.Status, e.StatusText)
}
