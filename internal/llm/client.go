package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/inkfable/story-illustrator/pkg/log"
)

// bodyPreviewLimit bounds the response body excerpt carried by a
// TransportError.
const bodyPreviewLimit = 500

// Client posts chat-style multimodal requests to a generation endpoint and
// returns the raw response envelope. Thread-safe for concurrent use.
//
// Retries are a caller concern; the client issues exactly one HTTP request
// per call and honors ctx cancellation, so a timed out caller aborts the
// in-flight request.
type Client struct {
	config     *Config
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a new generation API client with the given configuration.
func NewClient(config *Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &Client{
		config:  config,
		baseURL: config.APIURL,
		httpClient: &http.Client{
			Timeout: time.Duration(config.Timeout) * time.Second,
		},
	}, nil
}

// TextModel returns the configured text-generation model.
func (c *Client) TextModel() string { return c.config.TextModel }

// ImageModel returns the configured image-generation model.
func (c *Client) ImageModel() string { return c.config.ImageModel }

// Complete posts the messages to the chat-completions endpoint under the
// given model and returns the raw envelope. A non-2xx status fails with
// *TransportError; an error object inside a 2xx body fails with *APIError.
func (c *Client) Complete(ctx context.Context, model string, messages []Message) (*Envelope, error) {
	request := ChatRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   c.config.MaxTokens,
		Temperature: c.config.Temperature,
	}

	c.logRequest(model, messages)

	envelope, err := c.makeRequest(ctx, request)
	if err != nil {
		return envelope, err
	}
	return envelope, nil
}

// makeRequest makes a raw HTTP request to the configured generation API.
func (c *Client) makeRequest(ctx context.Context, payload ChatRequest) (*Envelope, error) {
	url := c.baseURL + "/chat/completions"

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for key, value := range c.config.GetHeaders() {
		req.Header.Set(key, value)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &TransportError{
			Status:     resp.StatusCode,
			StatusText: http.StatusText(resp.StatusCode),
			Body:       truncate(string(responseBody), bodyPreviewLimit),
		}
	}

	var envelope Envelope
	if err := json.Unmarshal(responseBody, &envelope); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if envelope.Error != nil && envelope.Error.Message != "" {
		return &envelope, envelope.Error
	}

	c.logEnvelope(&envelope)
	return &envelope, nil
}

// logRequest emits a redacted diagnostic record of the outgoing messages:
// part types, lengths, and a bounded text preview. Never the API key, never
// full base64 payloads.
func (c *Client) logRequest(model string, messages []Message) {
	for i, msg := range messages {
		if len(msg.Parts) == 0 {
			log.Debug("LLM request model=%s message[%d] role=%s text len=%d preview=%q",
				model, i, msg.Role, len(msg.Text), truncate(msg.Text, 80))
			continue
		}
		for j, part := range msg.Parts {
			switch part.Type {
			case "image_url":
				ref := ""
				if part.ImageURL != nil {
					ref = part.ImageURL.URL
				}
				log.Debug("LLM request model=%s message[%d] part[%d] type=image_url kind=%s len=%d",
					model, i, j, refKind(ref), len(ref))
			default:
				log.Debug("LLM request model=%s message[%d] part[%d] type=%s len=%d preview=%q",
					model, i, j, part.Type, len(part.Text), truncate(part.Text, 80))
			}
		}
	}
}

func (c *Client) logEnvelope(envelope *Envelope) {
	contentLen := 0
	if len(envelope.Choices) > 0 {
		contentLen = len(envelope.Choices[0].Message.Content)
	}
	log.Debug("LLM response id=%s model=%s choices=%d top_level_images=%d content len=%d",
		envelope.ID, envelope.Model, len(envelope.Choices), len(envelope.Images), contentLen)
}

// refKind classifies an image reference for logging without exposing its
// payload.
func refKind(ref string) string {
	switch {
	case strings.HasPrefix(ref, "data:"):
		return "data-uri"
	case strings.HasPrefix(ref, "http"):
		return "url"
	default:
		return "opaque"
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
