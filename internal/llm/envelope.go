package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// longStringThreshold distinguishes short metadata strings from raw base64
// image payloads. Payloads at or below this length are never valid encoded
// images for the image sizes this system generates, so the threshold must
// not be lowered.
const longStringThreshold = 1000

// previewLimit bounds the diagnostic text carried by a NoImagePayloadError.
const previewLimit = 200

// NoImagePayloadError reports an envelope that parsed successfully but
// contained no extractable image, with a bounded preview of whatever text
// content was present.
type NoImagePayloadError struct {
	Preview string
}

func (e *NoImagePayloadError) Error() string {
	if e.Preview != "" {
		return fmt.Sprintf("no image payload in response: %q", e.Preview)
	}
	return "no image payload in response"
}

// ExtractImageRef reconciles the heterogeneous envelope shapes the endpoint
// may return into a single image reference: an HTTP(S) URL or a data URI.
//
// Precedence, first match wins (the ordering encodes observed provider
// variance):
//  1. top-level images[0]
//  2. choices[0].message.images[0]
//  3. choices[0].message.content as a plain string
//  4. choices[0].message.content as an ordered list of typed parts
//
// Anything else fails with *NoImagePayloadError.
func ExtractImageRef(envelope *Envelope) (string, error) {
	if envelope == nil {
		return "", &NoImagePayloadError{}
	}

	// (1) Some providers return an images array parallel to choices.
	if len(envelope.Images) > 0 {
		if ref, ok := imageFromEntry(envelope.Images[0]); ok {
			return ref, nil
		}
	}

	if len(envelope.Choices) == 0 {
		return "", &NoImagePayloadError{}
	}
	message := envelope.Choices[0].Message

	// (2) Same extraction, nested one level deeper.
	if len(message.Images) > 0 {
		if ref, ok := imageFromEntry(message.Images[0]); ok {
			return ref, nil
		}
	}

	if len(message.Content) == 0 {
		return "", &NoImagePayloadError{}
	}

	// (3) Content as a plain string.
	var text string
	if err := json.Unmarshal(message.Content, &text); err == nil {
		if strings.Contains(text, "data:image") {
			return text, nil
		}
		// Only wrap when the literal substring "base64" is present; a long
		// opaque string without it is treated as text rather than risking a
		// bad wrap.
		if len(text) > longStringThreshold && strings.Contains(text, "base64") {
			return wrapBase64(text), nil
		}
		return "", &NoImagePayloadError{Preview: truncate(text, previewLimit)}
	}

	// (4) Content as an ordered list of typed parts.
	var parts []envelopeContentPart
	if err := json.Unmarshal(message.Content, &parts); err == nil {
		for _, part := range parts {
			if !isImagePartType(part.Type) {
				continue
			}
			for _, candidate := range part.candidates() {
				if ref, ok := acceptCandidate(candidate); ok {
					return ref, nil
				}
			}
		}
		return "", &NoImagePayloadError{Preview: truncate(textPreview(parts), previewLimit)}
	}

	return "", &NoImagePayloadError{}
}

// envelopeContentPart is the lenient decode target for one typed content
// part; providers disagree on where the payload field lives.
type envelopeContentPart struct {
	Type       string    `json:"type"`
	Text       string    `json:"text"`
	URL        string    `json:"url"`
	ImageURL   *ImageURL `json:"image_url"`
	B64JSON    string    `json:"b64_json"`
	Data       string    `json:"data"`
	InlineData *struct {
		Data string `json:"data"`
	} `json:"inline_data"`
}

// candidates lists the part's possible payload fields in acceptance order.
func (p envelopeContentPart) candidates() []string {
	ret := make([]string, 0, 4)
	if p.ImageURL != nil && p.ImageURL.URL != "" {
		ret = append(ret, p.ImageURL.URL)
	}
	if p.URL != "" {
		ret = append(ret, p.URL)
	}
	if p.B64JSON != "" {
		ret = append(ret, p.B64JSON)
	}
	if p.Data != "" {
		ret = append(ret, p.Data)
	}
	if p.InlineData != nil && p.InlineData.Data != "" {
		ret = append(ret, p.InlineData.Data)
	}
	return ret
}

func isImagePartType(t string) bool {
	switch t {
	case "image_url", "output_image", "image":
		return true
	default:
		return false
	}
}

// imageFromEntry extracts a reference from one entry of an images array.
// Entries may be bare strings or objects carrying url/image_url/b64_json.
func imageFromEntry(raw json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return acceptCandidate(s)
	}

	var obj struct {
		URL      string    `json:"url"`
		ImageURL *ImageURL `json:"image_url"`
		B64JSON  string    `json:"b64_json"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", false
	}
	if obj.ImageURL != nil {
		if ref, ok := acceptCandidate(obj.ImageURL.URL); ok {
			return ref, ok
		}
	}
	if ref, ok := acceptCandidate(obj.URL); ok {
		return ref, ok
	}
	return acceptCandidate(obj.B64JSON)
}

// acceptCandidate accepts an embedded URL verbatim and wraps a long opaque
// string as raw base64. Short strings are metadata, never image payloads.
func acceptCandidate(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	if strings.HasPrefix(s, "http") || strings.HasPrefix(s, "data:image") {
		return s, true
	}
	if len(s) > longStringThreshold {
		return wrapBase64(s), true
	}
	return "", false
}

func wrapBase64(s string) string {
	return "data:image/png;base64," + s
}

// textPreview draws diagnostic text from any text-typed parts.
func textPreview(parts []envelopeContentPart) string {
	var sb strings.Builder
	for _, part := range parts {
		if part.Text == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString(" ")
		}
		sb.WriteString(part.Text)
		if sb.Len() >= previewLimit {
			break
		}
	}
	return sb.String()
}
