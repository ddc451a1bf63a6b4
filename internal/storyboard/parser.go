package storyboard

import (
	"encoding/json"
	"fmt"
	"strings"
)

// malformedPreviewLimit bounds the raw-content excerpt carried by a
// MalformedBreakdownError.
const malformedPreviewLimit = 200

// MalformedBreakdownError reports model output that could not be turned into
// a storyboard list: no JSON object present, unparseable JSON, or a parsed
// object with no scenes.
type MalformedBreakdownError struct {
	Reason  string
	Preview string
}

func (e *MalformedBreakdownError) Error() string {
	if e.Preview != "" {
		return fmt.Sprintf("malformed storyboard breakdown: %s: %q", e.Reason, e.Preview)
	}
	return fmt.Sprintf("malformed storyboard breakdown: %s", e.Reason)
}

// extractJSONBlock returns the first balanced {...} block in s. Models often
// wrap the JSON in prose or markdown fences, so scanning beats unmarshalling
// the raw content. Braces inside JSON strings are skipped.
func extractJSONBlock(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// parseBreakdown decodes the model's raw text output into scene entries.
// IDs are not assigned here; the caller owns identity.
func parseBreakdown(content string) ([]Storyboard, error) {
	block, ok := extractJSONBlock(content)
	if !ok {
		return nil, &MalformedBreakdownError{
			Reason:  "no JSON object in output",
			Preview: truncate(content, malformedPreviewLimit),
		}
	}

	var payload struct {
		Storyboards []Storyboard `json:"storyboards"`
	}
	if err := json.Unmarshal([]byte(block), &payload); err != nil {
		return nil, &MalformedBreakdownError{
			Reason:  fmt.Sprintf("invalid JSON: %v", err),
			Preview: truncate(block, malformedPreviewLimit),
		}
	}
	if len(payload.Storyboards) == 0 {
		return nil, &MalformedBreakdownError{
			Reason:  "no storyboards in output",
			Preview: truncate(block, malformedPreviewLimit),
		}
	}
	return payload.Storyboards, nil
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
