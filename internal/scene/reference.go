package scene

import (
	"context"
	"fmt"
	"strings"

	"github.com/inkfable/story-illustrator/internal/llm"
	"github.com/inkfable/story-illustrator/pkg/log"
)

// EnsureReference generates a character reference portrait from the identity
// text. The portrait anchors the character's appearance across every scene
// of a batch. Callers treat failure as non-fatal and fall back to
// hint-in-prompt generation.
func (g *Generator) EnsureReference(ctx context.Context, identityText string) (string, error) {
	prompt := buildReferencePrompt(identityText)

	envelope, err := g.client.Complete(ctx, g.client.ImageModel(), []llm.Message{
		llm.TextMessage("user", prompt),
	})
	if err != nil {
		return "", err
	}

	ref, err := llm.ExtractImageRef(envelope)
	if err != nil {
		return "", err
	}
	log.Info("Character reference bootstrapped (kind=%s)", refKind(ref))
	return ref, nil
}

func buildReferencePrompt(identityText string) string {
	var prompt strings.Builder
	prompt.WriteString("Generate a character reference image: clean portrait, plain background, full character visible, neutral pose.\n\n")
	prompt.WriteString(fmt.Sprintf("The character: %s\n", identityText))
	return prompt.String()
}

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
