package scene

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/inkfable/story-illustrator/internal/llm"
	"github.com/inkfable/story-illustrator/internal/storyboard"
	"github.com/inkfable/story-illustrator/pkg/log"
)

// identityHintLimit bounds the story excerpt used when no character
// description exists.
const identityHintLimit = 300

// maxReferenceBytes bounds a fetched reference image. Anything larger is a
// misconfigured reference, not a portrait.
const maxReferenceBytes = 8 << 20

// Generator produces one illustration per storyboard scene by prompting the
// image model. Each call issues exactly one generation attempt; retry policy
// is a caller concern.
type Generator struct {
	client     *llm.Client
	httpClient *http.Client
}

// NewGenerator creates a scene generator on top of the given API client.
func NewGenerator(client *llm.Client) *Generator {
	return &Generator{
		client: client,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// IdentityHint picks the text used to keep the character consistent when no
// reference image is attached: the explicit character description, else the
// opening of the story itself.
func IdentityHint(characterDescription, story string) string {
	if strings.TrimSpace(characterDescription) != "" {
		return characterDescription
	}
	if len(story) > identityHintLimit {
		return story[:identityHintLimit]
	}
	return story
}

// GenerateScene renders one storyboard scene. When referenceImage is
// non-empty it is attached as an inline image part so the model can match
// the character's appearance; otherwise identityHint is woven into the
// prompt text instead.
func (g *Generator) GenerateScene(ctx context.Context, sb storyboard.Storyboard, referenceImage, identityHint string) (*storyboard.GeneratedImage, error) {
	prompt := buildScenePrompt(sb, referenceImage == "", identityHint)

	parts := []llm.ContentPart{llm.TextPart(prompt)}
	if referenceImage != "" {
		ref, err := g.resolveReference(ctx, referenceImage)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve reference image: %w", err)
		}
		parts = append(parts, llm.ImagePart(ref))
	}

	envelope, err := g.client.Complete(ctx, g.client.ImageModel(), []llm.Message{llm.UserMessage(parts...)})
	if err != nil {
		return nil, err
	}

	imageRef, err := llm.ExtractImageRef(envelope)
	if err != nil {
		return nil, err
	}

	return &storyboard.GeneratedImage{
		ID:           uuid.NewString(),
		StoryboardID: sb.ID,
		ImageURL:     imageRef,
		Prompt:       prompt,
		GeneratedAt:  time.Now().UTC(),
	}, nil
}

// buildScenePrompt renders the fixed illustration template around the
// scene's four prose fields.
func buildScenePrompt(sb storyboard.Storyboard, withIdentityHint bool, identityHint string) string {
	var prompt strings.Builder

	prompt.WriteString("Illustrate the following story scene as a single cohesive image.\n\n")
	prompt.WriteString(fmt.Sprintf("Scene: %s\n", sb.Description))
	prompt.WriteString(fmt.Sprintf("Character action: %s\n", sb.CharacterAction))
	prompt.WriteString(fmt.Sprintf("Setting: %s\n", sb.Setting))
	prompt.WriteString(fmt.Sprintf("Mood: %s\n", sb.Mood))

	if withIdentityHint && strings.TrimSpace(identityHint) != "" {
		prompt.WriteString(fmt.Sprintf("\nThe main character looks like this: %s\n", identityHint))
	} else if !withIdentityHint {
		prompt.WriteString("\nMatch the character's appearance to the attached reference image.\n")
	}

	if sb.CustomPrompt != "" {
		prompt.WriteString(fmt.Sprintf("\nAdditional instructions: %s\n", sb.CustomPrompt))
	}

	return prompt.String()
}

// resolveReference turns a stored reference into an inline data URI. Data
// URIs pass through; http(s) URLs are fetched and encoded.
func (g *Generator) resolveReference(ctx context.Context, ref string) (string, error) {
	if strings.HasPrefix(ref, "data:") {
		return ref, nil
	}
	if !strings.HasPrefix(ref, "http") {
		return "", fmt.Errorf("unsupported reference scheme: %s", refScheme(ref))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create reference request: %w", err)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch reference: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("reference fetch returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxReferenceBytes+1))
	if err != nil {
		return "", fmt.Errorf("failed to read reference body: %w", err)
	}
	if len(data) > maxReferenceBytes {
		return "", fmt.Errorf("reference image exceeds %d bytes", maxReferenceBytes)
	}

	mimeType := resp.Header.Get("Content-Type")
	if mimeType == "" || !strings.HasPrefix(mimeType, "image/") {
		mimeType = "image/png"
	}
	encoded := base64.StdEncoding.EncodeToString(data)
	log.Debug("Reference fetched: %d bytes, type=%s", len(data), mimeType)
	return fmt.Sprintf("data:%s;base64,%s", mimeType, encoded), nil
}

func refScheme(ref string) string {
	if i := strings.Index(ref, ":"); i > 0 {
		return ref[:i]
	}
	return "none"
}
