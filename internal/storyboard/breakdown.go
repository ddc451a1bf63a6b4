package storyboard

import (
	"context"
	"fmt"
	"strings"

	"github.com/abadojack/whatlanggo"
	"github.com/google/uuid"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"github.com/inkfable/story-illustrator/internal/llm"
	"github.com/inkfable/story-illustrator/pkg/log"
)

const (
	defaultSceneCount = 6
	maxSceneCount     = 12
)

// Generator turns a raw story into an ordered list of structured scenes by
// prompting the text model and parsing its JSON output.
type Generator struct {
	client          *llm.Client
	defaultLanguage language.Tag
}

// NewGenerator creates a breakdown generator. defaultLanguage is used for
// the output prose when the story's language cannot be detected.
func NewGenerator(client *llm.Client, defaultLanguage language.Tag) *Generator {
	return &Generator{
		client:          client,
		defaultLanguage: defaultLanguage,
	}
}

// Breakdown asks the text model to split the story into sceneCount scenes
// and returns them with fresh IDs in model order. Scene prose is requested
// in the story's own language so edits stay natural for the author.
func (g *Generator) Breakdown(ctx context.Context, story, characterDescription string, sceneCount int) ([]Storyboard, error) {
	if sceneCount <= 0 {
		sceneCount = defaultSceneCount
	}
	if sceneCount > maxSceneCount {
		sceneCount = maxSceneCount
	}

	lang := g.storyLanguage(story)
	prompt := buildBreakdownPrompt(story, characterDescription, sceneCount, lang)

	envelope, err := g.client.Complete(ctx, g.client.TextModel(), []llm.Message{
		llm.TextMessage("user", prompt),
	})
	if err != nil {
		return nil, fmt.Errorf("breakdown request failed: %w", err)
	}

	content, ok := envelope.ContentText()
	if !ok {
		return nil, &MalformedBreakdownError{Reason: "no text content in response"}
	}

	scenes, err := parseBreakdown(content)
	if err != nil {
		return nil, err
	}

	for i := range scenes {
		scenes[i].ID = uuid.NewString()
		if scenes[i].SceneNumber <= 0 {
			scenes[i].SceneNumber = i + 1
		}
	}
	log.Info("Story broken down into %d scenes (language=%s)", len(scenes), lang)
	return scenes, nil
}

// storyLanguage detects the story's language and returns its English name
// for the prompt, falling back to the configured default.
func (g *Generator) storyLanguage(story string) string {
	iso := whatlanggo.DetectLang(story).Iso6391()
	if iso != "" {
		if tag, err := language.Parse(iso); err == nil {
			return display.English.Languages().Name(tag)
		}
	}
	return display.English.Languages().Name(g.defaultLanguage)
}

func buildBreakdownPrompt(story, characterDescription string, sceneCount int, lang string) string {
	var prompt strings.Builder

	prompt.WriteString("You are a storyboard director preparing an illustrated story for scene-by-scene image generation.\n\n")
	prompt.WriteString(fmt.Sprintf("Break the story below into exactly %d scenes. For each scene describe what is shown, what the main character does, where it takes place, and the emotional mood.\n", sceneCount))
	prompt.WriteString(fmt.Sprintf("Write all scene prose in %s.\n\n", lang))

	if characterDescription != "" {
		prompt.WriteString("=== MAIN CHARACTER ===\n")
		prompt.WriteString(characterDescription)
		prompt.WriteString("\n\n")
	}

	prompt.WriteString("=== STORY ===\n")
	prompt.WriteString(story)
	prompt.WriteString("\n\n")

	prompt.WriteString("Respond with ONLY a JSON object, no commentary, in this exact shape:\n")
	prompt.WriteString(`{"storyboards":[{"sceneNumber":1,"description":"...","characterAction":"...","setting":"...","mood":"..."}]}`)
	prompt.WriteString("\n")

	return prompt.String()
}
