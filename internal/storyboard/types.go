package storyboard

import (
	"time"
)

// Storyboard is one structured unit describing a single illustrated moment
// of the story. ID is assigned once at breakdown time and is the stable
// identity for generation results; the four prose fields may be edited by
// the user until generation for the scene has begun.
type Storyboard struct {
	ID              string `json:"id"`
	SceneNumber     int    `json:"sceneNumber"`
	Description     string `json:"description"`
	CharacterAction string `json:"characterAction"`
	Setting         string `json:"setting"`
	Mood            string `json:"mood"`
	CustomPrompt    string `json:"customPrompt,omitempty"`
}

// GeneratedImage is the result of one successful scene generation.
// StoryboardID is a lookup key back to the scene, not an ownership link.
type GeneratedImage struct {
	ID           string    `json:"id"`
	StoryboardID string    `json:"storyboardId"`
	ImageURL     string    `json:"imageUrl"`
	Prompt       string    `json:"prompt"`
	GeneratedAt  time.Time `json:"generatedAt"`
}
