package derive

import (
	"fmt"
	"strings"

	"github.com/kalambet/voxbar/internal/engine"
	"github.com/kalambet/voxbar/internal/focus"
)

const (
	StartMarker = "===SUGGESTED_START==="
	EndMarker   = "===END==="
)

const outputRules = `Output rules:
- Put the complete proposed replacement between the lines ` + StartMarker + ` and ` + EndMarker + `.
- Write nothing between the markers except the replacement itself.
- If the current value already serves the user well, output the two markers with nothing between them.`

const userContextInstruction = `You maintain a short profile of a user of a voice dictation tool. The profile is injected into every prompt the tool sends to a language model, so it must only contain durable facts that improve results: the user's profession and domains, recurring names, projects and jargon, languages used, and stylistic preferences.

Read the user's recent interactions and propose an updated profile. Keep it under 300 words. Drop facts the interactions no longer support. Never include secrets, passwords or one-off details.`

const dictationInstruction = `You tune the system prompt of a speech-to-text cleanup step. That step receives raw transcripts and must return polished text in the user's own words.

Study the recent transcripts and their cleaned results. Propose an improved system prompt that handles the user's vocabulary, names and recurring recognition errors, and matches their preferred punctuation and formatting. Keep the instruction to output only the cleaned text.`

const promptModeInstruction = `You tune the system prompt of a voice-driven text editing step. That step receives a piece of text plus a spoken instruction and must return the edited text only.

Study the recent instructions, inputs and outputs. Propose an improved system prompt that anticipates how this user phrases edit requests and the results they expect. Keep the instruction to output only the edited text.`

const promptAndReadInstruction = `You tune the system prompt of a voice assistant whose answers are read aloud. It receives a spoken request and optional selected text.

Study the recent requests and spoken answers. Propose an improved system prompt that matches the answer length, tone and level of detail this user prefers. Keep answers suitable for speech: no markdown, lists or code formatting.`

func instruction(area focus.Area) string {
	switch area {
	case focus.AreaUserContext:
		return userContextInstruction
	case focus.AreaDictation:
		return dictationInstruction
	case focus.AreaPromptMode:
		return promptModeInstruction
	default:
		return promptAndReadInstruction
	}
}

// BuildPrompt constructs the chat messages asking for an improved value for area.
func BuildPrompt(area focus.Area, corpusText, currentValue string) []engine.Message {
	system := instruction(area) + "\n\n" + outputRules

	var sb strings.Builder
	fmt.Fprintf(&sb, "[Current value]\n%s\n\n", strings.TrimSpace(currentValue))
	sb.WriteString("[Recent interactions, oldest first]\n")
	if strings.TrimSpace(corpusText) == "" {
		sb.WriteString("(none)\n")
	} else {
		sb.WriteString(corpusText)
	}

	return []engine.Message{
		{Role: engine.RoleSystem, Content: system},
		{Role: engine.RoleUser, Content: sb.String()},
	}
}

// ExtractSuggestion returns the trimmed text between the first start marker
// and the first end marker after it. Missing markers yield "".
func ExtractSuggestion(text string) string {
	start := strings.Index(text, StartMarker)
	if start < 0 {
		return ""
	}
	rest := text[start+len(StartMarker):]
	end := strings.Index(rest, EndMarker)
	if end < 0 {
		return ""
	}
	return strings.TrimSpace(rest[:end])
}
