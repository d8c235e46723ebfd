// Package focus names the interaction streams voxbar logs and the configuration
// targets the improvement pipeline rewrites.
package focus

import "fmt"

// Mode identifies the user-facing flow that produced an interaction record.
type Mode string

const (
	ModeDictation     Mode = "dictation"
	ModePromptMode    Mode = "prompt_mode"
	ModePromptAndRead Mode = "prompt_and_read"
	ModeReadAloud     Mode = "read_aloud"
)

// Area identifies one independently improvable configuration value.
type Area string

const (
	AreaUserContext   Area = "user_context"
	AreaDictation     Area = "dictation"
	AreaPromptMode    Area = "prompt_mode"
	AreaPromptAndRead Area = "prompt_and_read"
)

var allModes = []Mode{ModeDictation, ModePromptMode, ModePromptAndRead, ModeReadAloud}

// Sweep order.
var allAreas = []Area{AreaUserContext, AreaDictation, AreaPromptMode, AreaPromptAndRead}

// Modes returns every log stream.
func Modes() []Mode {
	out := make([]Mode, len(allModes))
	copy(out, allModes)
	return out
}

// Areas returns every configuration target in sweep order.
func Areas() []Area {
	out := make([]Area, len(allAreas))
	copy(out, allAreas)
	return out
}

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	for _, m := range allModes {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown mode %q", s)
}

// ParseArea validates an area name.
func ParseArea(s string) (Area, error) {
	for _, a := range allAreas {
		if string(a) == s {
			return a, nil
		}
	}
	return "", fmt.Errorf("unknown focus area %q", s)
}

// Modes returns the log streams whose records feed the area's corpus.
func (a Area) Modes() []Mode {
	switch a {
	case AreaUserContext:
		return Modes()
	case AreaDictation:
		return []Mode{ModeDictation}
	case AreaPromptMode:
		return []Mode{ModePromptMode}
	case AreaPromptAndRead:
		return []Mode{ModePromptAndRead, ModeReadAloud}
	}
	return nil
}

// Label is a human-readable name for notifications and CLI output.
func (a Area) Label() string {
	switch a {
	case AreaUserContext:
		return "User Context"
	case AreaDictation:
		return "Dictation"
	case AreaPromptMode:
		return "Prompt Mode"
	case AreaPromptAndRead:
		return "Prompt & Read"
	}
	return string(a)
}

// AreaForMode returns the area holding the system prompt used by a mode.
// Read-aloud shares the prompt-and-read prompt.
func AreaForMode(m Mode) Area {
	switch m {
	case ModeDictation:
		return AreaDictation
	case ModePromptMode:
		return AreaPromptMode
	default:
		return AreaPromptAndRead
	}
}

const defaultUserContext = `No user context has been learned yet. Treat the user as a general audience and prefer clear, plain wording.`

const defaultDictation = `You clean up raw speech-to-text transcripts. Fix punctuation, capitalization and obvious recognition errors. Remove filler words and false starts. Keep the speaker's wording and meaning; do not add content. Output only the cleaned text.`

const defaultPromptMode = `You edit text according to a spoken instruction. Apply the instruction to the provided text and output only the edited text, with no commentary.`

const defaultPromptAndRead = `You answer a spoken request about the provided text. Respond in short, natural sentences suitable for being read aloud. Avoid markdown, lists and code formatting.`

// Default returns the built-in value for an area. It is never empty.
func Default(a Area) string {
	switch a {
	case AreaUserContext:
		return defaultUserContext
	case AreaDictation:
		return defaultDictation
	case AreaPromptMode:
		return defaultPromptMode
	case AreaPromptAndRead:
		return defaultPromptAndRead
	}
	return defaultUserContext
}
