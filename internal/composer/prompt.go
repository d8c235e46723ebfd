package composer

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/kalambet/voxbar/internal/focus"
)

const defaultMaxContextTokens = 4000

const userContextHeader = "\n\n[User Context]\n"

// ValueSource supplies the live focus values. Implemented by profile.Manager.
type ValueSource interface {
	CurrentValue(area focus.Area) (string, error)
}

// Prompt is the system prompt a mode runs with.
type Prompt struct {
	Mode      focus.Mode `json:"mode"`
	Area      focus.Area `json:"area"`
	System    string     `json:"system"`
	Tokens    int        `json:"tokens"`
	Truncated bool       `json:"truncated"`
}

// Composer assembles a mode's system prompt from the area instruction and the
// learned user context, keeping the result under a token budget.
type Composer struct {
	MaxContextTokens int
	values           ValueSource
}

// New creates a Composer with the given token budget.
// If maxContextTokens <= 0, the default (4000) is used.
func New(values ValueSource, maxContextTokens int) *Composer {
	if maxContextTokens <= 0 {
		maxContextTokens = defaultMaxContextTokens
	}
	return &Composer{MaxContextTokens: maxContextTokens, values: values}
}

// Compose builds the system prompt for mode. The area instruction is always
// kept whole; the user context fills whatever budget remains and is cut at
// a line boundary when it does not fit.
func (c *Composer) Compose(mode focus.Mode) (Prompt, error) {
	area := focus.AreaForMode(mode)
	instruction, err := c.values.CurrentValue(area)
	if err != nil {
		return Prompt{}, fmt.Errorf("reading %s: %w", area, err)
	}
	userCtx, err := c.values.CurrentValue(focus.AreaUserContext)
	if err != nil {
		return Prompt{}, fmt.Errorf("reading %s: %w", focus.AreaUserContext, err)
	}

	p := Prompt{Mode: mode, Area: area}

	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(instruction))

	userCtx = strings.TrimSpace(userCtx)
	if userCtx != "" {
		remaining := c.MaxContextTokens - EstimateTokens(sb.String()) - EstimateTokens(userContextHeader)
		fitted := fitTokens(userCtx, remaining)
		p.Truncated = fitted != userCtx
		if fitted != "" {
			sb.WriteString(userContextHeader)
			sb.WriteString(fitted)
		}
	}

	p.System = sb.String()
	p.Tokens = EstimateTokens(p.System)
	return p, nil
}

// fitTokens returns the longest prefix of text within budget tokens,
// preferring to end on a full line.
func fitTokens(text string, budget int) string {
	if budget <= 0 {
		return ""
	}
	if EstimateTokens(text) <= budget {
		return text
	}
	cut := budget * 4
	if cut > len(text) {
		cut = len(text)
	}
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	prefix := text[:cut]
	if i := strings.LastIndexByte(prefix, '\n'); i > 0 {
		prefix = prefix[:i]
	}
	return strings.TrimSpace(prefix)
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
