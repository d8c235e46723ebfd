package composer

import (
	"errors"
	"strings"
	"testing"

	"github.com/kalambet/voxbar/internal/focus"
)

type mapValues map[focus.Area]string

func (m mapValues) CurrentValue(area focus.Area) (string, error) {
	if v, ok := m[area]; ok {
		return v, nil
	}
	return focus.Default(area), nil
}

type failingValues struct{}

func (failingValues) CurrentValue(focus.Area) (string, error) {
	return "", errors.New("db locked")
}

func TestCompose_UsesAreaForMode(t *testing.T) {
	values := mapValues{
		focus.AreaDictation:     "Clean up dictation.",
		focus.AreaPromptMode:    "Edit per instruction.",
		focus.AreaPromptAndRead: "Answer aloud.",
		focus.AreaUserContext:   "Works on Go services.",
	}
	c := New(values, 4000)

	tests := []struct {
		mode focus.Mode
		want string
		area focus.Area
	}{
		{focus.ModeDictation, "Clean up dictation.", focus.AreaDictation},
		{focus.ModePromptMode, "Edit per instruction.", focus.AreaPromptMode},
		{focus.ModePromptAndRead, "Answer aloud.", focus.AreaPromptAndRead},
		{focus.ModeReadAloud, "Answer aloud.", focus.AreaPromptAndRead},
	}
	for _, tt := range tests {
		p, err := c.Compose(tt.mode)
		if err != nil {
			t.Fatalf("Compose(%s): %v", tt.mode, err)
		}
		if p.Area != tt.area {
			t.Errorf("Compose(%s).Area = %s, want %s", tt.mode, p.Area, tt.area)
		}
		if !strings.HasPrefix(p.System, tt.want) {
			t.Errorf("Compose(%s) system = %q", tt.mode, p.System)
		}
		if !strings.Contains(p.System, "[User Context]\nWorks on Go services.") {
			t.Errorf("Compose(%s) missing user context: %q", tt.mode, p.System)
		}
		if p.Truncated {
			t.Errorf("Compose(%s) unexpectedly truncated", tt.mode)
		}
	}
}

func TestCompose_Defaults(t *testing.T) {
	c := New(mapValues{}, 0)
	if c.MaxContextTokens != defaultMaxContextTokens {
		t.Errorf("budget = %d, want default", c.MaxContextTokens)
	}
	p, err := c.Compose(focus.ModeDictation)
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if !strings.HasPrefix(p.System, focus.Default(focus.AreaDictation)) {
		t.Errorf("system = %q, want dictation default first", p.System)
	}
}

func TestCompose_TokenBudget(t *testing.T) {
	lines := make([]string, 40)
	for i := range lines {
		lines[i] = strings.Repeat("x", 30)
	}
	values := mapValues{
		focus.AreaDictation:   "Clean up.",
		focus.AreaUserContext: strings.Join(lines, "\n"),
	}
	c := New(values, 50)

	p, err := c.Compose(focus.ModeDictation)
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if p.Tokens > 50 {
		t.Errorf("system prompt exceeds budget: %d tokens", p.Tokens)
	}
	if !p.Truncated {
		t.Error("expected truncation")
	}
	ctx := p.System[strings.Index(p.System, userContextHeader)+len(userContextHeader):]
	for _, line := range strings.Split(ctx, "\n") {
		if len(line) != 30 {
			t.Errorf("user context cut mid-line: %q", line)
		}
	}
}

func TestCompose_NoRoomForContext(t *testing.T) {
	values := mapValues{
		focus.AreaPromptMode:  strings.Repeat("i", 400),
		focus.AreaUserContext: "context",
	}
	p, err := New(values, 50).Compose(focus.ModePromptMode)
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if strings.Contains(p.System, "[User Context]") {
		t.Error("context header written with no room for context")
	}
	if p.System != strings.Repeat("i", 400) {
		t.Error("instruction must be kept whole")
	}
	if !p.Truncated {
		t.Error("expected truncation flag")
	}
}

func TestCompose_StoreError(t *testing.T) {
	if _, err := New(failingValues{}, 100).Compose(focus.ModeDictation); err == nil {
		t.Fatal("expected error")
	}
}

func TestFitTokens_RuneBoundary(t *testing.T) {
	text := strings.Repeat("é", 50) // 100 bytes
	got := fitTokens(text, 5)
	if !strings.HasPrefix(text, got) || len(got) > 20 {
		t.Errorf("fitTokens = %q", got)
	}
	for _, r := range got {
		if r != 'é' {
			t.Fatalf("invalid rune in %q", got)
		}
	}
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
	}
	for _, tt := range tests {
		if got := EstimateTokens(tt.in); got != tt.want {
			t.Errorf("EstimateTokens(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
