package improve

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type cooldownKind int

const (
	cooldownDays cooldownKind = iota
	cooldownAlways
	cooldownNever
)

// Cooldown is the minimum time between the end of one automatic sweep and
// the start of the next: a number of days, "always" (no wait) or "never"
// (automatic sweeps are off).
type Cooldown struct {
	kind cooldownKind
	days int
}

var (
	CooldownAlways = Cooldown{kind: cooldownAlways}
	CooldownNever  = Cooldown{kind: cooldownNever}
)

// CooldownDays returns a cooldown of n days. n must be positive.
func CooldownDays(n int) Cooldown { return Cooldown{kind: cooldownDays, days: n} }

// ParseCooldown accepts "always", "never" or a positive number of days.
func ParseCooldown(s string) (Cooldown, error) {
	switch v := strings.ToLower(strings.TrimSpace(s)); v {
	case "always":
		return CooldownAlways, nil
	case "never":
		return CooldownNever, nil
	default:
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Cooldown{}, fmt.Errorf("invalid cooldown %q: want \"always\", \"never\" or a positive number of days", s)
		}
		return CooldownDays(n), nil
	}
}

func (c Cooldown) IsAlways() bool { return c.kind == cooldownAlways }
func (c Cooldown) IsNever() bool  { return c.kind == cooldownNever }

// Duration is the wait for a day-based cooldown, 0 otherwise.
func (c Cooldown) Duration() time.Duration {
	if c.kind != cooldownDays {
		return 0
	}
	return time.Duration(c.days) * 24 * time.Hour
}

func (c Cooldown) String() string {
	switch c.kind {
	case cooldownAlways:
		return "always"
	case cooldownNever:
		return "never"
	}
	return strconv.Itoa(c.days)
}

// elapsed reports whether an automatic sweep may start at now given the end
// of the last one. A zero last means no sweep has ever run.
func (c Cooldown) elapsed(last, now time.Time) bool {
	switch {
	case c.kind == cooldownNever:
		return false
	case c.kind == cooldownAlways, last.IsZero():
		return true
	}
	return now.Sub(last) >= c.Duration()
}

func (c Cooldown) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *Cooldown) UnmarshalText(b []byte) error {
	v, err := ParseCooldown(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}
