package engine

// Derivation prompts are one system message carrying the area's instructions
// and one user message carrying the current value and the sampled corpus.
const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// Message is one turn of a chat request, translated per backend.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// PullProgress is one status update while a local model downloads at startup.
type PullProgress struct {
	Status    string `json:"status"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
}

// Percent reports download completion in [0, 100]. ok is false while the
// size is unknown.
func (p PullProgress) Percent() (pct float64, ok bool) {
	if p.Total <= 0 {
		return 0, false
	}
	return min(float64(p.Completed)/float64(p.Total)*100, 100), true
}
