package improve

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/kalambet/voxbar/internal/focus"
)

// subscriberBuffer is how many summaries a slow subscriber may lag behind
// before further summaries are dropped for it.
const subscriberBuffer = 8

// Summary describes one completed sweep.
type Summary struct {
	ID         string               `json:"id"`
	StartedAt  time.Time            `json:"started_at"`
	FinishedAt time.Time            `json:"finished_at"`
	Applied    []focus.Area         `json:"applied"`
	Failed     map[focus.Area]error `json:"-"`
	Manual     bool                 `json:"manual"`
	Discarded  bool                 `json:"discarded,omitempty"` // user data was deleted mid-sweep

	derived int
}

// FailedMessages renders Failed for JSON and notifications.
func (s Summary) FailedMessages() map[focus.Area]string {
	out := make(map[focus.Area]string, len(s.Failed))
	for a, err := range s.Failed {
		out[a] = err.Error()
	}
	return out
}

func (s Summary) MarshalJSON() ([]byte, error) {
	type plain Summary
	return json.Marshal(struct {
		plain
		Failed map[focus.Area]string `json:"failed"`
	}{plain(s), s.FailedMessages()})
}

type broker struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Summary
}

func newBroker() *broker {
	return &broker{subs: make(map[int]chan Summary)}
}

func (b *broker) subscribe() (<-chan Summary, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Summary, subscriberBuffer)
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
			close(ch)
		})
	}
}

// publish never blocks; it reports how many subscribers missed the event.
func (b *broker) publish(s Summary) (dropped int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- s:
		default:
			dropped++
		}
	}
	return dropped
}
