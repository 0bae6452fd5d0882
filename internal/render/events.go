package render

import "sync"

const subscriberBuffer = 16

// Event is a render state change pushed to watchers.
type Event struct {
	JobID     string `json:"job_id"`
	Status    string `json:"status"`
	Progress  int    `json:"progress"`
	Error     string `json:"error,omitempty"`
	OutputURL string `json:"output_url,omitempty"`
	PosterURL string `json:"poster_url,omitempty"`
}

// Terminal reports whether no further events will follow for the job.
func (e Event) Terminal() bool {
	return e.Status == "completed" || e.Status == "failed"
}

// Hub fans render events out to per-job subscribers. Slow subscribers miss
// events rather than stalling a render.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[chan Event]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan Event]struct{})}
}

// Subscribe returns a channel of events for jobID and a function that
// unsubscribes and closes it.
func (h *Hub) Subscribe(jobID string) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	if h.subs[jobID] == nil {
		h.subs[jobID] = make(map[chan Event]struct{})
	}
	h.subs[jobID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs[jobID], ch)
			if len(h.subs[jobID]) == 0 {
				delete(h.subs, jobID)
			}
			close(ch)
		})
	}
}

func (h *Hub) Publish(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[e.JobID] {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribers returns the number of watchers of jobID.
func (h *Hub) Subscribers(jobID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[jobID])
}
