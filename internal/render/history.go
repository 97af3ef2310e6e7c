package render

import (
	"sync"

	"github.com/aldenvane/skein/pkg/provider/llm"
)

// historyMax bounds the conversation history appended to each prompt.
const historyMax = 12

// History is the renderer's bounded per-session conversation memory. Oldest
// entries fall off once the cap is reached.
type History struct {
	mu      sync.Mutex
	entries []llm.Message
}

// NewHistory returns an empty history.
func NewHistory() *History {
	return &History{}
}

// Add appends one exchange entry, evicting the oldest beyond the cap.
func (h *History) Add(role, content string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, llm.Message{Role: role, Content: content})
	if len(h.entries) > historyMax {
		h.entries = h.entries[len(h.entries)-historyMax:]
	}
}

// Messages returns a copy of the current history, oldest first.
func (h *History) Messages() []llm.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]llm.Message, len(h.entries))
	copy(out, h.entries)
	return out
}
