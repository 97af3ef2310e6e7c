package bus_test

import (
	"path/filepath"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/aldenvane/skein/internal/bus"
)

// statusGen draws from the dedup-relevant status ladder.
func statusGen() gopter.Gen {
	return gen.OneConstOf(
		bus.StatusQueued, bus.StatusSent, bus.StatusProcessing, bus.StatusDone,
	)
}

func TestQueueDedupProperties(t *testing.T) {
	t.Parallel()

	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 60
	properties := gopter.NewProperties(params)

	properties.Property("append_deduped keeps exactly one copy per id with the max status",
		prop.ForAll(
			func(statuses []bus.Status) bool {
				q := bus.NewQueue(filepath.Join(t.TempDir(), "q.jsonc"))
				best := -1
				for _, s := range statuses {
					if err := q.AppendDeduped(env("same-id", s)); err != nil {
						return false
					}
					if s.Rank() > best {
						best = s.Rank()
					}
				}
				msgs, err := q.Read()
				if err != nil {
					return false
				}
				if len(statuses) == 0 {
					return len(msgs) == 0
				}
				return len(msgs) == 1 && msgs[0].Status.Rank() == best
			},
			gen.SliceOf(statusGen()),
		))

	properties.Property("append_deduped of an equal-or-lower status is a read-level no-op",
		prop.ForAll(
			func(existing, incoming bus.Status) bool {
				if incoming.Rank() > existing.Rank() {
					return true // out of scope for this law
				}
				q := bus.NewQueue(filepath.Join(t.TempDir(), "q.jsonc"))
				if err := q.Append(env("id", existing)); err != nil {
					return false
				}
				before, err := q.Read()
				if err != nil {
					return false
				}
				if err := q.AppendDeduped(env("id", incoming)); err != nil {
					return false
				}
				after, err := q.Read()
				if err != nil {
					return false
				}
				return len(before) == len(after) && before[0].Status == after[0].Status
			},
			statusGen(), statusGen(),
		))

	properties.Property("prune never removes non-done entries",
		prop.ForAll(
			func(statuses []bus.Status, max int) bool {
				q := bus.NewQueue(filepath.Join(t.TempDir(), "q.jsonc"))
				nonDone := 0
				for i, s := range statuses {
					if err := q.Append(env(string(rune('a'+i%26))+string(rune('0'+i/26)), s)); err != nil {
						return false
					}
					if s != bus.StatusDone {
						nonDone++
					}
				}
				if err := q.Prune(max); err != nil {
					return false
				}
				msgs, err := q.Read()
				if err != nil {
					return false
				}
				got := 0
				for _, m := range msgs {
					if m.Status != bus.StatusDone {
						got++
					}
				}
				return got == nonDone
			},
			gen.SliceOf(statusGen()), gen.IntRange(1, 8),
		))

	properties.TestingRun(t)
}
