package npcmem

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/aldenvane/skein/internal/observe"
	"github.com/aldenvane/skein/pkg/provider/llm"
)

// Defaults for journal consolidation.
const (
	DefaultConsolidateThreshold = 60
	DefaultConsolidateTarget    = 20
)

// consolidationPrompt is the system prompt sent to the LLM when condensing
// journal entries.
const consolidationPrompt = `Condense the following memory journal of a game character into a single
short paragraph, written from the character's perspective. Preserve: names of
people and places, promises made, grudges, debts, and anything the character
would act on later. Drop routine observations.`

// Summariser produces a condensed text from a span of journal entries.
type Summariser interface {
	Summarise(ctx context.Context, entries []Entry) (string, error)
}

// LLMSummariser uses an LLM provider to condense journal entries.
type LLMSummariser struct {
	llm     llm.Provider
	metrics *observe.Metrics
}

// NewLLMSummariser creates a [LLMSummariser] backed by the given provider.
func NewLLMSummariser(provider llm.Provider) *LLMSummariser {
	return &LLMSummariser{llm: provider, metrics: observe.DefaultMetrics()}
}

// Summarise formats entries into a transcript and asks the model for a
// condensed paragraph.
func (s *LLMSummariser) Summarise(ctx context.Context, entries []Entry) (string, error) {
	if len(entries) == 0 {
		return "", nil
	}

	var sb strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&sb, "[%s] %s\n", e.Timestamp.Format("2006-01-02 15:04"), e.Text)
	}

	started := time.Now()
	resp, err := s.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: consolidationPrompt,
		Messages: []llm.Message{
			{Role: "user", Content: sb.String()},
		},
		Temperature: 0.3,
	})
	s.metrics.RecordAICall(ctx, "npc_memory", time.Since(started).Seconds(), err)
	if err != nil {
		return "", fmt.Errorf("npcmem: summarise: %w", err)
	}
	return resp.Content, nil
}

// Consolidator shrinks journals that grew past the threshold: the oldest
// entries are condensed into one summary entry so that the journal ends up at
// the target length.
type Consolidator struct {
	summariser Summariser
	logger     *slog.Logger

	// mu guards the limits, which config hot-reload may rewrite.
	mu        sync.Mutex
	threshold int
	target    int
}

// NewConsolidator creates a [Consolidator]. Zero threshold or target fall
// back to the package defaults.
func NewConsolidator(summariser Summariser, threshold, target int, logger *slog.Logger) *Consolidator {
	if threshold <= 0 {
		threshold = DefaultConsolidateThreshold
	}
	if target <= 0 || target >= threshold {
		target = DefaultConsolidateTarget
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Consolidator{
		summariser: summariser,
		threshold:  threshold,
		target:     target,
		logger:     logger.With("worker", "npcmem_consolidator"),
	}
}

// SetLimits replaces the consolidation threshold and target. Out-of-range
// values fall back to the package defaults, like NewConsolidator. Safe to
// call while sweeps run; the next MaybeConsolidate picks them up.
func (c *Consolidator) SetLimits(threshold, target int) {
	if threshold <= 0 {
		threshold = DefaultConsolidateThreshold
	}
	if target <= 0 || target >= threshold {
		target = DefaultConsolidateTarget
	}
	c.mu.Lock()
	c.threshold = threshold
	c.target = target
	c.mu.Unlock()
}

func (c *Consolidator) limits() (threshold, target int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.threshold, c.target
}

// MaybeConsolidate checks j against the threshold and, when exceeded,
// condenses the oldest entries into a single summary entry. Returns whether a
// consolidation happened. On summariser failure the journal is left intact.
func (c *Consolidator) MaybeConsolidate(ctx context.Context, j *Journal) (bool, error) {
	threshold, target := c.limits()

	entries, err := j.Entries()
	if err != nil {
		return false, err
	}
	if len(entries) < threshold {
		return false, nil
	}

	// The newest target-1 entries survive; everything older collapses into
	// one summary so the result has exactly target entries.
	cut := len(entries) - (target - 1)
	old, recent := entries[:cut], entries[cut:]

	text, err := c.summariser.Summarise(ctx, old)
	if err != nil {
		c.logger.Warn("journal consolidation failed, keeping full journal",
			"npc", j.NPCRef(), "entries", len(entries), "err", err)
		return false, err
	}

	merged := make([]Entry, 0, target)
	merged = append(merged, Entry{
		Timestamp: old[len(old)-1].Timestamp,
		Text:      text,
		Summary:   true,
	})
	merged = append(merged, recent...)

	if err := j.Replace(merged); err != nil {
		return false, err
	}
	c.logger.Info("journal consolidated",
		"npc", j.NPCRef(), "before", len(entries), "after", len(merged))
	return true, nil
}
