package action

import "github.com/aldenvane/skein/internal/world"

// Source tells where an intent came from.
type Source string

const (
	SourcePlayerInput Source = "player_input"
	SourceAIDecision  Source = "ai_decision"
)

// Intent is one requested action. Immutable after validation succeeds except
// for computed augmentations (resolved target, confidence).
type Intent struct {
	ID       string
	ActorRef string

	// Verb and Subtype name the action, e.g. ATTACK / RANGED.
	Verb    string
	Subtype string

	Source        Source
	ActorLocation world.Location

	// TargetRef is a pre-resolved target (AI decisions) or empty.
	TargetRef      string
	TargetType     string
	TargetLocation world.Location

	// UITargetRef is an explicit UI-picked target (player input only).
	UITargetRef string

	// OriginalInput is the raw player utterance, scanned for @mentions.
	OriginalInput string

	Parameters map[string]string
}

// ActionType is the capability lookup key "<VERB>.<SUBTYPE>" or "<VERB>".
func (in Intent) ActionType() string {
	if in.Subtype == "" {
		return in.Verb
	}
	return in.Verb + "." + in.Subtype
}

// EffectRecord is one emitted effect command and whether it was executed.
type EffectRecord struct {
	Type      string `json:"type"`
	TargetRef string `json:"target_ref"`
	Command   string `json:"command"`
	Applied   bool   `json:"applied"`
}

// Target resolution confidence levels, attached for diagnostics.
const (
	ConfidenceUI      = 1.0
	ConfidenceMention = 0.95
	ConfidenceContext = 0.9
	ConfidenceDefault = 0.8
	ConfidenceAuto    = 0.7
)

// Result is the outcome of one pipeline run.
type Result struct {
	Success       bool
	FailureReason string

	TargetRef        string
	TargetConfidence float64

	Cost      Cost
	Effects   []EffectRecord
	Observers []string
}

func failure(reason string) Result {
	return Result{FailureReason: reason}
}
