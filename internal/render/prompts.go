package render

import (
	"strings"

	"github.com/aldenvane/skein/internal/bus"
)

// systemPrompt frames every renderer call.
const systemPrompt = "You are the narrator of a text-driven fantasy simulation. " +
	"Describe the outcome of the action below in second person, past tense, " +
	"two to four sentences. Never invent mechanical outcomes; the event list " +
	"is authoritative. Do not address the player out of character."

// fallbackNarration replaces empty or failed AI responses.
const fallbackNarration = "Narration unavailable."

// verbLead maps an action verb to the narrative framing line for its prompt.
// Verbs without an entry fall back to a generic lead.
var verbLead = map[string]string{
	"INSPECT":     "The character examines something closely. Narrate what they perceive, favouring sensory detail over mechanics.",
	"ATTACK":      "The character attacks. Narrate the strike and its result with momentum; keep the damage numbers implicit.",
	"COMMUNICATE": "The character speaks. Narrate delivery and reception, not a transcript.",
	"MOVE":        "The character moves. Narrate the traversal briefly and what changes about their vantage.",
	"USE":         "The character uses an item or feature. Narrate the interaction and its immediate consequence.",
}

const genericLead = "Narrate the outcome of the character's action."

// buildPrompt renders the user prompt for one applied envelope: verb framing,
// the applier's event lines, then the raw effect commands for grounding.
func buildPrompt(env bus.Envelope) string {
	var b strings.Builder

	lead, ok := verbLead[env.Meta.ActionVerb]
	if !ok {
		lead = genericLead
	}
	b.WriteString(lead)
	b.WriteString("\n")

	if env.Content != "" {
		b.WriteString("\nAction summary: ")
		b.WriteString(env.Content)
		b.WriteString("\n")
	}

	if len(env.Meta.Events) > 0 {
		b.WriteString("\nEvents:\n")
		for _, ev := range env.Meta.Events {
			b.WriteString("- ")
			b.WriteString(ev)
			b.WriteString("\n")
		}
	}

	if len(env.Meta.Effects) > 0 {
		b.WriteString("\nApplied effects:\n")
		for _, ef := range env.Meta.Effects {
			b.WriteString("- ")
			b.WriteString(ef)
			b.WriteString("\n")
		}
	}

	return b.String()
}

// stripCodeFences removes markdown code fences the model sometimes wraps
// around its output, returning the trimmed inner text.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	// Drop a language tag on the opening fence.
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		first := strings.TrimSpace(s[:i])
		if first != "" && !strings.ContainsAny(first, " \t") {
			s = s[i+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
