package action

import (
	"strconv"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/aldenvane/skein/internal/world"
)

// mentionScoreFloor is the Jaro-Winkler score below which an @mention does
// not match any candidate.
const mentionScoreFloor = 0.82

// resolvedTarget is the outcome of target resolution.
type resolvedTarget struct {
	ref        string
	targetType string
	location   world.Location
	confidence float64
}

// resolveTarget walks the priority chain: explicit UI target, @mention,
// source context, verb defaults, then the closest auto candidate.
func (p *Pipeline) resolveTarget(in Intent, verb Verb, candidates []world.Target) (resolvedTarget, bool) {
	byRef := make(map[string]world.Target, len(candidates))
	for _, c := range candidates {
		byRef[c.Ref] = c
	}

	// Tile targets (MOVE and friends) come pre-resolved on the intent.
	if in.TargetType == "tile" && in.TargetLocation != (world.Location{}) {
		conf := ConfidenceContext
		if in.Source == SourcePlayerInput {
			conf = ConfidenceUI
		}
		return resolvedTarget{
			ref:        placeTileRef(in.TargetLocation),
			targetType: "tile",
			location:   in.TargetLocation,
			confidence: conf,
		}, true
	}

	// a. Explicit UI target, player input only.
	if in.Source == SourcePlayerInput && in.UITargetRef != "" {
		if c, ok := byRef[in.UITargetRef]; ok {
			return target(c, ConfidenceUI), true
		}
	}

	// b. @mention in the original input.
	if mention := extractMention(in.OriginalInput); mention != "" {
		if c, ok := matchMention(mention, candidates); ok {
			return target(c, ConfidenceMention), true
		}
	}

	// c. A pre-resolved target still among the candidates; for AI decisions
	// whose target vanished, the closest candidate the verb allows.
	if c, ok := byRef[in.TargetRef]; ok {
		return target(c, ConfidenceContext), true
	}
	if in.Source == SourceAIDecision {
		if c, ok := p.closestAllowed(verb, candidates); ok {
			return target(c, ConfidenceContext), true
		}
	}

	// d. Verb defaults.
	switch verb.Name {
	case VerbCommunicate:
		// No addressee: speak to the room (the region tile).
		loc := in.ActorLocation
		return resolvedTarget{
			ref:        world.Ref("region_tile", refKey(loc)),
			targetType: "tile",
			location:   loc,
			confidence: ConfidenceDefault,
		}, true
	case VerbDefend:
		return resolvedTarget{
			ref:        in.ActorRef,
			targetType: "self",
			location:   in.ActorLocation,
			confidence: ConfidenceDefault,
		}, true
	case VerbAttack, VerbHelp:
		if last, ok := p.lastTargets[in.ActorRef]; ok {
			if c, ok := byRef[last]; ok {
				return target(c, ConfidenceDefault), true
			}
		}
	}

	// e. Auto: the closest candidate the verb allows.
	if c, ok := p.closestAllowed(verb, candidates); ok {
		return target(c, ConfidenceAuto), true
	}
	return resolvedTarget{}, false
}

func target(c world.Target, confidence float64) resolvedTarget {
	return resolvedTarget{ref: c.Ref, targetType: c.Type, location: c.Location, confidence: confidence}
}

// closestAllowed picks the nearest candidate that satisfies the verb's
// hostility constraint. Candidates arrive sorted by distance.
func (p *Pipeline) closestAllowed(verb Verb, candidates []world.Target) (world.Target, bool) {
	for _, c := range candidates {
		if p.hostilityAllowed(verb, c.Ref) {
			return c, true
		}
	}
	return world.Target{}, false
}

// extractMention pulls the first @name token out of raw input.
func extractMention(input string) string {
	i := strings.IndexByte(input, '@')
	if i < 0 {
		return ""
	}
	rest := input[i+1:]
	end := strings.IndexFunc(rest, func(r rune) bool {
		return r == ' ' || r == ',' || r == '.' || r == '!' || r == '?'
	})
	if end < 0 {
		return rest
	}
	return rest[:end]
}

// matchMention matches a mention against candidate names and refs:
// case-insensitive equality, substring either way, ref substring, then the
// best Jaro-Winkler score above the floor.
func matchMention(mention string, candidates []world.Target) (world.Target, bool) {
	m := strings.ToLower(mention)

	for _, c := range candidates {
		name := strings.ToLower(c.Name)
		if name == m || strings.Contains(name, m) || strings.Contains(m, name) {
			return c, true
		}
		if strings.Contains(strings.ToLower(c.Ref), m) {
			return c, true
		}
	}

	best, bestScore := world.Target{}, mentionScoreFloor
	for _, c := range candidates {
		if s := matchr.JaroWinkler(m, strings.ToLower(c.Name), false); s > bestScore {
			best, bestScore = c, s
		}
	}
	if best.Ref == "" {
		return world.Target{}, false
	}
	return best, true
}

// refKey flattens a location into the region-tile ref coordinate suffix.
func refKey(loc world.Location) string {
	return strings.Join([]string{
		strconv.Itoa(loc.WorldTile.X), strconv.Itoa(loc.WorldTile.Y),
		strconv.Itoa(loc.RegionTile.X), strconv.Itoa(loc.RegionTile.Y),
	}, ".")
}
