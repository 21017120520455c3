package matching

import (
	"fmt"
	"sort"
	"strings"

	"github.com/getstubd/stubd/pkg/interaction"
)

// Candidate is a registered pattern under near-miss consideration.
type Candidate struct {
	ID      string
	Name    string
	Pattern *interaction.RequestPattern
}

// NearMiss is a non-matching interaction ranked by how close it came.
// No-match responses embed these so a failing test explains itself.
type NearMiss struct {
	InteractionID string     `json:"interactionId"`
	Name          string     `json:"name,omitempty"`
	Score         int        `json:"score"`
	MaxScore      int        `json:"maxScore"`
	Reason        string     `json:"reason"`
	Mismatches    []Mismatch `json:"mismatches"`
}

// Rank evaluates every candidate against the request and returns the
// topN closest, best first. Fully matching candidates never appear;
// callers only rank after matching failed.
func Rank(candidates []Candidate, r *LiveRequest, opts Options, topN int) []NearMiss {
	misses := make([]NearMiss, 0, len(candidates))
	for _, c := range candidates {
		score, max, ms := scoreCandidate(c.Pattern, r, opts)
		if len(ms) == 0 {
			continue
		}
		misses = append(misses, NearMiss{
			InteractionID: c.ID,
			Name:          c.Name,
			Score:         score,
			MaxScore:      max,
			Reason:        reason(ms),
			Mismatches:    ms,
		})
	}

	sort.SliceStable(misses, func(i, j int) bool {
		return misses[i].Score > misses[j].Score
	})
	if topN > 0 && len(misses) > topN {
		misses = misses[:topN]
	}
	return misses
}

func scoreCandidate(p *interaction.RequestPattern, r *LiveRequest, opts Options) (score, max int, all []Mismatch) {
	for _, dim := range evaluate(p, r, opts) {
		max += dim.weight
		if len(dim.mismatches) == 0 {
			score += dim.weight
		}
		all = append(all, dim.mismatches...)
	}
	return score, max, all
}

// reason summarizes a mismatch list as the divergent dimensions, e.g.
// "method and body differ".
func reason(ms []Mismatch) string {
	seen := make(map[string]bool)
	var parts []string
	for _, m := range ms {
		dim := m.Path
		if i := strings.IndexAny(dim, ".[@"); i > 0 {
			dim = dim[:i]
		}
		if !seen[dim] {
			seen[dim] = true
			parts = append(parts, dim)
		}
	}

	switch len(parts) {
	case 0:
		return ""
	case 1:
		return parts[0] + " differs"
	case 2:
		return parts[0] + " and " + parts[1] + " differ"
	default:
		return fmt.Sprintf("%s and %s differ", strings.Join(parts[:len(parts)-1], ", "), parts[len(parts)-1])
	}
}
