package dashboard

import (
	"strings"

	"github.com/getflowetic/flowetic/internal/schema"
)

// Score computes a template's deterministic match score for a schema:
// four independent boolean presence checks, each weighted per-template.
// No randomness and no model calls are involved.
func Score(s schema.Inferred, t TemplateMeta) int {
	score := 0

	if hasTimestampSignal(s) {
		score += t.Scoring.HasTimestamp
	}
	if hasFieldContaining(s, "status") {
		score += t.Scoring.HasStatus
	}
	if hasFieldContaining(s, "transcript") {
		score += t.Scoring.HasTranscript
	}
	if hasFieldContaining(s, "duration") {
		score += t.Scoring.HasDuration
	}

	return score
}

// Match picks the highest-scoring template for a schema. Ties resolve to
// registry order: earlier registration wins, which is the only tie-break
// rule and must stay stable for reproducibility. The registry keeps a
// zero-requirement fallback as its last entry, so Match always returns a
// template for a non-empty registry.
func Match(s schema.Inferred, registry []TemplateMeta) TemplateMeta {
	best := registry[0]
	bestScore := Score(s, best)

	for _, t := range registry[1:] {
		// Strictly greater keeps the earlier entry on ties.
		if score := Score(s, t); score > bestScore {
			best = t
			bestScore = score
		}
	}

	return best
}

func hasTimestampSignal(s schema.Inferred) bool {
	for _, f := range s.Fields {
		if f.Type == schema.TypeDate || strings.Contains(strings.ToLower(f.Name), "time") {
			return true
		}
	}
	return false
}

func hasFieldContaining(s schema.Inferred, substr string) bool {
	for _, f := range s.Fields {
		if strings.Contains(strings.ToLower(f.Name), substr) {
			return true
		}
	}
	return false
}
