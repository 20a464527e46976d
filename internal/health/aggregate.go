package health

import "fmt"

// Source is one named Score contributing to a combined view, e.g. an
// MCP session, the local JSONL transcript fallback, Ollama, or the
// API call tracker.
type Source struct {
	Label string
	Score Score
}

// Aggregate combines scores from multiple sources into one worst-case
// view: the combined health score is the minimum across sources, each
// component is the minimum of that component across the sources that
// reported it, and the recommendation is inherited from whichever
// source produced the minimum score. A single source passes through
// unchanged except for its label.
func Aggregate(sources []Source) (Score, bool) {
	if len(sources) == 0 {
		return Score{}, false
	}
	if len(sources) == 1 {
		s := sources[0].Score
		s.Source = sources[0].Label
		return s, true
	}

	worst := sources[0]
	for _, s := range sources[1:] {
		if s.Score.HealthScore < worst.Score.HealthScore {
			worst = s
		}
	}

	components := make(map[string]Component)
	for _, s := range sources {
		for key, c := range s.Score.Components {
			existing, ok := components[key]
			if !ok || c.Score < existing.Score {
				components[key] = c
			}
		}
	}

	return Score{
		HealthScore:    worst.Score.HealthScore,
		Rating:         worst.Score.Rating,
		Source:         fmt.Sprintf("Combined (%d sources)", len(sources)),
		Components:     components,
		Recommendation: worst.Score.Recommendation,
		DangerZone:     worst.Score.DangerZone,
	}, true
}
