package retrieve

import "sort"

// Fused is one candidate's post-fusion score, ready for diversification
// and reranking.
type Fused struct {
	ID       string
	Text     string
	Metadata map[string]string
	Score    float64
}

// FuseRRF combines ranked semantic and keyword candidates via Reciprocal
// Rank Fusion: score = sum(1 / (k + rank)) across lanes a candidate
// appears in. Candidates absent from a lane simply don't contribute that
// term. k smooths the influence of very top ranks dominating the fusion.
func FuseRRF(candidates map[string]*Candidate, k int) []Fused {
	out := make([]Fused, 0, len(candidates))
	for id, c := range candidates {
		var score float64
		if c.SemanticRank > 0 {
			score += 1.0 / float64(k+c.SemanticRank)
		}
		if c.KeywordRank > 0 {
			score += 1.0 / float64(k+c.KeywordRank)
		}
		out = append(out, Fused{ID: id, Text: c.Text, Metadata: c.Metadata, Score: score})
	}
	sortFusedDesc(out)
	return out
}

// FuseWeightedMinMax min-max normalizes each lane's raw scores to [0,1]
// independently, then combines them as alpha*keyword + (1-alpha)*semantic.
// Candidates absent from a lane are treated as 0 in that lane after
// normalization rather than excluded, so a strong single-lane hit is
// never zeroed out by the other lane's absence.
func FuseWeightedMinMax(candidates map[string]*Candidate, alpha float64) []Fused {
	var semMin, semMax, kwMin, kwMax float64
	first := true
	for _, c := range candidates {
		if c.SemanticRank > 0 {
			if first || c.SemanticHit < semMin {
				semMin = c.SemanticHit
			}
			if first || c.SemanticHit > semMax {
				semMax = c.SemanticHit
			}
		}
		if c.KeywordRank > 0 {
			if first || c.KeywordHit < kwMin {
				kwMin = c.KeywordHit
			}
			if first || c.KeywordHit > kwMax {
				kwMax = c.KeywordHit
			}
		}
		first = false
	}

	normalize := func(v, lo, hi float64) float64 {
		if hi <= lo {
			return 0
		}
		return (v - lo) / (hi - lo)
	}

	out := make([]Fused, 0, len(candidates))
	for id, c := range candidates {
		var semScore, kwScore float64
		if c.SemanticRank > 0 {
			semScore = normalize(c.SemanticHit, semMin, semMax)
		}
		if c.KeywordRank > 0 {
			kwScore = normalize(c.KeywordHit, kwMin, kwMax)
		}
		score := alpha*kwScore + (1-alpha)*semScore
		out = append(out, Fused{ID: id, Text: c.Text, Metadata: c.Metadata, Score: score})
	}
	sortFusedDesc(out)
	return out
}

func sortFusedDesc(fused []Fused) {
	sort.SliceStable(fused, func(i, j int) bool {
		if fused[i].Score != fused[j].Score {
			return fused[i].Score > fused[j].Score
		}
		return fused[i].ID < fused[j].ID
	})
}
