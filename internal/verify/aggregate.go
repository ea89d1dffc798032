package verify

import (
	"fmt"
	"sort"
)

// Decision is the verification outcome.
type Decision string

const (
	DecisionValid   Decision = "valid"
	DecisionInvalid Decision = "invalid"
	DecisionUnknown Decision = "unknown"
)

// Result is the aggregated verification outcome. Evidence preserves the
// insertion order of the input; Winner is the piece that decided.
type Result struct {
	Decision    Decision       `json:"decision"`
	Confidence  float64        `json:"confidence"`
	TopSource   EvidenceSource `json:"top_source,omitempty"`
	Explanation string         `json:"explanation"`
	Winner      *Evidence      `json:"winner,omitempty"`
	Evidence    []*Evidence    `json:"evidence,omitempty"`
}

// Aggregate applies the decision tree over scored evidence:
//
//  1. No evidence: unknown with zero confidence.
//  2. The strongest evidence is an official record with an exact or strong
//     match: the record's registry status decides. An official strong match
//     with a missing or unrecognized status counts as valid.
//  3. Two or more sources positively found nothing, and the strongest
//     evidence still scores at least 0.5: invalid.
//  4. Otherwise: unknown.
//
// Confidence is always the winner's score. Ties break by source weight then
// insertion order, so equal-scored official evidence wins.
func Aggregate(evidence []*Evidence) *Result {
	if len(evidence) == 0 {
		return &Result{
			Decision:    DecisionUnknown,
			Confidence:  0,
			Explanation: "no evidence found for this query",
		}
	}

	ordered := make([]*Evidence, len(evidence))
	copy(ordered, evidence)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Score != ordered[j].Score {
			return ordered[i].Score > ordered[j].Score
		}
		return sourceWeight[ordered[i].Source] > sourceWeight[ordered[j].Source]
	})

	top := ordered[0]
	res := &Result{
		Confidence: top.Score,
		TopSource:  top.Source,
		Winner:     top,
		Evidence:   evidence,
	}

	if top.Source == SourceOfficialRegistry && !top.NotFound &&
		(top.Match == MatchExact || top.Match == MatchStrong) {
		status := ParseStatus(top.Product.Status)
		switch {
		case status.Registered():
			res.Decision = DecisionValid
			res.Explanation = fmt.Sprintf(
				"official registry lists %q with status %s", top.Product.Name, status)
		case status.Deregistered():
			res.Decision = DecisionInvalid
			res.Explanation = fmt.Sprintf(
				"official registry lists %q but its status is %s", top.Product.Name, status)
		default:
			// Strong official match with an uninterpretable status still
			// verifies; the registry knows the product.
			res.Decision = DecisionValid
			res.Explanation = fmt.Sprintf(
				"official registry matched %q; its status %q could not be interpreted",
				top.Product.Name, top.Product.Status)
		}
		return res
	}

	negatives := 0
	for _, e := range ordered {
		if e.NotFound {
			negatives++
		}
	}
	if negatives >= 2 && top.Score >= 0.5 {
		res.Decision = DecisionInvalid
		res.Explanation = fmt.Sprintf(
			"%d sources found no record for this product", negatives)
		return res
	}

	res.Decision = DecisionUnknown
	res.Explanation = "evidence is inconclusive; verify against the official registry directly"
	return res
}
