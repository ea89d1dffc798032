package verify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medverify/medverify/internal/search"
	"github.com/medverify/medverify/internal/store"
)

func registryEvidence(match MatchStrength, p *store.Product) *Evidence {
	e := &Evidence{Source: SourceOfficialRegistry, Product: p, Match: match, NameConfidence: 1.0}
	e.Score = scoreEvidence(e)
	return e
}

func TestAggregate_NoEvidence(t *testing.T) {
	res := Aggregate(nil)

	assert.Equal(t, DecisionUnknown, res.Decision)
	assert.Zero(t, res.Confidence)
	assert.NotEmpty(t, res.Explanation)
}

func TestAggregate_OfficialExactActiveIsValid(t *testing.T) {
	p := &store.Product{
		Code: "DKL1234567890A1", Name: "Paracetamol", Manufacturer: "PT Pharma",
		Status: "Aktif", UpdatedAt: time.Now().Add(-30 * 24 * time.Hour),
	}
	res := Aggregate([]*Evidence{registryEvidence(MatchExact, p)})

	assert.Equal(t, DecisionValid, res.Decision)
	assert.Equal(t, SourceOfficialRegistry, res.TopSource)
	assert.Greater(t, res.Confidence, 0.7)
	assert.Contains(t, res.Explanation, "Paracetamol")
}

func TestAggregate_OfficialStrongRevokedIsInvalid(t *testing.T) {
	p := &store.Product{Code: "DKL9", Name: "Fakemol", Status: "revoked"}
	res := Aggregate([]*Evidence{registryEvidence(MatchStrong, p)})

	assert.Equal(t, DecisionInvalid, res.Decision)
}

func TestAggregate_OfficialStrongUnparseableStatusGetsBenefitOfDoubt(t *testing.T) {
	p := &store.Product{Code: "DKL9", Name: "Oddmol", Status: "pending review"}
	res := Aggregate([]*Evidence{registryEvidence(MatchExact, p)})

	assert.Equal(t, DecisionValid, res.Decision)
	assert.Contains(t, res.Explanation, "pending review")
}

func TestAggregate_MediumOfficialMatchDoesNotDecide(t *testing.T) {
	p := &store.Product{Name: "Paracetamol", Status: "Aktif"}
	res := Aggregate([]*Evidence{registryEvidence(MatchMedium, p)})

	assert.Equal(t, DecisionUnknown, res.Decision)
}

func TestAggregate_TwoNegativesWithConfidentTopIsInvalid(t *testing.T) {
	// A strong vector hit that is not official evidence, plus two sources
	// that positively found nothing.
	vec := &Evidence{
		Source: SourceVector,
		Product: &store.Product{
			Name: "Lookalike", Manufacturer: "PT X", Status: "Aktif",
			Composition: "paracetamol", Category: "obat",
			UpdatedAt: time.Now().Add(-10 * 24 * time.Hour),
		},
		Match: MatchStrong, NameConfidence: 1.0,
	}
	vec.Score = scoreEvidence(vec)
	require.GreaterOrEqual(t, vec.Score, 0.5)

	res := Aggregate([]*Evidence{
		vec,
		NegativeEvidence(SourceOfficialRegistry),
		NegativeEvidence(SourceWeb),
	})

	assert.Equal(t, DecisionInvalid, res.Decision)
	assert.Contains(t, res.Explanation, "2 sources")
}

func TestAggregate_SingleNegativeStaysUnknown(t *testing.T) {
	res := Aggregate([]*Evidence{NegativeEvidence(SourceOfficialRegistry)})
	assert.Equal(t, DecisionUnknown, res.Decision)
}

func TestAggregate_TieBreakPrefersOfficialSource(t *testing.T) {
	official := &Evidence{Source: SourceOfficialRegistry, Product: &store.Product{Name: "A", Status: "Aktif"}, Match: MatchStrong, NameConfidence: 1.0}
	vector := &Evidence{Source: SourceVector, Product: &store.Product{Name: "B"}, Match: MatchStrong, NameConfidence: 1.0}
	official.Score = 0.8
	vector.Score = 0.8

	res := Aggregate([]*Evidence{vector, official})
	assert.Equal(t, SourceOfficialRegistry, res.TopSource)
	assert.Same(t, official, res.Winner)
	assert.Equal(t, DecisionValid, res.Decision)
	// The evidence list keeps the caller's order; only Winner is reordered.
	assert.Same(t, vector, res.Evidence[0])
}

func TestScoreEvidence_SourceWeightOrdering(t *testing.T) {
	p := &store.Product{Name: "X", Status: "Aktif"}
	mk := func(src EvidenceSource) float64 {
		e := &Evidence{Source: src, Product: p, Match: MatchStrong, NameConfidence: 1.0}
		return scoreEvidence(e)
	}

	reg, vec, web := mk(SourceOfficialRegistry), mk(SourceVector), mk(SourceWeb)
	assert.Greater(t, reg, vec)
	assert.Greater(t, vec, web)
}

func TestScoreEvidence_NameConfidence(t *testing.T) {
	p := &store.Product{Name: "X", Status: "Aktif"}
	mk := func(n float64) float64 {
		e := &Evidence{Source: SourceOfficialRegistry, Product: p, Match: MatchStrong, NameConfidence: n}
		return scoreEvidence(e)
	}

	full := mk(1.0)
	assert.Less(t, mk(0), full, "zero confidence is real, not unset")
	assert.InDelta(t, full, mk(-1), 1e-9, "negative sentinel means unset")
	assert.InDelta(t, full, mk(2), 1e-9, "out-of-range clamps to full")
}

func TestQualityScore_RewardsPopulatedFields(t *testing.T) {
	sparse := qualityScore(&store.Product{Name: "X"}, SourceOfficialRegistry)
	rich := qualityScore(&store.Product{
		Name: "X", Manufacturer: "M", Category: "C", Composition: "c",
		Status: "Aktif", UpdatedAt: time.Now(),
	}, SourceOfficialRegistry)

	assert.InDelta(t, 0.40+0.12, sparse, 1e-9)
	assert.InDelta(t, 1.0, rich, 1e-9, "capped at 1")
}

func TestRecencyScore_Bands(t *testing.T) {
	now := time.Now()
	assert.InDelta(t, 0.90, recencyScore(&store.Product{UpdatedAt: now.Add(-100 * 24 * time.Hour)}), 1e-9)
	assert.InDelta(t, 0.75, recencyScore(&store.Product{UpdatedAt: now.Add(-2 * 365 * 24 * time.Hour)}), 1e-9)
	assert.InDelta(t, 0.50, recencyScore(&store.Product{UpdatedAt: now.Add(-5 * 365 * 24 * time.Hour)}), 1e-9)
	assert.InDelta(t, 0.60, recencyScore(&store.Product{}), 1e-9)
	assert.InDelta(t, 0.60, recencyScore(nil), 1e-9)
}

func TestStrengthForHit_ExactTierComparesCodeAndName(t *testing.T) {
	p := &store.Product{Code: "DKL1234567890A1", Name: "Paracetamol 500"}
	strength := func(q string) MatchStrength {
		return strengthForHit(q, &search.Hit{Product: p, Source: search.SourceExact})
	}

	assert.Equal(t, MatchExact, strength("dkl 1234567890 a1"))
	assert.Equal(t, MatchExact, strength("Paracetamol 500"))
	assert.Equal(t, MatchStrong, strength("DKL1234567890"))
	assert.Equal(t, MatchStrong, strength("paracetamol"))
	assert.Equal(t, MatchMedium, strength("NA99999999"))
}

func TestFromHits_TierMapping(t *testing.T) {
	exact := &search.Hit{Product: &store.Product{Code: "DKL1234567890A1", Name: "P"}, Score: 0.99, Source: search.SourceExact}
	lex := &search.Hit{Product: &store.Product{Name: "P"}, Score: 0.9, Source: search.SourceLexical}
	hybrid := &search.Hit{Product: &store.Product{Name: "P"}, Score: 0.72, Source: search.SourceHybrid}
	vec := &search.Hit{Product: &store.Product{Name: "P"}, Score: 0.3, Source: search.SourceVector}

	evidence := FromHits("DKL1234567890A1", []*search.Hit{exact, lex, hybrid, vec}, 1.0)
	require.Len(t, evidence, 4)

	assert.Equal(t, SourceOfficialRegistry, evidence[0].Source)
	assert.Equal(t, MatchExact, evidence[0].Match)
	assert.Equal(t, SourceOfficialRegistry, evidence[1].Source)
	assert.Equal(t, MatchStrong, evidence[1].Match)
	assert.Equal(t, SourceVector, evidence[2].Source)
	assert.Equal(t, MatchMedium, evidence[2].Match)
	assert.Equal(t, SourceVector, evidence[3].Source)
	assert.Equal(t, MatchWeak, evidence[3].Match)
}
