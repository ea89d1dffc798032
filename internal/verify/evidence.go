package verify

import (
	"strings"
	"time"

	"github.com/medverify/medverify/internal/search"
	"github.com/medverify/medverify/internal/store"
)

// EvidenceSource identifies where a piece of evidence came from.
type EvidenceSource string

const (
	// SourceOfficialRegistry is the national registry (exact or lexical
	// retrieval over the mirrored catalog).
	SourceOfficialRegistry EvidenceSource = "official-registry"
	// SourceVector is semantic retrieval (vector or hybrid).
	SourceVector EvidenceSource = "vector"
	// SourceWeb is third-party web evidence.
	SourceWeb EvidenceSource = "web"
)

// sourceWeight is the trust prior per source.
var sourceWeight = map[EvidenceSource]float64{
	SourceOfficialRegistry: 0.95,
	SourceVector:           0.75,
	SourceWeb:              0.60,
}

// MatchStrength grades how well the evidence matches the query.
type MatchStrength string

const (
	MatchExact  MatchStrength = "exact"
	MatchStrong MatchStrength = "strong"
	MatchMedium MatchStrength = "medium"
	MatchWeak   MatchStrength = "weak"
	MatchNone   MatchStrength = "none"
)

var matchMultiplier = map[MatchStrength]float64{
	MatchExact:  1.00,
	MatchStrong: 0.85,
	MatchMedium: 0.65,
	MatchWeak:   0.40,
	MatchNone:   0.10,
}

// Score component weights: match dominates, then quality, recency, and the
// caller's confidence in the queried name.
const (
	wMatch   = 0.45
	wQuality = 0.25
	wRecency = 0.20
	wName    = 0.10
)

// Evidence is one scored observation about a queried product.
type Evidence struct {
	Source  EvidenceSource `json:"source"`
	Product *store.Product `json:"product,omitempty"`
	// NotFound marks negative evidence: the source looked and found
	// nothing for the query.
	NotFound bool          `json:"not_found,omitempty"`
	Match    MatchStrength `json:"match"`
	// NameConfidence is the caller's confidence in the queried text
	// (e.g. OCR title confidence); 1.0 for typed queries. A negative
	// value means "not provided" and scores as 1.0; an explicit zero is
	// kept as zero.
	NameConfidence float64 `json:"name_confidence"`
	// Score is the final weighted evidence score.
	Score float64 `json:"score"`
}

// scoreEvidence computes W[source] * (0.45*M + 0.25*Q + 0.20*R + 0.10*N).
func scoreEvidence(e *Evidence) float64 {
	m := matchMultiplier[e.Match]
	q := qualityScore(e.Product, e.Source)
	r := recencyScore(e.Product)
	n := e.NameConfidence
	if n < 0 || n > 1 {
		n = 1.0
	}
	return sourceWeight[e.Source] * (wMatch*m + wQuality*q + wRecency*r + wName*n)
}

// qualityScore grades how complete the payload is: a per-source base plus
// 0.12 for each populated field, capped at 1.
func qualityScore(p *store.Product, source EvidenceSource) float64 {
	base := 0.30
	switch source {
	case SourceOfficialRegistry:
		base = 0.40
	case SourceVector:
		base = 0.35
	}
	if p == nil {
		return base
	}

	populated := 0
	for _, f := range []string{p.Name, p.Manufacturer, p.Category, p.Composition, p.Status} {
		if strings.TrimSpace(f) != "" {
			populated++
		}
	}
	if !p.UpdatedAt.IsZero() {
		populated++
	}

	q := base + 0.12*float64(populated)
	if q > 1 {
		q = 1
	}
	return q
}

// recencyScore grades how fresh the record is. Missing timestamps sit
// between the one-year and three-year bands: stale data should outrank
// unknown-age data only when it is actually recent.
func recencyScore(p *store.Product) float64 {
	if p == nil || p.UpdatedAt.IsZero() {
		return 0.60
	}
	age := time.Since(p.UpdatedAt)
	switch {
	case age <= 365*24*time.Hour:
		return 0.90
	case age <= 3*365*24*time.Hour:
		return 0.75
	default:
		return 0.50
	}
}

// strengthForHit derives match strength from the retrieval tier and score.
// The exact tier compares the normalized query against both the candidate's
// code and name: full equality with either is exact, a substring is strong.
func strengthForHit(query string, h *search.Hit) MatchStrength {
	if h.Source == search.SourceExact {
		qCode := store.NormalizeCode(query)
		qName := strings.ToLower(strings.TrimSpace(query))
		name := strings.ToLower(h.Product.Name)
		switch {
		case (qCode != "" && qCode == h.Product.Code) ||
			(qName != "" && qName == name):
			return MatchExact
		case (qCode != "" && strings.Contains(strings.ToUpper(h.Product.Code), qCode)) ||
			(qName != "" && strings.Contains(name, qName)):
			return MatchStrong
		default:
			return MatchMedium
		}
	}

	switch {
	case h.Score >= 0.85:
		return MatchStrong
	case h.Score >= 0.70:
		return MatchMedium
	default:
		return MatchWeak
	}
}

// sourceForHit maps retrieval tiers to evidence sources: code and lexical
// hits come from the mirrored official registry; vector and hybrid hits are
// semantic inference.
func sourceForHit(h *search.Hit) EvidenceSource {
	switch h.Source {
	case search.SourceExact, search.SourceLexical:
		return SourceOfficialRegistry
	default:
		return SourceVector
	}
}

// FromHits converts retrieval hits to scored evidence. nameConfidence
// applies to every piece (pass 1.0 for typed queries).
func FromHits(query string, hits []*search.Hit, nameConfidence float64) []*Evidence {
	out := make([]*Evidence, 0, len(hits))
	for _, h := range hits {
		e := &Evidence{
			Source:         sourceForHit(h),
			Product:        h.Product,
			Match:          strengthForHit(query, h),
			NameConfidence: nameConfidence,
		}
		e.Score = scoreEvidence(e)
		out = append(out, e)
	}
	return out
}

// NegativeEvidence builds a not-found observation from a source.
func NegativeEvidence(source EvidenceSource) *Evidence {
	e := &Evidence{
		Source:         source,
		NotFound:       true,
		Match:          MatchNone,
		NameConfidence: 1.0,
	}
	e.Score = scoreEvidence(e)
	return e
}
