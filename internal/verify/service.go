package verify

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/medverify/medverify/internal/scan"
	"github.com/medverify/medverify/internal/search"
	"github.com/medverify/medverify/internal/telemetry"
)

// Auditor records verification lookups; satisfied by *store.Registry.
type Auditor interface {
	SaveAudit(ctx context.Context, code, decision string) error
}

// ResultCache is the TTL cache port; satisfied by *cache.TTLCache.
type ResultCache interface {
	Get(key string) (any, bool)
	Set(key string, value any, ttl time.Duration)
	Delete(key string)
}

// DefaultCandidates is how many hits feed the aggregator per query.
const DefaultCandidates = 5

// Service is the end-to-end verification flow: retrieve, score, decide,
// audit, cache.
type Service struct {
	router     *search.Router
	auditor    Auditor
	cache      ResultCache
	cacheTTL   time.Duration
	candidates int
	logger     *slog.Logger
	metrics    *telemetry.Metrics
}

// ServiceOption configures the service.
type ServiceOption func(*Service)

// WithAuditor wires the audit log.
func WithAuditor(a Auditor) ServiceOption {
	return func(s *Service) { s.auditor = a }
}

// WithCache wires the result cache.
func WithCache(c ResultCache, ttl time.Duration) ServiceOption {
	return func(s *Service) {
		s.cache = c
		s.cacheTTL = ttl
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = logger }
}

// WithMetrics wires decision counters.
func WithMetrics(m *telemetry.Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// NewService creates the verification service.
func NewService(router *search.Router, opts ...ServiceOption) *Service {
	s := &Service{
		router:     router,
		candidates: DefaultCandidates,
		cacheTTL:   12 * time.Hour,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// VerifyQuery verifies a typed query (name or registration code).
func (s *Service) VerifyQuery(ctx context.Context, q string) (*Result, error) {
	return s.verify(ctx, q, 1.0)
}

func (s *Service) verify(ctx context.Context, q string, nameConfidence float64) (*Result, error) {
	key := cacheKey(q)
	if s.cache != nil {
		if v, ok := s.cache.Get(key); ok {
			if res, ok := v.(*Result); ok {
				return res, nil
			}
		}
	}

	hits, err := s.router.Search(ctx, q, s.candidates)
	if err != nil {
		return nil, err
	}

	evidence := FromHits(q, hits, nameConfidence)
	res := Aggregate(evidence)
	s.metrics.IncDecision(string(res.Decision))

	s.audit(ctx, q, res)

	if s.cache != nil {
		s.cache.Set(key, res, s.cacheTTL)
	}
	return res, nil
}

// audit writes the lookup row best-effort; a failed audit never fails the
// verification.
func (s *Service) audit(ctx context.Context, q string, res *Result) {
	if s.auditor == nil {
		return
	}

	code := q
	if res.Winner != nil && res.Winner.Product != nil && res.Winner.Product.Code != "" {
		code = res.Winner.Product.Code
	}
	if err := s.auditor.SaveAudit(ctx, code, string(res.Decision)); err != nil {
		s.logger.Warn("audit write failed",
			slog.String("code", code), slog.String("error", err.Error()))
	}
}

// ScanVerification pairs a scan with its verification outcome.
type ScanVerification struct {
	Scan     *scan.Result `json:"scan"`
	Result   *Result      `json:"result,omitempty"`
	// NeedsInput is set when the scan produced neither a code nor a
	// usable title; Suggestions says what to do about it.
	NeedsInput  bool     `json:"needs_input,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// VerifyScan verifies a completed scan. The extracted registration code is
// preferred; the OCR title is the fallback, carrying its OCR confidence into
// the evidence. A scan with neither returns a need-more-input outcome, not
// an error.
func (s *Service) VerifyScan(ctx context.Context, sc *scan.Result) (*ScanVerification, error) {
	out := &ScanVerification{Scan: sc}

	switch {
	case sc.BPOMNumber != "":
		res, err := s.verify(ctx, sc.BPOMNumber, 1.0)
		if err != nil {
			return nil, err
		}
		out.Result = res
	case strings.TrimSpace(sc.TitleText) != "":
		conf := sc.TitleConf
		if conf <= 0 {
			conf = 0.5
		}
		res, err := s.verify(ctx, sc.TitleText, conf)
		if err != nil {
			return nil, err
		}
		out.Result = res
	default:
		out.NeedsInput = true
		out.Suggestions = []string{
			"retake the photo with the registration number visible",
			"type the product name or registration code manually",
		}
	}
	return out, nil
}

func cacheKey(q string) string {
	return "verify:" + strings.ToUpper(strings.Join(strings.Fields(q), " "))
}
