package scan

import (
	"context"
	"image"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/medverify/medverify/internal/config"
	"github.com/medverify/medverify/internal/telemetry"
)

// Pipeline runs the T1/T2 race over a decoded frame: T1 crops the detected
// title, OCRs it, and searches the registry; T2 OCRs the full frame and
// extracts a registration number. T2 only runs when the title detection is
// confident enough (or the override flag forces it).
type Pipeline struct {
	detector  Detector
	ocr       OCR
	searcher  Searcher
	extractor *Extractor
	cfg       config.ScanConfig

	titleClassID   int
	titleClassName string

	logger  *slog.Logger
	metrics *telemetry.Metrics
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the pipeline logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithTitleClass sets which detector class is treated as the product title.
func WithTitleClass(id int, name string) Option {
	return func(p *Pipeline) {
		p.titleClassID = id
		p.titleClassName = name
	}
}

// NewPipeline wires the pipeline. A nil extractor gets the default patterns.
func NewPipeline(detector Detector, ocr OCR, searcher Searcher, extractor *Extractor, cfg config.ScanConfig, opts ...Option) *Pipeline {
	if cfg.T1TimeoutMS <= 0 {
		cfg.T1TimeoutMS = 500
	}
	if cfg.T2TimeoutMS <= 0 {
		cfg.T2TimeoutMS = 1200
	}
	if cfg.MaxSide <= 0 {
		cfg.MaxSide = DefaultMaxSide
	}
	if extractor == nil {
		extractor, _ = NewExtractor(DefaultExtractorConfig())
	}

	p := &Pipeline{
		detector:       detector,
		ocr:            ocr,
		searcher:       searcher,
		extractor:      extractor,
		cfg:            cfg,
		titleClassID:   1,
		titleClassName: "title",
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ProcessOptions control a single Process call.
type ProcessOptions struct {
	// ReturnPartial returns whatever the first finishing task produced
	// instead of waiting out the full budget.
	ReturnPartial bool
}

type t1Out struct {
	titleText string
	titleConf float64
	match     *Match
	ocrMS     int64
	searchMS  int64
}

type t2Out struct {
	number     string
	numberConf float64
	skipped    bool
	ocrFullMS  int64
	extractMS  int64
}

// Process scans one frame. The only hard error is an undecodable image;
// every task failure degrades to a null contribution on the result.
func (p *Pipeline) Process(ctx context.Context, data []byte, opts ProcessOptions) (*Result, error) {
	start := time.Now()
	res := &Result{RequestID: uuid.NewString(), Stage: StagePartial}
	defer func() {
		res.Timings.TotalMS = time.Since(start).Milliseconds()
		p.metrics.ObserveScanPhase("total", time.Since(start))
	}()

	img, err := DecodeImage(data, p.cfg.MaxSide)
	if err != nil {
		return nil, err
	}

	taskCtx, cancel := context.WithTimeout(ctx, p.cfg.T2Timeout())
	defer cancel()

	titleCrop := p.detect(taskCtx, img, res)

	t1ch := make(chan t1Out, 1)
	go p.runT1(taskCtx, titleCrop, t1ch)

	t2ch := make(chan t2Out, 1)
	if res.TitleDetConf >= p.cfg.RegexGate || p.cfg.AlwaysRunRegex {
		go p.runT2(taskCtx, img, t2ch)
	} else {
		t2ch <- t2Out{skipped: true}
	}

	var t1done, t2done bool
	first := time.NewTimer(p.cfg.T1Timeout())
	defer first.Stop()

	select {
	case o := <-t1ch:
		p.mergeT1(res, o)
		t1done = true
	case o := <-t2ch:
		p.mergeT2(res, o)
		t2done = true
	case <-first.C:
		// Neither finished inside the first budget; res already carries
		// the detection boxes as a synthesized partial.
	case <-ctx.Done():
		return res, nil
	}

	// The other task may have finished in the same instant.
	if t1done && !t2done {
		select {
		case o := <-t2ch:
			p.mergeT2(res, o)
			t2done = true
		default:
		}
	} else if t2done && !t1done {
		select {
		case o := <-t1ch:
			p.mergeT1(res, o)
			t1done = true
		default:
		}
	}

	if opts.ReturnPartial {
		return res, nil
	}

	rem := p.cfg.T2Timeout() - p.cfg.T1Timeout()
	if rem < 0 {
		rem = 0
	}
	second := time.NewTimer(rem)
	defer second.Stop()

wait:
	for !(t1done && t2done) {
		select {
		case o := <-t1ch:
			p.mergeT1(res, o)
			t1done = true
		case o := <-t2ch:
			p.mergeT2(res, o)
			t2done = true
		case <-second.C:
			break wait
		case <-ctx.Done():
			break wait
		}
	}
	res.Stage = StageFinal
	return res, nil
}

// detect runs the detector once and returns the padded title crop, or the
// full image when there is no usable title box.
func (p *Pipeline) detect(ctx context.Context, img image.Image, res *Result) image.Image {
	if p.detector == nil {
		return img
	}

	t0 := time.Now()
	boxes, err := p.detector.Detect(ctx, img)
	res.Timings.DetectMS = time.Since(t0).Milliseconds()
	p.metrics.ObserveScanPhase("detect", time.Since(t0))
	if err != nil {
		p.logger.Warn("detector failed, scanning full frame",
			slog.String("request_id", res.RequestID), slog.String("error", err.Error()))
		return img
	}
	res.Boxes = boxes

	best := -1
	for i, b := range boxes {
		if b.ClassID != p.titleClassID && !strings.EqualFold(b.Class, p.titleClassName) {
			continue
		}
		if best < 0 || b.Conf > boxes[best].Conf {
			best = i
		}
	}
	if best < 0 {
		return img
	}

	tb := boxes[best]
	res.TitleBox = &tb
	res.TitleDetConf = tb.Conf
	return Crop(img, tb, p.cfg.CropPad)
}

func (p *Pipeline) runT1(ctx context.Context, crop image.Image, out chan<- t1Out) {
	var o t1Out
	defer func() { out <- o }()

	t0 := time.Now()
	text, conf, err := p.ocr.OCRTitle(ctx, crop)
	o.ocrMS = time.Since(t0).Milliseconds()
	p.metrics.ObserveScanPhase("ocr_title", time.Since(t0))
	if err != nil {
		p.logger.Warn("title ocr failed", slog.String("error", err.Error()))
		return
	}
	o.titleText = text
	o.titleConf = conf

	q := NormalizeTitle(text)
	if q == "" {
		return
	}

	t0 = time.Now()
	hit, err := p.searcher.SearchBest(ctx, q)
	o.searchMS = time.Since(t0).Milliseconds()
	p.metrics.ObserveScanPhase("search", time.Since(t0))
	if err != nil {
		p.logger.Warn("title search failed", slog.String("query", q), slog.String("error", err.Error()))
		return
	}
	if hit != nil {
		o.match = &Match{Hit: hit, Source: string(hit.Source), Confidence: hit.Score}
	}
}

func (p *Pipeline) runT2(ctx context.Context, img image.Image, out chan<- t2Out) {
	var o t2Out
	defer func() { out <- o }()

	t0 := time.Now()
	lines, err := p.ocr.OCRLines(ctx, img)
	o.ocrFullMS = time.Since(t0).Milliseconds()
	p.metrics.ObserveScanPhase("ocr_full", time.Since(t0))
	if err != nil {
		p.logger.Warn("full ocr failed", slog.String("error", err.Error()))
		return
	}

	texts := make([]string, 0, len(lines))
	for _, l := range lines {
		texts = append(texts, l.Text)
	}

	t0 = time.Now()
	v := p.extractor.Extract(strings.Join(texts, "\n"))
	o.extractMS = time.Since(t0).Milliseconds()
	p.metrics.ObserveScanPhase("extract", time.Since(t0))
	if v.Number != "" {
		o.number = v.Number
		o.numberConf = v.Confidence
	}
}

// mergeT1 folds title-task output into res. A field already populated is
// never overwritten, and an empty field from the task never clears one.
func (p *Pipeline) mergeT1(res *Result, o t1Out) {
	if res.TitleText == "" && o.titleText != "" {
		res.TitleText = o.titleText
		res.TitleConf = o.titleConf
	}
	if res.Match == nil && o.match != nil {
		res.Match = o.match
	}
	if o.ocrMS > 0 {
		res.Timings.OCRTitleMS = o.ocrMS
	}
	if o.searchMS > 0 {
		res.Timings.SearchMS = o.searchMS
	}
}

// mergeT2 folds number-task output into res and promotes the stage to final.
func (p *Pipeline) mergeT2(res *Result, o t2Out) {
	res.Stage = StageFinal
	if res.BPOMNumber == "" && o.number != "" {
		res.BPOMNumber = o.number
		res.NumberConf = o.numberConf
	}
	if o.skipped {
		res.RegexSkipped = true
	}
	if o.ocrFullMS > 0 {
		res.Timings.OCRFullMS = o.ocrFullMS
	}
	if o.extractMS > 0 {
		res.Timings.ExtractMS = o.extractMS
	}
}
