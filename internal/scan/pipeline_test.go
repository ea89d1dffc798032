package scan

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medverify/medverify/internal/config"
	"github.com/medverify/medverify/internal/search"
	"github.com/medverify/medverify/internal/store"
)

func testFrame(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x += 8 {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.White)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type fakeDetector struct {
	boxes []Box
	err   error
	delay time.Duration
	calls atomic.Int32
}

func (d *fakeDetector) Detect(ctx context.Context, _ image.Image) ([]Box, error) {
	d.calls.Add(1)
	if d.delay > 0 {
		select {
		case <-time.After(d.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return d.boxes, d.err
}

type fakeOCR struct {
	titleText  string
	titleConf  float64
	titleErr   error
	titleDelay time.Duration

	lines      []Line
	linesErr   error
	linesDelay time.Duration
	linesCalls atomic.Int32
}

func (o *fakeOCR) OCRTitle(ctx context.Context, _ image.Image) (string, float64, error) {
	if o.titleDelay > 0 {
		select {
		case <-time.After(o.titleDelay):
		case <-ctx.Done():
			return "", 0, ctx.Err()
		}
	}
	return o.titleText, o.titleConf, o.titleErr
}

func (o *fakeOCR) OCRLines(ctx context.Context, _ image.Image) ([]Line, error) {
	o.linesCalls.Add(1)
	if o.linesDelay > 0 {
		select {
		case <-time.After(o.linesDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return o.lines, o.linesErr
}

type fakeSearcher struct {
	hit   *search.Hit
	err   error
	delay time.Duration
	query atomic.Value
}

func (s *fakeSearcher) SearchBest(ctx context.Context, q string) (*search.Hit, error) {
	s.query.Store(q)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.hit, s.err
}

func titleBox(conf float64) Box {
	return Box{X1: 4, Y1: 4, X2: 40, Y2: 20, Conf: conf, ClassID: 1, Class: "title"}
}

func paracetamolHit() *search.Hit {
	return &search.Hit{
		Product: &store.Product{ID: "p1", Name: "Paracetamol 500"},
		Score:   0.91,
		Source:  search.SourceLexical,
	}
}

func scanConfig() config.ScanConfig {
	return config.ScanConfig{
		T1TimeoutMS: 500,
		T2TimeoutMS: 1200,
		RegexGate:   0.70,
		CropPad:     6,
		MaxSide:     1600,
	}
}

func TestPipeline_DecodeFailureIsOnlyHardError(t *testing.T) {
	p := NewPipeline(&fakeDetector{}, &fakeOCR{}, &fakeSearcher{}, nil, scanConfig())

	res, err := p.Process(context.Background(), []byte("not an image"), ProcessOptions{})
	require.Error(t, err)
	assert.Nil(t, res)
}

func TestPipeline_FullScanBelowGateSkipsRegex(t *testing.T) {
	det := &fakeDetector{boxes: []Box{titleBox(0.40)}}
	ocr := &fakeOCR{titleText: "Paracetamol 500 mg Tablet", titleConf: 0.88}
	srch := &fakeSearcher{hit: paracetamolHit()}
	p := NewPipeline(det, ocr, srch, nil, scanConfig())

	res, err := p.Process(context.Background(), testFrame(t, 64, 48), ProcessOptions{})
	require.NoError(t, err)

	assert.Equal(t, StageFinal, res.Stage)
	assert.Equal(t, "Paracetamol 500 mg Tablet", res.TitleText)
	assert.InDelta(t, 0.88, res.TitleConf, 1e-9)
	require.NotNil(t, res.Match)
	assert.Equal(t, "p1", res.Match.Hit.Product.ID)
	assert.True(t, res.RegexSkipped)
	assert.Empty(t, res.BPOMNumber)
	assert.Zero(t, ocr.linesCalls.Load(), "full OCR must not run below the gate")
	assert.NotEmpty(t, res.RequestID)
	assert.Equal(t, "PARACETAMOL 500", srch.query.Load())
}

func TestPipeline_GateBoundaryRunsRegex(t *testing.T) {
	det := &fakeDetector{boxes: []Box{titleBox(0.70)}}
	ocr := &fakeOCR{
		titleText: "Paracetamol",
		titleConf: 0.9,
		lines:     []Line{{Text: "Reg DKL1234567890", Conf: 0.8}},
	}
	p := NewPipeline(det, ocr, &fakeSearcher{hit: paracetamolHit()}, nil, scanConfig())

	res, err := p.Process(context.Background(), testFrame(t, 64, 48), ProcessOptions{})
	require.NoError(t, err)

	assert.Equal(t, StageFinal, res.Stage)
	assert.False(t, res.RegexSkipped)
	assert.Equal(t, "DKL1234567890", res.BPOMNumber)
	assert.Greater(t, res.NumberConf, 0.0)
	assert.Equal(t, int32(1), ocr.linesCalls.Load())
}

func TestPipeline_AlwaysRunRegexOverridesGate(t *testing.T) {
	cfg := scanConfig()
	cfg.AlwaysRunRegex = true
	det := &fakeDetector{boxes: []Box{titleBox(0.10)}}
	ocr := &fakeOCR{lines: []Line{{Text: "ML123456789012"}}}
	p := NewPipeline(det, ocr, &fakeSearcher{}, nil, cfg)

	res, err := p.Process(context.Background(), testFrame(t, 64, 48), ProcessOptions{})
	require.NoError(t, err)
	assert.Equal(t, "ML123456789012", res.BPOMNumber)
	assert.False(t, res.RegexSkipped)
}

func TestPipeline_ReturnPartialWhenT1WinsFirst(t *testing.T) {
	cfg := scanConfig()
	cfg.AlwaysRunRegex = true
	det := &fakeDetector{boxes: []Box{titleBox(0.95)}}
	ocr := &fakeOCR{
		titleText:  "Paracetamol",
		titleConf:  0.9,
		lines:      []Line{{Text: "DKL1234567890"}},
		linesDelay: 2 * time.Second, // T2 stalls well past the first budget
	}
	p := NewPipeline(det, ocr, &fakeSearcher{hit: paracetamolHit()}, nil, cfg)

	res, err := p.Process(context.Background(), testFrame(t, 64, 48), ProcessOptions{ReturnPartial: true})
	require.NoError(t, err)

	assert.Equal(t, StagePartial, res.Stage)
	assert.Equal(t, "Paracetamol", res.TitleText)
	require.NotNil(t, res.Match)
	assert.Empty(t, res.BPOMNumber)
}

func TestPipeline_T2FirstThenTitleMergedOnFullWait(t *testing.T) {
	cfg := scanConfig()
	cfg.AlwaysRunRegex = true
	cfg.T1TimeoutMS = 200
	cfg.T2TimeoutMS = 1000
	det := &fakeDetector{boxes: []Box{titleBox(0.95)}}
	ocr := &fakeOCR{
		titleText:  "Paracetamol",
		titleConf:  0.9,
		titleDelay: 400 * time.Millisecond, // T1 misses the first budget
		lines:      []Line{{Text: "DKL1234567890"}},
	}
	p := NewPipeline(det, ocr, &fakeSearcher{hit: paracetamolHit()}, nil, cfg)

	res, err := p.Process(context.Background(), testFrame(t, 64, 48), ProcessOptions{})
	require.NoError(t, err)

	// T2 won the race, and the slow title task was still merged in before
	// the overall budget expired. Nothing was erased by the later merge.
	assert.Equal(t, StageFinal, res.Stage)
	assert.Equal(t, "DKL1234567890", res.BPOMNumber)
	assert.Equal(t, "Paracetamol", res.TitleText)
	require.NotNil(t, res.Match)
}

func TestPipeline_T2FirstPartialHasNumberOnly(t *testing.T) {
	cfg := scanConfig()
	cfg.AlwaysRunRegex = true
	det := &fakeDetector{boxes: []Box{titleBox(0.95)}}
	ocr := &fakeOCR{
		titleText:  "Paracetamol",
		titleDelay: 2 * time.Second, // T1 never finishes
		lines:      []Line{{Text: "DKL1234567890"}},
	}
	p := NewPipeline(det, ocr, &fakeSearcher{}, nil, cfg)

	res, err := p.Process(context.Background(), testFrame(t, 64, 48), ProcessOptions{ReturnPartial: true})
	require.NoError(t, err)

	assert.Equal(t, StageFinal, res.Stage)
	assert.Equal(t, "DKL1234567890", res.BPOMNumber)
	assert.Empty(t, res.TitleText)
	assert.Nil(t, res.Match)
}

func TestPipeline_NeitherFinishesSynthesizesPartial(t *testing.T) {
	cfg := scanConfig()
	cfg.AlwaysRunRegex = true
	cfg.T1TimeoutMS = 50
	det := &fakeDetector{boxes: []Box{titleBox(0.95)}}
	ocr := &fakeOCR{
		titleDelay: time.Second,
		linesDelay: time.Second,
	}
	p := NewPipeline(det, ocr, &fakeSearcher{}, nil, cfg)

	res, err := p.Process(context.Background(), testFrame(t, 64, 48), ProcessOptions{ReturnPartial: true})
	require.NoError(t, err)

	assert.Equal(t, StagePartial, res.Stage)
	assert.Empty(t, res.TitleText)
	assert.Nil(t, res.Match)
	assert.Empty(t, res.BPOMNumber)
	require.Len(t, res.Boxes, 1, "synthesized partial still carries detections")
	assert.InDelta(t, 0.95, res.TitleDetConf, 1e-9)
}

func TestPipeline_NoTitleBoxScansFullImage(t *testing.T) {
	det := &fakeDetector{boxes: []Box{{X1: 0, Y1: 0, X2: 10, Y2: 10, Conf: 0.9, ClassID: 7, Class: "barcode"}}}
	ocr := &fakeOCR{titleText: "Paracetamol", titleConf: 0.7}
	p := NewPipeline(det, ocr, &fakeSearcher{hit: paracetamolHit()}, nil, scanConfig())

	res, err := p.Process(context.Background(), testFrame(t, 64, 48), ProcessOptions{})
	require.NoError(t, err)

	assert.Nil(t, res.TitleBox)
	assert.Zero(t, res.TitleDetConf)
	assert.True(t, res.RegexSkipped, "no title confidence means the gate stays closed")
	require.NotNil(t, res.Match)
}

func TestPipeline_DetectorErrorDegradesToFullFrame(t *testing.T) {
	det := &fakeDetector{err: errors.New("sidecar down")}
	ocr := &fakeOCR{titleText: "Paracetamol", titleConf: 0.7}
	p := NewPipeline(det, ocr, &fakeSearcher{hit: paracetamolHit()}, nil, scanConfig())

	res, err := p.Process(context.Background(), testFrame(t, 64, 48), ProcessOptions{})
	require.NoError(t, err)

	assert.Empty(t, res.Boxes)
	assert.Equal(t, "Paracetamol", res.TitleText)
}

func TestPipeline_TaskErrorsContributeNulls(t *testing.T) {
	cfg := scanConfig()
	cfg.AlwaysRunRegex = true
	det := &fakeDetector{boxes: []Box{titleBox(0.9)}}
	ocr := &fakeOCR{titleErr: errors.New("ocr crashed"), linesErr: errors.New("ocr crashed")}
	p := NewPipeline(det, ocr, &fakeSearcher{}, nil, cfg)

	res, err := p.Process(context.Background(), testFrame(t, 64, 48), ProcessOptions{})
	require.NoError(t, err, "task errors never abort the scan")

	assert.Equal(t, StageFinal, res.Stage)
	assert.Empty(t, res.TitleText)
	assert.Empty(t, res.BPOMNumber)
	assert.Nil(t, res.Match)
}

func TestPipeline_PicksHighestConfidenceTitleBox(t *testing.T) {
	det := &fakeDetector{boxes: []Box{
		titleBox(0.55),
		titleBox(0.81),
		{X1: 0, Y1: 0, X2: 5, Y2: 5, Conf: 0.99, ClassID: 3, Class: "logo"},
	}}
	ocr := &fakeOCR{titleText: "Paracetamol", titleConf: 0.9}
	p := NewPipeline(det, ocr, &fakeSearcher{}, nil, scanConfig())

	res, err := p.Process(context.Background(), testFrame(t, 64, 48), ProcessOptions{ReturnPartial: true})
	require.NoError(t, err)

	require.NotNil(t, res.TitleBox)
	assert.InDelta(t, 0.81, res.TitleBox.Conf, 1e-9)
	assert.InDelta(t, 0.81, res.TitleDetConf, 1e-9)
}

func TestTimings_WireKeys(t *testing.T) {
	b, err := json.Marshal(Timings{DetectMS: 12, ExtractMS: 7, TotalMS: 40})
	require.NoError(t, err)
	assert.JSONEq(t, `{"yolo_ms":12,"regex_ms":7,"total_ms":40}`, string(b))
}
