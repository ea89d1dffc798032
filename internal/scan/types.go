// Package scan implements the camera-to-query pipeline: detect the product
// title on the package, OCR it, and in parallel OCR the full image for the
// registration number. Two tasks race under separate budgets; whatever is
// ready when the budget expires is returned, and fields only ever gain
// values as more tasks finish.
package scan

import (
	"context"
	"image"

	"github.com/medverify/medverify/internal/search"
)

// Stage reports how much of the pipeline contributed to a result.
type Stage string

const (
	// StagePartial means only the fast title task finished.
	StagePartial Stage = "partial"
	// StageFinal means the registration-number task also resolved
	// (or was skipped by the gate).
	StageFinal Stage = "final"
)

// Box is a detector bounding box in image pixel coordinates.
type Box struct {
	X1      int     `json:"x1"`
	Y1      int     `json:"y1"`
	X2      int     `json:"x2"`
	Y2      int     `json:"y2"`
	Conf    float64 `json:"conf"`
	ClassID int     `json:"cls_id"`
	Class   string  `json:"cls"`
}

// Line is one OCR'd text line with its quad corners.
type Line struct {
	Text string    `json:"text"`
	Conf float64   `json:"conf"`
	Quad [4][2]int `json:"box,omitempty"`
}

// Match is the registry hit for an OCR'd title.
type Match struct {
	Hit        *search.Hit `json:"hit"`
	Source     string      `json:"source"`
	Confidence float64     `json:"confidence"`
}

// Timings are per-phase wall-clock durations in milliseconds. The wire keys
// keep the names mobile clients already consume: detection is "yolo_ms",
// number extraction is "regex_ms".
type Timings struct {
	DetectMS   int64 `json:"yolo_ms,omitempty"`
	OCRTitleMS int64 `json:"ocr_title_ms,omitempty"`
	SearchMS   int64 `json:"search_ms,omitempty"`
	OCRFullMS  int64 `json:"ocr_full_ms,omitempty"`
	ExtractMS  int64 `json:"regex_ms,omitempty"`
	TotalMS    int64 `json:"total_ms"`
}

// Result is a scan outcome. Zero values mean "not produced yet": a field
// set by one task is never cleared by another finishing later with nothing.
type Result struct {
	RequestID string `json:"request_id"`
	Stage     Stage  `json:"stage"`

	// Title task (T1) contributions.
	TitleText string  `json:"title_text,omitempty"`
	TitleConf float64 `json:"title_conf,omitempty"`
	Match     *Match  `json:"match,omitempty"`

	// Registration-number task (T2) contributions.
	BPOMNumber   string  `json:"bpom_number,omitempty"`
	NumberConf   float64 `json:"number_conf,omitempty"`
	RegexSkipped bool    `json:"regex_skipped,omitempty"`

	// Detection pre-step contributions.
	Boxes        []Box   `json:"boxes,omitempty"`
	TitleBox     *Box    `json:"title_box,omitempty"`
	TitleDetConf float64 `json:"title_det_conf,omitempty"`

	Timings Timings `json:"timings"`
}

// Detector finds labeled regions on a product image.
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]Box, error)
}

// OCR reads text from images. OCRTitle reads a cropped title region and
// returns the best line; OCRLines reads every line on the full image.
type OCR interface {
	OCRTitle(ctx context.Context, img image.Image) (text string, conf float64, err error)
	OCRLines(ctx context.Context, img image.Image) ([]Line, error)
}

// Searcher is the retrieval surface T1 uses; satisfied by *search.Router.
type Searcher interface {
	SearchBest(ctx context.Context, q string) (*search.Hit, error)
}
