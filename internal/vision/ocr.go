package vision

import (
	"context"
	"image"
	"net/http"
	"time"

	"github.com/medverify/medverify/internal/config"
	"github.com/medverify/medverify/internal/scan"
)

// OCR calls the text-recognition sidecar. The sidecar exposes two routes:
// /ocr/title returns the single best line for a cropped region, /ocr/lines
// returns every line on the frame.
type OCR struct {
	titleURL string
	linesURL string
	timeout  time.Duration
	client   *http.Client
}

var _ scan.OCR = (*OCR)(nil)

// NewOCR builds the adapter from the vision config.
func NewOCR(cfg config.VisionConfig) *OCR {
	return &OCR{
		titleURL: cfg.OCRURL + "/ocr/title",
		linesURL: cfg.OCRURL + "/ocr/lines",
		timeout:  time.Duration(cfg.TimeoutSeconds) * time.Second,
		client:   newSidecarClient(),
	}
}

type titleResponse struct {
	Text string  `json:"text"`
	Conf float64 `json:"conf"`
}

// OCRTitle reads the cropped title region.
func (o *OCR) OCRTitle(ctx context.Context, img image.Image) (string, float64, error) {
	var resp titleResponse
	if err := postJPEG(ctx, o.client, o.titleURL, img, o.timeout, &resp); err != nil {
		return "", 0, err
	}
	return resp.Text, resp.Conf, nil
}

type linesResponse struct {
	Lines []scan.Line `json:"lines"`
}

// OCRLines reads every text line on the full frame.
func (o *OCR) OCRLines(ctx context.Context, img image.Image) ([]scan.Line, error) {
	var resp linesResponse
	if err := postJPEG(ctx, o.client, o.linesURL, img, o.timeout, &resp); err != nil {
		return nil, err
	}
	return resp.Lines, nil
}
