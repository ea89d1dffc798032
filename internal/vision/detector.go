// Package vision adapts the detector and OCR inference sidecars to the scan
// pipeline's ports. Both sidecars take a JPEG body and answer JSON; all
// deadlines come from the request context.
package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"net/http"
	"time"

	"github.com/medverify/medverify/internal/config"
	verrors "github.com/medverify/medverify/internal/errors"
	"github.com/medverify/medverify/internal/scan"
)

func newSidecarClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// postJPEG sends img to url and decodes the JSON response into out.
func postJPEG(ctx context.Context, client *http.Client, url string, img image.Image, timeout time.Duration, out any) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	payload, err := scan.EncodeJPEG(img, 90)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return verrors.New(verrors.ErrCodeInvalidInput, "build inference request", err)
	}
	req.Header.Set("Content-Type", "image/jpeg")

	resp, err := client.Do(req)
	if err != nil {
		return verrors.New(verrors.ErrCodeNetworkUnavailable, "inference sidecar unreachable", err).
			WithDetail("url", url)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return verrors.New(verrors.ErrCodeNetworkUnavailable, "read inference response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return verrors.New(verrors.ErrCodeInference,
			fmt.Sprintf("inference sidecar returned %d", resp.StatusCode), nil).
			WithDetail("url", url).
			WithDetail("body", truncateBody(body))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return verrors.New(verrors.ErrCodeInference, "decode inference response", err)
	}
	return nil
}

func truncateBody(b []byte) string {
	const max = 256
	if len(b) > max {
		b = b[:max]
	}
	return string(b)
}

// Detector calls the object-detection sidecar.
type Detector struct {
	url       string
	imageSize int
	timeout   time.Duration
	client    *http.Client
}

var _ scan.Detector = (*Detector)(nil)

// NewDetector builds the adapter from the vision config.
func NewDetector(cfg config.VisionConfig) *Detector {
	size := cfg.ImageSize
	if size <= 0 {
		size = 640
	}
	return &Detector{
		url:       cfg.DetectorURL + "/detect",
		imageSize: size,
		timeout:   time.Duration(cfg.TimeoutSeconds) * time.Second,
		client:    newSidecarClient(),
	}
}

type detectResponse struct {
	Boxes []scan.Box `json:"boxes"`
}

// Detect runs one inference pass. The frame is downscaled to the model's
// input size before upload; boxes come back in the downscaled coordinate
// space and are rescaled to the original frame.
func (d *Detector) Detect(ctx context.Context, img image.Image) ([]scan.Box, error) {
	small := scan.Downscale(img, d.imageSize)

	var resp detectResponse
	if err := postJPEG(ctx, d.client, d.url, small, d.timeout, &resp); err != nil {
		return nil, err
	}

	if sb, ob := small.Bounds(), img.Bounds(); sb.Dx() != ob.Dx() {
		scale := float64(ob.Dx()) / float64(sb.Dx())
		for i := range resp.Boxes {
			resp.Boxes[i].X1 = int(float64(resp.Boxes[i].X1) * scale)
			resp.Boxes[i].Y1 = int(float64(resp.Boxes[i].Y1) * scale)
			resp.Boxes[i].X2 = int(float64(resp.Boxes[i].X2) * scale)
			resp.Boxes[i].Y2 = int(float64(resp.Boxes[i].Y2) * scale)
		}
	}
	return resp.Boxes, nil
}
