package biometric

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"net/http"
	"time"

	"github.com/disintegration/imaging"
	"github.com/warp/attendance-engine/core"
)

// Encoder turns an image into one face vector per detected face. An empty
// result means no face was found.
type Encoder interface {
	Encode(ctx context.Context, img image.Image) ([][]float64, error)
}

// MaxImageSide bounds the longest edge of images handed to the encoder.
const MaxImageSide = 1024

// DecodeImage reads an uploaded image, applies EXIF orientation and
// shrinks it to fit MaxImageSide.
func DecodeImage(r io.Reader) (image.Image, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, &core.ValidationError{Field: "image", Message: "could not be read: " + err.Error()}
	}
	b := img.Bounds()
	if b.Dx() > MaxImageSide || b.Dy() > MaxImageSide {
		img = imaging.Fit(img, MaxImageSide, MaxImageSide, imaging.Lanczos)
	}
	return img, nil
}

// EncodeJPEG serialises an image for archiving or transport.
func EncodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(90)); err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// FirstFace runs the encoder and returns the first vector, or
// ErrNoFaceDetected.
func FirstFace(ctx context.Context, enc Encoder, img image.Image) ([]float64, error) {
	faces, err := enc.Encode(ctx, img)
	if err != nil {
		return nil, err
	}
	if len(faces) == 0 {
		return nil, core.ErrNoFaceDetected
	}
	return faces[0], nil
}

// =============================================================================
// HTTP ENCODER - Remote face-encoding service
// =============================================================================

// HTTPEncoder posts a JPEG to a face-encoding service and expects
// {"encodings": [[...], ...]} back.
type HTTPEncoder struct {
	URL    string
	Client *http.Client
}

func NewHTTPEncoder(url string, timeout time.Duration) *HTTPEncoder {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPEncoder{URL: url, Client: &http.Client{Timeout: timeout}}
}

type encodeResponse struct {
	Encodings [][]float64 `json:"encodings"`
}

func (e *HTTPEncoder) Encode(ctx context.Context, img image.Image) ([][]float64, error) {
	body, err := EncodeJPEG(img)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build encoder request: %w", err)
	}
	req.Header.Set("Content-Type", "image/jpeg")

	resp, err := e.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("face encoder unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("face encoder returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	var out encodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode encoder response: %w", err)
	}
	return out.Encodings, nil
}
