package biometric_test

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/attendance-engine/biometric"
	"github.com/warp/attendance-engine/core"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type stubEncoder struct {
	faces [][]float64
	err   error
}

func (s stubEncoder) Encode(context.Context, image.Image) ([][]float64, error) {
	return s.faces, s.err
}

func TestDecodeImage(t *testing.T) {
	img, err := biometric.DecodeImage(bytes.NewReader(pngBytes(t, 40, 20)))
	require.NoError(t, err)
	assert.Equal(t, 40, img.Bounds().Dx())
	assert.Equal(t, 20, img.Bounds().Dy())

	_, err = biometric.DecodeImage(strings.NewReader("not an image"))
	var ve *core.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "image", ve.Field)
}

func TestDecodeImage_ShrinksLargeImages(t *testing.T) {
	img, err := biometric.DecodeImage(bytes.NewReader(pngBytes(t, 2048, 512)))
	require.NoError(t, err)
	assert.Equal(t, biometric.MaxImageSide, img.Bounds().Dx())
	assert.Equal(t, 256, img.Bounds().Dy())
}

func TestFirstFace(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 1, 1))

	_, err := biometric.FirstFace(context.Background(), stubEncoder{}, img)
	assert.ErrorIs(t, err, core.ErrNoFaceDetected)

	v, err := biometric.FirstFace(context.Background(), stubEncoder{faces: [][]float64{{1, 2}, {3, 4}}}, img)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, v)
}

func TestHTTPEncoder(t *testing.T) {
	// GIVEN: An encoder service that checks the upload and returns one face
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "image/jpeg", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		if _, _, err := image.Decode(bytes.NewReader(body)); err != nil {
			http.Error(w, "bad image", http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"encodings": [][]float64{{0.1, 0.2, 0.3}}})
	}))
	defer srv.Close()

	img, err := biometric.DecodeImage(bytes.NewReader(pngBytes(t, 16, 16)))
	require.NoError(t, err)

	// WHEN: Encoding through the service
	faces, err := biometric.NewHTTPEncoder(srv.URL, time.Second).Encode(context.Background(), img)

	// THEN: The vectors are returned as sent
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{0.1, 0.2, 0.3}}, faces)
}

func TestHTTPEncoder_ServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := biometric.NewHTTPEncoder(srv.URL, time.Second).Encode(context.Background(), image.NewRGBA(image.Rect(0, 0, 4, 4)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "model not loaded")
}
