package capture_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/biometric"
	"github.com/warp/attendance-engine/blob"
	"github.com/warp/attendance-engine/capture"
	"github.com/warp/attendance-engine/core"
	"github.com/warp/attendance-engine/store/memory"
)

// =============================================================================
// HELPERS
// =============================================================================

type fixedEncoder struct{ faces [][]float64 }

func (f fixedEncoder) Encode(context.Context, image.Image) ([][]float64, error) {
	return f.faces, nil
}

type brokenBlobs struct{}

func (brokenBlobs) Put(context.Context, string, []byte, string) error { return errors.New("bucket gone") }
func (brokenBlobs) Delete(context.Context, string) error              { return nil }

func photo(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for i := 0; i < 32; i++ {
		img.Set(i, i, color.White)
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type env struct {
	svc *capture.Service
	loc *time.Location
}

func newEnv(t *testing.T, faces [][]float64, blobs blob.Store) env {
	t.Helper()
	ctx := context.Background()
	logger, _ := test.NewNullLogger()
	loc, err := core.LoadLocation(core.DefaultLocationName)
	require.NoError(t, err)

	store := memory.New()
	require.NoError(t, store.SaveEmployee(ctx, core.Employee{
		ID: "e1", Name: "Rahim", Active: true, FaceVector: []float64{0.1, 0.1, 0.1},
	}))
	policies := attendance.NewPolicyRegistry(store)
	_, err = policies.Save(ctx, core.ShiftPolicy{
		ID:           "day",
		Name:         "Day",
		Start:        core.MustParseTimeOfDay("09:00"),
		End:          core.MustParseTimeOfDay("17:00"),
		PresentHours: decimal.NewFromInt(8),
		HalfDayHours: decimal.NewFromInt(4),
		LateTracking: true,
		Active:       true,
	})
	require.NoError(t, err)

	ledger := attendance.NewLedger(store, policies, attendance.WithLocation(loc), attendance.WithLogger(logger))
	matcher := biometric.NewMatcher(store, biometric.WithDimension(3), biometric.WithMatcherLogger(logger))
	svc := capture.NewService(fixedEncoder{faces: faces}, matcher, ledger, blobs, logger)
	return env{svc: svc, loc: loc}
}

func (e env) at(clock string) time.Time {
	return core.MustParseTimeOfDay(clock).On(core.MustParseDate("2025-03-10"), e.loc)
}

// =============================================================================
// PIPELINE
// =============================================================================

func TestProcess_CheckInCooldownCheckOut(t *testing.T) {
	root := t.TempDir()
	e := newEnv(t, [][]float64{{0.1, 0.1, 0.2}}, blob.NewLocal(root))
	ctx := context.Background()

	// WHEN: First capture
	res, err := e.svc.Process(ctx, capture.Request{Image: bytes.NewReader(photo(t)), DeviceID: "kiosk", At: e.at("09:00")})

	// THEN: Welcome, and the image is archived
	require.NoError(t, err)
	assert.Equal(t, capture.OutcomeIn, res.CheckType)
	assert.Equal(t, "Welcome Rahim", res.Message)
	assert.Equal(t, core.EntityID("e1"), res.EmployeeID)
	assert.InDelta(t, 0.1, res.Match.Distance, 1e-9)
	assert.Equal(t, "checkin_images/e1/2025-03-10/in_2025-03-10_090000.jpg", res.ImageKey)
	_, err = os.Stat(filepath.Join(root, filepath.FromSlash(res.ImageKey)))
	assert.NoError(t, err)

	// WHEN: A capture 20 minutes later
	res, err = e.svc.Process(ctx, capture.Request{Image: bytes.NewReader(photo(t)), At: e.at("09:20")})

	// THEN: Cooldown is reported, not returned as an error
	require.NoError(t, err)
	assert.Equal(t, capture.OutcomeCooldown, res.CheckType)
	assert.Equal(t, 40, res.MinutesRemaining)
	assert.Equal(t, "Rahim, please wait 40 minute(s) before checking out.", res.Message)
	assert.Empty(t, res.ImageKey)

	// WHEN: Capture after the cooldown, then once more
	res, err = e.svc.Process(ctx, capture.Request{Image: bytes.NewReader(photo(t)), At: e.at("17:05")})
	require.NoError(t, err)
	assert.Equal(t, capture.OutcomeOut, res.CheckType)
	assert.Equal(t, "Goodbye Rahim", res.Message)
	assert.Equal(t, core.StatusPresent, res.Record.Status)

	res, err = e.svc.Process(ctx, capture.Request{Image: bytes.NewReader(photo(t)), At: e.at("18:00")})
	require.NoError(t, err)
	assert.Equal(t, capture.OutcomeComplete, res.CheckType)
	assert.Equal(t, "Attendance already completed today for Rahim.", res.Message)
}

func TestProcess_RecognitionFailures(t *testing.T) {
	ctx := context.Background()

	noFace := newEnv(t, nil, nil)
	_, err := noFace.svc.Process(ctx, capture.Request{Image: bytes.NewReader(photo(t))})
	assert.ErrorIs(t, err, core.ErrNoFaceDetected)

	stranger := newEnv(t, [][]float64{{0.9, 0.9, 0.9}}, nil)
	_, err = stranger.svc.Process(ctx, capture.Request{Image: bytes.NewReader(photo(t))})
	assert.ErrorIs(t, err, core.ErrNotRecognized)

	_, err = stranger.svc.Process(ctx, capture.Request{Image: bytes.NewReader([]byte("garbage"))})
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestProcess_ArchiveFailureDoesNotFailAttendance(t *testing.T) {
	e := newEnv(t, [][]float64{{0.1, 0.1, 0.1}}, brokenBlobs{})

	res, err := e.svc.Process(context.Background(), capture.Request{Image: bytes.NewReader(photo(t)), At: e.at("09:00")})

	require.NoError(t, err)
	assert.Equal(t, capture.OutcomeIn, res.CheckType)
	assert.Empty(t, res.ImageKey)
	assert.Equal(t, int64(1), e.svc.BlobFailures())
}
