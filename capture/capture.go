/*
Package capture turns an uploaded face image into an attendance event.

PIPELINE:
  1. Decode and normalise the image (imaging)
  2. Encode faces via the external encoder; first face wins
  3. Match against enrolled vectors
  4. Apply the event to the ledger (IN / OUT / cooldown / already complete)
  5. Archive the image to blob storage; failures are logged and counted
     but never change the outcome

SEE ALSO:
  - biometric/matcher.go
  - attendance/ledger.go
  - api/handlers.go: POST /api/face-attendance
*/
package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/biometric"
	"github.com/warp/attendance-engine/blob"
	"github.com/warp/attendance-engine/core"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Outcome values reported as check_type.
const (
	OutcomeIn       = "IN"
	OutcomeOut      = "OUT"
	OutcomeCooldown = "cooldown"
	OutcomeComplete = "NONE"
)

type Request struct {
	Image    io.Reader
	DeviceID string
	// At overrides the capture instant; zero means now.
	At time.Time
}

type Result struct {
	CheckType        string
	EmployeeID       core.EntityID
	EmployeeName     string
	Message          string
	MinutesRemaining int
	Match            *biometric.Match
	Record           *core.AttendanceRecord
	ImageKey         string
}

type Service struct {
	encoder biometric.Encoder
	matcher *biometric.Matcher
	ledger  *attendance.Ledger
	blobs   blob.Store
	logger  logrus.FieldLogger
	tracer  trace.Tracer
	now     func() time.Time

	blobFailures atomic.Int64
}

func NewService(enc biometric.Encoder, m *biometric.Matcher, l *attendance.Ledger, blobs blob.Store, logger logrus.FieldLogger) *Service {
	if blobs == nil {
		blobs = blob.Discard{}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Service{
		encoder: enc,
		matcher: m,
		ledger:  l,
		blobs:   blobs,
		logger:  logger,
		tracer:  otel.Tracer("github.com/warp/attendance-engine/capture"),
		now:     time.Now,
	}
}

// BlobFailures reports how many image archives have failed since start.
func (s *Service) BlobFailures() int64 { return s.blobFailures.Load() }

// Process runs the full pipeline. Cooldown and already-complete are
// reported in the Result, not as errors. Recognition failures return
// ErrNoFaceDetected, ErrNoEnrollments or ErrNotRecognized.
func (s *Service) Process(ctx context.Context, req Request) (res *Result, err error) {
	ctx, span := s.tracer.Start(ctx, "capture.Process")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	at := req.At
	if at.IsZero() {
		at = s.now()
	}

	img, err := biometric.DecodeImage(req.Image)
	if err != nil {
		return nil, err
	}
	vec, err := biometric.FirstFace(ctx, s.encoder, img)
	if err != nil {
		return nil, err
	}
	match, err := s.matcher.Match(ctx, vec)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String("employee_id", string(match.EmployeeID)),
		attribute.Float64("distance", match.Distance),
	)

	res = &Result{EmployeeID: match.EmployeeID, EmployeeName: match.Name, Match: match}
	ev, err := s.ledger.RecordEvent(ctx, match.EmployeeID, at, req.DeviceID)

	var cooldown *core.CooldownError
	switch {
	case errors.As(err, &cooldown):
		res.CheckType = OutcomeCooldown
		res.MinutesRemaining = cooldown.MinutesRemaining()
		res.Message = fmt.Sprintf("%s, please wait %d minute(s) before checking out.", match.Name, res.MinutesRemaining)
		return res, nil
	case errors.Is(err, core.ErrAlreadyComplete):
		res.CheckType = OutcomeComplete
		res.Message = fmt.Sprintf("Attendance already completed today for %s.", match.Name)
		return res, nil
	case err != nil:
		return nil, err
	}

	res.CheckType = string(ev.CheckType)
	res.Record = &ev.Record
	kind := blob.KindCheckIn
	if ev.CheckType == attendance.CheckOut {
		res.Message = fmt.Sprintf("Goodbye %s", match.Name)
		kind = blob.KindCheckOut
	} else {
		res.Message = fmt.Sprintf("Welcome %s", match.Name)
	}

	res.ImageKey = s.archive(ctx, img, match.EmployeeID, kind, at)
	return res, nil
}

func (s *Service) archive(ctx context.Context, img image.Image, id core.EntityID, kind blob.Kind, at time.Time) string {
	key := blob.Key(id, kind, at, s.ledger.Location())
	data, err := biometric.EncodeJPEG(img)
	if err == nil {
		err = s.blobs.Put(ctx, key, data, "image/jpeg")
	}
	if err != nil {
		n := s.blobFailures.Add(1)
		s.logger.WithFields(logrus.Fields{
			"module":      "capture",
			"employee_id": id,
			"key":         key,
			"failures":    n,
		}).WithError(err).Error("failed to archive capture image")
		return ""
	}
	return key
}
