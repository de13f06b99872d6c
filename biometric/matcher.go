package biometric

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/warp/attendance-engine/core"
)

// Match is the identity selected for a probe vector.
type Match struct {
	EmployeeID core.EntityID `json:"employee_id"`
	Name       string        `json:"name"`
	Distance   float64       `json:"distance"`
	// Confidence is 1 - distance clamped to [0, 1]. Display only.
	Confidence float64 `json:"confidence"`
}

type enrollment struct {
	id     core.EntityID
	name   string
	vector []float64
}

// Matcher performs nearest-neighbour search over the enrolled vectors of
// active employees. The registry is loaded lazily, cached, and dropped on
// every enrollment change.
type Matcher struct {
	store     core.EmployeeStore
	tolerance float64
	dim       int
	logger    logrus.FieldLogger

	mu       sync.RWMutex
	registry []enrollment
	loaded   bool
}

type MatcherOption func(*Matcher)

func WithTolerance(t float64) MatcherOption                { return func(m *Matcher) { m.tolerance = t } }
func WithDimension(d int) MatcherOption                    { return func(m *Matcher) { m.dim = d } }
func WithMatcherLogger(l logrus.FieldLogger) MatcherOption { return func(m *Matcher) { m.logger = l } }

func NewMatcher(store core.EmployeeStore, opts ...MatcherOption) *Matcher {
	m := &Matcher{
		store:     store,
		tolerance: DefaultTolerance,
		dim:       core.DefaultVectorDimension,
		logger:    logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Dimension is the vector length the matcher accepts.
func (m *Matcher) Dimension() int { return m.dim }

// Enroll validates and stores a vector for an existing employee.
func (m *Matcher) Enroll(ctx context.Context, id core.EntityID, vector []float64) error {
	if err := Validate(vector, m.dim); err != nil {
		return err
	}
	emp, err := m.store.GetEmployee(ctx, id)
	if err != nil {
		return err
	}
	if emp == nil {
		return core.ErrEmployeeNotFound
	}
	emp.FaceVector = append([]float64(nil), vector...)
	if err := m.store.SaveEmployee(ctx, *emp); err != nil {
		return fmt.Errorf("failed to enroll %s: %w", id, err)
	}
	m.Invalidate()
	return nil
}

// Unenroll removes an employee's vector.
func (m *Matcher) Unenroll(ctx context.Context, id core.EntityID) error {
	emp, err := m.store.GetEmployee(ctx, id)
	if err != nil {
		return err
	}
	if emp == nil {
		return core.ErrEmployeeNotFound
	}
	emp.FaceVector = nil
	if err := m.store.SaveEmployee(ctx, *emp); err != nil {
		return err
	}
	m.Invalidate()
	return nil
}

// Invalidate drops the cached registry. Call it after any change to
// employees made outside Enroll (activation, deletion).
func (m *Matcher) Invalidate() {
	m.mu.Lock()
	m.registry = nil
	m.loaded = false
	m.mu.Unlock()
}

// Match returns the closest enrolled identity strictly within tolerance.
func (m *Matcher) Match(ctx context.Context, probe []float64) (*Match, error) {
	if err := Validate(probe, m.dim); err != nil {
		return nil, err
	}
	registry, err := m.load(ctx)
	if err != nil {
		return nil, err
	}
	if len(registry) == 0 {
		return nil, core.ErrNoEnrollments
	}

	var best *enrollment
	bestDist := m.tolerance
	for i := range registry {
		d := Distance(probe, registry[i].vector)
		if d < bestDist {
			best = &registry[i]
			bestDist = d
		}
	}
	if best == nil {
		return nil, core.ErrNotRecognized
	}

	conf := 1 - bestDist
	if conf < 0 {
		conf = 0
	} else if conf > 1 {
		conf = 1
	}
	return &Match{EmployeeID: best.id, Name: best.name, Distance: bestDist, Confidence: conf}, nil
}

func (m *Matcher) load(ctx context.Context) ([]enrollment, error) {
	m.mu.RLock()
	if m.loaded {
		reg := m.registry
		m.mu.RUnlock()
		return reg, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loaded {
		return m.registry, nil
	}

	employees, err := m.store.ListEmployees(ctx, core.EmployeeFilter{ActiveOnly: true})
	if err != nil {
		return nil, fmt.Errorf("failed to load face registry: %w", err)
	}
	registry := make([]enrollment, 0, len(employees))
	for _, e := range employees {
		if e.FaceVector == nil {
			continue
		}
		if !e.HasFaceVector(m.dim) {
			m.logger.WithFields(logrus.Fields{
				"module":      "biometric",
				"employee_id": e.ID,
				"dimension":   len(e.FaceVector),
			}).Warn("skipping enrolled vector with invalid dimension")
			continue
		}
		registry = append(registry, enrollment{id: e.ID, name: e.Name, vector: e.FaceVector})
	}
	m.registry = registry
	m.loaded = true
	return registry, nil
}
