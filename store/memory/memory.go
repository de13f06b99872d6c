// Package memory provides an in-memory core.TxStore for tests and
// single-process development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/attendance-engine/core"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu   sync.RWMutex
	data *data
}

var _ core.TxStore = (*Memory)(nil)

func New() *Memory {
	return &Memory{data: newData()}
}

// WithTx runs fn against a private copy of the data and publishes the copy
// only when fn succeeds. Transactions are serialised.
func (m *Memory) WithTx(ctx context.Context, fn func(s core.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	work := m.data.clone()
	if err := fn(work); err != nil {
		return err
	}
	m.data = work
	return nil
}

// Employees

func (m *Memory) SaveEmployee(ctx context.Context, e core.Employee) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.SaveEmployee(ctx, e)
}

func (m *Memory) GetEmployee(ctx context.Context, id core.EntityID) (*core.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.GetEmployee(ctx, id)
}

func (m *Memory) ListEmployees(ctx context.Context, f core.EmployeeFilter) ([]core.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.ListEmployees(ctx, f)
}

func (m *Memory) DeleteEmployee(ctx context.Context, id core.EntityID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.DeleteEmployee(ctx, id)
}

// Policies

func (m *Memory) SavePolicy(ctx context.Context, p core.ShiftPolicy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.SavePolicy(ctx, p)
}

func (m *Memory) GetPolicy(ctx context.Context, id core.PolicyID) (*core.ShiftPolicy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.GetPolicy(ctx, id)
}

func (m *Memory) ListPolicies(ctx context.Context) ([]core.ShiftPolicy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.ListPolicies(ctx)
}

func (m *Memory) DeletePolicy(ctx context.Context, id core.PolicyID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.DeletePolicy(ctx, id)
}

func (m *Memory) ActivePolicy(ctx context.Context) (*core.ShiftPolicy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.ActivePolicy(ctx)
}

func (m *Memory) ClearActivePolicies(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.ClearActivePolicies(ctx)
}

// Records

func (m *Memory) GetRecord(ctx context.Context, id core.EntityID, d core.Date) (*core.AttendanceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.GetRecord(ctx, id, d)
}

func (m *Memory) GetRecordByID(ctx context.Context, id core.RecordID) (*core.AttendanceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.GetRecordByID(ctx, id)
}

func (m *Memory) InsertRecord(ctx context.Context, r core.AttendanceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.InsertRecord(ctx, r)
}

func (m *Memory) UpdateRecord(ctx context.Context, r core.AttendanceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.UpdateRecord(ctx, r)
}

func (m *Memory) DeleteRecord(ctx context.Context, id core.RecordID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.DeleteRecord(ctx, id)
}

func (m *Memory) ListRecords(ctx context.Context, f core.RecordFilter) ([]core.AttendanceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.ListRecords(ctx, f)
}

// Adjustments

func (m *Memory) GetAdjustment(ctx context.Context, key core.AdjustmentKey) (*core.SalaryAdjustment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.GetAdjustment(ctx, key)
}

func (m *Memory) InsertAdjustment(ctx context.Context, a core.SalaryAdjustment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.InsertAdjustment(ctx, a)
}

func (m *Memory) UpdateAdjustment(ctx context.Context, a core.SalaryAdjustment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.UpdateAdjustment(ctx, a)
}

func (m *Memory) DeleteAdjustment(ctx context.Context, id core.AdjustmentID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.DeleteAdjustment(ctx, id)
}

func (m *Memory) ListAdjustments(ctx context.Context, f core.AdjustmentFilter) ([]core.SalaryAdjustment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.ListAdjustments(ctx, f)
}

// Holidays

func (m *Memory) SaveHoliday(ctx context.Context, h core.Holiday) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.SaveHoliday(ctx, h)
}

func (m *Memory) GetHoliday(ctx context.Context, id core.HolidayID) (*core.Holiday, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.GetHoliday(ctx, id)
}

func (m *Memory) ListHolidays(ctx context.Context) ([]core.Holiday, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.ListHolidays(ctx)
}

func (m *Memory) DeleteHoliday(ctx context.Context, id core.HolidayID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.DeleteHoliday(ctx, id)
}

// =============================================================================
// DATA - Unlocked state shared by Memory and its transactions
// =============================================================================

type dayKey struct {
	employee core.EntityID
	date     string
}

type data struct {
	employees   map[core.EntityID]core.Employee
	policies    map[core.PolicyID]core.ShiftPolicy
	records     map[core.RecordID]core.AttendanceRecord
	recordIdx   map[dayKey]core.RecordID
	adjustments map[core.AdjustmentID]core.SalaryAdjustment
	adjIdx      map[adjKey]core.AdjustmentID
	holidays    map[core.HolidayID]core.Holiday
}

type adjKey struct {
	employee core.EntityID
	month    string
	reason   string
	kind     core.AdjustmentKind
}

func toAdjKey(k core.AdjustmentKey) adjKey {
	return adjKey{employee: k.EmployeeID, month: k.Month.String(), reason: k.Reason, kind: k.Kind}
}

func newData() *data {
	return &data{
		employees:   make(map[core.EntityID]core.Employee),
		policies:    make(map[core.PolicyID]core.ShiftPolicy),
		records:     make(map[core.RecordID]core.AttendanceRecord),
		recordIdx:   make(map[dayKey]core.RecordID),
		adjustments: make(map[core.AdjustmentID]core.SalaryAdjustment),
		adjIdx:      make(map[adjKey]core.AdjustmentID),
		holidays:    make(map[core.HolidayID]core.Holiday),
	}
}

func (d *data) clone() *data {
	c := newData()
	for k, v := range d.employees {
		c.employees[k] = cloneEmployee(v)
	}
	for k, v := range d.policies {
		c.policies[k] = v
	}
	for k, v := range d.records {
		c.records[k] = v.Clone()
	}
	for k, v := range d.recordIdx {
		c.recordIdx[k] = v
	}
	for k, v := range d.adjustments {
		c.adjustments[k] = v
	}
	for k, v := range d.adjIdx {
		c.adjIdx[k] = v
	}
	for k, v := range d.holidays {
		c.holidays[k] = cloneHoliday(v)
	}
	return c
}

func cloneEmployee(e core.Employee) core.Employee {
	if e.FaceVector != nil {
		e.FaceVector = append([]float64(nil), e.FaceVector...)
	}
	if e.InactiveSince != nil {
		d := *e.InactiveSince
		e.InactiveSince = &d
	}
	if e.HireDate != nil {
		d := *e.HireDate
		e.HireDate = &d
	}
	return e
}

func cloneHoliday(h core.Holiday) core.Holiday {
	if h.EmployeeIDs != nil {
		h.EmployeeIDs = append([]core.EntityID(nil), h.EmployeeIDs...)
	}
	return h
}

func (d *data) WithTx(ctx context.Context, fn func(s core.Store) error) error {
	// Nested transactions join the outer one.
	return fn(d)
}

func (d *data) SaveEmployee(_ context.Context, e core.Employee) error {
	now := time.Now().UTC()
	if existing, ok := d.employees[e.ID]; ok {
		e.CreatedAt = existing.CreatedAt
	} else if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
	d.employees[e.ID] = cloneEmployee(e)
	return nil
}

func (d *data) GetEmployee(_ context.Context, id core.EntityID) (*core.Employee, error) {
	e, ok := d.employees[id]
	if !ok {
		return nil, nil
	}
	e = cloneEmployee(e)
	return &e, nil
}

func (d *data) ListEmployees(_ context.Context, f core.EmployeeFilter) ([]core.Employee, error) {
	var out []core.Employee
	for _, e := range d.employees {
		if f.Matches(e) {
			out = append(out, cloneEmployee(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (d *data) DeleteEmployee(_ context.Context, id core.EntityID) error {
	if _, ok := d.employees[id]; !ok {
		return core.ErrEmployeeNotFound
	}
	delete(d.employees, id)
	// Cascade like the SQL schema does.
	for rid, r := range d.records {
		if r.EmployeeID == id {
			delete(d.records, rid)
			delete(d.recordIdx, dayKey{employee: id, date: r.Date.String()})
		}
	}
	for aid, a := range d.adjustments {
		if a.EmployeeID == id {
			delete(d.adjustments, aid)
			delete(d.adjIdx, toAdjKey(a.Key()))
		}
	}
	return nil
}

func (d *data) SavePolicy(_ context.Context, p core.ShiftPolicy) error {
	if p.Active {
		for id, other := range d.policies {
			if id != p.ID && other.Active {
				return &core.ConstraintViolationError{Constraint: "single_active_policy"}
			}
		}
	}
	now := time.Now().UTC()
	if existing, ok := d.policies[p.ID]; ok {
		p.CreatedAt = existing.CreatedAt
	} else if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	d.policies[p.ID] = p
	return nil
}

func (d *data) GetPolicy(_ context.Context, id core.PolicyID) (*core.ShiftPolicy, error) {
	p, ok := d.policies[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (d *data) ListPolicies(_ context.Context) ([]core.ShiftPolicy, error) {
	out := make([]core.ShiftPolicy, 0, len(d.policies))
	for _, p := range d.policies {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (d *data) DeletePolicy(_ context.Context, id core.PolicyID) error {
	if _, ok := d.policies[id]; !ok {
		return core.ErrPolicyNotFound
	}
	delete(d.policies, id)
	return nil
}

func (d *data) ActivePolicy(_ context.Context) (*core.ShiftPolicy, error) {
	for _, p := range d.policies {
		if p.Active {
			p := p
			return &p, nil
		}
	}
	return nil, nil
}

func (d *data) ClearActivePolicies(_ context.Context) error {
	for id, p := range d.policies {
		if p.Active {
			p.Active = false
			d.policies[id] = p
		}
	}
	return nil
}

func (d *data) GetRecord(_ context.Context, id core.EntityID, date core.Date) (*core.AttendanceRecord, error) {
	rid, ok := d.recordIdx[dayKey{employee: id, date: date.String()}]
	if !ok {
		return nil, nil
	}
	r := d.records[rid].Clone()
	return &r, nil
}

func (d *data) GetRecordByID(_ context.Context, id core.RecordID) (*core.AttendanceRecord, error) {
	r, ok := d.records[id]
	if !ok {
		return nil, nil
	}
	r = r.Clone()
	return &r, nil
}

func (d *data) InsertRecord(_ context.Context, r core.AttendanceRecord) error {
	k := dayKey{employee: r.EmployeeID, date: r.Date.String()}
	if _, exists := d.recordIdx[k]; exists {
		return &core.ConstraintViolationError{Constraint: "attendance_records(employee_id, date)"}
	}
	if _, exists := d.records[r.ID]; exists {
		return &core.ConstraintViolationError{Constraint: "attendance_records(id)"}
	}
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	d.records[r.ID] = r.Clone()
	d.recordIdx[k] = r.ID
	return nil
}

func (d *data) UpdateRecord(_ context.Context, r core.AttendanceRecord) error {
	existing, ok := d.records[r.ID]
	if !ok {
		return core.ErrRecordNotFound
	}
	if existing.EmployeeID != r.EmployeeID || !existing.Date.Equal(r.Date) {
		k := dayKey{employee: r.EmployeeID, date: r.Date.String()}
		if _, clash := d.recordIdx[k]; clash {
			return &core.ConstraintViolationError{Constraint: "attendance_records(employee_id, date)"}
		}
		delete(d.recordIdx, dayKey{employee: existing.EmployeeID, date: existing.Date.String()})
		d.recordIdx[k] = r.ID
	}
	r.CreatedAt = existing.CreatedAt
	r.UpdatedAt = time.Now().UTC()
	d.records[r.ID] = r.Clone()
	return nil
}

func (d *data) DeleteRecord(_ context.Context, id core.RecordID) error {
	r, ok := d.records[id]
	if !ok {
		return core.ErrRecordNotFound
	}
	delete(d.records, id)
	delete(d.recordIdx, dayKey{employee: r.EmployeeID, date: r.Date.String()})
	return nil
}

func (d *data) ListRecords(_ context.Context, f core.RecordFilter) ([]core.AttendanceRecord, error) {
	var out []core.AttendanceRecord
	for _, r := range d.records {
		if f.Matches(r) {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].EmployeeID < out[j].EmployeeID
	})
	return out, nil
}

func (d *data) GetAdjustment(_ context.Context, key core.AdjustmentKey) (*core.SalaryAdjustment, error) {
	id, ok := d.adjIdx[toAdjKey(key)]
	if !ok {
		return nil, nil
	}
	a := d.adjustments[id]
	return &a, nil
}

func (d *data) InsertAdjustment(_ context.Context, a core.SalaryAdjustment) error {
	k := toAdjKey(a.Key())
	if _, exists := d.adjIdx[k]; exists {
		return &core.ConstraintViolationError{Constraint: "salary_adjustments(employee_id, month, reason, kind)"}
	}
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	d.adjustments[a.ID] = a
	d.adjIdx[k] = a.ID
	return nil
}

func (d *data) UpdateAdjustment(_ context.Context, a core.SalaryAdjustment) error {
	existing, ok := d.adjustments[a.ID]
	if !ok {
		return core.ErrAdjustmentNotFound
	}
	if existing.Key() != a.Key() {
		k := toAdjKey(a.Key())
		if _, clash := d.adjIdx[k]; clash {
			return &core.ConstraintViolationError{Constraint: "salary_adjustments(employee_id, month, reason, kind)"}
		}
		delete(d.adjIdx, toAdjKey(existing.Key()))
		d.adjIdx[k] = a.ID
	}
	a.CreatedAt = existing.CreatedAt
	a.UpdatedAt = time.Now().UTC()
	d.adjustments[a.ID] = a
	return nil
}

func (d *data) DeleteAdjustment(_ context.Context, id core.AdjustmentID) error {
	a, ok := d.adjustments[id]
	if !ok {
		return core.ErrAdjustmentNotFound
	}
	delete(d.adjustments, id)
	delete(d.adjIdx, toAdjKey(a.Key()))
	return nil
}

func (d *data) ListAdjustments(_ context.Context, f core.AdjustmentFilter) ([]core.SalaryAdjustment, error) {
	var out []core.SalaryAdjustment
	for _, a := range d.adjustments {
		if f.Matches(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Month.Equal(out[j].Month) {
			return out[i].Month.Before(out[j].Month)
		}
		if out[i].EmployeeID != out[j].EmployeeID {
			return out[i].EmployeeID < out[j].EmployeeID
		}
		return out[i].Reason < out[j].Reason
	})
	return out, nil
}

func (d *data) SaveHoliday(_ context.Context, h core.Holiday) error {
	now := time.Now().UTC()
	if existing, ok := d.holidays[h.ID]; ok {
		h.CreatedAt = existing.CreatedAt
	} else if h.CreatedAt.IsZero() {
		h.CreatedAt = now
	}
	h.UpdatedAt = now
	d.holidays[h.ID] = cloneHoliday(h)
	return nil
}

func (d *data) GetHoliday(_ context.Context, id core.HolidayID) (*core.Holiday, error) {
	h, ok := d.holidays[id]
	if !ok {
		return nil, nil
	}
	h = cloneHoliday(h)
	return &h, nil
}

func (d *data) ListHolidays(_ context.Context) ([]core.Holiday, error) {
	out := make([]core.Holiday, 0, len(d.holidays))
	for _, h := range d.holidays {
		out = append(out, cloneHoliday(h))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (d *data) DeleteHoliday(_ context.Context, id core.HolidayID) error {
	if _, ok := d.holidays[id]; !ok {
		return core.ErrHolidayNotFound
	}
	delete(d.holidays, id)
	return nil
}
