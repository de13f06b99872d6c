package attendance

import (
	"context"
	"fmt"

	"github.com/warp/attendance-engine/core"
)

// PolicySource supplies the currently active shift policy. The ledger
// depends on this rather than on a global lookup.
type PolicySource interface {
	CurrentActive(ctx context.Context) (*core.ShiftPolicy, error)
}

// PolicyRegistry manages shift policies and guarantees that at most one is
// active: activation clears every other flag in the same transaction.
type PolicyRegistry struct {
	store core.TxStore
}

var _ PolicySource = (*PolicyRegistry)(nil)

func NewPolicyRegistry(store core.TxStore) *PolicyRegistry {
	return &PolicyRegistry{store: store}
}

// Save validates and stores a policy. Saving with Active set behaves like
// Activate.
func (r *PolicyRegistry) Save(ctx context.Context, p core.ShiftPolicy) (*core.ShiftPolicy, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	err := r.store.WithTx(ctx, func(s core.Store) error {
		if p.Active {
			if err := s.ClearActivePolicies(ctx); err != nil {
				return err
			}
		}
		return s.SavePolicy(ctx, p)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save shift policy %s: %w", p.ID, err)
	}
	return r.store.GetPolicy(ctx, p.ID)
}

// Activate makes id the single active policy.
func (r *PolicyRegistry) Activate(ctx context.Context, id core.PolicyID) (*core.ShiftPolicy, error) {
	var activated core.ShiftPolicy
	err := r.store.WithTx(ctx, func(s core.Store) error {
		p, err := s.GetPolicy(ctx, id)
		if err != nil {
			return err
		}
		if p == nil {
			return core.ErrPolicyNotFound
		}
		if err := s.ClearActivePolicies(ctx); err != nil {
			return err
		}
		p.Active = true
		activated = *p
		return s.SavePolicy(ctx, *p)
	})
	if err != nil {
		return nil, err
	}
	return &activated, nil
}

// Deactivate clears the active flag of id, leaving no active policy.
func (r *PolicyRegistry) Deactivate(ctx context.Context, id core.PolicyID) error {
	p, err := r.store.GetPolicy(ctx, id)
	if err != nil {
		return err
	}
	if p == nil {
		return core.ErrPolicyNotFound
	}
	if !p.Active {
		return nil
	}
	p.Active = false
	return r.store.SavePolicy(ctx, *p)
}

// CurrentActive returns the active policy or nil.
func (r *PolicyRegistry) CurrentActive(ctx context.Context) (*core.ShiftPolicy, error) {
	return r.store.ActivePolicy(ctx)
}

// EffectiveFor returns the policy that governs a record: its snapshot, or
// the current active policy for records without one.
func (r *PolicyRegistry) EffectiveFor(ctx context.Context, rec *core.AttendanceRecord) (*core.ShiftPolicy, error) {
	if rec != nil && rec.Policy != nil {
		return rec.Policy, nil
	}
	return r.CurrentActive(ctx)
}

func (r *PolicyRegistry) Get(ctx context.Context, id core.PolicyID) (*core.ShiftPolicy, error) {
	p, err := r.store.GetPolicy(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, core.ErrPolicyNotFound
	}
	return p, nil
}

func (r *PolicyRegistry) List(ctx context.Context) ([]core.ShiftPolicy, error) {
	return r.store.ListPolicies(ctx)
}

// Delete removes a policy. Records that froze it keep their snapshot.
func (r *PolicyRegistry) Delete(ctx context.Context, id core.PolicyID) error {
	return r.store.DeletePolicy(ctx, id)
}
