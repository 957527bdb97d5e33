package rotation

import (
	"errors"
	"fmt"
	"time"

	"github.com/gameforge/gfops/internal/rotation/state"
)

// TypePlan is the dueness verdict for one secret type.
type TypePlan struct {
	Type      SecretType
	Critical  bool
	Frequency time.Duration

	// NeverRotated is true when no state record exists yet.
	NeverRotated bool

	// LastRotation is the time of the last attempt; zero when never
	// rotated. LastSuccess says whether that attempt succeeded.
	LastRotation time.Time
	LastSuccess  bool

	// NextDue is when the type comes due. Zero when never rotated
	// (immediately due).
	NextDue time.Time

	// Due means now is strictly past NextDue, or the type has never
	// been rotated.
	Due bool

	// DaysUntilDue counts whole days until NextDue, negative once
	// overdue by a full day. Zero when never rotated.
	DaysUntilDue int

	// Record is the raw status record, nil when never rotated.
	Record *state.Record
}

// Planner computes dueness from the state store.
type Planner struct {
	store    state.Store
	env      string
	freqs    Frequencies
	critical CriticalSet
}

// NewPlanner creates a planner for one environment.
func NewPlanner(store state.Store, env string, freqs Frequencies, critical CriticalSet) *Planner {
	return &Planner{store: store, env: env, freqs: freqs, critical: critical}
}

// Plan evaluates every secret type in canonical order.
func (p *Planner) Plan(now time.Time) ([]TypePlan, error) {
	plans := make([]TypePlan, 0, len(CanonicalOrder))
	for _, t := range CanonicalOrder {
		plan, err := p.PlanType(now, t)
		if err != nil {
			return nil, err
		}
		plans = append(plans, plan)
	}
	return plans, nil
}

// PlanType evaluates one secret type.
func (p *Planner) PlanType(now time.Time, t SecretType) (TypePlan, error) {
	plan := TypePlan{
		Type:      t,
		Critical:  p.critical.Contains(t),
		Frequency: p.freqs.For(t),
	}

	record, err := p.store.GetRecord(p.env, string(t))
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			plan.NeverRotated = true
			plan.Due = true
			return plan, nil
		}
		return TypePlan{}, fmt.Errorf("failed to load state for %s: %w", t, err)
	}

	plan.Record = record
	plan.LastRotation = record.Timestamp
	plan.LastSuccess = record.Success
	plan.NextDue = record.NextDue
	plan.Due = now.After(record.NextDue)
	if !plan.Due {
		plan.DaysUntilDue = int(record.NextDue.Sub(now).Hours() / 24)
	} else {
		plan.DaysUntilDue = -int(now.Sub(record.NextDue).Hours() / 24)
	}
	return plan, nil
}
