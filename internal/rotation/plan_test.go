package rotation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gameforge/gfops/internal/rotation/state"
)

func testPlanner(t *testing.T) (*Planner, state.Store) {
	t.Helper()
	store := state.NewFileStore(t.TempDir())
	freqs := FrequenciesFromConfig(nil)
	critical := CriticalFromConfig(nil)
	return NewPlanner(store, "production", freqs, critical), store
}

func TestPlannerNeverRotated(t *testing.T) {
	t.Parallel()

	planner, _ := testPlanner(t)
	plans, err := planner.Plan(time.Now())
	require.NoError(t, err)
	require.Len(t, plans, 5)

	for _, plan := range plans {
		assert.True(t, plan.NeverRotated, "%s should be never rotated", plan.Type)
		assert.True(t, plan.Due, "%s should be immediately due", plan.Type)
		assert.True(t, plan.NextDue.IsZero())
	}
}

func TestPlannerCanonicalOrder(t *testing.T) {
	t.Parallel()

	planner, _ := testPlanner(t)
	plans, err := planner.Plan(time.Now())
	require.NoError(t, err)

	got := make([]SecretType, len(plans))
	for i, plan := range plans {
		got[i] = plan.Type
	}
	assert.Equal(t, []SecretType{TypeRoot, TypeDatabase, TypeTLS, TypeApplication, TypeInternal}, got)
}

func TestPlannerDueness(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name         string
		lastRotation time.Time
		nextDue      time.Time
		wantDue      bool
	}{
		{
			name:         "overdue",
			lastRotation: now.Add(-50 * 24 * time.Hour),
			nextDue:      now.Add(-5 * 24 * time.Hour),
			wantDue:      true,
		},
		{
			name:         "not yet due",
			lastRotation: now.Add(-10 * 24 * time.Hour),
			nextDue:      now.Add(35 * 24 * time.Hour),
			wantDue:      false,
		},
		{
			name:         "exactly at the boundary is not due",
			lastRotation: now.Add(-45 * 24 * time.Hour),
			nextDue:      now,
			wantDue:      false,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			planner, store := testPlanner(t)
			require.NoError(t, store.SaveRecord(&state.Record{
				Timestamp:   tt.lastRotation,
				Type:        "application",
				Environment: "production",
				Success:     true,
				NextDue:     tt.nextDue,
			}))

			plan, err := planner.PlanType(now, TypeApplication)
			require.NoError(t, err)
			assert.False(t, plan.NeverRotated)
			assert.Equal(t, tt.wantDue, plan.Due)
		})
	}
}

func TestPlannerDaysUntilDue(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	planner, store := testPlanner(t)

	require.NoError(t, store.SaveRecord(&state.Record{
		Timestamp:   now.Add(-35 * 24 * time.Hour),
		Type:        "application",
		Environment: "production",
		Success:     true,
		NextDue:     now.Add(10 * 24 * time.Hour),
	}))

	plan, err := planner.PlanType(now, TypeApplication)
	require.NoError(t, err)
	assert.Equal(t, 10, plan.DaysUntilDue)

	require.NoError(t, store.SaveRecord(&state.Record{
		Timestamp:   now.Add(-93 * 24 * time.Hour),
		Type:        "root",
		Environment: "production",
		Success:     true,
		NextDue:     now.Add(-3 * 24 * time.Hour),
	}))

	plan, err = planner.PlanType(now, TypeRoot)
	require.NoError(t, err)
	assert.True(t, plan.Due)
	assert.Equal(t, -3, plan.DaysUntilDue)
}

func TestFrequenciesFromConfig(t *testing.T) {
	t.Parallel()

	t.Run("defaults", func(t *testing.T) {
		t.Parallel()
		freqs := FrequenciesFromConfig(nil)
		assert.Equal(t, 90*24*time.Hour, freqs.For(TypeRoot))
		assert.Equal(t, 45*24*time.Hour, freqs.For(TypeApplication))
		assert.Equal(t, 60*24*time.Hour, freqs.For(TypeTLS))
		assert.Equal(t, 24*time.Hour, freqs.For(TypeInternal))
		assert.Equal(t, 90*24*time.Hour, freqs.For(TypeDatabase))
	})

	t.Run("overrides apply per type", func(t *testing.T) {
		t.Parallel()
		freqs := FrequenciesFromConfig(map[string]int{"application": 30})
		assert.Equal(t, 30*24*time.Hour, freqs.For(TypeApplication))
		assert.Equal(t, 90*24*time.Hour, freqs.For(TypeRoot))
	})

	t.Run("non-positive overrides are ignored", func(t *testing.T) {
		t.Parallel()
		freqs := FrequenciesFromConfig(map[string]int{"application": 0})
		assert.Equal(t, 45*24*time.Hour, freqs.For(TypeApplication))
	})
}

func TestParseType(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"root", "application", "tls", "internal", "database"} {
		parsed, err := ParseType(name)
		require.NoError(t, err)
		assert.Equal(t, SecretType(name), parsed)
	}

	parsed, err := ParseType("  TLS ")
	require.NoError(t, err)
	assert.Equal(t, TypeTLS, parsed)

	_, err = ParseType("ssh")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "root, database, tls, application, internal")
}
