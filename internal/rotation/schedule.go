package rotation

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/gameforge/gfops/internal/logging"
	"github.com/gameforge/gfops/internal/metrics"
	"github.com/gameforge/gfops/internal/rotation/state"
)

// Scheduler runs the rotation orchestrator on a cron timetable. Every
// type gets a daily entry; the dueness check inside the orchestrator
// turns multi-day frequencies into actual rotation days, so a tick for a
// type that is not due is a cheap no-op. With staggering, a due
// multi-day type additionally holds until its own day slot within the
// interval.
type Scheduler struct {
	orch    *Orchestrator
	planner *Planner
	env     string
	freqs   Frequencies
	stagger bool
	logger  *logging.Logger
	cron    *cron.Cron
	now     func() time.Time
}

// NewScheduler creates the scheduler. With stagger on, each type fires
// at a deterministic per-type time of day so no two types share an
// hour, and multi-day types additionally get a per-type day slot within
// their interval so two 90-day types never rotate on the same day; with
// stagger off, everything fires at 02:00 on whatever day it comes due.
func NewScheduler(orch *Orchestrator, store state.Store, env string, freqs Frequencies, critical CriticalSet, stagger bool, logger *logging.Logger) *Scheduler {
	return &Scheduler{
		orch:    orch,
		planner: NewPlanner(store, env, freqs, critical),
		env:     env,
		freqs:   freqs,
		stagger: stagger,
		logger:  logger,
		cron:    cron.New(),
		now:     time.Now,
	}
}

// Run blocks until ctx is cancelled, firing rotations on schedule. The
// secret age gauges are refreshed hourly so the metrics endpoint of a
// co-located alertd always has current values.
func (s *Scheduler) Run(ctx context.Context) error {
	metrics.Init()

	type entry struct {
		t  SecretType
		id cron.EntryID
	}
	entries := make([]entry, 0, len(CanonicalOrder))

	for _, t := range CanonicalOrder {
		t := t
		spec := s.specFor(t)
		id, err := s.cron.AddFunc(spec, func() { s.tick(ctx, t) })
		if err != nil {
			return fmt.Errorf("schedule %s (%s): %w", t, spec, err)
		}
		entries = append(entries, entry{t: t, id: id})
	}

	if _, err := s.cron.AddFunc("@hourly", func() { s.refreshAges() }); err != nil {
		return fmt.Errorf("schedule age refresh: %w", err)
	}

	s.cron.Start()
	s.refreshAges()
	for _, e := range entries {
		next := s.cron.Entry(e.id).Next
		s.logger.Info("Next %s rotation check: %s", e.t, next.Format(time.RFC3339))
	}

	<-ctx.Done()
	s.logger.Info("Shutting down rotation scheduler")
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(30 * time.Second):
		s.logger.Warn("Timed out waiting for a running rotation to finish")
	}
	return nil
}

// specFor derives the cron spec for one type. The hash spreads types
// over the day; linear probing keeps the five hours distinct.
func (s *Scheduler) specFor(t SecretType) string {
	if !s.stagger {
		return "0 2 * * *"
	}
	hour, minute := staggerSlot(t)
	return fmt.Sprintf("%d %d * * *", minute, hour)
}

// staggerSlot maps a type name onto a deterministic hour and minute.
// Hash collisions on the hour are resolved by probing in canonical
// order, so the five types always land in five distinct hours.
func staggerSlot(t SecretType) (hour, minute int) {
	taken := make(map[int]bool)
	for _, other := range CanonicalOrder {
		h := fnv.New32a()
		_, _ = h.Write([]byte(other))
		sum := h.Sum32()

		oh := int(sum % 24)
		for taken[oh] {
			oh = (oh + 1) % 24
		}
		taken[oh] = true

		if other == t {
			return oh, int((sum / 24) % 60)
		}
	}
	return 2, 0
}

// dayOffset maps a type onto a day slot within its rotation interval.
// Types sharing an interval are probed to distinct slots in canonical
// order, so the two 90-day types cannot fall on the same day.
func dayOffset(t SecretType, freqs Frequencies) int {
	days := intervalDays(freqs.For(t))
	if days <= 1 {
		return 0
	}

	taken := make(map[int]bool)
	for _, other := range CanonicalOrder {
		if intervalDays(freqs.For(other)) != days {
			continue
		}
		h := fnv.New32a()
		_, _ = h.Write([]byte(other))
		slot := int(h.Sum32() % uint32(days))
		for taken[slot] {
			slot = (slot + 1) % days
		}
		taken[slot] = true

		if other == t {
			return slot
		}
	}
	return 0
}

// onDaySlot reports whether now falls on t's day slot within its
// interval. Daily types are always on slot.
func onDaySlot(t SecretType, freqs Frequencies, now time.Time) bool {
	days := intervalDays(freqs.For(t))
	if days <= 1 {
		return true
	}
	epochDay := int(now.UTC().Unix() / 86400)
	return epochDay%days == dayOffset(t, freqs)
}

func intervalDays(freq time.Duration) int {
	days := int(freq / (24 * time.Hour))
	if days < 1 {
		days = 1
	}
	return days
}

// dayGateOpen decides whether a due tick may proceed today. A due type
// normally waits for its day slot; once a rotation has happened on a
// slot day every subsequent dueness lands back on a slot day, so the
// wait only occurs after an off-slot manual rotation. Never-rotated
// types rotate on the first tick instead of sitting unrotated for up to
// a full interval, and a type overdue by a whole interval (the daemon
// was down across its slot day) rotates immediately.
func (s *Scheduler) dayGateOpen(t SecretType) bool {
	now := s.now()
	plan, err := s.planner.PlanType(now, t)
	if err != nil {
		// Fail open; the orchestrator re-checks dueness anyway.
		return true
	}
	if !plan.Due || plan.NeverRotated {
		return true
	}
	if onDaySlot(t, s.freqs, now) {
		return true
	}
	return -plan.DaysUntilDue >= intervalDays(s.freqs.For(t))
}

// tick runs one scheduled rotation check for a single type.
func (s *Scheduler) tick(ctx context.Context, t SecretType) {
	s.logger.Debug("Scheduled rotation check for %s", t)

	if s.stagger && !s.dayGateOpen(t) {
		s.logger.Debug("%s is due but waiting for its day slot", t)
		return
	}

	result, err := s.orch.Run(ctx, RunRequest{
		Types:          []SecretType{t},
		Environment:    s.env,
		TriggeredBy:    "schedule",
		NonInteractive: true,
	})
	if err != nil {
		s.logger.Error("Scheduled rotation of %s aborted: %v", t, err)
		return
	}
	for _, tr := range result.Results {
		switch tr.Outcome {
		case OutcomeSkipped:
			s.logger.Debug("Scheduled check: %s %s", tr.Type, tr.Reason)
		case OutcomeRotated:
			s.logger.Success("Scheduled rotation of %s completed", tr.Type)
		case OutcomeFailed:
			s.logger.Error("Scheduled rotation of %s failed: %v", tr.Type, tr.Err)
		}
	}
	s.refreshAges()
}

// refreshAges publishes days-since-rotation for every type.
func (s *Scheduler) refreshAges() {
	plans, err := s.planner.Plan(time.Now())
	if err != nil {
		s.logger.Debug("Could not refresh secret age metrics: %v", err)
		return
	}
	for _, plan := range plans {
		if plan.NeverRotated {
			continue
		}
		age := time.Since(plan.LastRotation).Hours() / 24
		metrics.SetSecretAge(string(plan.Type), s.env, age)
	}
}
