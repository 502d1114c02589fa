package trigger

import (
	"context"
	"log/slog"
	"time"
)

// recurringFallbackRetry bounds how long a recurring timer waits before
// rescanning when its configuration matches nothing within a week.
const recurringFallbackRetry = time.Hour

// ActiveFunc reports whether the timer's execution is still non-terminal.
// It is consulted immediately before every fire, not just before sleeping,
// so a stopped workflow is never fired into.
type ActiveFunc func(ctx context.Context) (bool, error)

// FireFunc delivers a timer event into the engine.
type FireFunc func(ctx context.Context, event Event)

// Timer is the cooperative scheduled-trigger loop bound to one execution.
// Interval mode re-arms itself after every fire, datetime fires once, and
// recurring loops over its weekday/time matches.
type Timer struct {
	workspaceID string
	userID      string
	cfg         ScheduleConfig
	active      ActiveFunc
	fire        FireFunc
	log         *slog.Logger

	// now is the clock, replaceable in tests.
	now func() time.Time
}

// NewTimer creates a timer for the given scope and schedule.
func NewTimer(
	workspaceID, userID string, cfg ScheduleConfig,
	active ActiveFunc, fire FireFunc, log *slog.Logger,
) *Timer {

	return &Timer{
		workspaceID: workspaceID,
		userID:      userID,
		cfg:         cfg,
		active:      active,
		fire:        fire,
		log:         log,
		now:         time.Now,
	}
}

// Run drives the timer until the context is canceled, the schedule is
// exhausted, or the execution leaves its active state.
func (t *Timer) Run(ctx context.Context) {
	for {
		var wait time.Duration

		nextOpt := t.cfg.NextFire(t.now())
		if nextOpt.IsNone() {
			// Recurring schedules that match nothing within a
			// week retry after a bounded delay rather than
			// busy-looping. All other modes are exhausted.
			if t.cfg.Mode != ModeRecurring {
				t.log.InfoContext(
					ctx, "Schedule exhausted, "+
						"timer exiting",
					"workspace_id", t.workspaceID,
					"mode", string(t.cfg.Mode),
				)

				return
			}

			t.log.WarnContext(
				ctx, "Recurring schedule has no match "+
					"within a week, retrying later",
				"workspace_id", t.workspaceID,
			)
			wait = recurringFallbackRetry
		} else {
			next := nextOpt.UnwrapOr(time.Time{})
			wait = next.Sub(t.now())
			if wait < 0 {
				wait = 0
			}
		}

		sleep := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			sleep.Stop()
			return

		case <-sleep.C:
		}

		if nextOpt.IsNone() {
			// Fallback wake, rescan the schedule.
			continue
		}

		// Re-check the execution status right before firing so a
		// workflow stopped during the sleep is never fired into.
		stillActive, err := t.active(ctx)
		if err != nil {
			t.log.WarnContext(
				ctx, "Timer active check failed",
				"workspace_id", t.workspaceID,
				"err", err,
			)

			continue
		}
		if !stillActive {
			t.log.InfoContext(
				ctx, "Execution no longer active, "+
					"timer exiting",
				"workspace_id", t.workspaceID,
			)

			return
		}

		t.fire(ctx, TimerEvent(t.workspaceID, t.userID, t.now()))

		// Datetime schedules fire exactly once.
		if t.cfg.Mode == ModeDatetime {
			return
		}
	}
}
