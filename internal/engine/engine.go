// Package engine owns the workflow lifecycle: launch validation, trigger
// arming, event admission, action dispatch, and teardown. One engine
// serves every workspace; at most one execution is live per
// (workspace, user) scope.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/mailflow/mailflow/internal/blocks"
	"github.com/mailflow/mailflow/internal/provider"
	"github.com/mailflow/mailflow/internal/store"
	"github.com/mailflow/mailflow/internal/trigger"
)

const (
	// DefaultSweepInterval is how often the backup sweep re-ensures
	// watches and timers for every non-terminal execution.
	DefaultSweepInterval = 5 * time.Minute

	// watchRenewalSlack renews a push registration this long before its
	// provider-side expiry.
	watchRenewalSlack = time.Hour
)

// launchProviders is the set of providers an integration block can bind.
var launchProviders = []store.Provider{
	store.ProviderGmail, store.ProviderOutlook,
}

// StatusListener observes execution status changes, used to push live
// updates to connected clients.
type StatusListener func(
	workspaceID, executionID string, status store.ExecutionStatus,
)

// Config bundles the engine's dependencies.
type Config struct {
	Store     store.Store
	Mailboxes trigger.MailboxSource
	Registry  *blocks.Registry
	Log       *slog.Logger

	// SweepInterval overrides DefaultSweepInterval when non-zero.
	SweepInterval time.Duration
}

// Engine drives workflow executions end to end.
type Engine struct {
	store      store.Store
	mailboxes  trigger.MailboxSource
	dispatcher *blocks.Dispatcher
	dedup      *trigger.Deduplicator
	poller     *trigger.Poller
	log        *slog.Logger

	sweepInterval time.Duration

	runCtx    context.Context
	runCancel context.CancelFunc

	mu        sync.Mutex
	runtimes  map[string]context.CancelFunc
	listeners []StatusListener

	wg sync.WaitGroup
}

// New creates an engine from its dependencies.
func New(cfg Config) *Engine {
	sweep := cfg.SweepInterval
	if sweep == 0 {
		sweep = DefaultSweepInterval
	}

	return &Engine{
		store:      cfg.Store,
		mailboxes:  cfg.Mailboxes,
		dispatcher: blocks.NewDispatcher(
			cfg.Registry, cfg.Store, cfg.Log,
		),
		dedup:         trigger.NewDeduplicator(cfg.Store, cfg.Log),
		poller:        trigger.NewPoller(cfg.Store, cfg.Mailboxes, cfg.Log),
		log:           cfg.Log,
		sweepInterval: sweep,
		runtimes:      make(map[string]context.CancelFunc),
	}
}

// Start resumes every non-terminal execution and begins the backup sweep.
func (e *Engine) Start() error {
	e.runCtx, e.runCancel = context.WithCancel(context.Background())

	e.sweepOnce(e.runCtx)

	e.wg.Add(1)
	go e.sweepLoop()

	e.log.Info("Engine started", "sweep_interval", e.sweepInterval)

	return nil
}

// Shutdown cancels all trigger runtimes and waits for them to exit.
func (e *Engine) Shutdown() {
	if e.runCancel != nil {
		e.runCancel()
	}
	e.wg.Wait()
}

// OnStatusChange registers a listener for execution status changes.
func (e *Engine) OnStatusChange(listener StatusListener) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.listeners = append(e.listeners, listener)
}

// Launch validates the workspace pipeline, inserts a waiting execution,
// and arms its triggers. A partially armed launch is rolled back.
func (e *Engine) Launch(
	ctx context.Context, workspaceID, userID string,
) (store.WorkflowExecution, error) {

	activeOpt, err := e.store.FindActiveExecution(
		ctx, workspaceID, userID,
	)
	if err != nil {
		return store.WorkflowExecution{}, fmt.Errorf(
			"active lookup: %w", err,
		)
	}
	if activeOpt.IsSome() {
		return store.WorkflowExecution{}, ErrAlreadyRunning
	}

	pipeline, err := e.store.ListBlocks(ctx, workspaceID)
	if err != nil {
		return store.WorkflowExecution{}, fmt.Errorf(
			"load pipeline: %w", err,
		)
	}

	plan, err := e.validate(ctx, workspaceID, userID, pipeline)
	if err != nil {
		return store.WorkflowExecution{}, err
	}

	exec := store.WorkflowExecution{
		ID:          uuid.NewString(),
		WorkspaceID: workspaceID,
		UserID:      userID,
		Status:      store.StatusWaiting,
		CreatedAt:   time.Now().UTC(),
	}
	if err := e.store.CreateExecution(ctx, exec); err != nil {
		return store.WorkflowExecution{}, fmt.Errorf(
			"create execution: %w", err,
		)
	}

	if err := e.armTriggers(ctx, workspaceID, userID, plan); err != nil {
		// Roll back the row so the scope is not left blocked by an
		// execution whose triggers never came up.
		if delErr := e.store.DeleteExecution(
			ctx, exec.ID,
		); delErr != nil {
			e.log.ErrorContext(
				ctx, "Launch rollback failed",
				"execution_id", exec.ID, "err", delErr,
			)
		}

		return store.WorkflowExecution{}, fmt.Errorf(
			"arm triggers: %w", err,
		)
	}

	e.log.InfoContext(
		ctx, "Workflow launched",
		"workspace_id", workspaceID,
		"user_id", userID,
		"execution_id", exec.ID,
	)
	e.notify(workspaceID, exec.ID, store.StatusWaiting)

	return exec, nil
}

// Stop pauses the active execution for the scope and tears down its
// triggers.
func (e *Engine) Stop(
	ctx context.Context, workspaceID, userID string,
) (store.WorkflowExecution, error) {

	activeOpt, err := e.store.FindActiveExecution(
		ctx, workspaceID, userID,
	)
	if err != nil {
		return store.WorkflowExecution{}, fmt.Errorf(
			"active lookup: %w", err,
		)
	}
	if activeOpt.IsNone() {
		return store.WorkflowExecution{}, ErrNothingToStop
	}
	exec := activeOpt.UnwrapOr(store.WorkflowExecution{})

	e.teardown(ctx, workspaceID, userID)

	if err := e.transition(ctx, &exec, StopRequestedEvent{}); err != nil {
		return store.WorkflowExecution{}, fmt.Errorf(
			"pause execution: %w", err,
		)
	}

	e.log.InfoContext(
		ctx, "Workflow stopped",
		"workspace_id", workspaceID,
		"execution_id", exec.ID,
	)

	return exec, nil
}

// ScopeStatus is the live view of one (workspace, user) scope: the active
// execution, if any, and the nearest provider watch expiry.
type ScopeStatus struct {
	// Execution is the scope's waiting or running execution.
	Execution fn.Option[store.WorkflowExecution]

	// WatchExpiry is the earliest expiration among the scope's push
	// registrations. An instant in the past means no push events will
	// arrive until the watch is renewed.
	WatchExpiry fn.Option[time.Time]
}

// Status returns the active execution for a scope, if one exists, along
// with the nearest watch expiration backing it.
func (e *Engine) Status(
	ctx context.Context, workspaceID, userID string,
) (ScopeStatus, error) {

	activeOpt, err := e.store.FindActiveExecution(
		ctx, workspaceID, userID,
	)
	if err != nil {
		return ScopeStatus{}, fmt.Errorf("active lookup: %w", err)
	}

	status := ScopeStatus{
		Execution:   activeOpt,
		WatchExpiry: fn.None[time.Time](),
	}
	for _, prov := range launchProviders {
		watchOpt, err := e.store.GetWatch(
			ctx, userID, workspaceID, prov,
		)
		if err != nil {
			return ScopeStatus{}, fmt.Errorf(
				"watch lookup: %w", err,
			)
		}
		if watchOpt.IsNone() {
			continue
		}

		expiry := watchOpt.UnwrapOr(store.ProviderWatch{}).Expiration
		if expiry.IsZero() {
			continue
		}

		nearest := status.WatchExpiry.UnwrapOr(expiry)
		if !expiry.After(nearest) {
			status.WatchExpiry = fn.Some(expiry)
		}
	}

	return status, nil
}

// History returns all executions for a scope, newest first.
func (e *Engine) History(
	ctx context.Context, workspaceID, userID string,
) ([]store.WorkflowExecution, error) {

	return e.store.ListExecutions(ctx, workspaceID, userID)
}

// HandleEvents feeds a batch of normalized trigger events through
// admission and dispatch. It is the sink for webhook normalizers and the
// polling loop.
func (e *Engine) HandleEvents(ctx context.Context, events []trigger.Event) {
	for _, event := range events {
		if err := e.handleEvent(ctx, event); err != nil {
			e.log.WarnContext(
				ctx, "Event handling failed",
				"workspace_id", event.WorkspaceID,
				"source", string(event.Source),
				"err", err,
			)
		}
	}
}

// launchPlan is the validated trigger surface of a pipeline.
type launchPlan struct {
	providers []store.Provider
	schedules []trigger.ScheduleConfig
}

// validate vets the pipeline against the launch rules and returns the
// trigger plan. All violations map to ValidationError.
func (e *Engine) validate(
	ctx context.Context, workspaceID, userID string,
	pipeline []store.PipelineBlock,
) (*launchPlan, error) {

	var (
		plan       launchPlan
		actions    int
		conditions []store.PipelineBlock
	)
	for _, blk := range pipeline {
		kind, err := blocks.ParseKind(blk.Type)
		if err != nil {
			return nil, newValidationErrorf(
				"block %s: %v", blk.BlockID, err,
			)
		}

		switch {
		case kind.IsAction():
			actions++

		case kind == blocks.KindIntegrationGmail:
			plan.providers = append(
				plan.providers, store.ProviderGmail,
			)

		case kind == blocks.KindIntegrationOutlook:
			plan.providers = append(
				plan.providers, store.ProviderOutlook,
			)

		case kind == blocks.KindConditionEmailReceived,
			kind == blocks.KindConditionScheduledTrigger:

			conditions = append(conditions, blk)
		}
	}

	if actions == 0 {
		return nil, newValidationErrorf(
			"pipeline has no action blocks",
		)
	}
	if len(plan.providers) == 0 {
		return nil, newValidationErrorf(
			"pipeline has no integration block",
		)
	}

	for _, cond := range conditions {
		scope, err := blocks.ScopeOf(pipeline, cond)
		if err != nil {
			return nil, newValidationErrorf("%v", err)
		}
		if len(scope) == 0 {
			return nil, newValidationErrorf(
				"condition %s has no actions in scope",
				cond.BlockID,
			)
		}

		kind, _ := blocks.ParseKind(cond.Type)
		if kind != blocks.KindConditionScheduledTrigger {
			continue
		}

		cfg, err := e.store.GetBlockConfig(
			ctx, workspaceID, cond.BlockID,
		)
		if errors.Is(err, store.ErrBlockConfigNotFound) {
			return nil, newValidationErrorf(
				"scheduled trigger %s has no schedule",
				cond.BlockID,
			)
		}
		if err != nil {
			return nil, fmt.Errorf("load schedule: %w", err)
		}

		schedule, err := trigger.ParseScheduleConfig(cfg.ConfigJSON)
		if err != nil {
			return nil, newValidationErrorf(
				"scheduled trigger %s: %v", cond.BlockID, err,
			)
		}
		plan.schedules = append(plan.schedules, schedule)
	}

	for _, prov := range plan.providers {
		credOpt, err := e.store.GetCredential(ctx, userID, prov)
		if err != nil {
			return nil, fmt.Errorf("credential lookup: %w", err)
		}
		if credOpt.IsNone() {
			return nil, newValidationErrorf(
				"no %s account connected", prov,
			)
		}
	}

	return &plan, nil
}

// armTriggers establishes push watches and starts the poller and timer
// loops for a scope. Credential failures abort the launch; push setup
// failures degrade to polling.
func (e *Engine) armTriggers(
	ctx context.Context, workspaceID, userID string, plan *launchPlan,
) error {

	for _, prov := range plan.providers {
		if err := e.ensureWatch(
			ctx, workspaceID, userID, prov,
		); err != nil {
			var credErr *provider.CredentialError
			if errors.As(err, &credErr) {
				return err
			}

			// Push delivery is best effort; the polling loop
			// still covers the mailbox.
			e.log.WarnContext(
				ctx, "Push watch setup failed, "+
					"relying on polling",
				"workspace_id", workspaceID,
				"provider", string(prov),
				"err", err,
			)
		}
	}

	runtimeCtx := e.registerRuntime(workspaceID, userID)

	for _, prov := range plan.providers {
		prov := prov

		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.poller.Run(
				runtimeCtx, workspaceID, userID, prov,
				e.HandleEvents,
			)
		}()
	}

	for _, schedule := range plan.schedules {
		timer := trigger.NewTimer(
			workspaceID, userID, schedule,
			e.activeFunc(workspaceID, userID),
			func(ctx context.Context, event trigger.Event) {
				if err := e.handleEvent(ctx, event); err != nil {
					e.log.WarnContext(
						ctx, "Timer fire failed",
						"workspace_id", workspaceID,
						"err", err,
					)
				}
			},
			e.log,
		)

		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			timer.Run(runtimeCtx)
		}()
	}

	return nil
}

// ensureWatch establishes a push registration and persists it. An
// existing unexpired watch is kept as is.
func (e *Engine) ensureWatch(
	ctx context.Context, workspaceID, userID string, prov store.Provider,
) error {

	watchOpt, err := e.store.GetWatch(ctx, userID, workspaceID, prov)
	if err != nil {
		return fmt.Errorf("watch lookup: %w", err)
	}

	existing := watchOpt.UnwrapOr(store.ProviderWatch{})
	if watchOpt.IsSome() &&
		!existing.Expired(time.Now().Add(watchRenewalSlack)) {

		return nil
	}

	mailbox, err := e.mailboxes.MailboxFor(ctx, userID, prov)
	if err != nil {
		return err
	}

	reg, err := mailbox.Watch(ctx)
	if err != nil {
		return err
	}

	// A renewal keeps the established incremental cursor; the fresh
	// registration's cursor only seeds brand new watches.
	cursor := reg.Cursor
	if existing.Cursor != "" {
		cursor = existing.Cursor
	}

	// Capture the account's own address on the watch row so per-event
	// anti-loop checks read it from the store instead of the provider.
	profile, err := mailbox.Profile(ctx)
	if err != nil {
		e.log.WarnContext(
			ctx, "Profile lookup failed during watch setup",
			"workspace_id", workspaceID,
			"provider", string(prov),
			"err", err,
		)
		profile = existing.ProfileAddress
	}

	err = e.store.UpsertWatch(ctx, store.ProviderWatch{
		UserID:         userID,
		WorkspaceID:    workspaceID,
		Provider:       prov,
		ExternalRef:    reg.ExternalRef,
		ClientState:    reg.ClientState,
		Cursor:         cursor,
		ProfileAddress: profile,
		Expiration:     reg.Expiration,
	})
	if err != nil {
		return fmt.Errorf("persist watch: %w", err)
	}

	e.log.InfoContext(
		ctx, "Push watch established",
		"workspace_id", workspaceID,
		"provider", string(prov),
		"external_ref", reg.ExternalRef,
		"expires", reg.Expiration,
	)

	return nil
}

// teardown cancels the scope's trigger loops and removes its push
// registrations. Provider-side teardown is best effort.
func (e *Engine) teardown(
	ctx context.Context, workspaceID, userID string,
) {

	e.cancelRuntime(workspaceID, userID)

	for _, prov := range launchProviders {
		watchOpt, err := e.store.GetWatch(
			ctx, userID, workspaceID, prov,
		)
		if err != nil || watchOpt.IsNone() {
			continue
		}
		watch := watchOpt.UnwrapOr(store.ProviderWatch{})

		mailbox, err := e.mailboxes.MailboxFor(ctx, userID, prov)
		if err == nil {
			if err := mailbox.StopWatch(
				ctx, watch.ExternalRef,
			); err != nil {
				e.log.WarnContext(
					ctx, "Provider watch teardown failed",
					"workspace_id", workspaceID,
					"provider", string(prov),
					"err", err,
				)
			}
		}

		if err := e.store.DeleteWatch(
			ctx, userID, workspaceID, prov,
		); err != nil {
			e.log.WarnContext(
				ctx, "Watch row delete failed",
				"workspace_id", workspaceID,
				"provider", string(prov),
				"err", err,
			)
		}
	}
}

// handleEvent runs one normalized event through admission, condition
// matching, and dispatch. Per-action failures are contained in dispatch
// results; the execution always returns to waiting.
func (e *Engine) handleEvent(
	ctx context.Context, event trigger.Event,
) error {

	activeOpt, err := e.store.FindActiveExecution(
		ctx, event.WorkspaceID, event.UserID,
	)
	if err != nil {
		return fmt.Errorf("active lookup: %w", err)
	}
	if activeOpt.IsNone() {
		e.log.DebugContext(
			ctx, "Dropping event for inactive scope",
			"workspace_id", event.WorkspaceID,
		)

		return nil
	}
	exec := activeOpt.UnwrapOr(store.WorkflowExecution{})

	admitted, reason, err := e.dedup.Admit(
		ctx, event, e.profileAddress(ctx, event),
	)
	if err != nil {
		return fmt.Errorf("admission: %w", err)
	}
	if !admitted {
		// Duplicates and self-authored mail are dropped silently.
		e.log.DebugContext(
			ctx, "Event not admitted",
			"workspace_id", event.WorkspaceID,
			"reason", string(reason),
		)

		return nil
	}

	pipeline, err := e.store.ListBlocks(ctx, event.WorkspaceID)
	if err != nil {
		return fmt.Errorf("load pipeline: %w", err)
	}

	matched, err := e.matchedConditions(ctx, pipeline, event)
	if err != nil {
		return err
	}
	if len(matched) == 0 {
		e.log.DebugContext(
			ctx, "Event matched no conditions",
			"workspace_id", event.WorkspaceID,
			"source", string(event.Source),
		)

		return nil
	}

	if err := e.transition(
		ctx, &exec, TriggerMatchedEvent{Trigger: event},
	); err != nil {
		// A concurrent dispatch or stop owns the execution.
		e.log.DebugContext(
			ctx, "Execution not ready for dispatch",
			"execution_id", exec.ID, "err", err,
		)

		return nil
	}

	if data, err := event.TriggerDataJSON(); err == nil {
		if err := e.store.UpdateExecutionTriggerData(
			ctx, exec.ID, data,
		); err != nil {
			e.log.WarnContext(
				ctx, "Trigger data update failed",
				"execution_id", exec.ID, "err", err,
			)
		}
	}

	for _, cond := range matched {
		results, err := e.dispatcher.Dispatch(
			ctx, pipeline, cond, event,
		)
		if err != nil {
			e.log.WarnContext(
				ctx, "Dispatch failed",
				"workspace_id", event.WorkspaceID,
				"condition_id", cond.BlockID,
				"err", err,
			)

			continue
		}

		for _, res := range results {
			if res.Status == blocks.StatusError {
				e.log.WarnContext(
					ctx, "Action block errored",
					"workspace_id", event.WorkspaceID,
					"block_id", res.BlockID,
					"reason", res.Reason,
				)
			}
		}
	}

	// Re-read before re-arming: a stop issued mid-dispatch has already
	// moved the row to paused and must win.
	fresh, err := e.store.GetExecution(ctx, exec.ID)
	if err != nil {
		return fmt.Errorf("post-dispatch read: %w", err)
	}
	if fresh.Status == store.StatusRunning {
		if err := e.transition(
			ctx, &fresh, DispatchDoneEvent{},
		); err != nil {
			return fmt.Errorf("re-arm execution: %w", err)
		}
	}

	return nil
}

// matchedConditions returns the condition blocks the event satisfies.
// Mail events are matched against email-received conditions and their
// configured filters; timer events match every scheduled trigger.
func (e *Engine) matchedConditions(
	ctx context.Context, pipeline []store.PipelineBlock,
	event trigger.Event,
) ([]store.PipelineBlock, error) {

	var matched []store.PipelineBlock
	for _, blk := range pipeline {
		kind, err := blocks.ParseKind(blk.Type)
		if err != nil {
			return nil, err
		}

		switch kind {
		case blocks.KindConditionScheduledTrigger:
			if event.Source == trigger.SourceTimer {
				matched = append(matched, blk)
			}

		case blocks.KindConditionEmailReceived:
			if event.Source == trigger.SourceTimer {
				continue
			}

			configJSON := "{}"
			cfg, err := e.store.GetBlockConfig(
				ctx, blk.WorkspaceID, blk.BlockID,
			)
			switch {
			case err == nil:
				configJSON = cfg.ConfigJSON

			case errors.Is(err, store.ErrBlockConfigNotFound):

			default:
				return nil, fmt.Errorf(
					"load condition config: %w", err,
				)
			}

			filter, err := trigger.ParseConditionConfig(
				configJSON,
			)
			if err != nil {
				e.log.WarnContext(
					ctx, "Unparseable condition config",
					"block_id", blk.BlockID,
					"err", err,
				)

				continue
			}

			if filter.Matches(event) {
				matched = append(matched, blk)
			}
		}
	}

	return matched, nil
}

// profileAddress resolves the watched account's own address for the
// anti-loop check. The address cached on the watch row at launch is
// preferred; the live profile lookup is the fallback, and its failure
// degrades to skipping the check.
func (e *Engine) profileAddress(
	ctx context.Context, event trigger.Event,
) string {

	if event.Provider == "" {
		return ""
	}

	watchOpt, err := e.store.GetWatch(
		ctx, event.UserID, event.WorkspaceID, event.Provider,
	)
	if err == nil && watchOpt.IsSome() {
		cached := watchOpt.UnwrapOr(
			store.ProviderWatch{},
		).ProfileAddress
		if cached != "" {
			return cached
		}
	}

	mailbox, err := e.mailboxes.MailboxFor(
		ctx, event.UserID, event.Provider,
	)
	if err != nil {
		e.log.WarnContext(
			ctx, "Mailbox unavailable for self check",
			"workspace_id", event.WorkspaceID, "err", err,
		)

		return ""
	}

	address, err := mailbox.Profile(ctx)
	if err != nil {
		e.log.WarnContext(
			ctx, "Profile lookup failed for self check",
			"workspace_id", event.WorkspaceID, "err", err,
		)

		return ""
	}

	return address
}

// transition runs one state machine step and persists the new status.
func (e *Engine) transition(
	ctx context.Context, exec *store.WorkflowExecution,
	event ExecutionEvent,
) error {

	state := StateFromStatus(exec.Status)
	result, err := state.ProcessEvent(event)
	if err != nil {
		return err
	}

	next := result.NextState.Status()
	if err := e.store.UpdateExecutionStatus(
		ctx, exec.ID, next,
	); err != nil {
		return fmt.Errorf("persist status: %w", err)
	}
	exec.Status = next

	e.notify(exec.WorkspaceID, exec.ID, next)

	return nil
}

// activeFunc builds the timer's pre-fire liveness check for a scope.
func (e *Engine) activeFunc(workspaceID, userID string) trigger.ActiveFunc {
	return func(ctx context.Context) (bool, error) {
		activeOpt, err := e.store.FindActiveExecution(
			ctx, workspaceID, userID,
		)
		if err != nil {
			return false, err
		}

		return activeOpt.IsSome(), nil
	}
}

// scopeKey is the runtime registry key for a (workspace, user) scope.
func scopeKey(workspaceID, userID string) string {
	return workspaceID + "/" + userID
}

// registerRuntime creates the cancelable context the scope's trigger
// loops run under, replacing any previous runtime for the scope.
func (e *Engine) registerRuntime(
	workspaceID, userID string,
) context.Context {

	parent := e.runCtx
	if parent == nil {
		parent = context.Background()
	}
	runtimeCtx, cancel := context.WithCancel(parent)

	e.mu.Lock()
	defer e.mu.Unlock()

	key := scopeKey(workspaceID, userID)
	if old, ok := e.runtimes[key]; ok {
		old()
	}
	e.runtimes[key] = cancel

	return runtimeCtx
}

// cancelRuntime stops the scope's trigger loops, if any are running.
func (e *Engine) cancelRuntime(workspaceID, userID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := scopeKey(workspaceID, userID)
	if cancel, ok := e.runtimes[key]; ok {
		cancel()
		delete(e.runtimes, key)
	}
}

// hasRuntime reports whether a scope has live trigger loops.
func (e *Engine) hasRuntime(workspaceID, userID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	_, ok := e.runtimes[scopeKey(workspaceID, userID)]

	return ok
}

// notify fans an execution status change out to all listeners.
func (e *Engine) notify(
	workspaceID, executionID string, status store.ExecutionStatus,
) {

	e.mu.Lock()
	listeners := make([]StatusListener, len(e.listeners))
	copy(listeners, e.listeners)
	e.mu.Unlock()

	for _, listener := range listeners {
		listener(workspaceID, executionID, status)
	}
}

// sweepLoop periodically re-ensures the trigger surface of every
// non-terminal execution.
func (e *Engine) sweepLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.runCtx.Done():
			return

		case <-ticker.C:
			e.sweepOnce(e.runCtx)
		}
	}
}

// sweepOnce re-arms missing runtimes and renews expiring watches for all
// non-terminal executions. It also runs once at startup to resume
// executions that survived a restart.
func (e *Engine) sweepOnce(ctx context.Context) {
	execs, err := e.store.ListNonTerminalExecutions(ctx)
	if err != nil {
		e.log.WarnContext(ctx, "Sweep listing failed", "err", err)

		return
	}

	for _, exec := range execs {
		if e.hasRuntime(exec.WorkspaceID, exec.UserID) {
			e.renewWatches(ctx, exec)

			continue
		}

		pipeline, err := e.store.ListBlocks(ctx, exec.WorkspaceID)
		if err != nil {
			e.log.WarnContext(
				ctx, "Sweep pipeline load failed",
				"workspace_id", exec.WorkspaceID,
				"err", err,
			)

			continue
		}

		plan, err := e.validate(
			ctx, exec.WorkspaceID, exec.UserID, pipeline,
		)
		if err != nil {
			e.log.WarnContext(
				ctx, "Sweep skipping invalid pipeline",
				"workspace_id", exec.WorkspaceID,
				"err", err,
			)

			continue
		}

		if err := e.armTriggers(
			ctx, exec.WorkspaceID, exec.UserID, plan,
		); err != nil {
			e.log.WarnContext(
				ctx, "Sweep trigger arming failed",
				"workspace_id", exec.WorkspaceID,
				"err", err,
			)
		}
	}
}

// renewWatches re-establishes push registrations that are about to
// expire.
func (e *Engine) renewWatches(
	ctx context.Context, exec store.WorkflowExecution,
) {

	for _, prov := range launchProviders {
		watchOpt, err := e.store.GetWatch(
			ctx, exec.UserID, exec.WorkspaceID, prov,
		)
		if err != nil || watchOpt.IsNone() {
			continue
		}

		watch := watchOpt.UnwrapOr(store.ProviderWatch{})
		if !watch.Expired(time.Now().Add(watchRenewalSlack)) {
			continue
		}

		if err := e.ensureWatch(
			ctx, exec.WorkspaceID, exec.UserID, prov,
		); err != nil {
			e.log.WarnContext(
				ctx, "Watch renewal failed",
				"workspace_id", exec.WorkspaceID,
				"provider", string(prov),
				"err", err,
			)
		}
	}
}
