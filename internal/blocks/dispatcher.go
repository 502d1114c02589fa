package blocks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mailflow/mailflow/internal/store"
	"github.com/mailflow/mailflow/internal/trigger"
)

// ScopeOf returns the action blocks whose position lies strictly between
// the given condition block and its end marker, in position order. The
// blocks slice must already be position ordered.
func ScopeOf(
	pipeline []store.PipelineBlock, condition store.PipelineBlock,
) ([]store.PipelineBlock, error) {

	endPos := -1
	for _, blk := range pipeline {
		kind, err := ParseKind(blk.Type)
		if err != nil {
			return nil, err
		}

		if kind == KindConditionEndMarker &&
			blk.ParentConditionID == condition.BlockID {

			endPos = blk.Position
			break
		}
	}
	if endPos < 0 {
		return nil, fmt.Errorf(
			"condition %s has no end marker", condition.BlockID,
		)
	}

	var scope []store.PipelineBlock
	for _, blk := range pipeline {
		if blk.Position <= condition.Position ||
			blk.Position >= endPos {

			continue
		}

		kind, err := ParseKind(blk.Type)
		if err != nil {
			return nil, err
		}
		if kind.IsAction() {
			scope = append(scope, blk)
		}
	}

	return scope, nil
}

// Dispatcher walks a matched condition's action scope and invokes each
// handler in position order. Per-action failure is contained to that
// action's result; the remaining scope still runs.
type Dispatcher struct {
	registry *Registry
	configs  store.BlockStore
	log      *slog.Logger
}

// NewDispatcher creates a new dispatcher.
func NewDispatcher(
	registry *Registry, configs store.BlockStore, log *slog.Logger,
) *Dispatcher {

	return &Dispatcher{
		registry: registry,
		configs:  configs,
		log:      log,
	}
}

// Dispatch runs every action block scoped under the matched condition
// against the event and returns one result per action, in position order.
func (d *Dispatcher) Dispatch(
	ctx context.Context, pipeline []store.PipelineBlock,
	condition store.PipelineBlock, event trigger.Event,
) ([]Result, error) {

	scope, err := ScopeOf(pipeline, condition)
	if err != nil {
		return nil, fmt.Errorf("resolve action scope: %w", err)
	}

	results := make([]Result, 0, len(scope))
	for _, blk := range scope {
		kind, err := ParseKind(blk.Type)
		if err != nil {
			// ScopeOf already vetted every tag; this is
			// unreachable unless the pipeline mutated mid-walk.
			return nil, err
		}

		handler, ok := d.registry.Handler(kind)
		if !ok {
			return nil, fmt.Errorf(
				"no handler registered for kind %s", kind,
			)
		}

		configJSON := "{}"
		cfg, err := d.configs.GetBlockConfig(
			ctx, condition.WorkspaceID, blk.BlockID,
		)
		switch {
		case err == nil:
			configJSON = cfg.ConfigJSON

		case errors.Is(err, store.ErrBlockConfigNotFound):
			// Missing config defaults to empty, by contract.

		default:
			return nil, fmt.Errorf("load block config: %w", err)
		}

		result := handler.Execute(ctx, Request{
			WorkspaceID: condition.WorkspaceID,
			UserID:      event.UserID,
			BlockID:     blk.BlockID,
			Event:       event,
			ConfigJSON:  configJSON,
		})
		results = append(results, result)

		d.log.InfoContext(
			ctx, "Action block executed",
			"workspace_id", condition.WorkspaceID,
			"block_id", blk.BlockID,
			"kind", kind.String(),
			"status", string(result.Status),
			"reason", result.Reason,
		)
	}

	return results, nil
}
