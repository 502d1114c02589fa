package blocks

// Status is the outcome class of one action execution.
type Status string

const (
	// StatusSuccess means the action ran and produced its side effect.
	StatusSuccess Status = "success"

	// StatusSkipped means the action decided not to act. Skipping is a
	// normal outcome, not an error: "no reply needed" and "nothing to
	// do" land here.
	StatusSkipped Status = "skipped"

	// StatusError means the action failed. Failures are contained to
	// the one action and never abort the rest of the scope.
	StatusError Status = "error"
)

// Result is the structured outcome of one action block execution.
type Result struct {
	BlockID string
	Kind    Kind
	Status  Status

	// Reason carries the skip reason or the error message.
	Reason string
}

// Success builds a success result.
func Success(blockID string, kind Kind) Result {
	return Result{BlockID: blockID, Kind: kind, Status: StatusSuccess}
}

// Skipped builds a skipped result with the given reason.
func Skipped(blockID string, kind Kind, reason string) Result {
	return Result{
		BlockID: blockID,
		Kind:    kind,
		Status:  StatusSkipped,
		Reason:  reason,
	}
}

// Errored builds an error result from the given error.
func Errored(blockID string, kind Kind, err error) Result {
	return Result{
		BlockID: blockID,
		Kind:    kind,
		Status:  StatusError,
		Reason:  err.Error(),
	}
}
