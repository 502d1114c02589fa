package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math"
	prand "math/rand"
	"time"
)

const (
	// DefaultNumTxRetries is the default number of times we'll retry a
	// transaction if it fails with an error that permits transaction
	// repetition.
	DefaultNumTxRetries = 10

	// DefaultInitialRetryDelay is the default initial delay between
	// retries. This will be used to generate a random delay between -50%
	// and +50% of this value, so 20 to 60 milliseconds. The retry will be
	// doubled after each attempt until we reach DefaultMaxRetryDelay. We
	// start with a random value to avoid multiple goroutines that are
	// created at the same time to effectively retry at the same time.
	DefaultInitialRetryDelay = time.Millisecond * 40

	// DefaultMaxRetryDelay is the default maximum delay between retries.
	DefaultMaxRetryDelay = time.Second * 3
)

// randRetryDelay returns a random retry delay between -50% and +50% of the
// configured delay that is doubled for each attempt and capped at a max
// value.
func randRetryDelay(attempt int) time.Duration {
	halfDelay := DefaultInitialRetryDelay / 2
	randDelay := prand.Int63n(int64(DefaultInitialRetryDelay)) //nolint:gosec

	// 50% plus 0%-100% gives us the range of 50%-150%.
	initialDelay := halfDelay + time.Duration(randDelay)

	// If this is the first attempt, we just return the initial delay.
	if attempt == 0 {
		return initialDelay
	}

	// For each subsequent delay, we double the initial delay. We limit
	// the power to 32 to avoid overflows.
	factor := time.Duration(math.Pow(2, math.Min(float64(attempt), 32)))
	actualDelay := initialDelay * factor //nolint:durationcheck

	// Cap the delay at the maximum configured value.
	if actualDelay > DefaultMaxRetryDelay {
		return DefaultMaxRetryDelay
	}

	return actualDelay
}

// TxExecutor wraps a sql.DB with transaction retry support. Transactions
// that fail with a serialization or deadlock error are retried with a
// randomized exponential backoff.
type TxExecutor struct {
	db  *sql.DB
	log *slog.Logger
}

// NewTxExecutor creates a new TxExecutor wrapping the given connection.
func NewTxExecutor(db *sql.DB, log *slog.Logger) *TxExecutor {
	return &TxExecutor{db: db, log: log}
}

// DB returns the underlying database connection.
func (t *TxExecutor) DB() *sql.DB {
	return t.db
}

// ExecTx executes the given function within a database transaction. If the
// function returns an error, the transaction is rolled back. Serialization
// and deadlock errors trigger a retry with backoff, up to
// DefaultNumTxRetries attempts.
func (t *TxExecutor) ExecTx(ctx context.Context,
	txBody func(tx *sql.Tx) error) error {

	waitBeforeRetry := func(attemptNumber int) {
		retryDelay := randRetryDelay(attemptNumber)

		t.log.DebugContext(
			ctx,
			"Retrying transaction due to tx serialization or "+
				"deadlock error",
			"attempt_number", attemptNumber,
			"delay", retryDelay,
		)

		// Before we try again, we'll wait with a random backoff based
		// on the retry delay.
		time.Sleep(retryDelay)
	}

	for i := 0; i < DefaultNumTxRetries; i++ {
		tx, err := t.db.BeginTx(ctx, nil)
		if err != nil {
			dbErr := MapSQLError(err)
			if IsSerializationOrDeadlockError(dbErr) {
				// Nothing to roll back here, since we didn't
				// even get a transaction yet.
				waitBeforeRetry(i)
				continue
			}

			return dbErr
		}

		if err := txBody(tx); err != nil {
			dbErr := MapSQLError(err)

			// Roll back the transaction, then pop back up to try
			// once again if the error permits it.
			if rbErr := tx.Rollback(); rbErr != nil &&
				!IsSerializationOrDeadlockError(dbErr) {

				return fmt.Errorf("tx error: %w, rollback "+
					"error: %v", dbErr, rbErr)
			}

			if IsSerializationOrDeadlockError(dbErr) {
				waitBeforeRetry(i)
				continue
			}

			return dbErr
		}

		if err := tx.Commit(); err != nil {
			dbErr := MapSQLError(err)
			if IsSerializationOrDeadlockError(dbErr) {
				_ = tx.Rollback()

				waitBeforeRetry(i)
				continue
			}

			return dbErr
		}

		return nil
	}

	// If we get to this point, then we weren't able to successfully
	// commit a tx given the max number of retries.
	return ErrRetriesExceeded
}
