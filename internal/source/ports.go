// Package source defines the port for external transaction providers: the
// bank-aggregator client and any statement-derived source implement it.
package source

import (
	"context"
	"fmt"

	"rufous/internal/core"
)

// TransactionSource fetches the transactions of an account for a period.
// Implementations own their timeout and retry policy; callers treat a failure
// as final for the request.
type TransactionSource interface {
	Fetch(ctx context.Context, accountID string, period core.Period) ([]core.Transaction, error)
}

// FetchError wraps a failure of the external source so callers can
// distinguish it from validation problems.
type FetchError struct {
	AccountID string
	Period    core.Period
	Err       error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch transactions for account %s (%s): %v", e.AccountID, e.Period, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
