// Package worker runs bulk re-categorization jobs consumed from the queue.
package worker

import (
	"context"
	"fmt"
	"log/slog"

	"rufous/internal/amqp"
	"rufous/internal/core"
	"rufous/internal/taxonomy"
)

// TransactionStore is the slice of the repository the worker needs.
type TransactionStore interface {
	ListByAccount(ctx context.Context, accountID string) ([]core.Transaction, error)
	UpdateCategories(ctx context.Context, txns []core.Transaction) error
}

// RecategorizeWorker re-runs the taxonomy over every stored transaction of an
// account. Manual overrides are never touched.
type RecategorizeWorker struct {
	store    TransactionStore
	taxonomy *taxonomy.Taxonomy
}

func NewRecategorizeWorker(store TransactionStore, tax *taxonomy.Taxonomy) *RecategorizeWorker {
	return &RecategorizeWorker{store: store, taxonomy: tax}
}

// HandleMessage processes a single recategorization request from AMQP.
func (w *RecategorizeWorker) HandleMessage(ctx context.Context, msg *amqp.RecategorizeMessage) error {
	changed, err := w.Recategorize(ctx, msg.AccountID)
	if err != nil {
		return err
	}

	slog.InfoContext(ctx, "Bulk recategorization completed",
		"account_id", msg.AccountID,
		"changed", changed)
	return nil
}

// Recategorize applies the current taxonomy to the stored transactions of an
// account and writes back the rows whose tag changed. Returns the number of
// changed rows.
func (w *RecategorizeWorker) Recategorize(ctx context.Context, accountID string) (int, error) {
	txns, err := w.store.ListByAccount(ctx, accountID)
	if err != nil {
		return 0, fmt.Errorf("list transactions for %s: %w", accountID, err)
	}
	if len(txns) == 0 {
		return 0, nil
	}

	changed := w.taxonomy.Apply(txns)
	if changed == 0 {
		return 0, nil
	}

	if err := w.store.UpdateCategories(ctx, txns); err != nil {
		return 0, fmt.Errorf("write back categories for %s: %w", accountID, err)
	}
	return changed, nil
}
