package booking

import (
	"context"
	"fmt"
)

// posting is one balance change requested from inside a Manager transaction.
type posting struct {
	accountID   AccountID
	axis        Axis
	delta       PointsDelta
	kind        TransactionKind
	bookingID   *BookingID
	description string
	metadata    MetadataJSON
}

// pointsLedger is the only writer of balances. Every balance change it makes is paired with
// exactly one appended Transaction carrying the resulting snapshot.
type pointsLedger struct {
	nowFn func() int64
	newID func() string
}

// apply must run on a transactional store; it locks the balance row before reading it.
func (ledger pointsLedger) apply(ctx context.Context, txStore Store, entry posting) (Transaction, error) {
	if !entry.kind.acceptsDelta(entry.delta) {
		return Transaction{}, fmt.Errorf("%w: %s cannot carry delta %d", ErrInvalidTransaction, entry.kind, entry.delta)
	}
	balance, err := txStore.LockBalance(ctx, entry.accountID)
	if err != nil {
		return Transaction{}, err
	}
	current := balance.On(entry.axis)
	nextRaw := current.Int64() + entry.delta.Int64()
	if nextRaw < 0 {
		return Transaction{}, fmt.Errorf("%w: %s balance %d, change %d", ErrInsufficientPoints, entry.axis, current, entry.delta)
	}
	next := Points(nextRaw)
	transactionID, err := NewTransactionID(ledger.newID())
	if err != nil {
		return Transaction{}, err
	}
	transaction, err := NewTransaction(TransactionFields{
		ID:             transactionID,
		AccountID:      entry.accountID,
		Kind:           entry.kind,
		Axis:           entry.axis,
		Delta:          entry.delta,
		BalanceAfter:   next,
		BookingID:      entry.bookingID,
		Description:    entry.description,
		Metadata:       entry.metadata,
		CreatedUnixUTC: ledger.nowFn(),
	})
	if err != nil {
		return Transaction{}, err
	}
	if err := txStore.UpdateBalance(ctx, entry.accountID, entry.axis, current, next); err != nil {
		return Transaction{}, err
	}
	if err := txStore.InsertTransaction(ctx, transaction); err != nil {
		return Transaction{}, err
	}
	return transaction, nil
}
