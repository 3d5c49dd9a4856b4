package ledger

import (
	"context"
	"fmt"
	"log"
	"strconv"
)

// Field names in the account metadata bag.
const (
	FieldQuota      = "quota"
	FieldUsed       = "used"
	FieldSubscribed = "subscribed"
)

const (
	DefaultQuota   int64 = 100000
	PersonaMinimum int64 = 40000
	ImageMinimum   int64 = 10000
	ImageSurcharge int64 = 5000
)

// Account is the typed view of an account's budget fields.
type Account struct {
	ID         string
	Used       int64
	Quota      int64
	Subscribed bool
}

func (a Account) Remaining() int64 {
	return a.Quota - a.Used
}

// Bag is the account metadata store the ledger reads and writes.
// SetIfAbsent reports whether the value was written.
type Bag interface {
	Fields(ctx context.Context, accountID string) (map[string]string, error)
	SetIfAbsent(ctx context.Context, accountID, field string, value int64) (bool, error)
	Increment(ctx context.Context, accountID, field string, delta int64) (int64, error)
}

type Options struct {
	DefaultQuota   int64
	PersonaMinimum int64
	ImageMinimum   int64
}

type Ledger struct {
	bag  Bag
	opts Options
}

func New(bag Bag, opts Options) *Ledger {
	if opts.DefaultQuota <= 0 {
		opts.DefaultQuota = DefaultQuota
	}
	if opts.PersonaMinimum <= 0 {
		opts.PersonaMinimum = PersonaMinimum
	}
	if opts.ImageMinimum <= 0 {
		opts.ImageMinimum = ImageMinimum
	}
	return &Ledger{bag: bag, opts: opts}
}

// Account loads the budget record, initializing the quota on first sight.
func (l *Ledger) Account(ctx context.Context, accountID string) (Account, error) {
	fields, err := l.bag.Fields(ctx, accountID)
	if err != nil {
		return Account{}, fmt.Errorf("load account %s: %w", accountID, err)
	}

	acct := Account{ID: accountID}

	if raw, ok := fields[FieldQuota]; ok {
		acct.Quota, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Account{}, fmt.Errorf("account %s: bad quota %q: %w", accountID, raw, err)
		}
	} else {
		if _, err := l.bag.SetIfAbsent(ctx, accountID, FieldQuota, l.opts.DefaultQuota); err != nil {
			return Account{}, fmt.Errorf("init quota for %s: %w", accountID, err)
		}
		// Re-read in case a concurrent writer won the race.
		fields, err = l.bag.Fields(ctx, accountID)
		if err != nil {
			return Account{}, fmt.Errorf("load account %s: %w", accountID, err)
		}
		acct.Quota, _ = strconv.ParseInt(fields[FieldQuota], 10, 64)
		log.Printf("[Ledger] Initialized quota for account %s to %d", accountID, acct.Quota)
	}

	if raw, ok := fields[FieldUsed]; ok {
		acct.Used, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Account{}, fmt.Errorf("account %s: bad used %q: %w", accountID, raw, err)
		}
	}

	if raw, ok := fields[FieldSubscribed]; ok {
		acct.Subscribed, _ = strconv.ParseBool(raw)
	}

	return acct, nil
}

func (l *Ledger) CanAfford(ctx context.Context, accountID string, estimatedCost int64) (bool, error) {
	acct, err := l.Account(ctx, accountID)
	if err != nil {
		return false, err
	}
	return acct.Remaining() >= estimatedCost, nil
}

func (l *Ledger) CanCreatePersona(ctx context.Context, accountID string) (bool, error) {
	return l.CanAfford(ctx, accountID, l.opts.PersonaMinimum)
}

// CanPost is false once the account has reached its quota.
func (l *Ledger) CanPost(ctx context.Context, accountID string) (bool, error) {
	acct, err := l.Account(ctx, accountID)
	if err != nil {
		return false, err
	}
	return acct.Used < acct.Quota, nil
}

func (l *Ledger) HasImageHeadroom(ctx context.Context, accountID string) (bool, error) {
	return l.CanAfford(ctx, accountID, l.opts.ImageMinimum)
}

// Debit adds cost to the consumption counter. Work has already been done,
// so the debit is applied even if it takes the account past its quota.
func (l *Ledger) Debit(ctx context.Context, accountID string, cost int64) error {
	if cost <= 0 {
		return nil
	}
	used, err := l.bag.Increment(ctx, accountID, FieldUsed, cost)
	if err != nil {
		return fmt.Errorf("debit %s: %w", accountID, err)
	}
	log.Printf("[Ledger] Debited %d from account %s (used=%d)", cost, accountID, used)
	return nil
}

// AddQuota raises the ceiling. Non-positive amounts are ignored.
func (l *Ledger) AddQuota(ctx context.Context, accountID string, amount int64) error {
	if amount <= 0 {
		return nil
	}
	if _, err := l.Account(ctx, accountID); err != nil {
		return err
	}
	if _, err := l.bag.Increment(ctx, accountID, FieldQuota, amount); err != nil {
		return fmt.Errorf("add quota %s: %w", accountID, err)
	}
	return nil
}
