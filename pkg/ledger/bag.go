package ledger

import (
	"context"
	"strconv"
	"sync"

	"personafeed/pkg/cache"
)

// RedisBag keeps each account as a hash under <prefix>:ledger:<id>.
type RedisBag struct {
	cache *cache.Cache
}

func NewRedisBag(c *cache.Cache) *RedisBag {
	return &RedisBag{cache: c}
}

func (b *RedisBag) key(accountID string) string {
	return b.cache.Key("ledger", accountID)
}

func (b *RedisBag) Fields(ctx context.Context, accountID string) (map[string]string, error) {
	return b.cache.HGetAll(ctx, b.key(accountID))
}

func (b *RedisBag) SetIfAbsent(ctx context.Context, accountID, field string, value int64) (bool, error) {
	return b.cache.HSetNX(ctx, b.key(accountID), field, value)
}

func (b *RedisBag) Increment(ctx context.Context, accountID, field string, delta int64) (int64, error) {
	return b.cache.HIncrBy(ctx, b.key(accountID), field, delta)
}

// SetSubscribed is used by the payment side to flip the tier flag.
func (b *RedisBag) SetSubscribed(ctx context.Context, accountID string, subscribed bool) error {
	return b.cache.HSet(ctx, b.key(accountID), FieldSubscribed, strconv.FormatBool(subscribed))
}

// MemoryBag is an in-process Bag for tests and single-node runs.
type MemoryBag struct {
	mu       sync.Mutex
	accounts map[string]map[string]string
}

func NewMemoryBag() *MemoryBag {
	return &MemoryBag{accounts: make(map[string]map[string]string)}
}

func (b *MemoryBag) Fields(_ context.Context, accountID string) (map[string]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]string, len(b.accounts[accountID]))
	for k, v := range b.accounts[accountID] {
		out[k] = v
	}
	return out, nil
}

func (b *MemoryBag) SetIfAbsent(_ context.Context, accountID, field string, value int64) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	acct := b.account(accountID)
	if _, ok := acct[field]; ok {
		return false, nil
	}
	acct[field] = strconv.FormatInt(value, 10)
	return true, nil
}

func (b *MemoryBag) Increment(_ context.Context, accountID, field string, delta int64) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	acct := b.account(accountID)
	cur, _ := strconv.ParseInt(acct[field], 10, 64)
	cur += delta
	acct[field] = strconv.FormatInt(cur, 10)
	return cur, nil
}

// Set writes a raw field value.
func (b *MemoryBag) Set(accountID, field, value string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.account(accountID)[field] = value
}

func (b *MemoryBag) account(id string) map[string]string {
	acct, ok := b.accounts[id]
	if !ok {
		acct = make(map[string]string)
		b.accounts[id] = acct
	}
	return acct
}
