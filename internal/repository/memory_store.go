package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"soulbot/internal/entities"
	"soulbot/internal/interfaces"
)

// MemoryAccountStore keeps ledger state in process memory. Each account has
// its own mutex so different accounts never wait on each other.
type MemoryAccountStore struct {
	mu       sync.RWMutex
	accounts map[string]*memoryAccount // by external id

	paymentsMu sync.Mutex
	payments   map[string]entities.PaymentRecord // by charge id

	logMu        sync.Mutex
	interactions []entities.InteractionLog
}

type memoryAccount struct {
	mu       sync.Mutex
	account  *entities.UserAccount
	personas map[string]time.Time
}

func NewMemoryAccountStore() *MemoryAccountStore {
	return &MemoryAccountStore{
		accounts: make(map[string]*memoryAccount),
		payments: make(map[string]entities.PaymentRecord),
	}
}

func (s *MemoryAccountStore) CreateAccount(_ context.Context, acc *entities.UserAccount) (*entities.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.accounts[acc.ExternalID]; ok {
		existing.mu.Lock()
		defer existing.mu.Unlock()
		return existing.account.Clone(), nil
	}
	s.accounts[acc.ExternalID] = &memoryAccount{
		account:  acc.Clone(),
		personas: make(map[string]time.Time),
	}
	return acc.Clone(), nil
}

func (s *MemoryAccountStore) GetAccount(_ context.Context, externalID string) (*entities.UserAccount, error) {
	rec := s.lookup(externalID)
	if rec == nil {
		return nil, entities.ErrAccountNotFound
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.account.Clone(), nil
}

func (s *MemoryAccountStore) MutateAccount(ctx context.Context, externalID string, fn func(tx interfaces.AccountTx) error) error {
	rec := s.lookup(externalID)
	if rec == nil {
		return entities.ErrAccountNotFound
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	tx := &memoryTx{store: s, rec: rec, account: rec.account.Clone()}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	if err := ctx.Err(); err != nil {
		tx.rollback()
		return err
	}
	rec.account = tx.account
	for name, at := range tx.unlocked {
		rec.personas[name] = at
	}
	return nil
}

func (s *MemoryAccountStore) UnlockedPersonas(_ context.Context, accountID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, rec := range s.accounts {
		rec.mu.Lock()
		if rec.account.ID != accountID {
			rec.mu.Unlock()
			continue
		}
		names := make([]string, 0, len(rec.personas))
		for name := range rec.personas {
			names = append(names, name)
		}
		rec.mu.Unlock()
		sort.Strings(names)
		return names, nil
	}
	return []string{}, nil
}

func (s *MemoryAccountStore) LogInteraction(_ context.Context, entry entities.InteractionLog) error {
	s.logMu.Lock()
	defer s.logMu.Unlock()
	s.interactions = append(s.interactions, entry)
	return nil
}

// Interactions returns a copy of the interaction log.
func (s *MemoryAccountStore) Interactions() []entities.InteractionLog {
	s.logMu.Lock()
	defer s.logMu.Unlock()
	out := make([]entities.InteractionLog, len(s.interactions))
	copy(out, s.interactions)
	return out
}

// Payments returns all recorded payments ordered by creation time.
func (s *MemoryAccountStore) Payments() []entities.PaymentRecord {
	s.paymentsMu.Lock()
	defer s.paymentsMu.Unlock()
	out := make([]entities.PaymentRecord, 0, len(s.payments))
	for _, p := range s.payments {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *MemoryAccountStore) Close() error { return nil }

func (s *MemoryAccountStore) lookup(externalID string) *memoryAccount {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accounts[externalID]
}

type memoryTx struct {
	store    *MemoryAccountStore
	rec      *memoryAccount
	account  *entities.UserAccount
	charges  []string
	unlocked map[string]time.Time
}

func (tx *memoryTx) Account() *entities.UserAccount { return tx.account }

func (tx *memoryTx) PaymentExists(_ context.Context, chargeID string) (bool, error) {
	tx.store.paymentsMu.Lock()
	defer tx.store.paymentsMu.Unlock()
	_, ok := tx.store.payments[chargeID]
	return ok, nil
}

func (tx *memoryTx) RecordPayment(_ context.Context, rec *entities.PaymentRecord) error {
	tx.store.paymentsMu.Lock()
	defer tx.store.paymentsMu.Unlock()
	if _, ok := tx.store.payments[rec.ChargeID]; ok {
		return entities.ErrDuplicatePayment
	}
	tx.store.payments[rec.ChargeID] = *rec
	tx.charges = append(tx.charges, rec.ChargeID)
	return nil
}

func (tx *memoryTx) UnlockPersona(_ context.Context, personaName string, at time.Time) (bool, error) {
	if _, ok := tx.rec.personas[personaName]; ok {
		return false, nil
	}
	if _, ok := tx.unlocked[personaName]; ok {
		return false, nil
	}
	if tx.unlocked == nil {
		tx.unlocked = make(map[string]time.Time)
	}
	tx.unlocked[personaName] = at
	return true, nil
}

// rollback drops payments recorded inside a failed transaction.
func (tx *memoryTx) rollback() {
	if len(tx.charges) == 0 {
		return
	}
	tx.store.paymentsMu.Lock()
	defer tx.store.paymentsMu.Unlock()
	for _, id := range tx.charges {
		delete(tx.store.payments, id)
	}
}

func (s *MemoryAccountStore) UsageHistory(_ context.Context, accountID string, since time.Time) ([]entities.DailyUsage, error) {
	s.logMu.Lock()
	defer s.logMu.Unlock()

	counts := make(map[time.Time]int)
	for _, entry := range s.interactions {
		if entry.AccountID != accountID || entry.CreatedAt.Before(since) {
			continue
		}
		day := entry.CreatedAt.UTC().Truncate(24 * time.Hour)
		counts[day]++
	}

	usage := make([]entities.DailyUsage, 0, len(counts))
	for day, n := range counts {
		usage = append(usage, entities.DailyUsage{Date: day, Messages: n})
	}
	sort.Slice(usage, func(i, j int) bool { return usage[i].Date.Before(usage[j].Date) })
	return usage, nil
}
