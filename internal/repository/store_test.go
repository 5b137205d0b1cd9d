package repository

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"soulbot/internal/entities"
	"soulbot/internal/infrastructure"
	"soulbot/internal/interfaces"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type store interface {
	interfaces.AccountStore
	interfaces.UsageReporter
}

func newAccount(externalID string, credits int) *entities.UserAccount {
	return &entities.UserAccount{
		ID:                   uuid.NewString(),
		ExternalID:           externalID,
		DisplayName:          "Ann",
		FreeCreditsRemaining: credits,
		FreeResetAt:          t0.Add(30 * 24 * time.Hour),
		CreatedAt:            t0,
	}
}

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) store { return NewMemoryAccountStore() })
}

func TestSQLiteStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) store {
		s, err := NewSQLiteAccountStore(context.Background(), filepath.Join(t.TempDir(), "ledger.db"))
		if err != nil {
			t.Fatalf("open sqlite: %v", err)
		}
		t.Cleanup(func() { s.Close() })
		return s
	})
}

// TestPostgresStore needs a disposable database in TEST_DATABASE_URL.
func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	runStoreSuite(t, func(t *testing.T) store {
		client, err := infrastructure.NewPostgresClient(context.Background(), dsn, zerolog.Nop())
		if err != nil {
			t.Fatalf("connect postgres: %v", err)
		}
		t.Cleanup(client.Close)
		return NewPostgresAccountStore(client.Pool)
	})
}

func runStoreSuite(t *testing.T, open func(t *testing.T) store) {
	t.Run("create is idempotent", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		ext := "create-" + uuid.NewString()

		first, err := s.CreateAccount(ctx, newAccount(ext, 3))
		if err != nil {
			t.Fatal(err)
		}
		second, err := s.CreateAccount(ctx, newAccount(ext, 3))
		if err != nil {
			t.Fatal(err)
		}
		if first.ID != second.ID {
			t.Fatalf("second create returned a new account: %s != %s", first.ID, second.ID)
		}

		got, err := s.GetAccount(ctx, ext)
		if err != nil {
			t.Fatal(err)
		}
		if got.FreeCreditsRemaining != 3 || !got.FreeResetAt.Equal(t0.Add(30*24*time.Hour)) {
			t.Fatalf("stored account = %+v", got)
		}
	})

	t.Run("unknown account", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		if _, err := s.GetAccount(ctx, "missing-"+uuid.NewString()); !errors.Is(err, entities.ErrAccountNotFound) {
			t.Fatalf("GetAccount err = %v", err)
		}
		err := s.MutateAccount(ctx, "missing-"+uuid.NewString(), func(tx interfaces.AccountTx) error { return nil })
		if !errors.Is(err, entities.ErrAccountNotFound) {
			t.Fatalf("MutateAccount err = %v", err)
		}
	})

	t.Run("mutation commits or rolls back", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		acc, _ := s.CreateAccount(ctx, newAccount("mut-"+uuid.NewString(), 3))

		expires := t0.Add(30 * 24 * time.Hour)
		err := s.MutateAccount(ctx, acc.ExternalID, func(tx interfaces.AccountTx) error {
			a := tx.Account()
			a.IsPremium = true
			a.PremiumExpiresAt = &expires
			a.PremiumCreditsRemaining = 20
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}

		boom := errors.New("boom")
		err = s.MutateAccount(ctx, acc.ExternalID, func(tx interfaces.AccountTx) error {
			tx.Account().PremiumCreditsRemaining = 0
			if err := tx.RecordPayment(ctx, &entities.PaymentRecord{
				ID: uuid.NewString(), AccountID: acc.ID, Amount: 100, Currency: "RUB",
				ChargeID: "rolled-back-" + acc.ID, CreatedAt: t0,
			}); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("err = %v, want boom", err)
		}

		got, _ := s.GetAccount(ctx, acc.ExternalID)
		if !got.IsPremium || got.PremiumCreditsRemaining != 20 || got.PremiumExpiresAt == nil || !got.PremiumExpiresAt.Equal(expires) {
			t.Fatalf("account after rollback = %+v", got)
		}
		_ = s.MutateAccount(ctx, acc.ExternalID, func(tx interfaces.AccountTx) error {
			exists, err := tx.PaymentExists(ctx, "rolled-back-"+acc.ID)
			if err != nil || exists {
				t.Fatalf("rolled back payment visible: exists=%v err=%v", exists, err)
			}
			return nil
		})
	})

	t.Run("concurrent spend of last credit", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		acc, _ := s.CreateAccount(ctx, newAccount("race-"+uuid.NewString(), 1))
		errNoCredit := errors.New("no credit")

		var granted atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := s.MutateAccount(ctx, acc.ExternalID, func(tx interfaces.AccountTx) error {
					a := tx.Account()
					if a.FreeCreditsRemaining == 0 {
						return errNoCredit
					}
					a.FreeCreditsRemaining--
					return nil
				})
				if err == nil {
					granted.Add(1)
				} else if !errors.Is(err, errNoCredit) {
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()

		if n := granted.Load(); n != 1 {
			t.Fatalf("granted %d spends, want 1", n)
		}
		got, _ := s.GetAccount(ctx, acc.ExternalID)
		if got.FreeCreditsRemaining != 0 {
			t.Fatalf("credits = %d", got.FreeCreditsRemaining)
		}
	})

	t.Run("duplicate charge", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		acc, _ := s.CreateAccount(ctx, newAccount("pay-"+uuid.NewString(), 3))
		chargeID := "ch-" + acc.ID

		record := func() error {
			return s.MutateAccount(ctx, acc.ExternalID, func(tx interfaces.AccountTx) error {
				return tx.RecordPayment(ctx, &entities.PaymentRecord{
					ID: uuid.NewString(), AccountID: acc.ID, Amount: 29900, Currency: "RUB",
					ChargeID: chargeID, Provider: "telegram", CreatedAt: t0,
				})
			})
		}
		if err := record(); err != nil {
			t.Fatal(err)
		}
		if err := record(); !errors.Is(err, entities.ErrDuplicatePayment) {
			t.Fatalf("second record err = %v", err)
		}
		_ = s.MutateAccount(ctx, acc.ExternalID, func(tx interfaces.AccountTx) error {
			if exists, err := tx.PaymentExists(ctx, chargeID); err != nil || !exists {
				t.Fatalf("payment missing: exists=%v err=%v", exists, err)
			}
			return nil
		})
	})

	t.Run("persona unlocks", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		acc, _ := s.CreateAccount(ctx, newAccount("persona-"+uuid.NewString(), 3))

		unlock := func(name string) bool {
			var added bool
			err := s.MutateAccount(ctx, acc.ExternalID, func(tx interfaces.AccountTx) error {
				var err error
				added, err = tx.UnlockPersona(ctx, name, t0)
				return err
			})
			if err != nil {
				t.Fatal(err)
			}
			return added
		}
		if !unlock("trickster") || unlock("trickster") || !unlock("ghost") {
			t.Fatal("unexpected unlock results")
		}

		names, err := s.UnlockedPersonas(ctx, acc.ID)
		if err != nil {
			t.Fatal(err)
		}
		if len(names) != 2 || names[0] != "ghost" || names[1] != "trickster" {
			t.Fatalf("personas = %v", names)
		}
	})

	t.Run("usage history", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		acc, _ := s.CreateAccount(ctx, newAccount("usage-"+uuid.NewString(), 3))

		for _, at := range []time.Time{t0.Add(-48 * time.Hour), t0, t0.Add(time.Hour), t0.Add(25 * time.Hour)} {
			err := s.LogInteraction(ctx, entities.InteractionLog{
				AccountID: acc.ID, InputText: "q", OutputText: "a", Persona: "oracle", CreatedAt: at,
			})
			if err != nil {
				t.Fatal(err)
			}
		}

		usage, err := s.UsageHistory(ctx, acc.ID, t0.Add(-time.Hour))
		if err != nil {
			t.Fatal(err)
		}
		if len(usage) != 2 {
			t.Fatalf("usage = %+v", usage)
		}
		day := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
		if !usage[0].Date.Equal(day) || usage[0].Messages != 2 || usage[1].Messages != 1 {
			t.Fatalf("usage = %+v", usage)
		}
	})
}
