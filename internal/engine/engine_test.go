package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ledger-core/internal/accounts"
	"github.com/example/ledger-core/internal/events"
	"github.com/example/ledger-core/internal/ledger"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

type capturingPublisher struct {
	mu     sync.Mutex
	events []events.TransactionCompleted
}

func (p *capturingPublisher) Publish(_ context.Context, e events.TransactionCompleted) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func newTestEngine(t *testing.T) (*Engine, accounts.Directory, ledger.Store, *capturingPublisher) {
	t.Helper()
	directory := accounts.NewMemoryDirectory()
	store := ledger.NewMemoryStore()
	publisher := &capturingPublisher{}
	eng := New(Dependencies{
		Directory: directory,
		Store:     store,
		Publisher: publisher,
	})
	return eng, directory, store, publisher
}

func mustAccount(t *testing.T, directory accounts.Directory, userID string, category accounts.Category, currency string) *accounts.Account {
	t.Helper()
	account, err := directory.CreateAccount(context.Background(), userID, category, currency)
	require.NoError(t, err)
	return account
}

func mustDeposit(t *testing.T, eng *Engine, accountID, amount, currency string) *ledger.Transaction {
	t.Helper()
	txn, err := eng.ExecuteDeposit(context.Background(), DepositRequest{
		AccountID: accountID,
		Amount:    dec(amount),
		Currency:  currency,
	})
	require.NoError(t, err)
	return txn
}

func TestExecuteDeposit(t *testing.T) {
	ctx := context.Background()
	eng, directory, store, publisher := newTestEngine(t)
	account := mustAccount(t, directory, "user_1", accounts.Checking, "USD")

	txn, err := eng.ExecuteDeposit(ctx, DepositRequest{
		AccountID:   account.ID,
		Amount:      dec("100.50"),
		Currency:    "USD",
		Description: "payroll",
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.TypeDeposit, txn.Type)
	assert.Equal(t, ledger.StatusCompleted, txn.Status)

	balance, err := store.CalculateBalance(ctx, account.ID)
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("100.50")), "got %s", balance)

	entries, err := store.ListEntries(ctx, account.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ledger.Credit, entries[0].Direction)
	assert.Equal(t, txn.ID, entries[0].TransactionID)

	require.Len(t, publisher.events, 1)
	assert.Equal(t, txn.ID, publisher.events[0].TransactionID)
}

func TestExecuteDeposit_Rejections(t *testing.T) {
	ctx := context.Background()
	eng, directory, _, _ := newTestEngine(t)
	usd := mustAccount(t, directory, "user_1", accounts.Checking, "USD")

	_, err := eng.ExecuteDeposit(ctx, DepositRequest{AccountID: usd.ID, Amount: dec("0"), Currency: "USD"})
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)

	_, err = eng.ExecuteDeposit(ctx, DepositRequest{AccountID: usd.ID, Amount: dec("-10"), Currency: "USD"})
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)

	_, err = eng.ExecuteDeposit(ctx, DepositRequest{AccountID: usd.ID, Amount: dec("10"), Currency: "EUR"})
	assert.ErrorIs(t, err, ledger.ErrCurrencyMismatch)

	_, err = eng.ExecuteDeposit(ctx, DepositRequest{AccountID: "missing", Amount: dec("10"), Currency: "USD"})
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	_, err = directory.SetStatus(ctx, usd.ID, accounts.Frozen)
	require.NoError(t, err)
	_, err = eng.ExecuteDeposit(ctx, DepositRequest{AccountID: usd.ID, Amount: dec("10"), Currency: "USD"})
	assert.ErrorIs(t, err, ledger.ErrAccountNotActive)
}

func TestExecuteWithdrawal_InsufficientFunds(t *testing.T) {
	ctx := context.Background()
	eng, directory, store, _ := newTestEngine(t)
	account := mustAccount(t, directory, "user_1", accounts.Checking, "USD")
	mustDeposit(t, eng, account.ID, "50.00", "USD")

	_, err := eng.ExecuteWithdrawal(ctx, WithdrawalRequest{
		AccountID: account.ID,
		Amount:    dec("50.01"),
		Currency:  "USD",
	})
	assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	balance, err := store.CalculateBalance(ctx, account.ID)
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("50.00")), "got %s", balance)

	// Withdrawing the exact balance is allowed.
	_, err = eng.ExecuteWithdrawal(ctx, WithdrawalRequest{
		AccountID: account.ID,
		Amount:    dec("50.00"),
		Currency:  "USD",
	})
	require.NoError(t, err)

	balance, err = store.CalculateBalance(ctx, account.ID)
	require.NoError(t, err)
	assert.True(t, balance.IsZero())
}

// slowCommitStore widens the window between a caller's balance read and the
// commit landing, the way a durable write would.
type slowCommitStore struct {
	ledger.Store
	delay time.Duration
}

func (s *slowCommitStore) CommitEntrySet(ctx context.Context, txn ledger.Transaction, inputs []ledger.EntryInput) ([]ledger.Entry, error) {
	time.Sleep(s.delay)
	return s.Store.CommitEntrySet(ctx, txn, inputs)
}

// Two engine instances sharing one store model two stateless service
// processes sharing a database. Their lock tables are independent, so only
// the store's own in-scope sufficiency check can prevent the overdraft.
func TestSharedStoreWithdrawals_AcrossEngineInstances(t *testing.T) {
	ctx := context.Background()
	directory := accounts.NewMemoryDirectory()
	store := &slowCommitStore{Store: ledger.NewMemoryStore(), delay: 2 * time.Millisecond}

	engA := New(Dependencies{Directory: directory, Store: store})
	engB := New(Dependencies{Directory: directory, Store: store})

	account := mustAccount(t, directory, "user_1", accounts.Checking, "USD")
	mustDeposit(t, engA, account.ID, "100.00", "USD")

	results := make(chan error, 2)
	var wg sync.WaitGroup
	for _, eng := range []*Engine{engA, engB} {
		wg.Add(1)
		go func(eng *Engine) {
			defer wg.Done()
			_, err := eng.ExecuteWithdrawal(ctx, WithdrawalRequest{
				AccountID: account.ID,
				Amount:    dec("60.00"),
				Currency:  "USD",
			})
			results <- err
		}(eng)
	}
	wg.Wait()
	close(results)

	var succeeded int
	for err := range results {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)
		}
	}
	assert.Equal(t, 1, succeeded)

	balance, err := store.CalculateBalance(ctx, account.ID)
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("40.00")), "got %s", balance)
}

func TestConcurrentWithdrawals_ExactlyOneSucceeds(t *testing.T) {
	ctx := context.Background()
	eng, directory, store, _ := newTestEngine(t)
	account := mustAccount(t, directory, "user_1", accounts.Checking, "USD")
	mustDeposit(t, eng, account.ID, "100.00", "USD")

	results := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := eng.ExecuteWithdrawal(ctx, WithdrawalRequest{
				AccountID: account.ID,
				Amount:    dec("60.00"),
				Currency:  "USD",
			})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var succeeded, rejected int
	for err := range results {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)
			rejected++
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, rejected)

	balance, err := store.CalculateBalance(ctx, account.ID)
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("40.00")), "got %s", balance)
}

func TestExecuteTransfer_EndToEnd(t *testing.T) {
	ctx := context.Background()
	eng, directory, store, _ := newTestEngine(t)
	a := mustAccount(t, directory, "user_1", accounts.Checking, "USD")
	b := mustAccount(t, directory, "user_2", accounts.Savings, "USD")
	mustDeposit(t, eng, a.ID, "200.00", "USD")

	txn, err := eng.ExecuteTransfer(ctx, TransferRequest{
		SourceAccountID:      a.ID,
		DestinationAccountID: b.ID,
		Amount:               dec("75.00"),
		Currency:             "USD",
		Description:          "rent",
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.TypeTransfer, txn.Type)

	aBalance, err := store.CalculateBalance(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, aBalance.Equal(dec("125.00")), "got %s", aBalance)

	bBalance, err := store.CalculateBalance(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, bBalance.Equal(dec("75.00")), "got %s", bBalance)

	// Exactly two entries share the transaction: a debit on the source and
	// a credit on the destination, each for the full amount.
	aEntries, err := store.ListEntries(ctx, a.ID, 10, 0)
	require.NoError(t, err)
	bEntries, err := store.ListEntries(ctx, b.ID, 10, 0)
	require.NoError(t, err)

	var forTxn []ledger.Entry
	for _, e := range append(aEntries, bEntries...) {
		if e.TransactionID == txn.ID {
			forTxn = append(forTxn, e)
		}
	}
	require.Len(t, forTxn, 2)
	for _, e := range forTxn {
		assert.True(t, e.Amount.Equal(dec("75.00")))
		if e.AccountID == a.ID {
			assert.Equal(t, ledger.Debit, e.Direction)
		} else {
			assert.Equal(t, ledger.Credit, e.Direction)
		}
	}

	balanced, err := store.VerifyDoubleEntry(ctx, txn.ID)
	require.NoError(t, err)
	assert.True(t, balanced)
}

func TestExecuteTransfer_Rejections(t *testing.T) {
	ctx := context.Background()
	eng, directory, store, _ := newTestEngine(t)
	usd := mustAccount(t, directory, "user_1", accounts.Checking, "USD")
	eur := mustAccount(t, directory, "user_2", accounts.Checking, "EUR")
	mustDeposit(t, eng, usd.ID, "100.00", "USD")

	_, err := eng.ExecuteTransfer(ctx, TransferRequest{
		SourceAccountID:      usd.ID,
		DestinationAccountID: usd.ID,
		Amount:               dec("10.00"),
		Currency:             "USD",
	})
	assert.ErrorIs(t, err, ledger.ErrSameAccount)

	_, err = eng.ExecuteTransfer(ctx, TransferRequest{
		SourceAccountID:      usd.ID,
		DestinationAccountID: eur.ID,
		Amount:               dec("10.00"),
		Currency:             "USD",
	})
	assert.ErrorIs(t, err, ledger.ErrCurrencyMismatch)

	// Nothing was written for either account by the rejected transfer.
	eurEntries, err := store.ListEntries(ctx, eur.ID, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, eurEntries)

	usdBalance, err := store.CalculateBalance(ctx, usd.ID)
	require.NoError(t, err)
	assert.True(t, usdBalance.Equal(dec("100.00")))

	_, err = directory.SetStatus(ctx, eur.ID, accounts.Closed)
	require.NoError(t, err)
	_, err = eng.ExecuteTransfer(ctx, TransferRequest{
		SourceAccountID:      usd.ID,
		DestinationAccountID: eur.ID,
		Amount:               dec("10.00"),
		Currency:             "USD",
	})
	assert.ErrorIs(t, err, ledger.ErrAccountNotActive)
}

func TestBalanceMatchesIndependentEntrySum(t *testing.T) {
	ctx := context.Background()
	eng, directory, store, _ := newTestEngine(t)
	a := mustAccount(t, directory, "user_1", accounts.Checking, "USD")
	b := mustAccount(t, directory, "user_1", accounts.Savings, "USD")

	mustDeposit(t, eng, a.ID, "300.00", "USD")
	mustDeposit(t, eng, b.ID, "20.50", "USD")

	_, err := eng.ExecuteWithdrawal(ctx, WithdrawalRequest{AccountID: a.ID, Amount: dec("45.25"), Currency: "USD"})
	require.NoError(t, err)

	_, err = eng.ExecuteTransfer(ctx, TransferRequest{
		SourceAccountID: a.ID, DestinationAccountID: b.ID,
		Amount: dec("100.0001"), Currency: "USD",
	})
	require.NoError(t, err)

	for _, accountID := range []string{a.ID, b.ID} {
		entries, err := store.ListEntries(ctx, accountID, 0, 0)
		require.NoError(t, err)

		expected := ledger.SumEntries(entries)
		balance, err := store.CalculateBalance(ctx, accountID)
		require.NoError(t, err)
		assert.True(t, balance.Equal(expected), "account %s: %s != %s", accountID, balance, expected)
	}
}

func TestCalculateBalanceIsIdempotent(t *testing.T) {
	ctx := context.Background()
	eng, directory, store, _ := newTestEngine(t)
	account := mustAccount(t, directory, "user_1", accounts.Checking, "USD")
	mustDeposit(t, eng, account.ID, "123.45", "USD")

	first, err := store.CalculateBalance(ctx, account.ID)
	require.NoError(t, err)
	second, err := store.CalculateBalance(ctx, account.ID)
	require.NoError(t, err)
	assert.True(t, first.Equal(second))
}

func TestIdempotencyKeyReplay(t *testing.T) {
	ctx := context.Background()
	eng, directory, store, _ := newTestEngine(t)
	account := mustAccount(t, directory, "user_1", accounts.Checking, "USD")

	req := DepositRequest{
		AccountID:      account.ID,
		Amount:         dec("10.00"),
		Currency:       "USD",
		IdempotencyKey: "dep-1",
	}

	first, err := eng.ExecuteDeposit(ctx, req)
	require.NoError(t, err)

	second, err := eng.ExecuteDeposit(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	// The replay moved no additional funds.
	balance, err := store.CalculateBalance(ctx, account.ID)
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("10.00")), "got %s", balance)
}

func TestGetAccountWithBalance(t *testing.T) {
	ctx := context.Background()
	eng, directory, _, _ := newTestEngine(t)
	account := mustAccount(t, directory, "user_1", accounts.Checking, "USD")
	mustDeposit(t, eng, account.ID, "55.00", "USD")

	got, err := eng.GetAccountWithBalance(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, account.ID, got.ID)
	assert.True(t, got.Balance.Equal(dec("55.00")))

	_, err = eng.GetAccountWithBalance(ctx, "missing")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestListAccountsForUser(t *testing.T) {
	ctx := context.Background()
	eng, directory, _, _ := newTestEngine(t)
	a := mustAccount(t, directory, "alice", accounts.Checking, "USD")
	mustAccount(t, directory, "alice", accounts.Savings, "USD")
	mustDeposit(t, eng, a.ID, "10.00", "USD")

	list, err := eng.ListAccountsForUser(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, list, 2)
	for _, got := range list {
		if got.ID == a.ID {
			assert.True(t, got.Balance.Equal(dec("10.00")))
		} else {
			assert.True(t, got.Balance.IsZero())
		}
	}
}

func TestListLedger_UnknownAccount(t *testing.T) {
	eng, _, _, _ := newTestEngine(t)

	_, err := eng.ListLedger(context.Background(), "missing", 10, 0)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestAccountLocks_OrderedAcquire(t *testing.T) {
	locks := newAccountLocks()

	release, err := locks.acquire(context.Background(), "b", "a")
	require.NoError(t, err)

	// A contended acquire times out with the operation rejected and no
	// locks held.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locks.acquire(ctx, "a", "c")
	assert.ErrorIs(t, err, ledger.ErrOperationTimeout)

	release()

	// After release both accounts are acquirable again.
	release2, err := locks.acquire(context.Background(), "a", "b", "c")
	require.NoError(t, err)
	release2()
}

func lockTableSize(al *accountLocks) int {
	al.mu.Lock()
	defer al.mu.Unlock()
	return len(al.locks)
}

func TestAccountLocks_EntriesEvictedOnRelease(t *testing.T) {
	locks := newAccountLocks()

	release, err := locks.acquire(context.Background(), "a", "b")
	require.NoError(t, err)
	assert.Equal(t, 2, lockTableSize(locks))

	release()
	assert.Equal(t, 0, lockTableSize(locks))

	// A timed-out acquire leaves nothing behind either.
	release, err = locks.acquire(context.Background(), "a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locks.acquire(ctx, "a", "b")
	require.ErrorIs(t, err, ledger.ErrOperationTimeout)
	assert.Equal(t, 1, lockTableSize(locks))

	release()
	assert.Equal(t, 0, lockTableSize(locks))
}

func TestAccountLocks_EntrySurvivesWhileContended(t *testing.T) {
	locks := newAccountLocks()

	release, err := locks.acquire(context.Background(), "a")
	require.NoError(t, err)

	acquired := make(chan func(), 1)
	go func() {
		rel, err := locks.acquire(context.Background(), "a")
		if err == nil {
			acquired <- rel
		}
	}()

	// Wait until the second acquire is registered as a waiter.
	require.Eventually(t, func() bool {
		locks.mu.Lock()
		defer locks.mu.Unlock()
		l, ok := locks.locks["a"]
		return ok && l.refs == 2
	}, time.Second, time.Millisecond)

	release()
	rel2 := <-acquired
	rel2()
	assert.Equal(t, 0, lockTableSize(locks))
}

func TestOppositeTransfersDoNotDeadlock(t *testing.T) {
	ctx := context.Background()
	eng, directory, store, _ := newTestEngine(t)
	a := mustAccount(t, directory, "user_1", accounts.Checking, "USD")
	b := mustAccount(t, directory, "user_2", accounts.Checking, "USD")
	mustDeposit(t, eng, a.ID, "100.00", "USD")
	mustDeposit(t, eng, b.ID, "100.00", "USD")

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := eng.ExecuteTransfer(ctx, TransferRequest{
				SourceAccountID: a.ID, DestinationAccountID: b.ID,
				Amount: dec("1.00"), Currency: "USD",
			})
			require.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := eng.ExecuteTransfer(ctx, TransferRequest{
				SourceAccountID: b.ID, DestinationAccountID: a.ID,
				Amount: dec("1.00"), Currency: "USD",
			})
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	// Equal flow in both directions leaves both balances unchanged.
	aBalance, err := store.CalculateBalance(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, aBalance.Equal(dec("100.00")), "got %s", aBalance)

	bBalance, err := store.CalculateBalance(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, bBalance.Equal(dec("100.00")), "got %s", bBalance)
}
