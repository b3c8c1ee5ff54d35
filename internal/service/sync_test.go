package service

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jask/moneysync/internal/category"
	"github.com/jask/moneysync/internal/database"
	"github.com/jask/moneysync/internal/database/repository"
	"github.com/jask/moneysync/internal/provider"
	"github.com/jask/moneysync/internal/secrets"
	"github.com/jask/moneysync/internal/testdata"
)

var start = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

type harness struct {
	ctx   context.Context
	db    *sql.DB
	txs   *repository.TransactionRepo
	insts *repository.InstitutionRepo
	runs  *repository.SyncRunRepo
	fake  *testdata.FakeProvider
	gen   *testdata.Generator
	svc   *SyncService
}

func setupSync(t *testing.T) *harness {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	db, err := database.Setup(filepath.Join(t.TempDir(), "test.db"), database.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	h := &harness{
		ctx:   ctx,
		db:    db,
		txs:   repository.NewTransactionRepo(db),
		insts: repository.NewInstitutionRepo(db, nil),
		runs:  repository.NewSyncRunRepo(db),
		fake:  testdata.NewFakeProvider(testdata.Account("acc-1", "Checking", "1200.50")),
		gen:   testdata.NewGenerator(42, "acc-1", start),
	}
	h.svc = &SyncService{
		Institutions: h.insts,
		Accounts:     repository.NewAccountRepo(db),
		Transactions: h.txs,
		Runs:         h.runs,
		Provider:     h.fake,
		Concurrency:  2,
		Log:          zerolog.Nop(),
	}
	require.NoError(t, h.insts.Upsert(ctx, "chase", "access-chase"))
	return h
}

func (h *harness) cursor(t *testing.T, name string) *string {
	t.Helper()
	in, err := h.insts.Get(h.ctx, name)
	require.NoError(t, err)
	require.NotNil(t, in)
	return in.Cursor
}

func TestSyncInstitutionInitialAndIdempotent(t *testing.T) {
	t.Parallel()
	h := setupSync(t)

	batch := h.gen.Random("tx", 6)
	batch[0].Category = []string{"Food and Drink", "Restaurants"}
	final := h.fake.Script("",
		provider.Page{Added: batch[:3]},
		provider.Page{Added: batch[3:]},
	)

	var transitions []State
	var mu sync.Mutex
	h.svc.Observer = func(_ string, _, to State) {
		mu.Lock()
		transitions = append(transitions, to)
		mu.Unlock()
	}

	out := h.svc.SyncInstitution(h.ctx, "chase", SyncOptions{})
	require.Empty(t, out.Errors)
	assert.Equal(t, StateIdle, out.State)
	assert.Equal(t, 1, out.AccountsSynced)
	assert.Equal(t, 6, out.TransactionsSynced)
	assert.Equal(t, 6, out.NewCount)
	assert.Len(t, out.CreatedIDs, 6)
	assert.Equal(t, []State{StateFetching, StateReconciling, StateFetching, StateReconciling, StatePersistingCursor, StateIdle}, transitions)

	cur := h.cursor(t, "chase")
	require.NotNil(t, cur)
	assert.Equal(t, final, *cur)

	got, err := h.txs.Get(h.ctx, batch[0].TransactionID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "chase", got.Institution)
	pc, err := category.ParseProviderCategory(got.ProviderCategory)
	require.NoError(t, err)
	assert.Equal(t, "Food and Drink", pc.Legacy)
	assert.Equal(t, "Food and Drink > Restaurants", pc.LegacyDetailed)
	assert.Equal(t, "HIGH", pc.Confidence)

	again := h.svc.SyncInstitution(h.ctx, "chase", SyncOptions{})
	require.Empty(t, again.Errors)
	assert.Zero(t, again.NewCount)
	assert.Zero(t, again.TransactionsSynced)
	n, err := h.txs.CountAll(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Equal(t, final, *h.cursor(t, "chase"))

	runs, err := h.runs.Recent(h.ctx, "chase", 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, string(StateIdle), runs[0].State)
}

func TestSyncPendingTransitionIsUpdate(t *testing.T) {
	t.Parallel()
	h := setupSync(t)

	pending := h.gen.Transaction("tx-p", "STARBUCKS STORE 123", "Starbucks", "5.25", 0, true)
	c1 := h.fake.Script("", provider.Page{Added: []provider.Transaction{pending}})
	first := h.svc.SyncInstitution(h.ctx, "chase", SyncOptions{})
	require.Empty(t, first.Errors)
	require.Equal(t, 1, first.NewCount)

	posted := pending
	posted.Pending = false
	h.fake.Script(c1, provider.Page{Modified: []provider.Transaction{posted}})
	second := h.svc.SyncInstitution(h.ctx, "chase", SyncOptions{})
	require.Empty(t, second.Errors)
	assert.Zero(t, second.NewCount)
	assert.Equal(t, 1, second.UpdatedCount)

	n, err := h.txs.CountAll(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	got, err := h.txs.Get(h.ctx, "tx-p")
	require.NoError(t, err)
	assert.False(t, got.Pending)
}

func TestSyncIgnoresPendingRegression(t *testing.T) {
	t.Parallel()
	h := setupSync(t)

	posted := h.gen.Transaction("tx-1", "Whole Foods", "Whole Foods", "80.00", 1, false)
	c1 := h.fake.Script("", provider.Page{Added: []provider.Transaction{posted}})
	require.Empty(t, h.svc.SyncInstitution(h.ctx, "chase", SyncOptions{}).Errors)

	stale := posted
	stale.Pending = true
	h.fake.Script(c1, provider.Page{Modified: []provider.Transaction{stale}})
	out := h.svc.SyncInstitution(h.ctx, "chase", SyncOptions{})
	require.Empty(t, out.Errors)
	assert.Zero(t, out.UpdatedCount)

	got, err := h.txs.Get(h.ctx, "tx-1")
	require.NoError(t, err)
	assert.False(t, got.Pending)
}

func TestSyncRemovalsAndFuzzyDuplicates(t *testing.T) {
	t.Parallel()
	h := setupSync(t)

	amazon := h.gen.Transaction("tx-a", "Amazon", "", "42.00", 0, false)
	doomed := h.gen.Transaction("tx-d", "Netflix", "", "15.49", 0, true)
	c1 := h.fake.Script("", provider.Page{Added: []provider.Transaction{amazon, doomed}})
	require.Empty(t, h.svc.SyncInstitution(h.ctx, "chase", SyncOptions{}).Errors)

	reissued := h.gen.Transaction("tx-b", "AMAZON.COM*1A2B3", "", "42.00", 2, false)
	settled := h.gen.Transaction("tx-d2", "Netflix", "", "15.49", 1, false)
	h.fake.Script(c1, provider.Page{
		Added:   []provider.Transaction{reissued, settled},
		Removed: testdata.Removed("tx-d", "tx-missing"),
	})
	out := h.svc.SyncInstitution(h.ctx, "chase", SyncOptions{})
	require.Empty(t, out.Errors)
	assert.Equal(t, 1, out.RemovedCount)
	assert.Equal(t, 1, out.DuplicateCount)
	assert.Equal(t, 1, out.NewCount)
	assert.Equal(t, []string{"tx-d2"}, out.CreatedIDs)

	ok, err := h.txs.Exists(h.ctx, "tx-b")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSyncProviderFailureKeepsCursor(t *testing.T) {
	t.Parallel()
	h := setupSync(t)

	c1 := h.fake.Script("", provider.Page{Added: h.gen.Random("tx", 2)})
	require.Empty(t, h.svc.SyncInstitution(h.ctx, "chase", SyncOptions{}).Errors)

	h.fake.Script(c1, provider.Page{Added: h.gen.Random("more", 2)}, provider.Page{})
	h.fake.FailNext(c1+">1", &provider.Error{Status: 400, Type: "ITEM_ERROR", Code: "ITEM_LOGIN_REQUIRED", Message: "login required"})

	out := h.svc.SyncInstitution(h.ctx, "chase", SyncOptions{})
	assert.True(t, out.Failed())
	require.Len(t, out.Errors, 1)
	assert.Contains(t, out.Errors[0], "ITEM_LOGIN_REQUIRED")
	assert.Equal(t, c1, *h.cursor(t, "chase"))

	runs, err := h.runs.Recent(h.ctx, "chase", 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, string(StateFailed), runs[0].State)
	assert.Nil(t, runs[0].CursorAfter)
}

func TestSyncAccountsFailureAborts(t *testing.T) {
	t.Parallel()
	h := setupSync(t)
	h.fake.FailAccounts(errors.New("connection refused"))

	out := h.svc.SyncInstitution(h.ctx, "chase", SyncOptions{})
	assert.True(t, out.Failed())
	require.Len(t, out.Errors, 1)
	assert.Nil(t, h.cursor(t, "chase"))
	assert.Empty(t, h.fake.Calls())
}

func TestSyncRestartsOnMutationDuringPagination(t *testing.T) {
	t.Parallel()
	h := setupSync(t)

	batch := h.gen.Random("tx", 4)
	final := h.fake.Script("", provider.Page{Added: batch[:2]}, provider.Page{Added: batch[2:]})
	h.fake.FailNext(">1", &provider.Error{Status: 400, Type: "TRANSACTIONS_ERROR", Code: "TRANSACTIONS_SYNC_MUTATION_DURING_PAGINATION"})

	out := h.svc.SyncInstitution(h.ctx, "chase", SyncOptions{})
	require.Empty(t, out.Errors)
	assert.Equal(t, 4, out.NewCount)
	assert.Equal(t, 2, out.UpdatedCount)
	assert.Equal(t, []string{"", ">1", "", ">1"}, h.fake.Calls())
	assert.Equal(t, final, *h.cursor(t, "chase"))
}

func TestSyncSkipsMalformedItems(t *testing.T) {
	t.Parallel()
	h := setupSync(t)

	good := h.gen.Transaction("tx-1", "Coffee", "", "3.00", 0, false)
	noAmount := h.gen.Transaction("tx-2", "Broken", "", "1.00", 0, false)
	noAmount.Amount = nil
	badDate := h.gen.Transaction("tx-3", "Broken", "", "1.00", 0, false)
	badDate.Date = "yesterday"
	h.fake.Script("", provider.Page{Added: []provider.Transaction{good, noAmount, badDate}})

	out := h.svc.SyncInstitution(h.ctx, "chase", SyncOptions{})
	assert.Equal(t, StateIdle, out.State)
	assert.Len(t, out.Errors, 2)
	assert.Equal(t, 1, out.NewCount)
	require.NotNil(t, h.cursor(t, "chase"))
}

func TestSyncFullIgnoresCursor(t *testing.T) {
	t.Parallel()
	h := setupSync(t)
	h.fake.Script("", provider.Page{Added: h.gen.Random("tx", 1)})
	require.Empty(t, h.svc.SyncInstitution(h.ctx, "chase", SyncOptions{}).Errors)

	out := h.svc.SyncInstitution(h.ctx, "chase", SyncOptions{Full: true})
	require.Empty(t, out.Errors)
	assert.Equal(t, 1, out.UpdatedCount)
	assert.Equal(t, []string{"", ""}, h.fake.Calls())
}

func TestSyncUnknownInstitution(t *testing.T) {
	t.Parallel()
	h := setupSync(t)
	out := h.svc.SyncInstitution(h.ctx, "nope", SyncOptions{})
	assert.True(t, out.Failed())
	require.Len(t, out.Errors, 1)
	assert.Contains(t, out.Errors[0], ErrUnknownInstitution.Error())
}

func TestSyncAllCooldownAndIsolation(t *testing.T) {
	t.Parallel()
	h := setupSync(t)
	require.NoError(t, h.insts.Upsert(h.ctx, "amex", "access-amex"))
	h.fake.Script("", provider.Page{Added: h.gen.Random("tx", 3)})

	now := start.Add(24 * time.Hour)
	h.svc.Now = func() time.Time { return now }

	sum, err := h.svc.SyncAll(h.ctx, SyncOptions{})
	require.NoError(t, err)
	require.Len(t, sum.Outcomes, 2)
	assert.Empty(t, sum.Skipped)
	assert.Equal(t, 3, sum.Totals().NewCount)

	now = now.Add(time.Minute)
	sum, err = h.svc.SyncAll(h.ctx, SyncOptions{})
	require.NoError(t, err)
	assert.Empty(t, sum.Outcomes)
	assert.ElementsMatch(t, []string{"amex", "chase"}, sum.Skipped)

	sum, err = h.svc.SyncAll(h.ctx, SyncOptions{Force: true, Institutions: []string{"chase", "ghost"}})
	require.NoError(t, err)
	require.Len(t, sum.Outcomes, 2)
	assert.False(t, sum.Outcomes[0].Failed())
	assert.True(t, sum.Outcomes[1].Failed())
}

func TestSyncAllIsolatesUnreadableToken(t *testing.T) {
	t.Parallel()
	h := setupSync(t)

	keyA, err := secrets.NewSealer("key-a")
	require.NoError(t, err)
	keyB, err := secrets.NewSealer("key-b")
	require.NoError(t, err)
	sealedA := repository.NewInstitutionRepo(h.db, keyA)
	require.NoError(t, sealedA.Upsert(h.ctx, "chase", "access-chase"))
	require.NoError(t, repository.NewInstitutionRepo(h.db, keyB).Upsert(h.ctx, "amex", "access-amex"))
	h.svc.Institutions = sealedA
	h.fake.Script("", provider.Page{Added: h.gen.Random("tx", 2)})

	sum, err := h.svc.SyncAll(h.ctx, SyncOptions{Force: true})
	require.NoError(t, err)
	require.Len(t, sum.Outcomes, 2)

	amex, chase := sum.Outcomes[0], sum.Outcomes[1]
	assert.Equal(t, "amex", amex.Institution)
	assert.True(t, amex.Failed())
	require.Len(t, amex.Errors, 1)
	assert.Contains(t, amex.Errors[0], "load institution")

	assert.Equal(t, "chase", chase.Institution)
	assert.False(t, chase.Failed())
	assert.Equal(t, 2, chase.NewCount)
}

func TestSyncAutoCategorizes(t *testing.T) {
	t.Parallel()
	h := setupSync(t)
	h.svc.AutoCategorize = true
	h.svc.Categorizer = &CategorizerService{Transactions: h.txs, Classifier: keywordClassifier(), Log: zerolog.Nop()}

	coffee := h.gen.Transaction("tx-1", "STARBUCKS STORE 9", "Starbucks", "4.10", 0, false)
	h.fake.Script("", provider.Page{Added: []provider.Transaction{coffee}})
	require.Empty(t, h.svc.SyncInstitution(h.ctx, "chase", SyncOptions{}).Errors)

	got, err := h.txs.Get(h.ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, "coffee_shops", got.AICategory)
	assert.Equal(t, "coffee_shops", got.EffectiveCategory())
}

func TestAutoCategorizeLogsWithRunFields(t *testing.T) {
	t.Parallel()
	h := setupSync(t)
	var buf bytes.Buffer
	h.svc.Log = zerolog.New(&buf)
	h.svc.AutoCategorize = true
	h.svc.Categorizer = &CategorizerService{Transactions: h.txs, Classifier: keywordClassifier(), Log: zerolog.Nop()}

	coffee := h.gen.Transaction("tx-1", "STARBUCKS STORE 9", "Starbucks", "4.10", 0, false)
	h.fake.Script("", provider.Page{Added: []provider.Transaction{coffee}})
	out := h.svc.SyncInstitution(h.ctx, "chase", SyncOptions{})
	require.Empty(t, out.Errors)

	var found bool
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		if bytes.Contains(line, []byte("categorize finished")) {
			found = true
			assert.Contains(t, string(line), `"institution":"chase"`)
			assert.Contains(t, string(line), `"run_id":"`+out.RunID+`"`)
		}
	}
	assert.True(t, found, "categorizer should log through the run logger")
}

func TestNormalize(t *testing.T) {
	t.Parallel()
	amount := decimal.RequireFromString("-1500.00")
	city, region := "Austin", "TX"
	authorized := "2024-04-30"
	tx, err := normalize(provider.Transaction{
		TransactionID:  " tx-9 ",
		AccountID:      "acc-1",
		Amount:         &amount,
		Date:           "2024-05-01",
		AuthorizedDate: &authorized,
		Name:           "ACME PAYROLL",
		PersonalFinanceCategory: &provider.PersonalFinanceCategory{
			Primary: "INCOME", Detailed: "INCOME_WAGES",
		},
		Location: &provider.Location{City: &city, Region: &region},
	})
	require.NoError(t, err)
	assert.Equal(t, "tx-9", tx.ID)
	assert.Equal(t, "USD", tx.Currency)
	assert.Equal(t, "Austin, TX", tx.Location)
	assert.Equal(t, "cgr: INCOME, det: INCOME_WAGES", tx.ProviderCategory)
	require.NotNil(t, tx.AuthorizedDate)
	assert.Equal(t, "2024-04-30", database.FormatDate(*tx.AuthorizedDate))

	_, err = normalize(provider.Transaction{TransactionID: "x", Amount: &amount, Date: "2024-05-01"})
	require.ErrorIs(t, err, ErrMalformedItem)
}
