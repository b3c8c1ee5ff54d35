package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/jask/moneysync/internal/database/repository"
	"github.com/jask/moneysync/internal/logger"
	"github.com/jask/moneysync/internal/match"
	"github.com/jask/moneysync/internal/provider"
)

// State is a step of an institution sync.
type State string

const (
	StateIdle             State = "IDLE"
	StateFetching         State = "FETCHING"
	StateReconciling      State = "RECONCILING"
	StatePersistingCursor State = "PERSISTING_CURSOR"
	StateFailed           State = "FAILED"
)

const (
	defaultCooldown    = 5 * time.Minute
	defaultMaxRestarts = 3
)

// ErrUnknownInstitution is returned for an institution with no stored link.
var ErrUnknownInstitution = errors.New("unknown institution")

// SyncOptions controls a sync run.
type SyncOptions struct {
	// Full ignores the stored cursor and pulls the whole history.
	Full bool
	// Force skips the cooldown in SyncAll.
	Force bool
	// Institutions limits SyncAll; empty means every linked institution.
	Institutions []string
}

// SyncOutcome reports one institution sync. It is always returned, never
// thrown: failures end up in Errors with State set to StateFailed.
type SyncOutcome struct {
	Institution        string
	RunID              string
	AccountsSynced     int
	TransactionsSynced int
	NewCount           int
	UpdatedCount       int
	DuplicateCount     int
	RemovedCount       int
	Errors             []string
	Duration           time.Duration
	State              State
	CreatedIDs         []string
}

// Failed reports whether the sync aborted.
func (o SyncOutcome) Failed() bool { return o.State == StateFailed }

// SyncSummary aggregates a SyncAll run.
type SyncSummary struct {
	Outcomes []SyncOutcome
	Skipped  []string
}

// Totals adds up the counters of every outcome.
func (s SyncSummary) Totals() SyncOutcome {
	var t SyncOutcome
	for _, o := range s.Outcomes {
		t.AccountsSynced += o.AccountsSynced
		t.TransactionsSynced += o.TransactionsSynced
		t.NewCount += o.NewCount
		t.UpdatedCount += o.UpdatedCount
		t.DuplicateCount += o.DuplicateCount
		t.RemovedCount += o.RemovedCount
		t.Errors = append(t.Errors, o.Errors...)
		t.Duration += o.Duration
	}
	return t
}

// Observer is told about every state change.
type Observer func(institution string, from, to State)

// SyncService pulls provider deltas into the store.
type SyncService struct {
	Institutions *repository.InstitutionRepo
	Accounts     *repository.AccountRepo
	Transactions *repository.TransactionRepo
	Runs         *repository.SyncRunRepo
	Provider     provider.Provider
	Detector     *match.Detector
	// Categorizer, when set with AutoCategorize, classifies created rows.
	Categorizer    *CategorizerService
	AutoCategorize bool

	Cooldown    time.Duration
	Concurrency int
	MaxRestarts int
	Observer    Observer
	Log         zerolog.Logger
	Now         func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (s *SyncService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *SyncService) lockFor(name string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locks == nil {
		s.locks = make(map[string]*sync.Mutex)
	}
	l, ok := s.locks[name]
	if !ok {
		l = &sync.Mutex{}
		s.locks[name] = l
	}
	return l
}

func (s *SyncService) detector() *match.Detector {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Detector == nil {
		s.Detector = match.NewDetector(s.Transactions, match.DefaultOptions())
	}
	return s.Detector
}

// run carries the per-sync mutable state.
type run struct {
	svc     *SyncService
	log     zerolog.Logger
	state   State
	outcome *SyncOutcome
}

func (r *run) transition(to State) {
	from := r.state
	r.state = to
	r.outcome.State = to
	r.log.Debug().Str("from", string(from)).Str("to", string(to)).Msg("sync state")
	if r.svc.Observer != nil {
		r.svc.Observer(r.outcome.Institution, from, to)
	}
}

func (r *run) itemError(err error) {
	r.outcome.Errors = append(r.outcome.Errors, err.Error())
	r.log.Warn().Err(err).Msg("sync item skipped")
}

func (r *run) fail(err error) {
	r.outcome.Errors = append(r.outcome.Errors, err.Error())
	r.log.Error().Err(err).Str("state", string(r.state)).Msg("sync failed")
	r.transition(StateFailed)
}

// SyncInstitution runs the full fetch, reconcile and persist cycle for one
// institution. The cursor only moves once every page has been applied.
func (s *SyncService) SyncInstitution(ctx context.Context, name string, opts SyncOptions) (out SyncOutcome) {
	name = strings.TrimSpace(name)
	lock := s.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	start := s.now()
	out = SyncOutcome{Institution: name, RunID: uuid.NewString(), State: StateIdle}
	r := &run{
		svc:     s,
		log:     logger.WithFields(s.Log, map[string]interface{}{"institution": name, "run_id": out.RunID}),
		state:   StateIdle,
		outcome: &out,
	}
	var cursorBefore, cursorAfter *string
	loaded := false
	defer func() {
		out.Duration = s.now().Sub(start)
		if loaded {
			s.record(ctx, r, opts, start, cursorBefore, cursorAfter)
		}
	}()

	inst, err := s.Institutions.Get(ctx, name)
	if err != nil {
		r.fail(fmt.Errorf("load institution: %w", err))
		return out
	}
	if inst == nil {
		r.fail(fmt.Errorf("%w: %s", ErrUnknownInstitution, name))
		return out
	}
	loaded = true
	cursorBefore = inst.Cursor
	cursor := ""
	if inst.Cursor != nil && !opts.Full {
		cursor = *inst.Cursor
	}
	r.log.Info().Bool("full", cursor == "").Msg("sync started")

	r.transition(StateFetching)
	if err := s.refreshAccounts(ctx, r, inst); err != nil {
		r.fail(err)
		return out
	}

	next, err := s.pull(ctx, r, inst.AccessToken, cursor)
	if err != nil {
		r.fail(err)
		return out
	}

	r.transition(StatePersistingCursor)
	if err := s.Institutions.SaveSyncState(ctx, name, next, s.now()); err != nil {
		r.fail(fmt.Errorf("persist cursor: %w", err))
		return out
	}
	cursorAfter = &next
	r.transition(StateIdle)

	r.log.Info().
		Int("accounts", out.AccountsSynced).
		Int("transactions", out.TransactionsSynced).
		Int("new", out.NewCount).
		Int("updated", out.UpdatedCount).
		Int("duplicates", out.DuplicateCount).
		Int("removed", out.RemovedCount).
		Int("errors", len(out.Errors)).
		Msg("sync finished")

	if s.AutoCategorize && s.Categorizer != nil && len(out.CreatedIDs) > 0 {
		if res, err := s.Categorizer.CategorizeIDs(logger.WithContext(ctx, r.log), out.CreatedIDs); err != nil {
			r.log.Warn().Err(err).Msg("auto-categorize failed")
		} else if len(res.Errors) > 0 {
			r.log.Warn().Int("errors", len(res.Errors)).Msg("auto-categorize finished with errors")
		}
	}
	return out
}

func (s *SyncService) refreshAccounts(ctx context.Context, r *run, inst *repository.Institution) error {
	accts, err := s.Provider.Accounts(ctx, inst.AccessToken)
	if err != nil {
		return fmt.Errorf("fetch accounts: %w", err)
	}
	for _, a := range accts {
		acct := normalizeAccount(inst.Name, a)
		if acct.ID == "" {
			r.itemError(fmt.Errorf("%w: account without account_id", ErrMalformedItem))
			continue
		}
		if err := s.Accounts.Upsert(ctx, acct); err != nil {
			r.itemError(fmt.Errorf("store account %s: %w", acct.ID, err))
			continue
		}
		r.outcome.AccountsSynced++
	}
	return nil
}

// pull pages through the provider from cursor and returns the final cursor.
// A mutation during pagination restarts from cursor; pages already applied are
// redelivered and resolve to updates.
func (s *SyncService) pull(ctx context.Context, r *run, token, cursor string) (string, error) {
	maxRestarts := s.MaxRestarts
	if maxRestarts <= 0 {
		maxRestarts = defaultMaxRestarts
	}
	restarts := 0
	next := cursor
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if r.state != StateFetching {
			r.transition(StateFetching)
		}
		page, err := s.Provider.SyncTransactions(ctx, token, next)
		if errors.Is(err, provider.ErrMutationDuringPagination) && restarts < maxRestarts {
			restarts++
			r.log.Warn().Int("restart", restarts).Msg("upstream changed during pagination, restarting")
			next = cursor
			continue
		}
		if err != nil {
			return "", fmt.Errorf("fetch transactions: %w", err)
		}

		r.transition(StateReconciling)
		s.applyPage(ctx, r, page)
		next = page.NextCursor
		if !page.HasMore {
			return next, nil
		}
	}
}

// applyPage reconciles one page. Removals go first so a pending row replaced
// under a new id does not shadow its posted successor.
func (s *SyncService) applyPage(ctx context.Context, r *run, page provider.Page) {
	if len(page.Removed) > 0 {
		ids := make([]string, 0, len(page.Removed))
		for _, rm := range page.Removed {
			if id := strings.TrimSpace(rm.TransactionID); id != "" {
				ids = append(ids, id)
			}
		}
		n, err := s.Transactions.DeleteByIDs(ctx, ids)
		if err != nil {
			r.itemError(fmt.Errorf("remove %d transactions: %w", len(ids), err))
		}
		r.outcome.RemovedCount += n
	}

	items := dedupe(append(append([]provider.Transaction{}, page.Added...), page.Modified...))
	var creates []repository.Transaction
	updates := make(map[string]repository.TransactionUpdate)
	for _, item := range items {
		tx, err := normalize(item)
		if err != nil {
			r.itemError(err)
			continue
		}
		r.outcome.TransactionsSynced++

		d, err := s.detector().Classify(ctx, tx)
		if err != nil {
			r.itemError(fmt.Errorf("classify %s: %w", tx.ID, err))
			continue
		}
		switch d.Kind {
		case match.Update:
			if d.Existing != nil && !d.Existing.Pending && tx.Pending {
				r.log.Warn().Str("transaction_id", tx.ID).Msg("ignoring pending update for posted transaction")
				continue
			}
			updates[tx.ID] = repository.SyncFields(tx)
		case match.Duplicate:
			r.outcome.DuplicateCount++
			r.log.Debug().Str("transaction_id", tx.ID).Str("existing_id", d.ExistingID).Float64("similarity", d.Similarity).Msg("duplicate skipped")
		default:
			creates = append(creates, tx)
		}
	}

	s.create(ctx, r, creates)
	s.update(ctx, r, updates)
}

func (s *SyncService) create(ctx context.Context, r *run, txs []repository.Transaction) {
	if len(txs) == 0 {
		return
	}
	ids, err := s.Transactions.Create(ctx, txs)
	if err == nil {
		r.outcome.NewCount += len(ids)
		r.outcome.CreatedIDs = append(r.outcome.CreatedIDs, ids...)
		return
	}
	r.log.Warn().Err(err).Int("batch", len(txs)).Msg("create batch failed, retrying per item")
	for _, tx := range txs {
		ids, err := s.Transactions.Create(ctx, []repository.Transaction{tx})
		if err != nil {
			r.itemError(fmt.Errorf("create %s: %w", tx.ID, err))
			continue
		}
		r.outcome.NewCount += len(ids)
		r.outcome.CreatedIDs = append(r.outcome.CreatedIDs, ids...)
	}
}

func (s *SyncService) update(ctx context.Context, r *run, updates map[string]repository.TransactionUpdate) {
	if len(updates) == 0 {
		return
	}
	n, err := s.Transactions.BulkUpdate(ctx, updates)
	if err == nil {
		r.outcome.UpdatedCount += n
		return
	}
	r.log.Warn().Err(err).Int("batch", len(updates)).Msg("update batch failed, retrying per item")
	ids := make([]string, 0, len(updates))
	for id := range updates {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		ok, err := s.Transactions.UpdateByID(ctx, id, updates[id])
		if err != nil {
			r.itemError(fmt.Errorf("update %s: %w", id, err))
			continue
		}
		if ok {
			r.outcome.UpdatedCount++
		}
	}
}

// dedupe keeps the last record for each id, in first-seen order.
func dedupe(items []provider.Transaction) []provider.Transaction {
	idx := make(map[string]int, len(items))
	out := make([]provider.Transaction, 0, len(items))
	for _, it := range items {
		id := strings.TrimSpace(it.TransactionID)
		if i, ok := idx[id]; ok && id != "" {
			out[i] = it
			continue
		}
		idx[id] = len(out)
		out = append(out, it)
	}
	return out
}

func (s *SyncService) record(ctx context.Context, r *run, opts SyncOptions, start time.Time, before, after *string) {
	if s.Runs == nil {
		return
	}
	o := r.outcome
	_, err := s.Runs.Record(ctx, repository.SyncRun{
		ID:             o.RunID,
		Institution:    o.Institution,
		StartedAt:      start,
		FinishedAt:     start.Add(o.Duration),
		State:          string(o.State),
		FullSync:       opts.Full,
		AccountsSynced: o.AccountsSynced,
		Transactions:   o.TransactionsSynced,
		NewCount:       o.NewCount,
		UpdatedCount:   o.UpdatedCount,
		DuplicateCount: o.DuplicateCount,
		RemovedCount:   o.RemovedCount,
		Errors:         o.Errors,
		CursorBefore:   before,
		CursorAfter:    after,
	})
	if err != nil {
		r.log.Warn().Err(err).Msg("record sync run")
	}
}

// SyncAll syncs the selected institutions concurrently. Each institution is
// its own failure domain; one failing never affects the others.
func (s *SyncService) SyncAll(ctx context.Context, opts SyncOptions) (SyncSummary, error) {
	insts, err := s.Institutions.List(ctx)
	if err != nil {
		return SyncSummary{}, fmt.Errorf("list institutions: %w", err)
	}
	known := make(map[string]repository.Institution, len(insts))
	for _, in := range insts {
		known[in.Name] = in
	}

	names := opts.Institutions
	if len(names) == 0 {
		for _, in := range insts {
			names = append(names, in.Name)
		}
	}

	cooldown := s.Cooldown
	if cooldown == 0 {
		cooldown = defaultCooldown
	}

	var summary SyncSummary
	var targets []string
	for _, n := range names {
		in, ok := known[n]
		if ok && !opts.Force && in.LastSyncAt != nil && s.now().Sub(*in.LastSyncAt) < cooldown {
			s.Log.Info().Str("institution", n).Time("last_sync", *in.LastSyncAt).Msg("synced recently, skipping")
			summary.Skipped = append(summary.Skipped, n)
			continue
		}
		targets = append(targets, n)
	}

	outcomes := make([]SyncOutcome, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	limit := s.Concurrency
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)
	for i, n := range targets {
		i, n := i, n
		g.Go(func() error {
			outcomes[i] = s.SyncInstitution(gctx, n, opts)
			return nil
		})
	}
	_ = g.Wait()
	summary.Outcomes = outcomes
	return summary, nil
}
