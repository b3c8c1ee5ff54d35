// Package match decides whether an incoming transaction is new, a copy of a
// stored one, or an update to a stored one.
package match

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"
	"github.com/shopspring/decimal"

	"github.com/jask/moneysync/internal/database/repository"
)

// Kind is the outcome of classifying a candidate.
type Kind int

const (
	New Kind = iota
	Duplicate
	Update
)

func (k Kind) String() string {
	switch k {
	case Duplicate:
		return "DUPLICATE"
	case Update:
		return "UPDATE"
	default:
		return "NEW"
	}
}

// Decision is the classification of one candidate.
type Decision struct {
	Kind       Kind
	ExistingID string
	Existing   *repository.Transaction
	Similarity float64 // name similarity of a fuzzy match, 1 for an id match
}

// Options tune fuzzy matching.
type Options struct {
	AmountTolerance decimal.Decimal // amounts must differ by strictly less than this
	DayWindow       int             // dates may differ by at most this many days
	MinSimilarity   float64         // contained names must also score at least this; 0 disables
}

// DefaultOptions returns a one cent tolerance and a three day window.
func DefaultOptions() Options {
	return Options{AmountTolerance: decimal.New(1, -2), DayWindow: 3}
}

// Source is the read side of the store the detector needs.
type Source interface {
	Get(ctx context.Context, id string) (*repository.Transaction, error)
	ListAccountWindow(ctx context.Context, accountID string, from, to time.Time) ([]repository.Transaction, error)
}

// Detector classifies candidates against a Source.
type Detector struct {
	opts   Options
	source Source
}

func NewDetector(source Source, opts Options) *Detector {
	if opts.DayWindow < 0 {
		opts.DayWindow = 0
	}
	return &Detector{opts: opts, source: source}
}

// Options returns the detector's tolerances.
func (d *Detector) Options() Options { return d.opts }

// Classify checks the id first, then the fuzzy rule within the candidate's
// account and date window.
func (d *Detector) Classify(ctx context.Context, cand repository.Transaction) (Decision, error) {
	if cand.ID != "" {
		existing, err := d.source.Get(ctx, cand.ID)
		if err != nil {
			return Decision{}, fmt.Errorf("lookup %s: %w", cand.ID, err)
		}
		if existing != nil {
			return Decision{Kind: Update, ExistingID: existing.ID, Existing: existing, Similarity: 1}, nil
		}
	}
	if cand.AccountID == "" || cand.Date.IsZero() {
		return Decision{Kind: New}, nil
	}
	from := cand.Date.AddDate(0, 0, -d.opts.DayWindow)
	to := cand.Date.AddDate(0, 0, d.opts.DayWindow)
	window, err := d.source.ListAccountWindow(ctx, cand.AccountID, from, to)
	if err != nil {
		return Decision{}, fmt.Errorf("window %s: %w", cand.AccountID, err)
	}
	return d.fuzzy(cand, window), nil
}

// ClassifyAgainst runs the same rules over an in-memory set of stored rows.
func (d *Detector) ClassifyAgainst(cand repository.Transaction, existing []repository.Transaction) Decision {
	for i := range existing {
		if cand.ID != "" && existing[i].ID == cand.ID {
			e := existing[i]
			return Decision{Kind: Update, ExistingID: e.ID, Existing: &e, Similarity: 1}
		}
	}
	return d.fuzzy(cand, existing)
}

// fuzzy returns the matching row whose name is closest to the candidate's.
// Ties keep the earlier row, which is the most recent for store windows.
func (d *Detector) fuzzy(cand repository.Transaction, existing []repository.Transaction) Decision {
	best := Decision{Kind: New}
	for i := range existing {
		e := existing[i]
		if e.ID == cand.ID {
			continue
		}
		ok, sim := d.Similar(cand, e)
		if !ok {
			continue
		}
		if best.Kind == New || sim > best.Similarity {
			best = Decision{Kind: Duplicate, ExistingID: e.ID, Existing: &e, Similarity: sim}
		}
	}
	return best
}

// Similar reports whether a and b look like the same real-world transaction:
// same account, dates within the window, amounts within tolerance, and the
// merchant or payee name of one contained in the other's with a levenshtein
// ratio of at least MinSimilarity. The ratio is returned for ranking.
func (d *Detector) Similar(a, b repository.Transaction) (bool, float64) {
	if a.AccountID != b.AccountID {
		return false, 0
	}
	if daysApart(a.Date, b.Date) > d.opts.DayWindow {
		return false, 0
	}
	if a.Amount.Sub(b.Amount).Abs().GreaterThanOrEqual(d.opts.AmountTolerance) {
		return false, 0
	}
	if containsEither(a.MerchantName, b.MerchantName) {
		if sim := similarity(a.MerchantName, b.MerchantName); sim >= d.opts.MinSimilarity {
			return true, sim
		}
	}
	if containsEither(a.Name, b.Name) {
		if sim := similarity(a.Name, b.Name); sim >= d.opts.MinSimilarity {
			return true, sim
		}
	}
	return false, 0
}

func containsEither(a, b string) bool {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}

func daysApart(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	da := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	db := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	diff := da.Sub(db)
	if diff < 0 {
		diff = -diff
	}
	return int(diff.Hours() / 24)
}

func similarity(a, b string) float64 {
	a, b = strings.ToUpper(a), strings.ToUpper(b)
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	if longest == 0 {
		return 0
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}
