// Package testdata provides deterministic provider fixtures for tests.
package testdata

import (
	"context"
	"fmt"
	"sync"

	"github.com/jask/moneysync/internal/provider"
)

// FakeProvider replays scripted pages keyed by the cursor they answer.
// Unknown cursors get an empty final page that echoes the cursor back.
type FakeProvider struct {
	mu          sync.Mutex
	accounts    []provider.Account
	accountsErr error
	pages       map[string]provider.Page
	errs        map[string][]error
	calls       []string
}

var _ provider.Provider = (*FakeProvider)(nil)

func NewFakeProvider(accounts ...provider.Account) *FakeProvider {
	return &FakeProvider{
		accounts: accounts,
		pages:    map[string]provider.Page{},
		errs:     map[string][]error{},
	}
}

// Script registers pages as a chain starting at cursor from. NextCursor and
// HasMore are filled in; the final cursor is returned.
func (f *FakeProvider) Script(from string, pages ...provider.Page) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur := from
	for i, p := range pages {
		next := fmt.Sprintf("%s>%d", from, i+1)
		p.NextCursor = next
		p.HasMore = i < len(pages)-1
		f.pages[cur] = p
		cur = next
	}
	return cur
}

// FailNext makes the next request for cursor return err. Calls queue up.
func (f *FakeProvider) FailNext(cursor string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[cursor] = append(f.errs[cursor], err)
}

// FailAccounts makes every accounts call return err.
func (f *FakeProvider) FailAccounts(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accountsErr = err
}

// Calls returns the cursors requested so far, in order.
func (f *FakeProvider) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *FakeProvider) Accounts(ctx context.Context, accessToken string) ([]provider.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.accountsErr != nil {
		return nil, f.accountsErr
	}
	return append([]provider.Account(nil), f.accounts...), nil
}

func (f *FakeProvider) SyncTransactions(ctx context.Context, accessToken, cursor string) (provider.Page, error) {
	if err := ctx.Err(); err != nil {
		return provider.Page{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, cursor)
	if q := f.errs[cursor]; len(q) > 0 {
		f.errs[cursor] = q[1:]
		return provider.Page{}, q[0]
	}
	if p, ok := f.pages[cursor]; ok {
		return p, nil
	}
	return provider.Page{NextCursor: cursor}, nil
}
