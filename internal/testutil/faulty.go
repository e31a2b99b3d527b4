// Package testutil provides test doubles shared by tempograph's packages.
package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/roach88/tempograph/internal/ir"
	"github.com/roach88/tempograph/internal/memstore"
)

// ErrInjected is the default error returned by a FaultyBackend.
var ErrInjected = errors.New("injected backend failure")

// Backend operation names accepted by FaultyBackend.Fail.
const (
	OpAppend      = "append"
	OpLoadHistory = "load_history"
	OpListKeys    = "list_keys"
	OpSaveBranch  = "save_branch"
	OpMarkHandled = "mark_handled"
	OpSaveCursor  = "save_cursor"
	OpLoadAll     = "load_all"
)

// FaultyBackend is an in-memory backend whose operations can be made to
// fail on demand.
//
// Thread-safety: safe for concurrent use.
type FaultyBackend struct {
	*memstore.Store

	mu    sync.Mutex
	fails map[string]error
	calls map[string]int
}

// NewFaultyBackend returns an empty backend that fails nothing yet.
func NewFaultyBackend() *FaultyBackend {
	return &FaultyBackend{
		Store: memstore.New(),
		fails: make(map[string]error),
		calls: make(map[string]int),
	}
}

// Fail makes every later call of op return err (ErrInjected if nil)
// until Heal is called.
func (b *FaultyBackend) Fail(op string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		err = ErrInjected
	}
	b.fails[op] = err
}

// Heal clears every injected failure.
func (b *FaultyBackend) Heal() {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.fails)
}

// Calls returns how many times op was called, failed calls included.
func (b *FaultyBackend) Calls(op string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[op]
}

func (b *FaultyBackend) enter(op string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls[op]++
	return b.fails[op]
}

// Append implements the backend contract.
func (b *FaultyBackend) Append(ctx context.Context, facts ...ir.Fact) error {
	if err := b.enter(OpAppend); err != nil {
		return err
	}
	return b.Store.Append(ctx, facts...)
}

// LoadHistory implements the backend contract.
func (b *FaultyBackend) LoadHistory(ctx context.Context, ref ir.EntityRef, key, branch string) ([]ir.Row, error) {
	if err := b.enter(OpLoadHistory); err != nil {
		return nil, err
	}
	return b.Store.LoadHistory(ctx, ref, key, branch)
}

// ListKeys implements the backend contract.
func (b *FaultyBackend) ListKeys(ctx context.Context, ref ir.EntityRef) ([]string, error) {
	if err := b.enter(OpListKeys); err != nil {
		return nil, err
	}
	return b.Store.ListKeys(ctx, ref)
}

// SaveBranch implements the backend contract.
func (b *FaultyBackend) SaveBranch(ctx context.Context, br ir.Branch) error {
	if err := b.enter(OpSaveBranch); err != nil {
		return err
	}
	return b.Store.SaveBranch(ctx, br)
}

// MarkHandled implements the backend contract.
func (b *FaultyBackend) MarkHandled(ctx context.Context, h ir.HandledRule) (bool, error) {
	if err := b.enter(OpMarkHandled); err != nil {
		return false, err
	}
	return b.Store.MarkHandled(ctx, h)
}

// SaveCursor implements the backend contract.
func (b *FaultyBackend) SaveCursor(ctx context.Context, t ir.Time) error {
	if err := b.enter(OpSaveCursor); err != nil {
		return err
	}
	return b.Store.SaveCursor(ctx, t)
}

// LoadAll implements the backend contract.
func (b *FaultyBackend) LoadAll(ctx context.Context) ([]ir.Fact, error) {
	if err := b.enter(OpLoadAll); err != nil {
		return nil, err
	}
	return b.Store.LoadAll(ctx)
}
