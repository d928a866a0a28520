// Package browsertest provides an in-memory browser for tests.
package browsertest

import (
	"context"
	"fmt"
	"sync"

	"github.com/zangezia/DLGuard/internal/browser"
)

// Browser records every call and fails the ones configured to fail
type Browser struct {
	mu    sync.Mutex
	calls []string
	items map[int]*browser.DownloadItem

	// failures maps a method name ("pause", "resume", "cancel", "search",
	// "openPopup", "setBadge") to the error it returns
	failures map[string]error
	badge    string
}

// New returns an empty fake browser
func New() *Browser {
	return &Browser{
		items:    make(map[int]*browser.DownloadItem),
		failures: make(map[string]error),
	}
}

// Add registers an in-progress download
func (b *Browser) Add(item browser.DownloadItem) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if item.State == "" {
		item.State = browser.StateInProgress
	}
	b.items[item.ID] = &item
}

// Item returns a copy of the download with id
func (b *Browser) Item(id int) (browser.DownloadItem, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	item, ok := b.items[id]
	if !ok {
		return browser.DownloadItem{}, false
	}
	return *item, true
}

// Fail makes method return err
func (b *Browser) Fail(method string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[method] = err
}

// Calls returns the recorded calls as "method:id" or "method"
func (b *Browser) Calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

// Called reports whether call was recorded
func (b *Browser) Called(call string) bool {
	for _, c := range b.Calls() {
		if c == call {
			return true
		}
	}
	return false
}

func (b *Browser) record(method string, id int) (*browser.DownloadItem, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if id >= 0 {
		b.calls = append(b.calls, fmt.Sprintf("%s:%d", method, id))
	} else {
		b.calls = append(b.calls, method)
	}
	if err := b.failures[method]; err != nil {
		return nil, err
	}
	return b.items[id], nil
}

// Pause implements browser.Downloads
func (b *Browser) Pause(ctx context.Context, id int) error {
	item, err := b.record("pause", id)
	if err != nil {
		return err
	}
	if item != nil {
		b.mu.Lock()
		item.Paused = true
		b.mu.Unlock()
	}
	return nil
}

// Resume implements browser.Downloads
func (b *Browser) Resume(ctx context.Context, id int) error {
	item, err := b.record("resume", id)
	if err != nil {
		return err
	}
	if item != nil {
		b.mu.Lock()
		item.Paused = false
		b.mu.Unlock()
	}
	return nil
}

// Cancel implements browser.Downloads
func (b *Browser) Cancel(ctx context.Context, id int) error {
	item, err := b.record("cancel", id)
	if err != nil {
		return err
	}
	if item != nil {
		b.mu.Lock()
		item.State = browser.StateInterrupted
		item.Paused = false
		b.mu.Unlock()
	}
	return nil
}

// Search implements browser.Downloads
func (b *Browser) Search(ctx context.Context, id int) (*browser.DownloadItem, error) {
	item, err := b.record("search", id)
	if err != nil || item == nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	copied := *item
	return &copied, nil
}

// OpenPopup implements browser.Action
func (b *Browser) OpenPopup(ctx context.Context) error {
	_, err := b.record("openPopup", -1)
	return err
}

// SetBadge implements browser.Action
func (b *Browser) SetBadge(ctx context.Context, text, color string) error {
	if _, err := b.record("setBadge", -1); err != nil {
		return err
	}
	b.mu.Lock()
	b.badge = text
	b.mu.Unlock()
	return nil
}

// GetBadge returns the current badge text
func (b *Browser) GetBadge() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.badge
}
