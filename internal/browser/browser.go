// Package browser describes the parts of the browser extension API the
// interceptor and popup drive.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/zangezia/DLGuard/pkg/models"
)

// DownloadState mirrors the browser's download states
type DownloadState string

const (
	StateInProgress  DownloadState = "in_progress"
	StateInterrupted DownloadState = "interrupted"
	StateComplete    DownloadState = "complete"
)

// DownloadItem is the browser's view of a download
type DownloadItem struct {
	ID         int           `json:"id"`
	URL        string        `json:"url"`
	Filename   string        `json:"filename"`
	FileSize   int64         `json:"fileSize"`
	TotalBytes int64         `json:"totalBytes"`
	State      DownloadState `json:"state"`
	Paused     bool          `json:"paused"`
	CanResume  bool          `json:"canResume"`
}

// Pending converts the item into the stored record
func (d DownloadItem) Pending() models.PendingDownload {
	size := d.FileSize
	if size <= 0 {
		size = d.TotalBytes
	}
	return models.PendingDownload{
		ID:       d.ID,
		URL:      d.URL,
		Filename: d.Filename,
		FileSize: size,
	}
}

// Downloads controls downloads by id
type Downloads interface {
	Pause(ctx context.Context, id int) error
	Resume(ctx context.Context, id int) error
	Cancel(ctx context.Context, id int) error
	// Search returns nil when no download has the id
	Search(ctx context.Context, id int) (*DownloadItem, error)
}

// Action is the toolbar button of the extension
type Action interface {
	OpenPopup(ctx context.Context) error
	SetBadge(ctx context.Context, text, color string) error
}

// Error is a failure reported by the browser API
type Error struct {
	Method  string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Method, e.Message)
}

// IsNotInProgress reports whether err says the download already finished or
// was interrupted, so it can no longer be paused
func IsNotInProgress(err error) bool {
	var browserErr *Error
	if errors.As(err, &browserErr) {
		return strings.Contains(strings.ToLower(browserErr.Message), "must be in progress")
	}
	return false
}
