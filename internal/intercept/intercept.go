// Package intercept pauses every new download and hands it to the
// confirmation popup.
package intercept

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/zangezia/DLGuard/internal/browser"
	"github.com/zangezia/DLGuard/pkg/models"
)

// Badge shown when the popup cannot be opened automatically
const (
	BadgeText  = "!"
	BadgeColor = "#f44336"
)

// Outcome tells what happened to an intercepted download
type Outcome int

const (
	// Skipped: the download finished or was interrupted before it could be held
	Skipped Outcome = iota
	// Cancelled: it could not be held safely and was cancelled
	Cancelled
	// Prompted: held, stored, and the popup opened
	Prompted
	// Badged: held and stored, the badge asks the user to open the popup
	Badged
)

func (o Outcome) String() string {
	switch o {
	case Skipped:
		return "skipped"
	case Cancelled:
		return "cancelled"
	case Prompted:
		return "prompted"
	case Badged:
		return "badged"
	default:
		return "unknown"
	}
}

// PendingSaver persists the held download
type PendingSaver interface {
	SavePending(ctx context.Context, pending models.PendingDownload) error
}

// Interceptor reacts to new downloads
type Interceptor struct {
	downloads browser.Downloads
	action    browser.Action
	store     PendingSaver
}

// New creates an interceptor
func New(downloads browser.Downloads, action browser.Action, store PendingSaver) *Interceptor {
	return &Interceptor{
		downloads: downloads,
		action:    action,
		store:     store,
	}
}

// Handle matches bridge.DownloadHandler
func (i *Interceptor) Handle(ctx context.Context, item browser.DownloadItem) {
	i.OnCreated(ctx, item)
}

// OnCreated holds item until the user confirms it. Only the most recent
// download is tracked; an earlier one still waiting is overwritten.
func (i *Interceptor) OnCreated(ctx context.Context, item browser.DownloadItem) Outcome {
	logger := log.With().Int("download_id", item.ID).Str("filename", item.Filename).Logger()
	logger.Info().Str("url", item.URL).Msg("Download started")

	if err := i.downloads.Pause(ctx, item.ID); err != nil {
		if browser.IsNotInProgress(err) {
			logger.Debug().Msg("Download not in progress (completed or interrupted), skipping")
			return Skipped
		}
		logger.Error().Err(err).Msg("Error pausing download")
		i.cancel(ctx, item.ID)
		return Cancelled
	}

	// The download may have finished between the event and the pause
	if current, err := i.downloads.Search(ctx, item.ID); err == nil && current != nil {
		if current.State != "" && current.State != browser.StateInProgress {
			logger.Debug().Str("state", string(current.State)).Msg("Download no longer in progress, skipping")
			return Skipped
		}
		// Search carries the final filename once the browser has chosen it
		if current.Filename != "" {
			item.Filename = current.Filename
		}
	} else if err != nil {
		logger.Debug().Err(err).Msg("Could not re-check download state")
	}

	if err := i.store.SavePending(ctx, item.Pending()); err != nil {
		logger.Error().Err(err).Msg("Failed to store pending download")
		i.cancel(ctx, item.ID)
		return Cancelled
	}
	logger.Info().Msg("Download paused, awaiting confirmation")

	if err := i.action.OpenPopup(ctx); err != nil {
		logger.Debug().Err(err).Msg("Could not auto-open popup")
		if err := i.action.SetBadge(ctx, BadgeText, BadgeColor); err != nil {
			logger.Warn().Err(err).Msg("Could not set badge")
		}
		return Badged
	}

	return Prompted
}

func (i *Interceptor) cancel(ctx context.Context, id int) {
	if err := i.downloads.Cancel(ctx, id); err != nil {
		log.Error().Err(err).Int("download_id", id).Msg("Error canceling download")
	}
}
