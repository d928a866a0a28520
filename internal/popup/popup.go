// Package popup drives the confirmation dialog for a held download: it shows
// the free space where the file will land and resumes or cancels the
// download depending on the user's estimate and the disk info service.
package popup

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/zangezia/DLGuard/internal/browser"
	"github.com/zangezia/DLGuard/internal/config"
	"github.com/zangezia/DLGuard/internal/diskinfo"
	"github.com/zangezia/DLGuard/pkg/models"
)

// PendingStore holds the download awaiting confirmation
type PendingStore interface {
	LoadPending(ctx context.Context) (*models.PendingDownload, error)
	ClearPending(ctx context.Context) error
}

// Window displays views
type Window interface {
	Render(view View)
	Close()
}

// Popup is safe for concurrent use; calls are serialized
type Popup struct {
	store     PendingStore
	downloads browser.Downloads
	action    browser.Action
	disk      diskinfo.Service
	win       Window
	cfg       config.Popup

	mu         sync.Mutex
	session    uint64
	pending    *models.PendingDownload
	view       View
	closeTimer *time.Timer
	errorTimer *time.Timer
}

// New creates a popup. win may be nil.
func New(store PendingStore, downloads browser.Downloads, action browser.Action, disk diskinfo.Service, win Window, cfg config.Popup) *Popup {
	return &Popup{
		store:     store,
		downloads: downloads,
		action:    action,
		disk:      disk,
		win:       win,
		cfg:       cfg,
		view:      View{Status: StatusEmpty, Message: MsgNoPending, ActionsDisabled: true},
	}
}

// View returns the current view
func (p *Popup) View() View {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.view
}

// Open loads the pending download and the disk usage where it will be saved
func (p *Popup) Open(ctx context.Context) View {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopTimers()
	p.session++

	pending, err := p.store.LoadPending(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load pending download")
	}

	if pending == nil {
		p.pending = nil
		p.view = View{Status: StatusEmpty, Message: MsgNoPending, ActionsDisabled: true}
		p.render()
		return p.view
	}
	p.pending = pending

	if err := p.action.SetBadge(ctx, "", ""); err != nil {
		log.Debug().Err(err).Msg("Could not clear badge")
	}

	p.view = View{
		Status:     StatusWaiting,
		DownloadID: pending.ID,
		FileName:   DisplayName(pending),
		FileSize:   FormatSizeMB(pending.FileSize),
		Path:       DownloadDir(pending.Filename),
		SizeInput:  sizeInput(pending.FileSize),
	}

	if err := p.loadDisk(ctx); err != nil && isUnreachable(err) {
		p.failUnreachable(ctx)
	}

	p.render()
	return p.view
}

// Confirm checks the user's size estimate (MB) with the disk info service
// and resumes the download if it fits, cancels it otherwise
func (p *Popup) Confirm(ctx context.Context, sizeMB string) View {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pending == nil || p.view.ActionsDisabled {
		return p.view
	}
	p.view.SizeInput = sizeMB

	mb, ok := ParseSizeMB(sizeMB)
	if !ok {
		p.showError(MsgInvalidSize)
		p.render()
		return p.view
	}

	logger := log.With().Int("download_id", p.pending.ID).Str("path", p.view.Path).Logger()

	result, err := p.disk.Check(ctx, MBToBytes(mb), p.view.Path)
	if err != nil {
		logger.Error().Err(err).Msg("Error checking space")
		p.failUnreachable(ctx)
		p.render()
		return p.view
	}

	if !result.OK {
		logger.Info().Str("reason", result.Error).Msg("Not enough space, cancelling download")
		p.showError(MsgNotEnoughSpace + result.Error)
		p.finish(ctx, StatusCancelled)
		p.render()
		return p.view
	}

	if err := p.downloads.Resume(ctx, p.pending.ID); err != nil {
		logger.Error().Err(err).Msg("Error resuming download")
		p.showError(MsgResumeFailed)
		p.finish(ctx, StatusCancelled)
		p.render()
		return p.view
	}

	logger.Info().Float64("size_mb", mb).Msg("Download resumed")
	p.view.Status = StatusResumed
	p.view.ActionsDisabled = true

	// Show the space left after admitting the download
	if err := p.loadDisk(ctx); err != nil {
		logger.Debug().Err(err).Msg("Could not refresh disk info")
	}

	p.closeAfter(p.cfg.ResumeCloseDelay)
	p.render()
	return p.view
}

// Cancel cancels the download and closes the popup
func (p *Popup) Cancel(ctx context.Context) View {
	p.mu.Lock()
	defer p.mu.Unlock()

	pending := p.pending
	if pending == nil {
		// Cancelled without being opened, e.g. after a restart
		pending, _ = p.store.LoadPending(ctx)
	}
	if pending != nil {
		p.cancelDownload(ctx, pending.ID)
	}

	if err := p.store.ClearPending(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to clear pending download")
	}

	p.close()
	return p.view
}

func (p *Popup) loadDisk(ctx context.Context) error {
	info, err := p.disk.Info(ctx, p.view.Path)
	if err != nil {
		log.Warn().Err(err).Str("path", p.view.Path).Msg("Error loading disk info")
		p.view.Disk = nil
		p.view.DiskError = MsgDiskLoadFailed
		return err
	}

	p.view.Disk = NewDiskView(info)
	p.view.DiskError = ""
	return nil
}

// failUnreachable cancels the download and schedules the close
func (p *Popup) failUnreachable(ctx context.Context) {
	p.showError(MsgUnreachable)
	if p.pending != nil {
		p.cancelDownload(ctx, p.pending.ID)
	}
	p.view.Status = StatusCancelled
	p.view.ActionsDisabled = true
	p.closeAfter(p.cfg.ErrorCloseDelay)
}

// finish cancels the download and forgets it, leaving the popup open
func (p *Popup) finish(ctx context.Context, status Status) {
	p.cancelDownload(ctx, p.pending.ID)
	p.clearOwnPending(ctx)
	p.view.Status = status
	p.view.ActionsDisabled = true
}

func (p *Popup) cancelDownload(ctx context.Context, id int) {
	if err := p.downloads.Cancel(ctx, id); err != nil {
		log.Error().Err(err).Int("download_id", id).Msg("Error canceling download")
	}
}

// clearOwnPending removes the stored download unless a newer one replaced it
func (p *Popup) clearOwnPending(ctx context.Context) {
	if p.pending == nil {
		return
	}

	stored, err := p.store.LoadPending(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to re-read pending download")
	}
	if stored != nil && stored.ID != p.pending.ID {
		log.Debug().Int("newer_id", stored.ID).Msg("Keeping newer pending download")
		return
	}

	if err := p.store.ClearPending(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to clear pending download")
	}
}

func (p *Popup) showError(msg string) {
	p.view.Error = msg

	if p.errorTimer != nil {
		p.errorTimer.Stop()
	}
	if p.cfg.ErrorDisplay <= 0 {
		return
	}

	session := p.session
	p.errorTimer = time.AfterFunc(p.cfg.ErrorDisplay, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.session != session || p.view.Error != msg {
			return
		}
		p.view.Error = ""
		p.render()
	})
}

func (p *Popup) closeAfter(delay time.Duration) {
	if p.closeTimer != nil {
		p.closeTimer.Stop()
	}

	session := p.session
	p.closeTimer = time.AfterFunc(delay, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.session != session {
			return
		}
		p.clearOwnPending(context.Background())
		p.close()
	})
}

func (p *Popup) close() {
	p.stopTimers()
	p.session++
	p.pending = nil
	p.view = View{Status: StatusClosed, ActionsDisabled: true}
	if p.win != nil {
		p.win.Close()
	}
}

func (p *Popup) stopTimers() {
	if p.closeTimer != nil {
		p.closeTimer.Stop()
		p.closeTimer = nil
	}
	if p.errorTimer != nil {
		p.errorTimer.Stop()
		p.errorTimer = nil
	}
}

func (p *Popup) render() {
	if p.win != nil {
		p.win.Render(p.view)
	}
}

// isUnreachable is true for anything but an ok=false reply
func isUnreachable(err error) bool {
	var svcErr *diskinfo.ServiceError
	return !errors.As(err, &svcErr)
}
