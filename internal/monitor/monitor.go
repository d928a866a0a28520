package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/zangezia/DLGuard/pkg/models"
)

// InfoSource reports disk usage for a path
type InfoSource interface {
	Info(ctx context.Context, path string) (*models.DiskInfo, error)
}

// Service samples free space of the directory a pending download targets
type Service struct {
	source         InfoSource
	updateInterval time.Duration

	mu         sync.RWMutex
	targetPath string
	last       *models.DiskInfo
}

// New creates a new monitoring service
func New(source InfoSource, updateInterval time.Duration) *Service {
	if updateInterval <= 0 {
		updateInterval = 2 * time.Second
	}
	return &Service{
		source:         source,
		updateInterval: updateInterval,
	}
}

// SetTargetPath sets the directory to watch; empty stops sampling
func (s *Service) SetTargetPath(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.targetPath = path
	s.last = nil
}

// Start begins monitoring
func (s *Service) Start(ctx context.Context) <-chan models.DiskInfo {
	samples := make(chan models.DiskInfo, 10)

	go func() {
		defer close(samples)

		ticker := time.NewTicker(s.updateInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				info, ok := s.Sample(ctx)
				if !ok {
					continue
				}
				select {
				case samples <- *info:
				default:
					// Channel full, skip this update
				}
			}
		}
	}()

	return samples
}

// Sample takes one reading of the target path. It reports false when no
// target is set or the reading failed.
func (s *Service) Sample(ctx context.Context) (*models.DiskInfo, bool) {
	s.mu.RLock()
	path := s.targetPath
	s.mu.RUnlock()

	if path == "" {
		return nil, false
	}

	info, err := s.source.Info(ctx, path)
	if err != nil {
		log.Debug().Err(err).Str("path", path).Msg("Disk sample failed")
		return nil, false
	}

	s.mu.Lock()
	s.last = info
	s.mu.Unlock()

	return info, true
}

// Last returns the most recent sample, if any
func (s *Service) Last() *models.DiskInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}
