// Package diskinfo answers "how full is this disk" and "does this download
// fit" either locally or through a remote helper process.
package diskinfo

import (
	"context"
	"errors"
	"fmt"

	"github.com/zangezia/DLGuard/internal/config"
	"github.com/zangezia/DLGuard/pkg/models"
)

// ErrUnavailable marks transport failures and malformed replies
var ErrUnavailable = errors.New("disk info service unavailable")

// Service is the disk info contract used by the confirmation popup.
//
// Info fails with a *ServiceError when the service answers ok=false.
// Check reports ok=false through the result, never through the error.
// Both wrap ErrUnavailable when the service cannot be reached.
type Service interface {
	Info(ctx context.Context, path string) (*models.DiskInfo, error)
	Check(ctx context.Context, size int64, path string) (*models.CheckResult, error)
}

// ServiceError is an ok=false reply
type ServiceError struct {
	Message string
}

func (e *ServiceError) Error() string {
	return e.Message
}

// PathError is returned when a path cannot be inspected
type PathError struct {
	Path string
	Err  error
}

func (e *PathError) Error() string {
	return fmt.Sprintf("Path '%s' not accessible: %v", e.Path, e.Err)
}

func (e *PathError) Unwrap() error {
	return e.Err
}

// New returns the Service selected by cfg.Backend
func New(cfg config.Client, local *Local) (Service, error) {
	switch cfg.Backend {
	case config.BackendLocal:
		return localService{local}, nil
	case config.BackendHTTP:
		return NewHTTPClient(cfg), nil
	case config.BackendNative:
		return NewNativeClient(cfg.NativeHostPath)
	default:
		return nil, fmt.Errorf("unknown disk info backend: %q", cfg.Backend)
	}
}

// localService adapts Local so an inaccessible path surfaces as a ServiceError
type localService struct {
	*Local
}

func (s localService) Info(ctx context.Context, path string) (*models.DiskInfo, error) {
	info, err := s.Local.Info(ctx, path)
	if err != nil {
		return nil, &ServiceError{Message: err.Error()}
	}
	return info, nil
}

func unavailable(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrUnavailable, fmt.Sprintf(format, args...))
}
