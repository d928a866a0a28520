package diskinfo

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/zangezia/DLGuard/internal/config"
	"github.com/zangezia/DLGuard/pkg/models"
)

// UsageFunc reports usage of the filesystem containing path
type UsageFunc func(ctx context.Context, path string) (*disk.UsageStat, error)

// Local answers info and check requests from the filesystem of this machine
type Local struct {
	reserved    int64
	defaultSize int64
	gbDivisor   float64
	usage       UsageFunc
	homeDir     func() (string, error)
}

// NewLocal creates a local evaluator with the given admission rules
func NewLocal(cfg config.Service) *Local {
	return &Local{
		reserved:    cfg.ReservedSpace,
		defaultSize: cfg.DefaultMinSize,
		gbDivisor:   cfg.GBDivisor(),
		usage:       disk.UsageWithContext,
		homeDir:     os.UserHomeDir,
	}
}

// WithUsage replaces the usage source, mostly for tests
func (l *Local) WithUsage(fn UsageFunc) *Local {
	l.usage = fn
	return l
}

// Reserved returns the space always kept free, in bytes
func (l *Local) Reserved() int64 {
	return l.reserved
}

// Info returns usage of the filesystem holding path
func (l *Local) Info(ctx context.Context, path string) (*models.DiskInfo, error) {
	resolved, usage, err := l.stat(ctx, path)
	if err != nil {
		return nil, err
	}

	percentUsed := 0.0
	if usage.Total > 0 {
		percentUsed = float64(usage.Used) / float64(usage.Total) * 100
	}

	return &models.DiskInfo{
		OK:          true,
		Path:        resolved,
		Total:       usage.Total,
		Used:        usage.Used,
		Free:        usage.Free,
		PercentUsed: round2(percentUsed),
		TotalGB:     round2(l.gb(usage.Total)),
		UsedGB:      round2(l.gb(usage.Used)),
		FreeGB:      round2(l.gb(usage.Free)),
	}, nil
}

// Evaluate decides whether size more bytes fit on the filesystem holding path
// while keeping the reserved space free. A size <= 0 means unknown and is
// replaced with the default minimum size.
//
// An inaccessible path yields an ok=false result together with a *PathError.
func (l *Local) Evaluate(ctx context.Context, size int64, path string) (*models.CheckResult, error) {
	if size <= 0 {
		size = l.defaultSize
	}
	required := requiredSpace(size, l.reserved)

	_, usage, err := l.stat(ctx, path)
	if err != nil {
		return &models.CheckResult{OK: false, Error: err.Error()}, err
	}

	result := &models.CheckResult{
		OK:       true,
		Total:    usage.Total,
		Used:     usage.Used,
		Free:     usage.Free,
		Reserved: l.reserved,
		Required: required,
	}

	event := log.Debug().
		Str("path", path).
		Float64("free_gb", l.gb(usage.Free)).
		Float64("requested_gb", l.gb(uint64(size))).
		Float64("required_gb", l.gb(uint64(required)))

	if usage.Free < uint64(required) {
		result.OK = false
		result.Error = fmt.Sprintf("Not enough space. Free: %.2f GB, Required: %.2f GB",
			l.gb(usage.Free), l.gb(uint64(required)))
		event.Msg("Not enough space")
		return result, nil
	}

	event.Msg("Enough space")
	return result, nil
}

// Check is Evaluate with path errors folded into the result
func (l *Local) Check(ctx context.Context, size int64, path string) (*models.CheckResult, error) {
	result, _ := l.Evaluate(ctx, size, path)
	return result, nil
}

func (l *Local) stat(ctx context.Context, path string) (string, *disk.UsageStat, error) {
	resolved, err := l.normalize(path)
	if err != nil {
		return "", nil, &PathError{Path: path, Err: err}
	}

	usage, err := l.usage(ctx, resolved)
	if err != nil {
		return "", nil, &PathError{Path: path, Err: err}
	}

	return resolved, usage, nil
}

// normalize turns path into an absolute directory with symlinks resolved
func (l *Local) normalize(path string) (string, error) {
	if path == "" {
		home, err := l.homeDir()
		if err != nil || home == "" {
			home = "/"
		}
		path = home
	}

	if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
		path = filepath.Dir(path)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}

	return filepath.EvalSymlinks(abs)
}

func (l *Local) gb(b uint64) float64 {
	return float64(b) / l.gbDivisor
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
