package popup

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/zangezia/DLGuard/internal/diskinfo"
	"github.com/zangezia/DLGuard/pkg/models"
)

// Status of the popup
type Status string

const (
	StatusEmpty     Status = "empty"
	StatusWaiting   Status = "waiting"
	StatusResumed   Status = "resumed"
	StatusCancelled Status = "cancelled"
	StatusClosed    Status = "closed"
)

// Bar classes by share of free space
const (
	BarLow    = "low"
	BarMedium = "medium"
	BarHigh   = "high"
)

const (
	MsgNoPending      = "No pending download."
	MsgInvalidSize    = "Please enter a valid estimated size in MB."
	MsgUnreachable    = "Failed to contact the disk info service. Make sure it is installed and running."
	MsgResumeFailed   = "Could not resume download. Please check manually."
	MsgDiskLoadFailed = "Could not load disk space info."
	MsgNotEnoughSpace = "Not enough space! "
)

const maxDisplayName = 50

// View is everything the popup shows
type View struct {
	Status          Status    `json:"status"`
	Message         string    `json:"message,omitempty"`
	DownloadID      int       `json:"download_id,omitempty"`
	FileName        string    `json:"file_name,omitempty"`
	FileSize        string    `json:"file_size,omitempty"`
	Path            string    `json:"path,omitempty"`
	SizeInput       string    `json:"size_input"`
	Disk            *DiskView `json:"disk,omitempty"`
	DiskError       string    `json:"disk_error,omitempty"`
	Error           string    `json:"error,omitempty"`
	ActionsDisabled bool      `json:"actions_disabled"`
}

// DiskView is the free space bar
type DiskView struct {
	Path        string  `json:"path"`
	FreeGB      float64 `json:"free_gb"`
	UsedGB      float64 `json:"used_gb"`
	TotalGB     float64 `json:"total_gb"`
	PercentFree float64 `json:"percent_free"`
	BarClass    string  `json:"bar_class"`
}

// NewDiskView renders a disk info reply
func NewDiskView(info *models.DiskInfo) *DiskView {
	free := info.PercentFree()
	return &DiskView{
		Path:        info.Path,
		FreeGB:      info.FreeGB,
		UsedGB:      info.UsedGB,
		TotalGB:     info.TotalGB,
		PercentFree: free,
		BarClass:    BarClass(free),
	}
}

// BarClass classifies the share of free space
func BarClass(percentFree float64) string {
	switch {
	case percentFree < 10:
		return BarLow
	case percentFree < 25:
		return BarMedium
	default:
		return BarHigh
	}
}

// DownloadDir drops the last path segment of filename. A name without any
// separator, or directly under the root, maps to "/".
func DownloadDir(filename string) string {
	idx := strings.LastIndexAny(filename, `/\`)
	if idx < 0 {
		return "/"
	}

	dir := filename[:idx]
	switch {
	case dir == "":
		return "/"
	case strings.HasSuffix(dir, ":"):
		// drive root, C:\file.zip
		return dir + filename[idx:idx+1]
	}
	return dir
}

// ParseSizeMB accepts a positive, finite number of megabytes
func ParseSizeMB(input string) (float64, bool) {
	mb, err := strconv.ParseFloat(strings.TrimSpace(input), 64)
	if err != nil || math.IsNaN(mb) || math.IsInf(mb, 0) || mb <= 0 {
		return 0, false
	}
	return mb, true
}

// MBToBytes converts user input in MB to bytes. Estimates past the int64
// range saturate, so they are refused rather than wrapping to unknown.
func MBToBytes(mb float64) int64 {
	return diskinfo.BytesFromFloat(mb * 1024 * 1024)
}

// FormatSizeMB shows a byte count as MB, or "Unknown"
func FormatSizeMB(size int64) string {
	if size <= 0 {
		return "Unknown"
	}
	return fmt.Sprintf("%.2f MB", float64(size)/(1024*1024))
}

// sizeInput pre-fills the size field
func sizeInput(size int64) string {
	if size <= 0 {
		return ""
	}
	return fmt.Sprintf("%.2f", float64(size)/(1024*1024))
}

// DisplayName is the filename, or URL when unnamed, cut to 50 characters
func DisplayName(p *models.PendingDownload) string {
	name := p.Filename
	if name == "" {
		name = p.URL
	}
	if utf8.RuneCountInString(name) <= maxDisplayName {
		return name
	}
	return string([]rune(name)[:maxDisplayName]) + "..."
}
