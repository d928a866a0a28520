package models

import "time"

// PendingDownload is the single download awaiting user confirmation
type PendingDownload struct {
	ID       int    `json:"id"`
	URL      string `json:"url"`
	Filename string `json:"filename"`
	FileSize int64  `json:"fileSize"` // bytes, <= 0 when unknown
}

// DiskInfo is the reply to an info request
type DiskInfo struct {
	OK          bool    `json:"ok"`
	Path        string  `json:"path,omitempty"`
	Total       uint64  `json:"total"`
	Used        uint64  `json:"used"`
	Free        uint64  `json:"free"`
	PercentUsed float64 `json:"percent_used"`
	TotalGB     float64 `json:"total_gb"`
	UsedGB      float64 `json:"used_gb"`
	FreeGB      float64 `json:"free_gb"`
	Error       string  `json:"error,omitempty"`
}

// PercentFree returns the share of the disk still available
func (d DiskInfo) PercentFree() float64 {
	return 100 - d.PercentUsed
}

// CheckResult is the reply to a check request
type CheckResult struct {
	OK       bool   `json:"ok"`
	Total    uint64 `json:"total,omitempty"`
	Used     uint64 `json:"used,omitempty"`
	Free     uint64 `json:"free,omitempty"`
	Reserved int64  `json:"reserved,omitempty"`
	Required int64  `json:"required,omitempty"`
	Error    string `json:"error,omitempty"`
}

// LogMessage represents a log entry
type LogMessage struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}

// WSMessage represents a WebSocket message
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}
