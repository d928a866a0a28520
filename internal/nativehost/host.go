// Package nativehost serves disk info requests over the native messaging
// protocol on a pair of streams, normally the process stdin and stdout.
package nativehost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/zangezia/DLGuard/internal/diskinfo"
	"github.com/zangezia/DLGuard/internal/nativemsg"
	"github.com/zangezia/DLGuard/pkg/models"
)

// Evaluator answers the host commands
type Evaluator interface {
	Info(ctx context.Context, path string) (*models.DiskInfo, error)
	Evaluate(ctx context.Context, size int64, path string) (*models.CheckResult, error)
}

// Request is one message from the browser
type Request struct {
	Command string          `json:"command"`
	Path    *string         `json:"path,omitempty"`
	Size    json.RawMessage `json:"size,omitempty"`
}

// Reply is the generic ok/error envelope
type Reply struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Host processes native messaging requests
type Host struct {
	eval Evaluator
}

// New creates a host backed by eval
func New(eval Evaluator) *Host {
	return &Host{eval: eval}
}

// Serve handles requests until r is exhausted. A frame that cannot be read
// is answered with an internal error reply and ends the loop with an error.
func (h *Host) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		var req Request
		if err := nativemsg.Read(r, &req); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			reply := Reply{OK: false, Error: fmt.Sprintf("Internal error: %v", err)}
			if werr := nativemsg.Write(w, reply); werr != nil {
				log.Error().Err(werr).Msg("Failed to send error reply")
			}
			return err
		}

		if err := nativemsg.Write(w, h.Handle(ctx, req)); err != nil {
			return err
		}
	}
}

// Handle answers a single request
func (h *Host) Handle(ctx context.Context, req Request) interface{} {
	path := "/"
	if req.Path != nil {
		path = *req.Path
	}

	log.Debug().Str("command", req.Command).Str("path", path).Msg("Native request")

	switch req.Command {
	case "info":
		info, err := h.eval.Info(ctx, path)
		if err != nil {
			return Reply{OK: false, Error: err.Error()}
		}
		return info

	case "check":
		result, err := h.eval.Evaluate(ctx, ParseSize(req.Size), path)
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("Check failed")
		}
		return result

	case "ping":
		return Reply{OK: true, Message: "pong"}

	default:
		return Reply{OK: false, Error: fmt.Sprintf("Unknown command: %s", req.Command)}
	}
}

// ParseSize accepts a JSON number or numeric string and truncates it to
// whole bytes. Values past the int64 range saturate. Anything else yields 0,
// meaning unknown.
func ParseSize(raw json.RawMessage) int64 {
	text := string(raw)
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		text = s
	}

	f, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return 0
	}
	return diskinfo.BytesFromFloat(f)
}
