// Package nativemsg implements the browser native messaging wire format:
// a 4-byte little-endian length followed by that many bytes of UTF-8 JSON.
package nativemsg

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

const (
	// MaxOutgoing is the largest message a host may send to the browser
	MaxOutgoing = 1 << 20
	// MaxIncoming bounds what we accept from the other side
	MaxIncoming = 64 << 20
)

// ErrTooLarge is returned for frames exceeding the size limits
var ErrTooLarge = errors.New("native message too large")

// Read decodes one message into v. It returns io.EOF when the stream ends
// cleanly before a new frame starts.
func Read(r io.Reader, v interface{}) error {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return io.EOF
		}
		return fmt.Errorf("read length: %w", err)
	}

	length := binary.LittleEndian.Uint32(header[:])
	if length > MaxIncoming {
		return fmt.Errorf("%w: %d bytes", ErrTooLarge, length)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return fmt.Errorf("read payload: %w", err)
	}

	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}

	return nil
}

// Write encodes v as one message
func Write(w io.Writer, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	if len(payload) > MaxOutgoing {
		return fmt.Errorf("%w: %d bytes", ErrTooLarge, len(payload))
	}

	frame := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[4:], payload)

	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("write message: %w", err)
	}

	return nil
}
