// Package bridge exposes the browser download and action APIs through a
// WebSocket connection opened by the extension's background script.
//
// Server to extension:  {"id":"<uuid>","method":"downloads.pause","params":{"id":7}}
// Extension replies:    {"id":"<uuid>","result":...} or {"id":"<uuid>","error":"..."}
// Extension events:     {"event":"downloads.onCreated","download":{...}}
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/zangezia/DLGuard/internal/browser"
)

// ErrNotConnected is returned when no extension is attached
var ErrNotConnected = errors.New("browser extension not connected")

const EventDownloadCreated = "downloads.onCreated"

// Message is the single envelope used in both directions
type Message struct {
	ID       string                `json:"id,omitempty"`
	Method   string                `json:"method,omitempty"`
	Params   json.RawMessage       `json:"params,omitempty"`
	Result   json.RawMessage       `json:"result,omitempty"`
	Error    string                `json:"error,omitempty"`
	Event    string                `json:"event,omitempty"`
	Download *browser.DownloadItem `json:"download,omitempty"`
}

// DownloadHandler receives new downloads reported by the extension
type DownloadHandler func(ctx context.Context, item browser.DownloadItem)

type reply struct {
	msg Message
	err error
}

// pendingCall is a call waiting for its reply on conn
type pendingCall struct {
	conn *websocket.Conn
	ch   chan reply
}

// Bridge implements browser.Downloads and browser.Action
type Bridge struct {
	timeout  time.Duration
	upgrader websocket.Upgrader

	mu        sync.Mutex
	conn      *websocket.Conn
	pending   map[string]pendingCall
	onCreated DownloadHandler

	writeMu sync.Mutex
}

// New creates a bridge whose calls give up after timeout
func New(timeout time.Duration) *Bridge {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	b := &Bridge{
		timeout: timeout,
		pending: make(map[string]pendingCall),
	}
	b.upgrader = websocket.Upgrader{CheckOrigin: allowedOrigin}
	return b
}

// OnDownloadCreated registers the handler for new downloads
func (b *Bridge) OnDownloadCreated(fn DownloadHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onCreated = fn
}

// Connected reports whether an extension is attached
func (b *Bridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil
}

// ServeHTTP upgrades the extension's connection and reads from it until it
// closes. A new connection replaces the previous one.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Bridge upgrade failed")
		return
	}

	b.mu.Lock()
	previous := b.conn
	b.conn = conn
	b.mu.Unlock()

	if previous != nil {
		log.Info().Msg("Replacing previous extension connection")
		previous.Close()
	}

	log.Info().Str("remote", r.RemoteAddr).Msg("Extension connected")
	b.readLoop(conn)
	log.Info().Str("remote", r.RemoteAddr).Msg("Extension disconnected")
}

func (b *Bridge) readLoop(conn *websocket.Conn) {
	defer b.detach(conn)

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Msg("Bridge read failed")
			}
			return
		}

		if msg.Event != "" {
			b.dispatch(msg)
			continue
		}

		b.mu.Lock()
		pc, ok := b.pending[msg.ID]
		if ok && pc.conn == conn {
			delete(b.pending, msg.ID)
		}
		b.mu.Unlock()

		if !ok || pc.conn != conn {
			log.Debug().Str("id", msg.ID).Msg("Reply for unknown call")
			continue
		}
		pc.ch <- reply{msg: msg}
	}
}

// dispatch runs event handlers off the read loop so they can make calls
func (b *Bridge) dispatch(msg Message) {
	switch msg.Event {
	case EventDownloadCreated:
		b.mu.Lock()
		handler := b.onCreated
		b.mu.Unlock()

		if handler == nil || msg.Download == nil {
			return
		}
		item := *msg.Download
		go handler(context.Background(), item)

	default:
		log.Debug().Str("event", msg.Event).Msg("Ignoring extension event")
	}
}

// detach fails the calls sent over conn. The bridge is marked disconnected
// only if conn had not been replaced already.
func (b *Bridge) detach(conn *websocket.Conn) {
	conn.Close()

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn == conn {
		b.conn = nil
	}

	for id, pc := range b.pending {
		if pc.conn != conn {
			continue
		}
		pc.ch <- reply{err: ErrNotConnected}
		delete(b.pending, id)
	}
}

func (b *Bridge) call(ctx context.Context, method string, params, result interface{}) error {
	var raw json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("%s: encode params: %w", method, err)
		}
		raw = data
	}

	id := uuid.NewString()
	ch := make(chan reply, 1)

	b.mu.Lock()
	conn := b.conn
	if conn == nil {
		b.mu.Unlock()
		return fmt.Errorf("%s: %w", method, ErrNotConnected)
	}
	b.pending[id] = pendingCall{conn: conn, ch: ch}
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
	}()

	b.writeMu.Lock()
	err := conn.WriteJSON(Message{ID: id, Method: method, Params: raw})
	b.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("%s: send: %w", method, err)
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", method, ctx.Err())
	case r := <-ch:
		if r.err != nil {
			return fmt.Errorf("%s: %w", method, r.err)
		}
		if r.msg.Error != "" {
			return &browser.Error{Method: method, Message: r.msg.Error}
		}
		if result != nil && len(r.msg.Result) > 0 {
			if err := json.Unmarshal(r.msg.Result, result); err != nil {
				return fmt.Errorf("%s: decode result: %w", method, err)
			}
		}
		return nil
	}
}

type idParams struct {
	ID int `json:"id"`
}

// Pause implements browser.Downloads
func (b *Bridge) Pause(ctx context.Context, id int) error {
	return b.call(ctx, "downloads.pause", idParams{id}, nil)
}

// Resume implements browser.Downloads
func (b *Bridge) Resume(ctx context.Context, id int) error {
	return b.call(ctx, "downloads.resume", idParams{id}, nil)
}

// Cancel implements browser.Downloads
func (b *Bridge) Cancel(ctx context.Context, id int) error {
	return b.call(ctx, "downloads.cancel", idParams{id}, nil)
}

// Search implements browser.Downloads
func (b *Bridge) Search(ctx context.Context, id int) (*browser.DownloadItem, error) {
	var items []browser.DownloadItem
	if err := b.call(ctx, "downloads.search", idParams{id}, &items); err != nil {
		return nil, err
	}
	for i := range items {
		if items[i].ID == id {
			return &items[i], nil
		}
	}
	return nil, nil
}

// OpenPopup implements browser.Action
func (b *Bridge) OpenPopup(ctx context.Context) error {
	return b.call(ctx, "action.openPopup", nil, nil)
}

// SetBadge implements browser.Action. An empty text clears the badge.
func (b *Bridge) SetBadge(ctx context.Context, text, color string) error {
	return b.call(ctx, "action.setBadge", map[string]string{"text": text, "color": color}, nil)
}

// allowedOrigin accepts extension pages and local pages only
func allowedOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	u, err := url.Parse(origin)
	if err != nil {
		return false
	}

	switch u.Scheme {
	case "chrome-extension", "moz-extension":
		return true
	}

	host := u.Hostname()
	return host == "127.0.0.1" || host == "localhost" || host == "::1"
}
