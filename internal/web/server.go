package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/zangezia/DLGuard/internal/config"
	"github.com/zangezia/DLGuard/internal/diskinfo"
	"github.com/zangezia/DLGuard/internal/monitor"
	"github.com/zangezia/DLGuard/internal/nativehost"
	"github.com/zangezia/DLGuard/internal/popup"
	"github.com/zangezia/DLGuard/pkg/models"
)

// Bridge is the extension endpoint mounted at /bridge
type Bridge interface {
	http.Handler
	Connected() bool
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // UI is served from the same local server
	},
}

// Server represents the web server
type Server struct {
	cfg        *config.Config
	local      *diskinfo.Local
	bridge     Bridge
	monService *monitor.Service
	webRoot    string

	popupMu sync.RWMutex
	popup   *popup.Popup

	mu      sync.RWMutex
	clients map[*websocket.Conn]bool
	writeMu sync.Mutex
}

// getWebRoot determines the web assets directory
func getWebRoot() string {
	// Try current directory first
	if _, err := os.Stat("web"); err == nil {
		return "web"
	}

	// Try installed location
	if _, err := os.Stat("/opt/dlguard/web"); err == nil {
		return "/opt/dlguard/web"
	}

	// Try executable directory
	if exePath, err := os.Executable(); err == nil {
		webPath := filepath.Join(filepath.Dir(exePath), "web")
		if _, err := os.Stat(webPath); err == nil {
			return webPath
		}
	}

	return "web"
}

// NewServer creates a new web server. bridge may be nil.
func NewServer(cfg *config.Config, local *diskinfo.Local, bridge Bridge, mon *monitor.Service) *Server {
	return &Server{
		cfg:        cfg,
		local:      local,
		bridge:     bridge,
		monService: mon,
		webRoot:    getWebRoot(),
		clients:    make(map[*websocket.Conn]bool),
	}
}

// AttachPopup sets the popup driven by the /api/popup endpoints
func (s *Server) AttachPopup(p *popup.Popup) {
	s.popupMu.Lock()
	defer s.popupMu.Unlock()
	s.popup = p
}

func (s *Server) getPopup() *popup.Popup {
	s.popupMu.RLock()
	defer s.popupMu.RUnlock()
	return s.popup
}

// Handler returns the routes served by the server
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Static files
	staticPath := filepath.Join(s.webRoot, "static")
	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.Dir(staticPath))))

	// Disk info service
	mux.Handle("/info", withCORS(http.HandlerFunc(s.handleInfo)))
	mux.Handle("/check", withCORS(http.HandlerFunc(s.handleCheck)))
	mux.Handle("/ping", withCORS(http.HandlerFunc(s.handlePing)))

	// Popup
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/api/popup", s.handlePopupOpen)
	mux.HandleFunc("/api/popup/confirm", s.handlePopupConfirm)
	mux.HandleFunc("/api/popup/cancel", s.handlePopupCancel)
	mux.HandleFunc("/ws", s.handleWebSocket)

	if s.bridge != nil {
		mux.Handle("/bridge", s.bridge)
	}

	return mux
}

// Start starts the web server
func (s *Server) Start(ctx context.Context) error {
	if s.monService != nil {
		samples := s.monService.Start(ctx)
		go s.broadcastDisk(ctx, samples)
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Web.Host, s.cfg.Web.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		log.Info().Str("address", addr).Msg("Starting web server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("web server: %w", err)
	case <-ctx.Done():
	}

	// Graceful shutdown
	log.Info().Msg("Shutting down web server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.closeClients()

	return server.Shutdown(shutdownCtx)
}

// withCORS lets extension pages call the disk info endpoints
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		h.Set("Access-Control-Allow-Methods", "GET,PUT,POST,DELETE,OPTIONS")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	path := r.URL.Query().Get("path")
	info, err := s.local.Info(r.Context(), path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Disk info failed")
		writeJSON(w, http.StatusBadRequest, models.DiskInfo{OK: false, Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query()
	path := query.Get("path")
	size := parseSize(query.Get("size"))

	result, err := s.local.Evaluate(r.Context(), size, path)
	if err != nil {
		var pathErr *diskinfo.PathError
		if errors.As(err, &pathErr) {
			writeJSON(w, http.StatusBadRequest, result)
			return
		}
		log.Error().Err(err).Msg("Space check failed")
		writeJSON(w, http.StatusInternalServerError, models.CheckResult{OK: false, Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, nativehost.Reply{OK: true, Message: "pong"})
}

// parseSize truncates a numeric query value; anything else means unknown.
// Values too large for int64 saturate and can never fit.
func parseSize(raw string) int64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return 0
	}
	return diskinfo.BytesFromFloat(f)
}

// rawInput accepts the size field as typed, either a JSON string or number
func rawInput(raw json.RawMessage) string {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	return strings.TrimSpace(string(raw))
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	indexPath := filepath.Join(s.webRoot, "templates", "popup.html")
	http.ServeFile(w, r, indexPath)
}

func (s *Server) handlePopupOpen(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	p := s.getPopup()
	if p == nil {
		http.Error(w, "Popup not available", http.StatusServiceUnavailable)
		return
	}

	if s.bridge != nil && !s.bridge.Connected() {
		log.Warn().Msg("Popup opened without a connected extension")
	}

	writeJSON(w, http.StatusOK, p.Open(r.Context()))
}

func (s *Server) handlePopupConfirm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	p := s.getPopup()
	if p == nil {
		http.Error(w, "Popup not available", http.StatusServiceUnavailable)
		return
	}

	var req struct {
		SizeMB json.RawMessage `json:"size_mb"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	view := p.Confirm(r.Context(), rawInput(req.SizeMB))

	switch view.Status {
	case popup.StatusResumed:
		s.logToUI("info", fmt.Sprintf("Resumed download %d", view.DownloadID))
	case popup.StatusCancelled:
		s.logToUI("warn", fmt.Sprintf("Cancelled download %d", view.DownloadID))
	}

	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handlePopupCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	p := s.getPopup()
	if p == nil {
		http.Error(w, "Popup not available", http.StatusServiceUnavailable)
		return
	}

	view := p.Cancel(r.Context())
	s.logToUI("info", "Download cancelled by user")

	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	// Send current state before joining broadcasts
	if p := s.getPopup(); p != nil {
		s.sendToClient(conn, models.WSMessage{Type: "popup", Payload: p.View()})
	}
	if s.monService != nil {
		if last := s.monService.Last(); last != nil {
			s.sendToClient(conn, models.WSMessage{Type: "disk", Payload: last})
		}
	}

	s.mu.Lock()
	s.clients[conn] = true
	s.mu.Unlock()

	log.Info().Str("remote", r.RemoteAddr).Msg("WebSocket client connected")

	// Keep connection alive and handle disconnection
	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.clients, conn)
			s.mu.Unlock()
			conn.Close()
			log.Info().Str("remote", r.RemoteAddr).Msg("WebSocket client disconnected")
		}()

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

// Render pushes a popup view to the UI and points the disk monitor at its directory
func (s *Server) Render(view popup.View) {
	if s.monService != nil && view.Path != "" {
		s.monService.SetTargetPath(view.Path)
	}
	s.broadcast(models.WSMessage{Type: "popup", Payload: view})
}

// Close tells the UI to close the popup
func (s *Server) Close() {
	if s.monService != nil {
		s.monService.SetTargetPath("")
	}
	s.broadcast(models.WSMessage{Type: "close"})
}

func (s *Server) logToUI(level, message string) {
	s.broadcast(models.WSMessage{
		Type: "log",
		Payload: models.LogMessage{
			Timestamp: time.Now(),
			Level:     level,
			Message:   message,
		},
	})
}

func (s *Server) broadcast(msg models.WSMessage) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for client := range s.clients {
		s.sendToClient(client, msg)
	}
}

func (s *Server) sendToClient(conn *websocket.Conn, msg models.WSMessage) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := conn.WriteJSON(msg); err != nil {
		log.Error().Err(err).Msg("Failed to send WebSocket message")
	}
}

func (s *Server) clientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *Server) closeClients() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for client := range s.clients {
		client.Close()
		delete(s.clients, client)
	}
}

func (s *Server) broadcastDisk(ctx context.Context, samples <-chan models.DiskInfo) {
	for {
		select {
		case <-ctx.Done():
			return
		case info, ok := <-samples:
			if !ok {
				return
			}
			s.broadcast(models.WSMessage{Type: "disk", Payload: info})
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}
