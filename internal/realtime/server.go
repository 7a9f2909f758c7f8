package realtime

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"claude-line/internal/cleanup"
	"claude-line/internal/protocol"
	"claude-line/internal/session"
	"claude-line/internal/transcribe"
	"claude-line/internal/watcher"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	pingInterval  = 30 * time.Second
	readDeadline  = 60 * time.Second
	writeDeadline = 10 * time.Second

	// Recorded audio arrives base64 encoded in a single message.
	maxMessageSize = 32 << 20
	sendBuffer     = 256

	tracerName = "claude-line/realtime"
)

// Status texts shown by the client.
const (
	statusRunning      = "Running Claude Code..."
	statusTranscribing = "Transcribing..."
	statusCleaning     = "Cleaning up text..."
	statusCancelled    = "Command cancelled"
	statusNothing      = "Nothing to cancel"
	statusReset        = "Session reset — starting fresh conversation"
)

const fallbackIndex = "<h1>Claude Line</h1><p>static/index.html not found</p>"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // The phone connects from whatever address the LAN gives it.
	},
}

// Options wires a Server to its collaborators. Watcher may be nil.
type Options struct {
	Manager     *session.Manager
	Watcher     *watcher.Watcher
	Transcriber transcribe.Transcriber
	Cleaner     cleanup.Cleaner

	CleanupEnabled        bool
	TranscriptionProvider string
	StaticDir             string
	Logger                *slog.Logger
}

// Server manages WebSocket connections and routes messages between clients,
// the claude session manager, transcription and cleanup.
type Server struct {
	manager     *session.Manager
	watcher     *watcher.Watcher
	transcriber transcribe.Transcriber
	cleaner     cleanup.Cleaner

	cleanupEnabled bool
	provider       string
	staticDir      string
	logger         *slog.Logger
	tracer         trace.Tracer

	clients   map[*client]bool
	clientsMu sync.RWMutex

	// ctx outlives individual connections so a command keeps running when
	// the phone drops off; Close cancels it.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type client struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	server *Server

	mu     sync.Mutex
	closed bool
}

// New creates a realtime server.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		manager:        opts.Manager,
		watcher:        opts.Watcher,
		transcriber:    opts.Transcriber,
		cleaner:        opts.Cleaner,
		cleanupEnabled: opts.CleanupEnabled,
		provider:       opts.TranscriptionProvider,
		staticDir:      opts.StaticDir,
		logger:         logger,
		tracer:         otel.Tracer(tracerName),
		clients:        make(map[*client]bool),
		ctx:            ctx,
		cancel:         cancel,
	}
}

// Handler returns an http.Handler with all routes configured.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", s.handleWebSocket)

	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("GET /session", s.handleGetSession)
	mux.HandleFunc("POST /session/cancel", s.handleCancelSession)
	mux.HandleFunc("POST /session/reset", s.handleResetSession)

	if s.staticDir != "" {
		mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.Dir(s.staticDir))))
	}

	return corsMiddleware(mux)
}

// Close cancels any running command and waits for background handlers.
func (s *Server) Close() {
	s.cancel()
	s.wg.Wait()
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if s.staticDir != "" {
		index := filepath.Join(s.staticDir, "index.html")
		if info, err := os.Stat(index); err == nil && !info.IsDir() {
			http.ServeFile(w, r, index)
			return
		}
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(fallbackIndex))
}

// handleWebSocket upgrades an HTTP connection to WebSocket.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		id:     uuid.NewString(),
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		server: s,
	}

	s.logger.Info("client connected", "client", c.id, "remote", r.RemoteAddr)

	s.sendConfig(c)
	s.manager.Replay(func(events []session.OutputEvent) {
		s.sendReplay(c, events)

		s.clientsMu.Lock()
		s.clients[c] = true
		s.clientsMu.Unlock()
	})

	go c.writePump()
	go c.readPump()
}

func (s *Server) sendConfig(c *client) {
	workDir := s.manager.WorkDir()
	s.sendTo(c, protocol.TypeConfig, protocol.ConfigPayload{
		WorkDir:        workDir,
		WorkDirDisplay: FormatWorkDir(workDir),
		FileCount:      s.fileCount(),
	})
}

// sendReplay sends the output of recent commands to a newly connected
// client as a single chunk, so a reconnecting phone sees what it missed.
func (s *Server) sendReplay(c *client, events []session.OutputEvent) {
	if len(events) == 0 {
		return
	}
	var text strings.Builder
	for _, ev := range events {
		text.WriteString(ev.Data)
	}
	s.sendTo(c, protocol.TypeClaudeChunk, protocol.ClaudeChunkPayload{Text: text.String()})
}

// readPump reads messages from the WebSocket connection.
func (c *client) readPump() {
	defer func() {
		c.server.removeClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.server.logger.Warn("websocket read error", "client", c.id, "error", err)
			}
			return
		}

		c.server.handleMessage(c, message)
	}
}

// writePump writes messages to the WebSocket connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// enqueue queues data for the write pump and reports whether it did. A
// client whose buffer is full has fallen behind: it is disconnected and
// catches up through replay when it reconnects.
func (c *client) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
	}

	c.server.logger.Warn("client cannot keep up, disconnecting", "client", c.id, "buffered", len(c.send))
	c.closed = true
	close(c.send)
	c.conn.Close()
	return false
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// removeClient cleans up a disconnected client.
func (s *Server) removeClient(c *client) {
	s.clientsMu.Lock()
	delete(s.clients, c)
	s.clientsMu.Unlock()

	c.close()
	s.logger.Info("client disconnected", "client", c.id)
}

// handleMessage processes a raw client message.
func (s *Server) handleMessage(c *client, raw []byte) {
	msg, err := protocol.ValidateClientMessage(raw)
	if err != nil {
		s.sendError(c, protocol.ErrInvalidMessage, err.Error())
		return
	}

	switch msg.Type {
	case protocol.TypeAudio:
		s.handleAudio(c, msg)
	case protocol.TypeSend:
		s.handleSend(c, msg)
	case protocol.TypeCancel:
		s.handleCancel(c)
	case protocol.TypeReset:
		s.handleReset(c)
	}
}

func (s *Server) handleSend(c *client, msg *protocol.Message) {
	payload, err := protocol.DecodeSend(msg)
	if err != nil {
		s.sendError(c, protocol.ErrInvalidMessage, err.Error())
		return
	}
	if payload.Text == "" {
		s.sendError(c, protocol.ErrEmptyCommand, "Empty command")
		return
	}

	s.sendTo(c, protocol.TypeStatus, protocol.StatusPayload{Message: statusRunning})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runCommand(c, payload.Text)
	}()
}

// runCommand executes one prompt, streaming chunks to every client. The
// final result goes to everyone too, except a busy rejection, which only the
// sender needs to see.
func (s *Server) runCommand(c *client, prompt string) {
	ctx, span := s.tracer.Start(s.ctx, "realtime.command",
		trace.WithAttributes(attribute.String("client.id", c.id)))
	defer span.End()

	var rec *watcher.Recording
	if s.watcher != nil {
		rec = s.watcher.Begin()
	}

	result := s.manager.Execute(ctx, prompt, func(chunk string) {
		s.broadcast(protocol.TypeClaudeChunk, protocol.ClaudeChunkPayload{Text: chunk})
	})

	var paths []string
	if rec != nil {
		paths = rec.Stop()
	}
	span.SetAttributes(
		attribute.Bool("success", result.Success),
		attribute.Int("files.changed", len(paths)),
	)

	done := protocol.ClaudeDonePayload{
		Success: result.Success,
		Output:  result.Output,
		Error:   result.Error,
	}
	if errors.Is(result.Err, session.ErrBusy) {
		s.sendTo(c, protocol.TypeClaudeDone, done)
		return
	}
	s.broadcast(protocol.TypeClaudeDone, done)

	if len(paths) > 0 {
		s.broadcast(protocol.TypeFilesChanged, protocol.FilesChangedPayload{
			Paths:     paths,
			FileCount: s.fileCount(),
		})
	}
}

func (s *Server) handleCancel(c *client) {
	message := statusNothing
	if s.manager.Cancel() {
		message = statusCancelled
	}
	s.sendTo(c, protocol.TypeStatus, protocol.StatusPayload{
		Message:     message,
		AutoDismiss: protocol.AutoDismissMillis,
	})
}

func (s *Server) handleReset(c *client) {
	s.manager.Reset()
	s.sendTo(c, protocol.TypeStatus, protocol.StatusPayload{
		Message:     statusReset,
		AutoDismiss: protocol.AutoDismissMillis,
	})
}

func (s *Server) handleAudio(c *client, msg *protocol.Message) {
	payload, err := protocol.DecodeAudio(msg)
	if err != nil {
		s.sendError(c, protocol.ErrInvalidMessage, err.Error())
		return
	}
	if payload.Data == "" {
		s.sendError(c, protocol.ErrInvalidAudio, "No audio data received")
		return
	}

	s.sendTo(c, protocol.TypeStatus, protocol.StatusPayload{Message: statusTranscribing})

	audio, err := base64.StdEncoding.DecodeString(payload.Data)
	if err != nil {
		s.sendError(c, protocol.ErrInvalidAudio, "Invalid base64 audio data")
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.transcribe(c, audio, payload.MimeType)
	}()
}

// transcribe turns recorded audio into text and, when enabled, cleans it
// up. Results go only to the client that recorded.
func (s *Server) transcribe(c *client, audio []byte, mimeType string) {
	ctx, span := s.tracer.Start(s.ctx, "realtime.transcribe", trace.WithAttributes(
		attribute.String("client.id", c.id),
		attribute.String("audio.mime_type", mimeType),
		attribute.Int("audio.bytes", len(audio)),
	))
	defer span.End()

	result := s.transcriber.Transcribe(ctx, audio, mimeType)
	s.sendTo(c, protocol.TypeTranscription, protocol.TranscriptionPayload{
		Text:    result.Text,
		Success: result.Success,
		Error:   result.Error,
	})
	span.SetAttributes(attribute.Bool("transcription.success", result.Success))

	if !result.Success || result.Text == "" || !s.cleanupEnabled || s.cleaner == nil {
		return
	}

	s.sendTo(c, protocol.TypeStatus, protocol.StatusPayload{Message: statusCleaning})
	cleaned := s.cleaner.Cleanup(ctx, result.Text)
	s.sendTo(c, protocol.TypeCleanup, protocol.CleanupPayload{
		Text:     cleaned.Text,
		Original: cleaned.Original,
		Success:  cleaned.Success,
		Skipped:  cleaned.Skipped,
		Error:    cleaned.Error,
	})
}

// OnFileCount is the watcher callback. It tells every client the new number
// of files in the working directory.
func (s *Server) OnFileCount(count int) {
	s.broadcast(protocol.TypeFilesCount, protocol.FilesCountPayload{FileCount: count})
}

func (s *Server) fileCount() int {
	if s.watcher == nil {
		return 0
	}
	return s.watcher.FileCount()
}

// sendTo sends a message to a single client.
func (s *Server) sendTo(c *client, msgType string, payload any) {
	data, err := protocol.Encode(msgType, payload)
	if err != nil {
		s.logger.Error("encode message", "type", msgType, "error", err)
		return
	}
	if !c.enqueue(data) {
		s.logger.Debug("dropped message", "client", c.id, "type", msgType)
	}
}

// broadcast sends a message to all connected clients.
func (s *Server) broadcast(msgType string, payload any) {
	data, err := protocol.Encode(msgType, payload)
	if err != nil {
		s.logger.Error("encode message", "type", msgType, "error", err)
		return
	}

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for c := range s.clients {
		if !c.enqueue(data) {
			s.logger.Debug("dropped message", "client", c.id, "type", msgType)
		}
	}
}

func (s *Server) sendError(c *client, code, message string) {
	s.sendTo(c, protocol.TypeError, protocol.ErrorPayload{Code: code, Message: message})
}

// FormatWorkDir shortens a path for display to its last two components,
// prefixed with ".../". Paths with two components or fewer, counting the
// root, are returned unchanged.
func FormatWorkDir(path string) string {
	var parts []string
	if filepath.IsAbs(path) {
		parts = append(parts, string(filepath.Separator))
	}
	for _, p := range strings.Split(filepath.ToSlash(filepath.Clean(path)), "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) <= 2 {
		return path
	}
	return ".../" + strings.Join(parts[len(parts)-2:], "/")
}
