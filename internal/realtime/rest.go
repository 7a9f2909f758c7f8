package realtime

import (
	"encoding/json"
	"net/http"

	"claude-line/internal/protocol"
)

type healthResponse struct {
	Status                string `json:"status"`
	TranscriptionProvider string `json:"transcription_provider"`
	CleanupEnabled        bool   `json:"cleanup_enabled"`
	WorkDir               string `json:"work_dir"`
	SessionActive         bool   `json:"session_active"`
	Running               bool   `json:"running"`
}

type sessionResponse struct {
	SessionID      string   `json:"sessionId,omitempty"`
	Running        bool     `json:"running"`
	History        []string `json:"history"`
	WorkDir        string   `json:"workDir"`
	WorkDirDisplay string   `json:"workDirDisplay"`
	FileCount      int      `json:"fileCount"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:                "ok",
		TranscriptionProvider: s.provider,
		CleanupEnabled:        s.cleanupEnabled,
		WorkDir:               s.manager.WorkDir(),
		SessionActive:         s.manager.SessionID() != "",
		Running:               s.manager.IsRunning(),
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	state := s.manager.State()
	history := state.History
	if history == nil {
		history = []string{}
	}

	workDir := s.manager.WorkDir()
	writeJSON(w, http.StatusOK, sessionResponse{
		SessionID:      state.ID,
		Running:        state.Running,
		History:        history,
		WorkDir:        workDir,
		WorkDirDisplay: FormatWorkDir(workDir),
		FileCount:      s.fileCount(),
	})
}

func (s *Server) handleCancelSession(w http.ResponseWriter, r *http.Request) {
	cancelled := s.manager.Cancel()
	if cancelled {
		s.broadcast(protocol.TypeStatus, protocol.StatusPayload{
			Message:     statusCancelled,
			AutoDismiss: protocol.AutoDismissMillis,
		})
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": cancelled})
}

func (s *Server) handleResetSession(w http.ResponseWriter, r *http.Request) {
	s.manager.Reset()
	s.broadcast(protocol.TypeStatus, protocol.StatusPayload{
		Message:     statusReset,
		AutoDismiss: protocol.AutoDismissMillis,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
