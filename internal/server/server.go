// Package server exposes a session over a small HTTP control API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/audiolibrelab/avatarhost/internal/playback"
	"github.com/audiolibrelab/avatarhost/internal/session"
)

// maxUploadSize bounds /humanaudio request bodies.
const maxUploadSize = 64 << 20

// Server is the HTTP control surface of one session.
type Server struct {
	service session.Service
	port    string
	baseCtx context.Context
	mux     *http.ServeMux
}

// HumanRequest is the body of /human.
type HumanRequest struct {
	SessionID string `json:"sessionid,omitempty"`
	Type      string `json:"type"` // "echo" or "chat"
	Text      string `json:"text"`
	Interrupt bool   `json:"interrupt"`
}

// AudioTypeRequest is the body of /set_audiotype.
type AudioTypeRequest struct {
	AudioType int  `json:"audiotype"`
	Reinit    bool `json:"reinit"`
}

// RecordRequest is the body of /record.
type RecordRequest struct {
	Type string `json:"type"` // "start_record" or "end_record"
}

// GenericResponse is the envelope of every control response.
type GenericResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// StatusResponse represents the JSON response for status endpoint
type StatusResponse struct {
	Session   session.Info `json:"session"`
	LastError string       `json:"last_error,omitempty"`
}

// New creates a server for svc. Chat requests run under ctx.
func New(ctx context.Context, svc session.Service, port string) *Server {
	s := &Server{
		service: svc,
		port:    port,
		baseCtx: ctx,
		mux:     http.NewServeMux(),
	}

	s.mux.HandleFunc("/human", s.handleHuman)
	s.mux.HandleFunc("/humanaudio", s.handleHumanAudio)
	s.mux.HandleFunc("/set_audiotype", s.handleSetAudioType)
	s.mux.HandleFunc("/record", s.handleRecord)
	s.mux.HandleFunc("/interrupt_talk", s.handleInterruptTalk)
	s.mux.HandleFunc("/is_speaking", s.handleIsSpeaking)
	s.mux.HandleFunc("/status", s.handleStatus)
	s.mux.HandleFunc("/api/recordings", s.handleRecordings)
	s.mux.HandleFunc("/api/recordings/analyze/", s.handleRecordingAnalyze)
	s.mux.HandleFunc("/api/recordings/stream/", s.handleRecordingStream)
	return s
}

// Handler returns the routing handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	localIP := getLocalIP()
	slog.Info("Starting avatar host control server",
		"port", s.port,
		"local_url", fmt.Sprintf("http://%s:%s", localIP, s.port),
		"localhost_url", fmt.Sprintf("http://localhost:%s", s.port))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) handleHuman(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req HumanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Invalid JSON body", "operation", "human")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		s.sendErrorResponse(w, http.StatusBadRequest, "Text is required", "operation", "human")
		return
	}

	if req.Interrupt {
		s.service.FlushTalk()
	}

	switch req.Type {
	case "echo":
		if err := s.service.PutMsgTxt(req.Text, nil); err != nil {
			s.sendErrorResponse(w, statusFor(err), err.Error(), "operation", "human_echo")
			return
		}
	case "chat":
		// the answer is streamed into speech after the response is sent
		go func() {
			if err := s.service.Chat(s.baseCtx, req.Text); err != nil {
				slog.Error("Chat failed", "error", err)
			}
		}()
	default:
		s.sendErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("Unknown type %q, expected echo or chat", req.Type), "operation", "human")
		return
	}

	sendJSON(w, GenericResponse{Success: true, Message: "Message queued"})
}

func (s *Server) handleHumanAudio(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Failed to parse multipart form", "operation", "human_audio")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Audio file is required", "operation", "human_audio")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Failed to read audio file", "operation", "human_audio")
		return
	}

	frames, err := s.service.PutAudioFile(data)
	if err != nil {
		s.sendErrorResponse(w, http.StatusUnprocessableEntity, fmt.Sprintf("Failed to decode audio: %v", err),
			"filename", header.Filename, "operation", "human_audio")
		return
	}

	slog.Info("Audio file queued", "filename", header.Filename, "frames", frames)
	sendJSON(w, GenericResponse{Success: true, Message: "Audio queued", Data: map[string]int{"frames": frames}})
}

func (s *Server) handleSetAudioType(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req AudioTypeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Invalid JSON body", "operation", "set_audiotype")
		return
	}

	if err := s.service.SetCustomState(req.AudioType, req.Reinit); err != nil {
		s.sendErrorResponse(w, statusFor(err), err.Error(), "audiotype", req.AudioType, "operation", "set_audiotype")
		return
	}

	sendJSON(w, GenericResponse{Success: true, Message: "State changed", Data: map[string]string{"state": s.service.State().String()}})
}

func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req RecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Invalid JSON body", "operation", "record")
		return
	}

	switch req.Type {
	case "start_record":
		if err := s.service.StartRecording(); err != nil {
			s.sendErrorResponse(w, http.StatusInternalServerError, fmt.Sprintf("Failed to start recording: %v", err), "operation", "start_record")
			return
		}
		sendJSON(w, GenericResponse{Success: true, Message: "Recording started", Data: s.service.RecordingStatus()})
	case "end_record":
		res, err := s.service.StopRecording(r.Context())
		if err != nil {
			s.sendErrorResponse(w, http.StatusInternalServerError, fmt.Sprintf("Failed to stop recording: %v", err), "operation", "end_record")
			return
		}
		if res == nil {
			sendJSON(w, GenericResponse{Success: true, Message: "No recording in progress"})
			return
		}
		sendJSON(w, GenericResponse{Success: true, Message: "Recording saved", Data: res})
	default:
		s.sendErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("Unknown type %q, expected start_record or end_record", req.Type), "operation", "record")
	}
}

func (s *Server) handleInterruptTalk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.service.FlushTalk()
	sendJSON(w, GenericResponse{Success: true, Message: "Talk interrupted"})
}

func (s *Server) handleIsSpeaking(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	sendJSON(w, GenericResponse{Success: true, Data: s.service.IsSpeaking()})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	sendJSON(w, StatusResponse{
		Session:   s.service.Info(),
		LastError: s.service.GetLastError(),
	})
}

func (s *Server) handleRecordings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	recordings, err := s.service.ListRecordings()
	if err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError, fmt.Sprintf("Failed to list recordings: %v", err), "operation", "list_recordings")
		return
	}
	sendJSON(w, GenericResponse{Success: true, Data: recordings})
}

func (s *Server) handleRecordingAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	filename, ok := validFilename(r.URL.Path, "/api/recordings/analyze/")
	if !ok {
		s.sendErrorResponse(w, http.StatusBadRequest, "Invalid filename")
		return
	}

	analysis, err := s.service.AnalyzeRecording(filename)
	if err != nil {
		s.sendErrorResponse(w, http.StatusNotFound, err.Error(), "filename", filename, "operation", "analyze_recording")
		return
	}
	sendJSON(w, GenericResponse{Success: true, Data: analysis})
}

func (s *Server) handleRecordingStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	filename, ok := validFilename(r.URL.Path, "/api/recordings/stream/")
	if !ok || strings.ToLower(filepath.Ext(filename)) != ".mp4" {
		http.Error(w, "Invalid filename", http.StatusBadRequest)
		return
	}

	filePath := filepath.Join(s.service.VideoDir(), filename)
	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			http.Error(w, "File not found", http.StatusNotFound)
		} else {
			http.Error(w, "Error accessing file", http.StatusInternalServerError)
		}
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		http.Error(w, "Error accessing file", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Accept-Ranges", "bytes")
	http.ServeContent(w, r, filename, info.ModTime(), file)
}

// validFilename extracts the file name after prefix, rejecting path traversal.
func validFilename(path, prefix string) (string, bool) {
	filename := strings.TrimPrefix(path, prefix)
	if filename == "" || strings.Contains(filename, "..") || strings.ContainsAny(filename, `/\`) {
		return "", false
	}
	return filename, true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, playback.ErrUnknownSlot):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrNoTTS), errors.Is(err, session.ErrNoLLM):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func sendJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// sendErrorResponse sends a JSON error response and logs the error with context
func (s *Server) sendErrorResponse(w http.ResponseWriter, statusCode int, errorMsg string, logContext ...any) {
	logFields := []any{"error_message", errorMsg, "status_code", statusCode}
	if len(logContext) > 0 {
		logFields = append(logFields, logContext...)
	}
	slog.Error("Sending error response to client", logFields...)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(GenericResponse{Success: false, Error: errorMsg})
}

func getLocalIP() string {
	// Try to connect to a remote address to determine local IP
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "localhost"
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String()
}
