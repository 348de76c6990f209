// Package api serves health, metrics and transcription over HTTP.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Dragon116rus/Voice-Recognizer-Telegram-Bot/internal/audio"
	"github.com/Dragon116rus/Voice-Recognizer-Telegram-Bot/internal/logger"
	"github.com/Dragon116rus/Voice-Recognizer-Telegram-Bot/internal/metrics"
	"github.com/Dragon116rus/Voice-Recognizer-Telegram-Bot/internal/protocol"
	"github.com/Dragon116rus/Voice-Recognizer-Telegram-Bot/internal/transcription"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Transcriber is the part of transcription.Transcriber the API uses.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (*transcription.Result, error)
	TranscribeStream(ctx context.Context, audioPath string, onSegment func(transcription.Segment)) error
}

// Config holds server settings.
type Config struct {
	BindAddress    string
	MaxUploadBytes int64
	RequestTimeout time.Duration
	ModelID        string
}

// Server handles HTTP and WebSocket requests
type Server struct {
	config      Config
	transcriber Transcriber
	logger      *logger.ContextLogger
	metrics     *metrics.Metrics
	server      *http.Server
}

// New creates a new API server
func New(config Config, tr Transcriber, log *logger.Logger, m *metrics.Metrics) *Server {
	if config.MaxUploadBytes <= 0 {
		config.MaxUploadBytes = 20 * 1024 * 1024
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 5 * time.Minute
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Server{
		config:      config,
		transcriber: tr,
		logger:      log.With("api"),
		metrics:     m,
	}
}

// Handler returns the routed mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", s.metrics.Handler())
	mux.HandleFunc("/api/v1/transcribe", s.handleTranscribe)
	mux.HandleFunc("/api/v1/stream", s.handleStream)
	return mux
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.BindAddress,
		Handler:      s.Handler(),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: s.config.RequestTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server on %s", s.config.BindAddress)
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.logger.Info("Stopping HTTP server")
	return s.server.Shutdown(shutdownCtx)
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"model":     s.config.ModelID,
		"timestamp": time.Now().Unix(),
	})
}

// handleTranscribe transcribes one uploaded file, raw or multipart field "file".
func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	requestID := uuid.New().String()
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes)

	body, name, err := uploadReader(r)
	if err != nil {
		s.writeError(w, requestID, statusForUpload(err), protocol.ErrorCodeBadInput, err)
		return
	}
	defer body.Close()

	dir, path, err := stage(body, name)
	if dir != "" {
		defer os.RemoveAll(dir)
	}
	if err != nil {
		s.writeError(w, requestID, statusForUpload(err), protocol.ErrorCodeBadInput, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.config.RequestTimeout)
	defer cancel()

	start := time.Now()
	result, err := s.transcriber.Transcribe(ctx, path)
	if err != nil {
		status, code := classify(err)
		s.writeError(w, requestID, status, code, err)
		return
	}

	s.logger.InfoWithFields("Transcribed upload", map[string]interface{}{
		"request_id":    requestID,
		"audio_seconds": result.Audio.Seconds(),
		"elapsed_ms":    time.Since(start).Milliseconds(),
	})

	writeJSON(w, http.StatusOK, transcriptData(requestID, result))
}

// handleStream upgrades to a websocket, reads one binary audio message and
// streams segments back as they are recognized.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade to WebSocket: %v", err)
		return
	}
	defer conn.Close()

	requestID := uuid.New().String()
	s.logger.Info("New stream connection %s", requestID)
	conn.SetReadLimit(s.config.MaxUploadBytes)

	msgType, data, err := conn.ReadMessage()
	if err != nil {
		s.logger.Debug("WebSocket read error (%s): %v", requestID, err)
		return
	}
	if msgType != websocket.BinaryMessage {
		s.sendError(conn, protocol.ErrorCodeBadInput, "expected a binary message with audio data")
		return
	}

	dir, path, err := stage(bytes.NewReader(data), "")
	if dir != "" {
		defer os.RemoveAll(dir)
	}
	if err != nil {
		s.sendError(conn, protocol.ErrorCodeInternal, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.config.RequestTimeout)
	defer cancel()

	result := &transcription.Result{}
	err = s.transcriber.TranscribeStream(ctx, path, func(seg transcription.Segment) {
		result.Segments = append(result.Segments, seg)
		msg, err := protocol.NewMessage(protocol.MessageTypeTranscriptSegment, protocol.Segment(seg.Text, seg.Start, seg.End))
		if err != nil {
			return
		}
		if err := conn.WriteJSON(msg); err != nil {
			s.logger.Debug("Failed to send segment (%s): %v", requestID, err)
		}
	})
	if err != nil {
		_, code := classify(err)
		s.sendError(conn, code, err.Error())
		return
	}

	final, err := protocol.NewMessage(protocol.MessageTypeTranscriptFinal, transcriptData(requestID, result))
	if err == nil {
		conn.WriteJSON(final)
	}
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.logger.Info("Stream connection %s complete (%d segments)", requestID, len(result.Segments))
}

func (s *Server) sendError(conn *websocket.Conn, code, message string) {
	msg, err := protocol.NewMessage(protocol.MessageTypeError, protocol.ErrorData{Code: code, Message: message})
	if err != nil {
		return
	}
	if err := conn.WriteJSON(msg); err != nil {
		s.logger.Debug("Failed to send error: %v", err)
	}
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (s *Server) writeError(w http.ResponseWriter, requestID string, status int, code string, err error) {
	s.logger.WarnWithFields("Request failed", map[string]interface{}{
		"request_id": requestID,
		"status":     status,
		"error":      err.Error(),
	})
	writeJSON(w, status, protocol.ErrorData{Code: code, Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func transcriptData(requestID string, result *transcription.Result) protocol.TranscriptData {
	segments := make([]protocol.SegmentData, 0, len(result.Segments))
	for _, seg := range result.Segments {
		segments = append(segments, protocol.Segment(seg.Text, seg.Start, seg.End))
	}
	return protocol.TranscriptData{
		RequestID:    requestID,
		Text:         strings.TrimSpace(result.Text()),
		Segments:     segments,
		AudioSeconds: result.Audio.Seconds(),
	}
}

// classify maps transcription failures to HTTP status and protocol code.
func classify(err error) (int, string) {
	var decodeErr *audio.DecodeError
	var inferErr *transcription.InferenceError
	switch {
	case errors.As(err, &decodeErr):
		return http.StatusUnprocessableEntity, protocol.ErrorCodeDecode
	case errors.As(err, &inferErr):
		return http.StatusInternalServerError, protocol.ErrorCodeInference
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, protocol.ErrorCodeInternal
	default:
		return http.StatusInternalServerError, protocol.ErrorCodeInternal
	}
}

func statusForUpload(err error) int {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

// uploadReader returns the audio payload of a raw or multipart request.
func uploadReader(r *http.Request) (io.ReadCloser, string, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		return r.Body, "", nil
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, "", fmt.Errorf("failed to read multipart field \"file\": %w", err)
	}
	return file, header.Filename, nil
}

// stage copies the payload into a fresh temp dir. The caller removes dir.
func stage(body io.Reader, name string) (dir, path string, err error) {
	dir, err = os.MkdirTemp("", "voicebot-api-*")
	if err != nil {
		return "", "", fmt.Errorf("failed to create temp dir: %w", err)
	}

	ext := filepath.Ext(name)
	if ext == "" {
		ext = ".bin"
	}
	path = filepath.Join(dir, uuid.New().String()+ext)

	f, err := os.Create(path)
	if err != nil {
		return dir, "", fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		return dir, "", fmt.Errorf("failed to read upload: %w", err)
	}
	if err := f.Close(); err != nil {
		return dir, "", fmt.Errorf("failed to write temp file: %w", err)
	}
	return dir, path, nil
}
