package app

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"missioncontrol/internal/model"
	"missioncontrol/internal/state"
)

const maxBodyBytes = 4 << 20

type HTTPServer struct {
	service    *Service
	corsOrigin string
	metrics    http.Handler
}

// NewHTTPServer serves the JSON API. metrics, when not nil, is mounted at
// /metrics.
func NewHTTPServer(service *Service, corsOrigin string, metrics http.Handler) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin, metrics: metrics}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"store": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["store"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}
		checks["sync"] = s.service.Status()

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/metrics" && s.metrics != nil {
		s.metrics.ServeHTTP(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/state/stream" {
		s.handleStream(w, r)
		return
	}

	if r.URL.Path == "/api/state" {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, s.service.Snapshot())
		case http.MethodPut:
			payload, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
			if err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", "could not read body", nil)
				return
			}
			doc, err := s.service.ReplaceState(editorContext(r), payload)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, doc)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/status" {
		writeJSON(w, http.StatusOK, s.service.Status())
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/clocks" {
		board, err := s.service.Board(strings.TrimSpace(r.URL.Query().Get("name")))
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, board)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "orgs" {
		key, err := model.ParseOrgKey(parts[2])
		if err != nil {
			s.fail(w, err)
			return
		}
		s.handleOrg(w, r, key, parts[3:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// handleOrg serves /api/orgs/{org}/... with rest holding the segments after
// the org key.
func (s *HTTPServer) handleOrg(w http.ResponseWriter, r *http.Request, key model.OrgKey, rest []string) {
	ctx := editorContext(r)

	switch {
	case len(rest) == 0 && r.Method == http.MethodGet:
		org, err := s.service.GetOrg(key)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, org)
		return

	case len(rest) == 0 && r.Method == http.MethodPut:
		var body model.Org
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		org, err := s.service.ReplaceOrg(ctx, key, body)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, org)
		return

	case len(rest) == 1 && rest[0] == "strategic-targets" && r.Method == http.MethodPatch:
		var body struct {
			StrategicTargets *string `json:"strategicTargets"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if body.StrategicTargets == nil {
			s.fail(w, validationError("strategicTargets is required", nil))
			return
		}
		org, err := s.service.SetStrategicTargets(ctx, key, *body.StrategicTargets)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, org)
		return

	case len(rest) == 1 && rest[0] == "metrics" && key == model.OrgOpcode && r.Method == http.MethodPatch:
		var body MetricsPatch
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		org, err := s.service.PatchMetrics(ctx, body)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, org.OpCodeMetrics)
		return

	case len(rest) == 1 && rest[0] == "sprint" && key == model.OrgOpcode:
		if r.Method == http.MethodGet {
			writeJSON(w, http.StatusOK, s.service.SprintWindow())
			return
		}
		if r.Method != http.MethodPatch {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		var body SprintPatch
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		org, err := s.service.PatchSprint(ctx, body)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, org.SprintScope)
		return

	case len(rest) == 2 && rest[0] == "projects" && rest[1] == "progress" && key == model.OrgMaestro && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"items": s.service.ProjectProgress()})
		return

	case len(rest) == 1 && rest[0] == "posts" && r.Method == http.MethodGet:
		feed, err := s.service.Feed(key)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": feed})
		return

	case len(rest) == 1 && r.Method == http.MethodPost:
		var raw json.RawMessage
		if err := decodeBody(r, &raw); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		item, err := s.service.AddItem(ctx, key, rest[0], raw)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, item)
		return

	case len(rest) == 2 && r.Method == http.MethodPut:
		var raw json.RawMessage
		if err := decodeBody(r, &raw); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		item, err := s.service.ReplaceItem(ctx, key, rest[0], rest[1], raw)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, item)
		return

	case len(rest) == 2 && r.Method == http.MethodDelete:
		if err := s.service.DeleteItem(ctx, key, rest[0], rest[1]); err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) fail(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	if status == http.StatusInternalServerError {
		log.Printf("request failed: %v", err)
	}
	writeError(w, status, code, message, details)
}

// editorContext carries the X-User-Name header into the store so the write
// is stamped with it.
func editorContext(r *http.Request) context.Context {
	ctx := r.Context()
	if name := strings.TrimSpace(r.Header.Get("X-User-Name")); name != "" {
		ctx = state.WithEditor(ctx, name)
	}
	return ctx
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets the websocket upgrader take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID, X-User-Name")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if isUnknownOrg(err) {
		return http.StatusNotFound, "UNKNOWN_ORG", "Unknown organization", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
