package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"sopflow/api/internal/export"
	"sopflow/api/internal/notify"
	"sopflow/api/internal/signatures"
	"sopflow/api/internal/workflow"
)

type HTTPServer struct {
	service    *Service
	signatures *signatures.Store
	corsOrigin string
}

func NewHTTPServer(service *Service, sigStore *signatures.Store, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, signatures: sigStore, corsOrigin: corsOrigin}
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
			"database": map[string]any{"status": "ok"},
		}
		if err := s.service.Ready(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{"status": "error", "error": err.Error()}
		}
		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		q := strings.TrimSpace(r.URL.Query().Get("q"))
		limit := 20
		if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be an integer", nil)
				return
			}
			limit = parsed
		}
		writeJSON(w, http.StatusOK, map[string]any{"results": s.service.Search(q, limit)})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/notifications/pending" {
		role, ok := workflow.NormalizeRole(r.URL.Query().Get("role"))
		if !ok {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "role must be author, reviewer, or approver", nil)
			return
		}
		pending, ok := s.service.notifier.(interface {
			Pending(ctx context.Context, role string) ([]notify.Event, error)
		})
		if !ok {
			writeJSON(w, http.StatusOK, map[string]any{"events": []notify.Event{}})
			return
		}
		events, err := pending.Pending(r.Context(), string(role))
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, "NOTIFY_UNAVAILABLE", "Could not read pending notifications", nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"events": events})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/signatures" {
		s.handleSignatureUpload(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/signatures" {
		s.handleSignatureFetch(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/documents" {
		departmentID := strings.TrimSpace(r.URL.Query().Get("departmentId"))
		items, err := s.service.ListDocuments(r.Context(), departmentID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Could not list documents", nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"documents": items})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/documents" {
		actor, ok := s.requireActor(w, r)
		if !ok {
			return
		}
		var body struct {
			DocCode      string `json:"docCode"`
			TitleEn      string `json:"titleEn"`
			TitleAr      string `json:"titleAr"`
			DepartmentID string `json:"departmentId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		header, err := s.service.CreateDocument(r.Context(), actor, CreateDocumentInput{
			DocCode:      body.DocCode,
			TitleEn:      body.TitleEn,
			TitleAr:      body.TitleAr,
			DepartmentID: body.DepartmentID,
		})
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"document": header})
		return
	}

	if r.URL.Path == "/api/departments" {
		s.handleDepartmentsRoot(w, r)
		return
	}

	parts := splitPath(r.URL.Path)

	if len(parts) == 3 && parts[0] == "api" && parts[1] == "departments" {
		s.handleDepartment(w, r, parts[2])
		return
	}

	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "documents" {
		s.handleDocument(w, r, parts[2], parts)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleDocument(w http.ResponseWriter, r *http.Request, headerID string, parts []string) {
	if len(parts) == 3 {
		switch r.Method {
		case http.MethodGet:
			actor, ok := s.requireActor(w, r)
			if !ok {
				return
			}
			view, err := s.service.GetDocument(r.Context(), headerID, actor)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"document": view.Header,
				"sections": view.Sections,
			})
			return
		case http.MethodPut:
			actor, ok := s.requireActor(w, r)
			if !ok {
				return
			}
			var body struct {
				TitleEn string `json:"titleEn"`
				TitleAr string `json:"titleAr"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			header, err := s.service.UpdateDocumentTitles(r.Context(), headerID, actor, body.TitleEn, body.TitleAr)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"document": header})
			return
		case http.MethodDelete:
			if err := s.service.DeleteDocument(r.Context(), headerID); err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
	}

	if len(parts) == 4 && parts[3] == "actions" && r.Method == http.MethodPost {
		actor, ok := s.requireActor(w, r)
		if !ok {
			return
		}
		var body struct {
			Action       string `json:"action"`
			SignatureRef string `json:"signatureRef"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		header, err := s.service.ApplyAction(r.Context(), headerID, actor, workflow.Action(strings.ToLower(strings.TrimSpace(body.Action))), TransitionPayload{
			SignatureRef: body.SignatureRef,
		})
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"document": header})
		return
	}

	if len(parts) == 4 && parts[3] == "export" && r.Method == http.MethodPost {
		var body struct {
			Format  string             `json:"format"`
			Heights map[string]float64 `json:"heights"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		format := export.Format(body.Format)
		if format != export.FormatPDF && format != export.FormatHTML && format != "" {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "format must be 'pdf' or 'html'", nil)
			return
		}
		result, err := s.service.Export(r.Context(), export.Request{
			HeaderID: headerID,
			Format:   format,
			Heights:  body.Heights,
		})
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		w.Header().Set("Content-Disposition", "attachment; filename=\""+result.Filename+"\"")
		w.Header().Set("Content-Type", result.MimeType)
		w.Write(result.Data)
		return
	}

	if len(parts) == 4 && parts[3] == "revisions" && r.Method == http.MethodGet {
		limit := 50
		if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
			if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
				limit = parsed
			}
		}
		history, err := s.service.PublishHistory(headerID, limit)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"revisions": history})
		return
	}

	if len(parts) == 5 && parts[3] == "revisions" && r.Method == http.MethodGet {
		version, err := strconv.Atoi(parts[4])
		if err != nil || version < 1 {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "version must be a positive integer", nil)
			return
		}
		rev, err := s.service.PublishedRevision(headerID, version)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"revision": rev})
		return
	}

	if len(parts) >= 5 && parts[3] == "sections" {
		kind := parts[4]

		if len(parts) == 5 && r.Method == http.MethodGet {
			rec, err := s.service.GetSection(r.Context(), headerID, kind)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"section": rec})
			return
		}

		if len(parts) == 5 && r.Method == http.MethodPut {
			actor, ok := s.requireActor(w, r)
			if !ok {
				return
			}
			var body struct {
				ContentEn       string `json:"contentEn"`
				ContentAr       string `json:"contentAr"`
				ReviewerComment string `json:"reviewerComment"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			rec, err := s.service.SaveSection(r.Context(), headerID, actor, SaveSectionInput{
				Kind:            kind,
				ContentEn:       body.ContentEn,
				ContentAr:       body.ContentAr,
				ReviewerComment: body.ReviewerComment,
			})
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"section": rec})
			return
		}

		if len(parts) == 6 && parts[5] == "history" && r.Method == http.MethodGet {
			history, err := s.service.GetSectionHistory(r.Context(), headerID, kind)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"history": history})
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleDepartmentsRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		tree, err := s.service.DepartmentTree(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Could not load departments", nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"departments": tree})
		return
	}

	if r.Method == http.MethodPost {
		var body struct {
			NameEn   string  `json:"nameEn"`
			NameAr   string  `json:"nameAr"`
			ParentID *string `json:"parentId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		department, err := s.service.CreateDepartment(r.Context(), body.NameEn, body.NameAr, body.ParentID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"department": department})
		return
	}

	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

func (s *HTTPServer) handleDepartment(w http.ResponseWriter, r *http.Request, departmentID string) {
	if r.Method == http.MethodPut {
		var body struct {
			NameEn string `json:"nameEn"`
			NameAr string `json:"nameAr"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.UpdateDepartment(r.Context(), departmentID, body.NameEn, body.NameAr); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if r.Method == http.MethodDelete {
		if err := s.service.DeleteDepartment(r.Context(), departmentID); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

// signature uploads cap at 1 MiB; signature scans are small PNGs.
const maxSignatureBytes = 1 << 20

func (s *HTTPServer) handleSignatureUpload(w http.ResponseWriter, r *http.Request) {
	if s.signatures == nil {
		writeError(w, http.StatusServiceUnavailable, "SIGNATURES_UNAVAILABLE", "Signature storage not configured", nil)
		return
	}
	actor, ok := s.requireActor(w, r)
	if !ok {
		return
	}
	image, err := io.ReadAll(io.LimitReader(r.Body, maxSignatureBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Could not read image", nil)
		return
	}
	if len(image) > maxSignatureBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "IMAGE_TOO_LARGE", "Signature image exceeds 1 MiB", nil)
		return
	}
	ref, err := s.signatures.Put(r.Context(), actor.ID, image, r.Header.Get("Content-Type"))
	if err != nil {
		log.Printf("signatures: upload for %s: %v", actor.ID, err)
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Could not store signature", nil)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ref": ref})
}

func (s *HTTPServer) handleSignatureFetch(w http.ResponseWriter, r *http.Request) {
	if s.signatures == nil {
		writeError(w, http.StatusServiceUnavailable, "SIGNATURES_UNAVAILABLE", "Signature storage not configured", nil)
		return
	}
	ref := strings.TrimSpace(r.URL.Query().Get("ref"))
	if ref == "" {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "ref is required", nil)
		return
	}
	data, contentType, err := s.signatures.Get(r.Context(), ref)
	if err != nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Signature not found", nil)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

// requireActor resolves the acting user from the identity headers set by the
// gateway. Requests without them are rejected before any state can change.
func (s *HTTPServer) requireActor(w http.ResponseWriter, r *http.Request) (Actor, bool) {
	id := strings.TrimSpace(r.Header.Get("X-Actor-Id"))
	name := strings.TrimSpace(r.Header.Get("X-Actor-Name"))
	role, roleOK := workflow.NormalizeRole(r.Header.Get("X-Actor-Role"))
	if id == "" || name == "" || !roleOK {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "X-Actor-Id, X-Actor-Name, and X-Actor-Role headers are required", nil)
		return Actor{}, false
	}
	return Actor{
		ID:           id,
		Name:         name,
		Role:         role,
		SignatureRef: strings.TrimSpace(r.Header.Get("X-Actor-Signature")),
	}, true
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

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID, X-Actor-Id, X-Actor-Name, X-Actor-Role, X-Actor-Signature")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
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
	decoder := json.NewDecoder(r.Body)
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
