// Package api exposes the tutor service over HTTP and MCP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kalambet/lectern/internal/ratelimit"
	"github.com/kalambet/lectern/internal/storage"
	"github.com/kalambet/lectern/internal/tutor"
)

const (
	maxRequestBodySize = 1 << 20  // 1MB
	maxUploadBodySize  = 20 << 20 // 20MB, base64 file data included
)

// Tutor is the service behind the API. *tutor.Service satisfies it.
type Tutor interface {
	Ask(ctx context.Context, userID, courseID, question string) (tutor.Response, error)
	Upload(ctx context.Context, userID, courseID string, req tutor.UploadRequest) (tutor.UploadResult, error)
	ReplaceContent(ctx context.Context, userID, documentID string, req tutor.UploadRequest) (tutor.UploadResult, error)
	Status(ctx context.Context, userID, documentID string) (tutor.DocumentStatus, error)
	Delete(ctx context.Context, userID, documentID string) error
	CreateCourse(ctx context.Context, owner, title string) (storage.Course, error)
	Enroll(ctx context.Context, courseID, userID string, role storage.Role) error
}

// Deps holds the handler dependencies. Governor is optional; when nil,
// questions are not rate limited.
type Deps struct {
	Tutor    Tutor
	Token    string
	Governor *ratelimit.Governor
}

// NewHandler returns the lectern REST API.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))
		r.Use(RequireUser)

		r.Post("/courses", handleCreateCourse(deps))
		r.Post("/courses/{courseID}/enrollments", handleEnroll(deps))
		r.Post("/courses/{courseID}/documents", handleUpload(deps))

		r.Group(func(r chi.Router) {
			if deps.Governor != nil {
				r.Use(ratelimit.Middleware(deps.Governor, userKeyFunc))
			}
			r.Post("/courses/{courseID}/questions", handleAsk(deps))
		})

		r.Get("/documents/{documentID}", handleGetDocument(deps))
		r.Delete("/documents/{documentID}", handleDeleteDocument(deps))
		r.Put("/documents/{documentID}/content", handleReplaceContent(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

type askRequest struct {
	Question string `json:"question"`
}

func handleAsk(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req askRequest
		if !decodeBody(w, r, maxRequestBodySize, &req) {
			return
		}
		resp, err := deps.Tutor.Ask(r.Context(), userFrom(r.Context()), chi.URLParam(r, "courseID"), req.Question)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleUpload(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req tutor.UploadRequest
		if !decodeBody(w, r, maxUploadBodySize, &req) {
			return
		}
		res, err := deps.Tutor.Upload(r.Context(), userFrom(r.Context()), chi.URLParam(r, "courseID"), req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, uploadResponse(res))
	}
}

func handleReplaceContent(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req tutor.UploadRequest
		if !decodeBody(w, r, maxUploadBodySize, &req) {
			return
		}
		res, err := deps.Tutor.ReplaceContent(r.Context(), userFrom(r.Context()), chi.URLParam(r, "documentID"), req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, uploadResponse(res))
	}
}

func handleGetDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := deps.Tutor.Status(r.Context(), userFrom(r.Context()), chi.URLParam(r, "documentID"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, statusResponse(st))
	}
}

func handleDeleteDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Tutor.Delete(r.Context(), userFrom(r.Context()), chi.URLParam(r, "documentID")); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type createCourseRequest struct {
	Title string `json:"title"`
}

func handleCreateCourse(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createCourseRequest
		if !decodeBody(w, r, maxRequestBodySize, &req) {
			return
		}
		c, err := deps.Tutor.CreateCourse(r.Context(), userFrom(r.Context()), req.Title)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, courseJSON{ID: c.ID, Title: c.Title})
	}
}

type enrollRequest struct {
	UserID string       `json:"user_id"`
	Role   storage.Role `json:"role"`
}

func handleEnroll(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req enrollRequest
		if !decodeBody(w, r, maxRequestBodySize, &req) {
			return
		}
		courseID := chi.URLParam(r, "courseID")
		if err := deps.Tutor.Enroll(r.Context(), courseID, req.UserID, req.Role); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"course_id": courseID, "user_id": req.UserID, "role": string(req.Role)})
	}
}

// --- wire types ---

type courseJSON struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type documentJSON struct {
	ID              string    `json:"id"`
	CourseID        string    `json:"course_id"`
	Title           string    `json:"title"`
	Status          string    `json:"status"`
	ProcessingError string    `json:"processing_error,omitempty"`
	Generation      int       `json:"generation"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type uploadJSON struct {
	Document documentJSON `json:"document"`
	JobID    string       `json:"job_id"`
}

type statusJSON struct {
	Document       documentJSON `json:"document"`
	Chunks         int          `json:"chunks"`
	EmbeddedChunks int          `json:"embedded_chunks"`
}

func toDocumentJSON(d storage.Document) documentJSON {
	return documentJSON{
		ID:              d.ID,
		CourseID:        d.CourseID,
		Title:           d.Title,
		Status:          string(d.Status),
		ProcessingError: d.ProcessingError,
		Generation:      d.Generation,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}

func uploadResponse(res tutor.UploadResult) uploadJSON {
	return uploadJSON{Document: toDocumentJSON(res.Document), JobID: res.JobID}
}

func statusResponse(st tutor.DocumentStatus) statusJSON {
	return statusJSON{Document: toDocumentJSON(st.Document), Chunks: st.Chunks.Total, EmbeddedChunks: st.Chunks.Embedded}
}

// --- helpers ---

func decodeBody(w http.ResponseWriter, r *http.Request, limit int64, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httpError(w, http.StatusRequestEntityTooLarge, "invalid_request_error", "request body exceeds %d bytes", tooLarge.Limit)
			return false
		}
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

// writeServiceError maps tutor errors to status codes. Upstream failures
// become 503 with the try-again message.
func writeServiceError(w http.ResponseWriter, err error) {
	var verr *tutor.ValidationError
	switch {
	case errors.As(err, &verr):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%s", verr.Error())
	case errors.Is(err, tutor.ErrCourseNotFound), errors.Is(err, tutor.ErrDocumentNotFound):
		httpError(w, http.StatusNotFound, "not_found_error", "%s", err.Error())
	case errors.Is(err, tutor.ErrForbidden):
		httpError(w, http.StatusForbidden, "permission_error", "%s", err.Error())
	case errors.Is(err, tutor.ErrUnavailable):
		httpError(w, http.StatusServiceUnavailable, "api_error", "%s", tutor.ErrUnavailable.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		httpError(w, http.StatusServiceUnavailable, "api_error", "request cancelled")
	default:
		slog.Error("request failed", "error", err)
		httpError(w, http.StatusInternalServerError, "api_error", "internal error")
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
