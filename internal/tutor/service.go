// Package tutor is the question-answering and course-material surface that
// the HTTP, MCP and CLI front ends call.
package tutor

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/kalambet/lectern/internal/composer"
	"github.com/kalambet/lectern/internal/extract"
	"github.com/kalambet/lectern/internal/ingest"
	"github.com/kalambet/lectern/internal/retrieval"
	"github.com/kalambet/lectern/internal/storage"
)

const (
	MaxQuestionRunes = 500
	MaxTitleRunes    = 200
)

// Access answers course membership questions. *storage.Store satisfies it.
type Access interface {
	CourseExists(id string) (bool, error)
	Role(courseID, userID string) (storage.Role, error)
}

// Documents is the document persistence the service uses. *storage.Store
// satisfies it.
type Documents interface {
	ingest.JobEnqueuer
	CreateCourse(c storage.Course) error
	Enroll(courseID, userID string, role storage.Role) error
	CreateDocument(d storage.Document) error
	GetDocument(id string) (storage.Document, error)
	ReplaceContent(id, title, content string) (storage.Document, error)
	SoftDeleteDocument(id string) error
	ChunkStats(documentID string) (storage.ChunkStats, error)
}

// Retriever ranks course material. *retrieval.Retriever satisfies it.
type Retriever interface {
	Retrieve(ctx context.Context, courseID, question string) (retrieval.Result, error)
}

// Answerer composes answers. *composer.Composer satisfies it.
type Answerer interface {
	Answer(ctx context.Context, question string, res retrieval.Result) (composer.Answer, error)
}

// Response is the reply to a question.
type Response struct {
	Answer     string            `json:"answer"`
	Sources    []composer.Source `json:"sources"`
	Confidence int               `json:"confidence"`
	Mode       retrieval.Mode    `json:"mode"`
	Model      string            `json:"model,omitempty"`
}

// UploadRequest carries new course material: either Content, or a file as
// Filename plus Data (raw bytes) or DataBase64.
type UploadRequest struct {
	Title      string `json:"title"`
	Content    string `json:"content,omitempty"`
	Filename   string `json:"filename,omitempty"`
	Data       []byte `json:"-"`
	DataBase64 string `json:"data,omitempty"`
}

// UploadResult is the accepted document and the job that will process it.
type UploadResult struct {
	Document storage.Document
	JobID    string
}

// DocumentStatus is a document with its chunk counts.
type DocumentStatus struct {
	Document storage.Document
	Chunks   storage.ChunkStats
}

// Service implements course question answering and material management.
type Service struct {
	access    Access
	docs      Documents
	retriever Retriever
	answerer  Answerer
	logger    *slog.Logger
}

// NewService creates a Service.
func NewService(access Access, docs Documents, retriever Retriever, answerer Answerer) *Service {
	return &Service{
		access:    access,
		docs:      docs,
		retriever: retriever,
		answerer:  answerer,
		logger:    slog.Default(),
	}
}

// Ask answers question from the material of courseID. Any enrolled user may
// ask.
func (s *Service) Ask(ctx context.Context, userID, courseID, question string) (Response, error) {
	question = strings.TrimSpace(question)
	if n := utf8.RuneCountInString(question); n == 0 || n > MaxQuestionRunes {
		return Response{}, invalid("question", "must be 1 to %d characters", MaxQuestionRunes)
	}
	if _, err := s.authorize(courseID, userID, false); err != nil {
		return Response{}, err
	}

	res, err := s.retriever.Retrieve(ctx, courseID, question)
	if err != nil {
		return Response{}, s.unavailable(ctx, "retrieval failed", courseID, err)
	}

	ans, err := s.answerer.Answer(ctx, question, res)
	if err != nil {
		return Response{}, s.unavailable(ctx, "answer failed", courseID, err)
	}

	sources := ans.Sources
	if sources == nil {
		sources = []composer.Source{}
	}
	s.logger.Info("question answered", "course_id", courseID, "mode", res.Mode,
		"confidence", ans.Confidence, "sources", len(sources))
	return Response{
		Answer:     ans.Text,
		Sources:    sources,
		Confidence: ans.Confidence,
		Mode:       res.Mode,
		Model:      ans.Model,
	}, nil
}

func (s *Service) unavailable(ctx context.Context, msg, courseID string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	s.logger.Error(msg, "course_id", courseID, "error", err)
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

// Upload stores new material in courseID and queues it for processing.
// Only instructors may upload.
func (s *Service) Upload(ctx context.Context, userID, courseID string, req UploadRequest) (UploadResult, error) {
	if _, err := s.authorize(courseID, userID, true); err != nil {
		return UploadResult{}, err
	}
	title, content, err := materialize(req)
	if err != nil {
		return UploadResult{}, err
	}

	doc := storage.Document{ID: uuid.New().String(), CourseID: courseID, Title: title, Content: content}
	if err := s.docs.CreateDocument(doc); err != nil {
		return UploadResult{}, fmt.Errorf("storing document: %w", err)
	}
	doc, err = s.docs.GetDocument(doc.ID)
	if err != nil {
		return UploadResult{}, fmt.Errorf("reading document: %w", err)
	}

	jobID, err := ingest.EnqueueProcess(s.docs, doc)
	if err != nil {
		return UploadResult{}, err
	}
	s.logger.Info("document uploaded", "document_id", doc.ID, "course_id", courseID, "job_id", jobID, "chars", len(content))
	return UploadResult{Document: doc, JobID: jobID}, nil
}

// ReplaceContent swaps the text of a document and queues the new
// generation. Processing of the old text still in flight is discarded.
func (s *Service) ReplaceContent(ctx context.Context, userID, documentID string, req UploadRequest) (UploadResult, error) {
	doc, err := s.document(documentID, userID, true)
	if err != nil {
		return UploadResult{}, err
	}
	title, content, err := materialize(req)
	if err != nil && !(req.Title == "" && isTitleError(err)) {
		return UploadResult{}, err
	}

	doc, err = s.docs.ReplaceContent(doc.ID, title, content)
	if errors.Is(err, storage.ErrNotFound) {
		return UploadResult{}, ErrDocumentNotFound
	}
	if err != nil {
		return UploadResult{}, fmt.Errorf("replacing content: %w", err)
	}

	jobID, err := ingest.EnqueueProcess(s.docs, doc)
	if err != nil {
		return UploadResult{}, err
	}
	s.logger.Info("document replaced", "document_id", doc.ID, "generation", doc.Generation, "job_id", jobID)
	return UploadResult{Document: doc, JobID: jobID}, nil
}

// Status reports a document's processing state to any course member.
func (s *Service) Status(ctx context.Context, userID, documentID string) (DocumentStatus, error) {
	doc, err := s.document(documentID, userID, false)
	if err != nil {
		return DocumentStatus{}, err
	}
	stats, err := s.docs.ChunkStats(doc.ID)
	if err != nil {
		return DocumentStatus{}, fmt.Errorf("reading chunk stats: %w", err)
	}
	return DocumentStatus{Document: doc, Chunks: stats}, nil
}

// Delete soft-deletes a document; its chunks leave retrieval immediately.
func (s *Service) Delete(ctx context.Context, userID, documentID string) error {
	doc, err := s.document(documentID, userID, true)
	if err != nil {
		return err
	}
	if err := s.docs.SoftDeleteDocument(doc.ID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrDocumentNotFound
		}
		return fmt.Errorf("deleting document: %w", err)
	}
	s.logger.Info("document deleted", "document_id", doc.ID, "course_id", doc.CourseID)
	return nil
}

// CreateCourse creates a course and enrolls owner as its instructor when
// owner is set.
func (s *Service) CreateCourse(ctx context.Context, owner, title string) (storage.Course, error) {
	title = strings.TrimSpace(title)
	if title == "" || utf8.RuneCountInString(title) > MaxTitleRunes {
		return storage.Course{}, invalid("title", "must be 1 to %d characters", MaxTitleRunes)
	}
	c := storage.Course{ID: uuid.New().String(), Title: title}
	if err := s.docs.CreateCourse(c); err != nil {
		return storage.Course{}, err
	}
	if owner != "" {
		if err := s.docs.Enroll(c.ID, owner, storage.RoleInstructor); err != nil {
			return storage.Course{}, err
		}
	}
	return c, nil
}

// Enroll sets a user's role in a course.
func (s *Service) Enroll(ctx context.Context, courseID, userID string, role storage.Role) error {
	if strings.TrimSpace(userID) == "" {
		return invalid("user_id", "is required")
	}
	if !role.Valid() {
		return invalid("role", "must be %q or %q", storage.RoleStudent, storage.RoleInstructor)
	}
	ok, err := s.access.CourseExists(courseID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrCourseNotFound
	}
	return s.docs.Enroll(courseID, userID, role)
}

// authorize checks that courseID exists and userID may act in it.
func (s *Service) authorize(courseID, userID string, instructor bool) (storage.Role, error) {
	ok, err := s.access.CourseExists(courseID)
	if err != nil {
		return "", fmt.Errorf("checking course: %w", err)
	}
	if !ok {
		return "", ErrCourseNotFound
	}
	role, err := s.access.Role(courseID, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return "", ErrForbidden
	}
	if err != nil {
		return "", fmt.Errorf("checking role: %w", err)
	}
	if instructor && role != storage.RoleInstructor {
		return "", ErrForbidden
	}
	return role, nil
}

func (s *Service) document(documentID, userID string, instructor bool) (storage.Document, error) {
	doc, err := s.docs.GetDocument(documentID)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.Document{}, ErrDocumentNotFound
	}
	if err != nil {
		return storage.Document{}, fmt.Errorf("reading document: %w", err)
	}
	if _, err := s.authorize(doc.CourseID, userID, instructor); err != nil {
		if errors.Is(err, ErrCourseNotFound) {
			return storage.Document{}, ErrDocumentNotFound
		}
		return storage.Document{}, err
	}
	return doc, nil
}

// materialize resolves an upload to a title and text, extracting file
// contents when a file was sent.
func materialize(req UploadRequest) (string, string, error) {
	title := strings.TrimSpace(req.Title)
	content := req.Content

	data := req.Data
	if len(data) == 0 && req.DataBase64 != "" {
		var err error
		data, err = base64.StdEncoding.DecodeString(req.DataBase64)
		if err != nil {
			return "", "", invalid("data", "is not valid base64")
		}
	}

	if len(data) > 0 {
		if strings.TrimSpace(content) != "" {
			return "", "", invalid("content", "send either content or a file, not both")
		}
		if req.Filename == "" {
			return "", "", invalid("filename", "is required with file data")
		}
		doc, err := extract.File(req.Filename, data)
		if errors.Is(err, extract.ErrUnsupported) {
			return "", "", invalid("filename", "%v", err)
		}
		if err != nil {
			return "", "", invalid("data", "%v", err)
		}
		content = doc.Text
		if title == "" {
			title = doc.Title
		}
	}

	if strings.TrimSpace(content) == "" {
		return "", "", invalid("content", "is required")
	}
	if title == "" {
		return "", content, invalid("title", "is required")
	}
	if utf8.RuneCountInString(title) > MaxTitleRunes {
		return "", "", invalid("title", "must be at most %d characters", MaxTitleRunes)
	}
	return title, content, nil
}

func isTitleError(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr) && verr.Field == "title" && verr.Message == "is required"
}
