package api

import (
	"context"
	"errors"

	"github.com/kalambet/lectern/internal/storage"
	"github.com/kalambet/lectern/internal/tutor"
)

var errNotStubbed = errors.New("not stubbed")

// fakeTutor implements Tutor with per-method fn fields.
type fakeTutor struct {
	askFn     func(ctx context.Context, userID, courseID, question string) (tutor.Response, error)
	uploadFn  func(ctx context.Context, userID, courseID string, req tutor.UploadRequest) (tutor.UploadResult, error)
	replaceFn func(ctx context.Context, userID, documentID string, req tutor.UploadRequest) (tutor.UploadResult, error)
	statusFn  func(ctx context.Context, userID, documentID string) (tutor.DocumentStatus, error)
	deleteFn  func(ctx context.Context, userID, documentID string) error
	courseFn  func(ctx context.Context, owner, title string) (storage.Course, error)
	enrollFn  func(ctx context.Context, courseID, userID string, role storage.Role) error
}

func (f *fakeTutor) Ask(ctx context.Context, userID, courseID, question string) (tutor.Response, error) {
	if f.askFn == nil {
		return tutor.Response{}, errNotStubbed
	}
	return f.askFn(ctx, userID, courseID, question)
}

func (f *fakeTutor) Upload(ctx context.Context, userID, courseID string, req tutor.UploadRequest) (tutor.UploadResult, error) {
	if f.uploadFn == nil {
		return tutor.UploadResult{}, errNotStubbed
	}
	return f.uploadFn(ctx, userID, courseID, req)
}

func (f *fakeTutor) ReplaceContent(ctx context.Context, userID, documentID string, req tutor.UploadRequest) (tutor.UploadResult, error) {
	if f.replaceFn == nil {
		return tutor.UploadResult{}, errNotStubbed
	}
	return f.replaceFn(ctx, userID, documentID, req)
}

func (f *fakeTutor) Status(ctx context.Context, userID, documentID string) (tutor.DocumentStatus, error) {
	if f.statusFn == nil {
		return tutor.DocumentStatus{}, errNotStubbed
	}
	return f.statusFn(ctx, userID, documentID)
}

func (f *fakeTutor) Delete(ctx context.Context, userID, documentID string) error {
	if f.deleteFn == nil {
		return errNotStubbed
	}
	return f.deleteFn(ctx, userID, documentID)
}

func (f *fakeTutor) CreateCourse(ctx context.Context, owner, title string) (storage.Course, error) {
	if f.courseFn == nil {
		return storage.Course{}, errNotStubbed
	}
	return f.courseFn(ctx, owner, title)
}

func (f *fakeTutor) Enroll(ctx context.Context, courseID, userID string, role storage.Role) error {
	if f.enrollFn == nil {
		return errNotStubbed
	}
	return f.enrollFn(ctx, courseID, userID, role)
}
