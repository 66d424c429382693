package storage

import (
	"context"
	"errors"
	"testing"
)

func seedCourse(t *testing.T, s *Store, id string) {
	t.Helper()
	if err := s.CreateCourse(Course{ID: id, Title: "Course " + id}); err != nil {
		t.Fatalf("CreateCourse: %v", err)
	}
}

func seedDocument(t *testing.T, s *Store, courseID, id string) Document {
	t.Helper()
	if err := s.CreateDocument(Document{ID: id, CourseID: courseID, Title: "Doc " + id, Content: "text of " + id}); err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	d, err := s.GetDocument(id)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	return d
}

func TestCourseExists(t *testing.T) {
	s := openTestStore(t)
	seedCourse(t, s, "c1")

	ok, err := s.CourseExists("c1")
	if err != nil || !ok {
		t.Errorf("CourseExists(c1) = %v, %v; want true", ok, err)
	}
	ok, err = s.CourseExists("missing")
	if err != nil || ok {
		t.Errorf("CourseExists(missing) = %v, %v; want false", ok, err)
	}

	if _, err := s.db.Exec(`UPDATE courses SET deleted_at = '2026-01-01T00:00:00Z' WHERE id = 'c1'`); err != nil {
		t.Fatal(err)
	}
	if ok, _ := s.CourseExists("c1"); ok {
		t.Error("soft-deleted course reported as existing")
	}
}

func TestEnrollAndRole(t *testing.T) {
	s := openTestStore(t)
	seedCourse(t, s, "c1")

	if _, err := s.Role("c1", "u1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Role before enroll: err = %v, want ErrNotFound", err)
	}
	if err := s.Enroll("c1", "u1", RoleStudent); err != nil {
		t.Fatalf("Enroll: %v", err)
	}
	if err := s.Enroll("c1", "u1", RoleInstructor); err != nil {
		t.Fatalf("Enroll again: %v", err)
	}
	role, err := s.Role("c1", "u1")
	if err != nil {
		t.Fatalf("Role: %v", err)
	}
	if role != RoleInstructor {
		t.Errorf("role = %q, want instructor", role)
	}
}

func TestCreateAndGetDocument(t *testing.T) {
	s := openTestStore(t)
	seedCourse(t, s, "c1")
	d := seedDocument(t, s, "c1", "d1")

	if d.Status != StatusUnprocessed {
		t.Errorf("Status = %q, want unprocessed", d.Status)
	}
	if d.Generation != 1 {
		t.Errorf("Generation = %d, want 1", d.Generation)
	}
	if d.Content != "text of d1" || d.CourseID != "c1" {
		t.Errorf("document = %+v", d)
	}
	if d.CreatedAt.IsZero() {
		t.Error("CreatedAt is zero")
	}

	if _, err := s.GetDocument("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetDocument(nope) err = %v, want ErrNotFound", err)
	}
}

func TestSoftDeleteDocument(t *testing.T) {
	s := openTestStore(t)
	seedCourse(t, s, "c1")
	d := seedDocument(t, s, "c1", "d1")
	if err := s.FinishProcessing(d.ID, d.Generation, StatusProcessed, "", []Chunk{{Text: "a", Embedding: []float32{1}}}); err != nil {
		t.Fatalf("FinishProcessing: %v", err)
	}

	if err := s.SoftDeleteDocument("d1"); err != nil {
		t.Fatalf("SoftDeleteDocument: %v", err)
	}
	if _, err := s.GetDocument("d1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetDocument after delete: err = %v, want ErrNotFound", err)
	}
	if err := s.SoftDeleteDocument("d1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete: err = %v, want ErrNotFound", err)
	}

	chunks, err := s.ScopeChunks(context.Background(), "c1")
	if err != nil {
		t.Fatalf("ScopeChunks: %v", err)
	}
	if len(chunks) != 0 {
		t.Errorf("deleted document still in scope: %d chunks", len(chunks))
	}
}

func TestFinishProcessing_ReplacesChunks(t *testing.T) {
	s := openTestStore(t)
	seedCourse(t, s, "c1")
	d := seedDocument(t, s, "c1", "d1")

	if err := s.BeginProcessing(d.ID, d.Generation); err != nil {
		t.Fatalf("BeginProcessing: %v", err)
	}
	got, _ := s.GetDocument(d.ID)
	if got.Status != StatusProcessing {
		t.Errorf("Status = %q, want processing", got.Status)
	}

	first := []Chunk{
		{Text: "zero", Embedding: []float32{0.5, -1.25}},
		{Text: "one", Error: "skipped: provider quota exhausted"},
		{Text: "two", Embedding: []float32{3, 4}},
	}
	if err := s.FinishProcessing(d.ID, d.Generation, StatusPartiallyProcessed, "1 of 3 chunks failed", first); err != nil {
		t.Fatalf("FinishProcessing: %v", err)
	}

	chunks, err := s.ListChunks(d.ID)
	if err != nil {
		t.Fatalf("ListChunks: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	for i, c := range chunks {
		if c.Index != i {
			t.Errorf("chunk %d has index %d", i, c.Index)
		}
	}
	if chunks[0].Embedding[1] != -1.25 {
		t.Errorf("embedding round trip = %v", chunks[0].Embedding)
	}
	if chunks[1].Embedding != nil || chunks[1].Error == "" {
		t.Errorf("failed chunk = %+v", chunks[1])
	}

	st, err := s.ChunkStats(d.ID)
	if err != nil {
		t.Fatalf("ChunkStats: %v", err)
	}
	if st.Total != 3 || st.Embedded != 2 {
		t.Errorf("ChunkStats = %+v, want 3/2", st)
	}

	doc, _ := s.GetDocument(d.ID)
	if doc.Status != StatusPartiallyProcessed || doc.ProcessingError != "1 of 3 chunks failed" {
		t.Errorf("document = %+v", doc)
	}

	// Re-processing replaces the whole list.
	if err := s.FinishProcessing(d.ID, d.Generation, StatusProcessed, "", []Chunk{{Text: "only", Embedding: []float32{1}}}); err != nil {
		t.Fatalf("FinishProcessing again: %v", err)
	}
	chunks, _ = s.ListChunks(d.ID)
	if len(chunks) != 1 || chunks[0].Text != "only" {
		t.Errorf("chunks after replace = %+v", chunks)
	}
}

func TestReplaceContent_StaleGeneration(t *testing.T) {
	s := openTestStore(t)
	seedCourse(t, s, "c1")
	d := seedDocument(t, s, "c1", "d1")

	if err := s.BeginProcessing(d.ID, d.Generation); err != nil {
		t.Fatalf("BeginProcessing: %v", err)
	}

	updated, err := s.ReplaceContent(d.ID, "", "new text")
	if err != nil {
		t.Fatalf("ReplaceContent: %v", err)
	}
	if updated.Generation != 2 || updated.Status != StatusUnprocessed || updated.Content != "new text" {
		t.Errorf("updated = %+v", updated)
	}
	if updated.Title != d.Title {
		t.Errorf("Title = %q, want unchanged %q", updated.Title, d.Title)
	}

	err = s.FinishProcessing(d.ID, d.Generation, StatusProcessed, "", []Chunk{{Text: "old", Embedding: []float32{1}}})
	if !errors.Is(err, ErrStaleGeneration) {
		t.Fatalf("stale FinishProcessing err = %v, want ErrStaleGeneration", err)
	}
	chunks, _ := s.ListChunks(d.ID)
	if len(chunks) != 0 {
		t.Errorf("stale write persisted %d chunks", len(chunks))
	}
	if err := s.BeginProcessing(d.ID, d.Generation); !errors.Is(err, ErrStaleGeneration) {
		t.Errorf("stale BeginProcessing err = %v, want ErrStaleGeneration", err)
	}

	if _, err := s.ReplaceContent("missing", "", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ReplaceContent(missing) err = %v, want ErrNotFound", err)
	}
}

func TestScopeChunks(t *testing.T) {
	s := openTestStore(t)
	seedCourse(t, s, "c1")
	seedCourse(t, s, "c2")

	b := seedDocument(t, s, "c1", "b-doc")
	a := seedDocument(t, s, "c1", "a-doc")
	pending := seedDocument(t, s, "c1", "pending")
	other := seedDocument(t, s, "c2", "other")

	s.FinishProcessing(b.ID, b.Generation, StatusProcessed, "", []Chunk{{Text: "b0", Embedding: []float32{1}}, {Text: "b1", Embedding: []float32{2}}})
	s.FinishProcessing(a.ID, a.Generation, StatusPartiallyProcessed, "", []Chunk{{Text: "a0", Error: "failed"}})
	s.FinishProcessing(other.ID, other.Generation, StatusProcessed, "", []Chunk{{Text: "x", Embedding: []float32{1}}})
	_ = pending

	got, err := s.ScopeChunks(context.Background(), "c1")
	if err != nil {
		t.Fatalf("ScopeChunks: %v", err)
	}

	want := []string{"a0", "b0", "b1"}
	if len(got) != len(want) {
		t.Fatalf("got %d chunks, want %d", len(got), len(want))
	}
	for i, w := range want {
		if got[i].Text != w {
			t.Errorf("chunk %d = %q, want %q", i, got[i].Text, w)
		}
	}
	if got[0].Embedding != nil {
		t.Error("unembedded chunk decoded with a vector")
	}
	if got[1].DocumentTitle != "Doc b-doc" {
		t.Errorf("DocumentTitle = %q", got[1].DocumentTitle)
	}
}

func TestDecodeEmbedding_Corrupt(t *testing.T) {
	if _, err := decodeEmbedding([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for 3-byte blob")
	}
	v, err := decodeEmbedding(nil)
	if err != nil || v != nil {
		t.Errorf("decodeEmbedding(nil) = %v, %v", v, err)
	}
}
