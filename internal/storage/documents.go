package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// --- Courses ---

func (s *Store) CreateCourse(c Course) error {
	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.Exec(`INSERT INTO courses (id, title, created_at) VALUES (?, ?, ?)`,
		c.ID, c.Title, createdAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("inserting course %s: %w", c.ID, err)
	}
	return nil
}

// CourseExists reports whether a non-deleted course with id exists.
func (s *Store) CourseExists(id string) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM courses WHERE id = ? AND deleted_at IS NULL`, id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking course %s: %w", id, err)
	}
	return n > 0, nil
}

// Enroll sets userID's role in a course, replacing any previous role.
func (s *Store) Enroll(courseID, userID string, role Role) error {
	_, err := s.db.Exec(`
		INSERT INTO enrollments (course_id, user_id, role, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(course_id, user_id) DO UPDATE SET role = excluded.role`,
		courseID, userID, string(role), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("enrolling %s in %s: %w", userID, courseID, err)
	}
	return nil
}

// Role returns userID's role in courseID, or ErrNotFound if not enrolled.
func (s *Store) Role(courseID, userID string) (Role, error) {
	var role string
	err := s.db.QueryRow(`SELECT role FROM enrollments WHERE course_id = ? AND user_id = ?`, courseID, userID).Scan(&role)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return Role(role), nil
}

// --- Documents ---

const documentColumns = `id, course_id, title, content, status, processing_error, generation, created_at, updated_at`

func (s *Store) CreateDocument(d Document) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.Exec(`
		INSERT INTO documents (`+documentColumns+`)
		VALUES (?, ?, ?, ?, ?, '', 1, ?, ?)`,
		d.ID, d.CourseID, d.Title, d.Content, string(StatusUnprocessed), now, now,
	)
	if err != nil {
		return fmt.Errorf("inserting document %s: %w", d.ID, err)
	}
	return nil
}

// GetDocument returns a non-deleted document.
func (s *Store) GetDocument(id string) (Document, error) {
	row := s.db.QueryRow(`SELECT `+documentColumns+` FROM documents WHERE id = ? AND deleted_at IS NULL`, id)
	return scanDocument(row)
}

func scanDocument(row *sql.Row) (Document, error) {
	var d Document
	var status, createdAt, updatedAt string
	err := row.Scan(&d.ID, &d.CourseID, &d.Title, &d.Content, &status, &d.ProcessingError, &d.Generation, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, err
	}
	d.Status = DocumentStatus(status)
	if d.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Document{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if d.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return Document{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return d, nil
}

// ReplaceContent swaps a document's text, resets it to unprocessed and bumps
// its generation so in-flight processing of the old text is discarded. An
// empty title keeps the current one.
func (s *Store) ReplaceContent(id, title, content string) (Document, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`
		UPDATE documents
		SET title = CASE WHEN ? = '' THEN title ELSE ? END,
		    content = ?, status = ?, processing_error = '',
		    generation = generation + 1, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL`,
		title, title, content, string(StatusUnprocessed), now, id,
	)
	if err != nil {
		return Document{}, fmt.Errorf("replacing content of %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Document{}, err
	}
	if n == 0 {
		return Document{}, ErrNotFound
	}
	return s.GetDocument(id)
}

// SoftDeleteDocument marks a document deleted. Its chunks leave every
// retrieval scope immediately.
func (s *Store) SoftDeleteDocument(id string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`UPDATE documents SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`, now, now, id)
	if err != nil {
		return fmt.Errorf("deleting document %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// BeginProcessing marks the document as processing if it is still at
// generation. It returns ErrStaleGeneration when the content was replaced
// and ErrNotFound when the document is gone.
func (s *Store) BeginProcessing(id string, generation int) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := checkGeneration(tx, id, generation); err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := tx.Exec(`UPDATE documents SET status = ?, updated_at = ? WHERE id = ?`, string(StatusProcessing), now, id); err != nil {
		return fmt.Errorf("marking %s processing: %w", id, err)
	}
	return tx.Commit()
}

// FinishProcessing replaces the document's chunk list and records its
// terminal status in one transaction, so readers never observe chunks of a
// document still marked processing. Stale generations are rejected.
func (s *Store) FinishProcessing(id string, generation int, status DocumentStatus, processingError string, chunks []Chunk) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := checkGeneration(tx, id, generation); err != nil {
		return err
	}

	if _, err := tx.Exec(`DELETE FROM chunks WHERE document_id = ?`, id); err != nil {
		return fmt.Errorf("clearing chunks of %s: %w", id, err)
	}

	stmt, err := tx.Prepare(`INSERT INTO chunks (document_id, chunk_index, text, embedding, error) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing chunk insert: %w", err)
	}
	defer stmt.Close()

	for i, c := range chunks {
		var blob []byte
		if len(c.Embedding) > 0 {
			blob = encodeFloat32s(c.Embedding)
		}
		if _, err := stmt.Exec(id, i, c.Text, blob, c.Error); err != nil {
			return fmt.Errorf("inserting chunk %d of %s: %w", i, id, err)
		}
	}

	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := tx.Exec(`UPDATE documents SET status = ?, processing_error = ?, updated_at = ? WHERE id = ?`,
		string(status), processingError, now, id); err != nil {
		return fmt.Errorf("updating status of %s: %w", id, err)
	}
	return tx.Commit()
}

func checkGeneration(tx *sql.Tx, id string, generation int) error {
	var current int
	err := tx.QueryRow(`SELECT generation FROM documents WHERE id = ? AND deleted_at IS NULL`, id).Scan(&current)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("reading generation of %s: %w", id, err)
	}
	if current != generation {
		return ErrStaleGeneration
	}
	return nil
}

// --- Chunks ---

// ListChunks returns a document's chunks in ordinal order.
func (s *Store) ListChunks(documentID string) ([]Chunk, error) {
	rows, err := s.db.Query(`
		SELECT document_id, chunk_index, text, embedding, error
		FROM chunks WHERE document_id = ? ORDER BY chunk_index ASC`, documentID)
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		var blob []byte
		if err := rows.Scan(&c.DocumentID, &c.Index, &c.Text, &blob, &c.Error); err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		if c.Embedding, err = decodeEmbedding(blob); err != nil {
			return nil, fmt.Errorf("decoding chunk %d: %w", c.Index, err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// ChunkStats counts a document's chunks and how many carry an embedding.
func (s *Store) ChunkStats(documentID string) (ChunkStats, error) {
	var st ChunkStats
	err := s.db.QueryRow(`
		SELECT COUNT(*), COUNT(embedding) FROM chunks WHERE document_id = ?`, documentID,
	).Scan(&st.Total, &st.Embedded)
	if err != nil {
		return ChunkStats{}, fmt.Errorf("counting chunks: %w", err)
	}
	return st, nil
}

// ScopeChunks returns every chunk of the course's non-deleted processed or
// partially processed documents, ordered by document ID then ordinal.
// Chunks without an embedding are included.
func (s *Store) ScopeChunks(ctx context.Context, courseID string) ([]ScopedChunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.document_id, c.chunk_index, c.text, c.embedding, c.error, d.title
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE d.course_id = ? AND d.deleted_at IS NULL AND d.status IN (?, ?)
		ORDER BY c.document_id ASC, c.chunk_index ASC`,
		courseID, string(StatusProcessed), string(StatusPartiallyProcessed),
	)
	if err != nil {
		return nil, fmt.Errorf("querying course chunks: %w", err)
	}
	defer rows.Close()

	var out []ScopedChunk
	for rows.Next() {
		var c ScopedChunk
		var blob []byte
		if err := rows.Scan(&c.DocumentID, &c.Index, &c.Text, &blob, &c.Error, &c.DocumentTitle); err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		if c.Embedding, err = decodeEmbedding(blob); err != nil {
			return nil, fmt.Errorf("decoding chunk %s/%d: %w", c.DocumentID, c.Index, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
