// Package store implements SQLite persistence for profiles, onboarding
// sessions, the chat-record log, and extracted document knowledge.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"arogyabot/internal/domain"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements domain.ProfileStore, domain.SessionStore, and
// domain.RecordStore on a single SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Set connection pool (single connection for SQLite)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db, logger: logger}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS profiles (
		identity     TEXT PRIMARY KEY,
		name         TEXT,
		age          INTEGER,
		gender       TEXT,
		district     TEXT,
		state        TEXT,
		preference   TEXT,
		allergies    TEXT NOT NULL DEFAULT '[]',
		conditions   TEXT NOT NULL DEFAULT '[]',
		medications  TEXT NOT NULL DEFAULT '[]',
		is_complete  INTEGER NOT NULL DEFAULT 0,
		created_at   DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at   DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS onboarding_sessions (
		identity          TEXT PRIMARY KEY REFERENCES profiles(identity) ON DELETE CASCADE,
		step              INTEGER NOT NULL,
		completed_fields  TEXT NOT NULL DEFAULT '[]',
		started_at        DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS chat_records (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		identity      TEXT NOT NULL,
		session_token TEXT NOT NULL,
		content_kind  TEXT NOT NULL,
		request_text  TEXT,
		response_text TEXT,
		language      TEXT,
		created_at    DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_records_identity ON chat_records(identity, id);
	CREATE INDEX IF NOT EXISTS idx_records_session ON chat_records(session_token, id);

	CREATE TABLE IF NOT EXISTS documents (
		id          TEXT PRIMARY KEY,
		identity    TEXT NOT NULL,
		name        TEXT NOT NULL,
		mime_type   TEXT,
		chunk_count INTEGER NOT NULL DEFAULT 0,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS document_chunks (
		id          TEXT PRIMARY KEY,
		document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		identity    TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		content     TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_identity ON document_chunks(identity);
	`

	_, err := s.db.Exec(schema)
	return err
}

// --- Profiles ---

func (s *SQLiteStore) Get(ctx context.Context, identity string) (*domain.Profile, error) {
	return s.getProfile(ctx, s.db, identity)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) getProfile(ctx context.Context, q querier, identity string) (*domain.Profile, error) {
	var (
		p          domain.Profile
		name       sql.NullString
		age        sql.NullInt64
		gender     sql.NullString
		district   sql.NullString
		state      sql.NullString
		preference sql.NullString
		allergies  string
		conditions string
		meds       string
	)
	err := q.QueryRowContext(ctx,
		`SELECT identity, name, age, gender, district, state, preference,
		        allergies, conditions, medications, is_complete, created_at, updated_at
		 FROM profiles WHERE identity = ?`, identity,
	).Scan(&p.Identity, &name, &age, &gender, &district, &state, &preference,
		&allergies, &conditions, &meds, &p.IsComplete, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if name.Valid {
		p.Name = &name.String
	}
	if age.Valid {
		a := int(age.Int64)
		p.Age = &a
	}
	if gender.Valid {
		g := domain.Gender(gender.String)
		p.Gender = &g
	}
	if district.Valid {
		p.District = &district.String
	}
	if state.Valid {
		p.State = &state.String
	}
	if preference.Valid {
		pref := domain.MedicationPreference(preference.String)
		p.Preference = &pref
	}

	_ = json.Unmarshal([]byte(allergies), &p.Allergies)
	_ = json.Unmarshal([]byte(conditions), &p.ExistingConditions)
	_ = json.Unmarshal([]byte(meds), &p.CurrentMedications)

	return &p, nil
}

func (s *SQLiteStore) Create(ctx context.Context, identity string) (*domain.Profile, error) {
	now := time.Now()
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO profiles (identity, created_at, updated_at) VALUES (?, ?, ?)`,
		identity, now, now,
	)
	if err != nil {
		return nil, err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return nil, domain.ErrAlreadyExists
	}
	return s.Get(ctx, identity)
}

// Update applies the patch and recomputes is_complete inside one transaction,
// so the completeness flag always reflects the post-update field set.
func (s *SQLiteStore) Update(ctx context.Context, identity string, patch domain.ProfilePatch) (*domain.Profile, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	current, err := s.getProfile(ctx, tx, identity)
	if err != nil {
		return nil, err
	}

	if patch.Name != nil {
		current.Name = patch.Name
	}
	if patch.Age != nil {
		current.Age = patch.Age
	}
	if patch.Gender != nil {
		current.Gender = patch.Gender
	}
	if patch.District != nil {
		current.District = patch.District
	}
	if patch.State != nil {
		current.State = patch.State
	}
	if patch.Preference != nil {
		current.Preference = patch.Preference
	}
	if patch.Allergies != nil {
		current.Allergies = patch.Allergies
	}
	if patch.ExistingConditions != nil {
		current.ExistingConditions = patch.ExistingConditions
	}
	if patch.CurrentMedications != nil {
		current.CurrentMedications = patch.CurrentMedications
	}

	current.IsComplete = current.HasRequiredFields()
	current.UpdatedAt = time.Now()

	allergies, _ := json.Marshal(emptyIfNil(current.Allergies))
	conditions, _ := json.Marshal(emptyIfNil(current.ExistingConditions))
	meds, _ := json.Marshal(emptyIfNil(current.CurrentMedications))

	_, err = tx.ExecContext(ctx,
		`UPDATE profiles SET name=?, age=?, gender=?, district=?, state=?, preference=?,
		        allergies=?, conditions=?, medications=?, is_complete=?, updated_at=?
		 WHERE identity=?`,
		nullStr(current.Name), nullAge(current.Age), nullGender(current.Gender),
		nullStr(current.District), nullStr(current.State), nullPref(current.Preference),
		string(allergies), string(conditions), string(meds),
		current.IsComplete, current.UpdatedAt, identity,
	)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return current, nil
}

// Erase removes the profile and every dependent row. Erasing an unknown
// identity succeeds silently.
func (s *SQLiteStore) Erase(ctx context.Context, identity string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM document_chunks WHERE identity = ?`,
		`DELETE FROM documents WHERE identity = ?`,
		`DELETE FROM chat_records WHERE identity = ?`,
		`DELETE FROM onboarding_sessions WHERE identity = ?`,
		`DELETE FROM profiles WHERE identity = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, identity); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// --- Onboarding sessions ---

func (s *SQLiteStore) GetSession(ctx context.Context, identity string) (*domain.OnboardingSession, error) {
	var (
		sess   domain.OnboardingSession
		fields string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT identity, step, completed_fields, started_at FROM onboarding_sessions WHERE identity = ?`,
		identity,
	).Scan(&sess.Identity, &sess.Step, &fields, &sess.StartedAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(fields), &sess.CompletedFields)
	return &sess, nil
}

func (s *SQLiteStore) PutSession(ctx context.Context, sess domain.OnboardingSession) error {
	if sess.StartedAt.IsZero() {
		sess.StartedAt = time.Now()
	}
	fields, _ := json.Marshal(emptyIfNil(sess.CompletedFields))
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO onboarding_sessions (identity, step, completed_fields, started_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(identity) DO UPDATE SET step=excluded.step, completed_fields=excluded.completed_fields`,
		sess.Identity, sess.Step, string(fields), sess.StartedAt,
	)
	return err
}

// CompleteOnboarding marks the profile complete and deletes the onboarding
// session in one transaction. Safe to call again after completion.
func (s *SQLiteStore) CompleteOnboarding(ctx context.Context, identity string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	p, err := s.getProfile(ctx, tx, identity)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE profiles SET is_complete = ?, updated_at = ? WHERE identity = ?`,
		p.HasRequiredFields(), time.Now(), identity,
	)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM onboarding_sessions WHERE identity = ?`, identity); err != nil {
		return err
	}

	return tx.Commit()
}

// --- Chat records ---

func (s *SQLiteStore) AppendRecord(ctx context.Context, rec domain.ChatRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_records (identity, session_token, content_kind, request_text, response_text, language, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.Identity, rec.SessionToken, string(rec.ContentKind),
		rec.RequestText, rec.ResponseText, rec.Language, rec.CreatedAt,
	)
	return err
}

func (s *SQLiteStore) RecentRecords(ctx context.Context, identity string, limit int) ([]domain.ChatRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	// Last N records, returned oldest first
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, identity, session_token, content_kind, request_text, response_text, language, created_at
		 FROM chat_records WHERE identity = ?
		 ORDER BY id DESC LIMIT ?`, identity, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []domain.ChatRecord
	for rows.Next() {
		var (
			r        domain.ChatRecord
			kind     string
			req      sql.NullString
			resp     sql.NullString
			language sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Identity, &r.SessionToken, &kind, &req, &resp, &language, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.ContentKind = domain.ContentKind(kind)
		r.RequestText = req.String
		r.ResponseText = resp.String
		r.Language = language.String
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to chronological order
	for i, j := 0, len(recs)-1; i < j; i, j = i+1, j-1 {
		recs[i], recs[j] = recs[j], recs[i]
	}
	return recs, nil
}

// --- Knowledge documents ---

// Document is stored metadata for one ingested attachment.
type Document struct {
	ID         string
	Identity   string
	Name       string
	MimeType   string
	ChunkCount int
	CreatedAt  time.Time
}

// Chunk is one searchable fragment of an ingested document.
type Chunk struct {
	ID         string
	DocumentID string
	Identity   string
	ChunkIndex int
	Content    string
}

func (s *SQLiteStore) AddDocument(ctx context.Context, doc Document, chunks []Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now()
	}
	_, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO documents (id, identity, name, mime_type, chunk_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.Identity, doc.Name, doc.MimeType, len(chunks), doc.CreatedAt,
	)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM document_chunks WHERE document_id = ?`, doc.ID); err != nil {
		return err
	}
	for _, c := range chunks {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO document_chunks (id, document_id, identity, chunk_index, content)
			 VALUES (?, ?, ?, ?, ?)`,
			c.ID, c.DocumentID, c.Identity, c.ChunkIndex, c.Content,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// SearchChunks does a keyword LIKE search scoped to an identity (empty scope
// searches everything) and returns up to limit matching chunks.
func (s *SQLiteStore) SearchChunks(ctx context.Context, keyword, identityScope string, limit int) ([]Chunk, error) {
	if limit <= 0 {
		limit = 10
	}
	pattern := "%" + keyword + "%"

	var (
		rows *sql.Rows
		err  error
	)
	if identityScope != "" {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, document_id, identity, chunk_index, content
			 FROM document_chunks
			 WHERE identity = ? AND content LIKE ?
			 ORDER BY document_id, chunk_index LIMIT ?`,
			identityScope, pattern, limit,
		)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, document_id, identity, chunk_index, content
			 FROM document_chunks
			 WHERE content LIKE ?
			 ORDER BY document_id, chunk_index LIMIT ?`,
			pattern, limit,
		)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Identity, &c.ChunkIndex, &c.Content); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// --- Stats ---

// Stats summarizes stored state for the status command and health endpoint.
type Stats struct {
	Profiles          int64
	CompletedProfiles int64
	ActiveOnboarding  int64
	ChatRecords       int64
	Documents         int64
}

func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	row := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM profiles),
			(SELECT COUNT(*) FROM profiles WHERE is_complete = 1),
			(SELECT COUNT(*) FROM onboarding_sessions),
			(SELECT COUNT(*) FROM chat_records),
			(SELECT COUNT(*) FROM documents)`)
	if err := row.Scan(&st.Profiles, &st.CompletedProfiles, &st.ActiveOnboarding, &st.ChatRecords, &st.Documents); err != nil {
		return nil, err
	}
	return &st, nil
}

// Ping reports whether the database is reachable, for health checks.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- helpers ---

func emptyIfNil(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}

func nullStr(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullAge(a *int) any {
	if a == nil {
		return nil
	}
	return *a
}

func nullGender(g *domain.Gender) any {
	if g == nil {
		return nil
	}
	return string(*g)
}

func nullPref(p *domain.MedicationPreference) any {
	if p == nil {
		return nil
	}
	return string(*p)
}
