package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mirekh/doppel/internal/memory"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database holding every individual's memory:
// style profiles, experiences, personal facts, provenance, and the
// background job queue.
type Store struct {
	db *sql.DB
	queries
}

// Open opens (or creates) a SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database
// (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "doppel.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db, queries: queries{q: db}}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// Tx is one open transaction over the memory tables. It satisfies
// memory.Tx, so a consolidation batch commits or rolls back as a unit.
type Tx struct {
	queries
}

// InTx runs fn inside a single database transaction. Any error from fn
// rolls the transaction back and is returned unchanged.
func (s *Store) InTx(ctx context.Context, fn func(memory.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	if err := fn(&Tx{queries{q: tx}}); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// dbtx is satisfied by both *sql.DB and *sql.Tx, letting the same query
// methods serve direct and transactional access.
type dbtx interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

type queries struct {
	q dbtx
}

// wrapConflict maps SQLite uniqueness violations to ErrConflict so
// callers can treat them as retryable.
func wrapConflict(err error, context string) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%s: %w", context, ErrConflict)
	}
	return fmt.Errorf("%s: %w", context, err)
}

// --- Style profiles ---

func (c queries) StyleProfile(individual string) (memory.StyleProfile, error) {
	var p memory.StyleProfile
	var keywords, phrases, patterns, lastUpdated, createdAt string
	err := c.q.QueryRow(`
		SELECT individual, tone_formality, avg_sentence_length, vocabulary_keywords, signature_phrases, structure_patterns, last_updated, created_at
		FROM style_profiles WHERE individual = ?`, individual,
	).Scan(&p.Individual, &p.ToneFormality, &p.AvgSentenceLength, &keywords, &phrases, &patterns, &lastUpdated, &createdAt)
	if err == sql.ErrNoRows {
		return memory.StyleProfile{}, ErrNotFound
	}
	if err != nil {
		return memory.StyleProfile{}, err
	}

	if err := json.Unmarshal([]byte(keywords), &p.VocabularyKeywords); err != nil {
		return memory.StyleProfile{}, fmt.Errorf("parsing vocabulary_keywords: %w", err)
	}
	if err := json.Unmarshal([]byte(phrases), &p.SignaturePhrases); err != nil {
		return memory.StyleProfile{}, fmt.Errorf("parsing signature_phrases: %w", err)
	}
	if err := json.Unmarshal([]byte(patterns), &p.StructurePatterns); err != nil {
		return memory.StyleProfile{}, fmt.Errorf("parsing structure_patterns: %w", err)
	}
	if p.LastUpdated, err = parseTime(lastUpdated); err != nil {
		return memory.StyleProfile{}, err
	}
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return memory.StyleProfile{}, err
	}
	return p, nil
}

func (c queries) UpsertStyleProfile(p memory.StyleProfile) error {
	keywords, err := json.Marshal(emptyIfNil(p.VocabularyKeywords))
	if err != nil {
		return fmt.Errorf("encoding vocabulary_keywords: %w", err)
	}
	phrases, err := json.Marshal(emptyIfNil(p.SignaturePhrases))
	if err != nil {
		return fmt.Errorf("encoding signature_phrases: %w", err)
	}
	patterns, err := json.Marshal(p.StructurePatterns)
	if err != nil {
		return fmt.Errorf("encoding structure_patterns: %w", err)
	}

	_, err = c.q.Exec(`
		INSERT INTO style_profiles (individual, tone_formality, avg_sentence_length, vocabulary_keywords, signature_phrases, structure_patterns, last_updated, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(individual) DO UPDATE SET
			tone_formality = excluded.tone_formality,
			avg_sentence_length = excluded.avg_sentence_length,
			vocabulary_keywords = excluded.vocabulary_keywords,
			signature_phrases = excluded.signature_phrases,
			structure_patterns = excluded.structure_patterns,
			last_updated = excluded.last_updated`,
		p.Individual, p.ToneFormality, p.AvgSentenceLength, string(keywords), string(phrases), string(patterns),
		formatTime(p.LastUpdated), formatTime(p.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("upserting style profile: %w", err)
	}
	return nil
}

// --- Experiences ---

const experienceColumns = `id, individual, title, company, position, description, achievements, tech_stack, start_date, end_date, detected_from_sample, origin_type, provenance_id, created_at`

func (c queries) ListExperiences(individual string) ([]memory.Experience, error) {
	rows, err := c.q.Query(`
		SELECT `+experienceColumns+`
		FROM experiences WHERE individual = ? ORDER BY created_at ASC, id ASC`, individual,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []memory.Experience
	for rows.Next() {
		e, err := scanExperience(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, e)
	}
	return results, rows.Err()
}

func scanExperience(rows *sql.Rows) (memory.Experience, error) {
	var e memory.Experience
	var achievements, techStack, createdAt string
	var detected int
	var provenanceID sql.NullString
	if err := rows.Scan(&e.ID, &e.Individual, &e.Title, &e.Company, &e.Position, &e.Description,
		&achievements, &techStack, &e.StartDate, &e.EndDate, &detected, &e.OriginType, &provenanceID, &createdAt); err != nil {
		return memory.Experience{}, err
	}
	if err := json.Unmarshal([]byte(achievements), &e.Achievements); err != nil {
		return memory.Experience{}, fmt.Errorf("parsing achievements: %w", err)
	}
	if err := json.Unmarshal([]byte(techStack), &e.TechStack); err != nil {
		return memory.Experience{}, fmt.Errorf("parsing tech_stack: %w", err)
	}
	e.DetectedFromSample = detected != 0
	e.ProvenanceID = provenanceID.String
	var err error
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return memory.Experience{}, err
	}
	return e, nil
}

func (c queries) InsertExperience(e memory.Experience) error {
	achievements, err := json.Marshal(emptyIfNil(e.Achievements))
	if err != nil {
		return fmt.Errorf("encoding achievements: %w", err)
	}
	techStack, err := json.Marshal(emptyIfNil(e.TechStack))
	if err != nil {
		return fmt.Errorf("encoding tech_stack: %w", err)
	}

	var provenanceID any
	if e.ProvenanceID != "" {
		provenanceID = e.ProvenanceID
	}
	_, err = c.q.Exec(`
		INSERT INTO experiences (`+experienceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Individual, e.Title, e.Company, e.Position, e.Description,
		string(achievements), string(techStack), e.StartDate, e.EndDate,
		boolToInt(e.DetectedFromSample), e.OriginType, provenanceID, formatTime(e.CreatedAt),
	)
	return wrapConflict(err, "inserting experience")
}

func (c queries) UpdateExperienceSets(id string, achievements, techStack []string) error {
	achJSON, err := json.Marshal(emptyIfNil(achievements))
	if err != nil {
		return fmt.Errorf("encoding achievements: %w", err)
	}
	techJSON, err := json.Marshal(emptyIfNil(techStack))
	if err != nil {
		return fmt.Errorf("encoding tech_stack: %w", err)
	}

	res, err := c.q.Exec(`UPDATE experiences SET achievements = ?, tech_stack = ? WHERE id = ?`,
		string(achJSON), string(techJSON), id)
	if err != nil {
		return err
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

// --- Personal facts ---

func (c queries) ListFacts(individual string) ([]memory.PersonalFact, error) {
	rows, err := c.q.Query(`
		SELECT id, individual, key, value, confidence, source, created_at, updated_at
		FROM personal_facts WHERE individual = ? ORDER BY key ASC`, individual,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []memory.PersonalFact
	for rows.Next() {
		var f memory.PersonalFact
		var createdAt, updatedAt string
		if err := rows.Scan(&f.ID, &f.Individual, &f.Key, &f.Value, &f.Confidence, &f.Source, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		if f.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if f.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		results = append(results, f)
	}
	return results, rows.Err()
}

func (c queries) InsertFact(f memory.PersonalFact) error {
	_, err := c.q.Exec(`
		INSERT INTO personal_facts (id, individual, key, value, confidence, source, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.Individual, f.Key, f.Value, f.Confidence, f.Source,
		formatTime(f.CreatedAt), formatTime(f.UpdatedAt),
	)
	return wrapConflict(err, "inserting fact")
}

func (c queries) UpdateFact(f memory.PersonalFact) error {
	res, err := c.q.Exec(`
		UPDATE personal_facts SET value = ?, confidence = ?, source = ?, updated_at = ?
		WHERE individual = ? AND key = ?`,
		f.Value, f.Confidence, f.Source, formatTime(f.UpdatedAt), f.Individual, f.Key,
	)
	if err != nil {
		return err
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

// --- Provenance ---

func (c queries) InsertProvenance(p memory.ProvenanceRecord) error {
	_, err := c.q.Exec(`
		INSERT INTO provenance (id, individual, content_type, raw_text, style_signals, fact_extraction, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Individual, p.ContentType, p.RawText, p.StyleSignals, p.FactExtraction, formatTime(p.CreatedAt),
	)
	return wrapConflict(err, "inserting provenance record")
}

func (c queries) ListProvenance(individual string) ([]memory.ProvenanceRecord, error) {
	rows, err := c.q.Query(`
		SELECT id, individual, content_type, raw_text, style_signals, fact_extraction, created_at
		FROM provenance WHERE individual = ? ORDER BY created_at ASC, id ASC`, individual,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []memory.ProvenanceRecord
	for rows.Next() {
		var p memory.ProvenanceRecord
		var createdAt string
		if err := rows.Scan(&p.ID, &p.Individual, &p.ContentType, &p.RawText, &p.StyleSignals, &p.FactExtraction, &createdAt); err != nil {
			return nil, err
		}
		if p.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		results = append(results, p)
	}
	return results, rows.Err()
}

// --- Reset ---

// ResetIndividual deletes the entire memory of one individual in a
// single transaction and reports per-table counts. The only supported
// way to lose memory.
func (s *Store) ResetIndividual(ctx context.Context, individual string) (ResetCounts, error) {
	var counts ResetCounts
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ResetCounts{}, fmt.Errorf("beginning reset transaction: %w", err)
	}
	defer tx.Rollback()

	del := func(table string) (int, error) {
		res, err := tx.Exec("DELETE FROM "+table+" WHERE individual = ?", individual)
		if err != nil {
			return 0, fmt.Errorf("deleting from %s: %w", table, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		return int(n), nil
	}

	if counts.StyleProfiles, err = del("style_profiles"); err != nil {
		return ResetCounts{}, err
	}
	if counts.Experiences, err = del("experiences"); err != nil {
		return ResetCounts{}, err
	}
	if counts.PersonalFacts, err = del("personal_facts"); err != nil {
		return ResetCounts{}, err
	}
	if counts.Provenance, err = del("provenance"); err != nil {
		return ResetCounts{}, err
	}

	if err := tx.Commit(); err != nil {
		return ResetCounts{}, fmt.Errorf("committing reset: %w", err)
	}
	return counts, nil
}

// --- helpers ---

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing stored timestamp %q: %w", s, err)
	}
	return t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
