// Package storage is the persistent, catalog-scoped cache of fetched
// listings plus the per-catalog seen and approved state.
package storage

import (
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

	"github.com/modswipe/modswipe/internal/listing"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database holding cached listings, catalog metadata,
// seen ids, and the approved list.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (used by
// tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "modswipe.db")
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

	s := &Store{db: db}
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

// --- Listing cache ---

// PutAll inserts listings for the catalog, skipping ids that already exist
// (first write wins) and skipping non-displayable records entirely. On
// success the catalog metadata is stamped with the current time and the
// post-merge count. Safe to call from interleaved writers: every insert is
// an atomic per-key INSERT OR IGNORE, so concurrent merges commute.
func (s *Store) PutAll(catalog string, listings []listing.Listing) error {
	now := time.Now().UTC()

	for _, l := range listings {
		if !l.Displayable() {
			continue
		}
		payload, err := json.Marshal(l)
		if err != nil {
			return fmt.Errorf("encoding listing %d: %w", l.ModID, err)
		}
		_, err = s.db.Exec(`
			INSERT OR IGNORE INTO listings (catalog, mod_id, payload, inserted_at)
			VALUES (?, ?, ?, ?)`,
			catalog, l.ModID, string(payload), now.Format(time.RFC3339),
		)
		if err != nil {
			return fmt.Errorf("inserting listing %d: %w", l.ModID, err)
		}
	}

	count, err := s.Count(catalog)
	if err != nil {
		return fmt.Errorf("counting after merge: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO catalog_meta (catalog, updated_at, item_count) VALUES (?, ?, ?)
		ON CONFLICT(catalog) DO UPDATE SET updated_at = excluded.updated_at, item_count = excluded.item_count`,
		catalog, now.Format(time.RFC3339), count,
	)
	if err != nil {
		return fmt.Errorf("updating catalog metadata: %w", err)
	}
	return nil
}

// GetAll returns every cached listing for the catalog. No ordering guarantee.
func (s *Store) GetAll(catalog string) ([]listing.Listing, error) {
	rows, err := s.db.Query("SELECT payload FROM listings WHERE catalog = ?", catalog)
	if err != nil {
		return nil, fmt.Errorf("querying listings: %w", err)
	}
	defer rows.Close()

	var out []listing.Listing
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var l listing.Listing
		if err := json.Unmarshal([]byte(payload), &l); err != nil {
			return nil, fmt.Errorf("decoding cached listing: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// Count returns the number of cached listings for the catalog.
func (s *Store) Count(catalog string) (int, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM listings WHERE catalog = ?", catalog).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting listings: %w", err)
	}
	return count, nil
}

// CachedIDs returns the set of mod ids currently cached for the catalog.
func (s *Store) CachedIDs(catalog string) (map[int64]bool, error) {
	rows, err := s.db.Query("SELECT mod_id FROM listings WHERE catalog = ?", catalog)
	if err != nil {
		return nil, fmt.Errorf("querying cached ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[int64]bool)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = true
	}
	return ids, rows.Err()
}

// AgeMinutes returns minutes elapsed since the catalog's last bulk update.
// The second return is false when no metadata exists for the catalog.
func (s *Store) AgeMinutes(catalog string) (int, bool, error) {
	var updatedAt string
	err := s.db.QueryRow("SELECT updated_at FROM catalog_meta WHERE catalog = ?", catalog).Scan(&updatedAt)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("querying catalog metadata: %w", err)
	}
	t, err := time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return 0, false, fmt.Errorf("parsing updated_at: %w", err)
	}
	return int(time.Since(t).Minutes()), true, nil
}

// Meta returns the catalog's bulk-update record, or ErrNotFound.
func (s *Store) Meta(catalog string) (CatalogMeta, error) {
	var m CatalogMeta
	var updatedAt string
	err := s.db.QueryRow("SELECT catalog, updated_at, item_count FROM catalog_meta WHERE catalog = ?", catalog).
		Scan(&m.Catalog, &updatedAt, &m.ItemCount)
	if err == sql.ErrNoRows {
		return CatalogMeta{}, ErrNotFound
	}
	if err != nil {
		return CatalogMeta{}, err
	}
	if m.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return CatalogMeta{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return m, nil
}

// Clear deletes all listings, metadata, seen ids, and approved records for
// the catalog. Other catalogs are untouched.
func (s *Store) Clear(catalog string) error {
	for _, stmt := range []string{
		"DELETE FROM listings WHERE catalog = ?",
		"DELETE FROM catalog_meta WHERE catalog = ?",
		"DELETE FROM seen WHERE catalog = ?",
		"DELETE FROM approved WHERE catalog = ?",
	} {
		if _, err := s.db.Exec(stmt, catalog); err != nil {
			return fmt.Errorf("clearing catalog %s: %w", catalog, err)
		}
	}
	return nil
}

// --- Seen ids ---

// MarkSeen records mod ids the user has already decided on. Seen ids are
// scoped per catalog, matching the cache's scoping.
func (s *Store) MarkSeen(catalog string, ids ...int64) error {
	now := time.Now().UTC().Format(time.RFC3339)
	for _, id := range ids {
		_, err := s.db.Exec(`
			INSERT OR IGNORE INTO seen (catalog, mod_id, seen_at) VALUES (?, ?, ?)`,
			catalog, id, now,
		)
		if err != nil {
			return fmt.Errorf("marking %d seen: %w", id, err)
		}
	}
	return nil
}

// SeenIDs returns the catalog's seen-id set.
func (s *Store) SeenIDs(catalog string) (map[int64]bool, error) {
	rows, err := s.db.Query("SELECT mod_id FROM seen WHERE catalog = ?", catalog)
	if err != nil {
		return nil, fmt.Errorf("querying seen ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[int64]bool)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = true
	}
	return ids, rows.Err()
}

// --- Approved list ---

// Approve stores a listing on the catalog's approved list. Approving the
// same id twice keeps the first record.
func (s *Store) Approve(catalog string, l listing.Listing) error {
	payload, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("encoding listing %d: %w", l.ModID, err)
	}
	_, err = s.db.Exec(`
		INSERT OR IGNORE INTO approved (catalog, mod_id, payload, approved_at)
		VALUES (?, ?, ?, ?)`,
		catalog, l.ModID, string(payload), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("approving listing %d: %w", l.ModID, err)
	}
	return nil
}

// Approved returns the catalog's approved listings in approval order.
func (s *Store) Approved(catalog string) ([]listing.Listing, error) {
	rows, err := s.db.Query(
		"SELECT payload FROM approved WHERE catalog = ? ORDER BY approved_at ASC, mod_id ASC", catalog)
	if err != nil {
		return nil, fmt.Errorf("querying approved listings: %w", err)
	}
	defer rows.Close()

	var out []listing.Listing
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var l listing.Listing
		if err := json.Unmarshal([]byte(payload), &l); err != nil {
			return nil, fmt.Errorf("decoding approved listing: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
