package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/fieldwave/rfplane/pkg/rf"
)

// cliName is the name of the CLI using the store, used for state
// directory paths.
var cliName = "rfctl"

// SetCLIName sets the CLI name used for state directory paths. Call this
// at CLI startup to isolate state between different tools.
func SetCLIName(name string) {
	cliName = name
}

// Card is the persisted metadata for one radio card.
type Card struct {
	ID        string // uuid
	UID       uint64 // transport unique identifier
	Kind      string // transport kind (pcie, usb, net, custom)
	Serial    string
	Part      string
	LastSeen  *time.Time
	CreatedAt time.Time
	// PrivData is the card's opaque private data region, stored as a
	// CBOR blob.
	PrivData []byte
}

// EncodePrivData marshals v into the card's private data region.
func (c *Card) EncodePrivData(v any) error {
	data, err := cbor.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode private data: %w", err)
	}
	c.PrivData = data
	return nil
}

// DecodePrivData unmarshals the card's private data region into out.
func (c *Card) DecodePrivData(out any) error {
	if len(c.PrivData) == 0 {
		return fmt.Errorf("card %s has no private data: %w", c.ID, rf.ErrNotFound)
	}
	if err := cbor.Unmarshal(c.PrivData, out); err != nil {
		return fmt.Errorf("failed to decode private data: %w", err)
	}
	return nil
}

// Store provides card metadata operations.
type Store struct {
	db *sql.DB
}

// DefaultPath returns the default database path following XDG spec.
func DefaultPath() string {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, _ := os.UserHomeDir()
		dataHome = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataHome, cliName, cliName+".db")
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL lets the CLI read while a streaming service writes last-seen
	// updates.
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Without a busy timeout concurrent writes immediately return
	// SQLITE_BUSY.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS cards (
		id TEXT PRIMARY KEY,
		uid INTEGER NOT NULL,
		kind TEXT NOT NULL,
		serial TEXT DEFAULT '',
		part TEXT DEFAULT '',
		last_seen INTEGER,
		created_at INTEGER DEFAULT (strftime('%s', 'now')),
		priv_data BLOB,
		UNIQUE (uid, kind)
	);
	CREATE INDEX IF NOT EXISTS idx_cards_serial ON cards(serial);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// SaveCard inserts or updates a card. A new card gets a generated ID;
// an existing (uid, kind) pair is updated in place and the stored ID is
// written back into c.
func (s *Store) SaveCard(c *Card) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}

	var lastSeen sql.NullInt64
	if c.LastSeen != nil {
		lastSeen = sql.NullInt64{Int64: c.LastSeen.Unix(), Valid: true}
	}

	_, err := s.db.Exec(
		`INSERT INTO cards (id, uid, kind, serial, part, last_seen, created_at, priv_data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (uid, kind) DO UPDATE SET
			serial = excluded.serial,
			part = excluded.part,
			last_seen = excluded.last_seen,
			priv_data = excluded.priv_data`,
		c.ID, c.UID, c.Kind, c.Serial, c.Part, lastSeen, c.CreatedAt.Unix(), c.PrivData,
	)
	if err != nil {
		return fmt.Errorf("failed to save card: %w", err)
	}

	// The upsert may have kept a pre-existing row ID.
	row := s.db.QueryRow(`SELECT id FROM cards WHERE uid = ? AND kind = ?`, c.UID, c.Kind)
	if err := row.Scan(&c.ID); err != nil {
		return fmt.Errorf("failed to read back card id: %w", err)
	}
	return nil
}

// GetCard retrieves a card by ID.
func (s *Store) GetCard(id string) (*Card, error) {
	row := s.db.QueryRow(
		`SELECT id, uid, kind, serial, part, last_seen, created_at, priv_data
		FROM cards WHERE id = ?`, id)
	return scanCard(row)
}

// GetCardByUID retrieves a card by its transport identity.
func (s *Store) GetCardByUID(uid uint64, kind string) (*Card, error) {
	row := s.db.QueryRow(
		`SELECT id, uid, kind, serial, part, last_seen, created_at, priv_data
		FROM cards WHERE uid = ? AND kind = ?`, uid, kind)
	return scanCard(row)
}

// ListCards returns all cards ordered by serial.
func (s *Store) ListCards() ([]*Card, error) {
	rows, err := s.db.Query(
		`SELECT id, uid, kind, serial, part, last_seen, created_at, priv_data
		FROM cards ORDER BY serial, uid`)
	if err != nil {
		return nil, fmt.Errorf("failed to list cards: %w", err)
	}
	defer rows.Close()

	var cards []*Card
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, err
		}
		cards = append(cards, c)
	}
	return cards, rows.Err()
}

// DeleteCard removes a card by ID.
func (s *Store) DeleteCard(id string) error {
	res, err := s.db.Exec(`DELETE FROM cards WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete card: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete card: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("card %s: %w", id, rf.ErrNotFound)
	}
	return nil
}

// TouchCard updates a card's last-seen time.
func (s *Store) TouchCard(id string, at time.Time) error {
	res, err := s.db.Exec(`UPDATE cards SET last_seen = ? WHERE id = ?`, at.Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to touch card: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to touch card: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("card %s: %w", id, rf.ErrNotFound)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanCard(row scannable) (*Card, error) {
	var c Card
	var lastSeen sql.NullInt64
	var createdAt int64
	err := row.Scan(&c.ID, &c.UID, &c.Kind, &c.Serial, &c.Part, &lastSeen, &createdAt, &c.PrivData)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("card: %w", rf.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan card: %w", err)
	}
	if lastSeen.Valid {
		t := time.Unix(lastSeen.Int64, 0)
		c.LastSeen = &t
	}
	c.CreatedAt = time.Unix(createdAt, 0)
	return &c, nil
}
