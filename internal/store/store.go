package store

import (
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// Store is the durable side of the room registry: one full-content record
// per room, plus the append-only published-works gallery.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// PublishedWork is a snapshot of a room's content pushed to the public
// gallery. Append-only; never synchronized.
type PublishedWork struct {
	ID        int       `json:"id"`
	Title     string    `json:"title"`
	RoomID    string    `json:"room_id"`
	Content   string    `json:"content"`
	Author    string    `json:"author"`
	Kind      string    `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
}

func New(dbPath string, logger *zap.Logger) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, err
	}

	if err := createTables(db); err != nil {
		return nil, err
	}

	logger.Info("store initialized", zap.String("path", dbPath))
	return &Store{db: db, logger: logger}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS room_content (
		room_id TEXT PRIMARY KEY,
		content BLOB NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS published_works (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		room_id TEXT NOT NULL,
		content TEXT NOT NULL,
		author TEXT DEFAULT '',
		kind TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_published_works_created_at ON published_works(created_at DESC);
	`

	_, err := db.Exec(schema)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Room content operations

// SaveContent overwrites the persisted record for a room with its full
// current content. Each write is a complete replacement, so a failed write
// is naturally repaired by the next successful one.
func (s *Store) SaveContent(roomID string, content []byte) error {
	_, err := s.db.Exec(`
		INSERT INTO room_content (room_id, content, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(room_id) DO UPDATE SET
			content = excluded.content,
			updated_at = CURRENT_TIMESTAMP
	`, roomID, content)
	return err
}

// LoadContent returns the persisted content for a room, or nil when no
// record exists yet.
func (s *Store) LoadContent(roomID string) ([]byte, error) {
	var content []byte
	err := s.db.QueryRow(
		"SELECT content FROM room_content WHERE room_id = ?",
		roomID,
	).Scan(&content)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return content, nil
}

// Published works operations

func (s *Store) AddPublishedWork(title, roomID, content, author, kind string) (*PublishedWork, error) {
	result, err := s.db.Exec(`
		INSERT INTO published_works (title, room_id, content, author, kind)
		VALUES (?, ?, ?, ?, ?)
	`, title, roomID, content, author, kind)
	if err != nil {
		return nil, err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}

	return s.GetPublishedWork(int(id))
}

func (s *Store) GetPublishedWork(id int) (*PublishedWork, error) {
	row := s.db.QueryRow(`
		SELECT id, title, room_id, content, author, kind, created_at
		FROM published_works WHERE id = ?
	`, id)

	var w PublishedWork
	err := row.Scan(&w.ID, &w.Title, &w.RoomID, &w.Content, &w.Author, &w.Kind, &w.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// ListPublishedWorks returns gallery entries, newest first.
func (s *Store) ListPublishedWorks(limit, offset int) ([]PublishedWork, error) {
	rows, err := s.db.Query(`
		SELECT id, title, room_id, content, author, kind, created_at
		FROM published_works
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var works []PublishedWork
	for rows.Next() {
		var w PublishedWork
		if err := rows.Scan(&w.ID, &w.Title, &w.RoomID, &w.Content, &w.Author, &w.Kind, &w.CreatedAt); err != nil {
			return nil, err
		}
		works = append(works, w)
	}
	return works, rows.Err()
}

// Stats

func (s *Store) GetStats() (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var contentCount int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM room_content").Scan(&contentCount); err != nil {
		return nil, err
	}
	stats["persisted_rooms"] = contentCount

	var workCount int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM published_works").Scan(&workCount); err != nil {
		return nil, err
	}
	stats["published_works"] = workCount

	return stats, nil
}
