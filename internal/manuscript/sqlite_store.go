package manuscript

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists Records in a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and migrates) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	// Busy timeout to avoid SQLITE_BUSY in concurrent access.
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	// AUTOINCREMENT keeps ids monotonic and prevents rowid reuse after deletes.
	schema := `
	CREATE TABLE IF NOT EXISTS manuscripts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp INTEGER NOT NULL,
		original_image TEXT NOT NULL,
		restored_image TEXT,
		analysis_json TEXT
	);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Create(rec *Record) (int64, error) {
	if rec == nil {
		return 0, errors.New("record is nil")
	}
	if rec.OriginalImage == "" {
		return 0, errors.New("record.OriginalImage is required")
	}
	var analysisJSON *string
	if rec.Analysis != nil {
		b, err := json.Marshal(rec.Analysis)
		if err != nil {
			return 0, fmt.Errorf("marshal analysis: %w", err)
		}
		v := string(b)
		analysisJSON = &v
	}

	res, err := s.db.Exec(
		`INSERT INTO manuscripts (timestamp, original_image, restored_image, analysis_json)
		 VALUES (?, ?, ?, ?)`,
		rec.Timestamp, rec.OriginalImage, rec.RestoredImage, analysisJSON,
	)
	if err != nil {
		return 0, fmt.Errorf("insert manuscript: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	rec.ID = id
	return id, nil
}

func (s *SQLiteStore) List() ([]Record, error) {
	// Sorted newest first regardless of physical insertion order.
	rows, err := s.db.Query(`SELECT id, timestamp, original_image, restored_image, analysis_json
		FROM manuscripts ORDER BY timestamp DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("query manuscripts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	records := make([]Record, 0)
	for rows.Next() {
		var rec Record
		var restored, analysisJSON sql.NullString
		if err := rows.Scan(&rec.ID, &rec.Timestamp, &rec.OriginalImage, &restored, &analysisJSON); err != nil {
			return nil, fmt.Errorf("scan manuscript: %w", err)
		}
		if restored.Valid {
			v := restored.String
			rec.RestoredImage = &v
		}
		if analysisJSON.Valid && analysisJSON.String != "" {
			var a Analysis
			if err := json.Unmarshal([]byte(analysisJSON.String), &a); err == nil {
				rec.Analysis = &a
			}
			// Leave Analysis nil on unmarshal error; do not fail the listing.
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate manuscripts: %w", err)
	}
	return records, nil
}

func (s *SQLiteStore) Delete(id int64) error {
	res, err := s.db.Exec(`DELETE FROM manuscripts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete manuscript: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)
