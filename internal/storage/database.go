package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"slideshow/internal/models"
)

// DB wraps the post database connection
type DB struct {
	*sql.DB
}

// InitDB opens the SQLite database at dbPath and makes sure the schema exists
func InitDB(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(time.Hour)

	// WAL lets the gallery sampler read while uploads write
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &DB{db}, nil
}

func dsn(dbPath string) string {
	sep := "?"
	if strings.Contains(dbPath, "?") {
		sep = "&"
	}
	return dbPath + sep + "_busy_timeout=5000"
}

// AUTOINCREMENT keeps ids from being reused after rows are deleted.
func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS posts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME NOT NULL,
		comment TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL UNIQUE
	);
	`

	_, err := db.Exec(schema)
	return err
}

// InsertPost stores a post and sets its ID
func (db *DB) InsertPost(ctx context.Context, post *models.Post) (int64, error) {
	query := `INSERT INTO posts (timestamp, comment, name) VALUES (?, ?, ?)`
	result, err := db.ExecContext(ctx, query, post.Timestamp.UTC(), post.Comment, post.Name)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return 0, &models.StoreError{Op: "insert", Err: fmt.Errorf("%w: %s", models.ErrDuplicateName, post.Name)}
		}
		return 0, &models.StoreError{Op: "insert", Err: err}
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, &models.StoreError{Op: "insert", Err: err}
	}
	post.ID = id
	return id, nil
}

// SampleRandom returns up to n distinct posts chosen at random.
// SQLite's ORDER BY RANDOM() draws without replacement.
func (db *DB) SampleRandom(ctx context.Context, n int) ([]models.Post, error) {
	if n <= 0 {
		return []models.Post{}, nil
	}

	rows, err := db.QueryContext(ctx, `SELECT id, timestamp, comment, name FROM posts ORDER BY RANDOM() LIMIT ?`, n)
	if err != nil {
		return nil, &models.StoreError{Op: "sample", Err: err}
	}
	defer rows.Close()

	posts, err := scanPosts(rows)
	if err != nil {
		return nil, &models.StoreError{Op: "sample", Err: err}
	}
	return posts, nil
}

// MaxID returns the largest post id, ok is false when the table is empty
func (db *DB) MaxID(ctx context.Context) (id int64, ok bool, err error) {
	var maxID sql.NullInt64
	if err := db.QueryRowContext(ctx, `SELECT MAX(id) FROM posts`).Scan(&maxID); err != nil {
		return 0, false, &models.StoreError{Op: "max id", Err: err}
	}
	return maxID.Int64, maxID.Valid, nil
}

// ClearAll deletes every post and returns how many rows were removed.
// The id sequence is left alone.
func (db *DB) ClearAll(ctx context.Context) (int64, error) {
	result, err := db.ExecContext(ctx, `DELETE FROM posts`)
	if err != nil {
		return 0, &models.StoreError{Op: "clear", Err: err}
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, &models.StoreError{Op: "clear", Err: err}
	}
	return n, nil
}

// ListPosts returns all posts ordered by id
func (db *DB) ListPosts(ctx context.Context) ([]models.Post, error) {
	rows, err := db.QueryContext(ctx, `SELECT id, timestamp, comment, name FROM posts ORDER BY id ASC`)
	if err != nil {
		return nil, &models.StoreError{Op: "list", Err: err}
	}
	defer rows.Close()

	posts, err := scanPosts(rows)
	if err != nil {
		return nil, &models.StoreError{Op: "list", Err: err}
	}
	return posts, nil
}

func scanPosts(rows *sql.Rows) ([]models.Post, error) {
	posts := make([]models.Post, 0)
	for rows.Next() {
		var p models.Post
		if err := rows.Scan(&p.ID, &p.Timestamp, &p.Comment, &p.Name); err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}
