package repository

import (
	"context"
	"database/sql"
	"encoding/json"

	_ "github.com/mattn/go-sqlite3"

	"github.com/abrezinsky/cragboard/internal/models"
	"github.com/abrezinsky/cragboard/internal/ranking"
)

// Repository provides data access methods
type Repository struct {
	db *sql.DB
}

// New creates a new Repository
func New(dbPath string) (*Repository, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	// Enable foreign key constraints
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, err
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite works best with single connection
	db.SetMaxIdleConns(1)

	repo := &Repository{db: db}

	// Run migrations
	if err := repo.migrate(); err != nil {
		return nil, err
	}

	return repo, nil
}

// NewWithDB wraps an existing connection without running migrations.
func NewWithDB(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// DB returns the underlying database connection (for transactions)
func (r *Repository) DB() *sql.DB {
	return r.db
}

// Close closes the database connection
func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping checks if the database connection is alive
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// migrate runs database migrations
func (r *Repository) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS results (
			category TEXT PRIMARY KEY,
			box_id INTEGER NOT NULL,
			route_count INTEGER NOT NULL,
			payload TEXT NOT NULL,
			revision INTEGER NOT NULL DEFAULT 1,
			saved_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS ranking_rows (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			category TEXT NOT NULL,
			position INTEGER NOT NULL,
			rank INTEGER NOT NULL,
			name TEXT NOT NULL,
			club TEXT,
			total REAL NOT NULL,
			rank_points TEXT NOT NULL,
			scores TEXT NOT NULL,
			times TEXT,
			FOREIGN KEY (category) REFERENCES results(category) ON DELETE CASCADE,
			UNIQUE(category, position)
		)`,
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ranking_rows_category ON ranking_rows(category)`,
	}

	for _, migration := range migrations {
		if _, err := r.db.Exec(migration); err != nil {
			return err
		}
	}

	// Note: base_url is intentionally not set here - it's set by app.go
	// with the detected LAN IP address on startup
	defaultSettings := map[string]string{
		"results_url": "",
	}

	for key, value := range defaultSettings {
		_, err := r.db.Exec(`INSERT OR IGNORE INTO settings (key, value) VALUES (?, ?)`, key, value)
		if err != nil {
			return err
		}
	}

	return nil
}

// ==================== Results Methods ====================

// SaveResults stores the payload and computed ranking of a category, replacing
// any earlier version. It returns the new revision number.
func (r *Repository) SaveResults(ctx context.Context, boxID int, payload models.ResultsPayload, rows []ranking.Row) (int, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO results (category, box_id, route_count, payload, revision, saved_at)
		VALUES (?, ?, ?, ?, 1, CURRENT_TIMESTAMP)
		ON CONFLICT(category) DO UPDATE SET
			box_id = excluded.box_id,
			route_count = excluded.route_count,
			payload = excluded.payload,
			revision = results.revision + 1,
			saved_at = CURRENT_TIMESTAMP`,
		payload.Category, boxID, payload.RouteCount, string(raw))
	if err != nil {
		return 0, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM ranking_rows WHERE category = ?`, payload.Category); err != nil {
		return 0, err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO ranking_rows (category, position, rank, name, club, total, rank_points, scores, times)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	for i, row := range rows {
		points, _ := json.Marshal(row.RankPoints)
		scores, _ := json.Marshal(row.Scores)
		var times sql.NullString
		if row.Times != nil {
			b, _ := json.Marshal(row.Times)
			times = sql.NullString{String: string(b), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, payload.Category, i+1, row.Rank, row.Name, row.Club, row.Total,
			string(points), string(scores), times); err != nil {
			return 0, err
		}
	}

	var revision int
	if err := tx.QueryRowContext(ctx, `SELECT revision FROM results WHERE category = ?`, payload.Category).Scan(&revision); err != nil {
		return 0, err
	}

	return revision, tx.Commit()
}

// GetResults retrieves the stored ranking of a category
func (r *Repository) GetResults(ctx context.Context, category string) (*StoredResults, error) {
	res := &StoredResults{Category: category}
	var raw string
	var savedAt sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		SELECT box_id, route_count, payload, revision, saved_at
		FROM results WHERE category = ?`, category).
		Scan(&res.BoxID, &res.RouteCount, &raw, &res.Revision, &savedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(raw), &res.Payload); err != nil {
		return nil, err
	}
	if savedAt.Valid {
		res.SavedAt = savedAt.Time
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT rank, name, club, total, rank_points, scores, times
		FROM ranking_rows WHERE category = ? ORDER BY position`, category)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var row ranking.Row
		var club, times sql.NullString
		var points, scores string
		if err := rows.Scan(&row.Rank, &row.Name, &club, &row.Total, &points, &scores, &times); err != nil {
			return nil, err
		}
		row.Club = club.String
		if err := json.Unmarshal([]byte(points), &row.RankPoints); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(scores), &row.Scores); err != nil {
			return nil, err
		}
		if times.Valid {
			if err := json.Unmarshal([]byte(times.String), &row.Times); err != nil {
				return nil, err
			}
		}
		res.Rows = append(res.Rows, row)
	}
	return res, rows.Err()
}

// ListResultCategories returns the categories with stored results, most recent first
func (r *Repository) ListResultCategories(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT category FROM results ORDER BY saved_at DESC, category`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var categories []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// DeleteResults removes a category's stored ranking
func (r *Repository) DeleteResults(ctx context.Context, category string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM results WHERE category = ?`, category)
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

// ==================== Settings Methods ====================

// GetSetting retrieves a setting value
func (r *Repository) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return value, err
}

// SetSetting updates a setting value
func (r *Repository) SetSetting(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `INSERT OR REPLACE INTO settings (key, value) VALUES (?, ?)`, key, value)
	return err
}
