package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"feedgate/internal/model"
	"feedgate/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// CreateFeed inserts a new feed and populates its ID and CreatedAt.
func (s *SQLite) CreateFeed(ctx context.Context, feed *model.Feed) error {
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO feeds (url, name, site_url, favicon_url, favicon_is_dark, favicon_color, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		feed.URL, feed.Name, feed.SiteURL, feed.FaviconURL,
		brightnessToCol(feed.FaviconDark), feed.FaviconColor, now,
	)
	if err != nil {
		return fmt.Errorf("insert feed: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	feed.ID = id
	feed.CreatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

const feedColumns = `id, url, name, site_url, favicon_url, favicon_is_dark, favicon_color,
	last_success_at, last_failure_at, created_at`

// GetFeed returns a single feed by its ID.
func (s *SQLite) GetFeed(ctx context.Context, id int64) (*model.Feed, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+feedColumns+` FROM feeds WHERE id = ?`, id,
	)
	return scanFeed(row)
}

// GetFeedByURL returns the feed with the given canonical URL, or ErrNotFound.
func (s *SQLite) GetFeedByURL(ctx context.Context, url string) (*model.Feed, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+feedColumns+` FROM feeds WHERE url = ?`, url,
	)
	return scanFeed(row)
}

// ListFeeds returns all feeds ordered by ID.
func (s *SQLite) ListFeeds(ctx context.Context) ([]model.Feed, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+feedColumns+` FROM feeds ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query feeds: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanFeeds(rows)
}

// ListFeedsForBrightness returns feeds with a favicon URL that still need
// brightness analysis. With force, already-analyzed feeds are included too.
func (s *SQLite) ListFeedsForBrightness(ctx context.Context, force bool) ([]model.Feed, error) {
	q := `SELECT ` + feedColumns + ` FROM feeds WHERE favicon_url != ''`
	if !force {
		q += ` AND favicon_is_dark IS NULL`
	}
	rows, err := s.db.QueryContext(ctx, q+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query feeds for brightness: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanFeeds(rows)
}

// SetFaviconAnalysis persists the brightness classification and dominant
// colour for a feed's favicon.
func (s *SQLite) SetFaviconAnalysis(ctx context.Context, feedID int64, brightness model.Brightness, colorHex string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE feeds SET favicon_is_dark = ?, favicon_color = ? WHERE id = ?`,
		brightnessToCol(brightness), colorHex, feedID,
	)
	if err != nil {
		return fmt.Errorf("set favicon analysis: %w", err)
	}
	return nil
}

// CreateSubscription records that an owner subscribed to a feed.
func (s *SQLite) CreateSubscription(ctx context.Context, sub *model.Subscription) error {
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO subscriptions (feed_id, owner, category_id, created_at) VALUES (?, ?, ?, ?)`,
		sub.FeedID, sub.Owner, sub.CategoryID, now,
	)
	if err != nil {
		return fmt.Errorf("insert subscription: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	sub.ID = id
	sub.CreatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// CreateFilterRule inserts a new rule at the end of the feed's rule order.
func (s *SQLite) CreateFilterRule(ctx context.Context, rule *model.FilterRule) error {
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO filter_rules (feed_id, field, pattern, mode, position, created_at)
		 VALUES (?, ?, ?, ?,
		         (SELECT COALESCE(MAX(position), 0) + 1 FROM filter_rules WHERE feed_id = ?),
		         ?)`,
		rule.FeedID, string(rule.Field), rule.Pattern, string(rule.Mode), rule.FeedID, now,
	)
	if err != nil {
		return fmt.Errorf("insert filter rule: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	rule.ID = id
	rule.CreatedAt, _ = time.Parse(timeLayout, now)
	row := s.db.QueryRowContext(ctx, `SELECT position FROM filter_rules WHERE id = ?`, id)
	if err := row.Scan(&rule.Position); err != nil {
		return fmt.Errorf("read rule position: %w", err)
	}
	return nil
}

// ListFilterRules returns a feed's rules in evaluation order.
func (s *SQLite) ListFilterRules(ctx context.Context, feedID int64) ([]model.FilterRule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, feed_id, field, pattern, mode, position, created_at
		 FROM filter_rules WHERE feed_id = ? ORDER BY position, id`, feedID,
	)
	if err != nil {
		return nil, fmt.Errorf("query filter rules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var rules []model.FilterRule
	for rows.Next() {
		var r model.FilterRule
		var field, mode, created string
		if err := rows.Scan(&r.ID, &r.FeedID, &field, &r.Pattern, &mode, &r.Position, &created); err != nil {
			return nil, fmt.Errorf("scan filter rule: %w", err)
		}
		r.Field = model.RuleField(field)
		r.Mode = model.RuleMode(mode)
		r.CreatedAt, _ = time.Parse(timeLayout, created)
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// DeleteFilterRule removes a rule by its ID.
func (s *SQLite) DeleteFilterRule(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM filter_rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete filter rule: %w", err)
	}
	return nil
}

// ListEntries returns a feed's entries ordered by published time, newest first.
func (s *SQLite) ListEntries(ctx context.Context, feedID int64) ([]model.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, feed_id, fingerprint, title, url, author, content, published_at, created_at, updated_at
		 FROM entries WHERE feed_id = ? ORDER BY published_at DESC, id DESC`, feedID,
	)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []model.Entry
	for rows.Next() {
		var e model.Entry
		var published, created, updated string
		if err := rows.Scan(&e.ID, &e.FeedID, &e.Fingerprint, &e.Title, &e.URL,
			&e.Author, &e.Content, &published, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.PublishedAt, _ = time.Parse(timeLayout, published)
		e.CreatedAt, _ = time.Parse(timeLayout, created)
		e.UpdatedAt, _ = time.Parse(timeLayout, updated)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ApplyRefresh upserts entries and appends the history row in one
// transaction. An entry whose fingerprint already exists for the feed is
// updated in place: title, url, author and content are overwritten, the
// published time never regresses, and the insert counter is untouched.
func (s *SQLite) ApplyRefresh(ctx context.Context, feedID int64, entries []model.Entry, rec model.FeedRefresh) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Format(timeLayout)
	created := 0

	for _, e := range entries {
		var existingID int64
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM entries WHERE feed_id = ? AND fingerprint = ?`,
			feedID, e.Fingerprint,
		).Scan(&existingID)

		switch {
		case errors.Is(err, sql.ErrNoRows):
			_, err = tx.ExecContext(ctx,
				`INSERT INTO entries (feed_id, fingerprint, title, url, author, content, published_at, created_at, updated_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				feedID, e.Fingerprint, e.Title, e.URL, e.Author, e.Content,
				e.PublishedAt.UTC().Format(timeLayout), now, now,
			)
			if err != nil {
				return 0, fmt.Errorf("insert entry: %w", err)
			}
			created++
		case err != nil:
			return 0, fmt.Errorf("lookup entry: %w", err)
		default:
			_, err = tx.ExecContext(ctx,
				`UPDATE entries
				 SET title = ?, url = ?, author = ?, content = ?, updated_at = ?,
				     published_at = MAX(published_at, ?)
				 WHERE id = ?`,
				e.Title, e.URL, e.Author, e.Content, now,
				e.PublishedAt.UTC().Format(timeLayout), existingID,
			)
			if err != nil {
				return 0, fmt.Errorf("update entry: %w", err)
			}
		}
	}

	refreshedAt := rec.RefreshedAt.UTC().Format(timeLayout)
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO feed_refreshes (feed_id, refreshed_at, was_successful, entries_created, error_message)
		 VALUES (?, ?, 1, ?, NULL)`,
		feedID, refreshedAt, created,
	); err != nil {
		return 0, fmt.Errorf("insert refresh record: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE feeds SET last_success_at = ? WHERE id = ?`,
		refreshedAt, feedID,
	); err != nil {
		return 0, fmt.Errorf("update last success: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit refresh: %w", err)
	}
	return created, nil
}

// RecordRefresh appends a history row without entry writes. The refresh
// engine uses it for failed attempts; successes go through ApplyRefresh.
func (s *SQLite) RecordRefresh(ctx context.Context, rec model.FeedRefresh) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	refreshedAt := rec.RefreshedAt.UTC().Format(timeLayout)
	var errMsg *string
	if rec.ErrorMessage != "" {
		errMsg = &rec.ErrorMessage
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO feed_refreshes (feed_id, refreshed_at, was_successful, entries_created, error_message)
		 VALUES (?, ?, ?, ?, ?)`,
		rec.FeedID, refreshedAt, boolToInt(rec.WasSuccessful), rec.EntriesCreated, errMsg,
	); err != nil {
		return fmt.Errorf("insert refresh record: %w", err)
	}

	col := "last_failure_at"
	if rec.WasSuccessful {
		col = "last_success_at"
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE feeds SET `+col+` = ? WHERE id = ?`, refreshedAt, rec.FeedID,
	); err != nil {
		return fmt.Errorf("update refresh timestamp: %w", err)
	}
	return tx.Commit()
}

// ListRefreshes returns a feed's refresh history, newest first.
func (s *SQLite) ListRefreshes(ctx context.Context, feedID int64) ([]model.FeedRefresh, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, feed_id, refreshed_at, was_successful, entries_created, error_message
		 FROM feed_refreshes WHERE feed_id = ? ORDER BY id DESC`, feedID,
	)
	if err != nil {
		return nil, fmt.Errorf("query refreshes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var recs []model.FeedRefresh
	for rows.Next() {
		var r model.FeedRefresh
		var refreshed string
		var success int
		var errMsg sql.NullString
		if err := rows.Scan(&r.ID, &r.FeedID, &refreshed, &success, &r.EntriesCreated, &errMsg); err != nil {
			return nil, fmt.Errorf("scan refresh: %w", err)
		}
		r.RefreshedAt, _ = time.Parse(timeLayout, refreshed)
		r.WasSuccessful = success == 1
		r.ErrorMessage = errMsg.String
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func brightnessToCol(b model.Brightness) *int {
	switch b {
	case model.BrightnessLight:
		v := 0
		return &v
	case model.BrightnessDark:
		v := 1
		return &v
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanFeed(row scannable) (*model.Feed, error) {
	var f model.Feed
	var isDark sql.NullInt64
	var lastSuccess, lastFailure, created sql.NullString
	err := row.Scan(&f.ID, &f.URL, &f.Name, &f.SiteURL, &f.FaviconURL,
		&isDark, &f.FaviconColor, &lastSuccess, &lastFailure, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan feed: %w", err)
	}
	if isDark.Valid {
		if isDark.Int64 == 1 {
			f.FaviconDark = model.BrightnessDark
		} else {
			f.FaviconDark = model.BrightnessLight
		}
	}
	if lastSuccess.Valid {
		t, _ := time.Parse(timeLayout, lastSuccess.String)
		f.LastSuccessAt = &t
	}
	if lastFailure.Valid {
		t, _ := time.Parse(timeLayout, lastFailure.String)
		f.LastFailureAt = &t
	}
	if created.Valid {
		f.CreatedAt, _ = time.Parse(timeLayout, created.String)
	}
	return &f, nil
}

func scanFeeds(rows *sql.Rows) ([]model.Feed, error) {
	var feeds []model.Feed
	for rows.Next() {
		f, err := scanFeed(rows)
		if err != nil {
			return nil, err
		}
		feeds = append(feeds, *f)
	}
	return feeds, rows.Err()
}
