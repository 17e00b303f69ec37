package clips

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/yeti47/replaybuffer/ccc/db"
)

// ReplayRepository defines the interface for CRUD operations on Replay entities
type ReplayRepository interface {
	// GetByID retrieves a Replay by its ID, nil if it does not exist
	GetByID(ctx context.Context, id string) (*Replay, error)

	// Query retrieves Replays newest first.
	// Returns replays and total count of matching records (before pagination)
	Query(ctx context.Context, query ReplayQuery) ([]*Replay, int, error)

	// Add stores a new Replay in the repository
	Add(ctx context.Context, replay *Replay) error

	// Delete removes a Replay by its ID
	Delete(ctx context.Context, id string) error
}

// SQLiteReplayRepository implements ReplayRepository using SQLite
type SQLiteReplayRepository struct {
	db *sql.DB
}

// NewSQLiteReplayRepository creates a new SQLite-based ReplayRepository
func NewSQLiteReplayRepository(db *sql.DB) (*SQLiteReplayRepository, error) {
	repo := &SQLiteReplayRepository{db: db}
	if err := repo.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return repo, nil
}

// createTables ensures that the required tables exist
func (r *SQLiteReplayRepository) createTables() error {
	createReplaysTable := `
	CREATE TABLE IF NOT EXISTS replays (
		id TEXT PRIMARY KEY,
		file_path TEXT NOT NULL,
		trigger_time TEXT NOT NULL,
		start_time_utc_ms INTEGER,
		duration INTEGER NOT NULL,
		has_audio INTEGER NOT NULL,
		format_version INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_replays_trigger_time ON replays(trigger_time);`

	_, err := r.db.Exec(createReplaysTable)
	return err
}

const selectReplayColumns = `SELECT id, file_path, trigger_time, start_time_utc_ms, duration, has_audio, format_version, created_at FROM replays`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReplay(row rowScanner) (*Replay, error) {
	replay := &Replay{}
	var triggerStr, createdStr string
	var startUTC sql.NullInt64
	var durationNanos int64
	var hasAudioInt int

	err := row.Scan(&replay.ID, &replay.FilePath, &triggerStr, &startUTC, &durationNanos, &hasAudioInt, &replay.FormatVersion, &createdStr)
	if err != nil {
		return nil, err
	}

	replay.TriggerTime, err = db.StringToTime(triggerStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse trigger time: %w", err)
	}
	replay.CreatedAt, err = db.StringToTime(createdStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse creation time: %w", err)
	}

	replay.StartTimeUTC = db.NullToInt64Ptr(startUTC)
	replay.Duration = time.Duration(durationNanos)
	replay.HasAudio = db.IntToBool(hasAudioInt)
	return replay, nil
}

// GetByID retrieves a Replay by its ID
func (r *SQLiteReplayRepository) GetByID(ctx context.Context, id string) (*Replay, error) {
	row := r.db.QueryRowContext(ctx, selectReplayColumns+" WHERE id = ?", id)

	replay, err := scanReplay(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get replay by ID: %w", err)
	}
	return replay, nil
}

// Query retrieves Replays based on the provided query parameters
func (r *SQLiteReplayRepository) Query(ctx context.Context, query ReplayQuery) ([]*Replay, int, error) {
	where, args := buildConditions(query)

	var totalCount int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM replays"+where, args...).Scan(&totalCount); err != nil {
		return nil, 0, fmt.Errorf("failed to get total count: %w", err)
	}

	sqlQuery := selectReplayColumns + where + " ORDER BY trigger_time DESC"
	if query.PageSize > 0 {
		sqlQuery += " LIMIT ?"
		args = append(args, query.PageSize)
		if query.Page > 1 {
			sqlQuery += " OFFSET ?"
			args = append(args, (query.Page-1)*query.PageSize)
		}
	}

	rows, err := r.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query replays: %w", err)
	}
	defer rows.Close()

	var replays []*Replay
	for rows.Next() {
		replay, err := scanReplay(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan replay: %w", err)
		}
		replays = append(replays, replay)
	}

	return replays, totalCount, rows.Err()
}

// buildConditions builds the WHERE clause shared by the count and data queries
func buildConditions(query ReplayQuery) (string, []any) {
	var conditions []string
	var args []any

	if query.StartTime != nil {
		conditions = append(conditions, "trigger_time >= ?")
		args = append(args, db.TimeToString(*query.StartTime))
	}

	if query.EndTime != nil {
		conditions = append(conditions, "trigger_time <= ?")
		args = append(args, db.TimeToString(*query.EndTime))
	}

	if query.HasAudio != nil {
		conditions = append(conditions, "has_audio = ?")
		args = append(args, db.BoolToInt(*query.HasAudio))
	}

	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

// Add stores a new Replay in the repository
func (r *SQLiteReplayRepository) Add(ctx context.Context, replay *Replay) error {
	query := `
	INSERT INTO replays (id, file_path, trigger_time, start_time_utc_ms, duration, has_audio, format_version, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		replay.ID, replay.FilePath, db.TimeToString(replay.TriggerTime), db.Int64PtrToNull(replay.StartTimeUTC),
		int64(replay.Duration), db.BoolToInt(replay.HasAudio), replay.FormatVersion, db.TimeToString(replay.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to add replay: %w", err)
	}

	return nil
}

// Delete removes a Replay by its ID
func (r *SQLiteReplayRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM replays WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete replay: %w", err)
	}

	return nil
}
