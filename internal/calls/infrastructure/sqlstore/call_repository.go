package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	calls "callwatch/internal/calls/domain"
)

const defaultCallsTable = "calls"

// Dialect selects placeholder syntax for the target database.
type Dialect string

const (
	DialectPostgres Dialect = "pgx"
	DialectSQLite   Dialect = "sqlite3"
)

// rebind rewrites ? placeholders into the dialect's form.
func (d Dialect) rebind(query string) string {
	if d != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// CallRepository stores call records in Postgres or SQLite.
type CallRepository struct {
	db      *sql.DB
	dialect Dialect
	table   string
}

// NewCallRepository constructs a repository.
func NewCallRepository(db *sql.DB, dialect Dialect) (*CallRepository, error) {
	if db == nil {
		return nil, errors.New("call repo: nil db")
	}
	switch dialect {
	case DialectPostgres, DialectSQLite:
	default:
		return nil, fmt.Errorf("call repo: unsupported dialect %q", dialect)
	}
	return &CallRepository{db: db, dialect: dialect, table: defaultCallsTable}, nil
}

const selectColumns = `id, patient, patient_key, room, room_key, branch, call_date, registered_at, caller`

// FindByKey returns the record for a day, branch, patient slug and room slug.
func (r *CallRepository) FindByKey(ctx context.Context, key calls.CallKey) (*calls.CallRecord, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("call repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, r.dialect.rebind(`
SELECT `+selectColumns+`
FROM `+r.table+`
WHERE call_date = ? AND branch = ? AND patient_key = ? AND room_key = ?
ORDER BY id
LIMIT 1`), key.Date, key.Branch, key.PatientKey, key.RoomKey)
	return scanCall(row)
}

// FindLast returns the most recently registered record of a day and branch.
func (r *CallRepository) FindLast(ctx context.Context, date, branch string) (*calls.CallRecord, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("call repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, r.dialect.rebind(`
SELECT `+selectColumns+`
FROM `+r.table+`
WHERE call_date = ? AND branch = ?
ORDER BY registered_at DESC, id DESC
LIMIT 1`), date, branch)
	return scanCall(row)
}

// Insert stores a new record. An existing id is an error.
func (r *CallRepository) Insert(ctx context.Context, record calls.CallRecord) error {
	if r == nil || r.db == nil {
		return errors.New("call repo: nil db")
	}
	if record.ID == "" {
		return errors.New("call repo: empty id")
	}
	_, err := r.db.ExecContext(ctx, r.dialect.rebind(`
INSERT INTO `+r.table+` (`+selectColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		record.ID,
		record.Patient,
		record.PatientKey,
		record.Room,
		record.RoomKey,
		record.Branch,
		record.Date,
		record.RegisteredAt.UTC(),
		record.Caller,
	)
	return err
}

// Update writes the non-nil fields of update. Slug columns follow their source fields.
func (r *CallRepository) Update(ctx context.Context, id string, update calls.CallUpdate) error {
	if r == nil || r.db == nil {
		return errors.New("call repo: nil db")
	}
	sets := make([]string, 0, 6)
	args := make([]any, 0, 7)
	if update.Patient != nil {
		sets = append(sets, "patient = ?", "patient_key = ?")
		args = append(args, *update.Patient, calls.Slugify(*update.Patient))
	}
	if update.Room != nil {
		sets = append(sets, "room = ?", "room_key = ?")
		args = append(args, *update.Room, calls.Slugify(*update.Room))
	}
	if update.Caller != nil {
		sets = append(sets, "caller = ?")
		args = append(args, *update.Caller)
	}
	if !update.RegisteredAt.IsZero() {
		sets = append(sets, "registered_at = ?")
		args = append(args, update.RegisteredAt.UTC())
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)

	res, err := r.db.ExecContext(ctx, r.dialect.rebind(`
UPDATE `+r.table+`
SET `+strings.Join(sets, ", ")+`
WHERE id = ?`), args...)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return calls.ErrNotFound
	}
	return nil
}

// ListDay returns the records of a day ordered by registration time. An
// empty branch lists every branch.
func (r *CallRepository) ListDay(ctx context.Context, date, branch string) ([]calls.CallRecord, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("call repo: nil db")
	}
	query := `
SELECT ` + selectColumns + `
FROM ` + r.table + `
WHERE call_date = ?`
	args := []any{date}
	if branch != "" {
		query += ` AND branch = ?`
		args = append(args, branch)
	}
	query += `
ORDER BY registered_at, id`

	rows, err := r.db.QueryContext(ctx, r.dialect.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []calls.CallRecord
	for rows.Next() {
		record, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Ping checks the connection.
func (r *CallRepository) Ping(ctx context.Context) error {
	if r == nil || r.db == nil {
		return errors.New("call repo: nil db")
	}
	return r.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCall(row rowScanner) (*calls.CallRecord, error) {
	var (
		record       calls.CallRecord
		registeredAt time.Time
	)
	if err := row.Scan(
		&record.ID,
		&record.Patient,
		&record.PatientKey,
		&record.Room,
		&record.RoomKey,
		&record.Branch,
		&record.Date,
		&registeredAt,
		&record.Caller,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	record.RegisteredAt = registeredAt.UTC()
	return &record, nil
}
