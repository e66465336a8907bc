package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// Registers the "sqlite" driver (pure Go).
	_ "modernc.org/sqlite"

	"aide/internal/domain"
)

// SQLiteRepo implements Repo using an embedded SQLite database.
type SQLiteRepo struct{ db *sql.DB }

// OpenSQLite opens (or creates) the SQLite database at the given path,
// applies recommended PRAGMAs, runs SQL migrations, and returns a repository.
func OpenSQLite(ctx context.Context, path string) (*SQLiteRepo, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// SQLite is a single-writer engine.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := applyPragmas(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}

	return &SQLiteRepo{db: db}, nil
}

func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the underlying database resources.
func (r *SQLiteRepo) Close() error {
	return r.db.Close()
}

// --- Users ---

const userCols = `chat_id, display_name, username, role, tz, authorized_at, authorized_by, created_at`

func scanUser(row interface{ Scan(...any) error }) (*domain.User, error) {
	var (
		u      domain.User
		role   string
		authNS sql.NullInt64
		cr     int64
	)
	if err := row.Scan(&u.ChatID, &u.DisplayName, &u.Username, &role, &u.TZ, &authNS, &u.AuthorizedBy, &cr); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	u.Role = domain.Role(role)
	u.AuthorizedAt = fromNullInt64(authNS)
	u.CreatedAt = time.Unix(cr, 0).UTC()
	return &u, nil
}

func (r *SQLiteRepo) GetUser(ctx context.Context, chatID int64) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userCols+` FROM users WHERE chat_id = ?`, chatID)
	return scanUser(row)
}

func (r *SQLiteRepo) UpsertUser(ctx context.Context, u *domain.User) error {
	if u == nil {
		return errors.New("nil user")
	}
	created := u.CreatedAt.UTC().Unix()
	if u.CreatedAt.IsZero() {
		created = time.Now().UTC().Unix()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (chat_id, display_name, username, role, tz, authorized_at, authorized_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET
			display_name = excluded.display_name,
			username     = excluded.username,
			tz           = excluded.tz`,
		u.ChatID, u.DisplayName, u.Username, string(u.Role), u.TZ,
		toNullInt64(u.AuthorizedAt), u.AuthorizedBy, created,
	)
	return err
}

func (r *SQLiteRepo) SetRole(ctx context.Context, chatID int64, role domain.Role, by int64, at *time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users SET role = ?, authorized_by = ?, authorized_at = ?
		WHERE chat_id = ?`,
		string(role), by, toNullInt64(at), chatID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *SQLiteRepo) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+userCols+` FROM users ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *u)
	}
	return res, rows.Err()
}

// --- Tasks ---

const taskCols = `id, creator_id, assignee_id, title, description, priority, status, due_at, focused,
	recur_interval, recur_unit, recur_from_m, recur_to_m, recur_days, recur_last_fired,
	created_at, updated_at`

func scanTask(row interface{ Scan(...any) error }) (*domain.Task, error) {
	var (
		t                 domain.Task
		priority, status  string
		dueNS, lastNS     sql.NullInt64
		focused           int
		recurN            sql.NullInt64
		recurUnit         sql.NullString
		fromM, toM, daysI int
		created, updated  int64
	)
	if err := row.Scan(
		&t.ID, &t.CreatorID, &t.AssigneeID, &t.Title, &t.Description, &priority, &status,
		&dueNS, &focused, &recurN, &recurUnit, &fromM, &toM, &daysI, &lastNS,
		&created, &updated,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	t.Priority = domain.Priority(priority)
	t.Status = domain.Status(status)
	t.Due = fromNullInt64(dueNS)
	t.Focused = focused != 0
	if recurN.Valid {
		t.Recurrence = &domain.RecurrenceRule{
			Interval:  int(recurN.Int64),
			Unit:      domain.Unit(recurUnit.String),
			FromM:     fromM,
			ToM:       toM,
			Days:      domain.WeekdayMask(daysI),
			LastFired: fromNullInt64(lastNS),
		}
	}
	t.CreatedAt = time.Unix(created, 0).UTC()
	t.UpdatedAt = time.Unix(updated, 0).UTC()
	return &t, nil
}

func (r *SQLiteRepo) CreateTask(ctx context.Context, t *domain.Task) error {
	if t == nil {
		return errors.New("nil task")
	}
	now := time.Now().UTC().Unix()

	var (
		recurN            sql.NullInt64
		recurUnit         sql.NullString
		fromM, toM, daysI int
		lastNS            sql.NullInt64
	)
	if rule := t.Recurrence; rule != nil {
		recurN = sql.NullInt64{Int64: int64(rule.Interval), Valid: true}
		recurUnit = sql.NullString{String: string(rule.Unit), Valid: true}
		fromM, toM, daysI = rule.FromM, rule.ToM, int(rule.Days)
		lastNS = toNullInt64(rule.LastFired)
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO tasks (id, creator_id, assignee_id, title, description, priority, status, due_at, focused,
			recur_interval, recur_unit, recur_from_m, recur_to_m, recur_days, recur_last_fired,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.CreatorID, t.AssigneeID, t.Title, t.Description, string(t.Priority), string(t.Status),
		toNullInt64(t.Due), boolToInt(t.Focused),
		recurN, recurUnit, fromM, toM, daysI, lastNS,
		now, now,
	)
	return err
}

func (r *SQLiteRepo) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+taskCols+` FROM tasks WHERE id = ?`, id)
	return scanTask(row)
}

func (r *SQLiteRepo) ListTasks(ctx context.Context, assigneeID int64, includeCompleted bool, limit int) ([]domain.Task, error) {
	q := `SELECT ` + taskCols + ` FROM tasks WHERE assignee_id = ?`
	args := []any{assigneeID}
	if !includeCompleted {
		q += ` AND status != 'completed'`
	}
	q += ` ORDER BY created_at ASC`
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *t)
	}
	return res, rows.Err()
}

func (r *SQLiteRepo) UpdateTaskStatus(ctx context.Context, id string, from, to domain.Status) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(to), time.Now().UTC().Unix(), id, string(from),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *SQLiteRepo) SetTaskPriority(ctx context.Context, id string, p domain.Priority) error {
	return r.updateTaskField(ctx, id, `priority = ?`, string(p))
}

func (r *SQLiteRepo) AssignTask(ctx context.Context, id string, assigneeID int64) error {
	return r.updateTaskField(ctx, id, `assignee_id = ?`, assigneeID)
}

func (r *SQLiteRepo) updateTaskField(ctx context.Context, id, set string, val any) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE tasks SET `+set+`, updated_at = ? WHERE id = ?`,
		val, time.Now().UTC().Unix(), id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *SQLiteRepo) SetFocusedTask(ctx context.Context, assigneeID int64, taskID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Unix()
	if _, err := tx.ExecContext(ctx, `
		UPDATE tasks SET focused = 0, updated_at = ?
		WHERE assignee_id = ? AND focused = 1`, now, assigneeID); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE tasks SET focused = 1, updated_at = ?
		WHERE id = ? AND assignee_id = ?`, now, taskID, assigneeID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return tx.Commit()
}

func (r *SQLiteRepo) SetTaskRecurrence(ctx context.Context, id string, rule *domain.RecurrenceRule) error {
	var (
		recurN            sql.NullInt64
		recurUnit         sql.NullString
		fromM, toM, daysI int
		lastNS            sql.NullInt64
	)
	if rule != nil {
		recurN = sql.NullInt64{Int64: int64(rule.Interval), Valid: true}
		recurUnit = sql.NullString{String: string(rule.Unit), Valid: true}
		fromM, toM, daysI = rule.FromM, rule.ToM, int(rule.Days)
		lastNS = toNullInt64(rule.LastFired)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE tasks SET recur_interval = ?, recur_unit = ?, recur_from_m = ?, recur_to_m = ?,
			recur_days = ?, recur_last_fired = ?, updated_at = ?
		WHERE id = ?`,
		recurN, recurUnit, fromM, toM, daysI, lastNS, time.Now().UTC().Unix(), id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListRecurringTasks returns tasks carrying a recurrence rule that are not
// completed. Completed tasks never yield a new due follow-up.
func (r *SQLiteRepo) ListRecurringTasks(ctx context.Context) ([]domain.Task, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+taskCols+` FROM tasks
		WHERE recur_interval IS NOT NULL AND status != 'completed'
		ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *t)
	}
	return res, rows.Err()
}

// AdvanceTaskFire performs the optimistic claim of one recurring due
// instance. The conditional on the previous last-fired value closes the
// duplicate-delivery race between overlapping ticks.
func (r *SQLiteRepo) AdvanceTaskFire(ctx context.Context, id string, prev *time.Time, fired time.Time) (bool, error) {
	var (
		res sql.Result
		err error
	)
	now := time.Now().UTC().Unix()
	if prev == nil {
		res, err = r.db.ExecContext(ctx, `
			UPDATE tasks SET recur_last_fired = ?, updated_at = ?
			WHERE id = ? AND recur_last_fired IS NULL AND status != 'completed'`,
			fired.UTC().Unix(), now, id)
	} else {
		res, err = r.db.ExecContext(ctx, `
			UPDATE tasks SET recur_last_fired = ?, updated_at = ?
			WHERE id = ? AND recur_last_fired = ? AND status != 'completed'`,
			fired.UTC().Unix(), now, id, prev.UTC().Unix())
	}
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *SQLiteRepo) DeleteTask(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	return err
}

// --- Reminders ---

const reminderCols = `id, target_user, message, fire_at, delivered, created_at`

func scanReminder(row interface{ Scan(...any) error }) (*domain.Reminder, error) {
	var (
		rm              domain.Reminder
		fireAt, created int64
		delivered       int
	)
	if err := row.Scan(&rm.ID, &rm.TargetUser, &rm.Message, &fireAt, &delivered, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	rm.FireAt = time.Unix(fireAt, 0).UTC()
	rm.Delivered = delivered != 0
	rm.CreatedAt = time.Unix(created, 0).UTC()
	return &rm, nil
}

func (r *SQLiteRepo) CreateReminder(ctx context.Context, rm *domain.Reminder) error {
	if rm == nil {
		return errors.New("nil reminder")
	}
	created := rm.CreatedAt.UTC().Unix()
	if rm.CreatedAt.IsZero() {
		created = time.Now().UTC().Unix()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO reminders (id, target_user, message, fire_at, delivered, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rm.ID, rm.TargetUser, rm.Message, rm.FireAt.UTC().Unix(), boolToInt(rm.Delivered), created,
	)
	return err
}

func (r *SQLiteRepo) GetReminder(ctx context.Context, id string) (*domain.Reminder, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+reminderCols+` FROM reminders WHERE id = ?`, id)
	return scanReminder(row)
}

func (r *SQLiteRepo) ListDueReminders(ctx context.Context, now time.Time, limit int) ([]domain.Reminder, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+reminderCols+` FROM reminders
		WHERE delivered = 0 AND fire_at <= ?
		ORDER BY fire_at ASC
		LIMIT ?`,
		now.UTC().Unix(), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []domain.Reminder
	for rows.Next() {
		rm, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *rm)
	}
	return res, rows.Err()
}

// ClaimReminder flips the delivered flag exactly once. The WHERE clause on
// the prior state makes the claim atomic; once true it is never reset.
func (r *SQLiteRepo) ClaimReminder(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE reminders SET delivered = 1
		WHERE id = ? AND delivered = 0`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *SQLiteRepo) DeleteReminder(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM reminders WHERE id = ?`, id)
	return err
}

// --- Notes ---

func (r *SQLiteRepo) CreateNote(ctx context.Context, n *domain.Note) error {
	if n == nil {
		return errors.New("nil note")
	}
	created := n.CreatedAt.UTC().Unix()
	if n.CreatedAt.IsZero() {
		created = time.Now().UTC().Unix()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO notes (id, owner_id, body, created_at)
		VALUES (?, ?, ?, ?)`,
		n.ID, n.OwnerID, n.Text, created,
	)
	return err
}

func (r *SQLiteRepo) ListNotes(ctx context.Context, ownerID int64, limit int) ([]domain.Note, error) {
	q := `SELECT id, owner_id, body, created_at FROM notes WHERE owner_id = ? ORDER BY created_at ASC`
	args := []any{ownerID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []domain.Note
	for rows.Next() {
		var (
			n       domain.Note
			created int64
		)
		if err := rows.Scan(&n.ID, &n.OwnerID, &n.Text, &created); err != nil {
			return nil, err
		}
		n.CreatedAt = time.Unix(created, 0).UTC()
		res = append(res, n)
	}
	return res, rows.Err()
}
