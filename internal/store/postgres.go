package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"volunteerportal/internal/model"
)

const (
	userColumns    = `id, username, email, password_hash, phone, address, role, is_available, join_date, created_at, updated_at`
	sessionColumns = `id, name, address, date_of_session, class, expected_number_of_students, number_of_volunteer, remarks, created_at`
	rosterQuery    = `
		SELECT sv.session_id, sv.volunteer_id, sv.is_present,
		       COALESCE(u.username, ''), COALESCE(u.email, ''), COALESCE(u.phone, ''),
		       COALESCE(u.address, ''), COALESCE(u.role, '')
		FROM session_volunteers sv
		LEFT JOIN users u ON u.id = sv.volunteer_id`
)

// Postgres persists portal data through database/sql with the pgx driver.
type Postgres struct {
	db *sql.DB
}

// NewPostgres creates a repository over an open connection pool.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*model.User, error) {
	var u model.User
	var role string
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Phone, &u.Address, &role,
		&u.IsAvailable, &u.JoinDate, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.Role = model.Role(role)
	u.Attended = []string{}
	return &u, nil
}

func scanSession(row rowScanner) (*model.Session, error) {
	var s model.Session
	var remarks sql.NullString
	if err := row.Scan(&s.ID, &s.Name, &s.Address, &s.DateOfSession, &s.Class,
		&s.ExpectedNumberOfStudents, &s.NumberOfVolunteer, &remarks, &s.CreatedAt); err != nil {
		return nil, err
	}
	if remarks.Valid {
		s.Remarks = &remarks.String
	}
	s.Volunteers = []model.AttendanceRecord{}
	return &s, nil
}

// CreateUser inserts a user, assigning an id when empty.
func (p *Postgres) CreateUser(ctx context.Context, u *model.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.JoinDate.IsZero() {
		u.JoinDate = time.Now().UTC()
	}
	row := p.db.QueryRowContext(ctx, `
		INSERT INTO users (id, username, email, password_hash, phone, address, role, is_available, join_date)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at, updated_at
	`, u.ID, u.Username, u.Email, u.PasswordHash, u.Phone, u.Address, string(u.Role), u.IsAvailable, u.JoinDate)
	if err := row.Scan(&u.CreatedAt, &u.UpdatedAt); err != nil {
		if uniqueViolation(err, "users_email_key") {
			return model.ErrDuplicateEmail
		}
		return fmt.Errorf("insert user: %w", err)
	}
	if u.Attended == nil {
		u.Attended = []string{}
	}
	return nil
}

// GetUser returns the user with its attended set, or nil when absent.
func (p *Postgres) GetUser(ctx context.Context, id string) (*model.User, error) {
	u, err := scanUser(p.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select user: %w", err)
	}
	attended, err := p.attended(ctx, `WHERE user_id = $1`, id)
	if err != nil {
		return nil, err
	}
	u.Attended = append(u.Attended, attended[u.ID]...)
	return u, nil
}

// FindUserByLogin matches identifier against email (case-insensitive) or
// username. An email match wins over a username match.
func (p *Postgres) FindUserByLogin(ctx context.Context, identifier string) (*model.User, error) {
	u, err := scanUser(p.db.QueryRowContext(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE lower(email) = lower($1) OR username = $1
		ORDER BY (lower(email) = lower($1)) DESC, created_at
		LIMIT 1
	`, identifier))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select user by login: %w", err)
	}
	return u, nil
}

// FindUserByUsername returns the oldest user with that username, or nil.
func (p *Postgres) FindUserByUsername(ctx context.Context, username string) (*model.User, error) {
	u, err := scanUser(p.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = $1 ORDER BY created_at LIMIT 1`, username))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select user by username: %w", err)
	}
	return u, nil
}

// EmailExists reports whether any user has the email.
func (p *Postgres) EmailExists(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE lower(email) = lower($1))`, email).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check email: %w", err)
	}
	return exists, nil
}

// ListUsers returns users in creation order, filtered by role when non-empty.
func (p *Postgres) ListUsers(ctx context.Context, role model.Role) ([]model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users`
	var args []any
	if role != "" {
		query += ` WHERE role = $1`
		args = append(args, string(role))
	}
	query += ` ORDER BY created_at, id`

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select users: %w", err)
	}
	defer rows.Close()
	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	attended, err := p.attended(ctx, "")
	if err != nil {
		return nil, err
	}
	for i := range users {
		users[i].Attended = append(users[i].Attended, attended[users[i].ID]...)
	}
	return users, nil
}

// UpdateUser applies the non-nil patch fields and returns the updated user,
// or nil when absent.
func (p *Postgres) UpdateUser(ctx context.Context, id string, patch model.UserPatch) (*model.User, error) {
	var sets []string
	var args []any
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if patch.Username != nil {
		add("username", *patch.Username)
	}
	if patch.Email != nil {
		add("email", *patch.Email)
	}
	if patch.Phone != nil {
		add("phone", *patch.Phone)
	}
	if patch.Address != nil {
		add("address", *patch.Address)
	}
	if patch.PasswordHash != nil {
		add("password_hash", *patch.PasswordHash)
	}
	if patch.IsAvailable != nil {
		add("is_available", *patch.IsAvailable)
	}
	if len(sets) == 0 {
		return p.GetUser(ctx, id)
	}

	args = append(args, id)
	query := fmt.Sprintf(`UPDATE users SET %s, updated_at = NOW() WHERE id = $%d`, strings.Join(sets, ", "), len(args))
	res, err := p.db.ExecContext(ctx, query, args...)
	if err != nil {
		if uniqueViolation(err, "users_email_key") {
			return nil, model.ErrDuplicateEmail
		}
		return nil, fmt.Errorf("update user: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, err
	} else if n == 0 {
		return nil, nil
	}
	return p.GetUser(ctx, id)
}

// DeleteVolunteer removes the volunteer and its roster records in one
// transaction. Attended and task rows go with the user row.
func (p *Postgres) DeleteVolunteer(ctx context.Context, id string) (bool, error) {
	var removed bool
	err := p.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = $1 AND role = $2`, id, string(model.RoleVolunteer))
		if err != nil {
			return fmt.Errorf("delete user: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM session_volunteers WHERE volunteer_id = $1`, id); err != nil {
			return fmt.Errorf("delete roster records: %w", err)
		}
		removed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return removed, nil
}

// CreateSession inserts a session, assigning an id when empty.
func (p *Postgres) CreateSession(ctx context.Context, s *model.Session) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	row := p.db.QueryRowContext(ctx, `
		INSERT INTO sessions (id, name, address, date_of_session, class, expected_number_of_students, number_of_volunteer, remarks)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at
	`, s.ID, s.Name, s.Address, s.DateOfSession, s.Class, s.ExpectedNumberOfStudents, s.NumberOfVolunteer, s.Remarks)
	if err := row.Scan(&s.CreatedAt); err != nil {
		if uniqueViolation(err, "sessions_name_key") {
			return model.ErrDuplicateSessionName
		}
		return fmt.Errorf("insert session: %w", err)
	}
	if s.Volunteers == nil {
		s.Volunteers = []model.AttendanceRecord{}
	}
	return nil
}

// GetSession returns the session with its roster in insertion order, or nil.
func (p *Postgres) GetSession(ctx context.Context, id string) (*model.Session, error) {
	s, err := scanSession(p.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select session: %w", err)
	}
	rosters, err := p.rosters(ctx, ` WHERE sv.session_id = $1`, id)
	if err != nil {
		return nil, err
	}
	s.Volunteers = append(s.Volunteers, rosters[s.ID]...)
	return s, nil
}

// SessionNameExists reports whether a session already uses name.
func (p *Postgres) SessionNameExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	if err := p.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM sessions WHERE name = $1)`, name).Scan(&exists); err != nil {
		return false, fmt.Errorf("check session name: %w", err)
	}
	return exists, nil
}

// ListSessions returns every session, latest date first.
func (p *Postgres) ListSessions(ctx context.Context) ([]model.Session, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM sessions ORDER BY date_of_session DESC, seq`)
	if err != nil {
		return nil, fmt.Errorf("select sessions: %w", err)
	}
	defer rows.Close()
	var sessions []model.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rosters, err := p.rosters(ctx, "")
	if err != nil {
		return nil, err
	}
	for i := range sessions {
		sessions[i].Volunteers = append(sessions[i].Volunteers, rosters[sessions[i].ID]...)
	}
	return sessions, nil
}

// UpdateSession applies the non-nil patch fields. It reports false when the
// session does not exist.
func (p *Postgres) UpdateSession(ctx context.Context, id string, patch model.SessionPatch) (bool, error) {
	var sets []string
	var args []any
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if patch.Name != nil {
		add("name", *patch.Name)
	}
	if patch.Address != nil {
		add("address", *patch.Address)
	}
	if patch.DateOfSession != nil {
		add("date_of_session", *patch.DateOfSession)
	}
	if patch.Class != nil {
		add("class", *patch.Class)
	}
	if patch.ExpectedNumberOfStudents != nil {
		add("expected_number_of_students", *patch.ExpectedNumberOfStudents)
	}
	if patch.NumberOfVolunteer != nil {
		add("number_of_volunteer", *patch.NumberOfVolunteer)
	}
	if patch.Remarks != nil {
		add("remarks", *patch.Remarks)
	}
	if len(sets) == 0 {
		s, err := p.GetSession(ctx, id)
		return s != nil, err
	}

	args = append(args, id)
	query := fmt.Sprintf(`UPDATE sessions SET %s WHERE id = $%d`, strings.Join(sets, ", "), len(args))
	res, err := p.db.ExecContext(ctx, query, args...)
	if err != nil {
		if uniqueViolation(err, "sessions_name_key") {
			return false, model.ErrDuplicateSessionName
		}
		return false, fmt.Errorf("update session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// UpsertAttendance writes the (session, volunteer) record with a keyed
// upsert so concurrent marks for different volunteers never overwrite each
// other. A present mark adds to the attended set in the same transaction.
func (p *Postgres) UpsertAttendance(ctx context.Context, sessionID, volunteerID string, present bool) (bool, error) {
	var found bool
	err := p.inTx(ctx, func(tx *sql.Tx) error {
		var locked string
		err := tx.QueryRowContext(ctx, `SELECT id FROM sessions WHERE id = $1 FOR SHARE`, sessionID).Scan(&locked)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("lock session: %w", err)
		}
		// Holds off DeleteVolunteer until the roster row is committed.
		err = tx.QueryRowContext(ctx,
			`SELECT id FROM users WHERE id = $1 AND role = $2 FOR SHARE`, volunteerID, string(model.RoleVolunteer)).Scan(&locked)
		if errors.Is(err, sql.ErrNoRows) {
			return model.ErrUnknownVolunteer
		}
		if err != nil {
			return fmt.Errorf("lock volunteer: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO session_volunteers (session_id, volunteer_id, is_present)
			VALUES ($1, $2, $3)
			ON CONFLICT (session_id, volunteer_id) DO UPDATE SET
				is_present = EXCLUDED.is_present,
				updated_at = NOW()
		`, sessionID, volunteerID, present); err != nil {
			return fmt.Errorf("upsert roster record: %w", err)
		}
		if present {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO user_attended (user_id, session_id) VALUES ($1, $2)
				ON CONFLICT (user_id, session_id) DO NOTHING
			`, volunteerID, sessionID); err != nil {
				return fmt.Errorf("add attended: %w", err)
			}
		}
		found = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return found, nil
}

// CountAttended counts sessions where the volunteer is marked present.
func (p *Postgres) CountAttended(ctx context.Context, volunteerID string) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM session_volunteers WHERE volunteer_id = $1 AND is_present`, volunteerID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count attended: %w", err)
	}
	return n, nil
}

// AttendanceCounts returns the present count of every volunteer with at
// least one present record.
func (p *Postgres) AttendanceCounts(ctx context.Context) (map[string]int, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT volunteer_id, COUNT(*) FROM session_volunteers
		WHERE is_present
		GROUP BY volunteer_id
	`)
	if err != nil {
		return nil, fmt.Errorf("count attendance: %w", err)
	}
	defer rows.Close()
	counts := make(map[string]int)
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		counts[id] = n
	}
	return counts, rows.Err()
}

// ListAttended returns the sessions where the volunteer is marked present,
// in session creation order.
func (p *Postgres) ListAttended(ctx context.Context, volunteerID string) ([]model.SessionSummary, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT s.id, s.name, s.address, s.date_of_session
		FROM session_volunteers sv
		JOIN sessions s ON s.id = sv.session_id
		WHERE sv.volunteer_id = $1 AND sv.is_present
		ORDER BY s.seq
	`, volunteerID)
	if err != nil {
		return nil, fmt.Errorf("select attended sessions: %w", err)
	}
	defer rows.Close()
	var out []model.SessionSummary
	for rows.Next() {
		var s model.SessionSummary
		if err := rows.Scan(&s.ID, &s.Name, &s.Address, &s.DateOfSession); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// AddAttended adds sessionIDs to the volunteer's attended set.
func (p *Postgres) AddAttended(ctx context.Context, volunteerID string, sessionIDs ...string) error {
	if len(sessionIDs) == 0 {
		return nil
	}
	return p.inTx(ctx, func(tx *sql.Tx) error {
		for _, sid := range sessionIDs {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO user_attended (user_id, session_id) VALUES ($1, $2)
				ON CONFLICT (user_id, session_id) DO NOTHING
			`, volunteerID, sid); err != nil {
				return fmt.Errorf("add attended %s: %w", sid, err)
			}
		}
		return nil
	})
}

// CreateTask inserts a task, assigning an id when empty.
func (p *Postgres) CreateTask(ctx context.Context, t *model.Task) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.State == "" {
		t.State = model.TaskPending
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO tasks (id, title, description, assigned_to, date_assigned, state, failed)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, t.ID, t.Title, t.Description, t.AssignedTo, t.DateAssigned, string(t.State), t.Failed)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// ListTasks returns the user's tasks, oldest first.
func (p *Postgres) ListTasks(ctx context.Context, userID string) ([]model.Task, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, title, description, assigned_to, date_assigned, state, failed
		FROM tasks WHERE assigned_to = $1
		ORDER BY date_assigned, id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("select tasks: %w", err)
	}
	defer rows.Close()
	var tasks []model.Task
	for rows.Next() {
		var t model.Task
		var state string
		if err := rows.Scan(&t.ID, &t.Title, &t.Description, &t.AssignedTo, &t.DateAssigned, &state, &t.Failed); err != nil {
			return nil, err
		}
		t.State = model.TaskState(state)
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// rosters loads roster records grouped by session id, in insertion order.
func (p *Postgres) rosters(ctx context.Context, where string, args ...any) (map[string][]model.AttendanceRecord, error) {
	rows, err := p.db.QueryContext(ctx, rosterQuery+where+` ORDER BY sv.seq`, args...)
	if err != nil {
		return nil, fmt.Errorf("select roster: %w", err)
	}
	defer rows.Close()
	out := make(map[string][]model.AttendanceRecord)
	for rows.Next() {
		var sessionID, role string
		var rec model.AttendanceRecord
		ref := &rec.Volunteer
		if err := rows.Scan(&sessionID, &ref.ID, &rec.IsPresent, &ref.Username, &ref.Email, &ref.Phone, &ref.Address, &role); err != nil {
			return nil, fmt.Errorf("scan roster: %w", err)
		}
		ref.Role = model.Role(role)
		out[sessionID] = append(out[sessionID], rec)
	}
	return out, rows.Err()
}

// attended loads attended session ids grouped by user id.
func (p *Postgres) attended(ctx context.Context, where string, args ...any) (map[string][]string, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT user_id, session_id FROM user_attended `+where+` ORDER BY seq`, args...)
	if err != nil {
		return nil, fmt.Errorf("select attended: %w", err)
	}
	defer rows.Close()
	out := make(map[string][]string)
	for rows.Next() {
		var userID, sessionID string
		if err := rows.Scan(&userID, &sessionID); err != nil {
			return nil, err
		}
		out[userID] = append(out[userID], sessionID)
	}
	return out, rows.Err()
}

// inTx runs fn in a transaction, committing on success and rolling back on
// any error.
func (p *Postgres) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
