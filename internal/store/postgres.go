package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrLatestHistoryRow is returned when a delete targets the row that is
// currently the most recent history entry for its company.
var ErrLatestHistoryRow = errors.New("latest history row cannot be deleted")

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---- users & profiles ----

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, display_name, password_hash, is_staff)
		VALUES ($1, $2, $3, $4, $5)
	`, user.ID, user.Email, user.DisplayName, user.PasswordHash, user.IsStaff)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT u.id, u.email, u.display_name, u.password_hash, u.is_staff, COALESCE(p.region, '')
		FROM users u
		LEFT JOIN profiles p ON p.user_id = u.id
		WHERE u.email = $1
	`, email).Scan(&user.ID, &user.Email, &user.DisplayName, &user.PasswordHash, &user.IsStaff, &user.Region)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT u.id, u.email, u.display_name, u.password_hash, u.is_staff, COALESCE(p.region, '')
		FROM users u
		LEFT JOIN profiles p ON p.user_id = u.id
		WHERE u.id = $1
	`, userID).Scan(&user.ID, &user.Email, &user.DisplayName, &user.PasswordHash, &user.IsStaff, &user.Region)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// EnsureProfile returns the user's access profile, creating it with the
// given default region when missing. Idempotent: concurrent callers race to
// a single row via ON CONFLICT DO NOTHING.
func (s *PostgresStore) EnsureProfile(ctx context.Context, userID, defaultRegion string) (Profile, error) {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (user_id, region)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO NOTHING
	`, userID, defaultRegion); err != nil {
		return Profile{}, fmt.Errorf("ensure profile: %w", err)
	}

	var profile Profile
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, region, created_at FROM profiles WHERE user_id = $1
	`, userID).Scan(&profile.UserID, &profile.Region, &profile.CreatedAt)
	if err != nil {
		return Profile{}, fmt.Errorf("read profile: %w", err)
	}
	return profile, nil
}

// ---- statuses ----

func (s *PostgresStore) ListStatuses(ctx context.Context) ([]Status, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, sort_order, duration_days
		FROM statuses
		ORDER BY sort_order, name
	`)
	if err != nil {
		return nil, fmt.Errorf("list statuses: %w", err)
	}
	defer rows.Close()

	items := make([]Status, 0)
	for rows.Next() {
		var item Status
		if err := rows.Scan(&item.ID, &item.Name, &item.Order, &item.DurationDays); err != nil {
			return nil, fmt.Errorf("scan status: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate statuses: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetStatus(ctx context.Context, statusID string) (Status, error) {
	var item Status
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, sort_order, duration_days FROM statuses WHERE id = $1
	`, statusID).Scan(&item.ID, &item.Name, &item.Order, &item.DurationDays)
	if err != nil {
		return Status{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertStatus(ctx context.Context, item Status) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO statuses (id, name, sort_order, duration_days)
		VALUES ($1, $2, $3, $4)
	`, item.ID, item.Name, item.Order, item.DurationDays)
	if err != nil {
		return fmt.Errorf("insert status: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, item Status) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE statuses SET name=$2, sort_order=$3, duration_days=$4 WHERE id=$1
	`, item.ID, item.Name, item.Order, item.DurationDays)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	return requireRow(result)
}

// DeleteStatus removes a status definition. Company and history references
// are nullified by the schema's ON DELETE SET NULL policy.
func (s *PostgresStore) DeleteStatus(ctx context.Context, statusID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM statuses WHERE id=$1`, statusID)
	if err != nil {
		return fmt.Errorf("delete status: %w", err)
	}
	return requireRow(result)
}

// ---- companies ----

func (s *PostgresStore) ListCompanies(ctx context.Context, filter CompanyFilter) ([]Company, error) {
	query := `
		SELECT id, name, status_id, position, region, created_at, updated_at
		FROM companies
		WHERE ($1 = '' OR region = $1)
	`
	args := []any{filter.Region}
	if filter.Unassigned {
		query += ` AND status_id IS NULL`
	} else if filter.StatusID != "" {
		args = append(args, filter.StatusID)
		query += fmt.Sprintf(` AND status_id = $%d`, len(args))
	}
	query += ` ORDER BY position, created_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list companies: %w", err)
	}
	defer rows.Close()

	items := make([]Company, 0)
	for rows.Next() {
		var item Company
		if err := rows.Scan(&item.ID, &item.Name, &item.StatusID, &item.Position, &item.Region, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan company: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate companies: %w", err)
	}
	return items, nil
}

// GetCompany resolves a company within the caller's scope. region "" means
// unrestricted; otherwise an out-of-region company surfaces as
// sql.ErrNoRows, indistinguishable from a missing one.
func (s *PostgresStore) GetCompany(ctx context.Context, companyID, region string) (Company, error) {
	var item Company
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, status_id, position, region, created_at, updated_at
		FROM companies
		WHERE id = $1 AND ($2 = '' OR region = $2)
	`, companyID, region).Scan(&item.ID, &item.Name, &item.StatusID, &item.Position, &item.Region, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Company{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertCompany(ctx context.Context, item Company) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO companies (id, name, status_id, position, region)
		VALUES ($1, $2, $3, $4, $5)
	`, item.ID, item.Name, item.StatusID, item.Position, item.Region)
	if err != nil {
		return fmt.Errorf("insert company: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateCompany(ctx context.Context, item Company) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE companies
		SET name=$2, region=$3, updated_at=NOW()
		WHERE id=$1
	`, item.ID, item.Name, item.Region)
	if err != nil {
		return fmt.Errorf("update company: %w", err)
	}
	return requireRow(result)
}

// DeleteCompany removes a company; history rows and comments cascade.
func (s *PostgresStore) DeleteCompany(ctx context.Context, companyID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM companies WHERE id=$1`, companyID)
	if err != nil {
		return fmt.Errorf("delete company: %w", err)
	}
	return requireRow(result)
}

// MoveCompany sets the company's status and appends the history row in one
// transaction, so a crash never leaves a stage change without its log entry.
func (s *PostgresStore) MoveCompany(ctx context.Context, companyID string, statusID *string, historyID string, changedAt time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			UPDATE companies SET status_id=$2, updated_at=NOW() WHERE id=$1
		`, companyID, statusID); err != nil {
			return fmt.Errorf("move company: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO status_history (id, company_id, status_id, changed_at)
			VALUES ($1, $2, $3, $4)
		`, historyID, companyID, statusID, changedAt); err != nil {
			return fmt.Errorf("append history: %w", err)
		}
		return nil
	})
}

// PlaceCompany is the per-item write of a bulk reorder: status, position,
// and the history append applied atomically for one company.
func (s *PostgresStore) PlaceCompany(ctx context.Context, companyID string, statusID *string, position int, historyID string, changedAt time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			UPDATE companies SET status_id=$2, position=$3, updated_at=NOW() WHERE id=$1
		`, companyID, statusID, position); err != nil {
			return fmt.Errorf("place company: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO status_history (id, company_id, status_id, changed_at)
			VALUES ($1, $2, $3, $4)
		`, historyID, companyID, statusID, changedAt); err != nil {
			return fmt.Errorf("append history: %w", err)
		}
		return nil
	})
}

// ---- status history ----

func (s *PostgresStore) ListHistory(ctx context.Context, companyID string) ([]StatusHistory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, company_id, status_id, changed_at
		FROM status_history
		WHERE company_id = $1
		ORDER BY changed_at DESC, id DESC
	`, companyID)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	items := make([]StatusHistory, 0)
	for rows.Next() {
		var item StatusHistory
		if err := rows.Scan(&item.ID, &item.CompanyID, &item.StatusID, &item.ChangedAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return items, nil
}

// GetHistory resolves a history row through its company's region so the
// scope rule applies to log rows exactly as it does to companies.
func (s *PostgresStore) GetHistory(ctx context.Context, historyID, region string) (StatusHistory, error) {
	var item StatusHistory
	err := s.db.QueryRowContext(ctx, `
		SELECT h.id, h.company_id, h.status_id, h.changed_at
		FROM status_history h
		JOIN companies c ON c.id = h.company_id
		WHERE h.id = $1 AND ($2 = '' OR c.region = $2)
	`, historyID, region).Scan(&item.ID, &item.CompanyID, &item.StatusID, &item.ChangedAt)
	if err != nil {
		return StatusHistory{}, err
	}
	return item, nil
}

// LatestHistoryByCompany returns each visible company's most recent history
// row in a single pass. Ties on changed_at break on id so the answer is
// stable.
func (s *PostgresStore) LatestHistoryByCompany(ctx context.Context, region string) (map[string]StatusHistory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT ON (h.company_id) h.id, h.company_id, h.status_id, h.changed_at
		FROM status_history h
		JOIN companies c ON c.id = h.company_id
		WHERE ($1 = '' OR c.region = $1)
		ORDER BY h.company_id, h.changed_at DESC, h.id DESC
	`, region)
	if err != nil {
		return nil, fmt.Errorf("latest history: %w", err)
	}
	defer rows.Close()

	latest := make(map[string]StatusHistory)
	for rows.Next() {
		var item StatusHistory
		if err := rows.Scan(&item.ID, &item.CompanyID, &item.StatusID, &item.ChangedAt); err != nil {
			return nil, fmt.Errorf("scan latest history: %w", err)
		}
		latest[item.CompanyID] = item
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate latest history: %w", err)
	}
	return latest, nil
}

func (s *PostgresStore) InsertHistory(ctx context.Context, item StatusHistory) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO status_history (id, company_id, status_id, changed_at)
		VALUES ($1, $2, $3, $4)
	`, item.ID, item.CompanyID, item.StatusID, item.ChangedAt)
	if err != nil {
		return fmt.Errorf("insert history: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateHistory(ctx context.Context, item StatusHistory) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE status_history SET status_id=$2, changed_at=$3 WHERE id=$1
	`, item.ID, item.StatusID, item.ChangedAt)
	if err != nil {
		return fmt.Errorf("update history: %w", err)
	}
	return requireRow(result)
}

// DeleteHistory removes a history row unless it is currently the most
// recent one for its company, in which case ErrLatestHistoryRow is
// returned. The check and the delete share a transaction.
func (s *PostgresStore) DeleteHistory(ctx context.Context, historyID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var companyID string
		err := tx.QueryRowContext(ctx, `
			SELECT company_id FROM status_history WHERE id = $1
		`, historyID).Scan(&companyID)
		if err != nil {
			return err
		}

		var latestID string
		err = tx.QueryRowContext(ctx, `
			SELECT id FROM status_history
			WHERE company_id = $1
			ORDER BY changed_at DESC, id DESC
			LIMIT 1
		`, companyID).Scan(&latestID)
		if err != nil {
			return fmt.Errorf("find latest history: %w", err)
		}
		if latestID == historyID {
			return ErrLatestHistoryRow
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM status_history WHERE id=$1`, historyID); err != nil {
			return fmt.Errorf("delete history: %w", err)
		}
		return nil
	})
}

// ---- comments ----

func (s *PostgresStore) ListComments(ctx context.Context, companyID string) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, company_id, author_name, body, created_at
		FROM comments
		WHERE company_id = $1
		ORDER BY created_at
	`, companyID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	items := make([]Comment, 0)
	for rows.Next() {
		var item Comment
		if err := rows.Scan(&item.ID, &item.CompanyID, &item.Author, &item.Body, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertComment(ctx context.Context, item Comment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO comments (id, company_id, author_name, body)
		VALUES ($1, $2, $3, $4)
	`, item.ID, item.CompanyID, item.Author, item.Body)
	if err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}

// ---- refresh sessions (PG fallback when Redis is not configured) ----

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM refresh_sessions
		WHERE token_hash = $1 AND revoked_at IS NULL AND expires_at > NOW()
	`, tokenHash).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

// ---- helpers ----

func (s *PostgresStore) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
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

func requireRow(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
