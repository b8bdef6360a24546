package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"identityrecon/internal/models"
)

const contactColumns = `id, phone_number, email, linked_id, link_precedence, created_at, updated_at, deleted_at`

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLStore persists contacts in SQLite or PostgreSQL. Queries use $n
// placeholders, which both drivers accept.
type SQLStore struct {
	db       *sql.DB
	q        querier
	now      func() time.Time
	rowLocks bool
}

// maxTxAttempts bounds how often RunInTx replays fn after PostgreSQL aborts
// the transaction for a serialization failure or deadlock.
const maxTxAttempts = 3

// NewSQL constructs a SQL-backed contact store over an open connection pool.
func NewSQL(db *sql.DB, opts ...Option) *SQLStore {
	o := newOptions(opts)
	return &SQLStore{db: db, q: db, now: o.now, rowLocks: o.rowLocks}
}

// RunInTx executes fn against a store bound to one database transaction.
// Calls made on a store that is already transactional run in place. A
// transaction aborted with ErrRetryable is rolled back and fn runs again.
func (s *SQLStore) RunInTx(ctx context.Context, fn func(store Store) error) error {
	if _, inTx := s.q.(*sql.Tx); inTx {
		return fn(s)
	}
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = s.runInTx(ctx, fn)
		if !errors.Is(err, ErrRetryable) || ctx.Err() != nil {
			return err
		}
	}
	return err
}

func (s *SQLStore) runInTx(ctx context.Context, fn func(store Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(&SQLStore{db: s.db, q: tx, now: s.now, rowLocks: s.rowLocks}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return classify("commit transaction", err)
	}
	return nil
}

func (s *SQLStore) FindByValue(ctx context.Context, email, phone *string) ([]*models.Contact, error) {
	var conditions []string
	var args []any
	if present(email) {
		args = append(args, *email)
		conditions = append(conditions, fmt.Sprintf("email = $%d", len(args)))
	}
	if present(phone) {
		args = append(args, *phone)
		conditions = append(conditions, fmt.Sprintf("phone_number = $%d", len(args)))
	}
	if len(conditions) == 0 {
		return nil, nil
	}
	query := `SELECT ` + contactColumns + `
			  FROM contacts
			  WHERE (` + strings.Join(conditions, " OR ") + `) AND deleted_at IS NULL
			  ORDER BY created_at ASC, id ASC`
	contacts, err := s.queryContacts(ctx, query, args...)
	if err != nil {
		return nil, classify("find contacts by value", err)
	}
	return contacts, nil
}

func (s *SQLStore) GetByID(ctx context.Context, id int64) (*models.Contact, error) {
	query := `SELECT ` + contactColumns + `
			  FROM contacts WHERE id = $1 AND deleted_at IS NULL`
	contacts, err := s.queryContacts(ctx, query, id)
	if err != nil {
		return nil, classify("get contact", err)
	}
	if len(contacts) == 0 {
		return nil, ErrNotFound
	}
	return contacts[0], nil
}

func (s *SQLStore) GetCluster(ctx context.Context, primaryID int64) ([]*models.Contact, error) {
	query := `SELECT ` + contactColumns + `
			  FROM contacts
			  WHERE (id = $1 OR linked_id = $2) AND deleted_at IS NULL
			  ORDER BY created_at ASC, id ASC`
	contacts, err := s.queryContacts(ctx, query, primaryID, primaryID)
	if err != nil {
		return nil, classify("get cluster", err)
	}
	return contacts, nil
}

// LockContacts re-reads the live rows among ids. With row locks enabled the
// rows stay locked until the surrounding transaction ends; callers lock every
// primary they are about to touch in one call so acquisition order is by id.
func (s *SQLStore) LockContacts(ctx context.Context, ids []int64) ([]*models.Contact, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
	}
	contacts, err := s.queryContacts(ctx, lockContactsQuery(len(ids), s.rowLocks), args...)
	if err != nil {
		return nil, classify("lock contacts", err)
	}
	return contacts, nil
}

func lockContactsQuery(n int, forUpdate bool) string {
	placeholders := make([]string, n)
	for i := range placeholders {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	query := `SELECT ` + contactColumns + `
			  FROM contacts
			  WHERE id IN (` + strings.Join(placeholders, ", ") + `) AND deleted_at IS NULL
			  ORDER BY id ASC`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	return query
}

func (s *SQLStore) Insert(ctx context.Context, email, phone *string, linkedID *int64, precedence models.LinkPrecedence) (*models.Contact, error) {
	if !precedence.Valid() {
		return nil, fmt.Errorf("insert contact: invalid link precedence %q", precedence)
	}
	query := `INSERT INTO contacts (phone_number, email, linked_id, link_precedence, created_at, updated_at)
			  VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`

	now := s.now()
	var id int64
	err := s.q.QueryRowContext(ctx, query, phone, email, linkedID, string(precedence), now, now).Scan(&id)
	if err != nil {
		return nil, classify("insert contact", err)
	}

	return &models.Contact{
		ID:             id,
		PhoneNumber:    phone,
		Email:          email,
		LinkedID:       linkedID,
		LinkPrecedence: precedence,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

func (s *SQLStore) Demote(ctx context.Context, oldPrimaryID, newPrimaryID int64) error {
	if _, inTx := s.q.(*sql.Tx); !inTx {
		return s.RunInTx(ctx, func(tx Store) error {
			return tx.Demote(ctx, oldPrimaryID, newPrimaryID)
		})
	}

	now := s.now()
	res, err := s.q.ExecContext(ctx,
		`UPDATE contacts SET link_precedence = $1, linked_id = $2, updated_at = $3 WHERE id = $4`,
		string(models.LinkSecondary), newPrimaryID, now, oldPrimaryID)
	if err != nil {
		return classify("demote contact", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return classify("demote contact", err)
	}
	if affected == 0 {
		return fmt.Errorf("demote contact %d: %w", oldPrimaryID, ErrNotFound)
	}

	_, err = s.q.ExecContext(ctx,
		`UPDATE contacts SET linked_id = $1, updated_at = $2 WHERE linked_id = $3 AND id != $4`,
		newPrimaryID, now, oldPrimaryID, oldPrimaryID)
	if err != nil {
		return classify("relink secondaries", err)
	}
	return nil
}

// queryContacts executes a query and returns contacts
func (s *SQLStore) queryContacts(ctx context.Context, query string, args ...any) ([]*models.Contact, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contacts []*models.Contact
	for rows.Next() {
		c := &models.Contact{}
		var phone, email sql.NullString
		var linkedID sql.NullInt64
		var precedence string
		var deletedAt sql.NullTime

		err := rows.Scan(&c.ID, &phone, &email, &linkedID, &precedence, &c.CreatedAt, &c.UpdatedAt, &deletedAt)
		if err != nil {
			return nil, err
		}

		c.LinkPrecedence = models.LinkPrecedence(precedence)
		if phone.Valid {
			c.PhoneNumber = &phone.String
		}
		if email.Valid {
			c.Email = &email.String
		}
		if linkedID.Valid {
			c.LinkedID = &linkedID.Int64
		}
		if deletedAt.Valid {
			c.DeletedAt = &deletedAt.Time
		}

		contacts = append(contacts, c)
	}

	return contacts, rows.Err()
}
