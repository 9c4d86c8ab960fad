package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"identityrecon/internal/models"
	"identityrecon/internal/storage"
)

const contactColumns = `id, phone_number, email, linked_id, link_precedence, created_at, updated_at, deleted_at`

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ContactStore persists contacts in SQLite or PostgreSQL.
// This store is pure I/O: precedence decisions belong to the resolver.
type ContactStore struct {
	db  *DB
	q   querier
	now func() time.Time
}

// NewContactStore constructs a SQL-backed contact store.
func NewContactStore(db *DB) *ContactStore {
	return &ContactStore{
		db:  db,
		q:   db.Conn,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (s *ContactStore) FindByEmailOrPhone(ctx context.Context, email, phone *string) ([]*models.Contact, error) {
	var conditions []string
	var args []any
	if email != nil {
		conditions = append(conditions, "email = ?")
		args = append(args, *email)
	}
	if phone != nil {
		conditions = append(conditions, "phone_number = ?")
		args = append(args, *phone)
	}
	if len(conditions) == 0 {
		return nil, nil
	}

	query := `SELECT ` + contactColumns + ` FROM contacts
		WHERE (` + strings.Join(conditions, " OR ") + `) AND deleted_at IS NULL
		ORDER BY created_at ASC, id ASC`
	contacts, err := s.queryContacts(ctx, query, args...)
	if err != nil {
		return nil, mapError("find by email or phone", err)
	}
	return contacts, nil
}

func (s *ContactStore) Create(ctx context.Context, c models.NewContact) (int64, error) {
	if !c.LinkPrecedence.Valid() {
		return 0, fmt.Errorf("create contact: invalid link precedence %q", c.LinkPrecedence)
	}
	query := `INSERT INTO contacts (phone_number, email, linked_id, link_precedence, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?) RETURNING id`

	now := s.now()
	var id int64
	err := s.q.QueryRowContext(ctx, s.rebind(query),
		c.PhoneNumber, c.Email, c.LinkedID, string(c.LinkPrecedence), now, now,
	).Scan(&id)
	if err != nil {
		return 0, mapError("create contact", err)
	}
	return id, nil
}

func (s *ContactStore) FindLinkedContacts(ctx context.Context, ids []int64) ([]*models.Contact, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var query string
	var args []any
	if s.db.Dialect == DialectPostgres {
		query = `SELECT ` + contactColumns + ` FROM contacts
			WHERE (id = ANY(?) OR linked_id = ANY(?)) AND deleted_at IS NULL
			ORDER BY created_at ASC, id ASC`
		args = []any{pq.Array(ids), pq.Array(ids)}
	} else {
		in := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
		query = `SELECT ` + contactColumns + ` FROM contacts
			WHERE (id IN (` + in + `) OR linked_id IN (` + in + `)) AND deleted_at IS NULL
			ORDER BY created_at ASC, id ASC`
		args = make([]any, 0, 2*len(ids))
		for n := 0; n < 2; n++ {
			for _, id := range ids {
				args = append(args, id)
			}
		}
	}

	contacts, err := s.queryContacts(ctx, query, args...)
	if err != nil {
		return nil, mapError("find linked contacts", err)
	}
	return contacts, nil
}

func (s *ContactStore) UpdateToSecondary(ctx context.Context, id, primaryID int64) error {
	query := `UPDATE contacts SET link_precedence = 'secondary', linked_id = ?, updated_at = ? WHERE id = ?`
	if _, err := s.q.ExecContext(ctx, s.rebind(query), primaryID, s.now(), id); err != nil {
		return mapError("update to secondary", err)
	}
	return nil
}

func (s *ContactStore) UpdateLinkedContacts(ctx context.Context, oldPrimaryID, newPrimaryID int64) error {
	query := `UPDATE contacts SET linked_id = ?, updated_at = ? WHERE linked_id = ?`
	if _, err := s.q.ExecContext(ctx, s.rebind(query), newPrimaryID, s.now(), oldPrimaryID); err != nil {
		return mapError("update linked contacts", err)
	}
	return nil
}

func (s *ContactStore) UpdateToPrimary(ctx context.Context, id int64) error {
	query := `UPDATE contacts SET link_precedence = 'primary', linked_id = NULL, updated_at = ? WHERE id = ?`
	if _, err := s.q.ExecContext(ctx, s.rebind(query), s.now(), id); err != nil {
		return mapError("update to primary", err)
	}
	return nil
}

// RunInTx runs fn inside a database transaction. PostgreSQL transactions are SERIALIZABLE;
// SQLite transactions take the write lock at BEGIN (see sqliteParams).
func (s *ContactStore) RunInTx(ctx context.Context, fn func(tx storage.ContactStore) error) error {
	var opts *sql.TxOptions
	if s.db.Dialect == DialectPostgres {
		opts = &sql.TxOptions{Isolation: sql.LevelSerializable}
	}

	tx, err := s.db.Conn.BeginTx(ctx, opts)
	if err != nil {
		return mapError("begin transaction", err)
	}

	scoped := &ContactStore{db: s.db, q: tx, now: s.now}
	if err := fn(scoped); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return mapError("commit transaction", err)
	}
	return nil
}

func (s *ContactStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *ContactStore) Close() error {
	return s.db.Close()
}

// queryContacts executes a query and returns contacts
func (s *ContactStore) queryContacts(ctx context.Context, query string, args ...any) ([]*models.Contact, error) {
	rows, err := s.q.QueryContext(ctx, s.rebind(query), args...)
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
		c.CreatedAt = c.CreatedAt.UTC()
		c.UpdatedAt = c.UpdatedAt.UTC()

		contacts = append(contacts, c)
	}

	return contacts, rows.Err()
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *ContactStore) rebind(query string) string {
	if s.db.Dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// mapError wraps driver errors, translating serialization failures and lock
// contention into storage.ErrConflict.
func mapError(op string, err error) error {
	if isConflict(err) {
		return fmt.Errorf("%s: %w: %v", op, storage.ErrConflict, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isConflict(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// serialization_failure, deadlock_detected
		return pqErr.Code == "40001" || pqErr.Code == "40P01"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrBusy || liteErr.Code == sqlite3.ErrLocked
	}
	return false
}
