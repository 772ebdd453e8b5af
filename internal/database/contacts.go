package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"identityrecon/internal/apperr"
	"identityrecon/internal/models"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// contactStore implements Store over a *sql.Tx (or *sql.DB for plain reads).
type contactStore struct {
	q       querier
	dialect dialect
}

const contactColumns = `id, phone_number, email, linked_id, link_precedence, created_at, updated_at, deleted_at`

func (s *contactStore) FindMatching(ctx context.Context, email, phone *string) ([]models.Contact, error) {
	var (
		conds []string
		args  []any
	)
	if email != nil && *email != "" {
		conds = append(conds, "email = ?")
		args = append(args, *email)
	}
	if phone != nil && *phone != "" {
		conds = append(conds, "phone_number = ?")
		args = append(args, *phone)
	}
	if len(conds) == 0 {
		return []models.Contact{}, nil
	}

	query := `SELECT ` + contactColumns + ` FROM contacts
			  WHERE (` + strings.Join(conds, " OR ") + `) AND deleted_at IS NULL
			  ORDER BY id ASC`
	contacts, err := s.queryContacts(ctx, query, args...)
	if err != nil {
		return nil, classify("find matching contacts", err)
	}
	return contacts, nil
}

func (s *contactStore) FindGroup(ctx context.Context, primaryID int64) ([]models.Contact, error) {
	query := `SELECT ` + contactColumns + ` FROM contacts
			  WHERE (id = ? OR linked_id = ?) AND deleted_at IS NULL
			  ORDER BY id ASC`
	contacts, err := s.queryContacts(ctx, query, primaryID, primaryID)
	if err != nil {
		return nil, classify("find contact group", err)
	}
	if len(contacts) == 0 || contacts[0].ID != primaryID {
		return nil, fmt.Errorf("find contact group %d: %w", primaryID, apperr.ErrNotFound)
	}
	return contacts, nil
}

func (s *contactStore) Insert(ctx context.Context, c models.NewContact) (models.Contact, error) {
	if err := validateNew(c); err != nil {
		return models.Contact{}, err
	}

	email, phone := blankToNil(c.Email), blankToNil(c.PhoneNumber)
	now := time.Now().UTC()
	query := `INSERT INTO contacts (phone_number, email, linked_id, link_precedence, created_at, updated_at)
			  VALUES (?, ?, ?, ?, ?, ?) RETURNING id`

	var id int64
	err := s.q.QueryRowContext(ctx, s.dialect.rebind(query),
		nullString(phone), nullString(email), nullInt64(c.LinkedID),
		string(c.LinkPrecedence), now, now,
	).Scan(&id)
	if err != nil {
		return models.Contact{}, classify("insert contact", err)
	}

	return models.Contact{
		ID:             id,
		PhoneNumber:    phone,
		Email:          email,
		LinkedID:       c.LinkedID,
		LinkPrecedence: c.LinkPrecedence,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

func (s *contactStore) Demote(ctx context.Context, contactID, newPrimaryID int64) error {
	query := `UPDATE contacts SET link_precedence = ?, linked_id = ?, updated_at = ? WHERE id = ?`
	res, err := s.q.ExecContext(ctx, s.dialect.rebind(query),
		string(models.PrecedenceSecondary), newPrimaryID, time.Now().UTC(), contactID)
	if err != nil {
		return classify("demote contact", err)
	}
	return expectOneRow(res, "demote contact", contactID)
}

func (s *contactStore) Retarget(ctx context.Context, contactID, newPrimaryID int64) error {
	query := `UPDATE contacts SET linked_id = ?, updated_at = ? WHERE id = ? AND link_precedence = ?`
	res, err := s.q.ExecContext(ctx, s.dialect.rebind(query),
		newPrimaryID, time.Now().UTC(), contactID, string(models.PrecedenceSecondary))
	if err != nil {
		return classify("retarget contact", err)
	}
	return expectOneRow(res, "retarget contact", contactID)
}

func (s *contactStore) get(ctx context.Context, id int64) (models.Contact, error) {
	query := `SELECT ` + contactColumns + ` FROM contacts WHERE id = ?`
	contacts, err := s.queryContacts(ctx, query, id)
	if err != nil {
		return models.Contact{}, classify("get contact", err)
	}
	if len(contacts) == 0 {
		return models.Contact{}, fmt.Errorf("get contact %d: %w", id, apperr.ErrNotFound)
	}
	return contacts[0], nil
}

// queryContacts executes a query and returns contacts
func (s *contactStore) queryContacts(ctx context.Context, query string, args ...any) ([]models.Contact, error) {
	rows, err := s.q.QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	contacts := []models.Contact{}
	for rows.Next() {
		var (
			c          models.Contact
			phone      sql.NullString
			email      sql.NullString
			linkedID   sql.NullInt64
			precedence string
			deletedAt  sql.NullTime
		)
		if err := rows.Scan(&c.ID, &phone, &email, &linkedID, &precedence, &c.CreatedAt, &c.UpdatedAt, &deletedAt); err != nil {
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
			t := deletedAt.Time.UTC()
			c.DeletedAt = &t
		}
		c.CreatedAt = c.CreatedAt.UTC()
		c.UpdatedAt = c.UpdatedAt.UTC()

		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

// validateNew rejects rows the schema would refuse, before touching the
// database.
func validateNew(c models.NewContact) error {
	if isBlank(c.Email) && isBlank(c.PhoneNumber) {
		return fmt.Errorf("insert contact: email or phone number required: %w", apperr.ErrConstraint)
	}
	if !c.LinkPrecedence.Valid() {
		return fmt.Errorf("insert contact: unknown precedence %q: %w", c.LinkPrecedence, apperr.ErrConstraint)
	}
	if c.LinkPrecedence == models.PrecedencePrimary && c.LinkedID != nil {
		return fmt.Errorf("insert contact: primary cannot be linked: %w", apperr.ErrConstraint)
	}
	if c.LinkPrecedence == models.PrecedenceSecondary && c.LinkedID == nil {
		return fmt.Errorf("insert contact: secondary requires linked id: %w", apperr.ErrConstraint)
	}
	return nil
}

func expectOneRow(res sql.Result, op string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return classify(op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", op, id, apperr.ErrNotFound)
	}
	return nil
}

func isBlank(s *string) bool {
	return s == nil || *s == ""
}

func blankToNil(s *string) *string {
	if isBlank(s) {
		return nil
	}
	v := *s
	return &v
}

func nullString(s *string) sql.NullString {
	if isBlank(s) {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

var _ Store = (*contactStore)(nil)
