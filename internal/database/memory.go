package database

import (
	"context"
	"fmt"
	"sort"
	"time"

	"identityrecon/internal/apperr"
	"identityrecon/internal/models"
)

// MemoryDB is a process-local Backend. One transaction runs at a time; each
// works on a private copy of the rows that replaces the shared copy only on
// commit.
type MemoryDB struct {
	sem       chan struct{}
	rows      []models.Contact
	nextID    int64
	txTimeout time.Duration
	now       func() time.Time
}

// NewMemory returns an empty in-memory store.
func NewMemory(txTimeout time.Duration) *MemoryDB {
	return &MemoryDB{
		sem:       make(chan struct{}, 1),
		nextID:    1,
		txTimeout: txTimeout,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Seed appends rows verbatim, ids included. Meant for tests that need a
// state the engine would not produce on its own, such as tombstones.
func (m *MemoryDB) Seed(rows ...models.Contact) {
	m.sem <- struct{}{}
	defer func() { <-m.sem }()
	for _, c := range rows {
		m.rows = append(m.rows, c)
		if c.ID >= m.nextID {
			m.nextID = c.ID + 1
		}
	}
	sort.Slice(m.rows, func(i, j int) bool { return m.rows[i].ID < m.rows[j].ID })
}

// Snapshot returns a copy of every stored row in id order.
func (m *MemoryDB) Snapshot() []models.Contact {
	m.sem <- struct{}{}
	defer func() { <-m.sem }()
	return cloneRows(m.rows)
}

func (m *MemoryDB) RunInTx(ctx context.Context, fn func(ctx context.Context, store Store) error) error {
	if err := ctx.Err(); err != nil {
		return apperr.Persistence("begin tx", err)
	}

	timeout := m.txTimeout
	if timeout == 0 {
		timeout = defaultTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	select {
	case m.sem <- struct{}{}:
	case <-ctx.Done():
		return apperr.Persistence("begin tx", ctx.Err())
	}
	defer func() { <-m.sem }()

	tx := &memoryTx{rows: cloneRows(m.rows), nextID: m.nextID, now: m.now}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return apperr.Persistence("commit tx", err)
	}
	m.rows = tx.rows
	m.nextID = tx.nextID
	return nil
}

func (m *MemoryDB) Get(ctx context.Context, id int64) (models.Contact, error) {
	if err := ctx.Err(); err != nil {
		return models.Contact{}, apperr.Persistence("get contact", err)
	}
	m.sem <- struct{}{}
	defer func() { <-m.sem }()
	for _, c := range m.rows {
		if c.ID == id {
			return c, nil
		}
	}
	return models.Contact{}, fmt.Errorf("get contact %d: %w", id, apperr.ErrNotFound)
}

func (m *MemoryDB) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, apperr.Persistence("count contacts", err)
	}
	m.sem <- struct{}{}
	defer func() { <-m.sem }()
	return len(m.rows), nil
}

func (m *MemoryDB) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return apperr.Persistence("ping", err)
	}
	return nil
}

func (m *MemoryDB) Close() error {
	return nil
}

// memoryTx is the Store handed to a MemoryDB transaction. Rows are replaced
// field by field and never mutated through shared pointers, so a shallow
// slice copy isolates the transaction.
type memoryTx struct {
	rows   []models.Contact
	nextID int64
	now    func() time.Time
}

func (t *memoryTx) FindMatching(ctx context.Context, email, phone *string) ([]models.Contact, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.Persistence("find matching contacts", err)
	}
	out := []models.Contact{}
	if isBlank(email) && isBlank(phone) {
		return out, nil
	}
	for _, c := range t.rows {
		if c.IsDeleted() {
			continue
		}
		emailHit := !isBlank(email) && c.Email != nil && *c.Email == *email
		phoneHit := !isBlank(phone) && c.PhoneNumber != nil && *c.PhoneNumber == *phone
		if emailHit || phoneHit {
			out = append(out, c)
		}
	}
	return out, nil
}

func (t *memoryTx) FindGroup(ctx context.Context, primaryID int64) ([]models.Contact, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.Persistence("find contact group", err)
	}
	out := []models.Contact{}
	for _, c := range t.rows {
		if c.IsDeleted() {
			continue
		}
		if c.ID == primaryID || (c.LinkedID != nil && *c.LinkedID == primaryID) {
			out = append(out, c)
		}
	}
	if len(out) == 0 || out[0].ID != primaryID {
		return nil, fmt.Errorf("find contact group %d: %w", primaryID, apperr.ErrNotFound)
	}
	return out, nil
}

func (t *memoryTx) Insert(ctx context.Context, c models.NewContact) (models.Contact, error) {
	if err := ctx.Err(); err != nil {
		return models.Contact{}, apperr.Persistence("insert contact", err)
	}
	if err := validateNew(c); err != nil {
		return models.Contact{}, err
	}
	if c.LinkedID != nil && t.index(*c.LinkedID) < 0 {
		return models.Contact{}, fmt.Errorf("insert contact: linked id %d does not exist: %w", *c.LinkedID, apperr.ErrConstraint)
	}

	now := t.now()
	row := models.Contact{
		ID:             t.nextID,
		Email:          blankToNil(c.Email),
		PhoneNumber:    blankToNil(c.PhoneNumber),
		LinkedID:       copyInt64(c.LinkedID),
		LinkPrecedence: c.LinkPrecedence,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	t.nextID++
	t.rows = append(t.rows, row)
	return row, nil
}

func (t *memoryTx) Demote(ctx context.Context, contactID, newPrimaryID int64) error {
	if err := ctx.Err(); err != nil {
		return apperr.Persistence("demote contact", err)
	}
	i := t.index(contactID)
	if i < 0 {
		return fmt.Errorf("demote contact %d: %w", contactID, apperr.ErrNotFound)
	}
	if t.index(newPrimaryID) < 0 {
		return fmt.Errorf("demote contact %d: linked id %d does not exist: %w", contactID, newPrimaryID, apperr.ErrConstraint)
	}
	t.rows[i].LinkPrecedence = models.PrecedenceSecondary
	t.rows[i].LinkedID = models.Int64Ptr(newPrimaryID)
	t.rows[i].UpdatedAt = t.now()
	return nil
}

func (t *memoryTx) Retarget(ctx context.Context, contactID, newPrimaryID int64) error {
	if err := ctx.Err(); err != nil {
		return apperr.Persistence("retarget contact", err)
	}
	i := t.index(contactID)
	if i < 0 || t.rows[i].IsPrimary() {
		return fmt.Errorf("retarget contact %d: %w", contactID, apperr.ErrNotFound)
	}
	if t.index(newPrimaryID) < 0 {
		return fmt.Errorf("retarget contact %d: linked id %d does not exist: %w", contactID, newPrimaryID, apperr.ErrConstraint)
	}
	t.rows[i].LinkedID = models.Int64Ptr(newPrimaryID)
	t.rows[i].UpdatedAt = t.now()
	return nil
}

func (t *memoryTx) index(id int64) int {
	i := sort.Search(len(t.rows), func(i int) bool { return t.rows[i].ID >= id })
	if i < len(t.rows) && t.rows[i].ID == id {
		return i
	}
	return -1
}

func cloneRows(rows []models.Contact) []models.Contact {
	out := make([]models.Contact, len(rows))
	copy(out, rows)
	return out
}

func copyInt64(v *int64) *int64 {
	if v == nil {
		return nil
	}
	return models.Int64Ptr(*v)
}

var (
	_ Backend = (*MemoryDB)(nil)
	_ Backend = (*DB)(nil)
	_ Store   = (*memoryTx)(nil)
)
