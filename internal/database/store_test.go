package database

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/suite"

	"identityrecon/internal/apperr"
	"identityrecon/internal/models"
)

// StoreSuite runs the Store contract against one Backend implementation.
type StoreSuite struct {
	suite.Suite
	open      func(t *testing.T) Backend
	tombstone func(t *testing.T, b Backend, id int64)
	backend   Backend
}

func TestSQLiteStoreSuite(t *testing.T) {
	suite.Run(t, &StoreSuite{
		open: func(t *testing.T) Backend {
			return openSQLite(t)
		},
		tombstone: func(t *testing.T, b Backend, id int64) {
			db := b.(*DB)
			_, err := db.Conn.Exec(`UPDATE contacts SET deleted_at = ? WHERE id = ?`, time.Now().UTC(), id)
			if err != nil {
				t.Fatalf("tombstone %d: %v", id, err)
			}
		},
	})
}

func TestMemoryStoreSuite(t *testing.T) {
	suite.Run(t, &StoreSuite{
		open: func(t *testing.T) Backend {
			return NewMemory(time.Second)
		},
		tombstone: func(t *testing.T, b Backend, id int64) {
			m := b.(*MemoryDB)
			for i := range m.rows {
				if m.rows[i].ID == id {
					now := time.Now().UTC()
					m.rows[i].DeletedAt = &now
					return
				}
			}
			t.Fatalf("tombstone %d: no such row", id)
		},
	})
}

func openSQLite(t *testing.T) *DB {
	t.Helper()
	db, err := New(context.Background(), Options{
		Driver:      "sqlite3",
		URL:         filepath.Join(t.TempDir(), "contacts.db"),
		BusyTimeout: 5 * time.Second,
		TxTimeout:   5 * time.Second,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func (s *StoreSuite) SetupTest() {
	s.backend = s.open(s.T())
}

func (s *StoreSuite) insert(email, phone string, linkedID *int64) models.Contact {
	precedence := models.PrecedencePrimary
	if linkedID != nil {
		precedence = models.PrecedenceSecondary
	}
	var out models.Contact
	err := s.backend.RunInTx(context.Background(), func(ctx context.Context, store Store) error {
		var err error
		out, err = store.Insert(ctx, models.NewContact{
			Email:          models.StringPtr(email),
			PhoneNumber:    models.StringPtr(phone),
			LinkPrecedence: precedence,
			LinkedID:       linkedID,
		})
		return err
	})
	s.Require().NoError(err)
	return out
}

func (s *StoreSuite) inTx(fn func(ctx context.Context, store Store) error) error {
	return s.backend.RunInTx(context.Background(), fn)
}

func ids(contacts []models.Contact) []int64 {
	out := make([]int64, 0, len(contacts))
	for _, c := range contacts {
		out = append(out, c.ID)
	}
	return out
}

func (s *StoreSuite) TestInsertAssignsIDsAndTimestamps() {
	first := s.insert("lorraine@hillvalley.edu", "123456", nil)
	second := s.insert("mcfly@hillvalley.edu", "", nil)

	s.Greater(second.ID, first.ID)
	s.Equal(models.PrecedencePrimary, first.LinkPrecedence)
	s.Nil(first.LinkedID)
	s.Nil(first.DeletedAt)
	s.False(first.CreatedAt.IsZero())
	s.Equal(first.CreatedAt, first.UpdatedAt)
	s.Nil(second.PhoneNumber)

	stored, err := s.backend.Get(context.Background(), first.ID)
	s.Require().NoError(err)
	s.Equal("lorraine@hillvalley.edu", stored.EmailValue())
	s.Equal("123456", stored.PhoneValue())
	s.True(stored.IsPrimary())
}

func (s *StoreSuite) TestInsertRejectsRowWithoutFacts() {
	err := s.inTx(func(ctx context.Context, store Store) error {
		_, err := store.Insert(ctx, models.NewContact{LinkPrecedence: models.PrecedencePrimary})
		return err
	})
	s.ErrorIs(err, apperr.ErrConstraint)

	err = s.inTx(func(ctx context.Context, store Store) error {
		_, err := store.Insert(ctx, models.NewContact{
			Email:          models.StringPtr(""),
			PhoneNumber:    models.StringPtr(""),
			LinkPrecedence: models.PrecedencePrimary,
		})
		return err
	})
	s.ErrorIs(err, apperr.ErrConstraint)

	n, err := s.backend.Count(context.Background())
	s.Require().NoError(err)
	s.Zero(n)
}

func (s *StoreSuite) TestInsertRejectsMalformedLinks() {
	err := s.inTx(func(ctx context.Context, store Store) error {
		_, err := store.Insert(ctx, models.NewContact{
			Email:          models.StringPtr("a@x.com"),
			LinkPrecedence: models.PrecedenceSecondary,
		})
		return err
	})
	s.ErrorIs(err, apperr.ErrConstraint)

	err = s.inTx(func(ctx context.Context, store Store) error {
		_, err := store.Insert(ctx, models.NewContact{
			Email:          models.StringPtr("a@x.com"),
			LinkPrecedence: models.PrecedencePrimary,
			LinkedID:       models.Int64Ptr(1),
		})
		return err
	})
	s.ErrorIs(err, apperr.ErrConstraint)
}

func (s *StoreSuite) TestFindMatchingByEmailOrPhone() {
	a := s.insert("a@x.com", "111", nil)
	b := s.insert("b@x.com", "222", nil)
	c := s.insert("c@x.com", "111", models.Int64Ptr(a.ID))
	s.insert("d@x.com", "444", nil)

	var got []models.Contact
	err := s.inTx(func(ctx context.Context, store Store) error {
		var err error
		got, err = store.FindMatching(ctx, models.StringPtr("b@x.com"), models.StringPtr("111"))
		return err
	})
	s.Require().NoError(err)
	s.Equal([]int64{a.ID, b.ID, c.ID}, ids(got))

	err = s.inTx(func(ctx context.Context, store Store) error {
		var err error
		got, err = store.FindMatching(ctx, nil, models.StringPtr("222"))
		return err
	})
	s.Require().NoError(err)
	s.Equal([]int64{b.ID}, ids(got))
}

func (s *StoreSuite) TestFindMatchingWithoutInputsIsEmpty() {
	s.insert("a@x.com", "111", nil)

	err := s.inTx(func(ctx context.Context, store Store) error {
		got, err := store.FindMatching(ctx, nil, models.StringPtr(""))
		s.Empty(got)
		s.NotNil(got)
		return err
	})
	s.Require().NoError(err)
}

func (s *StoreSuite) TestTombstonedRowsAreInvisible() {
	a := s.insert("a@x.com", "111", nil)
	b := s.insert("b@x.com", "111", models.Int64Ptr(a.ID))
	s.tombstone(s.T(), s.backend, b.ID)

	err := s.inTx(func(ctx context.Context, store Store) error {
		matches, err := store.FindMatching(ctx, models.StringPtr("b@x.com"), nil)
		s.Require().NoError(err)
		s.Empty(matches)

		group, err := store.FindGroup(ctx, a.ID)
		s.Require().NoError(err)
		s.Equal([]int64{a.ID}, ids(group))
		return nil
	})
	s.Require().NoError(err)

	stored, err := s.backend.Get(context.Background(), b.ID)
	s.Require().NoError(err)
	s.True(stored.IsDeleted())
}

func (s *StoreSuite) TestFindGroupReturnsPrimaryFirst() {
	p := s.insert("p@x.com", "", nil)
	other := s.insert("o@x.com", "", nil)
	s1 := s.insert("", "100", models.Int64Ptr(p.ID))
	s2 := s.insert("s2@x.com", "", models.Int64Ptr(p.ID))
	s.insert("", "200", models.Int64Ptr(other.ID))

	err := s.inTx(func(ctx context.Context, store Store) error {
		group, err := store.FindGroup(ctx, p.ID)
		s.Require().NoError(err)
		s.Equal([]int64{p.ID, s1.ID, s2.ID}, ids(group))
		s.True(group[0].IsPrimary())
		return nil
	})
	s.Require().NoError(err)
}

func (s *StoreSuite) TestFindGroupMissingPrimary() {
	err := s.inTx(func(ctx context.Context, store Store) error {
		_, err := store.FindGroup(ctx, 999)
		return err
	})
	s.ErrorIs(err, apperr.ErrNotFound)
}

func (s *StoreSuite) TestDemoteAndRetarget() {
	p1 := s.insert("a@x.com", "", nil)
	p2 := s.insert("", "2", nil)
	child := s.insert("c@x.com", "2", models.Int64Ptr(p2.ID))

	err := s.inTx(func(ctx context.Context, store Store) error {
		if err := store.Demote(ctx, p2.ID, p1.ID); err != nil {
			return err
		}
		return store.Retarget(ctx, child.ID, p1.ID)
	})
	s.Require().NoError(err)

	demoted, err := s.backend.Get(context.Background(), p2.ID)
	s.Require().NoError(err)
	s.Equal(models.PrecedenceSecondary, demoted.LinkPrecedence)
	s.Require().NotNil(demoted.LinkedID)
	s.Equal(p1.ID, *demoted.LinkedID)
	s.False(demoted.UpdatedAt.Before(demoted.CreatedAt))

	retargeted, err := s.backend.Get(context.Background(), child.ID)
	s.Require().NoError(err)
	s.Require().NotNil(retargeted.LinkedID)
	s.Equal(p1.ID, *retargeted.LinkedID)
}

func (s *StoreSuite) TestDemoteMissingRow() {
	p := s.insert("a@x.com", "", nil)
	err := s.inTx(func(ctx context.Context, store Store) error {
		return store.Demote(ctx, 999, p.ID)
	})
	s.ErrorIs(err, apperr.ErrNotFound)
}

func (s *StoreSuite) TestRetargetRequiresSecondary() {
	p1 := s.insert("a@x.com", "", nil)
	p2 := s.insert("b@x.com", "", nil)

	err := s.inTx(func(ctx context.Context, store Store) error {
		return store.Retarget(ctx, p2.ID, p1.ID)
	})
	s.ErrorIs(err, apperr.ErrNotFound)

	err = s.inTx(func(ctx context.Context, store Store) error {
		return store.Retarget(ctx, 999, p1.ID)
	})
	s.ErrorIs(err, apperr.ErrNotFound)
}

func (s *StoreSuite) TestRunInTxRollsBackOnError() {
	p := s.insert("a@x.com", "1", nil)
	before, err := s.backend.Count(context.Background())
	s.Require().NoError(err)

	boom := apperr.Persistence("simulated", context.DeadlineExceeded)
	err = s.inTx(func(ctx context.Context, store Store) error {
		if _, err := store.Insert(ctx, models.NewContact{
			Email:          models.StringPtr("b@x.com"),
			LinkPrecedence: models.PrecedenceSecondary,
			LinkedID:       models.Int64Ptr(p.ID),
		}); err != nil {
			return err
		}
		if err := store.Demote(ctx, p.ID, p.ID); err != nil {
			return err
		}
		return boom
	})
	s.ErrorIs(err, apperr.ErrPersistence)

	after, err := s.backend.Count(context.Background())
	s.Require().NoError(err)
	s.Equal(before, after)

	stored, err := s.backend.Get(context.Background(), p.ID)
	s.Require().NoError(err)
	s.True(stored.IsPrimary())
}

func (s *StoreSuite) TestRunInTxRejectsCancelledContext() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := s.backend.RunInTx(ctx, func(context.Context, Store) error {
		called = true
		return nil
	})
	s.ErrorIs(err, apperr.ErrPersistence)
	s.False(called)
}

func (s *StoreSuite) TestRunInTxPassesDeadlineToFn() {
	err := s.backend.RunInTx(context.Background(), func(ctx context.Context, _ Store) error {
		_, ok := ctx.Deadline()
		s.True(ok, "transaction context has no deadline")
		return nil
	})
	s.NoError(err)
}

// TestConcurrentInsertIfAbsent checks that read-then-write transactions on
// the same email serialize: exactly one of them sees no match.
func (s *StoreSuite) TestConcurrentInsertIfAbsent() {
	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.backend.RunInTx(context.Background(), func(ctx context.Context, store Store) error {
				matches, err := store.FindMatching(ctx, models.StringPtr("race@x.com"), nil)
				if err != nil || len(matches) > 0 {
					return err
				}
				_, err = store.Insert(ctx, models.NewContact{
					Email:          models.StringPtr("race@x.com"),
					LinkPrecedence: models.PrecedencePrimary,
				})
				return err
			})
		}()
	}
	wg.Wait()
	close(errs)

	// Postgres may abort losers with a serialization failure instead of
	// making them wait; that is the retryable outcome callers expect.
	for err := range errs {
		if err != nil {
			s.True(apperr.Retryable(err), "unexpected error: %v", err)
		}
	}
	n, err := s.backend.Count(context.Background())
	s.Require().NoError(err)
	s.Equal(1, n)
}

func (s *StoreSuite) TestPing() {
	s.NoError(s.backend.Ping(context.Background()))
}

func TestMemoryTxStoreCallsSeeTimeout(t *testing.T) {
	mem := NewMemory(20 * time.Millisecond)

	var findErr error
	err := mem.RunInTx(context.Background(), func(ctx context.Context, store Store) error {
		<-ctx.Done()
		_, findErr = store.FindMatching(ctx, models.StringPtr("a@x.com"), nil)
		return findErr
	})

	if !errors.Is(findErr, apperr.ErrPersistence) {
		t.Fatalf("FindMatching after timeout = %v, want persistence error", findErr)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("RunInTx = %v, want deadline exceeded", err)
	}
}
