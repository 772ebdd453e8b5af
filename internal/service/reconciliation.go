package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"identityrecon/internal/apperr"
	"identityrecon/internal/database"
	"identityrecon/internal/metrics"
	"identityrecon/internal/models"
)

// Outcome describes what an identify call did to the store.
type Outcome string

const (
	OutcomeCreated   Outcome = "created"
	OutcomeAttached  Outcome = "attached"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeMerged    Outcome = "merged"
)

// Result is the consolidated view of the resolved identity plus what
// happened to get there.
type Result struct {
	View    models.ContactResponse
	Outcome Outcome
	// Demoted lists former primaries absorbed by a merge, ascending.
	Demoted []int64
}

// ReconciliationService handles identity reconciliation logic. It keeps no
// per-call state and is safe for concurrent use.
type ReconciliationService struct {
	tx      database.Transactor
	log     zerolog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

// NewReconciliationService creates a new reconciliation service
func NewReconciliationService(tx database.Transactor, log zerolog.Logger, m *metrics.Metrics) *ReconciliationService {
	return &ReconciliationService{
		tx:      tx,
		log:     log.With().Str("component", "reconciliation").Logger(),
		metrics: m,
		tracer:  otel.Tracer("identityrecon/internal/service"),
	}
}

// Identify links the request's email and phone number to an identity group,
// creating, extending or merging groups as needed, and returns the group's
// consolidated view. All reads and writes happen in one transaction.
func (s *ReconciliationService) Identify(ctx context.Context, req models.IdentifyRequest) (Result, error) {
	email := models.StringPtr(req.EmailValue())
	phone := models.StringPtr(req.PhoneValue())
	if email == nil && phone == nil {
		return Result{}, apperr.Validation("either email or phoneNumber must be provided")
	}

	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "ReconciliationService.Identify")
	defer span.End()

	var result Result
	err := s.tx.RunInTx(ctx, func(ctx context.Context, store database.Store) error {
		var err error
		result, err = s.reconcile(ctx, store, email, phone)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "identify failed")
		s.metrics.ObserveIdentify("failed", 0, time.Since(start))
		return Result{}, fmt.Errorf("identify: %w", err)
	}

	span.SetAttributes(
		attribute.String("identify.outcome", string(result.Outcome)),
		attribute.Int64("identify.primary_contact_id", result.View.PrimaryContactID),
	)
	s.metrics.ObserveIdentify(string(result.Outcome), len(result.Demoted), time.Since(start))

	evt := s.log.Debug()
	if result.Outcome == OutcomeMerged {
		evt = s.log.Info().Ints64("demoted", result.Demoted)
	}
	evt.Str("outcome", string(result.Outcome)).
		Int64("primary_contact_id", result.View.PrimaryContactID).
		Int("secondaries", len(result.View.SecondaryContactIDs)).
		Msg("identify")

	return result, nil
}

func (s *ReconciliationService) reconcile(ctx context.Context, store database.Store, email, phone *string) (Result, error) {
	matches, err := store.FindMatching(ctx, email, phone)
	if err != nil {
		return Result{}, err
	}

	res, err := resolve(matches)
	if err != nil {
		return Result{}, err
	}

	switch res.kind {
	case resolveNew:
		return s.create(ctx, store, email, phone)
	case resolveSingle:
		return s.attach(ctx, store, res.oldest(), email, phone)
	case resolveMerge:
		return s.merge(ctx, store, res, email, phone)
	default:
		return Result{}, fmt.Errorf("unhandled resolution %s: %w", res.kind, apperr.ErrInvariant)
	}
}

// create starts a new identity group.
func (s *ReconciliationService) create(ctx context.Context, store database.Store, email, phone *string) (Result, error) {
	c, err := store.Insert(ctx, models.NewContact{
		Email:          email,
		PhoneNumber:    phone,
		LinkPrecedence: models.PrecedencePrimary,
	})
	if err != nil {
		return Result{}, err
	}
	return Result{View: buildView([]models.Contact{c}), Outcome: OutcomeCreated}, nil
}

// attach adds a secondary under primaryID when the request carries a fact
// the group does not know yet.
func (s *ReconciliationService) attach(ctx context.Context, store database.Store, primaryID int64, email, phone *string) (Result, error) {
	group, err := s.group(ctx, store, primaryID)
	if err != nil {
		return Result{}, err
	}
	if !hasNewFact(group, email, phone) {
		return Result{View: buildView(group), Outcome: OutcomeUnchanged}, nil
	}

	if _, err := s.insertSecondary(ctx, store, primaryID, email, phone); err != nil {
		return Result{}, err
	}
	view, err := s.consolidate(ctx, store, primaryID)
	if err != nil {
		return Result{}, err
	}
	return Result{View: view, Outcome: OutcomeAttached}, nil
}

// merge folds every group in res into the oldest one. Absorbed primaries are
// demoted and their secondaries are pointed straight at the survivor.
func (s *ReconciliationService) merge(ctx context.Context, store database.Store, res resolution, email, phone *string) (Result, error) {
	oldest := res.oldest()
	demoted := make([]int64, 0, len(res.absorbed()))

	for _, pid := range res.absorbed() {
		absorbed, err := s.group(ctx, store, pid)
		if err != nil {
			return Result{}, err
		}
		if err := store.Demote(ctx, pid, oldest); err != nil {
			return Result{}, err
		}
		for _, member := range absorbed[1:] {
			if err := store.Retarget(ctx, member.ID, oldest); err != nil {
				return Result{}, err
			}
		}
		demoted = append(demoted, pid)
	}

	merged, err := s.group(ctx, store, oldest)
	if err != nil {
		return Result{}, err
	}
	if hasNewFact(merged, email, phone) {
		if _, err := s.insertSecondary(ctx, store, oldest, email, phone); err != nil {
			return Result{}, err
		}
		if merged, err = s.group(ctx, store, oldest); err != nil {
			return Result{}, err
		}
	}

	return Result{View: buildView(merged), Outcome: OutcomeMerged, Demoted: demoted}, nil
}

func (s *ReconciliationService) insertSecondary(ctx context.Context, store database.Store, primaryID int64, email, phone *string) (models.Contact, error) {
	return store.Insert(ctx, models.NewContact{
		Email:          email,
		PhoneNumber:    phone,
		LinkPrecedence: models.PrecedenceSecondary,
		LinkedID:       models.Int64Ptr(primaryID),
	})
}

// consolidate builds the view of primaryID's group as currently stored.
func (s *ReconciliationService) consolidate(ctx context.Context, store database.Store, primaryID int64) (models.ContactResponse, error) {
	group, err := s.group(ctx, store, primaryID)
	if err != nil {
		return models.ContactResponse{}, err
	}
	return buildView(group), nil
}

func (s *ReconciliationService) group(ctx context.Context, store database.Store, primaryID int64) ([]models.Contact, error) {
	group, err := store.FindGroup(ctx, primaryID)
	if errors.Is(err, apperr.ErrNotFound) {
		// A live contact pointed here, so the primary was tombstoned or removed.
		return nil, fmt.Errorf("primary %d has no live row: %w", primaryID, apperr.ErrInvariant)
	}
	if err != nil {
		return nil, err
	}
	if err := checkGroup(group); err != nil {
		return nil, err
	}
	return group, nil
}
