package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/angelmondragon/loyalty-core/pkg/config"
	"github.com/angelmondragon/loyalty-core/pkg/db"
	"github.com/angelmondragon/loyalty-core/pkg/db/models"
	"github.com/angelmondragon/loyalty-core/pkg/enums"
	pkgerrors "github.com/angelmondragon/loyalty-core/pkg/errors"
	"github.com/angelmondragon/loyalty-core/pkg/logger"
	"github.com/angelmondragon/loyalty-core/pkg/metrics"
	"github.com/angelmondragon/loyalty-core/pkg/outbox"
	"github.com/angelmondragon/loyalty-core/pkg/outbox/payloads"
	"github.com/angelmondragon/loyalty-core/pkg/pagination"
)

const systemActor = "system"

// Service defines the points ledger operations.
type Service interface {
	AppendTransaction(ctx context.Context, input AppendInput) (*AppendResult, error)
	// AppendInTx appends inside the caller's transaction. The caller owns conflict retries.
	AppendInTx(ctx context.Context, tx *gorm.DB, input AppendInput) (*AppendResult, error)
	Reverse(ctx context.Context, input ReverseInput) (*AppendResult, error)
	ExpireInTx(ctx context.Context, tx *gorm.DB, membershipID uuid.UUID) (int, error)
	GetBalance(ctx context.Context, membershipID uuid.UUID) (int64, error)
	GetExpiringSoon(ctx context.Context, membershipID uuid.UUID, horizonDays int) ([]ExpiringLot, error)
	RecomputeBalance(ctx context.Context, membershipID uuid.UUID) (*RecomputeResult, error)
	ExpireMembership(ctx context.Context, membershipID uuid.UUID) (int, error)
	ListTransactions(ctx context.Context, membershipID uuid.UUID) ([]models.PointsTransaction, error)
	ListTransactionPage(ctx context.Context, membershipID uuid.UUID, params pagination.Params) (*TransactionPage, error)
	// ListMembershipsWithExpiredLots pages through active memberships in id order, starting
	// after the given id, that may hold a lot due for an EXPIRATION row.
	ListMembershipsWithExpiredLots(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error)
}

// AppendInput captures a new ledger entry.
type AppendInput struct {
	TenantID                uuid.UUID
	MembershipID            uuid.UUID
	Type                    enums.TransactionType
	PointsDelta             int64
	ExpiresAt               *time.Time
	RewardID                *uuid.UUID
	ReversalOfTransactionID *uuid.UUID
	IdempotencyKey          string
	ReasonCode              string
	CreatedBy               string
	Metadata                map[string]any
	// System marks writes issued by internal jobs. EXPIRATION requires it.
	System bool
}

// ReverseInput compensates an earlier transaction.
type ReverseInput struct {
	TenantID       uuid.UUID
	MembershipID   uuid.UUID
	TransactionID  uuid.UUID
	IdempotencyKey string
	ReasonCode     string
	CreatedBy      string
}

// AppendResult is the stored row plus the balance after it. Replayed is set when the
// idempotency key matched an earlier row and nothing was written.
type AppendResult struct {
	Transaction models.PointsTransaction
	Balance     int64
	Replayed    bool
}

// ExpiringLot is an EARNING lot with points left that expires inside the horizon.
type ExpiringLot struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	Points        int64     `json:"points"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// TransactionPage is one page of history, newest first. NextCursor is empty on the last page.
type TransactionPage struct {
	Items      []models.PointsTransaction
	NextCursor string
}

type RecomputeResult struct {
	MembershipID uuid.UUID `json:"membership_id"`
	Cached       int64     `json:"cached"`
	Folded       int64     `json:"folded"`
	Corrected    bool      `json:"corrected"`
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// ServiceParams wires the ledger service.
type ServiceParams struct {
	Repo    Repository
	Tx      db.TxRunner
	Outbox  outboxPublisher
	Logger  *logger.Logger
	Metrics *metrics.LoyaltyMetrics
	Config  config.LedgerConfig
	Now     func() time.Time
}

type service struct {
	repo    Repository
	tx      db.TxRunner
	outbox  outboxPublisher
	logg    *logger.Logger
	metrics *metrics.LoyaltyMetrics
	cfg     config.LedgerConfig
	now     func() time.Time
}

// NewService wires a ledger service with the provided dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Outbox == nil {
		params.Outbox = outbox.Nop{}
	}
	if params.Now == nil {
		params.Now = time.Now
	}
	if params.Config.ConcurrencyRetries <= 0 {
		params.Config.ConcurrencyRetries = db.DefaultConflictRetries
	}
	if params.Config.ExpiringHorizonDays <= 0 {
		params.Config.ExpiringHorizonDays = 30
	}
	return &service{
		repo:    params.Repo,
		tx:      params.Tx,
		outbox:  params.Outbox,
		logg:    params.Logger,
		metrics: params.Metrics,
		cfg:     params.Config,
		now:     params.Now,
	}, nil
}

func (s *service) AppendTransaction(ctx context.Context, input AppendInput) (*AppendResult, error) {
	if err := validateShape(input); err != nil {
		return nil, err
	}

	var result *AppendResult
	err := db.RetryOnConflict(ctx, s.cfg.ConcurrencyRetries, func() error {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			res, err := s.append(ctx, tx, input)
			if err != nil {
				if pkgerrors.IsConcurrencyConflict(err) {
					s.metrics.IncConflict("ledger")
				}
				return err
			}
			result = res
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) AppendInTx(ctx context.Context, tx *gorm.DB, input AppendInput) (*AppendResult, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction required")
	}
	if err := validateShape(input); err != nil {
		return nil, err
	}
	return s.append(ctx, tx, input)
}

func (s *service) append(ctx context.Context, tx *gorm.DB, input AppendInput) (*AppendResult, error) {
	repo := s.repo.WithTx(tx)
	now := s.now().UTC()

	if input.IdempotencyKey != "" {
		existing, err := repo.FindByIdempotencyKey(ctx, input.TenantID, input.IdempotencyKey)
		switch {
		case err == nil:
			if existing.MembershipID != input.MembershipID {
				return nil, pkgerrors.New(pkgerrors.CodeConflict, "idempotency key already used for another membership")
			}
			membership, err := repo.FindMembership(ctx, existing.MembershipID)
			if err != nil {
				return nil, err
			}
			return &AppendResult{Transaction: *existing, Balance: membership.Points, Replayed: true}, nil
		case !db.IsNotFound(err):
			return nil, err
		}
	}

	membership, err := s.loadMembership(ctx, repo, input.TenantID, input.MembershipID)
	if err != nil {
		return nil, err
	}
	if !membership.Active {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "membership is inactive")
	}

	rows, err := repo.ListByMembership(ctx, membership.ID)
	if err != nil {
		return nil, err
	}
	before := Fold(rows, now)

	if err := s.validateAgainstLedger(ctx, repo, &input, before, now); err != nil {
		return nil, err
	}

	if input.PointsDelta < 0 && input.Type != enums.TransactionExpiration && before.Balance+input.PointsDelta < 0 {
		s.metrics.IncInsufficientBalance()
		return nil, pkgerrors.New(pkgerrors.CodeInsufficientBalance, "insufficient points balance").
			WithDetails(map[string]any{"balance": before.Balance, "points_delta": input.PointsDelta})
	}

	row, err := buildRow(input, now)
	if err != nil {
		return nil, err
	}
	if err := repo.Create(ctx, row); err != nil {
		if input.IdempotencyKey != "" && db.IsUniqueViolation(err, idempotencyConstraint) {
			// Another writer committed the same key; the retry replays its row.
			return nil, pkgerrors.Wrap(pkgerrors.CodeConcurrencyConflict, err, "idempotency key committed concurrently")
		}
		return nil, err
	}

	// The versioned write runs even when the balance is unchanged so concurrent
	// appends on the membership serialize.
	after := Fold(append(rows, *row), now)
	if err := repo.UpdateBalance(ctx, membership, after.Balance); err != nil {
		return nil, err
	}

	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventPointsTransactionAppended,
		AggregateType: enums.AggregatePointsTransaction,
		AggregateID:   row.ID,
		TenantID:      &row.TenantID,
		Data: payloads.PointsTransactionAppendedEvent{
			TransactionID: row.ID,
			MembershipID:  row.MembershipID,
			TenantID:      row.TenantID,
			Type:          row.Type,
			PointsDelta:   row.PointsDelta,
			Balance:       after.Balance,
			ExpiresAt:     row.ExpiresAt,
			RewardID:      row.RewardID,
		},
		OccurredAt: now,
	}); err != nil {
		return nil, err
	}

	s.metrics.IncTransaction(string(row.Type))
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"membership_id":  row.MembershipID.String(),
		"tenant_id":      row.TenantID.String(),
		"transaction_id": row.ID.String(),
		"type":           row.Type,
		"points_delta":   row.PointsDelta,
		"balance":        after.Balance,
	})
	s.logg.Info(logCtx, "points transaction appended")

	return &AppendResult{Transaction: *row, Balance: after.Balance}, nil
}

func (s *service) loadMembership(ctx context.Context, repo Repository, tenantID, membershipID uuid.UUID) (*models.CustomerMembership, error) {
	membership, err := repo.FindMembership(ctx, membershipID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "membership not found")
		}
		return nil, err
	}
	if tenantID != uuid.Nil && membership.TenantID != tenantID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "membership not found")
	}
	return membership, nil
}

func validateShape(input AppendInput) error {
	if input.TenantID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "tenant id is required")
	}
	if input.MembershipID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "membership id is required")
	}
	if !input.Type.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid transaction type %q", input.Type))
	}
	if input.Type.SystemOnly() && !input.System {
		return pkgerrors.New(pkgerrors.CodeForbidden, "expiration entries are system generated")
	}

	switch input.Type {
	case enums.TransactionEarning:
		if input.PointsDelta <= 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "earning requires a positive delta")
		}
	case enums.TransactionRedeem:
		if input.PointsDelta >= 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "redeem requires a negative delta")
		}
		if input.RewardID == nil || *input.RewardID == uuid.Nil {
			return pkgerrors.New(pkgerrors.CodeValidation, "redeem requires a reward id")
		}
	case enums.TransactionAdjustment:
		if input.PointsDelta == 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "adjustment requires a non-zero delta")
		}
	case enums.TransactionExpiration:
		if input.PointsDelta >= 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "expiration requires a negative delta")
		}
		if input.ReversalOfTransactionID == nil {
			return pkgerrors.New(pkgerrors.CodeValidation, "expiration requires the expired earning id")
		}
	case enums.TransactionReversal:
		if input.ReversalOfTransactionID == nil {
			return pkgerrors.New(pkgerrors.CodeValidation, "reversal requires the reversed transaction id")
		}
	}

	if input.Type != enums.TransactionEarning && input.ExpiresAt != nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "only earning entries may expire")
	}
	if input.Type != enums.TransactionRedeem && input.RewardID != nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "only redeem entries reference a reward")
	}
	return nil
}

func (s *service) validateAgainstLedger(ctx context.Context, repo Repository, input *AppendInput, folded Projection, now time.Time) error {
	switch input.Type {
	case enums.TransactionEarning:
		if input.ExpiresAt != nil && !input.ExpiresAt.After(now) {
			return pkgerrors.New(pkgerrors.CodeValidation, "expires_at must be in the future")
		}
	case enums.TransactionRedeem:
		if _, err := repo.FindActiveReward(ctx, input.TenantID, *input.RewardID); err != nil {
			if db.IsNotFound(err) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "reward not found")
			}
			return err
		}
	case enums.TransactionExpiration:
		original, err := s.loadOriginal(ctx, repo, input)
		if err != nil {
			return err
		}
		if original.Type != enums.TransactionEarning {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "only earning entries expire")
		}
		lot, ok := folded.ExpiredLot(original.ID)
		if !ok {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "earning has not expired or has no points left")
		}
		if lot.Materialized {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "expiration already recorded")
		}
		if -input.PointsDelta != lot.Points {
			return pkgerrors.New(pkgerrors.CodeValidation, "expiration must forfeit the lot remainder").
				WithDetails(map[string]any{"remaining": lot.Points})
		}
	case enums.TransactionReversal:
		original, err := s.loadOriginal(ctx, repo, input)
		if err != nil {
			return err
		}
		if original.Type == enums.TransactionReversal || original.Type == enums.TransactionExpiration {
			return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("%s entries cannot be reversed", strings.ToLower(string(original.Type))))
		}
		if folded.Reversed[original.ID] {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "transaction already reversed")
		}
		if _, expired := folded.ExpiredLot(original.ID); expired {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "earning already expired")
		}
		if input.PointsDelta != 0 && input.PointsDelta != -original.PointsDelta {
			return pkgerrors.New(pkgerrors.CodeValidation, "reversal must negate the original delta")
		}
		input.PointsDelta = -original.PointsDelta
	}
	return nil
}

func (s *service) loadOriginal(ctx context.Context, repo Repository, input *AppendInput) (*models.PointsTransaction, error) {
	original, err := repo.FindTransaction(ctx, *input.ReversalOfTransactionID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "referenced transaction not found")
		}
		return nil, err
	}
	if original.MembershipID != input.MembershipID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "referenced transaction not found")
	}
	return original, nil
}

func buildRow(input AppendInput, now time.Time) (*models.PointsTransaction, error) {
	row := &models.PointsTransaction{
		ID:                      uuid.New(),
		TenantID:                input.TenantID,
		MembershipID:            input.MembershipID,
		Type:                    input.Type,
		PointsDelta:             input.PointsDelta,
		RewardID:                input.RewardID,
		ReversalOfTransactionID: input.ReversalOfTransactionID,
		CreatedAt:               now,
	}
	if input.ExpiresAt != nil {
		expires := input.ExpiresAt.UTC()
		row.ExpiresAt = &expires
	}
	if input.IdempotencyKey != "" {
		key := input.IdempotencyKey
		row.IdempotencyKey = &key
	}
	if input.ReasonCode != "" {
		reason := input.ReasonCode
		row.ReasonCode = &reason
	}
	createdBy := input.CreatedBy
	if createdBy == "" && input.System {
		createdBy = systemActor
	}
	if createdBy != "" {
		row.CreatedBy = &createdBy
	}
	if len(input.Metadata) > 0 {
		raw, err := json.Marshal(input.Metadata)
		if err != nil {
			return nil, fmt.Errorf("encode metadata: %w", err)
		}
		row.Metadata = datatypes.JSON(raw)
	}
	return row, nil
}

func (s *service) Reverse(ctx context.Context, input ReverseInput) (*AppendResult, error) {
	entry, err := ReversalEntry(input)
	if err != nil {
		return nil, err
	}
	return s.AppendTransaction(ctx, entry)
}

// ReversalEntry builds the REVERSAL append for input. Without an explicit key the
// reversal is keyed on the original transaction so it is written once.
func ReversalEntry(input ReverseInput) (AppendInput, error) {
	if input.TransactionID == uuid.Nil {
		return AppendInput{}, pkgerrors.New(pkgerrors.CodeValidation, "transaction id is required")
	}
	original := input.TransactionID
	key := input.IdempotencyKey
	if key == "" {
		key = "reversal:" + original.String()
	}
	return AppendInput{
		TenantID:                input.TenantID,
		MembershipID:            input.MembershipID,
		Type:                    enums.TransactionReversal,
		ReversalOfTransactionID: &original,
		IdempotencyKey:          key,
		ReasonCode:              input.ReasonCode,
		CreatedBy:               input.CreatedBy,
	}, nil
}

func (s *service) GetBalance(ctx context.Context, membershipID uuid.UUID) (int64, error) {
	if membershipID == uuid.Nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "membership id is required")
	}
	membership, err := s.loadMembership(ctx, s.repo, uuid.Nil, membershipID)
	if err != nil {
		return 0, err
	}
	return membership.Points, nil
}

func (s *service) GetExpiringSoon(ctx context.Context, membershipID uuid.UUID, horizonDays int) ([]ExpiringLot, error) {
	if membershipID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "membership id is required")
	}
	if horizonDays < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "horizon must not be negative")
	}
	if horizonDays == 0 {
		horizonDays = s.cfg.ExpiringHorizonDays
	}
	if _, err := s.loadMembership(ctx, s.repo, uuid.Nil, membershipID); err != nil {
		return nil, err
	}
	rows, err := s.repo.ListByMembership(ctx, membershipID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	horizon := now.AddDate(0, 0, horizonDays)
	lots := make([]ExpiringLot, 0)
	for _, lot := range Fold(rows, now).Open {
		if lot.Type != enums.TransactionEarning || lot.ExpiresAt == nil {
			continue
		}
		if lot.ExpiresAt.After(now) && !lot.ExpiresAt.After(horizon) {
			lots = append(lots, ExpiringLot{TransactionID: lot.TransactionID, Points: lot.Points, ExpiresAt: *lot.ExpiresAt})
		}
	}
	sort.SliceStable(lots, func(i, j int) bool { return lots[i].ExpiresAt.Before(lots[j].ExpiresAt) })
	return lots, nil
}

func (s *service) RecomputeBalance(ctx context.Context, membershipID uuid.UUID) (*RecomputeResult, error) {
	if membershipID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "membership id is required")
	}
	var result *RecomputeResult
	err := db.RetryOnConflict(ctx, s.cfg.ConcurrencyRetries, func() error {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)
			membership, err := s.loadMembership(ctx, repo, uuid.Nil, membershipID)
			if err != nil {
				return err
			}
			rows, err := repo.ListByMembership(ctx, membershipID)
			if err != nil {
				return err
			}
			folded := Fold(rows, s.now().UTC()).Balance
			res := &RecomputeResult{MembershipID: membershipID, Cached: membership.Points, Folded: folded}
			if folded != membership.Points {
				if err := repo.UpdateBalance(ctx, membership, folded); err != nil {
					return err
				}
				res.Corrected = true
			}
			result = res
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if result.Corrected {
		s.metrics.IncBalanceDrift()
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"membership_id": membershipID.String(),
			"cached":        result.Cached,
			"folded":        result.Folded,
			"code":          pkgerrors.CodeDriftDetected,
		})
		s.logg.Warn(logCtx, "cached balance drift corrected")
	}
	return result, nil
}

func (s *service) ExpireMembership(ctx context.Context, membershipID uuid.UUID) (int, error) {
	if membershipID == uuid.Nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "membership id is required")
	}
	var written int
	err := db.RetryOnConflict(ctx, s.cfg.ConcurrencyRetries, func() error {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			n, err := s.ExpireInTx(ctx, tx, membershipID)
			written = n
			return err
		})
	})
	if err != nil {
		return 0, err
	}
	return written, nil
}

// ExpireInTx writes one EXPIRATION row per forfeited lot that has none yet and
// returns how many were written.
func (s *service) ExpireInTx(ctx context.Context, tx *gorm.DB, membershipID uuid.UUID) (int, error) {
	if tx == nil {
		return 0, fmt.Errorf("transaction required")
	}
	repo := s.repo.WithTx(tx)
	membership, err := s.loadMembership(ctx, repo, uuid.Nil, membershipID)
	if err != nil {
		return 0, err
	}
	rows, err := repo.ListByMembership(ctx, membershipID)
	if err != nil {
		return 0, err
	}
	written := 0
	for _, lot := range Fold(rows, s.now().UTC()).Unmaterialized() {
		earningID := lot.TransactionID
		res, err := s.append(ctx, tx, AppendInput{
			TenantID:                membership.TenantID,
			MembershipID:            membershipID,
			Type:                    enums.TransactionExpiration,
			PointsDelta:             -lot.Points,
			ReversalOfTransactionID: &earningID,
			IdempotencyKey:          "expiration:" + earningID.String(),
			ReasonCode:              "points_expired",
			System:                  true,
		})
		if err != nil {
			return 0, err
		}
		if !res.Replayed {
			written++
		}
	}
	return written, nil
}

func (s *service) ListTransactions(ctx context.Context, membershipID uuid.UUID) ([]models.PointsTransaction, error) {
	if membershipID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "membership id is required")
	}
	if _, err := s.loadMembership(ctx, s.repo, uuid.Nil, membershipID); err != nil {
		return nil, err
	}
	return s.repo.ListByMembership(ctx, membershipID)
}

func (s *service) ListTransactionPage(ctx context.Context, membershipID uuid.UUID, params pagination.Params) (*TransactionPage, error) {
	if membershipID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "membership id is required")
	}
	if _, err := s.loadMembership(ctx, s.repo, uuid.Nil, membershipID); err != nil {
		return nil, err
	}

	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	rows, err := s.repo.PageByMembership(ctx, membershipID, cursor, pagination.LimitWithBuffer(params.Limit))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list transactions")
	}

	items, next := pagination.Trim(rows, params.Limit, func(row models.PointsTransaction) pagination.Cursor {
		return pagination.Cursor{CreatedAt: row.CreatedAt, ID: row.ID}
	})
	return &TransactionPage{Items: items, NextCursor: next}, nil
}

func (s *service) ListMembershipsWithExpiredLots(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		limit = s.cfg.ExpirationBatchSize
	}
	return s.repo.ListMembershipsWithExpiredLots(ctx, s.now().UTC(), after, limit)
}
