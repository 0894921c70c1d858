package request

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"go-leave/internal/allocation"
	"go-leave/internal/events"
	"go-leave/internal/messaging/kafka"
	requesterrors "go-leave/internal/request/errors"
	"go-leave/internal/shared/contextutil"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

// CancelPolicy decides what cancelling an already approved request does.
// The legacy system flipped the flag without ever crediting the debited
// days back, which silently leaked balance.
type CancelPolicy string

const (
	// CancelPolicyForbid rejects cancellation once a request is approved.
	CancelPolicyForbid CancelPolicy = "forbid"
	// CancelPolicyCredit cancels and credits the debited days back in the
	// same transaction.
	CancelPolicyCredit CancelPolicy = "credit"
)

func ParseCancelPolicy(s string) CancelPolicy {
	if CancelPolicy(s) == CancelPolicyCredit {
		return CancelPolicyCredit
	}
	return CancelPolicyForbid
}

const (
	summaryCacheKey = "leave:requests:summary"
	summaryCacheTTL = 30 * time.Second

	// approveAttempts bounds the retry loop around the approval
	// transaction. Only serialization conflicts are retried.
	approveAttempts = 3

	// cancelAttempts bounds the re-read loop in Cancel when the decision
	// changes between the policy check and the write.
	cancelAttempts = 3
)

//go:generate mockgen -source=request_service.go -destination=mock/request_service_mock.go -package=mock
type Service interface {
	Create(ctx context.Context, actorID string, req CreateLeaveRequest) (LeaveRequestResponse, error)
	Approve(ctx context.Context, actorID, id string) (LeaveRequestResponse, error)
	Reject(ctx context.Context, actorID, id, reason string) (LeaveRequestResponse, error)
	Cancel(ctx context.Context, actorID, id string) (LeaveRequestResponse, error)
	GetByID(ctx context.Context, id string) (LeaveRequestResponse, error)
	ListByEmployee(ctx context.Context, employeeID string) ([]LeaveRequestResponse, error)
	ListAll(ctx context.Context) ([]LeaveRequestResponse, error)
	Summary(ctx context.Context) (SummaryResponse, error)
}

type service struct {
	db           *sql.DB
	repo         Repository
	allocations  allocation.Repository
	allocService allocation.Service
	outbox       kafka.OutboxRepository
	rdb          *redis.Client
	sf           *singleflight.Group
	cancelPolicy CancelPolicy
	logger       *zap.Logger
}

func NewService(
	db *sql.DB,
	repo Repository,
	allocations allocation.Repository,
	allocService allocation.Service,
	outbox kafka.OutboxRepository,
	rdb *redis.Client,
	cancelPolicy CancelPolicy,
	logger ...*zap.Logger,
) Service {
	l := zap.L().Named("request.service")
	if len(logger) > 0 && logger[0] != nil {
		l = logger[0].Named("request.service")
	}
	return &service{
		db:           db,
		repo:         repo,
		allocations:  allocations,
		allocService: allocService,
		outbox:       outbox,
		rdb:          rdb,
		sf:           &singleflight.Group{},
		cancelPolicy: cancelPolicy,
		logger:       l,
	}
}

func (s *service) Create(ctx context.Context, actorID string, req CreateLeaveRequest) (LeaveRequestResponse, error) {
	// The middleware-attached logger already carries request_id and actor_id.
	log := contextutil.GetLogger(ctx, s.logger)
	log.Debug("create leave request",
		zap.String("leave_type_id", req.LeaveTypeID),
		zap.String("start_date", req.StartDate),
		zap.String("end_date", req.EndDate),
	)

	employeeUUID, err := uuid.Parse(actorID)
	if err != nil {
		return LeaveRequestResponse{}, requesterrors.ErrInvalidActorID
	}
	leaveTypeUUID, err := uuid.Parse(req.LeaveTypeID)
	if err != nil {
		return LeaveRequestResponse{}, requesterrors.ErrInvalidLeaveTypeID
	}

	startDate, err := parseDate(req.StartDate)
	if err != nil {
		return LeaveRequestResponse{}, err
	}
	endDate, err := parseDate(req.EndDate)
	if err != nil {
		return LeaveRequestResponse{}, err
	}

	daysRequested, err := ValidateRange(startDate, endDate)
	if err != nil {
		log.Warn("create leave request invalid range",
			zap.String("start_date", req.StartDate),
			zap.String("end_date", req.EndDate),
		)
		return LeaveRequestResponse{}, err
	}

	// Freshly read balance; seeds the allocation from the leave type default
	// when the employee has none yet.
	alloc, err := s.allocService.EnsureForEmployee(ctx, actorID, req.LeaveTypeID)
	if err != nil {
		return LeaveRequestResponse{}, err
	}

	if err := ValidateBalance(alloc.NumberOfDays, daysRequested); err != nil {
		log.Warn("create leave request insufficient balance",
			zap.Int("balance", alloc.NumberOfDays),
			zap.Int("days_requested", daysRequested),
		)
		return LeaveRequestResponse{}, err
	}

	// A pending request reserves nothing; the balance is only committed at
	// approval, where it is re-validated against the then-current state.
	l := &LeaveRequest{
		ID:            uuid.New(),
		EmployeeID:    employeeUUID,
		LeaveTypeID:   leaveTypeUUID,
		StartDate:     startDate,
		EndDate:       endDate,
		Reason:        req.Reason,
		Decision:      DecisionPending,
		DateRequested: time.Now().UTC(),
	}

	if err := s.repo.Create(ctx, l); err != nil {
		log.Error("create leave request persist failed", zap.Error(err))
		return LeaveRequestResponse{}, err
	}

	s.invalidateSummary(ctx)
	log.Info("create leave request success",
		zap.String("leave_request_id", l.ID.String()),
		zap.Int("days_requested", daysRequested),
	)

	return mapToResponse(*l), nil
}

func (s *service) Approve(ctx context.Context, actorID, id string) (LeaveRequestResponse, error) {
	if _, err := uuid.Parse(actorID); err != nil {
		return LeaveRequestResponse{}, requesterrors.ErrInvalidActorID
	}

	var lastErr error
	for attempt := 1; attempt <= approveAttempts; attempt++ {
		resp, err := s.approveOnce(ctx, actorID, id)
		if err == nil {
			s.invalidateSummary(ctx)
			return resp, nil
		}
		if !isRetryableConflict(err) {
			return LeaveRequestResponse{}, err
		}

		lastErr = err
		s.logger.Warn("approve transaction conflict, retrying",
			zap.String("leave_request_id", id),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}

	s.logger.Error("approve retries exhausted",
		zap.String("leave_request_id", id),
		zap.Error(lastErr),
	)
	return LeaveRequestResponse{}, requesterrors.ErrPersistenceFailure
}

// approveOnce runs one approval transaction: claim the PENDING request, debit
// the allocation, queue the decision event. All three commit or none do, so a
// crash can never leave a debited balance behind a still pending request.
func (s *service) approveOnce(ctx context.Context, actorID, id string) (LeaveRequestResponse, error) {
	l, err := s.loadForDecision(ctx, id)
	if err != nil {
		return LeaveRequestResponse{}, err
	}
	daysRequested := l.DaysRequested()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.logger.Error("approve begin tx failed", zap.Error(err))
		return LeaveRequestResponse{}, err
	}
	defer tx.Rollback()

	qtx := s.repo.WithTx(tx)
	atx := s.allocations.WithTx(tx)

	now := time.Now().UTC()
	claimed, err := qtx.ClaimDecision(ctx, id, DecisionApproved, actorID, nil, now)
	if err != nil {
		return LeaveRequestResponse{}, err
	}
	if !claimed {
		// Lost the race against another approver or a cancellation. The
		// claim alone cannot tell which, so re-read to report the right one.
		return LeaveRequestResponse{}, s.lostClaimError(ctx, id)
	}

	// Re-validation happens inside the debit itself: the conditional UPDATE
	// only matches when the current balance still covers the request.
	newBalance, err := atx.Debit(ctx, l.EmployeeID.String(), l.LeaveTypeID.String(), daysRequested)
	if err != nil {
		s.logger.Warn("approve debit failed",
			zap.String("leave_request_id", id),
			zap.Int("days_requested", daysRequested),
			zap.Error(err),
		)
		return LeaveRequestResponse{}, err
	}

	if err := s.queueDecisionEvent(ctx, tx, l, events.LeaveApprovedEventType, DecisionApproved, daysRequested, actorID, now); err != nil {
		return LeaveRequestResponse{}, err
	}

	if err := tx.Commit(); err != nil {
		s.logger.Error("approve commit failed", zap.String("leave_request_id", id), zap.Error(err))
		return LeaveRequestResponse{}, err
	}

	s.logger.Info("leave request approved",
		zap.String("leave_request_id", id),
		zap.String("approved_by", actorID),
		zap.Int("days_debited", daysRequested),
		zap.Int("new_balance", newBalance),
	)

	approverUUID := uuid.MustParse(actorID)
	l.Decision = DecisionApproved
	l.ApprovedBy = &approverUUID
	l.DateActioned = &now
	return mapToResponse(*l), nil
}

func (s *service) Reject(ctx context.Context, actorID, id, reason string) (LeaveRequestResponse, error) {
	if _, err := uuid.Parse(actorID); err != nil {
		return LeaveRequestResponse{}, requesterrors.ErrInvalidActorID
	}
	if reason == "" {
		return LeaveRequestResponse{}, requesterrors.ErrRejectionReasonRequired
	}

	l, err := s.loadForDecision(ctx, id)
	if err != nil {
		return LeaveRequestResponse{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.logger.Error("reject begin tx failed", zap.Error(err))
		return LeaveRequestResponse{}, err
	}
	defer tx.Rollback()

	qtx := s.repo.WithTx(tx)

	now := time.Now().UTC()
	claimed, err := qtx.ClaimDecision(ctx, id, DecisionRejected, actorID, &reason, now)
	if err != nil {
		return LeaveRequestResponse{}, err
	}
	if !claimed {
		return LeaveRequestResponse{}, s.lostClaimError(ctx, id)
	}

	// Rejection never touches the ledger.
	if err := s.queueDecisionEvent(ctx, tx, l, events.LeaveRejectedEventType, DecisionRejected, l.DaysRequested(), actorID, now); err != nil {
		return LeaveRequestResponse{}, err
	}

	if err := tx.Commit(); err != nil {
		s.logger.Error("reject commit failed", zap.String("leave_request_id", id), zap.Error(err))
		return LeaveRequestResponse{}, err
	}

	s.invalidateSummary(ctx)
	s.logger.Info("leave request rejected",
		zap.String("leave_request_id", id),
		zap.String("rejected_by", actorID),
	)

	actorUUID := uuid.MustParse(actorID)
	l.Decision = DecisionRejected
	l.ApprovedBy = &actorUUID
	l.RejectionReason = &reason
	l.DateActioned = &now
	return mapToResponse(*l), nil
}

func (s *service) Cancel(ctx context.Context, actorID, id string) (LeaveRequestResponse, error) {
	if _, err := uuid.Parse(actorID); err != nil {
		return LeaveRequestResponse{}, requesterrors.ErrInvalidActorID
	}

	// The policy check depends on the decision, and an approval can commit
	// between our read and our write. SetCancelled only matches the decision
	// we based the check on, so a lost race comes back as 0 rows and we
	// re-read and decide again instead of cancelling a row we mis-judged.
	for attempt := 1; attempt <= cancelAttempts; attempt++ {
		resp, retry, err := s.cancelOnce(ctx, actorID, id)
		if !retry {
			return resp, err
		}
		s.logger.Warn("cancel lost decision race, re-reading",
			zap.String("leave_request_id", id),
			zap.Int("attempt", attempt),
		)
	}

	s.logger.Error("cancel retries exhausted", zap.String("leave_request_id", id))
	return LeaveRequestResponse{}, requesterrors.ErrPersistenceFailure
}

func (s *service) cancelOnce(ctx context.Context, actorID, id string) (LeaveRequestResponse, bool, error) {
	l, err := s.findByID(ctx, id)
	if err != nil {
		return LeaveRequestResponse{}, false, err
	}
	if l.EmployeeID.String() != actorID {
		return LeaveRequestResponse{}, false, requesterrors.ErrNotRequestOwner
	}
	if l.Cancelled {
		return mapToResponse(*l), false, nil
	}
	if l.Decision == DecisionApproved && s.cancelPolicy == CancelPolicyForbid {
		return LeaveRequestResponse{}, false, requesterrors.ErrCancelApprovedForbidden
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.logger.Error("cancel begin tx failed", zap.Error(err))
		return LeaveRequestResponse{}, false, err
	}
	defer tx.Rollback()

	qtx := s.repo.WithTx(tx)

	cancelled, err := qtx.SetCancelled(ctx, id, l.Decision)
	if err != nil {
		return LeaveRequestResponse{}, false, err
	}
	if !cancelled {
		// Another cancel set the flag, or the decision changed since our
		// read. Either way the snapshot is stale: loop and re-apply the
		// policy against fresh state.
		return LeaveRequestResponse{}, true, nil
	}

	// Under the credit policy an approved request gives its debited days
	// back; the compensation commits together with the flag, and the
	// decision guard on SetCancelled guarantees the APPROVED we credit for
	// is the APPROVED the row still holds.
	if l.Decision == DecisionApproved && s.cancelPolicy == CancelPolicyCredit {
		atx := s.allocations.WithTx(tx)
		newBalance, err := atx.Credit(ctx, l.EmployeeID.String(), l.LeaveTypeID.String(), l.DaysRequested())
		if err != nil {
			s.logger.Error("cancel compensation credit failed",
				zap.String("leave_request_id", id),
				zap.Error(err),
			)
			return LeaveRequestResponse{}, false, err
		}
		s.logger.Info("cancel credited days back",
			zap.String("leave_request_id", id),
			zap.Int("days_credited", l.DaysRequested()),
			zap.Int("new_balance", newBalance),
		)
	}

	if err := s.queueDecisionEvent(ctx, tx, l, events.LeaveCancelledEventType, l.Decision, l.DaysRequested(), actorID, time.Now().UTC()); err != nil {
		return LeaveRequestResponse{}, false, err
	}

	if err := tx.Commit(); err != nil {
		s.logger.Error("cancel commit failed", zap.String("leave_request_id", id), zap.Error(err))
		return LeaveRequestResponse{}, false, err
	}

	s.invalidateSummary(ctx)
	s.logger.Info("leave request cancelled",
		zap.String("leave_request_id", id),
		zap.String("employee_id", actorID),
	)

	l.Cancelled = true
	return mapToResponse(*l), false, nil
}

func (s *service) GetByID(ctx context.Context, id string) (LeaveRequestResponse, error) {
	l, err := s.findByID(ctx, id)
	if err != nil {
		return LeaveRequestResponse{}, err
	}
	return mapToResponse(*l), nil
}

func (s *service) ListByEmployee(ctx context.Context, employeeID string) ([]LeaveRequestResponse, error) {
	if _, err := uuid.Parse(employeeID); err != nil {
		return nil, requesterrors.ErrInvalidActorID
	}

	requests, err := s.repo.FindAllByEmployee(ctx, employeeID)
	if err != nil {
		return nil, err
	}
	return mapToListResponse(requests), nil
}

func (s *service) ListAll(ctx context.Context) ([]LeaveRequestResponse, error) {
	requests, err := s.repo.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	return mapToListResponse(requests), nil
}

func (s *service) Summary(ctx context.Context) (SummaryResponse, error) {
	if s.rdb != nil {
		if cached, err := s.rdb.Get(ctx, summaryCacheKey).Result(); err == nil {
			var resp SummaryResponse
			if json.Unmarshal([]byte(cached), &resp) == nil {
				return resp, nil
			}
		}
	}

	v, err, _ := s.sf.Do(summaryCacheKey, func() (interface{}, error) {
		counts, err := s.repo.CountByDecision(ctx)
		if err != nil {
			return nil, err
		}

		resp := SummaryResponse{
			Total:    counts.Total,
			Approved: counts.Approved,
			Pending:  counts.Pending,
			Rejected: counts.Rejected,
		}

		if s.rdb != nil {
			if jsonData, err := json.Marshal(resp); err == nil {
				s.rdb.Set(ctx, summaryCacheKey, jsonData, summaryCacheTTL)
			}
		}

		return resp, nil
	})

	if err != nil {
		return SummaryResponse{}, err
	}

	return v.(SummaryResponse), nil
}

// loadForDecision reads the request and fails fast on states an approver can
// never transition out of. The authoritative check is the conditional claim
// inside the transaction; this read only produces friendlier errors.
func (s *service) loadForDecision(ctx context.Context, id string) (*LeaveRequest, error) {
	l, err := s.findByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if l.Cancelled {
		return nil, requesterrors.ErrRequestCancelled
	}
	if l.Decision != DecisionPending {
		return nil, requesterrors.ErrAlreadyActioned
	}
	return l, nil
}

// lostClaimError maps a failed ClaimDecision to the state that caused it:
// a cancellation that slipped in reports ErrRequestCancelled, anything else
// means another approver reached a terminal decision first.
func (s *service) lostClaimError(ctx context.Context, id string) error {
	cur, err := s.findByID(ctx, id)
	if err == nil && cur.Cancelled {
		return requesterrors.ErrRequestCancelled
	}
	return requesterrors.ErrAlreadyActioned
}

func (s *service) findByID(ctx context.Context, id string) (*LeaveRequest, error) {
	l, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, requesterrors.ErrRequestNotFound
		}
		return nil, err
	}
	return l, nil
}

func (s *service) queueDecisionEvent(
	ctx context.Context,
	tx *sql.Tx,
	l *LeaveRequest,
	eventType, decision string,
	days int,
	actorID string,
	occurredAt time.Time,
) error {
	if s.outbox == nil {
		return nil
	}

	payload, err := json.Marshal(events.LeaveDecidedEvent{
		EventType:   eventType,
		RequestID:   l.ID.String(),
		EmployeeID:  l.EmployeeID.String(),
		LeaveTypeID: l.LeaveTypeID.String(),
		Decision:    decision,
		Days:        days,
		ActionedBy:  actorID,
		OccurredAt:  occurredAt,
	})
	if err != nil {
		return err
	}

	return s.outbox.WithTx(tx).Create(ctx, kafka.OutboxEvent{
		ID:            uuid.New().String(),
		RequestID:     contextutil.GetRequestID(ctx),
		AggregateType: "leave_request",
		AggregateID:   l.ID.String(),
		EventType:     eventType,
		Topic:         events.LeaveDecisionTopic,
		Payload:       payload,
		Status:        kafka.OutboxStatusPending,
	})
}

func (s *service) invalidateSummary(ctx context.Context) {
	if s.rdb == nil {
		return
	}
	if err := s.rdb.Del(ctx, summaryCacheKey).Err(); err != nil {
		s.logger.Warn("invalidate summary cache failed", zap.Error(err))
	}
}

// isRetryableConflict reports whether the error is a Postgres serialization
// failure or deadlock, the only failures worth re-running the approval for.
func isRetryableConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

func parseDate(v string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}, requesterrors.ErrInvalidDateFormat
	}
	return t, nil
}

func mapToResponse(l LeaveRequest) LeaveRequestResponse {
	resp := LeaveRequestResponse{
		ID:            l.ID.String(),
		EmployeeID:    l.EmployeeID.String(),
		LeaveTypeID:   l.LeaveTypeID.String(),
		StartDate:     l.StartDate.Format("2006-01-02"),
		EndDate:       l.EndDate.Format("2006-01-02"),
		DaysRequested: l.DaysRequested(),
		Reason:        l.Reason,
		Decision:      l.Decision,
		Cancelled:     l.Cancelled,
		DateRequested: l.DateRequested.Format(time.RFC3339),
	}
	if l.ApprovedBy != nil {
		v := l.ApprovedBy.String()
		resp.ApprovedBy = &v
	}
	if l.DateActioned != nil {
		v := l.DateActioned.Format(time.RFC3339)
		resp.DateActioned = &v
	}
	resp.RejectionReason = l.RejectionReason
	return resp
}

func mapToListResponse(requests []LeaveRequest) []LeaveRequestResponse {
	resp := make([]LeaveRequestResponse, len(requests))
	for i, l := range requests {
		resp[i] = mapToResponse(l)
	}
	return resp
}
