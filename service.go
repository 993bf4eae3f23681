package access

import (
	"context"
	"time"

	repository "github.com/goliatone/go-repository-bun"
)

// AccessControl is the one place approval state is mutated and the one place
// authorization is decided. Route guards and admin controllers call into it;
// nothing else in the system branches on approval state.
type AccessControl struct {
	repo         RepositoryManager
	machine      ApprovalStateMachine
	logger       Logger
	activitySink ActivitySink
	storeTimeout time.Duration
	now          func() time.Time
}

// AccessControlOption customizes service construction.
type AccessControlOption func(*AccessControl)

// WithServiceLogger overrides the default logger.
func WithServiceLogger(logger Logger) AccessControlOption {
	return func(s *AccessControl) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithServiceActivitySink publishes post-commit events, e.g. for emailing
// the affected customer. Delivery is fire-and-forget.
func WithServiceActivitySink(sink ActivitySink) AccessControlOption {
	return func(s *AccessControl) {
		s.activitySink = normalizeActivitySink(sink)
	}
}

// WithStoreTimeout bounds every store round-trip. Zero disables the bound
// and defers to the caller's context.
func WithStoreTimeout(d time.Duration) AccessControlOption {
	return func(s *AccessControl) {
		s.storeTimeout = d
	}
}

// WithServiceClock injects a custom clock (useful for tests).
func WithServiceClock(clock func() time.Time) AccessControlOption {
	return func(s *AccessControl) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithServiceStateMachine overrides the default approval state machine.
func WithServiceStateMachine(machine ApprovalStateMachine) AccessControlOption {
	return func(s *AccessControl) {
		s.machine = machine
	}
}

// NewAccessControl creates the service on top of the repository manager.
func NewAccessControl(repo RepositoryManager, opts ...AccessControlOption) *AccessControl {
	s := &AccessControl{
		repo:         repo,
		logger:       defLogger{},
		activitySink: noopActivitySink{},
		now:          time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	if s.machine == nil {
		s.machine = NewApprovalStateMachine(
			repo.Accounts(),
			WithStateMachineActivitySink(s.activitySink),
			WithStateMachineLogger(s.logger),
			WithStateMachineClock(s.now),
		)
	}

	return s
}

// CanAccess answers whether the account snapshot may use the capability.
// It delegates to the package-level predicate so there is exactly one
// implementation of the rule.
func (s *AccessControl) CanAccess(account *Account, capability Capability) bool {
	return CanAccess(account, capability)
}

// Transition applies one admin decision to one account. At most one
// transition is applied per call; retried calls with the same idempotency
// key append at most one audit entry.
func (s *AccessControl) Transition(ctx context.Context, accountID string, action ApprovalAction, actor ActorRef, reason, idempotencyKey string) (*Account, error) {
	ctx, cancel := s.boundContext(ctx)
	defer cancel()

	actorAccount, err := s.resolveActor(ctx, actor)
	if err != nil {
		return nil, err
	}

	if !CanAccess(actorAccount, CapabilityManageAccounts) {
		return nil, ErrActorForbidden.WithMetadata(map[string]any{
			"actor_id": actor.ID,
			"action":   action,
		})
	}

	account, err := s.loadAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if actorAccount.ID == account.ID {
		return nil, ErrSelfTransition.WithMetadata(map[string]any{
			"actor_id": actor.ID,
		})
	}

	if idempotencyKey != "" {
		replay, err := s.repo.Accounts().DecisionByKey(ctx, account.ID, idempotencyKey)
		if err != nil && !repository.IsRecordNotFound(err) {
			return nil, timeoutOr(ctx, err)
		}
		if replay != nil {
			s.logger.Debug("transition replayed via idempotency key account=%s action=%s", accountID, action)
			return account, nil
		}
	}

	updated, err := s.machine.Apply(ctx, actor, account, action,
		WithDecisionReason(reason),
		WithIdempotencyKey(idempotencyKey),
	)
	if err != nil {
		return nil, timeoutOr(ctx, err)
	}

	return updated, nil
}

// Approve grants a pending wholesale account full access.
func (s *AccessControl) Approve(ctx context.Context, accountID string, actor ActorRef, reason, idempotencyKey string) (*Account, error) {
	return s.Transition(ctx, accountID, ActionApprove, actor, reason, idempotencyKey)
}

// Reject denies a pending account; reason is mandatory.
func (s *AccessControl) Reject(ctx context.Context, accountID string, actor ActorRef, reason, idempotencyKey string) (*Account, error) {
	return s.Transition(ctx, accountID, ActionReject, actor, reason, idempotencyKey)
}

// Reconsider returns a rejected account to the review queue.
func (s *AccessControl) Reconsider(ctx context.Context, accountID string, actor ActorRef, reason, idempotencyKey string) (*Account, error) {
	return s.Transition(ctx, accountID, ActionReconsider, actor, reason, idempotencyKey)
}

// Revoke withdraws a previously granted approval.
func (s *AccessControl) Revoke(ctx context.Context, accountID string, actor ActorRef, reason, idempotencyKey string) (*Account, error) {
	return s.Transition(ctx, accountID, ActionRevoke, actor, reason, idempotencyKey)
}

// ReviewQueue lists wholesale accounts by approval state, paginated. It is
// read-only and not part of the state machine's contract.
func (s *AccessControl) ReviewQueue(ctx context.Context, query ReviewQueueQuery) ([]*Account, int, error) {
	ctx, cancel := s.boundContext(ctx)
	defer cancel()

	records, total, err := s.repo.Accounts().ReviewQueue(ctx, query)
	if err != nil {
		return nil, 0, timeoutOr(ctx, err)
	}

	return records, total, nil
}

// History returns the append-only approval trail for an account, oldest
// entry first.
func (s *AccessControl) History(ctx context.Context, accountID string, page, perPage int) ([]*ApprovalEntry, error) {
	ctx, cancel := s.boundContext(ctx)
	defer cancel()

	account, err := s.loadAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	entries, err := s.repo.Accounts().ApprovalHistory(ctx, account.ID, page, perPage)
	if err != nil {
		return nil, timeoutOr(ctx, err)
	}

	return entries, nil
}

// Deactivate soft-disables an account without touching its approval state
// or history. Requires an admin actor, never the account owner.
func (s *AccessControl) Deactivate(ctx context.Context, accountID string, actor ActorRef) (*Account, error) {
	return s.setActive(ctx, accountID, actor, false, ActivityEventAccountDeactivated)
}

// Reactivate re-enables a deactivated account.
func (s *AccessControl) Reactivate(ctx context.Context, accountID string, actor ActorRef) (*Account, error) {
	return s.setActive(ctx, accountID, actor, true, ActivityEventAccountReactivated)
}

// Account resolves an account by id or email.
func (s *AccessControl) Account(ctx context.Context, identifier string) (*Account, error) {
	ctx, cancel := s.boundContext(ctx)
	defer cancel()

	return s.loadAccount(ctx, identifier)
}

func (s *AccessControl) setActive(ctx context.Context, accountID string, actor ActorRef, active bool, eventType ActivityEventType) (*Account, error) {
	ctx, cancel := s.boundContext(ctx)
	defer cancel()

	actorAccount, err := s.resolveActor(ctx, actor)
	if err != nil {
		return nil, err
	}

	if !CanAccess(actorAccount, CapabilityManageAccounts) {
		return nil, ErrActorForbidden.WithMetadata(map[string]any{
			"actor_id": actor.ID,
		})
	}

	account, err := s.loadAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if actorAccount.ID == account.ID {
		return nil, ErrSelfTransition.WithMetadata(map[string]any{
			"actor_id": actor.ID,
		})
	}

	updated, err := s.repo.Accounts().SetActive(ctx, account.ID, active)
	if err != nil {
		return nil, timeoutOr(ctx, err)
	}

	s.recordActivity(ctx, ActivityEvent{
		EventType: eventType,
		Actor:     actor,
		AccountID: updated.ID.String(),
	})

	return updated, nil
}

func (s *AccessControl) resolveActor(ctx context.Context, actor ActorRef) (*Account, error) {
	if actor.ID == "" {
		return nil, ErrActorForbidden.WithMetadata(map[string]any{
			"reason": "actor id is empty",
		})
	}

	account, err := s.repo.Accounts().GetByIdentifier(ctx, actor.ID)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrActorForbidden.WithMetadata(map[string]any{
				"actor_id": actor.ID,
				"reason":   "actor account not found",
			})
		}
		return nil, timeoutOr(ctx, err)
	}

	return account, nil
}

func (s *AccessControl) loadAccount(ctx context.Context, identifier string) (*Account, error) {
	account, err := s.repo.Accounts().GetByIdentifier(ctx, identifier)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrAccountNotFound.WithMetadata(map[string]any{
				"identifier": identifier,
			})
		}
		return nil, timeoutOr(ctx, err)
	}

	return account, nil
}

func (s *AccessControl) boundContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.storeTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.storeTimeout)
}

func (s *AccessControl) recordActivity(ctx context.Context, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.now()
	}

	sink := normalizeActivitySink(s.activitySink)
	if err := sink.Record(ctx, event); err != nil {
		s.logger.Warn("access control activity sink error: %v", err)
	}
}
