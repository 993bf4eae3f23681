package access

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ApprovalAction is an admin-issued, audited decision on an account.
type ApprovalAction = string

const (
	// ActionApprove grants a pending wholesale account full access
	ActionApprove ApprovalAction = "approve"
	// ActionReject denies a pending account; a reason is mandatory
	ActionReject ApprovalAction = "reject"
	// ActionReconsider returns a rejected account to the review queue
	ActionReconsider ApprovalAction = "reconsider"
	// ActionRevoke withdraws a prior approval, e.g. fraud enforcement
	ActionRevoke ApprovalAction = "revoke"
)

type approvalRoute struct {
	from           ApprovalState
	to             ApprovalState
	reasonRequired bool
}

// approvalRoutes is the whole transition table. Anything not listed here
// fails with ErrInvalidTransition and leaves no trace in the audit log.
var approvalRoutes = map[ApprovalAction]approvalRoute{
	ActionApprove:    {from: ApprovalPending, to: ApprovalApproved},
	ActionReject:     {from: ApprovalPending, to: ApprovalRejected, reasonRequired: true},
	ActionReconsider: {from: ApprovalRejected, to: ApprovalPending, reasonRequired: true},
	ActionRevoke:     {from: ApprovalApproved, to: ApprovalRejected, reasonRequired: true},
}

// Decision is the unit of atomicity handed to the account store: the state
// flip and the audit append must commit or fail together.
type Decision struct {
	AccountID      uuid.UUID
	Action         ApprovalAction
	FromState      ApprovalState
	ToState        ApprovalState
	Actor          ActorRef
	Reason         string
	IdempotencyKey string
	Version        int64
	OccurredAt     time.Time
}

// DecisionWriter is the slice of the account store the state machine needs.
type DecisionWriter interface {
	ApplyDecision(ctx context.Context, decision Decision) (*Account, error)
}

// ApprovalStateMachine owns the wholesale approval lifecycle.
type ApprovalStateMachine interface {
	Apply(ctx context.Context, actor ActorRef, account *Account, action ApprovalAction, opts ...DecisionOption) (*Account, error)
	CurrentState(account *Account) ApprovalState
}

// DecisionOption customizes a single decision.
type DecisionOption func(*decisionOptions)

type decisionOptions struct {
	reason         string
	idempotencyKey string
	metadata       map[string]any
}

// WithDecisionReason sets the human-readable reason for the decision.
func WithDecisionReason(reason string) DecisionOption {
	return func(opts *decisionOptions) {
		opts.reason = reason
	}
}

// WithIdempotencyKey tags the decision so a network retry appends at most
// one audit entry.
func WithIdempotencyKey(key string) DecisionOption {
	return func(opts *decisionOptions) {
		opts.idempotencyKey = key
	}
}

// WithDecisionMetadata merges metadata into the emitted activity event.
func WithDecisionMetadata(metadata map[string]any) DecisionOption {
	return func(opts *decisionOptions) {
		if len(metadata) == 0 {
			return
		}
		if opts.metadata == nil {
			opts.metadata = make(map[string]any, len(metadata))
		}
		for k, v := range metadata {
			opts.metadata[k] = v
		}
	}
}

// StateMachineOption customizes state machine construction.
type StateMachineOption func(*approvalStateMachine)

// WithStateMachineClock injects a custom clock (useful for tests).
func WithStateMachineClock(clock func() time.Time) StateMachineOption {
	return func(sm *approvalStateMachine) {
		if clock != nil {
			sm.now = clock
		}
	}
}

// WithStateMachineActivitySink sets the ActivitySink used to publish
// post-commit decision events.
func WithStateMachineActivitySink(sink ActivitySink) StateMachineOption {
	return func(sm *approvalStateMachine) {
		sm.activitySink = normalizeActivitySink(sink)
	}
}

// WithStateMachineLogger overrides the logger used for sink failures.
func WithStateMachineLogger(logger Logger) StateMachineOption {
	return func(sm *approvalStateMachine) {
		if logger != nil {
			sm.logger = logger
		}
	}
}

// NewApprovalStateMachine returns the default implementation backed by the
// provided account store.
func NewApprovalStateMachine(store DecisionWriter, opts ...StateMachineOption) ApprovalStateMachine {
	sm := &approvalStateMachine{
		store:        store,
		now:          time.Now,
		activitySink: noopActivitySink{},
		logger:       defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(sm)
		}
	}

	return sm
}

type approvalStateMachine struct {
	store        DecisionWriter
	now          func() time.Time
	activitySink ActivitySink
	logger       Logger
}

func (sm *approvalStateMachine) Apply(ctx context.Context, actor ActorRef, account *Account, action ApprovalAction, opts ...DecisionOption) (*Account, error) {
	if account == nil {
		return nil, ErrInvalidTransition.WithMetadata(map[string]any{
			"action": action,
			"reason": "account is nil",
		})
	}

	account.EnsureApprovalState()

	// retail and staff accounts are approved at creation and never move
	if !account.IsWholesale() {
		return nil, ErrInvalidTransition.WithMetadata(map[string]any{
			"action":        action,
			"account_class": account.Class,
		})
	}

	route, ok := approvalRoutes[action]
	if !ok {
		return nil, ErrInvalidTransition.WithMetadata(map[string]any{
			"action": action,
			"reason": "unknown action",
		})
	}

	if account.ApprovalState != route.from {
		return nil, ErrInvalidTransition.WithMetadata(map[string]any{
			"action": action,
			"from":   account.ApprovalState,
			"to":     route.to,
		})
	}

	options := buildDecisionOptions(opts...)

	if route.reasonRequired && strings.TrimSpace(options.reason) == "" {
		return nil, ErrReasonRequired.WithMetadata(map[string]any{
			"action": action,
		})
	}

	decision := Decision{
		AccountID:      account.ID,
		Action:         action,
		FromState:      account.ApprovalState,
		ToState:        route.to,
		Actor:          actor,
		Reason:         options.reason,
		IdempotencyKey: options.idempotencyKey,
		Version:        account.Version,
		OccurredAt:     sm.now(),
	}

	updated, err := sm.store.ApplyDecision(ctx, decision)
	if err != nil {
		return nil, err
	}

	sm.applyUpdates(account, updated, decision)

	sm.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventApprovalChanged,
		Actor:     actor,
		AccountID: account.ID.String(),
		Action:    action,
		FromState: decision.FromState,
		ToState:   decision.ToState,
		Metadata:  sm.eventMetadata(options),
	})

	return account, nil
}

func (sm *approvalStateMachine) CurrentState(account *Account) ApprovalState {
	if account == nil {
		return ""
	}
	account.EnsureApprovalState()
	return account.ApprovalState
}

func buildDecisionOptions(opts ...DecisionOption) *decisionOptions {
	options := &decisionOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(options)
		}
	}
	return options
}

func (sm *approvalStateMachine) applyUpdates(account, updated *Account, decision Decision) {
	if updated != nil {
		account.ApprovalState = updated.ApprovalState
		account.Version = updated.Version
		account.UpdatedAt = updated.UpdatedAt
		return
	}

	account.ApprovalState = decision.ToState
	account.Version = decision.Version + 1
}

func (sm *approvalStateMachine) recordActivity(ctx context.Context, event ActivityEvent) {
	if event.Actor == (ActorRef{}) {
		event.Actor = ActorRef{Type: "system"}
	}

	if event.OccurredAt.IsZero() {
		event.OccurredAt = sm.now()
	}

	sink := normalizeActivitySink(sm.activitySink)
	if err := sink.Record(ctx, event); err != nil {
		sm.logger.Warn("state machine activity sink error: %v", err)
	}
}

func (sm *approvalStateMachine) eventMetadata(options *decisionOptions) map[string]any {
	if options.reason == "" && len(options.metadata) == 0 {
		return nil
	}

	result := map[string]any{}
	if options.reason != "" {
		result["reason"] = options.reason
	}
	for k, v := range options.metadata {
		result[k] = v
	}
	return result
}
