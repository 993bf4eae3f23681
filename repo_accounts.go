package access

import (
	"context"
	"database/sql"
	"fmt"
	"net/mail"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Accounts is the account store. Approval decisions go through
// ApplyDecision, which is the unit of atomicity for the state machine: the
// state flip and the audit append commit in one transaction, guarded by a
// version compare-and-set.
type Accounts interface {
	repository.Repository[*Account]

	Register(ctx context.Context, account *Account) (*Account, error)
	RegisterTx(ctx context.Context, tx bun.IDB, account *Account) (*Account, error)
	Create(ctx context.Context, record *Account, criteria ...repository.InsertCriteria) (*Account, error)
	CreateTx(ctx context.Context, tx bun.IDB, record *Account, criteria ...repository.InsertCriteria) (*Account, error)

	ApplyDecision(ctx context.Context, decision Decision) (*Account, error)
	ApplyDecisionTx(ctx context.Context, tx bun.IDB, decision Decision) (*Account, error)
	DecisionByKey(ctx context.Context, accountID uuid.UUID, key string) (*ApprovalEntry, error)
	ApprovalHistory(ctx context.Context, accountID uuid.UUID, page, perPage int) ([]*ApprovalEntry, error)
	ReviewQueue(ctx context.Context, query ReviewQueueQuery) ([]*Account, int, error)

	SetActive(ctx context.Context, id uuid.UUID, active bool) (*Account, error)

	TrackAttemptedLogin(ctx context.Context, account *Account) error
	TrackSuccessfulLogin(ctx context.Context, account *Account) error

	Approve(ctx context.Context, actor ActorRef, account *Account, opts ...DecisionOption) (*Account, error)
	Reject(ctx context.Context, actor ActorRef, account *Account, opts ...DecisionOption) (*Account, error)
	Reconsider(ctx context.Context, actor ActorRef, account *Account, opts ...DecisionOption) (*Account, error)
	Revoke(ctx context.Context, actor ActorRef, account *Account, opts ...DecisionOption) (*Account, error)
}

// ReviewQueueQuery selects a page of the admin review listing.
type ReviewQueueQuery struct {
	State   ApprovalState // defaults to pending
	Page    int           // 1-based
	PerPage int
}

func (q ReviewQueueQuery) normalize() ReviewQueueQuery {
	if q.State == "" {
		q.State = ApprovalPending
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PerPage < 1 {
		q.PerPage = 25
	}
	return q
}

type accounts struct {
	repository.Repository[*Account]
	db                  *bun.DB
	stateMachine        ApprovalStateMachine
	stateMachineOptions []StateMachineOption
}

var (
	_ Accounts                        = (*accounts)(nil)
	_ repository.Repository[*Account] = (*accounts)(nil)
	_ DecisionWriter                  = (*accounts)(nil)
)

type AccountsOption func(*accounts)

func NewAccountsRepository(db *bun.DB, opts ...AccountsOption) Accounts {
	repo := repository.NewRepository[*Account](db, repository.ModelHandlers[*Account]{
		NewRecord: func() *Account { return &Account{} },
		GetID: func(a *Account) uuid.UUID {
			if a == nil {
				return uuid.Nil
			}
			return a.ID
		},
		SetID: func(a *Account, id uuid.UUID) {
			if a != nil {
				a.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})

	repoAccounts := &accounts{
		Repository: repo,
		db:         db,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(repoAccounts)
		}
	}

	return repoAccounts
}

func WithAccountsStateMachineOptions(options ...StateMachineOption) AccountsOption {
	return func(a *accounts) {
		if len(options) == 0 {
			return
		}
		a.stateMachineOptions = append(a.stateMachineOptions, options...)
		a.stateMachine = nil
	}
}

func WithAccountsStateMachine(sm ApprovalStateMachine) AccountsOption {
	return func(a *accounts) {
		a.stateMachine = sm
	}
}

func (a *accounts) Register(ctx context.Context, account *Account) (*Account, error) {
	return a.RegisterTx(ctx, a.db, account)
}

func (a *accounts) RegisterTx(ctx context.Context, tx bun.IDB, account *Account) (*Account, error) {
	return a.CreateTx(ctx, tx, account)
}

func (a *accounts) Create(ctx context.Context, record *Account, criteria ...repository.InsertCriteria) (*Account, error) {
	return a.CreateTx(ctx, a.db, record, criteria...)
}

func (a *accounts) CreateTx(ctx context.Context, tx bun.IDB, record *Account, criteria ...repository.InsertCriteria) (*Account, error) {
	prepareAccountDefaults(record)
	return a.Repository.CreateTx(ctx, tx, record, criteria...)
}

func (a *accounts) GetByIdentifier(ctx context.Context, identifier string, criteria ...repository.SelectCriteria) (*Account, error) {
	return a.GetByIdentifierTx(ctx, a.db, identifier, criteria...)
}

func (a *accounts) GetByIdentifierTx(ctx context.Context, tx bun.IDB, identifier string, criteria ...repository.SelectCriteria) (*Account, error) {
	options := resolveAccountIdentifier(identifier)
	if len(options) == 0 {
		options = []identifierOption{
			{
				column: "id",
				value:  strings.TrimSpace(identifier),
			},
		}
	}

	for _, opt := range options {
		record := &Account{}
		q := tx.NewSelect().Model(record)

		for _, c := range criteria {
			q.Apply(c)
		}

		err := q.
			Where(fmt.Sprintf("?TableAlias.%s = ?", opt.column), opt.value).
			Limit(1).
			Scan(ctx)

		if err != nil {
			if repository.IsRecordNotFound(err) {
				continue
			}
			return nil, err
		}

		return record, nil
	}

	return nil, repository.NewRecordNotFound().
		WithMetadata(map[string]any{
			"identifier": identifier,
		})
}

func (a *accounts) ApplyDecision(ctx context.Context, decision Decision) (*Account, error) {
	var updated *Account
	err := a.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		record, err := a.ApplyDecisionTx(ctx, tx, decision)
		if err != nil {
			return err
		}
		updated = record
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (a *accounts) ApplyDecisionTx(ctx context.Context, tx bun.IDB, decision Decision) (*Account, error) {
	occurredAt := decision.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}

	res, err := tx.NewUpdate().
		Model((*Account)(nil)).
		Set("approval_state = ?", decision.ToState).
		Set("version = ?", decision.Version+1).
		Set("updated_at = ?", occurredAt).
		Where("?TableAlias.id = ?", decision.AccountID).
		Where("?TableAlias.approval_state = ?", decision.FromState).
		Where("?TableAlias.version = ?", decision.Version).
		Where("?TableAlias.deleted_at IS NULL").
		Exec(ctx)
	if err != nil {
		return nil, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}

	if affected == 0 {
		exists, err := tx.NewSelect().
			Model((*Account)(nil)).
			Where("?TableAlias.id = ?", decision.AccountID).
			Exists(ctx)
		if err != nil {
			return nil, err
		}

		if !exists {
			return nil, ErrAccountNotFound.WithMetadata(map[string]any{
				"account_id": decision.AccountID.String(),
			})
		}

		return nil, ErrDecisionConflict.WithMetadata(map[string]any{
			"account_id": decision.AccountID.String(),
			"action":     decision.Action,
			"version":    decision.Version,
		})
	}

	entry := &ApprovalEntry{
		ID:             uuid.New(),
		AccountID:      decision.AccountID,
		Action:         decision.Action,
		FromState:      decision.FromState,
		ToState:        decision.ToState,
		ActorID:        decision.Actor.ID,
		ActorType:      decision.Actor.Type,
		Reason:         decision.Reason,
		IdempotencyKey: decision.IdempotencyKey,
		OccurredAt:     occurredAt,
	}

	if _, err := tx.NewInsert().Model(entry).Exec(ctx); err != nil {
		return nil, err
	}

	record := &Account{}
	err = tx.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", decision.AccountID).
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	return record, nil
}

func (a *accounts) DecisionByKey(ctx context.Context, accountID uuid.UUID, key string) (*ApprovalEntry, error) {
	if strings.TrimSpace(key) == "" {
		return nil, repository.NewRecordNotFound()
	}

	entry := &ApprovalEntry{}
	err := a.db.NewSelect().
		Model(entry).
		Where("?TableAlias.account_id = ?", accountID).
		Where("?TableAlias.idempotency_key = ?", key).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	return entry, nil
}

func (a *accounts) ApprovalHistory(ctx context.Context, accountID uuid.UUID, page, perPage int) ([]*ApprovalEntry, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 50
	}

	var entries []*ApprovalEntry
	err := a.db.NewSelect().
		Model(&entries).
		Where("?TableAlias.account_id = ?", accountID).
		Order("occurred_at ASC").
		Limit(perPage).
		Offset((page - 1) * perPage).
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	return entries, nil
}

func (a *accounts) ReviewQueue(ctx context.Context, query ReviewQueueQuery) ([]*Account, int, error) {
	query = query.normalize()

	var records []*Account
	count, err := a.db.NewSelect().
		Model(&records).
		Where("?TableAlias.account_class = ?", ClassWholesale).
		Where("?TableAlias.approval_state = ?", query.State).
		Order("created_at ASC").
		Limit(query.PerPage).
		Offset((query.Page - 1) * query.PerPage).
		ScanAndCount(ctx)
	if err != nil {
		return nil, 0, err
	}

	return records, count, nil
}

func (a *accounts) SetActive(ctx context.Context, id uuid.UUID, active bool) (*Account, error) {
	res, err := a.db.NewUpdate().
		Model((*Account)(nil)).
		Set("is_active = ?", active).
		Set("updated_at = ?", time.Now()).
		Where("?TableAlias.id = ?", id).
		Where("?TableAlias.deleted_at IS NULL").
		Exec(ctx)
	if err != nil {
		return nil, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}

	if affected == 0 {
		return nil, ErrAccountNotFound.WithMetadata(map[string]any{
			"account_id": id.String(),
		})
	}

	record := &Account{}
	if err := a.db.NewSelect().Model(record).Where("?TableAlias.id = ?", id).Scan(ctx); err != nil {
		return nil, err
	}

	return record, nil
}

func (a *accounts) TrackSuccessfulLogin(ctx context.Context, account *Account) error {
	// NOTE: raw update so login_attempt_at is reset to NULL in one write
	loggedInAt := time.Now()
	_, err := a.db.NewRaw(`
		UPDATE "accounts" AS "acct"
		SET
			"loggedin_at" = ?,
			"login_attempt_at" = NULL,
			"login_attempts" = 0
		WHERE
			("acct".id = ?)
			AND "acct"."deleted_at" IS NULL;
	`, loggedInAt, account.ID).Exec(ctx)

	return err
}

func (a *accounts) TrackAttemptedLogin(ctx context.Context, account *Account) error {
	criteria := []repository.UpdateCriteria{
		repository.UpdateByID(account.ID.String()),
	}

	record := &Account{}
	record.ID = account.ID
	record.LoginAttempts = account.LoginAttempts + 1
	now := time.Now()
	record.LoginAttemptAt = &now

	_, err := a.Repository.Update(ctx, record, criteria...)

	return err
}

func (a *accounts) Approve(ctx context.Context, actor ActorRef, account *Account, opts ...DecisionOption) (*Account, error) {
	return a.lifecycleMachine().Apply(ctx, actor, account, ActionApprove, opts...)
}

func (a *accounts) Reject(ctx context.Context, actor ActorRef, account *Account, opts ...DecisionOption) (*Account, error) {
	return a.lifecycleMachine().Apply(ctx, actor, account, ActionReject, opts...)
}

func (a *accounts) Reconsider(ctx context.Context, actor ActorRef, account *Account, opts ...DecisionOption) (*Account, error) {
	return a.lifecycleMachine().Apply(ctx, actor, account, ActionReconsider, opts...)
}

func (a *accounts) Revoke(ctx context.Context, actor ActorRef, account *Account, opts ...DecisionOption) (*Account, error) {
	return a.lifecycleMachine().Apply(ctx, actor, account, ActionRevoke, opts...)
}

func prepareAccountDefaults(record *Account) {
	if record == nil {
		return
	}

	record.EnsureApprovalState()

	// new accounts start active; deactivation is an explicit admin action
	if record.CreatedAt == nil {
		record.IsActive = true
	}

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
}

type identifierOption struct {
	column string
	value  string
}

func resolveAccountIdentifier(identifier string) []identifierOption {
	trimmed := strings.TrimSpace(identifier)
	if trimmed == "" {
		return nil
	}

	options := make([]identifierOption, 0, 2)

	if isUUID(trimmed) {
		options = append(options, identifierOption{
			column: "id",
			value:  trimmed,
		})
	}

	if isEmail(trimmed) {
		options = append(options, identifierOption{
			column: "email",
			value:  trimmed,
		})
	}

	return options
}

func isEmail(email string) bool {
	_, err := mail.ParseAddress(email)
	return err == nil
}

func isUUID(identifier string) bool {
	_, err := uuid.Parse(identifier)
	return err == nil
}

func (a *accounts) lifecycleMachine() ApprovalStateMachine {
	if a.stateMachine == nil {
		a.stateMachine = NewApprovalStateMachine(a, a.stateMachineOptions...)
	}
	return a.stateMachine
}
