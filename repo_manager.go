package access

import (
	"context"
	"database/sql"
	"errors"
	"log"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// RepositoryManager exposes all repositories
type RepositoryManager interface {
	repository.Validator
	repository.TransactionManager
	Accounts() Accounts
	WholesaleProfiles() repository.Repository[*WholesaleProfile]
	ApprovalLog() repository.Repository[*ApprovalEntry]
}

func NewWholesaleProfilesRepository(db *bun.DB) repository.Repository[*WholesaleProfile] {
	handlers := repository.ModelHandlers[*WholesaleProfile]{
		NewRecord: func() *WholesaleProfile {
			return &WholesaleProfile{}
		},
		GetID: func(record *WholesaleProfile) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return record.ID
		},
		SetID: func(record *WholesaleProfile, id uuid.UUID) {
			record.ID = id
		},
		GetIdentifier: func() string {
			return "account_id"
		},
	}
	return repository.NewRepository(db, handlers)
}

// NewApprovalLogRepository exposes the audit log for read paths. Writes only
// ever happen inside Accounts.ApplyDecision, in the same transaction as the
// state change.
func NewApprovalLogRepository(db *bun.DB) repository.Repository[*ApprovalEntry] {
	handlers := repository.ModelHandlers[*ApprovalEntry]{
		NewRecord: func() *ApprovalEntry {
			return &ApprovalEntry{}
		},
		GetID: func(record *ApprovalEntry) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return record.ID
		},
		SetID: func(record *ApprovalEntry, id uuid.UUID) {
			record.ID = id
		},
		GetIdentifier: func() string {
			return "idempotency_key"
		},
	}
	return repository.NewRepository(db, handlers)
}

type mngr struct {
	db                *bun.DB
	accounts          Accounts
	wholesaleProfiles repository.Repository[*WholesaleProfile]
	approvalLog       repository.Repository[*ApprovalEntry]
}

func NewRepositoryManager(db *bun.DB, opts ...AccountsOption) RepositoryManager {
	return &mngr{
		db:                db,
		accounts:          NewAccountsRepository(db, opts...),
		wholesaleProfiles: NewWholesaleProfilesRepository(db),
		approvalLog:       NewApprovalLogRepository(db),
	}
}

func (m mngr) Validate() error {
	if m.accounts == nil {
		return errors.New("repository accounts should be initialized")
	}

	if m.wholesaleProfiles == nil {
		return errors.New("repository wholesaleProfiles should be initialized")
	}

	if m.approvalLog == nil {
		return errors.New("repository approvalLog should be initialized")
	}

	return nil
}

func (m mngr) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m mngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m mngr) Accounts() Accounts {
	return m.accounts
}

func (m mngr) WholesaleProfiles() repository.Repository[*WholesaleProfile] {
	return m.wholesaleProfiles
}

func (m mngr) ApprovalLog() repository.Repository[*ApprovalEntry] {
	return m.approvalLog
}
