package access

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// AccountClass identifies the business relationship an account represents.
// The class is fixed at creation; changing business type is a new-account
// operation so privileges never change silently.
type AccountClass = string

const (
	// ClassRetail is a regular consumer account
	ClassRetail AccountClass = "retail"
	// ClassWholesale is a business account subject to approval
	ClassWholesale AccountClass = "wholesale"
	// ClassStaff is a back-office account with full capability bypass
	ClassStaff AccountClass = "staff"
)

// ApprovalState is the review status gating wholesale capabilities.
type ApprovalState = string

const (
	// ApprovalPending means the account is waiting in the review queue
	ApprovalPending ApprovalState = "pending"
	// ApprovalApproved means an admin granted the account full access
	ApprovalApproved ApprovalState = "approved"
	// ApprovalRejected means an admin denied the account
	ApprovalRejected ApprovalState = "rejected"
)

// Account is the persisted identity record
type Account struct {
	bun.BaseModel  `bun:"table:accounts,alias:acct"`
	ID             uuid.UUID         `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Class          AccountClass      `bun:"account_class,notnull" json:"account_class,omitempty"`
	ApprovalState  ApprovalState     `bun:"approval_state,notnull" json:"approval_state,omitempty"`
	DisplayName    string            `bun:"display_name,notnull" json:"display_name,omitempty"`
	Email          string            `bun:"email,notnull,unique" json:"email,omitempty"`
	Phone          string            `bun:"phone_number" json:"phone_number,omitempty"`
	PasswordHash   string            `bun:"password_hash" json:"password_hash,omitempty"`
	IsActive       bool              `bun:"is_active" json:"is_active"`
	Version        int64             `bun:"version,notnull,default:0" json:"version"`
	LoginAttempts  int               `bun:"login_attempts" json:"login_attempts,omitempty"`
	LoginAttemptAt *time.Time        `bun:"login_attempt_at" json:"login_attempt_at,omitempty"`
	LoggedInAt     *time.Time        `bun:"loggedin_at" json:"loggedin_at,omitempty"`
	Metadata       map[string]any    `bun:"metadata" json:"metadata,omitempty"`
	Wholesale      *WholesaleProfile `bun:"rel:has-one,join:id=account_id" json:"wholesale,omitempty"`
	CreatedAt      *time.Time        `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt      *time.Time        `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
	DeletedAt      *time.Time        `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// EnsureApprovalState seeds the approval state from the account class when
// unset: wholesale accounts enter the review queue, everything else is
// approved at creation and never transitions.
func (a *Account) EnsureApprovalState() {
	if a.Class == "" {
		a.Class = ClassRetail
	}

	if a.ApprovalState != "" {
		return
	}

	if a.Class == ClassWholesale {
		a.ApprovalState = ApprovalPending
		return
	}

	a.ApprovalState = ApprovalApproved
}

// IsWholesale reports whether the account is a wholesale account
func (a *Account) IsWholesale() bool {
	return a != nil && a.Class == ClassWholesale
}

// IsStaff reports whether the account is a back-office account
func (a *Account) IsStaff() bool {
	return a != nil && a.Class == ClassStaff
}

// IsApproved reports whether the account passed review
func (a *Account) IsApproved() bool {
	return a != nil && a.ApprovalState == ApprovalApproved
}

// IsPending reports whether the account is waiting for review
func (a *Account) IsPending() bool {
	return a != nil && a.ApprovalState == ApprovalPending
}

// IsRejected reports whether the account was denied
func (a *Account) IsRejected() bool {
	return a != nil && a.ApprovalState == ApprovalRejected
}

// AddMetadata will append information to a metadata attribute
func (a *Account) AddMetadata(key string, val any) *Account {
	if a.Metadata == nil {
		a.Metadata = make(map[string]any)
	}
	a.Metadata[key] = val
	return a
}

// WholesaleProfile carries the optional business metadata attached to
// wholesale accounts. It is owned by, but distinct from, the Account so the
// approval state machine never depends on it.
type WholesaleProfile struct {
	bun.BaseModel          `bun:"table:wholesale_profiles,alias:wsp"`
	ID                     uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	AccountID              uuid.UUID  `bun:"account_id,notnull,unique,type:uuid" json:"account_id,omitempty"`
	BusinessName           string     `bun:"business_name,notnull" json:"business_name,omitempty"`
	BusinessType           string     `bun:"business_type" json:"business_type,omitempty"`
	GSTNumber              string     `bun:"gst_number" json:"gst_number,omitempty"`
	EstimatedMonthlyVolume string     `bun:"estimated_monthly_volume" json:"estimated_monthly_volume,omitempty"`
	BusinessAddress        string     `bun:"business_address" json:"business_address,omitempty"`
	CreatedAt              *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt              *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// ApprovalEntry is one append-only audit row. Rows are written in the same
// transaction as the state change and are never mutated or deleted.
type ApprovalEntry struct {
	bun.BaseModel  `bun:"table:approval_log,alias:apl"`
	ID             uuid.UUID      `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	AccountID      uuid.UUID      `bun:"account_id,notnull,type:uuid" json:"account_id,omitempty"`
	Action         ApprovalAction `bun:"action,notnull" json:"action,omitempty"`
	FromState      ApprovalState  `bun:"from_state,notnull" json:"from_state,omitempty"`
	ToState        ApprovalState  `bun:"to_state,notnull" json:"to_state,omitempty"`
	ActorID        string         `bun:"actor_id,notnull" json:"actor_id,omitempty"`
	ActorType      string         `bun:"actor_type" json:"actor_type,omitempty"`
	Reason         string         `bun:"reason" json:"reason,omitempty"`
	IdempotencyKey string         `bun:"idempotency_key,nullzero" json:"idempotency_key,omitempty"`
	OccurredAt     time.Time      `bun:"occurred_at,notnull" json:"occurred_at,omitempty"`
}
