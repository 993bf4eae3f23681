package access

import (
	"context"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/nyaruka/phonenumbers"
	"github.com/uptrace/bun"
)

// RegisterAccountMessage carries everything needed to open a storefront
// account. Wholesale signups must include business details; those accounts
// start out pending review and stay locked out of purchase flows until an
// admin approves them.
type RegisterAccountMessage struct {
	DisplayName            string `json:"display_name"`
	Email                  string `json:"email"`
	Phone                  string `json:"phone"`
	Class                  string `json:"class"`
	Password               string `json:"password"`
	BusinessName           string `json:"business_name"`
	BusinessType           string `json:"business_type"`
	GSTNumber              string `json:"gst_number"`
	EstimatedMonthlyVolume string `json:"estimated_monthly_volume"`
	BusinessAddress        string `json:"business_address"`
	PhoneRegion            string `json:"phone_region"`
	UseHashid              bool
}

func (e RegisterAccountMessage) Type() string { return "account.register" }

type RegisterAccountHandler struct {
	repo   RepositoryManager
	sink   ActivitySink
	logger Logger
}

func NewRegisterAccountHandler(repo RepositoryManager, sink ActivitySink) *RegisterAccountHandler {
	return &RegisterAccountHandler{
		repo:   repo,
		sink:   normalizeActivitySink(sink),
		logger: defLogger{},
	}
}

// WithLogger overrides the default logger
func (h *RegisterAccountHandler) WithLogger(logger Logger) *RegisterAccountHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *RegisterAccountHandler) Execute(ctx context.Context, event RegisterAccountMessage) (*Account, error) {
	select {
	case <-ctx.Done():
		return nil, goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during account registration",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *RegisterAccountHandler) execute(ctx context.Context, event RegisterAccountMessage) (*Account, error) {
	account := &Account{}
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		hash, err := HashPassword(event.Password)
		if err != nil {
			var richErr *goerrors.Error
			if goerrors.As(err, &richErr) {
				return goerrors.Wrap(richErr, goerrors.CategoryValidation, "invalid password provided")
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
		}

		account.PasswordHash = hash
		account.Email = strings.ToLower(strings.TrimSpace(event.Email))
		account.Phone = normalizePhone(event.Phone, event.PhoneRegion)
		account.DisplayName = getDisplayName(event.DisplayName, account.Email)
		account.Class = event.Class
		if account.Class == "" {
			account.Class = ClassRetail
		}

		if event.UseHashid {
			if id, err := hashid.NewUUID(account.Email); err == nil {
				account.ID = id
			}
		}

		if account, err = h.repo.Accounts().RegisterTx(ctx, tx, account); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryConflict, "could not create account")
		}

		if account.IsWholesale() {
			profile := &WholesaleProfile{
				AccountID:              account.ID,
				BusinessName:           event.BusinessName,
				BusinessType:           event.BusinessType,
				GSTNumber:              event.GSTNumber,
				EstimatedMonthlyVolume: event.EstimatedMonthlyVolume,
				BusinessAddress:        event.BusinessAddress,
			}
			if _, err := h.repo.WholesaleProfiles().CreateTx(ctx, tx, profile); err != nil {
				return goerrors.Wrap(err, goerrors.CategoryConflict, "could not create wholesale profile")
			}
			account.Wholesale = profile
		}

		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return nil, richErr
		}

		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "account registration transaction failed")
	}

	if err := h.sink.Record(ctx, ActivityEvent{
		EventType: ActivityEventAccountRegistered,
		AccountID: account.ID.String(),
		ToState:   account.ApprovalState,
		Metadata: map[string]any{
			"class": account.Class,
		},
		OccurredAt: time.Now(),
	}); err != nil {
		h.logger.Warn("account registration activity sink error: %v", err)
	}

	return account, nil
}

func getDisplayName(name, email string) string {
	if name != "" {
		return name
	}

	if strings.Contains(email, "@") {
		name = strings.Split(email, "@")[0]
	}

	return name
}

// normalizePhone formats the number as E.164 when it parses, otherwise
// keeps whatever the caller sent. Registration should not fail on a
// number we merely could not parse.
func normalizePhone(raw, region string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	if region == "" {
		region = "IN"
	}

	num, err := phonenumbers.Parse(raw, region)
	if err != nil || !phonenumbers.IsValidNumber(num) {
		return raw
	}

	return phonenumbers.Format(num, phonenumbers.E164)
}
