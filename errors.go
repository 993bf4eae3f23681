package access

import (
	"context"
	"errors"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	textCodeAccountNotFound   = "ACCOUNT_NOT_FOUND"
	textCodeInvalidTransition = "INVALID_APPROVAL_TRANSITION"
	textCodeReasonRequired    = "APPROVAL_REASON_REQUIRED"
	textCodeActorForbidden    = "ACTOR_FORBIDDEN"
	textCodeSelfTransition    = "SELF_TRANSITION_FORBIDDEN"
	textCodeDecisionConflict  = "APPROVAL_DECISION_CONFLICT"
	textCodeStoreTimeout      = "ACCOUNT_STORE_TIMEOUT"
	textCodeAccountInactive   = "ACCOUNT_INACTIVE"
)

// ErrAccountNotFound is returned when an account id resolves to nothing.
var ErrAccountNotFound = goerrors.New("account not found", goerrors.CategoryNotFound).
	WithTextCode(textCodeAccountNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrInvalidTransition is returned when a requested approval change is not
// allowed for the account's class or current state.
var ErrInvalidTransition = goerrors.New("invalid approval transition", goerrors.CategoryValidation).
	WithTextCode(textCodeInvalidTransition).
	WithCode(goerrors.CodeBadRequest)

// ErrReasonRequired is returned when a transition that demands a reason is
// issued without one.
var ErrReasonRequired = goerrors.New("approval decision requires a reason", goerrors.CategoryValidation).
	WithTextCode(textCodeReasonRequired).
	WithCode(goerrors.CodeBadRequest)

// ErrActorForbidden is returned when the transition actor lacks the
// account-management capability.
var ErrActorForbidden = goerrors.New("actor may not manage accounts", goerrors.CategoryAuthz).
	WithTextCode(textCodeActorForbidden).
	WithCode(goerrors.CodeForbidden)

// ErrSelfTransition is returned when an actor targets their own account.
var ErrSelfTransition = goerrors.New("actor may not transition their own account", goerrors.CategoryAuthz).
	WithTextCode(textCodeSelfTransition).
	WithCode(goerrors.CodeForbidden)

// ErrDecisionConflict is returned when a concurrent decision won the write
// race. Safe to retry with the same idempotency key.
var ErrDecisionConflict = goerrors.New("approval decision lost a concurrent update", goerrors.CategoryConflict).
	WithTextCode(textCodeDecisionConflict).
	WithCode(goerrors.CodeConflict)

// ErrStoreTimeout is returned when the account store did not answer within
// the caller's deadline. Safe to retry with the same idempotency key.
var ErrStoreTimeout = goerrors.New("account store timed out", goerrors.CategoryOperation).
	WithTextCode(textCodeStoreTimeout).
	WithCode(goerrors.CodeInternal)

// ErrAccountInactive is returned when a deactivated account tries to log in.
var ErrAccountInactive = goerrors.New("account is deactivated", goerrors.CategoryAuth).
	WithTextCode(textCodeAccountInactive).
	WithCode(goerrors.CodeUnauthorized)

// ErrIdentityNotFound is the error we return for non found identities
var ErrIdentityNotFound = goerrors.New("identity not found", goerrors.CategoryNotFound).
	WithTextCode("IDENTITY_NOT_FOUND").
	WithCode(goerrors.CodeNotFound)

// ErrMismatchedHashAndPassword wraps a failed credential comparison
var ErrMismatchedHashAndPassword = goerrors.New("the credentials provided are invalid", goerrors.CategoryAuth).
	WithTextCode("INVALID_CREDENTIALS").
	WithCode(goerrors.CodeUnauthorized)

// ErrTooManyLoginAttempts is returned during the login cool down window
var ErrTooManyLoginAttempts = goerrors.New("too many login attempts", goerrors.CategoryRateLimit).
	WithTextCode("TOO_MANY_LOGIN_ATTEMPTS")

// ErrNoEmptyString rejects empty password input
var ErrNoEmptyString = goerrors.New("password must not be empty", goerrors.CategoryValidation).
	WithTextCode("EMPTY_PASSWORD").
	WithCode(goerrors.CodeBadRequest)

// ErrTokenExpired is returned for expired session tokens
var ErrTokenExpired = goerrors.New("session token is expired", goerrors.CategoryAuth).
	WithTextCode("TOKEN_EXPIRED").
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenMalformed is returned for undecodable session tokens
var ErrTokenMalformed = goerrors.New("session token is malformed", goerrors.CategoryAuth).
	WithTextCode("TOKEN_MALFORMED").
	WithCode(goerrors.CodeUnauthorized)

// ErrUnableToFindSession is the error when our request has no cookie
var ErrUnableToFindSession = goerrors.New("unable to find session", goerrors.CategoryAuth).
	WithTextCode("SESSION_NOT_FOUND").
	WithCode(goerrors.CodeUnauthorized)

// ErrUnableToDecodeSession unable to decode JWT from session cookie
var ErrUnableToDecodeSession = goerrors.New("unable to decode session", goerrors.CategoryAuth).
	WithTextCode("SESSION_DECODE_ERROR").
	WithCode(goerrors.CodeUnauthorized)

// ErrUnableToMapClaims unable to get claims from token
var ErrUnableToMapClaims = goerrors.New("unable to map claims", goerrors.CategoryAuth).
	WithTextCode("CLAIMS_MAPPING_ERROR").
	WithCode(goerrors.CodeUnauthorized)

// IsConflict will check for lost-update races
func IsConflict(err error) bool {
	return errors.Is(err, ErrDecisionConflict)
}

// IsRetryable reports whether a caller should retry the operation with the
// same idempotency key. Only conflicts and timeouts qualify; everything else
// is terminal for the request.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrDecisionConflict) || errors.Is(err, ErrStoreTimeout)
}

// IsTokenExpiredError will check for expired tokens
func IsTokenExpiredError(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrTokenExpired) || strings.Contains(err.Error(), "token is expired")
}

// IsMalformedError will check for error message
func IsMalformedError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "token is malformed") ||
		strings.Contains(err.Error(), "missing or malformed JWT")
}

// timeoutOr maps a deadline expiry from the store into ErrStoreTimeout while
// leaving every other error untouched.
func timeoutOr(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrStoreTimeout.WithMetadata(map[string]any{
			"cause": err.Error(),
		})
	}

	return err
}
