package access

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var _ Session = &SessionObject{}

// SessionObject is the decoded per-request session. It deliberately carries
// the subject id and class only: approval state is always refetched from the
// store, never trusted from a long-lived token.
type SessionObject struct {
	AccountID      string         `json:"account_id,omitempty"`
	Class          AccountClass   `json:"account_class,omitempty"`
	Audience       []string       `json:"audience,omitempty"`
	Issuer         string         `json:"issuer,omitempty"`
	IssuedAt       *time.Time     `json:"issued_at,omitempty"`
	ExpirationDate *time.Time     `json:"expiration_date,omitempty"`
	Data           map[string]any `json:"data,omitempty"`
}

func (s *SessionObject) GetAccountID() string {
	return s.AccountID
}

func (s *SessionObject) GetAccountUUID() (uuid.UUID, error) {
	return uuid.Parse(s.AccountID)
}

func (s *SessionObject) GetAudience() []string {
	return s.Audience
}

func (s *SessionObject) GetIssuer() string {
	return s.Issuer
}

func (s *SessionObject) GetIssuedAt() *time.Time {
	return s.IssuedAt
}

func (s *SessionObject) GetData() map[string]any {
	return s.Data
}

func (s SessionObject) String() string {
	issuedAt := "<nil>"
	if s.IssuedAt != nil {
		issuedAt = s.IssuedAt.Format(time.RFC1123)
	}
	return fmt.Sprintf(
		"account=%s class=%s aud=%v iss=%s iat=%s",
		s.AccountID,
		s.Class,
		s.Audience,
		s.Issuer,
		issuedAt,
	)
}

// SessionClaims is the JWT payload minted at login.
type SessionClaims struct {
	jwt.RegisteredClaims
	UID   string       `json:"uid,omitempty"`
	Class AccountClass `json:"class,omitempty"`
}

// AccountID returns the subject account id
func (c *SessionClaims) AccountID() string {
	if c.UID != "" {
		return c.UID
	}
	return c.RegisteredClaims.Subject
}

func sessionFromClaims(claims *SessionClaims) (*SessionObject, error) {
	if claims == nil {
		return nil, ErrUnableToMapClaims
	}

	session := &SessionObject{
		AccountID: claims.AccountID(),
		Class:     claims.Class,
		Issuer:    claims.RegisteredClaims.Issuer,
	}

	for _, aud := range claims.RegisteredClaims.Audience {
		session.Audience = append(session.Audience, aud)
	}

	if claims.RegisteredClaims.IssuedAt != nil {
		issuedAt := claims.RegisteredClaims.IssuedAt.Time
		session.IssuedAt = &issuedAt
	}

	if claims.RegisteredClaims.ExpiresAt != nil {
		expiresAt := claims.RegisteredClaims.ExpiresAt.Time
		session.ExpirationDate = &expiresAt
	}

	return session, nil
}
