package access_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	access "github.com/printmill/go-access"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticIdentity struct {
	id    string
	email string
	class access.AccountClass
}

func (s staticIdentity) ID() string                 { return s.id }
func (s staticIdentity) Email() string              { return s.email }
func (s staticIdentity) Class() access.AccountClass { return s.class }

func TestTokenServiceGenerateAndValidate(t *testing.T) {
	svc := access.NewTokenService([]byte("secret-key"), 24, "printmill", jwt.ClaimStrings{"storefront"}, nil)

	identity := staticIdentity{
		id:    "acct-123",
		email: "buyer@example.com",
		class: access.ClassWholesale,
	}

	token, err := svc.Generate(identity)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := svc.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "acct-123", claims.AccountID())
	assert.Equal(t, access.ClassWholesale, claims.Class)
	assert.Equal(t, "printmill", claims.Issuer)
	require.NotNil(t, claims.ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), claims.ExpiresAt.Time, time.Minute)
}

func TestTokenServiceGenerateNilIdentity(t *testing.T) {
	svc := access.NewTokenService([]byte("secret-key"), 24, "printmill", nil, nil)

	_, err := svc.Generate(nil)
	assert.Error(t, err)
}

func TestTokenServiceValidateExpired(t *testing.T) {
	svc := access.NewTokenService([]byte("secret-key"), -1, "printmill", nil, nil)

	token, err := svc.Generate(staticIdentity{id: "acct-123"})
	require.NoError(t, err)

	_, err = svc.Validate(token)
	require.Error(t, err)
	assert.ErrorIs(t, err, access.ErrTokenExpired)
	assert.True(t, access.IsTokenExpiredError(err))
}

func TestTokenServiceValidateWrongKey(t *testing.T) {
	mint := access.NewTokenService([]byte("secret-key"), 24, "printmill", nil, nil)
	check := access.NewTokenService([]byte("another-key"), 24, "printmill", nil, nil)

	token, err := mint.Generate(staticIdentity{id: "acct-123"})
	require.NoError(t, err)

	_, err = check.Validate(token)
	assert.Error(t, err)
}

func TestTokenServiceValidateGarbage(t *testing.T) {
	svc := access.NewTokenService([]byte("secret-key"), 24, "printmill", nil, nil)

	_, err := svc.Validate("not-a-jwt")
	require.Error(t, err)
	assert.True(t, access.IsMalformedError(err))
}

func TestTokenServiceValidateWrongIssuer(t *testing.T) {
	mint := access.NewTokenService([]byte("secret-key"), 24, "someone-else", nil, nil)
	check := access.NewTokenService([]byte("secret-key"), 24, "printmill", nil, nil)

	token, err := mint.Generate(staticIdentity{id: "acct-123"})
	require.NoError(t, err)

	_, err = check.Validate(token)
	assert.Error(t, err)
}

func TestTokenServiceValidateRejectsUnsignedToken(t *testing.T) {
	svc := access.NewTokenService([]byte("secret-key"), 24, "printmill", nil, nil)

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, &access.SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:  "printmill",
			Subject: "acct-123",
		},
	})
	token, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = svc.Validate(token)
	assert.Error(t, err)
}
