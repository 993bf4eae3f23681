package access_test

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-router"
	access "github.com/printmill/go-access"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newGuard(t *testing.T) (*access.RouteGuard, access.TokenService, access.RepositoryManager, func()) {
	t.Helper()

	repo, _, cleanup := setupRepoManager(t)
	svc := access.NewAccessControl(repo)
	cfg := newTestConfig()

	tokens := access.NewTokenService(
		[]byte(cfg.GetSigningKey()),
		cfg.GetTokenExpiration(),
		cfg.GetIssuer(),
		jwt.ClaimStrings(cfg.GetAudience()),
		nil,
	)

	return access.NewRouteGuard(svc, tokens, cfg), tokens, repo, cleanup
}

func tokenFor(t *testing.T, tokens access.TokenService, account *access.Account) string {
	t.Helper()

	token, err := tokens.Generate(staticIdentity{
		id:    account.ID.String(),
		email: account.Email,
		class: account.Class,
	})
	require.NoError(t, err)
	return token
}

func anonymousRequest(ctx *MockContext) {
	ctx.On("Cookies", "printmill_session").Return("")
	ctx.On("GetString", "Authorization", "").Return("")
}

func passthrough(c router.Context) error {
	return c.Next()
}

func TestProtectedAllowsAnonymousBrowse(t *testing.T) {
	guard, _, _, cleanup := newGuard(t)
	defer cleanup()

	ctx := &MockContext{}
	anonymousRequest(ctx)

	handler := guard.Protected(access.CapabilityBrowse)(passthrough)
	require.NoError(t, handler(ctx))

	assert.True(t, ctx.NextCalled)
}

func TestProtectedDeniesAnonymousCheckout(t *testing.T) {
	guard, _, _, cleanup := newGuard(t)
	defer cleanup()

	ctx := &MockContext{}
	anonymousRequest(ctx)
	ctx.On("OriginalURL").Return("/checkout")
	ctx.On("Cookie", mock.AnythingOfType("*router.Cookie")).Return()
	ctx.On("JSON", router.StatusUnauthorized, mock.MatchedBy(func(v any) bool {
		body, ok := v.(map[string]any)
		return ok && body["reason"] == access.DenialNotAuthenticated
	})).Return(nil)

	handler := guard.Protected(access.CapabilityCheckout)(passthrough)
	require.NoError(t, handler(ctx))

	assert.False(t, ctx.NextCalled)
	ctx.AssertExpectations(t)
}

func TestProtectedDeniesPendingAccount(t *testing.T) {
	guard, tokens, repo, cleanup := newGuard(t)
	defer cleanup()

	pending := seedPendingWholesale(t, repo)

	ctx := &MockContext{}
	ctx.On("Cookies", "printmill_session").Return(tokenFor(t, tokens, pending))
	ctx.On("Context").Return(context.Background())
	ctx.On("JSON", router.StatusForbidden, mock.MatchedBy(func(v any) bool {
		body, ok := v.(map[string]any)
		return ok && body["reason"] == access.DenialPendingApproval
	})).Return(nil)

	handler := guard.Protected(access.CapabilityCheckout)(passthrough)
	require.NoError(t, handler(ctx))

	assert.False(t, ctx.NextCalled)
	ctx.AssertExpectations(t)
}

func TestProtectedAdmitsApprovedAccountAndStoresSnapshot(t *testing.T) {
	guard, tokens, repo, cleanup := newGuard(t)
	defer cleanup()

	retail := seedAccount(t, repo, access.ClassRetail)

	ctx := &MockContext{}
	ctx.On("Cookies", "printmill_session").Return(tokenFor(t, tokens, retail))
	ctx.On("Context").Return(context.Background())
	ctx.On("Locals", "printmill_session", mock.MatchedBy(func(v any) bool {
		account, ok := v.(*access.Account)
		return ok && account.ID == retail.ID
	})).Return(nil)

	handler := guard.Protected(access.CapabilityCheckout)(passthrough)
	require.NoError(t, handler(ctx))

	assert.True(t, ctx.NextCalled)
	ctx.AssertExpectations(t)
}

func TestProtectedRefetchesAccountState(t *testing.T) {
	guard, tokens, repo, cleanup := newGuard(t)
	defer cleanup()

	staff := seedStaff(t, repo)
	customer := seedPendingWholesale(t, repo)
	token := tokenFor(t, tokens, customer)

	actor := access.ActorRef{ID: staff.ID.String(), Type: staff.Class}
	_, err := repo.Accounts().Approve(context.Background(), actor, customer)
	require.NoError(t, err)

	// the token was minted while pending, but the guard trusts the store
	ctx := &MockContext{}
	ctx.On("Cookies", "printmill_session").Return(token)
	ctx.On("Context").Return(context.Background())
	ctx.On("Locals", "printmill_session", mock.Anything).Return(nil)

	handler := guard.Protected(access.CapabilityCheckout)(passthrough)
	require.NoError(t, handler(ctx))

	assert.True(t, ctx.NextCalled)
}

func TestProtectedDeniesGarbageToken(t *testing.T) {
	guard, _, _, cleanup := newGuard(t)
	defer cleanup()

	ctx := &MockContext{}
	ctx.On("Cookies", "printmill_session").Return("not-a-jwt")
	ctx.On("OriginalURL").Return("/orders")
	ctx.On("Cookie", mock.AnythingOfType("*router.Cookie")).Return()
	ctx.On("JSON", router.StatusUnauthorized, mock.MatchedBy(func(v any) bool {
		body, ok := v.(map[string]any)
		return ok && body["reason"] == access.DenialNotAuthenticated
	})).Return(nil)

	handler := guard.Protected(access.CapabilityViewOrders)(passthrough)
	require.NoError(t, handler(ctx))

	assert.False(t, ctx.NextCalled)
}

func TestProtectedSurfacesStoreFailure(t *testing.T) {
	guard, tokens, repo, cleanup := newGuard(t)
	defer cleanup()

	retail := seedAccount(t, repo, access.ClassRetail)

	expired, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	var handled error
	guard.ErrorHandler = func(c router.Context, err error) error {
		handled = err
		return nil
	}
	guard.DenyHandler = func(c router.Context, capability access.Capability, reason access.DenialReason) error {
		t.Fatalf("store failure must not be reported as a %s denial", reason)
		return nil
	}

	ctx := &MockContext{}
	ctx.On("Cookies", "printmill_session").Return(tokenFor(t, tokens, retail))
	ctx.On("Context").Return(expired)

	handler := guard.Protected(access.CapabilityCheckout)(passthrough)
	require.NoError(t, handler(ctx))

	assert.False(t, ctx.NextCalled)
	require.Error(t, handled)
	assert.ErrorIs(t, handled, access.ErrStoreTimeout)
	assert.True(t, access.IsRetryable(handled))
}

func TestGuardRedirectRoundtrip(t *testing.T) {
	guard, _, _, cleanup := newGuard(t)
	defer cleanup()

	ctx := &MockContext{}
	ctx.On("Cookies", "rejected_route").Return("/wholesale/prices")
	ctx.On("Cookie", mock.AnythingOfType("*router.Cookie")).Return()

	assert.Equal(t, "/wholesale/prices", guard.GetRedirect(ctx))
}

func TestGuardRedirectFallsBackToDefault(t *testing.T) {
	guard, _, _, cleanup := newGuard(t)
	defer cleanup()

	ctx := &MockContext{}
	ctx.On("Cookies", "rejected_route").Return("")
	ctx.On("Cookie", mock.AnythingOfType("*router.Cookie")).Return()

	assert.Equal(t, "/", guard.GetRedirect(ctx))
}
