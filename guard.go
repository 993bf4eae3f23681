package access

import (
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-router"
)

// RouteGuard enforces capabilities on protected navigation. It is a
// convenience layer only: the AccessControl service remains the security
// boundary. On every request the guard refetches the account, so a decision
// made by an admin seconds ago is reflected immediately.
//
// Dependencies arrive explicitly through the constructor, never through an
// ambient global.
type RouteGuard struct {
	svc          *AccessControl
	tokens       TokenService
	cfg          Config
	Logger       Logger
	DenyHandler  func(c router.Context, capability Capability, reason DenialReason) error
	ErrorHandler func(c router.Context, err error) error
}

// NewRouteGuard wires the guard to the access control service.
func NewRouteGuard(svc *AccessControl, tokens TokenService, cfg Config) *RouteGuard {
	g := &RouteGuard{
		svc:    svc,
		tokens: tokens,
		cfg:    cfg,
		Logger: defLogger{},
	}

	g.DenyHandler = g.defaultDenyHandler
	g.ErrorHandler = g.defaultErrHandler

	return g
}

// Protected returns middleware that admits the request only when the fresh
// account snapshot grants the capability. The snapshot is stored in request
// locals under the configured context key for downstream handlers.
func (g *RouteGuard) Protected(capability Capability) router.MiddlewareFunc {
	return func(hf router.HandlerFunc) router.HandlerFunc {
		return func(c router.Context) error {
			account, err := g.Subject(c)
			if err != nil {
				// store failures are not authentication denials; timeouts
				// stay retryable instead of minting a 401
				if !isSessionDenial(err) {
					return g.ErrorHandler(c, err)
				}

				// browsing stays open to anonymous callers
				if CanAccess(nil, capability) {
					return c.Next()
				}
				g.Logger.Debug("guard denied unauthenticated request path=%s", c.OriginalURL())
				return g.DenyHandler(c, capability, DenialNotAuthenticated)
			}

			if reason, denied := DenialFor(account, capability); denied {
				g.Logger.Info("guard denied request account=%s capability=%s reason=%s", account.ID, capability, reason)
				return g.DenyHandler(c, capability, reason)
			}

			c.Locals(g.cfg.GetContextKey(), account)
			return c.Next()
		}
	}
}

// Subject resolves the current account from the session token, always via a
// fresh store read. A session embedded copy of the account is never trusted.
func (g *RouteGuard) Subject(c router.Context) (*Account, error) {
	raw, err := g.tokenFromRequest(c)
	if err != nil {
		return nil, err
	}

	claims, err := g.tokens.Validate(raw)
	if err != nil {
		return nil, err
	}

	session, err := sessionFromClaims(claims)
	if err != nil {
		return nil, err
	}

	return g.svc.Account(c.Context(), session.GetAccountID())
}

// SetRedirect remembers the rejected route so the login flow can send the
// user back after authenticating.
func (g *RouteGuard) SetRedirect(c router.Context) {
	rejectedRoute := g.cfg.GetRejectedRouteKey()

	c.Cookie(&router.Cookie{
		Name:     rejectedRoute,
		Value:    c.OriginalURL(),
		Expires:  time.Now().Add(time.Minute * 5),
		HTTPOnly: true,
		Secure:   true,
		SameSite: "Lax",
	})
}

// GetRedirect pops the remembered route, falling back to the default.
func (g *RouteGuard) GetRedirect(c router.Context) string {
	rejectedRoute := g.cfg.GetRejectedRouteKey()
	r := c.Cookies(rejectedRoute)
	if r == "" {
		r = g.cfg.GetRejectedRouteDefault()
	}
	g.cookieDel(c, rejectedRoute)
	return r
}

func (g *RouteGuard) tokenFromRequest(c router.Context) (string, error) {
	lookup := g.cfg.GetTokenLookup()
	if lookup == "" {
		lookup = "cookie:" + g.cfg.GetContextKey()
	}

	for _, source := range strings.Split(lookup, ",") {
		parts := strings.SplitN(strings.TrimSpace(source), ":", 2)
		if len(parts) != 2 {
			continue
		}

		var raw string
		switch parts[0] {
		case "cookie":
			raw = c.Cookies(parts[1])
		case "header":
			raw = c.GetString(parts[1], "")
			scheme := g.cfg.GetAuthScheme()
			if scheme != "" && strings.HasPrefix(raw, scheme+" ") {
				raw = strings.TrimPrefix(raw, scheme+" ")
			}
		case "query":
			raw = c.Query(parts[1], "")
		}

		if raw != "" {
			return raw, nil
		}
	}

	return "", ErrUnableToFindSession
}

func (g *RouteGuard) defaultDenyHandler(c router.Context, capability Capability, reason DenialReason) error {
	status := router.StatusForbidden
	if reason == DenialNotAuthenticated {
		g.SetRedirect(c)
		status = router.StatusUnauthorized
	}

	return c.JSON(status, map[string]any{
		"capability": capability,
		"reason":     reason,
	})
}

func (g *RouteGuard) defaultErrHandler(c router.Context, err error) error {
	g.Logger.Error("guard error path=%s error=%v", c.OriginalURL(), err)
	return c.JSON(statusForError(err), map[string]any{
		"reason": "internal_error",
	})
}

// isSessionDenial reports whether the subject lookup failed because the
// caller has no valid session (missing cookie, bad token, stale token for a
// deleted account) as opposed to the store misbehaving.
func isSessionDenial(err error) bool {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}

	switch richErr.Category {
	case goerrors.CategoryAuth, goerrors.CategoryNotFound:
		return true
	default:
		return false
	}
}

func (g *RouteGuard) cookieDel(c router.Context, name string) {
	c.Cookie(&router.Cookie{
		Name:     name,
		Value:    "",
		Expires:  time.Now().Add(-time.Hour * (24 * 365)),
		HTTPOnly: true,
		Secure:   true,
		SameSite: "Lax",
	})
}
