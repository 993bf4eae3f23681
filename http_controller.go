package access

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	"github.com/goliatone/go-router/flash"
)

// AccountFromContext retrieves the account snapshot a RouteGuard stored in
// request locals.
func AccountFromContext(c router.Context, key string) (*Account, error) {
	val := c.Locals(key)
	if val == nil {
		return nil, ErrUnableToFindSession
	}

	account, ok := val.(*Account)
	if account == nil || !ok {
		return nil, ErrUnableToDecodeSession
	}

	return account, nil
}

// RegisterAccessRoutes mounts the public account endpoints (register, login,
// logout) and the admin review API. Admin routes are wrapped with the guard's
// manage_accounts capability check; every other enforcement rule lives in the
// AccessControl service.
func RegisterAccessRoutes[T any](app router.Router[T], opts ...AccessControllerOption) {

	controller := NewAccessController(opts...)

	admin := controller.Guard.Protected(CapabilityManageAccounts)

	app.Get(controller.Routes.Login, controller.LoginShow).
		SetName("sign-in.get")
	app.Post(controller.Routes.Login, controller.LoginPost).
		SetName("sign-in.post")

	app.Get(controller.Routes.Logout, controller.LogOut).
		SetName("sign-out.get")

	app.Get(controller.Routes.Register, controller.RegistrationShow).
		SetName("register.get")
	app.Post(controller.Routes.Register, controller.RegistrationCreate).
		SetName("register.post")

	app.Get(controller.Routes.ReviewQueue, controller.ReviewQueueList, admin).
		SetName("review-queue.get")

	for _, action := range []ApprovalAction{
		ActionApprove, ActionReject, ActionReconsider, ActionRevoke,
	} {
		action := action
		app.Post(
			fmt.Sprintf("%s/:id/%s", controller.Routes.Accounts, action),
			controller.Decide(action),
			admin,
		).SetName("account." + string(action) + ".post")
	}

	app.Get(fmt.Sprintf("%s/:id/history", controller.Routes.Accounts), controller.HistoryList, admin).
		SetName("account.history.get")

	app.Post(fmt.Sprintf("%s/:id/deactivate", controller.Routes.Accounts), controller.Deactivate, admin).
		SetName("account.deactivate.post")
	app.Post(fmt.Sprintf("%s/:id/reactivate", controller.Routes.Accounts), controller.Reactivate, admin).
		SetName("account.reactivate.post")
}

type AccessControllerRoutes struct {
	Login       string
	Logout      string
	Register    string
	ReviewQueue string
	Accounts    string
}

type AccessControllerViews struct {
	Login    string
	Register string
}

type AccessController struct {
	Debug        bool
	Logger       Logger
	Repo         RepositoryManager
	Service      *AccessControl
	Provider     IdentityProvider
	Tokens       TokenService
	Guard        *RouteGuard
	Cfg          Config
	Sink         ActivitySink
	Routes       *AccessControllerRoutes
	Views        *AccessControllerViews
	ErrorHandler router.ErrorHandler
}

type AccessControllerOption func(*AccessController) *AccessController

func NewAccessController(opts ...AccessControllerOption) *AccessController {
	c := &AccessController{
		Logger:       defLogger{},
		ErrorHandler: defaultErrHandler,
		Routes: &AccessControllerRoutes{
			Login:       "/login",
			Logout:      "/logout",
			Register:    "/register",
			ReviewQueue: "/admin/review-queue",
			Accounts:    "/admin/accounts",
		},
		Views: &AccessControllerViews{
			Login:    "login",
			Register: "register",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Repo == nil {
		panic("Missing RepositoryManager in access controller...")
	}

	if c.Service == nil {
		panic("Missing AccessControl service in access controller...")
	}

	if c.Guard == nil {
		panic("Missing RouteGuard in access controller...")
	}

	return c
}

func WithControllerLogger(logger Logger) AccessControllerOption {
	return func(c *AccessController) *AccessController {
		if logger != nil {
			c.Logger = logger
		}
		return c
	}
}

func WithControllerRepo(repo RepositoryManager) AccessControllerOption {
	return func(c *AccessController) *AccessController {
		c.Repo = repo
		return c
	}
}

func WithControllerService(svc *AccessControl) AccessControllerOption {
	return func(c *AccessController) *AccessController {
		c.Service = svc
		return c
	}
}

func WithControllerGuard(guard *RouteGuard) AccessControllerOption {
	return func(c *AccessController) *AccessController {
		c.Guard = guard
		return c
	}
}

func WithControllerProvider(provider IdentityProvider) AccessControllerOption {
	return func(c *AccessController) *AccessController {
		c.Provider = provider
		return c
	}
}

func WithControllerTokens(tokens TokenService) AccessControllerOption {
	return func(c *AccessController) *AccessController {
		c.Tokens = tokens
		return c
	}
}

func WithControllerSink(sink ActivitySink) AccessControllerOption {
	return func(c *AccessController) *AccessController {
		c.Sink = sink
		return c
	}
}

func WithControllerConfig(cfg Config) AccessControllerOption {
	return func(c *AccessController) *AccessController {
		c.Cfg = cfg
		return c
	}
}

func WithControllerRoutes(routes *AccessControllerRoutes) AccessControllerOption {
	return func(c *AccessController) *AccessController {
		if routes != nil {
			c.Routes = routes
		}
		return c
	}
}

func WithControllerDebug(debug bool) AccessControllerOption {
	return func(c *AccessController) *AccessController {
		c.Debug = debug
		return c
	}
}

func (a *AccessController) LoginShow(ctx router.Context) error {
	return ctx.Render(a.Views.Login, router.ViewContext{
		"errors": nil,
		"record": nil,
	})
}

// LoginRequest payload
type LoginRequest struct {
	Identifier string `form:"identifier" json:"identifier"`
	Password   string `form:"password" json:"password"`
	RememberMe bool   `form:"remember_me" json:"remember_me"`
}

// Validate will run validation rules
func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(
			&r.Identifier,
			validation.Required,
			is.Email,
		),
		validation.Field(
			&r.Password,
			validation.Required,
		),
	)
}

func (a *AccessController) LoginPost(ctx router.Context) error {
	payload := new(LoginRequest)
	errs := map[string]string{}

	if err := ctx.Bind(payload); err != nil {
		return a.ErrorHandler(ctx, err)
	}

	if err := payload.Validate(); err != nil {
		return ctx.Render(a.Views.Login, router.ViewContext{
			"record":     payload,
			"validation": FormatValidationErrorToMap(err),
		})
	}

	if a.Debug {
		fmt.Println("======= ACCESS LOGIN =======")
		fmt.Println(print.MaybePrettyJSON(payload))
		fmt.Println("============================")
	}

	identity, err := a.Provider.VerifyIdentity(ctx.Context(), payload.Identifier, payload.Password)
	if err != nil {
		a.Logger.Error("login verify identity: ", "error", err)
		errs["authentication"] = "Authentication Error"
		return ctx.Render(a.Views.Login, router.ViewContext{
			"errors":  errs,
			"payload": payload,
		})
	}

	token, err := a.Tokens.Generate(identity)
	if err != nil {
		a.Logger.Error("login generate token: ", "error", err)
		return a.ErrorHandler(ctx, err)
	}

	duration := time.Hour * time.Duration(a.Cfg.GetTokenExpiration())
	if payload.RememberMe {
		duration = duration * 7
	}

	ctx.Cookie(&router.Cookie{
		Name:     a.Cfg.GetContextKey(),
		Value:    token,
		Expires:  time.Now().Add(duration),
		HTTPOnly: true,
	})

	redirect := a.Guard.GetRedirect(ctx)
	if redirect == "" {
		redirect = "/"
	}

	return ctx.Redirect(redirect, router.StatusSeeOther)
}

func (a *AccessController) LogOut(ctx router.Context) error {
	a.Guard.cookieDel(ctx, a.Cfg.GetContextKey())
	return ctx.Redirect("/", router.StatusTemporaryRedirect)
}

func (a *AccessController) RegistrationShow(ctx router.Context) error {
	return ctx.Render(a.Views.Register, router.ViewContext{
		"errors": map[string]string{},
		"record": RegisterAccountMessage{},
	})
}

// RegistrationCreatePayload is the signup form payload. Wholesale signups
// must include business details; retail signups must not be forced to fill
// them in.
type RegistrationCreatePayload struct {
	DisplayName            string `form:"display_name" json:"display_name"`
	Email                  string `form:"email" json:"email"`
	Phone                  string `form:"phone_number" json:"phone_number"`
	Class                  string `form:"class" json:"class"`
	Password               string `form:"password" json:"password"`
	ConfirmPassword        string `form:"confirm_password" json:"confirm_password"`
	BusinessName           string `form:"business_name" json:"business_name"`
	BusinessType           string `form:"business_type" json:"business_type"`
	GSTNumber              string `form:"gst_number" json:"gst_number"`
	EstimatedMonthlyVolume string `form:"estimated_monthly_volume" json:"estimated_monthly_volume"`
	BusinessAddress        string `form:"business_address" json:"business_address"`
}

// Validate will validate the payload
func (r RegistrationCreatePayload) Validate() error {
	fields := []*validation.FieldRules{
		validation.Field(&r.DisplayName, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.Email, validation.Required, validation.Length(6, 100), is.Email),
		validation.Field(&r.Phone, validation.Length(10, 15)),
		validation.Field(&r.Class, validation.In("", ClassRetail, ClassWholesale)),
		validation.Field(&r.Password, validation.Required, validation.Length(10, 100)),
		validation.Field(
			&r.ConfirmPassword,
			validation.Required,
			validation.Length(10, 100),
			validation.By(ValidateStringEquals(r.Password)),
		),
	}

	if r.Class == ClassWholesale {
		fields = append(fields,
			validation.Field(&r.BusinessName, validation.Required, validation.Length(2, 200)),
			validation.Field(&r.BusinessType, validation.Required, validation.Length(2, 100)),
			validation.Field(&r.GSTNumber, validation.Required, validation.Length(15, 15)),
			validation.Field(&r.EstimatedMonthlyVolume, validation.Required),
			validation.Field(&r.BusinessAddress, validation.Required, validation.Length(10, 500)),
		)
	}

	return validation.ValidateStruct(&r, fields...)
}

func (a *AccessController) RegistrationCreate(ctx router.Context) error {
	payload := new(RegistrationCreatePayload)

	if err := ctx.Bind(payload); err != nil {
		errs := map[string]string{}
		errs["form"] = "Failed to parse form"
		a.Logger.Error("register account parse payload: ", "error", err)
		return flash.WithError(ctx, router.ViewContext{
			"error_message":  err.Error(),
			"system_message": "Error parsing body",
		}).Status(fiber.StatusBadRequest).Render(a.Views.Register, router.ViewContext{
			"errors": errs,
			"record": payload,
		})
	}

	if err := payload.Validate(); err != nil {
		errs := FormatValidationErrorToMap(err)
		a.Logger.Error("register account validate payload: ", "error", err)

		return flash.WithError(ctx, router.ViewContext{
			"error_message":  err.Error(),
			"system_message": "Error validating payload",
		}).Render(a.Views.Register, router.ViewContext{
			"record":     payload,
			"validation": errs,
		})
	}

	req := RegisterAccountMessage{
		DisplayName:            payload.DisplayName,
		Email:                  payload.Email,
		Phone:                  payload.Phone,
		Class:                  payload.Class,
		Password:               payload.Password,
		BusinessName:           payload.BusinessName,
		BusinessType:           payload.BusinessType,
		GSTNumber:              payload.GSTNumber,
		EstimatedMonthlyVolume: payload.EstimatedMonthlyVolume,
		BusinessAddress:        payload.BusinessAddress,
	}

	registerAccount := NewRegisterAccountHandler(a.Repo, a.Sink).WithLogger(a.Logger)
	if _, err := registerAccount.Execute(ctx.Context(), req); err != nil {
		a.Logger.Error("register account: ", "error", err)

		return flash.WithError(ctx, router.ViewContext{
			"error_message":  err.Error(),
			"system_message": "Error creating account",
		}).Render(a.Views.Register, router.ViewContext{
			"record": payload,
			"errors": []string{err.Error()},
		})
	}

	return flash.WithSuccess(ctx, router.ViewContext{
		"system_message": "Successful account registration",
	}).Redirect("/", fiber.StatusSeeOther)
}

// DecisionPayload is the body of the approval mutation endpoints.
type DecisionPayload struct {
	Reason         string `form:"reason" json:"reason"`
	IdempotencyKey string `form:"idempotency_key" json:"idempotency_key"`
}

// Validate will run validation rules
func (r DecisionPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Reason, validation.Length(0, 500)),
		validation.Field(&r.IdempotencyKey, validation.Length(0, 100)),
	)
}

// Decide returns a handler that applies the given approval action to the
// account in the URL. Whether a reason is mandatory for the action is decided
// by the service, not here.
func (a *AccessController) Decide(action ApprovalAction) router.HandlerFunc {
	return func(ctx router.Context) error {
		actor, err := a.actorRef(ctx)
		if err != nil {
			return a.renderError(ctx, err)
		}

		payload := new(DecisionPayload)
		if err := ctx.Bind(payload); err != nil {
			return ctx.JSON(router.StatusBadRequest, map[string]any{
				"error": "failed to parse body",
			})
		}

		if err := payload.Validate(); err != nil {
			return ctx.JSON(router.StatusBadRequest, map[string]any{
				"error":      "invalid payload",
				"validation": FormatValidationErrorToMap(err),
			})
		}

		if a.Debug {
			fmt.Println("======= ACCESS DECISION =======")
			fmt.Println(print.MaybePrettyJSON(payload))
			fmt.Println("===============================")
		}

		account, err := a.Service.Transition(
			ctx.Context(),
			ctx.Param("id"),
			action,
			actor,
			payload.Reason,
			payload.IdempotencyKey,
		)
		if err != nil {
			a.Logger.Error("approval decision: ", "action", action, "error", err)
			return a.renderError(ctx, err)
		}

		return ctx.JSON(router.StatusOK, map[string]any{
			"account": account,
		})
	}
}

func (a *AccessController) ReviewQueueList(ctx router.Context) error {
	query := ReviewQueueQuery{
		State:   ctx.Query("state", ApprovalPending),
		Page:    queryInt(ctx, "page", 1),
		PerPage: queryInt(ctx, "per_page", 25),
	}

	items, total, err := a.Service.ReviewQueue(ctx.Context(), query)
	if err != nil {
		a.Logger.Error("review queue list: ", "error", err)
		return a.renderError(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"items":    items,
		"total":    total,
		"page":     query.Page,
		"per_page": query.PerPage,
	})
}

func (a *AccessController) HistoryList(ctx router.Context) error {
	entries, err := a.Service.History(
		ctx.Context(),
		ctx.Param("id"),
		queryInt(ctx, "page", 1),
		queryInt(ctx, "per_page", 50),
	)
	if err != nil {
		a.Logger.Error("approval history: ", "error", err)
		return a.renderError(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"items": entries,
	})
}

func (a *AccessController) Deactivate(ctx router.Context) error {
	return a.setActive(ctx, a.Service.Deactivate)
}

func (a *AccessController) Reactivate(ctx router.Context) error {
	return a.setActive(ctx, a.Service.Reactivate)
}

func (a *AccessController) setActive(ctx router.Context, op func(ctx context.Context, accountID string, actor ActorRef) (*Account, error)) error {
	actor, err := a.actorRef(ctx)
	if err != nil {
		return a.renderError(ctx, err)
	}

	account, err := op(ctx.Context(), ctx.Param("id"), actor)
	if err != nil {
		a.Logger.Error("account active toggle: ", "error", err)
		return a.renderError(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"account": account,
	})
}

func (a *AccessController) actorRef(ctx router.Context) (ActorRef, error) {
	account, err := AccountFromContext(ctx, a.Cfg.GetContextKey())
	if err != nil {
		return ActorRef{}, err
	}

	return ActorRef{
		ID:   account.ID.String(),
		Type: account.Class,
	}, nil
}

func (a *AccessController) renderError(ctx router.Context, err error) error {
	return ctx.JSON(statusForError(err), map[string]any{
		"error": err.Error(),
	})
}

// statusForError maps the error taxonomy onto HTTP statuses.
func statusForError(err error) int {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return router.StatusInternalServerError
	}

	switch richErr.Category {
	case goerrors.CategoryNotFound:
		return fiber.StatusNotFound
	case goerrors.CategoryValidation, goerrors.CategoryBadInput:
		return router.StatusBadRequest
	case goerrors.CategoryAuth:
		return router.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return router.StatusForbidden
	case goerrors.CategoryConflict:
		return fiber.StatusConflict
	case goerrors.CategoryRateLimit:
		return fiber.StatusTooManyRequests
	case goerrors.CategoryOperation:
		return fiber.StatusGatewayTimeout
	default:
		return router.StatusInternalServerError
	}
}

func queryInt(ctx router.Context, name string, def int) int {
	raw := ctx.Query(name, "")
	if raw == "" {
		return def
	}

	val, err := strconv.Atoi(raw)
	if err != nil || val < 1 {
		return def
	}

	return val
}

// FormatValidationErrorToMap flattens ozzo validation errors into a
// field -> message map suitable for templates and JSON responses.
func FormatValidationErrorToMap(err error) map[string]string {
	out := map[string]string{}

	var verrs validation.Errors
	if errors.As(err, &verrs) {
		for field, ferr := range verrs {
			out[field] = ferr.Error()
		}
		return out
	}

	if err != nil {
		out["error"] = err.Error()
	}

	return out
}

// ValidateStringEquals will check that both values match
func ValidateStringEquals(str string) validation.RuleFunc {
	return func(value any) error {
		s, _ := value.(string)
		if s != str {
			return errors.New("values must match")
		}
		return nil
	}
}

func defaultErrHandler(c router.Context, err error) error {
	return c.Render("errors/500", router.ViewContext{
		"message": err.Error(),
	})
}
