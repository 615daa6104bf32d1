package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bookline/internal/domain"
	"bookline/internal/engine"
	"bookline/internal/engine/auth"
	"bookline/internal/lock"
	"bookline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	// Metrics is served on /metrics when set.
	Metrics prometheus.Gatherer
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"slot_unavailable"`
	Message string         `json:"message" example:"slot 2024-03-04 10:00 is already booked"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type bodyBytesKey struct{}

// apiError models the error envelope {"error":{...}}.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Bookline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, errorDetails(errs))
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity {
			// Schema validation failures are plain bad requests.
			status = http.StatusBadRequest
		}
		return newAPIError(status, "", msg, errorDetails(errs))
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	if cfg.Metrics != nil {
		router.Handle("/metrics", promhttp.HandlerFor(cfg.Metrics, promhttp.HandlerOpts{}))
	}

	hcfg := huma.DefaultConfig("Bookline API", "0.1.0")
	hcfg.OpenAPIPath = ""
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerMe(group)
	registerDevAuth(group, cfg.Auth)
	registerBlocks(group, cfg.Engine)
	registerAvailability(group, cfg.Engine)
	registerSettings(group, cfg.Engine)
	registerDelegates(group, cfg.Engine)
	registerProposals(group, cfg.Engine)
	registerLedger(group, cfg.Engine)
	registerAppointments(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func errorDetails(errs []error) map[string]any {
	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(errs))
	for _, err := range errs {
		if err != nil {
			msgs = append(msgs, err.Error())
		}
	}
	return map[string]any{"errors": msgs}
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var (
		fe   auth.ForbiddenError
		ve   engine.ValidationError
		ae   engine.InvalidAmountError
		ne   engine.NoticeTooShortError
		ib   engine.InsufficientBalanceError
		su   engine.SlotUnavailableError
		dup  engine.DuplicateIssuanceError
		st   engine.InvalidStateError
		nf   engine.NotFoundError
		hsts huma.StatusError
	)
	msg := err.Error()
	switch {
	case errors.As(err, &hsts):
		return hsts
	case errors.As(err, &fe):
		return newAPIError(http.StatusForbidden, "forbidden", msg, map[string]any{"permission": fe.Permission})
	case errors.As(err, &ve):
		return newAPIError(http.StatusBadRequest, "validation_failed", msg, map[string]any{"field": ve.Field})
	case errors.As(err, &ae):
		return newAPIError(http.StatusBadRequest, "invalid_amount", msg, map[string]any{"amount": ae.Amount})
	case errors.As(err, &ne):
		return newAPIError(http.StatusBadRequest, "notice_too_short", msg, map[string]any{
			"required_minutes": ne.RequiredMinutes,
			"minutes_ahead":    ne.MinutesAhead,
		})
	case errors.As(err, &ib):
		return newAPIError(http.StatusConflict, "insufficient_balance", msg, map[string]any{"available": ib.Available})
	case errors.As(err, &su):
		return newAPIError(http.StatusConflict, "slot_unavailable", msg, map[string]any{"reason": su.Reason})
	case errors.As(err, &dup):
		return newAPIError(http.StatusConflict, "duplicate_issuance", msg, map[string]any{"proposal_id": dup.ProposalID, "amount": dup.Amount, "issued_at": dup.IssuedAt})
	case errors.As(err, &st):
		return newAPIError(http.StatusConflict, "invalid_state", msg, nil)
	case errors.Is(err, lock.ErrTimeout):
		return newAPIError(http.StatusConflict, "lock_timeout", "resource busy, retry", nil)
	case errors.As(err, &nf):
		return newAPIError(http.StatusNotFound, "not_found", msg, map[string]any{"entity": nf.Entity})
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", msg, nil)
	case errors.Is(err, repo.ErrConflict):
		return newAPIError(http.StatusConflict, "conflict", msg, nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

// requireActsFor lets through the professional, an admin or a delegate
// holding perm.
func requireActsFor(ctx context.Context, e engine.Engine, actor domain.Actor, professionalID, perm string) error {
	return e.Auth.Require(ctx, nil, actor, professionalID, perm)
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	r.Get(path.Join(basePath, "openapi.json"), func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	open := map[string]bool{
		path.Join(basePath, "health"):         true,
		path.Join(basePath, "auth/dev/login"): true,
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Patch} {
			if op == nil {
				continue
			}
			if open[route] {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <title>Bookline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => { SwaggerUIBundle({ url: '%s', dom_id: '#swagger-ui' }); };
    </script>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerMe(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body MeResponse `json:"body"`
	}, error) {
		p, ok := principalFromContext(ctx)
		if !ok {
			return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		}
		return &struct {
			Body MeResponse `json:"body"`
		}{Body: MeResponse{ActorID: p.ActorID, Role: p.Role, Source: p.Source}}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	if !authCfg.DevLogin {
		return
	}
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors:      []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		actorID := strings.TrimSpace(input.Body.ActorID)
		if actorID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		role, err := domain.ParseRole(input.Body.Role)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		token, err := signDevToken(authCfg.JWTSecret, actorID, role, 12*time.Hour)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

var writeErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
}

func registerBlocks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-block",
		Method:        http.MethodPost,
		Path:          "/professionals/{professional_id}/blocks",
		Summary:       "Block a day, a date range or time ranges within them",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		ProfessionalID string             `path:"professional_id"`
		Body           CreateBlockRequest `json:"body"`
	}) (*struct {
		Body domain.ScheduleBlock `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b, err := e.CreateBlock(ctx, engine.BlockOptions{
			ProfessionalID: input.ProfessionalID,
			Kind:           input.Body.Kind,
			StartDate:      input.Body.StartDate,
			EndDate:        input.Body.EndDate,
			TimeRanges:     input.Body.TimeRanges,
			Reason:         input.Body.Reason,
			Actor:          actor,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ScheduleBlock `json:"body"`
		}{Body: b}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-blocks",
		Method:      http.MethodGet,
		Path:        "/professionals/{professional_id}/blocks",
		Summary:     "List blocks",
	}, func(ctx context.Context, input *struct {
		ProfessionalID string `path:"professional_id"`
	}) (*struct {
		Body []domain.ScheduleBlock `json:"body"`
	}, error) {
		items, err := e.ListBlocks(ctx, input.ProfessionalID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.ScheduleBlock `json:"body"`
		}{Body: nonNil(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-block",
		Method:        http.MethodDelete,
		Path:          "/blocks/{block_id}",
		Summary:       "Remove a block",
		DefaultStatus: http.StatusNoContent,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		BlockID string `path:"block_id"`
	}) (*struct{}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.RemoveBlock(ctx, input.BlockID, actor); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "blocked-dates",
		Method:      http.MethodGet,
		Path:        "/professionals/{professional_id}/blocked-dates",
		Summary:     "Days touched by blocks in [from, to]",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ProfessionalID string `path:"professional_id"`
		From           string `query:"from" format:"date" required:"true"`
		To             string `query:"to" format:"date" required:"true"`
	}) (*struct {
		Body []engine.BlockedDay `json:"body"`
	}, error) {
		days, err := e.BlockedDatesInRange(ctx, input.ProfessionalID, input.From, input.To)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []engine.BlockedDay `json:"body"`
		}{Body: nonNil(days)}, nil
	})
}

func registerAvailability(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "slot-status",
		Method:      http.MethodGet,
		Path:        "/professionals/{professional_id}/slot",
		Summary:     "Status of one slot",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ProfessionalID string `path:"professional_id"`
		Date           string `query:"date" format:"date" required:"true"`
		Time           string `query:"time" required:"true"`
	}) (*struct {
		Body SlotStatusResponse `json:"body"`
	}, error) {
		status, err := e.SlotStatus(ctx, input.ProfessionalID, input.Date, input.Time)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SlotStatusResponse `json:"body"`
		}{Body: SlotStatusResponse{ProfessionalID: input.ProfessionalID, Date: input.Date, Time: input.Time, Status: status}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "day-slots",
		Method:      http.MethodGet,
		Path:        "/professionals/{professional_id}/days/{date}",
		Summary:     "Slot grid of one day",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ProfessionalID string `path:"professional_id"`
		Date           string `path:"date"`
	}) (*struct {
		Body engine.DayView `json:"body"`
	}, error) {
		view, err := e.DaySlots(ctx, input.ProfessionalID, input.Date)
		if err != nil {
			return nil, handleError(err)
		}
		view.Slots = nonNil(view.Slots)
		return &struct {
			Body engine.DayView `json:"body"`
		}{Body: view}, nil
	})
}

func registerSettings(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-settings",
		Method:      http.MethodGet,
		Path:        "/professionals/{professional_id}/settings",
		Summary:     "Booking notice and cancellation window",
	}, func(ctx context.Context, input *struct {
		ProfessionalID string `path:"professional_id"`
	}) (*struct {
		Body domain.ProfessionalSettings `json:"body"`
	}, error) {
		s, err := e.GetSettings(ctx, input.ProfessionalID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ProfessionalSettings `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-settings",
		Method:      http.MethodPatch,
		Path:        "/professionals/{professional_id}/settings",
		Summary:     "Update settings",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ProfessionalID string                `path:"professional_id"`
		Body           UpdateSettingsRequest `json:"body"`
	}) (*struct {
		Body domain.ProfessionalSettings `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.UpdateSettings(ctx, engine.SettingsUpdate{
			ProfessionalID:                     input.ProfessionalID,
			MinNoticeMinutesForBooking:         input.Body.MinNoticeMinutesForBooking,
			NoPenaltyCancellationWindowMinutes: input.Body.NoPenaltyCancellationWindowMinutes,
			Actor:                              actor,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ProfessionalSettings `json:"body"`
		}{Body: s}, nil
	})
}

func registerDelegates(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-delegates",
		Method:      http.MethodGet,
		Path:        "/professionals/{professional_id}/delegates",
		Summary:     "List delegations",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ProfessionalID string `path:"professional_id"`
	}) (*struct {
		Body []domain.Delegate `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if actor.ID != input.ProfessionalID && actor.Role != domain.RoleAdmin {
			return nil, handleError(auth.ForbiddenError{Permission: "delegation.manage"})
		}
		items, err := e.ListDelegates(ctx, input.ProfessionalID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Delegate `json:"body"`
		}{Body: nonNil(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-delegate-permissions",
		Method:      http.MethodGet,
		Path:        "/professionals/{professional_id}/delegates/{delegate_id}",
		Summary:     "Permissions a delegate holds for the professional",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ProfessionalID string `path:"professional_id"`
		DelegateID     string `path:"delegate_id"`
	}) (*struct {
		Body DelegatePermissionsResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if actor.ID != input.ProfessionalID && actor.ID != input.DelegateID && actor.Role != domain.RoleAdmin {
			return nil, handleError(auth.ForbiddenError{Permission: "delegation.manage"})
		}
		perms, err := e.DelegatePermissions(ctx, input.ProfessionalID, input.DelegateID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DelegatePermissionsResponse `json:"body"`
		}{Body: DelegatePermissionsResponse{ProfessionalID: input.ProfessionalID, DelegateID: input.DelegateID, Permissions: nonNil(perms)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "grant-delegate",
		Method:        http.MethodPost,
		Path:          "/professionals/{professional_id}/delegates",
		Summary:       "Grant a permission to a secretary",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		ProfessionalID string               `path:"professional_id"`
		Body           GrantDelegateRequest `json:"body"`
	}) (*struct {
		Body domain.Delegate `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		role := domain.Role(input.Body.DelegateRole)
		if role == "" {
			role = domain.RoleSecretary
		}
		d, err := e.GrantDelegate(ctx, engine.DelegateOptions{
			ProfessionalID: input.ProfessionalID,
			Delegate:       domain.Actor{ID: input.Body.DelegateID, Role: role},
			Permission:     input.Body.Permission,
			Actor:          actor,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Delegate `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "revoke-delegate",
		Method:        http.MethodDelete,
		Path:          "/professionals/{professional_id}/delegates/{delegate_id}/{permission}",
		Summary:       "Revoke a delegated permission",
		DefaultStatus: http.StatusNoContent,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		ProfessionalID string `path:"professional_id"`
		DelegateID     string `path:"delegate_id"`
		Permission     string `path:"permission"`
	}) (*struct{}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		err := e.RevokeDelegate(ctx, engine.DelegateOptions{
			ProfessionalID: input.ProfessionalID,
			Delegate:       domain.Actor{ID: input.DelegateID, Role: domain.RoleSecretary},
			Permission:     input.Permission,
			Actor:          actor,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerProposals(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-proposal",
		Method:        http.MethodPost,
		Path:          "/proposals",
		Summary:       "Create a proposal, optionally sending it",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateProposalRequest `json:"body"`
	}) (*struct {
		Body domain.Proposal `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.CreateProposal(ctx, engine.ProposalOptions{
			ProfessionalID:          input.Body.ProfessionalID,
			ClientID:                input.Body.ClientID,
			AgreedValueCents:        input.Body.AgreedValueCents,
			CreditsOffered:          input.Body.CreditsOffered,
			Description:             input.Body.Description,
			MinNoticeHours:          input.Body.MinNoticeHours,
			CancellationWindowHours: input.Body.CancellationWindowHours,
			Send:                    input.Body.Send,
			Actor:                   actor,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Proposal `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-proposals",
		Method:      http.MethodGet,
		Path:        "/proposals",
		Summary:     "List proposals of a professional or a client",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ProfessionalID string `query:"professional_id"`
		ClientID       string `query:"client_id"`
		Status         string `query:"status" enum:"draft,sent,accepted,rejected"`
		Limit          int    `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.Proposal `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if input.ClientID != actor.ID {
			if input.ProfessionalID == "" {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "professional_id is required unless listing your own proposals", nil)
			}
			if err := requireActsFor(ctx, e, actor, input.ProfessionalID, domain.PermNegotiateProposal); err != nil {
				return nil, handleError(err)
			}
		}
		items, err := e.ListProposals(ctx, repo.ProposalFilters{
			ProfessionalID: input.ProfessionalID,
			ClientID:       input.ClientID,
			Status:         input.Status,
			Limit:          normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Proposal `json:"body"`
		}{Body: nonNil(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-proposal",
		Method:      http.MethodGet,
		Path:        "/proposals/{proposal_id}",
		Summary:     "Get a proposal",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProposalID string `path:"proposal_id"`
	}) (*struct {
		Body domain.Proposal `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.GetProposal(ctx, input.ProposalID)
		if err != nil {
			return nil, handleError(err)
		}
		if actor.ID != p.ClientID {
			if err := requireActsFor(ctx, e, actor, p.ProfessionalID, domain.PermNegotiateProposal); err != nil {
				return nil, handleError(err)
			}
		}
		return &struct {
			Body domain.Proposal `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "send-proposal",
		Method:      http.MethodPost,
		Path:        "/proposals/{proposal_id}/send",
		Summary:     "Send a draft proposal to its client",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ProposalID string `path:"proposal_id"`
	}) (*struct {
		Body domain.Proposal `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.SendProposal(ctx, input.ProposalID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Proposal `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "respond-proposal",
		Method:      http.MethodPost,
		Path:        "/proposals/{proposal_id}/respond",
		Summary:     "Accept or reject a sent proposal",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ProposalID string                 `path:"proposal_id"`
		Body       RespondProposalRequest `json:"body"`
	}) (*struct {
		Body domain.Proposal `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		p, err := e.RespondProposal(ctx, input.ProposalID, input.Body.Accept, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Proposal `json:"body"`
		}{Body: p}, nil
	})
}

func registerLedger(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-balance",
		Method:      http.MethodGet,
		Path:        "/professionals/{professional_id}/clients/{client_id}/balance",
		Summary:     "Gcoin balance of a professional/client pair",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ProfessionalID string `path:"professional_id"`
		ClientID       string `path:"client_id"`
	}) (*struct {
		Body domain.CreditBalance `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if actor.ID != input.ClientID {
			if err := requireActsFor(ctx, e, actor, input.ProfessionalID, domain.PermManageSchedule); err != nil {
				return nil, handleError(err)
			}
		}
		b, err := e.Balance(ctx, input.ProfessionalID, input.ClientID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.CreditBalance `json:"body"`
		}{Body: b}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "can-schedule",
		Method:      http.MethodGet,
		Path:        "/professionals/{professional_id}/can-schedule",
		Summary:     "Whether the caller may book the professional",
	}, func(ctx context.Context, input *struct {
		ProfessionalID string `path:"professional_id"`
	}) (*struct {
		Body CanScheduleResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ok, err := e.CanSchedule(ctx, actor.ID, actor.Role, input.ProfessionalID)
		if err != nil {
			return nil, handleError(err)
		}
		b, err := e.Balance(ctx, input.ProfessionalID, actor.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CanScheduleResponse `json:"body"`
		}{Body: CanScheduleResponse{ProfessionalID: input.ProfessionalID, ClientID: actor.ID, CanSchedule: ok, Available: b.Available}}, nil
	})
}

func registerAppointments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "book",
		Method:        http.MethodPost,
		Path:          "/appointments",
		Summary:       "Book a slot, consuming one credit",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body BookRequest `json:"body"`
	}) (*struct {
		Body domain.Appointment `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		client := actor
		if input.Body.ClientID != "" && input.Body.ClientID != actor.ID {
			// The client's role is taken from the ledger, never from the request.
			client = domain.Actor{ID: input.Body.ClientID}
		}
		a, err := e.Book(ctx, engine.BookOptions{
			ProfessionalID: input.Body.ProfessionalID,
			Client:         client,
			BookedBy:       actor,
			Date:           input.Body.Date,
			Time:           input.Body.Time,
			Title:          input.Body.Title,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Appointment `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-appointments",
		Method:      http.MethodGet,
		Path:        "/appointments",
		Summary:     "List appointments",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ProfessionalID string `query:"professional_id"`
		ClientID       string `query:"client_id"`
		Status         string `query:"status" enum:"scheduled,confirmed,cancelled,completed"`
		From           string `query:"from" format:"date"`
		To             string `query:"to" format:"date"`
		Limit          int    `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.Appointment `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if input.ClientID != actor.ID {
			if input.ProfessionalID == "" {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "professional_id is required unless listing your own appointments", nil)
			}
			if err := requireActsFor(ctx, e, actor, input.ProfessionalID, domain.PermManageSchedule); err != nil {
				return nil, handleError(err)
			}
		}
		items, err := e.ListAppointments(ctx, repo.AppointmentFilters{
			ProfessionalID: input.ProfessionalID,
			ClientID:       input.ClientID,
			Status:         input.Status,
			From:           input.From,
			To:             input.To,
			Limit:          normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Appointment `json:"body"`
		}{Body: nonNil(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-appointment",
		Method:      http.MethodGet,
		Path:        "/appointments/{appointment_id}",
		Summary:     "Get an appointment",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AppointmentID string `path:"appointment_id"`
	}) (*struct {
		Body domain.Appointment `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.GetAppointment(ctx, input.AppointmentID)
		if err != nil {
			return nil, handleError(err)
		}
		if actor.ID != a.ClientID {
			if err := requireActsFor(ctx, e, actor, a.ProfessionalID, domain.PermManageSchedule); err != nil {
				return nil, handleError(err)
			}
		}
		return &struct {
			Body domain.Appointment `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-appointment",
		Method:      http.MethodPost,
		Path:        "/appointments/{appointment_id}/cancel",
		Summary:     "Cancel; refunds the credit outside the no-penalty window",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		AppointmentID string `path:"appointment_id"`
	}) (*struct {
		Body CancelResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.Cancel(ctx, input.AppointmentID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CancelResponse `json:"body"`
		}{Body: res}, nil
	})

	for _, step := range []struct {
		id, path, summary string
		fn                func(context.Context, string, domain.Actor) (domain.Appointment, error)
	}{
		{"confirm-appointment", "/appointments/{appointment_id}/confirm", "Confirm a scheduled appointment", e.Confirm},
		{"complete-appointment", "/appointments/{appointment_id}/complete", "Mark an appointment completed", e.Complete},
	} {
		fn := step.fn
		huma.Register(api, huma.Operation{
			OperationID: step.id,
			Method:      http.MethodPost,
			Path:        step.path,
			Summary:     step.summary,
			Errors:      writeErrors,
		}, func(ctx context.Context, input *struct {
			AppointmentID string `path:"appointment_id"`
		}) (*struct {
			Body domain.Appointment `json:"body"`
		}, error) {
			actor, authErr := actorFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			a, err := fn(ctx, input.AppointmentID, actor)
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body domain.Appointment `json:"body"`
			}{Body: a}, nil
		})
	}
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Audit log, newest first. Non-admins only see their own events.",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"block,ledger,proposal,appointment,settings,delegate"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		f := repo.EventFilters{
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			Limit:      limit + 1,
			Cursor:     cursorID,
		}
		if actor.Role != domain.RoleAdmin {
			f.ActorID = actor.ID
		}
		items, err := e.ListEvents(ctx, f)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			resp.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func eventResponse(evt domain.Event) EventResponse {
	var payload any
	if evt.Payload != "" && evt.Payload != "null" {
		_ = json.Unmarshal([]byte(evt.Payload), &payload)
	}
	return EventResponse{
		ID:         evt.ID,
		TS:         evt.TS,
		Type:       evt.Type,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		Payload:    payload,
	}
}

func bodyBytes(ctx context.Context) []byte {
	buf, _ := ctx.Value(bodyBytesKey{}).([]byte)
	return buf
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}
