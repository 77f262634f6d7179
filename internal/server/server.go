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
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"helpling/internal/domain"
	"helpling/internal/engine"
	"helpling/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	Log      zerolog.Logger
}

const (
	codeUnauthenticated  = "unauthenticated"
	codeNotFound         = "not-found"
	codeAlreadyExists    = "already-exists"
	codePermissionDenied = "permission-denied"
	codeInvalidArgument  = "invalid-argument"
	codeInternal         = "internal"
)

type apiErrorBody struct {
	Code    string         `json:"code" example:"permission-denied"`
	Message string         `json:"message" example:"You cannot accept your own offer."`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Helpling API.
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
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(hlog.NewHandler(cfg.Log))
	router.Use(hlog.AccessHandler(func(r *http.Request, status, size int, d time.Duration) {
		hlog.FromRequest(r).Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Dur("duration", d).
			Msg("request")
	}))
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo, cfg.Log.With().Str("component", "auth").Logger()))
	hcfg := huma.DefaultConfig("Helpling API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerFetchRequest(router, basePath, cfg.Engine)
	registerHealth(group)
	registerRPC(group, cfg.Engine)
	registerUsers(group, cfg.Engine)
	registerItems(group, cfg.Engine)
	registerThreads(group, cfg.Engine)
	if cfg.Auth.DevLogin {
		registerDevAuth(group, cfg.Auth)
	}
	registerOpenAPI(router, api, basePath)

	return router, nil
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

// handleError maps engine failures onto the wire codes. Invalid-state splits in
// two: an item already past the requested transition is already-exists, one that
// has not reached it yet is invalid-argument.
func handleError(ctx context.Context, err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var de *engine.Error
	if errors.As(err, &de) {
		switch de.Code {
		case engine.CodeUnauthenticated:
			return newAPIError(http.StatusUnauthorized, codeUnauthenticated, de.Message, nil)
		case engine.CodeNotFound:
			return newAPIError(http.StatusNotFound, codeNotFound, de.Message, nil)
		case engine.CodePermissionDenied:
			return newAPIError(http.StatusForbidden, codePermissionDenied, de.Message, nil)
		case engine.CodeInvalidArgument:
			return newAPIError(http.StatusBadRequest, codeInvalidArgument, de.Message, nil)
		case engine.CodeInvalidState:
			details := map[string]any{"status": string(de.State)}
			if de.State == domain.StatusPending {
				return newAPIError(http.StatusBadRequest, codeInvalidArgument, de.Message, details)
			}
			return newAPIError(http.StatusConflict, codeAlreadyExists, de.Message, details)
		}
	}
	zerolog.Ctx(ctx).Error().Err(err).Bool("dependency", engine.IsDependency(err)).Msg("request failed")
	return newAPIError(http.StatusInternalServerError, codeInternal, "Internal error.", nil)
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return codeInvalidArgument
	case http.StatusUnauthorized:
		return codeUnauthenticated
	case http.StatusForbidden:
		return codePermissionDenied
	case http.StatusNotFound:
		return codeNotFound
	case http.StatusConflict:
		return codeAlreadyExists
	case http.StatusInternalServerError:
		return codeInternal
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "-"))
	}
}

func parseKind(raw string) (domain.Kind, huma.StatusError) {
	kind, err := domain.ParseKind(strings.TrimSpace(raw))
	if err != nil {
		return "", newAPIError(http.StatusBadRequest, codeInvalidArgument, err.Error(), nil)
	}
	return kind, nil
}

func registerDocs(r chi.Router, basePath string) {
	r.Get(path.Join(basePath, "docs"), func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
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
	public := map[string]bool{
		path.Join(basePath, "health"):         true,
		path.Join(basePath, "auth/dev/login"): true,
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if public[route] {
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
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Helpling API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
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

// rpcTarget validates the common RPC arguments once the caller is known.
func rpcTarget(ctx context.Context, in RPCRequest) (domain.Kind, string, huma.StatusError) {
	if callerID(ctx) == "" {
		return "", "", handleError(ctx, engine.ErrUnauthenticated)
	}
	id := strings.TrimSpace(in.ID)
	if id == "" || strings.TrimSpace(in.Kind) == "" {
		return "", "", newAPIError(http.StatusBadRequest, codeInvalidArgument, "id and kind are required", nil)
	}
	kind, kerr := parseKind(in.Kind)
	if kerr != nil {
		return "", "", kerr
	}
	return kind, id, nil
}

func registerRPC(api huma.API, e engine.Engine) {
	rpcErrors := []int{
		http.StatusBadRequest,
		http.StatusUnauthorized,
		http.StatusForbidden,
		http.StatusNotFound,
		http.StatusConflict,
		http.StatusInternalServerError,
	}
	huma.Register(api, huma.Operation{
		OperationID: "accept",
		Method:      http.MethodPost,
		Path:        "/rpc/accept",
		Summary:     "Accept an offer or request",
		Errors:      rpcErrors,
	}, func(ctx context.Context, input *struct {
		Body RPCRequest `json:"body"`
	}) (*struct {
		Body AcceptResponse `json:"body"`
	}, error) {
		kind, id, herr := rpcTarget(ctx, input.Body)
		if herr != nil {
			return nil, herr
		}
		res, err := e.Accept(ctx, kind, id, callerID(ctx))
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body AcceptResponse `json:"body"`
		}{Body: AcceptResponse{ThreadID: res.ThreadID}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete",
		Method:      http.MethodPost,
		Path:        "/rpc/complete",
		Summary:     "Complete an accepted offer or request",
		Errors:      rpcErrors,
	}, func(ctx context.Context, input *struct {
		Body RPCRequest `json:"body"`
	}) (*struct {
		Body EmptyResponse `json:"body"`
	}, error) {
		kind, id, herr := rpcTarget(ctx, input.Body)
		if herr != nil {
			return nil, herr
		}
		if err := e.Complete(ctx, kind, id, callerID(ctx)); err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body EmptyResponse `json:"body"`
		}{}, nil
	})
}

// registerFetchRequest serves the public read model. Its error body is a bare
// {"error": "..."} rather than the API envelope.
func registerFetchRequest(r chi.Router, basePath string, e engine.Engine) {
	writeJSON := func(w http.ResponseWriter, status int, body any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
	r.Get(path.Join(basePath, "fetchRequest"), func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query()
		id, rawKind := strings.TrimSpace(q.Get("id")), strings.TrimSpace(q.Get("kind"))
		if id == "" || rawKind == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Missing id or kind."})
			return
		}
		kind, err := domain.ParseKind(rawKind)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		view, err := e.FetchItem(req.Context(), kind, id)
		switch {
		case engine.CodeOf(err) == engine.CodeNotFound:
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
			return
		case err != nil:
			hlog.FromRequest(req).Error().Err(err).Msg("fetchRequest failed")
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal error."})
			return
		}
		writeJSON(w, http.StatusOK, fetchPayload(view))
	})
}

func registerUsers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "upsert-user",
		Method:        http.MethodPost,
		Path:          "/users",
		Summary:       "Create or rename the calling user",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body UpsertUserRequest `json:"body"`
	}) (*struct {
		Body UserResponse `json:"body"`
	}, error) {
		userID := callerID(ctx)
		if userID == "" {
			return nil, handleError(ctx, engine.ErrUnauthenticated)
		}
		u, err := e.CreateUser(ctx, userID, input.Body.Name)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body UserResponse `json:"body"`
		}{Body: UserResponse{ID: u.ID, Name: u.Name}}, nil
	})
}

type KindPath struct {
	Kind string `path:"kind" enum:"offer,request"`
}

type ItemPath struct {
	Kind string `path:"kind" enum:"offer,request"`
	ID   string `path:"id"`
}

type ThreadPath struct {
	ThreadID string `path:"thread_id"`
}

func registerItems(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-item",
		Method:        http.MethodPost,
		Path:          "/items/{kind}",
		Summary:       "Post an offer or request",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		KindPath
		Body CreateItemRequest `json:"body"`
	}) (*struct {
		Body ItemResponse `json:"body"`
	}, error) {
		kind, kerr := parseKind(input.Kind)
		if kerr != nil {
			return nil, kerr
		}
		desc := ""
		if input.Body.Description != nil {
			desc = *input.Body.Description
		}
		it, err := e.CreateItem(ctx, engine.CreateItemOptions{
			Kind:        kind,
			Title:       input.Body.Title,
			Description: desc,
			ActorID:     callerID(ctx),
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body ItemResponse `json:"body"`
		}{Body: itemResponse(it)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-items",
		Method:      http.MethodGet,
		Path:        "/items/{kind}",
		Summary:     "List offers or requests",
		Errors:      []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		KindPath
		Status string `query:"status" doc:"pending, accepted or completed"`
		Mine   bool   `query:"mine"`
		Limit  int    `query:"limit" minimum:"0" maximum:"500"`
	}) (*struct {
		Body []ItemResponse `json:"body"`
	}, error) {
		kind, kerr := parseKind(input.Kind)
		if kerr != nil {
			return nil, kerr
		}
		f := repo.ItemFilters{Status: domain.Status(input.Status), Limit: normalizeLimit(input.Limit)}
		switch f.Status {
		case "", domain.StatusPending, domain.StatusAccepted, domain.StatusCompleted:
		default:
			return nil, newAPIError(http.StatusBadRequest, codeInvalidArgument, "unknown status "+input.Status, nil)
		}
		if input.Mine {
			if f.UserID = callerID(ctx); f.UserID == "" {
				return nil, handleError(ctx, engine.ErrUnauthenticated)
			}
		}
		items, err := e.ListItems(ctx, kind, f)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body []ItemResponse `json:"body"`
		}{Body: mapItems(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-item",
		Method:        http.MethodDelete,
		Path:          "/items/{kind}/{id}",
		Summary:       "Delete an offer or request",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *ItemPath) (*struct{}, error) {
		kind, kerr := parseKind(input.Kind)
		if kerr != nil {
			return nil, kerr
		}
		if err := e.DeleteItem(ctx, kind, input.ID, callerID(ctx)); err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-comment",
		Method:        http.MethodPost,
		Path:          "/items/{kind}/{id}/comments",
		Summary:       "Comment on an offer or request",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		ItemPath
		Body PostBodyRequest `json:"body"`
	}) (*struct {
		Body CommentResponse `json:"body"`
	}, error) {
		kind, kerr := parseKind(input.Kind)
		if kerr != nil {
			return nil, kerr
		}
		c, err := e.AddComment(ctx, kind, input.ID, callerID(ctx), input.Body.Body)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body CommentResponse `json:"body"`
		}{Body: commentResponse(c)}, nil
	})
}

func registerThreads(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-thread",
		Method:      http.MethodGet,
		Path:        "/threads/{thread_id}",
		Summary:     "Read a thread",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		ThreadPath
		Limit int `query:"limit" minimum:"0" maximum:"500"`
	}) (*struct {
		Body ThreadResponse `json:"body"`
	}, error) {
		view, err := e.GetThread(ctx, input.ThreadID, callerID(ctx), normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body ThreadResponse `json:"body"`
		}{Body: threadResponse(view)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "send-message",
		Method:        http.MethodPost,
		Path:          "/threads/{thread_id}/messages",
		Summary:       "Send a message to a thread",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		ThreadPath
		Body PostBodyRequest `json:"body"`
	}) (*struct {
		Body MessageResponse `json:"body"`
	}, error) {
		m, err := e.SendMessage(ctx, input.ThreadID, callerID(ctx), input.Body.Body)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body MessageResponse `json:"body"`
		}{Body: messageResponse(m)}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, codeInvalidArgument, "body required", nil)
		}
		user := strings.TrimSpace(input.Body.UserID)
		if user == "" {
			return nil, newAPIError(http.StatusBadRequest, codeInvalidArgument, "user_id is required", nil)
		}
		token, err := SignToken(authCfg.JWTSecret, user, 24*time.Hour)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, codeInternal, err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	return nil
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 100
	}
	if in > 500 {
		return 500
	}
	return in
}
