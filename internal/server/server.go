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

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"caseline/internal/catalog"
	"caseline/internal/engine"
	"caseline/internal/engine/auth"
	"caseline/internal/entity"
	"caseline/internal/repo"
	"caseline/internal/schema"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"dependency_failed"`
	Message string         `json:"message" example:"transaction tx-1 not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"resource\":\"transaction\"}"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope every failure response carries.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Caseline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Request-shape validation errors read as 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Caseline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerTransactions(group, cfg.Engine)
	registerRecords(group, cfg.Engine)
	registerEnumerations(group)
	registerEvents(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func bodyBytes(ctx context.Context) []byte {
	b, _ := ctx.Value(bodyBytesKey{}).([]byte)
	return b
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

// handleError maps typed domain errors to the envelope. Dependency failures
// (a missing definition, schema, or referenced transaction) are 422, not
// 404: the requested resource may exist, its prerequisite does not.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(),
			map[string]any{"action": fe.Action, "resource": fe.Resource})
	}
	var de engine.MissingDependencyError
	if errors.As(err, &de) {
		return newAPIError(http.StatusUnprocessableEntity, "dependency_failed", err.Error(),
			map[string]any{"resource": de.Resource, "key": de.Key})
	}
	var se schema.MissingSchemaError
	if errors.As(err, &se) {
		return newAPIError(http.StatusUnprocessableEntity, "dependency_failed", err.Error(),
			map[string]any{"resource": "schema", "key": se.Key})
	}
	var ue entity.UnknownAttributeError
	if errors.As(err, &ue) {
		return newAPIError(http.StatusBadRequest, "unknown_attribute", err.Error(),
			map[string]any{"attribute": ue.Attribute, "schema": ue.SchemaKey})
	}
	var ve schema.InvalidValueError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusBadRequest, "invalid_value", err.Error(),
			map[string]any{"attribute": ve.Attribute, "expected": string(ve.Expected)})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrConflict) {
		return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	if strings.Contains(lowered, "invalid") || strings.Contains(lowered, "required") || strings.Contains(lowered, "must") {
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "dependency_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

// adminUpdate reports whether the caller holds the admin update permission
// for the resource; the engine honors the flag rather than recomputing it.
func adminUpdate(e engine.Engine, p auth.Principal, resource string) bool {
	return e.Auth.IsAllowed(p, "update-admin", resource)
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

func registerTransactions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-transaction",
		Method:        http.MethodPost,
		Path:          "/transactions",
		Summary:       "Create transaction",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateTransactionRequest `json:"body"`
	}) (*struct {
		Body TransactionResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.DefinitionKey == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "definition_key is required", nil)
		}
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		txn, err := e.CreateTransaction(ctx, p, engine.TransactionCreateOptions{
			DefinitionKey:     input.Body.DefinitionKey,
			ProcessInstanceID: stringOrEmpty(input.Body.ProcessInstanceID),
			Status:            stringOrEmpty(input.Body.Status),
			Data:              input.Body.Data,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TransactionResponse `json:"body"`
		}{Body: transactionResponse(txn)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-transaction",
		Method:      http.MethodGet,
		Path:        "/transactions/{id}",
		Summary:     "Get transaction",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body TransactionResponse `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		txn, err := e.GetTransaction(ctx, p, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TransactionResponse `json:"body"`
		}{Body: transactionResponse(txn)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-transaction",
		Method:      http.MethodPatch,
		Path:        "/transactions/{id}",
		Summary:     "Update transaction",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID   string                   `path:"id"`
		Body UpdateTransactionRequest `json:"body"`
	}) (*struct {
		Body TransactionResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		txn, err := e.UpdateTransaction(ctx, p, input.ID, engine.TransactionUpdateOptions{
			Data:              entity.Patch(input.Body.Data),
			Status:            input.Body.Status,
			ProcessInstanceID: input.Body.ProcessInstanceID,
			AdminUpdate:       adminUpdate(e, p, engine.ResourceTransaction),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TransactionResponse `json:"body"`
		}{Body: transactionResponse(txn)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-transactions",
		Method:      http.MethodGet,
		Path:        "/transactions",
		Summary:     "List transactions",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Status            string `query:"status"`
		DefinitionKey     string `query:"definition_key"`
		ProcessInstanceID string `query:"process_instance_id"`
		CreatedBy         string `query:"created_by"`
		SortOrder         string `query:"sort_order" enum:"asc,desc" default:"asc"`
		PageNumber        int    `query:"page_number" default:"0" minimum:"0"`
		PageSize          int    `query:"page_size" default:"20" minimum:"1" maximum:"200"`
	}) (*struct {
		Body pagedTransactions `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		page, err := e.ListTransactions(ctx, p, repo.TransactionFilters{
			Status:                   input.Status,
			TransactionDefinitionKey: input.DefinitionKey,
			ProcessInstanceID:        input.ProcessInstanceID,
			CreatedBy:                input.CreatedBy,
			SortOrder:                input.SortOrder,
			PageNumber:               input.PageNumber,
			PageSize:                 input.PageSize,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body pagedTransactions `json:"body"`
		}{Body: transactionPageResponse(page)}, nil
	})
}

func registerRecords(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-record",
		Method:        http.MethodPost,
		Path:          "/records",
		Summary:       "Create record from a transaction",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateRecordRequest `json:"body"`
	}) (*struct {
		Body RecordResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.DefinitionKey == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "definition_key is required", nil)
		}
		if input.Body.TransactionID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "transaction_id is required", nil)
		}
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rec, err := e.CreateRecord(ctx, p, engine.RecordCreateOptions{
			DefinitionKey: input.Body.DefinitionKey,
			TransactionID: input.Body.TransactionID,
			ExternalID:    stringOrEmpty(input.Body.ExternalID),
			Status:        stringOrEmpty(input.Body.Status),
			Data:          input.Body.Data,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RecordResponse `json:"body"`
		}{Body: recordResponse(rec)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-record",
		Method:      http.MethodGet,
		Path:        "/records/{id}",
		Summary:     "Get record",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body RecordResponse `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rec, err := e.GetRecord(ctx, p, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RecordResponse `json:"body"`
		}{Body: recordResponse(rec)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-record",
		Method:      http.MethodPatch,
		Path:        "/records/{id}",
		Summary:     "Update record",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID   string              `path:"id"`
		Body UpdateRecordRequest `json:"body"`
	}) (*struct {
		Body RecordResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rec, err := e.UpdateRecord(ctx, p, input.ID, engine.RecordUpdateOptions{
			Data:          entity.Patch(input.Body.Data),
			Status:        input.Body.Status,
			ExternalID:    input.Body.ExternalID,
			TransactionID: input.Body.TransactionID,
			AdminUpdate:   adminUpdate(e, p, engine.ResourceRecord),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RecordResponse `json:"body"`
		}{Body: recordResponse(rec)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-records",
		Method:      http.MethodGet,
		Path:        "/records",
		Summary:     "List records",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Status        string `query:"status"`
		DefinitionKey string `query:"definition_key"`
		ExternalID    string `query:"external_id"`
		TransactionID string `query:"transaction_id"`
		SortOrder     string `query:"sort_order" enum:"asc,desc" default:"asc"`
		PageNumber    int    `query:"page_number" default:"0" minimum:"0"`
		PageSize      int    `query:"page_size" default:"20" minimum:"1" maximum:"200"`
	}) (*struct {
		Body pagedRecords `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		page, err := e.ListRecords(ctx, p, repo.RecordFilters{
			Status:              input.Status,
			RecordDefinitionKey: input.DefinitionKey,
			ExternalID:          input.ExternalID,
			TransactionID:       input.TransactionID,
			SortOrder:           input.SortOrder,
			PageNumber:          input.PageNumber,
			PageSize:            input.PageSize,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body pagedRecords `json:"body"`
		}{Body: recordPageResponse(page)}, nil
	})
}

func registerEnumerations(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-enumerations",
		Method:      http.MethodGet,
		Path:        "/enumerations",
		Summary:     "List enumeration names",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []string `json:"body"`
	}, error) {
		if _, authErr := requirePrincipal(ctx); authErr != nil {
			return nil, authErr
		}
		return &struct {
			Body []string `json:"body"`
		}{Body: catalog.Names()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-enumeration",
		Method:      http.MethodGet,
		Path:        "/enumerations/{name}",
		Summary:     "Get enumeration options",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Name string `path:"name"`
	}) (*struct {
		Body []EnumerationOptionResponse `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts, ok := catalog.Lookup(input.Name, p.UserType)
		if !ok {
			return nil, newAPIError(http.StatusNotFound, "not_found", fmt.Sprintf("enumeration %s not found", input.Name), nil)
		}
		out := make([]EnumerationOptionResponse, 0, len(opts))
		for _, o := range opts {
			out = append(out, EnumerationOptionResponse{Label: o.Label, Value: o.Value, Rank: o.Rank})
		}
		return &struct {
			Body []EnumerationOptionResponse `json:"body"`
		}{Body: out}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List audit events",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Limit      int    `query:"limit" default:"100"`
		Cursor     int64  `query:"cursor"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		p, authErr := requirePrincipal(ctx)
		if authErr != nil {
			return nil, authErr
		}
		// admin-level record visibility doubles as the audit log gate
		if !e.Auth.IsAllowed(p, "view-admin", engine.ResourceRecord) {
			return nil, handleError(auth.ForbiddenError{Action: "view", Resource: "event"})
		}
		items, err := e.Repo.LatestEvents(ctx, input.Limit, input.Cursor, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]EventResponse, 0, len(items))
		for _, ev := range items {
			out = append(out, EventResponse{
				ID:         ev.ID,
				TS:         ev.TS,
				Type:       ev.Type,
				EntityKind: ev.EntityKind,
				EntityID:   ev.EntityID,
				ActorID:    ev.ActorID,
				Payload:    ev.Payload,
			})
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: out}, nil
	})
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
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
	healthPath := path.Join(basePath, "health")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
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
    <title>Caseline API Docs</title>
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
