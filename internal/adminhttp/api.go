// Package adminhttp is the JSON surface of the admin subsystem under
// /api/admin.
package adminhttp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/listings-admin/internal/adminerr"
	"github.com/keithlinneman/listings-admin/internal/httpmw"
	"github.com/keithlinneman/listings-admin/internal/lifecycle"
	"github.com/keithlinneman/listings-admin/internal/log"
	"github.com/keithlinneman/listings-admin/internal/session"
)

const (
	LoginPath     = "/admin/login"
	DashboardPath = "/admin/dashboard"
)

type Options struct {
	Guard   *session.Guard
	Cookies *session.CookieCodec
	Engine  *lifecycle.Engine

	// Production hides backend error detail from responses.
	Production bool
	Region     string
	Now        func() time.Time
}

// API implements the admin endpoints
type API struct {
	guard     *session.Guard
	cookies   *session.CookieCodec
	engine    *lifecycle.Engine
	validator *session.Validator

	production bool
	region     string
	now        func() time.Time
}

func NewAPI(o Options) *API {
	if o.Now == nil {
		o.Now = time.Now
	}
	api := &API{
		guard:      o.Guard,
		cookies:    o.Cookies,
		engine:     o.Engine,
		production: o.Production,
		region:     o.Region,
		now:        o.Now,
	}
	api.validator = session.NewValidator(o.Guard, o.Cookies, api.writeError)
	return api
}

// RegisterRoutes attaches the admin endpoints to the router
func (api *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/admin", func(r chi.Router) {
		r.Use(httpmw.RequireJSON)

		r.With(httpmw.Scope("health")).Get("/health", api.HandleHealth)

		r.Group(func(r chi.Router) {
			r.Use(httpmw.Scope("auth"))
			r.Post("/auth/login", api.HandleLogin)
			r.Get("/auth/status", api.HandleStatus)
			r.Post("/auth/logout", api.HandleLogout)
		})

		// everything else needs a live session
		r.Group(func(r chi.Router) {
			r.Use(httpmw.Scope("content"), api.validator.Middleware)

			r.Get("/dashboard", api.HandleDashboard)
			r.Get("/content", api.HandleListContent)

			r.With(api.RequireAuth).Post("/content/{id}/approve", api.HandleApprove)
			r.With(api.RequireAuth).Post("/content/{id}/feature", api.HandleFeature)
			r.With(api.RequireAuth).Post("/content/{id}/reject", api.HandleReject)
			r.With(api.RequireAuth).Post("/init-s3", api.HandleBootstrap)
		})
	})
}

// RequireAuth is the session gate for individual handlers. It shares the
// group validator, so a request that already passed is not checked twice.
func (api *API) RequireAuth(next http.Handler) http.Handler {
	return api.validator.Middleware(next)
}

func (api *API) writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.FromContext(ctx).Warn(ctx, "failed to encode JSON response", "error", err)
	}
}

type errorResponse struct {
	Error      string `json:"error"`
	RedirectTo string `json:"redirectTo,omitempty"`
}

// writeError maps err to its status code. The full error is logged for
// server side failures, the response only carries the public message.
func (api *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	kind := adminerr.KindOf(err)
	status := adminerr.Status(kind)

	if status >= http.StatusInternalServerError {
		log.FromContext(ctx).Error(ctx, err, "admin request failed", "kind", kind.String())
	} else {
		log.FromContext(ctx).Debug(ctx, "admin request rejected", "kind", kind.String(), "error", err.Error())
	}

	resp := errorResponse{Error: adminerr.PublicMessage(err, !api.production)}
	if adminerr.RedirectsToLogin(kind) {
		resp.RedirectTo = LoginPath
	}
	api.writeJSON(ctx, w, status, resp)
}

// decodeBody reads an optional JSON body into v. An empty body leaves v
// untouched.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return adminerr.Validation("request body too large")
		}
		return adminerr.Validation("invalid JSON body")
	}
	return nil
}

// actor is the username of the validated session.
func actor(r *http.Request) string {
	rec, _ := session.FromContext(r.Context())
	return rec.Username
}

type healthResponse struct {
	Status  string            `json:"status"`
	Mode    string            `json:"mode"`
	Region  string            `json:"region"`
	Buckets lifecycle.Buckets `json:"buckets"`
	Time    time.Time         `json:"time"`
}

// HandleHealth reports configuration, it does not probe the store.
func (api *API) HandleHealth(w http.ResponseWriter, r *http.Request) {
	mode := "development"
	if api.production {
		mode = "production"
	}
	api.writeJSON(r.Context(), w, http.StatusOK, healthResponse{
		Status:  "ok",
		Mode:    mode,
		Region:  api.region,
		Buckets: api.engine.Buckets(),
		Time:    api.now().UTC().Truncate(time.Second),
	})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Success    bool   `json:"success"`
	RedirectTo string `json:"redirectTo"`
}

func (api *API) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeBody(r, &req); err != nil {
		api.writeError(w, r, err)
		return
	}

	id, _, err := api.guard.Login(r.Context(), session.LoginInput{
		Username: req.Username,
		Password: req.Password,
		ClientIP: httpmw.ClientIPFromContext(r.Context()),
		PriorID:  api.cookies.Read(r),
	})
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	if err := api.cookies.Write(w, id); err != nil {
		api.writeError(w, r, err)
		return
	}
	api.writeJSON(r.Context(), w, http.StatusOK, loginResponse{Success: true, RedirectTo: DashboardPath})
}

func (api *API) HandleStatus(w http.ResponseWriter, r *http.Request) {
	api.writeJSON(r.Context(), w, http.StatusOK, api.guard.Status(r.Context(), api.cookies.Read(r)))
}

type successResponse struct {
	Success bool `json:"success"`
}

func (api *API) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if err := api.guard.Logout(r.Context(), api.cookies.Read(r)); err != nil {
		api.writeError(w, r, err)
		return
	}
	api.cookies.Clear(w)
	api.writeJSON(r.Context(), w, http.StatusOK, successResponse{Success: true})
}

type dashboardResponse struct {
	lifecycle.DashboardStats
	Bucket string `json:"bucket"`
}

func (api *API) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	st, err := api.engine.Dashboard(r.Context())
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	api.writeJSON(r.Context(), w, http.StatusOK, dashboardResponse{DashboardStats: st, Bucket: api.engine.Buckets().Media})
}

func (api *API) HandleListContent(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res, err := api.engine.List(r.Context(), lifecycle.ListInput{
		Status:      q.Get("status"),
		UserID:      q.Get("userId"),
		ContentType: q.Get("contentType"),
	})
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	api.writeJSON(r.Context(), w, http.StatusOK, res)
}

type approveRequest struct {
	AdminNotes string `json:"adminNotes"`
	S3Key      string `json:"s3Key"`
	UserID     string `json:"userId"`
	PropertyID string `json:"propertyId"`
	FileName   string `json:"fileName"`
	Variant    string `json:"variant"`
}

func (api *API) HandleApprove(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if err := decodeBody(r, &req); err != nil {
		api.writeError(w, r, err)
		return
	}
	res, err := api.engine.Approve(r.Context(), lifecycle.ApproveInput{
		ContentID:  chi.URLParam(r, "id"),
		S3Key:      req.S3Key,
		UserID:     req.UserID,
		PropertyID: req.PropertyID,
		FileName:   req.FileName,
		AdminNotes: req.AdminNotes,
		Variant:    req.Variant,
		Actor:      actor(r),
	})
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	api.writeJSON(r.Context(), w, http.StatusOK, res)
}

type featureRequest struct {
	S3Key      string `json:"s3Key"`
	UserID     string `json:"userId"`
	PropertyID string `json:"propertyId"`
	FileName   string `json:"fileName"`
	Priority   int    `json:"priority"`
	Position   string `json:"position"`
}

func (api *API) HandleFeature(w http.ResponseWriter, r *http.Request) {
	var req featureRequest
	if err := decodeBody(r, &req); err != nil {
		api.writeError(w, r, err)
		return
	}
	res, err := api.engine.Feature(r.Context(), lifecycle.FeatureInput{
		ContentID:  chi.URLParam(r, "id"),
		S3Key:      req.S3Key,
		UserID:     req.UserID,
		PropertyID: req.PropertyID,
		FileName:   req.FileName,
		Priority:   req.Priority,
		Position:   req.Position,
		Actor:      actor(r),
	})
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	api.writeJSON(r.Context(), w, http.StatusOK, res)
}

type rejectRequest struct {
	RejectionReason string `json:"rejectionReason"`
}

func (api *API) HandleReject(w http.ResponseWriter, r *http.Request) {
	var req rejectRequest
	if err := decodeBody(r, &req); err != nil {
		api.writeError(w, r, err)
		return
	}
	rec, err := api.engine.Reject(r.Context(), lifecycle.RejectInput{
		ContentID: chi.URLParam(r, "id"),
		Reason:    req.RejectionReason,
		Actor:     actor(r),
	})
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	api.writeJSON(r.Context(), w, http.StatusOK, rec)
}

type bootstrapRequest struct {
	Folders []string `json:"folders"`
}

func (api *API) HandleBootstrap(w http.ResponseWriter, r *http.Request) {
	var req bootstrapRequest
	if err := decodeBody(r, &req); err != nil {
		api.writeError(w, r, err)
		return
	}
	res, err := api.engine.Bootstrap(r.Context(), req.Folders)
	if err != nil {
		api.writeError(w, r, err)
		return
	}
	api.writeJSON(r.Context(), w, http.StatusOK, res)
}
