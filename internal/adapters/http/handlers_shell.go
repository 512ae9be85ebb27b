package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"absences/internal/adapters/http/middleware"
	idp "absences/internal/adapters/identity"
	"absences/internal/application/shell"
	"absences/internal/domain/view"
)

// statePollSlice is how often a long poll looks for a location change
// that did not move the view version.
const statePollSlice = 250 * time.Millisecond

type handlers struct {
	identity    *idp.Server
	tabs        *Tabs
	pollTimeout time.Duration
}

type resetState struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type stateResponse struct {
	Tab          string      `json:"tab"`
	View         view.Kind   `json:"view"`
	Message      string      `json:"message,omitempty"`
	Version      uint64      `json:"version"`
	Location     string      `json:"location"`
	Bootstrapped bool        `json:"bootstrapped"`
	Reset        *resetState `json:"reset,omitempty"`
}

type actionRequest struct {
	Tab             string `json:"tab"`
	Email           string `json:"email,omitempty"`
	Password        string `json:"password,omitempty"`
	ConfirmPassword string `json:"confirm_password,omitempty"`
}

type actionResponse struct {
	OK        bool          `json:"ok"`
	Error     string        `json:"error,omitempty"`
	ErrorKind string        `json:"error_kind,omitempty"`
	State     stateResponse `json:"state"`
}

// internalError logs the real error and returns a generic message to the client.
func internalError(w http.ResponseWriter, err error) {
	slog.Error("internal_error", "error", err.Error())
	http.Error(w, "internal server error", http.StatusInternalServerError)
}

// strictDecode decodes JSON from the request body, rejecting unknown fields.
func strictDecode(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write_json_failed", "error", err)
	}
}

func device(r *http.Request) string {
	id, _ := middleware.DeviceFromContext(r.Context())
	return id
}

// state renders a tab's view for the browser and records the location sent.
func (h *handlers) state(ctx context.Context, id string, app *shell.App) stateResponse {
	snap := app.Snapshot()
	resp := stateResponse{
		Tab:      id,
		View:     snap.View,
		Message:  snap.Message,
		Version:  snap.Version,
		Location: app.Location(),
	}
	select {
	case <-app.Bootstrapped():
		resp.Bootstrapped = true
	default:
	}
	if snap.View == view.KindResetPassword {
		screen := app.ResetScreen(ctx)
		resp.Reset = &resetState{Status: string(screen.Status), Error: screen.Error}
	}
	h.tabs.MarkReported(id, resp.Location)
	return resp
}

// handleBoot handles POST /api/shell/boot. The body carries the page's
// full address, which may hold recovery credentials; it is never logged.
func (h *handlers) handleBoot(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Href string `json:"href"`
	}
	if err := strictDecode(r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if u, err := url.Parse(req.Href); err != nil || u.Scheme == "" || u.Host == "" {
		http.Error(w, "href must be an absolute URL", http.StatusBadRequest)
		return
	}

	id, app, err := h.tabs.Create(r.Context(), device(r), req.Href)
	if err != nil {
		internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.state(r.Context(), id, app))
}

// handleState handles GET /api/shell/state?tab=&since=. It returns once the
// view moves past since, the location changes, or the poll times out.
func (h *handlers) handleState(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("tab")
	app, err := h.tabs.Get(id, device(r))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	since, err := strconv.ParseUint(r.URL.Query().Get("since"), 10, 64)
	if err != nil {
		http.Error(w, "since must be a view version", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.pollTimeout)
	defer cancel()
	for {
		slice, cancelSlice := context.WithTimeout(ctx, statePollSlice)
		_, err := app.Wait(slice, since)
		cancelSlice()
		if err == nil || app.Location() != h.tabs.Reported(id) || ctx.Err() != nil {
			break
		}
	}
	if r.Context().Err() != nil {
		return
	}
	writeJSON(w, http.StatusOK, h.state(r.Context(), id, app))
}

// handleClose handles POST /api/shell/close, sent when the page unloads.
func (h *handlers) handleClose(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if err := strictDecode(r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	h.tabs.Close(req.Tab, device(r))
	w.WriteHeader(http.StatusNoContent)
}

// handleAction handles POST /api/shell/{action}.
func (h *handlers) handleAction(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if err := strictDecode(r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	app, err := h.tabs.Get(req.Tab, device(r))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	ctx := r.Context()
	action := r.PathValue("action")
	switch action {
	case "register-view":
		app.GoToRegister()
	case "login-view":
		app.GoToLogin()
	case "return-to-login":
		app.ReturnToLogin(ctx)
	case "login":
		err = app.Login(ctx, req.Email, req.Password)
	case "register":
		err = app.Register(ctx, req.Email, req.Password, req.ConfirmPassword)
	case "forgot":
		err = app.ForgotPassword(ctx, req.Email)
	case "logout":
		err = app.Logout(ctx)
	case "reset":
		err = app.SubmitReset(ctx, req.Password, req.ConfirmPassword)
	default:
		http.Error(w, "unknown action", http.StatusNotFound)
		return
	}

	resp := actionResponse{OK: err == nil, State: h.state(ctx, req.Tab, app)}
	status := http.StatusOK
	if err != nil {
		slog.Info("shell_action_failed", "action", action, "error", err)
		resp.Error = err.Error()
		var resetErr *shell.ResetError
		if errors.As(err, &resetErr) {
			resp.ErrorKind = string(resetErr.Kind)
		}
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, resp)
}

// handleVerify handles GET /auth/v1/verify, the target of emailed links.
func (h *handlers) handleVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	target := h.identity.Verify(r.Context(), q.Get("type"), q.Get("token"), q.Get("redirect_to"))
	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, target, http.StatusSeeOther)
}
