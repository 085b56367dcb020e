package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/fenlandpay/paygate-go/internal/platform/domain"
)

// UsersHandler exposes the two-step registration over JSON.
type UsersHandler struct {
	Service *UsersService
}

func (h *UsersHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/users", h.register)
	mux.HandleFunc("GET /api/users", h.list)
	mux.HandleFunc("GET /api/users/{id}", h.get)
	mux.HandleFunc("POST /api/users/{id}/confirm", h.confirm)
}

type registerUserRequest struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

func (h *UsersHandler) register(w http.ResponseWriter, r *http.Request) {
	var req registerUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	user, err := h.Service.Register(r.Context(), req.Email, req.FirstName, req.LastName)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"user_id": user.UserID.String()})
}

type confirmUserRequest struct {
	Code string `json:"code"`
}

func (h *UsersHandler) confirm(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseUserID(r.PathValue("id"))
	if err != nil {
		writeError(w, validationf("malformed user id"))
		return
	}
	var req confirmUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if _, err := h.Service.Confirm(r.Context(), id, req.Code); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "registered"})
}

type userView struct {
	UserID       domain.UserID `json:"user_id"`
	Version      int64         `json:"version"`
	Email        string        `json:"email"`
	FirstName    string        `json:"first_name"`
	LastName     string        `json:"last_name"`
	Kind         string        `json:"kind"`
	CodeIssuedAt *time.Time    `json:"code_issued_at,omitempty"`
}

func viewUser(u domain.User, version int64) userView {
	v := userView{
		UserID:    u.UserID,
		Version:   version,
		Email:     u.Email,
		FirstName: u.Data.FirstName,
		LastName:  u.Data.LastName,
		Kind:      string(u.Data.Kind),
	}
	if u.Data.Kind == domain.UserRegistering {
		issued := u.Data.CodeIssuedAt
		v.CodeIssuedAt = &issued
	}
	return v
}

func (h *UsersHandler) get(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseUserID(r.PathValue("id"))
	if err != nil {
		writeError(w, validationf("malformed user id"))
		return
	}
	user, version, err := h.Service.GetUser(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewUser(user, version))
}

func (h *UsersHandler) list(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	page, err := h.Service.ListUsers(r.Context(), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]userView, 0, len(page))
	for _, vu := range page {
		views = append(views, viewUser(vu.User, vu.Version))
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": views})
}
