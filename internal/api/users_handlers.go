package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/betbot/stockledger/internal/domain"
	"github.com/betbot/stockledger/internal/ports"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type createUserRequest struct {
	Name        string           `json:"name"`
	InitialCash *decimal.Decimal `json:"initial_cash,omitempty"`
}

func (s *Server) handleUsersCreate(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	cash := s.cfg.StartingCash
	if req.InitialCash != nil {
		cash = *req.InitialCash
	}
	if cash.IsNegative() {
		writeError(w, http.StatusBadRequest, "initial_cash must be >= 0")
		return
	}

	now := time.Now().UTC()
	u := domain.User{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(req.Name),
		Cash:      cash,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateUser(r.Context(), u); err != nil {
		writeDomainError(w, fmt.Errorf("%w: create user: %w", domain.ErrPersistence, err))
		return
	}
	apiLog.WithField("user", u.ID).Infof("user created cash=%s", cash)
	writeJSON(w, http.StatusCreated, toUserDTO(u))
}

func (s *Server) handleUsersList(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.ListUsers(r.Context())
	if err != nil {
		writeDomainError(w, fmt.Errorf("%w: list users: %w", domain.ErrPersistence, err))
		return
	}
	out := make([]userDTO, 0, len(users))
	for _, u := range users {
		out = append(out, toUserDTO(u))
	}
	writeJSON(w, http.StatusOK, out)
}

// loadUser 读取路径中的用户；不存在时已写出 404
func (s *Server) loadUser(w http.ResponseWriter, r *http.Request) (*domain.User, bool) {
	userID := pathParam(r, "userID")
	u, err := s.store.GetUser(r.Context(), userID)
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("user %s not found", userID))
			return nil, false
		}
		writeDomainError(w, fmt.Errorf("%w: load user: %w", domain.ErrPersistence, err))
		return nil, false
	}
	return u, true
}

func (s *Server) handleUserBalance(w http.ResponseWriter, r *http.Request) {
	u, ok := s.loadUser(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"balance": money(u.Cash)})
}

func (s *Server) handleUserPosition(w http.ResponseWriter, r *http.Request) {
	u, ok := s.loadUser(w, r)
	if !ok {
		return
	}
	ticker := domain.NormalizeSymbol(pathParam(r, "ticker"))
	out := map[string]any{"ticker": ticker, "ownedShares": int64(0), "averagePrice": 0.0}

	p, err := s.store.GetPosition(r.Context(), u.ID, ticker)
	switch {
	case err == nil:
		out["ownedShares"] = p.Quantity
		out["averagePrice"] = price(p.AverageCost)
	case errors.Is(err, ports.ErrNotFound):
	default:
		writeDomainError(w, fmt.Errorf("%w: load position: %w", domain.ErrPersistence, err))
		return
	}
	writeJSON(w, http.StatusOK, out)
}
