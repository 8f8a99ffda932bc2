package trade

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Caller identity headers. Authentication happens upstream; the engine
// trusts these as given.
const (
	HeaderUserID = "X-User-Id"
	HeaderAPIKey = "X-Api-Key"
)

// Routes mounts the trade API on r.
func (s *Service) Routes(r chi.Router) {
	r.Post("/bet", s.HandlePlaceBet)
	r.Post("/bet/cancel/{betId}", s.HandleCancelBet)
	r.Post("/market/{contractId}/sell", s.HandleSell)
	r.Post("/contract", s.HandleCreateContract)

	r.Get("/contract/{contractId}", s.HandleGetContract)
	r.Get("/contract/{contractId}/orders", s.HandleOpenOrders)
	r.Get("/contract/{contractId}/metrics/{userId}", s.HandleUserMetrics)
	r.Get("/user/{userId}", s.HandleGetUser)
}

func callerFrom(r *http.Request) (Caller, bool) {
	id := r.Header.Get(HeaderUserID)
	return Caller{ID: id, IsAPI: r.Header.Get(HeaderAPIKey) != ""}, id != ""
}

// HandlePlaceBet handles POST /api/v1/bet
func (s *Service) HandlePlaceBet(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(r)
	if !ok {
		writeError(w, r, errUnauthenticated)
		return
	}
	var req PlaceBetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, errBadBody)
		return
	}

	resp, err := s.PlaceBet(r.Context(), caller, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleSell handles POST /api/v1/market/{contractId}/sell
func (s *Service) HandleSell(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(r)
	if !ok {
		writeError(w, r, errUnauthenticated)
		return
	}
	var req SellRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, errBadBody)
			return
		}
	}
	req.ContractID = chi.URLParam(r, "contractId")

	resp, err := s.SellShares(r.Context(), caller, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleCancelBet handles POST /api/v1/bet/cancel/{betId}
func (s *Service) HandleCancelBet(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(r)
	if !ok {
		writeError(w, r, errUnauthenticated)
		return
	}
	bet, err := s.CancelBet(r.Context(), caller, chi.URLParam(r, "betId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bet)
}

// HandleCreateContract handles POST /api/v1/contract
func (s *Service) HandleCreateContract(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(r)
	if !ok {
		writeError(w, r, errUnauthenticated)
		return
	}
	var req CreateContractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, errBadBody)
		return
	}

	resp, err := s.CreateContract(r.Context(), caller, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// HandleGetContract handles GET /api/v1/contract/{contractId}
func (s *Service) HandleGetContract(w http.ResponseWriter, r *http.Request) {
	resp, err := s.GetContract(r.Context(), chi.URLParam(r, "contractId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleOpenOrders handles GET /api/v1/contract/{contractId}/orders
func (s *Service) HandleOpenOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.OpenOrders(r.Context(), chi.URLParam(r, "contractId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

// HandleUserMetrics handles GET /api/v1/contract/{contractId}/metrics/{userId}
func (s *Service) HandleUserMetrics(w http.ResponseWriter, r *http.Request) {
	ms, err := s.UserMetrics(r.Context(), chi.URLParam(r, "userId"), chi.URLParam(r, "contractId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ms)
}

// HandleGetUser handles GET /api/v1/user/{userId}
func (s *Service) HandleGetUser(w http.ResponseWriter, r *http.Request) {
	u, err := s.GetUser(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}
