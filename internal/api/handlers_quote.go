package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/pinggolf/gestima/internal/db"
	"github.com/pinggolf/gestima/internal/services"
)

func idFromVars(r *http.Request, key string) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)[key], 10, 64)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	http.Error(w, err.Error(), status)
}

type createQuoteRequest struct {
	PartnerID       int64   `json:"partner_id"`
	Title           string  `json:"title"`
	DiscountPercent float64 `json:"discount_percent"`
	TaxPercent      float64 `json:"tax_percent"`
}

func (s *Server) handleCreateQuote(w http.ResponseWriter, r *http.Request) {
	actor, err := s.actingUser(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	var req createQuoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	quote, err := s.quoteEngine.CreateDraft(r.Context(), req.PartnerID, req.Title, req.DiscountPercent, req.TaxPercent, actor)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, quote)
}

// quoteDetail bundles a Quote with its line items for a single GET
// response, sparing the frontend a second round trip.
type quoteDetail struct {
	*db.Quote
	Items []db.QuoteItem `json:"items"`
}

func (s *Server) handleGetQuote(w http.ResponseWriter, r *http.Request) {
	id, err := idFromVars(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	quote, err := s.db.GetQuote(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	items, err := s.db.ItemsForQuote(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, quoteDetail{Quote: quote, Items: items})
}

type updateQuoteHeaderRequest struct {
	Title           string  `json:"title"`
	DiscountPercent float64 `json:"discount_percent"`
	TaxPercent      float64 `json:"tax_percent"`
	ExpectedVersion int64   `json:"expected_version"`
}

func (s *Server) handleUpdateQuoteHeader(w http.ResponseWriter, r *http.Request) {
	id, err := idFromVars(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	actor, err := s.actingUser(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	var req updateQuoteHeaderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.quoteEngine.UpdateHeader(r.Context(), id, req.Title, req.DiscountPercent, req.TaxPercent, req.ExpectedVersion, actor); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteQuote(w http.ResponseWriter, r *http.Request) {
	id, err := idFromVars(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	actor, err := s.actingUser(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	if err := s.quoteEngine.Delete(r.Context(), id, actor); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}

	if err := s.audit.Log(r.Context(), services.AuditParams{
		EntityType: "quote",
		EntityID:   strconv.FormatInt(id, 10),
		Operation:  "quote.delete",
		ActingUser: actor,
	}); err != nil {
		slog.Warn("api: failed to write audit log", "operation", "quote.delete", "error", err)
	}

	w.WriteHeader(http.StatusNoContent)
}

type addQuoteItemRequest struct {
	PartID   int64   `json:"part_id"`
	Quantity float64 `json:"quantity"`
	Notes    string  `json:"notes"`
}

func (s *Server) handleAddQuoteItem(w http.ResponseWriter, r *http.Request) {
	quoteID, err := idFromVars(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	actor, err := s.actingUser(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	var req addQuoteItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	item, err := s.quoteEngine.AddItem(r.Context(), quoteID, req.PartID, req.Quantity, req.Notes, actor)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

type updateQuoteItemRequest struct {
	Quantity        float64 `json:"quantity"`
	UnitPrice       float64 `json:"unit_price"`
	Notes           string  `json:"notes"`
	ExpectedVersion int64   `json:"expected_version"`
}

func (s *Server) handleUpdateQuoteItem(w http.ResponseWriter, r *http.Request) {
	itemID, err := idFromVars(r, "itemId")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	actor, err := s.actingUser(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	var req updateQuoteItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.quoteEngine.UpdateItem(r.Context(), itemID, req.Quantity, req.UnitPrice, req.Notes, req.ExpectedVersion, actor); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteQuoteItem(w http.ResponseWriter, r *http.Request) {
	itemID, err := idFromVars(r, "itemId")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	actor, err := s.actingUser(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	if err := s.quoteEngine.DeleteItem(r.Context(), itemID, actor); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type transitionQuoteRequest struct {
	ExpectedVersion int64 `json:"expected_version"`
}

func (s *Server) handleSendQuote(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, "quote.send", s.quoteEngine.Send)
}

func (s *Server) handleApproveQuote(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, "quote.approve", s.quoteEngine.Approve)
}

func (s *Server) handleRejectQuote(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, "quote.reject", s.quoteEngine.Reject)
}

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request, operation string, transition func(ctx context.Context, quoteID, expectedVersion int64, actor string) error) {
	id, err := idFromVars(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	actor, err := s.actingUser(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	var req transitionQuoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := transition(r.Context(), id, req.ExpectedVersion, actor); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}

	if err := s.audit.Log(r.Context(), services.AuditParams{
		EntityType: "quote",
		EntityID:   strconv.FormatInt(id, 10),
		Operation:  operation,
		ActingUser: actor,
	}); err != nil {
		slog.Warn("api: failed to write audit log", "operation", operation, "error", err)
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCloneQuote(w http.ResponseWriter, r *http.Request) {
	id, err := idFromVars(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	actor, err := s.actingUser(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	clone, err := s.quoteEngine.Clone(r.Context(), id, actor)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, clone)
}
