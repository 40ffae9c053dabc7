package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/viralforge/mesh/services/financial-rails/M15-usage-settlement-service/internal/contracts"
	"github.com/viralforge/mesh/services/financial-rails/M15-usage-settlement-service/internal/domain"
)

func (h *Handler) charge(w http.ResponseWriter, r *http.Request) {
	userDID := strings.TrimSpace(chi.URLParam(r, "did"))
	var req contracts.ChargeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error(), requestIDFromContext(r.Context()))
		return
	}
	remaining, err := h.service.Charge(r.Context(), userDID, req.Credits)
	if err != nil {
		status, code := mapDomainError(err)
		writeError(w, status, code, err.Error(), requestIDFromContext(r.Context()))
		return
	}
	writeSuccess(w, http.StatusOK, "", contracts.ChargeResponse{
		UserDID:   userDID,
		Remaining: remaining,
	})
}

func (h *Handler) getLedgerState(w http.ResponseWriter, r *http.Request) {
	userDID := strings.TrimSpace(chi.URLParam(r, "did"))
	balance, held, blocked, err := h.service.LedgerState(r.Context(), userDID)
	if err != nil {
		status, code := mapDomainError(err)
		writeError(w, status, code, err.Error(), requestIDFromContext(r.Context()))
		return
	}
	writeSuccess(w, http.StatusOK, "", contracts.LedgerStateResponse{
		UserDID:    userDID,
		Balance:    balance,
		HeldAmount: held,
		Blocked:    blocked,
	})
}

func (h *Handler) listHeld(w http.ResponseWriter, r *http.Request) {
	actor := actorFromContext(r.Context())
	if actor.Role != "admin" {
		status, code := mapDomainError(domain.ErrForbidden)
		writeError(w, status, code, domain.ErrForbidden.Error(), requestIDFromContext(r.Context()))
		return
	}
	min := parseFloatOrDefault(r.URL.Query().Get("min"), 0)
	entries, err := h.service.HeldEntries(r.Context(), min)
	if err != nil {
		status, code := mapDomainError(err)
		writeError(w, status, code, err.Error(), requestIDFromContext(r.Context()))
		return
	}
	writeSuccess(w, http.StatusOK, "", map[string]interface{}{
		"items": entries,
	})
}

func (h *Handler) overrideBalance(w http.ResponseWriter, r *http.Request) {
	actor := actorFromContext(r.Context())
	if actor.Role != "admin" {
		status, code := mapDomainError(domain.ErrForbidden)
		writeError(w, status, code, domain.ErrForbidden.Error(), requestIDFromContext(r.Context()))
		return
	}
	userDID := strings.TrimSpace(chi.URLParam(r, "did"))
	var req contracts.OverrideBalanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error(), requestIDFromContext(r.Context()))
		return
	}
	newBalance, clamped, err := h.service.OverrideBalance(r.Context(), userDID, req.AuthoritativeBalance)
	if err != nil {
		status, code := mapDomainError(err)
		writeError(w, status, code, err.Error(), requestIDFromContext(r.Context()))
		return
	}
	writeSuccess(w, http.StatusOK, "", contracts.OverrideBalanceResponse{
		UserDID:    userDID,
		NewBalance: newBalance,
		Clamped:    clamped,
	})
}

func (h *Handler) runSettlement(w http.ResponseWriter, r *http.Request) {
	actor := actorFromContext(r.Context())
	if actor.Role != "admin" {
		status, code := mapDomainError(domain.ErrForbidden)
		writeError(w, status, code, domain.ErrForbidden.Error(), requestIDFromContext(r.Context()))
		return
	}
	report, err := h.service.RunSettlementCycle(r.Context())
	if err != nil {
		status, code := mapDomainError(err)
		writeError(w, status, code, err.Error(), requestIDFromContext(r.Context()))
		return
	}
	writeSuccess(w, http.StatusOK, "", contracts.CycleReportResponse{
		CycleID:      report.CycleID,
		UsersScanned: report.UsersScanned,
		UsersSettled: report.UsersSettled,
		UsersSkipped: report.UsersSkipped,
		UsersFailed:  report.UsersFailed,
		TotalSettled: report.TotalSettled,
	})
}

func (h *Handler) listClaims(w http.ResponseWriter, r *http.Request) {
	userDID := strings.TrimSpace(r.URL.Query().Get("user_did"))
	limit := parseIntOrDefault(r.URL.Query().Get("limit"), 20)
	offset := parseIntOrDefault(r.URL.Query().Get("offset"), 0)
	items, total, err := h.service.ClaimHistory(r.Context(), userDID, limit, offset)
	if err != nil {
		status, code := mapDomainError(err)
		writeError(w, status, code, err.Error(), requestIDFromContext(r.Context()))
		return
	}
	writeSuccess(w, http.StatusOK, "", map[string]interface{}{
		"items": items,
		"pagination": contracts.Pagination{
			Limit:  limit,
			Offset: offset,
			Total:  total,
		},
	})
}

func parseIntOrDefault(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func parseFloatOrDefault(raw string, fallback float64) float64 {
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return value
}
