package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/carbonviet/carbonmarket-system/internal/model"
)

// Админский контур: очереди заявок, решения об одобрении и лента уведомлений.
// Роль проверяется дважды: middleware отсекает не-админов на маршруте, сервис —
// на каждой операции.

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

type rejectRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// PendingTopups возвращает очередь заявок на пополнение.
func (h *Handler) PendingTopups(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	topups, err := h.service.PendingTopups(r.Context(), caller)
	if err != nil {
		h.writeServiceError(w, err, "pending topups error")
		return
	}

	if len(topups) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]topupResponse, 0, len(topups))
	for i := range topups {
		resp = append(resp, toTopupResponse(&topups[i]))
	}
	h.writeJSON(w, resp)
}

// ApproveTopup одобряет заявку на пополнение.
func (h *Handler) ApproveTopup(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	id, err := pathID(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	topup, err := h.service.ApproveTopup(r.Context(), caller, id)
	if err != nil {
		h.writeServiceError(w, err, "approve topup error")
		return
	}

	h.writeJSON(w, toTopupResponse(topup))
}

// RejectTopup отклоняет заявку на пополнение с указанием причины.
func (h *Handler) RejectTopup(w http.ResponseWriter, r *http.Request) {
	h.rejectByID(w, r, "reject topup error", func(ctx context.Context, caller model.Caller, id int64, reason string) (any, error) {
		topup, err := h.service.RejectTopup(ctx, caller, id, reason)
		if err != nil {
			return nil, err
		}
		return toTopupResponse(topup), nil
	})
}

// PendingCertificates возвращает очередь заявок на сертификаты.
func (h *Handler) PendingCertificates(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	certs, err := h.service.PendingCertificates(r.Context(), caller)
	if err != nil {
		h.writeServiceError(w, err, "pending certificates error")
		return
	}

	if len(certs) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]certificateResponse, 0, len(certs))
	for i := range certs {
		resp = append(resp, toCertificateResponse(&certs[i]))
	}
	h.writeJSON(w, resp)
}

// ApproveCertificate одобряет заявку на сертификат.
func (h *Handler) ApproveCertificate(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	id, err := pathID(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	cert, err := h.service.ApproveCertificate(r.Context(), caller, id)
	if err != nil {
		h.writeServiceError(w, err, "approve certificate error")
		return
	}

	h.writeJSON(w, toCertificateResponse(cert))
}

// RejectCertificate отклоняет заявку на сертификат с указанием причины.
func (h *Handler) RejectCertificate(w http.ResponseWriter, r *http.Request) {
	h.rejectByID(w, r, "reject certificate error", func(ctx context.Context, caller model.Caller, id int64, reason string) (any, error) {
		cert, err := h.service.RejectCertificate(ctx, caller, id, reason)
		if err != nil {
			return nil, err
		}
		return toCertificateResponse(cert), nil
	})
}

// PendingListings возвращает очередь предложений на проверку.
func (h *Handler) PendingListings(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	listings, err := h.service.PendingListings(r.Context(), caller)
	if err != nil {
		h.writeServiceError(w, err, "pending listings error")
		return
	}

	h.writeListings(w, listings)
}

// ApproveListing публикует предложение на маркетплейсе.
func (h *Handler) ApproveListing(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	id, err := pathID(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	listing, err := h.service.ApproveListing(r.Context(), caller, id)
	if err != nil {
		h.writeServiceError(w, err, "approve listing error")
		return
	}

	h.writeJSON(w, toListingResponse(listing))
}

// RejectListing отклоняет предложение с указанием причины.
func (h *Handler) RejectListing(w http.ResponseWriter, r *http.Request) {
	h.rejectByID(w, r, "reject listing error", func(ctx context.Context, caller model.Caller, id int64, reason string) (any, error) {
		listing, err := h.service.RejectListing(ctx, caller, id, reason)
		if err != nil {
			return nil, err
		}
		return toListingResponse(listing), nil
	})
}

func (h *Handler) rejectByID(
	w http.ResponseWriter,
	r *http.Request,
	logMsg string,
	op func(context.Context, model.Caller, int64, string) (any, error),
) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	id, err := pathID(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req rejectRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	resp, err := op(r.Context(), caller, id, req.Reason)
	if err != nil {
		h.writeServiceError(w, err, logMsg)
		return
	}

	h.writeJSON(w, resp)
}

// UserPortfolio возвращает сводку портфеля указанного пользователя.
func (h *Handler) UserPortfolio(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	userID, err := pathID(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	summary, err := h.service.PortfolioSummary(r.Context(), caller, userID)
	if err != nil {
		h.writeServiceError(w, err, "get user portfolio error")
		return
	}

	h.writeJSON(w, portfolioResponse{
		WalletBalance:            summary.WalletBalance,
		ValidCreditQuantity:      summary.ValidCreditQuantity.StringFixed(2),
		ActiveListingCount:       summary.ActiveListingCount,
		LifetimeTransactionCount: summary.LifetimeTransactionCount,
	})
}

type notificationResponse struct {
	ID          int64  `json:"id"`
	Type        string `json:"type"`
	UserID      int64  `json:"user_id"`
	ReferenceID int64  `json:"reference_id"`
	Message     string `json:"message"`
	CreatedAt   string `json:"created_at"`
}

// Notifications возвращает уведомления после курсора last-seen из query-параметра after.
func (h *Handler) Notifications(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	var afterID int64
	if v := r.URL.Query().Get("after"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil || parsed < 0 {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		afterID = parsed
	}

	var limit int
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	notifications, err := h.service.Notifications(r.Context(), caller, afterID, limit)
	if err != nil {
		h.writeServiceError(w, err, "get notifications error")
		return
	}

	resp := make([]notificationResponse, 0, len(notifications))
	for _, n := range notifications {
		resp = append(resp, notificationResponse{
			ID:          n.ID,
			Type:        string(n.Type),
			UserID:      n.UserID,
			ReferenceID: n.ReferenceID,
			Message:     n.Message,
			CreatedAt:   n.CreatedAt.Format(time.RFC3339),
		})
	}

	// Пустая выборка кодируется как пустой массив: клиент хранит курсор и
	// отличает "нет новых" от ошибки по статусу.
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}
