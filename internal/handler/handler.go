// Package handler содержит HTTP-обработчики API платформы торговли углеродными кредитами.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/carbonviet/carbonmarket-system/internal/middleware"
	"github.com/carbonviet/carbonmarket-system/internal/model"
	"github.com/carbonviet/carbonmarket-system/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, login, password string) (int64, error)
	AuthenticateUser(ctx context.Context, login, password string) (model.Caller, error)

	GetWallet(ctx context.Context, caller model.Caller) (*model.Wallet, error)
	RequestTopup(ctx context.Context, caller model.Caller, amount int64, paymentMethod string) (*model.WalletTransaction, error)
	GetTopups(ctx context.Context, caller model.Caller) ([]model.WalletTransaction, error)

	RequestCertificate(ctx context.Context, caller model.Caller, quantity decimal.Decimal, meta service.CertificateMetadata) (*model.Certificate, error)
	GetCertificates(ctx context.Context, caller model.Caller) ([]model.Certificate, error)

	SubmitListing(ctx context.Context, caller model.Caller, title string, totalQuantity decimal.Decimal, pricePerCredit int64, description string) (*model.Listing, error)
	GetOwnListings(ctx context.Context, caller model.Caller) ([]model.Listing, error)
	MarketplaceListings(ctx context.Context, caller model.Caller) ([]model.Listing, error)
	GetMarketPrices(ctx context.Context, caller model.Caller) (*service.MarketPrices, error)

	CreateTransaction(ctx context.Context, caller model.Caller, listingID int64, quantity decimal.Decimal) (*model.Transaction, error)
	ConfirmTransaction(ctx context.Context, caller model.Caller, txID int64) (*model.Transaction, error)
	CompleteTransaction(ctx context.Context, caller model.Caller, txID int64) (*model.Transaction, error)
	CancelTransaction(ctx context.Context, caller model.Caller, txID int64) (*model.Transaction, error)
	GetTransactions(ctx context.Context, caller model.Caller) ([]model.Transaction, error)

	PortfolioSummary(ctx context.Context, caller model.Caller, userID int64) (*model.PortfolioSummary, error)

	ApproveTopup(ctx context.Context, caller model.Caller, topupID int64) (*model.WalletTransaction, error)
	RejectTopup(ctx context.Context, caller model.Caller, topupID int64, reason string) (*model.WalletTransaction, error)
	ApproveCertificate(ctx context.Context, caller model.Caller, certID int64) (*model.Certificate, error)
	RejectCertificate(ctx context.Context, caller model.Caller, certID int64, reason string) (*model.Certificate, error)
	ApproveListing(ctx context.Context, caller model.Caller, listingID int64) (*model.Listing, error)
	RejectListing(ctx context.Context, caller model.Caller, listingID int64, reason string) (*model.Listing, error)
	PendingTopups(ctx context.Context, caller model.Caller) ([]model.WalletTransaction, error)
	PendingCertificates(ctx context.Context, caller model.Caller) ([]model.Certificate, error)
	PendingListings(ctx context.Context, caller model.Caller) ([]model.Listing, error)
	Notifications(ctx context.Context, caller model.Caller, afterID int64, limit int) ([]model.Notification, error)
}

// Handler реализует HTTP-обработчики API платформы.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	validate       *validator.Validate
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		validate:       validator.New(),
	}
}

// decodeAndValidate разбирает JSON-тело запроса и проверяет его по validate-тегам.
func (h *Handler) decodeAndValidate(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return err
	}
	return h.validate.Struct(dst)
}

// caller извлекает идентичность вызывающего; её отсутствие — обрыв запроса с 401.
func (h *Handler) caller(w http.ResponseWriter, r *http.Request) (model.Caller, bool) {
	caller, ok := middleware.GetCallerFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
	}
	return caller, ok
}

// writeServiceError переводит доменные ошибки в HTTP-статусы.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error, logMsg string) {
	switch {
	case errors.Is(err, service.ErrValidation):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, service.ErrAuthorization):
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
	case errors.Is(err, service.ErrNotFound):
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	case errors.Is(err, service.ErrConflict), errors.Is(err, service.ErrInsufficientInventory):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, service.ErrInsufficientFunds):
		http.Error(w, http.StatusText(http.StatusPaymentRequired), http.StatusPaymentRequired)
	default:
		h.logger.Error(logMsg, zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

type credentialsRequest struct {
	Login    string `json:"login" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// Register обрабатывает регистрацию нового пользователя.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, err := h.service.RegisterUser(r.Context(), req.Login, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrUserExists) {
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
			return
		}
		h.writeServiceError(w, err, "register user error")
		return
	}

	h.authMiddleware.SetAuthCookie(w, model.Caller{UserID: userID, Role: model.RoleUser})
	w.WriteHeader(http.StatusOK)
}

// Login выполняет аутентификацию пользователя и установку cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	caller, err := h.service.AuthenticateUser(r.Context(), req.Login, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		h.writeServiceError(w, err, "login user error")
		return
	}

	h.authMiddleware.SetAuthCookie(w, caller)
	w.WriteHeader(http.StatusOK)
}

type walletResponse struct {
	Balance int64 `json:"balance"`
}

// GetWallet возвращает кошелёк текущего пользователя.
func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	wallet, err := h.service.GetWallet(r.Context(), caller)
	if err != nil {
		h.writeServiceError(w, err, "get wallet error")
		return
	}

	h.writeJSON(w, walletResponse{Balance: wallet.Balance})
}

type topupRequest struct {
	Amount        int64  `json:"amount" validate:"required,gt=0"`
	PaymentMethod string `json:"payment_method" validate:"required"`
}

type topupResponse struct {
	ID              int64  `json:"id"`
	Amount          int64  `json:"amount"`
	PaymentMethod   string `json:"payment_method"`
	Status          string `json:"status"`
	RejectionReason string `json:"rejection_reason,omitempty"`
	CreatedAt       string `json:"created_at"`
}

func toTopupResponse(t *model.WalletTransaction) topupResponse {
	return topupResponse{
		ID:              t.ID,
		Amount:          t.Amount,
		PaymentMethod:   t.PaymentMethod,
		Status:          string(t.Status),
		RejectionReason: t.RejectionReason,
		CreatedAt:       t.CreatedAt.Format(time.RFC3339),
	}
}

// RequestTopup создаёт заявку на пополнение кошелька текущего пользователя.
func (h *Handler) RequestTopup(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req topupRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	topup, err := h.service.RequestTopup(r.Context(), caller, req.Amount, req.PaymentMethod)
	if err != nil {
		h.writeServiceError(w, err, "request topup error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(toTopupResponse(topup))
}

// GetTopups возвращает историю заявок на пополнение текущего пользователя.
func (h *Handler) GetTopups(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	topups, err := h.service.GetTopups(r.Context(), caller)
	if err != nil {
		h.writeServiceError(w, err, "get topups error")
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

type certificateRequest struct {
	Quantity          decimal.Decimal `json:"quantity" validate:"required"`
	ProjectName       string          `json:"project_name"`
	CertificationBody string          `json:"certification_body"`
	SerialNumber      string          `json:"serial_number"`
	Notes             string          `json:"notes"`
	ExpiryDate        *time.Time      `json:"expiry_date"`
}

type certificateResponse struct {
	ID                int64  `json:"id"`
	Quantity          string `json:"quantity"`
	ProjectName       string `json:"project_name,omitempty"`
	CertificationBody string `json:"certification_body,omitempty"`
	SerialNumber      string `json:"serial_number,omitempty"`
	Notes             string `json:"notes,omitempty"`
	IssuedDate        string `json:"issued_date"`
	ExpiryDate        string `json:"expiry_date,omitempty"`
	Status            string `json:"status"`
	Origin            string `json:"origin"`
}

func toCertificateResponse(c *model.Certificate) certificateResponse {
	resp := certificateResponse{
		ID:                c.ID,
		Quantity:          c.Quantity.StringFixed(2),
		ProjectName:       c.ProjectName,
		CertificationBody: c.CertificationBody,
		SerialNumber:      c.SerialNumber,
		Notes:             c.Notes,
		IssuedDate:        c.IssuedDate.Format(time.RFC3339),
		Status:            string(c.Status),
		Origin:            string(c.Origin),
	}
	if c.ExpiryDate != nil {
		resp.ExpiryDate = c.ExpiryDate.Format(time.RFC3339)
	}
	return resp
}

// RequestCertificate создаёт заявку на сертификат от текущего пользователя.
func (h *Handler) RequestCertificate(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req certificateRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	cert, err := h.service.RequestCertificate(r.Context(), caller, req.Quantity, service.CertificateMetadata{
		ProjectName:       req.ProjectName,
		CertificationBody: req.CertificationBody,
		SerialNumber:      req.SerialNumber,
		Notes:             req.Notes,
		ExpiryDate:        req.ExpiryDate,
	})
	if err != nil {
		h.writeServiceError(w, err, "request certificate error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(toCertificateResponse(cert))
}

// GetCertificates возвращает сертификаты текущего пользователя.
func (h *Handler) GetCertificates(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	certs, err := h.service.GetCertificates(r.Context(), caller)
	if err != nil {
		h.writeServiceError(w, err, "get certificates error")
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

type listingRequest struct {
	Title          string          `json:"title" validate:"required"`
	Description    string          `json:"description"`
	TotalQuantity  decimal.Decimal `json:"total_quantity" validate:"required"`
	PricePerCredit int64           `json:"price_per_credit" validate:"required,gt=0"`
}

type listingResponse struct {
	ID                int64  `json:"id"`
	SellerID          int64  `json:"seller_id"`
	Title             string `json:"title"`
	Description       string `json:"description,omitempty"`
	TotalQuantity     string `json:"total_quantity"`
	AvailableQuantity string `json:"available_quantity"`
	PricePerCredit    int64  `json:"price_per_credit"`
	Status            string `json:"status"`
	RejectionReason   string `json:"rejection_reason,omitempty"`
	CreatedAt         string `json:"created_at"`
}

func toListingResponse(l *model.Listing) listingResponse {
	return listingResponse{
		ID:                l.ID,
		SellerID:          l.SellerID,
		Title:             l.Title,
		Description:       l.Description,
		TotalQuantity:     l.TotalQuantity.StringFixed(2),
		AvailableQuantity: l.AvailableQuantity.StringFixed(2),
		PricePerCredit:    l.PricePerCredit,
		Status:            string(l.Status),
		RejectionReason:   l.RejectionReason,
		CreatedAt:         l.CreatedAt.Format(time.RFC3339),
	}
}

// SubmitListing создаёт предложение о продаже от текущего пользователя.
func (h *Handler) SubmitListing(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req listingRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	listing, err := h.service.SubmitListing(r.Context(), caller, req.Title, req.TotalQuantity, req.PricePerCredit, req.Description)
	if err != nil {
		h.writeServiceError(w, err, "submit listing error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(toListingResponse(listing))
}

// GetOwnListings возвращает предложения текущего пользователя во всех статусах.
func (h *Handler) GetOwnListings(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	listings, err := h.service.GetOwnListings(r.Context(), caller)
	if err != nil {
		h.writeServiceError(w, err, "get own listings error")
		return
	}

	h.writeListings(w, listings)
}

// MarketplaceListings возвращает активные предложения маркетплейса.
func (h *Handler) MarketplaceListings(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	listings, err := h.service.MarketplaceListings(r.Context(), caller)
	if err != nil {
		h.writeServiceError(w, err, "get marketplace listings error")
		return
	}

	h.writeListings(w, listings)
}

func (h *Handler) writeListings(w http.ResponseWriter, listings []model.Listing) {
	if len(listings) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]listingResponse, 0, len(listings))
	for i := range listings {
		resp = append(resp, toListingResponse(&listings[i]))
	}
	h.writeJSON(w, resp)
}

// MarketPrices возвращает ценовую аналитику маркетплейса.
func (h *Handler) MarketPrices(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	prices, err := h.service.GetMarketPrices(r.Context(), caller)
	if err != nil {
		h.writeServiceError(w, err, "get market prices error")
		return
	}

	h.writeJSON(w, prices)
}

type purchaseRequest struct {
	ListingID int64           `json:"listing_id" validate:"required,gt=0"`
	Quantity  decimal.Decimal `json:"quantity"`
}

type transactionResponse struct {
	ID        int64  `json:"id"`
	BuyerID   int64  `json:"buyer_id"`
	SellerID  int64  `json:"seller_id"`
	ListingID int64  `json:"listing_id"`
	Quantity  string `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
	Total     int64  `json:"total"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

func toTransactionResponse(t *model.Transaction) transactionResponse {
	return transactionResponse{
		ID:        t.ID,
		BuyerID:   t.BuyerID,
		SellerID:  t.SellerID,
		ListingID: t.ListingID,
		Quantity:  t.Quantity.StringFixed(2),
		UnitPrice: t.UnitPrice,
		Total:     t.Total,
		Status:    string(t.Status),
		CreatedAt: t.CreatedAt.Format(time.RFC3339),
	}
}

// CreateTransaction создаёт сделку покупки от текущего пользователя.
func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req purchaseRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	tx, err := h.service.CreateTransaction(r.Context(), caller, req.ListingID, req.Quantity)
	if err != nil {
		h.writeServiceError(w, err, "create transaction error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(toTransactionResponse(tx))
}

// ConfirmTransaction переводит сделку текущего пользователя в CONFIRMED.
func (h *Handler) ConfirmTransaction(w http.ResponseWriter, r *http.Request) {
	h.transitionTransaction(w, r, h.service.ConfirmTransaction, "confirm transaction error")
}

// CompleteTransaction выполняет расчёт по сделке текущего пользователя.
func (h *Handler) CompleteTransaction(w http.ResponseWriter, r *http.Request) {
	h.transitionTransaction(w, r, h.service.CompleteTransaction, "complete transaction error")
}

// CancelTransaction отменяет сделку текущего пользователя.
func (h *Handler) CancelTransaction(w http.ResponseWriter, r *http.Request) {
	h.transitionTransaction(w, r, h.service.CancelTransaction, "cancel transaction error")
}

func (h *Handler) transitionTransaction(
	w http.ResponseWriter,
	r *http.Request,
	op func(context.Context, model.Caller, int64) (*model.Transaction, error),
	logMsg string,
) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	txID, err := pathID(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	tx, err := op(r.Context(), caller, txID)
	if err != nil {
		h.writeServiceError(w, err, logMsg)
		return
	}

	h.writeJSON(w, toTransactionResponse(tx))
}

// GetTransactions возвращает сделки текущего пользователя.
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	txs, err := h.service.GetTransactions(r.Context(), caller)
	if err != nil {
		h.writeServiceError(w, err, "get transactions error")
		return
	}

	if len(txs) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]transactionResponse, 0, len(txs))
	for i := range txs {
		resp = append(resp, toTransactionResponse(&txs[i]))
	}
	h.writeJSON(w, resp)
}

type portfolioResponse struct {
	WalletBalance            int64  `json:"wallet_balance"`
	ValidCreditQuantity      string `json:"valid_credit_quantity"`
	ActiveListingCount       int64  `json:"active_listing_count"`
	LifetimeTransactionCount int64  `json:"lifetime_transaction_count"`
}

// Portfolio возвращает агрегированную сводку активности текущего пользователя.
func (h *Handler) Portfolio(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	summary, err := h.service.PortfolioSummary(r.Context(), caller, caller.UserID)
	if err != nil {
		h.writeServiceError(w, err, "get portfolio error")
		return
	}

	h.writeJSON(w, portfolioResponse{
		WalletBalance:            summary.WalletBalance,
		ValidCreditQuantity:      summary.ValidCreditQuantity.StringFixed(2),
		ActiveListingCount:       summary.ActiveListingCount,
		LifetimeTransactionCount: summary.LifetimeTransactionCount,
	})
}
