package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"go.uber.org/zap"

	"github.com/carbonviet/carbonmarket-system/internal/middleware"
	"github.com/carbonviet/carbonmarket-system/internal/model"
	"github.com/carbonviet/carbonmarket-system/internal/repository"
	"github.com/carbonviet/carbonmarket-system/internal/service"
)

type testEnv struct {
	server *httptest.Server
	store  *repository.MemoryStore
	auth   *middleware.AuthMiddleware
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	store := repository.NewMemoryStore()
	svc := service.NewService(store, nil)
	auth := middleware.NewAuthMiddleware("test-secret")
	h := NewHandler(svc, logger, auth)

	srv := httptest.NewServer(h.SetupRouter())
	t.Cleanup(srv.Close)

	return &testEnv{server: srv, store: store, auth: auth}
}

// cookieFor выпускает cookie авторизации в обход HTTP-логина.
func (e *testEnv) cookieFor(caller model.Caller) *http.Cookie {
	w := httptest.NewRecorder()
	e.auth.SetAuthCookie(w, caller)
	return w.Result().Cookies()[0]
}

func (e *testEnv) adminCaller(t *testing.T) model.Caller {
	t.Helper()
	id, err := e.store.CreateUser(context.Background(), "admin", []byte("hash"), model.RoleAdmin)
	if err != nil {
		t.Fatalf("create admin: %v", err)
	}
	return model.Caller{UserID: id, Role: model.RoleAdmin}
}

func (e *testEnv) do(t *testing.T, method, path string, cookie *http.Cookie, body any) (*http.Response, []byte) {
	t.Helper()

	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, e.server.URL+path, reqBody)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, raw
}

func (e *testEnv) register(t *testing.T, login string) *http.Cookie {
	t.Helper()

	resp, _ := e.do(t, http.MethodPost, "/api/user/register", nil, map[string]string{
		"login":    login,
		"password": "password",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("register %s: status %d", login, resp.StatusCode)
	}
	cookies := resp.Cookies()
	if len(cookies) == 0 {
		t.Fatalf("register %s: no auth cookie", login)
	}
	return cookies[0]
}

func TestRegisterAndLogin(t *testing.T) {
	env := newTestEnv(t)

	env.register(t, "alice")

	resp, _ := env.do(t, http.MethodPost, "/api/user/register", nil, map[string]string{
		"login":    "alice",
		"password": "other",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate register status = %d, want %d", resp.StatusCode, http.StatusConflict)
	}

	resp, _ = env.do(t, http.MethodPost, "/api/user/login", nil, map[string]string{
		"login":    "alice",
		"password": "password",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if len(resp.Cookies()) == 0 {
		t.Fatalf("login set no auth cookie")
	}

	resp, _ = env.do(t, http.MethodPost, "/api/user/login", nil, map[string]string{
		"login":    "alice",
		"password": "wrong",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong password status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
	}

	resp, _ = env.do(t, http.MethodPost, "/api/user/register", nil, map[string]string{"login": "noboby"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing password status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t)

	paths := []string{
		"/api/user/wallet",
		"/api/user/certificates",
		"/api/user/listings",
		"/api/user/transactions",
		"/api/user/portfolio",
		"/api/market/listings",
		"/api/admin/topups",
	}
	for _, p := range paths {
		resp, _ := env.do(t, http.MethodGet, p, nil, nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("GET %s without cookie: status = %d, want %d", p, resp.StatusCode, http.StatusUnauthorized)
		}
	}
}

func TestAdminRoutesForbiddenForUser(t *testing.T) {
	env := newTestEnv(t)
	cookie := env.register(t, "plain")

	resp, _ := env.do(t, http.MethodGet, "/api/admin/topups", cookie, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("admin queue as user: status = %d, want %d", resp.StatusCode, http.StatusForbidden)
	}

	resp, _ = env.do(t, http.MethodPost, "/api/admin/listings/1/approve", cookie, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("approve as user: status = %d, want %d", resp.StatusCode, http.StatusForbidden)
	}
}

func TestTradeFlowOverHTTP(t *testing.T) {
	env := newTestEnv(t)

	sellerCookie := env.register(t, "seller")
	buyerCookie := env.register(t, "buyer")
	adminCookie := env.cookieFor(env.adminCaller(t))

	// Продавец подаёт предложение, админ публикует.
	resp, raw := env.do(t, http.MethodPost, "/api/user/listings", sellerCookie, map[string]any{
		"title":            "forest credits",
		"total_quantity":   "10.00",
		"price_per_credit": 150000,
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("submit listing status = %d: %s", resp.StatusCode, raw)
	}
	var listing struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(raw, &listing); err != nil {
		t.Fatalf("decode listing: %v", err)
	}

	resp, raw = env.do(t, http.MethodPost, "/api/admin/listings/"+itoa(listing.ID)+"/approve", adminCookie, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("approve listing status = %d: %s", resp.StatusCode, raw)
	}

	// Покупатель пополняет кошелёк, админ одобряет.
	resp, raw = env.do(t, http.MethodPost, "/api/user/wallet/topup", buyerCookie, map[string]any{
		"amount":         1000000,
		"payment_method": "bank_transfer",
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("topup status = %d: %s", resp.StatusCode, raw)
	}
	var topup struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(raw, &topup); err != nil {
		t.Fatalf("decode topup: %v", err)
	}

	resp, raw = env.do(t, http.MethodPost, "/api/admin/topups/"+itoa(topup.ID)+"/approve", adminCookie, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("approve topup status = %d: %s", resp.StatusCode, raw)
	}

	// Покупка: создание, подтверждение, расчёт.
	resp, raw = env.do(t, http.MethodPost, "/api/user/transactions", buyerCookie, map[string]any{
		"listing_id": listing.ID,
		"quantity":   "4.00",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create transaction status = %d: %s", resp.StatusCode, raw)
	}
	var tx struct {
		ID     int64  `json:"id"`
		Total  int64  `json:"total"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(raw, &tx); err != nil {
		t.Fatalf("decode transaction: %v", err)
	}
	if tx.Total != 600000 || tx.Status != "PENDING" {
		t.Fatalf("transaction = %+v, want total 600000 PENDING", tx)
	}

	resp, raw = env.do(t, http.MethodPost, "/api/user/transactions/"+itoa(tx.ID)+"/confirm", buyerCookie, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("confirm status = %d: %s", resp.StatusCode, raw)
	}

	resp, raw = env.do(t, http.MethodPost, "/api/user/transactions/"+itoa(tx.ID)+"/complete", buyerCookie, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("complete status = %d: %s", resp.StatusCode, raw)
	}

	// Балансы и сертификат после расчёта.
	resp, raw = env.do(t, http.MethodGet, "/api/user/wallet", buyerCookie, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get wallet status = %d", resp.StatusCode)
	}
	var wallet struct {
		Balance int64 `json:"balance"`
	}
	if err := json.Unmarshal(raw, &wallet); err != nil {
		t.Fatalf("decode wallet: %v", err)
	}
	if wallet.Balance != 400000 {
		t.Fatalf("buyer balance = %d, want 400000", wallet.Balance)
	}

	resp, raw = env.do(t, http.MethodGet, "/api/user/certificates", buyerCookie, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get certificates status = %d", resp.StatusCode)
	}
	var certs []struct {
		Quantity string `json:"quantity"`
		Origin   string `json:"origin"`
		Status   string `json:"status"`
	}
	if err := json.Unmarshal(raw, &certs); err != nil {
		t.Fatalf("decode certificates: %v", err)
	}
	if len(certs) != 1 || certs[0].Origin != "ISSUED" || certs[0].Quantity != "4.00" {
		t.Fatalf("issued certificates = %+v", certs)
	}

	// Повторный расчёт по той же сделке — конфликт.
	resp, _ = env.do(t, http.MethodPost, "/api/user/transactions/"+itoa(tx.ID)+"/complete", buyerCookie, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second complete status = %d, want %d", resp.StatusCode, http.StatusConflict)
	}

	// Сводка портфеля покупателя.
	resp, raw = env.do(t, http.MethodGet, "/api/user/portfolio", buyerCookie, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("portfolio status = %d", resp.StatusCode)
	}
	var portfolio struct {
		WalletBalance            int64  `json:"wallet_balance"`
		ValidCreditQuantity      string `json:"valid_credit_quantity"`
		LifetimeTransactionCount int64  `json:"lifetime_transaction_count"`
	}
	if err := json.Unmarshal(raw, &portfolio); err != nil {
		t.Fatalf("decode portfolio: %v", err)
	}
	if portfolio.WalletBalance != 400000 || portfolio.ValidCreditQuantity != "4.00" || portfolio.LifetimeTransactionCount != 1 {
		t.Fatalf("portfolio = %+v", portfolio)
	}
}

func TestInsufficientFundsOverHTTP(t *testing.T) {
	env := newTestEnv(t)

	sellerCookie := env.register(t, "seller")
	buyerCookie := env.register(t, "buyer")
	adminCookie := env.cookieFor(env.adminCaller(t))

	resp, raw := env.do(t, http.MethodPost, "/api/user/listings", sellerCookie, map[string]any{
		"title":            "credits",
		"total_quantity":   "5.00",
		"price_per_credit": 150000,
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("submit listing status = %d: %s", resp.StatusCode, raw)
	}
	var listing struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(raw, &listing); err != nil {
		t.Fatalf("decode listing: %v", err)
	}

	resp, raw = env.do(t, http.MethodPost, "/api/admin/listings/"+itoa(listing.ID)+"/approve", adminCookie, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("approve listing status = %d: %s", resp.StatusCode, raw)
	}

	resp, raw = env.do(t, http.MethodPost, "/api/user/transactions", buyerCookie, map[string]any{
		"listing_id": listing.ID,
		"quantity":   "2.00",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create transaction status = %d: %s", resp.StatusCode, raw)
	}
	var tx struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(raw, &tx); err != nil {
		t.Fatalf("decode transaction: %v", err)
	}

	resp, _ = env.do(t, http.MethodPost, "/api/user/transactions/"+itoa(tx.ID)+"/confirm", buyerCookie, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("confirm status = %d", resp.StatusCode)
	}

	resp, _ = env.do(t, http.MethodPost, "/api/user/transactions/"+itoa(tx.ID)+"/complete", buyerCookie, nil)
	if resp.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("complete without funds status = %d, want %d", resp.StatusCode, http.StatusPaymentRequired)
	}
}

func TestNotificationsFeed(t *testing.T) {
	env := newTestEnv(t)

	userCookie := env.register(t, "buyer")
	adminCookie := env.cookieFor(env.adminCaller(t))

	for i := 0; i < 2; i++ {
		resp, raw := env.do(t, http.MethodPost, "/api/user/wallet/topup", userCookie, map[string]any{
			"amount":         100000,
			"payment_method": "momo",
		})
		if resp.StatusCode != http.StatusAccepted {
			t.Fatalf("topup status = %d: %s", resp.StatusCode, raw)
		}
	}

	resp, raw := env.do(t, http.MethodGet, "/api/admin/notifications", adminCookie, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("notifications status = %d", resp.StatusCode)
	}
	var feed []struct {
		ID   int64  `json:"id"`
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &feed); err != nil {
		t.Fatalf("decode notifications: %v", err)
	}
	if len(feed) != 2 || feed[0].Type != "TOPUP_REQUESTED" {
		t.Fatalf("feed = %+v, want 2 TOPUP_REQUESTED", feed)
	}

	// Чтение после курсора last-seen возвращает только новые записи.
	resp, raw = env.do(t, http.MethodGet, "/api/admin/notifications?after="+itoa(feed[0].ID), adminCookie, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("notifications after cursor status = %d", resp.StatusCode)
	}
	var tail []struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(raw, &tail); err != nil {
		t.Fatalf("decode notifications tail: %v", err)
	}
	if len(tail) != 1 || tail[0].ID != feed[1].ID {
		t.Fatalf("tail = %+v, want the single newest", tail)
	}

	resp, raw = env.do(t, http.MethodGet, "/api/admin/notifications?after="+itoa(feed[1].ID), adminCookie, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("empty feed status = %d", resp.StatusCode)
	}
	if string(bytes.TrimSpace(raw)) != "[]" {
		t.Fatalf("empty feed body = %q, want []", raw)
	}
}

func TestMarketEndpoints(t *testing.T) {
	env := newTestEnv(t)

	sellerCookie := env.register(t, "seller")
	viewerCookie := env.register(t, "viewer")
	adminCookie := env.cookieFor(env.adminCaller(t))

	resp, _ := env.do(t, http.MethodGet, "/api/market/listings", viewerCookie, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("empty market status = %d, want %d", resp.StatusCode, http.StatusNoContent)
	}

	resp, raw := env.do(t, http.MethodPost, "/api/user/listings", sellerCookie, map[string]any{
		"title":            "credits",
		"total_quantity":   "3.00",
		"price_per_credit": 200000,
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("submit listing status = %d: %s", resp.StatusCode, raw)
	}
	var listing struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(raw, &listing); err != nil {
		t.Fatalf("decode listing: %v", err)
	}

	resp, _ = env.do(t, http.MethodPost, "/api/admin/listings/"+itoa(listing.ID)+"/approve", adminCookie, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("approve listing status = %d", resp.StatusCode)
	}

	resp, raw = env.do(t, http.MethodGet, "/api/market/listings", viewerCookie, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("market listings status = %d", resp.StatusCode)
	}
	var listings []struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(raw, &listings); err != nil {
		t.Fatalf("decode listings: %v", err)
	}
	if len(listings) != 1 || listings[0].Status != "ACTIVE" {
		t.Fatalf("market listings = %+v", listings)
	}

	resp, raw = env.do(t, http.MethodGet, "/api/market/prices", viewerCookie, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("market prices status = %d", resp.StatusCode)
	}
	var prices struct {
		Min int64 `json:"min"`
		Max int64 `json:"max"`
	}
	if err := json.Unmarshal(raw, &prices); err != nil {
		t.Fatalf("decode prices: %v", err)
	}
	if prices.Min != 200000 || prices.Max != 200000 {
		t.Fatalf("prices = %+v", prices)
	}
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
