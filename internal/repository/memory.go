package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/carbonviet/carbonmarket-system/internal/model"
	"github.com/carbonviet/carbonmarket-system/internal/service"
)

// MemoryStore — потокобезопасное хранилище в памяти. Повторяет семантику
// переходов статусов PostgresStore и используется в тестах.
type MemoryStore struct {
	mu sync.Mutex

	users         map[int64]*model.User
	usersByLogin  map[string]int64
	wallets       map[int64]*model.Wallet
	topups        map[int64]*model.WalletTransaction
	certificates  map[int64]*model.Certificate
	listings      map[int64]*model.Listing
	transactions  map[int64]*model.Transaction
	notifications []model.Notification

	nextID int64
}

// NewMemoryStore создаёт пустое хранилище в памяти.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:        make(map[int64]*model.User),
		usersByLogin: make(map[string]int64),
		wallets:      make(map[int64]*model.Wallet),
		topups:       make(map[int64]*model.WalletTransaction),
		certificates: make(map[int64]*model.Certificate),
		listings:     make(map[int64]*model.Listing),
		transactions: make(map[int64]*model.Transaction),
	}
}

func (s *MemoryStore) nextSeq() int64 {
	s.nextID++
	return s.nextID
}

// Close реализует service.Store; для памяти освобождать нечего.
func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) CreateUser(_ context.Context, login string, passwordHash []byte, role model.Role) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.usersByLogin[login]; ok {
		return 0, fmt.Errorf("%w: %s", service.ErrUserExists, login)
	}

	id := s.nextSeq()
	s.users[id] = &model.User{
		ID:           id,
		Login:        login,
		PasswordHash: passwordHash,
		Role:         role,
		CreatedAt:    time.Now(),
	}
	s.usersByLogin[login] = id

	walletID := s.nextSeq()
	s.wallets[id] = &model.Wallet{ID: walletID, UserID: id}

	return id, nil
}

func (s *MemoryStore) GetUserByLogin(_ context.Context, login string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.usersByLogin[login]
	if !ok {
		return nil, fmt.Errorf("%w: user %s", service.ErrNotFound, login)
	}
	u := *s.users[id]
	return &u, nil
}

func (s *MemoryStore) GetWalletByUser(_ context.Context, userID int64) (*model.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.wallets[userID]
	if !ok {
		return nil, fmt.Errorf("%w: wallet of user %d", service.ErrNotFound, userID)
	}
	cp := *w
	return &cp, nil
}

// SetBalance выставляет баланс кошелька напрямую; используется в тестах.
func (s *MemoryStore) SetBalance(userID, balance int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.wallets[userID]; ok {
		w.Balance = balance
	}
}

func (s *MemoryStore) CreateTopup(_ context.Context, userID int64, amount int64, paymentMethod string) (*model.WalletTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.wallets[userID]
	if !ok {
		return nil, fmt.Errorf("%w: wallet of user %d", service.ErrNotFound, userID)
	}

	t := &model.WalletTransaction{
		ID:            s.nextSeq(),
		WalletID:      w.ID,
		UserID:        userID,
		Amount:        amount,
		PaymentMethod: paymentMethod,
		Status:        model.TopupStatusPending,
		CreatedAt:     time.Now(),
	}
	s.topups[t.ID] = t
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) GetTopupsByUser(_ context.Context, userID int64) ([]model.WalletTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res []model.WalletTransaction
	for _, t := range s.topups {
		if t.UserID == userID {
			res = append(res, *t)
		}
	}
	sortByIDDesc(res, func(t model.WalletTransaction) int64 { return t.ID })
	return res, nil
}

func (s *MemoryStore) GetPendingTopups(_ context.Context) ([]model.WalletTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res []model.WalletTransaction
	for _, t := range s.topups {
		if t.Status == model.TopupStatusPending {
			res = append(res, *t)
		}
	}
	sortByIDAsc(res, func(t model.WalletTransaction) int64 { return t.ID })
	return res, nil
}

func (s *MemoryStore) ApproveTopup(_ context.Context, topupID int64) (*model.WalletTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.topups[topupID]
	if !ok {
		return nil, fmt.Errorf("%w: topup %d", service.ErrNotFound, topupID)
	}
	if t.Status != model.TopupStatusPending {
		return nil, fmt.Errorf("%w: topup %d is %s", service.ErrConflict, topupID, t.Status)
	}

	t.Status = model.TopupStatusSuccess
	s.wallets[t.UserID].Balance += t.Amount

	cp := *t
	return &cp, nil
}

func (s *MemoryStore) RejectTopup(_ context.Context, topupID int64, reason string) (*model.WalletTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.topups[topupID]
	if !ok {
		return nil, fmt.Errorf("%w: topup %d", service.ErrNotFound, topupID)
	}
	if t.Status != model.TopupStatusPending {
		return nil, fmt.Errorf("%w: topup %d is %s", service.ErrConflict, topupID, t.Status)
	}

	t.Status = model.TopupStatusFailed
	t.RejectionReason = reason

	cp := *t
	return &cp, nil
}

func (s *MemoryStore) CreateCertificate(_ context.Context, cert *model.Certificate) (*model.Certificate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *cert
	cp.ID = s.nextSeq()
	if cp.IssuedDate.IsZero() {
		cp.IssuedDate = time.Now()
	}
	s.certificates[cp.ID] = &cp

	out := cp
	return &out, nil
}

func (s *MemoryStore) GetCertificatesByOwner(_ context.Context, ownerID int64) ([]model.Certificate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res []model.Certificate
	for _, c := range s.certificates {
		if c.OwnerID == ownerID {
			res = append(res, *c)
		}
	}
	sortByIDDesc(res, func(c model.Certificate) int64 { return c.ID })
	return res, nil
}

func (s *MemoryStore) GetPendingCertificates(_ context.Context) ([]model.Certificate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res []model.Certificate
	for _, c := range s.certificates {
		if c.Status == model.CertificateStatusPending {
			res = append(res, *c)
		}
	}
	sortByIDAsc(res, func(c model.Certificate) int64 { return c.ID })
	return res, nil
}

func (s *MemoryStore) SetCertificateStatus(_ context.Context, certID int64, to model.CertificateStatus, notes string) (*model.Certificate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.certificates[certID]
	if !ok {
		return nil, fmt.Errorf("%w: certificate %d", service.ErrNotFound, certID)
	}
	if c.Status != model.CertificateStatusPending {
		return nil, fmt.Errorf("%w: certificate %d is %s", service.ErrConflict, certID, c.Status)
	}

	c.Status = to
	if notes != "" {
		c.Notes = notes
	}

	cp := *c
	return &cp, nil
}

func (s *MemoryStore) SumValidCertificateQuantity(_ context.Context, ownerID int64) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sum := decimal.Zero
	for _, c := range s.certificates {
		if c.OwnerID == ownerID && c.Status == model.CertificateStatusValid {
			sum = sum.Add(c.Quantity)
		}
	}
	return sum, nil
}

func (s *MemoryStore) CreateListing(_ context.Context, listing *model.Listing) (*model.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *listing
	cp.ID = s.nextSeq()
	cp.AvailableQuantity = cp.TotalQuantity
	cp.Status = model.ListingStatusPendingReview
	cp.CreatedAt = time.Now()
	s.listings[cp.ID] = &cp

	out := cp
	return &out, nil
}

func (s *MemoryStore) GetListing(_ context.Context, listingID int64) (*model.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getListingLocked(listingID)
}

func (s *MemoryStore) getListingLocked(listingID int64) (*model.Listing, error) {
	l, ok := s.listings[listingID]
	if !ok {
		return nil, fmt.Errorf("%w: listing %d", service.ErrNotFound, listingID)
	}
	cp := *l
	return &cp, nil
}

func (s *MemoryStore) ApproveListing(_ context.Context, listingID int64) (*model.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.listings[listingID]
	if !ok {
		return nil, fmt.Errorf("%w: listing %d", service.ErrNotFound, listingID)
	}
	if l.Status != model.ListingStatusPendingReview {
		return nil, fmt.Errorf("%w: listing %d is %s", service.ErrConflict, listingID, l.Status)
	}

	l.Status = model.ListingStatusActive
	l.AvailableQuantity = l.TotalQuantity

	cp := *l
	return &cp, nil
}

func (s *MemoryStore) RejectListing(_ context.Context, listingID int64, reason string) (*model.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.listings[listingID]
	if !ok {
		return nil, fmt.Errorf("%w: listing %d", service.ErrNotFound, listingID)
	}
	if l.Status != model.ListingStatusPendingReview {
		return nil, fmt.Errorf("%w: listing %d is %s", service.ErrConflict, listingID, l.Status)
	}

	l.Status = model.ListingStatusRejected
	l.RejectionReason = reason

	cp := *l
	return &cp, nil
}

func (s *MemoryStore) GetActiveListings(_ context.Context) ([]model.Listing, error) {
	return s.listingsByFilter(func(l *model.Listing) bool { return l.Status == model.ListingStatusActive })
}

func (s *MemoryStore) GetListingsBySeller(_ context.Context, sellerID int64) ([]model.Listing, error) {
	return s.listingsByFilter(func(l *model.Listing) bool { return l.SellerID == sellerID })
}

func (s *MemoryStore) GetPendingListings(_ context.Context) ([]model.Listing, error) {
	res, err := s.listingsByFilter(func(l *model.Listing) bool { return l.Status == model.ListingStatusPendingReview })
	if err != nil {
		return nil, err
	}
	sortByIDAsc(res, func(l model.Listing) int64 { return l.ID })
	return res, nil
}

func (s *MemoryStore) listingsByFilter(keep func(*model.Listing) bool) ([]model.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res []model.Listing
	for _, l := range s.listings {
		if keep(l) {
			res = append(res, *l)
		}
	}
	sortByIDDesc(res, func(l model.Listing) int64 { return l.ID })
	return res, nil
}

func (s *MemoryStore) CountActiveListingsBySeller(_ context.Context, sellerID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for _, l := range s.listings {
		if l.SellerID == sellerID && l.Status == model.ListingStatusActive {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) GetPriceStats(_ context.Context) (*model.PriceStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var prices []int64
	for _, l := range s.listings {
		if l.Status == model.ListingStatusActive {
			prices = append(prices, l.PricePerCredit)
		}
	}
	if len(prices) == 0 {
		return nil, nil
	}

	stats := &model.PriceStats{Min: prices[0], Max: prices[0]}
	var sum int64
	for _, p := range prices {
		if p < stats.Min {
			stats.Min = p
		}
		if p > stats.Max {
			stats.Max = p
		}
		sum += p
	}
	stats.Avg = float64(sum) / float64(len(prices))
	return stats, nil
}

func (s *MemoryStore) CreateTransaction(_ context.Context, buyerID, listingID int64, quantity decimal.Decimal) (*model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.listings[listingID]
	if !ok {
		return nil, fmt.Errorf("%w: listing %d", service.ErrNotFound, listingID)
	}
	if buyerID == l.SellerID {
		return nil, fmt.Errorf("%w: buyer cannot purchase their own listing", service.ErrValidation)
	}
	if l.Status != model.ListingStatusActive || quantity.GreaterThan(l.AvailableQuantity) {
		return nil, fmt.Errorf("%w: listing %d has %s available", service.ErrInsufficientInventory, listingID, l.AvailableQuantity.StringFixed(2))
	}

	l.AvailableQuantity = l.AvailableQuantity.Sub(quantity)
	if l.AvailableQuantity.IsZero() {
		l.Status = model.ListingStatusSoldOut
	}

	t := &model.Transaction{
		ID:        s.nextSeq(),
		BuyerID:   buyerID,
		SellerID:  l.SellerID,
		ListingID: listingID,
		Quantity:  quantity,
		UnitPrice: l.PricePerCredit,
		Total:     decimal.NewFromInt(l.PricePerCredit).Mul(quantity).Round(0).IntPart(),
		Status:    model.TransactionStatusPending,
		CreatedAt: time.Now(),
	}
	s.transactions[t.ID] = t

	cp := *t
	return &cp, nil
}

func (s *MemoryStore) GetTransaction(_ context.Context, txID int64) (*model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.transactions[txID]
	if !ok {
		return nil, fmt.Errorf("%w: transaction %d", service.ErrNotFound, txID)
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) ConfirmTransaction(_ context.Context, txID int64) (*model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.transactions[txID]
	if !ok {
		return nil, fmt.Errorf("%w: transaction %d", service.ErrNotFound, txID)
	}
	if t.Status != model.TransactionStatusPending {
		return nil, fmt.Errorf("%w: transaction %d is %s", service.ErrConflict, txID, t.Status)
	}

	t.Status = model.TransactionStatusConfirmed
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) CompleteTransaction(_ context.Context, txID int64, cert *model.Certificate) (*model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.transactions[txID]
	if !ok {
		return nil, fmt.Errorf("%w: transaction %d", service.ErrNotFound, txID)
	}
	if t.Status != model.TransactionStatusConfirmed {
		return nil, fmt.Errorf("%w: transaction %d is %s", service.ErrConflict, txID, t.Status)
	}

	buyer := s.wallets[t.BuyerID]
	seller := s.wallets[t.SellerID]
	if buyer == nil || seller == nil {
		return nil, fmt.Errorf("%w: wallet", service.ErrNotFound)
	}
	if buyer.Balance < t.Total {
		return nil, fmt.Errorf("%w: balance %d is less than %d", service.ErrInsufficientFunds, buyer.Balance, t.Total)
	}

	buyer.Balance -= t.Total
	seller.Balance += t.Total

	issued := *cert
	issued.ID = s.nextSeq()
	issued.OwnerID = t.BuyerID
	issued.Quantity = t.Quantity
	issued.Status = model.CertificateStatusValid
	issued.Origin = model.CertificateOriginIssued
	s.certificates[issued.ID] = &issued

	t.Status = model.TransactionStatusCompleted
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) CancelTransaction(_ context.Context, txID int64) (*model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.transactions[txID]
	if !ok {
		return nil, fmt.Errorf("%w: transaction %d", service.ErrNotFound, txID)
	}
	if t.Status != model.TransactionStatusPending && t.Status != model.TransactionStatusConfirmed {
		return nil, fmt.Errorf("%w: transaction %d is %s", service.ErrConflict, txID, t.Status)
	}

	if l, ok := s.listings[t.ListingID]; ok {
		l.AvailableQuantity = l.AvailableQuantity.Add(t.Quantity)
		if l.Status == model.ListingStatusSoldOut {
			l.Status = model.ListingStatusActive
		}
	}

	t.Status = model.TransactionStatusCancelled
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) GetTransactionsByUser(_ context.Context, userID int64) ([]model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res []model.Transaction
	for _, t := range s.transactions {
		if t.BuyerID == userID || t.SellerID == userID {
			res = append(res, *t)
		}
	}
	sortByIDDesc(res, func(t model.Transaction) int64 { return t.ID })
	return res, nil
}

func (s *MemoryStore) CountTransactionsByUser(_ context.Context, userID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for _, t := range s.transactions {
		if t.BuyerID == userID || t.SellerID == userID {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) CreateNotification(_ context.Context, n *model.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *n
	cp.ID = s.nextSeq()
	s.notifications = append(s.notifications, cp)
	return nil
}

func (s *MemoryStore) GetNotificationsAfter(_ context.Context, afterID int64, limit int) ([]model.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res []model.Notification
	for _, n := range s.notifications {
		if n.ID > afterID {
			res = append(res, n)
		}
		if len(res) == limit {
			break
		}
	}
	return res, nil
}

func sortByIDAsc[T any](items []T, id func(T) int64) {
	sort.Slice(items, func(i, j int) bool { return id(items[i]) < id(items[j]) })
}

func sortByIDDesc[T any](items []T, id func(T) int64) {
	sort.Slice(items, func(i, j int) bool { return id(items[i]) > id(items[j]) })
}
