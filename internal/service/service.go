// Package service реализует бизнес-логику платформы торговли углеродными кредитами:
// кошельки, сертификаты, предложения, сделки и контур одобрения заявок.
package service

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/carbonviet/carbonmarket-system/internal/model"
	"github.com/carbonviet/carbonmarket-system/internal/pricefeed"
)

// Store описывает контракт доступа к данным, используемый сервисом.
// Все переходы статусов в реализациях атомарны (compare-and-set): при
// проигранной гонке возвращается ErrConflict.
type Store interface {
	Close() error

	CreateUser(ctx context.Context, login string, passwordHash []byte, role model.Role) (int64, error)
	GetUserByLogin(ctx context.Context, login string) (*model.User, error)
	GetWalletByUser(ctx context.Context, userID int64) (*model.Wallet, error)

	CreateTopup(ctx context.Context, userID int64, amount int64, paymentMethod string) (*model.WalletTransaction, error)
	GetTopupsByUser(ctx context.Context, userID int64) ([]model.WalletTransaction, error)
	GetPendingTopups(ctx context.Context) ([]model.WalletTransaction, error)
	ApproveTopup(ctx context.Context, topupID int64) (*model.WalletTransaction, error)
	RejectTopup(ctx context.Context, topupID int64, reason string) (*model.WalletTransaction, error)

	CreateCertificate(ctx context.Context, cert *model.Certificate) (*model.Certificate, error)
	GetCertificatesByOwner(ctx context.Context, ownerID int64) ([]model.Certificate, error)
	GetPendingCertificates(ctx context.Context) ([]model.Certificate, error)
	SetCertificateStatus(ctx context.Context, certID int64, to model.CertificateStatus, notes string) (*model.Certificate, error)
	SumValidCertificateQuantity(ctx context.Context, ownerID int64) (decimal.Decimal, error)

	CreateListing(ctx context.Context, listing *model.Listing) (*model.Listing, error)
	GetListing(ctx context.Context, listingID int64) (*model.Listing, error)
	ApproveListing(ctx context.Context, listingID int64) (*model.Listing, error)
	RejectListing(ctx context.Context, listingID int64, reason string) (*model.Listing, error)
	GetActiveListings(ctx context.Context) ([]model.Listing, error)
	GetListingsBySeller(ctx context.Context, sellerID int64) ([]model.Listing, error)
	GetPendingListings(ctx context.Context) ([]model.Listing, error)
	CountActiveListingsBySeller(ctx context.Context, sellerID int64) (int64, error)
	GetPriceStats(ctx context.Context) (*model.PriceStats, error)

	CreateTransaction(ctx context.Context, buyerID, listingID int64, quantity decimal.Decimal) (*model.Transaction, error)
	GetTransaction(ctx context.Context, txID int64) (*model.Transaction, error)
	ConfirmTransaction(ctx context.Context, txID int64) (*model.Transaction, error)
	CompleteTransaction(ctx context.Context, txID int64, cert *model.Certificate) (*model.Transaction, error)
	CancelTransaction(ctx context.Context, txID int64) (*model.Transaction, error)
	GetTransactionsByUser(ctx context.Context, userID int64) ([]model.Transaction, error)
	CountTransactionsByUser(ctx context.Context, userID int64) (int64, error)

	CreateNotification(ctx context.Context, n *model.Notification) error
	GetNotificationsAfter(ctx context.Context, afterID int64, limit int) ([]model.Notification, error)
}

// Service содержит бизнес-логику платформы.
type Service struct {
	store     Store
	priceFeed *pricefeed.Client

	mu       sync.RWMutex
	refPrice *pricefeed.ReferencePrice
}

// NewService создаёт сервис с указанным хранилищем и клиентом внешнего ценового фида.
// Клиент фида может быть nil — тогда рыночная аналитика строится только по собственным данным.
func NewService(store Store, feed *pricefeed.Client) *Service {
	return &Service{
		store:     store,
		priceFeed: feed,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

// RegisterUser регистрирует нового пользователя с ролью USER и создаёт ему кошелёк.
func (s *Service) RegisterUser(ctx context.Context, login, password string) (int64, error) {
	if login == "" || password == "" {
		return 0, fmt.Errorf("%w: login and password are required", ErrValidation)
	}

	hashed := hashPassword(login, password)
	id, err := s.store.CreateUser(ctx, login, hashed, model.RoleUser)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// AuthenticateUser проверяет логин и пароль и возвращает идентичность вызывающего.
func (s *Service) AuthenticateUser(ctx context.Context, login, password string) (model.Caller, error) {
	u, err := s.store.GetUserByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.Caller{}, ErrInvalidCredentials
		}
		return model.Caller{}, err
	}

	hashed := hashPassword(login, password)
	if subtle.ConstantTimeCompare(hashed, u.PasswordHash) != 1 {
		return model.Caller{}, ErrInvalidCredentials
	}

	return model.Caller{UserID: u.ID, Role: u.Role}, nil
}

func hashPassword(login, password string) []byte {
	sum := sha256.Sum256([]byte(login + ":" + password))
	return sum[:]
}

// requireIdentity проверяет, что вызов несёт разрешённую идентичность.
func requireIdentity(caller model.Caller) error {
	if caller.UserID == 0 {
		return fmt.Errorf("%w: missing caller identity", ErrAuthorization)
	}
	return nil
}

// requireAdmin проверяет, что вызывающий обладает ролью ADMIN.
func requireAdmin(caller model.Caller) error {
	if err := requireIdentity(caller); err != nil {
		return err
	}
	if !caller.IsAdmin() {
		return fmt.Errorf("%w: admin role required", ErrAuthorization)
	}
	return nil
}

// validQuantity проверяет количество кредитов: положительное, не точнее двух знаков (tCO₂e).
func validQuantity(q decimal.Decimal) bool {
	return q.IsPositive() && q.Equal(q.Round(2))
}

func (s *Service) notify(ctx context.Context, t model.NotificationType, userID, refID int64, message string) {
	// Уведомление — побочный журнал для админской выборки; его отказ не должен
	// ронять уже зафиксированную операцию.
	_ = s.store.CreateNotification(ctx, &model.Notification{
		Type:        t,
		UserID:      userID,
		ReferenceID: refID,
		Message:     message,
		CreatedAt:   time.Now(),
	})
}
