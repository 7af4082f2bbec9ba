// Package model содержит доменные сущности платформы торговли углеродными кредитами.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Role описывает роль участника системы.
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// User представляет зарегистрированного пользователя платформы.
type User struct {
	ID           int64
	Login        string
	PasswordHash []byte
	Role         Role
	CreatedAt    time.Time
}

// Caller описывает идентичность вызывающего, разрешённую на транспортной границе.
type Caller struct {
	UserID int64
	Role   Role
}

// IsAdmin сообщает, обладает ли вызывающий правами проверяющего органа.
func (c Caller) IsAdmin() bool {
	return c.Role == RoleAdmin
}

// Wallet содержит расходуемый баланс пользователя в донгах.
type Wallet struct {
	ID      int64
	UserID  int64
	Balance int64
}

// TopupStatus описывает статус заявки на пополнение кошелька.
type TopupStatus string

const (
	TopupStatusPending TopupStatus = "PENDING"
	TopupStatusSuccess TopupStatus = "SUCCESS"
	TopupStatusFailed  TopupStatus = "FAILED"
)

// WalletTransaction описывает заявку на пополнение кошелька.
type WalletTransaction struct {
	ID              int64
	WalletID        int64
	UserID          int64
	Amount          int64
	PaymentMethod   string
	Status          TopupStatus
	RejectionReason string
	CreatedAt       time.Time
}

// CertificateStatus описывает статус сертификата углеродных кредитов.
type CertificateStatus string

const (
	CertificateStatusPending  CertificateStatus = "PENDING"
	CertificateStatusValid    CertificateStatus = "VALID"
	CertificateStatusRejected CertificateStatus = "REJECTED"
	// EXPIRED и EXPIRING_SOON — производные статусы для чтения, в хранилище не записываются.
	CertificateStatusExpired      CertificateStatus = "EXPIRED"
	CertificateStatusExpiringSoon CertificateStatus = "EXPIRING_SOON"
)

// CertificateOrigin описывает источник появления сертификата.
type CertificateOrigin string

const (
	// CertificateOriginRequested — сертификат запрошен владельцем и проходит проверку.
	CertificateOriginRequested CertificateOrigin = "REQUESTED"
	// CertificateOriginIssued — сертификат выпущен автоматически по завершённой сделке.
	CertificateOriginIssued CertificateOrigin = "ISSUED"
)

// expiringSoonWindow — окно до истечения срока, в котором сертификат считается EXPIRING_SOON.
const expiringSoonWindow = 30 * 24 * time.Hour

// Certificate подтверждает владение количеством углеродных кредитов (tCO₂e).
type Certificate struct {
	ID                int64
	OwnerID           int64
	Quantity          decimal.Decimal
	ProjectName       string
	CertificationBody string
	SerialNumber      string
	Notes             string
	IssuedDate        time.Time
	ExpiryDate        *time.Time
	Status            CertificateStatus
	Origin            CertificateOrigin
}

// EffectiveStatus возвращает статус сертификата с учётом срока действия на момент now.
// Записанный статус не меняется: EXPIRED и EXPIRING_SOON существуют только как
// представление для чтения.
func (c *Certificate) EffectiveStatus(now time.Time) CertificateStatus {
	if c.Status != CertificateStatusValid || c.ExpiryDate == nil {
		return c.Status
	}
	if !now.Before(*c.ExpiryDate) {
		return CertificateStatusExpired
	}
	if c.ExpiryDate.Sub(now) <= expiringSoonWindow {
		return CertificateStatusExpiringSoon
	}
	return CertificateStatusValid
}

// ListingStatus описывает статус предложения на маркетплейсе.
type ListingStatus string

const (
	ListingStatusPendingReview ListingStatus = "PENDING_REVIEW"
	ListingStatusActive        ListingStatus = "ACTIVE"
	ListingStatusSoldOut       ListingStatus = "SOLD_OUT"
	ListingStatusRejected      ListingStatus = "REJECTED"
)

// Listing описывает предложение продавца: фиксированное количество кредитов по фиксированной цене.
type Listing struct {
	ID                int64
	SellerID          int64
	Title             string
	Description       string
	TotalQuantity     decimal.Decimal
	AvailableQuantity decimal.Decimal
	PricePerCredit    int64
	Status            ListingStatus
	RejectionReason   string
	CreatedAt         time.Time
}

// TransactionStatus описывает статус сделки купли-продажи.
type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "PENDING"
	TransactionStatusConfirmed TransactionStatus = "CONFIRMED"
	TransactionStatusCompleted TransactionStatus = "COMPLETED"
	TransactionStatusCancelled TransactionStatus = "CANCELLED"
)

// Transaction связывает покупателя, продавца и предложение.
// UnitPrice — снимок цены предложения на момент создания сделки.
type Transaction struct {
	ID        int64
	BuyerID   int64
	SellerID  int64
	ListingID int64
	Quantity  decimal.Decimal
	UnitPrice int64
	Total     int64
	Status    TransactionStatus
	CreatedAt time.Time
}

// NotificationType описывает тип уведомления для проверяющего органа.
type NotificationType string

const (
	NotificationTopupRequested       NotificationType = "TOPUP_REQUESTED"
	NotificationCertificateRequested NotificationType = "CERTIFICATE_REQUESTED"
	NotificationListingSubmitted     NotificationType = "LISTING_SUBMITTED"
	NotificationTradeCompleted       NotificationType = "TRADE_COMPLETED"
)

// Notification — запись журнала событий, которую администратор читает по курсору last-seen.
type Notification struct {
	ID          int64
	Type        NotificationType
	UserID      int64
	ReferenceID int64
	Message     string
	CreatedAt   time.Time
}

// PortfolioSummary — агрегированное представление активности пользователя.
type PortfolioSummary struct {
	WalletBalance            int64           `json:"wallet_balance"`
	ValidCreditQuantity      decimal.Decimal `json:"valid_credit_quantity"`
	ActiveListingCount       int64           `json:"active_listing_count"`
	LifetimeTransactionCount int64           `json:"lifetime_transaction_count"`
}

// PriceStats — статистика цен по активным предложениям в донгах за кредит.
type PriceStats struct {
	Min int64
	Avg float64
	Max int64
}
