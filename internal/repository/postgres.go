// Package repository содержит реализации хранилища данных доменного ядра.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"

	"github.com/carbonviet/carbonmarket-system/internal/model"
	"github.com/carbonviet/carbonmarket-system/internal/service"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore предоставляет доступ к хранилищу данных в PostgreSQL.
// Переходы статусов выполняются как compare-and-set под блокировкой строки,
// взаимное исключение по балансам и остаткам — через SELECT ... FOR UPDATE.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore создаёт новое хранилище и инициализирует схему БД через миграции.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &PostgresStore{pool: pool}

	if err := s.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return s, nil
}

func (s *PostgresStore) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry повторяет операцию при сбоях сериализации, дедлоках и сетевых ошибках.
func (s *PostgresStore) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				if i < len(delays) {
					time.Sleep(delays[i])
					continue
				}
			}
		}

		if isConnectionError(err) {
			if i < len(delays) {
				time.Sleep(delays[i])
				continue
			}
		}

		break
	}
	return err
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// CreateUser создаёт пользователя и его кошелёк с нулевым балансом.
func (s *PostgresStore) CreateUser(ctx context.Context, login string, passwordHash []byte, role model.Role) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var id int64
	err = tx.QueryRow(ctx,
		`INSERT INTO users (login, password_hash, role) VALUES ($1, $2, $3) RETURNING id`,
		login, passwordHash, string(role),
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%w: %s", service.ErrUserExists, login)
		}
		return 0, fmt.Errorf("create user: %w", err)
	}

	if _, err := tx.Exec(ctx, `INSERT INTO wallets (user_id) VALUES ($1)`, id); err != nil {
		return 0, fmt.Errorf("create wallet: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}

	return id, nil
}

// GetUserByLogin возвращает пользователя по логину.
func (s *PostgresStore) GetUserByLogin(ctx context.Context, login string) (*model.User, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, login, password_hash, role, created_at FROM users WHERE login = $1`,
		login,
	)

	var u model.User
	var role string
	err := row.Scan(&u.ID, &u.Login, &u.PasswordHash, &role, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: user %s", service.ErrNotFound, login)
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	u.Role = model.Role(role)

	return &u, nil
}

// GetWalletByUser возвращает кошелёк пользователя.
func (s *PostgresStore) GetWalletByUser(ctx context.Context, userID int64) (*model.Wallet, error) {
	var w model.Wallet
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, balance FROM wallets WHERE user_id = $1`,
		userID,
	).Scan(&w.ID, &w.UserID, &w.Balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: wallet of user %d", service.ErrNotFound, userID)
		}
		return nil, fmt.Errorf("get wallet: %w", err)
	}
	return &w, nil
}

const topupColumns = `id, wallet_id, user_id, amount, payment_method, status, rejection_reason, created_at`

func scanTopup(row pgx.Row) (*model.WalletTransaction, error) {
	var t model.WalletTransaction
	var status string
	err := row.Scan(&t.ID, &t.WalletID, &t.UserID, &t.Amount, &t.PaymentMethod, &status, &t.RejectionReason, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	t.Status = model.TopupStatus(status)
	return &t, nil
}

// CreateTopup сохраняет заявку на пополнение в статусе PENDING.
func (s *PostgresStore) CreateTopup(ctx context.Context, userID int64, amount int64, paymentMethod string) (*model.WalletTransaction, error) {
	wallet, err := s.GetWalletByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO wallet_transactions (wallet_id, user_id, amount, payment_method, status)
		 VALUES ($1, $2, $3, $4, 'PENDING')
		 RETURNING `+topupColumns,
		wallet.ID, userID, amount, paymentMethod,
	)

	topup, err := scanTopup(row)
	if err != nil {
		return nil, fmt.Errorf("insert topup: %w", err)
	}
	return topup, nil
}

// GetTopupsByUser возвращает историю заявок на пополнение пользователя.
func (s *PostgresStore) GetTopupsByUser(ctx context.Context, userID int64) ([]model.WalletTransaction, error) {
	return s.queryTopups(ctx,
		`SELECT `+topupColumns+` FROM wallet_transactions WHERE user_id = $1 ORDER BY created_at DESC`,
		userID,
	)
}

// GetPendingTopups возвращает очередь заявок на пополнение, ожидающих проверки.
func (s *PostgresStore) GetPendingTopups(ctx context.Context) ([]model.WalletTransaction, error) {
	return s.queryTopups(ctx,
		`SELECT `+topupColumns+` FROM wallet_transactions WHERE status = 'PENDING' ORDER BY created_at`,
	)
}

func (s *PostgresStore) queryTopups(ctx context.Context, query string, args ...any) ([]model.WalletTransaction, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select topups: %w", err)
	}
	defer rows.Close()

	var res []model.WalletTransaction
	for rows.Next() {
		t, err := scanTopup(rows)
		if err != nil {
			return nil, fmt.Errorf("scan topup: %w", err)
		}
		res = append(res, *t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// ApproveTopup переводит заявку PENDING → SUCCESS и зачисляет сумму на кошелёк.
// Блокировка строки заявки сериализует конкурирующие одобрения: проигравший
// получает ErrConflict, повторного зачисления не происходит.
func (s *PostgresStore) ApproveTopup(ctx context.Context, topupID int64) (*model.WalletTransaction, error) {
	var result *model.WalletTransaction

	err := s.withRetry(ctx, func() error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var walletID, amount int64
		var status string
		err = tx.QueryRow(ctx,
			`SELECT wallet_id, amount, status FROM wallet_transactions WHERE id = $1 FOR UPDATE`,
			topupID,
		).Scan(&walletID, &amount, &status)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("%w: topup %d", service.ErrNotFound, topupID)
			}
			return fmt.Errorf("lock topup: %w", err)
		}

		if model.TopupStatus(status) != model.TopupStatusPending {
			return fmt.Errorf("%w: topup %d is %s", service.ErrConflict, topupID, status)
		}

		row := tx.QueryRow(ctx,
			`UPDATE wallet_transactions SET status = 'SUCCESS' WHERE id = $1 RETURNING `+topupColumns,
			topupID,
		)
		topup, err := scanTopup(row)
		if err != nil {
			return fmt.Errorf("update topup: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`UPDATE wallets SET balance = balance + $2 WHERE id = $1`,
			walletID, amount,
		); err != nil {
			return fmt.Errorf("credit wallet: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		result = topup
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// RejectTopup переводит заявку PENDING → FAILED с указанием причины.
func (s *PostgresStore) RejectTopup(ctx context.Context, topupID int64, reason string) (*model.WalletTransaction, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE wallet_transactions SET status = 'FAILED', rejection_reason = $2
		 WHERE id = $1 AND status = 'PENDING'
		 RETURNING `+topupColumns,
		topupID, reason,
	)

	topup, err := scanTopup(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, s.topupTransitionError(ctx, topupID)
		}
		return nil, fmt.Errorf("reject topup: %w", err)
	}
	return topup, nil
}

// topupTransitionError различает отсутствующую заявку и проигранную гонку перехода.
func (s *PostgresStore) topupTransitionError(ctx context.Context, topupID int64) error {
	var status string
	err := s.pool.QueryRow(ctx,
		`SELECT status FROM wallet_transactions WHERE id = $1`, topupID,
	).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: topup %d", service.ErrNotFound, topupID)
	}
	if err != nil {
		return fmt.Errorf("get topup status: %w", err)
	}
	return fmt.Errorf("%w: topup %d is %s", service.ErrConflict, topupID, status)
}

const certificateColumns = `id, owner_id, quantity::text, project_name, certification_body, serial_number, notes, issued_date, expiry_date, status, origin`

func scanCertificate(row pgx.Row) (*model.Certificate, error) {
	var c model.Certificate
	var quantity, status, origin string
	err := row.Scan(&c.ID, &c.OwnerID, &quantity, &c.ProjectName, &c.CertificationBody,
		&c.SerialNumber, &c.Notes, &c.IssuedDate, &c.ExpiryDate, &status, &origin)
	if err != nil {
		return nil, err
	}

	c.Quantity, err = decimal.NewFromString(quantity)
	if err != nil {
		return nil, fmt.Errorf("parse quantity: %w", err)
	}
	c.Status = model.CertificateStatus(status)
	c.Origin = model.CertificateOrigin(origin)
	return &c, nil
}

// CreateCertificate сохраняет сертификат (заявку или выпущенный по сделке).
func (s *PostgresStore) CreateCertificate(ctx context.Context, cert *model.Certificate) (*model.Certificate, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO certificates
		   (owner_id, quantity, project_name, certification_body, serial_number, notes, issued_date, expiry_date, status, origin)
		 VALUES ($1, $2::numeric, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING `+certificateColumns,
		cert.OwnerID, cert.Quantity.String(), cert.ProjectName, cert.CertificationBody,
		cert.SerialNumber, cert.Notes, cert.IssuedDate, cert.ExpiryDate,
		string(cert.Status), string(cert.Origin),
	)

	created, err := scanCertificate(row)
	if err != nil {
		return nil, fmt.Errorf("insert certificate: %w", err)
	}
	return created, nil
}

// GetCertificatesByOwner возвращает сертификаты пользователя.
func (s *PostgresStore) GetCertificatesByOwner(ctx context.Context, ownerID int64) ([]model.Certificate, error) {
	return s.queryCertificates(ctx,
		`SELECT `+certificateColumns+` FROM certificates WHERE owner_id = $1 ORDER BY issued_date DESC`,
		ownerID,
	)
}

// GetPendingCertificates возвращает очередь заявок на сертификаты.
func (s *PostgresStore) GetPendingCertificates(ctx context.Context) ([]model.Certificate, error) {
	return s.queryCertificates(ctx,
		`SELECT `+certificateColumns+` FROM certificates WHERE status = 'PENDING' ORDER BY issued_date`,
	)
}

func (s *PostgresStore) queryCertificates(ctx context.Context, query string, args ...any) ([]model.Certificate, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select certificates: %w", err)
	}
	defer rows.Close()

	var res []model.Certificate
	for rows.Next() {
		c, err := scanCertificate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan certificate: %w", err)
		}
		res = append(res, *c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// SetCertificateStatus выполняет переход PENDING → to (VALID или REJECTED).
// Непустые notes (причина отклонения) записываются в заметки сертификата.
func (s *PostgresStore) SetCertificateStatus(ctx context.Context, certID int64, to model.CertificateStatus, notes string) (*model.Certificate, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE certificates
		 SET status = $2, notes = CASE WHEN $3 <> '' THEN $3 ELSE notes END
		 WHERE id = $1 AND status = 'PENDING'
		 RETURNING `+certificateColumns,
		certID, string(to), notes,
	)

	cert, err := scanCertificate(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			var status string
			selErr := s.pool.QueryRow(ctx, `SELECT status FROM certificates WHERE id = $1`, certID).Scan(&status)
			if errors.Is(selErr, pgx.ErrNoRows) {
				return nil, fmt.Errorf("%w: certificate %d", service.ErrNotFound, certID)
			}
			if selErr != nil {
				return nil, fmt.Errorf("get certificate status: %w", selErr)
			}
			return nil, fmt.Errorf("%w: certificate %d is %s", service.ErrConflict, certID, status)
		}
		return nil, fmt.Errorf("update certificate: %w", err)
	}
	return cert, nil
}

// SumValidCertificateQuantity возвращает сумму количеств действительных сертификатов пользователя.
func (s *PostgresStore) SumValidCertificateQuantity(ctx context.Context, ownerID int64) (decimal.Decimal, error) {
	var sum string
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(quantity), 0)::text FROM certificates WHERE owner_id = $1 AND status = 'VALID'`,
		ownerID,
	).Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum certificates: %w", err)
	}

	d, err := decimal.NewFromString(sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse sum: %w", err)
	}
	return d, nil
}

const listingColumns = `id, seller_id, title, description, total_quantity::text, available_quantity::text, price_per_credit, status, rejection_reason, created_at`

func scanListing(row pgx.Row) (*model.Listing, error) {
	var l model.Listing
	var total, available, status string
	err := row.Scan(&l.ID, &l.SellerID, &l.Title, &l.Description, &total, &available,
		&l.PricePerCredit, &status, &l.RejectionReason, &l.CreatedAt)
	if err != nil {
		return nil, err
	}

	if l.TotalQuantity, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("parse total quantity: %w", err)
	}
	if l.AvailableQuantity, err = decimal.NewFromString(available); err != nil {
		return nil, fmt.Errorf("parse available quantity: %w", err)
	}
	l.Status = model.ListingStatus(status)
	return &l, nil
}

// CreateListing сохраняет предложение в статусе PENDING_REVIEW.
func (s *PostgresStore) CreateListing(ctx context.Context, listing *model.Listing) (*model.Listing, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO listings (seller_id, title, description, total_quantity, available_quantity, price_per_credit, status)
		 VALUES ($1, $2, $3, $4::numeric, $4::numeric, $5, 'PENDING_REVIEW')
		 RETURNING `+listingColumns,
		listing.SellerID, listing.Title, listing.Description,
		listing.TotalQuantity.String(), listing.PricePerCredit,
	)

	created, err := scanListing(row)
	if err != nil {
		return nil, fmt.Errorf("insert listing: %w", err)
	}
	return created, nil
}

// GetListing возвращает предложение по идентификатору.
func (s *PostgresStore) GetListing(ctx context.Context, listingID int64) (*model.Listing, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+listingColumns+` FROM listings WHERE id = $1`,
		listingID,
	)

	listing, err := scanListing(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: listing %d", service.ErrNotFound, listingID)
		}
		return nil, fmt.Errorf("get listing: %w", err)
	}
	return listing, nil
}

// ApproveListing публикует предложение: PENDING_REVIEW → ACTIVE, остаток = общему количеству.
func (s *PostgresStore) ApproveListing(ctx context.Context, listingID int64) (*model.Listing, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE listings SET status = 'ACTIVE', available_quantity = total_quantity
		 WHERE id = $1 AND status = 'PENDING_REVIEW'
		 RETURNING `+listingColumns,
		listingID,
	)

	listing, err := scanListing(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, s.listingTransitionError(ctx, listingID)
		}
		return nil, fmt.Errorf("approve listing: %w", err)
	}
	return listing, nil
}

// RejectListing отклоняет предложение: PENDING_REVIEW → REJECTED.
func (s *PostgresStore) RejectListing(ctx context.Context, listingID int64, reason string) (*model.Listing, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE listings SET status = 'REJECTED', rejection_reason = $2
		 WHERE id = $1 AND status = 'PENDING_REVIEW'
		 RETURNING `+listingColumns,
		listingID, reason,
	)

	listing, err := scanListing(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, s.listingTransitionError(ctx, listingID)
		}
		return nil, fmt.Errorf("reject listing: %w", err)
	}
	return listing, nil
}

func (s *PostgresStore) listingTransitionError(ctx context.Context, listingID int64) error {
	var status string
	err := s.pool.QueryRow(ctx, `SELECT status FROM listings WHERE id = $1`, listingID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: listing %d", service.ErrNotFound, listingID)
	}
	if err != nil {
		return fmt.Errorf("get listing status: %w", err)
	}
	return fmt.Errorf("%w: listing %d is %s", service.ErrConflict, listingID, status)
}

// GetActiveListings возвращает активные предложения маркетплейса.
func (s *PostgresStore) GetActiveListings(ctx context.Context) ([]model.Listing, error) {
	return s.queryListings(ctx,
		`SELECT `+listingColumns+` FROM listings WHERE status = 'ACTIVE' ORDER BY created_at DESC`,
	)
}

// GetListingsBySeller возвращает предложения продавца во всех статусах.
func (s *PostgresStore) GetListingsBySeller(ctx context.Context, sellerID int64) ([]model.Listing, error) {
	return s.queryListings(ctx,
		`SELECT `+listingColumns+` FROM listings WHERE seller_id = $1 ORDER BY created_at DESC`,
		sellerID,
	)
}

// GetPendingListings возвращает очередь предложений, ожидающих проверки.
func (s *PostgresStore) GetPendingListings(ctx context.Context) ([]model.Listing, error) {
	return s.queryListings(ctx,
		`SELECT `+listingColumns+` FROM listings WHERE status = 'PENDING_REVIEW' ORDER BY created_at`,
	)
}

func (s *PostgresStore) queryListings(ctx context.Context, query string, args ...any) ([]model.Listing, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select listings: %w", err)
	}
	defer rows.Close()

	var res []model.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("scan listing: %w", err)
		}
		res = append(res, *l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// CountActiveListingsBySeller возвращает число активных предложений продавца.
func (s *PostgresStore) CountActiveListingsBySeller(ctx context.Context, sellerID int64) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM listings WHERE seller_id = $1 AND status = 'ACTIVE'`,
		sellerID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count listings: %w", err)
	}
	return count, nil
}

// GetPriceStats возвращает min/avg/max цены по активным предложениям
// или nil, если активных предложений нет.
func (s *PostgresStore) GetPriceStats(ctx context.Context) (*model.PriceStats, error) {
	var minPrice, maxPrice *int64
	var avgPrice *float64
	err := s.pool.QueryRow(ctx,
		`SELECT MIN(price_per_credit), AVG(price_per_credit)::float8, MAX(price_per_credit)
		 FROM listings WHERE status = 'ACTIVE'`,
	).Scan(&minPrice, &avgPrice, &maxPrice)
	if err != nil {
		return nil, fmt.Errorf("price stats: %w", err)
	}

	if minPrice == nil || avgPrice == nil || maxPrice == nil {
		return nil, nil
	}

	return &model.PriceStats{Min: *minPrice, Avg: *avgPrice, Max: *maxPrice}, nil
}

const transactionColumns = `id, buyer_id, seller_id, listing_id, quantity::text, unit_price, total, status, created_at`

func scanTransaction(row pgx.Row) (*model.Transaction, error) {
	var t model.Transaction
	var quantity, status string
	err := row.Scan(&t.ID, &t.BuyerID, &t.SellerID, &t.ListingID, &quantity,
		&t.UnitPrice, &t.Total, &status, &t.CreatedAt)
	if err != nil {
		return nil, err
	}

	if t.Quantity, err = decimal.NewFromString(quantity); err != nil {
		return nil, fmt.Errorf("parse quantity: %w", err)
	}
	t.Status = model.TransactionStatus(status)
	return &t, nil
}

// CreateTransaction создаёт сделку PENDING и атомарно резервирует количество
// на предложении. Проверка остатка и списание выполняются под блокировкой
// строки предложения: из двух конкурирующих покупателей, суммарно просящих
// больше остатка, преуспевает ровно один.
func (s *PostgresStore) CreateTransaction(ctx context.Context, buyerID, listingID int64, quantity decimal.Decimal) (*model.Transaction, error) {
	var result *model.Transaction

	err := s.withRetry(ctx, func() error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var sellerID, unitPrice int64
		var availableStr, status string
		err = tx.QueryRow(ctx,
			`SELECT seller_id, available_quantity::text, price_per_credit, status
			 FROM listings WHERE id = $1 FOR UPDATE`,
			listingID,
		).Scan(&sellerID, &availableStr, &unitPrice, &status)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("%w: listing %d", service.ErrNotFound, listingID)
			}
			return fmt.Errorf("lock listing: %w", err)
		}

		if buyerID == sellerID {
			return fmt.Errorf("%w: buyer cannot purchase their own listing", service.ErrValidation)
		}

		available, err := decimal.NewFromString(availableStr)
		if err != nil {
			return fmt.Errorf("parse available quantity: %w", err)
		}

		if model.ListingStatus(status) != model.ListingStatusActive || quantity.GreaterThan(available) {
			return fmt.Errorf("%w: listing %d has %s available", service.ErrInsufficientInventory, listingID, available.StringFixed(2))
		}

		remaining := available.Sub(quantity)
		newStatus := model.ListingStatusActive
		if remaining.IsZero() {
			newStatus = model.ListingStatusSoldOut
		}

		if _, err := tx.Exec(ctx,
			`UPDATE listings SET available_quantity = $2::numeric, status = $3 WHERE id = $1`,
			listingID, remaining.String(), string(newStatus),
		); err != nil {
			return fmt.Errorf("reserve listing: %w", err)
		}

		total := decimal.NewFromInt(unitPrice).Mul(quantity).Round(0).IntPart()

		row := tx.QueryRow(ctx,
			`INSERT INTO transactions (buyer_id, seller_id, listing_id, quantity, unit_price, total, status)
			 VALUES ($1, $2, $3, $4::numeric, $5, $6, 'PENDING')
			 RETURNING `+transactionColumns,
			buyerID, sellerID, listingID, quantity.String(), unitPrice, total,
		)
		created, err := scanTransaction(row)
		if err != nil {
			return fmt.Errorf("insert transaction: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		result = created
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// GetTransaction возвращает сделку по идентификатору.
func (s *PostgresStore) GetTransaction(ctx context.Context, txID int64) (*model.Transaction, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = $1`,
		txID,
	)

	t, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: transaction %d", service.ErrNotFound, txID)
		}
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	return t, nil
}

// ConfirmTransaction выполняет переход PENDING → CONFIRMED.
func (s *PostgresStore) ConfirmTransaction(ctx context.Context, txID int64) (*model.Transaction, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE transactions SET status = 'CONFIRMED'
		 WHERE id = $1 AND status = 'PENDING'
		 RETURNING `+transactionColumns,
		txID,
	)

	t, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, s.transactionTransitionError(ctx, txID)
		}
		return nil, fmt.Errorf("confirm transaction: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) transactionTransitionError(ctx context.Context, txID int64) error {
	var status string
	err := s.pool.QueryRow(ctx, `SELECT status FROM transactions WHERE id = $1`, txID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: transaction %d", service.ErrNotFound, txID)
	}
	if err != nil {
		return fmt.Errorf("get transaction status: %w", err)
	}
	return fmt.Errorf("%w: transaction %d is %s", service.ErrConflict, txID, status)
}

// CompleteTransaction выполняет расчёт по сделке единой транзакцией БД:
// CONFIRMED → COMPLETED, списание у покупателя, зачисление продавцу и выпуск
// сертификата. При нехватке средств транзакция откатывается целиком и сделка
// остаётся CONFIRMED.
func (s *PostgresStore) CompleteTransaction(ctx context.Context, txID int64, cert *model.Certificate) (*model.Transaction, error) {
	var result *model.Transaction

	err := s.withRetry(ctx, func() error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		row := tx.QueryRow(ctx,
			`SELECT `+transactionColumns+` FROM transactions WHERE id = $1 FOR UPDATE`,
			txID,
		)
		trade, err := scanTransaction(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("%w: transaction %d", service.ErrNotFound, txID)
			}
			return fmt.Errorf("lock transaction: %w", err)
		}

		if trade.Status != model.TransactionStatusConfirmed {
			return fmt.Errorf("%w: transaction %d is %s", service.ErrConflict, txID, trade.Status)
		}

		// Кошельки блокируются в порядке возрастания user_id, чтобы встречные
		// расчёты не взаимоблокировались.
		first, second := trade.BuyerID, trade.SellerID
		if second < first {
			first, second = second, first
		}
		balances := map[int64]int64{}
		for _, userID := range []int64{first, second} {
			var balance int64
			if err := tx.QueryRow(ctx,
				`SELECT balance FROM wallets WHERE user_id = $1 FOR UPDATE`, userID,
			).Scan(&balance); err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return fmt.Errorf("%w: wallet of user %d", service.ErrNotFound, userID)
				}
				return fmt.Errorf("lock wallet: %w", err)
			}
			balances[userID] = balance
		}

		if balances[trade.BuyerID] < trade.Total {
			return fmt.Errorf("%w: balance %d is less than %d", service.ErrInsufficientFunds, balances[trade.BuyerID], trade.Total)
		}

		if _, err := tx.Exec(ctx,
			`UPDATE wallets SET balance = balance - $2 WHERE user_id = $1`,
			trade.BuyerID, trade.Total,
		); err != nil {
			return fmt.Errorf("debit buyer: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`UPDATE wallets SET balance = balance + $2 WHERE user_id = $1`,
			trade.SellerID, trade.Total,
		); err != nil {
			return fmt.Errorf("credit seller: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO certificates
			   (owner_id, quantity, project_name, certification_body, serial_number, notes, issued_date, expiry_date, status, origin)
			 VALUES ($1, $2::numeric, $3, $4, $5, $6, $7, $8, $9, $10)`,
			trade.BuyerID, trade.Quantity.String(), cert.ProjectName, cert.CertificationBody,
			cert.SerialNumber, cert.Notes, cert.IssuedDate, cert.ExpiryDate,
			string(model.CertificateStatusValid), string(model.CertificateOriginIssued),
		); err != nil {
			return fmt.Errorf("issue certificate: %w", err)
		}

		row = tx.QueryRow(ctx,
			`UPDATE transactions SET status = 'COMPLETED' WHERE id = $1 RETURNING `+transactionColumns,
			txID,
		)
		completed, err := scanTransaction(row)
		if err != nil {
			return fmt.Errorf("complete transaction: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		result = completed
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// CancelTransaction выполняет переход PENDING/CONFIRMED → CANCELLED и возвращает
// зарезервированное количество на предложение.
func (s *PostgresStore) CancelTransaction(ctx context.Context, txID int64) (*model.Transaction, error) {
	var result *model.Transaction

	err := s.withRetry(ctx, func() error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		row := tx.QueryRow(ctx,
			`SELECT `+transactionColumns+` FROM transactions WHERE id = $1 FOR UPDATE`,
			txID,
		)
		trade, err := scanTransaction(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("%w: transaction %d", service.ErrNotFound, txID)
			}
			return fmt.Errorf("lock transaction: %w", err)
		}

		if trade.Status != model.TransactionStatusPending && trade.Status != model.TransactionStatusConfirmed {
			return fmt.Errorf("%w: transaction %d is %s", service.ErrConflict, txID, trade.Status)
		}

		var availableStr string
		if err := tx.QueryRow(ctx,
			`SELECT available_quantity::text FROM listings WHERE id = $1 FOR UPDATE`,
			trade.ListingID,
		).Scan(&availableStr); err != nil {
			return fmt.Errorf("lock listing: %w", err)
		}

		available, err := decimal.NewFromString(availableStr)
		if err != nil {
			return fmt.Errorf("parse available quantity: %w", err)
		}

		restored := available.Add(trade.Quantity)
		if _, err := tx.Exec(ctx,
			`UPDATE listings SET available_quantity = $2::numeric,
			        status = CASE WHEN status = 'SOLD_OUT' THEN 'ACTIVE' ELSE status END
			 WHERE id = $1`,
			trade.ListingID, restored.String(),
		); err != nil {
			return fmt.Errorf("release listing: %w", err)
		}

		row = tx.QueryRow(ctx,
			`UPDATE transactions SET status = 'CANCELLED' WHERE id = $1 RETURNING `+transactionColumns,
			txID,
		)
		cancelled, err := scanTransaction(row)
		if err != nil {
			return fmt.Errorf("cancel transaction: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		result = cancelled
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// GetTransactionsByUser возвращает сделки, где пользователь — покупатель или продавец.
func (s *PostgresStore) GetTransactionsByUser(ctx context.Context, userID int64) ([]model.Transaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+transactionColumns+` FROM transactions
		 WHERE buyer_id = $1 OR seller_id = $1
		 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select transactions: %w", err)
	}
	defer rows.Close()

	var res []model.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		res = append(res, *t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// CountTransactionsByUser возвращает общее число сделок пользователя.
func (s *PostgresStore) CountTransactionsByUser(ctx context.Context, userID int64) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM transactions WHERE buyer_id = $1 OR seller_id = $1`,
		userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count transactions: %w", err)
	}
	return count, nil
}

// CreateNotification сохраняет уведомление для админской выборки по курсору.
func (s *PostgresStore) CreateNotification(ctx context.Context, n *model.Notification) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO notifications (type, user_id, reference_id, message) VALUES ($1, $2, $3, $4)`,
		string(n.Type), n.UserID, n.ReferenceID, n.Message,
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// GetNotificationsAfter возвращает уведомления с идентификатором больше afterID.
func (s *PostgresStore) GetNotificationsAfter(ctx context.Context, afterID int64, limit int) ([]model.Notification, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, type, user_id, reference_id, message, created_at
		 FROM notifications WHERE id > $1 ORDER BY id LIMIT $2`,
		afterID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select notifications: %w", err)
	}
	defer rows.Close()

	var res []model.Notification
	for rows.Next() {
		var n model.Notification
		var typ string
		if err := rows.Scan(&n.ID, &typ, &n.UserID, &n.ReferenceID, &n.Message, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.Type = model.NotificationType(typ)
		res = append(res, n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}
