// Package sqlite persists users and the transaction log in a SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/alma-care/alma-bfa-go/internal/domain"

	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("infra/store/sqlite")

// Store implements the user and transaction repositories on SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and migrates it.
// ":memory:" gives a private in-memory database.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database dir: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// One connection keeps ":memory:" databases shared and serialises writers.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			email TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			customer_id TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS transactions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			type TEXT NOT NULL,
			amount TEXT NOT NULL,
			currency TEXT NOT NULL,
			from_account TEXT,
			to_account TEXT,
			description TEXT,
			status TEXT NOT NULL,
			charge_id TEXT,
			created_at DATETIME NOT NULL,
			seq INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_transactions_user ON transactions(user_id, created_at);
		CREATE INDEX IF NOT EXISTS idx_transactions_charge ON transactions(charge_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ============================================================
// Users
// ============================================================

func (s *Store) CreateUser(ctx context.Context, u *domain.User) error {
	ctx, span := tracer.Start(ctx, "SQLiteStore.CreateUser")
	defer span.End()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, name, email, password_hash, customer_id, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID, u.Name, strings.ToLower(u.Email), u.PasswordHash, u.CustomerID, u.CreatedAt.UTC(),
	)
	if isUniqueViolation(err) {
		return &domain.ErrConflict{Message: "an account with this email already exists"}
	}
	return err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	return s.getUser(ctx, "email", strings.ToLower(email))
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	return s.getUser(ctx, "id", id)
}

func (s *Store) getUser(ctx context.Context, column, value string) (*domain.User, error) {
	ctx, span := tracer.Start(ctx, "SQLiteStore.GetUser")
	defer span.End()

	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, email, password_hash, customer_id, created_at FROM users WHERE `+column+` = ?`, value)

	var u domain.User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.CustomerID, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.ErrNotFound{Resource: "user", ID: value}
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// ============================================================
// Transactions
// ============================================================

const txnColumns = `id, user_id, type, amount, currency, from_account, to_account, description, status, charge_id, created_at`

func (s *Store) AppendTransaction(ctx context.Context, rec *domain.TransactionRecord) error {
	ctx, span := tracer.Start(ctx, "SQLiteStore.AppendTransaction")
	defer span.End()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transactions (`+txnColumns+`, seq)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM transactions))`,
		rec.ID, rec.UserID, string(rec.Type), rec.Amount.String(), rec.Currency,
		rec.FromAccount, rec.ToAccount, rec.Description, string(rec.Status), rec.ChargeID, rec.CreatedAt.UTC(),
	)
	if isUniqueViolation(err) {
		return &domain.ErrConflict{Message: "transaction " + rec.ID + " already exists"}
	}
	return err
}

func (s *Store) GetTransaction(ctx context.Context, id string) (*domain.TransactionRecord, error) {
	ctx, span := tracer.Start(ctx, "SQLiteStore.GetTransaction")
	defer span.End()

	row := s.db.QueryRowContext(ctx, `SELECT `+txnColumns+` FROM transactions WHERE id = ?`, id)
	return scanTransaction(row, id)
}

func (s *Store) FindByChargeID(ctx context.Context, chargeID string) (*domain.TransactionRecord, error) {
	ctx, span := tracer.Start(ctx, "SQLiteStore.FindByChargeID")
	defer span.End()

	if chargeID == "" {
		return nil, &domain.ErrNotFound{Resource: "transaction", ID: chargeID}
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+txnColumns+` FROM transactions WHERE charge_id = ? ORDER BY seq DESC LIMIT 1`, chargeID)
	return scanTransaction(row, chargeID)
}

func (s *Store) ListTransactions(ctx context.Context, userID string, limit int) ([]domain.TransactionRecord, error) {
	ctx, span := tracer.Start(ctx, "SQLiteStore.ListTransactions")
	defer span.End()

	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+txnColumns+` FROM transactions WHERE user_id = ? ORDER BY created_at DESC, seq DESC LIMIT ?`,
		userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.TransactionRecord, 0)
	for rows.Next() {
		rec, err := scanTransaction(rows, "")
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (s *Store) UpdateTransactionStatus(ctx context.Context, id string, status domain.TransactionStatus) (*domain.TransactionRecord, error) {
	ctx, span := tracer.Start(ctx, "SQLiteStore.UpdateTransactionStatus")
	defer span.End()

	res, err := s.db.ExecContext(ctx, `UPDATE transactions SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, &domain.ErrNotFound{Resource: "transaction", ID: id}
	}
	return s.GetTransaction(ctx, id)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row scanner, key string) (*domain.TransactionRecord, error) {
	var (
		rec                    domain.TransactionRecord
		typ, amount, status    string
		from, to, desc, charge sql.NullString
		created                time.Time
	)
	err := row.Scan(&rec.ID, &rec.UserID, &typ, &amount, &rec.Currency, &from, &to, &desc, &status, &charge, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.ErrNotFound{Resource: "transaction", ID: key}
	}
	if err != nil {
		return nil, err
	}

	rec.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("transaction %s: bad amount %q: %w", rec.ID, amount, err)
	}
	rec.Type = domain.TransactionType(typ)
	rec.Status = domain.TransactionStatus(status)
	rec.FromAccount = from.String
	rec.ToAccount = to.String
	rec.Description = desc.String
	rec.ChargeID = charge.String
	rec.CreatedAt = created.UTC()
	return &rec, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
