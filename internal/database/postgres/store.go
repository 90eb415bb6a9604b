// Package postgres implements database.Repository directly against
// PostgreSQL, for deployments that run the schema outside Supabase.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/nysa-labs/nysa-gateway/internal/database"
)

// Store implements database.Repository backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ database.Repository = (*Store)(nil)

// New wraps an open handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Open connects with the lib/pq driver.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return New(db), nil
}

// DB exposes the handle for migrations.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Close closes the handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return database.ErrNotFound
	}
	return err
}

// --- Profiles ---------------------------------------------------------------

const selectProfile = `
	SELECT id,
	       COALESCE(email, '') AS email,
	       COALESCE(full_name, '') AS full_name,
	       COALESCE(username, '') AS username,
	       COALESCE(avatar_url, '') AS avatar_url,
	       COALESCE(credits, 0) AS credits,
	       COALESCE(wallet_public_key, '') AS wallet_public_key,
	       COALESCE(wallet_private_key, '') AS wallet_private_key,
	       COALESCE(has_wallet, false) AS has_wallet,
	       updated_at
	FROM profiles`

func (s *Store) GetProfile(ctx context.Context, userID string) (*database.Profile, error) {
	var p database.Profile
	if err := s.db.GetContext(ctx, &p, selectProfile+` WHERE id = $1`, userID); err != nil {
		return nil, fmt.Errorf("get profile: %w", notFound(err))
	}
	return &p, nil
}

func (s *Store) UpdateProfile(ctx context.Context, userID string, update database.ProfileUpdate) (*database.Profile, error) {
	sets := []string{"updated_at = $1"}
	args := []interface{}{time.Now().UTC()}
	add := func(column string, value *string) {
		if value == nil {
			return
		}
		args = append(args, *value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	add("full_name", update.FullName)
	add("username", update.Username)
	add("avatar_url", update.AvatarURL)
	args = append(args, userID)

	query := fmt.Sprintf("UPDATE profiles SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return nil, database.ErrUsernameTaken
		}
		return nil, fmt.Errorf("update profile: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, database.ErrNotFound
	}
	return s.GetProfile(ctx, userID)
}

func (s *Store) FindProfileByUsername(ctx context.Context, username string) (*database.Profile, error) {
	var p database.Profile
	if err := s.db.GetContext(ctx, &p, selectProfile+` WHERE username = $1 LIMIT 1`, username); err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

// --- Credits ----------------------------------------------------------------

func (s *Store) GetCredits(ctx context.Context, userID string) (float64, error) {
	var credits float64
	err := s.db.GetContext(ctx, &credits, `SELECT COALESCE(credits, 0) FROM profiles WHERE id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("get credits: %w", notFound(err))
	}
	return credits, nil
}

func (s *Store) SetCredits(ctx context.Context, userID string, credits float64) error {
	if _, err := s.db.ExecContext(ctx, `SELECT update_user_credits($1, $2)`, userID, credits); err != nil {
		return fmt.Errorf("update_user_credits: %w", err)
	}
	return nil
}

func (s *Store) InsertCreditLog(ctx context.Context, entry *database.CreditLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO credit_logs (id, user_id, amount, type, transaction_hash, description, wallet_address, created_at)
		VALUES (:id, :user_id, :amount, :type, NULLIF(:transaction_hash, ''), NULLIF(:description, ''), NULLIF(:wallet_address, ''), :created_at)
	`, entry)
	if err != nil {
		return fmt.Errorf("insert credit log: %w", err)
	}
	return nil
}

func (s *Store) ListCreditLogs(ctx context.Context, userID string, limit int) ([]database.CreditLog, error) {
	if limit <= 0 {
		limit = 100
	}
	logs := []database.CreditLog{}
	err := s.db.SelectContext(ctx, &logs, `
		SELECT id, user_id, amount, type,
		       COALESCE(transaction_hash, '') AS transaction_hash,
		       COALESCE(description, '') AS description,
		       COALESCE(wallet_address, '') AS wallet_address,
		       created_at
		FROM credit_logs
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list credit logs: %w", err)
	}
	return logs, nil
}

// --- Chat sessions ----------------------------------------------------------

func (s *Store) ListChatSessions(ctx context.Context, userID string) ([]database.ChatSession, error) {
	sessions := []database.ChatSession{}
	err := s.db.SelectContext(ctx, &sessions, `
		SELECT id, user_id, title, messages, created_at, updated_at
		FROM chat_sessions
		WHERE user_id = $1
		ORDER BY updated_at DESC
	`, userID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "42P01" {
			return []database.ChatSession{}, nil
		}
		return nil, fmt.Errorf("list chat sessions: %w", err)
	}
	return sessions, nil
}

func (s *Store) GetChatSession(ctx context.Context, userID, sessionID string) (*database.ChatSession, error) {
	var session database.ChatSession
	err := s.db.GetContext(ctx, &session, `
		SELECT id, user_id, title, messages, created_at, updated_at
		FROM chat_sessions
		WHERE id = $1 AND user_id = $2
	`, sessionID, userID)
	if err != nil {
		return nil, fmt.Errorf("get chat session: %w", notFound(err))
	}
	return &session, nil
}

func (s *Store) UpsertChatSession(ctx context.Context, session *database.ChatSession) error {
	if session.ID == "" || session.UserID == "" {
		return fmt.Errorf("%w: session id and user id are required", database.ErrInvalidInput)
	}
	res, err := s.db.NamedExecContext(ctx, `
		INSERT INTO chat_sessions (id, user_id, title, messages, created_at, updated_at)
		VALUES (:id, :user_id, :title, :messages, :created_at, :updated_at)
		ON CONFLICT (id) DO UPDATE
		SET title = EXCLUDED.title, messages = EXCLUDED.messages, updated_at = EXCLUDED.updated_at
		WHERE chat_sessions.user_id = EXCLUDED.user_id
	`, session)
	if err != nil {
		return fmt.Errorf("upsert chat session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return database.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteChatSession(ctx context.Context, userID, sessionID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chat_sessions WHERE id = $1 AND user_id = $2`, sessionID, userID)
	if err != nil {
		return fmt.Errorf("delete chat session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return database.ErrNotFound
	}
	return nil
}

// --- Wallet -----------------------------------------------------------------

func (s *Store) GetWallet(ctx context.Context, userID string) (*database.WalletRecord, error) {
	p, err := s.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &database.WalletRecord{
		PublicKey:        p.WalletPublicKey,
		SealedPrivateKey: p.WalletPrivateKey,
		HasWallet:        p.HasWallet && p.WalletPublicKey != "",
	}, nil
}

func (s *Store) SaveWallet(ctx context.Context, userID, publicKey, sealedPrivateKey string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE profiles
		SET wallet_public_key = $2, wallet_private_key = $3, has_wallet = true, updated_at = $4
		WHERE id = $1
	`, userID, publicKey, sealedPrivateKey, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save wallet: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return database.ErrNotFound
	}
	return nil
}

// HealthCheck pings the database.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
