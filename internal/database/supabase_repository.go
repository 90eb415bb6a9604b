package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nysa-labs/nysa-gateway/internal/supabase"
)

const profileColumns = "id,email,full_name,username,avatar_url,credits,wallet_public_key,wallet_private_key,has_wallet,updated_at"

// SupabaseRepository implements Repository over PostgREST with the service key.
type SupabaseRepository struct {
	client *supabase.Client
}

// NewSupabaseRepository creates a repository. client must carry the service key.
func NewSupabaseRepository(client *supabase.Client) *SupabaseRepository {
	return &SupabaseRepository{client: client}
}

func wrapNotFound(err error) error {
	if supabase.IsNoRows(err) {
		return ErrNotFound
	}
	return err
}

// =============================================================================
// Profiles
// =============================================================================

func (r *SupabaseRepository) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	resp, err := r.client.From(TableProfiles).Select(profileColumns).Eq("id", userID).Single().Execute(ctx)
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", wrapNotFound(err))
	}
	var row profileRow
	if err := resp.JSON(&row); err != nil {
		return nil, err
	}
	return row.toProfile(), nil
}

func (r *SupabaseRepository) UpdateProfile(ctx context.Context, userID string, update ProfileUpdate) (*Profile, error) {
	patch := map[string]interface{}{"updated_at": time.Now().UTC()}
	if update.FullName != nil {
		patch["full_name"] = *update.FullName
	}
	if update.Username != nil {
		patch["username"] = *update.Username
	}
	if update.AvatarURL != nil {
		patch["avatar_url"] = *update.AvatarURL
	}

	resp, err := r.client.From(TableProfiles).Eq("id", userID).ExecuteUpdate(ctx, patch)
	if err != nil {
		if supabase.IsUniqueViolation(err) {
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("update profile: %w", err)
	}
	var rows []profileRow
	if err := resp.JSON(&rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return rows[0].toProfile(), nil
}

func (r *SupabaseRepository) FindProfileByUsername(ctx context.Context, username string) (*Profile, error) {
	resp, err := r.client.From(TableProfiles).Select("id,username").Eq("username", username).Limit(1).Execute(ctx)
	if err != nil {
		return nil, fmt.Errorf("find profile by username: %w", err)
	}
	var rows []profileRow
	if err := resp.JSON(&rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return rows[0].toProfile(), nil
}

// =============================================================================
// Credits
// =============================================================================

func (r *SupabaseRepository) GetCredits(ctx context.Context, userID string) (float64, error) {
	resp, err := r.client.From(TableProfiles).Select("credits").Eq("id", userID).Single().Execute(ctx)
	if err != nil {
		return 0, fmt.Errorf("get credits: %w", wrapNotFound(err))
	}
	var row struct {
		Credits *float64 `json:"credits"`
	}
	if err := resp.JSON(&row); err != nil {
		return 0, err
	}
	if row.Credits == nil {
		return 0, nil
	}
	return *row.Credits, nil
}

func (r *SupabaseRepository) SetCredits(ctx context.Context, userID string, credits float64) error {
	_, err := r.client.RPC(ctx, FnUpdateCredits, map[string]interface{}{
		"user_id":     userID,
		"new_credits": credits,
	})
	if err != nil {
		return fmt.Errorf("update_user_credits: %w", err)
	}
	return nil
}

func (r *SupabaseRepository) InsertCreditLog(ctx context.Context, entry *CreditLog) error {
	row := map[string]interface{}{
		"user_id": entry.UserID,
		"amount":  entry.Amount,
		"type":    entry.Type,
	}
	if entry.TransactionHash != "" {
		row["transaction_hash"] = entry.TransactionHash
	}
	if entry.Description != "" {
		row["description"] = entry.Description
	}
	if entry.WalletAddress != "" {
		row["wallet_address"] = entry.WalletAddress
	}
	if _, err := r.client.From(TableCreditLogs).ExecuteInsert(ctx, row); err != nil {
		return fmt.Errorf("insert credit log: %w", err)
	}
	return nil
}

func (r *SupabaseRepository) ListCreditLogs(ctx context.Context, userID string, limit int) ([]CreditLog, error) {
	q := r.client.From(TableCreditLogs).Select("*").Eq("user_id", userID).Order("created_at", false)
	if limit > 0 {
		q = q.Limit(limit)
	}
	resp, err := q.Execute(ctx)
	if err != nil {
		if supabase.IsUndefinedTable(err) {
			return []CreditLog{}, nil
		}
		return nil, fmt.Errorf("list credit logs: %w", err)
	}
	logs := []CreditLog{}
	if err := resp.JSON(&logs); err != nil {
		return nil, err
	}
	return logs, nil
}

// =============================================================================
// Chat sessions
// =============================================================================

func (r *SupabaseRepository) ListChatSessions(ctx context.Context, userID string) ([]ChatSession, error) {
	resp, err := r.client.From(TableChatSessions).Select("*").Eq("user_id", userID).Order("updated_at", false).Execute(ctx)
	if err != nil {
		if supabase.IsUndefinedTable(err) {
			return []ChatSession{}, nil
		}
		return nil, fmt.Errorf("list chat sessions: %w", err)
	}
	sessions := []ChatSession{}
	if err := resp.JSON(&sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

func (r *SupabaseRepository) GetChatSession(ctx context.Context, userID, sessionID string) (*ChatSession, error) {
	resp, err := r.client.From(TableChatSessions).Select("*").
		Eq("id", sessionID).Eq("user_id", userID).Single().Execute(ctx)
	if err != nil {
		return nil, fmt.Errorf("get chat session: %w", wrapNotFound(err))
	}
	var session ChatSession
	if err := resp.JSON(&session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *SupabaseRepository) UpsertChatSession(ctx context.Context, session *ChatSession) error {
	if session.ID == "" || session.UserID == "" {
		return fmt.Errorf("%w: session id and user id are required", ErrInvalidInput)
	}
	// Requests run with the service key, so ownership is enforced in the
	// filter: an existing row is only patched when user_id matches, and a new
	// id is inserted without merge so it cannot take over another user's row.
	resp, err := r.client.From(TableChatSessions).
		Eq("id", session.ID).Eq("user_id", session.UserID).
		ExecuteUpdate(ctx, map[string]interface{}{
			"title":      session.Title,
			"messages":   session.Messages,
			"updated_at": session.UpdatedAt,
		})
	if err != nil {
		return fmt.Errorf("update chat session: %w", err)
	}
	if strings.TrimSpace(string(resp.Body)) != "[]" {
		return nil
	}

	if _, err := r.client.From(TableChatSessions).ExecuteInsert(ctx, session); err != nil {
		if supabase.IsUniqueViolation(err) {
			return ErrNotFound
		}
		return fmt.Errorf("insert chat session: %w", err)
	}
	return nil
}

func (r *SupabaseRepository) DeleteChatSession(ctx context.Context, userID, sessionID string) error {
	resp, err := r.client.From(TableChatSessions).Eq("id", sessionID).Eq("user_id", userID).ExecuteDelete(ctx)
	if err != nil {
		return fmt.Errorf("delete chat session: %w", err)
	}
	if strings.TrimSpace(string(resp.Body)) == "[]" {
		return ErrNotFound
	}
	return nil
}

// =============================================================================
// Wallet
// =============================================================================

func (r *SupabaseRepository) GetWallet(ctx context.Context, userID string) (*WalletRecord, error) {
	profile, err := r.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &WalletRecord{
		PublicKey:        profile.WalletPublicKey,
		SealedPrivateKey: profile.WalletPrivateKey,
		HasWallet:        profile.HasWallet && profile.WalletPublicKey != "",
	}, nil
}

func (r *SupabaseRepository) SaveWallet(ctx context.Context, userID, publicKey, sealedPrivateKey string) error {
	resp, err := r.client.From(TableProfiles).Eq("id", userID).ExecuteUpdate(ctx, map[string]interface{}{
		"wallet_public_key":  publicKey,
		"wallet_private_key": sealedPrivateKey,
		"has_wallet":         true,
		"updated_at":         time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("save wallet: %w", err)
	}
	if strings.TrimSpace(string(resp.Body)) == "[]" {
		return ErrNotFound
	}
	return nil
}

// HealthCheck runs a one-row query against profiles.
func (r *SupabaseRepository) HealthCheck(ctx context.Context) error {
	_, err := r.client.From(TableProfiles).Select("id").Limit(1).Execute(ctx)
	return err
}

var _ Repository = (*SupabaseRepository)(nil)
