package database

import "context"

// Repository is the persistence surface used by the gateway services.
type Repository interface {
	GetProfile(ctx context.Context, userID string) (*Profile, error)
	UpdateProfile(ctx context.Context, userID string, update ProfileUpdate) (*Profile, error)
	// FindProfileByUsername returns ErrNotFound when nobody holds username.
	FindProfileByUsername(ctx context.Context, username string) (*Profile, error)

	GetCredits(ctx context.Context, userID string) (float64, error)
	// SetCredits stores an absolute balance through update_user_credits.
	SetCredits(ctx context.Context, userID string, credits float64) error
	InsertCreditLog(ctx context.Context, entry *CreditLog) error
	ListCreditLogs(ctx context.Context, userID string, limit int) ([]CreditLog, error)

	// ListChatSessions returns sessions newest first. A missing table lists
	// as empty.
	ListChatSessions(ctx context.Context, userID string) ([]ChatSession, error)
	GetChatSession(ctx context.Context, userID, sessionID string) (*ChatSession, error)
	UpsertChatSession(ctx context.Context, session *ChatSession) error
	DeleteChatSession(ctx context.Context, userID, sessionID string) error

	GetWallet(ctx context.Context, userID string) (*WalletRecord, error)
	SaveWallet(ctx context.Context, userID, publicKey, sealedPrivateKey string) error

	HealthCheck(ctx context.Context) error
}
