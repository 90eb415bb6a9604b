// Package database defines the gateway's persisted records and the
// repository used to read and write them.
package database

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Table and function names in the hosted schema.
const (
	TableProfiles     = "profiles"
	TableCreditLogs   = "credit_logs"
	TableChatSessions = "chat_sessions"
	FnUpdateCredits   = "update_user_credits"
)

// Credit log entry types.
const (
	CreditLogChatMessage     = "chat_message"
	CreditLogTokenConversion = "token_conversion"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput is returned for rejected arguments.
	ErrInvalidInput = errors.New("invalid input")
	// ErrUsernameTaken is returned when another profile owns the username.
	ErrUsernameTaken = errors.New("username is already taken")
)

// Profile is a row of profiles, keyed by the auth user ID.
type Profile struct {
	ID               string     `json:"id" db:"id"`
	Email            string     `json:"email,omitempty" db:"email"`
	FullName         string     `json:"full_name,omitempty" db:"full_name"`
	Username         string     `json:"username,omitempty" db:"username"`
	AvatarURL        string     `json:"avatar_url,omitempty" db:"avatar_url"`
	Credits          float64    `json:"credits" db:"credits"`
	WalletPublicKey  string     `json:"wallet_public_key,omitempty" db:"wallet_public_key"`
	WalletPrivateKey string     `json:"-" db:"wallet_private_key"`
	HasWallet        bool       `json:"has_wallet" db:"has_wallet"`
	UpdatedAt        *time.Time `json:"updated_at,omitempty" db:"updated_at"`
}

// profileRow mirrors Profile for decoding PostgREST rows, which do carry
// the sealed private key and may send nulls.
type profileRow struct {
	ID               string     `json:"id"`
	Email            *string    `json:"email"`
	FullName         *string    `json:"full_name"`
	Username         *string    `json:"username"`
	AvatarURL        *string    `json:"avatar_url"`
	Credits          *float64   `json:"credits"`
	WalletPublicKey  *string    `json:"wallet_public_key"`
	WalletPrivateKey *string    `json:"wallet_private_key"`
	HasWallet        *bool      `json:"has_wallet"`
	UpdatedAt        *time.Time `json:"updated_at"`
}

func (r profileRow) toProfile() *Profile {
	p := &Profile{ID: r.ID, UpdatedAt: r.UpdatedAt}
	p.Email = deref(r.Email)
	p.FullName = deref(r.FullName)
	p.Username = deref(r.Username)
	p.AvatarURL = deref(r.AvatarURL)
	p.WalletPublicKey = deref(r.WalletPublicKey)
	p.WalletPrivateKey = deref(r.WalletPrivateKey)
	if r.Credits != nil {
		p.Credits = *r.Credits
	}
	if r.HasWallet != nil {
		p.HasWallet = *r.HasWallet
	}
	return p
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// ProfileUpdate holds the editable profile fields. Nil fields are left alone.
type ProfileUpdate struct {
	FullName  *string
	Username  *string
	AvatarURL *string
}

// CreditLog is an append-only audit entry for a credit change.
type CreditLog struct {
	ID              string    `json:"id,omitempty" db:"id"`
	UserID          string    `json:"user_id" db:"user_id"`
	Amount          float64   `json:"amount" db:"amount"`
	Type            string    `json:"type" db:"type"`
	TransactionHash string    `json:"transaction_hash,omitempty" db:"transaction_hash"`
	Description     string    `json:"description,omitempty" db:"description"`
	WalletAddress   string    `json:"wallet_address,omitempty" db:"wallet_address"`
	CreatedAt       time.Time `json:"created_at,omitempty" db:"created_at"`
}

// ChatMessage is one turn of a stored conversation.
type ChatMessage struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// Messages is stored as a JSON array.
type Messages []ChatMessage

// Value implements driver.Valuer.
func (m Messages) Value() (driver.Value, error) {
	if m == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner.
func (m *Messages) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*m = Messages{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("scan messages: unsupported type %T", src)
	}
	return json.Unmarshal(data, m)
}

// ChatSession is a stored conversation.
type ChatSession struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"user_id" db:"user_id"`
	Title     string    `json:"title" db:"title"`
	Messages  Messages  `json:"messages" db:"messages"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// WalletRecord is the custody state of a user's wallet.
type WalletRecord struct {
	PublicKey        string
	SealedPrivateKey string
	HasWallet        bool
}
