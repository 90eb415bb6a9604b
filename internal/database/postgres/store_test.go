package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/nysa-labs/nysa-gateway/internal/database"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(sqlx.NewDb(db, "postgres")), mock
}

var profileCols = []string{
	"id", "email", "full_name", "username", "avatar_url", "credits",
	"wallet_public_key", "wallet_private_key", "has_wallet", "updated_at",
}

func TestGetProfile(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`FROM profiles\s+WHERE id = \$1`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows(profileCols).
			AddRow("u1", "a@b.c", "Ada", "ada", "", 25.0, "PUB", "SEALED", true, now))

	p, err := store.GetProfile(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetProfile() error = %v", err)
	}
	if p.Username != "ada" || p.Credits != 25 || p.WalletPrivateKey != "SEALED" || !p.HasWallet {
		t.Errorf("profile = %+v", p)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetProfileNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(`FROM profiles`).WithArgs("missing").WillReturnError(sql.ErrNoRows)

	if _, err := store.GetProfile(context.Background(), "missing"); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSetCreditsCallsFunction(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta(`SELECT update_user_credits($1, $2)`)).
		WithArgs("u1", 90.0).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.SetCredits(context.Background(), "u1", 90); err != nil {
		t.Fatalf("SetCredits() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetCredits(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COALESCE(credits, 0) FROM profiles WHERE id = $1`)).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(12.5))

	credits, err := store.GetCredits(context.Background(), "u1")
	if err != nil || credits != 12.5 {
		t.Errorf("GetCredits() = %v, %v", credits, err)
	}
}

func TestUpdateProfileUsernameTaken(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(`UPDATE profiles SET updated_at = \$1, username = \$2 WHERE id = \$3`).
		WillReturnError(&pq.Error{Code: "23505"})

	name := "taken"
	_, err := store.UpdateProfile(context.Background(), "u1", database.ProfileUpdate{Username: &name})
	if !errors.Is(err, database.ErrUsernameTaken) {
		t.Errorf("err = %v, want ErrUsernameTaken", err)
	}
}

func TestInsertCreditLog(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(`INSERT INTO credit_logs`).
		WithArgs(sqlmock.AnyArg(), "u1", 50.0, database.CreditLogTokenConversion, "sig", "Converted 5 NYSA tokens to 50 credits", "PUB", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	entry := &database.CreditLog{
		UserID:          "u1",
		Amount:          50,
		Type:            database.CreditLogTokenConversion,
		TransactionHash: "sig",
		Description:     "Converted 5 NYSA tokens to 50 credits",
		WalletAddress:   "PUB",
	}
	if err := store.InsertCreditLog(context.Background(), entry); err != nil {
		t.Fatalf("InsertCreditLog() error = %v", err)
	}
	if entry.ID == "" {
		t.Error("ID not assigned")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListChatSessions(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()
	mock.ExpectQuery(`FROM chat_sessions\s+WHERE user_id = \$1\s+ORDER BY updated_at DESC`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "title", "messages", "created_at", "updated_at"}).
			AddRow("s1", "u1", "Hello", []byte(`[{"role":"system","content":"x"}]`), now, now))

	sessions, err := store.ListChatSessions(context.Background(), "u1")
	if err != nil {
		t.Fatalf("ListChatSessions() error = %v", err)
	}
	if len(sessions) != 1 || sessions[0].Messages[0].Role != "system" {
		t.Errorf("sessions = %+v", sessions)
	}
}

func TestListChatSessionsMissingTable(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(`FROM chat_sessions`).WillReturnError(&pq.Error{Code: "42P01"})

	sessions, err := store.ListChatSessions(context.Background(), "u1")
	if err != nil || len(sessions) != 0 {
		t.Errorf("ListChatSessions() = %v, %v", sessions, err)
	}
}

func TestDeleteChatSessionNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(`DELETE FROM chat_sessions`).
		WithArgs("s1", "u1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.DeleteChatSession(context.Background(), "u1", "s1"); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSaveWallet(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(`UPDATE profiles\s+SET wallet_public_key = \$2`).
		WithArgs("u1", "PUB", "SEALED", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.SaveWallet(context.Background(), "u1", "PUB", "SEALED"); err != nil {
		t.Fatalf("SaveWallet() error = %v", err)
	}
}
