package database

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockRepository is an in-memory Repository for tests.
type MockRepository struct {
	mu sync.RWMutex

	profiles   map[string]*Profile
	creditLogs []CreditLog
	sessions   map[string]*ChatSession

	// SetCreditsCalls counts SetCredits invocations.
	SetCreditsCalls int

	// ErrorOnNextCall is returned, then cleared, by the next call.
	ErrorOnNextCall error
	// CreditLogError is returned by every InsertCreditLog while set.
	CreditLogError error
	// IgnoreSetCredits makes SetCredits succeed without storing, to model a
	// write that did not land.
	IgnoreSetCredits bool
}

// NewMockRepository creates an empty repository.
func NewMockRepository() *MockRepository {
	return &MockRepository{
		profiles: make(map[string]*Profile),
		sessions: make(map[string]*ChatSession),
	}
}

func (m *MockRepository) checkError() error {
	if m.ErrorOnNextCall != nil {
		err := m.ErrorOnNextCall
		m.ErrorOnNextCall = nil
		return err
	}
	return nil
}

// PutProfile seeds a profile.
func (m *MockRepository) PutProfile(p *Profile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.profiles[p.ID] = &cp
}

// CreditLogs returns a copy of the stored audit entries.
func (m *MockRepository) CreditLogs() []CreditLog {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]CreditLog(nil), m.creditLogs...)
}

func (m *MockRepository) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return nil, err
	}
	p, ok := m.profiles[userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MockRepository) UpdateProfile(ctx context.Context, userID string, update ProfileUpdate) (*Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return nil, err
	}
	p, ok := m.profiles[userID]
	if !ok {
		return nil, ErrNotFound
	}
	if update.Username != nil && *update.Username != "" {
		for id, other := range m.profiles {
			if id != userID && other.Username == *update.Username {
				return nil, ErrUsernameTaken
			}
		}
	}
	if update.FullName != nil {
		p.FullName = *update.FullName
	}
	if update.Username != nil {
		p.Username = *update.Username
	}
	if update.AvatarURL != nil {
		p.AvatarURL = *update.AvatarURL
	}
	now := time.Now().UTC()
	p.UpdatedAt = &now
	cp := *p
	return &cp, nil
}

func (m *MockRepository) FindProfileByUsername(ctx context.Context, username string) (*Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return nil, err
	}
	for _, p := range m.profiles {
		if p.Username == username {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MockRepository) GetCredits(ctx context.Context, userID string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return 0, err
	}
	p, ok := m.profiles[userID]
	if !ok {
		return 0, ErrNotFound
	}
	return p.Credits, nil
}

func (m *MockRepository) SetCredits(ctx context.Context, userID string, credits float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SetCreditsCalls++
	if err := m.checkError(); err != nil {
		return err
	}
	p, ok := m.profiles[userID]
	if !ok {
		return ErrNotFound
	}
	if !m.IgnoreSetCredits {
		p.Credits = credits
	}
	return nil
}

func (m *MockRepository) InsertCreditLog(ctx context.Context, entry *CreditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreditLogError != nil {
		return m.CreditLogError
	}
	if err := m.checkError(); err != nil {
		return err
	}
	cp := *entry
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	m.creditLogs = append(m.creditLogs, cp)
	return nil
}

func (m *MockRepository) ListCreditLogs(ctx context.Context, userID string, limit int) ([]CreditLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return nil, err
	}
	out := []CreditLog{}
	for i := len(m.creditLogs) - 1; i >= 0; i-- {
		if m.creditLogs[i].UserID == userID {
			out = append(out, m.creditLogs[i])
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *MockRepository) ListChatSessions(ctx context.Context, userID string) ([]ChatSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return nil, err
	}
	out := []ChatSession{}
	for _, s := range m.sessions {
		if s.UserID == userID {
			out = append(out, copySession(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (m *MockRepository) GetChatSession(ctx context.Context, userID, sessionID string) (*ChatSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return nil, err
	}
	s, ok := m.sessions[sessionID]
	if !ok || s.UserID != userID {
		return nil, ErrNotFound
	}
	cp := copySession(s)
	return &cp, nil
}

func (m *MockRepository) UpsertChatSession(ctx context.Context, session *ChatSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return err
	}
	if existing, ok := m.sessions[session.ID]; ok && existing.UserID != session.UserID {
		return ErrNotFound
	}
	cp := copySession(session)
	m.sessions[session.ID] = &cp
	return nil
}

func (m *MockRepository) DeleteChatSession(ctx context.Context, userID, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return err
	}
	s, ok := m.sessions[sessionID]
	if !ok || s.UserID != userID {
		return ErrNotFound
	}
	delete(m.sessions, sessionID)
	return nil
}

func (m *MockRepository) GetWallet(ctx context.Context, userID string) (*WalletRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return nil, err
	}
	p, ok := m.profiles[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return &WalletRecord{
		PublicKey:        p.WalletPublicKey,
		SealedPrivateKey: p.WalletPrivateKey,
		HasWallet:        p.HasWallet && p.WalletPublicKey != "",
	}, nil
}

func (m *MockRepository) SaveWallet(ctx context.Context, userID, publicKey, sealedPrivateKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkError(); err != nil {
		return err
	}
	p, ok := m.profiles[userID]
	if !ok {
		return ErrNotFound
	}
	p.WalletPublicKey = publicKey
	p.WalletPrivateKey = sealedPrivateKey
	p.HasWallet = true
	return nil
}

func (m *MockRepository) HealthCheck(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checkError()
}

func copySession(s *ChatSession) ChatSession {
	cp := *s
	cp.Messages = append(Messages(nil), s.Messages...)
	return cp
}

var _ Repository = (*MockRepository)(nil)
