// Package wallet holds users' custodial Solana wallets: creation, balances,
// transfers and the token burn that converts NYSA tokens into credits.
package wallet

import (
	"context"
	stderrors "errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/nysa-labs/nysa-gateway/internal/credits"
	"github.com/nysa-labs/nysa-gateway/internal/database"
	svcerrors "github.com/nysa-labs/nysa-gateway/internal/errors"
	"github.com/nysa-labs/nysa-gateway/internal/logging"
	"github.com/nysa-labs/nysa-gateway/internal/solana"
)

// DefaultMint is the NYSA token mint.
const DefaultMint = "5NFBXUt4RSCP7FRLV8xNkTA6rZzhAWSrUzzuHanfpump"

// Chain is the RPC surface used by the wallet service.
type Chain interface {
	GetBalance(ctx context.Context, account solana.PublicKey) (uint64, error)
	GetTokenAccountsByOwner(ctx context.Context, owner, mint solana.PublicKey) ([]solana.TokenAccount, error)
	GetTokenBalance(ctx context.Context, owner, mint solana.PublicKey) (float64, error)
	SendAndConfirm(ctx context.Context, signers []*solana.Keypair, instructions ...solana.Instruction) (string, error)
	RequestAirdrop(ctx context.Context, account solana.PublicKey, lamports uint64) (string, error)
}

// CreditAdder tops up a user's credits.
type CreditAdder interface {
	PerToken() float64
	Add(ctx context.Context, userID string, amount float64, audit database.CreditLog) (float64, error)
}

// Recorder receives wallet metrics.
type Recorder interface {
	RecordTokenBurn(err error)
}

// Config configures the wallet Service.
type Config struct {
	Repo     database.Repository
	Sealer   *Sealer
	Devnet   Chain
	Mainnet  Chain
	Mint     string
	Cache    BalanceCache
	Credits  CreditAdder
	Logger   *logging.Logger
	Recorder Recorder
}

// Service manages custodial wallets.
type Service struct {
	repo     database.Repository
	sealer   *Sealer
	devnet   Chain
	mainnet  Chain
	mint     solana.PublicKey
	cache    BalanceCache
	credits  CreditAdder
	logger   *logging.Logger
	recorder Recorder
	now      func() time.Time
}

// New creates a wallet service.
func New(cfg Config) (*Service, error) {
	if cfg.Repo == nil || cfg.Sealer == nil {
		return nil, fmt.Errorf("wallet: repository and sealer are required")
	}
	if cfg.Devnet == nil || cfg.Mainnet == nil {
		return nil, fmt.Errorf("wallet: devnet and mainnet clients are required")
	}
	mintAddr := cfg.Mint
	if mintAddr == "" {
		mintAddr = DefaultMint
	}
	mint, err := solana.ParsePublicKey(mintAddr)
	if err != nil {
		return nil, fmt.Errorf("wallet: token mint: %w", err)
	}
	cache := cfg.Cache
	if cache == nil {
		cache = NoopCache{}
	}
	return &Service{
		repo:     cfg.Repo,
		sealer:   cfg.Sealer,
		devnet:   cfg.Devnet,
		mainnet:  cfg.Mainnet,
		mint:     mint,
		cache:    cache,
		credits:  cfg.Credits,
		logger:   cfg.Logger,
		recorder: cfg.Recorder,
		now:      time.Now,
	}, nil
}

// =============================================================================
// Custody
// =============================================================================

// Info is the public view of a user's wallet.
type Info struct {
	PublicKey string `json:"publicKey"`
	HasWallet bool   `json:"hasWallet"`
}

// Created is returned once when a wallet is generated.
type Created struct {
	PublicKey  string `json:"publicKey"`
	PrivateKey string `json:"privateKey"`
}

// CreateWallet generates and stores a wallet for userID. A user holds at
// most one wallet.
func (s *Service) CreateWallet(ctx context.Context, userID string) (*Created, error) {
	rec, err := s.repo.GetWallet(ctx, userID)
	if err != nil {
		return nil, s.repoError(err, "Failed to load wallet")
	}
	if rec.HasWallet {
		return nil, svcerrors.Conflict("A wallet already exists for this account")
	}

	kp, err := solana.NewKeypair()
	if err != nil {
		return nil, svcerrors.Internal("Failed to create wallet", err)
	}
	secret := kp.SecretBase58()
	sealed, err := s.sealer.Seal(secret)
	if err != nil {
		return nil, svcerrors.Internal("Failed to create wallet", err)
	}
	if err := s.repo.SaveWallet(ctx, userID, kp.PublicKey().String(), sealed); err != nil {
		return nil, s.repoError(err, "Failed to save wallet")
	}

	s.logger.WithContext(ctx).WithField("wallet", kp.PublicKey().String()).Info("wallet created")
	return &Created{PublicKey: kp.PublicKey().String(), PrivateKey: secret}, nil
}

// GetWallet returns the public wallet state of userID.
func (s *Service) GetWallet(ctx context.Context, userID string) (*Info, error) {
	rec, err := s.repo.GetWallet(ctx, userID)
	if err != nil {
		return nil, s.repoError(err, "Failed to load wallet")
	}
	return &Info{PublicKey: rec.PublicKey, HasWallet: rec.HasWallet}, nil
}

// ExportPrivateKey returns userID's base58 secret key.
func (s *Service) ExportPrivateKey(ctx context.Context, userID string) (string, error) {
	kp, err := s.custodyKeypair(ctx, userID)
	if err != nil {
		return "", err
	}
	return kp.SecretBase58(), nil
}

func (s *Service) custodyKeypair(ctx context.Context, userID string) (*solana.Keypair, error) {
	rec, err := s.repo.GetWallet(ctx, userID)
	if err != nil {
		return nil, s.repoError(err, "Failed to load wallet")
	}
	if !rec.HasWallet || rec.SealedPrivateKey == "" {
		return nil, svcerrors.NotFound("Wallet", userID)
	}
	secret, err := s.sealer.Open(rec.SealedPrivateKey)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("open sealed wallet key")
		return nil, svcerrors.Internal(ErrUnseal.Error(), err)
	}
	kp, err := solana.KeypairFromBase58(secret)
	if err != nil {
		return nil, svcerrors.Internal(ErrUnseal.Error(), err)
	}
	return kp, nil
}

func (s *Service) repoError(err error, message string) error {
	if stderrors.Is(err, database.ErrNotFound) {
		return svcerrors.NotFound("Profile", "")
	}
	return svcerrors.Internal(message, err)
}

// =============================================================================
// Balances
// =============================================================================

// Balances are a wallet's SOL and token holdings on both clusters. A lookup
// that failed leaves its field zero and records the error.
type Balances struct {
	PublicKey     string            `json:"publicKey"`
	DevnetSOL     float64           `json:"devnetBalance"`
	MainnetSOL    float64           `json:"mainnetBalance"`
	DevnetTokens  float64           `json:"devnetTokenBalance"`
	MainnetTokens float64           `json:"tokenBalance"`
	Errors        map[string]string `json:"errors,omitempty"`
	CheckedAt     time.Time         `json:"checkedAt"`
}

// Balances looks up userID's wallet balances, served from cache when fresh.
func (s *Service) Balances(ctx context.Context, userID string) (*Balances, error) {
	rec, err := s.repo.GetWallet(ctx, userID)
	if err != nil {
		return nil, s.repoError(err, "Failed to load wallet")
	}
	if !rec.HasWallet {
		return nil, svcerrors.NotFound("Wallet", userID)
	}
	owner, err := solana.ParsePublicKey(rec.PublicKey)
	if err != nil {
		return nil, svcerrors.Internal("Stored wallet address is invalid", err)
	}

	if cached, ok := s.cache.Get(ctx, rec.PublicKey); ok {
		return cached, nil
	}

	b := &Balances{PublicKey: rec.PublicKey, CheckedAt: s.now().UTC()}
	var mu sync.Mutex
	var wg sync.WaitGroup
	lookup := func(name string, fn func() (float64, error), dst *float64) {
		defer wg.Done()
		v, err := fn()
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			if b.Errors == nil {
				b.Errors = make(map[string]string)
			}
			b.Errors[name] = err.Error()
			return
		}
		*dst = v
	}
	sol := func(c Chain) func() (float64, error) {
		return func() (float64, error) {
			lamports, err := c.GetBalance(ctx, owner)
			return float64(lamports) / solana.LamportsPerSOL, err
		}
	}
	tokens := func(c Chain) func() (float64, error) {
		return func() (float64, error) { return c.GetTokenBalance(ctx, owner, s.mint) }
	}

	wg.Add(4)
	go lookup("devnetBalance", sol(s.devnet), &b.DevnetSOL)
	go lookup("mainnetBalance", sol(s.mainnet), &b.MainnetSOL)
	go lookup("devnetTokenBalance", tokens(s.devnet), &b.DevnetTokens)
	go lookup("tokenBalance", tokens(s.mainnet), &b.MainnetTokens)
	wg.Wait()

	if len(b.Errors) == 0 {
		s.cache.Set(ctx, rec.PublicKey, b)
	} else {
		s.logger.WithContext(ctx).WithField("errors", b.Errors).Warn("balance lookup incomplete")
	}
	return b, nil
}

// =============================================================================
// Transactions
// =============================================================================

// Airdrop requests 1 SOL on devnet for userID's wallet.
func (s *Service) Airdrop(ctx context.Context, userID string) (string, error) {
	info, err := s.GetWallet(ctx, userID)
	if err != nil {
		return "", err
	}
	if !info.HasWallet {
		return "", svcerrors.NotFound("Wallet", userID)
	}
	owner, err := solana.ParsePublicKey(info.PublicKey)
	if err != nil {
		return "", svcerrors.Internal("Stored wallet address is invalid", err)
	}
	sig, err := s.devnet.RequestAirdrop(ctx, owner, solana.LamportsPerSOL)
	if err != nil {
		return "", svcerrors.Upstream("Airdrop failed: "+err.Error(), err)
	}
	s.cache.Invalidate(ctx, info.PublicKey)
	return sig, nil
}

// Transfer sends amount SOL on mainnet from userID's wallet to the address to.
func (s *Service) Transfer(ctx context.Context, userID, to string, amount float64) (string, error) {
	if !(amount > 0) || math.IsInf(amount, 0) {
		return "", svcerrors.BadRequest("Invalid amount specified")
	}
	dest, err := solana.ParsePublicKey(strings.TrimSpace(to))
	if err != nil {
		return "", svcerrors.BadRequest("Invalid recipient address")
	}
	kp, err := s.custodyKeypair(ctx, userID)
	if err != nil {
		return "", err
	}

	lamports := uint64(math.Round(amount * solana.LamportsPerSOL))
	sig, err := s.mainnet.SendAndConfirm(ctx, []*solana.Keypair{kp}, solana.Transfer(kp.PublicKey(), dest, lamports))
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).WithField("signature", sig).Error("transfer failed")
		return "", svcerrors.Upstream("Transfer failed: "+err.Error(), err)
	}
	s.cache.Invalidate(ctx, kp.PublicKey().String())
	s.logger.WithContext(ctx).WithField("signature", sig).WithField("lamports", lamports).Info("transfer confirmed")
	return sig, nil
}

// BurnTokens burns amount NYSA tokens from owner's first token account on
// mainnet and returns the transaction signature.
func (s *Service) BurnTokens(ctx context.Context, owner *solana.Keypair, amount float64) (sig string, err error) {
	defer func() {
		if s.recorder != nil {
			s.recorder.RecordTokenBurn(err)
		}
	}()

	accounts, err := s.mainnet.GetTokenAccountsByOwner(ctx, owner.PublicKey(), s.mint)
	if err != nil {
		return "", err
	}
	if len(accounts) == 0 {
		return "", fmt.Errorf("No token account found for this wallet")
	}

	account := accounts[0]
	balance := account.UIAmount()
	if balance < amount {
		return "", fmt.Errorf("Insufficient balance. You have %s but attempted to burn %s",
			credits.FormatAmount(balance), credits.FormatAmount(amount))
	}

	raw := uint64(math.Floor(amount * math.Pow10(int(account.Decimals))))
	sig, err = s.mainnet.SendAndConfirm(ctx, []*solana.Keypair{owner},
		solana.BurnChecked(account.Address, s.mint, owner.PublicKey(), raw, account.Decimals))
	if err != nil {
		return sig, err
	}
	s.cache.Invalidate(ctx, owner.PublicKey().String())
	return sig, nil
}
