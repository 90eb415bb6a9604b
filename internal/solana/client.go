package solana

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/tidwall/gjson"
)

// Commitment levels.
const (
	CommitmentProcessed = string(rpc.CommitmentProcessed)
	CommitmentConfirmed = string(rpc.CommitmentConfirmed)
	CommitmentFinalized = string(rpc.CommitmentFinalized)
)

// ErrConfirmTimeout is returned when a transaction is not confirmed in time.
var ErrConfirmTimeout = errors.New("transaction was not confirmed in time")

// RPCError is a JSON-RPC error object returned by the node.
type RPCError = jsonrpc.RPCError

// Client is a Solana JSON-RPC client.
type Client struct {
	rpc          *rpc.Client
	commitment   rpc.CommitmentType
	pollInterval time.Duration
	confirmWait  time.Duration
}

// Config holds client configuration.
type Config struct {
	RPCURL     string
	Commitment string
	Timeout    time.Duration
	// PollInterval and ConfirmTimeout bound transaction confirmation.
	PollInterval   time.Duration
	ConfirmTimeout time.Duration
	HTTPClient     *http.Client
}

// NewClient creates a client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("RPC URL required")
	}
	if cfg.Commitment == "" {
		cfg.Commitment = CommitmentConfirmed
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.ConfirmTimeout == 0 {
		cfg.ConfirmTimeout = 60 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	rpcClient := jsonrpc.NewClientWithOpts(cfg.RPCURL, &jsonrpc.RPCClientOpts{HTTPClient: httpClient})
	return &Client{
		rpc:          rpc.NewWithCustomRPCClient(rpcClient),
		commitment:   rpc.CommitmentType(cfg.Commitment),
		pollInterval: cfg.PollInterval,
		confirmWait:  cfg.ConfirmTimeout,
	}, nil
}

// =============================================================================
// Reads
// =============================================================================

// GetBalance returns the lamport balance of account.
func (c *Client) GetBalance(ctx context.Context, account PublicKey) (uint64, error) {
	out, err := c.rpc.GetBalance(ctx, account, c.commitment)
	if err != nil {
		return 0, fmt.Errorf("getBalance: %w", err)
	}
	return out.Value, nil
}

// TokenAccount is a parsed SPL token account.
type TokenAccount struct {
	Address  PublicKey
	Mint     string
	Amount   uint64
	Decimals uint8
}

// UIAmount returns Amount scaled by Decimals.
func (t TokenAccount) UIAmount() float64 {
	return float64(t.Amount) / math.Pow10(int(t.Decimals))
}

// GetTokenAccountsByOwner lists owner's token accounts for mint.
func (c *Client) GetTokenAccountsByOwner(ctx context.Context, owner, mint PublicKey) ([]TokenAccount, error) {
	out, err := c.rpc.GetTokenAccountsByOwner(ctx, owner,
		&rpc.GetTokenAccountsConfig{Mint: &mint},
		&rpc.GetTokenAccountsOpts{Commitment: c.commitment, Encoding: solanago.EncodingJSONParsed},
	)
	if err != nil {
		return nil, fmt.Errorf("getTokenAccountsByOwner: %w", err)
	}

	accounts := make([]TokenAccount, 0, len(out.Value))
	for _, item := range out.Value {
		if item == nil || item.Account.Data == nil {
			continue
		}
		info := gjson.GetBytes(item.Account.Data.GetRawJSON(), "parsed.info")
		amount, err := strconv.ParseUint(info.Get("tokenAmount.amount").String(), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("token amount for %s: %w", item.Pubkey, err)
		}
		accounts = append(accounts, TokenAccount{
			Address:  item.Pubkey,
			Mint:     info.Get("mint").String(),
			Amount:   amount,
			Decimals: uint8(info.Get("tokenAmount.decimals").Uint()),
		})
	}
	return accounts, nil
}

// GetTokenBalance sums owner's balance of mint across all token accounts.
func (c *Client) GetTokenBalance(ctx context.Context, owner, mint PublicKey) (float64, error) {
	accounts, err := c.GetTokenAccountsByOwner(ctx, owner, mint)
	if err != nil {
		return 0, err
	}
	var total float64
	for _, a := range accounts {
		total += a.UIAmount()
	}
	return total, nil
}

// GetLatestBlockhash returns a blockhash for a new transaction.
func (c *Client) GetLatestBlockhash(ctx context.Context) (Hash, error) {
	out, err := c.rpc.GetLatestBlockhash(ctx, c.commitment)
	if err != nil {
		return Hash{}, fmt.Errorf("getLatestBlockhash: %w", err)
	}
	if out.Value == nil {
		return Hash{}, errors.New("getLatestBlockhash: empty result")
	}
	return out.Value.Blockhash, nil
}

// =============================================================================
// Transactions
// =============================================================================

// SendTransaction submits a signed transaction and returns its signature.
func (c *Client) SendTransaction(ctx context.Context, tx *Transaction) (string, error) {
	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{PreflightCommitment: c.commitment})
	if err != nil {
		return "", fmt.Errorf("sendTransaction: %w", err)
	}
	return sig.String(), nil
}

// SignatureStatus is the status of a submitted transaction.
type SignatureStatus struct {
	Found              bool
	ConfirmationStatus string
	Err                string
}

// GetSignatureStatus returns the status of signature.
func (c *Client) GetSignatureStatus(ctx context.Context, signature string) (*SignatureStatus, error) {
	sig, err := solanago.SignatureFromBase58(signature)
	if err != nil {
		return nil, fmt.Errorf("invalid signature %q: %w", signature, err)
	}
	out, err := c.rpc.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		return nil, fmt.Errorf("getSignatureStatuses: %w", err)
	}
	if len(out.Value) == 0 || out.Value[0] == nil {
		return &SignatureStatus{}, nil
	}
	status := out.Value[0]
	result := &SignatureStatus{Found: true, ConfirmationStatus: string(status.ConfirmationStatus)}
	if status.Err != nil {
		raw, _ := json.Marshal(status.Err)
		result.Err = string(raw)
	}
	return result, nil
}

// ConfirmTransaction polls until signature reaches the client's commitment.
func (c *Client) ConfirmTransaction(ctx context.Context, signature string) error {
	ctx, cancel := context.WithTimeout(ctx, c.confirmWait)
	defer cancel()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		status, err := c.GetSignatureStatus(ctx, signature)
		if err == nil && status.Found {
			if status.Err != "" {
				return fmt.Errorf("transaction %s failed: %s", signature, status.Err)
			}
			if reached(status.ConfirmationStatus, string(c.commitment)) {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			if err != nil {
				return fmt.Errorf("%w: %v", ErrConfirmTimeout, err)
			}
			return ErrConfirmTimeout
		case <-ticker.C:
		}
	}
}

func reached(status, want string) bool {
	rank := map[string]int{CommitmentProcessed: 1, CommitmentConfirmed: 2, CommitmentFinalized: 3}
	return rank[status] > 0 && rank[status] >= rank[want]
}

// SendAndConfirm builds, signs, submits and confirms a transaction. The
// first signer pays the fee. Once submitted, confirmation no longer follows
// ctx cancellation and is bounded by the confirm timeout only.
func (c *Client) SendAndConfirm(ctx context.Context, signers []*Keypair, instructions ...Instruction) (string, error) {
	blockhash, err := c.GetLatestBlockhash(ctx)
	if err != nil {
		return "", fmt.Errorf("get blockhash: %w", err)
	}
	tx, err := NewTransaction(blockhash, signers, instructions...)
	if err != nil {
		return "", fmt.Errorf("build transaction: %w", err)
	}
	signature, err := c.SendTransaction(ctx, tx)
	if err != nil {
		return "", err
	}
	if err := c.ConfirmTransaction(context.WithoutCancel(ctx), signature); err != nil {
		return signature, err
	}
	return signature, nil
}

// RequestAirdrop asks a test cluster for lamports and waits for confirmation.
func (c *Client) RequestAirdrop(ctx context.Context, account PublicKey, lamports uint64) (string, error) {
	sig, err := c.rpc.RequestAirdrop(ctx, account, lamports, c.commitment)
	if err != nil {
		return "", fmt.Errorf("requestAirdrop: %w", err)
	}
	signature := sig.String()
	if err := c.ConfirmTransaction(ctx, signature); err != nil {
		return signature, err
	}
	return signature, nil
}
