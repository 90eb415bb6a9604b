package wallet

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/nysa-labs/nysa-gateway/internal/credits"
	"github.com/nysa-labs/nysa-gateway/internal/database"
	svcerrors "github.com/nysa-labs/nysa-gateway/internal/errors"
	"github.com/nysa-labs/nysa-gateway/internal/solana"
)

// settleTimeout bounds the credit top-up after a burn has landed.
const settleTimeout = 30 * time.Second

// ConvertRequest asks to burn Amount tokens from WalletAddress for credits.
// PrivateKey is optional; the custodial key is used when it is empty.
type ConvertRequest struct {
	Amount        float64
	WalletAddress string
	PrivateKey    string
}

// ConvertResult reports a completed conversion.
type ConvertResult struct {
	Success          bool    `json:"success"`
	TxHash           string  `json:"txHash"`
	TokensConverted  float64 `json:"tokensConverted"`
	CreditsAdded     float64 `json:"creditsAdded"`
	NewCreditBalance float64 `json:"newCreditBalance"`
}

// ConvertCredits burns tokens and credits userID with PerToken credits per
// token. Once the burn has landed every error carries the transaction hash.
func (s *Service) ConvertCredits(ctx context.Context, userID string, req ConvertRequest) (*ConvertResult, error) {
	if !(req.Amount > 0) || math.IsInf(req.Amount, 0) {
		return nil, svcerrors.BadRequest("Invalid amount specified")
	}
	address := strings.TrimSpace(req.WalletAddress)
	if address == "" {
		return nil, svcerrors.BadRequest("Wallet address is required")
	}
	if s.credits == nil {
		return nil, svcerrors.Internal("Credit conversion is not available", nil)
	}

	owner, err := s.conversionKeypair(ctx, userID, address, strings.TrimSpace(req.PrivateKey))
	if err != nil {
		return nil, err
	}

	entry := s.logger.WithContext(ctx).WithField("wallet", address).WithField("amount", req.Amount)
	entry.Info("converting tokens to credits")

	sig, err := s.BurnTokens(ctx, owner, req.Amount)
	if err != nil {
		entry.WithError(err).WithField("signature", sig).Warn("token burn failed")
		return nil, svcerrors.BadRequest("Token burn failed: " + err.Error())
	}

	// The tokens are gone once the burn lands, so the top-up must not be
	// abandoned when the client disconnects.
	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	creditAmount := req.Amount * s.credits.PerToken()
	balance, err := s.credits.Add(settleCtx, userID, creditAmount, database.CreditLog{
		Type:            database.CreditLogTokenConversion,
		TransactionHash: sig,
		Description: fmt.Sprintf("Converted %s NYSA tokens to %s credits",
			credits.FormatAmount(req.Amount), credits.FormatAmount(creditAmount)),
		WalletAddress: address,
	})
	if err != nil {
		entry.WithError(err).WithField("signature", sig).Error("credit top-up after burn failed")
		return nil, svcerrors.Internal(err.Error(), err).WithDetails("txHash", sig)
	}

	entry.WithField("signature", sig).WithField("credits", creditAmount).Info("tokens converted")
	return &ConvertResult{
		Success:          true,
		TxHash:           sig,
		TokensConverted:  req.Amount,
		CreditsAdded:     creditAmount,
		NewCreditBalance: balance,
	}, nil
}

// conversionKeypair returns the key that signs the burn. A supplied key must
// belong to address; otherwise the custodial wallet must be address.
func (s *Service) conversionKeypair(ctx context.Context, userID, address, privateKey string) (*solana.Keypair, error) {
	mismatch := svcerrors.BadRequest("Private key does not match the provided wallet address")

	if privateKey != "" {
		kp, err := solana.KeypairFromBase58(privateKey)
		if err != nil {
			return nil, svcerrors.BadRequest("Invalid private key")
		}
		if kp.PublicKey().String() != address {
			return nil, mismatch
		}
		return kp, nil
	}

	rec, err := s.repo.GetWallet(ctx, userID)
	if err != nil || !rec.HasWallet {
		return nil, svcerrors.BadRequest("Private key is required")
	}
	if rec.PublicKey != address {
		return nil, mismatch
	}
	return s.custodyKeypair(ctx, userID)
}
