package solana

import (
	"errors"
	"fmt"

	solanago "github.com/gagliardetto/solana-go"
)

// Transaction is a signed legacy transaction.
type Transaction = solanago.Transaction

// NewTransaction builds a transaction with signers[0] as fee payer and signs
// it with every signer. A required signer missing from signers is an error.
func NewTransaction(blockhash Hash, signers []*Keypair, instructions ...Instruction) (*Transaction, error) {
	if len(signers) == 0 {
		return nil, errors.New("no signers")
	}
	if len(instructions) == 0 {
		return nil, errors.New("no instructions")
	}
	tx, err := solanago.NewTransaction(instructions, blockhash, solanago.TransactionPayer(signers[0].PublicKey()))
	if err != nil {
		return nil, fmt.Errorf("compile transaction: %w", err)
	}

	byKey := make(map[PublicKey]*Keypair, len(signers))
	for _, s := range signers {
		byKey[s.PublicKey()] = s
	}
	if _, err := tx.Sign(func(key PublicKey) *solanago.PrivateKey {
		if s, ok := byKey[key]; ok {
			return s.PrivateKey()
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	return tx, nil
}
