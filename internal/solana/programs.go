package solana

import (
	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
)

// Instruction is a single program invocation.
type Instruction = solanago.Instruction

// Program addresses.
var (
	SystemProgramID = solanago.SystemProgramID
	TokenProgramID  = solanago.TokenProgramID
)

// Transfer moves lamports between system accounts.
func Transfer(from, to PublicKey, lamports uint64) Instruction {
	return system.NewTransferInstruction(lamports, from, to).Build()
}

// BurnChecked burns amount raw units from a token account owned by owner.
func BurnChecked(account, mint, owner PublicKey, amount uint64, decimals uint8) Instruction {
	return token.NewBurnCheckedInstruction(amount, decimals, account, mint, owner, nil).Build()
}
