// Package banktest runs native programs end to end on an in-memory bank.
package banktest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fortiblox/x1-sale/internal/types"
	"github.com/fortiblox/x1-sale/pkg/accounts"
	"github.com/fortiblox/x1-sale/pkg/bank"
	"github.com/fortiblox/x1-sale/pkg/svm/programs/sale"
	"github.com/fortiblox/x1-sale/pkg/svm/programs/system"
	"github.com/fortiblox/x1-sale/pkg/svm/programs/token"
	"github.com/fortiblox/x1-sale/pkg/transaction"
)

// LamportsPerSol is the number of lamports in one SOL.
const LamportsPerSol = 1_000_000_000

// Env is a bank with the system, token and sale programs registered.
type Env struct {
	t    testing.TB
	DB   *accounts.MemoryDB
	Bank *bank.Bank
}

// NewEnv creates an empty environment with the default bank config.
func NewEnv(t testing.TB) *Env {
	return NewEnvWithConfig(t, bank.DefaultConfig())
}

// NewEnvWithConfig creates an empty environment.
func NewEnvWithConfig(t testing.TB, cfg bank.Config) *Env {
	db := accounts.NewMemoryDB()
	b, err := bank.New(db, cfg)
	require.NoError(t, err)
	RegisterPrograms(b)

	return &Env{t: t, DB: db, Bank: b}
}

// RegisterPrograms registers the native programs on b.
func RegisterPrograms(b *bank.Bank) {
	b.RegisterProgram(system.ProgramID, system.NewProcessor())
	b.RegisterProgram(token.ProgramID, token.NewProcessor())
	b.RegisterProgram(sale.ProgramID, sale.NewProcessor())
}

// Fund credits a system account directly in the store.
func (e *Env) Fund(key types.Pubkey, lamports uint64) {
	account, err := e.DB.GetAccount(key)
	if err != nil {
		account = &accounts.Account{Owner: types.SystemProgramAddr}
	}
	account.Lamports += lamports
	require.NoError(e.t, e.DB.SetAccount(key, account))
}

// NewWallet returns a funded keypair.
func (e *Env) NewWallet(lamports uint64) types.Keypair {
	kp, err := types.NewKeypair()
	require.NoError(e.t, err)
	if lamports > 0 {
		e.Fund(kp.PublicKey(), lamports)
	}
	return kp
}

// NewTransaction builds and signs a transaction over the latest blockhash.
func (e *Env) NewTransaction(payer types.Keypair, signers []types.Keypair, ixs ...transaction.Instruction) *transaction.Transaction {
	blockhash, _ := e.Bank.LatestBlockhash()
	tx := transaction.NewTransaction(payer.PublicKey(), blockhash, ixs...)
	require.NoError(e.t, tx.Sign(append([]types.Keypair{payer}, signers...)...))
	return &tx
}

// Process submits a transaction paid for by payer.
func (e *Env) Process(payer types.Keypair, signers []types.Keypair, ixs ...transaction.Instruction) (*bank.ExecutionResult, error) {
	return e.Bank.ProcessTransaction(context.Background(), e.NewTransaction(payer, signers, ixs...))
}

// MustProcess submits a transaction and requires it to succeed.
func (e *Env) MustProcess(payer types.Keypair, signers []types.Keypair, ixs ...transaction.Instruction) *bank.ExecutionResult {
	result, err := e.Process(payer, signers, ixs...)
	require.NoError(e.t, err)
	require.NoError(e.t, result.Err, "logs: %v", result.Logs)
	return result
}

// CreateMint creates and initializes a mint controlled by authority.
func (e *Env) CreateMint(authority types.Keypair, decimals uint8) types.Pubkey {
	mint := e.NewWallet(0)
	rent := e.Bank.MinimumBalanceForRentExemption(token.MintSize)

	e.MustProcess(authority, []types.Keypair{mint},
		system.CreateAccount(authority.PublicKey(), mint.PublicKey(), token.ProgramID, rent, token.MintSize),
		token.InitializeMint(mint.PublicKey(), authority.PublicKey(), nil, decimals),
	)
	return mint.PublicKey()
}

// CreateTokenAccount creates and initializes a token account for owner,
// paid for by payer.
func (e *Env) CreateTokenAccount(payer types.Keypair, mint, owner types.Pubkey) types.Pubkey {
	account := e.NewWallet(0)
	rent := e.Bank.MinimumBalanceForRentExemption(token.AccountSize)

	e.MustProcess(payer, []types.Keypair{account},
		system.CreateAccount(payer.PublicKey(), account.PublicKey(), token.ProgramID, rent, token.AccountSize),
		token.InitializeAccount(account.PublicKey(), mint, owner),
	)
	return account.PublicKey()
}

// MintTo mints amount tokens into destination.
func (e *Env) MintTo(authority types.Keypair, mint, destination types.Pubkey, amount uint64) {
	e.MustProcess(authority, nil, token.MintTo(mint, destination, authority.PublicKey(), amount))
}

// Balance returns the committed lamport balance of key.
func (e *Env) Balance(key types.Pubkey) uint64 {
	balance, err := e.Bank.GetBalance(key)
	require.NoError(e.t, err)
	return balance
}

// TokenAccount returns the committed state of a token account.
func (e *Env) TokenAccount(key types.Pubkey) *token.Account {
	account, err := e.Bank.GetAccount(key)
	require.NoError(e.t, err)

	var decoded token.Account
	require.True(e.t, decoded.Unmarshal(account.Data), "%s is not a token account", key)
	return &decoded
}

// TokenBalance returns the committed token amount of a token account.
func (e *Env) TokenBalance(key types.Pubkey) uint64 {
	return e.TokenAccount(key).Amount
}
