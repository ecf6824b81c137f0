package sale_test

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/x1-sale/internal/types"
	"github.com/fortiblox/x1-sale/pkg/bank"
	"github.com/fortiblox/x1-sale/pkg/bank/banktest"
	"github.com/fortiblox/x1-sale/pkg/svm/programs/sale"
	"github.com/fortiblox/x1-sale/pkg/transaction"
)

const vaultSupply = 1_000_000

type saleEnv struct {
	*banktest.Env

	authority types.Keypair
	mint      types.Pubkey
	vault     types.Pubkey
	sale      types.Pubkey
}

func newSaleEnv(t *testing.T) *saleEnv {
	env := banktest.NewEnv(t)

	authority := env.NewWallet(10 * banktest.LamportsPerSol)
	mint := env.CreateMint(authority, 6)
	vault := env.CreateTokenAccount(authority, mint, authority.PublicKey())
	env.MintTo(authority, mint, vault, vaultSupply)

	address, _, err := sale.GetSaleAddress()
	require.NoError(t, err)

	return &saleEnv{
		Env:       env,
		authority: authority,
		mint:      mint,
		vault:     vault,
		sale:      address,
	}
}

func (s *saleEnv) initialize(t *testing.T, args *sale.InitializeInstructionArgs) *bank.ExecutionResult {
	ix := sale.NewInitializeInstruction(&sale.InitializeInstructionAccounts{
		Sale:       s.sale,
		Authority:  s.authority.PublicKey(),
		TokenMint:  s.mint,
		TokenVault: s.vault,
	}, args)

	result, err := s.Process(s.authority, nil, ix)
	require.NoError(t, err)
	return result
}

// buyer is a whitelisted wallet and its token account.
type buyer struct {
	wallet types.Keypair
	tokens types.Pubkey
}

func (s *saleEnv) newBuyer(lamports uint64) buyer {
	wallet := s.NewWallet(lamports)
	return buyer{
		wallet: wallet,
		tokens: s.CreateTokenAccount(wallet, s.mint, wallet.PublicKey()),
	}
}

func (s *saleEnv) buyInstructionAccounts(b buyer) *sale.BuyTokensInstructionAccounts {
	return &sale.BuyTokensInstructionAccounts{
		Sale:              s.sale,
		Buyer:             b.wallet.PublicKey(),
		Authority:         s.authority.PublicKey(),
		TokenVault:        s.vault,
		BuyerTokenAccount: b.tokens,
	}
}

func (s *saleEnv) buyWith(t *testing.T, b buyer, accounts *sale.BuyTokensInstructionAccounts, amount uint64) *bank.ExecutionResult {
	ix := sale.NewBuyTokensInstruction(accounts, &sale.BuyTokensInstructionArgs{Amount: amount})
	result, err := s.Process(b.wallet, nil, ix)
	require.NoError(t, err)
	return result
}

func (s *saleEnv) buy(t *testing.T, b buyer, amount uint64) *bank.ExecutionResult {
	return s.buyWith(t, b, s.buyInstructionAccounts(b), amount)
}

func (s *saleEnv) config(t *testing.T) *sale.SaleConfig {
	account, err := s.Bank.GetAccount(s.sale)
	require.NoError(t, err)
	require.Equal(t, sale.ProgramID, account.Owner)

	config, err := sale.UnmarshalSaleConfig(account.Data)
	require.NoError(t, err)
	return config
}

func requireSaleError(t *testing.T, result *bank.ExecutionResult, expected sale.Error) {
	t.Helper()
	require.Error(t, result.Err, "expected %s", expected.Name())

	actual, ok := sale.AsError(result.Err)
	require.True(t, ok, "not a sale error: %v", result.Err)
	assert.Equal(t, expected, actual, "%v", result.Err)
	assert.Zero(t, result.Fee)
}

func TestInitialize(t *testing.T) {
	s := newSaleEnv(t)
	b := s.newBuyer(banktest.LamportsPerSol)

	authorityBefore := s.Balance(s.authority.PublicKey())
	result := s.initialize(t, &sale.InitializeInstructionArgs{
		Price:              1_000_000,
		MaxTokensPerWallet: 10,
		Whitelist:          []types.Pubkey{b.wallet.PublicKey()},
	})
	require.NoError(t, result.Err, "logs: %v", result.Logs)

	_, bump, err := sale.GetSaleAddress()
	require.NoError(t, err)

	config := s.config(t)
	assert.Equal(t, s.authority.PublicKey(), config.Authority)
	assert.Equal(t, s.mint, config.TokenMint)
	assert.Equal(t, s.vault, config.TokenVault)
	assert.EqualValues(t, 1_000_000, config.Price)
	assert.EqualValues(t, 10, config.MaxTokensPerWallet)
	assert.Equal(t, bump, config.Bump)
	assert.Equal(t, []types.Pubkey{b.wallet.PublicKey()}, config.Whitelist)

	rent := s.Bank.MinimumBalanceForRentExemption(sale.SaleConfigSize)
	assert.Equal(t, rent, s.Balance(s.sale))
	assert.Equal(t, authorityBefore-rent-result.Fee, s.Balance(s.authority.PublicKey()))

	vault := s.TokenAccount(s.vault)
	assert.Equal(t, s.sale, vault.Owner)
	assert.EqualValues(t, vaultSupply, vault.Amount)

	assert.Contains(t, result.Logs, "Program log: Instruction: Initialize")
}

func TestInitialize_Twice(t *testing.T) {
	s := newSaleEnv(t)
	args := &sale.InitializeInstructionArgs{Price: 1, MaxTokensPerWallet: 1}
	require.NoError(t, s.initialize(t, args).Err)

	before := s.config(t)
	result := s.initialize(t, &sale.InitializeInstructionArgs{Price: 2, MaxTokensPerWallet: 2})
	requireSaleError(t, result, sale.ErrAlreadyInitialized)
	assert.Equal(t, before, s.config(t))
}

func TestInitialize_InvalidParameters(t *testing.T) {
	for _, args := range []*sale.InitializeInstructionArgs{
		{Price: 0, MaxTokensPerWallet: 1},
		{Price: 1, MaxTokensPerWallet: 0},
		{Price: 1, MaxTokensPerWallet: 1, Whitelist: make([]types.Pubkey, sale.MaxWhitelistSize+1)},
	} {
		s := newSaleEnv(t)
		requireSaleError(t, s.initialize(t, args), sale.ErrInvalidParameters)

		_, err := s.Bank.GetAccount(s.sale)
		assert.Error(t, err)
		assert.Equal(t, s.authority.PublicKey(), s.TokenAccount(s.vault).Owner)
	}
}

func TestInitialize_FullWhitelist(t *testing.T) {
	s := newSaleEnv(t)

	whitelist := make([]types.Pubkey, sale.MaxWhitelistSize)
	for i := range whitelist {
		whitelist[i] = types.Pubkey{byte(i + 1)}
	}
	require.NoError(t, s.initialize(t, &sale.InitializeInstructionArgs{Price: 1, MaxTokensPerWallet: 1, Whitelist: whitelist}).Err)
	assert.Equal(t, whitelist, s.config(t).Whitelist)
}

func TestBuyTokens(t *testing.T) {
	s := newSaleEnv(t)
	b := s.newBuyer(10 * banktest.LamportsPerSol)
	c := s.newBuyer(10 * banktest.LamportsPerSol)

	require.NoError(t, s.initialize(t, &sale.InitializeInstructionArgs{
		Price:              1_000_000,
		MaxTokensPerWallet: 10,
		Whitelist:          []types.Pubkey{b.wallet.PublicKey()},
	}).Err)

	authorityBefore := s.Balance(s.authority.PublicKey())
	buyerBefore := s.Balance(b.wallet.PublicKey())

	result := s.buy(t, b, 5)
	require.NoError(t, result.Err, "logs: %v", result.Logs)
	assert.Contains(t, result.Logs, "Program log: Sold 5 tokens for 5000000 lamports")

	assert.EqualValues(t, vaultSupply-5, s.TokenBalance(s.vault))
	assert.EqualValues(t, 5, s.TokenBalance(b.tokens))
	assert.Equal(t, authorityBefore+5_000_000, s.Balance(s.authority.PublicKey()))
	assert.Equal(t, buyerBefore-5_000_000-result.Fee, s.Balance(b.wallet.PublicKey()))

	// The cap applies to the balance the wallet reached through the sale.
	requireSaleError(t, s.buy(t, b, 6), sale.ErrExceedsMaxPerWallet)
	require.NoError(t, s.buy(t, b, 5).Err)
	assert.EqualValues(t, 10, s.TokenBalance(b.tokens))
	requireSaleError(t, s.buy(t, b, 1), sale.ErrExceedsMaxPerWallet)

	requireSaleError(t, s.buy(t, c, 1), sale.ErrNotWhitelisted)
	assert.Zero(t, s.TokenBalance(c.tokens))
}

func TestBuyTokens_Failures(t *testing.T) {
	for _, tc := range []struct {
		name     string
		args     sale.InitializeInstructionArgs
		supply   uint64
		lamports uint64
		amount   uint64
		expected sale.Error
	}{
		{
			name:     "zero amount",
			args:     sale.InitializeInstructionArgs{Price: 1_000_000, MaxTokensPerWallet: 10},
			lamports: banktest.LamportsPerSol,
			amount:   0,
			expected: sale.ErrInvalidAmount,
		},
		{
			name:     "price overflow",
			args:     sale.InitializeInstructionArgs{Price: math.MaxUint64/2 + 1, MaxTokensPerWallet: math.MaxUint64},
			lamports: banktest.LamportsPerSol,
			amount:   2,
			expected: sale.ErrArithmeticOverflow,
		},
		{
			name:     "vault supply",
			args:     sale.InitializeInstructionArgs{Price: 1, MaxTokensPerWallet: math.MaxUint64},
			lamports: banktest.LamportsPerSol,
			amount:   vaultSupply + 1,
			expected: sale.ErrInsufficientVaultSupply,
		},
		{
			name:     "buyer cannot pay",
			args:     sale.InitializeInstructionArgs{Price: 1_000_000, MaxTokensPerWallet: 10},
			lamports: 3 * banktest.LamportsPerSol / 1000,
			amount:   5,
			expected: sale.ErrInsufficientFunds,
		},
		{
			name:     "buyer would drop below rent exemption",
			args:     sale.InitializeInstructionArgs{Price: 1_000_000, MaxTokensPerWallet: 10},
			lamports: 7_500_000,
			amount:   5,
			expected: sale.ErrInsufficientFunds,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			s := newSaleEnv(t)
			b := s.newBuyer(tc.lamports)

			args := tc.args
			args.Whitelist = []types.Pubkey{b.wallet.PublicKey()}
			require.NoError(t, s.initialize(t, &args).Err)

			authorityBefore := s.Balance(s.authority.PublicKey())
			buyerBefore := s.Balance(b.wallet.PublicKey())
			slot := s.Bank.Slot()

			result := s.buy(t, b, tc.amount)
			requireSaleError(t, result, tc.expected)

			assert.Equal(t, slot, s.Bank.Slot())
			assert.Equal(t, authorityBefore, s.Balance(s.authority.PublicKey()))
			assert.Equal(t, buyerBefore, s.Balance(b.wallet.PublicKey()))
			assert.EqualValues(t, vaultSupply, s.TokenBalance(s.vault))
			assert.Zero(t, s.TokenBalance(b.tokens))
		})
	}
}

func TestBuyTokens_AccountMismatch(t *testing.T) {
	s := newSaleEnv(t)
	b := s.newBuyer(banktest.LamportsPerSol)
	other := s.newBuyer(banktest.LamportsPerSol)

	require.NoError(t, s.initialize(t, &sale.InitializeInstructionArgs{
		Price:              1,
		MaxTokensPerWallet: 10,
		Whitelist:          []types.Pubkey{b.wallet.PublicKey(), other.wallet.PublicKey()},
	}).Err)

	otherMint := s.CreateMint(s.authority, 6)
	foreignMintTokens := s.CreateTokenAccount(b.wallet, otherMint, b.wallet.PublicKey())

	for _, tc := range []struct {
		name   string
		modify func(a *sale.BuyTokensInstructionAccounts)
	}{
		{
			name:   "sale",
			modify: func(a *sale.BuyTokensInstructionAccounts) { a.Sale = s.vault },
		},
		{
			name:   "authority",
			modify: func(a *sale.BuyTokensInstructionAccounts) { a.Authority = other.wallet.PublicKey() },
		},
		{
			name:   "vault",
			modify: func(a *sale.BuyTokensInstructionAccounts) { a.TokenVault = other.tokens },
		},
		{
			name:   "buyer token account of another wallet",
			modify: func(a *sale.BuyTokensInstructionAccounts) { a.BuyerTokenAccount = other.tokens },
		},
		{
			name:   "buyer token account of another mint",
			modify: func(a *sale.BuyTokensInstructionAccounts) { a.BuyerTokenAccount = foreignMintTokens },
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			accounts := s.buyInstructionAccounts(b)
			tc.modify(accounts)

			before := s.Balance(b.wallet.PublicKey())
			requireSaleError(t, s.buyWith(t, b, accounts, 1), sale.ErrAccountMismatch)
			assert.Equal(t, before, s.Balance(b.wallet.PublicKey()))
		})
	}

	assert.EqualValues(t, vaultSupply, s.TokenBalance(s.vault))
}

func TestBuyTokens_DuplicateWhitelistEntries(t *testing.T) {
	s := newSaleEnv(t)
	b := s.newBuyer(banktest.LamportsPerSol)
	key := b.wallet.PublicKey()

	require.NoError(t, s.initialize(t, &sale.InitializeInstructionArgs{
		Price:              1,
		MaxTokensPerWallet: 3,
		Whitelist:          []types.Pubkey{key, key},
	}).Err)

	require.NoError(t, s.buy(t, b, 3).Err)
	requireSaleError(t, s.buy(t, b, 1), sale.ErrExceedsMaxPerWallet)
}

func TestBuyTokens_Concurrent(t *testing.T) {
	s := newSaleEnv(t)

	// Ten buyers each try to buy a tenth of the supply plus one.
	const perBuyer = vaultSupply/sale.MaxWhitelistSize + 1

	buyers := make([]buyer, sale.MaxWhitelistSize)
	whitelist := make([]types.Pubkey, len(buyers))
	for i := range buyers {
		buyers[i] = s.newBuyer(banktest.LamportsPerSol)
		whitelist[i] = buyers[i].wallet.PublicKey()
	}
	require.NoError(t, s.initialize(t, &sale.InitializeInstructionArgs{
		Price:              1,
		MaxTokensPerWallet: perBuyer,
		Whitelist:          whitelist,
	}).Err)

	ctx := context.Background()
	results := make([]*bank.ExecutionResult, len(buyers))
	var wg sync.WaitGroup
	for i, b := range buyers {
		ix := sale.NewBuyTokensInstruction(s.buyInstructionAccounts(b), &sale.BuyTokensInstructionArgs{Amount: perBuyer})
		tx := s.NewTransaction(b.wallet, nil, ix)

		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := s.Bank.ProcessTransaction(ctx, tx)
			if assert.NoError(t, err) {
				results[i] = result
			}
		}(i)
	}
	wg.Wait()

	var succeeded int
	var sold uint64
	for i, result := range results {
		require.NotNil(t, result)
		if result.Err == nil {
			succeeded++
			sold += s.TokenBalance(buyers[i].tokens)
			continue
		}
		code, ok := sale.AsError(result.Err)
		require.True(t, ok)
		assert.Equal(t, sale.ErrInsufficientVaultSupply, code)
		assert.Zero(t, s.TokenBalance(buyers[i].tokens))
	}

	assert.Equal(t, sale.MaxWhitelistSize-1, succeeded)
	assert.EqualValues(t, succeeded*perBuyer, sold)
	assert.Equal(t, vaultSupply-sold, s.TokenBalance(s.vault))
}

func TestBuyTokens_ConcurrentSingleBuyer(t *testing.T) {
	s := newSaleEnv(t)
	b := s.newBuyer(banktest.LamportsPerSol)

	require.NoError(t, s.initialize(t, &sale.InitializeInstructionArgs{
		Price:              1_000,
		MaxTokensPerWallet: 10,
		Whitelist:          []types.Pubkey{b.wallet.PublicKey()},
	}).Err)

	// Each purchase is paid for by its own fee payer so that every
	// transaction carries a distinct signature.
	const attempts = 8
	txs := make([]*transaction.Transaction, attempts)
	for i := range txs {
		payer := s.NewWallet(banktest.LamportsPerSol)
		ix := sale.NewBuyTokensInstruction(s.buyInstructionAccounts(b), &sale.BuyTokensInstructionArgs{Amount: 3})
		txs[i] = s.NewTransaction(payer, []types.Keypair{b.wallet}, ix)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for _, tx := range txs {
		wg.Add(1)
		go func(tx *transaction.Transaction) {
			defer wg.Done()
			result, err := s.Bank.ProcessTransaction(context.Background(), tx)
			if !assert.NoError(t, err) {
				return
			}
			if result.Err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			code, _ := sale.AsError(result.Err)
			assert.Equal(t, sale.ErrExceedsMaxPerWallet, code)
		}(tx)
	}
	wg.Wait()

	assert.Equal(t, 3, succeeded)
	assert.EqualValues(t, 9, s.TokenBalance(b.tokens))
	assert.EqualValues(t, vaultSupply-9, s.TokenBalance(s.vault))
}
