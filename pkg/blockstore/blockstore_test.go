package blockstore

import (
	"path/filepath"
	"testing"

	"github.com/fortiblox/x1-sale/internal/types"
	"github.com/fortiblox/x1-sale/pkg/bank/banktest"
	"github.com/fortiblox/x1-sale/pkg/svm/programs/sale"
	"github.com/fortiblox/x1-sale/pkg/svm/programs/system"
	"github.com/fortiblox/x1-sale/pkg/transaction"
)

func openTestStore(t *testing.T) *BoltStore {
	t.Helper()

	config := DefaultConfig(filepath.Join(t.TempDir(), "journal.db"))
	config.PruneEnabled = false

	store, err := Open(config)
	if err != nil {
		t.Fatalf("failed to open blockstore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testRecord(sig byte, slot uint64, accounts ...types.Pubkey) *TransactionRecord {
	return &TransactionRecord{
		Signature:   types.Signature{sig},
		Slot:        slot,
		BlockTime:   1700000000,
		Accounts:    accounts,
		Success:     true,
		Fee:         5000,
		LogMessages: []string{"Program log: Hello"},
	}
}

func TestBlockstore(t *testing.T) {
	store := openTestStore(t)
	alice := types.Pubkey{1}
	bob := types.Pubkey{2}

	for _, record := range []*TransactionRecord{
		testRecord(1, 1, alice, bob),
		testRecord(2, 2, alice),
		testRecord(3, 2, bob),
		testRecord(4, 3, alice),
	} {
		if err := store.PutTransaction(record); err != nil {
			t.Fatalf("failed to put transaction: %v", err)
		}
	}

	t.Run("GetTransaction", func(t *testing.T) {
		record, err := store.GetTransaction(types.Signature{2})
		if err != nil {
			t.Fatalf("failed to get transaction: %v", err)
		}
		if record.Slot != 2 || record.Fee != 5000 {
			t.Errorf("unexpected record: %+v", record)
		}
		if len(record.LogMessages) != 1 || record.LogMessages[0] != "Program log: Hello" {
			t.Errorf("unexpected logs: %v", record.LogMessages)
		}

		if _, err := store.GetTransaction(types.Signature{9}); err != ErrTransactionNotFound {
			t.Errorf("expected ErrTransactionNotFound, got %v", err)
		}
	})

	t.Run("GetTransactionsInSlot", func(t *testing.T) {
		records, err := store.GetTransactionsInSlot(2)
		if err != nil {
			t.Fatalf("failed to get slot: %v", err)
		}
		if len(records) != 2 {
			t.Fatalf("expected 2 records, got %d", len(records))
		}
	})

	t.Run("GetSignaturesForAddress", func(t *testing.T) {
		sigs, err := store.GetSignaturesForAddress(alice, nil)
		if err != nil {
			t.Fatalf("failed to get signatures: %v", err)
		}
		if len(sigs) != 3 {
			t.Fatalf("expected 3 signatures, got %d", len(sigs))
		}
		for i, expected := range []byte{4, 2, 1} {
			if sigs[i].Signature != (types.Signature{expected}) {
				t.Errorf("signature %d: expected %d, got %v", i, expected, sigs[i].Signature)
			}
		}

		before := types.Signature{4}
		sigs, err = store.GetSignaturesForAddress(alice, &SignatureQueryOptions{Before: &before, Limit: 1})
		if err != nil {
			t.Fatalf("failed to get signatures: %v", err)
		}
		if len(sigs) != 1 || sigs[0].Signature != (types.Signature{2}) {
			t.Errorf("expected [2], got %v", sigs)
		}

		until := types.Signature{1}
		sigs, err = store.GetSignaturesForAddress(alice, &SignatureQueryOptions{Until: &until})
		if err != nil {
			t.Fatalf("failed to get signatures: %v", err)
		}
		if len(sigs) != 2 {
			t.Errorf("expected 2 signatures, got %d", len(sigs))
		}

		sigs, err = store.GetSignaturesForAddress(types.Pubkey{3}, nil)
		if err != nil || len(sigs) != 0 {
			t.Errorf("expected no signatures, got %v, %v", sigs, err)
		}
	})

	t.Run("Duplicate", func(t *testing.T) {
		if err := store.PutTransaction(testRecord(1, 1, alice)); err != nil {
			t.Fatalf("failed to put transaction: %v", err)
		}
		stats, err := store.GetStats()
		if err != nil {
			t.Fatalf("failed to get stats: %v", err)
		}
		if stats.TransactionCount != 4 {
			t.Errorf("expected 4 transactions, got %d", stats.TransactionCount)
		}
		if stats.LatestSlot != 3 {
			t.Errorf("expected latest slot 3, got %d", stats.LatestSlot)
		}
	})

	t.Run("Prune", func(t *testing.T) {
		pruned, err := store.Prune(1)
		if err != nil {
			t.Fatalf("failed to prune: %v", err)
		}
		if pruned != 1 {
			t.Errorf("expected 1 pruned record, got %d", pruned)
		}
		if _, err := store.GetTransaction(types.Signature{1}); err != ErrTransactionNotFound {
			t.Errorf("expected pruned transaction to be gone, got %v", err)
		}
		sigs, _ := store.GetSignaturesForAddress(bob, nil)
		if len(sigs) != 1 {
			t.Errorf("expected 1 signature for bob, got %d", len(sigs))
		}
		if store.GetOldestSlot() != 2 {
			t.Errorf("expected oldest slot 2, got %d", store.GetOldestSlot())
		}
	})
}

func TestBlockstore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	config := DefaultConfig(path)
	config.PruneEnabled = false

	store, err := Open(config)
	if err != nil {
		t.Fatalf("failed to open blockstore: %v", err)
	}
	if err := store.PutTransaction(testRecord(1, 7)); err != nil {
		t.Fatalf("failed to put transaction: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("failed to close: %v", err)
	}
	if err := store.PutTransaction(testRecord(2, 8)); err != ErrClosed {
		t.Errorf("expected ErrClosed, got %v", err)
	}

	store, err = Open(config)
	if err != nil {
		t.Fatalf("failed to reopen blockstore: %v", err)
	}
	defer store.Close()

	if store.GetLatestSlot() != 7 {
		t.Errorf("expected latest slot 7, got %d", store.GetLatestSlot())
	}
	if _, err := store.GetTransaction(types.Signature{1}); err != nil {
		t.Errorf("failed to get transaction after reopen: %v", err)
	}
}

func TestBlockstore_JournalsBank(t *testing.T) {
	store := openTestStore(t)
	env := banktest.NewEnv(t)
	env.Bank.AddListener(store)

	payer := env.NewWallet(banktest.LamportsPerSol)
	recipient := types.Pubkey{42}

	committed := env.MustProcess(payer, nil, system.Transfer(payer.PublicKey(), recipient, banktest.LamportsPerSol/2))

	// A BuyTokens against a sale that does not exist fails with a custom
	// error code.
	address, _, err := sale.GetSaleAddress()
	if err != nil {
		t.Fatal(err)
	}
	ix := sale.NewBuyTokensInstruction(&sale.BuyTokensInstructionAccounts{
		Sale:              address,
		Buyer:             payer.PublicKey(),
		Authority:         recipient,
		TokenVault:        types.Pubkey{43},
		BuyerTokenAccount: types.Pubkey{44},
	}, &sale.BuyTokensInstructionArgs{Amount: 1})
	failed, err := env.Process(payer, nil, system.Transfer(payer.PublicKey(), payer.PublicKey(), 0), ix)
	if err != nil {
		t.Fatal(err)
	}
	if failed.Err == nil {
		t.Fatal("expected the purchase to fail")
	}

	record, err := store.GetTransaction(committed.Signature)
	if err != nil {
		t.Fatalf("committed transaction not journaled: %v", err)
	}
	if !record.Success || record.Slot != 1 || record.Fee != 5000 {
		t.Errorf("unexpected committed record: %+v", record)
	}
	var decoded transaction.Transaction
	if err := decoded.Unmarshal(record.Transaction); err != nil {
		t.Errorf("journaled transaction does not decode: %v", err)
	}

	record, err = store.GetTransaction(failed.Signature)
	if err != nil {
		t.Fatalf("failed transaction not journaled: %v", err)
	}
	if record.Success || record.Fee != 0 || record.Slot != 1 {
		t.Errorf("unexpected failed record: %+v", record)
	}
	if record.InstructionIndex == nil || *record.InstructionIndex != 1 {
		t.Errorf("expected instruction index 1, got %v", record.InstructionIndex)
	}
	if record.CustomCode == nil || *record.CustomCode != sale.ErrAccountMismatch.Code() {
		t.Errorf("expected code %d, got %v", sale.ErrAccountMismatch.Code(), record.CustomCode)
	}

	sigs, err := store.GetSignaturesForAddress(payer.PublicKey(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(sigs) != 2 {
		t.Errorf("expected 2 signatures for the payer, got %d", len(sigs))
	}
}
