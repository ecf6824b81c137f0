package bank

import (
	"testing"

	"github.com/fortiblox/x1-sale/internal/types"
	"github.com/fortiblox/x1-sale/pkg/accounts"
)

func TestComputeBankHash(t *testing.T) {
	info := &BankHashInfo{
		ParentBankHash:    types.Hash{1, 2, 3, 4, 5, 6, 7, 8},
		AccountsDeltaHash: types.Hash{8, 7, 6, 5, 4, 3, 2, 1},
		SignatureCount:    100,
		LastBlockhash:     types.Hash{1, 1, 1, 1, 2, 2, 2, 2},
	}

	hash := ComputeBankHash(info)
	if hash.IsZero() {
		t.Fatal("ComputeBankHash returned zero hash")
	}
	if hash != ComputeBankHash(info) {
		t.Error("ComputeBankHash is not deterministic")
	}

	for name, modify := range map[string]func(*BankHashInfo){
		"parent":     func(i *BankHashInfo) { i.ParentBankHash[0]++ },
		"delta":      func(i *BankHashInfo) { i.AccountsDeltaHash[0]++ },
		"signatures": func(i *BankHashInfo) { i.SignatureCount++ },
		"blockhash":  func(i *BankHashInfo) { i.LastBlockhash[0]++ },
	} {
		changed := *info
		modify(&changed)
		if ComputeBankHash(&changed) == hash {
			t.Errorf("changing %s should change the bank hash", name)
		}
	}
}

func TestVerifyBankHash(t *testing.T) {
	info := &BankHashInfo{
		ParentBankHash:    types.Hash{1, 2, 3},
		AccountsDeltaHash: types.Hash{4, 5, 6},
		SignatureCount:    50,
		LastBlockhash:     types.Hash{7, 8, 9},
	}

	if !VerifyBankHash(ComputeBankHash(info), info) {
		t.Error("VerifyBankHash should accept the computed hash")
	}
	if VerifyBankHash(types.Hash{1}, info) {
		t.Error("VerifyBankHash should reject a different hash")
	}
}

func TestSlotHashes(t *testing.T) {
	batch := &accounts.Batch{Slot: 7}
	batch.Put(types.Pubkey{1}, &accounts.Account{Lamports: 10, Owner: types.SystemProgramAddr})

	parent := types.Hash{9}
	prevBlockhash := types.Hash{3}
	bankHash, blockhash := slotHashes(parent, prevBlockhash, batch, 2)

	delta := accounts.DeltaHash(batch)
	if blockhash != nextBlockhash(prevBlockhash, 7, delta) {
		t.Error("blockhash does not chain from the previous blockhash")
	}
	expected := &BankHashInfo{
		ParentBankHash:    parent,
		AccountsDeltaHash: delta,
		SignatureCount:    2,
		LastBlockhash:     blockhash,
	}
	if !VerifyBankHash(bankHash, expected) {
		t.Error("bank hash does not match its components")
	}
}
