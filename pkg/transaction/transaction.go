package transaction

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/fortiblox/x1-sale/internal/types"
)

// MaxTransactionSize is the largest accepted wire transaction.
const MaxTransactionSize = 1232

var (
	// ErrSignatureFailure is returned when a signature does not verify.
	ErrSignatureFailure = errors.New("transaction signature verification failure")

	// ErrMissingSignature is returned when a required signature is empty.
	ErrMissingSignature = errors.New("transaction is missing a required signature")
)

// Header counts the signer and readonly sections of the account list.
type Header struct {
	NumSignatures     byte
	NumReadonlySigned byte
	NumReadOnly       byte
}

// Message is the signed part of a transaction.
type Message struct {
	Header          Header
	Accounts        []types.Pubkey
	RecentBlockhash types.Hash
	Instructions    []CompiledInstruction
}

// Transaction is a signed message.
type Transaction struct {
	Signatures []types.Signature
	Message    Message
}

// NewTransaction compiles instructions into an unsigned transaction paid
// for by payer.
func NewTransaction(payer types.Pubkey, blockhash types.Hash, instructions ...Instruction) Transaction {
	accounts := []AccountMeta{
		{
			PublicKey:  payer,
			IsSigner:   true,
			IsWritable: true,
			isPayer:    true,
		},
	}

	for _, i := range instructions {
		accounts = append(accounts, AccountMeta{
			PublicKey: i.Program,
			isProgram: true,
		})
		accounts = append(accounts, i.Accounts...)
	}

	accounts = filterUnique(accounts)
	sort.Sort(SortableAccountMeta(accounts))

	m := Message{RecentBlockhash: blockhash}
	for _, account := range accounts {
		m.Accounts = append(m.Accounts, account.PublicKey)

		if account.IsSigner {
			m.Header.NumSignatures++
			if !account.IsWritable {
				m.Header.NumReadonlySigned++
			}
		} else if !account.IsWritable {
			m.Header.NumReadOnly++
		}
	}

	for _, i := range instructions {
		c := CompiledInstruction{
			ProgramIndex: byte(indexOf(m.Accounts, i.Program)),
			Data:         i.Data,
		}
		for _, a := range i.Accounts {
			c.Accounts = append(c.Accounts, byte(indexOf(m.Accounts, a.PublicKey)))
		}
		m.Instructions = append(m.Instructions, c)
	}

	return Transaction{
		Signatures: make([]types.Signature, m.Header.NumSignatures),
		Message:    m,
	}
}

// Signature returns the first signature, which identifies the transaction.
func (t *Transaction) Signature() types.Signature {
	if len(t.Signatures) == 0 {
		return types.Signature{}
	}
	return t.Signatures[0]
}

// FeePayer returns the account charged for the transaction.
func (t *Transaction) FeePayer() types.Pubkey {
	if len(t.Message.Accounts) == 0 {
		return types.Pubkey{}
	}
	return t.Message.Accounts[0]
}

// Sign signs the message with every given keypair. Each signer must be one of
// the message's signing accounts.
func (t *Transaction) Sign(signers ...types.Keypair) error {
	messageBytes := t.Message.Marshal()

	for _, s := range signers {
		pub := s.PublicKey()
		index := indexOf(t.Message.Accounts, pub)
		if index < 0 {
			return errors.Errorf("signing account %s is not in the account list", pub)
		}
		if index >= len(t.Signatures) {
			return errors.Errorf("signing account %s is not in the list of signers", pub)
		}
		t.Signatures[index] = s.Sign(messageBytes)
	}

	return nil
}

// VerifySignatures checks every signature against its signing account.
func (t *Transaction) VerifySignatures() error {
	if len(t.Signatures) != int(t.Message.Header.NumSignatures) {
		return errors.Errorf("expected %d signatures, got %d", t.Message.Header.NumSignatures, len(t.Signatures))
	}
	if len(t.Signatures) > len(t.Message.Accounts) {
		return errors.New("more signatures than accounts")
	}

	messageBytes := t.Message.Marshal()
	for i, sig := range t.Signatures {
		if sig.IsZero() {
			return errors.Wrapf(ErrMissingSignature, "signer %s", t.Message.Accounts[i])
		}
		if !sig.Verify(t.Message.Accounts[i], messageBytes) {
			return errors.Wrapf(ErrSignatureFailure, "signer %s", t.Message.Accounts[i])
		}
	}
	return nil
}

// IsSigner reports whether the account at index must sign.
func (m *Message) IsSigner(index int) bool {
	return index < int(m.Header.NumSignatures)
}

// IsWritable reports whether the account at index may be modified.
func (m *Message) IsWritable(index int) bool {
	numSigners := int(m.Header.NumSignatures)
	if index < numSigners {
		return index < numSigners-int(m.Header.NumReadonlySigned)
	}
	return index < len(m.Accounts)-int(m.Header.NumReadOnly)
}

func filterUnique(accounts []AccountMeta) []AccountMeta {
	filtered := make([]AccountMeta, 0, len(accounts))

	for i := range accounts {
		found := false
		for j := range filtered {
			if accounts[i].PublicKey != filtered[j].PublicKey {
				continue
			}
			// Promote the permissions of an account seen more than once.
			if accounts[i].IsSigner {
				filtered[j].IsSigner = true
			}
			if accounts[i].IsWritable {
				filtered[j].IsWritable = true
			}
			if accounts[i].isPayer {
				filtered[j].isPayer = true
			}
			if !accounts[i].isProgram {
				filtered[j].isProgram = false
			}
			found = true
			break
		}
		if !found {
			filtered = append(filtered, accounts[i])
		}
	}

	return filtered
}

func indexOf(slice []types.Pubkey, item types.Pubkey) int {
	for i, val := range slice {
		if val == item {
			return i
		}
	}
	return -1
}
