// Package bank implements the local ledger that executes transactions.
//
// The bank is responsible for:
//   - Verifying and deduplicating submitted transactions
//   - Serializing transactions that touch the same accounts
//   - Executing instructions through the registered native programs
//   - Committing every change of a successful transaction atomically
//   - Advancing the slot, bank hash and recent blockhashes
//
// A transaction either commits all of its account changes, its fee
// included, or none of them. Transactions over disjoint accounts run in
// parallel; commits are serialized so that slots are assigned in commit
// order.
package bank

import (
	"context"
	"encoding/binary"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/fortiblox/x1-sale/internal/types"
	"github.com/fortiblox/x1-sale/pkg/accounts"
	"github.com/fortiblox/x1-sale/pkg/svm"
	"github.com/fortiblox/x1-sale/pkg/transaction"
)

// Config holds bank configuration.
type Config struct {
	// LamportsPerSignature is the fee charged per transaction signature.
	LamportsPerSignature uint64

	// ComputeUnitLimit is the compute budget of a transaction.
	ComputeUnitLimit uint64

	// MaxBlockhashAge is the number of recent blockhashes a transaction
	// may reference.
	MaxBlockhashAge int

	// Rent sets the rent exemption parameters.
	Rent svm.Rent
}

// DefaultConfig returns the default bank configuration.
func DefaultConfig() Config {
	return Config{
		LamportsPerSignature: 5000,
		ComputeUnitLimit:     svm.CUDefault,
		MaxBlockhashAge:      DefaultMaxBlockhashAge,
		Rent:                 svm.DefaultRent,
	}
}

// Listener receives the status of every executed transaction. Listeners
// are called in slot order for committed transactions and may be called
// concurrently for failed ones.
type Listener interface {
	OnTransaction(status *TransactionStatus)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(status *TransactionStatus)

// OnTransaction implements Listener.
func (f ListenerFunc) OnTransaction(status *TransactionStatus) {
	f(status)
}

// Stats are counters over the bank's lifetime.
type Stats struct {
	Slot                  uint64
	TransactionsProcessed uint64
	TransactionsFailed    uint64
	SignatureCount        uint64
	FeesCollected         uint64
}

// Bank executes transactions against an account store.
type Bank struct {
	log *logrus.Entry
	cfg Config
	db  accounts.DB

	programsMu sync.RWMutex
	programs   map[types.Pubkey]svm.Program

	locks    *AccountLocks
	statuses *statusCache

	// commitMu serializes commits and committed notifications.
	commitMu sync.Mutex

	mu          sync.RWMutex
	slot        uint64
	bankHash    types.Hash
	blockhashes *blockhashQueue

	listenersMu sync.RWMutex
	listeners   []Listener

	processed      atomic.Uint64
	failed         atomic.Uint64
	signatureCount atomic.Uint64
	fees           atomic.Uint64
	closed         atomic.Bool
}

// New creates a bank over db. The initial bank hash is the state hash of
// db, which also seeds the first blockhash.
func New(db accounts.DB, cfg Config) (*Bank, error) {
	if cfg.ComputeUnitLimit == 0 {
		cfg.ComputeUnitLimit = svm.CUDefault
	}
	if cfg.ComputeUnitLimit > svm.CUMax {
		cfg.ComputeUnitLimit = svm.CUMax
	}
	if cfg.Rent.LamportsPerByteYear == 0 {
		cfg.Rent = svm.DefaultRent
	}

	stateHash, err := accounts.StateHash(db)
	if err != nil {
		return nil, errors.Wrap(err, "failed to compute state hash")
	}

	b := &Bank{
		log:         logrus.StandardLogger().WithField("type", "bank"),
		cfg:         cfg,
		db:          db,
		programs:    make(map[types.Pubkey]svm.Program),
		locks:       NewAccountLocks(),
		statuses:    newStatusCache(),
		slot:        db.GetSlot(),
		bankHash:    stateHash,
		blockhashes: newBlockhashQueue(cfg.MaxBlockhashAge),
	}

	var seed [8]byte
	binary.LittleEndian.PutUint64(seed[:], b.slot)
	b.blockhashes.register(nextBlockhash(types.ComputeHash(seed[:]), b.slot, stateHash), b.slot)

	b.log.WithFields(logrus.Fields{
		"slot":       b.slot,
		"state_hash": stateHash.String(),
	}).Info("bank opened")

	return b, nil
}

// RegisterProgram makes program executable at id.
func (b *Bank) RegisterProgram(id types.Pubkey, program svm.Program) {
	b.programsMu.Lock()
	defer b.programsMu.Unlock()
	b.programs[id] = program
}

// AddListener registers l for transaction statuses.
func (b *Bank) AddListener(l Listener) {
	b.listenersMu.Lock()
	defer b.listenersMu.Unlock()
	b.listeners = append(b.listeners, l)
}

// ProcessTransaction verifies, executes and, on success, commits tx.
//
// A non-nil error means the transaction was rejected: it did not execute
// and left no record. Otherwise the result reports whether execution
// succeeded; a failed transaction changes no account.
func (b *Bank) ProcessTransaction(ctx context.Context, tx *transaction.Transaction) (*ExecutionResult, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}
	if err := sanitize(tx); err != nil {
		return nil, err
	}
	if err := tx.VerifySignatures(); err != nil {
		return nil, err
	}

	sig := tx.Signature()
	if err := b.checkAge(tx); err != nil {
		return nil, err
	}

	writable, readonly := lockKeys(tx)
	if err := b.locks.Lock(ctx, writable, readonly); err != nil {
		return nil, errors.Wrap(err, "failed to lock accounts")
	}
	defer b.locks.Unlock(writable, readonly)

	// A duplicate may have executed, or the blockhash expired, while this
	// transaction waited for its locks.
	if err := b.checkAge(tx); err != nil {
		return nil, err
	}

	result, batch, err := b.execute(tx)
	if err != nil {
		return nil, err
	}

	log := b.log.WithField("signature", sig.String())
	status := &TransactionStatus{
		Transaction: tx,
		Result:      result,
		BlockTime:   time.Now().Unix(),
	}

	if result.Err != nil {
		result.Slot = b.Slot()
		b.statuses.insert(sig, tx.Message.RecentBlockhash, result.Slot)
		b.failed.Add(1)

		log.WithError(result.Err).Debug("transaction failed")
		b.notify(status)
		return result, nil
	}

	b.commitMu.Lock()
	defer b.commitMu.Unlock()

	if err := b.commit(tx, batch, result); err != nil {
		return nil, err
	}
	status.Updates = batch.Updates

	log.WithFields(logrus.Fields{
		"slot":          result.Slot,
		"compute_units": result.ComputeUnitsConsumed,
	}).Debug("transaction committed")
	b.notify(status)
	return result, nil
}

// SimulateTransaction executes tx without committing. Signatures are only
// verified when verifySignatures is set.
func (b *Bank) SimulateTransaction(ctx context.Context, tx *transaction.Transaction, verifySignatures bool) (*ExecutionResult, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}
	if err := sanitize(tx); err != nil {
		return nil, err
	}
	if verifySignatures {
		if err := tx.VerifySignatures(); err != nil {
			return nil, err
		}
	}

	writable, readonly := lockKeys(tx)
	if err := b.locks.Lock(ctx, writable, readonly); err != nil {
		return nil, errors.Wrap(err, "failed to lock accounts")
	}
	defer b.locks.Unlock(writable, readonly)

	result, _, err := b.execute(tx)
	if err != nil {
		return nil, err
	}
	result.Slot = b.Slot()
	return result, nil
}

func (b *Bank) checkAge(tx *transaction.Transaction) error {
	if b.statuses.contains(tx.Signature()) {
		return errors.Wrapf(ErrAlreadyProcessed, "%s", tx.Signature())
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.blockhashes.contains(tx.Message.RecentBlockhash) {
		return errors.Wrapf(ErrBlockhashNotFound, "%s", tx.Message.RecentBlockhash)
	}
	return nil
}

// execute runs tx against a working copy of its accounts. It returns the
// batch of writes to commit when execution succeeded.
func (b *Bank) execute(tx *transaction.Transaction) (*ExecutionResult, *accounts.Batch, error) {
	msg := &tx.Message

	b.programsMu.RLock()
	programs := make(map[types.Pubkey]svm.Program, len(b.programs))
	for id, p := range b.programs {
		programs[id] = p
	}
	b.programsMu.RUnlock()

	tc := &txContext{
		log:      b.log.WithField("signature", tx.Signature().String()),
		programs: programs,
		rent:     b.cfg.Rent,
		accounts: make([]*txAccount, len(msg.Accounts)),
		meter:    svm.NewComputeMeter(b.cfg.ComputeUnitLimit),
	}

	original := make([]*accounts.Account, len(msg.Accounts))
	result := &ExecutionResult{
		Signature:    tx.Signature(),
		PreBalances:  make([]uint64, len(msg.Accounts)),
		PostBalances: make([]uint64, len(msg.Accounts)),
	}

	for i, key := range msg.Accounts {
		account, err := b.loadAccount(key)
		if err != nil {
			return nil, nil, err
		}
		original[i] = account
		tc.accounts[i] = &txAccount{
			key:      key,
			account:  account.Clone(),
			signer:   msg.IsSigner(i),
			writable: msg.IsWritable(i),
		}
		result.PreBalances[i] = account.Lamports
	}

	fee := b.cfg.LamportsPerSignature * uint64(len(tx.Signatures))
	payer := tc.accounts[0].account
	if payer.Owner != types.SystemProgramAddr || len(payer.Data) > 0 {
		return nil, nil, errors.Wrapf(ErrInvalidFeePayer, "%s", tx.FeePayer())
	}
	if payer.Lamports == 0 {
		return nil, nil, errors.Wrapf(ErrAccountNotFound, "fee payer %s", tx.FeePayer())
	}
	if payer.Lamports < fee {
		return nil, nil, errors.Wrapf(ErrInsufficientFundsForFee, "fee payer %s has %d lamports, fee is %d", tx.FeePayer(), payer.Lamports, fee)
	}
	payer.Lamports -= fee

	result.Err = b.executeInstructions(tc, msg)
	if result.Err == nil {
		result.Err = b.checkRent(tc, original)
	}
	result.Logs = tc.logs
	result.ComputeUnitsConsumed = tc.meter.Consumed()

	if result.Err != nil {
		copy(result.PostBalances, result.PreBalances)
		return result, nil, nil
	}

	result.Fee = fee
	batch := &accounts.Batch{}
	for i, a := range tc.accounts {
		result.PostBalances[i] = a.account.Lamports
		if a.writable && accountChanged(original[i], a.account) {
			batch.Put(a.key, a.account)
			result.Accounts = append(result.Accounts, a.key)
		}
	}
	return result, batch, nil
}

func (b *Bank) executeInstructions(tc *txContext, msg *transaction.Message) error {
	for i, ix := range msg.Instructions {
		positions := make([]position, len(ix.Accounts))
		for j, index := range ix.Accounts {
			positions[j] = position{
				index:    int(index),
				signer:   msg.IsSigner(int(index)),
				writable: msg.IsWritable(int(index)),
			}
		}

		programID := msg.Accounts[ix.ProgramIndex]
		if err := tc.executeInstruction(programID, positions, ix.Data); err != nil {
			return &InstructionError{Index: i, Err: err}
		}
	}
	return nil
}

// checkRent rejects a transaction that leaves a funded account below the
// rent exempt minimum, unless the account was already below it with the
// same size and did not gain lamports.
func (b *Bank) checkRent(tc *txContext, original []*accounts.Account) error {
	for i, a := range tc.accounts {
		if !a.writable {
			continue
		}
		post := a.account
		if post.Lamports == 0 || b.cfg.Rent.IsExempt(post.Lamports, uint64(len(post.Data))) {
			continue
		}
		pre := original[i]
		wasExempt := pre.Lamports == 0 || b.cfg.Rent.IsExempt(pre.Lamports, uint64(len(pre.Data)))
		if wasExempt || len(pre.Data) != len(post.Data) || post.Lamports > pre.Lamports {
			return &AccountRentError{Index: i}
		}
	}
	return nil
}

// commit writes batch and advances the slot. It must be called with
// commitMu held.
func (b *Bank) commit(tx *transaction.Transaction, batch *accounts.Batch, result *ExecutionResult) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	batch.Slot = b.slot + 1
	if err := b.db.Commit(batch); err != nil {
		return errors.Wrapf(err, "failed to commit slot %d", batch.Slot)
	}

	bankHash, blockhash := slotHashes(b.bankHash, b.blockhashes.latest(), batch, uint64(len(tx.Signatures)))
	b.slot = batch.Slot
	b.bankHash = bankHash
	if evicted, ok := b.blockhashes.register(blockhash, b.slot); ok {
		b.statuses.purge(evicted)
	}
	b.statuses.insert(tx.Signature(), tx.Message.RecentBlockhash, b.slot)

	b.processed.Add(1)
	b.signatureCount.Add(uint64(len(tx.Signatures)))
	b.fees.Add(result.Fee)

	result.Slot = b.slot
	result.BankHash = bankHash
	return nil
}

func (b *Bank) notify(status *TransactionStatus) {
	b.listenersMu.RLock()
	defer b.listenersMu.RUnlock()

	for _, l := range b.listeners {
		l.OnTransaction(status)
	}
}

func (b *Bank) loadAccount(key types.Pubkey) (*accounts.Account, error) {
	account, err := b.db.GetAccount(key)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, accounts.ErrAccountNotFound) {
		return nil, errors.Wrapf(err, "failed to load account %s", key)
	}
	if builtin, ok := b.builtinAccount(key); ok {
		return builtin, nil
	}
	return &accounts.Account{Owner: types.SystemProgramAddr}, nil
}

// GetAccount returns the committed state of an account, or
// accounts.ErrAccountNotFound.
func (b *Bank) GetAccount(key types.Pubkey) (*accounts.Account, error) {
	account, err := b.db.GetAccount(key)
	if errors.Is(err, accounts.ErrAccountNotFound) {
		if builtin, ok := b.builtinAccount(key); ok {
			return builtin, nil
		}
	}
	return account, err
}

// GetBalance returns the committed lamport balance of an account.
func (b *Bank) GetBalance(key types.Pubkey) (uint64, error) {
	account, err := b.GetAccount(key)
	if errors.Is(err, accounts.ErrAccountNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return account.Lamports, nil
}

// LatestBlockhash returns the most recent blockhash and the last slot at
// which it is accepted.
func (b *Bank) LatestBlockhash() (types.Hash, uint64) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	latest := b.blockhashes.latest()
	return latest, b.blockhashes.lastValidSlot(latest)
}

// IsBlockhashValid reports whether a transaction may reference hash.
func (b *Bank) IsBlockhashValid(hash types.Hash) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.blockhashes.contains(hash)
}

// Slot returns the latest committed slot.
func (b *Bank) Slot() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.slot
}

// BankHash returns the bank hash of the latest committed slot.
func (b *Bank) BankHash() types.Hash {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bankHash
}

// MinimumBalanceForRentExemption returns the rent exempt balance for an
// account holding dataLen bytes.
func (b *Bank) MinimumBalanceForRentExemption(dataLen uint64) uint64 {
	return b.cfg.Rent.MinimumBalance(dataLen)
}

// LamportsPerSignature returns the fee charged per signature.
func (b *Bank) LamportsPerSignature() uint64 {
	return b.cfg.LamportsPerSignature
}

// Stats returns the bank counters.
func (b *Bank) Stats() Stats {
	return Stats{
		Slot:                  b.Slot(),
		TransactionsProcessed: b.processed.Load(),
		TransactionsFailed:    b.failed.Load(),
		SignatureCount:        b.signatureCount.Load(),
		FeesCollected:         b.fees.Load(),
	}
}

// Close stops the bank from accepting transactions. It does not close the
// account store.
func (b *Bank) Close() {
	b.closed.Store(true)
}
