// Package blockstore journals executed transactions.
//
// Every transaction the bank executes, committed or failed, is recorded
// with its logs, fee, balances and error. Records are indexed by slot, by
// signature and by every account the transaction referenced.
package blockstore

import (
	"bytes"
	"encoding/gob"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"

	"github.com/fortiblox/x1-sale/internal/types"
	"github.com/fortiblox/x1-sale/pkg/bank"
)

var (
	// ErrTransactionNotFound is returned when a transaction doesn't exist.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrClosed is returned when operating on a closed blockstore.
	ErrClosed = errors.New("blockstore closed")
)

// Bucket names for BoltDB.
var (
	// bucketSlots stores transaction records keyed by slot+signature.
	bucketSlots = []byte("slots")

	// bucketTxBySignature maps a signature to its slot.
	bucketTxBySignature = []byte("tx_by_sig")

	// bucketAddressSignatures indexes signatures by address+slot+signature.
	bucketAddressSignatures = []byte("addr_sigs")

	// bucketMetadata stores blockstore metadata.
	bucketMetadata = []byte("metadata")
)

// Metadata keys.
var (
	keyLatestSlot       = []byte("latest_slot")
	keyOldestSlot       = []byte("oldest_slot")
	keyTransactionCount = []byte("transaction_count")
)

// Config holds blockstore configuration options.
type Config struct {
	// Path is the bbolt database file.
	Path string

	// NoSync disables fsync after each write (faster but less durable).
	NoSync bool

	// PruneEnabled enables automatic pruning of old slots.
	PruneEnabled bool

	// PruneInterval is how often to run the pruning routine.
	PruneInterval time.Duration

	// RetainSlots is the number of slots to retain during pruning.
	RetainSlots uint64

	// ReadOnly opens the database in read-only mode.
	ReadOnly bool
}

// DefaultConfig returns the default blockstore configuration.
func DefaultConfig(path string) Config {
	return Config{
		Path:          path,
		PruneEnabled:  true,
		PruneInterval: 1 * time.Hour,
		RetainSlots:   DefaultRetainSlots,
	}
}

// BoltStore is a transaction journal backed by BoltDB.
type BoltStore struct {
	log    *logrus.Entry
	db     *bolt.DB
	config Config

	// Cached metadata for fast reads.
	mu               sync.RWMutex
	latestSlot       uint64
	oldestSlot       uint64
	transactionCount uint64

	// Pruning control.
	pruneStop chan struct{}
	pruneWG   sync.WaitGroup

	closed bool
}

var _ bank.Listener = (*BoltStore)(nil)

// Open creates or opens a blockstore at the configured path.
func Open(config Config) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(config.Path), 0755); err != nil {
		return nil, errors.Wrap(err, "create directory")
	}

	opts := &bolt.Options{
		Timeout:  5 * time.Second,
		NoSync:   config.NoSync,
		ReadOnly: config.ReadOnly,
	}
	db, err := bolt.Open(config.Path, 0600, opts)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}

	store := &BoltStore{
		log:       logrus.StandardLogger().WithField("type", "blockstore"),
		db:        db,
		config:    config,
		pruneStop: make(chan struct{}),
	}

	if !config.ReadOnly {
		if err := store.initBuckets(); err != nil {
			db.Close()
			return nil, errors.Wrap(err, "init buckets")
		}
	}
	if err := store.loadCachedValues(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "load cached values")
	}

	if config.PruneEnabled && !config.ReadOnly && config.PruneInterval > 0 {
		store.startPruning()
	}

	store.log.WithFields(logrus.Fields{
		"path":         config.Path,
		"latest_slot":  store.latestSlot,
		"transactions": store.transactionCount,
	}).Info("blockstore opened")

	return store, nil
}

func (s *BoltStore) initBuckets() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{
			bucketSlots,
			bucketTxBySignature,
			bucketAddressSignatures,
			bucketMetadata,
		} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return errors.Wrapf(err, "create bucket %s", name)
			}
		}
		return nil
	})
}

func (s *BoltStore) loadCachedValues() error {
	return s.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMetadata)
		if meta == nil {
			return nil
		}

		if v := meta.Get(keyLatestSlot); v != nil {
			s.latestSlot = DecodeSlotKey(v)
		}
		if v := meta.Get(keyOldestSlot); v != nil {
			s.oldestSlot = DecodeSlotKey(v)
		}
		if v := meta.Get(keyTransactionCount); v != nil {
			s.transactionCount = DecodeSlotKey(v)
		}
		return nil
	})
}

func (s *BoltStore) startPruning() {
	s.pruneWG.Add(1)
	go func() {
		defer s.pruneWG.Done()
		ticker := time.NewTicker(s.config.PruneInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if _, err := s.Prune(s.config.RetainSlots); err != nil {
					s.log.WithError(err).Warn("prune failed")
				}
			case <-s.pruneStop:
				return
			}
		}
	}()
}

func (s *BoltStore) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// NewTransactionRecord builds the journal record of an executed
// transaction.
func NewTransactionRecord(status *bank.TransactionStatus) *TransactionRecord {
	result := status.Result
	record := &TransactionRecord{
		Signature:            result.Signature,
		Slot:                 result.Slot,
		BlockTime:            status.BlockTime,
		Transaction:          status.Transaction.Marshal(),
		Accounts:             append([]types.Pubkey(nil), status.Transaction.Message.Accounts...),
		Success:              result.Err == nil,
		Fee:                  result.Fee,
		ComputeUnitsConsumed: result.ComputeUnitsConsumed,
		LogMessages:          result.Logs,
		PreBalances:          result.PreBalances,
		PostBalances:         result.PostBalances,
	}

	if result.Err != nil {
		record.Err = result.Err.Error()
		if index, ok := bank.InstructionIndex(result.Err); ok {
			record.InstructionIndex = &index
		}
		if code, ok := bank.CustomErrorCode(result.Err); ok {
			record.CustomCode = &code
		}
	}
	return record
}

// OnTransaction journals an executed transaction.
func (s *BoltStore) OnTransaction(status *bank.TransactionStatus) {
	record := NewTransactionRecord(status)
	if err := s.PutTransaction(record); err != nil {
		s.log.WithError(err).WithField("signature", record.Signature.String()).Error("failed to journal transaction")
	}
}

// PutTransaction stores a record and indexes it by signature and by
// account. Storing a signature twice replaces nothing.
func (s *BoltStore) PutTransaction(record *TransactionRecord) error {
	if s.isClosed() {
		return ErrClosed
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(record); err != nil {
		return errors.Wrap(err, "encode transaction")
	}

	info := SignatureInfo{
		Signature:        record.Signature,
		Slot:             record.Slot,
		Err:              record.Err,
		InstructionIndex: record.InstructionIndex,
		CustomCode:       record.CustomCode,
		BlockTime:        record.BlockTime,
	}
	var infoBuf bytes.Buffer
	if err := gob.NewEncoder(&infoBuf).Encode(&info); err != nil {
		return errors.Wrap(err, "encode sig info")
	}

	inserted := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		txBySig := tx.Bucket(bucketTxBySignature)
		sigKey := EncodeSignatureKey(record.Signature)
		if txBySig.Get(sigKey) != nil {
			return nil
		}

		slotKey := EncodeSlotKey(record.Slot)
		if err := tx.Bucket(bucketSlots).Put(EncodeSlotSignatureKey(record.Slot, record.Signature), buf.Bytes()); err != nil {
			return err
		}
		if err := txBySig.Put(sigKey, slotKey); err != nil {
			return err
		}

		addrSigs := tx.Bucket(bucketAddressSignatures)
		for _, addr := range record.Accounts {
			if err := addrSigs.Put(EncodeAddressSlotKey(addr, record.Slot, record.Signature), infoBuf.Bytes()); err != nil {
				return err
			}
		}

		s.mu.Lock()
		defer s.mu.Unlock()

		latest := s.latestSlot
		if record.Slot > latest {
			latest = record.Slot
		}
		meta := tx.Bucket(bucketMetadata)
		if err := meta.Put(keyLatestSlot, EncodeSlotKey(latest)); err != nil {
			return err
		}
		if err := meta.Put(keyTransactionCount, EncodeSlotKey(s.transactionCount+1)); err != nil {
			return err
		}
		inserted = true
		return nil
	})
	if err != nil {
		return err
	}

	if inserted {
		s.mu.Lock()
		if record.Slot > s.latestSlot {
			s.latestSlot = record.Slot
		}
		s.transactionCount++
		s.mu.Unlock()
	}
	return nil
}

// GetTransaction retrieves a transaction record by signature.
func (s *BoltStore) GetTransaction(signature types.Signature) (*TransactionRecord, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}

	var record TransactionRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		slotKey := tx.Bucket(bucketTxBySignature).Get(EncodeSignatureKey(signature))
		if slotKey == nil {
			return ErrTransactionNotFound
		}

		data := tx.Bucket(bucketSlots).Get(EncodeSlotSignatureKey(DecodeSlotKey(slotKey), signature))
		if data == nil {
			return ErrTransactionNotFound
		}
		return gob.NewDecoder(bytes.NewReader(data)).Decode(&record)
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// GetTransactionsInSlot returns every record journaled at slot.
func (s *BoltStore) GetTransactionsInSlot(slot uint64) ([]*TransactionRecord, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}

	var records []*TransactionRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketSlots).Cursor()
		prefix := EncodeSlotKey(slot)

		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var record TransactionRecord
			if err := gob.NewDecoder(bytes.NewReader(v)).Decode(&record); err != nil {
				return errors.Wrapf(err, "decode record in slot %d", slot)
			}
			records = append(records, &record)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// GetSignaturesForAddress returns signatures of transactions involving an
// address, newest slot first.
func (s *BoltStore) GetSignaturesForAddress(address types.Pubkey, opts *SignatureQueryOptions) ([]SignatureInfo, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}

	if opts == nil {
		opts = &SignatureQueryOptions{}
	}
	limit := opts.Limit
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}

	var results []SignatureInfo
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketAddressSignatures).Cursor()
		prefix := address[:]

		// Seek past the last key of the address and walk backwards.
		end := make([]byte, len(prefix)+8+types.SignatureSize)
		copy(end, prefix)
		for i := len(prefix); i < len(end); i++ {
			end[i] = 0xFF
		}

		k, v := c.Seek(end)
		if k == nil {
			k, v = c.Last()
		} else if !bytes.HasPrefix(k, prefix) {
			k, v = c.Prev()
		}

		skipping := opts.Before != nil
		for ; k != nil && bytes.HasPrefix(k, prefix); k, v = c.Prev() {
			_, _, sig := DecodeAddressSlotKey(k)
			if skipping {
				if sig == *opts.Before {
					skipping = false
				}
				continue
			}
			if opts.Until != nil && sig == *opts.Until {
				break
			}

			var info SignatureInfo
			if err := gob.NewDecoder(bytes.NewReader(v)).Decode(&info); err != nil {
				continue // Skip corrupted entries.
			}
			results = append(results, info)

			if len(results) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// GetLatestSlot returns the most recent journaled slot.
func (s *BoltStore) GetLatestSlot() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latestSlot
}

// GetOldestSlot returns the oldest slot still retained.
func (s *BoltStore) GetOldestSlot() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.oldestSlot
}

// Prune removes records of slots older than the retention window and
// returns the number of records removed.
func (s *BoltStore) Prune(keepSlots uint64) (uint64, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return 0, ErrClosed
	}
	latestSlot := s.latestSlot
	s.mu.RUnlock()

	if latestSlot <= keepSlots {
		return 0, nil
	}
	pruneBeforeSlot := latestSlot - keepSlots

	var pruned uint64
	err := s.db.Update(func(tx *bolt.Tx) error {
		slots := tx.Bucket(bucketSlots)
		txBySig := tx.Bucket(bucketTxBySignature)
		addrSigs := tx.Bucket(bucketAddressSignatures)
		maxKey := EncodeSlotKey(pruneBeforeSlot)

		var keys [][]byte
		c := slots.Cursor()
		for k, v := c.First(); k != nil && bytes.Compare(k, maxKey) < 0; k, v = c.Next() {
			var record TransactionRecord
			if err := gob.NewDecoder(bytes.NewReader(v)).Decode(&record); err != nil {
				return errors.Wrap(err, "decode record")
			}
			if err := txBySig.Delete(EncodeSignatureKey(record.Signature)); err != nil {
				return err
			}
			for _, addr := range record.Accounts {
				if err := addrSigs.Delete(EncodeAddressSlotKey(addr, record.Slot, record.Signature)); err != nil {
					return err
				}
			}
			keys = append(keys, append([]byte(nil), k...))
		}

		// Keys are deleted after iteration; deleting under a cursor skips
		// entries.
		for _, k := range keys {
			if err := slots.Delete(k); err != nil {
				return err
			}
		}
		pruned = uint64(len(keys))

		s.mu.RLock()
		count := s.transactionCount - pruned
		s.mu.RUnlock()

		meta := tx.Bucket(bucketMetadata)
		if err := meta.Put(keyOldestSlot, maxKey); err != nil {
			return err
		}
		return meta.Put(keyTransactionCount, EncodeSlotKey(count))
	})
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	s.oldestSlot = pruneBeforeSlot
	s.transactionCount -= pruned
	s.mu.Unlock()

	if pruned > 0 {
		s.log.WithFields(logrus.Fields{
			"before_slot": pruneBeforeSlot,
			"pruned":      pruned,
		}).Info("pruned journal")
	}
	return pruned, nil
}

// GetStats returns journal statistics.
func (s *BoltStore) GetStats() (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	stats := &Stats{
		LatestSlot:       s.latestSlot,
		OldestSlot:       s.oldestSlot,
		TransactionCount: s.transactionCount,
	}
	if info, err := os.Stat(s.config.Path); err == nil {
		stats.DatabaseSize = info.Size()
	}
	return stats, nil
}

// Sync forces a sync of the database to disk.
func (s *BoltStore) Sync() error {
	if s.isClosed() {
		return ErrClosed
	}
	return s.db.Sync()
}

// Close shuts down the blockstore.
func (s *BoltStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.pruneStop)
	s.pruneWG.Wait()

	return s.db.Close()
}
