package accounts

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"

	"github.com/fortiblox/x1-sale/internal/types"
)

const snapshotVersion uint32 = 2

var snapshotMagic = []byte{'X', '1', 'S', 'N'}

var (
	// ErrInvalidSnapshot is returned for a snapshot with a bad header.
	ErrInvalidSnapshot = errors.New("invalid snapshot")

	// ErrSnapshotHashMismatch is returned when a restored state does not
	// match the hash recorded in the snapshot header.
	ErrSnapshotHashMismatch = errors.New("snapshot hash mismatch")
)

// SnapshotHeader describes the state captured by a snapshot.
type SnapshotHeader struct {
	Version       uint32
	Slot          uint64
	AccountsCount uint64
	StateHash     types.Hash
}

// Snapshot format:
//
//	magic "X1SN" | version u32 | slot u64 | count u64 | state hash [32]
//	zstd stream of { pubkey [32] | size u32 | serialized account }
const snapshotHeaderSize = 4 + 4 + 8 + 8 + 32

// WriteSnapshot writes every account in db to w.
func WriteSnapshot(w io.Writer, db DB) (*SnapshotHeader, error) {
	count, err := db.AccountsCount()
	if err != nil {
		return nil, err
	}
	hash, err := StateHash(db)
	if err != nil {
		return nil, errors.Wrap(err, "compute state hash")
	}

	header := &SnapshotHeader{
		Version:       snapshotVersion,
		Slot:          db.GetSlot(),
		AccountsCount: count,
		StateHash:     hash,
	}

	buf := make([]byte, snapshotHeaderSize)
	copy(buf, snapshotMagic)
	binary.LittleEndian.PutUint32(buf[4:], header.Version)
	binary.LittleEndian.PutUint64(buf[8:], header.Slot)
	binary.LittleEndian.PutUint64(buf[16:], header.AccountsCount)
	copy(buf[24:], header.StateHash[:])
	if _, err := w.Write(buf); err != nil {
		return nil, errors.Wrap(err, "write snapshot header")
	}

	zw, err := zstd.NewWriter(w)
	if err != nil {
		return nil, errors.Wrap(err, "create zstd writer")
	}
	bw := bufio.NewWriter(zw)

	var written uint64
	err = db.Iterate(func(pubkey types.Pubkey, account *Account) error {
		data := account.Serialize()
		var size [4]byte
		binary.LittleEndian.PutUint32(size[:], uint32(len(data)))

		if _, err := bw.Write(pubkey[:]); err != nil {
			return err
		}
		if _, err := bw.Write(size[:]); err != nil {
			return err
		}
		if _, err := bw.Write(data); err != nil {
			return err
		}
		written++
		return nil
	})
	if err != nil {
		zw.Close()
		return nil, errors.Wrap(err, "write snapshot accounts")
	}
	if written != count {
		zw.Close()
		return nil, errors.Errorf("accounts changed while writing snapshot: %d != %d", written, count)
	}

	if err := bw.Flush(); err != nil {
		zw.Close()
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, errors.Wrap(err, "close zstd writer")
	}
	return header, nil
}

// ReadSnapshot restores the accounts in r into db and verifies the state
// hash. db is expected to be empty.
func ReadSnapshot(r io.Reader, db DB) (*SnapshotHeader, error) {
	buf := make([]byte, snapshotHeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, errors.Wrap(err, "read snapshot header")
	}
	if string(buf[:4]) != string(snapshotMagic) {
		return nil, ErrInvalidSnapshot
	}

	header := &SnapshotHeader{
		Version:       binary.LittleEndian.Uint32(buf[4:]),
		Slot:          binary.LittleEndian.Uint64(buf[8:]),
		AccountsCount: binary.LittleEndian.Uint64(buf[16:]),
	}
	copy(header.StateHash[:], buf[24:])
	if header.Version != snapshotVersion {
		return nil, errors.Wrapf(ErrInvalidSnapshot, "unsupported version %d", header.Version)
	}

	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, errors.Wrap(err, "create zstd reader")
	}
	defer zr.Close()
	br := bufio.NewReader(zr)

	batch := &Batch{Slot: header.Slot}
	entry := make([]byte, 32+4)
	for i := uint64(0); i < header.AccountsCount; i++ {
		if _, err := io.ReadFull(br, entry); err != nil {
			return nil, errors.Wrapf(err, "read account %d", i)
		}
		var pubkey types.Pubkey
		copy(pubkey[:], entry[:32])

		size := binary.LittleEndian.Uint32(entry[32:])
		if size > MaxAccountDataSize+57 {
			return nil, ErrInvalidData
		}
		data := make([]byte, size)
		if _, err := io.ReadFull(br, data); err != nil {
			return nil, errors.Wrapf(err, "read account %s", pubkey)
		}
		account, err := DeserializeAccount(data)
		if err != nil {
			return nil, errors.Wrapf(err, "decode account %s", pubkey)
		}
		batch.Updates = append(batch.Updates, Update{Pubkey: pubkey, Account: account})
	}

	if err := db.Commit(batch); err != nil {
		return nil, err
	}

	hash, err := StateHash(db)
	if err != nil {
		return nil, err
	}
	if hash != header.StateHash {
		return nil, ErrSnapshotHashMismatch
	}
	return header, nil
}

// SaveSnapshotFile writes a snapshot of db to path via a temp file rename.
func SaveSnapshotFile(path string, db DB) (*SnapshotHeader, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.Wrap(err, "create snapshot directory")
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return nil, errors.Wrap(err, "create snapshot file")
	}

	header, err := WriteSnapshot(f, db)
	if err != nil {
		f.Close()
		os.Remove(tmp)
		return nil, err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return nil, err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return nil, err
	}
	return header, os.Rename(tmp, path)
}

// LoadSnapshotFile restores the snapshot at path into db.
func LoadSnapshotFile(path string, db DB) (*SnapshotHeader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadSnapshot(bufio.NewReader(f), db)
}
