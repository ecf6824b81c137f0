package rpc

import (
	"encoding/base64"

	"github.com/klauspost/compress/zstd"
	"github.com/mr-tron/base58"
	"github.com/pkg/errors"

	"github.com/fortiblox/x1-sale/pkg/transaction"
)

// Shared zstd coders. EncodeAll and DecodeAll are safe for concurrent use.
var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDecoder, _ = zstd.NewReader(nil)
)

// EncodeAccountData encodes account data as an [encoded, encoding] pair.
func EncodeAccountData(data []byte, encoding Encoding) ([]string, error) {
	switch encoding {
	case EncodingBase58:
		return []string{base58.Encode(data), string(EncodingBase58)}, nil
	case EncodingBase64, "":
		return []string{base64.StdEncoding.EncodeToString(data), string(EncodingBase64)}, nil
	case EncodingBase64Zstd:
		compressed := zstdEncoder.EncodeAll(data, nil)
		return []string{base64.StdEncoding.EncodeToString(compressed), string(EncodingBase64Zstd)}, nil
	default:
		return nil, errors.Errorf("unsupported encoding %q", encoding)
	}
}

// DecodeAccountData decodes account data from the specified encoding.
func DecodeAccountData(encoded string, encoding Encoding) ([]byte, error) {
	switch encoding {
	case EncodingBase58:
		return base58.Decode(encoded)
	case EncodingBase64, "":
		return base64.StdEncoding.DecodeString(encoded)
	case EncodingBase64Zstd:
		compressed, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, errors.Wrap(err, "base64 decode failed")
		}
		return zstdDecoder.DecodeAll(compressed, nil)
	default:
		return nil, errors.Errorf("unsupported encoding %q", encoding)
	}
}

// DecodeTransaction decodes a wire transaction. base58 is the default.
func DecodeTransaction(encoded string, encoding Encoding) (*transaction.Transaction, error) {
	var (
		raw []byte
		err error
	)
	switch encoding {
	case EncodingBase58, "":
		raw, err = base58.Decode(encoded)
	case EncodingBase64:
		raw, err = base64.StdEncoding.DecodeString(encoded)
	default:
		return nil, errors.Errorf("unsupported transaction encoding %q", encoding)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode %s transaction", encoding)
	}

	tx := new(transaction.Transaction)
	if err := tx.Unmarshal(raw); err != nil {
		return nil, err
	}
	return tx, nil
}

// ApplyDataSlice applies a data slice to account data.
func ApplyDataSlice(data []byte, slice *DataSlice) []byte {
	if slice == nil {
		return data
	}

	start := slice.Offset
	if start >= uint64(len(data)) {
		return []byte{}
	}

	end := start + slice.Length
	if end > uint64(len(data)) || end < start {
		end = uint64(len(data))
	}

	return data[start:end]
}
