// Package layout reads and writes the fixed size account layouts used by
// the native programs. Every helper advances offset by the size of the
// field it handled.
package layout

import (
	"encoding/binary"

	"github.com/fortiblox/x1-sale/internal/types"
)

// OptionSize is the width of a COption tag.
const OptionSize = 4

func PutKey32(dst []byte, src types.Pubkey, offset *int) {
	copy(dst[*offset:], src[:])
	*offset += types.PubkeySize
}

// PutOptionalKey32 writes a COption<Pubkey>. A nil src writes None.
func PutOptionalKey32(dst []byte, src *types.Pubkey, offset *int) {
	tag := dst[*offset : *offset+OptionSize]
	for i := range tag {
		tag[i] = 0
	}
	body := dst[*offset+OptionSize : *offset+OptionSize+types.PubkeySize]
	if src != nil {
		tag[0] = 1
		copy(body, src[:])
	} else {
		for i := range body {
			body[i] = 0
		}
	}
	*offset += OptionSize + types.PubkeySize
}

func PutUint64(dst []byte, v uint64, offset *int) {
	binary.LittleEndian.PutUint64(dst[*offset:], v)
	*offset += 8
}

func PutUint32(dst []byte, v uint32, offset *int) {
	binary.LittleEndian.PutUint32(dst[*offset:], v)
	*offset += 4
}

func PutUint8(dst []byte, v uint8, offset *int) {
	dst[*offset] = v
	*offset++
}

func PutBool(dst []byte, v bool, offset *int) {
	var b uint8
	if v {
		b = 1
	}
	PutUint8(dst, b, offset)
}

// PutOptionalUint64 writes a COption<u64>. A nil v writes None.
func PutOptionalUint64(dst []byte, v *uint64, offset *int) {
	binary.LittleEndian.PutUint32(dst[*offset:], 0)
	binary.LittleEndian.PutUint64(dst[*offset+OptionSize:], 0)
	if v != nil {
		dst[*offset] = 1
		binary.LittleEndian.PutUint64(dst[*offset+OptionSize:], *v)
	}
	*offset += OptionSize + 8
}

func GetKey32(src []byte, dst *types.Pubkey, offset *int) {
	copy(dst[:], src[*offset:*offset+types.PubkeySize])
	*offset += types.PubkeySize
}

func GetOptionalKey32(src []byte, dst **types.Pubkey, offset *int) {
	*dst = nil
	if src[*offset] == 1 {
		var key types.Pubkey
		copy(key[:], src[*offset+OptionSize:])
		*dst = &key
	}
	*offset += OptionSize + types.PubkeySize
}

func GetUint64(src []byte, dst *uint64, offset *int) {
	*dst = binary.LittleEndian.Uint64(src[*offset:])
	*offset += 8
}

func GetUint32(src []byte, dst *uint32, offset *int) {
	*dst = binary.LittleEndian.Uint32(src[*offset:])
	*offset += 4
}

func GetUint8(src []byte, dst *uint8, offset *int) {
	*dst = src[*offset]
	*offset++
}

func GetBool(src []byte, dst *bool, offset *int) {
	*dst = src[*offset] != 0
	*offset++
}

func GetOptionalUint64(src []byte, dst **uint64, offset *int) {
	*dst = nil
	if src[*offset] == 1 {
		v := binary.LittleEndian.Uint64(src[*offset+OptionSize:])
		*dst = &v
	}
	*offset += OptionSize + 8
}
