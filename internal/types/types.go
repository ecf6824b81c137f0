// Package types defines the identity and hash types shared by the ledger,
// the native programs and the sale program.
//
// Pubkey, Signature and Hash are fixed size byte arrays with base58 text
// forms, so they can be used directly as map keys and in JSON payloads.
package types

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"io"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
)

// Size constants for core types.
const (
	PubkeySize    = 32
	SignatureSize = 64
	HashSize      = 32
)

var (
	// ErrInvalidPubkey is returned when a pubkey has invalid length.
	ErrInvalidPubkey = errors.New("invalid pubkey: must be 32 bytes")

	// ErrInvalidSignature is returned when a signature has invalid length.
	ErrInvalidSignature = errors.New("invalid signature: must be 64 bytes")

	// ErrInvalidHash is returned when a hash has invalid length.
	ErrInvalidHash = errors.New("invalid hash: must be 32 bytes")
)

// Pubkey is an account identity: an ed25519 public key or a program
// derived address.
type Pubkey [PubkeySize]byte

// PubkeyFromBase58 parses a base58-encoded public key.
func PubkeyFromBase58(s string) (Pubkey, error) {
	var p Pubkey
	data, err := base58.Decode(s)
	if err != nil {
		return p, errors.Wrap(err, "base58 decode")
	}
	if len(data) != PubkeySize {
		return p, ErrInvalidPubkey
	}
	copy(p[:], data)
	return p, nil
}

// MustPubkeyFromBase58 is PubkeyFromBase58 for compile time constants.
func MustPubkeyFromBase58(s string) Pubkey {
	p, err := PubkeyFromBase58(s)
	if err != nil {
		panic(errors.Wrapf(err, "invalid pubkey %q", s))
	}
	return p
}

// PubkeyFromBytes creates a Pubkey from a byte slice.
func PubkeyFromBytes(b []byte) (Pubkey, error) {
	var p Pubkey
	if len(b) != PubkeySize {
		return p, ErrInvalidPubkey
	}
	copy(p[:], b)
	return p, nil
}

// String returns the base58-encoded representation.
func (p Pubkey) String() string {
	return base58.Encode(p[:])
}

// IsZero returns true if the pubkey is all zeros.
func (p Pubkey) IsZero() bool {
	return p == Pubkey{}
}

// Compare orders pubkeys by their raw bytes.
func (p Pubkey) Compare(other Pubkey) int {
	return bytes.Compare(p[:], other[:])
}

// Bytes returns the pubkey as a byte slice.
func (p Pubkey) Bytes() []byte {
	return p[:]
}

// MarshalText implements encoding.TextMarshaler.
func (p Pubkey) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Pubkey) UnmarshalText(text []byte) error {
	parsed, err := PubkeyFromBase58(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Signature is an ed25519 signature over a transaction message.
type Signature [SignatureSize]byte

// SignatureFromBase58 parses a base58-encoded signature.
func SignatureFromBase58(s string) (Signature, error) {
	var sig Signature
	data, err := base58.Decode(s)
	if err != nil {
		return sig, errors.Wrap(err, "base58 decode")
	}
	if len(data) != SignatureSize {
		return sig, ErrInvalidSignature
	}
	copy(sig[:], data)
	return sig, nil
}

// String returns the base58-encoded representation.
func (s Signature) String() string {
	return base58.Encode(s[:])
}

// IsZero returns true if the signature is all zeros.
func (s Signature) IsZero() bool {
	return s == Signature{}
}

// Verify verifies this signature against a message and public key.
func (s Signature) Verify(pubkey Pubkey, message []byte) bool {
	return ed25519.Verify(pubkey[:], message, s[:])
}

// MarshalText implements encoding.TextMarshaler.
func (s Signature) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Signature) UnmarshalText(text []byte) error {
	parsed, err := SignatureFromBase58(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Hash is a 32-byte digest: blockhashes, bank hashes and account hashes.
type Hash [HashSize]byte

// HashFromBase58 parses a base58-encoded hash.
func HashFromBase58(s string) (Hash, error) {
	var h Hash
	data, err := base58.Decode(s)
	if err != nil {
		return h, errors.Wrap(err, "base58 decode")
	}
	if len(data) != HashSize {
		return h, ErrInvalidHash
	}
	copy(h[:], data)
	return h, nil
}

// ComputeHash computes the SHA256 hash of data.
func ComputeHash(data []byte) Hash {
	return sha256.Sum256(data)
}

// String returns the base58-encoded representation.
func (h Hash) String() string {
	return base58.Encode(h[:])
}

// IsZero returns true if the hash is all zeros.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// MarshalText implements encoding.TextMarshaler.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := HashFromBase58(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// Keypair is a wallet signing key.
type Keypair struct {
	private ed25519.PrivateKey
}

// NewKeypair generates a keypair from crypto/rand.
func NewKeypair() (Keypair, error) {
	return NewKeypairFromReader(rand.Reader)
}

// NewKeypairFromReader generates a keypair from the given entropy source.
func NewKeypairFromReader(r io.Reader) (Keypair, error) {
	_, priv, err := ed25519.GenerateKey(r)
	if err != nil {
		return Keypair{}, errors.Wrap(err, "generate ed25519 key")
	}
	return Keypair{private: priv}, nil
}

// KeypairFromSeed derives a keypair from a 32 byte seed.
func KeypairFromSeed(seed []byte) (Keypair, error) {
	if len(seed) != ed25519.SeedSize {
		return Keypair{}, errors.Errorf("invalid seed length %d", len(seed))
	}
	return Keypair{private: ed25519.NewKeyFromSeed(seed)}, nil
}

// PublicKey returns the identity of the keypair.
func (k Keypair) PublicKey() Pubkey {
	var p Pubkey
	copy(p[:], k.private.Public().(ed25519.PublicKey))
	return p
}

// Sign signs message with the private key.
func (k Keypair) Sign(message []byte) Signature {
	var sig Signature
	copy(sig[:], ed25519.Sign(k.private, message))
	return sig
}
