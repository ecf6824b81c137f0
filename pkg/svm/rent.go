package svm

// AccountStorageOverhead is the per-account byte overhead charged by rent.
const AccountStorageOverhead = 128

// Rent holds the rent parameters of the ledger.
type Rent struct {
	LamportsPerByteYear uint64
	ExemptionYears      uint64
}

// DefaultRent matches the mainnet rent parameters.
var DefaultRent = Rent{
	LamportsPerByteYear: 3480,
	ExemptionYears:      2,
}

// MinimumBalance returns the balance an account of dataLen bytes needs
// to be rent exempt.
func (r Rent) MinimumBalance(dataLen uint64) uint64 {
	return (AccountStorageOverhead + dataLen) * r.LamportsPerByteYear * r.ExemptionYears
}

// IsExempt reports whether lamports covers the exemption minimum.
func (r Rent) IsExempt(lamports, dataLen uint64) bool {
	return lamports >= r.MinimumBalance(dataLen)
}
