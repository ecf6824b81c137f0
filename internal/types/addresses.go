package types

// Native program addresses known to the ledger.
var (
	// SystemProgramAddr owns every wallet account and implements native
	// currency transfers.
	SystemProgramAddr = MustPubkeyFromBase58("11111111111111111111111111111111")

	// TokenProgramAddr implements fungible token mints and token accounts.
	TokenProgramAddr = MustPubkeyFromBase58("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")

	// SaleProgramAddr is the whitelisted token sale program.
	SaleProgramAddr = MustPubkeyFromBase58("Fg6PaFpoGXkYsidMpWTK6W2BeZ7FEfcYkg476zPFsLnS")

	// NativeLoaderAddr owns the native program accounts.
	NativeLoaderAddr = MustPubkeyFromBase58("NativeLoader1111111111111111111111111111111")
)

// Sysvar addresses.
var (
	// SysvarRentAddr is the Rent sysvar address.
	SysvarRentAddr = MustPubkeyFromBase58("SysvarRent111111111111111111111111111111111")

	// SysvarOwnerAddr owns all sysvar accounts.
	SysvarOwnerAddr = MustPubkeyFromBase58("Sysvar1111111111111111111111111111111111111")
)

// NativePrograms lists the programs the ledger executes natively.
var NativePrograms = []Pubkey{
	SystemProgramAddr,
	TokenProgramAddr,
	SaleProgramAddr,
}

// IsNativeProgram returns true if the address is a native program.
func IsNativeProgram(addr Pubkey) bool {
	for _, p := range NativePrograms {
		if p == addr {
			return true
		}
	}
	return false
}

// IsSysvar returns true if the address is a sysvar.
func IsSysvar(addr Pubkey) bool {
	return addr == SysvarRentAddr
}
