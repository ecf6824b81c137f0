package sale

import (
	"github.com/fortiblox/x1-sale/internal/types"
	"github.com/fortiblox/x1-sale/pkg/svm/syscall"
)

// ProgramID is the sale program address.
var ProgramID = types.SaleProgramAddr

// SaleSeed is the only seed of the sale address. The address has no
// variable component, so a deployment holds at most one sale.
const SaleSeed = "sale"

// GetSaleAddress returns the sale config address and its bump. The same
// address is the authority of the custody vault.
func GetSaleAddress() (types.Pubkey, uint8, error) {
	return syscall.FindProgramAddress([][]byte{[]byte(SaleSeed)}, ProgramID)
}

// saleSignerSeeds returns the seeds the program signs with as the sale
// address.
func saleSignerSeeds(bump uint8) [][]byte {
	return [][]byte{[]byte(SaleSeed), {bump}}
}
