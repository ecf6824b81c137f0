// Package svmtest provides an in-memory InvokeContext for program unit
// tests.
package svmtest

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/fortiblox/x1-sale/internal/types"
	"github.com/fortiblox/x1-sale/pkg/svm"
	"github.com/fortiblox/x1-sale/pkg/transaction"
)

// Context is a minimal svm.InvokeContext. Invoke records nested
// instructions instead of executing them.
type Context struct {
	Program  types.Pubkey
	Accounts []*svm.AccountInfo
	Rent     svm.Rent
	Meter    *svm.ComputeMeter
	Logs     []string
	Invoked  []Invocation

	// InvokeFunc, when set, runs instead of recording.
	InvokeFunc func(ix transaction.Instruction, signerSeeds [][][]byte) error
}

// Invocation is a recorded nested instruction.
type Invocation struct {
	Instruction transaction.Instruction
	SignerSeeds [][][]byte
}

var _ svm.InvokeContext = (*Context)(nil)

// NewContext creates a context for program with accounts.
func NewContext(program types.Pubkey, accounts ...*svm.AccountInfo) *Context {
	return &Context{
		Program:  program,
		Accounts: accounts,
		Rent:     svm.DefaultRent,
		Meter:    svm.NewComputeMeter(svm.CUDefault),
	}
}

func (c *Context) ProgramID() types.Pubkey { return c.Program }

func (c *Context) AccountCount() int { return len(c.Accounts) }

func (c *Context) GetAccount(index int) (*svm.AccountInfo, error) {
	if index < 0 || index >= len(c.Accounts) {
		return nil, errors.Wrapf(svm.ErrNotEnoughAccountKeys, "index %d", index)
	}
	return c.Accounts[index], nil
}

func (c *Context) GetRentMinimum(dataLen uint64) uint64 {
	return c.Rent.MinimumBalance(dataLen)
}

func (c *Context) ConsumeCompute(units uint64) error {
	return c.Meter.Consume(units)
}

func (c *Context) Log(format string, args ...interface{}) {
	c.Logs = append(c.Logs, fmt.Sprintf(format, args...))
}

func (c *Context) Invoke(ix transaction.Instruction, signerSeeds ...[][]byte) error {
	if c.InvokeFunc != nil {
		return c.InvokeFunc(ix, signerSeeds)
	}
	c.Invoked = append(c.Invoked, Invocation{Instruction: ix, SignerSeeds: signerSeeds})
	return nil
}

// Wallet returns a system owned signer account.
func Wallet(key types.Pubkey, lamports uint64) *svm.AccountInfo {
	return &svm.AccountInfo{
		Key:        key,
		Owner:      types.SystemProgramAddr,
		Lamports:   lamports,
		IsSigner:   true,
		IsWritable: true,
	}
}

// Owned returns a writable, non-signer account owned by program.
func Owned(key, program types.Pubkey, lamports uint64, data []byte) *svm.AccountInfo {
	return &svm.AccountInfo{
		Key:        key,
		Owner:      program,
		Lamports:   lamports,
		Data:       data,
		IsWritable: true,
	}
}
