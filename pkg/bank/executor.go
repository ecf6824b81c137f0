package bank

import (
	"bytes"
	"fmt"
	"math/bits"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/fortiblox/x1-sale/internal/types"
	"github.com/fortiblox/x1-sale/pkg/accounts"
	"github.com/fortiblox/x1-sale/pkg/svm"
	"github.com/fortiblox/x1-sale/pkg/svm/syscall"
	"github.com/fortiblox/x1-sale/pkg/transaction"
)

// txAccount is the working copy of one message account.
type txAccount struct {
	key      types.Pubkey
	account  *accounts.Account
	signer   bool
	writable bool
}

// txContext holds the working state of one executing transaction. Nothing
// in it reaches the account store unless the whole transaction succeeds.
type txContext struct {
	log      *logrus.Entry
	programs map[types.Pubkey]svm.Program
	rent     svm.Rent
	accounts []*txAccount
	meter    *svm.ComputeMeter
	logs     []string

	// stack holds the programs currently executing, outermost first.
	stack []types.Pubkey
}

func (tc *txContext) indexOf(key types.Pubkey) int {
	for i, a := range tc.accounts {
		if a.key == key {
			return i
		}
	}
	return -1
}

// position is one instruction account: the message account it refers to
// and the privileges the instruction grants over it.
type position struct {
	index    int
	signer   bool
	writable bool
}

// executeInstruction runs programID over positions, including any nested
// invocation, and writes the verified result into the working state.
func (tc *txContext) executeInstruction(programID types.Pubkey, positions []position, data []byte) error {
	program, ok := tc.programs[programID]
	if !ok {
		return errors.Wrapf(svm.ErrUnsupportedProgram, "%s", programID)
	}

	tc.stack = append(tc.stack, programID)
	defer func() { tc.stack = tc.stack[:len(tc.stack)-1] }()

	depth := len(tc.stack)
	tc.logs = append(tc.logs, fmt.Sprintf("Program %s invoke [%d]", programID, depth))

	f := newFrame(tc, programID, positions)
	err := f.run(program, data)
	if err == nil {
		err = f.sync()
	}
	if err != nil {
		tc.logs = append(tc.logs, fmt.Sprintf("Program %s failed: %v", programID, err))
		return err
	}

	tc.logs = append(tc.logs, fmt.Sprintf("Program %s success", programID))
	return nil
}

// frame is the InvokeContext of one program invocation. Views are copies of
// the working state; they are verified and written back by sync.
type frame struct {
	tx        *txContext
	program   types.Pubkey
	positions []position
	views     []*svm.AccountInfo

	// distinct lists the message indexes of the frame in first use order.
	distinct []int
	byIndex  map[int]*svm.AccountInfo
	pre      map[int]*accounts.Account
}

var _ svm.InvokeContext = (*frame)(nil)

func newFrame(tc *txContext, program types.Pubkey, positions []position) *frame {
	f := &frame{
		tx:        tc,
		program:   program,
		positions: positions,
		views:     make([]*svm.AccountInfo, len(positions)),
		byIndex:   make(map[int]*svm.AccountInfo, len(positions)),
		pre:       make(map[int]*accounts.Account, len(positions)),
	}

	for i, p := range positions {
		view, ok := f.byIndex[p.index]
		if !ok {
			account := tc.accounts[p.index]
			view = &svm.AccountInfo{Key: account.key}
			copyInto(view, account.account)

			f.byIndex[p.index] = view
			f.pre[p.index] = account.account.Clone()
			f.distinct = append(f.distinct, p.index)
		}
		// Duplicate references share a view with the union of their
		// privileges.
		view.IsSigner = view.IsSigner || p.signer
		view.IsWritable = view.IsWritable || p.writable
		f.views[i] = view
	}
	return f
}

func (f *frame) run(program svm.Program, data []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Wrapf(ErrProgramPanicked, "%v", r)
		}
	}()
	return program.Process(f, data)
}

// sync verifies the changes made through the views since the last sync and
// applies them to the working state.
func (f *frame) sync() error {
	var preHi, preLo, postHi, postLo uint64
	posts := make(map[int]*accounts.Account, len(f.distinct))

	for _, index := range f.distinct {
		view := f.byIndex[index]
		pre := f.pre[index]
		post := &accounts.Account{
			Lamports:   view.Lamports,
			Data:       append([]byte(nil), view.Data...),
			Owner:      view.Owner,
			Executable: view.Executable,
			RentEpoch:  view.RentEpoch,
		}

		if err := verifyChange(f.program, pre, post, view.IsWritable); err != nil {
			return errors.Wrapf(err, "account %s", view.Key)
		}
		posts[index] = post

		var carry uint64
		preLo, carry = bits.Add64(preLo, pre.Lamports, 0)
		preHi += carry
		postLo, carry = bits.Add64(postLo, post.Lamports, 0)
		postHi += carry
	}
	if preHi != postHi || preLo != postLo {
		return ErrUnbalancedInstruction
	}

	for index, post := range posts {
		f.tx.accounts[index].account = post
		f.pre[index] = post.Clone()
	}
	return nil
}

// refresh reloads every view from the working state.
func (f *frame) refresh() {
	for _, index := range f.distinct {
		account := f.tx.accounts[index].account
		copyInto(f.byIndex[index], account)
		f.pre[index] = account.Clone()
	}
}

func (f *frame) ProgramID() types.Pubkey {
	return f.program
}

func (f *frame) AccountCount() int {
	return len(f.views)
}

func (f *frame) GetAccount(index int) (*svm.AccountInfo, error) {
	if index < 0 || index >= len(f.views) {
		return nil, errors.Wrapf(svm.ErrNotEnoughAccountKeys, "index %d", index)
	}
	return f.views[index], nil
}

func (f *frame) GetRentMinimum(dataLen uint64) uint64 {
	return f.tx.rent.MinimumBalance(dataLen)
}

func (f *frame) ConsumeCompute(units uint64) error {
	return f.tx.meter.Consume(units)
}

func (f *frame) Log(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	f.tx.logs = append(f.tx.logs, "Program log: "+msg)
	f.tx.log.WithField("program", f.program).Debug(msg)
}

// Invoke runs a nested instruction. The caller's pending changes are
// verified first, and its views see the callee's changes afterwards.
func (f *frame) Invoke(ix transaction.Instruction, signerSeeds ...[][]byte) error {
	if err := f.ConsumeCompute(svm.CUInvokeBase); err != nil {
		return err
	}
	if len(f.tx.stack) > svm.CPIDepthMax {
		return syscall.ErrCPIDepthExceeded
	}
	if len(ix.Data) > syscall.MaxCPIInstructionSize {
		return syscall.ErrCPIDataTooLarge
	}
	for i, p := range f.tx.stack {
		if p == ix.Program && i != len(f.tx.stack)-1 {
			return errors.Wrapf(syscall.ErrCPIReentrancy, "%s", ix.Program)
		}
	}

	callerHasProgram := false
	caller := make([]syscall.CallerAccount, 0, len(f.distinct))
	for _, index := range f.distinct {
		view := f.byIndex[index]
		if view.Key == ix.Program {
			callerHasProgram = true
		}
		caller = append(caller, syscall.CallerAccount{
			Key:        view.Key,
			IsSigner:   view.IsSigner,
			IsWritable: view.IsWritable,
		})
	}
	if !callerHasProgram {
		return errors.Wrapf(syscall.ErrCPIAccountNotFound, "program %s", ix.Program)
	}

	for range signerSeeds {
		if err := f.ConsumeCompute(svm.CUCreateProgramAddress); err != nil {
			return err
		}
	}
	pdaSigners, err := syscall.DeriveSigners(f.program, signerSeeds)
	if err != nil {
		return err
	}

	callee := make([]syscall.CalleeAccount, len(ix.Accounts))
	for i, meta := range ix.Accounts {
		callee[i] = syscall.CalleeAccount{
			Key:        meta.PublicKey,
			IsSigner:   meta.IsSigner,
			IsWritable: meta.IsWritable,
		}
	}
	if err := syscall.CheckPrivileges(caller, callee, pdaSigners); err != nil {
		return err
	}

	if err := f.sync(); err != nil {
		return err
	}
	defer f.refresh()

	positions := make([]position, len(ix.Accounts))
	for i, meta := range ix.Accounts {
		positions[i] = position{
			index:    f.tx.indexOf(meta.PublicKey),
			signer:   meta.IsSigner,
			writable: meta.IsWritable,
		}
	}
	return f.tx.executeInstruction(ix.Program, positions, ix.Data)
}

// verifyChange checks the ownership rules for one account over one
// invocation by program.
func verifyChange(program types.Pubkey, pre, post *accounts.Account, writable bool) error {
	dataChanged := !bytes.Equal(pre.Data, post.Data)

	if pre.Executable != post.Executable {
		return ErrExecutableModified
	}
	if !writable {
		switch {
		case pre.Lamports != post.Lamports:
			return ErrReadonlyLamportChange
		case dataChanged:
			return ErrReadonlyModified
		case pre.Owner != post.Owner:
			return ErrModifiedProgramID
		}
		return nil
	}

	if pre.Owner != post.Owner {
		if pre.Owner != program || pre.Executable || !isZeroed(post.Data) {
			return ErrModifiedProgramID
		}
	}
	if post.Lamports < pre.Lamports && pre.Owner != program {
		return ErrExternalLamportSpend
	}
	if dataChanged && pre.Owner != program {
		return ErrExternalDataModified
	}
	if len(post.Data) > accounts.MaxAccountDataSize {
		return ErrInvalidRealloc
	}
	return nil
}

func isZeroed(data []byte) bool {
	for _, b := range data {
		if b != 0 {
			return false
		}
	}
	return true
}

func copyInto(view *svm.AccountInfo, account *accounts.Account) {
	view.Owner = account.Owner
	view.Lamports = account.Lamports
	view.Data = append([]byte(nil), account.Data...)
	view.Executable = account.Executable
	view.RentEpoch = account.RentEpoch
}

// accountChanged reports whether two account states differ.
func accountChanged(a, b *accounts.Account) bool {
	return a.Lamports != b.Lamports ||
		a.Owner != b.Owner ||
		a.Executable != b.Executable ||
		a.RentEpoch != b.RentEpoch ||
		!bytes.Equal(a.Data, b.Data)
}
