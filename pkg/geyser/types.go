package geyser

import (
	"github.com/fortiblox/x1-sale/internal/types"
	"github.com/fortiblox/x1-sale/pkg/bank"
)

// EventKind identifies the payload of an Event.
type EventKind string

const (
	// KindAccount events carry a committed account write.
	KindAccount EventKind = "account"

	// KindTransaction events carry the status of an executed transaction.
	KindTransaction EventKind = "transaction"
)

// Event is one message on the stream. Exactly one of Account and
// Transaction is set, matching Kind.
type Event struct {
	Kind        EventKind         `json:"kind"`
	Slot        uint64            `json:"slot"`
	Account     *AccountUpdate    `json:"account,omitempty"`
	Transaction *TransactionEvent `json:"transaction,omitempty"`
}

// AccountUpdate is the state of an account after a committed
// transaction wrote it.
type AccountUpdate struct {
	Pubkey     types.Pubkey `json:"pubkey"`
	Lamports   uint64       `json:"lamports"`
	Owner      types.Pubkey `json:"owner"`
	Executable bool         `json:"executable"`
	Data       []byte       `json:"data"`

	// Signature is the transaction that produced the write.
	Signature types.Signature `json:"signature"`
}

// TransactionEvent is the outcome of an executed transaction.
type TransactionEvent struct {
	Signature            types.Signature `json:"signature"`
	Success              bool            `json:"success"`
	Err                  string          `json:"err,omitempty"`
	InstructionIndex     *int            `json:"instructionIndex,omitempty"`
	CustomCode           *uint32         `json:"customCode,omitempty"`
	Fee                  uint64          `json:"fee"`
	ComputeUnitsConsumed uint64          `json:"computeUnitsConsumed"`
	Logs                 []string        `json:"logs,omitempty"`
	Accounts             []types.Pubkey  `json:"accounts"`
	BlockTime            int64           `json:"blockTime"`
}

// Filter selects the events a subscriber receives.
type Filter struct {
	// Accounts restricts events to the listed keys. Transactions match
	// when they reference any of them. Empty means every account.
	Accounts []types.Pubkey `json:"accounts,omitempty"`

	// Accepted kinds. When both are false, both kinds are delivered.
	IncludeAccounts     bool `json:"includeAccounts"`
	IncludeTransactions bool `json:"includeTransactions"`
}

// SubscribeRequest opens a subscription.
type SubscribeRequest struct {
	Filter Filter `json:"filter"`
}

// Matches reports whether ev passes the filter.
func (f *Filter) Matches(ev *Event) bool {
	both := !f.IncludeAccounts && !f.IncludeTransactions
	switch ev.Kind {
	case KindAccount:
		if !both && !f.IncludeAccounts {
			return false
		}
		return f.wants(ev.Account.Pubkey)
	case KindTransaction:
		if !both && !f.IncludeTransactions {
			return false
		}
		for _, key := range ev.Transaction.Accounts {
			if f.wants(key) {
				return true
			}
		}
		return len(f.Accounts) == 0
	default:
		return false
	}
}

func (f *Filter) wants(key types.Pubkey) bool {
	if len(f.Accounts) == 0 {
		return true
	}
	for _, k := range f.Accounts {
		if k == key {
			return true
		}
	}
	return false
}

// EventsFromStatus converts an executed transaction into stream events:
// one event per committed account write, then the transaction status.
// Failed transactions produce only the status event.
func EventsFromStatus(status *bank.TransactionStatus) []*Event {
	result := status.Result
	events := make([]*Event, 0, len(status.Updates)+1)

	for _, u := range status.Updates {
		events = append(events, &Event{
			Kind: KindAccount,
			Slot: result.Slot,
			Account: &AccountUpdate{
				Pubkey:     u.Pubkey,
				Lamports:   u.Account.Lamports,
				Owner:      u.Account.Owner,
				Executable: u.Account.Executable,
				Data:       append([]byte(nil), u.Account.Data...),
				Signature:  result.Signature,
			},
		})
	}

	tx := &TransactionEvent{
		Signature:            result.Signature,
		Success:              result.Err == nil,
		Fee:                  result.Fee,
		ComputeUnitsConsumed: result.ComputeUnitsConsumed,
		Logs:                 result.Logs,
		Accounts:             append([]types.Pubkey(nil), status.Transaction.Message.Accounts...),
		BlockTime:            status.BlockTime,
	}
	if result.Err != nil {
		tx.Err = result.Err.Error()
		if index, ok := bank.InstructionIndex(result.Err); ok {
			tx.InstructionIndex = &index
		}
		if code, ok := bank.CustomErrorCode(result.Err); ok {
			tx.CustomCode = &code
		}
	}

	return append(events, &Event{
		Kind:        KindTransaction,
		Slot:        result.Slot,
		Transaction: tx,
	})
}
