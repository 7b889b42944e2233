// Package transaction tracks the lifecycle of multi-operation changes against a storage
// backend: creation under a concurrency limit, FIFO operation lists, execution through a
// backend supplied Executor, and background reclamation of abandoned transactions.
package transaction

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sharedcode/storekit"
)

// State of a transaction. Active is the only non-terminal state.
type State int

const (
	Active State = iota
	Committed
	RolledBack
	Failed
)

var stateNames = [...]string{"active", "committed", "rolled_back", "failed"}

func (s State) String() string {
	if int(s) >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// IsTerminal reports whether no further transition is possible from s.
func (s State) IsTerminal() bool {
	return s != Active
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// OperationType is the kind of change an Operation carries.
type OperationType int

const (
	Save OperationType = iota
	Update
	Delete
	BatchSave
	BatchDelete
)

var operationTypeNames = [...]string{"save", "update", "delete", "batch_save", "batch_delete"}

func (t OperationType) String() string {
	if int(t) >= 0 && int(t) < len(operationTypeNames) {
		return operationTypeNames[t]
	}
	return fmt.Sprintf("operation(%d)", int(t))
}

// MarshalText implements encoding.TextMarshaler.
func (t OperationType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText accepts the names produced by String, case insensitive.
func (t *OperationType) UnmarshalText(text []byte) error {
	s := strings.ToLower(string(text))
	for i, n := range operationTypeNames {
		if n == s {
			*t = OperationType(i)
			return nil
		}
	}
	return fmt.Errorf("unknown operation type %q", string(text))
}

// Operation is one step of a transaction, owned by it.
type Operation struct {
	ID       storekit.UUID `json:"id"`
	Type     OperationType `json:"type"`
	Payload  any           `json:"payload,omitempty"`
	Executed bool          `json:"executed"`
	Result   any           `json:"result,omitempty"`
	Err      string        `json:"error,omitempty"`
}

// Transaction is a snapshot of a transaction's state. Values returned by the Manager are
// copies; mutating them has no effect on the managed transaction.
type Transaction struct {
	ID         storekit.UUID  `json:"id"`
	State      State          `json:"state"`
	Operations []Operation    `json:"operations"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Result     any            `json:"result,omitempty"`
	Err        string         `json:"error,omitempty"`

	executing bool
}

func (t *Transaction) clone() Transaction {
	c := *t
	c.Operations = append([]Operation(nil), t.Operations...)
	c.Metadata = copyMetadata(t.Metadata)
	c.executing = false
	return c
}

func copyMetadata(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	c := make(map[string]any, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

// Executor applies the operations of a transaction, in order, against a backend. It runs
// without any manager lock held and should honor ctx.
type Executor func(ctx context.Context, operations []Operation) (any, error)

// Statistics summarizes the transactions a Manager has seen.
type Statistics struct {
	Active          int            `json:"active"`
	Total           int            `json:"total"`
	ByState         map[string]int `json:"by_state"`
	ByOperationType map[string]int `json:"by_operation_type"`
	// OldestActiveAge is the age of the oldest Active transaction, zero when none.
	OldestActiveAge time.Duration `json:"oldest_active_age"`
}
