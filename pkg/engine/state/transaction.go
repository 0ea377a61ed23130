package state

import "fmt"

// Transaction is a speculative write scope opened against a State. Nodes
// that want all-or-nothing semantics across several Set calls open one,
// make their writes, and either Commit or Rollback.
//
// Transactions nest: opening one while another is open on the same State
// pushes onto a LIFO stack, and Rollback/Commit always act on the
// most-recently-opened transaction.
type Transaction struct {
	state    *State
	snapshot *State
	done     bool
}

// BeginTransaction opens a transaction against s, capturing a snapshot to
// roll back to.
func (s *State) BeginTransaction() *Transaction {
	tx := &Transaction{state: s, snapshot: s.Snapshot()}
	s.mu.Lock()
	s.txStack = append(s.txStack, tx)
	s.mu.Unlock()
	return tx
}

// Commit finalizes the transaction's writes, popping it off the stack.
func (tx *Transaction) Commit() error {
	if tx.done {
		return fmt.Errorf("state: transaction already closed")
	}
	return tx.close()
}

// Rollback restores the State to the snapshot taken at BeginTransaction,
// discarding every write made since.
func (tx *Transaction) Rollback() error {
	if tx.done {
		return fmt.Errorf("state: transaction already closed")
	}
	tx.state.Restore(tx.snapshot)
	return tx.close()
}

func (tx *Transaction) close() error {
	s := tx.state
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.txStack)
	if n == 0 || s.txStack[n-1] != tx {
		return fmt.Errorf("state: transaction is not the innermost open transaction")
	}
	s.txStack = s.txStack[:n-1]
	tx.done = true
	return nil
}

// RollbackInnermost rolls back the most-recently-opened transaction, used
// by the engine's Rollback recovery action.
func (s *State) RollbackInnermost() error {
	s.mu.RLock()
	n := len(s.txStack)
	var tx *Transaction
	if n > 0 {
		tx = s.txStack[n-1]
	}
	s.mu.RUnlock()
	if tx == nil {
		return fmt.Errorf("state: no open transaction")
	}
	return tx.Rollback()
}

// InTransaction reports whether s currently has an open transaction.
func (s *State) InTransaction() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.txStack) > 0
}
