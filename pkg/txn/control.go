package txn

import "fmt"

type controlMode int

const (
	modeBegin controlMode = iota
	modeContinue
	modeSnapshot
)

// Control tells the query executor how the next query
// begins, continues or ends a transaction.
type Control struct {
	mode   controlMode
	txID   string
	commit bool
	level  IsolationLevel
}

// BeginTx starts a new serializable transaction, commit
// finishes it together with the query.
func BeginTx(commit bool) Control {
	return Control{mode: modeBegin, commit: commit, level: SerializableReadWrite}
}

// ContinueTx runs the query inside the open transaction txID.
func ContinueTx(txID string, commit bool) Control {
	return Control{mode: modeContinue, txID: txID, commit: commit, level: SerializableReadWrite}
}

// Snapshot runs a read-only query, no transaction outlives it.
func Snapshot(level IsolationLevel) Control {
	return Control{mode: modeSnapshot, commit: true, level: level}
}

func (c Control) Begins() bool {
	return c.mode == modeBegin
}

func (c Control) TxID() string {
	return c.txID
}

func (c Control) Commits() bool {
	return c.commit
}

func (c Control) ReadOnly() bool {
	return c.mode == modeSnapshot
}

func (c Control) Level() IsolationLevel {
	return c.level
}

func (c Control) String() string {
	switch c.mode {
	case modeBegin:
		if c.commit {
			return "begin+commit"
		}
		return "begin"
	case modeContinue:
		if c.commit {
			return fmt.Sprintf("continue(%s)+commit", c.txID)
		}
		return fmt.Sprintf("continue(%s)", c.txID)
	default:
		return fmt.Sprintf("snapshot(%s)", c.level)
	}
}
