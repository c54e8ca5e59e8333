package txn

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	"github.com/nikmy/remotetx/pkg/errors"
)

//go:generate mockgen -source=model.go -destination=txnmock/mocks.go -package=txnmock

// Session is a lease on server-side execution resources.
// Close must be called exactly once when the lease ends.
type Session interface {
	ID() string

	Commit(ctx context.Context, txID string) error
	Rollback(ctx context.Context, txID string) error
	KeepAlive(ctx context.Context) error

	Close(ctx context.Context)
}

type SessionProvider interface {
	CreateSession(ctx context.Context) (Session, error)
}

type IsolationLevel int

const (
	// SerializableReadWrite is the only level that
	// supports writes and interactive transactions
	SerializableReadWrite IsolationLevel = iota

	// OnlineConsistentReadOnly reads the latest
	// committed data, consistent within the query
	OnlineConsistentReadOnly

	// OnlineInconsistentReadOnly reads the latest
	// committed data, each shard may be read at
	// a different point in time
	OnlineInconsistentReadOnly

	// StaleConsistentReadOnly reads a consistent
	// snapshot that may lag behind recent commits
	StaleConsistentReadOnly
)

var levelNames = [...]string{
	SerializableReadWrite:      "SerializableReadWrite",
	OnlineConsistentReadOnly:   "OnlineConsistentReadOnly",
	OnlineInconsistentReadOnly: "OnlineInconsistentReadOnly",
	StaleConsistentReadOnly:    "StaleConsistentReadOnly",
}

func (l IsolationLevel) Valid() bool {
	return l >= SerializableReadWrite && l <= StaleConsistentReadOnly
}

func (l IsolationLevel) ReadOnly() bool {
	return l != SerializableReadWrite
}

func (l IsolationLevel) String() string {
	if !l.Valid() {
		return "IsolationLevel(" + strconv.Itoa(int(l)) + ")"
	}
	return levelNames[l]
}

func ParseIsolationLevel(s string) (IsolationLevel, error) {
	norm := strings.ToLower(strings.NewReplacer("_", "", "-", "", " ", "").Replace(s))
	for lvl, name := range levelNames {
		if strings.ToLower(name) == norm {
			return IsolationLevel(lvl), nil
		}
	}

	switch norm {
	case "serializable", "rw":
		return SerializableReadWrite, nil
	case "onlineconsistent", "online":
		return OnlineConsistentReadOnly, nil
	case "onlineinconsistent":
		return OnlineInconsistentReadOnly, nil
	case "stale":
		return StaleConsistentReadOnly, nil
	}

	return 0, errors.Wrapf(ErrUnsupportedIsolationLevel, "%q", s)
}

func (l *IsolationLevel) UnmarshalYAML(unmarshal func(any) error) error {
	var raw string

	err := unmarshal(&raw)
	if err != nil {
		return err
	}

	*l, err = ParseIsolationLevel(raw)
	return err
}

// FromSQL maps database/sql isolation levels onto the engine ones,
// sql.LevelDefault resolves to def.
func FromSQL(lvl sql.IsolationLevel, def IsolationLevel) (IsolationLevel, error) {
	switch lvl {
	case sql.LevelDefault:
		return def, nil
	case sql.LevelSerializable:
		return SerializableReadWrite, nil
	case sql.LevelRepeatableRead:
		return OnlineConsistentReadOnly, nil
	case sql.LevelReadUncommitted:
		return OnlineInconsistentReadOnly, nil
	case sql.LevelReadCommitted:
		return StaleConsistentReadOnly, nil
	default:
		return 0, errors.Wrapf(ErrUnsupportedIsolationLevel, "sql level %s", lvl)
	}
}
