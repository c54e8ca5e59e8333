package memory

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nikmy/remotetx/pkg/errors"
)

type OpKind int

const (
	OpGet OpKind = iota
	OpPut
	OpDelete
)

func (k OpKind) String() string {
	switch k {
	case OpGet:
		return "get"
	case OpPut:
		return "put"
	case OpDelete:
		return "delete"
	default:
		return fmt.Sprintf("OpKind(%d)", int(k))
	}
}

func (k *OpKind) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "get":
		*k = OpGet
	case "put":
		*k = OpPut
	case "delete", "del":
		*k = OpDelete
	default:
		return errors.Errorf("unknown op %q", text)
	}
	return nil
}

// UnmarshalJSON accepts only the textual names, numbers are rejected.
func (k *OpKind) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return errors.WrapFail(err, "decode op kind")
	}
	return k.UnmarshalText([]byte(name))
}

func (k OpKind) valid() bool {
	return k >= OpGet && k <= OpDelete
}

func (k OpKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Op is a single key/value statement.
type Op struct {
	Kind  OpKind `json:"kind"`
	Key   string `json:"key"`
	Value string `json:"value,omitempty"`
}

func (o Op) writes() bool {
	return o.Kind != OpGet
}

func (o Op) String() string {
	if o.Kind == OpPut {
		return fmt.Sprintf("%s %s=%s", o.Kind, o.Key, o.Value)
	}
	return fmt.Sprintf("%s %s", o.Kind, o.Key)
}

type Result struct {
	Value string `json:"value,omitempty"`
	Found bool   `json:"found"`
	TxID  string `json:"txId,omitempty"`
}
