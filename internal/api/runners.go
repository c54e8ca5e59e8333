package api

import (
	"encoding/json"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/nikmy/remotetx/internal/conn"
	"github.com/nikmy/remotetx/internal/engine/memory"
	"github.com/nikmy/remotetx/internal/engine/mongo"
	"github.com/nikmy/remotetx/pkg/errors"
)

// MemoryRunner accepts {"kind": "put", "key": "k", "value": "v"}.
func MemoryRunner() Runner {
	return func(body []byte) (conn.QueryFunc, func() any, error) {
		var op memory.Op
		err := json.Unmarshal(body, &op)
		if err != nil {
			return nil, nil, errors.WrapFail(err, "parse op")
		}

		res := new(memory.Result)
		return memory.Run(op, res), func() any { return res }, nil
	}
}

// MongoRunner accepts a command document in extended JSON.
func MongoRunner() Runner {
	return func(body []byte) (conn.QueryFunc, func() any, error) {
		var cmd bson.D
		err := bson.UnmarshalExtJSON(body, false, &cmd)
		if err != nil {
			return nil, nil, errors.WrapFail(err, "parse command")
		}

		reply := new(bson.Raw)
		return mongo.Run(cmd, reply), func() any {
			if *reply == nil {
				return nil
			}
			return json.RawMessage(reply.String())
		}, nil
	}
}
