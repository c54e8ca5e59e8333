package mongotools

import (
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"

	"github.com/nikmy/remotetx/pkg/errors"
)

// Command builds a command document, name must come first.
func Command(name string, value any, fields ...bson.E) bson.D {
	cmd := make(bson.D, 0, len(fields)+1)
	cmd = append(cmd, bson.E{Key: name, Value: value})
	return append(cmd, fields...)
}

// SetDefault appends key=value unless cmd already has key.
func SetDefault(cmd bson.D, key string, value any) bson.D {
	for _, e := range cmd {
		if e.Key == key {
			return cmd
		}
	}
	return append(cmd, bson.E{Key: key, Value: value})
}

// SessionUUID extracts the id of a logical session document {id: UUID}.
func SessionUUID(lsid bson.Raw) (uuid.UUID, error) {
	val, err := lsid.LookupErr("id")
	if err != nil {
		return uuid.Nil, errors.WrapFail(err, "lookup session id")
	}

	if val.Type != bsontype.Binary {
		return uuid.Nil, errors.Errorf("session id has type %s", val.Type)
	}

	_, data := val.Binary()
	id, err := uuid.FromBytes(data)
	return id, errors.WrapFail(err, "parse session uuid")
}
