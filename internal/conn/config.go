package conn

import (
	"time"

	"github.com/nikmy/remotetx/pkg/txn"
)

type Config struct {
	Isolation        txn.IsolationLevel `yaml:"isolation"`
	AutoCommit       bool               `yaml:"autoCommit"`
	KeepAliveTimeout time.Duration      `yaml:"keepAliveTimeout"`
}

func DefaultConfig() Config {
	return Config{
		Isolation:        txn.SerializableReadWrite,
		AutoCommit:       true,
		KeepAliveTimeout: 5 * time.Second,
	}
}
