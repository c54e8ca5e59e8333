package api

import "time"

type Config struct {
	Proxy struct {
		Header  string   `yaml:"header"`
		Trusted []string `yaml:"trusted"`
	} `yaml:"proxy"`

	HTTP struct {
		Addr         string        `yaml:"addr"`
		ReadTimeout  time.Duration `yaml:"readTimeout"`
		WriteTimeout time.Duration `yaml:"writeTimeout"`
		IdleTimeout  time.Duration `yaml:"idleTimeout"`
	} `yaml:"http"`

	// KeepAliveInterval pings the engine between requests, 0 disables it.
	KeepAliveInterval time.Duration `yaml:"keepAliveInterval"`
	QueueSize         int           `yaml:"queueSize"`
	// RequestTimeout bounds the wait for and the run of one connection call.
	RequestTimeout time.Duration `yaml:"requestTimeout"`
}
