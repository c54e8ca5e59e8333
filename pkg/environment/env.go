package environment

import "strings"

type Env int

const (
	Unknown Env = iota
	Development
	Production
)

func FromString(s string) Env {
	switch strings.ToLower(s) {
	case "dev", "development":
		return Development
	case "prod", "production":
		return Production
	default:
		return Unknown
	}
}

func (e Env) String() string {
	switch e {
	case Development:
		return "dev"
	case Production:
		return "prod"
	default:
		return "unknown"
	}
}

func (e *Env) UnmarshalYAML(unmarshal func(any) error) error {
	var raw string

	err := unmarshal(&raw)
	if err != nil {
		return err
	}

	*e = FromString(raw)
	return nil
}
