package config

import "errors"

var (
	ErrInvalidFlagValue = errors.New("config: invalid flag value")
	ErrNoAction         = errors.New("config: no action requested")
	ErrConfigFile       = errors.New("config: loading --config file")
)
