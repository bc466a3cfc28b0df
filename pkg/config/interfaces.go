package config

// Validator is implemented by configuration sections that check themselves
// after loading. LoadAndValidate calls it.
type Validator interface {
	Validate() error
}

var _ Validator = (*Config)(nil)
