package dataset

import "fmt"

// ConfigError reports missing or malformed configuration detected before any
// traffic is generated.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config error on '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("config error: %s", e.Message)
}

// DataError reports a dataset whose content cannot be used for a run.
type DataError struct {
	Path    string
	Message string
	Err     error
}

func (e *DataError) Error() string {
	msg := e.Message
	if e.Path != "" {
		msg = fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("data error: %s: %v", msg, e.Err)
	}
	return fmt.Sprintf("data error: %s", msg)
}

func (e *DataError) Unwrap() error {
	return e.Err
}
