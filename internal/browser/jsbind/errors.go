// internal/browser/jsbind/errors.go
package jsbind

import "fmt"

// ScriptError is returned when page script evaluation throws. Callers can
// reach the underlying goja error with errors.As.
type ScriptError struct {
	// Name identifies the script in logs, e.g. "inline" or a file name.
	Name string
	Err  error
}

// Error implements the error interface.
func (e *ScriptError) Error() string {
	return fmt.Sprintf("script %s failed: %v", e.Name, e.Err)
}

// Unwrap provides the underlying error for use with errors.Is/As.
func (e *ScriptError) Unwrap() error {
	return e.Err
}
