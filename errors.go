// Copyright 2019, LightStep Inc.

package ckms

import "fmt"

// InvalidArgumentError reports a malformed configuration value supplied to a
// constructor in this package. Callers that want to distinguish
// configuration mistakes from other error types can use errors.As.
type InvalidArgumentError struct {
	Field  string
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("ckms: invalid %s: %s", e.Field, e.Reason)
}

func invalidArgument(field, reason string) error {
	return &InvalidArgumentError{Field: field, Reason: reason}
}
