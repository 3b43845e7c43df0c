// Package manifest reads package.json files and registers bundle entry points in them.
package manifest

import (
	"errors"
	"fmt"
)

// ErrOutsidePackage is returned when a build output does not resolve under the package folder
var ErrOutsidePackage = errors.New("path is outside the package folder")

// NotFoundError is returned when the package folder or its manifest does not exist
type NotFoundError struct {
	Path string
	Err  error
}

func (e *NotFoundError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s not found: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("%s not found", e.Path)
}

func (e *NotFoundError) Unwrap() error {
	return e.Err
}

// ParseError is returned when a manifest is not a valid JSON object
type ParseError struct {
	Path   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse %s: %s", e.Path, e.Reason)
}

// WriteError is returned when an updated manifest cannot be persisted
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("failed to write %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// IsNotFound checks if an error is a NotFoundError
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsParseError checks if an error is a ParseError
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

// IsWriteError checks if an error is a WriteError
func IsWriteError(err error) bool {
	var we *WriteError
	return errors.As(err, &we)
}
