// internal/errors/errors.go
package appErrors

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a resource does not exist or is not owned by the caller.
type ErrNotFound struct {
	Resource string
	ID       any
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s with ID %v not found", e.Resource, e.ID)
}

func NewNotFound(resource string, id any) error {
	return &ErrNotFound{Resource: resource, ID: id}
}

// ErrValidation marks malformed input. Nothing was mutated.
type ErrValidation struct {
	Field  string
	Reason string
}

func (e *ErrValidation) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func NewValidation(field, reason string) error {
	return &ErrValidation{Field: field, Reason: reason}
}

// ErrQuotaExceeded is returned when the account's tier does not allow the action.
type ErrQuotaExceeded struct {
	Action string
	Used   int
	Limit  int
}

func (e *ErrQuotaExceeded) Error() string {
	return fmt.Sprintf("%s quota exceeded (%d/%d)", e.Action, e.Used, e.Limit)
}

func NewQuotaExceeded(action string, used, limit int) error {
	return &ErrQuotaExceeded{Action: action, Used: used, Limit: limit}
}

// ErrUnauthorized covers missing identity, bad signatures and bad shared secrets.
type ErrUnauthorized struct {
	Reason string
}

func (e *ErrUnauthorized) Error() string {
	return "unauthorized: " + e.Reason
}

func NewUnauthorized(reason string) error {
	return &ErrUnauthorized{Reason: reason}
}

// ErrDispatch wraps a failure returned by the mail provider.
type ErrDispatch struct {
	Err error
}

func (e *ErrDispatch) Error() string {
	return "dispatch failed: " + e.Err.Error()
}

func (e *ErrDispatch) Unwrap() error { return e.Err }

func NewDispatch(err error) error {
	return &ErrDispatch{Err: err}
}

func IsNotFound(err error) bool {
	var target *ErrNotFound
	return errors.As(err, &target)
}

func IsValidation(err error) bool {
	var target *ErrValidation
	return errors.As(err, &target)
}

func IsQuotaExceeded(err error) bool {
	var target *ErrQuotaExceeded
	return errors.As(err, &target)
}

func IsUnauthorized(err error) bool {
	var target *ErrUnauthorized
	return errors.As(err, &target)
}
