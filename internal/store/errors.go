package store

import "fmt"

type ErrNotFound struct {
	ID string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("blob not found: %s", e.ID)
}

type ErrExpired struct {
	ID string
}

func (e *ErrExpired) Error() string {
	return fmt.Sprintf("blob expired: %s", e.ID)
}

type ErrInternal struct {
	Err error
}

func (e *ErrInternal) Error() string {
	return fmt.Sprintf("internal storage error: %v", e.Err)
}

func (e *ErrInternal) Unwrap() error {
	return e.Err
}
