// Package service implements the bunker admin operations on top of the
// store ports: the identity registry, the policy catalog, the grant
// materializer and the token lifecycle.  Every failure is one of the
// sentinels below, wrapped with a human-readable subject; callers match
// with errors.Is.
package service

import "errors"

var (
	ErrInvalidParams  = errors.New("invalid params")
	ErrNotFound       = errors.New("not found")
	ErrDeleted        = errors.New("has been deleted")
	ErrAlreadyDeleted = errors.New("is already deleted")
	ErrAlreadyRevoked = errors.New("is already revoked")
	ErrConflict       = errors.New("already exists")
)
