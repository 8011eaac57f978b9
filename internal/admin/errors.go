package admin

import (
	"errors"

	"github.com/iliyamo/bunker-admin/internal/service"
)

// Error kinds reported as metric outcomes and over the RPC transports.
const (
	KindInvalidParams  = "invalid_params"
	KindNotFound       = "not_found"
	KindDeleted        = "deleted"
	KindAlreadyDeleted = "already_deleted"
	KindAlreadyRevoked = "already_revoked"
	KindConflict       = "conflict"
	KindInternal       = "internal"
)

// ErrorKind classifies err by the service sentinel it wraps.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, service.ErrInvalidParams):
		return KindInvalidParams
	case errors.Is(err, service.ErrNotFound):
		return KindNotFound
	case errors.Is(err, service.ErrDeleted):
		return KindDeleted
	case errors.Is(err, service.ErrAlreadyDeleted):
		return KindAlreadyDeleted
	case errors.Is(err, service.ErrAlreadyRevoked):
		return KindAlreadyRevoked
	case errors.Is(err, service.ErrConflict):
		return KindConflict
	default:
		return KindInternal
	}
}

// PublicMessage is the text shown to a caller.  Internal failures are not
// echoed back.
func PublicMessage(err error) string {
	if ErrorKind(err) == KindInternal {
		return "internal error"
	}
	return err.Error()
}
