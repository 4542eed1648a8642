package ws

import "errors"

var (
	errInvalidRoom      = errors.New("invalid_room")
	errInvalidLockScope = errors.New("invalid_lock_request")
)
