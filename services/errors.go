package services

import "errors"

// Typed failure conditions surfaced by the control and tournament surfaces.
// The live socket protocol never surfaces these; it suppresses routine
// invalid input instead.
var (
	errValidationFailed = errors.New("validation failed")
	errRoomNotFound     = errors.New("room not found")
	errGameEnded        = errors.New("game already ended")
	errOpponentMissing  = errors.New("opponent missing")
)
