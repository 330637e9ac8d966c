package room

import "errors"

var (
	ErrTextEmpty       = errors.New("message text is empty")
	ErrTextTooLong     = errors.New("message text is too long")
	ErrInvalidSettings = errors.New("settings out of range")
	ErrInvalidProfile  = errors.New("invalid profile value")
	ErrInvalidProgress = errors.New("invalid progress value")
)
