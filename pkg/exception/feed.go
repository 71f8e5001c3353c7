package exception

import "errors"

// Feed errors
var (
	ErrInvalidSubscribeRequest = errors.New("feed: invalid subscribe request")
	ErrUnknownDataKind         = errors.New("feed: unknown data kind")
	ErrDecode                  = errors.New("feed: decode payload failed")
	ErrUnknownTopic            = errors.New("feed: unknown topic")
)
