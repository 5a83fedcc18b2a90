package models

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the collectors and the read path. Match with errors.Is.
var (
	// ErrSourceAcquisition means one data point could not be read. The tick is skipped.
	ErrSourceAcquisition = errors.New("source acquisition failed")

	// ErrMalformedPayload means the remote API answered with an unexpected shape.
	ErrMalformedPayload = fmt.Errorf("%w: malformed payload", ErrSourceAcquisition)

	// ErrStoreConnection means the store is unreachable or the connection dropped.
	ErrStoreConnection = errors.New("store connection failed")

	// ErrSchema means table creation failed. Retried on the next reconnect.
	ErrSchema = fmt.Errorf("%w: schema", ErrStoreConnection)
)
