package limitorder

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidParam represents an invalid parameter error
	ErrInvalidParam = errors.New("invalid parameter")

	// ErrNoSigner is returned by operations that need the maker key when the
	// client was created without one.
	ErrNoSigner = errors.New("no private key configured")

	// ErrNotConnected is returned when sending on a closed websocket
	ErrNotConnected = errors.New("websocket not connected")
)

// InvalidParamError represents an invalid parameter error with context
type InvalidParamError struct {
	Message string
}

func (e *InvalidParamError) Error() string {
	return e.Message
}

// Is makes errors.Is(err, ErrInvalidParam) hold.
func (e *InvalidParamError) Is(target error) bool {
	return target == ErrInvalidParam
}

// APIError is a failure reported by the node. Kind carries the engine or
// ledger error kind when there is one, e.g. "bad signature".
type APIError struct {
	Status  int
	Code    int
	Kind    string
	Message string
}

func (e *APIError) Error() string {
	if e.Kind != "" && e.Kind != e.Message {
		return fmt.Sprintf("api error %d (%s): %s", e.Code, e.Kind, e.Message)
	}
	return fmt.Sprintf("api error %d: %s", e.Code, e.Message)
}

// IsKind reports whether err is an APIError of the given kind.
func IsKind(err error, kind string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Kind == kind
}
