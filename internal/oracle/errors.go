package oracle

import (
	"errors"
	"fmt"
)

// ErrUnavailable marks a judgement that could not be obtained because the
// model or the object store failed transiently. Redelivery may succeed.
var ErrUnavailable = errors.New("oracle: unavailable")

// ReferenceResolutionError is returned for image references that can never be
// fetched: unsupported URL shapes or objects that do not exist.
type ReferenceResolutionError struct {
	Ref    string
	Reason string
}

func (e *ReferenceResolutionError) Error() string {
	return fmt.Sprintf("oracle: cannot resolve image reference %q: %s", e.Ref, e.Reason)
}

// ResponseError carries model output that could not be turned into a judgement.
type ResponseError struct {
	Raw string
	Err error
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("oracle: unparseable judgement: %v", e.Err)
}

func (e *ResponseError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether a later attempt at the same judgement can succeed.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var refErr *ReferenceResolutionError
	if errors.As(err, &refErr) {
		return false
	}
	var respErr *ResponseError
	return errors.Is(err, ErrUnavailable) || errors.As(err, &respErr)
}
