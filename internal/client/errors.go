package client

import "fmt"

// NetworkError wraps a transport-level failure (DNS, refused connection,
// timeout). Poll ticks recover from these by retrying on the next tick.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// HTTPError is a non-2xx response. Detail carries the server-supplied
// error text when present.
type HTTPError struct {
	Status int
	Detail string
}

func (e *HTTPError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("server returned %d: %s", e.Status, e.Detail)
	}
	return fmt.Sprintf("server returned %d", e.Status)
}

// Unauthorized reports whether the error is a 401, which escalates to
// re-authentication instead of being retried.
func (e *HTTPError) Unauthorized() bool { return e.Status == 401 }

// MalformedResponseError is a 2xx response whose body could not be
// parsed as the expected JSON shape.
type MalformedResponseError struct {
	Err error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed response: %v", e.Err)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }
