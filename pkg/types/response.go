// Package types holds the JSON envelopes shared by the HTTP API.
package types

type SuccessEnvelope struct {
	Data any `json:"data"`
}

// Page is a keyset-paginated list. NextCursor is empty on the last page.
type Page[T any] struct {
	Items      []T    `json:"items"`
	NextCursor string `json:"next_cursor"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorEnvelope echoes the request id so clients can quote it in support requests.
type ErrorEnvelope struct {
	Error     APIError `json:"error"`
	RequestID string   `json:"request_id,omitempty"`
}
