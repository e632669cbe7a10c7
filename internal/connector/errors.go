package connector

import (
	"errors"
	"fmt"
	"net/http"

	"contextsync/internal/localdb"
	"contextsync/internal/schema"
)

// HTTPError is a non-2xx answer from the exchange or remote write endpoint.
type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("http %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// IsUnauthorized reports whether err is a 401 from either endpoint.
func IsUnauthorized(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusUnauthorized
}

// UploadError names the mutation that aborted a batch.
type UploadError struct {
	Table schema.Table
	RowID string
	Op    localdb.Op
	Err   error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload %s %s/%s: %v", e.Op, e.Table, e.RowID, e.Err)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}
