package manifest

import "errors"

// ErrInvalid is wrapped into errors returned by Open when the manifest
// text could not be parsed into any record.
var ErrInvalid = errors.New("invalid-manifest")

// ErrTooLarge is wrapped into errors returned by Open when the manifest
// file exceeds MaxSize.
var ErrTooLarge = errors.New("manifest too large")
