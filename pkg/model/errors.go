package model

import "errors"

// ErrInvalidCombination is returned when a (type, availability) pair violates
// the validity table. See [ValidCombination].
var ErrInvalidCombination = errors.New("invalid type/availability combination")

// ErrNotFound is returned by stores when a referenced id does not exist.
var ErrNotFound = errors.New("not found")
