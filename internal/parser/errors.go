// Package parser holds what the profile format parsers below it share.
package parser

import "errors"

// ErrInvalidFormat is wrapped by every per-line format error.
var ErrInvalidFormat = errors.New("invalid input format")
