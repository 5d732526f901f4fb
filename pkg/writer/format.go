package writer

import (
	"fmt"
	"path"
	"strings"
)

// Format names an output encoding.
type Format string

const (
	FormatJSON   Format = "json"
	FormatGzip   Format = "gzip"
	FormatZstd   Format = "zstd"
	FormatFolded Format = "folded"
)

var contentTypes = map[Format]string{
	FormatJSON:   "application/json",
	FormatGzip:   "application/gzip",
	FormatZstd:   "application/zstd",
	FormatFolded: "text/plain; charset=utf-8",
}

// ParseFormat parses an output format name case-insensitively. Empty means
// json.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(s))
	if f == "" {
		return FormatJSON, nil
	}
	if _, ok := contentTypes[f]; !ok {
		return "", fmt.Errorf("unknown output format %q (valid: json, gzip, zstd, folded)", s)
	}
	return f, nil
}

// FormatFromPath picks the format by file extension, defaulting to json.
func FormatFromPath(p string) Format {
	switch path.Ext(p) {
	case ".gz":
		return FormatGzip
	case ".zst":
		return FormatZstd
	case ".folded", ".txt":
		return FormatFolded
	}
	return FormatJSON
}

// ContentType is the HTTP Content-Type for f.
func (f Format) ContentType() string {
	if ct, ok := contentTypes[f]; ok {
		return ct
	}
	return contentTypes[FormatJSON]
}
