package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/flamegiraffe/pkg/compression"
	apperrors "github.com/flamegiraffe/pkg/errors"
)

// RemoteScheme marks a reference served by the configured object store.
const RemoteScheme = "cos://"

// Ref names a profile source or destination: either an object key in the
// configured store ("cos://team/cpu.folded") or a local file path.
type Ref struct {
	Key    string
	Remote bool
}

// ParseRef parses a reference. "-" and "" denote stdin/stdout and are
// returned as a local ref with an empty key.
func ParseRef(s string) (Ref, error) {
	if key, ok := strings.CutPrefix(s, RemoteScheme); ok {
		if key == "" {
			return Ref{}, apperrors.Newf(apperrors.CodeInvalidInput, "missing object key in %q", s)
		}
		return Ref{Key: key, Remote: true}, nil
	}
	if s == "-" {
		s = ""
	}
	return Ref{Key: s}, nil
}

// String returns the reference in the form ParseRef accepts.
func (r Ref) String() string {
	if r.Remote {
		return RemoteScheme + r.Key
	}
	if r.Key == "" {
		return "-"
	}
	return r.Key
}

// IsPrefix reports whether ref names every object below a key prefix
// ("cos://team/2026-10-18/") rather than one object.
func (r Ref) IsPrefix() bool {
	return r.Remote && strings.HasSuffix(r.Key, "/")
}

// Expand resolves prefix refs and local directories into the objects or
// files below them, in key order. Any other ref is returned as is.
func Expand(ctx context.Context, st Storage, ref Ref) ([]Ref, error) {
	switch {
	case ref.IsPrefix():
		if st == nil {
			return nil, apperrors.Newf(apperrors.CodeConfigError, "no storage configured for %s", ref)
		}
		keys, err := st.List(ctx, ref.Key)
		if err != nil {
			return nil, err
		}
		if len(keys) == 0 {
			return nil, apperrors.Newf(apperrors.CodeNotFound, "no objects below %s", ref)
		}
		refs := make([]Ref, len(keys))
		for i, key := range keys {
			refs[i] = Ref{Key: key, Remote: true}
		}
		return refs, nil

	case !ref.Remote && ref.Key != "":
		info, err := os.Stat(ref.Key)
		if err != nil || !info.IsDir() {
			// Open reports a missing file.
			return []Ref{ref}, nil
		}
		entries, err := os.ReadDir(ref.Key)
		if err != nil {
			return nil, fmt.Errorf("failed to read directory: %w", err)
		}
		var refs []Ref
		for _, e := range entries {
			if e.Type().IsRegular() && !strings.HasPrefix(e.Name(), ".") {
				refs = append(refs, Ref{Key: filepath.Join(ref.Key, e.Name())})
			}
		}
		if len(refs) == 0 {
			return nil, apperrors.Newf(apperrors.CodeNotFound, "no files in directory %s", ref)
		}
		return refs, nil
	}
	return []Ref{ref}, nil
}

// Open opens ref for reading. Remote refs need st; a local ref with an empty
// key reads stdin. Gzip and zstd content is decompressed transparently.
func Open(ctx context.Context, st Storage, ref Ref) (io.ReadCloser, error) {
	var rc io.ReadCloser
	switch {
	case ref.Remote:
		if st == nil {
			return nil, apperrors.Newf(apperrors.CodeConfigError, "no storage configured for %s", ref)
		}
		var err error
		if rc, err = st.Download(ctx, ref.Key); err != nil {
			return nil, err
		}
	case ref.Key == "":
		rc = io.NopCloser(os.Stdin)
	default:
		f, err := os.Open(ref.Key)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, apperrors.Wrap(apperrors.CodeNotFound, "file "+ref.Key, err)
			}
			return nil, fmt.Errorf("failed to open input: %w", err)
		}
		rc = f
	}
	return decompress(rc)
}

// Save writes to ref through fn. Remote content is buffered and uploaded once
// fn succeeds; a local ref with an empty key writes to stdout.
func Save(ctx context.Context, st Storage, ref Ref, fn func(w io.Writer) error) error {
	switch {
	case ref.Remote:
		if st == nil {
			return apperrors.Newf(apperrors.CodeConfigError, "no storage configured for %s", ref)
		}
		var buf bytes.Buffer
		if err := fn(&buf); err != nil {
			return err
		}
		return st.Upload(ctx, ref.Key, bytes.NewReader(buf.Bytes()))
	case ref.Key == "":
		return fn(os.Stdout)
	default:
		f, err := os.Create(ref.Key)
		if err != nil {
			return fmt.Errorf("failed to create output: %w", err)
		}
		if err := fn(f); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	}
}

type readCloser struct {
	io.Reader
	closers []io.Closer
}

func (r *readCloser) Close() error {
	var first error
	for _, c := range r.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// decompress wraps rc so gzip or zstd content is decoded transparently.
func decompress(rc io.ReadCloser) (io.ReadCloser, error) {
	r, typ, err := compression.NewReader(rc)
	if err != nil {
		rc.Close()
		return nil, apperrors.Wrap(apperrors.CodeInvalidInput, "corrupt "+typ.String()+" input", err)
	}
	return &readCloser{Reader: r, closers: []io.Closer{r, rc}}, nil
}
