package buildid

import (
	"debug/elf"
	"errors"
	"fmt"
	"io"
	"io/fs"

	"elfdata/internal/elfx"
)

// Kind classifies a failed resolution.
type Kind int

const (
	KindConfig Kind = iota + 1
	KindNotFound
	KindIO
	KindMalformedInput
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config error"
	case KindNotFound:
		return "not found"
	case KindIO:
		return "i/o error"
	case KindMalformedInput:
		return "malformed input"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

var (
	ErrConfig         = &Error{Kind: KindConfig}
	ErrNotFound       = &Error{Kind: KindNotFound}
	ErrIO             = &Error{Kind: KindIO}
	ErrMalformedInput = &Error{Kind: KindMalformedInput}
)

// Error is a fatal resolution failure.
type Error struct {
	Kind Kind
	Path string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Msg != "" {
		msg = e.Msg
	}
	if e.Path != "" {
		msg = e.Path + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrIO) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind && t.Msg == "" && t.Path == "" && t.Err == nil
}

// Configf returns a config error.
func Configf(format string, args ...any) error {
	return &Error{Kind: KindConfig, Msg: fmt.Sprintf(format, args...)}
}

// NotFound returns a not-found error.
func NotFound(msg string) error {
	return &Error{Kind: KindNotFound, Msg: msg}
}

// Classify wraps an error from opening or parsing path into an *Error.
// Errors already classified are returned unchanged.
func Classify(path string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	// A short read while parsing headers is a truncated file, not an I/O failure.
	var fmtErr *elf.FormatError
	if errors.As(err, &fmtErr) || errors.Is(err, elfx.ErrNotELF) ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return &Error{Kind: KindMalformedInput, Path: path, Err: err}
	}
	return &Error{Kind: KindIO, Path: path, Err: err}
}

// IsMissing reports whether err means the file does not exist.
func IsMissing(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
