// Package dtserr defines the error-kind taxonomy from spec.md section 7.
// Each error is an *Error carrying a Kind, so call sites can classify a
// wrapped cause with IsKind (or errors.As to *Error) the way the teacher
// distinguishes specific MySQL error numbers in pkg/dbconn.canRetryError,
// without losing the underlying error's message or chain.
package dtserr

import "fmt"

// Kind identifies one of the error categories from spec.md section 7.
type Kind string

const (
	KindConnection      Kind = "connection"
	KindProtocol        Kind = "protocol"
	KindMetadata        Kind = "metadata"
	KindColumnMismatch  Kind = "column_mismatch"
	KindConversion      Kind = "conversion"
	KindSink            Kind = "sink"
	KindConfig          Kind = "config"
	KindStructConflict  Kind = "struct_conflict"
)

// Error wraps a cause with a Kind and free-form context, matching the
// taxonomy's requirement to "surface with enough context (event kind,
// position) to resume after operator intervention".
type Error struct {
	Kind    Kind
	Context string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Context)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Context, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(kind Kind, context string, cause error) *Error {
	return &Error{Kind: kind, Context: context, Cause: cause}
}

func Connection(context string, cause error) *Error { return New(KindConnection, context, cause) }
func Protocol(context string, cause error) *Error    { return New(KindProtocol, context, cause) }
func Metadata(context string, cause error) *Error    { return New(KindMetadata, context, cause) }
func ColumnMismatch(context string, cause error) *Error {
	return New(KindColumnMismatch, context, cause)
}
func Conversion(context string, cause error) *Error { return New(KindConversion, context, cause) }
func Sink(context string, cause error) *Error       { return New(KindSink, context, cause) }
func Config(context string, cause error) *Error     { return New(KindConfig, context, cause) }
func StructConflict(context string, cause error) *Error {
	return New(KindStructConflict, context, cause)
}

// kindMarker is an error whose text is a Kind. *Error has no Is method, so
// errors.Is does not match an *Error by kind; classification by kind goes
// through IsKind below.
type kindMarker Kind

func (k kindMarker) Error() string { return string(k) }

// IsKind reports whether err is a *Error of the given kind, unwrapping as
// needed.
func IsKind(err error, kind Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			if e.Kind == kind {
				return true
			}
			err = e.Cause
			continue
		}
		type unwrapper interface{ Unwrap() error }
		u, ok := err.(unwrapper)
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
