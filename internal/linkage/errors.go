package linkage

import (
	"errors"
	"fmt"
)

// ErrorKind classifies linkage failures for callers that translate them into
// user-visible messages.
type ErrorKind string

const (
	KindLinkNotFound     ErrorKind = "link_not_found"
	KindAlreadyLinked    ErrorKind = "already_linked"
	KindFieldNotEditable ErrorKind = "field_not_editable"
	KindInvalidState     ErrorKind = "invalid_state"
	KindHostNotFound     ErrorKind = "host_not_found"
	KindTemplateNotFound ErrorKind = "template_not_found"
)

// Sentinels for errors.Is. Any *Error with the same kind matches.
var (
	ErrLinkNotFound     = &Error{Kind: KindLinkNotFound}
	ErrAlreadyLinked    = &Error{Kind: KindAlreadyLinked}
	ErrFieldNotEditable = &Error{Kind: KindFieldNotEditable}
	ErrInvalidState     = &Error{Kind: KindInvalidState}
	ErrHostNotFound     = &Error{Kind: KindHostNotFound}
	ErrTemplateNotFound = &Error{Kind: KindTemplateNotFound}
)

// Error is returned by every engine operation that is refused.
type Error struct {
	Kind       ErrorKind
	HostID     int64
	TemplateID int64
	Field      Field
	Message    string
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of a linkage error, or "" for any other error.
func KindOf(err error) ErrorKind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return ""
}

func linkNotFound(host *Host, templateID int64) *Error {
	return &Error{
		Kind:       KindLinkNotFound,
		HostID:     host.ID,
		TemplateID: templateID,
		Message:    fmt.Sprintf("template %d is not linked to host %q", templateID, host.TechnicalName),
	}
}

func alreadyLinked(host *Host, templateID int64) *Error {
	return &Error{
		Kind:       KindAlreadyLinked,
		HostID:     host.ID,
		TemplateID: templateID,
		Message:    fmt.Sprintf("template %d is already linked to host %q", templateID, host.TechnicalName),
	}
}

func hostNotFound(hostID int64) *Error {
	return &Error{
		Kind:    KindHostNotFound,
		HostID:  hostID,
		Message: fmt.Sprintf("host %d does not exist", hostID),
	}
}

func templateNotFound(templateID int64) *Error {
	return &Error{
		Kind:       KindTemplateNotFound,
		TemplateID: templateID,
		Message:    fmt.Sprintf("template %d does not exist", templateID),
	}
}

func invalidState(hostID int64, format string, args ...any) *Error {
	return &Error{
		Kind:    KindInvalidState,
		HostID:  hostID,
		Message: fmt.Sprintf(format, args...),
	}
}
