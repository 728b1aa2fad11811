package services

import (
	"errors"
	"fmt"
)

// Kind classifies a service failure. Controllers map kinds to HTTP statuses
// and socket close codes.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindAuth
	KindForbidden
	KindNotFound
	KindConflict
	KindGone
	KindLocked
	KindCapacity
	KindUpstream
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuth:
		return "auth"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindGone:
		return "gone"
	case KindLocked:
		return "locked"
	case KindCapacity:
		return "capacity"
	case KindUpstream:
		return "upstream"
	}
	return "unknown"
}

// Error is the typed failure returned by every service operation. Current
// carries authoritative state on conflicts so clients can reconcile without
// refetching.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Current interface{}
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// AsError extracts a *Error from err's chain.
func AsError(err error) (*Error, bool) {
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return svcErr, true
	}
	return nil, false
}

// IsKind reports whether err is a service error of kind k.
func IsKind(err error, k Kind) bool {
	svcErr, ok := AsError(err)
	return ok && svcErr.Kind == k
}

// Error codes.
const (
	CodeInvalidRequest      = "invalid_request"
	CodeInvalidToken        = "invalid_token"
	CodeInvalidCredentials  = "invalid_credentials"
	CodeQRMismatch          = "qr_mismatch"
	CodeTableNotFound       = "table_not_found"
	CodeSessionNotFound     = "session_not_found"
	CodeItemNotFound        = "item_not_found"
	CodeOrderNotFound       = "order_not_found"
	CodeRequestNotFound     = "request_not_found"
	CodeNothingToRestore    = "nothing_to_restore"
	CodeRestaurantClosed    = "restaurant_closed"
	CodeTableUnavailable    = "table_unavailable"
	CodeSessionClosed       = "session_closed"
	CodeSessionNotValidated = "session_not_validated"
	CodeInvalidPass         = "invalid_pass"
	CodeNotOwner            = "not_owner"
	CodeNotHost             = "not_host"
	CodeVersionConflict     = "version_conflict"
	CodeItemNotPending      = "item_not_pending"
	CodeCartMismatch        = "cart_mismatch"
	CodeEmptyOrder          = "empty_order"
	CodeMenuItemUnavailable = "menu_item_unavailable"
	CodeInvalidVariation    = "invalid_variation"
	CodeInvalidAddon        = "invalid_addon"
	CodeNotNearExpiry       = "not_near_expiry"
	CodeNoActiveSession     = "no_active_session"
	CodeTableBusy           = "table_busy"
	CodeDestinationBusy     = "destination_unavailable"
	CodeInvalidTransition   = "invalid_transition"
	CodeAlreadyResolved     = "already_resolved"
	CodePOSFailed           = "pos_failed"
	CodeChannelFull         = "channel_full"
)

func newError(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func errValidation(code, message string) *Error { return newError(KindValidation, code, message) }
func errAuth(code, message string) *Error       { return newError(KindAuth, code, message) }
func errForbidden(code, message string) *Error  { return newError(KindForbidden, code, message) }
func errNotFound(code, message string) *Error   { return newError(KindNotFound, code, message) }
func errGone(code, message string) *Error       { return newError(KindGone, code, message) }
func errLocked(code, message string) *Error     { return newError(KindLocked, code, message) }

func errConflict(code, message string, current interface{}) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: message, Current: current}
}

func errUpstream(code, message string, cause error) *Error {
	return &Error{Kind: KindUpstream, Code: code, Message: message, Err: cause}
}
