// services/errors.go
package services

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"
)

// ErrorCode is the stable, client-visible identifier of a domain failure.
type ErrorCode string

const (
	CodeInvalidArgument    ErrorCode = "INVALID_ARGUMENT"
	CodePartyNotFound      ErrorCode = "PARTY_NOT_FOUND"
	CodeInviteNotFound     ErrorCode = "INVITE_NOT_FOUND"
	CodeNotPartyLeader     ErrorCode = "NOT_PARTY_LEADER"
	CodeNotInviteRecipient ErrorCode = "NOT_INVITE_RECIPIENT"
	CodePartyNotOpen       ErrorCode = "PARTY_NOT_OPEN"
	CodePartyFull          ErrorCode = "PARTY_FULL"
	CodeNotFriends         ErrorCode = "NOT_FRIENDS"
	CodeAlreadyInParty     ErrorCode = "ALREADY_IN_PARTY"
	CodeAlreadyMember      ErrorCode = "ALREADY_MEMBER"
	CodeInviteNotPending   ErrorCode = "INVITE_NOT_PENDING"
	CodeConcurrentUpdate   ErrorCode = "CONCURRENT_UPDATE"
	CodeInternal           ErrorCode = "INTERNAL"
)

// Error is a domain error. Two Errors match under errors.Is when their codes are equal, so
// callers can compare against the sentinels below regardless of the message.
type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return string(e.Code) + ": " + e.Message
}

func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

func newError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

var (
	ErrInvalidArgument    = newError(CodeInvalidArgument, "")
	ErrPartyNotFound      = newError(CodePartyNotFound, "party not found")
	ErrInviteNotFound     = newError(CodeInviteNotFound, "invite not found")
	ErrNotPartyLeader     = newError(CodeNotPartyLeader, "only the party leader can do this")
	ErrNotInviteRecipient = newError(CodeNotInviteRecipient, "only the invite recipient can respond")
	ErrPartyNotOpen       = newError(CodePartyNotOpen, "party is not open")
	ErrPartyFull          = newError(CodePartyFull, "party is full")
	ErrNotFriends         = newError(CodeNotFriends, "players are not friends")
	ErrAlreadyInParty     = newError(CodeAlreadyInParty, "player is already in an active party")
	ErrAlreadyMember      = newError(CodeAlreadyMember, "player is already a member of this party")
	ErrInviteNotPending   = newError(CodeInviteNotPending, "invite is no longer pending")
	ErrConcurrentUpdate   = newError(CodeConcurrentUpdate, "party changed concurrently, retry")
)

func invalidArgument(message string) *Error {
	return newError(CodeInvalidArgument, message)
}

// CodeOf returns the domain code carried by err, or CodeInternal when err is not a domain
// error.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// errConcurrencyConflict signals that a version-guarded write lost a race. It never leaves
// the pairing loop.
var errConcurrencyConflict = eris.New("concurrency conflict")

// surfaceConflict turns a lost race outside the pairing loop into a retryable domain error.
func surfaceConflict(err error) error {
	if isConcurrencyConflict(err) {
		return ErrConcurrentUpdate
	}
	return err
}

// isConcurrencyConflict also treats Postgres serialization failures and deadlocks as lost races.
func isConcurrencyConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, errConcurrencyConflict) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}
