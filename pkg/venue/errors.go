package venue

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrContractNotFound = errors.New("contract not found")
	ErrResaleNotOffered = errors.New("resale not offered")
	ErrNotAuthorized    = errors.New("not authorized")
	ErrClosed           = errors.New("venue connection closed")
)

// APIError is an error payload embedded in an otherwise successful venue response.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	MsgType string `json:"-"`
}

func (e *APIError) Error() string {
	if e.MsgType != "" {
		return fmt.Sprintf("%s: %s (%s)", e.MsgType, e.Message, e.Code)
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Code)
}

// Is maps venue error codes onto the package sentinels so callers can use errors.Is.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrContractNotFound:
		switch e.Code {
		case "ContractNotFound", "InvalidContractId", "InvalidContract":
			return true
		}
	case ErrResaleNotOffered:
		return e.Code == "NoResale" || strings.Contains(strings.ToLower(e.Message), "resale of this contract is not offered")
	case ErrNotAuthorized:
		return e.Code == "AuthorizationRequired" || e.Code == "InvalidToken"
	}
	return false
}

// IsDomainRejection reports errors that are expected control flow and must not be retried.
func IsDomainRejection(err error) bool {
	return errors.Is(err, ErrContractNotFound) || errors.Is(err, ErrResaleNotOffered) || errors.Is(err, ErrNotAuthorized)
}
