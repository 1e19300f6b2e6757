package login

import (
	"errors"
	"fmt"
	"strings"
)

type State int

const (
	ChannelSelect State = iota
	CredentialEntry
	Submitting
	ChallengeCheck
	Authenticated
	Failed
)

func (s State) String() string {
	switch s {
	case ChannelSelect:
		return "channel-select"
	case CredentialEntry:
		return "credential-entry"
	case Submitting:
		return "submitting"
	case ChallengeCheck:
		return "challenge-check"
	case Authenticated:
		return "authenticated"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) Terminal() bool { return s == Authenticated || s == Failed }

var (
	ErrNavigation         = errors.New("navigation failed")
	ErrChannelNotFound    = errors.New("login channel not found")
	ErrIdentifierNotFound = errors.New("identifier field not found")
	ErrSecretNotFound     = errors.New("secret field not found")
	ErrSubmitNotFound     = errors.New("submit control not found")
	ErrChallengeHeadless  = errors.New("challenge requires visible session")
)

// FailedError is the terminal error of a login that ended in Failed.
type FailedError struct {
	At  State
	Err error
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("login failed during %s: %v", e.At, e.Err)
}

func (e *FailedError) Unwrap() error { return e.Err }

// Reason is the operator-facing cause, e.g. "challenge requires visible session".
func (e *FailedError) Reason() string {
	for _, known := range []error{ErrChallengeHeadless, ErrChannelNotFound, ErrIdentifierNotFound, ErrSecretNotFound, ErrSubmitNotFound, ErrNavigation} {
		if errors.Is(e.Err, known) {
			return known.Error()
		}
	}
	return e.Err.Error()
}

// Credentials identify the automation account.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (c Credentials) Valid() bool {
	return strings.TrimSpace(c.Username) != "" && c.Password != ""
}
