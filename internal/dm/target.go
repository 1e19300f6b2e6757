package dm

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidTarget        = errors.New("invalid target")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrComposeNotFound      = errors.New("compose control not found")
)

// Target is one recipient and the message they get.
type Target struct {
	ID      string `json:"id,omitempty"`
	Handle  string `json:"username"`
	Message string `json:"message"`
}

// Validate rejects targets that cannot be attempted.
func (t Target) Validate() error {
	switch {
	case strings.TrimSpace(t.Handle) == "":
		return fmt.Errorf("%w: missing recipient handle", ErrInvalidTarget)
	case strings.TrimSpace(t.Message) == "":
		return fmt.Errorf("%w: missing message", ErrInvalidTarget)
	}
	return nil
}

// Stage names where in the send a target stopped.
type Stage string

const (
	StageValidate     Stage = "validate"
	StageOpenMessages Stage = "open-messages"
	StageConversation Stage = "conversation"
	StageCompose      Stage = "compose"
	StageSend         Stage = "send"
	StageDone         Stage = "done"
	StageSkipped      Stage = "not-attempted"
)

type Outcome struct {
	TargetID string        `json:"target_id,omitempty"`
	Handle   string        `json:"handle"`
	OK       bool          `json:"ok"`
	Stage    Stage         `json:"stage"`
	Reason   string        `json:"reason,omitempty"`
	Sent     string        `json:"sent,omitempty"`
	Took     time.Duration `json:"took"`
}

// Report aggregates one pass over a target list.
type Report struct {
	Success    int       `json:"success"`
	Failure    int       `json:"failure"`
	Total      int       `json:"total"`
	Outcomes   []Outcome `json:"outcomes"`
	Screenshot string    `json:"screenshot,omitempty"`
}

func (r *Report) add(o Outcome) {
	r.Outcomes = append(r.Outcomes, o)
	if o.OK {
		r.Success++
	} else {
		r.Failure++
	}
}
