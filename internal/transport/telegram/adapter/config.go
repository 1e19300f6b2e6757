package adapter

import "time"

type Config struct {
	Token       string
	PollTimeout time.Duration

	offline bool // skip the getMe call in New
}
