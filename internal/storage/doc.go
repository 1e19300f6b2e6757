// Package storage persists the two things streakbot keeps between runs:
// the session cookie blob of each automation identity, and a bounded
// history of per-run summaries. Message content is never stored.
package storage
