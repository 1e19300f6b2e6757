// Package scheduler keeps one daily cron trigger per scheduled group.
//
// Triggers only enqueue; the batch runs on the task engine. Reload stops
// every trigger before registering the new set, so an edited or deleted
// group never leaves a stale trigger behind.
package scheduler
