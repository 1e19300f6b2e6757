package eventbus

// Event types published by the scheduler and the batch executors.
const (
	TriggersReloaded = "triggers.reloaded"
	TriggerFired     = "trigger.fired"
	TriggerSkipped   = "trigger.skipped"

	BatchStarted  = "batch.started"
	BatchProgress = "batch.progress"
	BatchFinished = "batch.finished"

	TaskEnqueued = "task.enqueued"
	TaskStarted  = "task.started"
	TaskFinished = "task.finished"
	TaskDropped  = "task.dropped"
)
