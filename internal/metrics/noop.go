package metrics

// NoopSink discards everything.
type NoopSink struct{}

func NewNoopSink() *NoopSink { return &NoopSink{} }

func (NoopSink) TriggersActive(int)    {}
func (NoopSink) TriggerFired(string)   {}
func (NoopSink) TriggerSkipped(string) {}
func (NoopSink) BatchCompleted(Batch)  {}

var _ Sink = (*NoopSink)(nil)
