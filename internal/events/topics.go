package events

// Topic constants for domain events emitted by the tracking engine.
const (
	TopicStatusChanged  = "tracking.status_changed"
	TopicAliasAssigned  = "tracking.alias_assigned"
	TopicBatchCompleted = "tracking.batch_completed"
)

// DefaultTopics returns the canonical list of topics that support notifications.
func DefaultTopics() []string {
	return []string{
		TopicStatusChanged,
		TopicAliasAssigned,
		TopicBatchCompleted,
	}
}
