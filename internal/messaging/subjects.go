package messaging

// Subject constants for the fusion message bus.
// Follow the pattern: {domain}.{resource}.{event}
const (
	// Group lifecycle subjects.
	SubjectGroupsEscalated = "fusion.groups.escalated" // Group needs human attention
	SubjectGroupsRouted    = "fusion.groups.routed"    // Routing decision recorded
	SubjectGroupsClosed    = "fusion.groups.closed"    // Informational close, audit only

	// Action subjects consumed by the action executor.
	SubjectActionsRequested = "fusion.actions.requested"
)

// Queue group names for load-balanced consumers.
const (
	QueueActionWorkers       = "fusion-action-workers"
	QueueNotificationWorkers = "fusion-notification-workers"
)
