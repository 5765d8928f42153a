package broadcast

// Topic names a push stream consumed by dashboards. The pull snapshot
// endpoint mirrors every topic's payload shape exactly.
type Topic string

const (
	TopicSystemHealth      Topic = "system-health-update"
	TopicAPIMetrics        Topic = "api-metrics-update"
	TopicErrorMetrics      Topic = "error-metrics-update"
	TopicBandwidth         Topic = "bandwidth-update"
	TopicActiveConnections Topic = "active-connections-update"
	TopicCrashDetected     Topic = "crash-detected"
	TopicActivityAdded     Topic = "activity-record-added"
	TopicAPIRecordAdded    Topic = "api-record-added"
)

// Roles recognised by the subscription surface.
const (
	RoleSuperAdmin = "super_admin"
	RoleAdmin      = "admin"
	RoleOps        = "ops"
)

var allTopics = []Topic{
	TopicSystemHealth,
	TopicAPIMetrics,
	TopicErrorMetrics,
	TopicBandwidth,
	TopicActiveConnections,
	TopicCrashDetected,
	TopicActivityAdded,
	TopicAPIRecordAdded,
}

// KnownTopic reports whether t is a published topic.
func KnownTopic(t Topic) bool {
	for _, known := range allTopics {
		if known == t {
			return true
		}
	}
	return false
}

// Topics returns every published topic.
func Topics() []Topic {
	out := make([]Topic, len(allTopics))
	copy(out, allTopics)
	return out
}

// AuthorizedTopics returns the topics a role may subscribe to.
func AuthorizedTopics(role string) []Topic {
	var out []Topic
	for _, t := range allTopics {
		if Authorized(role, t) {
			out = append(out, t)
		}
	}
	return out
}

// Authorized reports whether a role may subscribe to a topic. Crash and
// process-internal diagnostics are restricted to super admins; the remaining
// topics accept any observability viewer role.
func Authorized(role string, t Topic) bool {
	switch t {
	case TopicCrashDetected:
		return role == RoleSuperAdmin
	default:
		return role == RoleSuperAdmin || role == RoleAdmin || role == RoleOps
	}
}
