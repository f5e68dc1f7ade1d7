// Package eventbus implements C12: a single process-local publish/subscribe
// channel. Events are posted only after the owning transaction commits
// (testable property #12); firing is best-effort and cannot influence the
// commit outcome.
package eventbus

// EventType discriminates the domain events the transaction façade's
// deferred buffers collect (§4.10).
type EventType string

const (
	EventScoreChanged       EventType = "ScoreChanged"
	EventHostAdded          EventType = "HostAdded"
	EventOsAccountAdded     EventType = "OsAccountAdded"
	EventOsAccountChanged   EventType = "OsAccountChanged"
	EventOsAccountDeleted   EventType = "OsAccountDeleted"
	EventOsAccountsMerged   EventType = "OsAccountsMerged"
	EventTimelineEventAdded EventType = "TimelineEventAdded"
	EventAnalysisResultDeleted EventType = "AnalysisResultDeleted"
)

// Event is a single domain event fired after a successful commit.
type Event struct {
	Type            EventType
	ObjID           int64
	DataSourceObjID int64
	// Payload carries event-specific detail (e.g. the new AggregateScore for
	// EventScoreChanged, or the merged-from/merged-into ids for
	// EventOsAccountsMerged). Handlers type-assert based on Type.
	Payload any
}
