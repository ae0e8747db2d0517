package models

// JobStatus represents the lifecycle state of a harvest job
type JobStatus string

const (
	JobStatusUnset     JobStatus = ""          // Zero value = unset/unknown
	JobStatusPending   JobStatus = "pending"   // Created, waiting in the queue
	JobStatusRunning   JobStatus = "running"   // Picked up by the processor
	JobStatusCompleted JobStatus = "completed" // No longer runnable (items may have failed)
	JobStatusFailed    JobStatus = "failed"    // Discovery failed or the run aborted
	JobStatusCancelled JobStatus = "cancelled" // Cancelled by a caller
)

// String implements fmt.Stringer for logging
func (s JobStatus) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// IsValid returns true if the status is a known operational value
func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether the processor must never re-enter a job in this state
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// IsCancellable reports whether a caller may still cancel the job
func (s JobStatus) IsCancellable() bool {
	return s == JobStatusPending || s == JobStatusRunning
}

// ItemStatus represents the fetch/store state of a harvested item
type ItemStatus string

const (
	ItemStatusUnset    ItemStatus = ""
	ItemStatusPending  ItemStatus = "pending"
	ItemStatusFetching ItemStatus = "fetching"
	ItemStatusFetched  ItemStatus = "fetched"
	ItemStatusStoring  ItemStatus = "storing"
	ItemStatusStored   ItemStatus = "stored"
	ItemStatusFailed   ItemStatus = "failed"
)

// String implements fmt.Stringer for logging
func (s ItemStatus) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// IsValid returns true if the status is a known operational value
func (s ItemStatus) IsValid() bool {
	switch s {
	case ItemStatusPending, ItemStatusFetching, ItemStatusFetched, ItemStatusStoring, ItemStatusStored, ItemStatusFailed:
		return true
	}
	return false
}

// itemTransitions lists the allowed next states for each item state.
// STORING -> FETCHED is the rollback taken when the external store fails;
// FAILED -> PENDING is the manual retry reset.
var itemTransitions = map[ItemStatus][]ItemStatus{
	ItemStatusPending:  {ItemStatusFetching, ItemStatusFailed},
	ItemStatusFetching: {ItemStatusFetched, ItemStatusFailed},
	ItemStatusFetched:  {ItemStatusStoring, ItemStatusFailed, ItemStatusPending},
	ItemStatusStoring:  {ItemStatusStored, ItemStatusFetched, ItemStatusFailed},
	ItemStatusFailed:   {ItemStatusPending},
}

// CanTransition reports whether an item may move from s to next
func (s ItemStatus) CanTransition(next ItemStatus) bool {
	for _, allowed := range itemTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// SelectorKind selects which kind of upstream listing a job harvests
type SelectorKind string

const (
	SelectorProfile SelectorKind = "profile"
	SelectorHashtag SelectorKind = "hashtag"
	SelectorExplore SelectorKind = "explore"
)

// IsValid returns true for the supported selector kinds
func (k SelectorKind) IsValid() bool {
	switch k {
	case SelectorProfile, SelectorHashtag, SelectorExplore:
		return true
	}
	return false
}

// JobOrigin records which path created a job
type JobOrigin string

const (
	OriginAPI      JobOrigin = "api"
	OriginMonitor  JobOrigin = "monitor"
	OriginSchedule JobOrigin = "schedule"
)
