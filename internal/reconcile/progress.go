package reconcile

// Action names the phase a progress event belongs to.
type Action string

const (
	ActionCheckins Action = "checkins"
	ActionFriends  Action = "friends"
)

// Progress is emitted once per page before it is fetched.
type Progress struct {
	RunID     string
	Username  string
	Requester string
	Offset    int
	Total     int
	Action    Action
}

// ProgressReporter receives progress events. Implementations must not block.
type ProgressReporter interface {
	ReportProgress(Progress)
}

// NopProgressReporter discards every event.
type NopProgressReporter struct{}

// ReportProgress implements ProgressReporter.
func (NopProgressReporter) ReportProgress(Progress) {}

// ProgressFunc adapts a function to ProgressReporter.
type ProgressFunc func(Progress)

// ReportProgress implements ProgressReporter.
func (f ProgressFunc) ReportProgress(progress Progress) {
	f(progress)
}
