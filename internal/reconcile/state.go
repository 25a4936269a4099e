package reconcile

// State is a step of a sync run.
type State string

const (
	StateIdle           State = "idle"
	StateFetchingUser   State = "fetching_user"
	StateSyncingBeers   State = "syncing_beers"
	StateSyncingFriends State = "syncing_friends"
	// StateDone is reached after both phases completed and last_update was stored.
	StateDone State = "done"
	// StateCaughtUp is reached when an already stored checkin is met. It is a normal termination.
	StateCaughtUp State = "caught_up"
	// StateAborted is reached when a fetch or a store write failed.
	StateAborted State = "aborted"
)

// Terminal reports whether the run has finished.
func (s State) Terminal() bool {
	switch s {
	case StateDone, StateCaughtUp, StateAborted:
		return true
	default:
		return false
	}
}

// RunResult describes how a sync run ended.
type RunResult struct {
	RunID            string
	Username         string
	Requester        string
	State            State
	Phase            State
	BeersProcessed   int
	CheckinsCreated  int
	FriendsProcessed int
	Err              error
}
