package engine

// EventKind classifies messages emitted while the engine runs.
type EventKind string

const (
	// EventInitializing is emitted once when the engine process launches.
	EventInitializing EventKind = "initializing"
	// EventProgress carries a 0-100 completion percentage.
	EventProgress EventKind = "progress"
	// EventDone marks successful completion.
	EventDone EventKind = "done"
	// EventFailed marks terminal failure.
	EventFailed EventKind = "failed"
)

// Event is one typed progress message from a running transcription. The
// engine's own percentages are not guaranteed to be monotonic; subscribers
// must tolerate a Percent below one already seen.
type Event struct {
	Kind    EventKind
	Percent int
	Err     error
}
