package uistream

// textRun tracks whether a text block is open. It has two states: no active
// run, or an active run with an id. A run opens on the first text delta and
// closes when a tool call starts or the stream ends.
type textRun struct {
	id     string
	active bool
}

// open starts a run for messageID unless one is active. It returns the run
// id and whether a new run was started.
func (r *textRun) open(messageID string) (string, bool) {
	if r.active {
		return r.id, false
	}
	r.id = messageID + "-text"
	r.active = true
	return r.id, true
}

// close ends the active run, returning its id. ok is false when no run was active.
func (r *textRun) close() (id string, ok bool) {
	if !r.active {
		return "", false
	}
	id = r.id
	r.id, r.active = "", false
	return id, true
}
