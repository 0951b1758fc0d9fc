package llama2

// Scheduler drives every registered Session forward one token at a time,
// round-robin, per spec §4.7. It is single-threaded and cooperative: all
// session state is touched only from within StepNext, so a caller must
// not call StepNext concurrently with itself or with Session.Query/Cancel
// on the same Transformer.
type Scheduler struct {
	active []*Session
	cursor int
}

func newScheduler() *Scheduler {
	return &Scheduler{}
}

// register adds s to the rotation. Called by Session.Query once a
// session has a prompt and is ready to run.
func (sc *Scheduler) register(s *Session) {
	sc.active = append(sc.active, s)
}

// unregister removes s from the rotation if present, adjusting cursor so
// the rotation's relative order is preserved for the remaining sessions.
func (sc *Scheduler) unregister(s *Session) {
	for i, cand := range sc.active {
		if cand == s {
			sc.active = append(sc.active[:i], sc.active[i+1:]...)
			if sc.cursor > i {
				sc.cursor--
			}
			if len(sc.active) > 0 {
				sc.cursor %= len(sc.active)
			} else {
				sc.cursor = 0
			}
			return
		}
	}
}

// Active returns the number of sessions currently registered with the
// scheduler.
func (sc *Scheduler) Active() int { return len(sc.active) }

// StepNext advances exactly one session by one token and reports whether
// any session remains registered afterward. It is the caller's
// (typically a CLI or embedding application's) event loop primitive: call
// it repeatedly until it returns false.
//
// Per session, each call performs the full spec §4.7 cycle: a session
// already Cancelled when its turn comes is destroyed without stepping;
// otherwise it is stepped once, and if that step left it in a terminal
// state (Finished or newly Cancelled) it is destroyed before StepNext
// returns.
func (sc *Scheduler) StepNext() (bool, error) {
	if len(sc.active) == 0 {
		return false, nil
	}

	s := sc.active[sc.cursor]

	if s.state == SessionCancelled {
		sc.unregister(s)
		s.destroy()
		return len(sc.active) > 0, nil
	}

	if err := s.step(); err != nil {
		sc.unregister(s)
		s.destroy()
		return len(sc.active) > 0, err
	}

	if s.state == SessionFinished || s.state == SessionCancelled {
		sc.unregister(s)
		s.destroy()
		return len(sc.active) > 0, nil
	}

	sc.cursor++
	if sc.cursor >= len(sc.active) {
		sc.cursor = 0
	}
	return true, nil
}

// Run steps the scheduler until every registered session has reached a
// terminal state.
func (sc *Scheduler) Run() error {
	for {
		more, err := sc.StepNext()
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
}
