package mesh

import "time"

// Timer is a one-shot, cancellable timer handle posting its firing back
// through a node's single event queue (see node.go). It generalizes the
// pattern of resetting/draining a *time.Timer inside a select loop to the
// many independently-named one-shot timers this protocol needs (three
// suppression timers, collect dispatch, beacon/event forward delay,
// controller aggregation window, emergency suppression), one Timer value
// per purpose instead of a fixed pair of channels.
//
// Cancellation works by generation: Stop and a fresh Arm both bump gen, so
// a callback that was already in flight when cancelled finds a stale
// generation and discards itself instead of acting on torn-down state.
type Timer struct {
	post  func(func())
	t     *time.Timer
	gen   uint64
	armed bool
}

// NewTimer creates a Timer that delivers its firing by calling post with a
// closure, from whatever goroutine time.AfterFunc runs on. post must hand
// the closure to the owning Node's single-threaded event queue rather than
// running it directly, so that the protocol state it touches is only ever
// mutated from the actor goroutine.
func NewTimer(post func(func())) *Timer {
	return &Timer{post: post}
}

// Arm (re)schedules the timer to fire onFire after d, cancelling any
// previous pending firing for this Timer.
func (tm *Timer) Arm(d time.Duration, onFire func()) {
	tm.cancelPending()
	tm.gen++
	gen := tm.gen
	tm.armed = true
	tm.t = time.AfterFunc(d, func() {
		tm.post(func() {
			if tm.gen != gen || !tm.armed {
				return // stale: stopped or re-armed since this fire was scheduled
			}
			tm.armed = false
			onFire()
		})
	})
}

// Stop cancels a pending firing, if any. Safe to call when not armed.
func (tm *Timer) Stop() {
	tm.cancelPending()
	tm.gen++
	tm.armed = false
}

func (tm *Timer) cancelPending() {
	if tm.t != nil {
		tm.t.Stop()
	}
}

// Armed reports whether the timer currently has a pending firing.
func (tm *Timer) Armed() bool { return tm.armed }

// -------------------------------------------------------------------------
// Suppression state
// -------------------------------------------------------------------------

// Suppression holds the three independent one-shot suppression timers
// every node carries: suppress_new forbids originating an event,
// suppress_prop forbids propagating a received event, and
// suppress_prop_end is the short delay that releases suppress_prop once a
// command reaches the destination sensor.
type Suppression struct {
	New     *Timer
	Prop    *Timer
	PropEnd *Timer
}

// NewSuppression creates the three suppression timers, all initially
// unarmed, posting firings through post.
func NewSuppression(post func(func())) *Suppression {
	return &Suppression{
		New:     NewTimer(post),
		Prop:    NewTimer(post),
		PropEnd: NewTimer(post),
	}
}

// Blocked reports whether either suppress_new or suppress_prop is armed,
// the gate that makes etc_trigger return Suppressed.
func (s *Suppression) Blocked() bool { return s.New.Armed() || s.Prop.Armed() }

// StopAll cancels all three timers, used by Node.Close.
func (s *Suppression) StopAll() {
	s.New.Stop()
	s.Prop.Stop()
	s.PropEnd.Stop()
}
