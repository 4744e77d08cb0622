package session

import "time"

//Event tags the recurring services a session is dispatched for.
type Event int

const (
	//HashCheckCompleted fires once, when the asynchronous verification of
	//stored chunks has finished.
	HashCheckCompleted Event = iota + 1
	//ChokeCycle fires periodically and re-evaluates choking across conns.
	ChokeCycle
)

func (e Event) String() string {
	switch e {
	case HashCheckCompleted:
		return "hash check completed"
	case ChokeCycle:
		return "choke cycle"
	default:
		return "unknown event"
	}
}

//Scheduler delivers Service calls to a session at or after the requested
//time. Now returns the cached time of the current tick so rescheduling is
//drift-free relative to tick time rather than wall clock. ScheduleAt and
//Cancel must be called from the dispatch goroutine.
type Scheduler interface {
	Now() time.Time
	ScheduleAt(at time.Time, e Event)
	Cancel(e Event)
}

//eventLoop is the default scheduler: a single goroutine that owns all
//session mutation. Collaborators running on other goroutines hand results
//over with post.
type eventLoop struct {
	s       *Session
	fns     chan func()
	quit    chan struct{}
	done    chan struct{}
	pending map[Event]time.Time
	timer   *time.Timer
	now     time.Time
}

func newEventLoop() *eventLoop {
	return &eventLoop{
		fns:     make(chan func(), 64),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		pending: make(map[Event]time.Time),
		timer:   newExpiredTimer(),
	}
}

func newExpiredTimer() *time.Timer {
	timer := time.NewTimer(time.Second) //arbitrary duration
	if !timer.Stop() {
		<-timer.C
	}
	return timer
}

func (l *eventLoop) run() {
	defer close(l.done)
	for {
		select {
		case fn := <-l.fns:
			l.now = time.Now()
			fn()
		case <-l.timer.C:
			l.now = time.Now()
			l.fire()
		case <-l.quit:
			l.timer.Stop()
			return
		}
		l.rearm()
	}
}

func (l *eventLoop) fire() {
	for e, at := range l.pending {
		if !at.After(l.now) {
			delete(l.pending, e)
			l.s.Service(e)
		}
	}
}

func (l *eventLoop) rearm() {
	if !l.timer.Stop() {
		select {
		case <-l.timer.C:
		default:
		}
	}
	var next time.Time
	for _, at := range l.pending {
		if next.IsZero() || at.Before(next) {
			next = at
		}
	}
	if next.IsZero() {
		return
	}
	d := next.Sub(time.Now())
	if d < 0 {
		d = 0
	}
	l.timer.Reset(d)
}

//post hands fn to the loop goroutine. Posts after stop are dropped, a
//collaborator resolving mid-teardown must not crash the session.
func (l *eventLoop) post(fn func()) {
	select {
	case l.fns <- fn:
	case <-l.quit:
	}
}

func (l *eventLoop) stop() {
	close(l.quit)
	<-l.done
}

func (l *eventLoop) Now() time.Time {
	if l.now.IsZero() {
		return time.Now()
	}
	return l.now
}

func (l *eventLoop) ScheduleAt(at time.Time, e Event) {
	l.pending[e] = at
}

func (l *eventLoop) Cancel(e Event) {
	delete(l.pending, e)
}
