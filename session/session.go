package session

import (
	"errors"
	"io"
	"log"
	"os"
	"sync"

	"github.com/anacrolix/torrent/metainfo"
	"go.uber.org/atomic"
)

//Session coordinates one active download. It is constructed from torrent
//metadata, verifies resident chunks asynchronously, announces itself to the
//tracker and re-evaluates choking on a timer. It never initiates I/O: it
//reacts to dispatched events and issues commands to its collaborators.
type Session struct {
	cfg    *Config
	logger *log.Logger

	infoHash [20]byte
	name     string
	info     *metainfo.Info

	storage Storage
	state   *downloadState
	tracker *trackerSession
	choker  *choker
	reg     *Registry
	dht     *dhtSource

	sched Scheduler
	//nil when a Scheduler was injected through the Config
	loop *eventLoop

	//verified flips false->true exactly once, on HashCheckCompleted.
	//active toggles through Start/Stop. Mutated on the dispatch
	//goroutine, atomics keep outside observers safe.
	verified atomic.Bool
	active   atomic.Bool

	closeOnce sync.Once
}

//New builds a session from raw torrent metadata. It validates the required
//fields (content name, info dict, announce URL), opens storage, computes
//the info hash over the canonical info encoding, wires the tracker handle
//and registers the session, then kicks off asynchronous chunk verification.
//Malformed metadata fails with *MetadataError; collaborator failures with
//*SessionError. Either way no partial resources survive.
func New(cfg *Config, r io.Reader) (*Session, error) {
	if cfg == nil {
		var err error
		if cfg, err = DefaultConfig(); err != nil {
			return nil, err
		}
	}
	cfg.fillDefaults()
	mi, err := metainfo.Load(r)
	if err != nil {
		return nil, &MetadataError{Err: err}
	}
	info, err := mi.UnmarshalInfo()
	if err != nil {
		return nil, &MetadataError{Err: err}
	}
	if err := validateInfo(mi, &info); err != nil {
		return nil, &MetadataError{Err: err}
	}
	s := &Session{
		cfg:      cfg,
		logger:   cfg.Logger,
		infoHash: mi.HashInfoBytes(),
		name:     info.Name,
		info:     &info,
		reg:      cfg.Registry,
	}
	s.state = newDownloadState(cfg.MaxUnchoked, cfg.Handshakes)
	s.choker = newChoker(s, cfg.ChokeGracePeriod)
	if s.storage, err = cfg.OpenStorage(&info, cfg.BaseDir); err != nil {
		return nil, &SessionError{Op: "open storage", Err: err}
	}
	s.state.stats.Left.Store(info.TotalLength())
	s.tracker = s.newTrackerSession()
	if !cfg.DisableTrackers {
		if err := s.tracker.AddURL(mi.Announce); err != nil {
			s.storage.Close()
			return nil, &MetadataError{Err: err}
		}
	}
	if cfg.Scheduler != nil {
		s.sched = cfg.Scheduler
	} else {
		s.loop = newEventLoop()
		s.loop.s = s
		s.sched = s.loop
	}
	if cfg.DHTServer != nil {
		s.dht = &dhtSource{s: s, srv: cfg.DHTServer}
	}
	//registration is the last fallible-free step: a session is never
	//lookup-able before it is fully built, nor left behind on failure
	s.reg.register(s)
	if s.loop != nil {
		go s.loop.run()
	}
	go s.verify()
	return s, nil
}

//NewFromFile is like New reading metadata from a .torrent file.
func NewFromFile(cfg *Config, filename string) (*Session, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return New(cfg, f)
}

func validateInfo(mi *metainfo.MetaInfo, info *metainfo.Info) error {
	if mi.Announce == "" {
		return errors.New("announce url missing")
	}
	if info.Name == "" {
		return errors.New("content name missing")
	}
	if info.PieceLength <= 0 {
		return errors.New("piece length missing")
	}
	if len(info.Pieces) == 0 || len(info.Pieces)%20 != 0 {
		return errors.New("piece hashes missing or truncated")
	}
	return nil
}

func (s *Session) newTrackerSession() *trackerSession {
	return &trackerSession{
		infoHash: s.infoHash,
		peerID:   s.cfg.PeerID,
		port:     s.cfg.Port,
		numwant:  s.cfg.Numwant,
		post:     s.post,
		stats:    s.state.stats.snapshot,
		onPeers:  s.admitCandidates,
		onStats:  s.state.applyTrackerStats,
		onFailure: func(msg string) {
			s.logger.Printf("tracker failure: %s", msg)
		},
	}
}

//verify runs the asynchronous hash check and delivers its completion as a
//dispatched event.
func (s *Session) verify() {
	completed, err := s.storage.VerifyAll()
	if err != nil {
		s.logger.Printf("hash check: %s", err)
	}
	s.post(func() {
		if completed != nil {
			s.state.completed = completed
		}
		s.Service(HashCheckCompleted)
	})
}

//post runs fn on the dispatch goroutine. With an injected scheduler there
//is no loop and the caller is assumed to already be on that goroutine.
func (s *Session) post(fn func()) {
	if s.loop != nil {
		s.loop.post(fn)
		return
	}
	fn()
}

//do is post but synchronous, for exported methods called from outside.
//Calls against a stopped loop return without running fn.
func (s *Session) do(fn func()) {
	if s.loop == nil {
		fn()
		return
	}
	done := make(chan struct{})
	s.loop.post(func() {
		defer close(done)
		fn()
	})
	select {
	case <-done:
	case <-s.loop.quit:
	}
}

//InfoHash returns the content id the session is registered under.
func (s *Session) InfoHash() [20]byte { return s.infoHash }

//Name returns the torrent's display name. Informational only.
func (s *Session) Name() string { return s.name }

//Info returns the parsed info dict the session was built from. The wire
//layer needs it for piece geometry; the session itself only consults the
//chunk store.
func (s *Session) Info() *metainfo.Info { return s.info }

//Verified reports whether the stored chunks have been hash checked.
func (s *Session) Verified() bool { return s.verified.Load() }

//Active reports whether the session is between Start and Stop.
func (s *Session) Active() bool { return s.active.Load() }

//Stats returns the session's aggregate transfer totals.
func (s *Session) Stats() *Stats { return &s.state.stats }

//IsIdle reports whether the session can be torn down safely: not active and
//no tracker request outstanding.
func (s *Session) IsIdle() bool {
	return !s.active.Load() && !s.tracker.Busy()
}

//Start activates the session. No-op if already active. The "started"
//announce goes out immediately when verification has completed and is
//otherwise deferred to the HashCheckCompleted event. The first choke cycle
//is scheduled at twice the configured interval as a warm-up.
func (s *Session) Start() { s.do(s.start) }

func (s *Session) start() {
	if s.active.Load() {
		return
	}
	if s.verified.Load() && !s.cfg.DisableTrackers {
		s.tracker.SendState(trackerStarted)
	}
	s.active.Store(true)
	s.sched.ScheduleAt(s.sched.Now().Add(2*s.cfg.ChokeCycleInterval), ChokeCycle)
	if s.dht != nil {
		s.dht.start()
	}
}

//Stop deactivates the session. No-op if not active. Live connections stay
//open until the wire layer drops them naturally; only the choke cycle is
//cancelled and the tracker told "stopped". An in-flight announce is not
//cancelled, poll IsIdle before tearing the session down.
func (s *Session) Stop() { s.do(s.stop) }

func (s *Session) stop() {
	if !s.active.Load() {
		return
	}
	if !s.cfg.DisableTrackers {
		s.tracker.SendState(trackerStopped)
	}
	s.active.Store(false)
	s.sched.Cancel(ChokeCycle)
	if s.dht != nil {
		s.dht.stop()
	}
}

//Service is the dispatch entry point, invoked by the scheduler. Unknown
//events are a programming error and panic with *InvariantViolation.
func (s *Session) Service(e Event) {
	switch e {
	case HashCheckCompleted:
		s.hashCheckCompleted()
	case ChokeCycle:
		//reschedule off the tick time, not the wall clock, so load
		//cannot cascade into drift
		s.sched.ScheduleAt(s.sched.Now().Add(s.cfg.ChokeCycleInterval), ChokeCycle)
		s.choker.cycle(s.sched.Now())
	default:
		violated("session serviced with unknown event %d", e)
	}
}

func (s *Session) hashCheckCompleted() {
	s.verified.Store(true)
	if err := s.storage.ResizeAll(); err != nil {
		s.logger.Printf("resize after hash check: %s", err)
	}
	if s.storage.CompletedChunks() == s.storage.NumChunks() &&
		int(s.state.completed.GetCardinality()) != s.storage.NumChunks() {
		violated("storage reports all chunks complete but the completion bitfield disagrees")
	}
	if s.active.Load() && !s.cfg.DisableTrackers {
		//the deferred started announce from Start
		s.tracker.SendState(trackerStarted)
	}
}

//AdmitCandidates queues newly discovered peers. A candidate is dropped when
//its endpoint is already known to any of the live-connection, handshake or
//available pools. Survivors are appended: older candidates are tried first,
//they are more likely to hold a larger share of the content, and the pool
//cannot grow a head of stale entries. Afterwards the connection layer is
//asked to open outbound connections at its own discretion.
func (s *Session) AdmitCandidates(cands []PeerCandidate) {
	s.do(func() { s.admitCandidates(cands) })
}

func (s *Session) admitCandidates(cands []PeerCandidate) {
	for _, c := range cands {
		if s.state.knowsHost(c) {
			//we already know this peer
			continue
		}
		s.state.available = append(s.state.available, c)
	}
	s.cfg.Connector.ConnectPeers(s)
}

//PopCandidate hands the oldest queued candidate to the connection layer.
func (s *Session) PopCandidate() (c PeerCandidate, ok bool) {
	s.do(func() {
		if len(s.state.available) == 0 {
			return
		}
		c = s.state.available[0]
		s.state.available = s.state.available[1:]
		ok = true
	})
	return
}

//AddConn registers a live, wire-connected peer and returns the session's
//view of it. Connections start out choked.
func (s *Session) AddConn(cand PeerCandidate, cmd ConnCommander) *connInfo {
	ci := &connInfo{
		s:         s,
		candidate: cand,
		cmd:       cmd,
		choked:    true,
	}
	s.do(func() {
		ci.lastChokeChange = s.sched.Now()
		s.state.conns = append(s.state.conns, ci)
	})
	return ci
}

//RemoveConn drops a connection from the pool after the wire layer lost it.
func (s *Session) RemoveConn(ci *connInfo) {
	s.do(func() {
		for i, cn := range s.state.conns {
			if cn == ci {
				s.state.conns = append(s.state.conns[:i], s.state.conns[i+1:]...)
				return
			}
		}
	})
}

//Close destroys the session: it stops the dispatch loop, removes the
//session from the registry and releases storage. Safe to call while
//verification is still running or a tracker request is in flight; it is
//the caller's job to Stop and await IsIdle first if a clean "stopped"
//announce matters.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if s.loop != nil {
			s.loop.stop()
		}
		if s.dht != nil {
			s.dht.stop()
		}
		s.reg.unregister(s)
		if err := s.storage.Close(); err != nil {
			s.logger.Printf("close storage: %s", err)
		}
	})
}
