package session

import "github.com/RoaringBitmap/roaring"

//HandshakeRegistry exposes the peers the connection layer is currently
//handshaking with. Admission reads it as a snapshot for deduplication.
type HandshakeRegistry interface {
	Pending() []PeerCandidate
}

type noHandshakes struct{}

func (noHandshakes) Pending() []PeerCandidate { return nil }

//Connector is the connection layer's entry point for opening outbound
//connections. Admission only enqueues candidates; the connector decides how
//many connections to attempt, pulling from the pool with PopCandidate.
//ConnectPeers is invoked on the dispatch goroutine and must dial
//asynchronously, calling back into the session only from other goroutines.
type Connector interface {
	ConnectPeers(s *Session)
}

type noConnector struct{}

func (noConnector) ConnectPeers(*Session) {}

//downloadState aggregates everything the session owns about one download:
//live connections, queued candidates, rolling rates, transfer totals and the
//verified-chunk bitfield.
type downloadState struct {
	conns []*connInfo
	//known but not yet connected candidates, oldest first
	available  []PeerCandidate
	handshakes HandshakeRegistry
	//chunks whose stored data matched the metadata hash
	completed *roaring.Bitmap
	//session-wide rolling rates, flushed every choke cycle
	rateUp   rateMeter
	rateDown rateMeter
	stats    Stats
	//cap on simultaneously unchoked peers
	maxUnchoked int
	//swarm counts from the last tracker response
	seeders, leechers int32
}

func newDownloadState(maxUnchoked int, handshakes HandshakeRegistry) *downloadState {
	if handshakes == nil {
		handshakes = noHandshakes{}
	}
	return &downloadState{
		handshakes:  handshakes,
		completed:   roaring.NewBitmap(),
		maxUnchoked: maxUnchoked,
	}
}

func (st *downloadState) numUnchoked() (n int) {
	for _, ci := range st.conns {
		if !ci.choked {
			n++
		}
	}
	return
}

//canUnchoke returns how many more peers may be unchoked under the
//concurrency limit.
func (st *downloadState) canUnchoke() int {
	return st.maxUnchoked - st.numUnchoked()
}

//knowsHost reports whether the candidate's endpoint already appears in the
//live connections, the in-progress handshakes or the available pool.
func (st *downloadState) knowsHost(c PeerCandidate) bool {
	for _, ci := range st.conns {
		if ci.candidate.SameHost(c) {
			return true
		}
	}
	for _, h := range st.handshakes.Pending() {
		if h.SameHost(c) {
			return true
		}
	}
	for _, a := range st.available {
		if a.SameHost(c) {
			return true
		}
	}
	return false
}

func (st *downloadState) applyTrackerStats(seeders, leechers int32) {
	st.seeders = seeders
	st.leechers = leechers
}
