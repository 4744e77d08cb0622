package session

import (
	"time"

	"github.com/anacrolix/missinggo/bitmap"
)

//ConnCommander is the command surface the wire-level connection exposes to
//the session. Commands must be idempotent when the connection is already in
//the requested state. Commands are invoked on the dispatch goroutine and
//must not call back into the session synchronously (queue the outgoing
//message and return); a re-entrant call to an exported session method
//deadlocks against the dispatch loop, same as Connector.ConnectPeers.
type ConnCommander interface {
	Choke(choke bool)
}

//connInfo is the session's view of one live, wire-connected peer. The wire
//layer owns the socket; the session owns choke policy and bookkeeping.
//All fields are mutated on the dispatch goroutine only.
type connInfo struct {
	s         *Session
	candidate PeerCandidate
	cmd       ConnCommander
	//true while we refuse to upload to the peer
	choked bool
	//true while the peer has expressed interest in receiving data
	interested      bool
	lastChokeChange time.Time
	//our download from / upload to this peer
	down rateMeter
	up   rateMeter
	//pieces the peer claims to have, for status and seeding detection
	peerBf bitmap.Bitmap
}

//choke flips the peer's choke state. No-op if already there, so a swap that
//picks the same conn twice cannot thrash lastChokeChange.
func (ci *connInfo) choke(choke bool) {
	if ci.choked == choke {
		return
	}
	ci.cmd.Choke(choke)
	ci.choked = choke
	ci.lastChokeChange = ci.s.sched.Now()
}

//chokeScore weighs download 16x: upload capacity is the scarce, directly
//controlled resource, and a peer still feeding us should rarely be the one
//we cut off. Scores read the last flushed window, the choke cycle flushes
//all conn meters at the top of each tick.
func (ci *connInfo) chokeScore() float64 {
	return 16*ci.down.lastRate + ci.up.lastRate
}

func (ci *connInfo) peerSeeding() bool {
	n := ci.s.storage.NumChunks()
	return n > 0 && ci.peerBf.Len() == n
}

//OnDownloaded records n bytes received from the peer.
func (ci *connInfo) OnDownloaded(n int) {
	ci.down.add(n)
	ci.s.state.rateDown.add(n)
	ci.s.state.stats.addDownloaded(n)
}

//OnUploaded records n bytes sent to the peer.
func (ci *connInfo) OnUploaded(n int) {
	ci.up.add(n)
	ci.s.state.rateUp.add(n)
	ci.s.state.stats.addUploaded(n)
}

//OnInterested records the peer's interest flag.
func (ci *connInfo) OnInterested(interested bool) {
	ci.interested = interested
}

//OnHave marks a piece the peer announced.
func (ci *connInfo) OnHave(i int) {
	ci.peerBf.Set(i, true)
}

//OnBitfield replaces the peer's claimed piece set.
func (ci *connInfo) OnBitfield(bf bitmap.Bitmap) {
	ci.peerBf = bf
}
