package session

import (
	"context"
	"time"

	"github.com/aegir7/sirocco-torrent/tracker"
	"go.uber.org/atomic"
)

const announceTimeout = 10 * time.Second

const (
	trackerStarted = tracker.Started
	trackerStopped = tracker.Stopped
)

//trackerSession is the session's exclusively owned tracker handle. Instead
//of a generic signal bus it holds three explicit consumers which it invokes
//on the dispatch goroutine (via post): peer lists, swarm stats and
//failures. Failures are diagnostics, never errors.
type trackerSession struct {
	infoHash [20]byte
	peerID   [20]byte
	port     int
	numwant  int32

	urls []string
	tr   tracker.Tracker

	//number of announce requests currently on the wire
	inflight atomic.Int32

	//deliver a callback on the dispatch goroutine
	post func(func())
	//pull current transfer totals for the announce request
	stats func() (downloaded, uploaded, left int64)

	onPeers   func([]PeerCandidate)
	onStats   func(seeders, leechers int32)
	onFailure func(msg string)
}

//AddURL registers an announce URL. The first URL selects the transport;
//additional ones are kept for a future announce-list rotation.
func (ts *trackerSession) AddURL(rawurl string) error {
	if ts.tr == nil {
		tr, err := tracker.New(rawurl)
		if err != nil {
			return err
		}
		ts.tr = tr
	}
	ts.urls = append(ts.urls, rawurl)
	return nil
}

//SendState announces an event transition (started/stopped/completed) to
//the tracker. The request runs on its own goroutine; the session only sees
//the outcome through its consumers.
func (ts *trackerSession) SendState(ev tracker.Event) {
	if ts.tr == nil {
		return
	}
	ts.inflight.Inc()
	go ts.announce(ev)
}

//Busy reports whether an announce is still on the wire. Sessions are not
//idle while this is true.
func (ts *trackerSession) Busy() bool {
	return ts.inflight.Load() > 0
}

func (ts *trackerSession) announce(ev tracker.Event) {
	defer ts.inflight.Dec()
	ctx, cancel := context.WithTimeout(context.Background(), announceTimeout)
	defer cancel()
	downloaded, uploaded, left := ts.stats()
	resp, err := ts.tr.Announce(ctx, tracker.AnnounceReq{
		InfoHash:   ts.infoHash,
		PeerID:     ts.peerID,
		Downloaded: downloaded,
		Uploaded:   uploaded,
		Left:       left,
		Event:      ev,
		Numwant:    ts.numwant,
		Port:       ts.port,
	})
	if err != nil {
		ts.post(func() { ts.onFailure(err.Error()) })
		return
	}
	cands := make([]PeerCandidate, 0, len(resp.Peers))
	for _, p := range resp.Peers {
		cands = append(cands, PeerCandidate{
			Host: p.IP.String(),
			Port: p.Port,
			ID:   p.ID,
		})
	}
	ts.post(func() {
		ts.onStats(resp.Seeders, resp.Leechers)
		if len(cands) > 0 {
			ts.onPeers(cands)
		}
	})
}
