package session

import (
	"github.com/anacrolix/dht/v2"
)

//dhtSource feeds DHT-discovered peers into candidate admission. It is a
//second producer for the same pool the tracker fills; deduplication happens
//in the admission step, not here.
type dhtSource struct {
	s   *Session
	srv *dht.Server
	ann *dht.Announce
}

//start begins an announce traversal for the session's info hash. Called on
//the dispatch goroutine.
func (d *dhtSource) start() {
	if d.ann != nil {
		return
	}
	ann, err := d.srv.Announce(d.s.infoHash, d.s.cfg.Port, true)
	if err != nil {
		d.s.logger.Printf("dht announce: %s", err)
		return
	}
	d.ann = ann
	go d.consume(ann)
}

func (d *dhtSource) stop() {
	if d.ann == nil {
		return
	}
	d.ann.Close()
	d.ann = nil
}

func (d *dhtSource) consume(ann *dht.Announce) {
	for pv := range ann.Peers {
		cands := make([]PeerCandidate, 0, len(pv.Peers))
		for _, p := range pv.Peers {
			if p.Port == 0 {
				continue
			}
			cands = append(cands, PeerCandidate{Host: p.IP.String(), Port: p.Port})
		}
		if len(cands) == 0 {
			continue
		}
		d.s.post(func() { d.s.admitCandidates(cands) })
	}
}
