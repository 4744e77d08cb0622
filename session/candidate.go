package session

import (
	"net"
	"strconv"
)

//PeerCandidate identifies a remote peer we may connect to.
//Identity is location based: malicious or churning peers reuse IDs, so two
//candidates are considered the same peer when host and port match.
type PeerCandidate struct {
	Host string
	Port int
	//ID may be empty, trackers omit it in compact responses
	ID []byte
}

//SameHost reports whether p and q point at the same remote endpoint.
func (p PeerCandidate) SameHost(q PeerCandidate) bool {
	return p.Host == q.Host && p.Port == q.Port
}

//Addr returns the candidate as a dialable host:port string.
func (p PeerCandidate) Addr() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

func (p PeerCandidate) String() string { return p.Addr() }
