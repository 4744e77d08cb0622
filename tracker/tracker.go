//Package tracker implements the client side of the HTTP(S) tracker
//announce protocol.
package tracker

import (
	"context"
	"errors"
	"net"
	"net/url"
)

//Event is the state transition reported with an announce.
type Event int32

const (
	None Event = iota
	Completed
	Started
	Stopped
)

var eventNames = map[Event]string{
	Completed: "completed",
	Started:   "started",
	Stopped:   "stopped",
}

func (e Event) String() string { return eventNames[e] }

type AnnounceReq struct {
	InfoHash   [20]byte
	PeerID     [20]byte
	Downloaded int64
	Left       int64
	Uploaded   int64
	Event      Event
	Key        int32
	Numwant    int32
	Port       int
}

type AnnounceResp struct {
	Interval    int32
	MinInterval int32
	Seeders     int32
	Leechers    int32
	Peers       []Peer
}

type Peer struct {
	ID   []byte
	IP   net.IP
	Port int
}

//Tracker announces to a single tracker URL.
type Tracker interface {
	Announce(ctx context.Context, req AnnounceReq) (*AnnounceResp, error)
}

var ErrUnsupportedScheme = errors.New("tracker: unsupported url scheme")

//New returns a Tracker for the given announce URL. Only http and https
//schemes are supported.
func New(rawurl string) (Tracker, error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "http", "https":
		return &HTTPTracker{url: rawurl}, nil
	default:
		return nil, ErrUnsupportedScheme
	}
}
