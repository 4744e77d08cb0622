package tracker

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io/ioutil"
	"net"
	"net/http"
	"net/url"
	"strconv"

	"github.com/anacrolix/torrent/bencode"
)

//HTTPTracker announces over http/https.
type HTTPTracker struct {
	url string
	//opaque id some trackers hand out on the first announce
	trackerID string
}

type httpAnnounceResponse struct {
	FailureReason string `bencode:"failure reason"`
	Warning       string `bencode:"warning message"`
	Interval      int32  `bencode:"interval"`
	MinInterval   int32  `bencode:"min interval"`
	TrackerID     string `bencode:"tracker id"`
	Complete      int32  `bencode:"complete"`
	Incomplete    int32  `bencode:"incomplete"`
	//either a compact string or a list of dicts
	Peers interface{} `bencode:"peers"`
}

func (t *HTTPTracker) Announce(ctx context.Context, r AnnounceReq) (*AnnounceResp, error) {
	u, err := url.Parse(t.url)
	if err != nil {
		return nil, fmt.Errorf("http announce: %w", err)
	}
	u.RawQuery = t.queryValues(r)
	req, err := http.NewRequest("GET", u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("http announce: %w", err)
	}
	if ctx != nil {
		req = req.WithContext(ctx)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http announce: %w", err)
	}
	benData, err := ioutil.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("http announce: %w", err)
	}
	var res httpAnnounceResponse
	if err = bencode.Unmarshal(benData, &res); err != nil {
		return nil, fmt.Errorf("http announce: %w", err)
	}
	if res.FailureReason != "" {
		return nil, fmt.Errorf("http announce: tracker failure: %s", res.FailureReason)
	}
	if res.TrackerID != "" {
		t.trackerID = res.TrackerID
	}
	peers, err := parsePeers(res.Peers)
	if err != nil {
		return nil, fmt.Errorf("http announce: %w", err)
	}
	return &AnnounceResp{
		Interval:    res.Interval,
		MinInterval: res.MinInterval,
		Seeders:     res.Complete,
		Leechers:    res.Incomplete,
		Peers:       peers,
	}, nil
}

func (t *HTTPTracker) queryValues(r AnnounceReq) string {
	v := url.Values{}
	v.Set("info_hash", string(r.InfoHash[:]))
	v.Set("peer_id", string(r.PeerID[:]))
	v.Set("port", strconv.Itoa(r.Port))
	v.Set("uploaded", strconv.FormatInt(r.Uploaded, 10))
	v.Set("downloaded", strconv.FormatInt(r.Downloaded, 10))
	v.Set("left", strconv.FormatInt(r.Left, 10))
	v.Set("compact", "1")
	v.Set("no_peer_id", "1")
	if r.Event != None {
		v.Set("event", r.Event.String())
	}
	if r.Numwant != 0 {
		v.Set("numwant", strconv.Itoa(int(r.Numwant)))
	}
	if r.Key != 0 {
		v.Set("key", strconv.Itoa(int(r.Key)))
	}
	if t.trackerID != "" {
		v.Set("trackerid", t.trackerID)
	}
	return v.Encode()
}

func parsePeers(val interface{}) ([]Peer, error) {
	switch v := val.(type) {
	case string:
		return parseCompactPeers([]byte(v))
	case []interface{}:
		return parseDictPeers(v)
	case nil:
		return nil, errors.New("response carries no peers")
	default:
		return nil, fmt.Errorf("unexpected peers type %T", val)
	}
}

//compact form: 6 bytes per peer, 4 for the IPv4 address and 2 for the port,
//both big endian
func parseCompactPeers(b []byte) ([]Peer, error) {
	if len(b)%6 != 0 {
		return nil, fmt.Errorf("compact peers length %d not a multiple of 6", len(b))
	}
	peers := make([]Peer, 0, len(b)/6)
	for i := 0; i < len(b); i += 6 {
		ip := net.IP(b[i : i+4]).To16()
		if ip == nil {
			return nil, errors.New("compact peers: bad ip")
		}
		peers = append(peers, Peer{
			IP:   ip,
			Port: int(binary.BigEndian.Uint16(b[i+4 : i+6])),
		})
	}
	return peers, nil
}

func parseDictPeers(list []interface{}) ([]Peer, error) {
	peers := make([]Peer, 0, len(list))
	for _, el := range list {
		d, ok := el.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("peer entry is %T, not a dict", el)
		}
		var p Peer
		if id, ok := d["peer id"].(string); ok {
			p.ID = []byte(id)
		}
		host, ok := d["ip"].(string)
		if !ok {
			return nil, errors.New("peer entry misses ip")
		}
		if p.IP = net.ParseIP(host); p.IP == nil {
			ips, err := net.LookupIP(host)
			if err != nil || len(ips) == 0 {
				return nil, fmt.Errorf("peer ip %q is neither an address nor a resolvable name", host)
			}
			p.IP = ips[0]
		}
		port, ok := d["port"].(int64)
		if !ok {
			return nil, errors.New("peer entry misses port")
		}
		p.Port = int(port)
		peers = append(peers, p)
	}
	return peers, nil
}
