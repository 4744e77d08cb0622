package session

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
)

//WriteStatus writes a human readable snapshot of the session to w.
func (s *Session) WriteStatus(w io.Writer) {
	var b strings.Builder
	s.do(func() { s.writeStatus(&b) })
	io.WriteString(w, b.String())
}

func (s *Session) writeStatus(b *strings.Builder) {
	fmt.Fprintf(b, "Name: %s\n", s.name)
	fmt.Fprintf(b, "Info hash: %x\n", s.infoHash)
	fmt.Fprintf(b, "Phase: %s, %s\n", s.phaseVerified(), s.phaseActive())
	downloaded, uploaded, left := s.state.stats.snapshot()
	fmt.Fprintf(b, "Downloaded: %s\tUploaded: %s\tRemaining: %s\n",
		humanize.Bytes(uint64(downloaded)), humanize.Bytes(uint64(uploaded)), humanize.Bytes(uint64(left)))
	now := time.Now()
	fmt.Fprintf(b, "Rates: %s/s down, %s/s up\n",
		humanize.Bytes(uint64(s.state.rateDown.current(now))), humanize.Bytes(uint64(s.state.rateUp.current(now))))
	fmt.Fprintf(b, "Swarm: %d seeders, %d leechers\n", s.state.seeders, s.state.leechers)
	fmt.Fprintf(b, "Chunks verified: %d/%d\n", s.state.completed.GetCardinality(), s.storage.NumChunks())
	fmt.Fprintf(b, "Connected to %d peers, %d candidates queued\n",
		len(s.state.conns), len(s.state.available))
	tw := tabwriter.NewWriter(b, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Address\t%\tUp\tDown\tChoked\t")
	for _, ci := range s.state.conns {
		percent := 0
		if n := s.storage.NumChunks(); n > 0 {
			percent = ci.peerBf.Len() * 100 / n
		}
		fmt.Fprintf(tw, "%s\t%d%%\t%s\t%s\t%t\t\n", ci.candidate.Addr(), percent,
			humanize.Bytes(uint64(ci.up.bytes)), humanize.Bytes(uint64(ci.down.bytes)), ci.choked)
	}
	tw.Flush()
}

func (s *Session) phaseVerified() string {
	if s.verified.Load() {
		return "verified"
	}
	return "verifying"
}

func (s *Session) phaseActive() string {
	if s.active.Load() {
		return "active"
	}
	return "inactive"
}
