package session

import "time"

//rateMeter measures transfer throughput over the window since its last
//flush. The choke cycle flushes the session-wide meters every tick so the
//window cannot grow without bound when no consumer polls them.
type rateMeter struct {
	bytes int64
	start time.Time
	//bytes/sec over the last flushed window
	lastRate float64
}

func (m *rateMeter) add(n int) {
	if m.start.IsZero() {
		m.start = time.Now()
	}
	m.bytes += int64(n)
}

//current returns the throughput of the open window in bytes/sec.
func (m *rateMeter) current(now time.Time) float64 {
	if m.start.IsZero() {
		return 0
	}
	dur := now.Sub(m.start).Seconds()
	if dur <= 0 {
		return 0
	}
	return float64(m.bytes) / dur
}

//flush closes the window, records its rate and starts a fresh one.
func (m *rateMeter) flush(now time.Time) float64 {
	m.lastRate = m.current(now)
	m.bytes = 0
	m.start = now
	return m.lastRate
}
