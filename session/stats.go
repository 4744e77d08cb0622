package session

import "go.uber.org/atomic"

//Stats are the aggregate transfer totals of a session. The wire layer
//updates them from its own goroutines and the announcer reads them when
//building requests, hence the atomics.
type Stats struct {
	Downloaded atomic.Int64
	Uploaded   atomic.Int64
	Left       atomic.Int64
}

func (st *Stats) addDownloaded(n int) {
	st.Downloaded.Add(int64(n))
	st.Left.Sub(int64(n))
}

func (st *Stats) addUploaded(n int) {
	st.Uploaded.Add(int64(n))
}

func (st *Stats) snapshot() (downloaded, uploaded, left int64) {
	return st.Downloaded.Load(), st.Uploaded.Load(), st.Left.Load()
}
