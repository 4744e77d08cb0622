package session

import (
	"bytes"
	"context"
	"crypto/sha1"
	"errors"
	"io/ioutil"
	"log"
	"os"
	"testing"
	"time"

	"github.com/RoaringBitmap/roaring"
	"github.com/aegir7/sirocco-torrent/tracker"
	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

//stubScheduler records scheduling decisions instead of firing them.
type stubScheduler struct {
	now       time.Time
	scheduled map[Event]time.Time
	cancelled []Event
}

func newStubScheduler() *stubScheduler {
	return &stubScheduler{
		now:       time.Now(),
		scheduled: make(map[Event]time.Time),
	}
}

func (ss *stubScheduler) Now() time.Time { return ss.now }

func (ss *stubScheduler) ScheduleAt(at time.Time, e Event) { ss.scheduled[e] = at }

func (ss *stubScheduler) Cancel(e Event) {
	ss.cancelled = append(ss.cancelled, e)
	delete(ss.scheduled, e)
}

type fakeTracker struct {
	reqs chan tracker.AnnounceReq
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{reqs: make(chan tracker.AnnounceReq, 8)}
}

func (f *fakeTracker) Announce(ctx context.Context, req tracker.AnnounceReq) (*tracker.AnnounceResp, error) {
	f.reqs <- req
	return &tracker.AnnounceResp{}, nil
}

func (f *fakeTracker) recvEvent(t *testing.T) tracker.Event {
	t.Helper()
	select {
	case req := <-f.reqs:
		return req.Event
	case <-time.After(2 * time.Second):
		t.Fatal("no announce arrived")
		return tracker.None
	}
}

func (f *fakeTracker) assertNoAnnounce(t *testing.T) {
	t.Helper()
	select {
	case req := <-f.reqs:
		t.Fatalf("unexpected announce with event %s", req.Event)
	case <-time.After(50 * time.Millisecond):
	}
}

type fakeStorage struct {
	chunks    int
	completed int
	verified  *roaring.Bitmap
}

func (f *fakeStorage) ResizeAll() error      { return nil }
func (f *fakeStorage) NumChunks() int        { return f.chunks }
func (f *fakeStorage) CompletedChunks() int  { return f.completed }
func (f *fakeStorage) Close() error          { return nil }
func (f *fakeStorage) VerifyAll() (*roaring.Bitmap, error) {
	if f.verified != nil {
		return f.verified, nil
	}
	return roaring.NewBitmap(), nil
}

//gatedStorage blocks verification until the gate opens, so tests can
//observe the pre-verification state deterministically.
type gatedStorage struct {
	fakeStorage
	gate chan struct{}
}

func (g *gatedStorage) VerifyAll() (*roaring.Bitmap, error) {
	<-g.gate
	return g.fakeStorage.VerifyAll()
}

//newBareSession builds a session the way the tests drive it: directly, on
//one goroutine, with recording collaborators.
func newBareSession(t *testing.T, maxUnchoked int) (*Session, *stubScheduler, *fakeTracker) {
	t.Helper()
	cfg := &Config{Registry: NewRegistry()}
	cfg.fillDefaults()
	cfg.Logger = log.New(ioutil.Discard, "", 0)
	sched := newStubScheduler()
	s := &Session{
		cfg:     cfg,
		logger:  cfg.Logger,
		name:    "bare",
		reg:     cfg.Registry,
		sched:   sched,
		storage: &fakeStorage{chunks: 4},
	}
	s.state = newDownloadState(maxUnchoked, nil)
	s.choker = newChoker(s, cfg.ChokeGracePeriod)
	ftr := newFakeTracker()
	s.tracker = s.newTrackerSession()
	s.tracker.tr = ftr
	return s, sched, ftr
}

func assertInvariantPanic(t *testing.T, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		require.NotNil(t, r, "expected a panic")
		_, ok := r.(*InvariantViolation)
		assert.True(t, ok, "panic value is %T, not *InvariantViolation", r)
	}()
	fn()
}

//makeTorrent builds a valid single-file .torrent for the given content.
func makeTorrent(t *testing.T, name, announce string, content []byte, pieceLen int64) []byte {
	t.Helper()
	var pieces []byte
	for off := int64(0); off < int64(len(content)); off += pieceLen {
		end := off + pieceLen
		if end > int64(len(content)) {
			end = int64(len(content))
		}
		h := sha1.Sum(content[off:end])
		pieces = append(pieces, h[:]...)
	}
	info := metainfo.Info{
		Name:        name,
		PieceLength: pieceLen,
		Length:      int64(len(content)),
		Pieces:      pieces,
	}
	ib, err := bencode.Marshal(info)
	require.NoError(t, err)
	mi := metainfo.MetaInfo{
		InfoBytes: ib,
		Announce:  announce,
	}
	var buf bytes.Buffer
	require.NoError(t, mi.Write(&buf))
	return buf.Bytes()
}

func testingConfig(t *testing.T) (*Config, func()) {
	t.Helper()
	dir, err := ioutil.TempDir("", "sirocco")
	require.NoError(t, err)
	cfg, err := DefaultConfig()
	require.NoError(t, err)
	cfg.BaseDir = dir
	cfg.Registry = NewRegistry()
	cfg.Logger = log.New(ioutil.Discard, "", 0)
	return cfg, func() { os.RemoveAll(dir) }
}

func TestNewSessionRegisters(t *testing.T) {
	cfg, cleanup := testingConfig(t)
	defer cleanup()
	gate := make(chan struct{})
	cfg.OpenStorage = func(info *metainfo.Info, baseDir string) (Storage, error) {
		return &gatedStorage{fakeStorage: fakeStorage{chunks: info.NumPieces()}, gate: gate}, nil
	}
	data := makeTorrent(t, "hello", "http://tracker.example/announce", []byte("hello world"), 4)
	s, err := New(cfg, bytes.NewReader(data))
	require.NoError(t, err)
	defer s.Close()
	assert.False(t, s.Verified())
	assert.False(t, s.Active())
	assert.Equal(t, "hello", s.Name())
	got, ok := cfg.Registry.Lookup(s.InfoHash())
	require.True(t, ok)
	assert.Equal(t, s, got)
	close(gate)
	waitFor(t, s.Verified)
	assert.True(t, s.IsIdle())
}

func TestNewSessionMalformedMetadata(t *testing.T) {
	valid := makeTorrent(t, "hello", "http://tracker.example/announce", []byte("hello world"), 4)
	noAnnounce := makeTorrent(t, "hello", "", []byte("hello world"), 4)
	var noInfo bytes.Buffer
	require.NoError(t, (&metainfo.MetaInfo{Announce: "http://tracker.example/announce"}).Write(&noInfo))
	for name, data := range map[string][]byte{
		"garbage":     []byte("certainly not bencode"),
		"truncated":   valid[:len(valid)-5],
		"no announce": noAnnounce,
		"no info":     noInfo.Bytes(),
	} {
		cfg, cleanup := testingConfig(t)
		s, err := New(cfg, bytes.NewReader(data))
		require.Nil(t, s, name)
		require.Error(t, err, name)
		var merr *MetadataError
		assert.True(t, errors.As(err, &merr), "%s: error is %T", name, err)
		assert.Equal(t, 0, cfg.Registry.Len(), name)
		cleanup()
	}
}

func TestStartIsIdempotent(t *testing.T) {
	s, sched, ftr := newBareSession(t, 4)
	s.verified.Store(true)
	s.Start()
	s.Start()
	assert.True(t, s.Active())
	assert.Equal(t, tracker.Started, ftr.recvEvent(t))
	ftr.assertNoAnnounce(t)
	//first cycle is scheduled with a warm-up delay of twice the interval
	at, ok := sched.scheduled[ChokeCycle]
	require.True(t, ok)
	assert.Equal(t, sched.now.Add(2*s.cfg.ChokeCycleInterval), at)
}

func TestStopIsIdempotent(t *testing.T) {
	s, sched, ftr := newBareSession(t, 4)
	s.verified.Store(true)
	s.Start()
	assert.Equal(t, tracker.Started, ftr.recvEvent(t))
	s.Stop()
	s.Stop()
	assert.False(t, s.Active())
	assert.Equal(t, tracker.Stopped, ftr.recvEvent(t))
	ftr.assertNoAnnounce(t)
	assert.Equal(t, []Event{ChokeCycle}, sched.cancelled)
}

func TestStartDefersAnnounceUntilVerified(t *testing.T) {
	s, _, ftr := newBareSession(t, 4)
	s.Start()
	assert.True(t, s.Active())
	ftr.assertNoAnnounce(t)
	s.Service(HashCheckCompleted)
	assert.True(t, s.Verified())
	assert.Equal(t, tracker.Started, ftr.recvEvent(t))
}

func TestHashCheckConsistencyViolation(t *testing.T) {
	s, _, _ := newBareSession(t, 4)
	//storage says everything is resident and valid, yet the completion
	//bitfield is empty: the run must die, not continue on corrupt state
	s.storage = &fakeStorage{chunks: 4, completed: 4}
	assertInvariantPanic(t, func() { s.Service(HashCheckCompleted) })
}

func TestServiceUnknownEvent(t *testing.T) {
	s, _, _ := newBareSession(t, 4)
	assertInvariantPanic(t, func() { s.Service(Event(42)) })
}

func TestChokeCycleReschedulesFromTickTime(t *testing.T) {
	s, sched, _ := newBareSession(t, 4)
	s.Service(ChokeCycle)
	at, ok := sched.scheduled[ChokeCycle]
	require.True(t, ok)
	assert.Equal(t, sched.now.Add(s.cfg.ChokeCycleInterval), at)
}

func TestIsIdle(t *testing.T) {
	s, _, _ := newBareSession(t, 4)
	assert.True(t, s.IsIdle())
	s.active.Store(true)
	assert.False(t, s.IsIdle())
	s.active.Store(false)
	s.tracker.inflight.Inc()
	assert.False(t, s.IsIdle())
	s.tracker.inflight.Dec()
	assert.True(t, s.IsIdle())
}

func TestCloseDuringVerification(t *testing.T) {
	cfg, cleanup := testingConfig(t)
	defer cleanup()
	gate := make(chan struct{})
	cfg.OpenStorage = func(info *metainfo.Info, baseDir string) (Storage, error) {
		return &gatedStorage{fakeStorage: fakeStorage{chunks: info.NumPieces()}, gate: gate}, nil
	}
	data := makeTorrent(t, "hello", "http://tracker.example/announce", []byte("hello world"), 4)
	s, err := New(cfg, bytes.NewReader(data))
	require.NoError(t, err)
	s.Close()
	_, ok := cfg.Registry.Lookup(s.InfoHash())
	assert.False(t, ok)
	//release the hash check after teardown; its completion must be dropped
	close(gate)
	time.Sleep(50 * time.Millisecond)
	assert.False(t, s.Verified())
}

func TestWriteStatus(t *testing.T) {
	s, _, _ := newBareSession(t, 4)
	var buf bytes.Buffer
	s.WriteStatus(&buf)
	assert.Contains(t, buf.String(), "bare")
	assert.Contains(t, buf.String(), "verifying")
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}
