package storage

import (
	"crypto/sha1"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/anacrolix/torrent/metainfo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hashPieces(content []byte, pieceLen int64) []byte {
	var pieces []byte
	for off := int64(0); off < int64(len(content)); off += pieceLen {
		end := off + pieceLen
		if end > int64(len(content)) {
			end = int64(len(content))
		}
		h := sha1.Sum(content[off:end])
		pieces = append(pieces, h[:]...)
	}
	return pieces
}

func singleFileInfo(name string, content []byte, pieceLen int64) *metainfo.Info {
	return &metainfo.Info{
		Name:        name,
		PieceLength: pieceLen,
		Length:      int64(len(content)),
		Pieces:      hashPieces(content, pieceLen),
	}
}

func tempStorage(t *testing.T, info *metainfo.Info) (*Storage, func()) {
	t.Helper()
	dir, err := ioutil.TempDir("", "sirocco-storage")
	require.NoError(t, err)
	s, err := Open(info, dir)
	require.NoError(t, err)
	return s, func() { os.RemoveAll(dir) }
}

func TestOpenRejectsTruncatedHashes(t *testing.T) {
	info := singleFileInfo("data", []byte("hello"), 4)
	info.Pieces = info.Pieces[:len(info.Pieces)-1]
	dir, err := ioutil.TempDir("", "sirocco-storage")
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	_, err = Open(info, dir)
	assert.Error(t, err)
}

func TestChunkGeometry(t *testing.T) {
	content := []byte("0123456789") //10 bytes, 4 per chunk
	s, cleanup := tempStorage(t, singleFileInfo("data", content, 4))
	defer cleanup()
	assert.Equal(t, 3, s.NumChunks())
	assert.Equal(t, int64(4), s.ChunkLen(0))
	assert.Equal(t, int64(4), s.ChunkLen(1))
	//only the last chunk may be short
	assert.Equal(t, int64(2), s.ChunkLen(2))

	aligned := []byte("01234567")
	s2, cleanup2 := tempStorage(t, singleFileInfo("data", aligned, 4))
	defer cleanup2()
	assert.Equal(t, int64(4), s2.ChunkLen(1))
}

func TestVerifyAllRoundTrip(t *testing.T) {
	content := []byte("the quick brown fox jumps over the lazy dog")
	s, cleanup := tempStorage(t, singleFileInfo("data", content, 8))
	defer cleanup()

	//nothing on disk yet
	bm, err := s.VerifyAll()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), bm.GetCardinality())
	assert.Equal(t, 0, s.CompletedChunks())

	n, err := s.WriteAt(content, 0)
	require.NoError(t, err)
	require.Equal(t, len(content), n)

	bm, err = s.VerifyAll()
	require.NoError(t, err)
	assert.Equal(t, uint64(s.NumChunks()), bm.GetCardinality())
	assert.Equal(t, s.NumChunks(), s.CompletedChunks())
}

func TestVerifyAllDetectsCorruption(t *testing.T) {
	content := []byte("0123456789abcdef")
	s, cleanup := tempStorage(t, singleFileInfo("data", content, 4))
	defer cleanup()
	_, err := s.WriteAt(content, 0)
	require.NoError(t, err)
	//flip a byte inside chunk 1
	_, err = s.WriteAt([]byte{'X'}, 5)
	require.NoError(t, err)

	bm, err := s.VerifyAll()
	require.NoError(t, err)
	assert.Equal(t, 3, s.CompletedChunks())
	assert.True(t, bm.Contains(0))
	assert.False(t, bm.Contains(1))
	assert.True(t, bm.Contains(2))
	assert.True(t, bm.Contains(3))
}

func TestVerifyAllPartialData(t *testing.T) {
	content := []byte("0123456789abcdef")
	s, cleanup := tempStorage(t, singleFileInfo("data", content, 4))
	defer cleanup()
	//only the first half of the content is resident
	_, err := s.WriteAt(content[:8], 0)
	require.NoError(t, err)

	bm, err := s.VerifyAll()
	require.NoError(t, err)
	assert.True(t, bm.Contains(0))
	assert.True(t, bm.Contains(1))
	assert.False(t, bm.Contains(2))
	assert.False(t, bm.Contains(3))
}

func TestResizeAllCreatesLayout(t *testing.T) {
	content := []byte("0123456789")
	info := singleFileInfo("data", content, 4)
	s, cleanup := tempStorage(t, info)
	defer cleanup()
	require.NoError(t, s.ResizeAll())
	fi, err := os.Stat(filepath.Join(s.dir, "data"))
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), fi.Size())
	//resizing must not clobber existing data
	_, err = s.WriteAt(content, 0)
	require.NoError(t, err)
	require.NoError(t, s.ResizeAll())
	b := make([]byte, len(content))
	_, err = s.ReadAt(b, 0)
	require.NoError(t, err)
	assert.Equal(t, content, b)
}

func multiFileInfo(name string, pieceLen int64, content []byte, lengths ...int64) *metainfo.Info {
	var files []metainfo.FileInfo
	for i, l := range lengths {
		files = append(files, metainfo.FileInfo{
			Length: l,
			Path:   []string{string(rune('a' + i))},
		})
	}
	return &metainfo.Info{
		Name:        name,
		PieceLength: pieceLen,
		Pieces:      hashPieces(content, pieceLen),
		Files:       files,
	}
}

func TestMultiFileSpansBoundaries(t *testing.T) {
	content := []byte("0123456789abcdef")
	//layout: a=5 bytes, b=11 bytes
	info := multiFileInfo("multi", 4, content, 5, 11)
	s, cleanup := tempStorage(t, info)
	defer cleanup()

	n, err := s.WriteAt(content, 0)
	require.NoError(t, err)
	require.Equal(t, len(content), n)

	//the write really landed in two files under the content directory
	a, err := ioutil.ReadFile(filepath.Join(s.dir, "multi", "a"))
	require.NoError(t, err)
	assert.Equal(t, content[:5], a)

	//a read spanning the file boundary
	b := make([]byte, 6)
	_, err = s.ReadAt(b, 3)
	require.NoError(t, err)
	assert.Equal(t, content[3:9], b)

	bm, err := s.VerifyAll()
	require.NoError(t, err)
	assert.Equal(t, uint64(s.NumChunks()), bm.GetCardinality())
}

func TestReadAtMissingFile(t *testing.T) {
	content := []byte("0123456789abcdef")
	info := multiFileInfo("multi", 4, content, 5, 11)
	s, cleanup := tempStorage(t, info)
	defer cleanup()
	//only the first file exists
	_, err := s.WriteAt(content[:5], 0)
	require.NoError(t, err)

	b := make([]byte, 8)
	_, err = s.ReadAt(b, 0)
	//the content ends prematurely, not at its true end
	assert.Equal(t, io.ErrUnexpectedEOF, err)
}

func TestReadAtPastEnd(t *testing.T) {
	content := []byte("0123456789")
	s, cleanup := tempStorage(t, singleFileInfo("data", content, 4))
	defer cleanup()
	_, err := s.WriteAt(content, 0)
	require.NoError(t, err)
	b := make([]byte, 4)
	_, err = s.ReadAt(b, int64(len(content)))
	assert.Equal(t, io.EOF, err)
}
