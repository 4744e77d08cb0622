//Package storage provides the file-backed chunk store a download session
//verifies against and exchanges data through.
package storage

import (
	"bytes"
	"crypto/sha1"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/RoaringBitmap/roaring"
	"github.com/anacrolix/torrent/metainfo"
)

const hashSize = 20

//Storage lays the torrent's content out as files under a base directory.
//Files are opened per operation, no handles are held between calls.
type Storage struct {
	dir      string
	name     string
	chunkLen int64
	totalLen int64
	//concatenated SHA-1 chunk hashes from the metadata
	hashes []byte
	files  []metainfo.FileInfo
	//chunks found valid by the last VerifyAll pass
	completed int
}

//Open prepares the store for the given info dict. It fails with an I/O
//error when the base directory cannot be used.
func Open(info *metainfo.Info, baseDir string) (*Storage, error) {
	if len(info.Pieces)%hashSize != 0 {
		return nil, errors.New("storage: chunk hashes have truncated length")
	}
	if err := os.MkdirAll(baseDir, 0777); err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	return &Storage{
		dir:      baseDir,
		name:     info.Name,
		chunkLen: info.PieceLength,
		totalLen: info.TotalLength(),
		hashes:   info.Pieces,
		files:    info.UpvertedFiles(),
	}, nil
}

//NumChunks returns how many chunks the content is split into.
func (s *Storage) NumChunks() int {
	return len(s.hashes) / hashSize
}

//ChunkLen returns the length of chunk i; only the last one may be short.
func (s *Storage) ChunkLen(i int) int64 {
	if i == s.NumChunks()-1 {
		if rem := s.totalLen % s.chunkLen; rem != 0 {
			return rem
		}
	}
	return s.chunkLen
}

//CompletedChunks returns the count of chunks the last verification pass
//found valid.
func (s *Storage) CompletedChunks() int {
	return s.completed
}

//VerifyAll hashes all resident chunk data against the metadata hashes and
//returns the set of valid chunks.
func (s *Storage) VerifyAll() (*roaring.Bitmap, error) {
	bm := roaring.NewBitmap()
	s.completed = 0
	for i := 0; i < s.NumChunks(); i++ {
		if s.HashChunk(i) {
			bm.Add(uint32(i))
			s.completed++
		}
	}
	return bm, nil
}

//HashChunk reports whether the stored data of chunk i matches its hash.
func (s *Storage) HashChunk(i int) bool {
	hasher := sha1.New()
	length := s.ChunkLen(i)
	n, err := io.Copy(hasher, io.NewSectionReader(s, int64(i)*s.chunkLen, length))
	if err != nil || n != length {
		return false
	}
	return bytes.Equal(hasher.Sum(nil), s.hashes[i*hashSize:(i+1)*hashSize])
}

//ResizeAll brings every file to its final length, creating missing ones.
func (s *Storage) ResizeAll() error {
	for _, fi := range s.files {
		name := s.fileInfoName(fi)
		if err := os.MkdirAll(filepath.Dir(name), 0777); err != nil {
			return fmt.Errorf("storage resize: %w", err)
		}
		f, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE, 0666)
		if err != nil {
			return fmt.Errorf("storage resize: %w", err)
		}
		err = f.Truncate(fi.Length)
		f.Close()
		if err != nil {
			return fmt.Errorf("storage resize: %w", err)
		}
	}
	return nil
}

//Close releases the store. No handles outlive single operations, so there
//is nothing to flush; the method exists for the collaborator contract.
func (s *Storage) Close() error {
	return nil
}

//Returns EOF on short or missing file.
func (s *Storage) readFileAt(fi metainfo.FileInfo, b []byte, off int64) (n int, err error) {
	f, err := os.Open(s.fileInfoName(fi))
	if os.IsNotExist(err) {
		//file missing is treated the same as a short file
		err = io.EOF
		return
	}
	if err != nil {
		return
	}
	defer f.Close()
	//limit the read to within the expected bounds of this file
	if int64(len(b)) > fi.Length-off {
		b = b[:fi.Length-off]
	}
	for off < fi.Length && len(b) != 0 {
		n1, err1 := f.ReadAt(b, off)
		b = b[n1:]
		n += n1
		off += int64(n1)
		if n1 == 0 {
			err = err1
			break
		}
	}
	return
}

//ReadAt reads spanning file boundaries. Only returns EOF at the end of the
//content; premature EOF is ErrUnexpectedEOF.
func (s *Storage) ReadAt(b []byte, off int64) (n int, err error) {
	for _, fi := range s.files {
		for off < fi.Length {
			n1, err1 := s.readFileAt(fi, b, off)
			n += n1
			off += int64(n1)
			b = b[n1:]
			if len(b) == 0 {
				return
			}
			if n1 != 0 {
				continue
			}
			err = err1
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return
		}
		off -= fi.Length
	}
	err = io.EOF
	return
}

//WriteAt writes spanning file boundaries, creating files as needed.
func (s *Storage) WriteAt(p []byte, off int64) (n int, err error) {
	for _, fi := range s.files {
		if off >= fi.Length {
			off -= fi.Length
			continue
		}
		n1 := len(p)
		if int64(n1) > fi.Length-off {
			n1 = int(fi.Length - off)
		}
		name := s.fileInfoName(fi)
		os.MkdirAll(filepath.Dir(name), 0777)
		var f *os.File
		f, err = os.OpenFile(name, os.O_WRONLY|os.O_CREATE, 0666)
		if err != nil {
			return
		}
		n1, err = f.WriteAt(p[:n1], off)
		f.Close()
		if err != nil {
			return
		}
		n += n1
		off = 0
		p = p[n1:]
		if len(p) == 0 {
			break
		}
	}
	return
}

func (s *Storage) fileInfoName(fi metainfo.FileInfo) string {
	return filepath.Join(append([]string{s.dir, s.name}, fi.Path...)...)
}
