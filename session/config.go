package session

import (
	"crypto/rand"
	"log"
	"os"
	"time"

	"github.com/RoaringBitmap/roaring"
	"github.com/aegir7/sirocco-torrent/storage"
	"github.com/anacrolix/dht/v2"
	"github.com/anacrolix/torrent/metainfo"
)

const clientTag = "SR"
const clientVersion = "0001"

//Storage is the chunk-store contract a session consumes. The file-backed
//implementation lives in the storage package; tests inject fakes.
type Storage interface {
	//ResizeAll brings every file of the layout to its final size.
	ResizeAll() error
	NumChunks() int
	//CompletedChunks is the store's own count of chunks found valid
	//during verification.
	CompletedChunks() int
	//VerifyAll hashes resident data and returns the set of valid chunks.
	VerifyAll() (*roaring.Bitmap, error)
	Close() error
}

//OpenStorage opens the chunk store for a parsed info dict.
type OpenStorage func(info *metainfo.Info, baseDir string) (Storage, error)

func openFileStorage(info *metainfo.Info, baseDir string) (Storage, error) {
	return storage.Open(info, baseDir)
}

//Config provides configuration for sessions. The zero value of most fields
//is replaced by the DefaultConfig value.
type Config struct {
	//directory to store the data
	BaseDir string
	//registry the session publishes itself to; package default when nil
	Registry *Registry
	PeerID   [20]byte
	//port reported to trackers and the DHT
	Port int
	//cap on simultaneously unchoked peers
	MaxUnchoked int
	//how often the choke cycle re-evaluates conns
	ChokeCycleInterval time.Duration
	//minimum unchoked time before a peer may be choked again
	ChokeGracePeriod time.Duration
	//peers requested per announce
	Numwant         int32
	DisableTrackers bool
	//shared DHT node used as a second peer-candidate source; nil disables
	DHTServer *dht.Server
	//collaborators; no-op defaults when nil
	Connector  Connector
	Handshakes HandshakeRegistry
	//injected dispatch scheduler; nil gives the session its own loop
	Scheduler   Scheduler
	OpenStorage OpenStorage
	Logger      *log.Logger
}

//DefaultConfig returns the configuration used for nil Config values.
func DefaultConfig() (*Config, error) {
	dir, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	return &Config{
		BaseDir:            dir,
		PeerID:             newPeerID(),
		Port:               6881,
		MaxUnchoked:        4,
		ChokeCycleInterval: 10 * time.Second,
		ChokeGracePeriod:   30 * time.Second,
		Numwant:            200,
		OpenStorage:        openFileStorage,
	}, nil
}

func (cfg *Config) fillDefaults() {
	if cfg.Registry == nil {
		cfg.Registry = defaultRegistry
	}
	if cfg.PeerID == [20]byte{} {
		cfg.PeerID = newPeerID()
	}
	if cfg.MaxUnchoked == 0 {
		cfg.MaxUnchoked = 4
	}
	if cfg.ChokeCycleInterval == 0 {
		cfg.ChokeCycleInterval = 10 * time.Second
	}
	if cfg.ChokeGracePeriod == 0 {
		cfg.ChokeGracePeriod = 30 * time.Second
	}
	if cfg.Numwant == 0 {
		cfg.Numwant = 200
	}
	if cfg.Connector == nil {
		cfg.Connector = noConnector{}
	}
	if cfg.OpenStorage == nil {
		cfg.OpenStorage = openFileStorage
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "session ", log.LstdFlags)
	}
}

func newPeerID() (id [20]byte) {
	header := "-" + clientTag + clientVersion + "-"
	copy(id[:], header)
	rand.Read(id[len(header):])
	return
}
