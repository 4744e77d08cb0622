package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/aegir7/sirocco-torrent/session"
	"github.com/anacrolix/dht/v2"
	"github.com/gosuri/uilive"
)

var torrentFile = flag.String("torrentfile", "", "read the contents of the torrent `file`")
var baseDir = flag.String("dir", "", "directory to store the data (default: working directory)")
var noDHT = flag.Bool("nodht", false, "disable DHT peer discovery")

func main() {
	flag.Parse()
	if *torrentFile == "" {
		log.Fatal("please provide a torrent file")
	}
	cfg, err := session.DefaultConfig()
	if err != nil {
		log.Fatal(err)
	}
	if *baseDir != "" {
		cfg.BaseDir = *baseDir
	}
	if !*noDHT {
		srv, err := dht.NewServer(nil)
		if err != nil {
			log.Fatal(err)
		}
		defer srv.Close()
		go func() {
			if _, err := srv.Bootstrap(); err != nil {
				log.Printf("dht bootstrap: %s", err)
			}
		}()
		cfg.DHTServer = srv
	}
	s, err := session.NewFromFile(cfg, *torrentFile)
	if err != nil {
		log.Fatal(err)
	}
	defer s.Close()
	s.Start()

	sigC := make(chan os.Signal, 1)
	signal.Notify(sigC, os.Interrupt)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	w := uilive.New()
	w.Start()
	defer w.Stop()
	for {
		select {
		case <-ticker.C:
			s.WriteStatus(w)
		case <-sigC:
			fmt.Println("stopping...")
			s.Stop()
			waitIdle(s, 15*time.Second)
			return
		}
	}
}

//waitIdle polls until the session has no tracker request outstanding, so
//the "stopped" announce gets a chance to resolve before teardown.
func waitIdle(s *session.Session, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for !s.IsIdle() && time.Now().Before(deadline) {
		time.Sleep(100 * time.Millisecond)
	}
}
