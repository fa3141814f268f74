// Command l2node runs an IEEE 802.15.4 node on an RF2xx transceiver: it
// brings up the radio and link layer, logs received frames to sqlite and
// serves debug pages.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/rf154/internal/capture"
	"github.com/banshee-data/rf154/internal/config"
	"github.com/banshee-data/rf154/internal/l2154"
	"github.com/banshee-data/rf154/internal/monitoring"
	"github.com/banshee-data/rf154/internal/platform"
	"github.com/banshee-data/rf154/internal/rfmac"
	"github.com/banshee-data/rf154/internal/version"
)

var (
	configPath    = flag.String("config", "", "Node configuration JSON file (default "+config.DefaultConfigPath+" if present)")
	transportFlag = flag.String("transport", "", "Override the transport: spidev, buspirate or sim")
	listen        = flag.String("listen", "", "Override the debug HTTP listen address")
	dbPath        = flag.String("db", "", "Override the capture database path")
	noCapture     = flag.Bool("no-capture", false, "Disable frame capture")
	echo          = flag.Bool("echo", false, "Send payloads addressed to this node back to their source")
	hello         = flag.Duration("hello", 0, "Broadcast a hello frame at this interval (0 disables)")
	simPeerEvery  = flag.Duration("sim-peer", time.Second, "With the sim transport, inject a ping from 02:00 at this interval (0 disables)")
	debugLog      = flag.Bool("debug", false, "Log every frame and interrupt")
	versionFlag   = flag.Bool("version", false, "Print version information and exit")
)

// loadConfig reads path, or the default config file when path is empty and
// the file exists, and applies the command line overrides.
func loadConfig(path string) (*config.NodeConfig, error) {
	cfg := config.EmptyNodeConfig()
	if path == "" {
		if _, err := os.Stat(config.DefaultConfigPath); err == nil {
			path = config.DefaultConfigPath
		}
	}
	if path != "" {
		var err error
		if cfg, err = config.LoadNodeConfig(path); err != nil {
			return nil, err
		}
	}

	if *transportFlag != "" {
		cfg.Transport = transportFlag
	}
	if *listen != "" {
		cfg.Listen = listen
	}
	if *dbPath != "" {
		cfg.DBPath = dbPath
	}
	if *noCapture {
		empty := ""
		cfg.DBPath = &empty
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func main() {
	flag.Parse()

	if *versionFlag {
		fmt.Println(version.String("l2node"))
		return
	}
	monitoring.SetDebug(*debugLog)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	tr, err := platform.Open(cfg)
	if err != nil {
		log.Fatalf("failed to open radio transport: %v", err)
	}
	defer tr.Close()

	dev, err := tr.Device(cfg.RadioType())
	if err != nil {
		log.Fatalf("failed to create radio device: %v", err)
	}
	defer dev.Close()

	radio := rfmac.New(dev, cfg.RadioOptions())

	var rec *capture.Recorder
	if path := cfg.GetDBPath(); path != "" {
		store, err := capture.Open(path)
		if err != nil {
			log.Fatalf("failed to open capture database: %v", err)
		}
		defer store.Close()
		sess, err := store.NewSession(cfg.GetAddr(), cfg.GetChannel(), cfg.GetPANID(), dev.String(), time.Now())
		if err != nil {
			log.Fatalf("failed to start capture session: %v", err)
		}
		rec = capture.NewRecorder(store, sess, cfg.GetBacklog())
		rec.Start()
		defer rec.Stop()
		log.Printf("capturing to %s, session %s", path, sess.ID)
	}

	n := newNode(*echo, *hello)
	radio.OnFrame(func(f *l2154.Frame) {
		if rec != nil {
			rec.Hook(f)
		}
		n.frameArrived(f)
	})

	l2, err := l2154.Start(radio, cfg.GetAddr(), cfg.GetChannel(), cfg.GetPANID())
	if err != nil {
		log.Fatalf("failed to start link layer: %v", err)
	}
	radio.SetMsgBufSize(cfg.GetMsgBufSize())
	n.net = l2
	defer func() {
		if err := radio.Stop(); err != nil {
			log.Printf("failed to stop radio: %v", err)
		}
	}()

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := n.run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("node loop: %v", err)
		}
		log.Print("node routine terminated")
	}()

	if tr.Sim != nil && *simPeerEvery > 0 {
		peer := newSimPeer(tr.Sim, l2154.MakeAddr(0x02, 0x00), cfg.GetAddr(), cfg.GetPANID())
		wg.Add(1)
		go func() {
			defer wg.Done()
			peer.run(ctx, *simPeerEvery)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()
		radio.AttachAdminRoutes(mux)
		if rec != nil {
			if err := rec.AttachAdminRoutes(mux); err != nil {
				log.Printf("capture debug routes disabled: %v", err)
			}
		}

		server := &http.Server{
			Addr:    cfg.GetListen(),
			Handler: mux,
		}

		go func() {
			log.Printf("debug server listening on %s", cfg.GetListen())
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}
		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	st := radio.Stats()
	log.Printf("received %d frames, echoed %d; MAC stats %+v", n.received.Load(), n.echoed.Load(), st)
	log.Printf("Graceful shutdown complete")
}
