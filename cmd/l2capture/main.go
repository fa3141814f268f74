// Command l2capture inspects a capture database written by l2node.
//
// Usage:
//
//	l2capture [-db PATH] sessions
//	l2capture [-db PATH] stats SESSION
//	l2capture [-db PATH] frames SESSION
//	l2capture [-db PATH] pcap SESSION OUT.pcap
//
// SESSION is a session id, or "latest".
package main

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/google/uuid"

	"github.com/banshee-data/rf154/internal/capture"
	"github.com/banshee-data/rf154/internal/version"
)

var (
	dbPath      = flag.String("db", "rf154.db", "Capture database")
	versionFlag = flag.Bool("version", false, "Print version information and exit")
)

var errUsage = errors.New("usage: l2capture [-db PATH] sessions | stats SESSION | frames SESSION | pcap SESSION OUT")

func resolveSession(s *capture.Store, arg string) (uuid.UUID, error) {
	if arg != "latest" {
		id, err := uuid.Parse(arg)
		if err != nil {
			return uuid.Nil, fmt.Errorf("invalid session id %q: %w", arg, err)
		}
		return id, nil
	}
	sessions, err := s.Sessions()
	if err != nil {
		return uuid.Nil, err
	}
	if len(sessions) == 0 {
		return uuid.Nil, capture.ErrUnknownSession
	}
	return sessions[0].ID, nil
}

func run(s *capture.Store, args []string, w io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	cmd, args := args[0], args[1:]
	if cmd == "sessions" {
		sessions, err := s.Sessions()
		if err != nil {
			return err
		}
		for _, sess := range sessions {
			fmt.Fprintf(w, "%s %s node %s channel %d pan %s %s\n",
				sess.ID, sess.Started.Format("2006-01-02T15:04:05Z07:00"), sess.Node, sess.Channel, sess.PAN, sess.Radio)
		}
		return nil
	}

	want := map[string]int{"stats": 1, "frames": 1, "pcap": 2}
	if n, ok := want[cmd]; !ok || len(args) != n {
		return errUsage
	}
	id, err := resolveSession(s, args[0])
	if err != nil {
		return err
	}

	switch cmd {
	case "stats":
		ls, err := s.LinkStats(id)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(ls)

	case "frames":
		records, err := s.Frames(id)
		if err != nil {
			return err
		}
		for _, r := range records {
			fmt.Fprintf(w, "%s %-10s %s -> %s seq %3d lqi %3d %s\n",
				r.Time.Format("15:04:05.000000"), r.Status, r.Src, r.Dst, r.Seq, r.LQI, hex.EncodeToString(r.PSDU))
		}
		return nil

	case "pcap":
		f, err := os.Create(args[1])
		if err != nil {
			return err
		}
		if err := s.ExportPcap(f, id); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	}
	return errUsage
}

func main() {
	flag.Parse()
	if *versionFlag {
		fmt.Println(version.String("l2capture"))
		return
	}
	s, err := capture.Open(*dbPath)
	if err != nil {
		log.Fatalf("failed to open capture database: %v", err)
	}
	defer s.Close()
	if err := run(s, flag.Args(), os.Stdout); err != nil {
		log.Fatal(err)
	}
}
