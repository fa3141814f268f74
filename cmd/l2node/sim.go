package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/banshee-data/rf154/internal/l2154"
	"github.com/banshee-data/rf154/internal/monitoring"
	"github.com/banshee-data/rf154/internal/rf2xx/rf2xxsim"
)

// simPeer stands in for a remote node when running on the simulator: it
// sends pings over the simulated air and logs what the local radio sends.
type simPeer struct {
	chip *rf2xxsim.Chip
	addr l2154.Addr
	dst  l2154.Addr
	pan  l2154.PanID
	seq  uint8
}

func newSimPeer(chip *rf2xxsim.Chip, addr, dst l2154.Addr, pan l2154.PanID) *simPeer {
	p := &simPeer{chip: chip, addr: addr, dst: dst, pan: pan}
	chip.OnTransmit(p.heard)
	return p
}

func (p *simPeer) heard(psdu []byte) {
	f, err := l2154.DecodeFrame(psdu)
	if err != nil {
		log.Printf("sim: undecodable transmission %x: %v", psdu, err)
		return
	}
	log.Printf("sim: air %s -> %s seq %d: %q", f.Src, f.Dst, f.Seq, f.Payload)
}

// ping injects one frame from the peer into the simulated radio.
func (p *simPeer) ping() error {
	p.seq++
	psdu, err := l2154.EncodeFrame(l2154.Header{
		FCF: l2154.DataFCF(false),
		Seq: p.seq,
		Dst: p.dst,
		PAN: p.pan,
		Src: p.addr,
	}, []byte(fmt.Sprintf("ping %d", p.seq)))
	if err != nil {
		return err
	}
	return p.chip.Receive(psdu, 0xFF, true)
}

func (p *simPeer) run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := p.ping()
			if errors.Is(err, rf2xxsim.ErrNotReceiving) {
				monitoring.Debugf("sim: radio busy, ping dropped")
				continue
			}
			if err != nil {
				log.Printf("sim: ping: %v", err)
			}
		}
	}
}
