package main

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/banshee-data/rf154/internal/l2154"
	"github.com/banshee-data/rf154/internal/monitoring"
)

// node drives an l2154.Net: it drains received frames when the MAC signals
// one, optionally echoes unicast payloads and broadcasts hellos.
type node struct {
	net   *l2154.Net
	echo  bool
	hello time.Duration

	notify chan struct{}
	seq    atomic.Uint32

	received atomic.Int64
	echoed   atomic.Int64
}

func newNode(echo bool, hello time.Duration) *node {
	return &node{
		echo:   echo,
		hello:  hello,
		notify: make(chan struct{}, 1),
	}
}

// frameArrived is the MAC receive hook. It only wakes the loop.
func (n *node) frameArrived(*l2154.Frame) {
	select {
	case n.notify <- struct{}{}:
	default:
	}
}

// run handles frames until ctx is done.
func (n *node) run(ctx context.Context) error {
	var tick <-chan time.Time
	if n.hello > 0 {
		ticker := time.NewTicker(n.hello)
		defer ticker.Stop()
		tick = ticker.C
	}
	// frames queued before the hook was installed
	n.drain()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-n.notify:
			n.drain()
		case <-tick:
			if err := n.sendHello(); err != nil {
				log.Printf("hello: %v", err)
			}
		}
	}
}

func (n *node) drain() {
	for {
		status := n.net.Recv()
		f := n.net.Frame()
		if f == nil {
			return
		}
		switch status {
		case l2154.RecvOK:
			n.received.Add(1)
			log.Printf("rx %s -> %s seq %d lqi %d: %q", f.Src, f.Dst, f.Seq, f.LQI, n.net.Payload())
			if n.echo && f.Dst == n.net.Addr() {
				n.reply(f.Src, n.net.Payload())
			}
		case l2154.RecvWrongDest:
			monitoring.Debugf("rx for %s ignored", f.Dst)
		default:
			monitoring.Debugf("rx %s frame ignored", f.FCF.FrameType())
		}
	}
}

func (n *node) reply(dst l2154.Addr, payload []byte) {
	if err := n.net.Send(dst, payload); err != nil {
		log.Printf("echo to %s: %v", dst, err)
		return
	}
	n.echoed.Add(1)
}

func (n *node) sendHello() error {
	msg := fmt.Sprintf("hello %d from %s", n.seq.Add(1), n.net.Addr())
	if len(msg) > n.net.MaxPayload() {
		msg = msg[:n.net.MaxPayload()]
	}
	return n.net.Send(n.net.Broadcast(), []byte(msg))
}
