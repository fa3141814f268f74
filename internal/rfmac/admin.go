package rfmac

import (
	"fmt"
	"net/http"
	"sort"

	"tailscale.com/tsweb"

	"github.com/banshee-data/rf154/internal/httputil"
	"github.com/banshee-data/rf154/internal/rf2xx"
)

// Status is the state reported by the l2 debug route.
type Status struct {
	Started bool   `json:"started"`
	Addr    string `json:"addr"`
	PAN     string `json:"pan"`
	Channel int    `json:"channel"`
	Queued  int    `json:"queued"`
	BufSize int    `json:"buf_size"`
	Stats   Stats  `json:"stats"`
}

// Status returns the configuration and counters of the MAC.
func (r *Radio) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Status{
		Started: r.started,
		Addr:    r.addr.String(),
		PAN:     r.pan.String(),
		Channel: int(r.channel),
		Queued:  len(r.queue),
		BufSize: r.bufSize,
		Stats:   r.stats,
	}
}

// DumpRegisters reads every named register. Reads of IRQ_STATUS are skipped
// since they clear pending interrupts.
func (r *Radio) DumpRegisters() (map[byte]byte, error) {
	r.chip.Lock()
	defer r.chip.Unlock()
	regs := make(map[byte]byte, len(rf2xx.RegisterNames))
	for addr := range rf2xx.RegisterNames {
		if addr == rf2xx.RegIRQStatus {
			continue
		}
		v, err := r.dev.RegRead(addr)
		if err != nil {
			return nil, err
		}
		regs[addr] = v
	}
	return regs, nil
}

// AttachAdminRoutes attaches debug endpoints to the given HTTP mux served at
// /debug/. These routes are accessible only over localhost/via Tailscale.
func (r *Radio) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("rf2xx", "dump transceiver registers", func(w http.ResponseWriter, req *http.Request) {
		regs, err := r.DumpRegisters()
		if err != nil {
			httputil.WriteJSONError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		addrs := make([]int, 0, len(regs))
		for a := range regs {
			addrs = append(addrs, int(a))
		}
		sort.Ints(addrs)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintf(w, "%s\n", r.dev)
		for _, a := range addrs {
			fmt.Fprintf(w, "0x%02x %-14s 0x%02x\n", a, rf2xx.RegisterNames[byte(a)], regs[byte(a)])
		}
	})

	debug.HandleFunc("l2", "link layer status and counters", func(w http.ResponseWriter, req *http.Request) {
		httputil.WriteJSONOK(w, r.Status())
	})
}
