// Command rf2xx-regs reads and writes RF2xx registers over any transport
// l2node supports.
//
// Usage:
//
//	rf2xx-regs [flags] probe
//	rf2xx-regs [flags] dump
//	rf2xx-regs [flags] read REG
//	rf2xx-regs [flags] write REG VALUE
//
// REG is a datasheet name such as PHY_CC_CCA or an address like 0x08.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/banshee-data/rf154/internal/config"
	"github.com/banshee-data/rf154/internal/platform"
	"github.com/banshee-data/rf154/internal/rf2xx"
	"github.com/banshee-data/rf154/internal/version"
)

var (
	configPath    = flag.String("config", "", "Node configuration JSON file")
	transportFlag = flag.String("transport", "", "Override the transport: spidev, buspirate or sim")
	versionFlag   = flag.Bool("version", false, "Print version information and exit")
)

var errUsage = errors.New("usage: rf2xx-regs [flags] probe | dump | read REG | write REG VALUE")

// parseReg accepts a register name, case insensitive, or a number.
func parseReg(s string) (byte, error) {
	for addr, name := range rf2xx.RegisterNames {
		if strings.EqualFold(name, s) {
			return addr, nil
		}
	}
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil || v > 0x3F {
		return 0, fmt.Errorf("unknown register %q", s)
	}
	return byte(v), nil
}

func regName(addr byte) string {
	if n, ok := rf2xx.RegisterNames[addr]; ok {
		return n
	}
	return "-"
}

// run executes one command against dev.
func run(dev *rf2xx.Device, args []string, w io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	switch cmd, args := args[0], args[1:]; cmd {
	case "probe":
		info, err := dev.Probe()
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s part 0x%02x version %d manufacturer 0x%04x\n",
			dev, info.PartNum, info.Version, info.ManID)

	case "dump":
		addrs := make([]int, 0, len(rf2xx.RegisterNames))
		for a := range rf2xx.RegisterNames {
			addrs = append(addrs, int(a))
		}
		sort.Ints(addrs)
		for _, a := range addrs {
			// reading IRQ_STATUS clears it
			if byte(a) == rf2xx.RegIRQStatus {
				continue
			}
			v, err := dev.RegRead(byte(a))
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "0x%02x %-14s 0x%02x\n", a, regName(byte(a)), v)
		}

	case "read":
		if len(args) != 1 {
			return errUsage
		}
		addr, err := parseReg(args[0])
		if err != nil {
			return err
		}
		v, err := dev.RegRead(addr)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "0x%02x %-14s 0x%02x\n", addr, regName(addr), v)

	case "write":
		if len(args) != 2 {
			return errUsage
		}
		addr, err := parseReg(args[0])
		if err != nil {
			return err
		}
		v, err := strconv.ParseUint(args[1], 0, 8)
		if err != nil {
			return fmt.Errorf("invalid value %q: %w", args[1], err)
		}
		if err := dev.RegWrite(addr, byte(v)); err != nil {
			return err
		}
		fmt.Fprintf(w, "0x%02x %-14s <- 0x%02x\n", addr, regName(addr), v)

	default:
		return errUsage
	}
	return nil
}

func main() {
	flag.Parse()
	if *versionFlag {
		fmt.Println(version.String("rf2xx-regs"))
		return
	}

	cfg := config.EmptyNodeConfig()
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadNodeConfig(*configPath); err != nil {
			log.Fatalf("failed to load configuration: %v", err)
		}
	}
	if *transportFlag != "" {
		cfg.Transport = transportFlag
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
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

	if err := run(dev, flag.Args(), os.Stdout); err != nil {
		log.Fatal(err)
	}
}
