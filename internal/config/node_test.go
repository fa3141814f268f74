package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/banshee-data/rf154/internal/l2154"
	"github.com/banshee-data/rf154/internal/rf2xx"
	"github.com/banshee-data/rf154/internal/spibridge"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}

func TestEmptyNodeConfigDefaults(t *testing.T) {
	cfg := EmptyNodeConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty config invalid: %v", err)
	}

	if cfg.RadioType() != rf2xx.Type2_4GHz {
		t.Errorf("RadioType() = %v, want 2.4GHz", cfg.RadioType())
	}
	if cfg.GetTransport() != TransportSPIDev {
		t.Errorf("GetTransport() = %q, want %q", cfg.GetTransport(), TransportSPIDev)
	}
	if cfg.GetSPIHz() != 4_000_000 {
		t.Errorf("GetSPIHz() = %d, want 4000000", cfg.GetSPIHz())
	}
	if cfg.GetAddr() != l2154.MakeAddr(0x01, 0x00) {
		t.Errorf("GetAddr() = %s, want 01:00", cfg.GetAddr())
	}
	if cfg.GetChannel() != 11 {
		t.Errorf("GetChannel() = %d, want 11", cfg.GetChannel())
	}
	if cfg.GetPANID() != 0xCAFE {
		t.Errorf("GetPANID() = %s, want 0xcafe", cfg.GetPANID())
	}
	if cfg.GetMsgBufSize() != l2154.DefaultMsgBufSize {
		t.Errorf("GetMsgBufSize() = %d, want %d", cfg.GetMsgBufSize(), l2154.DefaultMsgBufSize)
	}
	if cfg.GetDBPath() != "rf154.db" {
		t.Errorf("GetDBPath() = %q", cfg.GetDBPath())
	}
	if cfg.GetBacklog() != 64 {
		t.Errorf("GetBacklog() = %d, want 64", cfg.GetBacklog())
	}
	if cfg.GetListen() != "localhost:8154" {
		t.Errorf("GetListen() = %q", cfg.GetListen())
	}
	if cfg.GetIRQPin() != "" || cfg.GetPAPin() != "" {
		t.Errorf("pins set by default")
	}

	opts := cfg.RadioOptions()
	if !opts.AckRequest || opts.FrameRetries != 3 || opts.TxTimeout != 100*time.Millisecond {
		t.Errorf("RadioOptions() = %+v", opts)
	}
	bc := cfg.GetBridgeConfig()
	if bc.Speed != spibridge.Speed4MHz || !bc.Power {
		t.Errorf("GetBridgeConfig() = %+v", bc)
	}
	if got := cfg.GetBridgeSerial(); got.BaudRate != spibridge.DefaultBaudRate {
		t.Errorf("GetBridgeSerial() = %+v", got)
	}
}

func TestChannelDefaultFollowsRadio(t *testing.T) {
	cfg := &NodeConfig{Radio: ptrString("868MHz")}
	if cfg.GetChannel() != 1 {
		t.Errorf("GetChannel() = %d, want 1", cfg.GetChannel())
	}
}

func TestLoadNodeConfig(t *testing.T) {
	path := writeConfig(t, "node.json", `{
  "radio": "868MHz",
  "transport": "buspirate",
  "bridge_port": "/dev/ttyUSB0",
  "bridge_speed": "1MHz",
  "bridge_power": false,
  "bridge_serial": {"baud_rate": 230400},
  "reset_pin": "GPIO25",
  "slp_tr_pin": "GPIO24",
  "irq_pin": "GPIO23",
  "dig2_pin": "GPIO22",
  "addr": "02:00",
  "channel": 5,
  "pan_id": "0x1234",
  "msg_buf_size": 4,
  "ack_request": false,
  "frame_retries": 7,
  "tx_timeout": "250ms",
  "db_path": "",
  "listen": ":9000"
}`)

	cfg, err := LoadNodeConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.RadioType() != rf2xx.Type868MHz {
		t.Errorf("RadioType() = %v", cfg.RadioType())
	}
	if cfg.GetTransport() != TransportBusPirate || cfg.GetBridgePort() != "/dev/ttyUSB0" {
		t.Errorf("transport %q port %q", cfg.GetTransport(), cfg.GetBridgePort())
	}
	bc := cfg.GetBridgeConfig()
	if bc.Speed != spibridge.Speed1MHz || bc.Power {
		t.Errorf("GetBridgeConfig() = %+v", bc)
	}
	if got := cfg.GetBridgeSerial(); got.BaudRate != 230400 || got.DataBits != 8 {
		t.Errorf("GetBridgeSerial() = %+v", got)
	}
	if cfg.GetResetPin() != "GPIO25" || cfg.GetSlpTrPin() != "GPIO24" || cfg.GetIRQPin() != "GPIO23" || cfg.GetDIG2Pin() != "GPIO22" {
		t.Errorf("pins %q %q %q %q", cfg.GetResetPin(), cfg.GetSlpTrPin(), cfg.GetIRQPin(), cfg.GetDIG2Pin())
	}
	if cfg.GetAddr() != l2154.MakeAddr(0x02, 0x00) {
		t.Errorf("GetAddr() = %s", cfg.GetAddr())
	}
	if cfg.GetChannel() != 5 {
		t.Errorf("GetChannel() = %d", cfg.GetChannel())
	}
	if cfg.GetPANID() != 0x1234 {
		t.Errorf("GetPANID() = %s", cfg.GetPANID())
	}
	if cfg.GetMsgBufSize() != 4 {
		t.Errorf("GetMsgBufSize() = %d", cfg.GetMsgBufSize())
	}
	opts := cfg.RadioOptions()
	if opts.AckRequest || opts.FrameRetries != 7 || opts.TxTimeout != 250*time.Millisecond {
		t.Errorf("RadioOptions() = %+v", opts)
	}
	if cfg.GetDBPath() != "" {
		t.Errorf("GetDBPath() = %q, want capture disabled", cfg.GetDBPath())
	}
	if cfg.GetListen() != ":9000" {
		t.Errorf("GetListen() = %q", cfg.GetListen())
	}
}

func TestLoadNodeConfigPartial(t *testing.T) {
	path := writeConfig(t, "partial.json", `{"channel": 26}`)
	cfg, err := LoadNodeConfig(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.GetChannel() != 26 {
		t.Errorf("GetChannel() = %d", cfg.GetChannel())
	}
	if cfg.GetPANID() != 0xCAFE {
		t.Errorf("GetPANID() = %s, want default", cfg.GetPANID())
	}
}

func TestLoadNodeConfigErrors(t *testing.T) {
	if _, err := LoadNodeConfig(writeConfig(t, "node.yaml", `{}`)); err == nil || !strings.Contains(err.Error(), ".json") {
		t.Errorf("expected extension error, got %v", err)
	}
	if _, err := LoadNodeConfig(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := LoadNodeConfig(writeConfig(t, "bad.json", `{"channel": `)); err == nil {
		t.Error("expected parse error")
	}
	if _, err := LoadNodeConfig(writeConfig(t, "invalid.json", `{"channel": 3}`)); err == nil || !strings.Contains(err.Error(), "invalid configuration") {
		t.Errorf("expected validation error, got %v", err)
	}

	big := `{"listen": "` + strings.Repeat("x", 1024*1024) + `"}`
	if _, err := LoadNodeConfig(writeConfig(t, "big.json", big)); err == nil || !strings.Contains(err.Error(), "too large") {
		t.Errorf("expected size error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     NodeConfig
		wantErr bool
	}{
		{"empty", NodeConfig{}, false},
		{"bad radio", NodeConfig{Radio: ptrString("915MHz")}, true},
		{"bad transport", NodeConfig{Transport: ptrString("usb")}, true},
		{"bridge without port", NodeConfig{Transport: ptrString(TransportBusPirate)}, true},
		{"sim", NodeConfig{Transport: ptrString(TransportSim)}, false},
		{"bad bridge speed", NodeConfig{BridgeSpeed: ptrString("3MHz")}, true},
		{"bad bridge parity", NodeConfig{BridgeSerial: &spibridge.PortOptions{Parity: "X"}}, true},
		{"bad addr", NodeConfig{Addr: ptrString("1:2:3")}, true},
		{"2.4GHz channel on 868MHz", NodeConfig{Radio: ptrString("868MHz"), Channel: ptrInt(11)}, true},
		{"868MHz channel", NodeConfig{Radio: ptrString("868MHz"), Channel: ptrInt(10)}, false},
		{"negative channel", NodeConfig{Channel: ptrInt(-1)}, true},
		{"bad pan", NodeConfig{PANID: ptrString("0x12345")}, true},
		{"decimal pan", NodeConfig{PANID: ptrString("4660")}, false},
		{"zero msg buf", NodeConfig{MsgBufSize: ptrInt(0)}, true},
		{"too many retries", NodeConfig{FrameRetries: ptrInt(16)}, true},
		{"bad timeout", NodeConfig{TxTimeout: ptrString("soon")}, true},
		{"negative timeout", NodeConfig{TxTimeout: ptrString("-1s")}, true},
		{"zero backlog", NodeConfig{Backlog: ptrInt(0)}, true},
		{"ack off", NodeConfig{AckRequest: ptrBool(false)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestExampleConfig(t *testing.T) {
	cfg, err := LoadNodeConfig(filepath.Join("..", "..", "config", "node.example.json"))
	if err != nil {
		t.Fatalf("LoadNodeConfig() error = %v", err)
	}
	if got := cfg.GetAddr(); got != l2154.MakeAddr(0x01, 0x00) {
		t.Errorf("GetAddr() = %v, want 01:00", got)
	}
	if got := cfg.GetPANID(); got != 0xcafe {
		t.Errorf("GetPANID() = %v, want 0xcafe", got)
	}
	if got := cfg.GetBridgeConfig().Speed; got != spibridge.Speed1MHz {
		t.Errorf("bridge speed = %v, want 1MHz", got)
	}
}
