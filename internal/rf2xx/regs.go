package rf2xx

import "fmt"

// SPI command bytes. The low 6 bits of register commands carry the address.
const (
	cmdRegRead   = 0x80
	cmdRegWrite  = 0xC0
	cmdFIFORead  = 0x20
	cmdFIFOWrite = 0x60
	cmdSRAMRead  = 0x00
	cmdSRAMWrite = 0x40

	regAddrMask = 0x3F
)

// Register addresses (AT86RF231 datasheet, table 14-1).
const (
	RegTRXStatus  = 0x01
	RegTRXState   = 0x02
	RegTRXCtrl0   = 0x03
	RegTRXCtrl1   = 0x04
	RegPHYTxPwr   = 0x05
	RegPHYRSSI    = 0x06
	RegPHYEDLevel = 0x07
	RegPHYCCCCA   = 0x08
	RegCCAThres   = 0x09
	RegRXCtrl     = 0x0A
	RegSFDValue   = 0x0B
	RegTRXCtrl2   = 0x0C
	RegAntDiv     = 0x0D
	RegIRQMask    = 0x0E
	RegIRQStatus  = 0x0F
	RegVRegCtrl   = 0x10
	RegBatMon     = 0x11
	RegXOSCCtrl   = 0x12
	RegRXSyn      = 0x15
	RegXAHCtrl1   = 0x17
	RegFTNCtrl    = 0x18
	RegPLLCF      = 0x1A
	RegPLLDCU     = 0x1B
	RegPartNum    = 0x1C
	RegVersionNum = 0x1D
	RegManID0     = 0x1E
	RegManID1     = 0x1F
	RegShortAddr0 = 0x20
	RegShortAddr1 = 0x21
	RegPANID0     = 0x22
	RegPANID1     = 0x23
	RegIEEEAddr0  = 0x24 // through 0x2B
	RegXAHCtrl0   = 0x2C
	RegCSMASeed0  = 0x2D
	RegCSMASeed1  = 0x2E
	RegCSMABE     = 0x2F
)

// RegisterNames maps register addresses to datasheet names, for dumps.
var RegisterNames = map[byte]string{
	RegTRXStatus:  "TRX_STATUS",
	RegTRXState:   "TRX_STATE",
	RegTRXCtrl0:   "TRX_CTRL_0",
	RegTRXCtrl1:   "TRX_CTRL_1",
	RegPHYTxPwr:   "PHY_TX_PWR",
	RegPHYRSSI:    "PHY_RSSI",
	RegPHYEDLevel: "PHY_ED_LEVEL",
	RegPHYCCCCA:   "PHY_CC_CCA",
	RegCCAThres:   "CCA_THRES",
	RegRXCtrl:     "RX_CTRL",
	RegSFDValue:   "SFD_VALUE",
	RegTRXCtrl2:   "TRX_CTRL_2",
	RegAntDiv:     "ANT_DIV",
	RegIRQMask:    "IRQ_MASK",
	RegIRQStatus:  "IRQ_STATUS",
	RegVRegCtrl:   "VREG_CTRL",
	RegBatMon:     "BATMON",
	RegXOSCCtrl:   "XOSC_CTRL",
	RegRXSyn:      "RX_SYN",
	RegXAHCtrl1:   "XAH_CTRL_1",
	RegFTNCtrl:    "FTN_CTRL",
	RegPLLCF:      "PLL_CF",
	RegPLLDCU:     "PLL_DCU",
	RegPartNum:    "PART_NUM",
	RegVersionNum: "VERSION_NUM",
	RegManID0:     "MAN_ID_0",
	RegManID1:     "MAN_ID_1",
	RegShortAddr0: "SHORT_ADDR_0",
	RegShortAddr1: "SHORT_ADDR_1",
	RegPANID0:     "PAN_ID_0",
	RegPANID1:     "PAN_ID_1",
	0x24:          "IEEE_ADDR_0",
	0x25:          "IEEE_ADDR_1",
	0x26:          "IEEE_ADDR_2",
	0x27:          "IEEE_ADDR_3",
	0x28:          "IEEE_ADDR_4",
	0x29:          "IEEE_ADDR_5",
	0x2A:          "IEEE_ADDR_6",
	0x2B:          "IEEE_ADDR_7",
	RegXAHCtrl0:   "XAH_CTRL_0",
	RegCSMASeed0:  "CSMA_SEED_0",
	RegCSMASeed1:  "CSMA_SEED_1",
	RegCSMABE:     "CSMA_BE",
}

// Bit fields.
const (
	TRXStatusMask  = 0x1F // TRX_STATUS: current state
	TRACStatusMask = 0xE0 // TRX_STATE: result of the last TX_ARET/RX_AACK

	TXAutoCRCOn = 0x20 // TRX_CTRL_1

	ChannelMask = 0x1F // PHY_CC_CCA
	CCAModeMask = 0x60
	CCARequest  = 0x80

	RXCRCValid = 0x80 // PHY_RSSI
	RSSIMask   = 0x1F
)

// State is a TRX_STATUS value or a TRX_STATE command.
type State byte

// TRX_STATUS values.
const (
	StatusPOn                       State = 0x00
	StatusBusyRX                    State = 0x01
	StatusBusyTX                    State = 0x02
	StatusRXOn                      State = 0x06
	StatusTRXOff                    State = 0x08
	StatusPLLOn                     State = 0x09
	StatusSleep                     State = 0x0F
	StatusBusyRXAACK                State = 0x11
	StatusBusyTXARET                State = 0x12
	StatusRXAACKOn                  State = 0x16
	StatusTXARETOn                  State = 0x19
	StatusRXOnNoCLK                 State = 0x1C
	StatusRXAACKOnNoCLK             State = 0x1D
	StatusBusyRXAACKNoCLK           State = 0x1E
	StatusStateTransitionInProgress State = 0x1F
)

// TRX_STATE commands.
const (
	CmdNOP         State = 0x00
	CmdTXStart     State = 0x02
	CmdForceTRXOff State = 0x03
	CmdForcePLLOn  State = 0x04
	CmdRXOn        State = 0x06
	CmdTRXOff      State = 0x08
	CmdPLLOn       State = 0x09
	CmdRXAACKOn    State = 0x16
	CmdTXARETOn    State = 0x19
)

var stateNames = map[State]string{
	StatusPOn:                       "P_ON",
	StatusBusyRX:                    "BUSY_RX",
	StatusBusyTX:                    "BUSY_TX",
	CmdForceTRXOff:                  "FORCE_TRX_OFF",
	CmdForcePLLOn:                   "FORCE_PLL_ON",
	StatusRXOn:                      "RX_ON",
	StatusTRXOff:                    "TRX_OFF",
	StatusPLLOn:                     "PLL_ON",
	StatusSleep:                     "SLEEP",
	StatusBusyRXAACK:                "BUSY_RX_AACK",
	StatusBusyTXARET:                "BUSY_TX_ARET",
	StatusRXAACKOn:                  "RX_AACK_ON",
	StatusTXARETOn:                  "TX_ARET_ON",
	StatusRXOnNoCLK:                 "RX_ON_NOCLK",
	StatusRXAACKOnNoCLK:             "RX_AACK_ON_NOCLK",
	StatusBusyRXAACKNoCLK:           "BUSY_RX_AACK_NOCLK",
	StatusStateTransitionInProgress: "STATE_TRANSITION_IN_PROGRESS",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("State(%#02x)", byte(s))
}

// TRAC_STATUS values, already shifted into TRX_STATE bits 7:5.
const (
	TRACSuccess              = 0 << 5
	TRACSuccessDataPending   = 1 << 5
	TRACSuccessWaitForAck    = 2 << 5
	TRACChannelAccessFailure = 3 << 5
	TRACNoAck                = 5 << 5
	TRACInvalid              = 7 << 5
)

// IRQ is a bit set of IRQ_MASK / IRQ_STATUS.
type IRQ byte

const (
	IRQPLLLock IRQ = 1 << iota
	IRQPLLUnlock
	IRQRXStart
	IRQTRXEnd
	IRQCCAEDDone
	IRQAMI
	IRQTRXUR
	IRQBatLow
)

func (i IRQ) String() string {
	names := [...]string{"PLL_LOCK", "PLL_UNLOCK", "RX_START", "TRX_END", "CCA_ED_DONE", "AMI", "TRX_UR", "BAT_LOW"}
	s := ""
	for b := 0; b < 8; b++ {
		if i&(1<<b) == 0 {
			continue
		}
		if s != "" {
			s += "|"
		}
		s += names[b]
	}
	if s == "" {
		return "none"
	}
	return s
}

// Part numbers and manufacturer id.
const (
	PartNumRF231 = 0x03
	PartNumRF212 = 0x07
	PartNumRF233 = 0x0B

	ManID0Atmel = 0x1F
	ManID1Atmel = 0x00
)

// FrameBufferSize is the size of the chip's frame buffer (PHR excluded).
const FrameBufferSize = 128

// MaxPHR is the largest valid PHY header (frame length) value.
const MaxPHR = 127
