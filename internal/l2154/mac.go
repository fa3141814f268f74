package l2154

// DefaultMsgBufSize is the receive queue length Start asks the MAC for.
const DefaultMsgBufSize = 10

// MAC is the radio management layer Net runs on. It owns transmission,
// reception and buffering of frames.
type MAC interface {
	SetAddr2(a Addr) error
	SetChannel(ch Channel) error
	SetPanID(pan PanID) error
	// SetMsgBufSize sets how many received frames are queued.
	SetMsgBufSize(n int)
	Start() error

	// SendTo sends data to dst in a data frame with the fixed header.
	SendTo(dst Addr, data []byte) error
	// GetReceived returns the oldest queued frame without removing it, or
	// nil when the queue is empty.
	GetReceived() *Frame
	// SkipReceived drops the oldest queued frame.
	SkipReceived()
}
