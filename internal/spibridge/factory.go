package spibridge

// Open opens the serial port at path and brings up the bridge on it.
func Open(path string, opts PortOptions, cfg Config) (*Bridge, error) {
	return OpenWith(openSerial, path, opts, cfg)
}

// OpenWith is Open with a custom port opener.
func OpenWith(open PortOpener, path string, opts PortOptions, cfg Config) (*Bridge, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := open(path, mode)
	if err != nil {
		return nil, err
	}
	b, err := New(port, path, cfg)
	if err != nil {
		port.Close()
		return nil, err
	}
	return b, nil
}
