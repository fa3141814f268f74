package capture

import (
	"fmt"
	"io"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/google/uuid"

	"github.com/banshee-data/rf154/internal/l2154"
)

// LinkTypeIEEE802154 is DLT_IEEE802_15_4_WITHFCS: the PSDU including FCS.
const LinkTypeIEEE802154 = layers.LinkType(195)

// WritePcap writes records as a pcap stream readable by Wireshark.
func WritePcap(w io.Writer, records []Record) error {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(l2154.MaxPSDU, LinkTypeIEEE802154); err != nil {
		return fmt.Errorf("failed to write pcap header: %w", err)
	}
	for _, r := range records {
		ci := gopacket.CaptureInfo{
			Timestamp:     r.Time,
			CaptureLength: len(r.PSDU),
			Length:        len(r.PSDU),
		}
		if err := pw.WritePacket(ci, r.PSDU); err != nil {
			return fmt.Errorf("failed to write frame %d: %w", r.ID, err)
		}
	}
	return nil
}

// ExportPcap writes the frames of session as pcap.
func (s *Store) ExportPcap(w io.Writer, session uuid.UUID) error {
	if _, err := s.Session(session); err != nil {
		return err
	}
	records, err := s.Frames(session)
	if err != nil {
		return fmt.Errorf("failed to load frames: %w", err)
	}
	return WritePcap(w, records)
}
