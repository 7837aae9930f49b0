package assembly

import (
	"fmt"

	"github.com/mctp-emu/mctp-go/pkg/mctp"
	"github.com/mctp-emu/mctp-go/pkg/packet"
)

// Fragment splits an outbound message body into transport packets of at
// most mtu payload bytes each, with incrementing sequence numbers and
// correct start/end flags. A zero-length message still yields exactly
// one packet with both flags set, so an empty payload is signalled on
// the wire.
func Fragment(body []byte, dest, src mctp.EID, tag mctp.Tag, owner bool, mtu int) ([]packet.Packet, error) {
	if mtu <= 0 {
		mtu = mctp.BaselineMTU
	}
	if mtu > packet.MaxPayload {
		return nil, fmt.Errorf("fragment: mtu %d exceeds packet payload limit %d", mtu, packet.MaxPayload)
	}
	if !tag.Valid() {
		return nil, fmt.Errorf("fragment: tag %d out of range", tag)
	}

	n := (len(body) + mtu - 1) / mtu
	if n == 0 {
		n = 1
	}

	pkts := make([]packet.Packet, 0, n)
	var seq uint8
	for i := 0; i < n; i++ {
		lo := i * mtu
		hi := lo + mtu
		if hi > len(body) {
			hi = len(body)
		}

		p := packet.Packet{
			Dest:     dest,
			Src:      src,
			SOM:      i == 0,
			EOM:      i == n-1,
			Seq:      seq,
			TagOwner: owner,
			Tag:      tag,
		}
		if hi > lo {
			p.Payload = append([]byte(nil), body[lo:hi]...)
		}
		pkts = append(pkts, p)
		seq = (seq + 1) & 0x03
	}
	return pkts, nil
}
