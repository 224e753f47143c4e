package pfresolved

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net/netip"

	"github.com/sirupsen/logrus"
)

// MessageType identifies the payload that follows a frame header, the Go
// counterpart to enum imsg_type's IMSG_RESOLVEREQ/_SUCCESS/_FAIL.
type MessageType uint8

const (
	MessageResolveReq MessageType = iota + 1
	MessageResolveOk
	MessageResolveFail
)

// maxFrameSize bounds a single frame so a misbehaving peer on either end of
// the link can't make the other side allocate unbounded memory decoding a
// length prefix.
const maxFrameSize = 1 << 20

// Message is one frame of the controller<->worker protocol.
type Message struct {
	Type     MessageType
	Hostname string
	Family   AddressFamily
	TTL      int32
	Records  []AddressRecord
}

// WriteMessage encodes m as a length-prefixed frame: a 4-byte little-endian
// total length, a 1-byte type, then the type-specific body. ResolveReq
// carries only family+hostname; ResolveOk adds TTL and the record list;
// ResolveFail carries just family+hostname, same as ResolveReq.
func WriteMessage(w io.Writer, m Message) error {
	body, err := encodeBody(m)
	if err != nil {
		return err
	}
	frame := make([]byte, 4+1+len(body))
	binary.LittleEndian.PutUint32(frame[0:4], uint32(1+len(body)))
	frame[4] = byte(m.Type)
	copy(frame[5:], body)
	_, err = w.Write(frame)
	return err
}

func encodeBody(m Message) ([]byte, error) {
	hostBytes := []byte(m.Hostname)
	if len(hostBytes) > 1<<16 {
		return nil, fmt.Errorf("hostname too long: %d bytes", len(hostBytes))
	}

	buf := make([]byte, 0, 16+len(hostBytes))
	var fam [2]byte
	binary.LittleEndian.PutUint16(fam[:], uint16(m.Family))
	buf = append(buf, fam[:]...)

	var hlen [4]byte
	binary.LittleEndian.PutUint32(hlen[:], uint32(len(hostBytes)))
	buf = append(buf, hlen[:]...)
	buf = append(buf, hostBytes...)

	if m.Type == MessageResolveFail || m.Type == MessageResolveReq {
		return buf, nil
	}

	var ttl [4]byte
	binary.LittleEndian.PutUint32(ttl[:], uint32(m.TTL))
	buf = append(buf, ttl[:]...)

	records := m.Records
	if max := maxRecords(len(hostBytes), m.Family); len(records) > max {
		Log.WithFields(logrus.Fields{
			"component": "message", "host": m.Hostname, "family": m.Family,
			"count": len(records), "max": max,
		}).Warn("resolve result has too many addresses for one frame, truncating")
		records = records[:max]
	}

	var count [4]byte
	binary.LittleEndian.PutUint32(count[:], uint32(len(records)))
	buf = append(buf, count[:]...)

	for _, r := range records {
		var fam [2]byte
		if r.Addr.Is4() {
			binary.LittleEndian.PutUint16(fam[:], uint16(AddressFamilyV4))
			buf = append(buf, fam[:]...)
			b := r.Addr.As4()
			buf = append(buf, b[:]...)
		} else {
			binary.LittleEndian.PutUint16(fam[:], uint16(AddressFamilyV6))
			buf = append(buf, fam[:]...)
			b := r.Addr.As16()
			buf = append(buf, b[:]...)
		}
	}
	return buf, nil
}

// maxRecords returns how many AddressRecords of the given family fit in a
// single frame alongside a hostname of hostLen bytes and the rest of the
// ResolveOk header (type, family, hostname length/bytes, ttl, record
// count), so ResolveOk always fits in one frame per spec.md §4.1 instead of
// relying on ReadMessage's maxFrameSize check to reject an oversized
// answer. Earlier records are kept; the caller truncates by slicing.
func maxRecords(hostLen int, family AddressFamily) int {
	recordSize := 2 + 4 // family + v4 address bytes
	if family == AddressFamilyV6 {
		recordSize = 2 + 16
	}
	fixed := 1 + 2 + 4 + hostLen + 4 + 4 // type, family, hostlen, hostname, ttl, count
	budget := maxFrameSize - fixed
	if budget < 0 {
		return 0
	}
	return budget / recordSize
}

// ReadMessage decodes one frame from r, the inverse of WriteMessage. It
// enforces maxFrameSize and returns io.EOF unmodified when the peer has
// closed the link cleanly between frames.
func ReadMessage(r *bufio.Reader) (Message, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Message{}, err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	if n == 0 || n > maxFrameSize {
		return Message{}, fmt.Errorf("invalid frame length %d", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return Message{}, fmt.Errorf("reading frame body: %w", err)
	}

	m := Message{Type: MessageType(body[0])}
	body = body[1:]

	if len(body) < 2 {
		return Message{}, fmt.Errorf("frame too short for family")
	}
	m.Family = AddressFamily(binary.LittleEndian.Uint16(body[:2]))
	body = body[2:]

	if len(body) < 4 {
		return Message{}, fmt.Errorf("frame too short for hostname length")
	}
	hlen := binary.LittleEndian.Uint32(body[:4])
	body = body[4:]
	if uint32(len(body)) < hlen {
		return Message{}, fmt.Errorf("frame too short for hostname")
	}
	m.Hostname = string(body[:hlen])
	body = body[hlen:]

	if m.Type == MessageResolveReq || m.Type == MessageResolveFail {
		return m, nil
	}

	if len(body) < 4 {
		return Message{}, fmt.Errorf("frame too short for ttl")
	}
	m.TTL = int32(binary.LittleEndian.Uint32(body[:4]))
	body = body[4:]

	if len(body) == 0 {
		return m, nil
	}

	if len(body) < 4 {
		return Message{}, fmt.Errorf("frame too short for record count")
	}
	count := binary.LittleEndian.Uint32(body[:4])
	body = body[4:]

	m.Records = make([]AddressRecord, 0, count)
	for i := uint32(0); i < count; i++ {
		if len(body) < 2 {
			return Message{}, fmt.Errorf("frame too short for record %d family", i)
		}
		fam := AddressFamily(binary.LittleEndian.Uint16(body[:2]))
		body = body[2:]

		var addr netip.Addr
		switch fam {
		case AddressFamilyV4:
			if len(body) < 4 {
				return Message{}, fmt.Errorf("frame too short for record %d address", i)
			}
			addr = netip.AddrFrom4([4]byte(body[:4]))
			body = body[4:]
		case AddressFamilyV6:
			if len(body) < 16 {
				return Message{}, fmt.Errorf("frame too short for record %d address", i)
			}
			addr = netip.AddrFrom16([16]byte(body[:16]))
			body = body[16:]
		default:
			return Message{}, fmt.Errorf("record %d: unknown family %d", i, fam)
		}
		m.Records = append(m.Records, AddressRecord{Addr: addr})
	}
	return m, nil
}
