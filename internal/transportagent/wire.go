package transportagent

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"
)

// WireVersion is the frame format this build speaks, independent of
// the discovery beacon's WireVersion.
const WireVersion uint8 = 1

// Address is the small closed vocabulary of transport wire addresses
// (§6). Kept as a distinct type from string so a typo doesn't silently
// compile into an unrecognized address.
type Address string

const (
	AddrStart       Address = "/transport/start"
	AddrStop        Address = "/transport/stop"
	AddrLocate      Address = "/transport/locate"
	AddrLocateStart Address = "/transport/locate_start"
	AddrQuery       Address = "/transport/query"
	AddrState       Address = "/transport/state"
)

const (
	flagHasInstant = 1 << 0
	flagHasFrame   = 1 << 1
)

// message is the decoded shape of every transport datagram: an
// address plus an optional target instant (float64 unix seconds) and
// an optional frame (int64), matching §6's typed argument list.
type message struct {
	WireVersion   uint8
	Address       Address
	TargetInstant float64
	HasInstant    bool
	Frame         int64
	HasFrame      bool
}

func encodeMessage(m message) []byte {
	buf := new(bytes.Buffer)
	buf.WriteByte(m.WireVersion)
	writeAddrString(buf, string(m.Address))

	var flags byte
	if m.HasInstant {
		flags |= flagHasInstant
	}
	if m.HasFrame {
		flags |= flagHasFrame
	}
	buf.WriteByte(flags)

	if m.HasInstant {
		binary.Write(buf, binary.BigEndian, m.TargetInstant)
	}
	if m.HasFrame {
		binary.Write(buf, binary.BigEndian, m.Frame)
	}
	return buf.Bytes()
}

func decodeMessage(data []byte) (message, error) {
	r := bytes.NewReader(data)
	var version uint8
	if err := binary.Read(r, binary.BigEndian, &version); err != nil {
		return message{}, fmt.Errorf("read wire version: %w", err)
	}
	addr, err := readAddrString(r)
	if err != nil {
		return message{}, fmt.Errorf("read address: %w", err)
	}
	var flags byte
	if err := binary.Read(r, binary.BigEndian, &flags); err != nil {
		return message{}, fmt.Errorf("read flags: %w", err)
	}

	m := message{WireVersion: version, Address: Address(addr)}
	if flags&flagHasInstant != 0 {
		if err := binary.Read(r, binary.BigEndian, &m.TargetInstant); err != nil {
			return message{}, fmt.Errorf("read target_instant: %w", err)
		}
		m.HasInstant = true
	}
	if flags&flagHasFrame != 0 {
		if err := binary.Read(r, binary.BigEndian, &m.Frame); err != nil {
			return message{}, fmt.Errorf("read frame: %w", err)
		}
		m.HasFrame = true
	}
	return m, nil
}

func writeAddrString(buf *bytes.Buffer, s string) {
	binary.Write(buf, binary.BigEndian, uint8(len(s)))
	buf.WriteString(s)
}

func readAddrString(r *bytes.Reader) (string, error) {
	var n uint8
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", err
	}
	b := make([]byte, n)
	if n > 0 {
		if _, err := r.Read(b); err != nil {
			return "", err
		}
	}
	return string(b), nil
}

// EncodeArmMessage builds the wire frame for an arm-style command
// (/transport/start, /transport/stop, /transport/locate_start), for
// use by internal/transportcoord's broadcast. target is encoded as
// seconds since the Unix epoch.
func EncodeArmMessage(address string, target time.Time, frame int64, hasFrame bool) []byte {
	return encodeMessage(message{
		WireVersion:   WireVersion,
		Address:       Address(address),
		TargetInstant: float64(target.UnixNano()) / float64(time.Second),
		HasInstant:    true,
		Frame:         frame,
		HasFrame:      hasFrame,
	})
}

// EncodeQueryMessage builds the /transport/query wire frame.
func EncodeQueryMessage() []byte {
	return encodeMessage(message{WireVersion: WireVersion, Address: AddrQuery})
}

// StateReply is the decoded form of a /transport/state reply, exposed
// for internal/transportcoord's query_all.
type StateReply struct {
	State string
	Frame int64
	Now   float64
}

// DecodeStateReply decodes a /transport/state reply datagram.
func DecodeStateReply(data []byte) (StateReply, error) {
	s, err := decodeState(data)
	if err != nil {
		return StateReply{}, err
	}
	return StateReply{State: s.State, Frame: s.Frame, Now: s.Now}, nil
}

// stateMessage is the /transport/state reply payload: current state,
// frame position, and the responder's wall-clock now, all as
// arguments on the same message shape.
type stateMessage struct {
	State string
	Frame int64
	Now   float64
}

func encodeState(s stateMessage) []byte {
	buf := new(bytes.Buffer)
	buf.WriteByte(WireVersion)
	writeAddrString(buf, string(AddrState))
	writeAddrString(buf, s.State)
	binary.Write(buf, binary.BigEndian, s.Frame)
	binary.Write(buf, binary.BigEndian, s.Now)
	return buf.Bytes()
}

func decodeState(data []byte) (stateMessage, error) {
	r := bytes.NewReader(data)
	var version uint8
	if err := binary.Read(r, binary.BigEndian, &version); err != nil {
		return stateMessage{}, err
	}
	addr, err := readAddrString(r)
	if err != nil {
		return stateMessage{}, err
	}
	if Address(addr) != AddrState {
		return stateMessage{}, fmt.Errorf("unexpected address %q in state reply", addr)
	}
	state, err := readAddrString(r)
	if err != nil {
		return stateMessage{}, err
	}
	var frame int64
	if err := binary.Read(r, binary.BigEndian, &frame); err != nil {
		return stateMessage{}, err
	}
	var now float64
	if err := binary.Read(r, binary.BigEndian, &now); err != nil {
		return stateMessage{}, err
	}
	return stateMessage{State: state, Frame: frame, Now: now}, nil
}
