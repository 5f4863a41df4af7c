package discovery

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/skeletoncrew/nodecraft/internal/domain"
)

// WireVersion is the frame format this build speaks. A node advertising
// a different version is still recorded (see domain.NodeDescriptor's
// WireVersion field) rather than dropped.
const WireVersion uint8 = 1

// frameKind tags the two message shapes multiplexed onto the shared
// discovery socket (§9 Open Question: beacon and service channel share
// one transport in this implementation).
type frameKind uint8

const (
	frameBeacon          frameKind = 1
	frameServiceUpdate   frameKind = 2
	frameSnapshotRequest frameKind = 3
)

// beaconFrame is the periodic node announcement. Fields are ordered as
// they appear in the binary layout; variable-length string/slice/map
// fields are each prefixed by a uint16 length.
type beaconFrame struct {
	WireVersion uint8
	NodeID      string
	NodeName    string
	Host        string
	ControlPort uint16
	Roles       []string
	Tags        map[string]string
	TimestampMS uint64
}

func encodeBeacon(node domain.NodeDescriptor) ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.WriteByte(byte(frameBeacon))
	buf.WriteByte(node.WireVersion)
	writeString(buf, node.ID)
	writeString(buf, node.Name)
	writeString(buf, node.Host)
	binary.Write(buf, binary.BigEndian, uint16(node.ControlPort))

	roles := make([]string, len(node.Roles))
	for i, r := range node.Roles {
		roles[i] = string(r)
	}
	writeStringSlice(buf, roles)
	writeStringMap(buf, node.Tags)
	binary.Write(buf, binary.BigEndian, uint64(node.LastSeen.UnixMilli()))
	return buf.Bytes(), nil
}

func decodeBeacon(data []byte) (beaconFrame, error) {
	r := bytes.NewReader(data)
	var version uint8
	if err := binary.Read(r, binary.BigEndian, &version); err != nil {
		return beaconFrame{}, fmt.Errorf("read wire version: %w", err)
	}

	nodeID, err := readString(r)
	if err != nil {
		return beaconFrame{}, fmt.Errorf("read node_id: %w", err)
	}
	nodeName, err := readString(r)
	if err != nil {
		return beaconFrame{}, fmt.Errorf("read node_name: %w", err)
	}
	host, err := readString(r)
	if err != nil {
		return beaconFrame{}, fmt.Errorf("read host: %w", err)
	}
	var controlPort uint16
	if err := binary.Read(r, binary.BigEndian, &controlPort); err != nil {
		return beaconFrame{}, fmt.Errorf("read control_port: %w", err)
	}
	roles, err := readStringSlice(r)
	if err != nil {
		return beaconFrame{}, fmt.Errorf("read roles: %w", err)
	}
	tags, err := readStringMap(r)
	if err != nil {
		return beaconFrame{}, fmt.Errorf("read tags: %w", err)
	}
	var timestampMS uint64
	if err := binary.Read(r, binary.BigEndian, &timestampMS); err != nil {
		return beaconFrame{}, fmt.Errorf("read timestamp: %w", err)
	}

	return beaconFrame{
		WireVersion: version,
		NodeID:      nodeID,
		NodeName:    nodeName,
		Host:        host,
		ControlPort: controlPort,
		Roles:       roles,
		Tags:        tags,
		TimestampMS: timestampMS,
	}, nil
}

func (f beaconFrame) toDescriptor() domain.NodeDescriptor {
	roles := make([]domain.NodeRole, len(f.Roles))
	for i, r := range f.Roles {
		roles[i] = domain.NodeRole(r)
	}
	return domain.NodeDescriptor{
		ID:          f.NodeID,
		Name:        f.NodeName,
		Host:        f.Host,
		ControlPort: int(f.ControlPort),
		Roles:       roles,
		Tags:        f.Tags,
		Status:      domain.NodeOnline,
		LastSeen:    time.UnixMilli(int64(f.TimestampMS)),
		WireVersion: f.WireVersion,
	}
}

// serviceUpdateFrame carries one service-channel action (§4.4).
type serviceUpdateFrame struct {
	WireVersion  uint8
	Action       string
	NodeID       string
	Type         string
	Name         string
	Endpoint     string
	Capabilities map[string]string
	Availability string
	Health       string
	TimestampMS  uint64
}

func encodeServiceUpdate(action string, svc domain.ServiceDescriptor) ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.WriteByte(byte(frameServiceUpdate))
	buf.WriteByte(WireVersion)
	writeString(buf, action)
	writeString(buf, svc.NodeID)
	writeString(buf, string(svc.Type))
	writeString(buf, svc.Name)
	writeString(buf, svc.Endpoint)
	writeStringMap(buf, svc.Capabilities)
	writeString(buf, string(svc.Availability))
	writeString(buf, string(svc.Health))
	binary.Write(buf, binary.BigEndian, uint64(svc.UpdatedAt.UnixMilli()))
	return buf.Bytes(), nil
}

func decodeServiceUpdate(data []byte) (serviceUpdateFrame, error) {
	r := bytes.NewReader(data)
	var version uint8
	if err := binary.Read(r, binary.BigEndian, &version); err != nil {
		return serviceUpdateFrame{}, err
	}
	action, err := readString(r)
	if err != nil {
		return serviceUpdateFrame{}, err
	}
	nodeID, err := readString(r)
	if err != nil {
		return serviceUpdateFrame{}, err
	}
	typ, err := readString(r)
	if err != nil {
		return serviceUpdateFrame{}, err
	}
	name, err := readString(r)
	if err != nil {
		return serviceUpdateFrame{}, err
	}
	endpoint, err := readString(r)
	if err != nil {
		return serviceUpdateFrame{}, err
	}
	caps, err := readStringMap(r)
	if err != nil {
		return serviceUpdateFrame{}, err
	}
	availability, err := readString(r)
	if err != nil {
		return serviceUpdateFrame{}, err
	}
	health, err := readString(r)
	if err != nil {
		return serviceUpdateFrame{}, err
	}
	var timestampMS uint64
	if err := binary.Read(r, binary.BigEndian, &timestampMS); err != nil {
		return serviceUpdateFrame{}, err
	}
	return serviceUpdateFrame{
		WireVersion:  version,
		Action:       action,
		NodeID:       nodeID,
		Type:         typ,
		Name:         name,
		Endpoint:     endpoint,
		Capabilities: caps,
		Availability: availability,
		Health:       health,
		TimestampMS:  timestampMS,
	}, nil
}

func (f serviceUpdateFrame) toDescriptor() domain.ServiceDescriptor {
	return domain.ServiceDescriptor{
		NodeID:       f.NodeID,
		Type:         domain.ServiceKind(f.Type),
		Name:         f.Name,
		Endpoint:     f.Endpoint,
		Capabilities: f.Capabilities,
		Availability: domain.Availability(f.Availability),
		Health:       domain.Health(f.Health),
		UpdatedAt:    time.UnixMilli(int64(f.TimestampMS)),
	}
}

func encodeSnapshotRequest(requesterID string) []byte {
	buf := new(bytes.Buffer)
	buf.WriteByte(byte(frameSnapshotRequest))
	buf.WriteByte(WireVersion)
	writeString(buf, requesterID)
	return buf.Bytes()
}

func decodeSnapshotRequest(data []byte) (string, error) {
	r := bytes.NewReader(data)
	var version uint8
	if err := binary.Read(r, binary.BigEndian, &version); err != nil {
		return "", err
	}
	return readString(r)
}

func peekFrameKind(data []byte) (frameKind, []byte, error) {
	if len(data) < 1 {
		return 0, nil, fmt.Errorf("empty datagram")
	}
	return frameKind(data[0]), data[1:], nil
}

func writeString(buf *bytes.Buffer, s string) {
	binary.Write(buf, binary.BigEndian, uint16(len(s)))
	buf.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := r.Read(b); err != nil && n > 0 {
		return "", err
	}
	return string(b), nil
}

func writeStringSlice(buf *bytes.Buffer, items []string) {
	binary.Write(buf, binary.BigEndian, uint16(len(items)))
	for _, item := range items {
		writeString(buf, item)
	}
}

func readStringSlice(r *bytes.Reader) ([]string, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, err
	}
	items := make([]string, n)
	for i := range items {
		s, err := readString(r)
		if err != nil {
			return nil, err
		}
		items[i] = s
	}
	return items, nil
}

func writeStringMap(buf *bytes.Buffer, m map[string]string) {
	binary.Write(buf, binary.BigEndian, uint16(len(m)))
	for k, v := range m {
		writeString(buf, k)
		writeString(buf, v)
	}
}

func readStringMap(r *bytes.Reader) (map[string]string, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, err
	}
	m := make(map[string]string, n)
	for i := uint16(0); i < n; i++ {
		k, err := readString(r)
		if err != nil {
			return nil, err
		}
		v, err := readString(r)
		if err != nil {
			return nil, err
		}
		m[k] = v
	}
	return m, nil
}
