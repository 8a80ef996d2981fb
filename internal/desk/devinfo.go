package desk

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/srg/deskble/internal/device"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// DeviceInformationService is the standard GATT Device Information Service.
const DeviceInformationService = "180a"

var deviceInformationFields = []struct {
	name   string
	uuid   string
	binary bool
}{
	{"manufacturer_name", "2a29", false},
	{"model_number", "2a24", false},
	{"serial_number", "2a25", false},
	{"hardware_revision", "2a27", false},
	{"firmware_revision", "2a26", false},
	{"software_revision", "2a28", false},
	{"system_id", "2a23", true},
	{"pnp_id", "2a50", true},
}

// DeviceInformation holds Device Information Service fields in their
// canonical order. A nil value means the field could not be read.
type DeviceInformation struct {
	fields *orderedmap.OrderedMap[string, *string]
}

func newDeviceInformation() *DeviceInformation {
	return &DeviceInformation{fields: orderedmap.New[string, *string]()}
}

// Get returns a field value; ok is false when it is absent.
func (d *DeviceInformation) Get(name string) (value string, ok bool) {
	v, present := d.fields.Get(name)
	if !present || v == nil {
		return "", false
	}
	return *v, true
}

// Len returns the number of fields, present or not.
func (d *DeviceInformation) Len() int {
	return d.fields.Len()
}

// Each calls fn for every field in order.
func (d *DeviceInformation) Each(fn func(name string, value *string)) {
	for pair := d.fields.Oldest(); pair != nil; pair = pair.Next() {
		fn(pair.Key, pair.Value)
	}
}

func (d *DeviceInformation) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.fields)
}

func decodeInformation(raw []byte, binary bool) *string {
	if len(raw) == 0 {
		return nil
	}
	var s string
	if binary {
		s = hex.EncodeToString(raw)
	} else {
		s = strings.TrimRight(strings.ToValidUTF8(string(raw), ""), "\x00")
	}
	return &s
}

// GetDeviceInformation reads the Device Information Service. The result is
// empty when the desk does not expose the service. A field that cannot be
// read is reported as absent without failing the whole call.
func (s *Session) GetDeviceInformation(ctx context.Context) (*DeviceInformation, error) {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	if err := s.connectLocked(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	info := newDeviceInformation()
	if device.FindService(conn, DeviceInformationService) == nil {
		s.log().Info("Desk has no device information service")
		return info, nil
	}

	for _, f := range deviceInformationFields {
		raw, err := conn.ReadCharacteristic(ctx, DeviceInformationService, f.uuid)
		if err != nil {
			s.log().WithError(err).WithField("characteristic", f.uuid).Debug("Failed to read device information")
			info.fields.Set(f.name, nil)
			continue
		}
		info.fields.Set(f.name, decodeInformation(raw, f.binary))
	}
	return info, nil
}
