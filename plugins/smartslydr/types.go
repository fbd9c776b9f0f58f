package smartslydr

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// StatusOnline is the literal status the cloud reports for a reachable device.
const StatusOnline = "device is online"

// SentinelPosition is accepted by the command API outside the 0-100 range.
// Its meaning upstream is undocumented.
const SentinelPosition = 200

// Device is one SmartSlydr unit as reported by the devices endpoint.
// Position is 0 (closed) to 100 (open) and reflects the last completed
// measurement, not a live stream.
type Device struct {
	DeviceID    string `json:"device_id"`
	Name        string `json:"devicename"`
	PetPass     string `json:"petpass,omitempty"`
	RoomName    string `json:"room_name"`
	RoomID      string `json:"room_id"`
	WifiSignal  int    `json:"wlansignal"`
	Temperature int    `json:"temperature"`
	Humidity    int    `json:"humidity"`
	Position    int    `json:"position"`
	Error       string `json:"error,omitempty"`
	Status      string `json:"status"`
}

func (d Device) Online() bool {
	return d.Status == StatusOnline
}

func (d Device) Closed() bool {
	return d.Position == 0
}

func (d Device) Open() bool {
	return d.Position > 0
}

// Devices maps device_id to the latest record. A poll replaces it wholesale.
type Devices map[string]Device

func (d Devices) Clone() Devices {
	if d == nil {
		return nil
	}
	out := make(Devices, len(d))
	for id, dev := range d {
		out[id] = dev
	}
	return out
}

// IDs returns the device ids in sorted order.
func (d Devices) IDs() []string {
	ids := make([]string, 0, len(d))
	for id := range d {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

type deviceListResponse struct {
	RoomLists []struct {
		DeviceList []json.RawMessage `json:"device_list"`
	} `json:"room_lists"`
}

// rawDevice mirrors the wire schema with pointers so missing fields can be told
// apart from zero values.
type rawDevice struct {
	DeviceID    *string  `json:"device_id"`
	Name        *string  `json:"devicename"`
	PetPass     *string  `json:"petpass"`
	RoomName    *string  `json:"room_name"`
	RoomID      *string  `json:"room_id"`
	WifiSignal  *flexInt `json:"wlansignal"`
	Temperature *flexInt `json:"temperature"`
	Humidity    *flexInt `json:"humidity"`
	Position    *flexInt `json:"position"`
	Error       *string  `json:"error"`
	Status      *string  `json:"status"`
}

// DecodeDevice parses one device_list entry strictly: unknown fields, missing
// required fields, an empty device_id or a position outside 0-100 are errors.
func DecodeDevice(data []byte) (Device, error) {
	var raw rawDevice
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return Device{}, fmt.Errorf("decode device: %w", err)
	}

	var missing []string
	str := func(name string, v *string) string {
		if v == nil {
			missing = append(missing, name)
			return ""
		}
		return *v
	}
	num := func(name string, v *flexInt) int {
		if v == nil {
			missing = append(missing, name)
			return 0
		}
		return int(*v)
	}

	dev := Device{
		DeviceID:    str("device_id", raw.DeviceID),
		Name:        str("devicename", raw.Name),
		RoomName:    str("room_name", raw.RoomName),
		RoomID:      str("room_id", raw.RoomID),
		WifiSignal:  num("wlansignal", raw.WifiSignal),
		Temperature: num("temperature", raw.Temperature),
		Humidity:    num("humidity", raw.Humidity),
		Position:    num("position", raw.Position),
		Status:      str("status", raw.Status),
	}
	if raw.PetPass != nil {
		dev.PetPass = *raw.PetPass
	}
	if raw.Error != nil {
		dev.Error = *raw.Error
	}

	if len(missing) > 0 {
		return Device{}, fmt.Errorf("device missing fields: %s", strings.Join(missing, ", "))
	}
	if strings.TrimSpace(dev.DeviceID) == "" {
		return Device{}, fmt.Errorf("device has empty device_id")
	}
	if dev.Position < 0 || dev.Position > 100 {
		return Device{}, fmt.Errorf("device %s position %d out of range", dev.DeviceID, dev.Position)
	}
	return dev, nil
}

// decodeDeviceList flattens every room's device_list into one mapping.
func decodeDeviceList(payload []byte) (Devices, error) {
	var resp deviceListResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, fmt.Errorf("decode devices: %w", err)
	}
	if resp.RoomLists == nil {
		return nil, fmt.Errorf("decode devices: room_lists missing")
	}

	devices := make(Devices)
	for _, room := range resp.RoomLists {
		for _, entry := range room.DeviceList {
			dev, err := DecodeDevice(entry)
			if err != nil {
				return nil, err
			}
			devices[dev.DeviceID] = dev
		}
	}
	return devices, nil
}

// flexInt accepts JSON numbers and numeric strings. Fractions are truncated.
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	text := strings.TrimSpace(string(data))
	if text == "null" {
		return fmt.Errorf("integer field is null")
	}
	if unquoted, err := strconv.Unquote(text); err == nil {
		text = strings.TrimSpace(unquoted)
	}
	if n, err := strconv.Atoi(text); err == nil {
		*f = flexInt(n)
		return nil
	}
	v, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("invalid integer %s", string(data))
	}
	*f = flexInt(math.Trunc(v))
	return nil
}

type setCommand struct {
	DeviceID string       `json:"device_id"`
	Commands []keyedValue `json:"commands"`
}

type keyedValue struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type setCommandsRequest struct {
	SetCommands []setCommand `json:"setcommands"`
}

type queryCommand struct {
	DeviceID string `json:"device_id"`
	Command  string `json:"command"`
}

type queryCommandsRequest struct {
	Commands []queryCommand `json:"commands"`
}

type queryResponse struct {
	Response []struct {
		Position *flexInt `json:"position"`
	} `json:"response"`
}

type authRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type authResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type refreshResponse struct {
	AccessToken string `json:"access_token"`
}
