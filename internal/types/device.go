package types

import (
	"fmt"
	"time"
)

const (
	DefaultDeviceName = "Pet Feeder"
	DefaultDevicePort = 80
)

// Device is a registered feeder reachable over the local network.
type Device struct {
	ID            int64      `json:"id"`
	DeviceID      string     `json:"device_id"`
	Name          string     `json:"name"`
	IPAddress     string     `json:"ip_address"`
	Port          int        `json:"port"`
	IsActive      bool       `json:"is_active"`
	LastConnected *time.Time `json:"last_connected"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// BaseURL returns the device HTTP root, e.g. http://10.0.0.5:80.
func (d *Device) BaseURL() string {
	return fmt.Sprintf("http://%s:%d", d.IPAddress, d.Port)
}

// Addressable reports whether the device has a usable network address.
func (d *Device) Addressable() bool {
	return d != nil && d.IPAddress != "" && d.IPAddress != "0.0.0.0"
}

func (d *Device) String() string {
	return fmt.Sprintf("%s (%s)", d.Name, d.IPAddress)
}

// DeviceUpsert is the storage-level payload for registration.
type DeviceUpsert struct {
	DeviceID  string
	Name      string
	IPAddress string
	Port      int
	IsActive  bool
	SeenAt    time.Time
}
