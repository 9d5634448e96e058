package model

import "time"

// DeviceType categorizes a device for display purposes.
type DeviceType string

const (
	DeviceDesktop DeviceType = "DESKTOP"
	DeviceApple   DeviceType = "APPLE"
	DeviceAndroid DeviceType = "ANDROID"
	DeviceTV      DeviceType = "TV"
	DeviceOther   DeviceType = "OTHER"
)

// ValidDeviceType reports whether t is one of the known device types.
func ValidDeviceType(t DeviceType) bool {
	switch t {
	case DeviceDesktop, DeviceApple, DeviceAndroid, DeviceTV, DeviceOther:
		return true
	}
	return false
}

// Device is a registered proxy client identified by its access token.
type Device struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Type        DeviceType `json:"type"`
	TokenHash   string     `json:"-"`
	TokenPrefix string     `json:"token_prefix,omitempty"`
	// AllowedIPs holds exact IPs or CIDR prefixes. Empty means unrestricted.
	AllowedIPs []string  `json:"allowed_ips"`
	Enabled    bool      `json:"enabled"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
