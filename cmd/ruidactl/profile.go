package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/openlaser/go-ruida/codec"
	"github.com/openlaser/go-ruida/transport"
)

// Device is one machine entry in the profile file.
type Device struct {
	Name      string `yaml:"name"`
	Transport string `yaml:"transport"` // "udp" or "serial"

	// udp
	Host string `yaml:"host,omitempty"`
	Port int    `yaml:"port,omitempty"`

	// serial
	Path string `yaml:"path,omitempty"`
	Baud int    `yaml:"baud,omitempty"`

	// Magic is the swizzle key, written as "0x88" or decimal.
	Magic string `yaml:"magic,omitempty"`

	BedWidthMM  int `yaml:"bed_width_mm,omitempty"`
	BedHeightMM int `yaml:"bed_height_mm,omitempty"`
}

// Profiles is the parsed device profile file.
type Profiles struct {
	Devices []Device `yaml:"devices"`
}

// DefaultProfilesPath returns the per-user profile location.
func DefaultProfilesPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "devices.yaml"
	}

	return filepath.Join(home, ".config", "ruidactl", "devices.yaml")
}

// LoadProfiles reads the profile file at path, or the default location when
// path is empty. A missing file yields an empty profile set, since only the
// send command strictly needs one.
func LoadProfiles(path string) (*Profiles, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultProfilesPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return &Profiles{}, nil
		}

		return nil, err
	}

	var p Profiles
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return &p, nil
}

// Lookup finds a device by name.
func (p *Profiles) Lookup(name string) (*Device, error) {
	for i := range p.Devices {
		if p.Devices[i].Name == name {
			return &p.Devices[i], nil
		}
	}

	return nil, fmt.Errorf("device %q not found in profiles", name)
}

// MagicByte parses the device's magic key, defaulting to the RDC6445 key.
func (d *Device) MagicByte() (byte, error) {
	if d.Magic == "" {
		return codec.MagicRDC6445, nil
	}

	v, err := strconv.ParseUint(d.Magic, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("magic %q: %w", d.Magic, err)
	}

	return byte(v), nil
}

// OpenTransport builds the transport the device profile describes.
func (d *Device) OpenTransport() (transport.Transport, error) {
	switch d.Transport {
	case "", "udp":
		if d.Host == "" {
			return nil, fmt.Errorf("device %q: udp transport needs a host", d.Name)
		}
		var opts []transport.PacketOption
		if d.Port != 0 {
			opts = append(opts, transport.WithPacketPorts(transport.DefaultLocalPort, d.Port))
		}

		return transport.NewPacket(d.Host, opts...), nil

	case "serial":
		if d.Path == "" {
			return nil, fmt.Errorf("device %q: serial transport needs a path", d.Name)
		}
		var opts []transport.StreamOption
		if d.Baud != 0 {
			opts = append(opts, transport.WithBaudRate(d.Baud))
		}

		return transport.NewStream(d.Path, opts...), nil

	default:
		return nil, fmt.Errorf("device %q: unknown transport %q", d.Name, d.Transport)
	}
}
