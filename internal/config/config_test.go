package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rdpdr.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := LoadWithOverrides(LoadOptions{ClientName: "ws01"})
	require.NoError(t, err)

	assert.Equal(t, "ws01", cfg.Client.Name)
	assert.Equal(t, ChannelConfig{
		MaxDevices: 16,
		MaxPending: 256,
		IOChunk:    8192,
		Tick:       100 * time.Millisecond,
	}, cfg.Channel)
	assert.Equal(t, 1600, cfg.Transport.ChunkSize)
	assert.Equal(t, 10*time.Second, cfg.Transport.HandshakeTimeout)
	assert.False(t, cfg.Admin.Enabled)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, []string{"lpr"}, cfg.Printers.Command)
	assert.Empty(t, cfg.Devices)
}

func TestLoad_EnvironmentAndOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("RDPDR_LOGGING_LEVEL", "debug")
	t.Setenv("RDPDR_CHANNEL_MAX_PENDING", "32")
	t.Setenv("RDPDR_TRANSPORT_URL", "ws://gateway:8080/rdpdr")

	cfg, err := LoadWithOverrides(LoadOptions{
		ClientName: "ws01",
		LogLevel:   "warn",
		Listen:     ":9999",
	})
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Logging.Level, "flag beats environment")
	assert.Equal(t, 32, cfg.Channel.MaxPending)
	assert.Equal(t, "ws://gateway:8080/rdpdr", cfg.Transport.URL)
	assert.True(t, cfg.Admin.Enabled)
	assert.Equal(t, ":9999", cfg.Admin.Listen)
}

func TestLoad_Devices(t *testing.T) {
	share := t.TempDir()
	path := writeConfig(t, `
client:
  name: ws01
devices:
  - type: disk
    name: HOME
    display_name: Home folder
    path: `+share+`
    read_only: true
  - type: serial
    name: COM1
    path: /dev/ttyUSB0
    baud_rate: 115200
    parity: even
    stop_bits: 2
  - type: Printer
    name: PRN1
    driver: MS Publisher Imagesetter
    default: true
    command: lpr -P office
  - type: smartcard
    name: SCARD
`)

	cfg, err := LoadWithOverrides(LoadOptions{ConfigFile: path})
	require.NoError(t, err)
	require.Len(t, cfg.Devices, 4)

	disk := cfg.Devices[0]
	assert.Equal(t, DeviceDisk, disk.Type)
	assert.Equal(t, "Home folder", disk.DisplayName)
	assert.True(t, disk.ReadOnly)

	com := cfg.Devices[1]
	assert.Equal(t, &serial.Mode{
		BaudRate: 115200,
		DataBits: 8,
		Parity:   serial.EvenParity,
		StopBits: serial.TwoStopBits,
	}, com.SerialMode())

	prn := cfg.Devices[2]
	assert.Equal(t, DevicePrinter, prn.Type)
	assert.True(t, prn.Default)
	assert.Equal(t, []string{"lpr", "-P", "office"}, prn.Command)

	assert.Equal(t, DeviceSmartcard, cfg.Devices[3].Type)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := LoadWithOverrides(LoadOptions{ConfigFile: filepath.Join(t.TempDir(), "nope.yaml")})
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Client:    ClientConfig{Name: "ws01"},
			Channel:   ChannelConfig{MaxDevices: 2, MaxPending: 8, IOChunk: 512},
			Transport: TransportConfig{ChunkSize: 1600},
			Logging:   LoggingConfig{Level: "info", Format: "text"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"empty client name", func(c *Config) { c.Client.Name = "" }, true},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, true},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, true},
		{"http url", func(c *Config) { c.Transport.URL = "http://gw/rdpdr" }, true},
		{"wss url", func(c *Config) { c.Transport.URL = "wss://gw/rdpdr" }, false},
		{"zero pending", func(c *Config) { c.Channel.MaxPending = 0 }, true},
		{"admin without listen", func(c *Config) { c.Admin.Enabled = true }, true},
		{"too many devices", func(c *Config) {
			c.Devices = []DeviceConfig{
				{Type: DevicePrinter, Name: "P1"},
				{Type: DevicePrinter, Name: "P2"},
				{Type: DevicePrinter, Name: "P3"},
			}
		}, true},
		{"long name", func(c *Config) {
			c.Devices = []DeviceConfig{{Type: DevicePrinter, Name: "PRINTER01"}}
		}, true},
		{"non ascii name", func(c *Config) {
			c.Devices = []DeviceConfig{{Type: DevicePrinter, Name: "DRÜCK"}}
		}, true},
		{"duplicate name", func(c *Config) {
			c.Devices = []DeviceConfig{
				{Type: DevicePrinter, Name: "prn"},
				{Type: DeviceSmartcard, Name: "PRN"},
			}
		}, true},
		{"unknown type", func(c *Config) {
			c.Devices = []DeviceConfig{{Type: "usb", Name: "U1"}}
		}, true},
		{"serial bad data bits", func(c *Config) {
			c.Devices = []DeviceConfig{{Type: DeviceSerial, Name: "COM1", Path: "/dev/ttyS0", BaudRate: 9600, DataBits: 9}}
		}, true},
		{"disk not a directory", func(c *Config) {
			c.Devices = []DeviceConfig{{Type: DeviceDisk, Name: "D", Path: "/nonexistent/share"}}
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// chdir stands in for testing.T.Chdir (Go 1.24+): it changes the working
// directory for the duration of the test and restores it on cleanup.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
