package main

import (
	"bytes"
	"testing"

	"github.com/rcarmo/go-rdpdr/internal/config"
	"github.com/rcarmo/go-rdpdr/internal/device"
	"github.com/rcarmo/go-rdpdr/internal/protocol/rdpefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	goserial "go.bug.st/serial"
)

func TestParseFlags(t *testing.T) {
	opts, _, err := parseFlags([]string{
		"--config", "/etc/rdpdr/test.yaml",
		"--url", " ws://gw:8080/rdpdr ",
		"--log-level", "debug",
		"--client-name", "desk",
		"--listen", ":9180",
	})
	require.NoError(t, err)
	assert.Equal(t, config.LoadOptions{
		ConfigFile: "/etc/rdpdr/test.yaml",
		URL:        "ws://gw:8080/rdpdr",
		LogLevel:   "debug",
		ClientName: "desk",
		Listen:     ":9180",
	}, opts.load)
	assert.False(t, opts.listPorts)

	opts, _, err = parseFlags([]string{"-v", "--list-ports"})
	require.NoError(t, err)
	assert.True(t, opts.version)
	assert.True(t, opts.listPorts)

	_, _, err = parseFlags([]string{"--bogus"})
	assert.Error(t, err)
}

func TestShowHelp(t *testing.T) {
	_, fs, err := parseFlags(nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	showHelp(&buf, fs)
	out := buf.String()
	assert.Contains(t, out, "--url")
	assert.Contains(t, out, "--list-ports")
	assert.Contains(t, out, "RDPDR_TRANSPORT_URL")
}

func TestBuildDevices(t *testing.T) {
	share := t.TempDir()
	cfg := &config.Config{
		Printers: config.PrintersConfig{SpoolDir: t.TempDir(), Command: []string{"lpr"}},
		Devices: []config.DeviceConfig{
			{Type: config.DeviceDisk, Name: "HOME", DisplayName: "home", Path: share},
			{Type: config.DeviceSerial, Name: "COM1", Path: "/dev/ttyS0", BaudRate: 9600, DataBits: 8, Parity: goserial.NoParity},
			{Type: config.DeviceParallel, Name: "LPT1", Path: "/dev/lp0"},
			{Type: config.DevicePrinter, Name: "PRN1", DisplayName: "Office", Default: true},
			{Type: config.DeviceSmartcard, Name: "SCARD"},
		},
	}

	specs, owned := buildDevices(cfg)
	require.Len(t, specs, 5)
	assert.Len(t, owned, 4)

	types := make([]rdpefs.DeviceType, len(specs))
	for i, s := range specs {
		types[i] = s.Type
	}
	assert.Equal(t, []rdpefs.DeviceType{
		rdpefs.DeviceTypeFilesystem,
		rdpefs.DeviceTypeSerial,
		rdpefs.DeviceTypeParallel,
		rdpefs.DeviceTypePrinter,
		rdpefs.DeviceTypeSmartcard,
	}, types)

	assert.Implements(t, (*device.Disk)(nil), specs[0].Backend)
	assert.Implements(t, (*device.Line)(nil), specs[1].Backend)
	assert.Implements(t, (*device.Controller)(nil), specs[1].Backend)
	assert.Implements(t, (*device.Line)(nil), specs[2].Backend)

	p, ok := specs[3].Backend.(device.Printer)
	require.True(t, ok)
	assert.Equal(t, "Office", p.Announce().PrintName)
	assert.Equal(t, rdpefs.PrinterFlagDefaultPrinter, p.Announce().Flags&rdpefs.PrinterFlagDefaultPrinter)

	assert.Nil(t, specs[4].Backend)

	for _, r := range owned {
		assert.NoError(t, r.Release())
	}
}

func TestServe_NoGateway(t *testing.T) {
	err := serve(&config.Config{})
	assert.ErrorContains(t, err, "no gateway configured")
}
