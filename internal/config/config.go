package config

import (
	"net/url"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/efficientgo/core/errors"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"go.bug.st/serial"
)

// EnvPrefix prefixes every environment override, e.g. RDPDR_LOGGING_LEVEL.
const EnvPrefix = "RDPDR"

// Device kinds accepted in the devices list.
const (
	DeviceDisk      = "disk"
	DeviceSerial    = "serial"
	DeviceParallel  = "parallel"
	DevicePrinter   = "printer"
	DeviceSmartcard = "smartcard"
)

// Config holds the application configuration
type Config struct {
	Client    ClientConfig    `mapstructure:"client"`
	Channel   ChannelConfig   `mapstructure:"channel"`
	Transport TransportConfig `mapstructure:"transport"`
	Admin     AdminConfig     `mapstructure:"admin"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Printers  PrintersConfig  `mapstructure:"printers"`
	Devices   []DeviceConfig  `mapstructure:"-"`
}

// LoadOptions holds command-line override options
type LoadOptions struct {
	ConfigFile string
	URL        string
	LogLevel   string
	ClientName string
	Listen     string
}

// ClientConfig describes the client announced to the server.
type ClientConfig struct {
	Name string `mapstructure:"name"`
}

// ChannelConfig bounds the redirection engine.
type ChannelConfig struct {
	MaxDevices int           `mapstructure:"max_devices"`
	MaxPending int           `mapstructure:"max_pending"`
	IOChunk    int           `mapstructure:"io_chunk"`
	Tick       time.Duration `mapstructure:"tick"`
}

// TransportConfig holds the websocket gateway settings.
type TransportConfig struct {
	URL              string        `mapstructure:"url"`
	ChunkSize        int           `mapstructure:"chunk_size"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	ReadLimit        int64         `mapstructure:"read_limit"`
}

// AdminConfig holds the admin HTTP API settings.
type AdminConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `mapstructure:"level"`
	Format       string `mapstructure:"format"`
	EnableCaller bool   `mapstructure:"enable_caller"`
	File         string `mapstructure:"file"`
	MaxSize      int    `mapstructure:"max_size"`
	MaxBackups   int    `mapstructure:"max_backups"`
	MaxAge       int    `mapstructure:"max_age"`
	Compress     bool   `mapstructure:"compress"`
}

// PrintersConfig holds spooling and cache settings shared by printers.
type PrintersConfig struct {
	SpoolDir string   `mapstructure:"spool_dir"`
	CacheDir string   `mapstructure:"cache_dir"`
	Command  []string `mapstructure:"command"`
}

// DeviceConfig is one entry of the devices list.
type DeviceConfig struct {
	Type        string `mapstructure:"type"`
	Name        string `mapstructure:"name"`
	DisplayName string `mapstructure:"display_name"`
	Path        string `mapstructure:"path"`
	ReadOnly    bool   `mapstructure:"read_only"`

	// serial
	BaudRate int             `mapstructure:"baud_rate"`
	DataBits int             `mapstructure:"data_bits"`
	Parity   serial.Parity   `mapstructure:"parity"`
	StopBits serial.StopBits `mapstructure:"stop_bits"`

	// printer
	Driver  string   `mapstructure:"driver"`
	Default bool     `mapstructure:"default"`
	Command []string `mapstructure:"command"`
}

// SerialMode returns the line settings applied when a serial port opens.
func (d DeviceConfig) SerialMode() *serial.Mode {
	return &serial.Mode{
		BaudRate: d.BaudRate,
		DataBits: d.DataBits,
		Parity:   d.Parity,
		StopBits: d.StopBits,
	}
}

// Load loads configuration from environment variables with defaults
func Load() (*Config, error) {
	return LoadWithOverrides(LoadOptions{})
}

// LoadWithOverrides loads configuration with command-line overrides
func LoadWithOverrides(opts LoadOptions) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		v.SetConfigName("rdpdr")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/rdpdr/")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if opts.ConfigFile != "" || !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "read config file")
		}
	}

	setOverride(v, "transport.url", opts.URL)
	setOverride(v, "logging.level", opts.LogLevel)
	setOverride(v, "client.name", opts.ClientName)
	if opts.Listen != "" {
		v.Set("admin.listen", opts.Listen)
		v.Set("admin.enabled", true)
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if config.Client.Name == "" {
		config.Client.Name = defaultClientName()
	}

	devices, err := decodeDevices(v.Get("devices"))
	if err != nil {
		return nil, err
	}
	config.Devices = devices

	// Validate configuration
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("client.name", "")

	v.SetDefault("channel.max_devices", 16)
	v.SetDefault("channel.max_pending", 256)
	v.SetDefault("channel.io_chunk", 8192)
	v.SetDefault("channel.tick", "100ms")

	v.SetDefault("transport.url", "")
	v.SetDefault("transport.chunk_size", 1600)
	v.SetDefault("transport.handshake_timeout", "10s")
	v.SetDefault("transport.write_timeout", "10s")
	v.SetDefault("transport.read_limit", 1<<20)

	v.SetDefault("admin.enabled", false)
	v.SetDefault("admin.listen", "127.0.0.1:9180")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.enable_caller", false)
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age", 28)
	v.SetDefault("logging.compress", true)

	v.SetDefault("printers.spool_dir", os.TempDir())
	v.SetDefault("printers.cache_dir", "")
	v.SetDefault("printers.command", []string{"lpr"})
}

func setOverride(v *viper.Viper, key, value string) {
	if value != "" {
		v.Set(key, value)
	}
}

func defaultClientName() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "rdpdr"
	}
	if i := strings.IndexByte(name, '.'); i > 0 {
		name = name[:i]
	}
	return name
}

// decodeDevices decodes the raw devices list. Serial entries default to 9600 8N1.
func decodeDevices(raw interface{}) ([]DeviceConfig, error) {
	if raw == nil {
		return nil, nil
	}
	list, ok := raw.([]interface{})
	if !ok {
		return nil, errors.Newf("failed to decode devices: unexpected type: %T", raw)
	}

	devices := make([]DeviceConfig, len(list))
	for i, def := range list {
		devices[i] = DeviceConfig{BaudRate: 9600, DataBits: 8}
		decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			Result:           &devices[i],
			WeaklyTypedInput: true,
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(" "),
				parityHook,
				stopBitsHook,
			),
		})
		if err != nil {
			return nil, err
		}
		if err := decoder.Decode(def); err != nil {
			return nil, errors.Wrapf(err, "failed to decode device %d", i)
		}
		devices[i].Type = strings.ToLower(devices[i].Type)
	}
	return devices, nil
}

func parityHook(from, to reflect.Type, data interface{}) (interface{}, error) {
	if to != reflect.TypeOf(serial.NoParity) || from.Kind() != reflect.String {
		return data, nil
	}
	switch strings.ToLower(data.(string)) {
	case "", "none", "n":
		return serial.NoParity, nil
	case "odd", "o":
		return serial.OddParity, nil
	case "even", "e":
		return serial.EvenParity, nil
	case "mark", "m":
		return serial.MarkParity, nil
	case "space", "s":
		return serial.SpaceParity, nil
	}
	return nil, errors.Newf("invalid parity: %q", data)
}

func stopBitsHook(from, to reflect.Type, data interface{}) (interface{}, error) {
	if to != reflect.TypeOf(serial.OneStopBit) {
		return data, nil
	}
	var s string
	switch v := data.(type) {
	case string:
		s = v
	case int:
		s = strconv.Itoa(v)
	case float64:
		s = strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return data, nil
	}
	switch s {
	case "", "1":
		return serial.OneStopBit, nil
	case "1.5":
		return serial.OnePointFiveStopBits, nil
	case "2":
		return serial.TwoStopBits, nil
	}
	return nil, errors.Newf("invalid stop bits: %q", s)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Client.Name == "" {
		return errors.New("client name cannot be empty")
	}

	if c.Channel.MaxDevices <= 0 {
		return errors.New("channel.max_devices must be positive")
	}
	if c.Channel.MaxPending <= 0 {
		return errors.New("channel.max_pending must be positive")
	}
	if c.Channel.IOChunk <= 0 {
		return errors.New("channel.io_chunk must be positive")
	}

	if c.Transport.URL != "" {
		u, err := url.Parse(c.Transport.URL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			return errors.Newf("invalid transport url: %s", c.Transport.URL)
		}
	}
	if c.Transport.ChunkSize <= 0 {
		return errors.New("transport.chunk_size must be positive")
	}

	if c.Admin.Enabled && c.Admin.Listen == "" {
		return errors.New("admin.listen cannot be empty when the admin API is enabled")
	}

	// Validate logging config
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if !validLogLevels[c.Logging.Level] {
		return errors.Newf("invalid log level: %s", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"text": true,
		"json": true,
	}

	if !validLogFormats[c.Logging.Format] {
		return errors.Newf("invalid log format: %s", c.Logging.Format)
	}

	if len(c.Devices) > c.Channel.MaxDevices {
		return errors.Newf("%d devices configured, at most %d allowed", len(c.Devices), c.Channel.MaxDevices)
	}
	names := make(map[string]bool)
	for i, d := range c.Devices {
		if err := d.validate(); err != nil {
			return errors.Wrapf(err, "device %d", i)
		}
		key := strings.ToUpper(d.Name)
		if names[key] {
			return errors.Newf("duplicate device name: %s", d.Name)
		}
		names[key] = true
	}
	return nil
}

func (d DeviceConfig) validate() error {
	if d.Name == "" {
		return errors.New("name cannot be empty")
	}
	if len(d.Name) > 8 {
		return errors.Newf("name %q longer than 8 characters", d.Name)
	}
	for i := 0; i < len(d.Name); i++ {
		if d.Name[i] < 0x20 || d.Name[i] > 0x7E {
			return errors.Newf("name %q is not printable ASCII", d.Name)
		}
	}

	switch d.Type {
	case DeviceDisk:
		if d.Path == "" {
			return errors.New("disk path cannot be empty")
		}
		if st, err := os.Stat(d.Path); err != nil || !st.IsDir() {
			return errors.Newf("disk path is not a directory: %s", d.Path)
		}
	case DeviceSerial:
		if d.Path == "" {
			return errors.New("serial path cannot be empty")
		}
		if d.BaudRate <= 0 {
			return errors.Newf("invalid baud rate: %d", d.BaudRate)
		}
		if d.DataBits < 5 || d.DataBits > 8 {
			return errors.Newf("invalid data bits: %d", d.DataBits)
		}
	case DeviceParallel:
		if d.Path == "" {
			return errors.New("parallel path cannot be empty")
		}
	case DevicePrinter, DeviceSmartcard:
	default:
		return errors.Newf("unknown device type: %q", d.Type)
	}
	return nil
}
