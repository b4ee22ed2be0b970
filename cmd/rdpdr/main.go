package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/efficientgo/core/errors"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rcarmo/go-rdpdr/internal/admin"
	"github.com/rcarmo/go-rdpdr/internal/config"
	"github.com/rcarmo/go-rdpdr/internal/device"
	"github.com/rcarmo/go-rdpdr/internal/device/disk"
	"github.com/rcarmo/go-rdpdr/internal/device/parallel"
	"github.com/rcarmo/go-rdpdr/internal/device/printer"
	"github.com/rcarmo/go-rdpdr/internal/device/serial"
	"github.com/rcarmo/go-rdpdr/internal/logging"
	"github.com/rcarmo/go-rdpdr/internal/protocol/rdpefs"
	"github.com/rcarmo/go-rdpdr/internal/rdpdr"
	"github.com/rcarmo/go-rdpdr/internal/reactor"
	"github.com/rcarmo/go-rdpdr/internal/transport/wsbridge"
	"github.com/spf13/pflag"
)

const (
	appName    = "rdpdr"
	appVersion = "v0.3.0"
)

type options struct {
	load      config.LoadOptions
	listPorts bool
	version   bool
	help      bool
}

func parseFlags(args []string) (*options, *pflag.FlagSet, error) {
	opts := &options{}
	fs := pflag.NewFlagSet(appName, pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVarP(&opts.load.ConfigFile, "config", "c", "", "configuration file (default ./rdpdr.yaml or /etc/rdpdr/rdpdr.yaml)")
	fs.StringVar(&opts.load.URL, "url", "", "websocket URL of the channel gateway")
	fs.StringVar(&opts.load.LogLevel, "log-level", "", "log level (debug, info, warn, error)")
	fs.StringVar(&opts.load.ClientName, "client-name", "", "computer name announced to the server")
	fs.StringVar(&opts.load.Listen, "listen", "", "enable the admin API on this address")
	fs.BoolVar(&opts.listPorts, "list-ports", false, "list serial ports and exit")
	fs.BoolVarP(&opts.version, "version", "v", false, "show version")
	fs.BoolVarP(&opts.help, "help", "h", false, "show help")

	if err := fs.Parse(args); err != nil {
		return nil, fs, err
	}
	opts.load.URL = strings.TrimSpace(opts.load.URL)
	opts.load.LogLevel = strings.TrimSpace(opts.load.LogLevel)
	opts.load.ClientName = strings.TrimSpace(opts.load.ClientName)
	return opts, fs, nil
}

func main() {
	opts, fs, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n\n", err)
		showHelp(os.Stderr, fs)
		os.Exit(2)
	}

	switch {
	case opts.help:
		showHelp(os.Stdout, fs)
		return
	case opts.version:
		fmt.Printf("%s %s\n", appName, appVersion)
		return
	case opts.listPorts:
		if err := listPorts(os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
		return
	}

	cfg, err := config.LoadWithOverrides(opts.load)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	setupLogging(cfg.Logging)
	logging.Debug("RDPDR: Log level %s", logging.GetLevelString())

	if err := serve(cfg); err != nil {
		logging.Error("%v", err)
		_ = logging.Default().Sync()
		os.Exit(1)
	}
	_ = logging.Default().Sync()
}

func setupLogging(cfg config.LoggingConfig) {
	logging.Configure(logging.Options{
		Level:        cfg.Level,
		Format:       cfg.Format,
		File:         cfg.File,
		MaxSizeMB:    cfg.MaxSize,
		MaxBackups:   cfg.MaxBackups,
		MaxAgeDays:   cfg.MaxAge,
		Compress:     cfg.Compress,
		EnableCaller: cfg.EnableCaller,
	})
}

func listPorts(w io.Writer) error {
	ports, err := serial.ListPorts()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		fmt.Fprintln(w, "no serial ports found")
		return nil
	}
	for _, p := range ports {
		fmt.Fprintln(w, p)
	}
	return nil
}

// releaser is implemented by back ends holding host resources.
type releaser interface {
	Release() error
}

// buildDevices creates a back end for every configured device.
func buildDevices(cfg *config.Config) ([]rdpdr.DeviceSpec, []releaser) {
	var specs []rdpdr.DeviceSpec
	var owned []releaser
	add := func(t rdpefs.DeviceType, d config.DeviceConfig, b device.Backend) {
		specs = append(specs, rdpdr.DeviceSpec{Type: t, Name: d.Name, DisplayName: d.DisplayName, Backend: b})
		if r, ok := b.(releaser); ok {
			owned = append(owned, r)
		}
	}

	for _, d := range cfg.Devices {
		switch d.Type {
		case config.DeviceDisk:
			add(rdpefs.DeviceTypeFilesystem, d, disk.NewOS(d.Path, disk.Options{ReadOnly: d.ReadOnly, Label: d.DisplayName}))
		case config.DeviceSerial:
			add(rdpefs.DeviceTypeSerial, d, serial.New(d.Path, d.SerialMode()))
		case config.DeviceParallel:
			add(rdpefs.DeviceTypeParallel, d, parallel.New(d.Path))
		case config.DevicePrinter:
			command := d.Command
			if len(command) == 0 {
				command = cfg.Printers.Command
			}
			add(rdpefs.DeviceTypePrinter, d, printer.New(printer.Options{
				Name:     printerName(d),
				Driver:   d.Driver,
				Default:  d.Default,
				SpoolDir: cfg.Printers.SpoolDir,
				Command:  command,
			}))
		case config.DeviceSmartcard:
			specs = append(specs, rdpdr.DeviceSpec{Type: rdpefs.DeviceTypeSmartcard, Name: d.Name})
		}
	}
	return specs, owned
}

func printerName(d config.DeviceConfig) string {
	if d.DisplayName != "" {
		return d.DisplayName
	}
	return d.Name
}

func serve(cfg *config.Config) error {
	if cfg.Transport.URL == "" {
		return errors.New("no gateway configured: set transport.url or --url")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bridge, err := wsbridge.Dial(ctx, wsbridge.Options{
		URL:              cfg.Transport.URL,
		ChunkSize:        cfg.Transport.ChunkSize,
		HandshakeTimeout: cfg.Transport.HandshakeTimeout,
		WriteTimeout:     cfg.Transport.WriteTimeout,
		ReadLimit:        cfg.Transport.ReadLimit,
	})
	if err != nil {
		return errors.Wrap(err, "connect to gateway")
	}

	chanOpts := rdpdr.Options{
		ClientName: cfg.Client.Name,
		MaxDevices: cfg.Channel.MaxDevices,
		MaxPending: cfg.Channel.MaxPending,
		ChunkSize:  cfg.Channel.IOChunk,
		Registerer: reg,
	}
	if cfg.Printers.CacheDir != "" {
		chanOpts.PrinterCache = printer.NewOSCache(cfg.Printers.CacheDir)
	}
	channel := rdpdr.NewChannel(bridge, chanOpts)

	specs, owned := buildDevices(cfg)
	defer func() {
		for _, r := range owned {
			if err := r.Release(); err != nil {
				logging.Warn("RDPDR: Release: %v", err)
			}
		}
	}()
	for _, spec := range specs {
		if _, err := channel.Register(spec); err != nil {
			_ = bridge.Close()
			return errors.Wrapf(err, "register %s", spec.Name)
		}
	}

	loop, err := reactor.NewLoop(cfg.Channel.Tick, bridge, channel)
	if err != nil {
		_ = bridge.Close()
		return err
	}
	defer loop.Close()
	bridge.Start(channel, loop.Waker())

	var g run.Group
	{
		g.Add(func() error {
			logging.Info("RDPDR: Serving %d devices as %q", len(specs), cfg.Client.Name)
			err := loop.Run(ctx)
			if errors.Is(err, wsbridge.ErrClosed) {
				logging.Info("RDPDR: %v", err)
				return nil
			}
			return err
		}, func(error) {
			cancel()
		})
	}

	if cfg.Admin.Enabled {
		l, err := net.Listen("tcp", cfg.Admin.Listen)
		if err != nil {
			_ = bridge.Close()
			return errors.Wrapf(err, "listen on %s", cfg.Admin.Listen)
		}
		srv := admin.NewServer(cfg.Admin.Listen, channel, admin.Options{Version: appVersion, Gatherer: reg})
		g.Add(func() error {
			logging.Info("Admin: Listening on %s", l.Addr())
			if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return errors.Wrap(err, "admin server exited unexpectedly")
			}
			return nil
		}, func(error) {
			_ = srv.Close()
		})
	}

	{
		term := make(chan os.Signal, 1)
		signal.Notify(term, syscall.SIGINT, syscall.SIGTERM)
		stop := make(chan struct{})
		g.Add(func() error {
			select {
			case sig := <-term:
				logging.Info("RDPDR: Caught %s, shutting down", sig)
			case <-stop:
			}
			return nil
		}, func(error) {
			signal.Stop(term)
			close(stop)
		})
	}

	err = g.Run()
	if cerr := bridge.Close(); cerr != nil {
		logging.Debug("RDPDR: Closing bridge: %v", cerr)
	}
	return err
}

func showHelp(w io.Writer, fs *pflag.FlagSet) {
	fmt.Fprintf(w, "%s %s - RDP device redirection client\n", appName, appVersion)
	fmt.Fprintf(w, "USAGE: %s [options]\n", appName)
	fmt.Fprintln(w, "OPTIONS:")
	fmt.Fprint(w, fs.FlagUsages())
	fmt.Fprintf(w, "ENVIRONMENT VARIABLES: %s_TRANSPORT_URL, %s_LOGGING_LEVEL, %s_CLIENT_NAME, %s_ADMIN_LISTEN\n",
		config.EnvPrefix, config.EnvPrefix, config.EnvPrefix, config.EnvPrefix)
	fmt.Fprintf(w, "EXAMPLES: %s --url ws://gateway:8080/rdpdr --config devices.yaml\n", appName)
}
