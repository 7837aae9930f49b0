// Command mctp-device emulates an MCTP endpoint device.
//
// The device speaks the MCTP Control Protocol as a responder, carries
// an optional PLDM file-transfer requester, and connects to the bus
// owner over the serial or USB binding.
//
// Usage:
//
//	mctp-device [flags]
//
// Flags:
//
//	-transport string  Binding: serial, usb (default "serial")
//	-path string       Character device or unix socket (default stdio)
//	-config string     Configuration file path
//	-pldm              Enable the PLDM file-transfer requester
//	-capture string    Protocol capture file (.mctplog)
//	-log-level string  Log level: debug, info, warn, error (default "info")
//	-interactive       Start the interactive console
//
// Examples:
//
//	# Serial binding on a pty, capture to file
//	mctp-device -path /dev/pts/3 -capture /tmp/device.mctplog
//
//	# USB binding on a usbredir unix socket with PLDM enabled
//	mctp-device -transport usb -path /tmp/usb.sock -pldm
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/mctp-emu/mctp-go/cmd/mctp-device/interactive"
	"github.com/mctp-emu/mctp-go/pkg/config"
	"github.com/mctp-emu/mctp-go/pkg/endpoint"
	"github.com/mctp-emu/mctp-go/pkg/log"
	"github.com/mctp-emu/mctp-go/pkg/mctp"
	"github.com/mctp-emu/mctp-go/pkg/pldm"
	"github.com/mctp-emu/mctp-go/pkg/service"
	"github.com/mctp-emu/mctp-go/pkg/transport"
)

var flags struct {
	transport   string
	path        string
	configFile  string
	pldm        bool
	capture     string
	logLevel    string
	interactive bool
}

func init() {
	flag.StringVar(&flags.transport, "transport", "", "Binding: serial, usb")
	flag.StringVar(&flags.path, "path", "", "Character device or unix socket (default stdio)")
	flag.StringVar(&flags.configFile, "config", "", "Configuration file path")
	flag.BoolVar(&flags.pldm, "pldm", false, "Enable the PLDM file-transfer requester")
	flag.StringVar(&flags.capture, "capture", "", "Protocol capture file")
	flag.StringVar(&flags.logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	flag.BoolVar(&flags.interactive, "interactive", false, "Start the interactive console")
}

func main() {
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "mctp-device: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := newLogger(flags.logLevel)
	protocol, closeCapture, err := newProtocolLogger(cfg, logger)
	if err != nil {
		return err
	}
	defer closeCapture()

	stream, err := openStream(cfg.Transport.Path)
	if err != nil {
		return err
	}

	var tr transport.Transport
	switch cfg.Transport.Kind {
	case config.TransportSerial:
		tr = transport.NewSerial(stream, protocol)
	case config.TransportUSB:
		tr = transport.NewUSB(stream, protocol)
	default:
		return fmt.Errorf("unknown transport %q", cfg.Transport.Kind)
	}

	var types []mctp.MsgType
	if flags.pldm {
		types = append(types, mctp.TypePLDM)
	}
	state := endpoint.New(types, cfg.Endpoint.MTU)

	svcCfg := service.DefaultEndpointConfig()
	svcCfg.MaxMessageSize = cfg.Endpoint.MaxMessageSize
	svcCfg.ReassemblyTimeout = cfg.Endpoint.ReassemblyTimeout.Std()
	svcCfg.RetryAttempts = cfg.Control.RetryAttempts
	svcCfg.RetryTimeout = cfg.Control.RetryTimeout.Std()
	svcCfg.DiscoveryNotify = cfg.Control.DiscoveryNotify
	svcCfg.OutboundQueue = cfg.Queues.Outbound
	svcCfg.HandlerQueue = cfg.Queues.Handler
	svcCfg.Logger = logger
	svcCfg.ProtocolLogger = protocol

	svc := service.NewEndpointService(state, tr, svcCfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if flags.pldm {
		requester := pldm.NewFileRequester(protocol)
		requester.Bind(svc.SenderFor(requester))
		requester.OnFile = func(data []byte) {
			logger.Info("PLDM file transfer complete", slog.Int("bytes", len(data)))
		}
		if err := svc.Register(requester); err != nil {
			return err
		}
		svc.OnEvent(func(ev service.Event) {
			if ev.Type == service.EventAssigned {
				requester.OnAssigned(ev.BusOwner)
			}
		})
		go requester.Run(ctx)
	}

	svc.OnEvent(func(ev service.Event) {
		switch ev.Type {
		case service.EventAssigned:
			logger.Info("endpoint assigned",
				slog.String("eid", ev.EID.String()),
				slog.String("bus_owner", ev.BusOwner.String()))
		case service.EventReset:
			logger.Info("endpoint reset to unassigned")
		case service.EventTransportDown:
			logger.Error("transport down", slog.Any("error", ev.Err))
		}
	})

	if err := svc.Start(ctx); err != nil {
		return err
	}
	logger.Info("device running",
		slog.String("transport", cfg.Transport.Kind),
		slog.String("uuid", state.UUID().String()))

	if flags.interactive {
		console, err := interactive.New(svc)
		if err != nil {
			return err
		}
		go console.Run(ctx, cancel)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", slog.String("signal", sig.String()))
		svc.Stop()
		return nil
	case <-ctx.Done():
		svc.Stop()
		return nil
	case <-svc.Done():
		err := svc.Err()
		if errors.Is(err, service.ErrStopped) || errors.Is(err, io.EOF) {
			logger.Info("transport closed")
			if errors.Is(err, io.EOF) {
				return errors.New("transport closed by peer")
			}
			return nil
		}
		return err
	}
}

func loadConfig() (config.Config, error) {
	cfg := config.Default()
	if flags.configFile != "" {
		var err error
		cfg, err = config.Load(flags.configFile)
		if err != nil {
			return cfg, err
		}
	}
	// Flags override the file.
	if flags.transport != "" {
		cfg.Transport.Kind = flags.transport
	}
	if flags.path != "" {
		cfg.Transport.Path = flags.path
	}
	if flags.capture != "" {
		cfg.Logging.CaptureFile = flags.capture
	}
	return cfg, cfg.Validate()
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// newProtocolLogger assembles the capture destinations the config asks
// for. The returned func closes the capture file on shutdown.
func newProtocolLogger(cfg config.Config, logger *slog.Logger) (log.Logger, func(), error) {
	var loggers []log.Logger
	closeCapture := func() {}

	if cfg.Logging.Console || flags.logLevel == "debug" {
		loggers = append(loggers, log.NewSlogAdapter(logger))
	}
	if cfg.Logging.CaptureFile != "" {
		fl, err := log.NewFileLogger(cfg.Logging.CaptureFile)
		if err != nil {
			return nil, nil, err
		}
		loggers = append(loggers, fl)
		closeCapture = func() { _ = fl.Close() }
	}

	switch len(loggers) {
	case 0:
		return log.NoopLogger{}, closeCapture, nil
	case 1:
		return loggers[0], closeCapture, nil
	default:
		return log.NewMultiLogger(loggers...), closeCapture, nil
	}
}

// openStream opens the configured byte stream: a unix socket, a
// character device, or stdio when no path is given.
func openStream(path string) (io.ReadWriteCloser, error) {
	if path == "" {
		return &stdio{}, nil
	}

	if fi, err := os.Stat(path); err == nil && fi.Mode()&os.ModeSocket != 0 {
		conn, err := net.Dial("unix", path)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", path, err)
		}
		return conn, nil
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return f, nil
}

// stdio pairs stdin and stdout as one stream, for driving the device
// from a pipe.
type stdio struct{}

func (stdio) Read(p []byte) (int, error)  { return os.Stdin.Read(p) }
func (stdio) Write(p []byte) (int, error) { return os.Stdout.Write(p) }
func (stdio) Close() error                { return os.Stdin.Close() }
