package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/srg/flexlink/internal/calibrate"
	"github.com/srg/flexlink/internal/device"
	goble "github.com/srg/flexlink/internal/device/go-ble"
	"github.com/srg/flexlink/internal/device/webbt"
	"github.com/srg/flexlink/internal/groutine"
	"github.com/srg/flexlink/internal/serialmon"
	"github.com/srg/flexlink/internal/session"
	"github.com/srg/flexlink/pkg/config"
)

// streamCmd represents the stream command
var streamCmd = &cobra.Command{
	Use:   "stream",
	Short: "Connect to the glove and print its readings",
	Long: `Scans for the glove, subscribes to every configured characteristic and
prints one line per decoded notification until Ctrl+C.

Transports:
  native  - the host Bluetooth adapter (default)
  web     - a browser tab with Web Bluetooth; open the printed URL and pick the glove

Examples:
  # Stream flex, battery and accelerometer readings
  flexlink stream

  # Calibrated bend angles as JSON lines
  flexlink stream --angles --format json

  # Mirror readings onto a pseudo-terminal and keep reconnecting
  flexlink stream --pty --reconnect

  # Use Chrome's Web Bluetooth stack
  flexlink stream --transport web --listen 127.0.0.1:8765`,
	Args: cobra.NoArgs,
	RunE: runStream,
}

var (
	streamTransport string
	streamListen    string
	streamTimeout   time.Duration
	streamFormat    string
	streamAngles    bool
	streamPTY       bool
	streamReconnect bool
	streamVerbose   bool
)

func init() {
	streamCmd.Flags().StringVar(&streamTransport, "transport", "", "BLE transport: native or web (default from config)")
	streamCmd.Flags().StringVar(&streamListen, "listen", "", "Address for the Web Bluetooth bridge page (web transport)")
	streamCmd.Flags().DurationVar(&streamTimeout, "timeout", 0, "Scan timeout (default from config)")
	streamCmd.Flags().StringVar(&streamFormat, "format", "", "Output format: text or json (default from config)")
	streamCmd.Flags().BoolVar(&streamAngles, "angles", false, "Print flex values as calibrated bend angles")
	streamCmd.Flags().BoolVar(&streamPTY, "pty", false, "Mirror readings onto a pseudo-terminal")
	streamCmd.Flags().BoolVar(&streamReconnect, "reconnect", false, "Reconnect when the glove drops the link")
	streamCmd.Flags().BoolVarP(&streamVerbose, "verbose", "V", false, "Debug logging")
}

// transportFactory builds the BLE transport selected by cfg.
// The returned closer releases whatever the transport started.
var transportFactory = func(cfg *config.Config, logger *logrus.Logger, status io.Writer) (device.Transport, func() error, error) {
	switch cfg.Transport {
	case config.TransportWeb:
		return startWebBridge(cfg.Listen, logger, status)
	default:
		return goble.New(logger, goble.WithNamePrefix(cfg.NamePrefix)), func() error { return nil }, nil
	}
}

func startWebBridge(addr string, logger *logrus.Logger, status io.Writer) (device.Transport, func() error, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to listen for the bridge page: %w", err)
	}

	bridge := webbt.NewBridge(logger)
	srv := &http.Server{Handler: bridge.Handler(), ReadHeaderTimeout: 5 * time.Second}
	groutine.Go(context.Background(), "webbt-http", func(ctx context.Context) {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("Bridge server stopped")
		}
	})

	fmt.Fprintf(status, "Open http://%s in a browser with Web Bluetooth (Chrome, Edge)\n", ln.Addr())
	return bridge, func() error {
		_ = bridge.Close()
		return srv.Close()
	}, nil
}

// applyStreamFlags overrides config values with explicitly set flags
func applyStreamFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("transport") {
		cfg.Transport = streamTransport
	}
	if flags.Changed("listen") {
		cfg.Listen = streamListen
	}
	if flags.Changed("timeout") {
		cfg.ScanTimeout = streamTimeout
	}
	if flags.Changed("format") {
		cfg.OutputFormat = streamFormat
	}
	return cfg.Validate()
}

func runStream(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := applyStreamFlags(cmd, cfg); err != nil {
		return err
	}

	logger, err := configureLogger(cmd, "verbose", cfg)
	if err != nil {
		return err
	}

	var calib *calibrate.Calibration
	if streamAngles {
		calib = &cfg.Calibration
	}
	format, err := newFormatter(cfg.OutputFormat, calib)
	if err != nil {
		return err
	}
	specs, err := cfg.ToSpecs()
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true
	status := cmd.ErrOrStderr()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	transport, closeTransport, err := transportFactory(cfg, logger, status)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeTransport(); err != nil {
			logger.WithError(err).Debug("Transport close failed")
		}
	}()

	s := session.New(transport,
		session.WithLogger(logger),
		session.WithConnectTimeout(cfg.ConnectTimeout),
	)
	if err := s.Configure(cfg.Service, specs); err != nil {
		return err
	}
	defer func() { _ = s.Disconnect() }()

	out := cmd.OutOrStdout()
	if streamPTY {
		mon, err := serialmon.Open(serialmon.Options{Logger: logger})
		if err != nil {
			return err
		}
		defer mon.Close()
		out = io.MultiWriter(out, mon)
		fmt.Fprintf(status, "Serial monitor at %s\n", mon.TTYName())
	}

	sink := newReadingSink(out, format, 1024, logger)
	sink.Start(ctx)
	defer sink.Stop()
	unsubscribe := s.OnReading(sink.Push)
	defer unsubscribe()

	lost := make(chan struct{}, 1)
	onState := func(ch session.StateChange) {
		if shouldReconnect(ch) {
			select {
			case lost <- struct{}{}:
			default:
			}
		}
	}

	var progress *ProgressPrinter
	if f, ok := status.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		progress = NewProgressPrinter(status, "Looking for glove", session.StateScanning.String(), cfg.ScanTimeout,
			session.StateConnected.String(), session.StateError.String(), session.StateDisconnected.String())
		progress.Start()
		defer progress.Stop()
		setPhase := progress.Callback()
		defer s.OnStateChange(func(ch session.StateChange) {
			setPhase(ch.Next.Kind.String())
			onState(ch)
		})()
	} else {
		defer s.OnStateChange(func(ch session.StateChange) {
			name := ""
			if d := s.Device(); d != nil {
				name = d.Name()
			}
			fmt.Fprintln(status, stateLine(ch, name))
			onState(ch)
		})()
	}

	for {
		if err := connectAndSubscribe(ctx, s, cfg.ScanTimeout); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if progress != nil {
			progress.Stop()
		}
		fmt.Fprintf(status, "Streaming %s. Press Ctrl+C to stop...\n", strings.Join(s.Subscribed(), ", "))

		select {
		case <-ctx.Done():
			return nil
		case <-lost:
		}
		if !streamReconnect {
			return ErrConnectionLost
		}
		fmt.Fprintln(status, "Glove dropped the link, reconnecting...")
	}
}

func connectAndSubscribe(ctx context.Context, s *session.Session, timeout time.Duration) error {
	if err := s.ScanAndConnect(ctx, timeout); err != nil {
		return err
	}
	return s.SubscribeAll(ctx)
}

// shouldReconnect is true only for links dropped by the glove or the OS
func shouldReconnect(ch session.StateChange) bool {
	return ch.Next.Kind == session.StateDisconnected && ch.PeerInitiated
}
