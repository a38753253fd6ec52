package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cyrilzakka/Halo/internal/authorize"
	"github.com/cyrilzakka/Halo/internal/ble"
	"github.com/cyrilzakka/Halo/internal/config"
	"github.com/cyrilzakka/Halo/internal/radio"
	"github.com/cyrilzakka/Halo/internal/ring"
)

func usage() {
	fmt.Fprintln(os.Stderr, "usage: halo [-config path] <pair|status|send <hex>|listen|info|forget>")
}

func main() {
	configPath := flag.String("config", "", "path to config file (default: ~/.config/halo/config.yaml)")
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config validation: %v\n", err)
		os.Exit(1)
	}
	setupLogging(cfg.LogLevel)

	switch flag.Arg(0) {
	case "pair":
		err = runPair(cfg)
	case "status":
		err = runStatus(cfg)
	case "send":
		if flag.NArg() < 2 {
			fmt.Fprintln(os.Stderr, "usage: halo send <hex>")
			os.Exit(1)
		}
		err = runSend(cfg, flag.Arg(1))
	case "listen":
		err = runListen(cfg)
	case "info":
		err = runInfo(cfg)
	case "forget":
		err = runForget(cfg)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", flag.Arg(0))
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		return config.Load(defaultPath)
	}
	return config.Default(), nil
}

func setupLogging(level string) {
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
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

// stack wires the session to its collaborators.
type stack struct {
	session *ring.Session
	picker  *authorize.Picker
	states  chan ring.State
	cancel  context.CancelFunc
}

func buildStack(cfg *config.Config) (*stack, error) {
	log := slog.Default()

	backend := ble.NewBackend(log)
	store := authorize.NewStore(cfg.StorePath)
	picker := authorize.NewPicker(backend, store, cfg.ScanTimeout(), log)

	sess := ring.NewSession(backend, picker, ring.Options{
		StepTimeout: cfg.StepTimeout(),
		Logger:      log,
	})
	backend.Bind(sess)
	picker.Bind(sess)

	states := make(chan ring.State, 16)
	sess.OnStateChange(func(st ring.State, _ ring.DisconnectReason) {
		select {
		case states <- st:
		default:
		}
	})

	if err := backend.Enable(); err != nil {
		return nil, fmt.Errorf("enable bluetooth adapter: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	watcher, err := radio.NewWatcher(cfg.Adapter, log)
	if err != nil {
		// No BlueZ on this host (e.g. macOS). The adapter enabled fine,
		// so treat the radio as on.
		log.Debug("power watcher unavailable, assuming radio on", "error", err)
		sess.PoweredOn()
	} else {
		go func() {
			if err := watcher.Watch(ctx, sess); err != nil {
				log.Warn("power watcher stopped", "error", err)
				sess.PoweredOn()
			}
		}()
		go func() {
			<-ctx.Done()
			watcher.Close()
		}()
	}

	return &stack{session: sess, picker: picker, states: states, cancel: cancel}, nil
}

func (s *stack) close() {
	s.session.Disconnect()
	s.cancel()
}

// waitReady blocks until the session reaches Ready or lands in a terminal
// state for this attempt.
func (s *stack) waitReady(timeout time.Duration) error {
	deadline := time.After(timeout)
	for {
		select {
		case st := <-s.states:
			switch st {
			case ring.StateReady:
				return nil
			case ring.StateIdle:
				return fmt.Errorf("no ring selected")
			case ring.StateDisconnected:
				return fmt.Errorf("connection failed: %s", s.session.Reason())
			}
		case <-deadline:
			return fmt.Errorf("timed out waiting for connection")
		}
	}
}

func runPair(cfg *config.Config) error {
	st, err := buildStack(cfg)
	if err != nil {
		return err
	}
	defer st.close()

	fmt.Println("Scanning for rings...")
	if err := st.session.Authorize(); err != nil {
		return err
	}
	if err := st.waitReady(cfg.ScanTimeout() + 4*cfg.StepTimeout() + 5*time.Second); err != nil {
		return err
	}

	id := st.session.Identity()
	fmt.Printf("Paired with %s (%s)\n", id.Name, id.ID)
	if info := deviceInfo(st.session); info != (ring.DeviceInfo{}) {
		fmt.Printf("  Firmware: %s\n  Hardware: %s\n", info.FirmwareRevision, info.HardwareRevision)
	}
	return nil
}

func runStatus(cfg *config.Config) error {
	store := authorize.NewStore(cfg.StorePath)
	id, err := store.Load()
	if err != nil {
		return err
	}
	if id == nil {
		fmt.Println("No ring paired. Run `halo pair`.")
		return nil
	}
	fmt.Printf("Paired ring: %s (%s)\n", id.Name, id.ID)
	return nil
}

func runSend(cfg *config.Config, arg string) error {
	payload, err := hex.DecodeString(strings.ReplaceAll(arg, ":", ""))
	if err != nil {
		return fmt.Errorf("payload must be hex: %w", err)
	}

	st, err := connectToPaired(cfg)
	if err != nil {
		return err
	}
	defer st.close()

	// Print anything the ring says back.
	inbound := make(chan []byte, 8)
	st.session.Subscribe(func(p []byte) {
		select {
		case inbound <- p:
		default:
		}
	})

	rcpt, err := st.session.Write(payload)
	if err != nil {
		return err
	}
	if err := <-rcpt.Done; err != nil {
		return fmt.Errorf("write failed: %w", err)
	}
	fmt.Printf("sent %x\n", payload)

	select {
	case p := <-inbound:
		fmt.Printf("recv %x\n", p)
	case <-time.After(2 * time.Second):
	}
	return nil
}

func runListen(cfg *config.Config) error {
	st, err := connectToPaired(cfg)
	if err != nil {
		return err
	}
	defer st.close()

	st.session.Subscribe(func(p []byte) {
		fmt.Printf("recv %x\n", p)
	})
	fmt.Println("Listening for notifications. Ctrl+C to quit.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-sigCh:
			return nil
		case state := <-st.states:
			if state == ring.StateDisconnected {
				return fmt.Errorf("disconnected: %s", st.session.Reason())
			}
		}
	}
}

func runInfo(cfg *config.Config) error {
	st, err := connectToPaired(cfg)
	if err != nil {
		return err
	}
	defer st.close()

	id := st.session.Identity()
	fmt.Printf("Ring: %s (%s)\n", id.Name, id.ID)
	info := deviceInfo(st.session)
	if info == (ring.DeviceInfo{}) {
		fmt.Println("Device Information service not available.")
		return nil
	}
	fmt.Printf("  Firmware: %s\n  Hardware: %s\n", info.FirmwareRevision, info.HardwareRevision)
	return nil
}

func runForget(cfg *config.Config) error {
	if err := authorize.NewStore(cfg.StorePath).Remove(); err != nil {
		return err
	}
	fmt.Println("Forgot paired ring.")
	return nil
}

// connectToPaired builds the stack and connects to the previously paired
// ring.
func connectToPaired(cfg *config.Config) (*stack, error) {
	st, err := buildStack(cfg)
	if err != nil {
		return nil, err
	}
	if st.picker.ActivationIdentity() == nil {
		st.close()
		return nil, fmt.Errorf("no ring paired; run `halo pair` first")
	}
	if err := st.session.Start(); err != nil {
		st.close()
		return nil, err
	}
	if err := st.waitReady(4*cfg.StepTimeout() + 5*time.Second); err != nil {
		st.close()
		return nil, err
	}
	return st, nil
}

// deviceInfo polls briefly for the optional Device Information read,
// which happens in the background after Ready.
func deviceInfo(sess *ring.Session) ring.DeviceInfo {
	deadline := time.Now().Add(2 * time.Second)
	for {
		if info := sess.DeviceInformation(); info != (ring.DeviceInfo{}) {
			return info
		}
		if time.Now().After(deadline) {
			return ring.DeviceInfo{}
		}
		time.Sleep(100 * time.Millisecond)
	}
}
