package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/deskble/internal/desk"
	"github.com/srg/deskble/internal/device"
	"github.com/srg/deskble/internal/devicefactory"
	"github.com/srg/deskble/internal/discovery"
	"github.com/srg/deskble/internal/groutine"
	"github.com/srg/deskble/internal/variant"
	"github.com/srg/deskble/pkg/config"
	"golang.org/x/term"
)

// app carries what every subcommand needs: merged configuration, a logger
// and the two output streams. Data goes to out, status lines to errOut.
type app struct {
	cfg         *config.Config
	logger      *logrus.Logger
	out         io.Writer
	errOut      io.Writer
	interactive bool
}

// syncWriter serialises writes coming from the event printer and the command.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// newApp loads the config file and applies flag overrides on top of it.
func newApp(cmd *cobra.Command) (*app, error) {
	flags := cmd.Flags()

	cfgPath, _ := flags.GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	if flags.Changed("address") {
		cfg.Address, _ = flags.GetString("address")
	}
	if flags.Changed("backend") {
		cfg.Backend, _ = flags.GetString("backend")
	}
	if flags.Changed("format") {
		cfg.OutputFormat, _ = flags.GetString("format")
	}
	for name, dst := range map[string]*time.Duration{
		"scan-timeout":         &cfg.ScanTimeout,
		"validate-timeout":     &cfg.ValidateTimeout,
		"connect-timeout":      &cfg.ConnectTimeout,
		"notification-timeout": &cfg.NotificationTimeout,
	} {
		if flags.Changed(name) {
			*dst, _ = flags.GetDuration(name)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Address != "" {
		addr, err := normalizeAddress(cfg.Address)
		if err != nil {
			return nil, err
		}
		cfg.Address = addr
	}

	// An explicit config file's log_level applies only when no flag sets one.
	fallback := logrus.PanicLevel
	if cfgPath != "" {
		fallback = cfg.Level()
	}
	logger, err := configureLogger(cmd, "verbose", fallback)
	if err != nil {
		return nil, err
	}

	errOut := &syncWriter{w: cmd.ErrOrStderr()}
	logger.SetOutput(errOut)

	return &app{
		cfg:         cfg,
		logger:      logger,
		out:         cmd.OutOrStdout(),
		errOut:      errOut,
		interactive: isTerminal(cmd.ErrOrStderr()),
	}, nil
}

func (a *app) status(format string, args ...any) {
	fmt.Fprintf(a.errOut, format+"\n", args...)
}

func (a *app) success(format string, args ...any) {
	color.New(color.FgGreen).Fprintf(a.errOut, format+"\n", args...)
}

func (a *app) backend() devicefactory.Backend {
	if a.cfg.Backend == "" {
		return devicefactory.DefaultBackend()
	}
	return devicefactory.Backend(a.cfg.Backend)
}

// findDesks scans and validates advertising desks, only the one at address
// when it is set. The connector is returned so the chosen desk can be opened
// with the same backend.
func (a *app) findDesks(ctx context.Context, address string) ([]variant.DiscoveredDesk, device.Connector, error) {
	backend := a.backend()
	radio, err := devicefactory.ScannerFactory(backend, a.logger, variant.AllServiceIDs()...)
	if err != nil {
		return nil, nil, err
	}
	connector, err := devicefactory.ConnectorFactory(backend, a.logger)
	if err != nil {
		return nil, nil, err
	}

	scanner := discovery.NewScanner(radio, a.logger)
	finder := discovery.NewFinder(scanner, discovery.NewValidator(connector, nil, a.logger), a.logger)
	if address != "" {
		finder.ScanOptions.AllowList = []string{address}
	}

	progress := NewProgressPrinter(a.errOut, a.interactive, "Looking for desks", discovery.PhaseScanning, a.cfg.ScanTimeout)
	counter := newScanProgress(progress.Callback())
	finder.Progress = counter.Phase
	progress.Start()

	watchCtx, stopWatch := context.WithCancel(ctx)
	var watcher sync.WaitGroup
	groutine.GoWait(watchCtx, &watcher, "scan-events", func(ctx context.Context) {
		counter.Watch(ctx, scanner.Events())
	})

	desks, err := finder.Find(ctx, a.cfg.ScanTimeout, a.cfg.ValidateTimeout)
	stopWatch()
	watcher.Wait()
	progress.Stop()
	if err != nil {
		return nil, nil, err
	}
	a.logger.WithFields(logrus.Fields{
		"devices_seen": counter.Seen(),
		"desks":        len(desks),
	}).Debug("Desk search finished")
	return desks, connector, nil
}

// selectDesk picks the desk to talk to: the one at --address, or the only
// desk in range.
func (a *app) selectDesk(ctx context.Context) (variant.DiscoveredDesk, device.Connector, error) {
	a.status("Scanning for desks...")
	desks, connector, err := a.findDesks(ctx, "")
	if err != nil {
		return variant.DiscoveredDesk{}, nil, err
	}
	if len(desks) == 0 {
		return variant.DiscoveredDesk{}, nil, ErrNoDesks
	}

	if a.cfg.Address != "" {
		for _, d := range desks {
			if sameAddress(d.Address, a.cfg.Address) {
				a.success("Found matching desk at %s", d.Address)
				return d, connector, nil
			}
		}
		var sb strings.Builder
		fmt.Fprintf(&sb, "%s at address %s\nFound %d desk(s) at other addresses:", ErrDeskNotFound, a.cfg.Address, len(desks))
		for _, d := range desks {
			fmt.Fprintf(&sb, "\n  - %s", d.Address)
		}
		return variant.DiscoveredDesk{}, nil, wrapDetail(ErrDeskNotFound, sb.String())
	}

	if len(desks) == 1 {
		a.success("Found desk at %s", desks[0].Address)
		return desks[0], connector, nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "found %d desks, please specify --address\nAvailable desks:", len(desks))
	for _, d := range desks {
		fmt.Fprintf(&sb, "\n  - %s", d)
	}
	return variant.DiscoveredDesk{}, nil, wrapDetail(ErrMultipleDesks, sb.String())
}

// detailError keeps a sentinel matchable while replacing its message.
type detailError struct {
	base error
	msg  string
}

func (e *detailError) Error() string { return e.msg }
func (e *detailError) Unwrap() error { return e.base }

func wrapDetail(base error, msg string) error {
	return &detailError{base: base, msg: msg}
}

// signalContext cancels on Ctrl+C or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

// withSession selects a desk, connects, prints every notification while fn
// runs, and disconnects afterwards.
func withSession(cmd *cobra.Command, fn func(ctx context.Context, a *app, s *desk.Session) error) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	ctx, stop := signalContext(cmd)
	defer stop()

	d, connector, err := a.selectDesk(ctx)
	if err != nil {
		return err
	}

	session := desk.NewSession(d, connector, a.cfg.SessionOptions(), a.logger)
	sub := session.Subscribe()
	var printer sync.WaitGroup
	groutine.GoWait(ctx, &printer, "event-printer", func(context.Context) {
		for ev := range sub.Events() {
			a.printEvent(ev)
		}
	})
	defer func() {
		session.Close()
		printer.Wait()
		if n := sub.Dropped(); n > 0 {
			a.logger.WithField("dropped", n).Warn("Some notifications were not printed")
		}
	}()

	a.status("Connecting to %s...", d.Address)
	if err := session.Connect(ctx); err != nil {
		return err
	}
	a.success("Connected successfully")

	return fn(ctx, a, session)
}

func (a *app) printEvent(ev desk.Event) {
	switch ev.(type) {
	case desk.ResetRequiredEvent:
		a.status("Got notification: %s", ev.Type())
	default:
		a.status("Got notification: %s - %s", ev.Type(), ev)
	}
}
