// Command flashthing-cli flashes an Amlogic S905 "Car Thing"/Superbird
// device from a manifest archive, a raw partition dump ("stock" mode),
// or a bricked-device recovery program ("unbrick" mode).
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/atotto/clipboard"
	tea "github.com/charmbracelet/bubbletea"

	"flashthing/internal/assets"
	"flashthing/internal/diagnostics"
	"flashthing/internal/executor"
	"flashthing/internal/flashconfig"
	"flashthing/internal/flasherr"
	"flashthing/internal/statusserver"
	"flashthing/internal/tui"
	"flashthing/internal/udevrules"
	"flashthing/internal/usb"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		stockLong  = flag.Bool("stock", false, "treat PATH as a raw partition dump with no meta.json")
		stockShort = flag.Bool("s", false, "shorthand for -stock")
		unbrick    = flag.Bool("unbrick", false, "synthesize an unbrick program (erase + reflash) from PATH")
		setup      = flag.Bool("setup", false, "install the udev rule granting unprivileged USB access, then exit")
		doctor     = flag.Bool("doctor", false, "run host environment diagnostics, then exit")
		statusAddr = flag.String("status-addr", "", "bind address for the JSON status server, e.g. 127.0.0.1:8910 (overrides config)")
		noTUI      = flag.Bool("no-tui", false, "disable the interactive progress view; log plain lines instead")
		logFormat  = flag.String("log-format", "", "log output format: json or text (overrides config)")
	)
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: flashthing-cli [OPTIONS] [PATH]")
		flag.PrintDefaults()
	}
	flag.Parse()
	stock := *stockLong || *stockShort

	cfg := flashconfig.Load()
	if *statusAddr != "" {
		cfg.StatusAddr = *statusAddr
	}
	if *logFormat != "" {
		cfg.LogFormat = *logFormat
	}
	if *noTUI {
		cfg.NoTUI = true
	}

	logger := newLogger(cfg.LogFormat)

	if *setup {
		if err := udevrules.Install(); err != nil {
			logger.Error("udev rule install failed", "err", err)
			return 1
		}
		fmt.Printf("installed %s\n", udevrules.RulesPath)
		return 0
	}

	if *doctor {
		report := diagnostics.Run()
		fmt.Print(report.String())
		if !report.AllOK() {
			return 1
		}
		return 0
	}

	if flag.NArg() == 0 {
		flag.Usage()
		return 1
	}
	archivePath := flag.Arg(0)

	mode := executor.ModeManifest
	switch {
	case *unbrick:
		mode = executor.ModeUnbrick
	case stock:
		mode = executor.ModeStock
	}

	return flashArchive(archivePath, mode, cfg, logger)
}

func flashArchive(archivePath string, mode executor.Mode, cfg flashconfig.Config, logger *slog.Logger) int {
	transport := usb.NewGousbTransport(logger)

	var statusSrv *statusserver.Server
	var statusErrCh <-chan error
	if cfg.StatusAddr != "" {
		statusSrv = statusserver.New(cfg.StatusAddr)
		statusErrCh = statusSrv.Start()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), statusserver.ShutdownTimeout)
			defer cancel()
			_ = statusSrv.Shutdown(ctx)
		}()
	}

	useTUI := !cfg.NoTUI && isTerminal(os.Stdout)

	var sink executor.Sink
	var model tea.Model
	if useTUI {
		s, events := tui.NewSink(64)
		m := tui.New(events)
		model = m
		sink = s
	} else {
		sink = func(ev executor.FlashEvent) { logEvent(logger, ev) }
	}
	if statusSrv != nil {
		prev := sink
		sink = func(ev executor.FlashEvent) {
			prev(ev)
			statusSrv.Sink()(ev)
		}
	}

	exec := executor.New(transport,
		executor.WithSink(sink),
		executor.WithLogger(logger),
		executor.WithProgressRate(cfg.ProgressHz),
		executor.WithDefaultBL2(uint32(cfg.BL2LoadAddr), assets.DefaultBL2(), assets.DefaultBootloader()),
	)

	if err := exec.OpenArchive(archivePath, mode); err != nil {
		logger.Error("failed to open archive", "err", err)
		return flasherr.ExitCode(err)
	}
	defer exec.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		exec.Cancel()
	}()

	flashErrCh := make(chan error, 1)
	go func() { flashErrCh <- exec.Flash(ctx) }()

	var flashErr error
	if useTUI {
		program := tea.NewProgram(model)
		if _, err := program.Run(); err != nil {
			logger.Error("tui error", "err", err)
		}
		flashErr = <-flashErrCh
	} else {
		select {
		case flashErr = <-flashErrCh:
		case err := <-statusErrCh:
			if err != nil {
				logger.Error("status server error", "err", err)
			}
		}
	}

	if flashErr != nil {
		logger.Error("flash failed", "err", flashErr)
		if cfg.CopyReport {
			copyReportToClipboard(fmt.Sprintf("flashthing: FAILED: %v", flashErr), logger)
		}
		return flasherr.ExitCode(flashErr)
	}
	fmt.Println("flash complete")
	if cfg.CopyReport {
		copyReportToClipboard(fmt.Sprintf("flashthing: flashed %s successfully (%d steps)", archivePath, exec.NumSteps()), logger)
	}
	return 0
}

// copyReportToClipboard puts a one-line run summary on the system
// clipboard so a user debugging over chat/ticket can paste it without
// retyping. Best-effort: clipboard access can fail headlessly (no X11/
// Wayland session, no pbcopy/xclip), so a failure only logs a warning.
func copyReportToClipboard(report string, logger *slog.Logger) {
	if err := clipboard.WriteAll(report); err != nil {
		logger.Warn("could not copy report to clipboard", "err", err)
	}
}

func logEvent(logger *slog.Logger, ev executor.FlashEvent) {
	switch ev.Kind {
	case executor.EventStarted:
		logger.Info("flash started", "session", ev.SessionID, "steps", ev.TotalSteps)
	case executor.EventStepStarted:
		logger.Info("step started", "index", ev.StepIndex, "total", ev.StepTotal, "kind", ev.StepKind)
	case executor.EventLogEmitted:
		logger.Info(ev.Message)
	case executor.EventStepCompleted:
		logger.Info("step completed", "index", ev.StepIndex)
	case executor.EventStepFailed:
		logger.Error("step failed", "index", ev.StepIndex, "err", ev.Err)
	case executor.EventCancelled:
		logger.Warn("flash cancelled")
	case executor.EventFinished:
		logger.Info("flash finished")
	}
}

func newLogger(format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}
