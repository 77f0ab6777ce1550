// Package executor walks a parsed flash program against the protocol
// and boot-coordination layers, emitting a structured event stream
// (spec §4.E).
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"flashthing/internal/archive"
	"flashthing/internal/bootstage"
	"flashthing/internal/flasherr"
	"flashthing/internal/manifest"
	"flashthing/internal/stock"
	"flashthing/internal/usb"
)

// Mode selects how OpenArchive builds a Program from an archive.
type Mode int

const (
	// ModeManifest reads meta.json at the archive root (the default).
	ModeManifest Mode = iota
	// ModeStock synthesizes a program from the fixed partition-file list
	// (spec §4.D), ignoring any meta.json.
	ModeStock
	// ModeUnbrick synthesizes the stock program with a forced
	// bootloader erase and re-detection from mask-ROM (spec §4.D).
	ModeUnbrick
)

// Executor is the single entry point that turns an opened archive and a
// Transport into a running flash (spec §4.E). Not safe for concurrent
// Flash calls: a single instance runs at most one flash() at a time
// (spec §3 invariant), enforced by an internal mutex.
type Executor struct {
	transport   usb.Transport
	protocol    *usb.Protocol
	coordinator *bootstage.Coordinator
	cfg         config

	a       archive.Archive
	program *manifest.Program
	mode    Mode

	steps []manifest.Step

	flashMu   sync.Mutex
	cancelled atomic.Bool
}

// New builds an Executor over transport. The Transport is not opened
// until Flash runs.
func New(transport usb.Transport, opts ...Option) *Executor {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	if cfg.sessionID == "" {
		cfg.sessionID = uuid.NewString()
	}

	protocol := usb.NewProtocol(transport, cfg.logger)
	return &Executor{
		transport:   transport,
		protocol:    protocol,
		coordinator: bootstage.NewCoordinator(transport, protocol, cfg.logger),
		cfg:         cfg,
	}
}

// OpenArchive opens path (spec §4.D archive detection), loads or
// synthesizes its program according to mode, and validates every
// DataOrFile/StringOrFile reference resolves. It does not touch the
// USB transport.
func (e *Executor) OpenArchive(path string, mode Mode) error {
	a, err := archive.Open(path)
	if err != nil {
		return err
	}

	var program *manifest.Program
	switch mode {
	case ModeStock:
		program, err = stock.Synthesize(a)
	case ModeUnbrick:
		program, err = stock.SynthesizeUnbrick(a)
	default:
		if !a.Has("meta.json") {
			a.Close()
			return &flasherr.ArchiveError{Detail: "missing meta.json (pass stock mode for a raw dump)"}
		}
		var data []byte
		data, err = a.Read("meta.json")
		if err == nil {
			program, err = manifest.Parse(data)
		}
	}
	if err != nil {
		a.Close()
		return err
	}

	if err := manifest.ValidateAgainstArchive(program, a); err != nil {
		a.Close()
		return err
	}

	e.a = a
	e.program = program
	e.mode = mode
	e.cfg.logger.Info("program loaded", "event", "executor.opened", "steps", len(program.Steps))
	return nil
}

// NumSteps returns the current step count: the parsed program's count
// before Flash runs, or the finalized count (including any synthesized
// bl2Boot) once Flash has started (spec §4.E).
func (e *Executor) NumSteps() int {
	if e.steps != nil {
		return len(e.steps)
	}
	if e.program != nil {
		return len(e.program.Steps)
	}
	return 0
}

// Cancel requests cooperative cancellation. It is checked between steps
// and while a wait step sleeps; it is not checked between the blocks of
// a transfer (writeLargeMemory, restorePartition, bl2Boot), which runs
// to its end unless ctx is cancelled. The device is left in an
// undefined state.
func (e *Executor) Cancel() { e.cancelled.Store(true) }

// Close releases the archive reader. Safe to call even if OpenArchive
// was never called.
func (e *Executor) Close() error {
	if e.a == nil {
		return nil
	}
	return e.a.Close()
}

// Flash runs the program to completion or first error (spec §4.E),
// detecting the device's boot stage, performing any required BL2
// handoff, and dispatching every step through Protocol. Only one Flash
// call runs at a time per Executor.
func (e *Executor) Flash(ctx context.Context) error {
	if !e.flashMu.TryLock() {
		return fmt.Errorf("executor: flash already in progress")
	}
	defer e.flashMu.Unlock()

	if e.a == nil || e.program == nil {
		return fmt.Errorf("executor: OpenArchive must succeed before Flash")
	}

	sid := e.cfg.sessionID
	e.cfg.logger.Info("flash starting", "event", "executor.flash_start", "session_id", sid)

	stage, err := e.coordinator.Detect(ctx)
	if err != nil {
		return err
	}

	if e.mode == ModeUnbrick && stage == bootstage.UBoot {
		if err := e.coordinator.Reset(ctx); err != nil {
			return err
		}
		stage = e.coordinator.CurrentStage()
	}

	steps := append([]manifest.Step(nil), e.program.Steps...)
	needsSyntheticBL2 := (stage == bootstage.MaskROM && !startsWithBL2Boot(steps)) || e.mode == ModeUnbrick
	if needsSyntheticBL2 {
		steps = append([]manifest.Step{e.syntheticBL2Step()}, steps...)
	}
	e.steps = steps

	total := len(e.steps)
	e.emit(FlashEvent{Kind: EventStarted, SessionID: sid, TotalSteps: total})

	for i, step := range e.steps {
		if e.cancelled.Load() {
			e.emit(FlashEvent{Kind: EventCancelled, SessionID: sid, StepIndex: i})
			return &flasherr.Cancelled{}
		}

		e.emit(FlashEvent{
			Kind: EventStepStarted, SessionID: sid,
			StepIndex: i, StepTotal: total, StepKind: string(step.Kind),
		})

		if err := e.dispatch(ctx, sid, i, total, step); err != nil {
			e.emit(FlashEvent{Kind: EventStepFailed, SessionID: sid, StepIndex: i, Err: err})
			e.cfg.logger.Error("step failed", "event", "executor.step_failed", "index", i, "kind", step.Kind, "error", err)
			return err
		}

		e.emit(FlashEvent{Kind: EventStepCompleted, SessionID: sid, StepIndex: i})
	}

	e.emit(FlashEvent{Kind: EventFinished, SessionID: sid})
	e.cfg.logger.Info("flash finished", "event", "executor.flash_done", "session_id", sid)
	return nil
}

func startsWithBL2Boot(steps []manifest.Step) bool {
	return len(steps) > 0 && steps[0].Kind == manifest.KindBL2Boot
}

func (e *Executor) syntheticBL2Step() manifest.Step {
	return manifest.Step{
		Kind: manifest.KindBL2Boot,
		Payload: manifest.BL2BootPayload{
			BL2:        manifest.NewInlineData(e.cfg.defaultBL2),
			Bootloader: manifest.NewInlineData(e.cfg.defaultLoader),
		},
	}
}

func (e *Executor) emit(ev FlashEvent) {
	if e.cfg.sink != nil {
		e.cfg.sink(ev)
	}
}

func (e *Executor) resolveData(d manifest.DataOrFile) ([]byte, string, error) {
	data, err := d.Resolve(e.a)
	if err != nil {
		return nil, "", err
	}
	return data, archive.ContentAddress(data), nil
}

// sleep blocks for d, polling for cancellation/context expiry in small
// increments so a long wait step doesn't swallow a cancel request or
// outlive ctx unnoticed (spec §4.E: wait "sleeps in a way that does not
// starve the event sink").
func (e *Executor) sleep(ctx context.Context, d time.Duration) error {
	const tick = 100 * time.Millisecond
	deadline := time.Now().Add(d)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}
		wait := tick
		if remaining < wait {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		if e.cancelled.Load() {
			return &flasherr.Cancelled{}
		}
	}
}

func (e *Executor) dispatch(ctx context.Context, sid string, index, total int, step manifest.Step) error {
	switch payload := step.Payload.(type) {
	case manifest.LogPayload:
		e.emit(FlashEvent{Kind: EventLogEmitted, SessionID: sid, StepIndex: index, Message: payload.Message})
		return nil

	case manifest.WaitPayload:
		if payload.Type != manifest.WaitTime {
			return &flasherr.Unsupported{StepKind: fmt.Sprintf("wait:%s", payload.Type)}
		}
		return e.sleep(ctx, time.Duration(payload.Time.Uint64())*time.Millisecond)

	case manifest.BulkCmdPayload:
		return e.protocol.BulkCmd(ctx, payload.Command)

	case manifest.RunPayload:
		return e.protocol.RunAt(ctx, uint32(payload.Address.Uint64()), payload.KeepPower)

	case manifest.WriteSimpleMemoryPayload:
		data, _, err := e.resolveData(payload.Data)
		if err != nil {
			return err
		}
		return e.protocol.WriteSimpleMemory(ctx, uint32(payload.Address.Uint64()), data)

	case manifest.WriteLargeMemoryPayload:
		data, _, err := e.resolveData(payload.Data)
		if err != nil {
			return err
		}
		coalescer := newProgressCoalescer(e.cfg.progressHz)
		return e.protocol.WriteLargeMemory(ctx, uint32(payload.Address.Uint64()), data,
			uint32(payload.BlockLength.Uint64()), payload.AppendZeros,
			func(sent, tot int) {
				if coalescer.allow(sent, tot) {
					e.emit(FlashEvent{Kind: EventBlockProgress, SessionID: sid, StepIndex: index, Sent: sent, Total: tot})
				}
			})

	case manifest.WriteAMLCDataPayload:
		data, _, err := e.resolveData(payload.Data)
		if err != nil {
			return err
		}
		return e.protocol.WriteAMLCData(ctx, uint32(payload.Seq.Uint64()), uint32(payload.AMLCOffset.Uint64()), data)

	case manifest.BL2BootPayload:
		return e.runBL2Boot(ctx, sid, index, payload)

	case manifest.RestorePartitionPayload:
		return e.restorePartition(ctx, sid, index, payload)

	case manifest.WriteEnvPayload:
		return e.writeEnv(ctx, payload)

	default:
		return &flasherr.Unsupported{StepKind: string(step.Kind)}
	}
}

func (e *Executor) runBL2Boot(ctx context.Context, sid string, index int, payload manifest.BL2BootPayload) error {
	bl2, _, err := e.resolveData(payload.BL2)
	if err != nil {
		return err
	}
	loader, _, err := e.resolveData(payload.Bootloader)
	if err != nil {
		return err
	}

	coalescer := newProgressCoalescer(e.cfg.progressHz)
	params := bootstage.BL2BootParams{BL2LoadAddr: e.cfg.bl2LoadAddr, BL2: bl2, Bootloader: loader}
	return e.coordinator.EnsureUboot(ctx, params, func(seq, totalBlocks int) {
		if coalescer.allow(seq, totalBlocks) {
			e.emit(FlashEvent{Kind: EventBlockProgress, SessionID: sid, StepIndex: index, Sent: seq, Total: totalBlocks})
		}
	})
}

// restorePartition implements the restorePartition macro (spec §4.E): a
// size-declaring bulkcmd followed by a large-memory write at address 0.
func (e *Executor) restorePartition(ctx context.Context, sid string, index int, payload manifest.RestorePartitionPayload) error {
	data, _, err := e.resolveData(payload.Data)
	if err != nil {
		return err
	}

	sizeCmd := fmt.Sprintf("oem mwrite 0x%x normal store %s", len(data), payload.Name)
	if err := e.protocol.BulkCmd(ctx, sizeCmd); err != nil {
		return err
	}

	coalescer := newProgressCoalescer(e.cfg.progressHz)
	return e.protocol.WriteLargeMemory(ctx, 0, data, 4096, true, func(sent, total int) {
		if coalescer.allow(sent, total) {
			e.emit(FlashEvent{Kind: EventBlockProgress, SessionID: sid, StepIndex: index, Sent: sent, Total: total})
		}
	})
}

// writeEnv implements the writeEnv macro (spec §4.E): env clear, one env
// set per KEY=VALUE line (blank lines and "#" comments ignored), env
// save. A line without "=" is silently skipped; the spec does not
// define behavior for malformed lines.
func (e *Executor) writeEnv(ctx context.Context, payload manifest.WriteEnvPayload) error {
	text, err := payload.Text.Resolve(e.a)
	if err != nil {
		return err
	}

	if err := e.protocol.BulkCmd(ctx, "env clear"); err != nil {
		return err
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(strings.TrimRight(line, "\r"))
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		key, value, ok := strings.Cut(trimmed, "=")
		if !ok {
			continue
		}
		if err := e.protocol.BulkCmd(ctx, "env set "+key+" "+value); err != nil {
			return err
		}
	}

	return e.protocol.BulkCmd(ctx, "env save")
}
