package executor

import (
	"log/slog"
)

// config holds Executor configuration assembled from Options.
type config struct {
	sink          Sink
	logger        *slog.Logger
	sessionID     string
	bl2LoadAddr   uint32
	defaultBL2    []byte
	defaultLoader []byte
	progressHz    float64
}

func defaultConfig() config {
	return config{
		bl2LoadAddr: defaultBL2LoadAddr,
		progressHz:  20,
	}
}

// Option configures an Executor at construction time.
type Option func(*config)

// WithSink sets the callback that receives every FlashEvent.
//
// Example:
//
//	exec := executor.New(transport, executor.WithSink(func(e executor.FlashEvent) {
//	    log.Printf("%s", e.Kind)
//	}))
func WithSink(sink Sink) Option {
	return func(c *config) { c.sink = sink }
}

// WithLogger sets the structured logger used for internal diagnostics
// (distinct from the FlashEvent stream, which is user-facing progress).
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) { c.logger = logger }
}

// WithSessionID overrides the generated session id (default: a fresh
// UUID per New call). Mainly useful for tests that assert on event
// session ids.
func WithSessionID(id string) Option {
	return func(c *config) { c.sessionID = id }
}

// WithDefaultBL2 supplies the embedded fallback bl2/bootloader blobs and
// load address used to synthesize a bl2Boot step when the program
// doesn't provide one (spec §4.C).
func WithDefaultBL2(loadAddr uint32, bl2, bootloader []byte) Option {
	return func(c *config) {
		c.bl2LoadAddr = loadAddr
		c.defaultBL2 = bl2
		c.defaultLoader = bootloader
	}
}

// WithProgressRate caps BlockProgress emission frequency in Hz (spec
// §4.E: "coalesce to <= ~20 Hz"). hz <= 0 disables coalescing.
func WithProgressRate(hz float64) Option {
	return func(c *config) { c.progressHz = hz }
}

// defaultBL2LoadAddr is Amlogic S905's conventional BL2 SRAM load
// address, used unless WithDefaultBL2 overrides it.
const defaultBL2LoadAddr = 0xd9000000
