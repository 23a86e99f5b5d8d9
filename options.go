package seclink

import (
	"time"

	"github.com/nullvane/seclink/logging"
)

// MaxReadErrors bounds consecutive invalid-packet reads before the reader
// treats the connection as fatally broken (§7).
const MaxReadErrors = 5

// maxQueueCapacity bounds both the ManualRead FIFO and the pending-events
// queue used when no callback is registered.
const maxQueueCapacity = 20

// backpressureSleep is how long the reader yields when a delivery queue is
// full, per the spec's ~10ms choke signal.
const backpressureSleep = 10 * time.Millisecond

// pollInterval is the cooperative poll period used by ReadPacket, and by
// SendPacket and the reader loop while FlagIsBlocking is set.
const pollInterval = time.Millisecond

type config struct {
	maxKeyAge    time.Duration
	maxAgeSkew   time.Duration
	readTimeout  time.Duration
	writeTimeout time.Duration
	debug        bool
	executor     Executor
	logger       *logging.Logger
	initialFlags ConfigFlag
	now          func() time.Time
}

func defaultConfig() *config {
	return &config{
		maxKeyAge:    time.Hour,
		maxAgeSkew:   time.Minute,
		readTimeout:  500 * time.Millisecond,
		writeTimeout: 500 * time.Millisecond,
		executor:     inlineExecutor{},
		logger:       logging.New("seclink"),
		now:          time.Now,
	}
}

// Option configures a Connection at construction time.
type Option func(*config)

// WithMaxKeyAge overrides the default 1h rekey interval (5s under
// WithDebug).
func WithMaxKeyAge(d time.Duration) Option {
	return func(c *config) { c.maxKeyAge = d }
}

// WithMaxAgeSkew overrides the default 1-minute grace period allowed for
// a peer to complete a requested rekey.
func WithMaxAgeSkew(d time.Duration) Option {
	return func(c *config) { c.maxAgeSkew = d }
}

// WithReadTimeout overrides the default 500ms socket read deadline.
func WithReadTimeout(d time.Duration) Option {
	return func(c *config) { c.readTimeout = d }
}

// WithWriteTimeout overrides the default 500ms socket write deadline.
func WithWriteTimeout(d time.Duration) Option {
	return func(c *config) { c.writeTimeout = d }
}

// WithDebug shrinks max_key_age to 5s and extends the I/O timeouts to 10s,
// matching the spec's debug-build defaults.
func WithDebug() Option {
	return func(c *config) {
		c.debug = true
		c.maxKeyAge = 5 * time.Second
		c.readTimeout = 10 * time.Second
		c.writeTimeout = 10 * time.Second
	}
}

// WithExecutor supplies the cooperative dispatch context callbacks are
// trampolined through. Defaults to an inline executor.
func WithExecutor(e Executor) Option {
	return func(c *config) { c.executor = e }
}

// WithLogger overrides the default logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithInitialConfigFlags sets the configuration-flag bitset a Connection
// starts with, before any SetFlag/UnsetFlag calls.
func WithInitialConfigFlags(flags ConfigFlag) Option {
	return func(c *config) { c.initialFlags = flags }
}

// withClock overrides the time source used for last_handshake bookkeeping
// and expiry scheduling, for deterministic rekey-liveness tests. Not
// exported: it is a test-only seam, not a user-facing knob.
func withClock(now func() time.Time) Option {
	return func(c *config) { c.now = now }
}
