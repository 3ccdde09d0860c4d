package fast

import (
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/AustinTapp/FAST/log"
)

// StreamingMode defines how an output port retains unconsumed frames.
type StreamingMode int

const (
	// NewestFrameOnly keeps at most one pending frame per connection. A
	// newer frame replaces the unconsumed one and publish never blocks.
	NewestFrameOnly StreamingMode = iota
	// ProcessAllFrames keeps every frame in a FIFO bounded by the queue
	// depth. Publish blocks while any connection is full.
	ProcessAllFrames
	// StoreAllFrames keeps every frame in an unbounded FIFO.
	StoreAllFrames
)

var streamingModes = map[StreamingMode]string{
	NewestFrameOnly:  "newest_frame_only",
	ProcessAllFrames: "process_all_frames",
	StoreAllFrames:   "store_all_frames",
}

func (m StreamingMode) String() string {
	if s, ok := streamingModes[m]; ok {
		return s
	}
	return fmt.Sprintf("StreamingMode(%d)", int(m))
}

// ParseStreamingMode returns the mode for its name.
func ParseStreamingMode(s string) (StreamingMode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for m, name := range streamingModes {
		if name == s {
			return m, nil
		}
	}
	return 0, Configurationf("", "unknown streaming mode %q", s)
}

// DefaultQueueDepth is the buffer size of ProcessAllFrames ports.
const DefaultQueueDepth = 16

// Config is the runtime configuration of process objects.
type Config struct {
	StreamingMode StreamingMode
	QueueDepth    int
	Logger        logrus.FieldLogger
}

// Validate checks the config values.
func (c Config) Validate() error {
	if _, ok := streamingModes[c.StreamingMode]; !ok {
		return Configurationf("", "unknown streaming mode %d", int(c.StreamingMode))
	}
	if c.QueueDepth < 1 {
		return Configurationf("", "queue depth must be positive, got %d", c.QueueDepth)
	}
	return nil
}

var defaults = struct {
	sync.Mutex
	cfg    Config
	sealed bool
}{
	cfg: Config{
		StreamingMode: NewestFrameOnly,
		QueueDepth:    DefaultQueueDepth,
	},
}

// SetDefaultConfig replaces the config used by process objects
// constructed without WithConfig. It must be called before the first
// process object is constructed.
func SetDefaultConfig(c Config) error {
	if err := c.Validate(); err != nil {
		return err
	}
	defaults.Lock()
	defer defaults.Unlock()
	if defaults.sealed {
		return ErrConfigSealed
	}
	defaults.cfg = c
	return nil
}

// DefaultConfig returns the default config and seals it.
func DefaultConfig() Config {
	defaults.Lock()
	defer defaults.Unlock()
	defaults.sealed = true
	c := defaults.cfg
	if c.Logger == nil {
		c.Logger = log.GetLogger()
	}
	return c
}
