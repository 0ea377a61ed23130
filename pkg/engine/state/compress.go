package state

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// compressionMinBytes is the smallest payload adaptive compression will
// even attempt; below this, zstd's frame overhead dominates any savings.
const compressionMinBytes = 512

// compressionBenefitFloor is the minimum trailing compression ratio (1 -
// compressed/raw) required to keep compressing. Once the rolling average
// drops below this, the compressor backs off until state shape changes
// enough to justify trying again.
const compressionBenefitFloor = 0.10

// Compressor wraps zstd encode/decode with an adaptive policy: it tracks a
// rolling average of the space saved on recent State snapshots and stops
// compressing once that average falls below compressionBenefitFloor,
// avoiding CPU spend on state that's already small or incompressible.
type Compressor struct {
	mu      sync.Mutex
	enc     *zstd.Encoder
	dec     *zstd.Decoder
	ratios  []float64
	window  int
	enabled bool
	skipped int
}

// NewCompressor builds a Compressor with a rolling window of the given
// size (number of recent Marshal calls averaged to decide on/off).
func NewCompressor(window int) (*Compressor, error) {
	if window <= 0 {
		window = 20
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("state: init zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("state: init zstd decoder: %w", err)
	}
	return &Compressor{enc: enc, dec: dec, window: window, enabled: true}, nil
}

// Close releases the underlying zstd resources.
func (c *Compressor) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enc.Close()
	c.dec.Close()
}

// MarshalState serializes and, if the adaptive policy currently favors it,
// compresses s's envelope. The returned bool reports whether compression
// was applied, so callers can tag the bytes accordingly (see checkpoint
// package's Compressed field).
func (c *Compressor) MarshalState(s *State) ([]byte, bool, error) {
	raw, err := s.Marshal()
	if err != nil {
		return nil, false, err
	}

	if len(raw) < compressionMinBytes {
		return raw, false, nil
	}

	// While backed off, probe once per window so compression can recover
	// when the state's shape changes.
	c.mu.Lock()
	attempt := c.enabled
	if !attempt {
		c.skipped++
		if c.skipped >= c.window {
			c.skipped = 0
			attempt = true
		}
	}
	c.mu.Unlock()
	if !attempt {
		return raw, false, nil
	}

	compressed := c.enc.EncodeAll(raw, nil)
	ratio := 1 - float64(len(compressed))/float64(len(raw))

	c.mu.Lock()
	c.recordRatio(ratio)
	c.mu.Unlock()

	if ratio < compressionBenefitFloor {
		return raw, false, nil
	}
	return compressed, true, nil
}

// UnmarshalState reverses MarshalState given whether the payload was
// compressed.
func (c *Compressor) UnmarshalState(data []byte, compressed bool) (*State, error) {
	if !compressed {
		return Unmarshal(data)
	}
	raw, err := c.dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("state: zstd decode: %w", err)
	}
	return Unmarshal(raw)
}

// recordRatio folds ratio into the rolling window and flips enabled off
// once the trailing average drops below the benefit floor, on again once
// it recovers. Must be called with c.mu held.
func (c *Compressor) recordRatio(ratio float64) {
	c.ratios = append(c.ratios, ratio)
	if len(c.ratios) > c.window {
		c.ratios = c.ratios[len(c.ratios)-c.window:]
	}
	var sum float64
	for _, r := range c.ratios {
		sum += r
	}
	avg := sum / float64(len(c.ratios))
	c.enabled = avg >= compressionBenefitFloor
}

// AverageRatio returns the current rolling-average compression ratio,
// mostly useful for metrics and tests.
func (c *Compressor) AverageRatio() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.ratios) == 0 {
		return 0
	}
	var sum float64
	for _, r := range c.ratios {
		sum += r
	}
	return sum / float64(len(c.ratios))
}
