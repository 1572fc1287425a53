package ratectl

import "time"

// Tunable constants fixed by the spec this controller implements. These
// values must be preserved bit-for-bit to stay behaviorally compatible with
// the stream this replaces — they are not configuration.
const (
	MinFPS = 1
	MaxFPS = 25

	// AvgWindow bounds the moving-sum window used for fps re-evaluation.
	AvgWindow = 3

	// fpsAdjustCadence is the minimum interval between periodic
	// adjusted-fps recalibrations.
	fpsAdjustCadence = 500 * time.Millisecond

	// warmupDuration suppresses decrease_bit_rate for this long after
	// construction.
	warmupDuration = 3 * time.Second

	// dropFactorThreshold is the server-side drop ratio above which a
	// bit-rate decrease is triggered.
	dropFactorThreshold = 0.1

	// positive-report stability timeouts.
	positiveTimeoutShort = 2000 // ms
	positiveTimeoutLong  = 3000 // ms

	// maxPlaybackDelayMS bounds the computed client playback delay.
	maxPlaybackDelayMS = 5000

	// videoDelayNegativeThresholdMS below which a client report is treated
	// as negative regardless of other signals.
	videoDelayNegativeThresholdMS = -15

	// audio/video skew detection factors.
	audioDelayMaxFactor = 0.5
	videoAudioSkewRatio = 1.25
)

// EvalType identifies why a quality-evaluation round is running.
type EvalType int

const (
	EvalSet EvalType = iota
	EvalUpgrade
	EvalDowngrade
)

func (t EvalType) String() string {
	switch t {
	case EvalSet:
		return "SET"
	case EvalUpgrade:
		return "UPGRADE"
	case EvalDowngrade:
		return "DOWNGRADE"
	default:
		return "UNKNOWN"
	}
}

// EvalReason records what triggered the current quality-evaluation round.
type EvalReason int

const (
	ReasonSizeChange EvalReason = iota
	ReasonRateChange
)

func (r EvalReason) String() string {
	if r == ReasonRateChange {
		return "RATE_CHANGE"
	}
	return "SIZE_CHANGE"
}

// QualityEval holds the state of an in-flight probing round that samples
// encoded frame size across quality ids to pick the next operating point.
type QualityEval struct {
	Type   EvalType
	Reason EvalReason

	// EncodedSizeByQuality is zero for ids not yet sampled this round.
	EncodedSizeByQuality [NumQualityIDs]uint64

	MinQualityID  int
	MinQualityFPS int
	MaxQualityID  int
	MaxQualityFPS int

	MaxSampledFPS          float64
	MaxSampledFPSQualityID int
}

// resetDefaults restores the boundary values a completed/aborted round
// leaves behind: the widest possible operating range.
func (qe *QualityEval) resetDefaults() {
	*qe = QualityEval{
		MaxQualityID:  MaxQualityID,
		MaxQualityFPS: MaxFPS,
	}
}

// BitRateInfo accumulates encoded-frame statistics since the last bit-rate
// change, used by increase_bit_rate/decrease_bit_rate to measure the
// achieved rate.
type BitRateInfo struct {
	ChangeStartTime   time.Time
	ChangeStartMMTime MMTime // 0 means unset
	LastFrameTime     time.Time
	NumEncFrames      int
	SumEncSize        uint64
	WasUpgraded       bool
}

func (bi *BitRateInfo) reset() {
	*bi = BitRateInfo{}
}

// ClientState tracks the maxima observed since the last bit-rate decrement.
type ClientState struct {
	MaxVideoLatency float64
	MaxAudioLatency float64
}

// ServerState tracks local encode/drop accounting for process_server_drops.
type ServerState struct {
	NumFramesEncoded int
	NumFramesDropped int
}

func (s *ServerState) reset() {
	s.NumFramesEncoded = 0
	s.NumFramesDropped = 0
}

// Controller holds all adaptive rate-control state for one stream. It is
// not safe for concurrent use: callers serialize access, exactly as the
// single-threaded cooperative model in the spec requires.
type Controller struct {
	clock     Clock
	callbacks Callbacks

	qualityID   int
	fps         int
	adjustedFPS float64
	byteRate    uint64

	baseEncSize uint64
	lastEncSize uint64

	sumRecentEncSize    uint64
	numRecentEncFrames  int
	adjustedFPSStart    time.Time
	adjustedFPSNumFrame int

	warmupStart time.Time

	duringQualityEval bool
	qualityEval       QualityEval

	bitRateInfo BitRateInfo
	clientState ClientState
	serverState ServerState

	// stats accumulation for Stats().
	startingBitRate uint64
	statsNumFrames  uint64
	statsSumQuality uint64
}

// New creates a Controller with the given starting bit rate in bits/sec,
// installs the median quality id and fps=5, and arms the initial SET probe
// that the first real frame will step through.
func New(startingBitRateBps uint64, callbacks Callbacks) *Controller {
	return newController(SystemClock, startingBitRateBps, callbacks)
}

func newController(clock Clock, startingBitRateBps uint64, callbacks Callbacks) *Controller {
	c := &Controller{
		clock:           clock,
		callbacks:       callbacks,
		qualityID:       MedianQualityID,
		fps:             5,
		byteRate:        startingBitRateBps / 8,
		startingBitRate: startingBitRateBps,
		warmupStart:     clock.Now(),
	}
	c.adjustedFPS = 1.5 * float64(c.fps)
	c.qualityEval.resetDefaults()
	c.qualityEval.Type = EvalSet
	c.qualityEval.Reason = ReasonRateChange
	c.duringQualityEval = true
	return c
}

// QualityID returns the currently selected quality id (0..6).
func (c *Controller) QualityID() int { return c.qualityID }

// FPS returns the current target frame rate.
func (c *Controller) FPS() int { return c.fps }

// AdjustedFPS returns the internal pacing rate used by the admission gate.
func (c *Controller) AdjustedFPS() float64 { return c.adjustedFPS }

// ByteRate returns the current bandwidth estimate in bytes/sec.
func (c *Controller) ByteRate() uint64 { return c.byteRate }

// BitRate returns the current bandwidth estimate in bits/sec, per
// get_bit_rate in the spec.
func (c *Controller) BitRate() uint64 { return c.byteRate * 8 }

// Stats is the result of get_stats().
type Stats struct {
	StartingBitRate uint64
	CurrentBitRate  uint64
	AvgQuality      float64
}

// Stats returns {starting_bit_rate, current_bit_rate, avg_quality}.
func (c *Controller) Stats() Stats {
	avg := 0.0
	if c.statsNumFrames > 0 {
		avg = float64(c.statsSumQuality) / float64(c.statsNumFrames)
	}
	return Stats{
		StartingBitRate: c.startingBitRate,
		CurrentBitRate:  c.BitRate(),
		AvgQuality:      avg,
	}
}
