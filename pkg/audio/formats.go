package audio

// Format constants shared by the capture, pipeline and transport layers.
const (
	// Capture side. 48 kHz is the usual native rate of desktop capture
	// devices; nothing downstream assumes it.
	DefaultNativeRate = 48_000 // Hz
	DefaultBlockSize  = 512    // native-rate samples per callback

	// Pipeline output.
	DefaultTargetRate = 24_000               // Hz
	DefaultFrameSize  = 256                  // target-rate samples per frame
	FrameBytes        = DefaultFrameSize * 2 // 16-bit PCM
)
