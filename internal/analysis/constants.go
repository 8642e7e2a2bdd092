package analysis

const (
	// MaxStringLength caps the display form of string and byte[] values.
	MaxStringLength = 256

	// MaxArgs is the most arguments a call finding reports.
	MaxArgs = 16
)
