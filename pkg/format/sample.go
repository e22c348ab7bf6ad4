package format

import "fmt"

// SampleFormat identifies the encoding of a single interleaved sample
type SampleFormat int

const (
	Unsupported SampleFormat = iota
	S16
	S24
	S32
	F32
	F64
)

var sampleFormatNames = map[SampleFormat]string{
	Unsupported: "unsupported",
	S16:         "s16",
	S24:         "s24",
	S32:         "s32",
	F32:         "f32",
	F64:         "f64",
}

func (f SampleFormat) String() string {
	if name, ok := sampleFormatNames[f]; ok {
		return name
	}
	return fmt.Sprintf("SampleFormat(%d)", int(f))
}

// Size returns the width of one sample in bytes, 0 for Unsupported
func (f SampleFormat) Size() int {
	switch f {
	case S16:
		return 2
	case S24:
		return 3
	case S32, F32:
		return 4
	case F64:
		return 8
	}
	return 0
}

// Bits returns the width of one sample in bits
func (f SampleFormat) Bits() int {
	return f.Size() * 8
}

// IsFloat reports whether samples are IEEE floating point
func (f SampleFormat) IsFloat() bool {
	return f == F32 || f == F64
}

// Supported reports whether the format can be converted
func (f SampleFormat) Supported() bool {
	return f.Size() > 0
}

// MaxMagnitude returns the symmetric scale used to map samples into
// [-1.0, 1.0). Integer formats use 2^(bits-1) so that a decode followed by
// an encode is exact; float formats use 1.0.
func (f SampleFormat) MaxMagnitude() float64 {
	switch f {
	case S16:
		return 32768.0
	case S24:
		return 8388608.0
	case S32:
		return 2147483648.0
	case F32, F64:
		return 1.0
	}
	return 0
}

// SampleFormatFromBits maps a container width and encoding to a sample format
func SampleFormatFromBits(bits int, float bool) SampleFormat {
	if float {
		switch bits {
		case 32:
			return F32
		case 64:
			return F64
		}
		return Unsupported
	}
	switch bits {
	case 16:
		return S16
	case 24:
		return S24
	case 32:
		return S32
	}
	return Unsupported
}

// ParseSampleFormat parses names such as "s16", "f32" or "float64"
func ParseSampleFormat(name string) (SampleFormat, error) {
	switch name {
	case "s16", "int16", "16":
		return S16, nil
	case "s24", "int24", "24":
		return S24, nil
	case "s32", "int32", "32":
		return S32, nil
	case "f32", "float32", "float":
		return F32, nil
	case "f64", "float64", "double":
		return F64, nil
	}
	return Unsupported, fmt.Errorf("unknown sample format: %q", name)
}

// RequiredBufferSize returns the number of bytes needed to hold frames of
// channels interleaved samples in format f
func RequiredBufferSize(frames, channels int, f SampleFormat) int {
	if frames <= 0 || channels <= 0 {
		return 0
	}
	return frames * channels * f.Size()
}
