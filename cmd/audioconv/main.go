package main

import (
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/dougsko/audiohook/pkg/format"
)

func main() {
	var (
		input    = flag.String("in", "", "Input file (raw interleaved PCM, or .wav)")
		output   = flag.String("out", "", "Output file (raw, or .wav for integer formats)")
		from     = flag.String("from", "", "Input sample format for raw input (s16, s24, s32, f32, f64)")
		to       = flag.String("to", "", "Output sample format (s16, s24, s32, f32, f64)")
		channels = flag.Int("channels", 2, "Channel count for raw input")
		rate     = flag.Int("rate", 48000, "Sample rate for raw input")
	)
	flag.Parse()

	if *input == "" || *output == "" || *to == "" {
		fmt.Fprintf(os.Stderr, "Usage: %s -in capture.raw -from f32 -to s16 -out capture.wav [options]\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(1)
	}

	dst, err := format.ParseSampleFormat(strings.ToLower(*to))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid output format: %v\n", err)
		os.Exit(1)
	}

	in, err := os.Open(*input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open input: %v\n", err)
		os.Exit(1)
	}
	defer in.Close()

	var (
		reader io.Reader = in
		src    format.SampleFormat
	)
	if isWav(*input) {
		w, err := openWav(in)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read WAV input: %v\n", err)
			os.Exit(1)
		}
		reader, src, *channels, *rate = w, w.format, w.channels, w.rate
	} else {
		if *from == "" {
			fmt.Fprintf(os.Stderr, "Raw input needs -from\n")
			os.Exit(1)
		}
		src, err = format.ParseSampleFormat(strings.ToLower(*from))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid input format: %v\n", err)
			os.Exit(1)
		}
	}

	out, err := os.Create(*output)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create output file: %v\n", err)
		os.Exit(1)
	}
	defer out.Close()

	emit := func(b []byte) error {
		_, err := out.Write(b)
		return err
	}
	var wavOut *wavOutput
	if isWav(*output) {
		wavOut, err = newWavOutput(out, dst, *channels, *rate)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
		emit = wavOut.write
	}

	fmt.Printf("Converting %s\n", *input)
	fmt.Printf("  From:     %s, %d channels, %d Hz\n", src, *channels, *rate)
	fmt.Printf("  To:       %s\n", dst)
	fmt.Printf("\n")

	st, err := convertStream(reader, emit, *channels, src, dst)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Conversion failed: %v\n", err)
		os.Exit(1)
	}
	if wavOut != nil {
		if err := wavOut.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to finish WAV file: %v\n", err)
			os.Exit(1)
		}
	}

	peakDB := -100.0
	if st.Peak > 0 {
		peakDB = 20 * math.Log10(st.Peak)
	}

	fmt.Printf("✓ Converted %d frames (%.2f seconds)\n", st.Frames, float64(st.Frames)/float64(*rate))
	fmt.Printf("  Peak:     %.1f dBFS\n", peakDB)
	fmt.Printf("  Clipped:  %d samples\n", st.Clip)
	fmt.Printf("✓ Wrote %s\n", *output)
	if !isWav(*output) {
		fmt.Printf("  Play with: sox -r %d -e %s -b %d -c %d -t raw %s -d\n",
			*rate, soxEncoding(dst), dst.Bits(), *channels, *output)
	}
}

func isWav(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".wav")
}

func soxEncoding(f format.SampleFormat) string {
	if f.IsFloat() {
		return "floating-point"
	}
	return "signed"
}
