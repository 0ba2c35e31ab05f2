// Package mixer blends audio inputs into a single encoded track.
//
// A mix is described by a typed Request (inputs with per-input gain, tempo and
// looping, plus the output format). Args is the only place that knows ffmpeg's
// argument and filter-graph syntax; FFmpeg runs the resulting command.
package mixer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// DurationMode decides how long the mixed output runs.
type DurationMode string

const (
	// DurationFirst ends the mix with the first input.
	DurationFirst DurationMode = "first"
	// DurationLongest ends the mix with the longest input.
	DurationLongest DurationMode = "longest"
	// DurationShortest ends the mix with the shortest input.
	DurationShortest DurationMode = "shortest"
)

// atempo accepts 0.5..2.0 on every ffmpeg release still in circulation.
const (
	minTempo = 0.5
	maxTempo = 2.0
)

// ErrInvalidRequest indicates a Request that cannot be translated into a mix.
var ErrInvalidRequest = errors.New("invalid mix request")

// Input is one audio source of a mix.
type Input struct {
	// Path is the source file.
	Path string

	// Gain is the linear volume multiplier (1.0 leaves the input untouched).
	Gain float64

	// Tempo speeds up or slows down the input without changing pitch.
	// Zero and 1.0 both mean unchanged.
	Tempo float64

	// Loop repeats the input indefinitely; pair it with DurationFirst or
	// DurationShortest on a non-looping input so the mix terminates.
	Loop bool

	// ResampleRate converts the input to this sample rate before mixing. Zero skips it.
	ResampleRate int
}

// Request describes a complete mix.
type Request struct {
	Inputs   []Input
	Duration DurationMode

	// DropoutTransition is the renormalisation time in seconds when an input ends.
	DropoutTransition int

	SampleRate int
	Bitrate    string // e.g. "192k"
	Channels   int

	// Output is the destination MP3 file.
	Output string
}

// Mixer renders a Request to its Output.
type Mixer interface {
	Mix(ctx context.Context, req Request) error
}

// Validate checks that the request is complete and within supported ranges.
func (r Request) Validate() error {
	if len(r.Inputs) == 0 {
		return fmt.Errorf("%w: no inputs", ErrInvalidRequest)
	}
	for i, in := range r.Inputs {
		if in.Path == "" {
			return fmt.Errorf("%w: input %d has no path", ErrInvalidRequest, i)
		}
		if in.Gain < 0 {
			return fmt.Errorf("%w: input %d gain %.2f is negative", ErrInvalidRequest, i, in.Gain)
		}
		if in.Tempo != 0 && (in.Tempo < minTempo || in.Tempo > maxTempo) {
			return fmt.Errorf("%w: input %d tempo %.2f outside [%.1f, %.1f]", ErrInvalidRequest, i, in.Tempo, minTempo, maxTempo)
		}
		if in.ResampleRate < 0 {
			return fmt.Errorf("%w: input %d resample rate is negative", ErrInvalidRequest, i)
		}
	}
	switch r.Duration {
	case DurationFirst, DurationLongest, DurationShortest:
	default:
		return fmt.Errorf("%w: unknown duration mode %q", ErrInvalidRequest, r.Duration)
	}
	if r.Duration == DurationLongest {
		for i, in := range r.Inputs {
			if in.Loop {
				return fmt.Errorf("%w: input %d loops forever with duration=longest", ErrInvalidRequest, i)
			}
		}
	}
	if r.DropoutTransition < 0 {
		return fmt.Errorf("%w: negative dropout transition", ErrInvalidRequest)
	}
	if r.SampleRate <= 0 || r.Channels <= 0 || r.Bitrate == "" {
		return fmt.Errorf("%w: output needs sample rate, channels and bitrate", ErrInvalidRequest)
	}
	if r.Output == "" {
		return fmt.Errorf("%w: no output path", ErrInvalidRequest)
	}
	return nil
}

// Args translates a Request into an ffmpeg argument list.
func Args(r Request) ([]string, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	args := []string{"-hide_banner", "-nostdin", "-loglevel", "error", "-y"}
	for _, in := range r.Inputs {
		if in.Loop {
			args = append(args, "-stream_loop", "-1")
		}
		args = append(args, "-i", in.Path)
	}

	args = append(args,
		"-filter_complex", FilterGraph(r),
		"-map", "["+outputLabel(r)+"]",
		"-ar", strconv.Itoa(r.SampleRate),
		"-ac", strconv.Itoa(r.Channels),
		"-b:a", r.Bitrate,
		"-f", "mp3",
		r.Output,
	)
	return args, nil
}

// FilterGraph renders the per-input chains and the amix stage. It assumes a valid request.
func FilterGraph(r Request) string {
	chains := make([]string, 0, len(r.Inputs)+1)
	var mixInputs strings.Builder
	for i, in := range r.Inputs {
		chains = append(chains, fmt.Sprintf("[%d:a]%s[a%d]", i, inputFilters(in), i))
		fmt.Fprintf(&mixInputs, "[a%d]", i)
	}
	if len(r.Inputs) > 1 {
		chains = append(chains, fmt.Sprintf("%samix=inputs=%d:duration=%s:dropout_transition=%d[mix]",
			mixInputs.String(), len(r.Inputs), r.Duration, r.DropoutTransition))
	}
	return strings.Join(chains, ";")
}

func inputFilters(in Input) string {
	var filters []string
	if in.ResampleRate > 0 {
		filters = append(filters, "aresample="+strconv.Itoa(in.ResampleRate))
	}
	if in.Tempo != 0 && in.Tempo != 1 {
		filters = append(filters, "atempo="+formatFloat(in.Tempo))
	}
	if in.Gain != 1 {
		filters = append(filters, "volume="+formatFloat(in.Gain))
	}
	if len(filters) == 0 {
		return "anull"
	}
	return strings.Join(filters, ",")
}

func outputLabel(r Request) string {
	if len(r.Inputs) == 1 {
		return "a0"
	}
	return "mix"
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
