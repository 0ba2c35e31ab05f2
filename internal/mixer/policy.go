package mixer

import "github.com/nadzzz/serenity/internal/config"

// Policy is the meditation mixing recipe: speech on top, ambiance looped
// underneath, output as long as the speech.
type Policy struct {
	SpeechGain         float64
	SpeechTempo        float64
	AmbianceGain       float64
	AmbianceSampleRate int
	SampleRate         int
	Bitrate            string
	Channels           int
	DropoutTransition  int
}

// DefaultPolicy returns the recipe used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		SpeechGain:         1.8,
		SpeechTempo:        1.0,
		AmbianceGain:       0.15,
		AmbianceSampleRate: 48000,
		SampleRate:         48000,
		Bitrate:            "192k",
		Channels:           2,
		DropoutTransition:  2,
	}
}

// PolicyFromConfig builds a Policy from mixer settings.
func PolicyFromConfig(cfg config.MixerConfig) Policy {
	return Policy{
		SpeechGain:         cfg.SpeechGain,
		SpeechTempo:        cfg.SpeechTempo,
		AmbianceGain:       cfg.AmbianceGain,
		AmbianceSampleRate: cfg.AmbianceSampleRate,
		SampleRate:         cfg.SampleRate,
		Bitrate:            cfg.Bitrate,
		Channels:           cfg.Channels,
		DropoutTransition:  cfg.DropoutTransition,
	}
}

// Request builds the mix of a speech track over a looped ambiance track.
func (p Policy) Request(speech, ambiance, output string) Request {
	return Request{
		Inputs: []Input{
			{Path: speech, Gain: p.SpeechGain, Tempo: p.SpeechTempo},
			{Path: ambiance, Gain: p.AmbianceGain, Loop: true, ResampleRate: p.AmbianceSampleRate},
		},
		Duration:          DurationFirst,
		DropoutTransition: p.DropoutTransition,
		SampleRate:        p.SampleRate,
		Bitrate:           p.Bitrate,
		Channels:          p.Channels,
		Output:            output,
	}
}
