package pipeline

import (
	msdk "github.com/livekit/media-sdk"
	"github.com/livekit/protocol/logger"

	"pcmdenoise/denoise/session"
)

type ChainConfig struct {
	Session *session.Session
	// Sink receives denoised mono PCM16 at its own SampleRate.
	Sink msdk.PCM16Writer
	// InputRate is the rate of samples written into the chain.
	InputRate int
	Log       logger.Logger
}

// BuildDenoiseChain returns the writer a stream pushes its mono samples into:
// resample to the engine rate -> session -> resample to the sink rate -> sink.
// Resampling stages are omitted when the rates already match.
func BuildDenoiseChain(cfg ChainConfig) (msdk.PCM16Writer, error) {
	if cfg.Session == nil {
		return nil, errInvalid("session")
	}
	if cfg.Sink == nil {
		return nil, errInvalid("sink")
	}
	if cfg.Session.State() != session.Ready {
		return nil, errInvalid("session state")
	}
	if cfg.InputRate <= 0 {
		cfg.InputRate = cfg.Session.Engine().SampleRate()
	}
	engineRate := cfg.Session.Engine().SampleRate()

	out := cfg.Sink
	if out.SampleRate() != engineRate {
		out = msdk.ResampleWriter(out, engineRate)
	}
	var w msdk.PCM16Writer = newDenoiseWriter(cfg.Session, out, cfg.Log)
	if cfg.InputRate != engineRate {
		w = msdk.ResampleWriter(w, cfg.InputRate)
	}
	if cfg.Log != nil {
		cfg.Log.Debugw("denoise chain built", "chain", w.String())
	}
	return w, nil
}

type invalidConfig struct {
	field string
}

func (e invalidConfig) Error() string {
	return "invalid " + e.field
}

func errInvalid(field string) error {
	return invalidConfig{field: field}
}
