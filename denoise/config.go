package denoise

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"pcmdenoise/denoise/endpoints"
	"pcmdenoise/denoise/engine"
	"pcmdenoise/denoise/pcm"
)

const (
	defaultMode        = ModeFile
	defaultSampleRate  = 48000
	defaultChannels    = 1
	defaultPeriodMs    = 10
	defaultMaxSessions = 64
	defaultWSListen    = ":8080"
	defaultRTPEncoding = pcm.EncodingULaw
)

type Mode string

const (
	ModeFile      Mode = "file"
	ModeRTP       Mode = "rtp"
	ModeWebSocket Mode = "websocket"
)

// ConfigError reports an invalid or missing configuration value.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "config: " + e.Reason
	}
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

func configErr(field, format string, args ...any) error {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

type Config struct {
	Engine  string
	Comment string
	Mode    Mode

	Audio pcm.AudioFormat

	SourcePath   string
	SourceFormat endpoints.FileFormat
	SourceListen string

	SlavePath    string
	SlaveFormat  endpoints.FileFormat
	SlaveAddress string
	// RTPEncoding is the G.711 law used on both RTP legs.
	RTPEncoding pcm.Encoding
	RTPJitter   bool

	EngineOptions engine.Options

	WSListen      string
	WSMaxSessions int

	MetricsListen string
	LogLevel      slog.Level
}

type yamlConfig struct {
	Type    string `yaml:"type"`
	Comment string `yaml:"comment"`
	Mode    string `yaml:"mode"`
	Audio   struct {
		SampleRate int `yaml:"sample_rate"`
		Channels   int `yaml:"channels"`
		PeriodMs   int `yaml:"period_ms"`
	} `yaml:"audio"`
	Source struct {
		Path   string `yaml:"path"`
		Format string `yaml:"format"`
		Listen string `yaml:"listen"`
		Jitter bool   `yaml:"jitter"`
	} `yaml:"source"`
	Slave *struct {
		Path    string `yaml:"path"`
		Format  string `yaml:"format"`
		Address string `yaml:"address"`
	} `yaml:"slave"`
	Gate struct {
		ThresholdDB float64 `yaml:"threshold_db"`
		RangeDB     float64 `yaml:"range_db"`
		ReleaseMs   float64 `yaml:"release_ms"`
		HighpassHz  float64 `yaml:"highpass_hz"`
	} `yaml:"gate"`
	Passthrough struct {
		FrameSize  int `yaml:"frame_size"`
		SampleRate int `yaml:"sample_rate"`
	} `yaml:"passthrough"`
	WebSocket struct {
		Listen      string `yaml:"listen"`
		MaxSessions int    `yaml:"max_sessions"`
	} `yaml:"websocket"`
	Metrics struct {
		Listen string `yaml:"listen"`
	} `yaml:"metrics"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes and validates a YAML config. Unknown keys are rejected.
func ParseConfig(data []byte) (Config, error) {
	cfg := Config{
		Mode: defaultMode,
		Audio: pcm.AudioFormat{
			SampleRate: defaultSampleRate,
			Channels:   defaultChannels,
			FrameDur:   defaultPeriodMs * time.Millisecond,
		},
		RTPEncoding:   defaultRTPEncoding,
		WSListen:      defaultWSListen,
		WSMaxSessions: defaultMaxSessions,
		LogLevel:      slog.LevelInfo,
	}

	var yc yamlConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&yc); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, &ConfigError{Reason: err.Error()}
	}

	cfg.Engine = strings.ToLower(yc.Type)
	if cfg.Engine == "" {
		cfg.Engine = "rnnoise"
	}
	cfg.Comment = yc.Comment

	if yc.Mode != "" {
		cfg.Mode = Mode(strings.ToLower(yc.Mode))
	}
	switch cfg.Mode {
	case ModeFile, ModeRTP, ModeWebSocket:
	default:
		return Config{}, configErr("mode", "must be 'file', 'rtp' or 'websocket', got %q", yc.Mode)
	}

	// Audio
	if yc.Audio.SampleRate < 0 {
		return Config{}, configErr("audio.sample_rate", "must be positive")
	}
	if yc.Audio.SampleRate > 0 {
		cfg.Audio.SampleRate = yc.Audio.SampleRate
	}
	if yc.Audio.Channels < 0 {
		return Config{}, configErr("audio.channels", "must be positive")
	}
	if yc.Audio.Channels > 0 {
		cfg.Audio.Channels = yc.Audio.Channels
	}
	if yc.Audio.PeriodMs < 0 {
		return Config{}, configErr("audio.period_ms", "must be positive")
	}
	if yc.Audio.PeriodMs > 0 {
		cfg.Audio.FrameDur = time.Duration(yc.Audio.PeriodMs) * time.Millisecond
	}

	// Engine knobs
	cfg.EngineOptions = engine.Options{
		FrameSize:  yc.Passthrough.FrameSize,
		SampleRate: yc.Passthrough.SampleRate,
		Gate: engine.GateOptions{
			ThresholdDB: yc.Gate.ThresholdDB,
			RangeDB:     yc.Gate.RangeDB,
			ReleaseMs:   yc.Gate.ReleaseMs,
			HighpassHz:  yc.Gate.HighpassHz,
		},
	}

	// Source / slave
	switch cfg.Mode {
	case ModeFile:
		if yc.Source.Path == "" {
			return Config{}, configErr("source.path", "is required in file mode (use '-' for stdin)")
		}
		cfg.SourcePath = yc.Source.Path
		f, err := endpoints.ParseFileFormat(yc.Source.Format, yc.Source.Path)
		if err != nil {
			return Config{}, configErr("source.format", "%v", err)
		}
		cfg.SourceFormat = f

		if yc.Slave == nil || yc.Slave.Path == "" {
			return Config{}, configErr("slave.path", "is required in file mode (use '-' for stdout)")
		}
		cfg.SlavePath = yc.Slave.Path
		f, err = endpoints.ParseFileFormat(yc.Slave.Format, yc.Slave.Path)
		if err != nil {
			return Config{}, configErr("slave.format", "%v", err)
		}
		cfg.SlaveFormat = f

	case ModeRTP:
		if yc.Source.Listen == "" {
			return Config{}, configErr("source.listen", "is required in rtp mode")
		}
		cfg.SourceListen = yc.Source.Listen
		if yc.Slave == nil || yc.Slave.Address == "" {
			return Config{}, configErr("slave.address", "is required in rtp mode")
		}
		cfg.SlaveAddress = yc.Slave.Address
		if yc.Source.Format != "" {
			enc, err := pcm.ParseEncoding(yc.Source.Format)
			if err != nil {
				return Config{}, configErr("source.format", "%v", err)
			}
			if enc == pcm.EncodingS16LE {
				return Config{}, configErr("source.format", "rtp carries only ulaw or alaw")
			}
			cfg.RTPEncoding = enc
		}
		cfg.RTPJitter = yc.Source.Jitter

	case ModeWebSocket:
		if yc.WebSocket.Listen != "" {
			cfg.WSListen = yc.WebSocket.Listen
		}
		if yc.WebSocket.MaxSessions < 0 {
			return Config{}, configErr("websocket.max_sessions", "must be positive")
		}
		if yc.WebSocket.MaxSessions > 0 {
			cfg.WSMaxSessions = yc.WebSocket.MaxSessions
		}
	}

	cfg.MetricsListen = yc.Metrics.Listen

	if yc.Log.Level != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(yc.Log.Level)); err != nil {
			return Config{}, configErr("log.level", "%v", err)
		}
	}

	return cfg, nil
}
