package denoise

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"pcmdenoise/denoise/endpoints"
	"pcmdenoise/denoise/engine"
	"pcmdenoise/denoise/pcm"
)

type Service struct {
	cfg    Config
	eng    engine.Engine
	logger *slog.Logger
}

// NewService resolves the configured engine. Sessions are created per stream
// by the endpoints.
func NewService(cfg Config, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	eng, err := engine.Lookup(cfg.Engine, cfg.EngineOptions)
	if err != nil {
		if errors.Is(err, engine.ErrUnavailable) {
			return nil, fmt.Errorf("engine %q: %w (build with -tags rnnoise, or set type: gate)", cfg.Engine, err)
		}
		return nil, &ConfigError{Field: "type", Reason: err.Error()}
	}
	return &Service{cfg: cfg, eng: eng, logger: logger}, nil
}

func (s *Service) Engine() engine.Engine { return s.eng }

// Run serves the configured mode until ctx is done or the stream ends.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info("denoise service starting",
		"mode", s.cfg.Mode,
		"engine", s.eng.Name(),
		"frame_size", s.eng.FrameSize(),
		"engine_rate", s.eng.SampleRate(),
		"latency", pcm.AudioFormat{SampleRate: s.eng.SampleRate()}.Duration(s.eng.FrameSize()),
		"comment", s.cfg.Comment,
	)

	switch s.cfg.Mode {
	case ModeFile:
		return endpoints.RunFile(ctx, endpoints.FileConfig{
			Engine:       s.eng,
			SourcePath:   s.cfg.SourcePath,
			SourceFormat: s.cfg.SourceFormat,
			SlavePath:    s.cfg.SlavePath,
			SlaveFormat:  s.cfg.SlaveFormat,
			Raw:          s.cfg.Audio,
			Logger:       s.logger,
		})
	case ModeRTP:
		ep, err := endpoints.ListenRTP(endpoints.RTPConfig{
			Engine:   s.eng,
			Listen:   s.cfg.SourceListen,
			Slave:    s.cfg.SlaveAddress,
			Encoding: s.cfg.RTPEncoding,
			Jitter:   s.cfg.RTPJitter,
			Logger:   s.logger,
		})
		if err != nil {
			return err
		}
		s.logger.Info("rtp endpoint listening", "addr", ep.LocalAddr().String(), "slave", s.cfg.SlaveAddress, "encoding", s.cfg.RTPEncoding)
		return ep.Run(ctx)
	case ModeWebSocket:
		return s.serveWebSocket(ctx)
	default:
		return &ConfigError{Field: "mode", Reason: fmt.Sprintf("unsupported mode %q", s.cfg.Mode)}
	}
}

func (s *Service) serveWebSocket(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/ws", endpoints.NewWSHandler(endpoints.WSConfig{
		Engine:      s.eng,
		SampleRate:  s.cfg.Audio.SampleRate,
		MaxSessions: s.cfg.WSMaxSessions,
		Logger:      s.logger,
	}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{Addr: s.cfg.WSListen, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.logger.Info("websocket endpoint listening", "addr", s.cfg.WSListen, "max_sessions", s.cfg.WSMaxSessions)

	select {
	case err := <-errCh:
		return fmt.Errorf("websocket server: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("websocket shutdown: %w", err)
	}
	return nil
}
