package endpoints

import (
	"pcmdenoise/denoise/engine"
	"pcmdenoise/denoise/metrics"
	"pcmdenoise/denoise/session"
)

// openSession creates and initializes a session for one stream.
func openSession(eng engine.Engine, endpoint string) (*session.Session, error) {
	s := session.New(eng)
	if err := s.Init(); err != nil {
		metrics.SessionInitErrors.WithLabelValues(eng.Name()).Inc()
		return nil, err
	}
	metrics.SessionsTotal.WithLabelValues(endpoint).Inc()
	metrics.SessionsActive.Inc()
	return s, nil
}

// closeSession closes a session returned by openSession, even one whose
// later re-Init failed.
func closeSession(s *session.Session) {
	if s == nil {
		return
	}
	s.Close()
	metrics.SessionsActive.Dec()
}
