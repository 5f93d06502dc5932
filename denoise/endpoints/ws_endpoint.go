package endpoints

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"
	msdk "github.com/livekit/media-sdk"
	"github.com/livekit/protocol/logger"

	"pcmdenoise/denoise/engine"
	"pcmdenoise/denoise/metrics"
	"pcmdenoise/denoise/pcm"
	"pcmdenoise/denoise/pipeline"
	"pcmdenoise/denoise/session"
)

const wsEndpoint = "websocket"

// Client sample rates accepted by the resampler.
const (
	minSampleRate = 8000
	maxSampleRate = 192000
)

func validRate(rate int) error {
	if rate < minSampleRate || rate > maxSampleRate {
		return fmt.Errorf("sample_rate %d out of range [%d, %d]", rate, minSampleRate, maxSampleRate)
	}
	return nil
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  16384,
	WriteBufferSize: 16384,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type WSConfig struct {
	Engine engine.Engine
	// SampleRate of client audio unless overridden by ?sample_rate= or a
	// control message.
	SampleRate  int
	MaxSessions int
	Logger      *slog.Logger
}

// WSHandler denoises binary PCM16LE mono messages and sends the result back
// on the same connection. Each connection owns one session.
type WSHandler struct {
	cfg WSConfig
	sem chan struct{}
}

func NewWSHandler(cfg WSConfig) *WSHandler {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 64
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = cfg.Engine.SampleRate()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &WSHandler{cfg: cfg, sem: make(chan struct{}, cfg.MaxSessions)}
}

// controlMessage is a text frame from the client. Any control message
// re-initializes the session; sample_rate also changes the stream rate.
type controlMessage struct {
	SampleRate int  `json:"sample_rate"`
	Reset      bool `json:"reset"`
}

type statusMessage struct {
	Type       string `json:"type"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Latency    int    `json:"latency_samples,omitempty"`
	Engine     string `json:"engine,omitempty"`
	Error      string `json:"error,omitempty"`
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case h.sem <- struct{}{}:
		defer func() { <-h.sem }()
	default:
		http.Error(w, "at capacity", http.StatusServiceUnavailable)
		return
	}

	rate := h.cfg.SampleRate
	if v := r.URL.Query().Get("sample_rate"); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			err = validRate(n)
		}
		if err != nil {
			http.Error(w, "bad sample_rate: "+err.Error(), http.StatusBadRequest)
			return
		}
		rate = n
	}
	if err := validRate(rate); err != nil {
		h.cfg.Logger.Error("websocket default rate rejected", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.cfg.Logger.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	log := h.cfg.Logger.With("remote", r.RemoteAddr)
	if err := h.run(conn, rate, log); err != nil {
		metrics.EndpointErrors.WithLabelValues(wsEndpoint).Inc()
		log.Warn("websocket stream ended with error", "error", err)
	}
}

type wsStream struct {
	conn  *websocket.Conn
	sess  *session.Session
	rate  int
	chain msdk.PCM16Writer
	align *pcm.SampleAligner
	in    msdk.PCM16Sample
}

func (h *WSHandler) run(conn *websocket.Conn, rate int, log *slog.Logger) error {
	sess, err := openSession(h.cfg.Engine, wsEndpoint)
	if err != nil {
		h.sendStatus(conn, statusMessage{Type: "error", Error: err.Error()})
		return err
	}
	defer closeSession(sess)

	st := &wsStream{conn: conn, sess: sess, align: pcm.NewSampleAligner(2)}
	if err := st.rebuild(rate); err != nil {
		return err
	}
	defer func() {
		if st.chain != nil {
			st.chain.Close()
		}
	}()

	log.Info("websocket stream started", "sample_rate", rate, "engine", sess.Engine().Name())
	h.sendStatus(conn, st.status())

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Info("websocket stream closed", "frames", sess.FramesProcessed(), "samples", sess.SamplesTransferred())
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}

		switch msgType {
		case websocket.BinaryMessage:
			b := st.align.Push(data)
			if len(b) == 0 {
				continue
			}
			st.in = pcm.PCM16BytesToSample(st.in, b)
			if err := st.chain.WriteSample(st.in); err != nil {
				return err
			}
		case websocket.TextMessage:
			var msg controlMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				h.sendStatus(conn, statusMessage{Type: "error", Error: "bad control message: " + err.Error()})
				continue
			}
			if msg.SampleRate == 0 {
				msg.SampleRate = st.rate
			}
			if err := validRate(msg.SampleRate); err != nil {
				h.sendStatus(conn, statusMessage{Type: "error", Error: err.Error()})
				continue
			}
			if n := st.align.Pending(); n > 0 {
				log.Debug("dropping partial sample on reset", "bytes", n)
			}
			if err := st.chain.Close(); err != nil {
				log.Debug("closing previous chain", "error", err)
			}
			st.chain = nil
			if err := sess.Init(); err != nil {
				metrics.SessionInitErrors.WithLabelValues(sess.Engine().Name()).Inc()
				h.sendStatus(conn, statusMessage{Type: "error", Error: err.Error()})
				return err
			}
			if err := st.rebuild(msg.SampleRate); err != nil {
				return err
			}
			log.Info("websocket stream reset", "sample_rate", st.rate)
			h.sendStatus(conn, st.status())
		}
	}
}

func (st *wsStream) rebuild(rate int) error {
	st.align.Reset()
	chain, err := pipeline.BuildDenoiseChain(pipeline.ChainConfig{
		Session:   st.sess,
		Sink:      &wsSink{conn: st.conn, rate: rate},
		InputRate: rate,
		Log:       logger.GetLogger(),
	})
	if err != nil {
		return err
	}
	st.chain = chain
	st.rate = rate
	return nil
}

func (st *wsStream) status() statusMessage {
	return statusMessage{
		Type:       "ready",
		SampleRate: st.rate,
		Latency:    st.sess.Latency(),
		Engine:     st.sess.Engine().Name(),
	}
}

func (h *WSHandler) sendStatus(conn *websocket.Conn, msg statusMessage) {
	if err := conn.WriteJSON(msg); err != nil {
		h.cfg.Logger.Debug("websocket status write failed", "error", err)
	}
}

// wsSink sends each chunk as one binary message. The connection is owned by
// the handler, so Close is a no-op.
type wsSink struct {
	conn *websocket.Conn
	rate int
	b    []byte
}

func (s *wsSink) String() string  { return fmt.Sprintf("WSSink(%dHz)", s.rate) }
func (s *wsSink) SampleRate() int { return s.rate }

func (s *wsSink) WriteSample(sample msdk.PCM16Sample) error {
	if len(sample) == 0 {
		return nil
	}
	s.b = pcm.PCM16SampleToBytes(s.b, sample)
	if err := s.conn.WriteMessage(websocket.BinaryMessage, s.b); err != nil {
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

func (s *wsSink) Close() error { return nil }
