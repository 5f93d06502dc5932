package endpoints

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"time"

	msdkrtp "github.com/livekit/media-sdk/rtp"
	"github.com/livekit/protocol/logger"
	"github.com/pion/rtp"

	"pcmdenoise/denoise/engine"
	"pcmdenoise/denoise/metrics"
	"pcmdenoise/denoise/pcm"
	"pcmdenoise/denoise/pipeline"
	"pcmdenoise/denoise/session"
)

const rtpEndpoint = "rtp"

type RTPConfig struct {
	Engine engine.Engine
	// Listen is the local UDP address packets arrive on.
	Listen string
	// Slave is the UDP address denoised packets are sent to.
	Slave    string
	Encoding pcm.Encoding
	// Jitter reorders packets through a media-sdk jitter buffer.
	Jitter bool
	Logger *slog.Logger
}

// RTPEndpoint denoises one G.711 RTP stream and forwards it to the slave
// address. A new SSRC is treated as a new stream and re-initializes the
// session.
type RTPEndpoint struct {
	cfg  RTPConfig
	conn net.PacketConn
	out  net.Conn

	sess *session.Session
	ssrc uint32
	rx   msdkrtp.HandlerCloser
}

func ListenRTP(cfg RTPConfig) (*RTPEndpoint, error) {
	if _, err := pipeline.PayloadType(cfg.Encoding); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	conn, err := net.ListenPacket("udp", cfg.Listen)
	if err != nil {
		return nil, fmt.Errorf("rtp listen: %w", err)
	}
	out, err := net.Dial("udp", cfg.Slave)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("rtp slave: %w", err)
	}
	return &RTPEndpoint{cfg: cfg, conn: conn, out: out}, nil
}

func (e *RTPEndpoint) LocalAddr() net.Addr { return e.conn.LocalAddr() }

// Run reads packets until ctx is done or the socket fails.
func (e *RTPEndpoint) Run(ctx context.Context) error {
	defer e.teardown()

	buf := make([]byte, 1500)
	var pkt rtp.Packet
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		_ = e.conn.SetReadDeadline(time.Now().Add(250 * time.Millisecond))
		n, _, err := e.conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			return fmt.Errorf("rtp read: %w", err)
		}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			metrics.EndpointErrors.WithLabelValues(rtpEndpoint).Inc()
			e.cfg.Logger.Debug("dropping malformed rtp packet", "error", err)
			continue
		}
		if err := e.handle(&pkt); err != nil {
			metrics.EndpointErrors.WithLabelValues(rtpEndpoint).Inc()
			return err
		}
	}
}

func (e *RTPEndpoint) handle(pkt *rtp.Packet) error {
	if e.rx == nil || pkt.SSRC != e.ssrc {
		if err := e.startStream(pkt.SSRC); err != nil {
			return err
		}
	}
	return e.rx.HandleRTP(&pkt.Header, pkt.Payload)
}

func (e *RTPEndpoint) startStream(ssrc uint32) error {
	if e.rx != nil {
		e.cfg.Logger.Info("rtp stream replaced", "old_ssrc", e.ssrc, "ssrc", ssrc, "frames", e.sess.FramesProcessed())
		e.rx.Close()
		e.rx = nil
	}
	if e.sess == nil {
		sess, err := openSession(e.cfg.Engine, rtpEndpoint)
		if err != nil {
			return err
		}
		e.sess = sess
	} else if err := e.sess.Init(); err != nil {
		metrics.SessionInitErrors.WithLabelValues(e.cfg.Engine.Name()).Inc()
		return err
	}

	sink, err := pipeline.NewRTPSink(nopCloser{e.out}, e.cfg.Encoding)
	if err != nil {
		return err
	}
	chain, err := pipeline.BuildDenoiseChain(pipeline.ChainConfig{
		Session:   e.sess,
		Sink:      sink,
		InputRate: 8000,
		Log:       logger.GetLogger(),
	})
	if err != nil {
		return err
	}
	rx, err := pipeline.BuildRTPDecodeChain(pipeline.RTPDecodeConfig{
		Encoding:     e.cfg.Encoding,
		Sink:         chain,
		EnableJitter: e.cfg.Jitter,
		Log:          logger.GetLogger(),
	})
	if err != nil {
		_ = chain.Close()
		return err
	}
	e.cfg.Logger.Info("rtp stream started", "ssrc", ssrc, "slave", e.cfg.Slave, "engine", e.sess.Engine().Name(), "jitter", e.cfg.Jitter)
	e.rx = rx
	e.ssrc = ssrc
	return nil
}

func (e *RTPEndpoint) teardown() {
	if e.rx != nil {
		e.rx.Close()
		e.rx = nil
	}
	if e.sess != nil {
		e.cfg.Logger.Info("rtp stream ended", "ssrc", e.ssrc, "frames", e.sess.FramesProcessed())
		closeSession(e.sess)
		e.sess = nil
	}
	e.out.Close()
	e.conn.Close()
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
