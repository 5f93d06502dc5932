package pipeline

import (
	"fmt"

	msdk "github.com/livekit/media-sdk"
	"github.com/livekit/protocol/logger"

	"pcmdenoise/denoise/metrics"
	"pcmdenoise/denoise/pcm"
	"pcmdenoise/denoise/session"
)

// denoiseWriter runs every written chunk through a session and forwards the
// equal-length, one-frame-delayed result to next. It does not own the
// session; the endpoint that opened the stream closes it.
type denoiseWriter struct {
	sess *session.Session
	next msdk.PCM16Writer
	log  logger.Logger

	// scratch, grown to the largest chunk seen
	out msdk.PCM16Sample

	lastFrames uint64
	chunks     uint64
}

func newDenoiseWriter(sess *session.Session, next msdk.PCM16Writer, log logger.Logger) *denoiseWriter {
	return &denoiseWriter{
		sess: sess,
		next: next,
		log:  log,
	}
}

func (w *denoiseWriter) String() string {
	return fmt.Sprintf("Denoise(%s/%d) -> %s", w.sess.Engine().Name(), w.sess.FrameSize(), w.next.String())
}

func (w *denoiseWriter) SampleRate() int { return w.sess.Engine().SampleRate() }

func (w *denoiseWriter) WriteSample(sample msdk.PCM16Sample) error {
	if len(sample) == 0 {
		return nil
	}
	if cap(w.out) < len(sample) {
		w.out = make(msdk.PCM16Sample, len(sample))
	}
	out := w.out[:len(sample)]
	w.sess.Transfer(out, sample)

	w.chunks++
	frames := w.sess.FramesProcessed()
	if frames < w.lastFrames {
		// session was re-initialized underneath us
		w.lastFrames = 0
	}
	metrics.Transfers.Inc()
	metrics.Samples.Add(float64(len(sample)))
	metrics.TransferSize.Observe(float64(len(sample)))
	if d := frames - w.lastFrames; d > 0 {
		metrics.Frames.WithLabelValues(w.sess.Engine().Name()).Add(float64(d))
		metrics.OutputLevel.Set(pcm.Energy(out))
	}
	w.lastFrames = frames
	if w.chunks == 1 && w.log != nil {
		w.log.Infow("denoise stage started", "frameSize", w.sess.FrameSize(), "chunk", len(sample))
	}

	return w.next.WriteSample(out)
}

func (w *denoiseWriter) Close() error {
	return w.next.Close()
}
