package endpoints

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	msdk "github.com/livekit/media-sdk"
	"github.com/livekit/protocol/logger"
	resampler "github.com/tphakala/go-audio-resampler"

	"pcmdenoise/denoise/engine"
	"pcmdenoise/denoise/metrics"
	"pcmdenoise/denoise/pcm"
	"pcmdenoise/denoise/pipeline"
)

// FileFormat is either "wav" or a raw pcm.Encoding.
type FileFormat string

const FormatWAV FileFormat = "wav"

// ParseFileFormat resolves a configured format, falling back to the path
// extension and then raw s16le.
func ParseFileFormat(format, path string) (FileFormat, error) {
	if format == "" {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".wav":
			return FormatWAV, nil
		case ".ul", ".ulaw":
			return FileFormat(pcm.EncodingULaw), nil
		case ".al", ".alaw":
			return FileFormat(pcm.EncodingALaw), nil
		}
	}
	if strings.EqualFold(format, "wav") {
		return FormatWAV, nil
	}
	enc, err := pcm.ParseEncoding(format)
	if err != nil {
		return "", err
	}
	return FileFormat(enc), nil
}

func (f FileFormat) encoding() pcm.Encoding {
	if f == FormatWAV {
		return pcm.EncodingS16LE
	}
	return pcm.Encoding(f)
}

// FileSource streams a file (or stdin for "-") in host-period sized chunks.
type FileSource struct {
	path   string
	format FileFormat
	// Format of the samples handed to Run's writer: always mono.
	out    pcm.AudioFormat
	in     pcm.AudioFormat
	logger *slog.Logger

	f   *os.File
	r   io.Reader
	dec *wav.Decoder
	rs  floatResampler
}

type floatResampler interface {
	Process(in []float32) ([]float32, error)
	Flush() ([]float32, error)
}

// OpenFileSource opens path. raw describes headerless input; a WAV header
// overrides rate and channel count. WAV files whose rate differs from
// raw.SampleRate are converted to it on the way in.
func OpenFileSource(path string, format FileFormat, raw pcm.AudioFormat, logger *slog.Logger) (*FileSource, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &FileSource{path: path, format: format, in: raw, logger: logger}

	if path == "-" {
		if format == FormatWAV {
			return nil, errors.New("wav input needs a seekable file, not stdin")
		}
		s.r = bufio.NewReader(os.Stdin)
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open source: %w", err)
		}
		s.f = f
		s.r = bufio.NewReader(f)
	}

	if format == FormatWAV {
		dec := wav.NewDecoder(s.f)
		if !dec.IsValidFile() {
			s.Close()
			return nil, fmt.Errorf("%s: invalid wav file", path)
		}
		if dec.BitDepth != 16 && dec.BitDepth != 24 && dec.BitDepth != 32 {
			s.Close()
			return nil, fmt.Errorf("%s: unsupported wav bit depth %d", path, dec.BitDepth)
		}
		if err := dec.FwdToPCM(); err != nil {
			s.Close()
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		s.dec = dec
		s.in.SampleRate = int(dec.SampleRate)
		s.in.Channels = int(dec.NumChans)
	}

	s.out = pcm.AudioFormat{SampleRate: raw.SampleRate, Channels: 1, FrameDur: raw.FrameDur}
	if s.out.SampleRate <= 0 {
		s.out.SampleRate = s.in.SampleRate
	}
	if s.dec != nil && s.in.SampleRate != s.out.SampleRate {
		rs, err := resampler.NewEngineFloat32(float64(s.in.SampleRate), float64(s.out.SampleRate), resampler.QualityHigh)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("%s: resampler: %w", path, err)
		}
		s.rs = rs
		logger.Info("converting source rate", "path", path, "from", s.in.SampleRate, "to", s.out.SampleRate)
	}
	return s, nil
}

// Format is the mono format delivered to Run's writer.
func (s *FileSource) Format() pcm.AudioFormat { return s.out }

// Run pushes the whole file through w, one period per write, and closes w.
func (s *FileSource) Run(ctx context.Context, w msdk.PCM16Writer) error {
	defer w.Close()

	ch := max(s.in.Channels, 1)
	period := pcm.AudioFormat{SampleRate: s.in.SampleRate, Channels: ch, FrameDur: s.out.FrameDur}.FrameSamples()
	if period < ch {
		period = ch
	}

	var (
		raw    = make([]byte, period*s.format.encoding().BytesPerSample())
		ibuf   = &audio.IntBuffer{Data: make([]int, period)}
		frame  msdk.PCM16Sample
		mono   msdk.PCM16Sample
		chunks int
	)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var err error
		if s.dec != nil {
			frame, err = s.readWAV(ibuf, frame)
		} else {
			frame, err = s.readRaw(raw, frame)
		}
		if len(frame) > 0 {
			mono = pcm.PCM16ToMono(mono, frame, ch)
			if werr := s.write(w, mono); werr != nil {
				return werr
			}
			chunks++
		}
		if errors.Is(err, io.EOF) {
			s.logger.Debug("source drained", "path", s.path, "chunks", chunks)
			return s.flush(w)
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", s.path, err)
		}
	}
}

func (s *FileSource) readRaw(raw []byte, dst msdk.PCM16Sample) (msdk.PCM16Sample, error) {
	n, err := io.ReadFull(s.r, raw)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		err = io.EOF
	}
	bps := s.format.encoding().BytesPerSample()
	n -= n % bps
	return s.format.encoding().Decode(dst, raw[:n]), err
}

func (s *FileSource) readWAV(buf *audio.IntBuffer, dst msdk.PCM16Sample) (msdk.PCM16Sample, error) {
	buf.Data = buf.Data[:cap(buf.Data)]
	n, err := s.dec.PCMBuffer(buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return dst[:0], err
	}
	if n == 0 {
		return dst[:0], io.EOF
	}
	shift := uint(s.dec.BitDepth) - 16
	if cap(dst) < n {
		dst = make(msdk.PCM16Sample, n)
	}
	dst = dst[:n]
	for i, v := range buf.Data[:n] {
		dst[i] = int16(v >> shift)
	}
	return dst, nil
}

func (s *FileSource) write(w msdk.PCM16Writer, mono msdk.PCM16Sample) error {
	if s.rs == nil {
		return w.WriteSample(mono)
	}
	in := make([]float32, len(mono))
	for i, v := range mono {
		in[i] = float32(v)
	}
	out, err := s.rs.Process(in)
	if err != nil {
		return fmt.Errorf("resample: %w", err)
	}
	return writeFloat(w, out)
}

func (s *FileSource) flush(w msdk.PCM16Writer) error {
	if s.rs == nil {
		return nil
	}
	out, err := s.rs.Flush()
	if err != nil {
		return fmt.Errorf("resample flush: %w", err)
	}
	return writeFloat(w, out)
}

func writeFloat(w msdk.PCM16Writer, in []float32) error {
	if len(in) == 0 {
		return nil
	}
	out := make(msdk.PCM16Sample, len(in))
	for i, v := range in {
		switch {
		case v > 32767:
			out[i] = 32767
		case v < -32768:
			out[i] = -32768
		default:
			out[i] = int16(v)
		}
	}
	return w.WriteSample(out)
}

func (s *FileSource) Close() error {
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

// OpenFileSink creates the slave output. "-" writes raw samples to stdout.
func OpenFileSink(path string, format FileFormat, sampleRate int) (msdk.PCM16Writer, error) {
	if path == "-" {
		if format == FormatWAV {
			return nil, errors.New("wav output needs a seekable file, not stdout")
		}
		return newRawSink(os.Stdout, nil, format.encoding(), sampleRate), nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create sink: %w", err)
	}
	if format == FormatWAV {
		return newWAVSink(f, sampleRate), nil
	}
	return newRawSink(f, f, format.encoding(), sampleRate), nil
}

// rawSink buffers encoded output. stdout is flushed but never closed.
type rawSink struct {
	msdk.PCM16Writer
	bw *bufio.Writer
	c  io.Closer
}

func newRawSink(w io.Writer, c io.Closer, enc pcm.Encoding, sampleRate int) *rawSink {
	bw := bufio.NewWriter(w)
	return &rawSink{
		PCM16Writer: pipeline.NewEncodedSink(bw, enc, sampleRate),
		bw:          bw,
		c:           c,
	}
}

func (s *rawSink) Close() error {
	err := s.bw.Flush()
	if s.c != nil {
		err = errors.Join(err, s.c.Close())
	}
	return err
}

// wavSink writes mono 16-bit WAV; the header is finalized on Close.
type wavSink struct {
	f          *os.File
	enc        *wav.Encoder
	sampleRate int
	buf        *audio.IntBuffer
}

func newWAVSink(f *os.File, sampleRate int) *wavSink {
	return &wavSink{
		f:          f,
		enc:        wav.NewEncoder(f, sampleRate, 16, 1, 1),
		sampleRate: sampleRate,
		buf: &audio.IntBuffer{
			Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
			SourceBitDepth: 16,
		},
	}
}

func (s *wavSink) String() string  { return fmt.Sprintf("WAVSink(%s %dHz)", s.f.Name(), s.sampleRate) }
func (s *wavSink) SampleRate() int { return s.sampleRate }

func (s *wavSink) WriteSample(sample msdk.PCM16Sample) error {
	if cap(s.buf.Data) < len(sample) {
		s.buf.Data = make([]int, len(sample))
	}
	s.buf.Data = s.buf.Data[:len(sample)]
	for i, v := range sample {
		s.buf.Data[i] = int(v)
	}
	if err := s.enc.Write(s.buf); err != nil {
		return fmt.Errorf("wav write: %w", err)
	}
	return nil
}

func (s *wavSink) Close() error {
	eerr := s.enc.Close()
	ferr := s.f.Close()
	return errors.Join(eerr, ferr)
}

const fileEndpoint = "file"

type FileConfig struct {
	Engine       engine.Engine
	SourcePath   string
	SourceFormat FileFormat
	SlavePath    string
	SlaveFormat  FileFormat
	// Raw describes headerless input and the rate of the output file.
	Raw    pcm.AudioFormat
	Logger *slog.Logger
}

// RunFile denoises one file (or stdin) into the slave file (or stdout). The
// whole file is a single stream: one session, opened and closed once.
func RunFile(ctx context.Context, cfg FileConfig) error {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	src, err := OpenFileSource(cfg.SourcePath, cfg.SourceFormat, cfg.Raw, cfg.Logger)
	if err != nil {
		return err
	}
	defer src.Close()

	rate := src.Format().SampleRate
	sink, err := OpenFileSink(cfg.SlavePath, cfg.SlaveFormat, rate)
	if err != nil {
		return err
	}

	sess, err := openSession(cfg.Engine, fileEndpoint)
	if err != nil {
		sink.Close()
		return err
	}
	defer closeSession(sess)

	chain, err := pipeline.BuildDenoiseChain(pipeline.ChainConfig{
		Session:   sess,
		Sink:      sink,
		InputRate: rate,
		Log:       logger.GetLogger(),
	})
	if err != nil {
		sink.Close()
		return err
	}

	start := time.Now()
	if err := src.Run(ctx, chain); err != nil {
		metrics.EndpointErrors.WithLabelValues(fileEndpoint).Inc()
		return err
	}
	cfg.Logger.Info("file denoised",
		"source", cfg.SourcePath,
		"slave", cfg.SlavePath,
		"sample_rate", rate,
		"frames", sess.FramesProcessed(),
		"samples", sess.SamplesTransferred(),
		"latency_samples", sess.Latency(),
		"elapsed", time.Since(start),
	)
	return nil
}
