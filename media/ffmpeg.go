package media

import (
	"bufio"
	"context"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kballard/go-shellquote"
	"go.uber.org/zap"

	"github.com/teranos/vidscope/errors"
)

// FFmpeg re-encodes the intermediate file to H.264 MP4 for browser playback.
type FFmpeg struct {
	Path    string
	Preset  string
	CRF     int
	Timeout time.Duration
	Logger  *zap.SugaredLogger
}

// NewFFmpeg returns a transcoder with the default encoder settings
func NewFFmpeg(path string, logger *zap.SugaredLogger) *FFmpeg {
	if path == "" {
		path = "ffmpeg"
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &FFmpeg{Path: path, Preset: "ultrafast", CRF: 28, Logger: logger}
}

// Args returns the ffmpeg argument list for in → out
func (f *FFmpeg) Args(in, out string) []string {
	return []string{
		"-y",
		"-i", in,
		"-c:v", "libx264",
		"-preset", f.Preset,
		"-crf", strconv.Itoa(f.CRF),
		"-movflags", "+faststart",
		"-pix_fmt", "yuv420p",
		out,
	}
}

// Transcode runs ffmpeg. A non-zero exit, a missing output or an empty
// output all fail with errors.ErrEncodeFailure; an empty output is removed.
func (f *FFmpeg) Transcode(ctx context.Context, in, out string) error {
	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}

	args := f.Args(in, out)
	f.Logger.Debugw("Running ffmpeg", "command", shellquote.Join(append([]string{f.Path}, args...)...))

	cmd := exec.CommandContext(ctx, f.Path, args...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return errors.Wrap(err, "ffmpeg stderr pipe")
	}

	tail := NewOutputBuffer(20)
	if err := cmd.Start(); err != nil {
		return errors.WithHint(
			errors.Mark(errors.Wrapf(err, "start %s", f.Path), errors.ErrEncodeFailure),
			"install ffmpeg or set ffmpeg.path in am.toml",
		)
	}

	// stderr must be drained before Wait
	tail.ReadFrom(stderr)
	waitErr := cmd.Wait()

	if waitErr != nil {
		err := errors.Mark(errors.Wrap(waitErr, "ffmpeg"), errors.ErrEncodeFailure)
		return errors.WithDetail(err, strings.Join(tail.Lines(), "\n"))
	}

	info, err := os.Stat(out)
	if err != nil {
		return errors.Wrapf(errors.ErrEncodeFailure, "ffmpeg produced no output at %s", out)
	}
	if info.Size() == 0 {
		os.Remove(out)
		return errors.Wrapf(errors.ErrEncodeFailure, "ffmpeg produced an empty file at %s", out)
	}
	return nil
}

// OutputBuffer keeps the most recent lines of process output for error reports
type OutputBuffer struct {
	mu    sync.Mutex
	lines []string
	max   int
	next  int
	full  bool
}

// NewOutputBuffer creates a ring of maxLines lines
func NewOutputBuffer(maxLines int) *OutputBuffer {
	if maxLines < 1 {
		maxLines = 1
	}
	return &OutputBuffer{lines: make([]string, maxLines), max: maxLines}
}

// Add stores a line, overwriting the oldest when full
func (b *OutputBuffer) Add(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines[b.next] = line
	b.next = (b.next + 1) % b.max
	if b.next == 0 {
		b.full = true
	}
}

// ReadFrom adds every line of r until EOF
func (b *OutputBuffer) ReadFrom(r io.Reader) {
	sc := bufio.NewScanner(r)
	// ffmpeg progress uses \r without \n
	sc.Split(scanLinesOrCR)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			b.Add(line)
		}
	}
}

// Lines returns the stored lines, oldest first
func (b *OutputBuffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.full {
		return append([]string(nil), b.lines[:b.next]...)
	}
	out := make([]string, 0, b.max)
	out = append(out, b.lines[b.next:]...)
	return append(out, b.lines[:b.next]...)
}

func scanLinesOrCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	for i, c := range data {
		if c == '\n' || c == '\r' {
			return i + 1, data[:i], nil
		}
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}
