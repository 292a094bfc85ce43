// Package video supplies encoded camera frames for the camera output mode.
package video

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
)

// Boundary separates frames in a multipart/x-mixed-replace body.
const Boundary = "frame"

// ContentType is the response content type of a camera stream.
const ContentType = "multipart/x-mixed-replace; boundary=" + Boundary

// Source produces encoded frames until it returns io.EOF or an error.
type Source interface {
	NextFrame() ([]byte, error)
	Close() error
}

// Opener opens a frame source for a device index. The source stops when ctx
// is done.
type Opener interface {
	Open(ctx context.Context, device int) (Source, error)
}

// Part wraps one JPEG frame as a multipart body part.
func Part(frame []byte) []byte {
	var b bytes.Buffer
	b.Grow(len(frame) + 96)
	b.WriteString("--" + Boundary + "\r\n")
	b.WriteString("Content-Type: image/jpeg\r\n")
	b.WriteString("Content-Length: " + strconv.Itoa(len(frame)) + "\r\n\r\n")
	b.Write(frame)
	b.WriteString("\r\n")
	return b.Bytes()
}

// FFmpeg captures /dev/video<N> through an ffmpeg subprocess that writes
// MJPEG to stdout.
type FFmpeg struct {
	Binary    string // defaults to "ffmpeg"
	InputFmt  string // defaults to "v4l2"
	FrameRate int    // 0 keeps the device rate
}

func (f FFmpeg) args(device int) []string {
	in := f.InputFmt
	if in == "" {
		in = "v4l2"
	}
	args := []string{"-loglevel", "error", "-f", in}
	if f.FrameRate > 0 {
		args = append(args, "-framerate", strconv.Itoa(f.FrameRate))
	}
	args = append(args,
		"-i", fmt.Sprintf("/dev/video%d", device),
		"-f", "mjpeg", "-q:v", "5", "pipe:1",
	)
	return args
}

func (f FFmpeg) Open(ctx context.Context, device int) (Source, error) {
	bin := f.Binary
	if bin == "" {
		bin = "ffmpeg"
	}

	cmd := exec.CommandContext(ctx, bin, f.args(device)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("camera %d: %w", device, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("camera %d: start %s: %w", device, bin, err)
	}
	return &processSource{cmd: cmd, frames: NewScanner(stdout)}, nil
}

type processSource struct {
	cmd    *exec.Cmd
	frames *Scanner
}

func (p *processSource) NextFrame() ([]byte, error) {
	return p.frames.Next()
}

func (p *processSource) Close() error {
	if p.cmd.Process != nil {
		p.cmd.Process.Kill()
	}
	err := p.cmd.Wait()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// Killed on purpose.
		return nil
	}
	return err
}

// Scanner splits a concatenated MJPEG byte stream into JPEG frames.
type Scanner struct {
	s *bufio.Scanner
}

// maxFrameSize caps a single frame held in memory.
const maxFrameSize = 8 << 20

func NewScanner(r io.Reader) *Scanner {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64<<10), maxFrameSize)
	s.Split(splitJPEG)
	return &Scanner{s: s}
}

// Next returns the next frame, or io.EOF once the stream is exhausted.
func (sc *Scanner) Next() ([]byte, error) {
	if sc.s.Scan() {
		// The scanner reuses its buffer.
		return bytes.Clone(sc.s.Bytes()), nil
	}
	if err := sc.s.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

var (
	jpegStart = []byte{0xFF, 0xD8}
	jpegEnd   = []byte{0xFF, 0xD9}
)

// splitJPEG is a bufio.SplitFunc yielding SOI..EOI byte ranges. Bytes before
// the first SOI are discarded; a trailing partial frame is dropped.
func splitJPEG(data []byte, atEOF bool) (int, []byte, error) {
	start := bytes.Index(data, jpegStart)
	if start == -1 {
		if atEOF {
			return len(data), nil, nil
		}
		// Keep a possible 0xFF that may start the next SOI.
		if n := len(data); n > 0 && data[n-1] == 0xFF {
			return n - 1, nil, nil
		}
		return len(data), nil, nil
	}

	end := bytes.Index(data[start+2:], jpegEnd)
	if end == -1 {
		if atEOF {
			return len(data), nil, nil
		}
		if start > 0 {
			return start, nil, nil
		}
		return 0, nil, nil
	}
	stop := start + 2 + end + 2
	return stop, data[start:stop], nil
}
