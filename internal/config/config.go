package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"
)

var (
	ErrNoMode        = errors.New("no output mode configured")
	ErrInvalidCamera = errors.New("camera index must be a non-negative integer")
)

// Mode is the single output recipe a server answers every request with.
// The set of implementations is closed: Text, File, Redirect and Camera.
type Mode interface {
	Name() string
	isMode()
}

// Text answers with a literal HTML body.
type Text struct{ Body string }

// File answers with the contents of a file on disk.
type File struct{ Path string }

// Redirect answers with a 302 to Location.
type Redirect struct{ Location string }

// Camera streams frames from the video device with the given index.
type Camera struct{ Device int }

func (Text) Name() string     { return "text" }
func (File) Name() string     { return "file" }
func (Redirect) Name() string { return "redirect" }
func (Camera) Name() string   { return "camera" }

func (Text) isMode()     {}
func (File) isMode()     {}
func (Redirect) isMode() {}
func (Camera) isMode()   {}

// Flags modify the file mode.
type Flags struct {
	Download bool // send as an attachment
	Stream   bool // force chunked framing
}

// Config is built once at startup and never written afterwards.
type Config struct {
	Mode  Mode
	Flags Flags

	// Ignored lists configured modes that lost to Mode.
	Ignored []string

	Addr           string
	MaxConnections int // total accepts before the listener closes, 0 = unbounded
	MaxConcurrent  int // live sessions at once, 0 = no ceiling
	ReadBufferSize int
	ChunkSize      int
	ReadTimeout    time.Duration // 0 = none
	WriteTimeout   time.Duration // 0 = none

	LogLevel string
	FFmpeg   string // binary used to capture camera frames
}

// Default returns a config with every transport setting filled in and no mode.
func Default() Config {
	addr := ":8080"
	if env := os.Getenv("SOCKSERVE_ADDR"); env != "" {
		addr = env
	}
	return Config{
		Addr:           addr,
		MaxConnections: 0,
		MaxConcurrent:  1024,
		ReadBufferSize: 1024,
		ChunkSize:      64 << 10,
		LogLevel:       "info",
		FFmpeg:         "ffmpeg",
	}
}

// Parse builds a Config from command line arguments (without the program
// name). Help output and flag errors go to out.
func Parse(args []string, out io.Writer) (Config, error) {
	cfg := Default()

	fs := flag.NewFlagSet("sockserve", flag.ContinueOnError)
	fs.SetOutput(out)

	var text, file, redirect, camera string
	fs.StringVar(&text, "text", "", "answer with this text as an HTML body")
	fs.StringVar(&file, "file", "", "answer with the contents of this file")
	fs.StringVar(&redirect, "redirect", "", "answer with a 302 redirect to this URL")
	fs.StringVar(&camera, "camera", "", "stream frames from this video device index")
	fs.BoolVar(&cfg.Flags.Download, "download", false, "serve the file as an attachment")
	fs.BoolVar(&cfg.Flags.Stream, "stream", false, "serve the file with chunked transfer encoding")

	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address")
	fs.IntVar(&cfg.MaxConnections, "max-conns", cfg.MaxConnections, "stop after accepting this many connections (0 = unbounded)")
	fs.IntVar(&cfg.MaxConcurrent, "max-concurrent", cfg.MaxConcurrent, "maximum live sessions (0 = no limit)")
	fs.IntVar(&cfg.ReadBufferSize, "read-buffer", cfg.ReadBufferSize, "bytes read per request")
	fs.IntVar(&cfg.ChunkSize, "chunk-size", cfg.ChunkSize, "maximum bytes per chunk in chunked responses")
	fs.DurationVar(&cfg.ReadTimeout, "read-timeout", 0, "per-read deadline (0 = none)")
	fs.DurationVar(&cfg.WriteTimeout, "write-timeout", 0, "per-write deadline (0 = none)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	fs.StringVar(&cfg.FFmpeg, "ffmpeg", cfg.FFmpeg, "ffmpeg binary used for camera capture")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	mode, ignored, err := selectMode([]candidate{
		{"text", text},
		{"file", file},
		{"redirect", redirect},
		{"camera", camera},
	})
	if err != nil {
		return Config{}, err
	}
	cfg.Mode = mode
	cfg.Ignored = ignored

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type candidate struct {
	name  string
	value string
}

// selectMode picks the first candidate with a non-empty value. One server
// instance answers with exactly one recipe; later candidates are reported
// as ignored.
func selectMode(candidates []candidate) (Mode, []string, error) {
	var (
		mode    Mode
		ignored []string
	)
	for _, c := range candidates {
		if c.value == "" {
			continue
		}
		if mode != nil {
			ignored = append(ignored, c.name)
			continue
		}
		switch c.name {
		case "text":
			mode = Text{Body: c.value}
		case "file":
			mode = File{Path: c.value}
		case "redirect":
			mode = Redirect{Location: c.value}
		case "camera":
			idx, err := strconv.Atoi(c.value)
			if err != nil || idx < 0 {
				return nil, nil, fmt.Errorf("%w: %q", ErrInvalidCamera, c.value)
			}
			mode = Camera{Device: idx}
		default:
			return nil, nil, fmt.Errorf("unknown mode %q", c.name)
		}
	}
	if mode == nil {
		return nil, nil, ErrNoMode
	}
	return mode, ignored, nil
}

// Validate reports configuration errors that would otherwise surface on the
// first request.
func (c Config) Validate() error {
	if c.Mode == nil {
		return ErrNoMode
	}
	if cam, ok := c.Mode.(Camera); ok && cam.Device < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidCamera, cam.Device)
	}
	if c.Addr == "" {
		return errors.New("listen address is empty")
	}
	if c.ReadBufferSize <= 0 {
		return fmt.Errorf("read buffer size must be positive, got %d", c.ReadBufferSize)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", c.ChunkSize)
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("max connections must not be negative, got %d", c.MaxConnections)
	}
	if c.MaxConcurrent < 0 {
		return fmt.Errorf("max concurrent must not be negative, got %d", c.MaxConcurrent)
	}
	if c.ReadTimeout < 0 || c.WriteTimeout < 0 {
		return errors.New("timeouts must not be negative")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.LogLevel)
	}
	return nil
}
