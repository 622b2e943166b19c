package process

import (
	"errors"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/gtzirun/cloud/internal/logger"
	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// DefaultBinary is the ffmpeg location inside the relay container image.
const DefaultBinary = "/usr/bin/ffmpeg"

// Spec describes one relay process: read Input, copy audio and video
// without re-encoding, publish FLV to Output.
type Spec struct {
	Name   string // stream key; used for log file names and log attributes
	Binary string // ffmpeg executable, DefaultBinary when empty
	Input  string
	Output string
	Log    logger.Config
	Logger *slog.Logger
}

func (s *Spec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return errors.New("relay name is required")
	}
	if strings.TrimSpace(s.Input) == "" {
		return errors.New("relay input is required")
	}
	if strings.TrimSpace(s.Output) == "" {
		return errors.New("relay output is required")
	}
	return nil
}

// Args returns the fixed relay argument list (without the binary).
func (s *Spec) Args() []string {
	return ffmpeg.Input(s.Input).
		Output(s.Output, ffmpeg.KwArgs{"c:v": "copy", "c:a": "copy", "f": "flv"}).
		GetArgs()
}

// BuildCommand constructs the not-yet-started *exec.Cmd for the relay.
func (s *Spec) BuildCommand() *exec.Cmd {
	bin := s.Binary
	if bin == "" {
		bin = DefaultBinary
	}
	// #nosec G204 -- binary comes from operator config, args are a fixed template
	return exec.Command(bin, s.Args()...)
}

func (s *Spec) logger() *slog.Logger {
	l := s.Logger
	if l == nil {
		l = slog.Default()
	}
	return l.With("stream_key", s.Name)
}
