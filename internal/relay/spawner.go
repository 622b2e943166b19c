package relay

import (
	"log/slog"
	"time"

	"github.com/gtzirun/cloud/internal/logger"
	"github.com/gtzirun/cloud/internal/process"
)

// Handle is the supervisor's view of one running relay process.
type Handle interface {
	Stop(grace time.Duration) (process.StopOutcome, error)
	IsAlive() bool
	PID() int
	Snapshot() process.Status
}

// Spawner launches relay processes reading input and publishing to output.
type Spawner interface {
	Spawn(key, input, output string) (Handle, error)
}

// ProcessSpawner runs the real ffmpeg relay.
type ProcessSpawner struct {
	Binary string
	Log    logger.Config
	Logger *slog.Logger
}

func (p ProcessSpawner) Spawn(key, input, output string) (Handle, error) {
	h, err := process.Spawn(process.Spec{
		Name:   key,
		Binary: p.Binary,
		Input:  input,
		Output: output,
		Log:    p.Log,
		Logger: p.Logger,
	})
	if err != nil {
		return nil, err
	}
	return h, nil
}
