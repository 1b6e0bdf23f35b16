package logging

import (
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	logFileName   = "portal-check.log"
	maxSizeMB     = 5
	maxBackups    = 3
)

// Setup wires the global logger to the console and a size-rotated log file
// under dir. Rotation keeps maxBackups files of maxSizeMB each.
func Setup(dir string, debug bool) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	fileWriter := &lumberjack.Logger{
		Filename:   filepath.Join(dir, logFileName),
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
	}

	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "2006-01-02 15:04:05"}

	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}

	log.Logger = zerolog.New(zerolog.MultiLevelWriter(console, fileWriter)).
		Level(level).
		With().
		Timestamp().
		Logger()
	return nil
}
