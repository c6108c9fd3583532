package logger

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

const (
	permission = 0664
)

// LogBuild assembles a zerolog backed Logger. Without a path or writer it logs to stderr.
type LogBuild struct {
	writer io.Writer
	path   string
	level  string
}

func NewBuild() *LogBuild {
	return &LogBuild{}
}

func (build *LogBuild) FromPath(path string) *LogBuild {
	build.path = path
	return build
}

func (build *LogBuild) FromWriter(w io.Writer) *LogBuild {
	build.writer = w
	return build
}

// Level sets the minimum level by name ("debug", "info", "warn", "error").
func (build *LogBuild) Level(level string) *LogBuild {
	build.level = level
	return build
}

type ZerologHandler struct {
	LogFile *os.File
	Logger  zerolog.Logger
}

func (build *LogBuild) Make() (*ZerologHandler, error) {
	handler := new(ZerologHandler)

	var writer io.Writer = os.Stderr
	if build.writer != nil {
		writer = build.writer
	}
	if build.path != "" {
		f, err := os.OpenFile(build.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, permission)
		if err != nil {
			return nil, err
		}
		handler.LogFile = f
		writer = zerolog.SyncWriter(f)
	}

	level := zerolog.InfoLevel
	if build.level != "" {
		parsed, err := zerolog.ParseLevel(build.level)
		if err != nil {
			handler.Close()
			return nil, err
		}
		level = parsed
	}

	handler.Logger = zerolog.New(writer).Level(level).With().Timestamp().Logger()
	return handler, nil
}

func (handler *ZerologHandler) Error(msg string, args ...any) {
	handler.Logger.Error().Fields(args).Msg(msg)
}

func (handler *ZerologHandler) Warn(msg string, args ...any) {
	handler.Logger.Warn().Fields(args).Msg(msg)
}

func (handler *ZerologHandler) Info(msg string, args ...any) {
	handler.Logger.Info().Fields(args).Msg(msg)
}

func (handler *ZerologHandler) Debug(msg string, args ...any) {
	handler.Logger.Debug().Fields(args).Msg(msg)
}

// Close releases the log file, if any.
func (handler *ZerologHandler) Close() error {
	if handler.LogFile == nil {
		return nil
	}
	return handler.LogFile.Close()
}
