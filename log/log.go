package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	diagLog        zerolog.Logger
	diagFile       io.WriteCloser
	transcribeFile *os.File
	logMu          sync.Mutex
	logReady       bool
	pid            int
	dir            string
	level          = zerolog.InfoLevel
)

func ResolveDir(flagPath string) (string, error) {
	// Priority 1: -logpath flag
	if flagPath != "" {
		return absPath(flagPath)
	}

	// Priority 2: LIVESCRIBE_LOG_PATH environment variable
	if envPath := os.Getenv("LIVESCRIBE_LOG_PATH"); envPath != "" {
		return absPath(envPath)
	}

	// Priority 3: Default OS-specific location
	return getDefaultDir()
}

func absPath(p string) (string, error) {
	if filepath.IsAbs(p) {
		return p, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, p), nil
}

func SetDir(d string) {
	dir = d
}

func Dir() string {
	return dir
}

// SetLevel accepts zerolog level names ("debug", "info", "warn", ...).
func SetLevel(name string) error {
	l, err := zerolog.ParseLevel(name)
	if err != nil {
		return fmt.Errorf("log level %q: %w", name, err)
	}
	logMu.Lock()
	level = l
	if logReady {
		diagLog = diagLog.Level(l)
	}
	logMu.Unlock()
	return nil
}

func EnsureDir() error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return nil
}

func Init() error {
	logMu.Lock()
	defer logMu.Unlock()

	if err := EnsureDir(); err != nil {
		return err
	}

	pid = os.Getpid()

	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(dir, "diagnostics_log.txt"),
		MaxSize:    10, // MB
		MaxBackups: 3,
		MaxAge:     28, // days
	}

	var err error
	transcribePath := filepath.Join(dir, "transcribe_log.txt")
	transcribeFile, err = os.OpenFile(transcribePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		rotator.Close()
		return err
	}
	diagFile = rotator

	consoleWriter := zerolog.ConsoleWriter{
		Out:        rotator,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    true,
	}
	diagLog = zerolog.New(consoleWriter).Level(level).With().Timestamp().Int("pid", pid).Logger()

	logReady = true
	return nil
}

func Close() {
	logMu.Lock()
	defer logMu.Unlock()
	if diagFile != nil {
		diagFile.Close()
		diagFile = nil
	}
	if transcribeFile != nil {
		transcribeFile.Close()
		transcribeFile = nil
	}
	logReady = false
}

func Debugf(format string, args ...any) {
	if logReady {
		diagLog.Debug().Msg(fmt.Sprintf(format, args...))
	}
}

func Info(msg string) {
	if logReady {
		diagLog.Info().Msg(msg)
	}
}

func Infof(format string, args ...any) {
	if logReady {
		diagLog.Info().Msg(fmt.Sprintf(format, args...))
	}
}

func Error(msg string) {
	if logReady {
		diagLog.Error().Msg(msg)
	}
}

func Errorf(format string, args ...any) {
	if logReady {
		diagLog.Error().Msg(fmt.Sprintf(format, args...))
	}
}

func Warn(msg string) {
	if logReady {
		diagLog.Warn().Msg(msg)
	}
}

func Warnf(format string, args ...any) {
	if logReady {
		diagLog.Warn().Msg(fmt.Sprintf(format, args...))
	}
}

func TranscriptText(sessionID, text string) {
	if !logReady {
		return
	}
	logMu.Lock()
	defer logMu.Unlock()
	if transcribeFile == nil {
		return
	}
	line := fmt.Sprintf("%s\t[%d]\t%s\t%s\n", time.Now().Format("2006-01-02 15:04:05"), pid, sessionID, text)
	transcribeFile.WriteString(line)
}

func SessionStart(sessionID, tier string, limitSeconds int) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("session", sessionID).
		Str("tier", tier).
		Int("limit_s", limitSeconds).
		Msg("session_start")
}

func SessionEnd(sessionID, reason string, elapsedSeconds, segments int) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("session", sessionID).
		Str("reason", reason).
		Int("elapsed_s", elapsedSeconds).
		Int("segments", segments).
		Msg("session_end")
}

func StateChange(sessionID, from, to string) {
	if !logReady {
		return
	}
	diagLog.Debug().
		Str("session", sessionID).
		Str("from", from).
		Str("to", to).
		Msg("state")
}

func Reconnect(sessionID string, attempt int, code int, err error) {
	if !logReady {
		return
	}
	ev := diagLog.Warn().
		Str("session", sessionID).
		Int("attempt", attempt).
		Int("close_code", code)
	if err != nil {
		ev = ev.Str("err", err.Error())
	}
	ev.Msg("stream_reconnect")
}

func LimitReached(sessionID, tier, source string, elapsedSeconds int) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("session", sessionID).
		Str("tier", tier).
		Str("source", source).
		Int("elapsed_s", elapsedSeconds).
		Msg("limit_reached")
}

type StreamMetricsData struct {
	ConnectMs     float64
	Connects      int
	SentFrames    int
	SentKB        float64
	DroppedFrames int
	GatedFrames   int
	RecvMessages  int
	RecvFinal     int
	RecvInterim   int
	VADFrames     int
	SpeechFrames  int
}

func StreamMetrics(sessionID string, m StreamMetricsData) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("session", sessionID).
		Float64("connect_ms", m.ConnectMs).
		Int("connects", m.Connects).
		Int("sent_frames", m.SentFrames).
		Float64("sent_kb", m.SentKB).
		Int("dropped_frames", m.DroppedFrames).
		Int("gated_frames", m.GatedFrames).
		Int("recv_messages", m.RecvMessages).
		Int("recv_final", m.RecvFinal).
		Int("recv_interim", m.RecvInterim).
		Int("vad_frames", m.VADFrames).
		Int("speech_frames", m.SpeechFrames).
		Msg("stream_transcription")
}
