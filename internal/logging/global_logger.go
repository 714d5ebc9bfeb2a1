package logging

import (
	"bytes"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/codexgate/internal/config"
	"github.com/router-for-me/codexgate/internal/util"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogFileName is the rotating log file written when logging-to-file is enabled.
const LogFileName = "codexgate.log"

var (
	setupOnce      sync.Once
	writerMu       sync.Mutex
	logWriter      *lumberjack.Logger
	ginInfoWriter  *io.PipeWriter
	ginErrorWriter *io.PipeWriter
)

// LogFormatter renders entries as
//
//	[2026-01-12 20:14:04] [a1b2c3d4] [debug] [accessor.go:88] refreshing credential area=gateway model=gpt-5.2
//
// Known gateway fields come first in a fixed order, the rest follow sorted by key.
// Credential material is never printed. A "stack" field is written on the lines below.
type LogFormatter struct{}

var leadingFields = []string{"area", "model", "attempt", "status", "account", "store", "tokens", "error"}

var redactedFields = map[string]struct{}{
	"access_token":   {},
	"refresh_token":  {},
	"id_token":       {},
	"code":           {},
	"code_verifier":  {},
	"authorization":  {},
	"management_key": {},
}

// Format implements logrus.Formatter.
func (m *LogFormatter) Format(entry *log.Entry) ([]byte, error) {
	buffer := entry.Buffer
	if buffer == nil {
		buffer = &bytes.Buffer{}
	}

	level := entry.Level.String()
	if level == "warning" {
		level = "warn"
	}
	fmt.Fprintf(buffer, "[%s] [%s] [%-5s] ", entry.Time.Format("2006-01-02 15:04:05"), entryRequestID(entry), level)
	if entry.Caller != nil {
		fmt.Fprintf(buffer, "[%s:%d] ", filepath.Base(entry.Caller.File), entry.Caller.Line)
	}
	buffer.WriteString(strings.TrimRight(entry.Message, "\r\n"))

	for _, key := range fieldKeys(entry.Data) {
		value := fmt.Sprint(entry.Data[key])
		if _, secret := redactedFields[key]; secret {
			value = "<redacted>"
		}
		fmt.Fprintf(buffer, " %s=%s", key, value)
	}
	buffer.WriteByte('\n')

	if stack, ok := entry.Data["stack"].(string); ok && stack != "" {
		buffer.WriteString(strings.TrimRight(stack, "\n"))
		buffer.WriteByte('\n')
	}
	return buffer.Bytes(), nil
}

func entryRequestID(entry *log.Entry) string {
	if id, ok := entry.Data["request_id"].(string); ok && id != "" {
		return id
	}
	if id := RequestIDFromContext(entry.Context); id != "" {
		return id
	}
	return "--------"
}

func fieldKeys(data log.Fields) []string {
	keys := make([]string, 0, len(data))
	for _, key := range leadingFields {
		if _, ok := data[key]; ok {
			keys = append(keys, key)
		}
	}
	for _, key := range slices.Sorted(maps.Keys(data)) {
		if key == "request_id" || key == "stack" || slices.Contains(leadingFields, key) {
			continue
		}
		keys = append(keys, key)
	}
	return keys
}

// SetupBaseLogger installs LogFormatter on the standard logger and routes Gin's own
// output through it. Only the first call has an effect.
func SetupBaseLogger() {
	setupOnce.Do(func() {
		log.SetOutput(os.Stdout)
		log.SetReportCaller(true)
		log.SetFormatter(&LogFormatter{})

		ginInfoWriter = log.StandardLogger().Writer()
		gin.DefaultWriter = ginInfoWriter
		ginErrorWriter = log.StandardLogger().WriterLevel(log.ErrorLevel)
		gin.DefaultErrorWriter = ginErrorWriter
		gin.DebugPrintFunc = func(format string, values ...any) {
			log.Debugf(strings.TrimRight(format, "\r\n"), values...)
		}

		log.RegisterExitHandler(closeLogOutputs)
	})
}

// ResolveLogDirectory picks the log directory: WRITABLE_PATH/logs, then ./logs when it
// can be written, then <auth-dir>/logs.
func ResolveLogDirectory(cfg *config.Config) string {
	if base := util.WritablePath(); base != "" {
		return filepath.Join(base, "logs")
	}
	if cfg == nil || canWriteDir("logs") {
		return "logs"
	}
	authDir, err := util.ResolveAuthDir(cfg.AuthDir)
	if err != nil || authDir == "" {
		log.Warnf("failed to resolve auth-dir %q for log directory: %v", cfg.AuthDir, err)
		return "logs"
	}
	return filepath.Join(authDir, "logs")
}

func canWriteDir(dir string) bool {
	f, err := os.CreateTemp(dir, ".codexgate-perm-*")
	if err != nil {
		return false
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	return true
}

// ConfigureLogOutput sends logs to stdout, or to a rotating LogFileName when
// cfg.LoggingToFile is set. An already open file for the same path is kept.
func ConfigureLogOutput(cfg *config.Config) error {
	SetupBaseLogger()

	writerMu.Lock()
	defer writerMu.Unlock()

	if !cfg.LoggingToFile {
		closeFileWriter()
		log.SetOutput(os.Stdout)
		return nil
	}

	logDir := ResolveLogDirectory(cfg)
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return fmt.Errorf("logging: failed to create log directory: %w", err)
	}
	filename := filepath.Join(logDir, LogFileName)
	if logWriter != nil && logWriter.Filename == filename {
		return nil
	}
	closeFileWriter()
	logWriter = &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    10,
		MaxBackups: 5,
		MaxAge:     14,
	}
	log.SetOutput(logWriter)
	return nil
}

func closeFileWriter() {
	if logWriter != nil {
		_ = logWriter.Close()
		logWriter = nil
	}
}

func closeLogOutputs() {
	writerMu.Lock()
	defer writerMu.Unlock()

	closeFileWriter()
	for _, w := range []*io.PipeWriter{ginInfoWriter, ginErrorWriter} {
		if w != nil {
			_ = w.Close()
		}
	}
	ginInfoWriter, ginErrorWriter = nil, nil
}
