// Package logging configures the shared logrus logger used across scanclient: a compact line
// format, optional rotating file output, and gin middleware for the mock backend.
package logging

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bookscanner/scanclient/internal/config"
	"github.com/bookscanner/scanclient/internal/util"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogFileName is the active log file inside the log directory.
const LogFileName = "scanclient.log"

var (
	setupOnce      sync.Once
	writerMu       sync.Mutex
	logWriter      *lumberjack.Logger
	cleaner        *dirCleaner
	ginInfoWriter  *io.PipeWriter
	ginErrorWriter *io.PipeWriter
)

// LogFormatter renders entries as
// [2026-10-15 09:12:44] [a1b2c3d4] [info ] [coordinator.go:171] gateway: access token refreshed queued=3
type LogFormatter struct{}

// logFieldOrder lists the fields printed after the message, in order. Other fields are dropped.
var logFieldOrder = []string{"path", "status", "queued", "store", "profile", "photo_id", "file", "error"}

// Format renders a single log entry with custom formatting.
func (m *LogFormatter) Format(entry *log.Entry) ([]byte, error) {
	var buffer *bytes.Buffer
	if entry.Buffer != nil {
		buffer = entry.Buffer
	} else {
		buffer = &bytes.Buffer{}
	}

	timestamp := entry.Time.Format("2006-01-02 15:04:05")
	message := strings.TrimRight(entry.Message, "\r\n")

	reqID := "--------"
	if id, ok := entry.Data["request_id"].(string); ok && id != "" {
		reqID = id
	}

	level := entry.Level.String()
	if level == "warning" {
		level = "warn"
	}

	var fieldsStr string
	if len(entry.Data) > 0 {
		var fields []string
		for _, k := range logFieldOrder {
			if v, ok := entry.Data[k]; ok {
				fields = append(fields, fmt.Sprintf("%s=%v", k, v))
			}
		}
		if len(fields) > 0 {
			fieldsStr = " " + strings.Join(fields, " ")
		}
	}

	if entry.Caller != nil {
		_, _ = fmt.Fprintf(buffer, "[%s] [%s] [%-5s] [%s:%d] %s%s\n", timestamp, reqID, level, filepath.Base(entry.Caller.File), entry.Caller.Line, message, fieldsStr)
	} else {
		_, _ = fmt.Fprintf(buffer, "[%s] [%s] [%-5s] %s%s\n", timestamp, reqID, level, message, fieldsStr)
	}
	return buffer.Bytes(), nil
}

// SetupBaseLogger configures the shared logrus instance and Gin writers.
// It is safe to call multiple times; initialization happens only once.
func SetupBaseLogger() {
	setupOnce.Do(func() {
		log.SetOutput(os.Stderr)
		log.SetReportCaller(true)
		log.SetFormatter(&LogFormatter{})

		ginInfoWriter = log.StandardLogger().Writer()
		gin.DefaultWriter = ginInfoWriter
		ginErrorWriter = log.StandardLogger().WriterLevel(log.ErrorLevel)
		gin.DefaultErrorWriter = ginErrorWriter
		gin.DebugPrintFunc = func(format string, values ...interface{}) {
			format = strings.TrimRight(format, "\r\n")
			log.StandardLogger().Debugf(format, values...)
		}

		log.RegisterExitHandler(CloseLogOutputs)
	})
}

// ResolveLogDirectory determines the directory used for log files: log-dir when configured,
// WRITABLE_PATH/logs when set, otherwise ~/.scanclient/logs.
func ResolveLogDirectory(cfg *config.Config) string {
	if cfg != nil && strings.TrimSpace(cfg.LogDir) != "" {
		dir, err := util.ResolvePath(cfg.LogDir)
		if err == nil {
			return dir
		}
		log.Warnf("failed to resolve log-dir %q: %v", cfg.LogDir, err)
	}
	if base := util.WritablePath(); base != "" {
		return filepath.Join(base, "logs")
	}
	dir, err := util.ResolvePath(filepath.Join("~", ".scanclient", "logs"))
	if err != nil || dir == "" {
		return "logs"
	}
	return dir
}

// ConfigureLogOutput switches the global log destination between a rotating file and stderr.
// When logs-max-total-size-mb > 0, a background cleaner removes the oldest log files until
// the directory fits the limit.
func ConfigureLogOutput(cfg *config.Config) error {
	SetupBaseLogger()
	util.SetLogLevel(cfg)

	writerMu.Lock()
	defer writerMu.Unlock()

	if cleaner != nil {
		cleaner.stop()
		cleaner = nil
	}
	if logWriter != nil {
		_ = logWriter.Close()
		logWriter = nil
	}
	if !cfg.LoggingToFile {
		log.SetOutput(os.Stderr)
		return nil
	}

	logDir := ResolveLogDirectory(cfg)
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return fmt.Errorf("logging: failed to create log directory: %w", err)
	}
	active := filepath.Join(logDir, LogFileName)
	logWriter = &lumberjack.Logger{
		Filename: active,
		MaxSize:  10,
		Compress: true,
	}
	log.SetOutput(logWriter)

	if cfg.LogsMaxTotalSizeMB > 0 {
		cleaner = newDirCleaner(logDir, int64(cfg.LogsMaxTotalSizeMB)<<20, active)
		cleaner.start()
	}
	return nil
}

// CloseLogOutputs flushes and closes the log file and stops the cleaner.
func CloseLogOutputs() {
	writerMu.Lock()
	defer writerMu.Unlock()

	if cleaner != nil {
		cleaner.stop()
		cleaner = nil
	}
	if logWriter != nil {
		_ = logWriter.Close()
		logWriter = nil
	}
	if ginInfoWriter != nil {
		_ = ginInfoWriter.Close()
		ginInfoWriter = nil
	}
	if ginErrorWriter != nil {
		_ = ginErrorWriter.Close()
		ginErrorWriter = nil
	}
}
