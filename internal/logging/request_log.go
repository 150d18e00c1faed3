// Package logging provides the optional request log: one line per request
// written to a size-rotated file, independent of the console logger.
package logging

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// RequestLogger writes request summaries to a rotating file.
type RequestLogger struct {
	writer *lumberjack.Logger
}

// NewRequestLogger opens the rotating request log.
//
// Parameters:
//   - path: The log file path
//
// Returns:
//   - *RequestLogger: The logger
func NewRequestLogger(path string) *RequestLogger {
	return &RequestLogger{
		writer: &lumberjack.Logger{
			Filename:   path,
			MaxSize:    50, // megabytes
			MaxBackups: 5,
			MaxAge:     14, // days
			Compress:   true,
		},
	}
}

// Close flushes and closes the underlying file.
func (l *RequestLogger) Close() error {
	if l == nil {
		return nil
	}
	return l.writer.Close()
}

// Middleware returns a gin handler that records one line per request.
func (l *RequestLogger) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		elapsed := time.Since(start)

		line := fmt.Sprintf("%s %s %s %d %dB %s\n",
			start.Format(time.RFC3339),
			c.Request.Method,
			c.Request.URL.Path,
			c.Writer.Status(),
			c.Writer.Size(),
			elapsed.Round(time.Millisecond),
		)
		if _, err := l.writer.Write([]byte(line)); err != nil {
			log.Errorf("request log write failed: %v", err)
		}
	}
}
