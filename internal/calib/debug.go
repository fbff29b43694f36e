package calib

import (
	"io"
	"log"
	"sync"
)

// LogWriters routes the calibration log streams. A nil writer silences its
// stream.
//
//   - Ops: aborted measurements and failed fits, the lines an operator
//     acts on.
//   - Diag: one summary per measurement or fit, such as surviving point
//     counts, residual RMS and condition numbers.
//   - Trace: one line per dropped pinhole and exposure, for chasing a bad
//     threshold or radius.
type LogWriters struct {
	Ops   io.Writer
	Diag  io.Writer
	Trace io.Writer
}

type stream int

const (
	streamOps stream = iota
	streamDiag
	streamTrace
	numStreams
)

const logPrefix = "[calib] "

var (
	mu      sync.RWMutex
	loggers [numStreams]*log.Logger
)

// SetLogWriters replaces all three streams at once.
func SetLogWriters(w LogWriters) {
	mu.Lock()
	defer mu.Unlock()
	for s, out := range [numStreams]io.Writer{w.Ops, w.Diag, w.Trace} {
		loggers[s] = nil
		if out != nil {
			loggers[s] = log.New(out, logPrefix, log.LstdFlags|log.Lmicroseconds)
		}
	}
}

func logf(s stream, format string, args []interface{}) {
	mu.RLock()
	l := loggers[s]
	mu.RUnlock()
	if l != nil {
		l.Printf(format, args...)
	}
}

// Opsf logs to the ops stream.
func Opsf(format string, args ...interface{}) { logf(streamOps, format, args) }

// Diagf logs to the diag stream.
func Diagf(format string, args ...interface{}) { logf(streamDiag, format, args) }

// Tracef logs to the trace stream.
func Tracef(format string, args ...interface{}) { logf(streamTrace, format, args) }
