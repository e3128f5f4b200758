// Package logging provides component-scoped structured loggers shared
// across codeforge's pipelines, queues, and external-collaborator clients.
package logging

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
)

// Logger is the structured logging contract used throughout codeforge.
// Messages follow printf-style formatting, matching the rest of the
// call sites (components format their own messages rather than passing
// key/value pairs).
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)

	// With returns a derived logger that prefixes every message with an
	// additional field, e.g. a job ID or repo ID.
	With(key, value string) Logger
}

// componentLogger writes lines of the form:
//
//	2026/07/29 10:15:00 [INFO] [component] [key=value] message
//
// The bracketed key=value group appears only on loggers derived via With.
type componentLogger struct {
	component string
	fields    []string
	mu        *sync.Mutex
	std       *log.Logger
}

// NewComponentLogger returns a Logger scoped to a named component, e.g.
// "BM25Index" or "GenerationPipeline".
func NewComponentLogger(component string) Logger {
	return &componentLogger{
		component: component,
		mu:        &sync.Mutex{},
		std:       log.New(os.Stderr, "", log.LstdFlags),
	}
}

func (c *componentLogger) With(key, value string) Logger {
	fields := make([]string, len(c.fields), len(c.fields)+1)
	copy(fields, c.fields)
	fields = append(fields, fmt.Sprintf("%s=%s", key, value))
	return &componentLogger{component: c.component, fields: fields, mu: c.mu, std: c.std}
}

func (c *componentLogger) emit(level, format string, args ...any) {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.fields) == 0 {
		c.std.Printf("[%s] [%s] %s", level, c.component, msg)
		return
	}
	c.std.Printf("[%s] [%s] [%s] %s", level, c.component, joinFields(c.fields), msg)
}

func joinFields(fields []string) string {
	out := fields[0]
	for _, f := range fields[1:] {
		out += " " + f
	}
	return out
}

func (c *componentLogger) Debug(format string, args ...any) { c.emit("DEBUG", format, args...) }
func (c *componentLogger) Info(format string, args ...any)  { c.emit("INFO", format, args...) }
func (c *componentLogger) Warn(format string, args ...any)  { c.emit("WARN", format, args...) }
func (c *componentLogger) Error(format string, args ...any) { c.emit("ERROR", format, args...) }

// nopLogger discards everything. Used when a caller passes a nil logger.
type nopLogger struct{}

func (nopLogger) Debug(string, ...any)    {}
func (nopLogger) Info(string, ...any)     {}
func (nopLogger) Warn(string, ...any)     {}
func (nopLogger) Error(string, ...any)    {}
func (n nopLogger) With(string, string) Logger { return n }

// Nop is a singleton no-op logger.
var Nop Logger = nopLogger{}

// OrNop returns logger unless it is nil, in which case it returns Nop.
// Every constructor in codeforge accepts a possibly-nil Logger and calls
// this at the boundary, so callers never need to guard against nil.
func OrNop(logger Logger) Logger {
	if IsNil(logger) {
		return Nop
	}
	return logger
}

// IsNil reports whether logger is a nil interface or a nil component logger.
func IsNil(logger Logger) bool {
	if logger == nil {
		return true
	}
	if c, ok := logger.(*componentLogger); ok {
		return c == nil
	}
	return false
}

type ctxKey struct{}

// WithContext attaches a logger to ctx so deep call chains (pipeline ->
// retriever -> bm25) can recover it without threading it through every
// function signature explicitly.
func WithContext(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// FromContext recovers the logger attached by WithContext, falling back
// to fallback when ctx carries none.
func FromContext(ctx context.Context, fallback Logger) Logger {
	if l, ok := ctx.Value(ctxKey{}).(Logger); ok && !IsNil(l) {
		return l
	}
	return OrNop(fallback)
}
