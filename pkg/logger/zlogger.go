/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package logger

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// zlogger is the concrete Logger backing every non-test instance in this
// module: one zerolog.Logger per component, created with New and narrowed
// further with WithComponent/WithFields.
type zlogger struct {
	z zerolog.Logger
}

// New builds a Logger from Config, writing JSON lines to stdout or stderr.
func New(cfg Config) (Logger, error) {
	var output io.Writer = os.Stdout
	if cfg.Output == "stderr" {
		output = os.Stderr
	}

	level := zerolog.InfoLevel
	if cfg.Debug {
		level = zerolog.DebugLevel
	} else if cfg.Level != "" {
		l, err := zerolog.ParseLevel(cfg.Level)
		if err != nil {
			return nil, err
		}
		level = l
	}

	return &zlogger{z: zerolog.New(output).Level(level).With().Timestamp().Logger()}, nil
}

func newFrom(z zerolog.Logger) Logger { return &zlogger{z: z} }

func (l *zlogger) Trace() *zerolog.Event { return l.z.Trace() }
func (l *zlogger) Debug() *zerolog.Event { return l.z.Debug() }
func (l *zlogger) Info() *zerolog.Event  { return l.z.Info() }
func (l *zlogger) Warn() *zerolog.Event  { return l.z.Warn() }
func (l *zlogger) Error() *zerolog.Event { return l.z.Error() }
func (l *zlogger) Fatal() *zerolog.Event { return l.z.Fatal() }
func (l *zlogger) Panic() *zerolog.Event { return l.z.Panic() }
func (l *zlogger) With() zerolog.Context { return l.z.With() }

func (l *zlogger) WithComponent(component string) zerolog.Logger {
	return l.z.With().Str("component", component).Logger()
}

func (l *zlogger) WithFields(fields map[string]interface{}) zerolog.Logger {
	ctx := l.z.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return ctx.Logger()
}

func (l *zlogger) SetLevel(level zerolog.Level) {
	l.z = l.z.Level(level)
}

func (l *zlogger) SetDebug(debug bool) {
	if debug {
		l.SetLevel(zerolog.DebugLevel)
	} else {
		l.SetLevel(zerolog.InfoLevel)
	}
}

// Scoped returns a new Logger that prefixes every event with fields,
// mirroring the Java original's MDC.put(...) calls that tag every log line
// for the lifetime of a task with connector_name and session_id.
func Scoped(base Logger, fields map[string]interface{}) Logger {
	return newFrom(base.WithFields(fields))
}
