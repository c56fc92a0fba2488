// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package runner

import (
	"io"
	"os"
	"sync"
)

// Stream selects standard output or standard error.
type Stream int

const (
	Stdout Stream = iota
	Stderr
)

// Decorator restyles a message before it is written.
type Decorator func(stream Stream, msg string) string

// SinkOption configures a Sink.
type SinkOption func(*Sink)

// WithDecorator sets the message decorator.
func WithDecorator(d Decorator) SinkOption {
	return func(s *Sink) { s.decorate = d }
}

// Sink writes one-line status messages to two streams.
type Sink struct {
	mu       sync.Mutex
	out      io.Writer
	errOut   io.Writer
	decorate Decorator
}

// NewSink returns a sink writing to out and errOut.
func NewSink(out, errOut io.Writer, opts ...SinkOption) *Sink {
	s := &Sink{out: out, errOut: errOut}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DefaultSink writes to the process's stdout and stderr.
func DefaultSink() *Sink {
	return NewSink(os.Stdout, os.Stderr)
}

type flusher interface {
	Flush() error
}

// Emit writes msg and a newline, flushing buffered writers.
func (s *Sink) Emit(stream Stream, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.out
	if stream == Stderr {
		w = s.errOut
	}
	if w == nil {
		return
	}
	if s.decorate != nil {
		msg = s.decorate(stream, msg)
	}
	io.WriteString(w, msg+"\n")
	if f, ok := w.(flusher); ok {
		f.Flush()
	}
}
