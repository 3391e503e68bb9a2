package sink

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/pipestat/pipestat/internal/event"
)

// LogSink writes each summary event as a structured log line.
type LogSink struct {
	log logrus.FieldLogger
}

// NewLogSink creates a sink logging summaries at info level.
func NewLogSink(log logrus.FieldLogger) *LogSink {
	return &LogSink{
		log: log.WithField("component", "sink/log"),
	}
}

func (s *LogSink) Name() string {
	return "log"
}

func (s *LogSink) Start(_ context.Context) error {
	return nil
}

func (s *LogSink) Stop(_ context.Context) error {
	return nil
}

// Emit logs one line per summary with the event's fields attached.
func (s *LogSink) Emit(_ context.Context, summaries []*event.Event) error {
	for _, ev := range summaries {
		s.log.WithFields(logrus.Fields(ev.Fields())).Info("Summary")
	}

	return nil
}
