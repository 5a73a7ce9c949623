package simpleindex

import (
	"context"
	"log/slog"
)

// NoopEventSink is a no-operation implementation of EventSink
type NoopEventSink struct{}

// NewNoopEventSink creates a new no-operation event sink
func NewNoopEventSink() EventSink {
	return &NoopEventSink{}
}

func (n *NoopEventSink) ProjectCreated(ctx context.Context, project *Project) error {
	return nil
}

func (n *NoopEventSink) ReleaseRegistered(ctx context.Context, release *Release) error {
	return nil
}

func (n *NoopEventSink) ArtifactUploaded(ctx context.Context, release *Release) error {
	return nil
}

// LogEventSink writes registry events to a structured logger
type LogEventSink struct {
	logger *slog.Logger
}

// NewLogEventSink creates an event sink that logs through logger.
// A nil logger falls back to slog.Default().
func NewLogEventSink(logger *slog.Logger) EventSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogEventSink{logger: logger}
}

func (l *LogEventSink) ProjectCreated(ctx context.Context, project *Project) error {
	l.logger.InfoContext(ctx, "project created", "project", project.Name, "owner", project.Owner)
	return nil
}

func (l *LogEventSink) ReleaseRegistered(ctx context.Context, release *Release) error {
	l.logger.InfoContext(ctx, "release registered",
		"project", release.ProjectName,
		"version", release.Version,
		"classifiers", len(release.Classifiers))
	return nil
}

func (l *LogEventSink) ArtifactUploaded(ctx context.Context, release *Release) error {
	if release.Artifact == nil {
		return nil
	}
	l.logger.InfoContext(ctx, "artifact uploaded",
		"project", release.ProjectName,
		"version", release.Version,
		"filename", release.Artifact.Filename,
		"size", release.Artifact.Size,
		"sha256", release.Artifact.SHA256)
	return nil
}
