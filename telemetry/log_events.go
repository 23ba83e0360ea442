package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RecordExportCompletedEvent adds an export summary event to span
func RecordExportCompletedEvent(
	span trace.Span,
	exportID string,
	entity string,
	format string,
	filename string,
	rows int,
	columns int,
) {
	if span == nil {
		return
	}

	span.AddEvent("inventory.export.completed", trace.WithAttributes(
		attribute.String("event.type", "inventory.export.completed"),
		attribute.String("export.id", exportID),
		attribute.String("entity", entity),
		attribute.String("export.format", format),
		attribute.String("export.filename", filename),
		attribute.Int("export.rows", rows),
		attribute.Int("export.columns", columns),
	))
}

// RecordAccessDeniedEvent adds a permission denial event to span
func RecordAccessDeniedEvent(
	span trace.Span,
	user string,
	action string,
	entity string,
	objectID string,
) {
	if span == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("event.type", "inventory.access.denied"),
		attribute.String("user", user),
		attribute.String("action", action),
		attribute.String("entity", entity),
	}
	if objectID != "" {
		attrs = append(attrs, attribute.String("object.id", objectID))
	}

	span.AddEvent("inventory.access.denied", trace.WithAttributes(attrs...))
}

// RecordRecordDeletedEvent adds a deletion event to span
func RecordRecordDeletedEvent(
	span trace.Span,
	user string,
	entity string,
	pk int64,
) {
	if span == nil {
		return
	}

	span.AddEvent("inventory.record.deleted", trace.WithAttributes(
		attribute.String("event.type", "inventory.record.deleted"),
		attribute.String("user", user),
		attribute.String("entity", entity),
		attribute.Int64("object.id", pk),
	))
}

// RecordSyncCompletedEvent adds a provider sync summary event to span
func RecordSyncCompletedEvent(
	span trace.Span,
	provider string,
	region string,
	vpcsCreated int,
	vpcsUpdated int,
	instancesCreated int,
	instancesUpdated int,
	durationSeconds float64,
) {
	if span == nil {
		return
	}

	span.AddEvent("inventory.sync.completed", trace.WithAttributes(
		attribute.String("event.type", "inventory.sync.completed"),
		attribute.String("provider", provider),
		attribute.String("region", region),
		attribute.Int("vpcs.created", vpcsCreated),
		attribute.Int("vpcs.updated", vpcsUpdated),
		attribute.Int("instances.created", instancesCreated),
		attribute.Int("instances.updated", instancesUpdated),
		attribute.Float64("duration.seconds", durationSeconds),
	))
}
