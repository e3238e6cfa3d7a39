package telemetry

import (
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

const (
	spanKey = "telemetry:span"

	// Statements longer than this are truncated in span attributes
	maxStatementLength = 500
)

// GORMPlugin traces every gorm create, query, update, delete and raw statement
type GORMPlugin struct {
	tracer trace.Tracer
}

// NewGORMPlugin creates the plugin. A nil provider uses the global one.
func NewGORMPlugin(tp trace.TracerProvider) *GORMPlugin {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &GORMPlugin{tracer: tp.Tracer("gorm")}
}

// Name implements gorm.Plugin
func (p *GORMPlugin) Name() string {
	return "telemetry:tracing"
}

// Initialize implements gorm.Plugin
func (p *GORMPlugin) Initialize(db *gorm.DB) error {
	cb := db.Callback()
	hooks := []struct {
		op     string
		before func(string, func(*gorm.DB)) error
		after  func(string, func(*gorm.DB)) error
	}{
		{"INSERT", cb.Create().Before("gorm:create").Register, cb.Create().After("gorm:create").Register},
		{"SELECT", cb.Query().Before("gorm:query").Register, cb.Query().After("gorm:query").Register},
		{"UPDATE", cb.Update().Before("gorm:update").Register, cb.Update().After("gorm:update").Register},
		{"DELETE", cb.Delete().Before("gorm:delete").Register, cb.Delete().After("gorm:delete").Register},
		{"RAW", cb.Raw().Before("gorm:raw").Register, cb.Raw().After("gorm:raw").Register},
	}

	for _, h := range hooks {
		op := h.op
		name := strings.ToLower(op)
		if err := h.before("telemetry:before_"+name, func(db *gorm.DB) { p.start(db, op) }); err != nil {
			return fmt.Errorf("register before_%s: %w", name, err)
		}
		if err := h.after("telemetry:after_"+name, p.end); err != nil {
			return fmt.Errorf("register after_%s: %w", name, err)
		}
	}
	return nil
}

func (p *GORMPlugin) start(db *gorm.DB, operation string) {
	ctx := db.Statement.Context
	if ctx == nil {
		return
	}

	table := db.Statement.Table
	if table == "" {
		table = "unknown"
	}

	_, span := p.tracer.Start(ctx, "db."+strings.ToLower(operation),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", db.Dialector.Name()),
			attribute.String("db.table", table),
			attribute.String("db.operation", operation),
		),
	)
	db.InstanceSet(spanKey, span)
}

func (p *GORMPlugin) end(db *gorm.DB) {
	v, ok := db.InstanceGet(spanKey)
	if !ok {
		return
	}
	span, ok := v.(trace.Span)
	if !ok {
		return
	}
	defer span.End()

	if sql := db.Statement.SQL.String(); sql != "" {
		if len(sql) > maxStatementLength {
			sql = sql[:maxStatementLength] + "... (truncated)"
		}
		span.SetAttributes(attribute.String("db.statement", sql))
	}
	span.SetAttributes(attribute.Int64("db.rows_affected", db.RowsAffected))

	if db.Error != nil && !errors.Is(db.Error, gorm.ErrRecordNotFound) {
		span.RecordError(db.Error)
		span.SetStatus(codes.Error, db.Error.Error())
	}
}
