package observability

import "go.opentelemetry.io/otel/attribute"

func runIDAttr(v string) attribute.KeyValue       { return attribute.String("run_id", v) }
func statusAttr(v string) attribute.KeyValue      { return attribute.String("status", v) }
func modelAttr(v string) attribute.KeyValue       { return attribute.String("model", v) }
func directionAttr(v string) attribute.KeyValue   { return attribute.String("direction", v) }
func toolAttr(v string) attribute.KeyValue        { return attribute.String("tool", v) }
func componentAttr(v string) attribute.KeyValue   { return attribute.String("component", v) }
func kindAttr(v string) attribute.KeyValue        { return attribute.String("kind", v) }
func methodAttr(v string) attribute.KeyValue      { return attribute.String("method", v) }
func routeAttr(v string) attribute.KeyValue       { return attribute.String("route", v) }
func statusCodeAttr(v int) attribute.KeyValue     { return attribute.Int("status_code", v) }
