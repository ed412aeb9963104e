package session

import "go.opentelemetry.io/otel"

const scopeName = "github.com/xiaoai/assistant/internal/session"

var tracer = otel.Tracer(scopeName)
