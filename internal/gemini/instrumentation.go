package gemini

import "go.opentelemetry.io/otel"

const scopeName = "github.com/xiaoai/assistant/internal/gemini"

var tracer = otel.Tracer(scopeName)
