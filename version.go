package eventlog

// InstrumentationVersion is reported by the otel tracer and meter of this module.
const InstrumentationVersion = "0.4.0"
