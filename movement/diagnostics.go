package movement

import "log"

// Diagnostics is a per-controller sink for non-fatal warnings and notices.
// It is injected so tests and embedders control where diagnostics go;
// nothing in this package writes to process-global state.
type Diagnostics interface {
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
}

type logDiagnostics struct{}

func (logDiagnostics) Infof(format string, args ...any) {
	log.Printf("movement: "+format, args...)
}

func (logDiagnostics) Warnf(format string, args ...any) {
	log.Printf("movement: WARN: "+format, args...)
}

type nopDiagnostics struct{}

func (nopDiagnostics) Infof(string, ...any) {}
func (nopDiagnostics) Warnf(string, ...any) {}

// NopDiagnostics discards all diagnostics. Useful in tests.
func NopDiagnostics() Diagnostics { return nopDiagnostics{} }
