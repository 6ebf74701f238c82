package ingest

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/basekick-labs/lpstream/internal/logger"
	"github.com/basekick-labs/lpstream/internal/metrics"
	"github.com/basekick-labs/lpstream/pkg/lineprotocol"
)

// diagnosticBurst is how many discarded lines are logged per second before
// sampling kicks in. Every line is still counted.
const diagnosticBurst = 20

// Diagnostics returns a DiagnosticFunc that counts every discarded line by
// error kind and logs a sampled subset of them.
func Diagnostics(logger zerolog.Logger) lineprotocol.DiagnosticFunc {
	sampled := logger.Sample(&zerolog.BurstSampler{
		Burst:  diagnosticBurst,
		Period: time.Second,
	})
	logLine := lineprotocol.LoggerDiagnostics(sampled)

	return func(err error) {
		metrics.Get().IncParserRejected(lineprotocol.ErrorKind(err))
		logLine(err)
	}
}

func defaultLogger() zerolog.Logger {
	return logger.Get("ingest")
}
