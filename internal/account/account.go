// Package account builds the account log: one structured line per
// channel plus a final OK/fault line, the report a loader run produces
// regardless of how it ends.
package account

import (
	"io"

	"github.com/sirupsen/logrus"

	"github.com/zerovm-go/loader/internal/manifest"
)

// ErrorKind names one of the fixed error categories each mapped to an
// exit code and a single structured log line (spec.md §7).
type ErrorKind string

const (
	BadCmdline           ErrorKind = "bad-cmdline"
	BadManifest          ErrorKind = "bad-manifest"
	BadVersion           ErrorKind = "bad-version"
	MissingFile          ErrorKind = "missing-file"
	BadELF               ErrorKind = "bad-elf"
	TooLarge             ErrorKind = "too-large"
	Overlap              ErrorKind = "overlap"
	BadText              ErrorKind = "bad-text"
	QualificationFailed  ErrorKind = "qualification-failed"
	GuestFault           ErrorKind = "guest-fault"
	OOM                  ErrorKind = "oom"
)

// NewLogger builds a logrus.Logger writing to w, with its level set from
// the loader's -v verbosity: N<=0 maps to Info, 1 to Debug, >=2 to
// Trace. Info is the floor rather than Warn because LogChannel and
// LogOK log at Info — the account log's one-line-per-channel-plus-OK
// report (spec.md §7) must appear with no -v flag at all, not only once
// the caller asks for extra diagnostic verbosity.
func NewLogger(w io.Writer, verbosity int) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(w)
	switch {
	case verbosity >= 2:
		log.SetLevel(logrus.TraceLevel)
	case verbosity == 1:
		log.SetLevel(logrus.DebugLevel)
	default:
		log.SetLevel(logrus.InfoLevel)
	}
	return log
}

// LogChannel writes one structured line per declared channel, the
// per-channel half of the account log spec.md §8 scenario 1 expects.
func LogChannel(log *logrus.Logger, ch manifest.Channel) {
	log.WithFields(logrus.Fields{
		"alias":          ch.Alias,
		"uri":            ch.URI,
		"type":           ch.Type.String(),
		"gets_count_max": ch.GetsCountMax,
		"gets_bytes_max": ch.GetsBytesMax,
		"puts_count_max": ch.PutsCountMax,
		"puts_bytes_max": ch.PutsBytesMax,
	}).Info("channel")
}

// LogOK writes the terminal success line.
func LogOK(log *logrus.Logger) {
	log.Info("OK")
}

// LogError writes the terminal error line for kind, with detail as the
// human-readable cause.
func LogError(log *logrus.Logger, kind ErrorKind, detail error) {
	log.WithFields(logrus.Fields{
		"error_kind": string(kind),
	}).WithError(detail).Error("loader failed")
}
