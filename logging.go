package duplex

import (
	"log"
	"os"

	"github.com/hashicorp/logutils"
)

// defaultLogger builds the logger used by an RPC when no WithLogger
// option is supplied: a standard *log.Logger backed by a
// logutils.LevelFilter, so router faults (DEBUG for ordinary connection
// teardown, WARN for recoverable per-call problems, ERROR for decode
// failures) are distinguishable without requiring every caller to wire
// up their own structured logger. The filter's minimum level is WARN, so
// DEBUG lines are dropped by default. Mirrors the Config.Logger field
// pattern used throughout hashicorp/serf's RPC client.
func defaultLogger() *log.Logger {
	filter := &logutils.LevelFilter{
		Levels:   []logutils.LogLevel{"DEBUG", "WARN", "ERROR"},
		MinLevel: logutils.LogLevel("WARN"),
		Writer:   os.Stderr,
	}
	return log.New(filter, "", log.LstdFlags)
}
