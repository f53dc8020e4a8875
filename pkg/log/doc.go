/*
Package log provides structured logging for relaymq using zerolog.

The log package wraps the zerolog library to provide JSON-structured
logging with component-specific child loggers, configurable log levels,
and helper functions for common logging patterns. All logs include
timestamps and support filtering by severity level.

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance, initialized via log.Init()
  - Accessible from all relaymq packages, thread-safe for concurrent use

Context Loggers:
  - WithComponent: tag logs with a component name ("router", "pool")
  - WithConnection: tag logs with a connection URI
  - WithQueue: tag logs with a fully-qualified queue name
  - WithManager: tag logs with a manager kind+id ("application", "app1")

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true, Output: os.Stdout})

	connLog := log.WithConnection("amqp://localhost")
	connLog.Info().Msg("connecting")

	queueLog := log.WithQueue("broker.network._.net1.uldata")
	queueLog.Error().Err(err).Msg("consume failed, will reconnect")

	mgrLog := log.WithManager("application", "app1")
	mgrLog.Info().Bool("ready", true).Msg("manager ready")

# Log Output

JSON (production):

	{"level":"info","component":"router","time":"2026-08-01T10:30:00Z","message":"routed uldata"}

Console (development):

	10:30:00 INF routed uldata component=router

# Design Patterns

Global logger + context-logger-per-concern, matching the pattern used
throughout relaymq's supervisor goroutines: one child logger is created
when a connection/queue/manager starts and reused for the lifetime of
that goroutine rather than re-deriving fields on every log call.
*/
package log
