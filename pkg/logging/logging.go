// Package logging bridges the Nix daemon's stderr/log sub-protocol
// (daemon.LogMessage) onto github.com/rs/zerolog, so embedders get
// conventional structured logs instead of having to switch on message type
// themselves.
package logging

import (
	"github.com/rs/zerolog"

	"github.com/Enzime/hnix-store/pkg/daemon"
)

// Bridge consumes daemon.LogMessage values from a channel and emits them as
// zerolog events until the channel is closed.
type Bridge struct {
	logger zerolog.Logger
}

// NewBridge creates a Bridge that logs through the given zerolog.Logger.
func NewBridge(logger zerolog.Logger) *Bridge {
	return &Bridge{logger: logger.With().Str("component", "nix-daemon").Logger()}
}

// Run drains ch, logging each message, until ch is closed.
func (b *Bridge) Run(ch <-chan daemon.LogMessage) {
	for msg := range ch {
		b.log(msg)
	}
}

func (b *Bridge) log(msg daemon.LogMessage) {
	switch msg.Type {
	case daemon.LogNext:
		b.logger.Info().Msg(msg.Text)

	case daemon.LogStartActivity:
		if msg.Activity == nil {
			return
		}

		ev := b.logger.WithLevel(verbosityLevel(msg.Activity.Level)).
			Uint64("activity_id", msg.Activity.ID).
			Str("activity_type", activityTypeName(msg.Activity.Type))

		addFields(ev, msg.Activity.Fields)
		ev.Msg(msg.Activity.Text)

	case daemon.LogStopActivity:
		b.logger.Debug().Uint64("activity_id", msg.ActivityID).Msg("activity stopped")

	case daemon.LogResult:
		if msg.Result == nil {
			return
		}

		ev := b.logger.Debug().
			Uint64("activity_id", msg.Result.ID).
			Uint64("result_type", uint64(msg.Result.Type))

		addFields(ev, msg.Result.Fields)
		ev.Msg("activity result")
	}
}

func addFields(ev *zerolog.Event, fields []daemon.LogField) {
	for i, f := range fields {
		if f.IsInt {
			ev.Uint64(fieldName(i), f.Int)
		} else {
			ev.Str(fieldName(i), f.String)
		}
	}
}

func fieldName(i int) string {
	// The wire protocol carries fields positionally with no names; index
	// them so distinct fields in the same event don't collide in the log.
	names := [...]string{"field0", "field1", "field2", "field3", "field4"}
	if i < len(names) {
		return names[i]
	}

	return "field_extra"
}

func verbosityLevel(v daemon.Verbosity) zerolog.Level {
	switch {
	case v <= daemon.VerbWarn:
		return zerolog.WarnLevel
	case v <= daemon.VerbInfo:
		return zerolog.InfoLevel
	default:
		return zerolog.DebugLevel
	}
}

func activityTypeName(t daemon.ActivityType) string {
	switch t {
	case daemon.ActCopyPath:
		return "copy-path"
	case daemon.ActFileTransfer:
		return "file-transfer"
	case daemon.ActRealise:
		return "realise"
	case daemon.ActCopyPaths:
		return "copy-paths"
	case daemon.ActBuilds:
		return "builds"
	case daemon.ActBuild:
		return "build"
	case daemon.ActOptimiseStore:
		return "optimise-store"
	case daemon.ActVerifyPaths:
		return "verify-paths"
	case daemon.ActSubstitute:
		return "substitute"
	case daemon.ActQueryPathInfo:
		return "query-path-info"
	case daemon.ActPostBuildHook:
		return "post-build-hook"
	case daemon.ActBuildWaiting:
		return "build-waiting"
	default:
		return "unknown"
	}
}
