package logging_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Enzime/hnix-store/pkg/daemon"
	"github.com/Enzime/hnix-store/pkg/logging"
)

func TestBridgeLogsNext(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	bridge := logging.NewBridge(logger)

	ch := make(chan daemon.LogMessage, 1)
	ch <- daemon.LogMessage{Type: daemon.LogNext, Text: "building foo"}
	close(ch)

	bridge.Run(ch)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "building foo", entry["message"])
	assert.Equal(t, "nix-daemon", entry["component"])
}

func TestBridgeLogsActivityFields(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	bridge := logging.NewBridge(logger)

	ch := make(chan daemon.LogMessage, 1)
	ch <- daemon.LogMessage{
		Type: daemon.LogStartActivity,
		Activity: &daemon.Activity{
			ID:   1,
			Type: daemon.ActCopyPath,
			Text: "copying /nix/store/foo",
			Fields: []daemon.LogField{
				{IsInt: false, String: "/nix/store/foo"},
			},
		},
	}
	close(ch)

	bridge.Run(ch)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "copy-path", entry["activity_type"])
	assert.Equal(t, "/nix/store/foo", entry["field0"])
}
