package client

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Bakeneke/nearcore/core/types"
	"github.com/Bakeneke/nearcore/network"
)

type recordingTelemetry struct {
	payloads [][]byte
}

func (r *recordingTelemetry) Report(payload []byte) {
	r.payloads = append(r.payloads, payload)
}

type staticSigner struct{}

func (staticSigner) Sign(data []byte) []byte { return []byte("signed") }

func TestInfoHelperBeacon(t *testing.T) {
	telemetry := &recordingTelemetry{}
	ih := NewInfoHelper(telemetry, &BlockProducer{AccountID: "validator.near", Signer: staticSigner{}})
	ih.BlockProcessed(3)
	ih.BlockProcessed(1)

	head := &types.Tip{Height: 42}
	status := &SyncStatus{Kind: SyncStatusNoSync}
	ih.Info(head, status, "node0", &network.Info{NumActivePeers: 2, PeerMaxCount: 40}, true, 10)

	require.Len(t, telemetry.payloads, 1)
	var beacon map[string]interface{}
	require.NoError(t, json.Unmarshal(telemetry.payloads[0], &beacon))
	require.Equal(t, "validator.near", beacon["account_id"])
	require.Equal(t, true, beacon["is_validator"])
	require.Equal(t, float64(42), beacon["latest_block_height"])
	require.NotEmpty(t, beacon["signature"])
}

func TestDisplaySyncStatus(t *testing.T) {
	head := &types.Tip{Height: 7}
	require.Contains(t, displaySyncStatus(&SyncStatus{Kind: SyncStatusAwaitingPeers}, head), "Waiting for peers")
	require.Contains(t, displaySyncStatus(&SyncStatus{Kind: SyncStatusHeaderSync, CurrentHeight: 50, HighestHeight: 100}, head), "headers 50%")
	require.Contains(t, displaySyncStatus(&SyncStatus{Kind: SyncStatusBodySync, CurrentHeight: 25, HighestHeight: 100}, head), "blocks 25%")
	require.Equal(t, "State sync done", displaySyncStatus(&SyncStatus{Kind: SyncStatusStateSyncDone}, head))
}

func TestPrettyBytes(t *testing.T) {
	require.Equal(t, "17 B", prettyBytes(17))
	require.Equal(t, "1.5 kiB", prettyBytes(1536))
	require.Equal(t, "2.0 MiB", prettyBytes(2*1024*1024))
	require.Equal(t, "90 B/s", prettyBytesPerSec(90))
	require.Equal(t, "1.5kiB/s", prettyBytesPerSec(1536))
}
