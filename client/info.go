package client

import (
	"encoding/json"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/shirou/gopsutil/process"

	"github.com/Bakeneke/nearcore/core/types"
	"github.com/Bakeneke/nearcore/network"
)

var (
	blocksPerSecGauge = metrics.NewRegisteredGaugeFloat64("client/blocks_per_sec", nil)
	txPerSecGauge     = metrics.NewRegisteredGaugeFloat64("client/tx_per_sec", nil)
)

// Signer signs arbitrary payloads with the block producer key.
type Signer interface {
	Sign(data []byte) []byte
}

// BlockProducer is the identity this node validates under, if any.
type BlockProducer struct {
	AccountID types.AccountID
	Signer    Signer
}

// TelemetryReporter receives the periodic signed status beacon.
type TelemetryReporter interface {
	Report(payload []byte)
}

// InfoHelper prints periodic chain progress and reports a signed status
// beacon to telemetry. The rate counters are atomic: blocks are recorded by
// the chain event consumer while the summary runs on the engine loop.
type InfoHelper struct {
	started            time.Time
	numBlocksProcessed atomic.Uint64
	numTxProcessed     atomic.Uint64

	proc          *process.Process
	blockProducer *BlockProducer
	telemetry     TelemetryReporter
}

// NewInfoHelper creates an info helper. Both the telemetry reporter and the
// block producer are optional.
func NewInfoHelper(telemetry TelemetryReporter, blockProducer *BlockProducer) *InfoHelper {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		proc = nil
	}
	return &InfoHelper{
		started:       time.Now(),
		proc:          proc,
		blockProducer: blockProducer,
		telemetry:     telemetry,
	}
}

// BlockProcessed records one applied block for the rate averages.
func (ih *InfoHelper) BlockProcessed(numTransactions uint64) {
	ih.numBlocksProcessed.Add(1)
	ih.numTxProcessed.Add(numTransactions)
}

// Info emits one progress line and the telemetry beacon, then resets the
// rate counters.
func (ih *InfoHelper) Info(head *types.Tip, syncStatus *SyncStatus, nodeID network.PeerID, netInfo *network.Info, isValidator bool, numValidators int) {
	var (
		cpuUsage float64
		memory   uint64
	)
	if ih.proc != nil {
		if cpu, err := ih.proc.CPUPercent(); err == nil {
			cpuUsage = cpu
		}
		if mem, err := ih.proc.MemoryInfo(); err == nil {
			memory = mem.RSS
		}
	}

	elapsed := time.Since(ih.started).Seconds()
	if elapsed <= 0 {
		elapsed = 1
	}
	avgBls := float64(ih.numBlocksProcessed.Swap(0)) / elapsed
	avgTps := float64(ih.numTxProcessed.Swap(0)) / elapsed
	blocksPerSecGauge.Update(avgBls)
	txPerSecGauge.Update(avgTps)

	validator := "-"
	if isValidator {
		validator = "V"
	}
	log.Info(displaySyncStatus(syncStatus, head),
		"validators", fmt.Sprintf("%s/%d", validator, numValidators),
		"peers", fmt.Sprintf("%d/%d/%d", netInfo.NumActivePeers, len(netInfo.MostWeightPeers), netInfo.PeerMaxCount),
		"traffic", fmt.Sprintf("down %s up %s", prettyBytesPerSec(netInfo.ReceivedBytesPerSec), prettyBytesPerSec(netInfo.SentBytesPerSec)),
		"rate", fmt.Sprintf("%.2f bls %.2f tps", avgBls, avgTps),
		"cpu", fmt.Sprintf("%.0f%%", cpuUsage),
		"mem", prettyBytes(memory))

	ih.started = time.Now()

	if ih.telemetry != nil {
		ih.telemetry.Report(ih.statusBeacon(head, syncStatus, nodeID, netInfo, isValidator, cpuUsage, memory))
	}
}

// statusBeacon assembles the status JSON, signed with the block producer key
// when one is configured.
func (ih *InfoHelper) statusBeacon(head *types.Tip, syncStatus *SyncStatus, nodeID network.PeerID, netInfo *network.Info, isValidator bool, cpuUsage float64, memory uint64) []byte {
	var accountID types.AccountID
	if ih.blockProducer != nil {
		accountID = ih.blockProducer.AccountID
	}
	payload := map[string]interface{}{
		"account_id":          accountID,
		"is_validator":        isValidator,
		"node_id":             nodeID,
		"status":              displaySyncStatus(syncStatus, head),
		"latest_block_hash":   head.LastBlockHash,
		"latest_block_height": head.Height,
		"num_peers":           netInfo.NumActivePeers,
		"bandwidth_download":  netInfo.ReceivedBytesPerSec,
		"bandwidth_upload":    netInfo.SentBytesPerSec,
		"cpu":                 cpuUsage,
		"memory":              memory,
	}
	signature := ""
	if ih.blockProducer != nil && ih.blockProducer.Signer != nil {
		if unsigned, err := json.Marshal(payload); err == nil {
			signature = fmt.Sprintf("%x", ih.blockProducer.Signer.Sign(unsigned))
		}
	}
	payload["signature"] = signature
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error("Failed to marshal status beacon", "err", err)
		return nil
	}
	return data
}

func displaySyncStatus(syncStatus *SyncStatus, head *types.Tip) string {
	switch syncStatus.Kind {
	case SyncStatusAwaitingPeers:
		return fmt.Sprintf("#%8d Waiting for peers", head.Height)
	case SyncStatusNoSync:
		return fmt.Sprintf("#%8d %s", head.Height, head.LastBlockHash)
	case SyncStatusHeaderSync:
		percent := uint64(0)
		if syncStatus.HighestHeight > 0 {
			current := syncStatus.CurrentHeight
			if current > syncStatus.HighestHeight {
				current = syncStatus.HighestHeight
			}
			percent = current * 100 / syncStatus.HighestHeight
		}
		return fmt.Sprintf("#%8d Downloading headers %d%%", head.Height, percent)
	case SyncStatusBodySync:
		percent := uint64(0)
		if syncStatus.HighestHeight > 0 {
			percent = syncStatus.CurrentHeight * 100 / syncStatus.HighestHeight
		}
		return fmt.Sprintf("#%8d Downloading blocks %d%%", syncStatus.CurrentHeight, percent)
	case SyncStatusStateSync:
		res := "State "
		for shardID, shardStatus := range syncStatus.ShardStatuses {
			res += fmt.Sprintf("%d: %s", shardID, shardStatus)
		}
		return res
	case SyncStatusStateSyncDone:
		return "State sync done"
	default:
		return ""
	}
}

const (
	kilobyte = 1024
	megabyte = kilobyte * 1024
	gigabyte = megabyte * 1024
)

// prettyBytesPerSec formats bandwidth in a short human-readable way.
func prettyBytesPerSec(num uint64) string {
	switch {
	case num < 100:
		return fmt.Sprintf("%d B/s", num)
	case num < megabyte:
		return fmt.Sprintf("%.1fkiB/s", float64(num)/kilobyte)
	default:
		return fmt.Sprintf("%.1fMiB/s", float64(num)/megabyte)
	}
}

func prettyBytes(num uint64) string {
	switch {
	case num < kilobyte:
		return fmt.Sprintf("%d B", num)
	case num < megabyte:
		return fmt.Sprintf("%.1f kiB", float64(num)/kilobyte)
	case num < gigabyte:
		return fmt.Sprintf("%.1f MiB", float64(num)/megabyte)
	default:
		return fmt.Sprintf("%.1f GiB", float64(num)/gigabyte)
	}
}
