package client

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// SyncStatusKind is the phase the sync controller is in.
type SyncStatusKind int

const (
	// SyncStatusNoSync means the node is caught up and following the chain.
	SyncStatusNoSync SyncStatusKind = iota
	// SyncStatusAwaitingPeers means the node has no peers to sync from yet.
	SyncStatusAwaitingPeers
	// SyncStatusHeaderSync means headers are being downloaded.
	SyncStatusHeaderSync
	// SyncStatusStateSync means shard state snapshots are being downloaded.
	SyncStatusStateSync
	// SyncStatusStateSyncDone means state finished and header sync may resume.
	SyncStatusStateSyncDone
	// SyncStatusBodySync means full blocks are being downloaded.
	SyncStatusBodySync
)

// SyncStatus is the current sync phase together with its progress payload.
type SyncStatus struct {
	Kind          SyncStatusKind
	CurrentHeight uint64
	HighestHeight uint64

	// State sync payload.
	StateSyncHash common.Hash
	ShardStatuses map[uint64]*ShardSyncStatus
}

// IsSyncing reports whether any sync phase is active.
func (s *SyncStatus) IsSyncing() bool {
	return s.Kind != SyncStatusNoSync
}

func (s *SyncStatus) String() string {
	switch s.Kind {
	case SyncStatusAwaitingPeers:
		return "awaiting peers"
	case SyncStatusHeaderSync:
		return fmt.Sprintf("header sync %d/%d", s.CurrentHeight, s.HighestHeight)
	case SyncStatusStateSync:
		return fmt.Sprintf("state sync %s", s.StateSyncHash)
	case SyncStatusStateSyncDone:
		return "state sync done"
	case SyncStatusBodySync:
		return fmt.Sprintf("body sync %d/%d", s.CurrentHeight, s.HighestHeight)
	default:
		return "no sync"
	}
}

// ShardSyncStatusKind is the state of one shard's snapshot download.
type ShardSyncStatusKind int

const (
	// ShardSyncStateDownload means the snapshot is being fetched.
	ShardSyncStateDownload ShardSyncStatusKind = iota
	// ShardSyncStateValidation means the snapshot is being validated.
	ShardSyncStateValidation
	// ShardSyncStateDone means the shard finished.
	ShardSyncStateDone
	// ShardSyncStateError means the shard download failed.
	ShardSyncStateError
)

// ShardSyncStatus tracks one shard through state sync.
type ShardSyncStatus struct {
	Kind ShardSyncStatusKind

	StartTime          time.Time
	PrevUpdateTime     time.Time
	PrevDownloadedSize uint64
	DownloadedSize     uint64
	TotalSize          uint64

	Error string
}

func (s *ShardSyncStatus) String() string {
	switch s.Kind {
	case ShardSyncStateValidation:
		return "validation"
	case ShardSyncStateDone:
		return "done"
	case ShardSyncStateError:
		return fmt.Sprintf("error %s", s.Error)
	default:
		return "download"
	}
}
