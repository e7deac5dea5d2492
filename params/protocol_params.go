package params

import "time"

const (
	// MaxOrphanSize is the maximum number of orphan blocks the chain keeps buffered.
	MaxOrphanSize = 1024

	// MaxOrphanAge is how long an orphan may sit in the pool before eviction
	// considers it stale.
	MaxOrphanAge = 300 * time.Second

	// AcceptableFutureTime is how far into the future a block timestamp may be
	// before the block is refused.
	AcceptableFutureTime = 120 * time.Second

	// MaxBlockHeaders is the maximum number of block headers sent over the
	// network in one response.
	MaxBlockHeaders = 512

	// MaxBlockHeaderHashes is the maximum number of hashes in a header locator.
	MaxBlockHeaderHashes = 20

	// MaxBlockRequest is the maximum number of blocks requested in one sync step.
	MaxBlockRequest = 100

	// MaxPeerBlockRequest is the maximum number of blocks asked from a single peer.
	MaxPeerBlockRequest = 10

	// BlockRequestTimeout bounds how long block sync waits before declaring the
	// outstanding requests stale.
	BlockRequestTimeout = 6 * time.Second

	// BlockSomeReceivedTimeout is the deadline push applied whenever at least
	// one requested block arrives.
	BlockSomeReceivedTimeout = 1 * time.Second

	// BlockHeaderProgressTimeout is the deadline push applied while header sync
	// keeps making progress.
	BlockHeaderProgressTimeout = 2 * time.Second

	// HeaderSyncRequestTimeout is the deadline set whenever a header request
	// goes out.
	HeaderSyncRequestTimeout = 10 * time.Second

	// HeaderStallBanTimeout is how long a stall must persist against a peer
	// claiming the highest height before the peer is banned for height fraud.
	HeaderStallBanTimeout = 120 * time.Second

	// StateSyncTimeout bounds a single shard state download attempt.
	StateSyncTimeout = 10 * time.Minute

	// BlockRequestBroadcastOffset accounts for broadcast adding a few blocks to
	// the orphan pool while requests are in flight.
	BlockRequestBroadcastOffset = 2

	// OldBlockThreshold is how far below the chain head a duplicate block must
	// be for its sender to be flagged abusive.
	OldBlockThreshold = 50
)
