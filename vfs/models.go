package vfs

import "time"

// nowFunc is the time source, replaceable in tests.
var nowFunc = time.Now

// SourceCategory groups storage backends by their broad kind.
type SourceCategory string

const (
	CategoryLocal   SourceCategory = "local"
	CategoryCloud   SourceCategory = "cloud"
	CategoryNetwork SourceCategory = "network"
	CategoryHybrid  SourceCategory = "hybrid"
	CategoryBlock   SourceCategory = "block"
	CategoryCustom  SourceCategory = "custom"
)

// SourceStatus is the connection state of a mounted source.
type SourceStatus string

const (
	StatusConnected    SourceStatus = "connected"
	StatusConnecting   SourceStatus = "connecting"
	StatusDisconnected SourceStatus = "disconnected"
	StatusError        SourceStatus = "error"
)

// Capability is a single backend capability flag.
type Capability uint8

const (
	CapAtomicRename Capability = 1 << iota
	CapMultipartUpload
	CapPresignedURL
	CapTiering
	CapTranscode
)

// CapabilitySet is a bitmask of Capability flags.
type CapabilitySet uint8

// Has reports whether the set contains the given capability.
func (s CapabilitySet) Has(c Capability) bool {
	return s&CapabilitySet(c) != 0
}

// StorageSource describes one mounted storage backend.
// Identity (ID) is immutable for the source's lifetime.
type StorageSource struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Category     SourceCategory `json:"category"`
	Capabilities CapabilitySet  `json:"capabilities"`
	Status       SourceStatus   `json:"status"`
}

// NativeSourceID is the reserved source id for files that came from, or are
// bound for, the host OS clipboard. It resolves to a local driver rooted
// at the filesystem root.
const NativeSourceID = "native"

// TierStatus is the storage class a file currently resides in.
type TierStatus string

const (
	TierHot      TierStatus = "hot"
	TierWarm     TierStatus = "warm"
	TierCold     TierStatus = "cold"
	TierNearline TierStatus = "nearline"
	TierArchive  TierStatus = "archive"
)

// FileEntry is a transient view of a file or directory in one source.
// It is reconstructed on each listing and never cached past an operation.
type FileEntry struct {
	SourceID     string     `json:"sourceId"`
	Path         string     `json:"path"`
	IsDirectory  bool       `json:"isDirectory"`
	Size         int64      `json:"size"`
	Tier         TierStatus `json:"tierStatus"`
	CanWarm      bool       `json:"canWarm"`
	CanTranscode bool       `json:"canTranscode"`
}

// ClipboardOp marks a clipboard payload as a pending copy or cut.
type ClipboardOp string

const (
	ClipCopy ClipboardOp = "copy"
	ClipCut  ClipboardOp = "cut"
)

// ClipboardPayload is the single process-wide pending clipboard intent.
// A second copy/cut overwrites it; a successful cut-paste clears it.
type ClipboardPayload struct {
	Operation ClipboardOp `json:"operation"`
	SourceID  string      `json:"sourceId"`
	Paths     []string    `json:"paths"`
}

// TransferKind distinguishes upload, download, and cross-source copy records.
type TransferKind string

const (
	KindUpload   TransferKind = "upload"
	KindDownload TransferKind = "download"
	KindCopy     TransferKind = "copy"
)

// TransferStatus is the state-machine state of a transfer.
type TransferStatus string

const (
	TransferPending    TransferStatus = "pending"
	TransferInProgress TransferStatus = "in_progress"
	TransferPaused     TransferStatus = "paused"
	TransferCompleted  TransferStatus = "completed"
	TransferFailed     TransferStatus = "failed"
	TransferCanceled   TransferStatus = "canceled"
)

// Terminal reports whether the status is a terminal state.
func (s TransferStatus) Terminal() bool {
	return s == TransferCompleted || s == TransferFailed || s == TransferCanceled
}

// TransferRecord is the persisted, resumable state of one transfer.
// It is created before the first byte moves and mutated only by the engine.
type TransferRecord struct {
	ID               string         `json:"id" storm:"id"`
	Kind             TransferKind   `json:"kind" storm:"index"`
	SourceID         string         `json:"sourceId" storm:"index"`
	DestSourceID     string         `json:"destSourceId,omitempty"`
	LocalPath        string         `json:"localPath"`
	RemotePath       string         `json:"remotePath"`
	TotalSize        int64          `json:"totalSize"`
	BytesTransferred int64          `json:"bytesTransferred"`
	PartIndex        int            `json:"partIndex"`
	TotalParts       int            `json:"totalParts"`
	Status           TransferStatus `json:"status" storm:"index"`
	Error            string         `json:"error,omitempty"`
	SpeedBytesPerSec float64        `json:"speedBytesPerSec,omitempty"`
	EtaSec           *int64         `json:"etaSec,omitempty"`
	WriterToken      string         `json:"-"`
	CreatedAt        time.Time      `json:"createdAt"`
	CompletedAt      *time.Time     `json:"completedAt,omitempty"`
}

// OperationType classifies ledger entries.
type OperationType string

const (
	OpUpload   OperationType = "upload"
	OpDownload OperationType = "download"
	OpDelete   OperationType = "delete"
	OpMove     OperationType = "move"
	OpCopy     OperationType = "copy"
)

// OperationStatus is the terminal outcome of a ledger entry.
type OperationStatus string

const (
	OpCompleted OperationStatus = "completed"
	OpFailed    OperationStatus = "failed"
)

// OperationRecord is an append-only ledger entry for a finished file
// operation. Records are never mutated after reaching a terminal status.
type OperationRecord struct {
	ID             string          `json:"id"`
	Type           OperationType   `json:"type"`
	SourceID       string          `json:"sourceId"`
	SourceCategory SourceCategory  `json:"sourceCategory"`
	SourcePath     string          `json:"sourcePath"`
	DestPath       string          `json:"destPath,omitempty"`
	BytesProcessed int64           `json:"bytesProcessed"`
	Status         OperationStatus `json:"status"`
	Error          string          `json:"error,omitempty"`
	StartedAt      time.Time       `json:"startedAt"`
	CompletedAt    time.Time       `json:"completedAt"`
}

// TierRequest describes one bulk tier-change request. Requests settle once
// (resolved or partially failed) and are not retried automatically.
type TierRequest struct {
	RequestID             string     `json:"requestId"`
	SourceID              string     `json:"sourceId"`
	Paths                 []string   `json:"paths"`
	TargetTier            TierStatus `json:"targetTier"`
	EstimatedRetrievalSec int64      `json:"estimatedRetrievalSec"`
}
