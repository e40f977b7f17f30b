package dataservice

// KVEntry is one key-value store row of table configuration.
type KVEntry struct {
	Partition string `json:"partition"`
	Aspect    string `json:"aspect"`
	Key       string `json:"key"`
	Type      string `json:"type"`
	Value     string `json:"value"`
}

// Key-value store partitions and keys the engine knows about.
const (
	KVPartitionColumn   = "Column"
	KVKeyDisplayChoices = "displayChoicesList"
	KVPartitionTable    = "Table"
	KVAspectDefault     = "default"
	KVKeyDisplayName    = "displayName"
)

// TableMetadata is the configuration snapshot for one table, stamped with
// an opaque revision id. Callers that have seen revision R suppress the
// full metadata payload until a newer revision exists.
type TableMetadata struct {
	TableID  string
	Revision string
	Entries  []KVEntry
}

// TableDefinition carries the sync-layer identity of one table.
type TableDefinition struct {
	TableID      string
	SchemaETag   string
	LastDataETag string
	LastSyncTime string
}
