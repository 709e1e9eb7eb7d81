package model

// ResourceKind is the category of backend a backup targets.
type ResourceKind string

const (
	KindCompute     ResourceKind = "compute"
	KindDatabase    ResourceKind = "database"
	KindObjectStore ResourceKind = "objectstore"
)

// AllKinds lists every supported resource kind in dispatch order.
var AllKinds = []ResourceKind{KindCompute, KindDatabase, KindObjectStore}

// Valid reports whether k is a known resource kind.
func (k ResourceKind) Valid() bool {
	switch k {
	case KindCompute, KindDatabase, KindObjectStore:
		return true
	}
	return false
}

// ResourceRef identifies a single backup target. Immutable once produced by
// an enumerator.
type ResourceRef struct {
	Kind ResourceKind      `json:"kind"`
	ID   string            `json:"id"`
	Tags map[string]string `json:"tags,omitempty"`
}

// Tag keys applied to every artifact this pipeline creates. Discovery and
// retention select on TagManagedBy so foreign snapshots are never touched.
const (
	TagManagedBy   = "backup:managed-by"
	TagSourceID    = "backup:source-id"
	TagBackupDate  = "backup:date"
	TagProtected   = "backup:protect"
	TagRestoredBy  = "backup:restored-from"
	TagRestoreDate = "backup:restore-date"

	ManagedByValue = "backupd"
)
