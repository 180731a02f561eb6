// Package storage is the Brain's gorm-backed durable state layer: events,
// snapshots, reconciliation runs/drifts, truth confidence, circuit breaker
// state, and the config KV bucket.
package storage

import "time"

// EventRecord is the gorm model backing the append-only event log.
type EventRecord struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement"`
	AggregateID string `gorm:"index:idx_aggregate_seq,unique,priority:1;not null"`
	Seq         uint64 `gorm:"index:idx_aggregate_seq,unique,priority:2;not null"`
	Type        string `gorm:"index;not null"`
	Payload     []byte `gorm:"type:blob;not null"`
	TraceID     string `gorm:"index"`
	Version     int    `gorm:"not null;default:1"`
	Timestamp   time.Time `gorm:"index;not null"`
}

// TableName specifies the table name for GORM.
func (EventRecord) TableName() string { return "events" }

// PositionSnapshotRecord is the gorm model for a versioned position/allocation snapshot.
type PositionSnapshotRecord struct {
	SnapshotID       string    `gorm:"primaryKey"`
	Timestamp        time.Time `gorm:"index;not null"`
	PositionsJSON    []byte    `gorm:"type:blob;not null"`
	AllocationJSON   []byte    `gorm:"type:blob;not null"`
	CircuitBreakerJSON []byte  `gorm:"type:blob;not null"`
	PerformanceJSON  []byte    `gorm:"type:blob;not null"`
	HighWatermark    string    `gorm:"not null"`
	CausedByEventSeq uint64    `gorm:"not null;default:0"`
	CreatedAt        time.Time `gorm:"autoCreateTime"`
}

// TableName specifies the table name for GORM.
func (PositionSnapshotRecord) TableName() string { return "position_snapshots" }

// ReconciliationRunRecord is the gorm model for a single C11 run.
type ReconciliationRunRecord struct {
	RunID      string `gorm:"primaryKey"`
	Scope      string `gorm:"index;not null"`
	StartedAt  time.Time `gorm:"not null"`
	FinishedAt time.Time
	Success    bool
	StatsJSON  []byte `gorm:"type:blob"`
}

// TableName specifies the table name for GORM.
func (ReconciliationRunRecord) TableName() string { return "reconciliation_runs" }

// ReconciliationDriftRecord is the gorm model for a single classified mismatch.
type ReconciliationDriftRecord struct {
	DriftID     string `gorm:"primaryKey"`
	RunID       string `gorm:"index;not null"`
	Scope       string `gorm:"index;not null"`
	Type        string `gorm:"not null"`
	Severity    string `gorm:"not null"`
	Symbol      string
	Delta       string
	DetailsJSON []byte `gorm:"type:blob"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
}

// TableName specifies the table name for GORM.
func (ReconciliationDriftRecord) TableName() string { return "reconciliation_drifts" }

// TruthConfidenceRecord is the gorm model for a scope's current confidence score.
type TruthConfidenceRecord struct {
	Scope        string `gorm:"primaryKey"`
	Score        string `gorm:"not null"`
	State        string `gorm:"not null"`
	ReasonsJSON  []byte `gorm:"type:blob"`
	LastUpdateTs time.Time `gorm:"not null"`
}

// TableName specifies the table name for GORM.
func (TruthConfidenceRecord) TableName() string { return "truth_confidence" }

// CircuitBreakerStateRecord is the single-row-per-instance gorm model for breaker state.
type CircuitBreakerStateRecord struct {
	InstanceID        string `gorm:"primaryKey"`
	State             string `gorm:"not null"`
	DailyStartEquity  string `gorm:"not null"`
	EquityLevel       string `gorm:"not null"`
	ConsecutiveLosses int    `gorm:"not null;default:0"`
	LossTimestampsJSON []byte `gorm:"type:blob"`
	TrippedAt         *time.Time
	CooldownUntil     *time.Time
	LastTripReason    string
	UpdatedAt         time.Time `gorm:"autoUpdateTime"`
}

// TableName specifies the table name for GORM.
func (CircuitBreakerStateRecord) TableName() string { return "circuit_breaker_state" }

// ConfigKV is the key-value config bucket table. Nothing in this module
// loads its rows into the config package's values or mirrors them to Redis.
type ConfigKV struct {
	Key       string `gorm:"primaryKey"`
	Value     string `gorm:"not null"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// TableName specifies the table name for GORM.
func (ConfigKV) TableName() string { return "config_kv" }
