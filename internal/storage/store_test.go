package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestOpenMigratesSchema(t *testing.T) {
	store, err := Open(zap.NewNop(), ":memory:")
	require.NoError(t, err)
	defer store.Close()

	record := EventRecord{
		AggregateID: "brain",
		Seq:         1,
		Type:        "decision_recorded",
		Payload:     []byte("{}"),
		TraceID:     "trc_1",
		Version:     1,
		Timestamp:   time.Now(),
	}
	result := store.DB().Create(&record)
	require.NoError(t, result.Error)
	assert.NotZero(t, record.ID)
}

func TestConfigKVRoundTrip(t *testing.T) {
	store, err := Open(zap.NewNop(), ":memory:")
	require.NoError(t, err)
	defer store.Close()

	kv := ConfigKV{Key: "risk.maxCorrelation", Value: "0.8"}
	require.NoError(t, store.DB().Create(&kv).Error)

	var loaded ConfigKV
	require.NoError(t, store.DB().First(&loaded, "key = ?", "risk.maxCorrelation").Error)
	assert.Equal(t, "0.8", loaded.Value)
}
