package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "memory")
	t.Setenv("KAFKA_BROKERS", " kafka-1:9092, ,kafka-2:9092")
	t.Setenv("DB_LOG_LEVEL", "error")
	t.Setenv("KAFKA_BATCH_TIMEOUT", "not-a-duration")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ServiceName, cfg.ServiceName)
	require.Equal(t, "memory", cfg.Storage.Driver)
	require.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	require.Equal(t, logger.Error, cfg.DB.LogLevel)
	require.Equal(t, 10*time.Millisecond, cfg.Kafka.BatchTimeout)
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "mongo")

	_, err := Load()
	require.Error(t, err)
}

func TestGetDSN(t *testing.T) {
	db := DBConfig{Host: "db", Port: "5432", User: "u", Password: "p", DBName: "r", SSLMode: "disable"}
	require.Equal(t, "host=db port=5432 user=u password=p dbname=r sslmode=disable", db.GetDSN())
}
