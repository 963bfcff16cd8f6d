package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "lambda", cfg.Transport)
	assert.Equal(t, "/opt/chromium/chrome", cfg.BrowserSettings.ExecPath)
	assert.Equal(t, "/opt/chromium/lib:/opt/chromium/swiftshader", cfg.BrowserSettings.LibraryPath)
	assert.Equal(t, "/opt", cfg.BrowserSettings.InstallDir)
	assert.Equal(t, 60*time.Second, cfg.RenderSettings.Timeout)
	assert.Equal(t, 5*time.Second, cfg.RenderSettings.SettleDelay)
	assert.Equal(t, 2*time.Second, cfg.RenderSettings.CaptureDelay)
	assert.False(t, cfg.S3Settings.Enabled)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("CHROME_PATH", "/usr/bin/chromium")
	t.Setenv("CHROME_LIBRARY_PATH", "/usr/lib/chromium")
	t.Setenv("RENDER_TIMEOUT", "30s")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "/usr/bin/chromium", cfg.BrowserSettings.ExecPath)
	assert.Equal(t, "/usr/lib/chromium", cfg.BrowserSettings.LibraryPath)
	assert.Equal(t, 30*time.Second, cfg.RenderSettings.Timeout)
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	yaml := `
transport: http
port: "9090"
render:
  settle_delay: 1s
kafka:
  consumer:
    brokers: ["kafka:9092"]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "http", cfg.Transport)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, time.Second, cfg.RenderSettings.SettleDelay)
	assert.Equal(t, 60*time.Second, cfg.RenderSettings.Timeout)
	assert.Equal(t, []string{"kafka:9092"}, cfg.KafkaSettings.Consumer.Brokers)
}

func TestLoad_KafkaFromEnvironment(t *testing.T) {
	t.Setenv("KAFKA_CONSUMER_BROKERS", "kafka-1:9092,kafka-2:9092")
	t.Setenv("KAFKA_CONSUMER_READ_TOPIC_NAME", "render-requests")
	t.Setenv("KAFKA_CONSUMER_GROUP_ID", "page-renderer")
	t.Setenv("KAFKA_PRODUCER_ADDR", "kafka-1:9092")
	t.Setenv("KAFKA_PRODUCER_WRITE_TOPIC_NAME", "render-notices")
	t.Setenv("KAFKA_PRODUCER_DLQ_TOPIC_NAME", "render-dlq")
	t.Setenv("S3_BUCKET_NAME", "renders")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaSettings.Consumer.Brokers)
	assert.Equal(t, "render-requests", cfg.KafkaSettings.Consumer.ReadTopicName)
	assert.Equal(t, "page-renderer", cfg.KafkaSettings.Consumer.GroupID)
	assert.Equal(t, []string{"kafka-1:9092"}, cfg.KafkaSettings.Producer.Addr)
	assert.Equal(t, "render-notices", cfg.KafkaSettings.Producer.WriteTopicName)
	assert.Equal(t, "render-dlq", cfg.KafkaSettings.Producer.DeadLetterTopicName)
	assert.Equal(t, "renders", cfg.S3Settings.BucketName)
}
