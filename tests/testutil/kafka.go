package testutil

import (
	"os"
	"strings"
	"testing"
)

// KafkaBrokers returns the brokers listed in TEST_KAFKA_BROKERS and skips the
// test when none are configured.
func KafkaBrokers(t *testing.T) []string {
	t.Helper()

	raw := os.Getenv("TEST_KAFKA_BROKERS")
	if raw == "" {
		t.Skip("TEST_KAFKA_BROKERS not set, skipping Kafka integration test")
	}

	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
