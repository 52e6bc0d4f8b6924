package kafka

import (
	"testing"
	"time"
)

func TestSASLMechanism(t *testing.T) {
	tests := []struct {
		mechanism string
		wantName  string
	}{
		{"", "PLAIN"},
		{"PLAIN", "PLAIN"},
		{"SCRAM-SHA-256", "SCRAM-SHA-256"},
		{"SCRAM-SHA-512", "SCRAM-SHA-512"},
	}
	for _, tt := range tests {
		m, err := Config{SASLMechanism: tt.mechanism, SASLUsername: "u", SASLPassword: "p"}.saslMechanism()
		if err != nil {
			t.Fatalf("saslMechanism(%q) unexpected error: %v", tt.mechanism, err)
		}
		if m.Name() != tt.wantName {
			t.Errorf("saslMechanism(%q).Name() = %q, want %q", tt.mechanism, m.Name(), tt.wantName)
		}
	}

	if _, err := (Config{SASLMechanism: "GSSAPI"}).saslMechanism(); err == nil {
		t.Error("expected error for unsupported mechanism")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"ok", Config{Brokers: []string{"kafka:9092"}}, false},
		{"no brokers", Config{}, true},
		{"sasl ok", Config{Brokers: []string{"kafka:9092"}, SASLEnabled: true, SASLMechanism: "SCRAM-SHA-256"}, false},
		{"sasl unsupported", Config{Brokers: []string{"kafka:9092"}, SASLEnabled: true, SASLMechanism: "GSSAPI"}, true},
		{"unsupported but disabled", Config{Brokers: []string{"kafka:9092"}, SASLMechanism: "GSSAPI"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestTLSConfig(t *testing.T) {
	if (Config{}).tlsConfig() != nil {
		t.Error("expected nil TLS config when disabled")
	}
	if (Config{TLS: true}).tlsConfig() == nil {
		t.Error("expected TLS config when enabled")
	}
}

func TestRetryDefaults(t *testing.T) {
	r := RetryConfig{}.withDefaults()
	if r.MaxAttempts != 5 || r.InitialInterval != 100*time.Millisecond || r.MaxInterval != 5*time.Second {
		t.Errorf("unexpected defaults: %+v", r)
	}

	r = RetryConfig{MaxAttempts: 2, InitialInterval: time.Millisecond, MaxInterval: time.Second}.withDefaults()
	if r.MaxAttempts != 2 || r.InitialInterval != time.Millisecond {
		t.Errorf("explicit values overwritten: %+v", r)
	}
}
