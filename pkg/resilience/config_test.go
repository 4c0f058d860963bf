package resilience

import (
	"testing"
	"time"
)

func TestLayerConfig(t *testing.T) {
	tests := []struct {
		depth   int
		timeout time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, time.Second},
		{2, time.Second},
	}

	for _, tt := range tests {
		if got := LayerConfig(tt.depth).Timeout; got != tt.timeout {
			t.Errorf("LayerConfig(%d).Timeout = %v, want %v", tt.depth, got, tt.timeout)
		}
	}
}

func TestSharedLayerConfig_TripsOnFailureRate(t *testing.T) {
	trip := SharedLayerConfig().CircuitBreakerConfig.ReadyToTrip

	if trip(Counts{Requests: 19, TotalFailures: 19}) {
		t.Error("Should not trip below 20 requests")
	}
	if trip(Counts{Requests: 20, TotalFailures: 2}) {
		t.Error("Should not trip at 10% failures")
	}
	if !trip(Counts{Requests: 20, TotalFailures: 3}) {
		t.Error("Should trip at 15% failures")
	}
}

func TestLocalLayerConfig_TripsOnRun(t *testing.T) {
	trip := LocalLayerConfig().CircuitBreakerConfig.ReadyToTrip

	if trip(Counts{Requests: 100, TotalFailures: 50, ConsecutiveFailures: 9}) {
		t.Error("Should not trip on scattered failures")
	}
	if !trip(Counts{ConsecutiveFailures: 10}) {
		t.Error("Should trip after 10 failures in a row")
	}
}

func TestBankConfig(t *testing.T) {
	config := BankConfig()

	if config.Timeout != 30*time.Second {
		t.Errorf("Expected timeout 30s, got %v", config.Timeout)
	}

	trip := config.CircuitBreakerConfig.ReadyToTrip
	if trip(Counts{ConsecutiveFailures: 4}) {
		t.Error("Should not trip with 4 failures")
	}
	if !trip(Counts{ConsecutiveFailures: 5}) {
		t.Error("Should trip with 5 failures")
	}
}

func TestResilientConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  ResilientConfig
		wantErr bool
	}{
		{"local", LocalLayerConfig(), false},
		{"bank", BankConfig(), false},
		{"zero timeout", SharedLayerConfig().WithTimeout(0), true},
		{"negative open timeout", SharedLayerConfig().WithCircuitBreakerTimeout(-time.Second), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.config.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestResilientConfig_WithersCopy(t *testing.T) {
	config := SharedLayerConfig()
	changed := config.
		WithTimeout(2 * time.Second).
		WithCircuitBreakerTimeout(20 * time.Second).
		WithIsSuccessful(func(error) bool { return true })

	if changed.Timeout != 2*time.Second || changed.CircuitBreakerConfig.Timeout != 20*time.Second {
		t.Errorf("Unexpected config %+v", changed)
	}
	if changed.CircuitBreakerConfig.IsSuccessful == nil {
		t.Error("Expected IsSuccessful to be set")
	}
	if config.Timeout != time.Second || config.CircuitBreakerConfig.Timeout != 30*time.Second {
		t.Error("Original config changed")
	}
	if config.CircuitBreakerConfig.IsSuccessful != nil {
		t.Error("Preset must leave IsSuccessful unset")
	}
}
