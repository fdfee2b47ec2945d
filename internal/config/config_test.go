package config

import (
	"testing"

	"github.com/go-playground/validator/v10"
)

func TestSecureBitmask(t *testing.T) {
	c := &Config{ConnectFlag: 0x2}
	if !c.Secure() {
		t.Fatal("expected Secure() true for connect_flag 0x2")
	}
	c.ConnectFlag = 0x1
	if c.Secure() {
		t.Fatal("expected Secure() false for connect_flag 0x1")
	}
}

func TestDefaultPassesValidation(t *testing.T) {
	// Default() values must independently satisfy the struct tags Load
	// validates against, since Load overlays a file onto this baseline.
	cfg := Default()
	if cfg.MaxBackoffMs < cfg.InitialBackoffMs {
		t.Fatal("default max backoff must be >= initial backoff")
	}
	if err := validator.New().Struct(cfg); err != nil {
		t.Fatalf("Default() fails validation: %v", err)
	}
}
