package main

import (
	"testing"

	"SignalServe/pkg/config"
)

func TestApplyArgs(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantErr  bool
		wantHost string
		wantPort int
	}{
		{"none", nil, false, "localhost", 8765},
		{"host and port", []string{"0.0.0.0", "9000"}, false, "0.0.0.0", 9000},
		{"host only", []string{"0.0.0.0"}, true, "", 0},
		{"bad port", []string{"0.0.0.0", "x"}, true, "", 0},
		{"port out of range", []string{"0.0.0.0", "70000"}, true, "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := config.Default()
			if err != nil {
				t.Fatalf("default config: %v", err)
			}
			err = applyArgs(cfg, tt.args)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if cfg.Server.Host != tt.wantHost || cfg.Server.Port != tt.wantPort {
				t.Fatalf("got %s:%d", cfg.Server.Host, cfg.Server.Port)
			}
		})
	}
}
