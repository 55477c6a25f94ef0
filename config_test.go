package main

import "testing"

func TestConfigValidateRejectsBadPort(t *testing.T) {
	cfg := &Config{
		Server:    ServerConfig{Port: 0},
		Jobs:      JobsConfig{MaxConcurrentJobs: 1},
		Detection: DetectionConfig{JobIDMinLength: 3, JobIDMaxLength: 50},
	}
	if err := cfg.Validate(); err == nil {
		t.Error("expected an error for port 0")
	}
}

func TestConfigValidateRejectsBadJobIDBounds(t *testing.T) {
	cfg := &Config{
		Server:    ServerConfig{Port: 5050},
		Jobs:      JobsConfig{MaxConcurrentJobs: 1},
		Detection: DetectionConfig{JobIDMinLength: 50, JobIDMaxLength: 3},
	}
	if err := cfg.Validate(); err == nil {
		t.Error("expected an error when min length exceeds max length")
	}
}

func TestConfigValidateAcceptsGoodConfig(t *testing.T) {
	cfg := &Config{
		Server:    ServerConfig{Port: 5050},
		Jobs:      JobsConfig{MaxConcurrentJobs: 2},
		Detection: DetectionConfig{JobIDMinLength: 3, JobIDMaxLength: 50},
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestPolygonRequestApplyDefaults(t *testing.T) {
	cfg := &Config{
		Detection: DetectionConfig{
			DefaultZoom:                    18,
			DefaultConfidence:              0.25,
			DefaultBatchSize:                5,
			DefaultMergeIoUThreshold:       0.1,
			DefaultMergeMinEdgeDistanceDeg: 0.00001,
		},
	}

	req := PolygonRequest{}
	req.ApplyDefaults(cfg)

	if req.Zoom != 18 || req.Confidence != 0.25 || req.BatchSize != 5 {
		t.Errorf("unexpected defaults applied: %+v", req)
	}
}

func TestPolygonRequestApplyDefaultsDoesNotOverrideSetValues(t *testing.T) {
	cfg := &Config{Detection: DetectionConfig{DefaultZoom: 18, DefaultConfidence: 0.25}}

	req := PolygonRequest{Zoom: 20, Confidence: 0.5}
	req.ApplyDefaults(cfg)

	if req.Zoom != 20 || req.Confidence != 0.5 {
		t.Errorf("expected caller-supplied values to be preserved, got %+v", req)
	}
}
