package relay

import (
	"strings"
	"testing"
)

func TestPrepareConfig_ReceiveDefaults(t *testing.T) {
	var cfg Config
	err := PrepareConfig(&cfg, map[string]any{
		"connectionString": "mem://local",
		"destinationName":  "orders",
		"operation":        "receive",
	})
	if err != nil {
		t.Fatalf("PrepareConfig failed: %v", err)
	}

	if cfg.MaxMessages != 1 {
		t.Errorf("Expected maxMessages default 1, got %d", cfg.MaxMessages)
	}
	if cfg.MaxWaitTimeMs != 5000 {
		t.Errorf("Expected maxWaitTimeMs default 5000, got %d", cfg.MaxWaitTimeMs)
	}
	if cfg.PostProcessAction != ActionComplete {
		t.Errorf("Expected postProcessAction default complete, got %s", cfg.PostProcessAction)
	}
	if cfg.ReceiveMode != ReceiveModeReceiveAndComplete {
		t.Errorf("Expected receiveMode default receiveAndComplete, got %s", cfg.ReceiveMode)
	}
}

func TestPrepareConfig_Validation(t *testing.T) {
	valid := func() map[string]any {
		return map[string]any{
			"connectionString": "mem://local",
			"destinationName":  "orders",
			"operation":        "receive",
		}
	}

	tests := []struct {
		name    string
		mutate  func(params map[string]any)
		wantErr string
	}{
		{
			name:    "valid receive",
			mutate:  func(params map[string]any) {},
			wantErr: "",
		},
		{
			name: "valid send",
			mutate: func(params map[string]any) {
				params["operation"] = "send"
				params["messageBody"] = map[string]any{"k": 1}
			},
			wantErr: "",
		},
		{
			name:    "missing connection string",
			mutate:  func(params map[string]any) { delete(params, "connectionString") },
			wantErr: "ConnectionString",
		},
		{
			name:    "missing destination",
			mutate:  func(params map[string]any) { delete(params, "destinationName") },
			wantErr: "DestinationName",
		},
		{
			name:    "unknown operation",
			mutate:  func(params map[string]any) { params["operation"] = "purge" },
			wantErr: "Operation",
		},
		{
			name:    "send without message body",
			mutate:  func(params map[string]any) { params["operation"] = "send" },
			wantErr: "MessageBody",
		},
		{
			name:    "maxMessages below one",
			mutate:  func(params map[string]any) { params["maxMessages"] = 0 },
			wantErr: "MaxMessages",
		},
		{
			name:    "negative wait time",
			mutate:  func(params map[string]any) { params["maxWaitTimeMs"] = -1 },
			wantErr: "MaxWaitTimeMs",
		},
		{
			name:    "unknown post-processing action",
			mutate:  func(params map[string]any) { params["postProcessAction"] = "discard" },
			wantErr: "PostProcessAction",
		},
		{
			name:    "unknown receive mode",
			mutate:  func(params map[string]any) { params["receiveMode"] = "browse" },
			wantErr: "ReceiveMode",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := valid()
			tt.mutate(params)

			var cfg Config
			err := PrepareConfig(&cfg, params)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Expected success, got error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error mentioning %s, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestPrepareConfig_WeaklyTypedNumbers(t *testing.T) {
	// Expression results and JSON deliver float64 where ints are wanted.
	var cfg Config
	err := PrepareConfig(&cfg, map[string]any{
		"connectionString": "mem://local",
		"destinationName":  "orders",
		"operation":        "receive",
		"maxMessages":      float64(3),
		"maxWaitTimeMs":    "250",
	})
	if err != nil {
		t.Fatalf("PrepareConfig failed: %v", err)
	}
	if cfg.MaxMessages != 3 {
		t.Errorf("Expected maxMessages 3, got %d", cfg.MaxMessages)
	}
	if cfg.MaxWaitTimeMs != 250 {
		t.Errorf("Expected maxWaitTimeMs 250, got %d", cfg.MaxWaitTimeMs)
	}
}
