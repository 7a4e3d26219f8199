package openai

import "testing"

func TestModelDimensions(t *testing.T) {
	tests := []struct {
		model string
		want  int
	}{
		{"text-embedding-3-small", 1536},
		{"text-embedding-3-large", 3072},
		{"text-embedding-ada-002", 1536},
		{"some-future-model", 1536},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			if got := modelDimensions(tt.model); got != tt.want {
				t.Errorf("modelDimensions(%q) = %d, want %d", tt.model, got, tt.want)
			}

			p := &Provider{model: tt.model}
			if got := p.Dimensions(); got != modelDimensions(tt.model) {
				t.Errorf("Dimensions() = %d, want %d", got, modelDimensions(tt.model))
			}
			if got := p.ModelID(); got != tt.model {
				t.Errorf("ModelID() = %q, want %q", got, tt.model)
			}
		})
	}
}

func TestNew(t *testing.T) {
	t.Run("empty model defaults", func(t *testing.T) {
		p, err := New("sk-test", "")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if p.ModelID() != DefaultModel {
			t.Errorf("model = %s, want %s", p.ModelID(), DefaultModel)
		}
	})

	t.Run("missing api key", func(t *testing.T) {
		if _, err := New("", "text-embedding-3-small"); err == nil {
			t.Fatal("expected error for empty API key")
		}
	})

	t.Run("options accepted", func(t *testing.T) {
		_, err := New("sk-test", "text-embedding-3-small",
			WithBaseURL("https://custom.example.com"),
			WithOrganization("org-123"),
		)
		if err != nil {
			t.Fatalf("unexpected error with valid options: %v", err)
		}
	})
}

func TestFloat64ToFloat32(t *testing.T) {
	in := []float64{1.0, 2.5, -0.5}
	out := float64ToFloat32(in)
	if len(out) != len(in) {
		t.Fatalf("length = %d, want %d", len(out), len(in))
	}
	for i, v := range out {
		if v != float32(in[i]) {
			t.Errorf("index %d: got %v, want %v", i, v, float32(in[i]))
		}
	}
}
