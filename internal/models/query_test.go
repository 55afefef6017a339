package models

import (
	"testing"
)

func TestQueryRequest_Validate(t *testing.T) {
	tests := []struct {
		name     string
		query    *QueryRequest
		wantErr  bool
		wantTopK int
	}{
		{"empty query", &QueryRequest{Query: ""}, true, 0},
		{"whitespace query", &QueryRequest{Query: "   "}, true, 0},
		{"sets default top_k", &QueryRequest{Query: "x"}, false, 5},
		{"keeps explicit top_k", &QueryRequest{Query: "x", TopK: 3}, false, 3},
		{"caps top_k", &QueryRequest{Query: "x", TopK: 500}, false, 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.query.Validate(5, 50)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && tt.query.TopK != tt.wantTopK {
				t.Errorf("TopK = %d, want %d", tt.query.TopK, tt.wantTopK)
			}
		})
	}
}
