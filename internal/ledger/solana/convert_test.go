package solana

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestToLamports(t *testing.T) {
	tests := []struct {
		name    string
		amount  string
		want    uint64
		wantErr bool
	}{
		{"whole SOL", "2", 2_000_000_000, false},
		{"fractional", "0.5", 500_000_000, false},
		{"smallest unit", "0.000000001", 1, false},
		{"too precise", "0.0000000001", 0, true},
		{"zero", "0", 0, true},
		{"negative", "-1", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := toLamports(decimal.RequireFromString(tt.amount))
			if (err != nil) != tt.wantErr {
				t.Fatalf("toLamports(%s) error = %v, wantErr %v", tt.amount, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("toLamports(%s) = %d, want %d", tt.amount, got, tt.want)
			}
		})
	}
}

func TestFromLamports(t *testing.T) {
	if got := fromLamports(1_500_000_000); !got.Equal(decimal.RequireFromString("1.5")) {
		t.Errorf("fromLamports() = %s, want 1.5", got)
	}
}

func TestCompareTransfer(t *testing.T) {
	expected := decimal.RequireFromString("1.25")

	tests := []struct {
		name     string
		transfer transfer
		wantErrs int
	}{
		{"match", transfer{amount: expected, credits: true}, 0},
		{"wrong amount", transfer{amount: decimal.RequireFromString("1.2"), credits: true}, 1},
		{"no credit", transfer{amount: decimal.Zero}, 1},
		{"failed and wrong", transfer{amount: decimal.NewFromInt(1), credits: true, failed: true}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := compareTransfer(&tt.transfer, expected)
			if len(errs) != tt.wantErrs {
				t.Errorf("compareTransfer() = %v, want %d errors", errs, tt.wantErrs)
			}
		})
	}
}

func TestNewRequiresURL(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("New() without rpc url should fail")
	}
	if _, err := New(Config{RPCURL: "http://localhost:8899", PayerSecret: "not-base58!"}); err == nil {
		t.Error("New() with malformed payer secret should fail")
	}
}
