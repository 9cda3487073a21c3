package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestInvestmentStatus(t *testing.T) {
	tests := []struct {
		name string
		inv  Investment
		want Status
	}{
		{"full health", Investment{IsOpen: true, Condition: 100}, StatusOperating},
		{"at income floor", Investment{IsOpen: true, Condition: 25}, StatusOperating},
		{"just below floor", Investment{IsOpen: true, Condition: 24.9}, StatusDegraded},
		{"closed healthy", Investment{IsOpen: false, Condition: 80}, StatusShutdown},
		{"closed empty", Investment{IsOpen: false, Condition: 0}, StatusShutdown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.inv.Status(); got != tt.want {
				t.Errorf("Status() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestKeyLess(t *testing.T) {
	a := Key{OwnerID: "1", TypeID: "restaurant"}
	b := Key{OwnerID: "1", TypeID: "retail_shop"}
	c := Key{OwnerID: "2", TypeID: "grocery_store"}
	if !a.Less(b) || !b.Less(c) || !a.Less(c) {
		t.Fatalf("expected a < b < c")
	}
	if c.Less(a) || a.Less(a) {
		t.Fatalf("unexpected ordering")
	}
}

func TestReopenCost(t *testing.T) {
	e := CatalogEntry{PurchaseCost: 1200}
	if got := e.ReopenCost(); got != 600 {
		t.Fatalf("ReopenCost() = %d, want 600", got)
	}
	e.PurchaseCost = 3501
	if got := e.ReopenCost(); got != 1750 {
		t.Fatalf("ReopenCost() = %d, want 1750", got)
	}
}

func TestIsTransient(t *testing.T) {
	if !IsTransient(fmt.Errorf("write: %w", ErrConflict)) {
		t.Fatalf("wrapped conflict should be transient")
	}
	if !IsTransient(ErrTransient) {
		t.Fatalf("ErrTransient should be transient")
	}
	if IsTransient(errors.New("boom")) || IsTransient(ErrInvalidState) {
		t.Fatalf("plain errors should not be transient")
	}
}

func TestParseRiskTier(t *testing.T) {
	if got, err := ParseRiskTier(" Medium "); err != nil || got != RiskMedium {
		t.Fatalf("ParseRiskTier = %q, %v", got, err)
	}
	if _, err := ParseRiskTier("extreme"); err == nil {
		t.Fatalf("expected error for unknown tier")
	}
}
