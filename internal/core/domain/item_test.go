package domain

import "testing"

func TestStatus_Derivation(t *testing.T) {
	cases := []struct {
		available int
		threshold int
		want      StockStatus
	}{
		{0, 10, StockStatusOutOfStock},
		{7, 10, StockStatusLowStock},
		{50, 10, StockStatusAvailable},
		{9, 10, StockStatusLowStock},
		{10, 10, StockStatusAvailable},
		{1, 0, StockStatusLowStock}, // falls back to the default threshold
	}

	for _, c := range cases {
		item := InventoryItem{AvailableQuantity: c.available}
		if got := item.Status(c.threshold); got != c.want {
			t.Errorf("available=%d threshold=%d: expected %s, got %s", c.available, c.threshold, c.want, got)
		}
	}
}

func TestCheckInvariant(t *testing.T) {
	item := InventoryItem{
		DeliveredQuantity: 100,
		AvailableQuantity: 60,
		DamagedQuantity:   5,
		LostQuantity:      5,
	}

	if !item.CheckInvariant(30) {
		t.Error("expected invariant to hold with 30 open allocated")
	}
	if item.CheckInvariant(25) {
		t.Error("expected invariant to fail with 25 open allocated")
	}
}

func TestAssignment_Remaining(t *testing.T) {
	assignment := ProjectItemAssignment{
		AllocatedQuantity: 20,
		DamagedQuantity:   3,
		LostQuantity:      2,
		ReturnedQuantity:  10,
		Status:            AssignmentStatusAllocated,
	}

	if got := assignment.Remaining(); got != 5 {
		t.Errorf("expected remaining 5, got %d", got)
	}
	if !assignment.Open() {
		t.Error("expected assignment to be open")
	}

	assignment.Status = AssignmentStatusReturned
	if assignment.Open() {
		t.Error("expected returned assignment to be closed")
	}
}
