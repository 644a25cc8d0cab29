package domain

import "time"

type ItemKind string

const (
	ItemKindProduct  ItemKind = "product"
	ItemKindMaterial ItemKind = "material"
)

type StockStatus string

const (
	StockStatusAvailable  StockStatus = "available"
	StockStatusLowStock   StockStatus = "low_stock"
	StockStatusOutOfStock StockStatus = "out_of_stock"
)

// DefaultLowStockThreshold is used when no threshold is configured.
const DefaultLowStockThreshold = 10

// InventoryItem is the quantity ledger's unit of record. AvailableQuantity is
// always derived by the ledger, never set by a caller.
type InventoryItem struct {
	ID                string
	Kind              ItemKind
	DeliveredQuantity int
	DamagedQuantity   int
	LostQuantity      int
	AvailableQuantity int
	LocationID        string // empty when the item has no resident location
	Version           int    // optimistic locking
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Status derives the stock status from the available quantity. A threshold
// of zero or less falls back to DefaultLowStockThreshold.
func (i InventoryItem) Status(threshold int) StockStatus {
	if threshold <= 0 {
		threshold = DefaultLowStockThreshold
	}
	switch {
	case i.AvailableQuantity == 0:
		return StockStatusOutOfStock
	case i.AvailableQuantity < threshold:
		return StockStatusLowStock
	default:
		return StockStatusAvailable
	}
}

// CheckInvariant verifies the four-quantity identity against the given total
// of open allocations: delivered = available + damaged + lost + openAllocated.
func (i InventoryItem) CheckInvariant(openAllocated int) bool {
	return i.DeliveredQuantity == i.AvailableQuantity+i.DamagedQuantity+i.LostQuantity+openAllocated
}
