package inventory

import (
	"sort"

	"github.com/andreasstove999/ecommerce-system/order-saga-go/internal/order"
)

type Stock struct {
	ProductCode string `json:"productCode"`
	Available   int    `json:"availableQuantity"`
	Reserved    int    `json:"reservedQuantity"`
	Version     int64  `json:"version"`
}

type Line struct {
	ProductCode string `json:"productCode"`
	Quantity    int    `json:"quantity"`
}

// MergeLines sums quantities per product code, sorted by code.
func MergeLines(items []order.Item) []Line {
	sums := make(map[string]int, len(items))
	for _, it := range items {
		sums[it.ProductCode] += it.Quantity
	}

	lines := make([]Line, 0, len(sums))
	for code, qty := range sums {
		lines = append(lines, Line{ProductCode: code, Quantity: qty})
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].ProductCode < lines[j].ProductCode })
	return lines
}

func productCodes(lines []Line) []string {
	codes := make([]string, len(lines))
	for i, l := range lines {
		codes[i] = l.ProductCode
	}
	return codes
}
