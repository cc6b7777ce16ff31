package reconcile

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/BearBump/CourierSync/internal/models"
	"github.com/BearBump/CourierSync/internal/storage"
	"github.com/pkg/errors"
)

const highSeverityDiff = 10

type Repository interface {
	ListInventory(ctx context.Context) ([]*models.InventoryRecord, error)
	ListOpenOrderItems(ctx context.Context) ([]*models.OpenOrderItem, error)
	FixReserved(ctx context.Context, fix storage.ReservedFix) (*models.InventoryRecord, error)
}

type Discrepancy struct {
	InventoryID      string          `json:"inventory_id"`
	ProductID        string          `json:"product_id"`
	ProductName      string          `json:"product_name"`
	OutletID         string          `json:"outlet_id"`
	StoredReserved   int64           `json:"stored_reserved"`
	ExpectedReserved int64           `json:"expected_reserved"`
	Difference       int64           `json:"difference"`
	Severity         models.Severity `json:"severity"`
	Orders           []string        `json:"orders"`
}

type AnalyzeResult struct {
	DiscrepanciesFound int           `json:"discrepancies_found"`
	Discrepancies      []Discrepancy `json:"discrepancies"`
}

type FixedRecord struct {
	InventoryID string `json:"inventory_id"`
	ProductName string `json:"product_name"`
	OutletID    string `json:"outlet_id"`
	OldReserved int64  `json:"old_reserved"`
	NewReserved int64  `json:"new_reserved"`
	Available   int64  `json:"available"`
}

type FixResult struct {
	RecordsFixed int           `json:"records_fixed"`
	FixedRecords []FixedRecord `json:"fixed_records"`
	// Skipped counts records that changed between analysis and the write.
	Skipped int `json:"skipped"`
}

// Service recomputes reserved stock from open orders.
type Service struct {
	repo Repository
	now  func() time.Time
}

func New(repo Repository) *Service {
	return &Service{repo: repo, now: func() time.Time { return time.Now().UTC() }}
}

func (s *Service) Analyze(ctx context.Context) (AnalyzeResult, error) {
	inv, err := s.repo.ListInventory(ctx)
	if err != nil {
		return AnalyzeResult{}, errors.Wrap(err, "list inventory")
	}
	items, err := s.repo.ListOpenOrderItems(ctx)
	if err != nil {
		return AnalyzeResult{}, errors.Wrap(err, "list open order items")
	}

	out := AnalyzeResult{Discrepancies: []Discrepancy{}}
	for _, r := range inv {
		expected, orders := expectedReserved(r, items)
		if expected == r.ReservedQuantity {
			continue
		}
		diff := expected - r.ReservedQuantity
		sev := models.SeverityMedium
		if diff > highSeverityDiff || diff < -highSeverityDiff {
			sev = models.SeverityHigh
		}
		out.Discrepancies = append(out.Discrepancies, Discrepancy{
			InventoryID:      r.ID,
			ProductID:        r.ProductID,
			ProductName:      r.ProductName,
			OutletID:         r.OutletID,
			StoredReserved:   r.ReservedQuantity,
			ExpectedReserved: expected,
			Difference:       diff,
			Severity:         sev,
			Orders:           orders,
		})
	}
	out.DiscrepanciesFound = len(out.Discrepancies)
	return out, nil
}

// Fix overwrites every drifted reserved quantity, guarded by the value seen during analysis.
func (s *Service) Fix(ctx context.Context) (FixResult, error) {
	an, err := s.Analyze(ctx)
	if err != nil {
		return FixResult{}, err
	}

	out := FixResult{FixedRecords: []FixedRecord{}}
	for _, d := range an.Discrepancies {
		rec, err := s.repo.FixReserved(ctx, storage.ReservedFix{
			InventoryID: d.InventoryID,
			Old:         d.StoredReserved,
			New:         d.ExpectedReserved,
			At:          s.now(),
		})
		if errors.Is(err, storage.ErrConflict) {
			slog.Info("reserved quantity changed concurrently", "inventory_id", d.InventoryID)
			out.Skipped++
			continue
		}
		if err != nil {
			return out, errors.Wrap(err, "fix reserved")
		}
		out.FixedRecords = append(out.FixedRecords, FixedRecord{
			InventoryID: rec.ID,
			ProductName: rec.ProductName,
			OutletID:    rec.OutletID,
			OldReserved: d.StoredReserved,
			NewReserved: rec.ReservedQuantity,
			Available:   rec.AvailableQuantity,
		})
	}
	out.RecordsFixed = len(out.FixedRecords)
	slog.Info("reserved stock fixed", "records_fixed", out.RecordsFixed, "skipped", out.Skipped)
	return out, nil
}

func expectedReserved(r *models.InventoryRecord, items []*models.OpenOrderItem) (int64, []string) {
	var (
		sum    int64
		orders []string
		seen   = map[string]bool{}
	)
	for _, it := range items {
		if !matches(r, it) {
			continue
		}
		sum += it.Quantity
		if !seen[it.OrderNumber] {
			seen[it.OrderNumber] = true
			orders = append(orders, it.OrderNumber)
		}
	}
	return sum, orders
}

// matches links a line item to an inventory record by product id, falling back to the legacy
// item-name match for items created before products were linked.
func matches(r *models.InventoryRecord, it *models.OpenOrderItem) bool {
	if it.OutletID != nil && *it.OutletID != "" && *it.OutletID != r.OutletID {
		return false
	}
	if it.ProductID != nil && *it.ProductID != "" {
		return *it.ProductID == r.ProductID
	}
	name := strings.ToLower(strings.TrimSpace(r.ProductName))
	return name != "" && strings.Contains(strings.ToLower(it.Name), name)
}
