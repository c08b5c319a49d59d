package tracker

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shopstream/opstrack/internal/cms"
	"github.com/shopstream/opstrack/internal/notify"
	"github.com/shopstream/opstrack/internal/tabular"
)

const (
	StockStatusInStock    = "InStock"
	StockStatusLowStock   = "LowStock"
	StockStatusOutOfStock = "OutOfStock"

	AlertTypeLowStock   = "low_stock"
	AlertTypeOutOfStock = "out_of_stock"

	AlertStatusActive   = "active"
	AlertStatusResolved = "resolved"

	MovementTypeSale       = "sale"
	MovementTypeAdjustment = "adjustment"
	MovementTypeRestock    = "restock"
	MovementTypeReturn     = "return"
)

// daysOfInventorySentinel stands in for "effectively unlimited" when a
// product has no sales velocity.
const daysOfInventorySentinel = 999

// Product Inventory sheet columns.
const (
	invColProductID = iota
	invColName
	invColSKU
	invColCategory
	invColSupplier
	invColCurrentStock
	invColThreshold
	invColReorderQty
	invColUnitCost
	invColUnitPrice
	invColStockStatus
	invColDaysOfInventory
	invColTurnoverRate
	invColTotalSold
	invColLastRestockedAt
	invColLastSoldAt
	invColCreatedAt
	invColUpdatedAt
	invColumnCount
)

// Inventory Alerts sheet columns.
const (
	alertColID = iota
	alertColProductID
	alertColProductName
	alertColType
	alertColStock
	alertColThreshold
	alertColStatus
	alertColCreatedAt
	alertColResolvedAt
	alertColumnCount
)

type InventoryRecord struct {
	ProductID         string
	Name              string
	SKU               string
	Category          string
	Supplier          string
	CurrentStock      int
	LowStockThreshold int
	ReorderQuantity   int
	UnitCost          float64
	UnitPrice         float64
	StockStatus       string
	DaysOfInventory   int
	TurnoverRate      float64
	TotalSold         int
	LastRestockedAt   time.Time
	LastSoldAt        time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type StockMovement struct {
	ProductID    string
	MovementType string
	Quantity     int
	Reason       string
	MovedBy      string
	Reference    string
}

// ProductSource is the slice of the CMS client the inventory resync needs.
type ProductSource interface {
	FetchProducts(ctx context.Context) ([]cms.Product, error)
}

type InventoryTracker struct {
	store      tabular.Store
	dispatcher notify.Dispatcher
	rules      RulesProvider
	source     ProductSource
	events     *EventLog
	keys       *keyedMutex
	now        func() time.Time
	newAlertID func() string
}

func NewInventoryTracker(store tabular.Store, dispatcher notify.Dispatcher, rules RulesProvider, source ProductSource, events *EventLog) *InventoryTracker {
	return &InventoryTracker{
		store:      store,
		dispatcher: dispatcher,
		rules:      rules,
		source:     source,
		events:     events,
		keys:       newKeyedMutex(),
		now:        time.Now,
		newAlertID: func() string { return "ALERT-" + uuid.NewString() },
	}
}

// TrackStockMovement applies one movement to the product's counter of
// truth, appends the ledger row, and evaluates alerting. Sales and
// adjustments subtract; every other movement type adds.
func (t *InventoryTracker) TrackStockMovement(ctx context.Context, movement StockMovement) error {
	if strings.TrimSpace(movement.ProductID) == "" {
		return fmt.Errorf("%w: product id is required", ErrInvalidInput)
	}
	if movement.Quantity < 0 {
		movement.Quantity = -movement.Quantity
	}
	unlock := t.keys.Lock("product:" + movement.ProductID)
	defer unlock()

	_, row, err := t.store.FindRow(ctx, SheetInventory, invColProductID, movement.ProductID)
	if err != nil {
		return err
	}
	record := decodeInventoryRow(row)
	previousStock := record.CurrentStock

	switch movement.MovementType {
	case MovementTypeSale, MovementTypeAdjustment:
		record.CurrentStock -= movement.Quantity
	default:
		record.CurrentStock += movement.Quantity
	}

	now := t.now().UTC()
	record.UpdatedAt = now
	switch movement.MovementType {
	case MovementTypeSale:
		record.TotalSold += movement.Quantity
		record.LastSoldAt = now
	case MovementTypeRestock:
		record.LastRestockedAt = now
	}
	record.StockStatus = stockStatusFor(record.CurrentStock, t.thresholdFor(record))

	if err := t.store.FindAndUpdateRow(ctx, SheetInventory, invColProductID, movement.ProductID, encodeInventoryRow(record)); err != nil {
		return err
	}

	ledger := tabular.Row{
		movement.ProductID,
		movement.MovementType,
		fmt.Sprintf("%d", movement.Quantity),
		fmt.Sprintf("%d", previousStock),
		fmt.Sprintf("%d", record.CurrentStock),
		movement.Reason,
		movement.MovedBy,
		movement.Reference,
		formatTime(now),
	}
	if err := t.store.AppendRows(ctx, SheetStockMovements, []tabular.Row{ledger}); err != nil {
		return err
	}

	t.record("inventory.movement", movement.ProductID,
		fmt.Sprintf("%s %d (%d -> %d)", movement.MovementType, movement.Quantity, previousStock, record.CurrentStock))
	return t.evaluateAlerts(ctx, record)
}

// UpdateProductInventory is the idempotent full upsert used by product
// webhooks and the CMS resync. Derived fields are recomputed on every
// call.
func (t *InventoryTracker) UpdateProductInventory(ctx context.Context, record InventoryRecord) error {
	if strings.TrimSpace(record.ProductID) == "" {
		return fmt.Errorf("%w: product id is required", ErrInvalidInput)
	}
	unlock := t.keys.Lock("product:" + record.ProductID)
	defer unlock()

	now := t.now().UTC()
	if _, existing, err := t.store.FindRow(ctx, SheetInventory, invColProductID, record.ProductID); err == nil {
		prev := decodeInventoryRow(existing)
		if record.TotalSold == 0 {
			record.TotalSold = prev.TotalSold
		}
		if record.LastRestockedAt.IsZero() {
			record.LastRestockedAt = prev.LastRestockedAt
		}
		if record.LastSoldAt.IsZero() {
			record.LastSoldAt = prev.LastSoldAt
		}
		if record.CreatedAt.IsZero() {
			record.CreatedAt = prev.CreatedAt
		}
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	record.StockStatus = stockStatusFor(record.CurrentStock, t.thresholdFor(record))
	record.DaysOfInventory, record.TurnoverRate = inventoryVelocity(record, now)

	if _, err := tabular.UpsertRow(ctx, t.store, SheetInventory, invColProductID, record.ProductID, encodeInventoryRow(record)); err != nil {
		return err
	}
	t.record("inventory.upsert", record.ProductID, fmt.Sprintf("stock=%d status=%s", record.CurrentStock, record.StockStatus))
	return t.evaluateAlerts(ctx, record)
}

// ResolveStockAlert transitions an alert from active to resolved.
func (t *InventoryTracker) ResolveStockAlert(ctx context.Context, alertID string) error {
	if strings.TrimSpace(alertID) == "" {
		return fmt.Errorf("%w: alert id is required", ErrInvalidInput)
	}
	_, row, err := t.store.FindRow(ctx, SheetInventoryAlerts, alertColID, alertID)
	if err != nil {
		return err
	}
	row = append(tabular.Row{}, row...)
	for len(row) < alertColumnCount {
		row = append(row, "")
	}
	row[alertColStatus] = AlertStatusResolved
	row[alertColResolvedAt] = formatTime(t.now())
	if err := t.store.FindAndUpdateRow(ctx, SheetInventoryAlerts, alertColID, alertID, row); err != nil {
		return err
	}
	t.record("inventory.alert_resolved", alertID, "alert resolved")
	return nil
}

// evaluateAlerts creates or refreshes a stock alert when the counter is
// at or below a threshold. An existing active alert for the same product
// and type is updated in place instead of duplicated, so a product
// hovering at its threshold produces one live alert, not one per write.
func (t *InventoryTracker) evaluateAlerts(ctx context.Context, record InventoryRecord) error {
	threshold := t.thresholdFor(record)
	var alertType string
	switch {
	case record.CurrentStock <= 0:
		alertType = AlertTypeOutOfStock
	case record.CurrentStock <= threshold:
		alertType = AlertTypeLowStock
	default:
		return nil
	}

	rows, err := t.store.GetValues(ctx, SheetInventoryAlerts)
	if err != nil {
		return err
	}
	for _, existing := range rows {
		if cell(existing, alertColProductID) == record.ProductID &&
			cell(existing, alertColType) == alertType &&
			cell(existing, alertColStatus) == AlertStatusActive {
			refreshed := append(tabular.Row{}, existing...)
			for len(refreshed) < alertColumnCount {
				refreshed = append(refreshed, "")
			}
			refreshed[alertColStock] = fmt.Sprintf("%d", record.CurrentStock)
			refreshed[alertColThreshold] = fmt.Sprintf("%d", threshold)
			return t.store.FindAndUpdateRow(ctx, SheetInventoryAlerts, alertColID, cell(existing, alertColID), refreshed)
		}
	}

	alert := tabular.Row{
		t.newAlertID(),
		record.ProductID,
		record.Name,
		alertType,
		fmt.Sprintf("%d", record.CurrentStock),
		fmt.Sprintf("%d", threshold),
		AlertStatusActive,
		formatTime(t.now()),
		"",
	}
	if err := t.store.AppendRows(ctx, SheetInventoryAlerts, []tabular.Row{alert}); err != nil {
		return err
	}
	t.record("inventory.alert", record.ProductID, alertType)

	notify.BestEffort("inventory", func() error {
		return t.dispatcher.SendLowStockAlert(ctx, record.ProductID, record.Name, record.CurrentStock, threshold)
	})
	return nil
}

// SyncProducts rebuilds inventory from the CMS catalog, then recomputes
// the supplier-performance and forecast tables wholesale. Those two have
// no incremental path; clear-and-reappend is the update.
func (t *InventoryTracker) SyncProducts(ctx context.Context) SyncResult {
	var result SyncResult
	if t.source == nil {
		result.addError("inventory", fmt.Errorf("no cms source configured"))
		return result
	}
	products, err := t.source.FetchProducts(ctx)
	if err != nil {
		result.addError("inventory", err)
		return result
	}
	for _, product := range products {
		result.RecordsProcessed++
		_, _, findErr := t.store.FindRow(ctx, SheetInventory, invColProductID, product.ProductID)
		existed := findErr == nil

		if err := t.UpdateProductInventory(ctx, InventoryFromCMS(product)); err != nil {
			result.addError(product.ProductID, err)
			continue
		}
		if existed {
			result.RecordsUpdated++
		} else {
			result.RecordsAdded++
		}
	}

	if err := t.rebuildSupplierPerformance(ctx); err != nil {
		result.addError("supplier-performance", err)
	}
	if err := t.rebuildForecast(ctx); err != nil {
		result.addError("forecast", err)
	}
	log.Printf("tracker: inventory sync processed=%d added=%d updated=%d errors=%d",
		result.RecordsProcessed, result.RecordsAdded, result.RecordsUpdated, len(result.Errors))
	return result
}

func (t *InventoryTracker) rebuildSupplierPerformance(ctx context.Context) error {
	rows, err := t.store.GetValues(ctx, SheetInventory)
	if err != nil {
		return err
	}
	type supplierStats struct {
		products   int
		totalStock int
		totalSold  int
		stockValue float64
		lowOrOut   int
	}
	stats := map[string]*supplierStats{}
	order := []string{}
	for _, row := range rows {
		record := decodeInventoryRow(row)
		supplier := record.Supplier
		if supplier == "" {
			supplier = "unknown"
		}
		entry, ok := stats[supplier]
		if !ok {
			entry = &supplierStats{}
			stats[supplier] = entry
			order = append(order, supplier)
		}
		entry.products++
		entry.totalStock += record.CurrentStock
		entry.totalSold += record.TotalSold
		entry.stockValue += float64(record.CurrentStock) * record.UnitCost
		if record.StockStatus != StockStatusInStock {
			entry.lowOrOut++
		}
	}

	out := make([]tabular.Row, 0, len(order))
	now := formatTime(t.now())
	for _, supplier := range order {
		entry := stats[supplier]
		availability := 100.0
		if entry.products > 0 {
			availability = float64(entry.products-entry.lowOrOut) / float64(entry.products) * 100
		}
		out = append(out, tabular.Row{
			supplier,
			fmt.Sprintf("%d", entry.products),
			fmt.Sprintf("%d", entry.totalStock),
			fmt.Sprintf("%d", entry.totalSold),
			formatMoney(entry.stockValue),
			formatPercent(availability),
			now,
		})
	}
	if err := t.store.ClearRange(ctx, SheetSupplierPerformance); err != nil {
		return err
	}
	return t.store.AppendRows(ctx, SheetSupplierPerformance, out)
}

func (t *InventoryTracker) rebuildForecast(ctx context.Context) error {
	rows, err := t.store.GetValues(ctx, SheetInventory)
	if err != nil {
		return err
	}
	now := t.now().UTC()
	out := make([]tabular.Row, 0, len(rows))
	for _, row := range rows {
		record := decodeInventoryRow(row)
		days, turnover := inventoryVelocity(record, now)
		reorderAt := ""
		if days < daysOfInventorySentinel {
			reorderAt = formatDate(now.AddDate(0, 0, days))
		}
		out = append(out, tabular.Row{
			record.ProductID,
			record.Name,
			fmt.Sprintf("%d", record.CurrentStock),
			fmt.Sprintf("%d", days),
			formatFloat2(turnover),
			fmt.Sprintf("%d", record.ReorderQuantity),
			reorderAt,
			formatTime(now),
		})
	}
	if err := t.store.ClearRange(ctx, SheetInventoryForecast); err != nil {
		return err
	}
	return t.store.AppendRows(ctx, SheetInventoryForecast, out)
}

func (t *InventoryTracker) thresholdFor(record InventoryRecord) int {
	if record.LowStockThreshold > 0 {
		return record.LowStockThreshold
	}
	return t.rules.Rules().DefaultLowStockThreshold
}

func (t *InventoryTracker) record(eventType, key, summary string) {
	t.events.Record(TrackedEvent{Type: eventType, Key: key, Summary: summary, Timestamp: t.now().UTC()})
}

func stockStatusFor(currentStock, threshold int) string {
	switch {
	case currentStock <= 0:
		return StockStatusOutOfStock
	case currentStock <= threshold:
		return StockStatusLowStock
	default:
		return StockStatusInStock
	}
}

// inventoryVelocity derives days-of-inventory and the annualized
// turnover rate from trailing sales. Zero velocity yields the 999
// sentinel rather than a division error.
func inventoryVelocity(record InventoryRecord, now time.Time) (days int, turnover float64) {
	ageDays := 30.0
	if !record.CreatedAt.IsZero() {
		if age := now.Sub(record.CreatedAt).Hours() / 24; age > 1 {
			ageDays = age
		} else {
			ageDays = 1
		}
	}
	dailySales := float64(record.TotalSold) / ageDays
	if dailySales <= 0 {
		return daysOfInventorySentinel, 0
	}
	days = int(float64(record.CurrentStock) / dailySales)
	if days > daysOfInventorySentinel {
		days = daysOfInventorySentinel
	}
	avgStock := float64(record.CurrentStock+record.TotalSold) / 2
	if avgStock > 0 {
		turnover = round2(float64(record.TotalSold) / avgStock * (365 / ageDays))
	}
	return days, turnover
}

func encodeInventoryRow(record InventoryRecord) tabular.Row {
	row := make(tabular.Row, invColumnCount)
	row[invColProductID] = record.ProductID
	row[invColName] = record.Name
	row[invColSKU] = record.SKU
	row[invColCategory] = record.Category
	row[invColSupplier] = record.Supplier
	row[invColCurrentStock] = fmt.Sprintf("%d", record.CurrentStock)
	row[invColThreshold] = fmt.Sprintf("%d", record.LowStockThreshold)
	row[invColReorderQty] = fmt.Sprintf("%d", record.ReorderQuantity)
	row[invColUnitCost] = formatMoney(record.UnitCost)
	row[invColUnitPrice] = formatMoney(record.UnitPrice)
	row[invColStockStatus] = record.StockStatus
	row[invColDaysOfInventory] = fmt.Sprintf("%d", record.DaysOfInventory)
	row[invColTurnoverRate] = formatFloat2(record.TurnoverRate)
	row[invColTotalSold] = fmt.Sprintf("%d", record.TotalSold)
	row[invColLastRestockedAt] = formatTime(record.LastRestockedAt)
	row[invColLastSoldAt] = formatTime(record.LastSoldAt)
	row[invColCreatedAt] = formatTime(record.CreatedAt)
	row[invColUpdatedAt] = formatTime(record.UpdatedAt)
	return row
}

func decodeInventoryRow(row tabular.Row) InventoryRecord {
	return InventoryRecord{
		ProductID:         cell(row, invColProductID),
		Name:              cell(row, invColName),
		SKU:               cell(row, invColSKU),
		Category:          cell(row, invColCategory),
		Supplier:          cell(row, invColSupplier),
		CurrentStock:      parseInt(cell(row, invColCurrentStock)),
		LowStockThreshold: parseInt(cell(row, invColThreshold)),
		ReorderQuantity:   parseInt(cell(row, invColReorderQty)),
		UnitCost:          parseFloat(cell(row, invColUnitCost)),
		UnitPrice:         parseFloat(cell(row, invColUnitPrice)),
		StockStatus:       cell(row, invColStockStatus),
		DaysOfInventory:   parseInt(cell(row, invColDaysOfInventory)),
		TurnoverRate:      parseFloat(cell(row, invColTurnoverRate)),
		TotalSold:         parseInt(cell(row, invColTotalSold)),
		LastRestockedAt:   parseTime(cell(row, invColLastRestockedAt)),
		LastSoldAt:        parseTime(cell(row, invColLastSoldAt)),
		CreatedAt:         parseTime(cell(row, invColCreatedAt)),
		UpdatedAt:         parseTime(cell(row, invColUpdatedAt)),
	}
}

// InventoryFromCMS maps the CMS product DTO onto the tracked shape.
func InventoryFromCMS(in cms.Product) InventoryRecord {
	return InventoryRecord{
		ProductID:         in.ProductID,
		Name:              in.Name,
		SKU:               in.SKU,
		Category:          in.Category,
		Supplier:          in.Supplier,
		CurrentStock:      in.CurrentStock,
		LowStockThreshold: in.LowStockThreshold,
		ReorderQuantity:   in.ReorderQuantity,
		UnitCost:          in.UnitCost,
		UnitPrice:         in.UnitPrice,
		UpdatedAt:         parseTime(in.UpdatedAt),
	}
}
