// Package export writes assessment results to XLSX workbooks for sharing
// with auditors and customers.
package export

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/verdantly/footprint-cli/internal/model"
	"github.com/verdantly/footprint-cli/internal/store"
)

// Workbook builds XLSX exports from the store.
type Workbook struct {
	store store.Store
}

// New creates a Workbook exporter.
func New(st store.Store) *Workbook {
	return &Workbook{store: st}
}

// WriteProduct exports one product's allocations, current line-item
// impacts, and aggregate to the given path. Sheets are written even when
// empty so the layout is stable across products.
func (w *Workbook) WriteProduct(ctx context.Context, productID, path string) error {
	f := xlsx.NewFile()

	if err := w.writeAllocations(ctx, f, productID); err != nil {
		return err
	}
	if err := w.writeImpacts(ctx, f, productID); err != nil {
		return err
	}
	if err := w.writeAggregate(ctx, f, productID); err != nil {
		return err
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "export: save %s", path)
	}
	return nil
}

func (w *Workbook) writeAllocations(ctx context.Context, f *xlsx.File, productID string) error {
	sheet, err := f.AddSheet("Allocations")
	if err != nil {
		return eris.Wrap(err, "export: add allocations sheet")
	}
	addHeader(sheet, "Facility", "Period Start", "Period End", "Ratio",
		"Allocated Emissions (kgCO2e)", "Scope 1", "Scope 2", "Scope 3",
		"Intensity (kgCO2e/unit)", "Status", "Scope Assumed")

	recs, err := w.store.ListAllocations(ctx, productID)
	if err != nil {
		return eris.Wrap(err, "export: list allocations")
	}
	for _, rec := range recs {
		row := sheet.AddRow()
		row.AddCell().Value = rec.FacilityID
		row.AddCell().Value = rec.Period.Start.Format("2006-01-02")
		row.AddCell().Value = rec.Period.End.Format("2006-01-02")
		addFloat(row, rec.AttributionRatio)
		addFloat(row, rec.AllocatedEmissions)
		addFloat(row, rec.Scope1)
		addFloat(row, rec.Scope2)
		addFloat(row, rec.Scope3)
		addFloat(row, rec.IntensityPerUnit)
		row.AddCell().Value = string(rec.Status)
		row.AddCell().Value = strconv.FormatBool(rec.ScopeAssumed)
	}
	return nil
}

func (w *Workbook) writeImpacts(ctx context.Context, f *xlsx.File, productID string) error {
	sheet, err := f.AddSheet("Line Item Impacts")
	if err != nil {
		return eris.Wrap(err, "export: add impacts sheet")
	}
	header := []string{"Line Item", "Quantity", "Provenance", "Quality", "Confidence", "Hybrid"}
	for _, cat := range model.BaseImpactCategories {
		header = append(header, cat)
	}
	addHeader(sheet, header...)

	items, err := w.store.CurrentImpacts(ctx, productID)
	if err != nil {
		return eris.Wrap(err, "export: current impacts")
	}
	for _, item := range items {
		row := sheet.AddRow()
		row.AddCell().Value = item.LineItemID
		addFloat(row, item.Quantity)
		row.AddCell().Value = string(item.Impact.Provenance)
		row.AddCell().Value = string(item.Impact.Quality)
		row.AddCell().SetInt(item.Impact.Confidence)
		row.AddCell().Value = strconv.FormatBool(item.Impact.IsHybrid)
		for _, cat := range model.BaseImpactCategories {
			addFloat(row, item.Impact.Values[cat])
		}
	}
	return nil
}

func (w *Workbook) writeAggregate(ctx context.Context, f *xlsx.File, productID string) error {
	sheet, err := f.AddSheet("Aggregate")
	if err != nil {
		return eris.Wrap(err, "export: add aggregate sheet")
	}

	agg, err := w.store.CurrentAggregate(ctx, productID)
	if err != nil {
		return eris.Wrap(err, "export: current aggregate")
	}
	if agg == nil {
		addHeader(sheet, "No aggregate computed for "+productID)
		return nil
	}

	addKV(sheet, "Product", productID)
	addKV(sheet, "Computed At", agg.ComputedAt.Format("2006-01-02 15:04:05"))
	addKV(sheet, "Quality", string(agg.Quality))
	addKV(sheet, "Line Items", strconv.Itoa(agg.LineItemCount))
	addKV(sheet, "Hybrid Constituents", strconv.Itoa(agg.HybridCount))
	if agg.SingleScore != nil {
		addKV(sheet, "Single Score", fmt.Sprintf("%.6f", *agg.SingleScore))
		addKV(sheet, "Weighting Set", agg.WeightingSetID)
	}

	sheet.AddRow()
	addHeader(sheet, "Category", "Total", "Normalised", "Weighted")
	for _, cat := range model.BaseImpactCategories {
		total, ok := agg.CategoryTotals[cat]
		if !ok {
			continue
		}
		row := sheet.AddRow()
		row.AddCell().Value = cat
		addFloat(row, total)
		addFloat(row, agg.Normalised[cat])
		addFloat(row, agg.Weighted[cat])
	}
	return nil
}

func addHeader(sheet *xlsx.Sheet, cols ...string) {
	row := sheet.AddRow()
	for _, c := range cols {
		row.AddCell().Value = c
	}
}

func addKV(sheet *xlsx.Sheet, key, value string) {
	row := sheet.AddRow()
	row.AddCell().Value = key
	row.AddCell().Value = value
}

func addFloat(row *xlsx.Row, v float64) {
	row.AddCell().SetFloat(v)
}
