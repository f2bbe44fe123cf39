// Package importer provides the generic map -> validate -> detect
// duplicate -> create/update pipeline shared by every Infor entity
// importer, plus the concrete importers themselves.
package importer

import (
	"context"
	"fmt"

	"github.com/pinggolf/gestima/internal/erpclient"
)

// MappedRow is the result of applying field mappings to a raw ERP row.
// The sentinel key "_skip" tells the kernel to drop the row entirely —
// used by importers for domain-specific exclusions.
type MappedRow map[string]interface{}

const skipKey = "_skip"

// Skip marks a mapped row to be dropped by the kernel.
func (m MappedRow) Skip() { m[skipKey] = true }

// ShouldSkip reports whether Skip was called on this row.
func (m MappedRow) ShouldSkip() bool {
	v, _ := m[skipKey].(bool)
	return v
}

// FieldMapping describes how one target field is populated from a raw
// ERP row.
type FieldMapping struct {
	SourceField    string
	TargetField    string
	Required       bool
	FallbackFields []string
	Transform      func(interface{}) (interface{}, error)
}

// Config declares everything the kernel needs to drive one entity's
// import pipeline.
type Config struct {
	EntityName          string
	IDOName             string
	FieldMappings       []FieldMapping
	DuplicateCheckField string
}

// ValidationResult is the outcome of validating one mapped row.
type ValidationResult struct {
	IsValid          bool
	IsDuplicate      bool
	Errors           []string
	Warnings         []string
	NeedsManualInput map[string]bool
}

// EntityImporter is implemented by every concrete importer. T is the
// domain entity type the importer creates/updates.
type EntityImporter[T any] interface {
	Config() Config
	MapRowCustom(ctx context.Context, raw erpclient.Row, basic MappedRow) (MappedRow, error)
	CreateEntity(ctx context.Context, mapped MappedRow) (T, error)
	CheckDuplicate(ctx context.Context, mapped MappedRow) (T, bool, error)
	UpdateEntity(ctx context.Context, existing T, mapped MappedRow) error
}

// BaseImporter gives concrete importers a no-op UpdateEntity default,
// matching the source ABC's concrete (non-abstract) method.
type BaseImporter[T any] struct{}

func (BaseImporter[T]) UpdateEntity(ctx context.Context, existing T, mapped MappedRow) error {
	return nil
}

// Kernel drives the shared pipeline for one EntityImporter.
type Kernel[T any] struct {
	importer EntityImporter[T]
	config   Config
}

// NewKernel builds a Kernel around a concrete importer.
func NewKernel[T any](imp EntityImporter[T]) *Kernel[T] {
	return &Kernel[T]{importer: imp, config: imp.Config()}
}

// ApplyBasicMapping walks the configured field mappings, taking each
// target's value from its primary source field, falling back to
// alternates, applying a transform if provided. Transform failures
// yield nil for that field and do not abort the row — the row as a
// whole may still be valid if the field isn't required.
func (k *Kernel[T]) ApplyBasicMapping(raw erpclient.Row) MappedRow {
	mapped := MappedRow{}
	for _, fm := range k.config.FieldMappings {
		value, ok := raw[fm.SourceField]
		if !ok || value == nil || value == "" {
			for _, fallback := range fm.FallbackFields {
				if v, ok := raw[fallback]; ok && v != nil && v != "" {
					value = v
					break
				}
			}
		}

		if fm.Transform != nil && value != nil {
			transformed, err := fm.Transform(value)
			if err != nil {
				value = nil
			} else {
				value = transformed
			}
		}

		mapped[fm.TargetField] = value
	}
	return mapped
}

// MapRow produces the basic mapping then layers in entity-specific
// enrichment via MapRowCustom.
func (k *Kernel[T]) MapRow(ctx context.Context, raw erpclient.Row) (MappedRow, error) {
	basic := k.ApplyBasicMapping(raw)
	custom, err := k.importer.MapRowCustom(ctx, raw, basic)
	if err != nil {
		return nil, fmt.Errorf("map row custom (%s): %w", k.config.EntityName, err)
	}
	if custom == nil {
		return basic, nil
	}
	return custom, nil
}

// ValidateMappedRow checks required fields are present and whether the
// row duplicates an existing entity.
func (k *Kernel[T]) ValidateMappedRow(ctx context.Context, mapped MappedRow) (ValidationResult, error) {
	result := ValidationResult{
		IsValid:          true,
		NeedsManualInput: map[string]bool{},
	}

	for _, fm := range k.config.FieldMappings {
		if !fm.Required {
			continue
		}
		value, ok := mapped[fm.TargetField]
		if !ok || value == nil || value == "" {
			result.IsValid = false
			result.NeedsManualInput[fm.TargetField] = true
			result.Errors = append(result.Errors, fmt.Sprintf("%s is required", fm.TargetField))
		}
	}

	if !result.IsValid {
		return result, nil
	}

	_, found, err := k.importer.CheckDuplicate(ctx, mapped)
	if err != nil {
		return result, fmt.Errorf("check duplicate (%s): %w", k.config.EntityName, err)
	}
	result.IsDuplicate = found
	return result, nil
}

// PreparedRow pairs a raw row with its mapping and validation outcome,
// plus the caller's decision on how to handle a duplicate.
type PreparedRow struct {
	Raw             erpclient.Row
	Mapped          MappedRow
	Validation      ValidationResult
	DuplicateAction string // "skip" or "update"
}

// PreviewResult aggregates a preview pass over a batch of rows.
type PreviewResult struct {
	Rows          []PreparedRow
	ValidCount    int
	ErrorCount    int
	DuplicateCount int
}

// PreviewImport maps and validates every row, tallying counters.
// Rows whose MapRow marks them Skip are dropped before validation.
func (k *Kernel[T]) PreviewImport(ctx context.Context, rows []erpclient.Row) (PreviewResult, error) {
	var out PreviewResult
	for _, raw := range rows {
		mapped, err := k.MapRow(ctx, raw)
		if err != nil {
			return out, err
		}
		if mapped.ShouldSkip() {
			continue
		}

		validation, err := k.ValidateMappedRow(ctx, mapped)
		if err != nil {
			return out, err
		}

		prepared := PreparedRow{Raw: raw, Mapped: mapped, Validation: validation, DuplicateAction: "skip"}
		out.Rows = append(out.Rows, prepared)

		switch {
		case !validation.IsValid:
			out.ErrorCount++
		case validation.IsDuplicate:
			out.DuplicateCount++
			out.ValidCount++
		default:
			out.ValidCount++
		}
	}
	return out, nil
}

// ExecuteResult aggregates the outcome of an execute pass.
type ExecuteResult struct {
	Created int
	Updated int
	Skipped int
	Errors  []string
}

// ExecuteImport creates or updates an entity per row according to its
// DuplicateAction. Per-row failures are collected, not fatal to the
// batch; the caller commits or rolls back the surrounding transaction.
func (k *Kernel[T]) ExecuteImport(ctx context.Context, prepared []PreparedRow) ExecuteResult {
	var result ExecuteResult

	for _, row := range prepared {
		if !row.Validation.IsValid {
			result.Skipped++
			continue
		}

		if row.Validation.IsDuplicate {
			if row.DuplicateAction == "skip" {
				result.Skipped++
				continue
			}

			existing, found, err := k.importer.CheckDuplicate(ctx, row.Mapped)
			if err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("check duplicate: %v", err))
				continue
			}
			if !found {
				result.Errors = append(result.Errors, "duplicate row vanished before update")
				continue
			}
			if err := k.importer.UpdateEntity(ctx, existing, row.Mapped); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("update entity: %v", err))
				continue
			}
			result.Updated++
			continue
		}

		if _, err := k.importer.CreateEntity(ctx, row.Mapped); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("create entity: %v", err))
			continue
		}
		result.Created++
	}

	return result
}
