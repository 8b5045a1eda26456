package models

import (
	"fmt"
	"strings"
	"time"
)

type TransferMode string

const (
	TransferModeFull   TransferMode = "full"
	TransferModeDaily  TransferMode = "daily"
	TransferModeCustom TransferMode = "custom"
)

const (
	MinBatchSize      = 100
	MaxBatchSize      = 50000
	DefaultBatchSize  = 10000
	DefaultSchema     = "public"
	DefaultDateColumn = "created_at"
)

// ParseTransferMode maps wire spellings onto a mode. Empty means full.
func ParseTransferMode(s string) (TransferMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "full":
		return TransferModeFull, nil
	case "daily":
		return TransferModeDaily, nil
	case "custom", "customrange", "custom_range", "custom-range":
		return TransferModeCustom, nil
	}
	return "", NewValidationError("transfer_config.transfer_mode", fmt.Sprintf("unsupported value %q (want full, daily or custom)", s))
}

// TransferConfig is the transfer_config object of a start request.
type TransferConfig struct {
	TableName      string  `json:"table_name" mapstructure:"table_name"`
	WarehouseTable string  `json:"warehouse_table" mapstructure:"warehouse_table"`
	SourceSchema   string  `json:"source_db_schema" mapstructure:"source_db_schema"`
	DestSchema     string  `json:"dest_db_schema" mapstructure:"dest_db_schema"`
	BatchSize      int     `json:"batch_size" mapstructure:"batch_size"`
	Mode           string  `json:"transfer_mode" mapstructure:"transfer_mode"`
	DateFilter     string  `json:"date_filter,omitempty" mapstructure:"date_filter"`
	DateColumn     string  `json:"date_column,omitempty" mapstructure:"date_column"`
	SSLMode        SSLMode `json:"ssl_mode,omitempty" mapstructure:"ssl_mode"`
	VerifyTransfer *bool   `json:"verify_transfer,omitempty" mapstructure:"verify_transfer"`
}

type TransferRequest struct {
	Source ConnectionProfile `json:"source_db" mapstructure:"source_db"`
	Dest   ConnectionProfile `json:"dest_db" mapstructure:"dest_db"`
	Config TransferConfig    `json:"transfer_config" mapstructure:"transfer_config"`
}

// TransferSpec is a validated TransferConfig.
type TransferSpec struct {
	SourceSchema string
	SourceTable  string
	DestSchema   string
	DestTable    string
	BatchSize    int
	Mode         TransferMode
	DateColumn   string
	DateFilter   string
	// Range is set for custom mode. Daily ranges are resolved when the job starts.
	Range  *DateRange
	Verify bool
}

// Validate normalizes a copy of the request and returns the TransferSpec plus both
// profiles. Nothing here touches the network.
func (r TransferRequest) Validate(loc *time.Location) (TransferSpec, ConnectionProfile, ConnectionProfile, error) {
	cfg := r.Config
	spec := TransferSpec{
		SourceSchema: strings.TrimSpace(cfg.SourceSchema),
		SourceTable:  strings.TrimSpace(cfg.TableName),
		DestSchema:   strings.TrimSpace(cfg.DestSchema),
		DestTable:    strings.TrimSpace(cfg.WarehouseTable),
		BatchSize:    cfg.BatchSize,
		DateColumn:   strings.TrimSpace(cfg.DateColumn),
		DateFilter:   strings.TrimSpace(cfg.DateFilter),
		Verify:       true,
	}
	if cfg.VerifyTransfer != nil {
		spec.Verify = *cfg.VerifyTransfer
	}
	if spec.SourceSchema == "" {
		spec.SourceSchema = DefaultSchema
	}
	if spec.DestSchema == "" {
		spec.DestSchema = DefaultSchema
	}
	if spec.DestTable == "" {
		spec.DestTable = spec.SourceTable
	}
	if spec.BatchSize == 0 {
		spec.BatchSize = DefaultBatchSize
	}

	mode, err := ParseTransferMode(cfg.Mode)
	if err != nil {
		return TransferSpec{}, ConnectionProfile{}, ConnectionProfile{}, err
	}
	spec.Mode = mode

	if spec.SourceTable == "" {
		return TransferSpec{}, ConnectionProfile{}, ConnectionProfile{}, NewValidationError("transfer_config.table_name", "is required")
	}
	if spec.BatchSize < MinBatchSize || spec.BatchSize > MaxBatchSize {
		return TransferSpec{}, ConnectionProfile{}, ConnectionProfile{}, NewValidationError("transfer_config.batch_size",
			fmt.Sprintf("must be between %d and %d, got %d", MinBatchSize, MaxBatchSize, spec.BatchSize))
	}

	switch spec.Mode {
	case TransferModeCustom:
		rng, err := ParseDateRange(spec.DateFilter, loc)
		if err != nil {
			if ve, ok := err.(*ValidationError); ok {
				ve.Field = "transfer_config." + ve.Field
			}
			return TransferSpec{}, ConnectionProfile{}, ConnectionProfile{}, err
		}
		spec.Range = &rng
	default:
		if spec.DateFilter != "" {
			return TransferSpec{}, ConnectionProfile{}, ConnectionProfile{}, NewValidationError("transfer_config.date_filter",
				fmt.Sprintf("is only allowed with custom mode, not %s", spec.Mode))
		}
	}
	if spec.Mode != TransferModeFull && spec.DateColumn == "" {
		spec.DateColumn = DefaultDateColumn
	}

	fallback := SSLMode(strings.ToLower(strings.TrimSpace(string(cfg.SSLMode))))
	if fallback != "" && !fallback.Valid() {
		return TransferSpec{}, ConnectionProfile{}, ConnectionProfile{}, NewValidationError("transfer_config.ssl_mode", fmt.Sprintf("unsupported value %q", cfg.SSLMode))
	}
	src, dst := r.Source, r.Dest
	src.Normalize(fallback)
	dst.Normalize(fallback)
	if err := src.Validate("source_db"); err != nil {
		return TransferSpec{}, ConnectionProfile{}, ConnectionProfile{}, err
	}
	if err := dst.Validate("dest_db"); err != nil {
		return TransferSpec{}, ConnectionProfile{}, ConnectionProfile{}, err
	}
	if src.SameDatabase(dst) && spec.SourceSchema == spec.DestSchema && spec.SourceTable == spec.DestTable {
		return TransferSpec{}, ConnectionProfile{}, ConnectionProfile{}, NewValidationError("transfer_config.warehouse_table",
			fmt.Sprintf("%s is the source table itself, pick another destination table, schema or database", spec.DestName()))
	}
	return spec, src, dst, nil
}

func (s TransferSpec) SourceName() string { return s.SourceSchema + "." + s.SourceTable }
func (s TransferSpec) DestName() string   { return s.DestSchema + "." + s.DestTable }
