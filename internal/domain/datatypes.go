package domain

import (
	"fmt"
	"time"
)

// DataType identifies a category of market data with its own storage table
// and refresh cadence. The set is closed; each data type maps to a
// (dataset, interval) pair used as the ingestion state key.
type DataType string

const (
	DataTypePriceHistorical  DataType = "price_historical"
	DataTypePriceIntraday15m DataType = "price_intraday_15m"
	DataTypePriceCurrent     DataType = "price_current"
	DataTypeFundamentals     DataType = "fundamentals"
	DataTypeEarnings         DataType = "earnings"
	DataTypeNews             DataType = "news"
	DataTypeIndustryPeers    DataType = "industry_peers"
	DataTypeCorporateActions DataType = "corporate_actions"
	DataTypeIncomeStatement  DataType = "income_statement"
	DataTypeBalanceSheet     DataType = "balance_sheet"
	DataTypeCashFlow         DataType = "cash_flow"
	DataTypeFinancialRatios  DataType = "financial_ratios"
	DataTypeIndicators       DataType = "indicators"
)

// AllDataTypes lists every refreshable data type in dispatch order.
var AllDataTypes = []DataType{
	DataTypePriceHistorical,
	DataTypePriceIntraday15m,
	DataTypePriceCurrent,
	DataTypeFundamentals,
	DataTypeEarnings,
	DataTypeNews,
	DataTypeIndustryPeers,
	DataTypeCorporateActions,
	DataTypeIncomeStatement,
	DataTypeBalanceSheet,
	DataTypeCashFlow,
	DataTypeFinancialRatios,
	DataTypeIndicators,
}

var dataTypeKeys = map[DataType]struct{ Dataset, Interval string }{
	DataTypePriceHistorical:  {"prices", "1d"},
	DataTypePriceIntraday15m: {"prices", "15m"},
	DataTypePriceCurrent:     {"prices", "last"},
	DataTypeFundamentals:     {"fundamentals", "1d"},
	DataTypeEarnings:         {"earnings", "1d"},
	DataTypeNews:             {"news", "1d"},
	DataTypeIndustryPeers:    {"industry_peers", "1d"},
	DataTypeCorporateActions: {"corporate_actions", "1d"},
	DataTypeIncomeStatement:  {"income_statement", "quarterly"},
	DataTypeBalanceSheet:     {"balance_sheet", "quarterly"},
	DataTypeCashFlow:         {"cash_flow", "quarterly"},
	DataTypeFinancialRatios:  {"financial_ratios", "1d"},
	DataTypeIndicators:       {"indicators", "1d"},
}

// Valid reports whether dt is a member of the closed data type set.
func (dt DataType) Valid() bool {
	_, ok := dataTypeKeys[dt]
	return ok
}

// StateKey returns the (dataset, interval) pair used as the ingestion
// state key for this data type.
func (dt DataType) StateKey() (dataset, interval string) {
	k := dataTypeKeys[dt]
	return k.Dataset, k.Interval
}

// Blocking reports whether a validation failure or empty fetch on this data
// type fails the owning workflow stage. Price ingestion is blocking; the
// auxiliary data types degrade gracefully.
func (dt DataType) Blocking() bool {
	switch dt {
	case DataTypePriceHistorical, DataTypePriceIntraday15m, DataTypeIndicators:
		return true
	}
	return false
}

// PeriodicInterval returns the minimum age before a periodic refresh re-runs
// this data type.
func (dt DataType) PeriodicInterval() time.Duration {
	switch dt {
	case DataTypePriceCurrent:
		return time.Minute
	case DataTypePriceIntraday15m:
		return 15 * time.Minute
	case DataTypeIndicators:
		return time.Hour
	default:
		return 6 * time.Hour
	}
}

// StageName returns the workflow stage a data type is processed under.
func (dt DataType) StageName() string {
	switch dt {
	case DataTypeFundamentals, DataTypeFinancialRatios,
		DataTypeIncomeStatement, DataTypeBalanceSheet, DataTypeCashFlow:
		return StageFundamentals
	case DataTypeEarnings:
		return StageEarnings
	case DataTypeIndustryPeers:
		return StageIndustryPeers
	case DataTypeIndicators:
		return StageIndicators
	default:
		return StageIngestion
	}
}

// Workflow stage names, in deterministic execution order.
const (
	StageIngestion     = "ingestion"
	StageIndicators    = "indicators"
	StageFundamentals  = "fundamentals"
	StageEarnings      = "earnings"
	StageIndustryPeers = "industry_peers"
)

// StageOrder lists the workflow stages in execution order. Ingestion and
// indicators are sequential; the remaining stages may run in parallel.
var StageOrder = []string{
	StageIngestion,
	StageIndicators,
	StageFundamentals,
	StageEarnings,
	StageIndustryPeers,
}

// ValidStage reports whether name is a known workflow stage.
func ValidStage(name string) bool {
	for _, s := range StageOrder {
		if s == name {
			return true
		}
	}
	return false
}

// StageDataTypes maps a workflow stage to the data types it refreshes.
// Point-in-time quotes are excluded; they belong to live and periodic
// refreshes, not workflow runs.
func StageDataTypes(stage string) []DataType {
	var out []DataType
	for _, dt := range AllDataTypes {
		if dt == DataTypePriceCurrent {
			continue
		}
		if dt.StageName() == stage {
			out = append(out, dt)
		}
	}
	return out
}

// StageOptions tunes a workflow stage run. The zero value keeps the
// configured defaults.
type StageOptions struct {
	Force        bool // bypass the strategy gate and retry back-off
	LookbackDays int  // explicit historical window; 0 means the configured default
}

// PeriodLookbackDays converts a requested history period into a
// calendar-day lookback. The empty period selects the configured default
// window.
func PeriodLookbackDays(period string) (int, error) {
	switch period {
	case "":
		return 0, nil
	case "1mo":
		return 31, nil
	case "3mo":
		return 93, nil
	case "6mo":
		return 186, nil
	case "1y":
		return 366, nil
	case "2y":
		return 731, nil
	case "5y":
		return 1827, nil
	case "10y":
		return 3653, nil
	case "max":
		return 7305, nil
	}
	return 0, fmt.Errorf("unknown period %q", period)
}

// RefreshMode selects the refresh strategy.
type RefreshMode string

const (
	ModeScheduled RefreshMode = "scheduled"
	ModeOnDemand  RefreshMode = "on_demand"
	ModePeriodic  RefreshMode = "periodic"
	ModeLive      RefreshMode = "live"
)

// Valid reports whether m is a known refresh mode.
func (m RefreshMode) Valid() bool {
	switch m {
	case ModeScheduled, ModeOnDemand, ModePeriodic, ModeLive:
		return true
	}
	return false
}

// RefreshStatus is the per-data-type outcome of a refresh attempt.
type RefreshStatus string

const (
	StatusSuccess RefreshStatus = "success"
	StatusFailed  RefreshStatus = "failed"
	StatusSkipped RefreshStatus = "skipped"
	StatusPartial RefreshStatus = "partial"
)
