// Package dashboards builds Grafana dashboard definitions for the ledger's
// Prometheus metrics, exported as JSON for provisioning.
package dashboards

import (
	"encoding/json"
	"fmt"
)

// GrafanaDashboard represents a Grafana dashboard configuration
type GrafanaDashboard struct {
	ID            int               `json:"id"`
	UID           string            `json:"uid"`
	Title         string            `json:"title"`
	Tags          []string          `json:"tags"`
	Style         string            `json:"style"`
	Timezone      string            `json:"timezone"`
	Editable      bool              `json:"editable"`
	HideControls  bool              `json:"hideControls"`
	Time          TimeConfig        `json:"time"`
	Timepicker    TimepickerConfig  `json:"timepicker"`
	Templating    TemplatingConfig  `json:"templating"`
	Annotations   AnnotationsConfig `json:"annotations"`
	Refresh       string            `json:"refresh"`
	SchemaVersion int               `json:"schemaVersion"`
	Version       int               `json:"version"`
	Panels        []Panel           `json:"panels"`
}

// TimeConfig configures dashboard time range
type TimeConfig struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// TimepickerConfig configures the time picker
type TimepickerConfig struct {
	RefreshIntervals []string `json:"refresh_intervals"`
	TimeOptions      []string `json:"time_options"`
}

// TemplatingConfig configures dashboard variables
type TemplatingConfig struct {
	List []Variable `json:"list"`
}

// Variable represents a dashboard variable
type Variable struct {
	Name       string           `json:"name"`
	Type       string           `json:"type"`
	Label      string           `json:"label"`
	Query      string           `json:"query"`
	Datasource string           `json:"datasource"`
	Refresh    int              `json:"refresh"`
	Options    []VariableOption `json:"options"`
	Current    VariableOption   `json:"current"`
	Hide       int              `json:"hide"`
	IncludeAll bool             `json:"includeAll"`
	Multi      bool             `json:"multi"`
	AllValue   string           `json:"allValue"`
}

// VariableOption represents a variable option
type VariableOption struct {
	Text     string `json:"text"`
	Value    string `json:"value"`
	Selected bool   `json:"selected"`
}

// AnnotationsConfig configures dashboard annotations
type AnnotationsConfig struct {
	List []Annotation `json:"list"`
}

// Annotation represents a dashboard annotation
type Annotation struct {
	Name       string `json:"name"`
	Datasource string `json:"datasource"`
	Enable     bool   `json:"enable"`
	Hide       bool   `json:"hide"`
	IconColor  string `json:"iconColor"`
	Query      string `json:"query"`
	Type       string `json:"type"`
}

// Panel represents a dashboard panel
type Panel struct {
	ID          int         `json:"id"`
	Title       string      `json:"title"`
	Type        string      `json:"type"`
	Datasource  string      `json:"datasource"`
	GridPos     GridPos     `json:"gridPos"`
	Targets     []Target    `json:"targets"`
	FieldConfig FieldConfig `json:"fieldConfig,omitempty"`
	Description string      `json:"description"`
}

// GridPos defines panel position and size
type GridPos struct {
	H int `json:"h"`
	W int `json:"w"`
	X int `json:"x"`
	Y int `json:"y"`
}

// Target represents a query target
type Target struct {
	Expr         string `json:"expr"`
	LegendFormat string `json:"legendFormat"`
	RefID        string `json:"refId"`
}

// FieldConfig configures field properties
type FieldConfig struct {
	Defaults FieldDefaults `json:"defaults"`
}

// FieldDefaults defines default field configuration
type FieldDefaults struct {
	Color      ColorConfig     `json:"color"`
	Custom     CustomConfig    `json:"custom"`
	Mappings   []ValueMapping  `json:"mappings"`
	Thresholds ThresholdConfig `json:"thresholds"`
	Unit       string          `json:"unit"`
	Min        *float64        `json:"min,omitempty"`
	Max        *float64        `json:"max,omitempty"`
	Decimals   *int            `json:"decimals,omitempty"`
}

// ColorConfig defines color settings
type ColorConfig struct {
	Mode       string `json:"mode"`
	FixedColor string `json:"fixedColor,omitempty"`
}

// CustomConfig defines custom panel configuration
type CustomConfig struct {
	DrawStyle         string `json:"drawStyle,omitempty"`
	LineInterpolation string `json:"lineInterpolation,omitempty"`
	LineWidth         int    `json:"lineWidth,omitempty"`
	FillOpacity       int    `json:"fillOpacity,omitempty"`
	SpanNulls         bool   `json:"spanNulls,omitempty"`
}

// ValueMapping defines value mappings
type ValueMapping struct {
	Type    string                 `json:"type"`
	Options map[string]interface{} `json:"options"`
}

// ThresholdConfig defines threshold configuration
type ThresholdConfig struct {
	Mode  string      `json:"mode"`
	Steps []Threshold `json:"steps"`
}

// Threshold defines a threshold step
type Threshold struct {
	Color string   `json:"color"`
	Value *float64 `json:"value"`
}

// CreateBudgetDashboard creates the main privacy budget dashboard
func CreateBudgetDashboard() *GrafanaDashboard {
	dashboard := &GrafanaDashboard{
		UID:           "dpledger-budget",
		Title:         "DP Ledger - Privacy Budget",
		Tags:          []string{"dpledger", "privacy", "budget"},
		Style:         "dark",
		Timezone:      "browser",
		Editable:      true,
		HideControls:  false,
		SchemaVersion: 27,
		Version:       1,
		Time: TimeConfig{
			From: "now-6h",
			To:   "now",
		},
		Timepicker: TimepickerConfig{
			RefreshIntervals: []string{"5s", "10s", "30s", "1m", "5m", "15m", "30m", "1h", "2h", "1d"},
			TimeOptions:      []string{"5m", "15m", "1h", "6h", "12h", "24h", "2d", "7d", "30d"},
		},
		Refresh: "30s",
		Templating: TemplatingConfig{
			List: []Variable{
				{
					Name:       "scope",
					Type:       "query",
					Label:      "Scope",
					Query:      "label_values(dpledger_server_budget_utilization_ratio, scope)",
					Datasource: "prometheus",
					Refresh:    1,
					Multi:      true,
					IncludeAll: true,
					AllValue:   ".*",
				},
			},
		},
		Panels: createBudgetPanels(),
	}

	return dashboard
}

// createBudgetPanels creates panels for the budget dashboard
func createBudgetPanels() []Panel {
	return []Panel{
		{
			ID:      1,
			Title:   "Budget Overview",
			Type:    "row",
			GridPos: GridPos{H: 1, W: 24, X: 0, Y: 0},
		},
		{
			ID:          2,
			Title:       "Epsilon Utilization",
			Type:        "timeseries",
			Datasource:  "prometheus",
			GridPos:     GridPos{H: 8, W: 12, X: 0, Y: 1},
			Description: "Fraction of each scope's epsilon budget consumed",
			Targets: []Target{
				{
					Expr:         `dpledger_server_budget_utilization_ratio{component="epsilon", scope=~"$scope"}`,
					RefID:        "A",
					LegendFormat: "{{scope}}",
				},
			},
			FieldConfig: FieldConfig{
				Defaults: FieldDefaults{
					Unit: "percentunit",
					Min:  float64Ptr(0),
					Max:  float64Ptr(1),
					Thresholds: ThresholdConfig{
						Mode: "absolute",
						Steps: []Threshold{
							{Color: "green", Value: nil},
							{Color: "yellow", Value: float64Ptr(0.75)},
							{Color: "red", Value: float64Ptr(0.9)},
						},
					},
				},
			},
		},
		{
			ID:         3,
			Title:      "Epsilon Spend Rate",
			Type:       "timeseries",
			Datasource: "prometheus",
			GridPos:    GridPos{H: 8, W: 12, X: 12, Y: 1},
			Targets: []Target{
				{
					Expr:         `rate(dpledger_server_spend_epsilon_total{scope=~"$scope"}[$__rate_interval])`,
					RefID:        "A",
					LegendFormat: "{{scope}}",
				},
			},
			FieldConfig: FieldConfig{
				Defaults: FieldDefaults{
					Unit: "short",
					Custom: CustomConfig{
						DrawStyle:         "line",
						LineInterpolation: "linear",
						LineWidth:         1,
						FillOpacity:       10,
					},
				},
			},
		},
		{
			ID:         4,
			Title:      "Spend Requests",
			Type:       "timeseries",
			Datasource: "prometheus",
			GridPos:    GridPos{H: 8, W: 8, X: 0, Y: 9},
			Targets: []Target{
				{
					Expr:         `rate(dpledger_server_spends_total{scope=~"$scope"}[$__rate_interval])`,
					RefID:        "A",
					LegendFormat: "{{scope}} - {{status}}",
				},
			},
			FieldConfig: FieldConfig{
				Defaults: FieldDefaults{
					Unit: "reqps",
				},
			},
		},
		{
			ID:         5,
			Title:      "Tracked Scopes",
			Type:       "stat",
			Datasource: "prometheus",
			GridPos:    GridPos{H: 8, W: 8, X: 8, Y: 9},
			Targets: []Target{
				{
					Expr:  "dpledger_server_scopes_tracked",
					RefID: "A",
				},
			},
			FieldConfig: FieldConfig{
				Defaults: FieldDefaults{
					Unit: "short",
					Color: ColorConfig{
						Mode: "palette-classic",
					},
				},
			},
		},
		{
			ID:         6,
			Title:      "Budget Alerts Fired",
			Type:       "timeseries",
			Datasource: "prometheus",
			GridPos:    GridPos{H: 8, W: 8, X: 16, Y: 9},
			Targets: []Target{
				{
					Expr:         `increase(dpledger_server_budget_alerts_total{scope=~"$scope"}[$__rate_interval])`,
					RefID:        "A",
					LegendFormat: "{{scope}} @ {{threshold}}",
				},
			},
			FieldConfig: FieldConfig{
				Defaults: FieldDefaults{
					Unit: "short",
				},
			},
		},
		{
			ID:      7,
			Title:   "Service",
			Type:    "row",
			GridPos: GridPos{H: 1, W: 24, X: 0, Y: 17},
		},
		{
			ID:         8,
			Title:      "Request Duration",
			Type:       "timeseries",
			Datasource: "prometheus",
			GridPos:    GridPos{H: 8, W: 8, X: 0, Y: 18},
			Targets: []Target{
				{
					Expr:         "histogram_quantile(0.50, rate(dpledger_server_http_request_duration_seconds_bucket[$__rate_interval]))",
					RefID:        "A",
					LegendFormat: "50th percentile",
				},
				{
					Expr:         "histogram_quantile(0.95, rate(dpledger_server_http_request_duration_seconds_bucket[$__rate_interval]))",
					RefID:        "B",
					LegendFormat: "95th percentile",
				},
				{
					Expr:         "histogram_quantile(0.99, rate(dpledger_server_http_request_duration_seconds_bucket[$__rate_interval]))",
					RefID:        "C",
					LegendFormat: "99th percentile",
				},
			},
			FieldConfig: FieldConfig{
				Defaults: FieldDefaults{
					Unit: "s",
				},
			},
		},
		{
			ID:         9,
			Title:      "Composition Duration",
			Type:       "timeseries",
			Datasource: "prometheus",
			GridPos:    GridPos{H: 8, W: 8, X: 8, Y: 18},
			Targets: []Target{
				{
					Expr:         "histogram_quantile(0.95, rate(dpledger_server_composition_duration_seconds_bucket[$__rate_interval]))",
					RefID:        "A",
					LegendFormat: "{{method}} - 95th percentile",
				},
			},
			FieldConfig: FieldConfig{
				Defaults: FieldDefaults{
					Unit: "s",
				},
			},
		},
		{
			ID:         10,
			Title:      "Error Rate",
			Type:       "timeseries",
			Datasource: "prometheus",
			GridPos:    GridPos{H: 8, W: 8, X: 16, Y: 18},
			Targets: []Target{
				{
					Expr:         "rate(dpledger_server_errors_total[$__rate_interval])",
					RefID:        "A",
					LegendFormat: "{{component}} - {{error_type}}",
				},
			},
			FieldConfig: FieldConfig{
				Defaults: FieldDefaults{
					Unit: "reqps",
				},
			},
		},
	}
}

// CreateStorageDashboard creates a dashboard for storage and worker activity
func CreateStorageDashboard() *GrafanaDashboard {
	dashboard := &GrafanaDashboard{
		UID:           "dpledger-storage",
		Title:         "DP Ledger - Storage and Workers",
		Tags:          []string{"dpledger", "storage", "workers"},
		Style:         "dark",
		Timezone:      "browser",
		Editable:      true,
		SchemaVersion: 27,
		Version:       1,
		Time: TimeConfig{
			From: "now-6h",
			To:   "now",
		},
		Refresh: "30s",
		Panels:  createStoragePanels(),
	}

	return dashboard
}

// createStoragePanels creates panels for the storage dashboard
func createStoragePanels() []Panel {
	return []Panel{
		{
			ID:         1,
			Title:      "Storage Operations",
			Type:       "timeseries",
			Datasource: "prometheus",
			GridPos:    GridPos{H: 8, W: 12, X: 0, Y: 0},
			Targets: []Target{
				{
					Expr:         "rate(dpledger_server_storage_operations_total[$__rate_interval])",
					RefID:        "A",
					LegendFormat: "{{backend}} {{operation}} - {{status}}",
				},
			},
			FieldConfig: FieldConfig{
				Defaults: FieldDefaults{
					Unit: "ops",
				},
			},
		},
		{
			ID:         2,
			Title:      "Storage Latency",
			Type:       "timeseries",
			Datasource: "prometheus",
			GridPos:    GridPos{H: 8, W: 12, X: 12, Y: 0},
			Targets: []Target{
				{
					Expr:         "histogram_quantile(0.95, rate(dpledger_server_storage_operation_duration_seconds_bucket[$__rate_interval]))",
					RefID:        "A",
					LegendFormat: "{{backend}} {{operation}} - 95th percentile",
				},
			},
			FieldConfig: FieldConfig{
				Defaults: FieldDefaults{
					Unit: "s",
				},
			},
		},
		{
			ID:         3,
			Title:      "Worker Jobs",
			Type:       "timeseries",
			Datasource: "prometheus",
			GridPos:    GridPos{H: 8, W: 8, X: 0, Y: 8},
			Targets: []Target{
				{
					Expr:         "rate(dpledger_server_worker_jobs_total[$__rate_interval])",
					RefID:        "A",
					LegendFormat: "{{job_type}} - {{status}}",
				},
			},
			FieldConfig: FieldConfig{
				Defaults: FieldDefaults{
					Unit: "ops",
				},
			},
		},
		{
			ID:         4,
			Title:      "Worker Job Duration",
			Type:       "timeseries",
			Datasource: "prometheus",
			GridPos:    GridPos{H: 8, W: 8, X: 8, Y: 8},
			Targets: []Target{
				{
					Expr:         "histogram_quantile(0.95, rate(dpledger_server_worker_job_duration_seconds_bucket[$__rate_interval]))",
					RefID:        "A",
					LegendFormat: "{{job_type}} - 95th percentile",
				},
			},
			FieldConfig: FieldConfig{
				Defaults: FieldDefaults{
					Unit: "s",
				},
			},
		},
		{
			ID:         5,
			Title:      "Queue Depth",
			Type:       "stat",
			Datasource: "prometheus",
			GridPos:    GridPos{H: 8, W: 8, X: 16, Y: 8},
			Targets: []Target{
				{
					Expr:  "dpledger_server_worker_queue_depth",
					RefID: "A",
				},
			},
			FieldConfig: FieldConfig{
				Defaults: FieldDefaults{
					Unit: "short",
					Thresholds: ThresholdConfig{
						Mode: "absolute",
						Steps: []Threshold{
							{Color: "green", Value: nil},
							{Color: "yellow", Value: float64Ptr(50)},
							{Color: "red", Value: float64Ptr(200)},
						},
					},
				},
			},
		},
		{
			ID:         6,
			Title:      "Backend Health",
			Type:       "stat",
			Datasource: "prometheus",
			GridPos:    GridPos{H: 8, W: 24, X: 0, Y: 16},
			Targets: []Target{
				{
					Expr:         "dpledger_server_health_status",
					RefID:        "A",
					LegendFormat: "{{component}}",
				},
			},
			FieldConfig: FieldConfig{
				Defaults: FieldDefaults{
					Mappings: []ValueMapping{
						{
							Type: "value",
							Options: map[string]interface{}{
								"0": map[string]interface{}{"text": "Unhealthy", "color": "red"},
								"1": map[string]interface{}{"text": "Healthy", "color": "green"},
								"2": map[string]interface{}{"text": "Degraded", "color": "yellow"},
							},
						},
					},
				},
			},
		},
	}
}

// ToJSON converts the dashboard to JSON
func (d *GrafanaDashboard) ToJSON() ([]byte, error) {
	return json.MarshalIndent(d, "", "  ")
}

func float64Ptr(f float64) *float64 {
	return &f
}

// CreateDashboardFromTemplate creates a dashboard from a named template
func CreateDashboardFromTemplate(templateName string) (*GrafanaDashboard, error) {
	switch templateName {
	case "budget":
		return CreateBudgetDashboard(), nil
	case "storage":
		return CreateStorageDashboard(), nil
	default:
		return nil, fmt.Errorf("unknown dashboard template: %s", templateName)
	}
}
