package model

import (
	"fmt"
	"os"

	yamlv3 "gopkg.in/yaml.v3"
)

type Config struct {
	Project ProjectConfig `yaml:"project"`
	Bridge  BridgeConfig  `yaml:"bridge"`
	Scan    ScanConfig    `yaml:"scan"`
	Daemon  DaemonConfig  `yaml:"daemon"`
	Store   StoreConfig   `yaml:"store"`
	Labels  LabelsConfig  `yaml:"labels"`
	Logging LoggingConfig `yaml:"logging"`
}

type ProjectConfig struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// BridgeConfig describes how to reach the UIA helper executable that drives
// the simulator window.
type BridgeConfig struct {
	HelperPath    string `yaml:"helper_path"`
	DumpPath      string `yaml:"dump_path,omitempty"`
	WindowRegex   string `yaml:"window_regex,omitempty"`
	MaxAttempts   int    `yaml:"max_attempts"`
	BackoffBaseMs int    `yaml:"backoff_base_ms"`
	BackoffCapMs  int    `yaml:"backoff_cap_ms"`
}

type ScanConfig struct {
	MaxBatchSize int            `yaml:"max_batch_size"`
	Template     string         `yaml:"template"`
	Timeouts     TimeoutsConfig `yaml:"timeouts"`
	Controls     ControlsConfig `yaml:"controls"`
}

// TimeoutsConfig holds the per-operation timeouts, in seconds. Calculation
// and table collection run much longer than plain control invocations.
type TimeoutsConfig struct {
	ControlSec   int `yaml:"control_sec"`
	ValueSec     int `yaml:"value_sec"`
	CalculateSec int `yaml:"calculate_sec"`
	CollectSec   int `yaml:"collect_sec"`
}

// ControlsConfig maps every logical control the orchestrator touches to the
// opaque, stable key the UIA helper resolves on screen. Key-to-element
// mapping is entirely the helper's concern.
type ControlsConfig struct {
	OpenSensitivity string `yaml:"open_sensitivity"`
	OpenTemplate    string `yaml:"open_template"`
	// Templates maps a template name to the control key selecting it in the
	// open-template dialog.
	Templates map[string]string `yaml:"templates"`

	ParametersTab string `yaml:"parameters_tab"`
	OutputsTab    string `yaml:"outputs_tab"`

	CheckDensity              string `yaml:"check_density"`
	CheckDepth                string `yaml:"check_depth"`
	CheckRIH                  string `yaml:"check_rih"`
	CheckPOOH                 string `yaml:"check_pooh"`
	CheckMinSurfaceWeightRIH  string `yaml:"check_min_surface_weight_rih"`
	CheckMaxSurfaceWeightPOOH string `yaml:"check_max_surface_weight_pooh"`
	CheckMaxPipeStressPOOH    string `yaml:"check_max_pipe_stress_pooh"`

	ParameterMatrix string `yaml:"parameter_matrix"`
	MatrixOK        string `yaml:"matrix_ok"`
	DepthRow        string `yaml:"depth_row"`
	DensityRow      string `yaml:"density_row"`
	ForceRIHRow     string `yaml:"force_rih_row"`
	ForcePOOHRow    string `yaml:"force_pooh_row"`

	ValueEditorInput string `yaml:"value_editor_input"`
	ValueEditorAdd   string `yaml:"value_editor_add"`
	ValueEditorClear string `yaml:"value_editor_clear"`
	ValueEditorOK    string `yaml:"value_editor_ok"`

	Calculate    string `yaml:"calculate"`
	ResultsTable string `yaml:"results_table"`
}

type DaemonConfig struct {
	SocketPath         string `yaml:"socket_path"`
	ShutdownTimeoutSec int    `yaml:"shutdown_timeout_sec"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type LabelsConfig struct {
	DumpPath string `yaml:"dump_path"`
	Watch    bool   `yaml:"watch"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns the configuration written by `cerberus setup`.
// Control keys default to the repository numbering the helper ships with.
func DefaultConfig() Config {
	return Config{
		Project: ProjectConfig{Name: "cerberus"},
		Bridge: BridgeConfig{
			HelperPath:    "bin/uia-helper.exe",
			MaxAttempts:   2,
			BackoffBaseMs: 500,
			BackoffCapMs:  2000,
		},
		Scan: ScanConfig{
			MaxBatchSize: 200,
			Template:     "auto",
			Timeouts: TimeoutsConfig{
				ControlSec:   90,
				ValueSec:     10,
				CalculateSec: 120,
				CollectSec:   120,
			},
			Controls: ControlsConfig{
				OpenSensitivity:           "button1",
				OpenTemplate:              "button3",
				Templates:                 map[string]string{"auto": "button4"},
				ParametersTab:             "tab_parameters",
				OutputsTab:                "button7",
				CheckDensity:              "button5",
				CheckDepth:                "check_depth",
				CheckRIH:                  "check_rih",
				CheckPOOH:                 "button6",
				CheckMinSurfaceWeightRIH:  "check_min_sw_rih",
				CheckMaxSurfaceWeightPOOH: "button8",
				CheckMaxPipeStressPOOH:    "button9",
				ParameterMatrix:           "button10",
				MatrixOK:                  "matrix_ok",
				DepthRow:                  "button11",
				DensityRow:                "row_density",
				ForceRIHRow:               "row_foe_rih",
				ForcePOOHRow:              "row_foe_pooh",
				ValueEditorInput:          "button14",
				ValueEditorAdd:            "editor_add",
				ValueEditorClear:          "editor_clear",
				ValueEditorOK:             "editor_ok",
				Calculate:                 "calculate",
				ResultsTable:              "button24",
			},
		},
		Daemon: DaemonConfig{
			SocketPath:         "cerberus.sock",
			ShutdownTimeoutSec: 10,
		},
		Store:   StoreConfig{Path: "cerberus.db"},
		Labels:  LabelsConfig{DumpPath: "inspect_dumps/Windows_Inspect_Dump.txt", Watch: true},
		Logging: LoggingConfig{Level: "info"},
	}
}

// LoadConfig reads a YAML config file and fills unset numeric fields with
// defaults so older configs keep working.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg := DefaultConfig()
	if err := yamlv3.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Bridge.MaxAttempts <= 0 {
		cfg.Bridge.MaxAttempts = 2
	}
	if cfg.Scan.Timeouts.ControlSec <= 0 {
		cfg.Scan.Timeouts.ControlSec = 90
	}
	if cfg.Scan.Timeouts.ValueSec <= 0 {
		cfg.Scan.Timeouts.ValueSec = 10
	}
	if cfg.Scan.Timeouts.CalculateSec <= 0 {
		cfg.Scan.Timeouts.CalculateSec = 120
	}
	if cfg.Scan.Timeouts.CollectSec <= 0 {
		cfg.Scan.Timeouts.CollectSec = cfg.Scan.Timeouts.CalculateSec
	}
	return cfg, nil
}
