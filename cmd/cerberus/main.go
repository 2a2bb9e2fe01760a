package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/drillops/cerberus/internal/daemon"
	"github.com/drillops/cerberus/internal/model"
	"github.com/drillops/cerberus/internal/setup"
	"github.com/drillops/cerberus/internal/uds"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "setup":
		runSetup(os.Args[2:])
	case "daemon":
		runDaemon(os.Args[2:])
	case "run":
		runScan(os.Args[2:])
	case "resume":
		runResume(os.Args[2:])
	case "cancel":
		runCancel(os.Args[2:])
	case "status":
		runStatus(os.Args[2:])
	case "results":
		runResults(os.Args[2:])
	case "labels":
		runLabels(os.Args[2:])
	case "version":
		fmt.Printf("cerberus %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runSetup(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: cerberus setup <project_dir> [project_name]")
		os.Exit(1)
	}
	name := ""
	if len(args) > 1 {
		name = args[1]
	}
	if err := setup.Run(args[0], name); err != nil {
		fmt.Fprintf(os.Stderr, "setup: %v\n", err)
		os.Exit(1)
	}
	absDir, _ := filepath.Abs(args[0])
	fmt.Printf("Initialized .cerberus/ in %s\n", absDir)
}

func runDaemon(_ []string) {
	cerberusDir := mustFindCerberusDir()
	cfg := mustLoadConfig(cerberusDir)

	d, err := daemon.New(cerberusDir, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create daemon: %v\n", err)
		os.Exit(1)
	}
	if err := d.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "daemon: %v\n", err)
		os.Exit(1)
	}
}

type scanStartRequest struct {
	Rows         []model.InputRow `json:"rows"`
	ResumeOffset int              `json:"resume_offset,omitempty"`
	Modes        []string         `json:"modes,omitempty"`
}

func runScan(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: cerberus run <input.csv> [--modes RIH,POOH] [--offset N] [--no-wait]")
		os.Exit(1)
	}
	csvPath := args[0]
	rest := args[1:]

	var modes []string
	offset := 0
	wait := true
	for i := 0; i < len(rest); i++ {
		switch rest[i] {
		case "--modes":
			if i+1 >= len(rest) {
				fmt.Fprintln(os.Stderr, "--modes requires a value")
				os.Exit(1)
			}
			i++
			for _, m := range strings.Split(rest[i], ",") {
				if m = strings.TrimSpace(m); m != "" {
					modes = append(modes, m)
				}
			}
		case "--offset":
			if i+1 >= len(rest) {
				fmt.Fprintln(os.Stderr, "--offset requires a value")
				os.Exit(1)
			}
			i++
			n, err := strconv.Atoi(rest[i])
			if err != nil || n < 0 {
				fmt.Fprintf(os.Stderr, "invalid --offset value: %s\n", rest[i])
				os.Exit(1)
			}
			offset = n
		case "--no-wait":
			wait = false
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\nusage: cerberus run <input.csv> [--modes RIH,POOH] [--offset N] [--no-wait]\n", rest[i])
			os.Exit(1)
		}
	}

	startScan(csvPath, offset, modes, wait)
}

func runResume(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: cerberus resume <input.csv> [--modes RIH,POOH] [--no-wait]")
		os.Exit(1)
	}
	csvPath := args[0]
	rest := args[1:]

	var modes []string
	wait := true
	for i := 0; i < len(rest); i++ {
		switch rest[i] {
		case "--modes":
			if i+1 >= len(rest) {
				fmt.Fprintln(os.Stderr, "--modes requires a value")
				os.Exit(1)
			}
			i++
			for _, m := range strings.Split(rest[i], ",") {
				if m = strings.TrimSpace(m); m != "" {
					modes = append(modes, m)
				}
			}
		case "--no-wait":
			wait = false
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\nusage: cerberus resume <input.csv> [--modes RIH,POOH] [--no-wait]\n", rest[i])
			os.Exit(1)
		}
	}

	// Resume picks up after the last processed row of the most recent run.
	client := mustClient()
	resp, err := client.SendCommand("scan.status", nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "resume: %v\n", err)
		os.Exit(1)
	}
	if !resp.Success {
		fmt.Fprintf(os.Stderr, "resume: %s\n", responseError(resp))
		os.Exit(1)
	}
	var status daemon.RunStatus
	if err := json.Unmarshal(resp.Data, &status); err != nil {
		fmt.Fprintf(os.Stderr, "resume: decode status: %v\n", err)
		os.Exit(1)
	}
	switch status.State {
	case "completed", "cancelled", "failed":
	default:
		fmt.Fprintln(os.Stderr, "resume: a scan is already running")
		os.Exit(1)
	}
	if status.State == "completed" && status.ProcessedRows >= status.TotalRows {
		fmt.Println("Nothing to resume: last run completed.")
		return
	}

	fmt.Printf("Resuming after row %d of run %s\n", status.ProcessedRows, status.RunID)
	startScan(csvPath, status.ProcessedRows, modes, wait)
}

func startScan(csvPath string, offset int, modes []string, wait bool) {
	f, err := os.Open(csvPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open input: %v\n", err)
		os.Exit(1)
	}
	rows, err := model.ReadInputCSV(f)
	f.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "read input: %v\n", err)
		os.Exit(1)
	}
	if len(rows) == 0 {
		fmt.Fprintln(os.Stderr, "input file has no data rows")
		os.Exit(1)
	}

	client := mustClient()
	resp, err := client.SendCommand("scan.start", scanStartRequest{
		Rows:         rows,
		ResumeOffset: offset,
		Modes:        modes,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "scan start: %v\n", err)
		os.Exit(1)
	}
	if !resp.Success {
		fmt.Fprintf(os.Stderr, "scan start failed %s\n", responseError(resp))
		os.Exit(1)
	}

	var started struct {
		RunID string `json:"run_id"`
	}
	if err := json.Unmarshal(resp.Data, &started); err != nil {
		fmt.Fprintf(os.Stderr, "scan start: decode response: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Scan started: %s\n", started.RunID)

	if !wait {
		return
	}
	if err := waitForScan(client, started.RunID); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

// waitForScan polls scan.status until the run leaves the running state,
// printing progress as it goes.
func waitForScan(client *uds.Client, runID string) error {
	lastProcessed := -1
	for {
		resp, err := client.SendCommand("scan.status", nil)
		if err != nil {
			return fmt.Errorf("scan status: %w", err)
		}
		if !resp.Success {
			return fmt.Errorf("scan status failed %s", responseError(resp))
		}
		var status daemon.RunStatus
		if err := json.Unmarshal(resp.Data, &status); err != nil {
			return fmt.Errorf("decode status: %w", err)
		}
		if status.RunID != runID {
			return fmt.Errorf("run %s superseded by %s", runID, status.RunID)
		}

		if status.ProcessedRows != lastProcessed {
			fmt.Printf("  %d/%d rows\n", status.ProcessedRows, status.TotalRows)
			lastProcessed = status.ProcessedRows
		}

		switch status.State {
		case "completed":
			fmt.Println("Scan completed.")
			return nil
		case "cancelled":
			fmt.Println("Scan cancelled.")
			return nil
		case "failed":
			return fmt.Errorf("scan failed: %s", status.Error)
		}

		time.Sleep(time.Second)
	}
}

func runCancel(_ []string) {
	client := mustClient()
	resp, err := client.SendCommand("scan.cancel", nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cancel: %v\n", err)
		os.Exit(1)
	}
	if !resp.Success {
		fmt.Fprintf(os.Stderr, "cancel failed %s\n", responseError(resp))
		os.Exit(1)
	}
	fmt.Println("Cancellation requested.")
}

func runStatus(args []string) {
	jsonOutput := false
	for _, a := range args {
		switch a {
		case "--json":
			jsonOutput = true
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\nusage: cerberus status [--json]\n", a)
			os.Exit(1)
		}
	}

	client := mustClient()
	resp, err := client.SendCommand("scan.status", nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "status: %v\n", err)
		os.Exit(1)
	}
	if !resp.Success {
		fmt.Fprintf(os.Stderr, "status failed %s\n", responseError(resp))
		os.Exit(1)
	}

	if jsonOutput {
		out, _ := json.MarshalIndent(json.RawMessage(resp.Data), "", "  ")
		fmt.Println(string(out))
		return
	}

	var status daemon.RunStatus
	if err := json.Unmarshal(resp.Data, &status); err != nil {
		fmt.Fprintf(os.Stderr, "status: decode response: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Run:      %s\n", status.RunID)
	fmt.Printf("State:    %s\n", status.State)
	fmt.Printf("Progress: %d/%d rows\n", status.ProcessedRows, status.TotalRows)
	if status.Error != "" {
		fmt.Printf("Error:    %s\n", status.Error)
	}
}

type resultsResponse struct {
	RunID         string            `json:"run_id"`
	State         string            `json:"state"`
	TotalRows     int               `json:"total_rows"`
	ProcessedRows int               `json:"processed_rows"`
	Error         string            `json:"error,omitempty"`
	Rows          []model.ResultRow `json:"rows"`
}

func runResults(args []string) {
	runID := ""
	csvOutput := false
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--run":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "--run requires a value")
				os.Exit(1)
			}
			i++
			runID = args[i]
		case "--csv":
			csvOutput = true
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\nusage: cerberus results [--run <id>] [--csv]\n", args[i])
			os.Exit(1)
		}
	}

	client := mustClient()
	resp, err := client.SendCommand("scan.results", map[string]string{"run_id": runID})
	if err != nil {
		fmt.Fprintf(os.Stderr, "results: %v\n", err)
		os.Exit(1)
	}
	if !resp.Success {
		fmt.Fprintf(os.Stderr, "results failed %s\n", responseError(resp))
		os.Exit(1)
	}

	if !csvOutput {
		out, _ := json.MarshalIndent(json.RawMessage(resp.Data), "", "  ")
		fmt.Println(string(out))
		return
	}

	var payload resultsResponse
	if err := json.Unmarshal(resp.Data, &payload); err != nil {
		fmt.Fprintf(os.Stderr, "results: decode response: %v\n", err)
		os.Exit(1)
	}
	if err := writeResultsCSV(os.Stdout, payload.Rows); err != nil {
		fmt.Fprintf(os.Stderr, "results: %v\n", err)
		os.Exit(1)
	}
}

// writeResultsCSV flattens result rows into a CSV table. Value columns are
// the union of the collected column labels, in sorted order for stability.
func writeResultsCSV(w *os.File, rows []model.ResultRow) error {
	columns := map[string]bool{}
	for _, row := range rows {
		for key := range row.Values {
			columns[key] = true
		}
	}
	valueCols := make([]string, 0, len(columns))
	for key := range columns {
		valueCols = append(valueCols, key)
	}
	sort.Strings(valueCols)

	cw := csv.NewWriter(w)
	header := append([]string{"global_index", "mode", "batch_index"}, valueCols...)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, row := range rows {
		record := []string{
			strconv.Itoa(row.GlobalIndex),
			string(row.Mode),
			strconv.Itoa(row.BatchIndex),
		}
		for _, col := range valueCols {
			record = append(record, row.Values[col])
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func runLabels(args []string) {
	key := ""
	if len(args) > 0 {
		key = args[0]
	}

	client := mustClient()
	resp, err := client.SendCommand("labels.get", map[string]string{"key": key})
	if err != nil {
		fmt.Fprintf(os.Stderr, "labels: %v\n", err)
		os.Exit(1)
	}
	if !resp.Success {
		fmt.Fprintf(os.Stderr, "labels failed %s\n", responseError(resp))
		os.Exit(1)
	}

	var labels map[string][]string
	if err := json.Unmarshal(resp.Data, &labels); err != nil {
		fmt.Fprintf(os.Stderr, "labels: decode response: %v\n", err)
		os.Exit(1)
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("%s: %s\n", k, strings.Join(labels[k], " | "))
	}
}

func mustClient() *uds.Client {
	cerberusDir := mustFindCerberusDir()
	cfg := mustLoadConfig(cerberusDir)
	socket := cfg.Daemon.SocketPath
	if socket == "" {
		socket = uds.DefaultSocketName
	}
	if !filepath.IsAbs(socket) {
		socket = filepath.Join(cerberusDir, socket)
	}
	return uds.NewClient(socket)
}

func mustFindCerberusDir() string {
	dir := findCerberusDir()
	if dir == "" {
		fmt.Fprintln(os.Stderr, "error: .cerberus/ directory not found. Run 'cerberus setup <dir>' first.")
		os.Exit(1)
	}
	return dir
}

// findCerberusDir walks up from the working directory looking for .cerberus/.
func findCerberusDir() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, ".cerberus")
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func mustLoadConfig(cerberusDir string) model.Config {
	cfg, err := model.LoadConfig(filepath.Join(cerberusDir, "config.yaml"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func responseError(resp *uds.Response) string {
	if resp.Error == nil {
		return "[unknown]"
	}
	return fmt.Sprintf("[%s]: %s", resp.Error.Code, resp.Error.Message)
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `cerberus %s — Sensitivity scan driver for the Orpheus simulator

Usage: cerberus <command> [options]

Project:
  setup <dir> [name]  Initialize .cerberus/ directory
  daemon              Run the scan daemon (foreground)

Scans (CLI -> daemon):
  run <input.csv> [--modes RIH,POOH] [--offset N] [--no-wait]
                      Start a sensitivity scan from a CSV input file
  resume <input.csv> [--modes RIH,POOH] [--no-wait]
                      Restart the last run after its last processed row
  cancel              Request cancellation of the active scan
  status [--json]     Show active or most recent run
  results [--run <id>] [--csv]
                      Dump collected rows for a run (default: latest)

Utilities:
  labels [key]        Show column labels recovered from the inspect dump
  version             Show version
  help                Show this help

`, version)
}
