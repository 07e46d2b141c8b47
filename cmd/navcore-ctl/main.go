// Package main provides the navcore-ctl CLI for inspecting a running
// navcore agent over its control API.
//
// Usage:
//
//	navcore-ctl export [--addr http://localhost:8080] [--out <file>]
//	navcore-ctl events [--addr <url>] [--limit 50]
//	navcore-ctl metrics [--addr <url>] [--top 10]
//	navcore-ctl queue [--addr <url>]
//	navcore-ctl breaker [reset] [--addr <url>]
//	navcore-ctl history [--addr <url>]
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/storefront/navcore/pkg/breaker"
	"github.com/storefront/navcore/pkg/history"
	"github.com/storefront/navcore/pkg/ledger"
	"github.com/storefront/navcore/pkg/nav"
	"github.com/storefront/navcore/pkg/queue"
)

const defaultAddr = "http://localhost:8080"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "export":
		runExport(os.Args[2:])
	case "events":
		runEvents(os.Args[2:])
	case "metrics":
		runMetrics(os.Args[2:])
	case "queue":
		runQueue(os.Args[2:])
	case "breaker":
		runBreaker(os.Args[2:])
	case "history":
		runHistory(os.Args[2:])
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprint(os.Stderr, "navcore-ctl — navcore operator CLI\n\n")
	fmt.Fprint(os.Stderr, "Usage:\n")
	fmt.Fprint(os.Stderr, "  navcore-ctl <command> [flags]\n\n")
	fmt.Fprint(os.Stderr, "Commands:\n")
	fmt.Fprint(os.Stderr, "  export    Download the full metrics export bundle\n")
	fmt.Fprint(os.Stderr, "  events    Show recent navigation events\n")
	fmt.Fprint(os.Stderr, "  metrics   Show computed ledger metrics\n")
	fmt.Fprint(os.Stderr, "  queue     Show pending deferred actions\n")
	fmt.Fprint(os.Stderr, "  breaker   Show service health; \"breaker reset\" force-closes all breakers\n")
	fmt.Fprint(os.Stderr, "  history   Show the navigation state snapshot\n\n")
	fmt.Fprint(os.Stderr, "Use \"navcore-ctl <command> --help\" for more information about a command.\n")
}

// runExport implements "navcore-ctl export".
func runExport(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	addr := fs.String("addr", defaultAddr, "Control API address")
	out := fs.String("out", "", "Write the bundle to a file instead of stdout")
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, "Usage: navcore-ctl export [flags]\n\nDownload the metrics export bundle.\n\nFlags:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	var bundle nav.ExportBundle
	fetchJSON(*addr, "/api/v1/export", &bundle)

	data, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		fatalf("encode bundle: %v", err)
	}
	if *out == "" {
		fmt.Println(string(data))
		return
	}
	if err := os.WriteFile(*out, data, 0o644); err != nil {
		fatalf("write %s: %v", *out, err)
	}
	fmt.Printf("Export written to %s (schema v%d, %d events)\n", *out, bundle.SchemaVersion, len(bundle.RecentEvents))
}

// runEvents implements "navcore-ctl events".
func runEvents(args []string) {
	fs := flag.NewFlagSet("events", flag.ExitOnError)
	addr := fs.String("addr", defaultAddr, "Control API address")
	limit := fs.Int("limit", 50, "Max events to show")
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, "Usage: navcore-ctl events [flags]\n\nShow recent navigation events.\n\nFlags:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	var events []ledger.Event
	fetchJSON(*addr, fmt.Sprintf("/api/v1/events?limit=%d", *limit), &events)

	fmt.Printf("%-20s %-12s %-30s %10s\n", "TIME", "TYPE", "ROUTE", "DURATION")
	fmt.Println("────────────────────────────────────────────────────────────────────────────")
	for _, e := range events {
		dur := "-"
		if e.DurationMs != nil {
			dur = fmt.Sprintf("%.1fms", *e.DurationMs)
		}
		fmt.Printf("%-20s %-12s %-30s %10s\n",
			e.Timestamp.Format("2006-01-02 15:04:05"), e.Type, e.Route, dur)
	}
	if len(events) == 0 {
		fmt.Println("  (no events)")
	}
}

// runMetrics implements "navcore-ctl metrics".
func runMetrics(args []string) {
	fs := flag.NewFlagSet("metrics", flag.ExitOnError)
	addr := fs.String("addr", defaultAddr, "Control API address")
	top := fs.Int("top", 10, "Top routes to show")
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, "Usage: navcore-ctl metrics [flags]\n\nShow computed ledger metrics.\n\nFlags:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	var m ledger.Metrics
	fetchJSON(*addr, fmt.Sprintf("/api/v1/metrics/summary?top=%d", *top), &m)

	fmt.Println("Navigation Metrics")
	fmt.Println("────────────────────────────────────")
	fmt.Printf("Navigations:   %d\n", m.TotalNavigations)
	fmt.Printf("Avg Duration:  %.1fms\n", m.AvgDurationMs)
	fmt.Printf("Error Rate:    %.1f%%\n", m.ErrorRate*100)
	fmt.Printf("Fallback Rate: %.1f%%\n", m.FallbackRate*100)
	fmt.Println("────────────────────────────────────")
	if len(m.TopRoutes) > 0 {
		fmt.Println("Top routes:")
		for _, r := range m.TopRoutes {
			fmt.Printf("  %-30s %d\n", r.Route, r.Count)
		}
	}
}

// runQueue implements "navcore-ctl queue".
func runQueue(args []string) {
	fs := flag.NewFlagSet("queue", flag.ExitOnError)
	addr := fs.String("addr", defaultAddr, "Control API address")
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, "Usage: navcore-ctl queue [flags]\n\nShow pending deferred actions.\n\nFlags:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	var actions []queue.Action
	fetchJSON(*addr, "/api/v1/queue", &actions)

	fmt.Printf("%-38s %-12s %-20s %s\n", "ID", "TYPE", "ENQUEUED", "ATTEMPTS")
	fmt.Println("──────────────────────────────────────────────────────────────────────────────")
	for _, a := range actions {
		fmt.Printf("%-38s %-12s %-20s %d/%d\n",
			a.ID, a.Type, a.EnqueuedAt.Format("2006-01-02 15:04:05"), a.Attempts, a.MaxAttempts)
	}
	if len(actions) == 0 {
		fmt.Println("  (queue is empty)")
	}
}

// runBreaker implements "navcore-ctl breaker [reset]".
func runBreaker(args []string) {
	reset := false
	if len(args) > 0 && args[0] == "reset" {
		reset = true
		args = args[1:]
	}

	fs := flag.NewFlagSet("breaker", flag.ExitOnError)
	addr := fs.String("addr", defaultAddr, "Control API address")
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, "Usage: navcore-ctl breaker [reset] [flags]\n\nShow service health, or force-close all breakers.\n\nFlags:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	if reset {
		resp, err := http.Post(*addr+"/api/v1/breaker/reset", "application/json", nil)
		if err != nil {
			fatalf("POST breaker/reset: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			fatalf("breaker reset failed: status %d", resp.StatusCode)
		}
		fmt.Println("All breakers reset to closed.")
		return
	}

	var status struct {
		HealthScore int                     `json:"health_score"`
		Services    []breaker.ServiceStatus `json:"services"`
	}
	fetchJSON(*addr, "/api/v1/breaker", &status)

	fmt.Printf("Health score: %d/100\n\n", status.HealthScore)
	fmt.Printf("%-20s %-10s %10s %14s\n", "SERVICE", "STATE", "FAILURES", "SUCCESS RATE")
	fmt.Println("────────────────────────────────────────────────────────────")
	for _, s := range status.Services {
		fmt.Printf("%-20s %-10s %10d %13.1f%%\n",
			s.Service, s.State, s.ConsecutiveFailures, s.SuccessRate*100)
	}
	if len(status.Services) == 0 {
		fmt.Println("  (no services called yet)")
	}
}

// runHistory implements "navcore-ctl history".
func runHistory(args []string) {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	addr := fs.String("addr", defaultAddr, "Control API address")
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, "Usage: navcore-ctl history [flags]\n\nShow the navigation state snapshot.\n\nFlags:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	var st history.State
	fetchJSON(*addr, "/api/v1/history", &st)

	fmt.Println("Navigation State")
	fmt.Println("────────────────────────────────────")
	fmt.Printf("Current:    %s\n", st.CurrentRoute)
	fmt.Printf("Previous:   %s\n", st.PreviousRoute)
	fmt.Printf("Navigating: %v\n", st.IsNavigating)
	fmt.Printf("Offline:    %v\n", st.OfflineMode)
	fmt.Println("────────────────────────────────────")
	fmt.Printf("History (%d entries, oldest first):\n", len(st.History))
	for _, r := range st.History {
		fmt.Printf("  %s\n", r)
	}
	if len(st.FailedNavigations) > 0 {
		fmt.Println("Recent failures:")
		for route, at := range st.FailedNavigations {
			fmt.Printf("  %-30s %s\n", route, at.Format("2006-01-02 15:04:05"))
		}
	}
}

// fetchJSON GETs path from the control API and decodes the response.
func fetchJSON(addr, path string, out any) {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(addr + path)
	if err != nil {
		fatalf("GET %s%s: %v", addr, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		fatalf("GET %s%s: status %d", addr, path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		fatalf("decode response: %v", err)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
