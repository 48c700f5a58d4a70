package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
)

type TestEvent struct {
	Time    string  `json:"Time"`
	Action  string  `json:"Action"`
	Package string  `json:"Package"`
	Test    string  `json:"Test"`
	Output  string  `json:"Output"`
	Elapsed float64 `json:"Elapsed"`
}

type TestResult struct {
	Name      string
	Entries   string
	Size      string
	Time      int64 // milliseconds
	Threshold int64 // milliseconds
	Passed    bool
}

// reads `go test -json -run TestLifecycleWithinThreshold` output from stdin
func main() {
	scanner := bufio.NewScanner(os.Stdin)

	sizePattern := regexp.MustCompile(`Snapshot size: (\d+) bytes`)
	timePattern := regexp.MustCompile(`Lifecycle took (\d+)ms`)

	results := make(map[string]*TestResult)
	currentTest := ""

	results["Small"] = &TestResult{Name: "Small", Entries: "100 controllers", Threshold: 500}
	results["Medium"] = &TestResult{Name: "Medium", Entries: "1K controllers", Threshold: 1000}
	results["Large"] = &TestResult{Name: "Large", Entries: "10K controllers", Threshold: 5000}

	for scanner.Scan() {
		line := scanner.Text()

		var event TestEvent
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			continue
		}

		if event.Action == "run" && strings.Contains(event.Test, "TestLifecycleWithinThreshold/") {
			parts := strings.Split(event.Test, "/")
			if len(parts) >= 2 {
				if _, ok := results[parts[1]]; ok {
					currentTest = parts[1]
				}
			}
		}
		if currentTest == "" || event.Output == "" {
			continue
		}

		if matches := sizePattern.FindStringSubmatch(event.Output); len(matches) > 1 {
			results[currentTest].Size = matches[1] + " B"
		}
		if matches := timePattern.FindStringSubmatch(event.Output); len(matches) > 1 {
			if timeMs, err := strconv.ParseInt(matches[1], 10, 64); err == nil {
				results[currentTest].Time = timeMs
				results[currentTest].Passed = timeMs <= results[currentTest].Threshold
			}
		}
	}

	inCI := os.Getenv("CI") != "" || os.Getenv("GITHUB_ACTIONS") != ""

	allPassed := true
	order := []string{"Small", "Medium", "Large"}

	if inCI {
		fmt.Println("\n### Lifecycle Stress Summary")
		fmt.Println("| Scale | Controllers | Snapshot | Time | Threshold | Status |")
		fmt.Println("|-------|-------------|----------|------|-----------|--------|")
	} else {
		fmt.Println("\nLifecycle Stress Summary:")
		fmt.Println("==========================================================================================")
		fmt.Printf("%-8s | %-18s | %-10s | %-10s | %-10s | %-6s\n", "Scale", "Controllers", "Snapshot", "Time", "Threshold", "Status")
		fmt.Println("------------------------------------------------------------------------------------------")
	}

	for _, name := range order {
		result := results[name]
		if result.Time == 0 {
			continue // Skip if no data
		}

		size := result.Size
		if size == "" {
			size = "N/A"
		}

		status := "✅"
		if !result.Passed {
			status = "❌"
			allPassed = false
		}

		if inCI {
			fmt.Printf("| %s | %s | %s | %dms | %s | %s |\n",
				result.Name, result.Entries, size, result.Time, formatThreshold(result.Threshold), status)
			continue
		}
		fmt.Printf("%-8s | %-18s | %-10s | %-10s | %-10s | %s\n",
			result.Name, result.Entries, size, fmt.Sprintf("%dms", result.Time), formatThreshold(result.Threshold), status)
	}
	fmt.Println()

	if inCI {
		// In CI, just report metrics without failing
		fmt.Println("ℹ️ Performance metrics reported (thresholds informational only in CI)")
		return
	}
	if allPassed {
		fmt.Println("✅ All stress tests passed within thresholds")
	} else {
		fmt.Println("❌ Some stress tests exceeded thresholds")
		os.Exit(1)
	}
}

func formatThreshold(ms int64) string {
	if ms < 1000 {
		return fmt.Sprintf("<%dms", ms)
	}
	return fmt.Sprintf("<%ds", ms/1000)
}
