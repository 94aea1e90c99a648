// Package preflight provides startup validation checks.
package preflight

import (
	"fmt"
	"io"
	"os"
)

// Each in-flight run holds three pipe pairs, a pidfd and /dev/null.
const (
	fdsPerRun   = 8
	fdOverhead  = 64
	procPerRun  = 1
	procHeadway = 50
)

// Check represents the result of a single preflight check.
type Check struct {
	Name     string // Name of the check
	Required int    // Required value (if applicable)
	Actual   int    // Actual value found
	Passed   bool   // Whether the check passed
	Warning  bool   // True if it's a warning (non-fatal)
	Message  string // Additional context
}

// Result holds the results of all preflight checks.
type Result struct {
	Checks []Check
	Passed bool
}

// String returns a human-readable summary of the check.
func (c Check) String() string {
	status := "✓"
	if !c.Passed {
		status = "✗"
	} else if c.Warning {
		status = "⚠"
	}

	if c.Required > 0 {
		return fmt.Sprintf("  %s %s: %d available (need %d)", status, c.Name, c.Actual, c.Required)
	}
	return fmt.Sprintf("  %s %s: %s", status, c.Name, c.Message)
}

func (r *Result) add(c Check) {
	r.Checks = append(r.Checks, c)
	if !c.Passed {
		r.Passed = false
	}
}

// RunAll executes all preflight checks for workers concurrent runs of executable.
func RunAll(workers int, executable string) *Result {
	result := &Result{
		Checks: make([]Check, 0, 4),
		Passed: true,
	}

	result.add(checkFileDescriptors(workers))
	result.add(checkProcessLimit(workers))
	result.add(checkExecutable(executable))
	result.add(checkDevNull())

	return result
}

// checkFileDescriptors verifies the soft descriptor limit covers every worker.
func checkFileDescriptors(workers int) Check {
	required := workers*fdsPerRun + fdOverhead
	actual, ok := fileLimit()
	if !ok {
		return Check{
			Name:    "file_descriptors",
			Passed:  true,
			Warning: true,
			Message: "unable to read RLIMIT_NOFILE",
		}
	}

	return Check{
		Name:     "file_descriptors",
		Required: required,
		Actual:   actual,
		Passed:   actual >= required,
		Message:  fmt.Sprintf("ulimit -n %d (need %d for %d workers)", actual, required, workers),
	}
}

// checkProcessLimit verifies the soft process limit leaves room for the children.
func checkProcessLimit(workers int) Check {
	required := workers*procPerRun + procHeadway
	actual, ok := processLimit()
	if !ok {
		return Check{
			Name:    "process_limit",
			Passed:  true,
			Warning: true,
			Message: "unable to check (non-Linux or restricted)",
		}
	}

	return Check{
		Name:     "process_limit",
		Required: required,
		Actual:   actual,
		Passed:   actual >= required,
		Message:  fmt.Sprintf("ulimit -u %d (need %d)", actual, required),
	}
}

// checkExecutable verifies the resolved command exists and may be executed.
func checkExecutable(path string) Check {
	info, err := os.Stat(path)
	if err != nil {
		return Check{
			Name:    "executable",
			Passed:  false,
			Message: fmt.Sprintf("not found at %s: %v", path, err),
		}
	}
	if info.IsDir() {
		return Check{
			Name:    "executable",
			Passed:  false,
			Message: fmt.Sprintf("%s is a directory", path),
		}
	}
	if err := canExecute(path); err != nil {
		return Check{
			Name:    "executable",
			Passed:  false,
			Message: fmt.Sprintf("%s is not executable: %v", path, err),
		}
	}

	return Check{
		Name:    "executable",
		Passed:  true,
		Message: fmt.Sprintf("found at %s (%s)", path, info.Mode().Perm()),
	}
}

// checkDevNull verifies discarded streams have somewhere to go.
func checkDevNull() Check {
	f, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	if err != nil {
		return Check{
			Name:    "dev_null",
			Passed:  false,
			Message: fmt.Sprintf("cannot open %s: %v", os.DevNull, err),
		}
	}
	f.Close()

	return Check{
		Name:    "dev_null",
		Passed:  true,
		Message: os.DevNull + " writable",
	}
}

// PrintResults writes the preflight check results to w.
func PrintResults(w io.Writer, result *Result) {
	fmt.Fprintln(w, "Preflight checks:")
	for _, check := range result.Checks {
		fmt.Fprintln(w, check.String())
		if !check.Passed {
			fmt.Fprintf(w, "    Fix: %s\n", suggestFix(check.Name))
		}
	}
	fmt.Fprintln(w)
}

// suggestFix returns a suggestion for fixing a failed check.
func suggestFix(name string) string {
	switch name {
	case "file_descriptors":
		return "ulimit -n 8192 (or lower -workers)"
	case "process_limit":
		return "ulimit -u 4096 (or edit /etc/security/limits.conf)"
	case "executable":
		return "check the command path and chmod +x"
	case "dev_null":
		return "run outside a sandbox that hides /dev/null"
	default:
		return "see documentation"
	}
}
