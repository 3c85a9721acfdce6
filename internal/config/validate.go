// This file adds a lightweight linter/validator for Config values. It
// performs static checks over a decoded Config and returns a list of issues
// (errors and warnings) that callers can surface in a CLI or tests.
package config

import (
	"fmt"
	"strings"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError indicates a configuration error that should block execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning indicates a configuration warning that should be surfaced
	// to users but may not necessarily block execution.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation/lint finding for a Config.
//
// Path is a dotted path into the config (e.g. "storage.kind",
// "load.chunk_size"). Message is human-readable.
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

// Error implements the error interface so an Issue can be treated as a single
// error in contexts that expect error.
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// Validate performs static validation / linting of a Config.
//
// It does not mutate the config. Callers may decide whether to treat warnings
// as fatal or not.
func Validate(c Config) []Issue {
	var issues []Issue

	if strings.TrimSpace(c.Job) == "" {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "job",
			Message:  "job name is empty; metrics and log lines will be unlabeled",
		})
	}

	if strings.TrimSpace(c.Storage.Kind) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "storage.kind",
			Message:  "storage kind is required (e.g. \"postgres\")",
		})
	}
	if strings.TrimSpace(c.Storage.DB.DSN) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "storage.db.dsn",
			Message:  "connection string is required",
		})
	}

	if c.Load.ChunkSize < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "load.chunk_size",
			Message:  fmt.Sprintf("chunk size must not be negative, got %d", c.Load.ChunkSize),
		})
	} else if c.Load.ChunkSize == 0 {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "load.chunk_size",
			Message:  "chunk size not set; the default will be used",
		})
	}

	if c.Load.Workers < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "load.workers",
			Message:  fmt.Sprintf("workers must not be negative, got %d", c.Load.Workers),
		})
	}

	seen := map[string]int{}
	for idx, id := range c.Load.BatchIDs {
		if strings.TrimSpace(id) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     fmt.Sprintf("load.batch_ids[%d]", idx),
				Message:  "batch id is empty",
			})
			continue
		}
		if first, dup := seen[id]; dup {
			issues = append(issues, Issue{
				Severity: SeverityWarning,
				Path:     fmt.Sprintf("load.batch_ids[%d]", idx),
				Message:  fmt.Sprintf("batch id %q repeats entry %d; the same batch would be loaded twice and duplicate its facts", id, first),
			})
			continue
		}
		seen[id] = idx
	}

	return issues
}
