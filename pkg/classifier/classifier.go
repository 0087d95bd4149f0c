// Package classifier routes detected issues to processing tiers.
package classifier

import (
	"sync"

	"github.com/cortex-ops/cortex/pkg/models"
)

// TypeUnknown marks an issue the probe could not identify. Unknown issues
// always escalate to humans.
const TypeUnknown = "unknown"

var defaultL1Types = []string{
	"disk_space_low",
	"temp_files_cleanup",
	"log_rotation_needed",
	"cache_cleanup",
	"old_package_cleanup",
}

var defaultL2Types = []string{
	"service_down",
	"service_failed",
	"process_crashed",
	"config_drift",
	"certificate_expiring",
	"memory_leak",
}

// Classifier assigns issues to tiers based on severity and type. The type
// sets can be extended at runtime for site-specific issue catalogs.
type Classifier struct {
	mu      sync.RWMutex
	l1Types map[string]bool
	l2Types map[string]bool
}

// New creates a classifier with the built-in type sets.
func New() *Classifier {
	c := &Classifier{
		l1Types: make(map[string]bool, len(defaultL1Types)),
		l2Types: make(map[string]bool, len(defaultL2Types)),
	}
	for _, t := range defaultL1Types {
		c.l1Types[t] = true
	}
	for _, t := range defaultL2Types {
		c.l2Types[t] = true
	}
	return c
}

// Classify returns the tier for an issue. Rules apply in order:
// critical severity and unknown types always go to L3, then known L1 types,
// then known L2 types. Unrecognized types default to L2 so nothing is ever
// auto-fixed without a prior decision.
func (c *Classifier) Classify(issue models.Issue) models.IssueLevel {
	if issue.Severity == models.SeverityCritical {
		return models.LevelL3
	}
	if issue.Type == TypeUnknown {
		return models.LevelL3
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.l1Types[issue.Type] {
		return models.LevelL1
	}
	if c.l2Types[issue.Type] {
		return models.LevelL2
	}
	return models.LevelL2
}

// AddL1Type registers an additional auto-fixable issue type.
func (c *Classifier) AddL1Type(issueType string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.l1Types[issueType] = true
}

// AddL2Type registers an additional decision-required issue type.
func (c *Classifier) AddL2Type(issueType string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.l2Types[issueType] = true
}
