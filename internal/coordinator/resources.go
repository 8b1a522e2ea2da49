package coordinator

import (
	"strings"
	"sync"

	"github.com/datanger/gemini-cli/pkg/models"
)

// ResourceCategory is a coarse bucket capping concurrent invocations of
// similar cost.
type ResourceCategory string

const (
	// CategoryFileOps covers file-mutating and file-reading tools.
	CategoryFileOps ResourceCategory = "file_operations"
	// CategoryNetwork covers network and search tools.
	CategoryNetwork ResourceCategory = "network_requests"
	// CategoryShell covers shell command tools.
	CategoryShell ResourceCategory = "shell_commands"
	// CategoryGeneral is the uncapped default bucket.
	CategoryGeneral ResourceCategory = "general"
	// CategoryMemory is the process memory budget counter.
	CategoryMemory ResourceCategory = "memory"
)

// Default per-category concurrency limits. CategoryGeneral is uncapped.
const (
	DefaultFileOpsLimit = 5
	DefaultNetworkLimit = 3
	DefaultShellLimit   = 2
	DefaultMemoryBudget = 512
)

// CategorySource resolves the resource category a tool was registered
// under. The tool registry implements this so category assignment is an
// explicit registration-time decision rather than a name heuristic.
type CategorySource interface {
	// CategoryFor returns the registered category for the tool, or false
	// if the tool is not registered.
	CategoryFor(tool string) (string, bool)
}

// ResourceLimits configures per-category concurrency quotas.
type ResourceLimits struct {
	// FileOps caps concurrent file operation invocations.
	FileOps int
	// Network caps concurrent network invocations.
	Network int
	// Shell caps concurrent shell invocations.
	Shell int
	// MemoryBudget is the memory counter budget in megabytes.
	MemoryBudget int
}

// DefaultResourceLimits returns the standard quota set.
func DefaultResourceLimits() ResourceLimits {
	return ResourceLimits{
		FileOps:      DefaultFileOpsLimit,
		Network:      DefaultNetworkLimit,
		Shell:        DefaultShellLimit,
		MemoryBudget: DefaultMemoryBudget,
	}
}

// ledger tracks one category's usage against its limit.
// A zero limit means the category is uncapped.
type ledger struct {
	used  int
	limit int
}

// ResourceManager enforces per-category concurrency quotas. One
// instance is shared process-wide: all sessions compete for the same
// global quotas. A single mutex guards the whole ledger; counters never
// leave [0, limit].
type ResourceManager struct {
	categories CategorySource
	ledgers    map[ResourceCategory]*ledger
	// holders maps invocation ID to the category it allocated, so
	// release is exact on every completion path.
	holders map[string]ResourceCategory
	mu      sync.Mutex
}

// NewResourceManager creates a ResourceManager with the given limits.
// categories may be nil, in which case tool-name heuristics decide the
// bucket.
func NewResourceManager(categories CategorySource, limits ResourceLimits) *ResourceManager {
	return &ResourceManager{
		categories: categories,
		ledgers: map[ResourceCategory]*ledger{
			CategoryFileOps: {limit: limits.FileOps},
			CategoryNetwork: {limit: limits.Network},
			CategoryShell:   {limit: limits.Shell},
			CategoryGeneral: {limit: 0},
			CategoryMemory:  {limit: limits.MemoryBudget},
		},
		holders: make(map[string]ResourceCategory),
	}
}

// CategoryFor maps an invocation to its resource category: the
// registry's registration-time category when available, otherwise a
// tool-name heuristic, defaulting to the uncapped general bucket.
func (m *ResourceManager) CategoryFor(inv *models.Invocation) ResourceCategory {
	if m.categories != nil {
		if cat, ok := m.categories.CategoryFor(inv.Tool); ok {
			switch ResourceCategory(cat) {
			case CategoryFileOps, CategoryNetwork, CategoryShell, CategoryMemory:
				return ResourceCategory(cat)
			default:
				return CategoryGeneral
			}
		}
	}

	name := strings.ToLower(inv.Tool)
	switch {
	case strings.Contains(name, "write") || strings.Contains(name, "edit") ||
		strings.Contains(name, "replace") || strings.Contains(name, "file"):
		return CategoryFileOps
	case strings.Contains(name, "search") || strings.Contains(name, "fetch") ||
		strings.Contains(name, "web") || strings.Contains(name, "http"):
		return CategoryNetwork
	case strings.Contains(name, "shell") || strings.Contains(name, "command") ||
		strings.Contains(name, "exec"):
		return CategoryShell
	default:
		return CategoryGeneral
	}
}

// CheckAvailability is a non-mutating pre-check of whether the
// invocation's category has headroom.
func (m *ResourceManager) CheckAvailability(inv *models.Invocation) bool {
	cat := m.CategoryFor(inv)
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.availableLocked(cat)
}

// Allocate re-checks availability under the lock and, if the category
// has headroom, increments its usage and records the holder. It returns
// false without mutating anything when the quota is exhausted; the
// caller must re-queue the invocation, not drop it.
func (m *ResourceManager) Allocate(inv *models.Invocation) bool {
	cat := m.CategoryFor(inv)
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.availableLocked(cat) {
		return false
	}
	if _, held := m.holders[inv.ID]; held {
		// Already holding; allocation is idempotent per invocation.
		return true
	}
	m.ledgers[cat].used++
	m.holders[inv.ID] = cat
	return true
}

// Release returns the invocation's allocation. It is mandatory on every
// completion path (success, failure, cancellation) and is safe to call
// for an invocation that never allocated; usage never goes below zero.
func (m *ResourceManager) Release(inv *models.Invocation) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cat, held := m.holders[inv.ID]
	if !held {
		return
	}
	delete(m.holders, inv.ID)
	if l := m.ledgers[cat]; l.used > 0 {
		l.used--
	}
}

// Usage returns the current used/limit pair for a category. A zero
// limit means uncapped.
func (m *ResourceManager) Usage(cat ResourceCategory) (used, limit int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.ledgers[cat]
	if !ok {
		return 0, 0
	}
	return l.used, l.limit
}

// availableLocked reports headroom for cat. Caller must hold m.mu.
func (m *ResourceManager) availableLocked(cat ResourceCategory) bool {
	l, ok := m.ledgers[cat]
	if !ok {
		return true
	}
	if l.limit <= 0 {
		return true
	}
	return l.used < l.limit
}
