// Package file provides a file-backed persistence implementation. State is
// held in memory and flushed as one JSON collection per record type, which
// keeps it useful for development setups and as the test substrate.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dmateus/botherd/pkg/models"
	"github.com/dmateus/botherd/pkg/persistence"
)

const stateFile = "botherd.json"

// state holds every collection. Slices preserve insertion order, which is
// the creation order repositories report.
type state struct {
	Bots      []*models.Bot             `json:"bots"`
	Tasks     []*models.Task            `json:"tasks"`
	Deps      []*models.TaskDependency  `json:"dependencies"`
	BotTasks  []*models.BotTask         `json:"bot_tasks"`
	Workflows []*models.Workflow        `json:"workflows"`
	Runs      []*models.WorkflowRun     `json:"runs"`
	RunSteps  []*models.WorkflowRunStep `json:"run_steps"`
	Audit     []*models.AuditEntry      `json:"audit"`
}

func (s *state) clone() (*state, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot store state: %w", err)
	}

	copied := &state{}
	if err := json.Unmarshal(raw, copied); err != nil {
		return nil, fmt.Errorf("failed to restore store snapshot: %w", err)
	}

	return copied, nil
}

// Persistence implements persistence.Persistence on the local file system.
// A single mutex serializes every call, which is what gives each
// InTransaction body its atomic, serializable view.
type Persistence struct {
	root  string
	mu    sync.Mutex
	state *state
}

// NewPersistence creates a file persistence rooted at the given directory.
// Accepts plain paths and file:// URLs.
func NewPersistence(root string) (*Persistence, error) {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	if err := os.MkdirAll(cleanRoot, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store root %s: %w", cleanRoot, err)
	}

	p := &Persistence{
		root:  cleanRoot,
		state: &state{},
	}

	if err := p.load(); err != nil {
		return nil, err
	}

	return p, nil
}

func (p *Persistence) load() error {
	raw, err := os.ReadFile(filepath.Join(p.root, stateFile))
	if os.IsNotExist(err) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("failed to read store state: %w", err)
	}

	if err := json.Unmarshal(raw, p.state); err != nil {
		return fmt.Errorf("failed to parse store state: %w", err)
	}

	return nil
}

func (p *Persistence) flush() error {
	raw, err := json.MarshalIndent(p.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode store state: %w", err)
	}

	path := filepath.Join(p.root, stateFile)
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write store state: %w", err)
	}

	return nil
}

// InTransaction runs fn against a copy of the state. The copy replaces the
// live state and is flushed only when fn succeeds, so a failing operation
// leaves no partial writes behind.
func (p *Persistence) InTransaction(ctx context.Context, fn func(ctx context.Context, store persistence.Store) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	staged, err := p.state.clone()
	if err != nil {
		return err
	}

	if err := fn(ctx, &view{state: staged}); err != nil {
		return err
	}

	p.state = staged

	return p.flush()
}

// HealthCheck verifies the root directory still exists.
func (p *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(p.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

// Close flushes any pending state. There is no connection to tear down.
func (p *Persistence) Close(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.flush()
}

// Direct (non-transactional) repository access. Each call locks the store
// and flushes after writes; multi-read orchestration operations should use
// InTransaction instead.

func (p *Persistence) Bots() persistence.BotRepository {
	return &botRepo{repoBase{owner: p}}
}

func (p *Persistence) Tasks() persistence.TaskRepository {
	return &taskRepo{repoBase{owner: p}}
}

func (p *Persistence) Dependencies() persistence.DependencyRepository {
	return &dependencyRepo{repoBase{owner: p}}
}

func (p *Persistence) BotTasks() persistence.BotTaskRepository {
	return &botTaskRepo{repoBase{owner: p}}
}

func (p *Persistence) Workflows() persistence.WorkflowRepository {
	return &workflowRepo{repoBase{owner: p}}
}

func (p *Persistence) Runs() persistence.RunRepository {
	return &runRepo{repoBase{owner: p}}
}

func (p *Persistence) RunSteps() persistence.RunStepRepository {
	return &runStepRepo{repoBase{owner: p}}
}

func (p *Persistence) Audit() persistence.AuditRepository {
	return &auditRepo{repoBase{owner: p}}
}
