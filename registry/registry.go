// Package registry resolves a workflow_id to its workflow.Workflow
// definition by loading YAML files from a directory. workflow has no I/O
// of its own (see workflow/doc.go); this package is the file-backed
// WorkflowProvider that recovery.Controller and the execute/resume
// commands need to turn a persisted workflow_id back into something
// schedulable.
//
// Grounded on the directory-scan-then-index shape of the teacher's
// agent/persistence file-backed store: load everything once at startup,
// hold it indexed in memory, re-scan on demand via Reload.
package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/llmdevops/orchestrator/workflow"
)

// Definition is the YAML-serializable shape of a workflow.Workflow. The
// domain type intentionally carries no yaml tags on Workflow itself
// (workflow has no I/O); Definition is the file format this package
// translates to and from workflow.New.
type Definition struct {
	ID                 string               `yaml:"id"`
	Version            string               `yaml:"version"`
	Description        string               `yaml:"description,omitempty"`
	WorkflowTimeout    string               `yaml:"workflow_timeout,omitempty"`
	DefaultRetryPolicy *workflow.RetryPolicy `yaml:"default_retry_policy,omitempty"`
	Steps              []workflow.Step      `yaml:"steps"`
}

func (d *Definition) toWorkflow() (*workflow.Workflow, error) {
	var timeout time.Duration
	if d.WorkflowTimeout != "" {
		parsed, err := time.ParseDuration(d.WorkflowTimeout)
		if err != nil {
			return nil, fmt.Errorf("workflow %q: invalid workflow_timeout %q: %w", d.ID, d.WorkflowTimeout, err)
		}
		timeout = parsed
	}
	return workflow.New(d.ID, d.Version, d.Description, d.Steps, timeout, d.DefaultRetryPolicy), nil
}

// FileRegistry loads workflow definitions from every *.yaml/*.yml file in a
// directory and serves them by id. It satisfies recovery.WorkflowProvider.
type FileRegistry struct {
	mu     sync.RWMutex
	dir    string
	byID   map[string]*workflow.Workflow
	logger *zap.Logger
}

// NewFileRegistry loads dir once and returns an error if any definition
// fails to parse or validate, or if two files declare the same workflow id.
func NewFileRegistry(dir string, logger *zap.Logger) (*FileRegistry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &FileRegistry{dir: dir, logger: logger.With(zap.String("component", "registry"))}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-scans the directory, replacing the in-memory index only if
// every definition in it loads and validates cleanly — a bad file never
// takes down an already-running registry.
func (r *FileRegistry) Reload() error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("registry: read dir %q: %w", r.dir, err)
	}

	byID := make(map[string]*workflow.Workflow, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}

		path := filepath.Join(r.dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("registry: read %q: %w", path, err)
		}

		var def Definition
		if err := yaml.Unmarshal(data, &def); err != nil {
			return fmt.Errorf("registry: parse %q: %w", path, err)
		}

		wf, err := def.toWorkflow()
		if err != nil {
			return fmt.Errorf("registry: %q: %w", path, err)
		}
		if err := wf.Validate(); err != nil {
			return fmt.Errorf("registry: %q: %w", path, err)
		}
		if _, exists := byID[wf.ID]; exists {
			return fmt.Errorf("registry: duplicate workflow id %q (seen again in %q)", wf.ID, path)
		}
		byID[wf.ID] = wf
	}

	r.mu.Lock()
	r.byID = byID
	r.mu.Unlock()

	r.logger.Info("loaded workflow definitions", zap.Int("count", len(byID)), zap.String("dir", r.dir))
	return nil
}

// WorkflowByID implements recovery.WorkflowProvider.
func (r *FileRegistry) WorkflowByID(_ context.Context, workflowID string) (*workflow.Workflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	wf, ok := r.byID[workflowID]
	if !ok {
		return nil, fmt.Errorf("registry: no workflow registered with id %q", workflowID)
	}
	return wf, nil
}

// List returns every registered workflow id, sorted.
func (r *FileRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
