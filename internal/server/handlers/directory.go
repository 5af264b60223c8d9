package handlers

import (
	"context"

	"github.com/geoplex/procjobs/internal/config"
	"github.com/geoplex/procjobs/pkg/execmode"
	"github.com/geoplex/procjobs/pkg/jobstore"
)

// ProcessInfo describes a registered computational capability.
type ProcessInfo struct {
	ID string

	// Provider names the remote service hosting the process; empty for
	// local processes.
	Provider string

	Workflow bool

	// Capabilities is the declared execution-mode support.
	Capabilities execmode.Capabilities
}

// Directory resolves process and provider references addressed in request
// paths. Process registration itself is outside this core.
type Directory interface {
	// LookupProcess returns the process description, or jobstore.ErrNotFound.
	LookupProcess(ctx context.Context, processID string) (*ProcessInfo, error)

	// HasProvider reports whether the provider is known.
	HasProvider(ctx context.Context, providerID string) (bool, error)
}

// StaticDirectory is a Directory backed by configuration.
type StaticDirectory struct {
	processes map[string]ProcessInfo
	providers map[string]bool
}

// NewStaticDirectory builds a directory from configured process entries.
func NewStaticDirectory(entries []config.ProcessConfig) *StaticDirectory {
	d := &StaticDirectory{
		processes: make(map[string]ProcessInfo, len(entries)),
		providers: make(map[string]bool),
	}
	for _, e := range entries {
		d.processes[e.ID] = ProcessInfo{
			ID:       e.ID,
			Provider: e.Provider,
			Workflow: e.Workflow,
			Capabilities: execmode.Capabilities{
				Sync:  e.Sync,
				Async: e.Async,
			},
		}
		if e.Provider != "" {
			d.providers[e.Provider] = true
		}
	}
	return d
}

func (d *StaticDirectory) LookupProcess(_ context.Context, processID string) (*ProcessInfo, error) {
	info, ok := d.processes[processID]
	if !ok {
		return nil, jobstore.ErrNotFound
	}
	return &info, nil
}

func (d *StaticDirectory) HasProvider(_ context.Context, providerID string) (bool, error) {
	return d.providers[providerID], nil
}
