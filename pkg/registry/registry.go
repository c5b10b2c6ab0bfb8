// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-devsub.
//
// go-devsub is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package registry loads the log service registry: which device API
// service and OID set each log service subscribes to.
package registry

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/jeremyhahn/go-devsub/pkg/common"
)

var (
	// ErrNoServices is returned when a registry file defines no services.
	ErrNoServices = errors.New("registry defines no services")

	// ErrNoObjectIDs is returned for a registration without OIDs.
	ErrNoObjectIDs = errors.New("registration has no oids")

	// ErrNoServiceID is returned for a registration without a device API service id.
	ErrNoServiceID = errors.New("registration has no device_api_service_id")
)

// File is the on-disk registry layout.
type File struct {
	Services map[string]common.ServiceRegistration `yaml:"services"`
}

type snapshot struct {
	byID map[string]common.ServiceRegistration
	list []common.ServiceRegistration
}

// Registry is an immutable-per-snapshot view of registered log services.
// Reload swaps the snapshot atomically.
type Registry struct {
	path string
	snap atomic.Pointer[snapshot]
}

var _ common.Registry = (*Registry)(nil)

// Load reads and validates the registry file at path.
func Load(path string) (*Registry, error) {
	r := &Registry{path: path}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// New builds a registry from in-memory registrations, keyed by their
// LogServiceID.
func New(regs ...common.ServiceRegistration) (*Registry, error) {
	f := File{Services: make(map[string]common.ServiceRegistration, len(regs))}
	for _, reg := range regs {
		f.Services[reg.LogServiceID] = reg
	}
	snap, err := build(f)
	if err != nil {
		return nil, err
	}
	r := &Registry{}
	r.snap.Store(snap)
	return r, nil
}

// Path returns the file the registry was loaded from.
func (r *Registry) Path() string {
	return r.path
}

// Reload re-reads the registry file. On error the current snapshot is kept.
func (r *Registry) Reload() error {
	if r.path == "" {
		return common.ErrPathNotSet
	}
	data, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("read registry: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse registry %s: %w", r.path, err)
	}
	snap, err := build(f)
	if err != nil {
		return fmt.Errorf("registry %s: %w", r.path, err)
	}
	r.snap.Store(snap)
	return nil
}

// Get implements common.Registry.
func (r *Registry) Get(logServiceID string) (common.ServiceRegistration, bool) {
	reg, ok := r.snap.Load().byID[logServiceID]
	if !ok {
		return common.ServiceRegistration{}, false
	}
	return clone(reg), true
}

// List implements common.Registry. Registrations are ordered by log service id.
func (r *Registry) List() []common.ServiceRegistration {
	list := r.snap.Load().list
	out := make([]common.ServiceRegistration, len(list))
	for i, reg := range list {
		out[i] = clone(reg)
	}
	return out
}

func build(f File) (*snapshot, error) {
	if len(f.Services) == 0 {
		return nil, ErrNoServices
	}
	snap := &snapshot{byID: make(map[string]common.ServiceRegistration, len(f.Services))}
	for id, reg := range f.Services {
		if err := common.ValidateLogServiceID(id); err != nil {
			return nil, err
		}
		if reg.DeviceAPIServiceID == "" {
			return nil, fmt.Errorf("service %s: %w: %w", id, common.ErrInvalidRegistration, ErrNoServiceID)
		}
		oids := common.DedupeIDs(reg.ObjectIDs)
		if len(oids) == 0 {
			return nil, fmt.Errorf("service %s: %w: %w", id, common.ErrInvalidRegistration, ErrNoObjectIDs)
		}
		for _, oid := range oids {
			if err := common.ValidateObjectID(oid); err != nil {
				return nil, fmt.Errorf("service %s: %w", id, err)
			}
		}
		reg.LogServiceID = id
		reg.ObjectIDs = oids
		snap.byID[id] = reg
		snap.list = append(snap.list, reg)
	}
	sort.Slice(snap.list, func(i, j int) bool {
		return snap.list[i].LogServiceID < snap.list[j].LogServiceID
	})
	return snap, nil
}

func clone(reg common.ServiceRegistration) common.ServiceRegistration {
	reg.ObjectIDs = append([]string(nil), reg.ObjectIDs...)
	return reg
}
