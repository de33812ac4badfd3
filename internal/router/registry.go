// Package router routes chat messages from registered groups to the agent
// runtime and delivers the replies.
package router

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Group is one registered chat group. Folder doubles as the tenant id.
type Group struct {
	JID     string `json:"jid"`
	Folder  string `json:"folder"`
	Name    string `json:"name"`
	Channel string `json:"channel"`
}

// Registry is the durable set of registered groups, mirrored to a JSON
// file so registration survives restarts.
type Registry struct {
	path string

	mu     sync.RWMutex
	groups map[string]Group
}

// LoadRegistry reads the registry file, creating an empty registry if the
// file does not exist yet.
func LoadRegistry(path string) (*Registry, error) {
	r := &Registry{path: path, groups: make(map[string]Group)}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, fmt.Errorf("read group registry: %w", err)
	}
	if err := json.Unmarshal(data, &r.groups); err != nil {
		return nil, fmt.Errorf("parse group registry: %w", err)
	}
	return r, nil
}

// Register adds or replaces a group and persists the registry.
func (r *Registry) Register(g Group) error {
	if g.JID == "" || g.Folder == "" {
		return fmt.Errorf("group needs jid and folder")
	}
	if g.Channel == "" {
		g.Channel = "whatsapp"
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.groups[g.JID] = g
	return r.flush()
}

// Unregister removes a group by JID and persists.
func (r *Registry) Unregister(jid string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.groups, jid)
	return r.flush()
}

// Get looks a group up by JID.
func (r *Registry) Get(jid string) (Group, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.groups[jid]
	return g, ok
}

// JIDs returns the registered JIDs in stable order.
func (r *Registry) JIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.groups))
	for jid := range r.groups {
		out = append(out, jid)
	}
	sort.Strings(out)
	return out
}

// All returns every registered group.
func (r *Registry) All() []Group {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Group, 0, len(r.groups))
	for _, g := range r.groups {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JID < out[j].JID })
	return out
}

// flush atomically rewrites the registry file. Callers hold r.mu.
func (r *Registry) flush() error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0755); err != nil {
		return fmt.Errorf("registry dir: %w", err)
	}
	data, err := json.MarshalIndent(r.groups, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal registry: %w", err)
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write registry: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("publish registry: %w", err)
	}
	return nil
}
