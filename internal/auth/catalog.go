package auth

import (
	"context"
	"fmt"
)

// Catalog maps action kinds to their stored rows. Built once at startup and
// shared read-only.
type Catalog struct {
	byKind map[ActionKind]Action
	byID   map[int64]Action
}

// NewCatalog indexes actions. Every ActionKinds entry must be present.
func NewCatalog(actions []Action) (*Catalog, error) {
	c := &Catalog{
		byKind: make(map[ActionKind]Action, len(actions)),
		byID:   make(map[int64]Action, len(actions)),
	}
	for _, a := range actions {
		if _, dup := c.byKind[a.Kind]; dup {
			return nil, fmt.Errorf("auth: duplicate action kind %q", a.Kind)
		}
		c.byKind[a.Kind] = a
		c.byID[a.ID] = a
	}
	for _, k := range ActionKinds {
		if _, ok := c.byKind[k]; !ok {
			return nil, fmt.Errorf("auth: action %q is not provisioned", k)
		}
	}
	return c, nil
}

// LoadCatalog reads the action table from dir.
func LoadCatalog(ctx context.Context, dir Directory) (*Catalog, error) {
	actions, err := dir.Actions(ctx)
	if err != nil {
		return nil, fmt.Errorf("auth: load actions: %w", err)
	}
	return NewCatalog(actions)
}

// Action returns the row for kind.
func (c *Catalog) Action(kind ActionKind) (Action, bool) {
	a, ok := c.byKind[kind]
	return a, ok
}

// ByID returns the action row with id.
func (c *Catalog) ByID(id int64) (Action, bool) {
	a, ok := c.byID[id]
	return a, ok
}
