// Package models is the catalog of model ids the bridge answers to. Every
// id routes to the single upstream model configured in the options.
package models

import (
	"strings"
	"time"

	"github.com/n0madic/go-claudebridge/internal/types"
)

const (
	// PipeModelID is the id clients select to reach the bridge.
	PipeModelID   = "claude-sonnet-4.5-complete"
	PipeModelName = "Claude Sonnet 4.5 (Complete)"

	ownedBy = "anthropic"
)

var aliases = map[string]string{
	"claude-sonnet-4.5":      PipeModelID,
	"claude-sonnet-4-5":      PipeModelID,
	"claude-sonnet-complete": PipeModelID,
}

// Catalog lists the exposed ids and maps them onto the upstream model.
type Catalog struct {
	Upstream string
	Created  time.Time
}

// NewCatalog returns a catalog routing to upstream.
func NewCatalog(upstream string) *Catalog {
	return &Catalog{Upstream: strings.TrimSpace(upstream), Created: time.Now().UTC()}
}

// IDs returns the exposed ids, pipe id first.
func (c *Catalog) IDs() []string {
	ids := []string{PipeModelID}
	if c.Upstream != "" && c.Upstream != PipeModelID {
		ids = append(ids, c.Upstream)
	}
	return ids
}

// Resolve reports the upstream model for a requested id. An empty id means
// the pipe model. Unknown ids return false and a hint listing what is
// available.
func (c *Catalog) Resolve(requested string) (string, bool, string) {
	name := strings.ToLower(strings.TrimSpace(requested))
	name = strings.TrimPrefix(name, "anthropic/")
	if mapped, ok := aliases[name]; ok {
		name = mapped
	}
	switch {
	case name == "", name == PipeModelID:
		return c.Upstream, true, ""
	case c.Upstream != "" && name == strings.ToLower(c.Upstream):
		return c.Upstream, true, ""
	}
	return "", false, strings.Join(c.IDs(), ", ")
}

// List renders the catalog as a /v1/models response.
func (c *Catalog) List() types.ModelList {
	list := types.ModelList{Object: "list"}
	for _, id := range c.IDs() {
		list.Data = append(list.Data, types.ModelObject{
			ID:      id,
			Object:  "model",
			Created: c.Created.Unix(),
			OwnedBy: ownedBy,
		})
	}
	return list
}
