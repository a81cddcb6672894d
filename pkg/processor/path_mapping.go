package processor

import (
	"context"

	"github.com/polisai/polis-gateway/pkg/domain"
	"github.com/polisai/polis-gateway/pkg/execution"
	"github.com/polisai/polis-gateway/pkg/flow"
)

const pathMappingID = "path-mapping"

// PathMapping records which configured mapping the request path falls under,
// so that analytics can group /products/1 and /products/2 together.
type PathMapping struct {
	mappings []string
}

// NewPathMapping creates the processor. Mappings are tried in order.
func NewPathMapping(mappings []string) *PathMapping {
	return &PathMapping{mappings: mappings}
}

func (p *PathMapping) ID() string { return pathMappingID }

func (p *PathMapping) Execute(_ context.Context, ec *execution.Context) error {
	path := ec.Request().PathInfo
	for _, mapping := range p.mappings {
		if _, ok := flow.MatchPath(mapping, path, domain.PathEquals); ok {
			ec.SetAttribute(execution.AttrMappedPath, mapping)
			return nil
		}
	}
	return nil
}
