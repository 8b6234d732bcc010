package graph

import (
	"context"
	"fmt"
)

// EnsureSchema applies constraints then indexes. All statements are
// IF NOT EXISTS so repeated startups are no-ops.
func (s *Neo4jStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaConstraints {
		if _, err := s.write(ctx, "schema_constraint", stmt, nil); err != nil {
			return fmt.Errorf("apply constraint: %w", err)
		}
	}
	for _, stmt := range schemaIndexes {
		if _, err := s.write(ctx, "schema_index", stmt, nil); err != nil {
			return fmt.Errorf("apply index: %w", err)
		}
	}
	s.logger.Info("graph schema ensured",
		"constraints", len(schemaConstraints), "indexes", len(schemaIndexes))
	return nil
}
