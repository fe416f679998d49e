package auth

import (
	"context"
	"fmt"
)

// ReportsFunc returns the direct reports of a manager.
type ReportsFunc func(ctx context.Context, managerID string) ([]string, error)

// WalkSubordinates returns every employee transitively reporting to rootID,
// in breadth-first order, excluding the root. The visited set is seeded with
// the root so a cyclic or self-referencing manager graph still terminates.
func WalkSubordinates(ctx context.Context, rootID string, reports ReportsFunc) ([]string, error) {
	visited := map[string]struct{}{rootID: {}}
	queue := []string{rootID}
	var out []string

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		current := queue[0]
		queue = queue[1:]

		direct, err := reports(ctx, current)
		if err != nil {
			return nil, fmt.Errorf("direct reports of %s: %w", current, err)
		}
		for _, id := range direct {
			if _, seen := visited[id]; seen {
				continue
			}
			visited[id] = struct{}{}
			out = append(out, id)
			queue = append(queue, id)
		}
	}
	return out, nil
}
