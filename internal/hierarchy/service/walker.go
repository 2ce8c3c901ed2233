package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/congregate/internal/hierarchy/domain"
	"gorm.io/gorm"
)

// maxWalk bounds parent-chain walks so a corrupted chain fails instead of looping.
const maxWalk = 64

// walker answers ancestor and descendant questions from parent_id, which is the
// source of truth for tree shape.
type walker struct {
	repo domain.Repository
}

// ancestors returns node's ancestors, outermost first. Soft-deleted ancestors are
// included so a snapshot can still be rendered inside the deleting transaction.
func (w *walker) ancestors(ctx context.Context, db *gorm.DB, orgID snowflake.ID, node *domain.Group) ([]*domain.Group, error) {
	chain := make([]*domain.Group, 0, 4)
	seen := map[snowflake.ID]struct{}{node.ID: {}}

	parentID := node.ParentID
	for parentID != nil {
		if _, ok := seen[*parentID]; ok || len(chain) >= maxWalk {
			return nil, domain.ErrCorruptedTree.Withf("parent chain of group %s does not terminate", node.ID.String())
		}
		seen[*parentID] = struct{}{}

		parent, err := w.repo.FindByIDUnscoped(ctx, db, orgID, *parentID)
		if err != nil {
			return nil, err
		}
		if parent == nil {
			return nil, domain.ErrCorruptedTree.Withf("group %s references missing parent %s", node.ID.String(), parentID.String())
		}
		chain = append(chain, parent)
		parentID = parent.ParentID
	}

	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// depth is the root-based depth of node; a root has depth 1.
func (w *walker) depth(ctx context.Context, db *gorm.DB, orgID snowflake.ID, node *domain.Group) (int, error) {
	chain, err := w.ancestors(ctx, db, orgID, node)
	if err != nil {
		return 0, err
	}
	return len(chain) + 1, nil
}

// subtree returns the live descendants of id breadth-first and the number of levels
// below id (0 for a leaf).
func (w *walker) subtree(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) ([]snowflake.ID, int, error) {
	var (
		ids    []snowflake.ID
		levels int
	)
	seen := map[snowflake.ID]struct{}{id: {}}
	frontier := []snowflake.ID{id}

	for len(frontier) > 0 {
		if levels >= maxWalk {
			return nil, 0, domain.ErrCorruptedTree
		}
		children, err := w.repo.ListByParentIDs(ctx, db, orgID, frontier)
		if err != nil {
			return nil, 0, err
		}
		frontier = frontier[:0:0]
		for _, child := range children {
			if _, ok := seen[child.ID]; ok {
				return nil, 0, domain.ErrCorruptedTree.Withf("group %s appears twice below %s", child.ID.String(), id.String())
			}
			seen[child.ID] = struct{}{}
			ids = append(ids, child.ID)
			frontier = append(frontier, child.ID)
		}
		if len(frontier) > 0 {
			levels++
		}
	}
	return ids, levels, nil
}
