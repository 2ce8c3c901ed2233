package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/congregate/internal/cache"
	"github.com/smallbiznis/congregate/internal/config"
	"github.com/smallbiznis/congregate/internal/hierarchy/domain"
	"github.com/smallbiznis/congregate/internal/orgcontext"
	"github.com/smallbiznis/congregate/internal/orgerr"
	"github.com/smallbiznis/congregate/pkg/db/txn"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

const DefaultSeparator = "__"

type PathResolverParams struct {
	fx.In

	DB     *gorm.DB
	Repo   domain.Repository
	Config config.Config
	Cache  cache.PathCache `optional:"true"`
}

// PathResolver renders "Parent__Child" style names from the parent chain.
type PathResolver struct {
	db        *gorm.DB
	repo      domain.Repository
	cache     cache.PathCache
	separator string
	walker    *walker
}

func NewPathResolver(p PathResolverParams) *PathResolver {
	separator := p.Config.Hierarchy.PathSeparator
	if separator == "" {
		separator = DefaultSeparator
	}
	pathCache := p.Cache
	if pathCache == nil {
		pathCache = cache.NoopPathCache{}
	}
	return &PathResolver{
		db:        p.DB,
		repo:      p.Repo,
		cache:     pathCache,
		separator: separator,
		walker:    &walker{repo: p.Repo},
	}
}

// Path returns the group's ancestors followed by the group itself. Soft-deleted
// groups still resolve.
func (r *PathResolver) Path(ctx context.Context, id snowflake.ID) ([]domain.Group, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return nil, orgerr.ErrInvalidOrganization
	}
	chain, err := txn.Query(ctx, r.db, func(ctx context.Context, db *gorm.DB) ([]*domain.Group, error) {
		node, err := r.repo.FindByIDUnscoped(ctx, db, orgID, id)
		if err != nil {
			return nil, err
		}
		if node == nil {
			return nil, domain.ErrNotFound
		}
		chain, err := r.walker.ancestors(ctx, db, orgID, node)
		if err != nil {
			return nil, err
		}
		return append(chain, node), nil
	})
	if err != nil {
		return nil, err
	}
	return values(chain), nil
}

// PathName joins the path's names with the configured separator. Reads inside a
// transaction skip the cache: the transaction may hold uncommitted structural edits.
func (r *PathResolver) PathName(ctx context.Context, id snowflake.ID) (string, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return "", orgerr.ErrInvalidOrganization
	}

	_, inTx := txn.FromContext(ctx)
	if !inTx {
		if name, ok := r.cache.Get(ctx, orgID, id); ok {
			return name, nil
		}
	}

	path, err := r.Path(ctx, id)
	if err != nil {
		return "", err
	}
	names := make([]string, 0, len(path))
	for _, group := range path {
		names = append(names, group.Name)
	}
	name := strings.Join(names, r.separator)

	if !inTx {
		r.cache.Set(ctx, orgID, id, name)
	}
	return name, nil
}

// PathSlug renders the path as URL-safe segments, e.g. "adults/mens-fellowship".
func (r *PathResolver) PathSlug(ctx context.Context, id snowflake.ID) (string, error) {
	path, err := r.Path(ctx, id)
	if err != nil {
		return "", err
	}
	segments := make([]string, 0, len(path))
	for _, group := range path {
		segments = append(segments, slug.Make(group.Name))
	}
	return strings.Join(segments, "/"), nil
}

// ResolveName is the snapshot text stored when a membership interval closes.
func (r *PathResolver) ResolveName(ctx context.Context, id snowflake.ID) (string, error) {
	return r.PathName(ctx, id)
}

var _ domain.PathResolver = (*PathResolver)(nil)
