package service

import (
	"github.com/smallbiznis/congregate/internal/history/domain"
	memberdomain "github.com/smallbiznis/congregate/internal/member/domain"
	"go.uber.org/fx"
)

// Resolvers supplies the snapshot names of each axis. Group and leader intervals
// both point at groups.
type Resolvers struct {
	fx.In

	Groups   domain.NameResolver `name:"group_names"`
	Officers domain.NameResolver `name:"officer_names"`
}

// NewLedgers builds the group, officer and leader ledgers. Leader rows nest inside
// group rows, so closing or deleting a group row cascades to them.
func NewLedgers(p Params, r Resolvers) (domain.Ledgers, error) {
	group, err := NewLedger(p, domain.AxisConfig{
		Axis:     domain.AxisGroup,
		Resolver: r.Groups,
		Pointer:  memberdomain.PointerGroup,
	})
	if err != nil {
		return domain.Ledgers{}, err
	}
	officer, err := NewLedger(p, domain.AxisConfig{
		Axis:     domain.AxisOfficer,
		Resolver: r.Officers,
		Pointer:  memberdomain.PointerOfficer,
	})
	if err != nil {
		return domain.Ledgers{}, err
	}
	leader, err := NewLedger(p, domain.AxisConfig{
		Axis:     domain.AxisLeader,
		Parent:   domain.AxisGroup,
		Resolver: r.Groups,
	})
	if err != nil {
		return domain.Ledgers{}, err
	}
	group.attachDetail(leader)

	return domain.Ledgers{
		Group:   group,
		Officer: officer,
		Leader:  leader,
	}, nil
}
