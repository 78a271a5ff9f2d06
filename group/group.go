// Package group answers "which distributed training group is this process
// in". The pipeline uses it to shard data across nodes.
package group

import (
	"fmt"
	"slices"

	"github.com/caarlos0/env/v11"
)

// Membership reports the data-parallel group of the calling process.
type Membership interface {
	// Membership returns this process's global rank and the global ranks of
	// every member of its group. ok is false when there is no distributed
	// context.
	Membership() (globalRank int, members []int, ok bool)
}

// Local is the Membership of a process that is not part of a group.
type Local struct{}

// Membership implements the Membership interface.
func (Local) Membership() (int, []int, bool) {
	return 0, nil, false
}

// Static is a fixed Membership.
type Static struct {
	Rank    int
	Members []int
}

// Membership implements the Membership interface.
func (s Static) Membership() (int, []int, bool) {
	return s.Rank, s.Members, len(s.Members) > 0
}

// Placement is what the pipeline needs to know about its group.
type Placement struct {
	GlobalRank int
	LocalRank  int
	GroupSize  int
}

// Resolve turns a Membership into a Placement. Without a distributed context
// the process is alone in a group of one. m may be nil.
func Resolve(m Membership) (Placement, error) {
	if m == nil {
		return Placement{GroupSize: 1}, nil
	}

	rank, members, ok := m.Membership()
	if !ok {
		return Placement{GroupSize: 1}, nil
	}

	idx := slices.Index(members, rank)
	if idx < 0 {
		return Placement{}, fmt.Errorf("rank %d is not a member of its group %v", rank, members)
	}

	return Placement{GlobalRank: rank, LocalRank: idx, GroupSize: len(members)}, nil
}

type envMembership struct {
	Rank  int   `env:"RANK" envDefault:"0"`
	Group []int `env:"GROUP" envSeparator:","`
}

// FromEnv reads the membership from <prefix>RANK and <prefix>GROUP, the
// latter a comma separated list of global ranks. An unset GROUP means no
// distributed context.
func FromEnv(prefix string) (Static, error) {
	var e envMembership
	if err := env.ParseWithOptions(&e, env.Options{Prefix: prefix}); err != nil {
		return Static{}, fmt.Errorf("failed to parse group membership: %w", err)
	}
	return Static{Rank: e.Rank, Members: e.Group}, nil
}
