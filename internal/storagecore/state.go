package storagecore

import (
	"fmt"

	"github.com/cubedb/cubestore/internal/cubeerr"
	"github.com/cubedb/cubestore/internal/metastore"
	"github.com/cubedb/cubestore/internal/model"
)

// partitionTransitions enumerates the legal edges of the partition state
// machine (spec.md §4.2):
//
//	[creating] --upload_ok--> [active]
//	[active] --compaction/split--> [deactivated]
//	[deactivated] --grace_interval--> [deleted]
var partitionTransitions = map[model.PartitionState][]model.PartitionState{
	model.PartitionCreating:    {model.PartitionActive},
	model.PartitionActive:      {model.PartitionDeactivated},
	model.PartitionDeactivated: {model.PartitionDeleted},
}

func canTransition(from, to model.PartitionState) bool {
	for _, allowed := range partitionTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// TransitionPartition moves a partition to newState, rejecting any edge not
// in partitionTransitions so a caller (compaction, split, GC) can never
// regress a partition or skip a state.
func (s *Store) TransitionPartition(partitionID int64, newState model.PartitionState) error {
	var p model.Partition
	if err := metastore.GetRow(s.Meta, metastore.BucketPartitions, partitionID, &p); err != nil {
		return cubeerr.Wrap(cubeerr.KindTransient, "", "load partition", err)
	}
	if !canTransition(p.State, newState) {
		return cubeerr.New(cubeerr.KindInternal, cubeerr.CodeObjectNotInPrerequisiteState,
			fmt.Sprintf("partition %d: illegal transition %s -> %s", partitionID, p.State, newState))
	}
	p.State = newState
	if err := metastore.PutRow(s.Meta, metastore.BucketPartitions, partitionID, &p); err != nil {
		return cubeerr.Wrap(cubeerr.KindTransient, "", "persist partition transition", err)
	}
	return nil
}
