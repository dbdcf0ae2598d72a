package storagecore

import (
	"testing"

	"github.com/cubedb/cubestore/internal/metastore"
	"github.com/cubedb/cubestore/internal/model"
)

func TestPartitionTransitions(t *testing.T) {
	s := newTestStore(t)
	p := &model.Partition{ID: 1, IndexID: 1, State: model.PartitionCreating}
	if err := metastore.PutRow(s.Meta, metastore.BucketPartitions, p.ID, p); err != nil {
		t.Fatalf("put partition: %v", err)
	}

	if err := s.TransitionPartition(1, model.PartitionActive); err != nil {
		t.Fatalf("creating->active: %v", err)
	}
	if err := s.TransitionPartition(1, model.PartitionDeleted); err == nil {
		t.Fatalf("expected active->deleted to be rejected")
	}
	if err := s.TransitionPartition(1, model.PartitionDeactivated); err != nil {
		t.Fatalf("active->deactivated: %v", err)
	}
	if err := s.TransitionPartition(1, model.PartitionDeleted); err != nil {
		t.Fatalf("deactivated->deleted: %v", err)
	}
}
