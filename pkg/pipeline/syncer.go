package pipeline

import "sync"

// Syncer holds the checkpoint position the pipeline has confirmed durable:
// only the pipeline loop writes it, any other task (e.g. a future resume
// command) only reads it. Grounded on
// original_source/dt-pipeline/src/pipeline.rs's `Arc<Mutex<Syncer>>` field,
// narrowed here to the one field the pipeline actually advances
// (checkpoint_position); a full resume-on-restart command is out of scope.
type Syncer struct {
	mu                 sync.Mutex
	checkpointPosition string
}

func NewSyncer() *Syncer { return &Syncer{} }

func (s *Syncer) CheckpointPosition() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkpointPosition
}

func (s *Syncer) SetCheckpointPosition(position string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpointPosition = position
}
