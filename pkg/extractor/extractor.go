// Package extractor is the parent of the per-dialect extractor packages
// (mysql, pg, mongo, redis). It only declares the contract pkg/task wires
// every concrete extractor against; the dialect-specific state machines
// live in the subpackages.
package extractor

import "context"

// Extractor reads source changes into a buffer.Buffer until ctx is
// canceled or extraction hits a fatal error, mirroring each concrete
// extractor's own Extract(ctx) error method (pkg/extractor/mysql,
// pkg/extractor/pg, pkg/extractor/mongo, pkg/extractor/redis).
type Extractor interface {
	Extract(ctx context.Context) error
}
