package job

import (
	"context"

	"github.com/semidx/semidx/internal/service"
)

// ResyncJob re-runs the refresh pipeline so documents edited or appended on
// disk while the server is up get picked up and embedded.
type ResyncJob struct {
	search *service.SearchService
}

func NewResyncJob(search *service.SearchService) *ResyncJob {
	return &ResyncJob{search: search}
}

func (j *ResyncJob) Name() string {
	return "index_resync"
}

func (j *ResyncJob) Run(ctx context.Context) error {
	if j.search == nil {
		return nil
	}
	return j.search.Resync(ctx)
}
