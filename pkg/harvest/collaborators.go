package harvest

import (
	"context"

	"github.com/Sriram-PR/clip-harvester/pkg/models"
	"github.com/Sriram-PR/clip-harvester/pkg/storage"
)

// Discoverer lists items for a selector. An empty result is not an error;
// the processor decides what an empty listing means for the job.
type Discoverer interface {
	Discover(ctx context.Context, q models.Query) ([]models.Descriptor, error)
}

// Fetcher downloads one item's content to destPath
type Fetcher interface {
	Fetch(ctx context.Context, d models.Descriptor, destPath string, noWatermark bool) (*models.FetchResult, error)
}

// Storer copies a local artifact to external storage under the given folder segments
type Storer interface {
	Store(ctx context.Context, localPath string, segments []string) (*models.StoreResult, error)
}

// Subtitler derives a subtitle file from a local artifact and returns its path
type Subtitler interface {
	Generate(ctx context.Context, localPath string) (string, error)
}

// Store is the slice of the record layer the processor needs
type Store interface {
	storage.JobStore
	storage.ItemStore
}
