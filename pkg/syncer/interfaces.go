package syncer

import (
	"context"

	"partysync/internal/downloader"
	"partysync/pkg/favorites"
	"partysync/pkg/kemono"
)

// API defines the source operations the driver needs
type API interface {
	kemono.PostLister
	kemono.ChannelLister
	favorites.RosterSource
	ListChannels(ctx context.Context, serverID string) ([]kemono.Channel, error)
	Source() string
}

// Downloader fetches the attachments of one post
type Downloader interface {
	DownloadAll(ctx context.Context, jobs []downloader.Job) []downloader.Result
}

// Progress receives creator and post updates for display
type Progress interface {
	StartCreator(name string, totalPosts int)
	StartPost(title string)
	CompletePost(title string, files int, size int64)
	SkipPost(title string)
	FailPost(title string, err error)
	FinishCreator()
	Complete(creators, posts, failed int, bytes int64)
}

type nopProgress struct{}

func (nopProgress) StartCreator(string, int)        {}
func (nopProgress) StartPost(string)                {}
func (nopProgress) CompletePost(string, int, int64) {}
func (nopProgress) SkipPost(string)                 {}
func (nopProgress) FailPost(string, error)          {}
func (nopProgress) FinishCreator()                  {}
func (nopProgress) Complete(int, int, int, int64)   {}
