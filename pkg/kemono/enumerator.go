package kemono

import "context"

// PostLister fetches one page of a creator listing
type PostLister interface {
	FetchPosts(ctx context.Context, creator Creator, offset int) ([]Post, error)
}

// ChannelLister fetches one page of a channel
type ChannelLister interface {
	FetchChannelPage(ctx context.Context, channelID string, skip int) ([]Post, error)
}

// Page is one non-empty listing page
type Page struct {
	Offset int
	Posts  []Post
}

// PageEnumerator walks a creator listing lazily, offset 0 upward in steps of
// PageSize. It stops at the first empty page or failed fetch and never
// yields that terminating page. It can be restarted by building a new one
// but does not resume.
type PageEnumerator struct {
	lister  PostLister
	creator Creator
	offset  int
	done    bool
}

// NewPageEnumerator creates an enumerator positioned at offset 0
func NewPageEnumerator(lister PostLister, creator Creator) *PageEnumerator {
	return &PageEnumerator{lister: lister, creator: creator}
}

// Next returns the next page. ok is false once the listing is exhausted;
// err is set when it ended on a failed fetch.
func (e *PageEnumerator) Next(ctx context.Context) (page Page, ok bool, err error) {
	if e.done {
		return Page{}, false, nil
	}

	posts, err := e.lister.FetchPosts(ctx, e.creator, e.offset)
	if err != nil {
		e.done = true
		return Page{}, false, err
	}
	if len(posts) == 0 {
		e.done = true
		return Page{}, false, nil
	}

	page = Page{Offset: e.offset, Posts: posts}
	e.offset += PageSize
	return page, true, nil
}

// ChannelEnumerator walks a channel in steps of ChannelPageSize. Besides an
// empty page it also stops when a page ends on the same message as the one
// before, which is how the endpoint behaves past the end.
type ChannelEnumerator struct {
	lister    ChannelLister
	channelID string
	skip      int
	lastID    Text
	done      bool
}

// NewChannelEnumerator creates an enumerator positioned at skip 0
func NewChannelEnumerator(lister ChannelLister, channelID string) *ChannelEnumerator {
	return &ChannelEnumerator{lister: lister, channelID: channelID}
}

// Next returns the next page, with the same contract as PageEnumerator.Next
func (e *ChannelEnumerator) Next(ctx context.Context) (page Page, ok bool, err error) {
	if e.done {
		return Page{}, false, nil
	}

	posts, err := e.lister.FetchChannelPage(ctx, e.channelID, e.skip)
	if err != nil {
		e.done = true
		return Page{}, false, err
	}
	if len(posts) == 0 {
		e.done = true
		return Page{}, false, nil
	}

	last := posts[len(posts)-1].ID
	if e.skip > 0 && last == e.lastID {
		e.done = true
		return Page{}, false, nil
	}
	e.lastID = last

	page = Page{Offset: e.skip, Posts: posts}
	e.skip += ChannelPageSize
	return page, true, nil
}
