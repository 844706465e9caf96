package gateway

import "time"

// Profile represents an upstream account profile, as returned by the
// profile-by-screen-name and user-list adapters.
type Profile struct {
	ID          string
	Handle      string
	DisplayName string
	Bio         string
	Followers   int
	Following   int
	TweetCount  int
	ListedCount int
	CreatedAt   time.Time
	IsVerified  bool
	HasAvatar   bool
	HasBio      bool
}

// Tweet represents a single upstream post.
type Tweet struct {
	ID            string
	AuthorID      string
	Text          string
	CreatedAt     time.Time
	Views         int
	Likes         int
	Retweets      int
	Quotes        int
	TokenMentions []string // extracted $TICKER patterns, e.g. ["BTC", "ETH"]
}

// SearchMode selects the ranking/content filter for a search adapter.
type SearchMode string

const (
	SearchTop    SearchMode = "Top"
	SearchLatest SearchMode = "Latest"
	SearchPhotos SearchMode = "Photos"
	SearchVideos SearchMode = "Videos"
	SearchUsers  SearchMode = "Users"
)
