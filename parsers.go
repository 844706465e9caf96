package gateway

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var tokenMentionRe = regexp.MustCompile(`\$([A-Z]{2,10})`)

// parseUserByScreenName parses the UserByScreenName GraphQL response.
func parseUserByScreenName(body []byte) (*Profile, error) {
	var raw struct {
		Data struct {
			User struct {
				Result userResult `json:"result"`
			} `json:"user"`
		} `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: unmarshal UserByScreenName: %v", ErrBadUpstream, err)
	}
	if len(raw.Errors) > 0 {
		if strings.Contains(raw.Errors[0].Message, "User not found") {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("upstream error: %s", raw.Errors[0].Message)
	}
	return parseUserResult(raw.Data.User.Result)
}

// parseUserList parses Followers/Following response.
func parseUserList(body []byte) ([]*Profile, string, error) {
	var raw struct {
		Data struct {
			User struct {
				Result struct {
					Timeline struct {
						Timeline timelineObj `json:"timeline"`
					} `json:"timeline"`
				} `json:"result"`
			} `json:"user"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, "", fmt.Errorf("unmarshal user list: %w", err)
	}
	return extractUsersFromTimeline(raw.Data.User.Result.Timeline.Timeline)
}

// parseRetweeterList parses Retweeters response.
func parseRetweeterList(body []byte) ([]*Profile, string, error) {
	var raw struct {
		Data struct {
			RetweetersTimeline struct {
				Timeline timelineObj `json:"timeline"`
			} `json:"retweeters_timeline"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, "", fmt.Errorf("unmarshal retweeter list: %w", err)
	}
	tl := raw.Data.RetweetersTimeline.Timeline
	if len(tl.Instructions) == 0 {
		return parseUserList(body)
	}
	return extractUsersFromTimeline(tl)
}

// parseTweetTimeline parses UserTweets/tweets-and-replies timeline
// responses, returning the next pagination cursor alongside the batch.
func parseTweetTimeline(body []byte, authorID string) ([]*Tweet, string, error) {
	var raw struct {
		Data struct {
			User struct {
				Result struct {
					Timeline struct {
						Timeline timelineObj `json:"timeline"`
					} `json:"timeline"`
					TimelineV2 struct {
						Timeline timelineObj `json:"timeline"`
					} `json:"timeline_v2"`
				} `json:"result"`
			} `json:"user"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, "", fmt.Errorf("unmarshal tweet timeline: %w", err)
	}
	tl := raw.Data.User.Result.Timeline.Timeline
	if len(tl.Instructions) == 0 {
		tl = raw.Data.User.Result.TimelineV2.Timeline
	}
	return extractTweetsFromTimeline(tl, authorID)
}

// parseSearchTimeline parses SearchTimeline response, returning the next
// pagination cursor alongside the batch.
func parseSearchTimeline(body []byte) ([]*Tweet, string, error) {
	var raw struct {
		Data struct {
			SearchByRawQuery struct {
				SearchTimeline struct {
					Timeline timelineObj `json:"timeline"`
				} `json:"search_timeline"`
			} `json:"search_by_raw_query"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, "", fmt.Errorf("unmarshal search timeline: %w", err)
	}
	return extractTweetsFromTimeline(raw.Data.SearchByRawQuery.SearchTimeline.Timeline, "")
}

// --- Timeline types ---

type timelineObj struct {
	Instructions []timelineInstruction `json:"instructions"`
}

type timelineInstruction struct {
	Type    string          `json:"type"`
	Entries []timelineEntry `json:"entries"`
	Entry   *timelineEntry  `json:"entry"`
}

type timelineEntry struct {
	EntryID   string          `json:"entryId"`
	SortIndex string          `json:"sortIndex"`
	Content   timelineContent `json:"content"`
}

type timelineContent struct {
	EntryType   string          `json:"entryType"`
	TypeName    string          `json:"__typename"`
	ItemContent json.RawMessage `json:"itemContent"`
	Value       string          `json:"value"`
	CursorType  string          `json:"cursorType"`
}

type userResult struct {
	TypeName string `json:"__typename"`
	ID       string `json:"id"`
	RestID   string `json:"rest_id"`
	Legacy   struct {
		Name            string `json:"name"`
		ScreenName      string `json:"screen_name"`
		FollowersCount  int    `json:"followers_count"`
		FriendsCount    int    `json:"friends_count"`
		StatusesCount   int    `json:"statuses_count"`
		ListedCount     int    `json:"listed_count"`
		CreatedAt       string `json:"created_at"`
		Verified        bool   `json:"verified"`
		Description     string `json:"description"`
		ProfileImageURL string `json:"profile_image_url_https"`
	} `json:"legacy"`
	IsBlueVerified bool `json:"is_blue_verified"`
}

type tweetResult struct {
	TypeName string `json:"__typename"`
	RestID   string `json:"rest_id"`
	Core     struct {
		UserResults struct {
			Result userResult `json:"result"`
		} `json:"user_results"`
	} `json:"core"`
	Legacy struct {
		FullText      string `json:"full_text"`
		CreatedAt     string `json:"created_at"`
		FavoriteCount int    `json:"favorite_count"`
		RetweetCount  int    `json:"retweet_count"`
		QuoteCount    int    `json:"quote_count"`
		UserIDStr     string `json:"user_id_str"`
	} `json:"legacy"`
	Views struct {
		Count string `json:"count"`
	} `json:"views"`
}

// --- Extraction helpers ---

func extractUsersFromTimeline(tl timelineObj) ([]*Profile, string, error) {
	var users []*Profile
	var nextCursor string

	for _, instruction := range tl.Instructions {
		entries := instruction.Entries
		if instruction.Entry != nil {
			entries = append(entries, *instruction.Entry)
		}
		for _, entry := range entries {
			if entry.Content.EntryType == "TimelineTimelineCursor" || entry.Content.TypeName == "TimelineTimelineCursor" {
				if entry.Content.CursorType == "Bottom" || strings.Contains(entry.EntryID, "cursor-bottom") {
					nextCursor = entry.Content.Value
				}
				continue
			}
			if entry.Content.ItemContent == nil {
				continue
			}
			var item struct {
				TypeName    string `json:"__typename"`
				UserResults struct {
					Result userResult `json:"result"`
				} `json:"user_results"`
			}
			if err := json.Unmarshal(entry.Content.ItemContent, &item); err != nil {
				continue
			}
			if item.TypeName != "TimelineUser" {
				continue
			}
			u, err := parseUserResult(item.UserResults.Result)
			if err != nil {
				slog.Debug("skip user parse error", slog.Any("error", err))
				continue
			}
			users = append(users, u)
		}
	}
	return users, nextCursor, nil
}

func extractTweetsFromTimeline(tl timelineObj, defaultAuthorID string) ([]*Tweet, string, error) {
	var tweets []*Tweet
	var nextCursor string

	for _, instruction := range tl.Instructions {
		entries := instruction.Entries
		if instruction.Entry != nil {
			entries = append(entries, *instruction.Entry)
		}
		for _, entry := range entries {
			if entry.Content.EntryType == "TimelineTimelineCursor" || entry.Content.TypeName == "TimelineTimelineCursor" {
				if entry.Content.CursorType == "Bottom" || strings.Contains(entry.EntryID, "cursor-bottom") {
					nextCursor = entry.Content.Value
				}
				continue
			}
			if entry.Content.ItemContent == nil {
				continue
			}
			var item struct {
				TypeName     string `json:"__typename"`
				TweetResults struct {
					Result tweetResult `json:"result"`
				} `json:"tweet_results"`
			}
			if err := json.Unmarshal(entry.Content.ItemContent, &item); err != nil {
				continue
			}
			if item.TypeName != "TimelineTweet" {
				continue
			}
			t, err := parseTweetResult(item.TweetResults.Result, defaultAuthorID)
			if err != nil {
				slog.Debug("skip tweet parse error", slog.Any("error", err))
				continue
			}
			tweets = append(tweets, t)
		}
	}
	return tweets, nextCursor, nil
}

func parseUserResult(r userResult) (*Profile, error) {
	if r.TypeName == "UserUnavailable" {
		return nil, fmt.Errorf("user unavailable (suspended or restricted)")
	}
	if r.RestID == "" {
		return nil, fmt.Errorf("empty user rest_id (typename=%s)", r.TypeName)
	}
	var createdAt time.Time
	if r.Legacy.CreatedAt != "" {
		t, err := time.Parse("Mon Jan 02 15:04:05 +0000 2006", r.Legacy.CreatedAt)
		if err == nil {
			createdAt = t
		}
	}
	bio := strings.TrimSpace(r.Legacy.Description)
	return &Profile{
		ID:          r.RestID,
		Handle:      r.Legacy.ScreenName,
		DisplayName: r.Legacy.Name,
		Bio:         bio,
		Followers:   r.Legacy.FollowersCount,
		Following:   r.Legacy.FriendsCount,
		TweetCount:  r.Legacy.StatusesCount,
		ListedCount: r.Legacy.ListedCount,
		CreatedAt:   createdAt,
		IsVerified:  r.Legacy.Verified || r.IsBlueVerified,
		HasAvatar:   r.Legacy.ProfileImageURL != "" && !strings.Contains(r.Legacy.ProfileImageURL, "default_profile"),
		HasBio:      bio != "",
	}, nil
}

func parseTweetResult(r tweetResult, defaultAuthorID string) (*Tweet, error) {
	if r.RestID == "" {
		return nil, fmt.Errorf("empty tweet rest_id")
	}

	authorID := defaultAuthorID
	if r.Legacy.UserIDStr != "" {
		authorID = r.Legacy.UserIDStr
	}

	var createdAt time.Time
	if r.Legacy.CreatedAt != "" {
		t, err := time.Parse("Mon Jan 02 15:04:05 +0000 2006", r.Legacy.CreatedAt)
		if err == nil {
			createdAt = t
		}
	}

	views := 0
	if r.Views.Count != "" {
		views, _ = strconv.Atoi(r.Views.Count)
	}

	text := r.Legacy.FullText
	mentions := extractTokenMentions(text)

	return &Tweet{
		ID:            r.RestID,
		AuthorID:      authorID,
		Text:          text,
		CreatedAt:     createdAt,
		Views:         views,
		Likes:         r.Legacy.FavoriteCount,
		Retweets:      r.Legacy.RetweetCount,
		Quotes:        r.Legacy.QuoteCount,
		TokenMentions: mentions,
	}, nil
}

// parseTweetDetail parses the TweetDetail GraphQL response into the root
// tweet of its conversation thread. A null result maps to ErrNotFound.
func parseTweetDetail(body []byte, tweetID string) (*Tweet, error) {
	var raw struct {
		Data struct {
			ThreadedConversationWithInjectionsV2 struct {
				Instructions []timelineInstruction `json:"instructions"`
			} `json:"threaded_conversation_with_injections_v2"`
		} `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: unmarshal TweetDetail: %v", ErrBadUpstream, err)
	}
	if len(raw.Errors) > 0 {
		return nil, fmt.Errorf("upstream error: %s", raw.Errors[0].Message)
	}
	for _, instruction := range raw.Data.ThreadedConversationWithInjectionsV2.Instructions {
		for _, entry := range instruction.Entries {
			if entry.EntryID != "tweet-"+tweetID && !strings.HasPrefix(entry.EntryID, "tweet-"+tweetID) {
				continue
			}
			if entry.Content.ItemContent == nil {
				continue
			}
			var item struct {
				TweetResults struct {
					Result tweetResult `json:"result"`
				} `json:"tweet_results"`
			}
			if err := json.Unmarshal(entry.Content.ItemContent, &item); err != nil {
				continue
			}
			if item.TweetResults.Result.RestID == "" {
				return nil, ErrNotFound
			}
			return parseTweetResult(item.TweetResults.Result, "")
		}
	}
	return nil, ErrNotFound
}

// parseUserByRestID parses the UserByRestId GraphQL response, used for
// numeric-id resolution.
func parseUserByRestID(body []byte) (*Profile, error) {
	var raw struct {
		Data struct {
			User struct {
				Result userResult `json:"result"`
			} `json:"user"`
		} `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: unmarshal UserByRestId: %v", ErrBadUpstream, err)
	}
	if len(raw.Errors) > 0 {
		return nil, fmt.Errorf("upstream error: %s", raw.Errors[0].Message)
	}
	return parseUserResult(raw.Data.User.Result)
}

// parseCommunityMembers parses the community-members GraphQL timeline response.
func parseCommunityMembers(body []byte) ([]*Profile, string, error) {
	var raw struct {
		Data struct {
			CommunityResults struct {
				Result struct {
					MembersSlice struct {
						SliceInfo struct {
							NextCursor string `json:"next_cursor"`
						} `json:"slice_info"`
						Items []struct {
							User struct {
								Result userResult `json:"result"`
							} `json:"user_results"`
						} `json:"items"`
					} `json:"members_slice"`
				} `json:"result"`
			} `json:"community_results"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, "", fmt.Errorf("%w: unmarshal community members: %v", ErrBadUpstream, err)
	}
	slice := raw.Data.CommunityResults.Result.MembersSlice
	members := make([]*Profile, 0, len(slice.Items))
	for _, item := range slice.Items {
		p, err := parseUserResult(item.User.Result)
		if err != nil {
			slog.Debug("skip community member parse error", slog.Any("error", err))
			continue
		}
		members = append(members, p)
	}
	return members, slice.SliceInfo.NextCursor, nil
}

func extractTokenMentions(text string) []string {
	matches := tokenMentionRe.FindAllStringSubmatch(strings.ToUpper(text), -1)
	seen := make(map[string]bool)
	var result []string
	for _, m := range matches {
		if len(m) >= 2 && !seen[m[1]] {
			seen[m[1]] = true
			result = append(result, m[1])
		}
	}
	return result
}
