package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// defaultListMaxItems is the default max_items for tweets-and-replies,
// following, and followers adapters, per spec.md §4.9.
const defaultListMaxItems = 40

// Adapters exposes the downstream-facing endpoint operations (C9),
// grounded on the teacher's graphql.go (GetUserByScreenName, fetchUserList,
// fetchTweetUserList, GetUserTweets, SearchTimeline) and parsers.go.
type Adapters struct {
	auth *Authenticator
}

// NewAdapters wires the endpoint adapters against a rotating authenticator.
func NewAdapters(auth *Authenticator) *Adapters {
	return &Adapters{auth: auth}
}

func (a *Adapters) get(ctx context.Context, operation, url string) ([]byte, error) {
	body, _, err := a.auth.Fetch(ctx, "GET", url, map[string]string{}, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", operation, err)
	}
	return body, nil
}

// TweetByID fetches a single tweet by its numeric id.
func (a *Adapters) TweetByID(ctx context.Context, tweetID string) (*Tweet, error) {
	variables := map[string]any{
		"focalTweetId":                           tweetID,
		"with_rux_injections":                    false,
		"includePromotedContent":                 true,
		"withCommunity":                          true,
		"withQuickPromoteEligibilityTweetFields": true,
		"withBirdwatchNotes":                     true,
		"withVoice":                               true,
	}
	url, err := EndpointURL("TweetDetail")
	if err != nil {
		return nil, err
	}
	url = addGraphQLParams(url, variables, Endpoints["TweetDetail"].Features)

	body, err := a.get(ctx, "TweetDetail", url)
	if err != nil {
		return nil, err
	}
	return parseTweetDetail(body, tweetID)
}

// ProfileByScreenName fetches a profile by handle. A "User not found."
// upstream error maps to ErrNotFound.
func (a *Adapters) ProfileByScreenName(ctx context.Context, handle string) (*Profile, error) {
	variables := map[string]any{
		"screen_name":              handle,
		"withSafetyModeUserFields": true,
	}
	url, err := EndpointURL("UserByScreenName")
	if err != nil {
		return nil, err
	}
	url = addGraphQLParams(url, variables, Endpoints["UserByScreenName"].Features)

	body, err := a.get(ctx, "UserByScreenName", url)
	if err != nil {
		return nil, err
	}
	return parseUserByScreenName(body)
}

// ProfileByRestID fetches a profile by its numeric id.
func (a *Adapters) ProfileByRestID(ctx context.Context, userID string) (*Profile, error) {
	variables := map[string]any{
		"userId":                   userID,
		"withSafetyModeUserFields": true,
	}
	url, err := EndpointURL("UserByRestId")
	if err != nil {
		return nil, err
	}
	url = addGraphQLParams(url, variables, Endpoints["UserByRestId"].Features)

	body, err := a.get(ctx, "UserByRestId", url)
	if err != nil {
		return nil, err
	}
	return parseUserByRestID(body)
}

// ResolveHandleOrID resolves a user-supplied handle/id string to a numeric
// user id: "@handle" resolves via screen-name lookup, all-digits is taken
// as-is, anything else is InvalidHandleError.
func (a *Adapters) ResolveHandleOrID(ctx context.Context, input string) (string, error) {
	if strings.HasPrefix(input, "@") {
		profile, err := a.ProfileByScreenName(ctx, strings.TrimPrefix(input, "@"))
		if err != nil {
			return "", err
		}
		return profile.ID, nil
	}
	if isAllDigits(input) {
		return input, nil
	}
	return "", &InvalidHandleError{Handle: input}
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// UserTweetsAndReplies returns a cursor-paginated stream of a user's
// tweets and replies, default max_items=40.
func (a *Adapters) UserTweetsAndReplies(userID string, maxItems int) *Paginator[*Tweet] {
	if maxItems <= 0 {
		maxItems = defaultListMaxItems
	}
	fetch := func(ctx context.Context, cursor string, pageSize int) ([]*Tweet, string, error) {
		variables := map[string]any{
			"userId":                                 userID,
			"count":                                  pageSize,
			"includePromotedContent":                 false,
			"withQuickPromoteEligibilityTweetFields": true,
			"withVoice":                              true,
			"withV2Timeline":                         true,
		}
		if cursor != "" {
			variables["cursor"] = cursor
		}
		url, err := EndpointURL("UserTweets")
		if err != nil {
			return nil, "", err
		}
		url = addGraphQLParams(url, variables, Endpoints["UserTweets"].Features)

		body, err := a.get(ctx, "UserTweets", url)
		if err != nil {
			return nil, "", err
		}
		return parseTweetTimeline(body, userID)
	}
	return NewPaginator(fetch, tweetID, maxItems)
}

// Followers returns a cursor-paginated stream of a user's followers,
// default max_items=40.
func (a *Adapters) Followers(userID string, maxItems int) *Paginator[*Profile] {
	return a.userList("Followers", userID, maxItems)
}

// Following returns a cursor-paginated stream of accounts a user follows,
// default max_items=40.
func (a *Adapters) Following(userID string, maxItems int) *Paginator[*Profile] {
	return a.userList("Following", userID, maxItems)
}

func (a *Adapters) userList(operation, userID string, maxItems int) *Paginator[*Profile] {
	if maxItems <= 0 {
		maxItems = defaultListMaxItems
	}
	fetch := func(ctx context.Context, cursor string, pageSize int) ([]*Profile, string, error) {
		variables := map[string]any{
			"userId":                 userID,
			"count":                  pageSize,
			"includePromotedContent": false,
		}
		if cursor != "" {
			variables["cursor"] = cursor
		}
		url, err := EndpointURL(operation)
		if err != nil {
			return nil, "", err
		}
		url = addGraphQLParams(url, variables, Endpoints[operation].Features)

		body, err := a.get(ctx, operation, url)
		if err != nil {
			return nil, "", err
		}
		return parseUserList(body)
	}
	return NewPaginator(fetch, profileID, maxItems)
}

// Retweeters returns a cursor-paginated stream of users who retweeted a
// tweet.
func (a *Adapters) Retweeters(tweetID string, maxItems int) *Paginator[*Profile] {
	if maxItems <= 0 {
		maxItems = defaultListMaxItems
	}
	fetch := func(ctx context.Context, cursor string, pageSize int) ([]*Profile, string, error) {
		variables := map[string]any{
			"tweetId":                tweetID,
			"count":                  pageSize,
			"includePromotedContent": true,
		}
		if cursor != "" {
			variables["cursor"] = cursor
		}
		url, err := EndpointURL("Retweeters")
		if err != nil {
			return nil, "", err
		}
		url = addGraphQLParams(url, variables, Endpoints["Retweeters"].Features)

		body, err := a.get(ctx, "Retweeters", url)
		if err != nil {
			return nil, "", err
		}
		return parseRetweeterList(body)
	}
	return NewPaginator(fetch, profileID, maxItems)
}

// Search returns a cursor-paginated stream of tweets matching query in the
// given mode.
func (a *Adapters) Search(query string, mode SearchMode, maxItems int) *Paginator[*Tweet] {
	if maxItems <= 0 {
		maxItems = defaultListMaxItems
	}
	fetch := func(ctx context.Context, cursor string, pageSize int) ([]*Tweet, string, error) {
		variables := map[string]any{
			"rawQuery":    query,
			"count":       pageSize,
			"querySource": "typed_query",
			"product":     string(mode),
		}
		if cursor != "" {
			variables["cursor"] = cursor
		}
		fieldToggles := map[string]any{"withArticleRichContentState": false}

		url, err := EndpointURL("SearchTimeline")
		if err != nil {
			return nil, "", err
		}
		url = addGraphQLParams(url, variables, Endpoints["SearchTimeline"].Features, fieldToggles)

		body, err := a.get(ctx, "SearchTimeline", url)
		if err != nil {
			return nil, "", err
		}
		return parseSearchTimeline(body)
	}
	return NewPaginator(fetch, tweetID, maxItems)
}

// AllTweetsEver drives the all_tweets_ever(username) search variant:
// repeated Latest-mode searches with a decreasing max_id boundary, each
// pass restarting once the prior pass's search exhausts, until a pass
// yields no new tweets.
func (a *Adapters) AllTweetsEver(ctx context.Context, username string) ([]*Tweet, error) {
	var all []*Tweet
	seen := make(map[string]struct{})
	var state allTweetsEverState

	for {
		query := "from:" + username
		if maxID, ok := state.nextMaxID(); ok {
			query += fmt.Sprintf(" max_id:%d", maxID)
		}

		pass := a.Search(query, SearchLatest, 1<<20)
		tweets, err := pass.Collect(ctx)
		if err != nil {
			return all, err
		}

		newInPass := 0
		for _, tw := range tweets {
			if _, dup := seen[tw.ID]; dup {
				continue
			}
			seen[tw.ID] = struct{}{}
			all = append(all, tw)
			newInPass++

			if id, err := strconv.ParseInt(tw.ID, 10, 64); err == nil {
				state.observe(id)
			}
		}

		if newInPass == 0 {
			return all, nil
		}
	}
}

// CommunityMembers returns a cursor-paginated stream of a community's
// members.
func (a *Adapters) CommunityMembers(communityID string, maxItems int) *Paginator[*Profile] {
	if maxItems <= 0 {
		maxItems = defaultListMaxItems
	}
	fetch := func(ctx context.Context, cursor string, pageSize int) ([]*Profile, string, error) {
		variables := map[string]any{
			"communityId": communityID,
			"count":       pageSize,
		}
		if cursor != "" {
			variables["cursor"] = cursor
		}
		url, err := EndpointURL("CommunityTweetsTimeline")
		if err != nil {
			return nil, "", err
		}
		url = addGraphQLParams(url, variables, Endpoints["CommunityTweetsTimeline"].Features)

		body, err := a.get(ctx, "CommunityTweetsTimeline", url)
		if err != nil {
			return nil, "", err
		}
		return parseCommunityMembers(body)
	}
	return NewPaginator(fetch, profileID, maxItems)
}

func tweetID(t *Tweet) string    { return t.ID }
func profileID(p *Profile) string { return p.ID }

// addGraphQLParams builds the full URL with variables, features, and
// optional fieldToggles, grounded on the teacher's addGraphQLParams in
// request.go.
func addGraphQLParams(url string, variables, features map[string]any, fieldToggles ...map[string]any) string {
	v, _ := json.Marshal(variables)
	f, _ := json.Marshal(features)
	sep := "?"
	if strings.Contains(url, "?") {
		sep = "&"
	}
	result := url + sep + "variables=" + jsonEscape(v) + "&features=" + jsonEscape(f)
	if len(fieldToggles) > 0 && fieldToggles[0] != nil {
		ft, _ := json.Marshal(fieldToggles[0])
		result += "&fieldToggles=" + jsonEscape(ft)
	}
	return result
}

// jsonEscape percent-encodes the JSON-structural characters the upstream
// needs escaped in query parameters, carried verbatim from the teacher.
func jsonEscape(b []byte) string {
	var result strings.Builder
	for _, ch := range string(b) {
		switch ch {
		case ' ':
			result.WriteString("%20")
		case '"':
			result.WriteString("%22")
		case '{':
			result.WriteString("%7B")
		case '}':
			result.WriteString("%7D")
		case '[':
			result.WriteString("%5B")
		case ']':
			result.WriteString("%5D")
		case ':':
			result.WriteString("%3A")
		case ',':
			result.WriteString("%2C")
		case '\'':
			result.WriteString("%27")
		case '|':
			result.WriteString("%7C")
		default:
			result.WriteRune(ch)
		}
	}
	return result.String()
}
