package gateway

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		expected errorClass
	}{
		{"no errors", `{"data":{"user":{}}}`, errNone},
		{"empty errors", `{"errors":[]}`, errNone},
		{"banned 88", `{"errors":[{"code":88}]}`, errBanned},
		{"suspended 64", `{"errors":[{"code":64}]}`, errSuspended},
		{"locked 326", `{"errors":[{"code":326}]}`, errLocked},
		{"csrf 353", `{"errors":[{"code":353}]}`, errCSRF},
		{"auth expired 32", `{"errors":[{"code":32}]}`, errAuthExpired},
		{"blocked 161", `{"errors":[{"code":161}]}`, errBlocked},
		{"not authorized 179", `{"errors":[{"code":179}]}`, errNotAuthorized},
		{"not authorized 219", `{"errors":[{"code":219}]}`, errNotAuthorized},
		{"internal 131", `{"errors":[{"code":131}]}`, errInternal},
		{"unknown code", `{"errors":[{"code":999}]}`, errNone},
		{"invalid json", `{invalid`, errNone},
		{
			"access control denied message pinned regardless of code",
			`{"errors":[{"code":88,"message":"Authorization: Denied by access control"}]}`,
			errAccessDenied,
		},
		{
			"other message text does not trigger access control class",
			`{"errors":[{"code":999,"message":"something else went wrong"}]}`,
			errNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := classifyError([]byte(tt.body), nil)
			require.Equal(t, tt.expected, result, "classifyError(%s)", tt.body)
		})
	}
}

func TestParseRateLimitReset(t *testing.T) {
	result := parseRateLimitReset("")
	require.WithinDuration(t, time.Now().Add(5*time.Minute), result, 15*time.Second, "empty header falls back to 5min")

	result = parseRateLimitReset("not-a-number")
	require.WithinDuration(t, time.Now().Add(5*time.Minute), result, 15*time.Second, "invalid header falls back to 5min")

	future := time.Now().Add(90 * time.Second).Truncate(time.Second)
	result = parseRateLimitReset(strconv.FormatInt(future.Unix(), 10))
	require.True(t, result.Equal(future), "valid header parsed as unix seconds")
}
