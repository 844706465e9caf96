package gateway

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseAccountRecords_FixedFormatWithAnyWildcard(t *testing.T) {
	format := "username:password:email:emailPassword:authToken:ANY"
	raw := "alice:pw:a@x:ep:tok:garbage"

	records, err := ParseAccountRecords(format, raw)
	require.NoError(t, err)
	require.Len(t, records, 1)

	require.Equal(t, Credential{
		Username:      "alice",
		Password:      "pw",
		Email:         "a@x",
		EmailPassword: "ep",
		AuthToken:     "tok",
	}, records[0])
}

func TestParseAccountRecords_MultipleLinesSkipsMalformed(t *testing.T) {
	format := "username:password"
	raw := "alice:pw\nnotvalidatall\nbob:hunter2"

	records, err := ParseAccountRecords(format, raw)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "alice", records[0].Username)
	require.Equal(t, "bob", records[1].Username)
}

func TestParseAccountRecords_FullFormatAllFields(t *testing.T) {
	format := "username:password:email:emailPassword:authToken:twoFactorSecret"
	raw := "carol:pw:c@x:ep:tok:SECRET"

	records, err := ParseAccountRecords(format, raw)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, Credential{
		Username:        "carol",
		Password:        "pw",
		Email:           "c@x",
		EmailPassword:   "ep",
		AuthToken:       "tok",
		TwoFactorSecret: "SECRET",
	}, records[0])
}

func TestImportAccounts_IdempotentByUsername(t *testing.T) {
	store, err := OpenStore(filepath.Join(t.TempDir(), "accounts.json"))
	require.NoError(t, err)

	format := "username:password"
	raw := "alice:pw"

	records, err := ParseAccountRecords(format, raw)
	require.NoError(t, err)
	added, err := store.Add(records)
	require.NoError(t, err)
	require.Equal(t, 1, added)

	records, err = ParseAccountRecords(format, raw)
	require.NoError(t, err)
	added, err = store.Add(records)
	require.NoError(t, err)
	require.Equal(t, 0, added, "re-importing the same username must not duplicate the entry")

	require.Len(t, store.Snapshot(), 1)
}
