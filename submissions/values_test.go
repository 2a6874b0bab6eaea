package submissions

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/daniella307307/true-realm-sub001/remote"
)

func TestValuesKeepInsertionOrder(t *testing.T) {
	v := NewValues("zeta", "last letter", "alpha", 1, "mid", true)
	v.Set("alpha", 2)
	v.Set("none", nil)

	b, err := json.Marshal(v)
	require.NoError(t, err)
	require.Equal(t, `{"zeta":"last letter","alpha":2,"mid":true,"none":null}`, string(b))

	var back Values
	require.NoError(t, json.Unmarshal(b, &back))
	require.Equal(t, []string{"zeta", "alpha", "mid", "none"}, back.Keys())
	require.True(t, v.Equal(back))

	back.Delete("alpha")
	require.Equal(t, []string{"zeta", "mid", "none"}, back.Keys())
	require.False(t, v.Equal(back))
}

func TestValuesRejectNestedValues(t *testing.T) {
	var v Values
	require.Error(t, json.Unmarshal([]byte(`{"a":{"b":1}}`), &v))
	require.Error(t, json.Unmarshal([]byte(`{"a":[1,2]}`), &v))
	require.Error(t, json.Unmarshal([]byte(`[1]`), &v))

	require.NoError(t, json.Unmarshal([]byte(`null`), &v))
	require.Zero(t, v.Len())
}

func TestSyncDataDecoding(t *testing.T) {
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	st := decodeSync(syncData{SyncStatus: true, RemoteID: "srv-1", SyncedAt: &at})
	synced, ok := st.(Synced)
	require.True(t, ok)
	require.Equal(t, "srv-1", synced.RemoteID())
	require.Equal(t, at, synced.SyncedAt())

	// A synced flag without a remote id cannot be represented as Synced.
	_, ok = decodeSync(syncData{SyncStatus: true}).(Pending)
	require.True(t, ok)

	p, ok := decodeSync(syncData{LastSyncAttempt: &at, LastError: "timeout"}).(Pending)
	require.True(t, ok)
	require.False(t, p.Modified())
	require.Equal(t, "timeout", p.LastError)

	enc := encodeSync(Pending{PreviousRemoteID: "srv-2"})
	require.False(t, enc.SyncStatus)
	require.Equal(t, "srv-2", enc.PreviousRemoteID)

	_, err := MarkSynced("", at)
	require.ErrorIs(t, err, ErrMissingRemoteID)
}

func TestValidateAnswers(t *testing.T) {
	fields := []remote.FieldDTO{{Name: "q1", Required: true}, {Name: "q2"}}
	require.NoError(t, ValidateAnswers(NewValues("q1", "x"), fields))
	require.ErrorIs(t, ValidateAnswers(NewValues("q1", ""), fields), ErrMissingField)
	require.ErrorIs(t, ValidateAnswers(NewValues("q1", "x", "q9", 1), fields), ErrUnknownField)
}
