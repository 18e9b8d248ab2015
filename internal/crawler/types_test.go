package crawler

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type fixedIDs struct {
	id  string
	err error
}

func (f fixedIDs) NewID() (string, error) { return f.id, f.err }

func TestNewJob(t *testing.T) {
	t.Parallel()

	params := map[string]string{"url": "https://shop.example/list"}
	job, err := NewJob(fixedIDs{id: "job-1"}, "acme", JobKindList, "", params)
	require.NoError(t, err)
	require.Equal(t, "job-1", job.ID)
	require.Equal(t, JobKindList, job.Kind)
	require.NoError(t, job.Validate())

	params["url"] = "mutated"
	require.Equal(t, "https://shop.example/list", job.Params["url"])

	_, err = NewJob(fixedIDs{id: "x"}, "", JobKindList, "", nil)
	require.Error(t, err)
	_, err = NewJob(fixedIDs{id: "x"}, "acme", JobKind("CRAWL"), "", nil)
	require.ErrorIs(t, err, ErrInvalidKind)
	_, err = NewJob(fixedIDs{err: errors.New("entropy")}, "acme", JobKindList, "", nil)
	require.EqualError(t, err, "entropy")
}

func TestJobValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		job  Job
	}{
		{"missing id", Job{Vendor: "acme", Kind: JobKindList}},
		{"missing vendor", Job{ID: "1", Kind: JobKindList}},
		{"bad kind", Job{ID: "1", Vendor: "acme", Kind: "OTHER"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Error(t, tc.job.Validate())
		})
	}
}

func TestJobClone(t *testing.T) {
	t.Parallel()

	job := Job{ID: "1", Vendor: "acme", Kind: JobKindFollowup, Params: map[string]string{"a": "b"}}
	clone := job.Clone()
	clone.Params["a"] = "c"
	require.Equal(t, "b", job.Params["a"])

	require.Nil(t, Job{}.Clone().Params)
}

func TestEntryStatusIsStatic(t *testing.T) {
	t.Parallel()

	require.True(t, StatusLocked.IsStatic())
	require.True(t, StatusPending.IsStatic())
	require.False(t, StatusActive.IsStatic())
	require.False(t, StatusSoldOut.IsStatic())
	require.False(t, StatusDisabled.IsStatic())
}
