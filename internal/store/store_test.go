package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *BoltStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "apex.db")
	s, err := Open(path, Options{})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestReadWriteDelete(t *testing.T) {
	s := openTemp(t)

	_, found, err := s.Read([]byte("/a/b"))
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, s.Write([]byte("/a/b"), []byte("v1")))

	v, found, err := s.Read([]byte("/a/b"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "v1", string(v))

	require.NoError(t, s.Delete([]byte("/a/b")))
	_, found, err = s.Read([]byte("/a/b"))
	require.NoError(t, err)
	require.False(t, found)
}

func TestListKeysAndScanOrdering(t *testing.T) {
	s := openTemp(t)

	keys := []string{"/tasks/b", "/tasks/a", "/tasks/c", "/other/x"}
	for _, k := range keys {
		require.NoError(t, s.Write([]byte(k), []byte("x")))
	}

	got, err := s.ListKeys([]byte("/tasks/"))
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, "/tasks/a", string(got[0]))
	require.Equal(t, "/tasks/b", string(got[1]))
	require.Equal(t, "/tasks/c", string(got[2]))

	rows, err := s.Scan([]byte("/tasks/"), PrefixEnd([]byte("/tasks/")), 2)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "/tasks/a", string(rows[0].Key))
	require.Equal(t, "/tasks/b", string(rows[1].Key))
}

func TestTransactConflict(t *testing.T) {
	s := openTemp(t)
	require.NoError(t, s.Write([]byte("/k"), []byte("v1")))

	expectFound := true
	_, err := s.Transact([]Op{
		{Kind: OpRead, Key: []byte("/k"), ExpectValue: []byte("wrong"), ExpectFound: &expectFound},
	})
	require.Error(t, err)

	_, err = s.Transact([]Op{
		{Kind: OpRead, Key: []byte("/k"), ExpectValue: []byte("v1"), ExpectFound: &expectFound},
		{Kind: OpWrite, Key: []byte("/k"), Value: []byte("v2")},
	})
	require.NoError(t, err)

	v, _, err := s.Read([]byte("/k"))
	require.NoError(t, err)
	require.Equal(t, "v2", string(v))
}

func TestReopenRecoversState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "apex.db")
	s, err := Open(path, Options{})
	require.NoError(t, err)
	require.NoError(t, s.Write([]byte("/k"), []byte("persisted")))
	require.NoError(t, s.Close())

	s2, err := Open(path, Options{})
	require.NoError(t, err)
	defer s2.Close()

	v, found, err := s2.Read([]byte("/k"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "persisted", string(v))
}

func TestWriteResourceExhausted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "apex.db")
	s, err := Open(path, Options{MaxBytes: 1})
	require.NoError(t, err)
	defer s.Close()

	err = s.Write([]byte("/k"), []byte("some value that exceeds the tiny cap"))
	require.Error(t, err)
}
