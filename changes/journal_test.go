package changes

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/bluebook-vm/bluebook/compiler"
	"github.com/bluebook-vm/bluebook/kernel"
	"github.com/bluebook-vm/bluebook/vm"
	"github.com/stretchr/testify/require"
)

func openJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "test.changes"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func bootVM(t *testing.T) *vm.VM {
	t.Helper()
	v, err := kernel.Boot(vm.Options{Output: io.Discard})
	require.NoError(t, err)
	return v
}

func evaluate(t *testing.T, v *vm.VM, source string) vm.Value {
	t.Helper()
	r, err := compiler.Evaluate(context.Background(), v, source)
	require.NoError(t, err)
	return r
}

func TestJournalRecordsMethodChanges(t *testing.T) {
	j := openJournal(t)
	v := bootVM(t)
	v.Observe(j)

	evaluate(t, v, `Integer compile: 'double ^self * 2'`)
	evaluate(t, v, `Integer class compile: 'answer ^42'`)
	evaluate(t, v, `Integer removeSelector: #double`)
	evaluate(t, v, `3 + 4`)

	entries, err := j.Entries(context.Background(), Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 3)

	require.Equal(t, KindInstall, entries[0].Kind)
	require.Equal(t, "Integer", entries[0].ClassName)
	require.Equal(t, "double", entries[0].Selector)
	require.Equal(t, "double ^self * 2", entries[0].Source)
	require.Equal(t, j.Session(), entries[0].Session)

	require.Equal(t, "Integer class", entries[1].ClassName)
	require.Equal(t, "answer", entries[1].Selector)

	require.Equal(t, KindRemove, entries[2].Kind)
	require.Equal(t, "double", entries[2].Selector)
	require.Empty(t, entries[2].Source)

	require.Less(t, entries[0].ID, entries[1].ID)
	require.Contains(t, entries[0].String(), "install Integer>>double")
}

func TestJournalFilters(t *testing.T) {
	j := openJournal(t)
	ctx := context.Background()
	for _, sel := range []string{"a", "b", "c"} {
		_, err := j.Record(ctx, KindInstall, "Object", sel, sel+" ^1")
		require.NoError(t, err)
	}
	_, err := j.Record(ctx, KindInstall, "Integer", "a", "a ^2")
	require.NoError(t, err)

	tests := map[string]struct {
		filter Filter
		want   int
	}{
		"all":           {Filter{}, 4},
		"class":         {Filter{ClassName: "Object"}, 3},
		"selector":      {Filter{Selector: "a"}, 2},
		"both":          {Filter{ClassName: "Integer", Selector: "a"}, 1},
		"limit":         {Filter{Limit: 2}, 2},
		"session":       {Filter{Session: j.Session()}, 4},
		"other session": {Filter{Session: "elsewhere"}, 0},
		"since past":    {Filter{Since: time.Now().Add(-time.Hour)}, 4},
		"since future":  {Filter{Since: time.Now().Add(time.Hour)}, 0},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			entries, err := j.Entries(ctx, tt.filter)
			require.NoError(t, err)
			require.Len(t, entries, tt.want)
		})
	}
}

func TestJournalSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.changes")
	j, err := Open(path)
	require.NoError(t, err)
	_, err = j.Record(context.Background(), KindInstall, "Object", "x", "x ^1")
	require.NoError(t, err)
	first := j.Session()
	require.NoError(t, j.Close())

	j, err = Open(path)
	require.NoError(t, err)
	defer j.Close()
	require.NotEqual(t, first, j.Session())
	entries, err := j.Entries(context.Background(), Filter{Session: first})
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestReplayRestoresMethods(t *testing.T) {
	j := openJournal(t)
	v := bootVM(t)
	v.Observe(j)
	evaluate(t, v, `Integer compile: 'double ^self * 2'`)
	evaluate(t, v, `Integer compile: 'triple ^self * 3'`)
	evaluate(t, v, `Integer class compile: 'answer ^42'`)
	evaluate(t, v, `Integer removeSelector: #triple`)

	w := bootVM(t)
	w.Observe(j)
	applied, err := j.Replay(context.Background(), w, compiler.Compile, Filter{})
	require.NoError(t, err)
	require.Equal(t, 4, applied)

	require.Equal(t, vm.FromSmallInt(14), evaluate(t, w, `7 double`))
	require.Equal(t, vm.FromSmallInt(42), evaluate(t, w, `Integer answer`))
	require.Equal(t, vm.True, evaluate(t, w, `[7 triple. false] on: Error do: [:e | true]`))

	// Replayed changes are not journalled a second time.
	entries, err := j.Entries(context.Background(), Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 4)
}

func TestReplaySkipsEntriesItCannotApply(t *testing.T) {
	j := openJournal(t)
	v := bootVM(t)
	v.Observe(j)
	_, err := compiler.FileIn(v, `
Widget subclass: Object
  instanceVars: size
  method: size [ ^size ]
`)
	require.NoError(t, err)
	evaluate(t, v, `Integer compile: 'double ^self * 2'`)
	_, err = j.Record(context.Background(), KindInstall, "Integer", "broken", "broken ^^")
	require.NoError(t, err)

	w := bootVM(t)
	applied, err := j.Replay(context.Background(), w, compiler.Compile, Filter{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "no class Widget")
	require.Equal(t, 1, applied)
	require.Equal(t, vm.FromSmallInt(10), evaluate(t, w, `5 double`))
}

func TestReplayHonoursFilter(t *testing.T) {
	j := openJournal(t)
	v := bootVM(t)
	v.Observe(j)
	evaluate(t, v, `Integer compile: 'double ^self * 2'`)
	evaluate(t, v, `Integer compile: 'triple ^self * 3'`)

	w := bootVM(t)
	applied, err := j.Replay(context.Background(), w, compiler.Compile, Filter{Selector: "triple"})
	require.NoError(t, err)
	require.Equal(t, 1, applied)
	require.Equal(t, vm.FromSmallInt(6), evaluate(t, w, `2 triple`))
	require.Nil(t, w.Memory.Classes.Integer.LocalMethod(w.Memory.Intern("double")))
}

func TestReplayStopsWhenCancelled(t *testing.T) {
	j := openJournal(t)
	_, err := j.Record(context.Background(), KindInstall, "Integer", "double", "double ^self * 2")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	applied, err := j.Replay(ctx, bootVM(t), compiler.Compile, Filter{})
	require.Error(t, err)
	require.Zero(t, applied)
}
