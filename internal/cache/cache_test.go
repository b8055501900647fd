package cache

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/monto-broker/broker/internal/model"
)

type fakeWatcher struct{ watched []string }

func (f *fakeWatcher) Watch(path string) { f.watched = append(f.watched, path) }

func id(name model.ProductName, path string) model.ProductIdentifier {
	return model.ProductIdentifier{Name: name, Language: model.LanguageText, Path: path}
}

func TestPutThenGet(t *testing.T) {
	w := &fakeWatcher{}
	c := New(w, nil)
	src := model.Product{Name: model.ProductSource, Language: model.LanguageText, Path: "/tmp/x", Value: model.SourceValue("hello")}

	v := c.Put(src, nil)
	assert.Equal(t, uint64(1), v)

	val, ver, ok := c.Get(src.Identifier())
	require.True(t, ok)
	assert.Equal(t, uint64(1), ver)
	var s string
	require.NoError(t, json.Unmarshal(val, &s))
	assert.Equal(t, "hello", s)
	assert.Contains(t, w.watched, "/tmp/x")
}

func TestPutBumpsVersion(t *testing.T) {
	c := New(nil, nil)
	src := model.Product{Name: model.ProductSource, Language: model.LanguageText, Path: "/tmp/x", Value: model.SourceValue("a")}
	assert.Equal(t, uint64(1), c.Put(src, nil))
	src.Value = model.SourceValue("b")
	assert.Equal(t, uint64(2), c.Put(src, nil))
}

func TestGetMissReturnsFalse(t *testing.T) {
	c := New(nil, nil)
	_, _, ok := c.Get(id(model.ProductErrors, "/tmp/nope"))
	assert.False(t, ok)
}

func TestDependencyStalenessInvalidatesGet(t *testing.T) {
	c := New(nil, nil)
	srcID := id(model.ProductSource, "/tmp/x")
	src := model.Product{Name: model.ProductSource, Language: model.LanguageText, Path: "/tmp/x", Value: model.SourceValue("hello")}
	c.Put(src, nil)

	errID := id(model.ProductErrors, "/tmp/x")
	errs := model.Product{Name: model.ProductErrors, Language: model.LanguageText, Path: "/tmp/x", Value: json.RawMessage(`[]`)}
	c.Put(errs, []model.ProductIdentifier{srcID})

	_, _, ok := c.Get(errID)
	assert.True(t, ok)

	// Re-put source: version bumps, so the errors entry's recorded dep
	// version is now stale and Get must miss.
	src.Value = model.SourceValue("world")
	c.Put(src, nil)

	_, _, ok = c.Get(errID)
	assert.False(t, ok)
}

func TestInvalidatePathInvalidatesExactAndAncestors(t *testing.T) {
	c := New(nil, nil)
	fileID := id(model.ProductSource, "/tmp/dir/file.txt")
	c.Put(model.Product{Name: model.ProductSource, Language: model.LanguageText, Path: "/tmp/dir/file.txt", Value: model.SourceValue("x")}, nil)

	dirID := id(model.ProductDirectory, "/tmp/dir")
	c.Put(model.Product{Name: model.ProductDirectory, Language: model.LanguageNone, Path: "/tmp/dir", Value: json.RawMessage(`[]`)}, nil)

	c.InvalidatePath("/tmp/dir/file.txt")

	_, _, ok := c.Get(fileID)
	assert.False(t, ok)
	_, _, ok = c.Get(dirID)
	assert.False(t, ok, "ancestor directory entry must also be invalidated")
}

func TestInvalidatePathThenPutWins(t *testing.T) {
	c := New(nil, nil)
	src := model.Product{Name: model.ProductSource, Language: model.LanguageText, Path: "/tmp/x", Value: model.SourceValue("v1")}
	c.Put(src, nil)
	c.InvalidatePath("/tmp/x")
	src.Value = model.SourceValue("v2")
	c.Put(src, nil)

	val, _, ok := c.Get(src.Identifier())
	require.True(t, ok)
	var s string
	require.NoError(t, json.Unmarshal(val, &s))
	assert.Equal(t, "v2", s)
}
