package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/georelay/errors"
)

func TestPipeline_Empty(t *testing.T) {
	p := NewPipeline()

	passed, doc, err := p.Apply([]byte(`{"a":1}`))
	require.NoError(t, err)
	assert.True(t, passed)
	assert.Equal(t, map[string]any{"a": float64(1)}, doc)
}

func TestPipeline_NilRaw(t *testing.T) {
	p := NewPipeline()
	p.Set("always", func(any) bool { t.Fatal("entry must not run on nil raw"); return true })

	passed, doc, err := p.Apply(nil)
	require.NoError(t, err)
	assert.False(t, passed)
	assert.Nil(t, doc)
}

func TestPipeline_DecodeErrorIsInternal(t *testing.T) {
	p := NewPipeline()

	passed, doc, err := p.Apply([]byte(`{not json`))
	require.Error(t, err)
	assert.True(t, errors.IsInternal(err))
	assert.False(t, passed)
	assert.Nil(t, doc)
}

func TestPipeline_VerdictIsANDOfAllEntries(t *testing.T) {
	p := NewPipeline()
	p.Set("yes", func(any) bool { return true })
	p.Set("no", func(any) bool { return false })

	passed, _, err := p.Apply([]byte(`{}`))
	require.NoError(t, err)
	assert.False(t, passed)
}

func TestPipeline_AllEntriesRunEvenAfterFailure(t *testing.T) {
	p := NewPipeline()
	ran := false
	p.Set("no", func(any) bool { return false })
	p.Set("transform", func(doc any) bool {
		ran = true
		return true
	})

	_, _, err := p.Apply([]byte(`{}`))
	require.NoError(t, err)
	assert.True(t, ran, "entries after a failing one must still run")
}

func TestPipeline_EntriesSeeSameDocument(t *testing.T) {
	p := NewPipeline()
	p.Set("mutate", func(doc any) bool {
		doc.(map[string]any)["touched"] = true
		return true
	})

	passed, doc, err := p.Apply([]byte(`{"a":1}`))
	require.NoError(t, err)
	assert.True(t, passed)
	assert.Equal(t, true, doc.(map[string]any)["touched"])
}

func TestPipeline_SetReplacesKeepingPosition(t *testing.T) {
	p := NewPipeline()
	var order []string
	p.Set("first", func(any) bool { order = append(order, "first"); return true })
	p.Set("second", func(any) bool { order = append(order, "second"); return true })

	// Replacing an existing entry must not move it to the back.
	p.Set("first", func(any) bool { order = append(order, "first-v2"); return true })

	_, _, err := p.Apply([]byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"first-v2", "second"}, order)
	assert.Equal(t, 2, p.Len())
}

func TestPipeline_Remove(t *testing.T) {
	p := NewPipeline()
	p.Set("bbox", func(any) bool { return false })

	assert.True(t, p.Has("bbox"))
	assert.True(t, p.Remove("bbox"))
	assert.False(t, p.Has("bbox"))
	assert.False(t, p.Remove("bbox"), "second remove is a no-op")

	passed, _, err := p.Apply([]byte(`{}`))
	require.NoError(t, err)
	assert.True(t, passed)
}

func TestPipeline_Exclude(t *testing.T) {
	p := NewPipeline()
	p.Set("bbox", func(any) bool { return false })
	p.Set("other", func(any) bool { return true })

	passed, _, err := p.Apply([]byte(`{}`), "bbox")
	require.NoError(t, err)
	assert.True(t, passed, "excluded entry must not affect the verdict")

	passed, _, err = p.Apply([]byte(`{}`))
	require.NoError(t, err)
	assert.False(t, passed)
}
