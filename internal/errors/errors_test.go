package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

var errSentinel = New("sentinel")

func TestWrap_PreservesChain(t *testing.T) {
	t.Parallel()

	err := Wrap(CategoryRecording, "record triggered alert", errSentinel)

	assert.True(t, Is(err, errSentinel))
	assert.Equal(t, CategoryRecording, CategoryOf(err))
	assert.Equal(t, "record triggered alert: sentinel", err.Error())
}

func TestWrap_NilStaysNil(t *testing.T) {
	t.Parallel()
	assert.NoError(t, Wrap(CategoryDispatch, "send", nil))
}

func TestNewf_WrapsWithVerb(t *testing.T) {
	t.Parallel()

	err := Newf(CategoryConfiguration, "evaluate", "unknown comparison %q: %w", "=~", errSentinel)

	assert.True(t, Is(err, errSentinel))
	assert.Contains(t, err.Error(), `unknown comparison "=~"`)
}

func TestCategoryOf_Uncategorised(t *testing.T) {
	t.Parallel()
	assert.Equal(t, CategoryUnknown, CategoryOf(fmt.Errorf("plain")))
}

func TestIsCategory_NestedCategories(t *testing.T) {
	t.Parallel()

	inner := Wrap(CategorySuppressionStore, "load", errSentinel)
	outer := Wrap(CategoryRecording, "fire", inner)

	assert.Equal(t, CategoryRecording, CategoryOf(outer))
	assert.True(t, IsCategory(outer, CategorySuppressionStore))
	assert.False(t, IsCategory(outer, CategoryDispatch))
}
