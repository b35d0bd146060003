package docerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCategoryOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Category
	}{
		{"configuration", ErrMergeAndEmbeddable.New("order"), CategoryConfiguration},
		{"unsupported", ErrUnsupportedJoinType.New("CROSS"), CategoryUnsupported},
		{"missing related", ErrMissingMergeParent.New("customer", 5, "order"), CategoryMissingRelated},
		{"orphan", ErrWouldOrphan.New("order", "customer", 5), CategoryOrphanRisk},
		{"propagation", ErrPropagationFailed.Wrap(errors.New("boom"), "customer", "order"), CategoryPropagationFailure},
		{"wrapped", fmt.Errorf("compile: %w", ErrNotGrouped.New("customer.name")), CategoryUnsupported},
		{"foreign", errors.New("plain"), CategoryNone},
		{"nil", nil, CategoryNone},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, CategoryOf(tc.err))
		})
	}
}

func TestEveryKindHasCategory(t *testing.T) {
	for k, c := range categories {
		assert.NotEqual(t, CategoryNone, c, "kind %v", k)
	}
}

func TestIsHelpers(t *testing.T) {
	err := fmt.Errorf("exec: %w", ErrWouldOrphan.New("order", "customer", 5))

	assert.True(t, IsOrphanRisk(err))
	assert.False(t, IsConfiguration(err))
	assert.True(t, Is(err, ErrWouldOrphan))
	assert.False(t, Is(err, ErrMissingMergeParent))
	assert.Equal(t, ErrWouldOrphan, KindOf(err))
	assert.Nil(t, KindOf(errors.New("other")))

	assert.True(t, IsMissingRelated(ErrMissingEmbeddedDocument.New("product", 9, "order")))
	assert.True(t, IsPropagationFailure(ErrPropagationFailed.New("customer", "order")))
	assert.True(t, IsUnsupported(ErrArrayFilterWrite.New("line", "3.4")))
	assert.True(t, IsUnsupported(ErrArrayElementFilter.New("order", "order")))
}

func TestMessages(t *testing.T) {
	err := ErrMergeKeyNotFound.New("order", "customer")
	assert.Equal(t, "table order merges into customer but has no foreign key referencing it", err.Error())
}
