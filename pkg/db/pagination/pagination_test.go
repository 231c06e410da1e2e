package pagination

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrimBuildsNextToken(t *testing.T) {
	rows := []int{1, 2, 3}
	page, info, err := Trim(rows, 2, func(v int) Cursor {
		return Cursor{ID: string(rune('0' + v))}
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, page)
	assert.True(t, info.HasMore)

	cursor, err := DecodeCursor(info.NextPageToken)
	require.NoError(t, err)
	assert.Equal(t, "2", cursor.ID)
}

func TestTrimLastPage(t *testing.T) {
	page, info, err := Trim([]int{1}, 2, func(v int) Cursor { return Cursor{} })
	require.NoError(t, err)
	assert.Equal(t, []int{1}, page)
	assert.False(t, info.HasMore)
	assert.Empty(t, info.NextPageToken)
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	_, err := DecodeCursor("!!not-base64")
	assert.ErrorIs(t, err, ErrInvalidPageToken)

	cursor, err := DecodeCursor("")
	assert.NoError(t, err)
	assert.Nil(t, cursor)
}
