package pmtiles

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTileIDBasic(t *testing.T) {
	id, err := TileID(0, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), id)

	id, err = TileID(1, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)

	id, err = TileID(1, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), id)

	id, err = TileID(1, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), id)

	id, err = TileID(1, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), id)

	id, err = TileID(2, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), id)
}

func TestTileIDRejectsOutOfRange(t *testing.T) {
	_, err := TileID(MaxZoom+1, 0, 0)
	require.Error(t, err)
	assert.True(t, isCode(err, CodeInvalidArgument))

	_, err = TileID(2, 4, 0)
	require.Error(t, err)
	assert.True(t, isCode(err, CodeInvalidArgument))

	_, err = TileID(2, 0, 4)
	require.Error(t, err)
	assert.True(t, isCode(err, CodeInvalidArgument))
}

func TestTileCoordFromID(t *testing.T) {
	assert.Equal(t, TileCoord{Z: 0, X: 0, Y: 0}, TileCoordFromID(0))
	assert.Equal(t, TileCoord{Z: 1, X: 0, Y: 0}, TileCoordFromID(1))
	assert.Equal(t, TileCoord{Z: 12, X: 3423, Y: 1763}, TileCoordFromID(19078479))
}

func TestHilbertRoundTrip(t *testing.T) {
	for z := uint8(0); z < 10; z++ {
		dim := uint32(1) << z
		for x := uint32(0); x < dim; x++ {
			for y := uint32(0); y < dim; y++ {
				id, err := TileID(z, x, y)
				require.NoError(t, err)
				got := TileCoordFromID(id)
				assert.Equal(t, TileCoord{Z: z, X: x, Y: y}, got)
			}
		}
	}
}

func TestHilbertExtremes(t *testing.T) {
	for tz := uint8(0); tz < 28; tz++ {
		dim := uint32(1)<<tz - 1

		id, err := TileID(tz, 0, 0)
		require.NoError(t, err)
		assert.Equal(t, TileCoord{Z: tz, X: 0, Y: 0}, TileCoordFromID(id))

		id, err = TileID(tz, dim, 0)
		require.NoError(t, err)
		assert.Equal(t, TileCoord{Z: tz, X: dim, Y: 0}, TileCoordFromID(id))

		id, err = TileID(tz, 0, dim)
		require.NoError(t, err)
		assert.Equal(t, TileCoord{Z: tz, X: 0, Y: dim}, TileCoordFromID(id))

		id, err = TileID(tz, dim, dim)
		require.NoError(t, err)
		assert.Equal(t, TileCoord{Z: tz, X: dim, Y: dim}, TileCoordFromID(id))
	}
}

func TestParentTileID(t *testing.T) {
	id00, _ := TileID(0, 0, 0)
	id10, _ := TileID(1, 0, 0)
	assert.Equal(t, id00, ParentTileID(id10))

	id200, _ := TileID(2, 0, 0)
	id201, _ := TileID(2, 0, 1)
	id210, _ := TileID(2, 1, 0)
	id211, _ := TileID(2, 1, 1)
	assert.Equal(t, id10, ParentTileID(id200))
	assert.Equal(t, id10, ParentTileID(id201))
	assert.Equal(t, id10, ParentTileID(id210))
	assert.Equal(t, id10, ParentTileID(id211))
}
