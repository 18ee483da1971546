package upload

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit(t *testing.T) {
	cases := []struct {
		name       string
		totalSize  int64
		chunkSize  int64
		wantRanges [][2]int64
	}{
		{
			name:       "empty file still yields one chunk",
			totalSize:  0,
			chunkSize:  100,
			wantRanges: [][2]int64{{0, 0}},
		},
		{
			name:       "smaller than chunk size",
			totalSize:  80,
			chunkSize:  100,
			wantRanges: [][2]int64{{0, 80}},
		},
		{
			name:       "exact multiple",
			totalSize:  20,
			chunkSize:  10,
			wantRanges: [][2]int64{{0, 10}, {10, 20}},
		},
		{
			name:       "trailing remainder",
			totalSize:  25,
			chunkSize:  10,
			wantRanges: [][2]int64{{0, 10}, {10, 20}, {20, 25}},
		},
		{
			name:      "12 MB file with 5 MB chunks",
			totalSize: 12_000_000,
			chunkSize: 5_000_000,
			wantRanges: [][2]int64{
				{0, 5_000_000},
				{5_000_000, 10_000_000},
				{10_000_000, 12_000_000},
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			chunks, err := Split(tc.totalSize, tc.chunkSize)
			require.NoError(t, err)
			require.Len(t, chunks, len(tc.wantRanges))

			for i, c := range chunks {
				assert.Equal(t, i+1, c.Index, "indices are 1-based and contiguous")
				assert.Equal(t, tc.wantRanges[i][0], c.StartByte)
				assert.Equal(t, tc.wantRanges[i][1], c.EndByte)
				assert.Equal(t, ChunkPending, c.Status)
				assert.Equal(t, 0, c.Attempt)
			}
		})
	}
}

func TestSplit_InvalidInput(t *testing.T) {
	_, err := Split(100, 0)
	require.Error(t, err)

	_, err = Split(100, -5)
	require.Error(t, err)

	_, err = Split(-1, 10)
	require.Error(t, err)
}

func TestSplit_PartitionProperties(t *testing.T) {
	totalSizes := []int64{0, 1, 9, 10, 11, 99, 100, 101, 4096, 1_000_003}
	chunkSizes := []int64{1, 7, 10, 64, 1024}

	for _, totalSize := range totalSizes {
		for _, chunkSize := range chunkSizes {
			chunks, err := Split(totalSize, chunkSize)
			require.NoError(t, err)

			effective := totalSize
			if effective < 1 {
				effective = 1
			}
			wantCount := int((effective + chunkSize - 1) / chunkSize)
			require.Len(t, chunks, wantCount, "size=%d chunk=%d", totalSize, chunkSize)

			var covered int64
			prevEnd := int64(0)
			for _, c := range chunks {
				require.Equal(t, prevEnd, c.StartByte, "ranges must be contiguous without gaps")
				require.LessOrEqual(t, c.Size(), chunkSize)
				covered += c.Size()
				prevEnd = c.EndByte
			}
			require.Equal(t, totalSize, covered, "ranges must cover the input exactly")
			require.Equal(t, totalSize, prevEnd)
		}
	}
}
