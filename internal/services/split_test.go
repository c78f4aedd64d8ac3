package services

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountDataRowsExcludesHeaders(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "book.xlsx")
	writeWorkbook(t, src,
		testSheet{name: "A", rows: append([][]string{{"h1", "h2"}}, dataRows("a", 6)...)},
		testSheet{name: "B", rows: append([][]string{{"h1", "h2"}}, dataRows("b", 7)...)},
		testSheet{name: "Empty"},
	)

	s := NewSplitter(10)
	rc, err := s.CountDataRows(src)
	require.NoError(t, err)
	assert.Equal(t, 13, rc.TotalRows)
	assert.True(t, rc.NeedsSplit)
	assert.Equal(t, 2, rc.PartCount)
}

func TestCountDataRowsExactThresholdSinglePart(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "exact.xlsx")
	writeWorkbook(t, src,
		testSheet{name: "Sheet1", rows: append([][]string{{"h"}}, dataRows("r", 10)...)},
	)

	rc, err := NewSplitter(10).CountDataRows(src)
	require.NoError(t, err)
	assert.Equal(t, 10, rc.TotalRows)
	assert.False(t, rc.NeedsSplit)
	assert.Equal(t, 1, rc.PartCount)
}

func TestSplitConservesRowsAndBoundsParts(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "big.xlsx")
	original := dataRows("r", 25)
	writeWorkbook(t, src,
		testSheet{name: "Sheet1", rows: append([][]string{{"col1", "col2"}}, original...)},
	)

	s := NewSplitter(10)
	parts, err := s.Split(src, dir)
	require.NoError(t, err)
	require.Len(t, parts, 3)

	var collected [][]string
	for _, part := range parts {
		sheets := readWorkbook(t, part)
		require.Len(t, sheets, 1)
		rows := sheets["Sheet1"]
		require.NotEmpty(t, rows)
		assert.Equal(t, []string{"col1", "col2"}, rows[0], "header repeated per part")
		data := rows[1:]
		assert.LessOrEqual(t, len(data), 10)
		collected = append(collected, data...)
	}
	assert.Equal(t, original, collected, "no row duplicated, dropped, or altered")
	assert.Len(t, collected, 25)

	base := filepath.Join(dir, "split-files")
	assert.Equal(t, filepath.Join(base, "big_part1.xlsx"), parts[0])
	assert.Equal(t, filepath.Join(base, "big_part3.xlsx"), parts[2])
}

func TestSplitPreservesSheetGrouping(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "multi.xlsx")
	aRows := dataRows("a", 6)
	bRows := dataRows("b", 7)
	writeWorkbook(t, src,
		testSheet{name: "North", rows: append([][]string{{"hn1", "hn2"}}, aRows...)},
		testSheet{name: "South", rows: append([][]string{{"hs1", "hs2"}}, bRows...)},
	)

	parts, err := NewSplitter(10).Split(src, dir)
	require.NoError(t, err)
	require.Len(t, parts, 2)

	part1 := readWorkbook(t, parts[0])
	require.Len(t, part1, 2, "part 1 carries chunks of both sheets")
	assert.Equal(t, []string{"hn1", "hn2"}, part1["North"][0])
	assert.Equal(t, aRows, part1["North"][1:])
	assert.Equal(t, []string{"hs1", "hs2"}, part1["South"][0])
	assert.Equal(t, bRows[:4], part1["South"][1:])

	part2 := readWorkbook(t, parts[1])
	require.Len(t, part2, 1)
	assert.Equal(t, []string{"hs1", "hs2"}, part2["South"][0])
	assert.Equal(t, bRows[4:], part2["South"][1:])
}

func TestSplitGreedyPackingMayExceedEstimate(t *testing.T) {
	// Counting estimates ceil(total/max); packing never splits mid-row but a
	// part can close exactly at the limit regardless of sheet boundaries, so
	// for these shapes the estimate and the actual count agree.
	dir := t.TempDir()
	src := filepath.Join(dir, "sheets.xlsx")
	writeWorkbook(t, src,
		testSheet{name: "S1", rows: append([][]string{{"h"}}, dataRows("x", 9)...)},
		testSheet{name: "S2", rows: append([][]string{{"h"}}, dataRows("y", 9)...)},
		testSheet{name: "S3", rows: append([][]string{{"h"}}, dataRows("z", 9)...)},
	)

	s := NewSplitter(10)
	rc, err := s.CountDataRows(src)
	require.NoError(t, err)
	assert.Equal(t, 27, rc.TotalRows)
	assert.Equal(t, 3, rc.PartCount)

	parts, err := s.Split(src, dir)
	require.NoError(t, err)
	assert.Len(t, parts, 3)

	total := 0
	for _, part := range parts {
		for name, rows := range readWorkbook(t, part) {
			require.NotEmpty(t, rows, "sheet %s", name)
			require.LessOrEqual(t, len(rows)-1, 10)
			total += len(rows) - 1
		}
	}
	assert.Equal(t, 27, total)
}
