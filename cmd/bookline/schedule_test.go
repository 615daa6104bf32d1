package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseRanges(t *testing.T) {
	got, err := parseRanges([]string{"09:00-12:00", " 14:00-15:30 "})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "09:00", got[0].Start)
	require.Equal(t, "15:30", got[1].End)

	_, err = parseRanges([]string{"0900"})
	require.Error(t, err)
}
