package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParsePartitions(t *testing.T) {
	all, err := parsePartitions("", 3)
	require.NoError(t, err)
	require.Equal(t, []int{0, 1, 2}, all)

	some, err := parsePartitions("2, 0", 6)
	require.NoError(t, err)
	require.Equal(t, []int{2, 0}, some)

	_, err = parsePartitions("6", 6)
	require.Error(t, err)
	_, err = parsePartitions("x", 6)
	require.Error(t, err)
}
