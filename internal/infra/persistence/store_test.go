package persistence

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUnconfiguredStore(t *testing.T) {
	var nilStore *Store
	require.Nil(t, nilStore.Pool())
	require.Error(t, nilStore.Ping(context.Background()))
	nilStore.Close()

	empty := NewStore(nil)
	require.Nil(t, empty.Pool())
	require.Error(t, empty.Ping(context.Background()))
	empty.Close()
}
