package playerdirectory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeInner struct {
	name string
	err  error
}

func (f *fakeInner) ResolveName(ctx context.Context, deviceID string) (string, error) {
	return f.name, f.err
}

func TestFallbackUsesInnerNameWhenAvailable(t *testing.T) {
	f := &Fallback{Inner: &fakeInner{name: "Alice"}}
	name, err := f.ResolveName(context.Background(), "device-1234")
	require.NoError(t, err)
	require.Equal(t, "Alice", name)
}

func TestFallbackGeneratesNameWhenInnerFails(t *testing.T) {
	f := &Fallback{Inner: &fakeInner{err: errors.New("boom")}}
	name, err := f.ResolveName(context.Background(), "device-1234")
	require.NoError(t, err)
	require.Equal(t, "Player_devi", name)
}

func TestFallbackGeneratesNameWhenNoInner(t *testing.T) {
	f := &Fallback{}
	name, err := f.ResolveName(context.Background(), "ab")
	require.NoError(t, err)
	require.Equal(t, "Player_ab", name)
}

func TestFallbackTreatsEmptyInnerNameAsMiss(t *testing.T) {
	f := &Fallback{Inner: &fakeInner{name: ""}}
	name, err := f.ResolveName(context.Background(), "device-xyz9")
	require.NoError(t, err)
	require.Equal(t, "Player_devi", name)
}
