package source

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpecValidate(t *testing.T) {
	tests := []struct {
		name    string
		spec    Spec
		wantErr bool
	}{
		{"git only", Spec{Git: &GitSpec{URL: "https://example.com/a.git"}}, false},
		{"path only", Spec{Path: &PathSpec{Path: "./pkg"}}, false},
		{"url only", Spec{URL: &URLSpec{URL: "https://example.com/a.tar.gz"}}, false},
		{"empty", Spec{}, true},
		{"two variants", Spec{Git: &GitSpec{URL: "x"}, Path: &PathSpec{Path: "y"}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPinnedIdentityAsymmetry(t *testing.T) {
	gitPin := Pinned{Git: &PinnedGit{URL: "https://example.com/a.git", Commit: "0123456789abcdef0123456789abcdef01234567"}}
	urlPin := Pinned{URL: &PinnedURL{URL: "https://example.com/a.tar.gz", Blake3: "deadbeef"}}
	pathPin := Pinned{Path: &PinnedPath{Path: "/home/dev/a"}}

	assert.True(t, gitPin.Immutable())
	assert.True(t, urlPin.Immutable())
	assert.False(t, pathPin.Immutable())

	// Identities are distinct across variants and stable per pin.
	ids := map[string]bool{}
	for _, p := range []Pinned{gitPin, urlPin, pathPin} {
		id := p.Identity()
		assert.NotEmpty(t, id)
		assert.False(t, ids[id], "identity %q not unique", id)
		ids[id] = true
	}
}

func TestLazyCheckoutFetchesOnce(t *testing.T) {
	pin := Pinned{Git: &PinnedGit{URL: "https://example.com/a.git", Commit: "abc"}}
	calls := 0
	lazy := NewLazyCheckout(pin, func(ctx context.Context) (Checkout, error) {
		calls++
		return Checkout{Path: "/tmp/a", Pinned: pin}, nil
	})

	// Pin is available before any fetch.
	assert.Equal(t, pin, lazy.Pinned())
	assert.Equal(t, 0, calls)

	for i := 0; i < 3; i++ {
		out, err := lazy.Get(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "/tmp/a", out.Path)
	}
	assert.Equal(t, 1, calls)
}

func TestLazyCheckoutRetriesAfterError(t *testing.T) {
	pin := Pinned{Path: &PinnedPath{Path: "/src"}}
	calls := 0
	lazy := NewLazyCheckout(pin, func(ctx context.Context) (Checkout, error) {
		calls++
		if calls == 1 {
			return Checkout{}, errors.New("network down")
		}
		return Checkout{Path: "/src", Pinned: pin}, nil
	})

	_, err := lazy.Get(context.Background())
	assert.Error(t, err)

	out, err := lazy.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/src", out.Path)
	assert.Equal(t, 2, calls)
}

func TestEagerCheckout(t *testing.T) {
	pin := Pinned{Path: &PinnedPath{Path: "/src"}}
	lazy := Eager(Checkout{Path: "/src", Pinned: pin})

	out, err := lazy.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/src", out.Path)
}
