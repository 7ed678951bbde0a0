package storepath_test

import (
	"testing"

	"github.com/Enzime/hnix-store/pkg/storepath"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatParseRoundTrip(t *testing.T) {
	store := storepath.NewStore("/nix/store")

	var hash [storepath.HashSize]byte
	for i := range hash {
		hash[i] = byte(i)
	}

	p := storepath.Path{Hash: hash, Name: "hello-2.12"}

	formatted := store.Format(p)
	assert.Contains(t, formatted, "/nix/store/")
	assert.Contains(t, formatted, "-hello-2.12")

	got, err := store.Parse(formatted)
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestStoreDirTrailingSlashTrimmed(t *testing.T) {
	store := storepath.NewStore("/nix/store/")
	assert.Equal(t, "/nix/store", store.Dir)
}

func TestParseRejectsWrongStoreDir(t *testing.T) {
	store := storepath.NewStore("/nix/store")

	_, err := store.Parse("/somewhere/else/aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa-x")
	assert.Error(t, err)
}

func TestParseRejectsMissingSeparator(t *testing.T) {
	store := storepath.NewStore("/nix/store")

	_, err := store.Parse("/nix/store/noseparatorhere")
	assert.Error(t, err)
}

func TestParseRejectsEmptyName(t *testing.T) {
	store := storepath.NewStore("/nix/store")

	_, err := store.Parse("/nix/store/00000000000000000000000000000000-")
	assert.Error(t, err)
}

func TestHashPartRoundTrip(t *testing.T) {
	var hash [storepath.HashSize]byte
	hash[0] = 0xff

	p := storepath.Path{Hash: hash, Name: "x"}
	enc := p.HashPart()

	recovered, err := storepath.ParseHashPart(enc)
	require.NoError(t, err)
	assert.Equal(t, hash, recovered)
}
