package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupUnknown(t *testing.T) {
	_, ok := Lookup("no-such-list", UserTypePublic)
	assert.False(t, ok)
}

func TestProfileAccessLevelsAreRoleMonotonic(t *testing.T) {
	public, ok := Lookup("profile-access-levels", UserTypePublic)
	require.True(t, ok)
	agency, ok := Lookup("profile-access-levels", UserTypeAgency)
	require.True(t, ok)

	assert.Len(t, public, 3)
	assert.Len(t, agency, 4)

	// agency must see a superset of what public sees
	seen := map[string]bool{}
	for _, o := range agency {
		seen[o.Value] = true
	}
	for _, o := range public {
		assert.True(t, seen[o.Value], "option %s visible to public but not agency", o.Value)
	}
}

func TestRanksPreserved(t *testing.T) {
	agency, _ := Lookup("profile-access-levels", UserTypeAgency)
	for i, o := range agency {
		require.NotNil(t, o.Rank)
		assert.Equal(t, i+1, *o.Rank)
	}
}
