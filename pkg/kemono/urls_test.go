package kemono

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCreatorURL(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    CreatorRef
		wantErr bool
	}{
		{
			name: "web page",
			raw:  "https://kemono.su/patreon/user/12345",
			want: CreatorRef{Source: "kemono", BaseURL: "https://kemono.su", Service: "patreon", ID: "12345"},
		},
		{
			name: "api listing with offset",
			raw:  "https://coomer.su/api/v1/onlyfans/user/alice?o=50",
			want: CreatorRef{Source: "coomer", BaseURL: "https://coomer.su", Service: "onlyfans", ID: "alice"},
		},
		{
			name: "post page",
			raw:  "https://kemono.su/fanbox/user/9/post/77",
			want: CreatorRef{Source: "kemono", BaseURL: "https://kemono.su", Service: "fanbox", ID: "9"},
		},
		{name: "no user segment", raw: "https://kemono.su/patreon/12345", wantErr: true},
		{name: "too short", raw: "https://kemono.su/patreon", wantErr: true},
		{name: "no host", raw: "/patreon/user/1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCreatorURL(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseCreatorRef(t *testing.T) {
	ref, err := ParseCreatorRef("Patreon:123")
	require.NoError(t, err)
	assert.Equal(t, "patreon:123", ref.Creator().Key())

	ref, err = ParseCreatorRef("https://kemono.su/discord/server/1")
	assert.Error(t, err)
	assert.Empty(t, ref.ID)

	for _, bad := range []string{"", "patreon", ":1", "patreon:", "patreon:1/2"} {
		_, err := ParseCreatorRef(bad)
		assert.Error(t, err, bad)
	}
}

func TestEndpointURLs(t *testing.T) {
	assert.Equal(t, "https://kemono.su/api/v1/patreon/user/1?o=100", ListingURL("https://kemono.su/", "patreon", "1", 100))
	assert.Equal(t, "https://kemono.su/api/v1/discord/channel/55?skip=10", ChannelURL("https://kemono.su", "55", 10))
	assert.Equal(t, "https://kemono.su/api/v1/account/favorites?type=artist", FavoritesURL("https://kemono.su"))
	assert.Equal(t, "https://kemono.su/api/v1/fanbox/user/9/profile", ProfileURL("https://kemono.su", "fanbox", "9"))
	assert.Equal(t, "https://kemono.su/ab/cd.png", FileURL("https://kemono.su", "/ab/cd.png"))

	alt, ok := swapHost("https://kemono.su/ab/cd.png?f=x", "https://kemono.su", "https://kemono.party")
	require.True(t, ok)
	assert.Equal(t, "https://kemono.party/ab/cd.png?f=x", alt)

	_, ok = swapHost("https://elsewhere.net/x", "https://kemono.su", "https://kemono.party")
	assert.False(t, ok)
}
