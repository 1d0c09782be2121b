package catalog

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStripBrandTokensRemovesProviderName(t *testing.T) {
	tokens := BrandTokensFor("PeakErr")

	require.Equal(t, "Instagram Followers", StripBrandTokens("PeakErr Instagram Followers", tokens))
	require.Equal(t, "Instagram Followers", StripBrandTokens("Instagram Followers - peakerr", tokens))
	require.Equal(t, "Instagram Followers", StripBrandTokens("Instagram peakerr Followers", tokens))
}

func TestStripBrandTokensIsCaseInsensitive(t *testing.T) {
	tokens := []string{"boostgram"}

	require.Equal(t, "TikTok Views", StripBrandTokens("BOOSTGRAM TikTok Views", tokens))
	require.Equal(t, "TikTok Views", StripBrandTokens("BoostGram TikTok Views", tokens))
}

func TestStripBrandTokensKeepsPartialWords(t *testing.T) {
	// "smm" inside another word must not be touched; matching is
	// word-bounded.
	tokens := []string{"smmkings"}

	require.Equal(t, "smmkingsdeluxe package", StripBrandTokens("smmkingsdeluxe package", tokens))
}

func TestStripBrandTokensIgnoresShortTokens(t *testing.T) {
	// Two-character tokens would shred category markers like "IG".
	tokens := BrandTokensFor("IG")

	require.Equal(t, "IG Story Views", StripBrandTokens("IG Story Views", tokens))
}

func TestStripBrandTokensCollapsesSeparators(t *testing.T) {
	tokens := []string{"smmflare"}

	require.Equal(t, "YouTube Likes", StripBrandTokens("smmflare | YouTube Likes", tokens))
	require.Equal(t, "YouTube Likes", StripBrandTokens("smmflare - YouTube   Likes", tokens))
	require.Equal(t, "YouTube Likes", StripBrandTokens("smmflare: YouTube Likes", tokens))
}

func TestStripBrandTokensFallsBackWhenEmpty(t *testing.T) {
	// A name that is nothing but a brand token stays as-is: an empty
	// display name would be worse.
	tokens := []string{"followersup"}

	require.Equal(t, "FollowersUp", StripBrandTokens("FollowersUp", tokens))
	require.Equal(t, "", StripBrandTokens("   ", tokens))
}

func TestStripBrandTokensMultiWordToken(t *testing.T) {
	tokens := []string{"smm panel"}

	require.Equal(t, "Best Telegram Members", StripBrandTokens("Best SMM Panel Telegram Members", tokens))
}

func TestBrandTokensForVariants(t *testing.T) {
	tokens := BrandTokensFor("Boost Gram")

	require.Contains(t, tokens, "Boost Gram")
	require.Contains(t, tokens, "BoostGram")
	require.Contains(t, tokens, "Boost-Gram")
}
