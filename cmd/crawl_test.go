// File: cmd/crawl_test.go
package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digduck/collector/internal/crawler"
)

func TestBuildFilters(t *testing.T) {
	crawlMinRating = 4.0
	crawlInclude = []string{"배송"}
	crawlExclude = []string{"광고"}
	t.Cleanup(func() {
		crawlMinRating = 0
		crawlInclude = nil
		crawlExclude = nil
	})

	f := buildFilters()
	require.NotNil(t, f.MinRating)
	assert.Equal(t, 4.0, *f.MinRating)
	assert.Equal(t, []string{"배송"}, f.IncludeKeywords)
	assert.Equal(t, []string{"광고"}, f.ExcludeKeywords)
}

func TestBuildFiltersZeroRatingLeavesBoundUnset(t *testing.T) {
	crawlMinRating = 0
	f := buildFilters()
	assert.Nil(t, f.MinRating)
	assert.True(t, f.Empty())
}

func TestCredentialsFromFlags(t *testing.T) {
	t.Setenv("TEST_COLLECTOR_PW", "s3cret")

	creds, err := credentialsFromFlags("buyer01", "TEST_COLLECTOR_PW")
	require.NoError(t, err)
	assert.Equal(t, "buyer01", creds.ID)
	assert.Equal(t, "s3cret", creds.Password)

	_, err = credentialsFromFlags("", "TEST_COLLECTOR_PW")
	assert.Error(t, err, "login id is mandatory")

	_, err = credentialsFromFlags("buyer01", "TEST_COLLECTOR_PW_UNSET")
	assert.Error(t, err, "password must come from the environment")
}

func TestWriteItems(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.json")
	rating := 4.5
	items := []crawler.Item{{ID: "r1", Content: "좋아요", Rating: &rating, Page: 1}}

	require.NoError(t, writeItems(path, items))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"id": "r1"`)
	assert.Contains(t, string(data), `"rating": 4.5`)
}
