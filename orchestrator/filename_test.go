package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "TestStream", SanitizeName("Test Stream!"))
	assert.Equal(t, "abc123", SanitizeName("a-b_c/1.2.3"))
	assert.Equal(t, "", SanitizeName("ストリーム"))
}

func TestFileTimestamp(t *testing.T) {
	ts := time.Date(2024, 3, 5, 7, 8, 9, 123_000_000, time.FixedZone("X", 3600))
	assert.Equal(t, "2024-03-05T06-08-09-123Z", FileTimestamp(ts))
}

func TestRenderFilename(t *testing.T) {
	now := time.Date(2024, 3, 5, 7, 8, 9, 0, time.UTC)

	name, err := RenderFilename(DefaultFilenameTemplate, NewFilenameData("Test Stream", "live", "stream", now), "mp4")
	require.NoError(t, err)
	assert.Equal(t, "KickClient_TestStream_2024-03-05T07-08-09-000Z.mp4", name)

	name, err = RenderFilename(DefaultFilenameTemplate, NewFilenameData("!!!", "vod", "vod", now), "mp4")
	require.NoError(t, err)
	assert.Equal(t, "KickClient_vod_2024-03-05T07-08-09-000Z.mp4", name)

	name, err = RenderFilename("{{.Kind}}-{{.Name}}-{{.Time.Year}}{{.Time.Month}}", NewFilenameData("x", "live", "", now), "mp4")
	require.NoError(t, err)
	assert.Equal(t, "live-x-202403.mp4", name)

	name, err = RenderFilename("{{.Kind}}_{{.Name}}-{{.Time.Year}}{{.Time.Month}}{{.Time.Day}}", NewFilenameData("x", "live", "", now), "mp4")
	require.NoError(t, err)
	assert.Equal(t, "live_x-20240305.mp4", name)

	_, err = RenderFilename("{{.Kind}}/{{.Name}}", NewFilenameData("x", "live", "", now), "mp4")
	assert.Error(t, err)

	_, err = RenderFilename("../{{.Name}}", NewFilenameData("x", "live", "", now), "mp4")
	assert.Error(t, err)
	_, err = RenderFilename("{{.Nope}}", NewFilenameData("x", "live", "", now), "mp4")
	assert.Error(t, err)
	_, err = RenderFilename("{{", NewFilenameData("x", "live", "", now), "mp4")
	assert.Error(t, err)
}
