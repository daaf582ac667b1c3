package cookies

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	assert.Equal(t, "a=1; b=3", Normalize(" a=1;b=2; junk ; =x; b=3 "))
	assert.Equal(t, "", Normalize(""))
}

func TestLoad_Inline(t *testing.T) {
	got, err := Load("session=abc; cf=xyz", "kick.com")
	require.NoError(t, err)
	assert.Equal(t, "session=abc; cf=xyz", got)
}

func TestLoad_HeaderFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "cookies")
	require.NoError(t, os.WriteFile(p, []byte("session=abc; cf=xyz\n"), 0o600))

	got, err := Load(FilePrefix+p, "kick.com")
	require.NoError(t, err)
	assert.Equal(t, "session=abc; cf=xyz", got)
}

func TestLoad_Netscape(t *testing.T) {
	body := "# Netscape HTTP Cookie File\n" +
		".kick.com\tTRUE\t/\tTRUE\t0\tsession\tabc\n" +
		"#HttpOnly_kick.com\tFALSE\t/\tTRUE\t0\tcf_clearance\txyz\n" +
		".example.com\tTRUE\t/\tFALSE\t0\tother\tnope\n" +
		"malformed line\n"
	p := filepath.Join(t.TempDir(), "cookies.txt")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))

	got, err := Load(FilePrefix+p, "kick.com")
	require.NoError(t, err)
	assert.Equal(t, "session=abc; cf_clearance=xyz", got)

	all, err := Load(FilePrefix+p, "")
	require.NoError(t, err)
	assert.Contains(t, all, "other=nope")
}

func TestLoad_FileErrors(t *testing.T) {
	_, err := Load(FilePrefix+filepath.Join(t.TempDir(), "missing"), "")
	assert.Error(t, err)

	p := filepath.Join(t.TempDir(), "empty")
	require.NoError(t, os.WriteFile(p, nil, 0o600))
	_, err = Load(FilePrefix+p, "")
	assert.Error(t, err)
}
