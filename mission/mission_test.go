package mission

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validMission = `canonical_full_name: Europa Clipper
canonical_short_name: Europa Clipper
description: Orbiter studying the habitability of Europa.
status: Active
award_ids:
  - CONT_AWD_NNN12AA01C_8000
  - CONT_AWD_80GSFC18C0008_8000
`

func writeMission(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Valid(t *testing.T) {
	path := writeMission(t, t.TempDir(), "europa-clipper.yaml", validMission)

	m, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Europa Clipper", m.Name())
	assert.Equal(t, "europa_clipper", m.ID())
	assert.Len(t, m.AwardIDs, 2)
	assert.Equal(t, path, m.Path())
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := writeMission(t, t.TempDir(), "bad.yaml", "canonical_full_name: [unclosed")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad.yaml")
}

func TestLoad_MissingShortName(t *testing.T) {
	path := writeMission(t, t.TempDir(), "anon.yaml", "canonical_full_name: Mystery Mission\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "canonical_short_name")
}

func TestMissionID_Slug(t *testing.T) {
	tests := []struct {
		short string
		want  string
	}{
		{"Europa Clipper", "europa_clipper"},
		{"OSIRIS-REx", "osiris_rex"},
		{"JWST", "jwst"},
		{"  Mars 2020  ", "mars_2020"},
	}
	for _, tt := range tests {
		m := Mission{CanonicalShortName: tt.short}
		assert.Equal(t, tt.want, m.ID(), "short name %q", tt.short)
	}
}

func TestDiscover_FindsNestedMissionFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "planetary"), 0o755))
	writeMission(t, dir, "europa-clipper.yaml", validMission)
	writeMission(t, filepath.Join(dir, "planetary"), "psyche.yml", validMission)
	writeMission(t, dir, "notes.txt", "not a mission")

	files, err := Discover(dir, "")
	require.NoError(t, err)
	require.Len(t, files, 2)
}

func TestLoadAll_SkipsBadFiles(t *testing.T) {
	dir := t.TempDir()
	writeMission(t, dir, "good.yaml", validMission)
	writeMission(t, dir, "bad.yaml", "canonical_full_name: Incomplete\n")

	missions, err := LoadAll(dir, "", nil)
	require.NoError(t, err)
	require.Len(t, missions, 1)
	assert.Equal(t, "europa_clipper", missions[0].ID())
}

func TestLoadAll_SingleFile(t *testing.T) {
	path := writeMission(t, t.TempDir(), "europa-clipper.yaml", validMission)

	missions, err := LoadAll(path, "", nil)
	require.NoError(t, err)
	require.Len(t, missions, 1)
}
