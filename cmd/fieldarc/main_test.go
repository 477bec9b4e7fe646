package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/fieldarchive/codec/lzs"
	"github.com/meigma/fieldarchive/internal/testutil"
	"github.com/meigma/fieldarchive/section"
)

func fieldFile(t *testing.T, sections [][]byte) []byte {
	t.Helper()
	z, err := lzs.Codec{}.Compress(testutil.DatPayload(0x80100000, sections...))
	require.NoError(t, err)
	return testutil.Envelope(z)
}

func sampleDir(t *testing.T) (string, [][]byte) {
	t.Helper()
	dir := t.TempDir()
	sections := testutil.Sections(7, section.DatSections)
	testutil.WriteFile(t, dir, "MD1STIN.DAT", fieldFile(t, sections))
	testutil.WriteFile(t, dir, "MD1_1.DAT", fieldFile(t, testutil.Sections(8, section.DatSections)))
	return dir, sections
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestListJSON(t *testing.T) {
	t.Parallel()

	dir, _ := sampleDir(t)
	out, err := run(t, "list", dir, "-o", "json")
	require.NoError(t, err)

	dec := json.NewDecoder(bytes.NewReader([]byte(out)))
	var names []string
	for dec.More() {
		var info entryInfo
		require.NoError(t, dec.Decode(&info))
		assert.Positive(t, info.Stored)
		names = append(names, info.Name)
	}
	assert.Equal(t, []string{"md1_1", "md1stin"}, names)
}

func TestListTable(t *testing.T) {
	t.Parallel()

	dir, _ := sampleDir(t)
	out, err := run(t, "list", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "md1stin")
	assert.Contains(t, out, "Entry")
}

func TestListRejectsUnknownFormat(t *testing.T) {
	t.Parallel()

	dir, _ := sampleDir(t)
	_, err := run(t, "list", dir, "-o", "xml")
	require.Error(t, err)
}

func TestExtractSection(t *testing.T) {
	t.Parallel()

	dir, sections := sampleDir(t)
	out, err := run(t, "extract", dir, "MD1STIN", "-s", "2")
	require.NoError(t, err)
	assert.Equal(t, string(sections[2]), out)
}

func TestSetSectionThenVerify(t *testing.T) {
	t.Parallel()

	dir, _ := sampleDir(t)
	replacement := bytes.Repeat([]byte("walk"), 50)
	file := testutil.WriteFile(t, t.TempDir(), "walkmesh.bin", replacement)

	target := filepath.Join(t.TempDir(), "out")
	_, err := run(t, "set-section", dir, "md1stin", "4", file, "--target", target)
	require.NoError(t, err)

	out, err := run(t, "extract", target, "md1stin", "--section", "4")
	require.NoError(t, err)
	assert.Equal(t, string(replacement), out)

	out, err = run(t, "verify", target)
	require.NoError(t, err)
	assert.Contains(t, out, "2 entries, 0 failed")
}

func TestVerifyReportsFailures(t *testing.T) {
	t.Parallel()

	dir, _ := sampleDir(t)
	testutil.WriteFile(t, dir, "BROKEN.DAT", testutil.Envelope([]byte{0xFF, 0x01}))

	out, err := run(t, "verify", dir, "--workers", "1")
	require.ErrorIs(t, err, errVerifyFailed)
	assert.Contains(t, out, "broken")
	assert.Contains(t, out, "3 entries, 1 failed")
}
