// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package entityindex

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTable(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func fixtureSources(t *testing.T) Sources {
	t.Helper()
	dir := t.TempDir()
	return Sources{
		Entities: writeTable(t, dir, "entities.csv",
			"entity_id,component_id\ne1,c1\ne2,c1\ne3,c2\ne4,c3\n"),
		Components: writeTable(t, dir, "components.csv",
			"component_id,label\nc1,licit\nc2,suspicious\n"),
		Relationships: writeTable(t, dir, "relationships.csv",
			"src,dst,time_key\ne1,e2,10\ne2,e3,11\n"),
	}
}

func TestBuildAssignsDenseIndicesInFirstSeenOrder(t *testing.T) {
	result, err := NewBuilder(nil).Build(fixtureSources(t))
	require.NoError(t, err)

	ix := result.Index
	assert.Equal(t, 4, ix.N())

	for i, id := range []string{"e1", "e2", "e3", "e4"} {
		got, ok := ix.Lookup(id)
		require.True(t, ok, "entity %s missing", id)
		assert.Equal(t, i, got)
		assert.Equal(t, id, ix.IDOf(i))
	}
}

func TestBuildAttachesComponentLabels(t *testing.T) {
	result, err := NewBuilder(nil).Build(fixtureSources(t))
	require.NoError(t, err)

	ix := result.Index
	assert.Equal(t, LabelLicit, ix.LabelOf(0))
	assert.Equal(t, LabelLicit, ix.LabelOf(1))
	assert.Equal(t, LabelSuspicious, ix.LabelOf(2))
	// c3 has no label row.
	assert.Equal(t, LabelUnknown, ix.LabelOf(3))
	assert.Equal(t, 1, result.Unlabeled)

	counts := ix.LabelCounts()
	assert.Equal(t, 2, counts[LabelLicit])
	assert.Equal(t, 1, counts[LabelSuspicious])
	assert.Equal(t, 1, counts[LabelUnknown])
}

func TestBuildIsDeterministic(t *testing.T) {
	src := fixtureSources(t)

	first, err := NewBuilder(nil).Build(src)
	require.NoError(t, err)
	second, err := NewBuilder(nil).Build(src)
	require.NoError(t, err)

	assert.Equal(t, first.Index.IndexToID, second.Index.IndexToID)
	assert.Equal(t, first.Index.Labels, second.Index.Labels)
}

func TestBuildRejectsDuplicateEntity(t *testing.T) {
	src := fixtureSources(t)
	dir := t.TempDir()
	src.Entities = writeTable(t, dir, "entities.csv",
		"entity_id,component_id\ne1,c1\ne1,c2\n")

	_, err := NewBuilder(nil).Build(src)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateEntity)
}

func TestBuildRejectsUnknownRelationshipEndpoint(t *testing.T) {
	src := fixtureSources(t)
	dir := t.TempDir()
	src.Relationships = writeTable(t, dir, "relationships.csv",
		"src,dst,time_key\ne1,ghost,10\n")

	_, err := NewBuilder(nil).Build(src)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedReference)
}

func TestBuildRejectsNonNumericTimeKey(t *testing.T) {
	src := fixtureSources(t)
	dir := t.TempDir()
	src.Relationships = writeTable(t, dir, "relationships.csv",
		"src,dst,time_key\ne1,e2,soon\n")

	_, err := NewBuilder(nil).Build(src)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedReference)
}

func TestSaveLoadRoundtrip(t *testing.T) {
	result, err := NewBuilder(nil).Build(fixtureSources(t))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "index.json")
	require.NoError(t, result.Index.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, result.Index.N(), loaded.N())
	assert.Equal(t, result.Index.IndexToID, loaded.IndexToID)
	assert.Equal(t, result.Index.Labels, loaded.Labels)

	idx, ok := loaded.Lookup("e3")
	require.True(t, ok)
	assert.Equal(t, 2, idx)
}

func TestLoadRejectsCorruptIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.json")
	require.NoError(t, os.WriteFile(path, []byte("{\"version\":1"), 0600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestParseLabel(t *testing.T) {
	assert.Equal(t, LabelLicit, ParseLabel("licit"))
	assert.Equal(t, LabelSuspicious, ParseLabel("suspicious"))
	assert.Equal(t, LabelUnknown, ParseLabel("unknown"))
	assert.Equal(t, LabelUnknown, ParseLabel(""))
	assert.Equal(t, LabelUnknown, ParseLabel("something-else"))
}
