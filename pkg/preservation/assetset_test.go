package preservation_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-preservation/pkg/preservation"
)

func newResolver(t *testing.T, files ...string) *preservation.AssetSetResolver {
	t.Helper()
	f := newFixture(t, files...)
	return preservation.NewAssetSetResolver(preservation.Stores{"sceti": f.source})
}

func TestLocateStorage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "a.tif", "b.tif")
	f.put(t, "book/scans/c.tif", "nested scan")
	f.put(t, "other/a.tif", "another a")
	stores := preservation.Stores{"sceti": f.source}

	t.Run("only files directly below the path", func(t *testing.T) {
		loc := preservation.LocateStorage(ctx, stores, "sceti", []string{"/book"})
		require.True(t, loc.Valid(), "%v", loc.Errors())
		assert.Equal(t, []string{"a.tif", "b.tif"}, loc.Filenames())
		assert.False(t, loc.Has("c.tif"))
		assert.False(t, loc.Has("scans/c.tif"))
	})

	t.Run("duplicate filename across paths", func(t *testing.T) {
		loc := preservation.LocateStorage(ctx, stores, "sceti", []string{"book", "other"})
		assert.False(t, loc.Valid())
		assert.Equal(t, []string{"duplicate filename a.tif found in storage at book/a.tif, other/a.tif"}, loc.Errors())
	})
}

func TestResolveShapesAreEquivalent(t *testing.T) {
	ctx := context.Background()
	resolver := newResolver(t, "a.tif", "b.tif", "c.tif")

	inputs := map[string]*preservation.AssetSetInput{
		"lists": {
			Storage:    "sceti",
			Path:       preservation.StringList{"book"},
			Arranged:   []preservation.AssetInput{{Filename: "a.tif"}, {Filename: "b.tif"}},
			Unarranged: []preservation.AssetInput{{Filename: "c.tif"}},
		},
		"filenames": {
			Storage:             "sceti",
			Path:                preservation.StringList{"book"},
			ArrangedFilenames:   ptr("a.tif; b.tif"),
			UnarrangedFilenames: ptr(" c.tif ;"),
		},
		"spreadsheet": {
			Storage: "sceti",
			Path:    preservation.StringList{"book"},
			Spreadsheet: []preservation.AssetInput{
				{Filename: "b.tif", Sequence: "2"},
				{Filename: "c.tif"},
				{Filename: "a.tif", Sequence: "1"},
			},
		},
		"csv": {
			Storage: "sceti",
			Path:    preservation.StringList{"book"},
			CSV: []preservation.AssetInput{
				{Filename: "a.tif", Sequence: "1"},
				{Filename: "c.tif"},
				{Filename: "b.tif", Sequence: "2"},
			},
		},
	}

	want, err := resolver.Resolve(ctx, inputs["lists"], preservation.ResolveStandard)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.tif", "b.tif", "c.tif"}, want.Filenames())
	assert.Empty(t, want.Unlocated())

	for name, in := range inputs {
		t.Run(name, func(t *testing.T) {
			got, err := resolver.Resolve(ctx, in, preservation.ResolveStandard)
			require.NoError(t, err)
			assert.Equal(t, want.Arranged, got.Arranged)
			assert.Equal(t, want.Unarranged, got.Unarranged)
		})
	}
}

func TestResolveLocatesFiles(t *testing.T) {
	resolver := newResolver(t, "a.tif")

	set, err := resolver.Resolve(context.Background(), &preservation.AssetSetInput{
		Storage:           "sceti",
		Path:              preservation.StringList{"/book"},
		ArrangedFilenames: ptr("a.tif; b.tif"),
	}, preservation.ResolveStandard)
	require.NoError(t, err)

	d, ok := set.Descriptor("a.tif")
	require.True(t, ok)
	assert.Equal(t, &preservation.FileRef{Storage: "sceti", Key: "book/a.tif"}, d.FileLocation)
	assert.Equal(t, []string{"b.tif"}, set.Unlocated())
}

func TestResolveSequenceOrdering(t *testing.T) {
	rows := []preservation.AssetInput{
		{Filename: "nine.tif", Sequence: "9", Path: "book/nine.tif", Checksum: sha("scan of nine.tif")},
		{Filename: "ten.tif", Sequence: "10", Path: "book/ten.tif", Checksum: sha("scan of ten.tif")},
	}
	resolver := newResolver(t, "nine.tif", "ten.tif")

	t.Run("standard compares as strings", func(t *testing.T) {
		set, err := resolver.Resolve(context.Background(), &preservation.AssetSetInput{
			Storage:     "sceti",
			Path:        preservation.StringList{"book"},
			Spreadsheet: rows,
		}, preservation.ResolveStandard)
		require.NoError(t, err)
		assert.Equal(t, []string{"ten.tif", "nine.tif"}, set.Filenames())
	})

	t.Run("migration compares as numbers", func(t *testing.T) {
		set, err := resolver.Resolve(context.Background(), &preservation.AssetSetInput{
			Storage:     "sceti",
			Spreadsheet: rows,
		}, preservation.ResolveMigration)
		require.NoError(t, err)
		assert.Equal(t, []string{"nine.tif", "ten.tif"}, set.Filenames())
		assert.Equal(t, sha("scan of nine.tif"), set.Arranged[0].ExpectedChecksum)
	})
}

func TestResolveMigrationSkipAssets(t *testing.T) {
	resolver := newResolver(t, "a.tif")

	set, err := resolver.Resolve(context.Background(), &preservation.AssetSetInput{
		Storage: "sceti",
		Arranged: []preservation.AssetInput{
			{Filename: "a.tif", Path: "book/a.tif", Checksum: "ABC"},
			{Filename: "gone.tif", Path: "book/gone.tif", Checksum: "def"},
		},
		SkipAssets: []string{"gone.tif"},
	}, preservation.ResolveMigration)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.tif"}, set.Filenames())
	assert.Equal(t, "abc", set.Arranged[0].ExpectedChecksum)
}

func TestResolveErrors(t *testing.T) {
	tests := []struct {
		name string
		in   *preservation.AssetSetInput
		mode preservation.ResolveMode
		want []string
	}{
		{
			name: "nothing described",
			in:   &preservation.AssetSetInput{Storage: "sceti"},
			want: []string{"assets must be described with one of arranged/unarranged, arranged_filenames/unarranged_filenames or spreadsheet"},
		},
		{
			name: "two shapes",
			in: &preservation.AssetSetInput{
				Arranged:          []preservation.AssetInput{{Filename: "a.tif"}},
				ArrangedFilenames: ptr("a.tif"),
			},
			want: []string{"assets may only be described in one way, found arranged/unarranged and arranged_filenames/unarranged_filenames"},
		},
		{
			name: "skip outside migration",
			in: &preservation.AssetSetInput{
				ArrangedFilenames: ptr("a.tif"),
				SkipAssets:        []string{"a.tif"},
			},
			want: []string{"skip_assets is only supported for migrations"},
		},
		{
			name: "missing filename and duplicate",
			in: &preservation.AssetSetInput{
				Arranged:   []preservation.AssetInput{{Filename: "a.tif"}, {Label: "blank"}},
				Unarranged: []preservation.AssetInput{{Filename: "a.tif"}},
			},
			want: []string{"arranged asset 2 is missing a filename", "duplicate filename a.tif in assets"},
		},
		{
			name: "unknown storage",
			in: &preservation.AssetSetInput{
				Storage:           "nowhere",
				Path:              preservation.StringList{"book"},
				ArrangedFilenames: ptr("a.tif"),
			},
			want: []string{`storage "nowhere" is not configured`},
		},
		{
			name: "missing path",
			in: &preservation.AssetSetInput{
				Storage:           "sceti",
				Path:              preservation.StringList{"book", "pamphlet"},
				ArrangedFilenames: ptr("a.tif"),
			},
			want: []string{`path "pamphlet" does not exist in storage "sceti"`},
		},
		{
			name: "migration entry incomplete",
			in: &preservation.AssetSetInput{
				Storage:  "sceti",
				Arranged: []preservation.AssetInput{{Filename: "a.tif", Path: "book/a.tif"}},
			},
			mode: preservation.ResolveMigration,
			want: []string{"a.tif: migration assets require filename, path and checksum"},
		},
		{
			name: "migration path not stored",
			in: &preservation.AssetSetInput{
				Storage:  "sceti",
				Arranged: []preservation.AssetInput{{Filename: "z.tif", Path: "book/z.tif", Checksum: "abc"}},
			},
			mode: preservation.ResolveMigration,
			want: []string{`z.tif: path book/z.tif not found in storage "sceti"`},
		},
		{
			name: "migration without storage",
			in: &preservation.AssetSetInput{
				Arranged: []preservation.AssetInput{{Filename: "a.tif", Path: "book/a.tif", Checksum: "abc"}},
			},
			mode: preservation.ResolveMigration,
			want: []string{"storage is required for migrations"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolver := newResolver(t, "a.tif")
			_, err := resolver.Resolve(context.Background(), tt.in, tt.mode)
			require.ErrorIs(t, err, preservation.ErrValidation)

			var verr *preservation.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.want, verr.Errors)
		})
	}
}
