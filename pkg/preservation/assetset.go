package preservation

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
)

// AssetInput is one raw asset entry of an import request.
type AssetInput struct {
	Filename       string          `json:"filename"`
	Label          string          `json:"label,omitempty"`
	Annotations    []Annotation    `json:"annotations,omitempty"`
	Transcriptions []Transcription `json:"transcriptions,omitempty"`
	Sequence       Sequence        `json:"sequence,omitempty"`

	// Migration manifests only
	Path     string `json:"path,omitempty"`
	Checksum string `json:"checksum,omitempty"`
}

// Sequence is a spreadsheet ordering key. JSON numbers and strings are both
// accepted.
type Sequence string

func (s *Sequence) UnmarshalJSON(b []byte) error {
	raw := strings.TrimSpace(string(b))
	switch {
	case raw == "null":
		*s = ""
	case strings.HasPrefix(raw, `"`):
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*s = Sequence(strings.TrimSpace(str))
	default:
		*s = Sequence(raw)
	}
	return nil
}

// StringList accepts either a single JSON string or a list of strings.
type StringList []string

func (l *StringList) UnmarshalJSON(b []byte) error {
	var single string
	if err := json.Unmarshal(b, &single); err == nil {
		if single == "" {
			*l = nil
		} else {
			*l = StringList{single}
		}
		return nil
	}
	var list []string
	if err := json.Unmarshal(b, &list); err != nil {
		return err
	}
	*l = list
	return nil
}

// AssetSetInput is the raw asset description of an import request. Exactly
// one shape may be used per request; a key counts as present when it was
// supplied at all, even empty.
type AssetSetInput struct {
	Storage string     `json:"storage,omitempty"`
	Path    StringList `json:"path,omitempty"`

	Arranged   []AssetInput `json:"arranged,omitempty"`
	Unarranged []AssetInput `json:"unarranged,omitempty"`

	ArrangedFilenames   *string `json:"arranged_filenames,omitempty"`
	UnarrangedFilenames *string `json:"unarranged_filenames,omitempty"`

	Spreadsheet []AssetInput `json:"spreadsheet,omitempty"`
	CSV         []AssetInput `json:"csv,omitempty"`

	// SkipAssets removes filenames from a migration before validation.
	SkipAssets []string `json:"skip_assets,omitempty"`
}

type assetShape string

const (
	shapeLists       assetShape = "arranged/unarranged"
	shapeFilenames   assetShape = "arranged_filenames/unarranged_filenames"
	shapeSpreadsheet assetShape = "spreadsheet"
)

func (in *AssetSetInput) shapes() []assetShape {
	var shapes []assetShape
	if in.Arranged != nil || in.Unarranged != nil {
		shapes = append(shapes, shapeLists)
	}
	if in.ArrangedFilenames != nil || in.UnarrangedFilenames != nil {
		shapes = append(shapes, shapeFilenames)
	}
	if in.Spreadsheet != nil || in.CSV != nil {
		shapes = append(shapes, shapeSpreadsheet)
	}
	return shapes
}

// AssetSet is the normalized, validated asset list of one request.
type AssetSet struct {
	Arranged   []AssetDescriptor
	Unarranged []AssetDescriptor
	Location   *StorageLocation
}

// All returns arranged descriptors followed by unarranged ones.
func (s *AssetSet) All() []AssetDescriptor {
	all := make([]AssetDescriptor, 0, len(s.Arranged)+len(s.Unarranged))
	all = append(all, s.Arranged...)
	return append(all, s.Unarranged...)
}

// Filenames returns every filename in the set, arranged first.
func (s *AssetSet) Filenames() []string {
	var names []string
	for _, d := range s.All() {
		names = append(names, d.Filename)
	}
	return names
}

// Descriptor returns the descriptor for filename.
func (s *AssetSet) Descriptor(filename string) (AssetDescriptor, bool) {
	for _, d := range s.All() {
		if d.Filename == filename {
			return d, true
		}
	}
	return AssetDescriptor{}, false
}

// Unlocated returns the filenames that did not resolve to a stored file.
func (s *AssetSet) Unlocated() []string {
	var missing []string
	for _, d := range s.All() {
		if d.FileLocation == nil {
			missing = append(missing, d.Filename)
		}
	}
	return missing
}

// ResolveMode selects how raw entries are interpreted.
type ResolveMode int

const (
	// ResolveStandard locates files through a storage name and path prefixes.
	ResolveStandard ResolveMode = iota
	// ResolveMigration expects explicit storage keys and checksums per entry.
	ResolveMigration
)

// AssetSetResolver normalizes raw asset descriptions into an AssetSet.
type AssetSetResolver struct {
	stores Stores
}

// NewAssetSetResolver creates a resolver looking files up in stores.
func NewAssetSetResolver(stores Stores) *AssetSetResolver {
	return &AssetSetResolver{stores: stores}
}

// Resolve validates in and returns its AssetSet. Every problem found is
// reported in a single *ValidationError.
func (r *AssetSetResolver) Resolve(ctx context.Context, in *AssetSetInput, mode ResolveMode) (*AssetSet, error) {
	if in == nil {
		return nil, NewValidationError([]string{"assets are required"})
	}

	var errs []string

	shapes := in.shapes()
	switch len(shapes) {
	case 0:
		return nil, NewValidationError([]string{
			fmt.Sprintf("assets must be described with one of %s, %s or %s", shapeLists, shapeFilenames, shapeSpreadsheet),
		})
	case 1:
	default:
		names := make([]string, 0, len(shapes))
		for _, s := range shapes {
			names = append(names, string(s))
		}
		return nil, NewValidationError([]string{
			fmt.Sprintf("assets may only be described in one way, found %s", strings.Join(names, " and ")),
		})
	}

	var arranged, unarranged []AssetInput
	switch shapes[0] {
	case shapeLists:
		arranged, unarranged = in.Arranged, in.Unarranged
	case shapeFilenames:
		arranged = splitFilenames(in.ArrangedFilenames)
		unarranged = splitFilenames(in.UnarrangedFilenames)
	case shapeSpreadsheet:
		rows := append(slices.Clone(in.Spreadsheet), in.CSV...)
		arranged, unarranged = partitionRows(rows, mode == ResolveMigration)
	}

	if len(in.SkipAssets) > 0 {
		if mode == ResolveMigration {
			arranged = withoutFilenames(arranged, in.SkipAssets)
			unarranged = withoutFilenames(unarranged, in.SkipAssets)
		} else {
			errs = append(errs, "skip_assets is only supported for migrations")
		}
	}

	for i, a := range arranged {
		if strings.TrimSpace(a.Filename) == "" {
			errs = append(errs, fmt.Sprintf("arranged asset %d is missing a filename", i+1))
		}
	}
	for i, a := range unarranged {
		if strings.TrimSpace(a.Filename) == "" {
			errs = append(errs, fmt.Sprintf("unarranged asset %d is missing a filename", i+1))
		}
	}

	seen := make(map[string]bool)
	for _, a := range append(slices.Clone(arranged), unarranged...) {
		name := strings.TrimSpace(a.Filename)
		if name == "" {
			continue
		}
		if seen[name] {
			errs = append(errs, fmt.Sprintf("duplicate filename %s in assets", name))
		}
		seen[name] = true
	}

	set := &AssetSet{
		Arranged:   toDescriptors(arranged),
		Unarranged: toDescriptors(unarranged),
	}

	if mode == ResolveMigration {
		errs = append(errs, r.locateMigrationFiles(ctx, in.Storage, set, arranged, unarranged)...)
	} else if in.Storage != "" || len(in.Path) > 0 {
		loc := LocateStorage(ctx, r.stores, in.Storage, in.Path)
		errs = append(errs, loc.Errors()...)
		set.Location = loc
		locate(set.Arranged, loc)
		locate(set.Unarranged, loc)
	}

	if err := NewValidationError(errs); err != nil {
		return nil, err
	}
	return set, nil
}

func (r *AssetSetResolver) locateMigrationFiles(ctx context.Context, storage string, set *AssetSet, arranged, unarranged []AssetInput) []string {
	var errs []string

	inputs := append(slices.Clone(arranged), unarranged...)
	descriptors := make([]*AssetDescriptor, 0, len(inputs))
	for i := range set.Arranged {
		descriptors = append(descriptors, &set.Arranged[i])
	}
	for i := range set.Unarranged {
		descriptors = append(descriptors, &set.Unarranged[i])
	}

	if storage == "" {
		errs = append(errs, "storage is required for migrations")
	}
	store, err := r.stores.Get(storage)
	if storage != "" && err != nil {
		errs = append(errs, fmt.Sprintf("storage %q is not configured", storage))
	}

	for i, in := range inputs {
		name := strings.TrimSpace(in.Filename)
		if name == "" || in.Path == "" || in.Checksum == "" {
			errs = append(errs, fmt.Sprintf("%s: migration assets require filename, path and checksum", displayName(name, i)))
			continue
		}
		if store == nil {
			continue
		}
		if _, err := store.GetObjectMeta(ctx, in.Path); err != nil {
			errs = append(errs, fmt.Sprintf("%s: path %s not found in storage %q", name, in.Path, storage))
			continue
		}
		descriptors[i].FileLocation = &FileRef{Storage: storage, Key: in.Path}
		descriptors[i].ExpectedChecksum = strings.ToLower(strings.TrimSpace(in.Checksum))
	}

	return errs
}

func displayName(name string, i int) string {
	if name == "" {
		return fmt.Sprintf("asset %d", i+1)
	}
	return name
}

func splitFilenames(list *string) []AssetInput {
	if list == nil {
		return nil
	}
	var out []AssetInput
	for _, segment := range strings.Split(*list, ";") {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}
		out = append(out, AssetInput{Filename: segment})
	}
	return out
}

// partitionRows splits spreadsheet rows into arranged rows (those with a
// sequence, sorted by it) and unarranged rows in file order. Migration
// manifests compare sequences as integers; ordinary spreadsheets compare
// them as strings.
func partitionRows(rows []AssetInput, numeric bool) (arranged, unarranged []AssetInput) {
	for _, row := range rows {
		if strings.TrimSpace(string(row.Sequence)) == "" {
			unarranged = append(unarranged, row)
		} else {
			arranged = append(arranged, row)
		}
	}
	if numeric {
		sort.SliceStable(arranged, func(i, j int) bool {
			return sequenceNumber(arranged[i].Sequence) < sequenceNumber(arranged[j].Sequence)
		})
	} else {
		sort.SliceStable(arranged, func(i, j int) bool {
			return arranged[i].Sequence < arranged[j].Sequence
		})
	}
	return arranged, unarranged
}

// sequenceNumber reads the leading integer of s; anything unparseable is 0.
func sequenceNumber(s Sequence) int {
	raw := strings.TrimSpace(string(s))
	end := 0
	for end < len(raw) && (raw[end] >= '0' && raw[end] <= '9' || end == 0 && raw[end] == '-') {
		end++
	}
	n, err := strconv.Atoi(raw[:end])
	if err != nil {
		return 0
	}
	return n
}

func withoutFilenames(inputs []AssetInput, skip []string) []AssetInput {
	if inputs == nil {
		return nil
	}
	out := make([]AssetInput, 0, len(inputs))
	for _, in := range inputs {
		if slices.Contains(skip, strings.TrimSpace(in.Filename)) {
			continue
		}
		out = append(out, in)
	}
	return out
}

func toDescriptors(inputs []AssetInput) []AssetDescriptor {
	out := make([]AssetDescriptor, 0, len(inputs))
	for _, in := range inputs {
		d := AssetDescriptor{
			Filename:       strings.TrimSpace(in.Filename),
			Label:          in.Label,
			Transcriptions: slices.Clone(in.Transcriptions),
		}
		for _, a := range in.Annotations {
			d.Annotations = append(d.Annotations, a.Text)
		}
		out = append(out, d)
	}
	return out
}

func locate(descriptors []AssetDescriptor, loc *StorageLocation) {
	for i := range descriptors {
		if ref, ok := loc.FileLocationFor(descriptors[i].Filename); ok {
			descriptors[i].FileLocation = ref
		}
	}
}
