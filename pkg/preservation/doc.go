// Package preservation provides the import pipeline of a digital-preservation
// repository: it resolves asset descriptions against remote storage, creates
// or updates Assets with their preservation files, assembles them into Items,
// and cleans up after itself when any step fails.
//
// The Importer is the entry point. It drives three workflows (create, update
// and migrate) on top of pluggable repositories (memory, Postgres), blob
// stores (memory, filesystem, S3) and external collaborators (identifier
// service, characterization, derivative generation, publishing). Concrete
// implementations live in subpackages.
//
// Asset input shapes
//
// An import request describes its assets in exactly one of these ways:
//
//	{"arranged": [{"filename": "front.tif"}], "unarranged": [...]}
//	{"arranged_filenames": "front.tif; back.tif", "unarranged_filenames": "ref.tif"}
//	{"spreadsheet": [{"filename": "front.tif", "sequence": "1"}, ...]}
//
// Migrations use the first or third form with an explicit "path" and
// "checksum" on every entry. All forms resolve to the same AssetSet.
package preservation
