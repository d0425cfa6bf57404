// SPDX-License-Identifier: MPL-2.0

// Package cueutil checks files against embedded CUE schemas and renders Go
// values back as CUE.
//
//	//go:embed catalog_schema.cue
//	var catalogSchema []byte
//
//	cat, err := cueutil.Decode[fileCatalog](catalogSchema, "#Catalog", data,
//	    cueutil.WithFilename("modules.cue"))
//
// Errors name the file and the path of the offending field, e.g.
// "modules.cue: modules[2].version: conflicting values 3 and string".
package cueutil
