package casebook

import _ "embed"

// The default cast ships inside the binary so the game runs with no data
// files on disk.
//
//go:embed data/character_database.json
var embeddedDatabase []byte
