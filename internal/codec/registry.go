// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package codec

import "fmt"

// byFormatName mirrors the embedded peer's codec table, keyed by the format
// name carried in an interface definition ("i32le", "float", ...).
var byFormatName = map[string]Codec{
	"i8le":   Int8,
	"u8le":   Uint8,
	"i16le":  Int16,
	"u16le":  Uint16,
	"i32le":  Int32,
	"u32le":  Uint32,
	"i64le":  Int64,
	"u64le":  Uint64,
	"bool":   Bool,
	"float":  Float32,
	"object": ObjectReference,
}

// ByFormatName looks up the codec registered for a wire format name.
func ByFormatName(name string) (Codec, error) {
	c, ok := byFormatName[name]
	if !ok {
		return nil, fmt.Errorf("codec: unknown format %q", name)
	}
	return c, nil
}

// CanonicalNumberFormat is the format name assumed for a bare numeric
// argument when an interface definition does not negotiate one explicitly.
const CanonicalNumberFormat = "i32le"
