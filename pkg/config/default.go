// Global storage engine config.
package config

import "github.com/ncw/directio"

// Name of the engine.
const EngineName = "loamdb"

// PageSize is the size of an individual page in bytes (ie the maximum number
// of bytes that a page frame can hold) - defaults to 4kb.
const PageSize int64 = directio.BlockSize

// DefaultPoolSize is the number of frames a buffer pool keeps in memory
// unless configured otherwise.
const DefaultPoolSize = 32

// DefaultBucketVolume is the number of entries a page-table bucket holds
// before it has to split.
const DefaultBucketVolume = 32
