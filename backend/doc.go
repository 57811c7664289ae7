// Package backend defines the storage contract shared by every cache
// backend, the factory registry through which implementations are looked up
// by kind, and the option-map validation used by all of them.
//
// Backend implementations live in subpackages (memory, disk, remote, dist)
// and register themselves on import, so a program selects its storage by
// importing the packages it needs:
//
//	import (
//	    _ "github.com/mediakit/metacache/backend/disk"
//	    _ "github.com/mediakit/metacache/backend/memory"
//	)
//
// Construction goes through New, which returns ErrUnknownKind for kinds
// whose package was not imported. Options arrive as a dynamic map and are
// checked against each backend's declared Schema before the backend sees
// them: unknown keys, wrong types, and out-of-range values are configuration
// errors reported at construction time, never at operation time.
package backend
