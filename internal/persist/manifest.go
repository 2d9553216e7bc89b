package persist

import (
	"encoding/binary"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"

	"github.com/ncandio/razorfs/internal/errs"
)

const manifestFileName = "manifest.dat"

// manifestMagic distinguishes the manifest from a random file left in the
// storage directory.
const manifestMagic = uint32(0x52415A4D) // "RAZM"

// manifestSize is the fixed on-disk size of the manifest: magic, format
// version, and the checkpoint pointer (the highest LSN already reflected
// in nodes.dat/strings.dat).
const manifestSize = 16

// manifest is the small header kept outside the mmap'd nodes/strings files,
// committed by atomic replace-by-rename so a crash mid-write never leaves a
// torn checkpoint pointer for Attach to trip over.
type manifest struct {
	Version uint32
	LastLSN uint64
}

func encodeManifest(m manifest) []byte {
	b := make([]byte, manifestSize)
	binary.LittleEndian.PutUint32(b[0:4], manifestMagic)
	binary.LittleEndian.PutUint32(b[4:8], m.Version)
	binary.LittleEndian.PutUint64(b[8:16], m.LastLSN)
	return b
}

func decodeManifest(b []byte) (manifest, error) {
	if len(b) < manifestSize {
		return manifest{}, errs.New(errs.Corruption, "persist.decodeManifest", "truncated manifest")
	}
	if binary.LittleEndian.Uint32(b[0:4]) != manifestMagic {
		return manifest{}, errs.New(errs.Corruption, "persist.decodeManifest", "bad magic")
	}
	m := manifest{
		Version: binary.LittleEndian.Uint32(b[4:8]),
		LastLSN: binary.LittleEndian.Uint64(b[8:16]),
	}
	if m.Version != formatVersion {
		return manifest{}, errs.New(errs.Corruption, "persist.decodeManifest", "unsupported version")
	}
	return m, nil
}

// writeManifest atomically replaces dir/manifest.dat with lastLSN's pointer:
// write-to-temp-then-rename, so a concurrent reader (or a crash) never
// observes a partially-written file.
func writeManifest(dir string, lastLSN uint64) error {
	data := encodeManifest(manifest{Version: formatVersion, LastLSN: lastLSN})
	if err := renameio.WriteFile(filepath.Join(dir, manifestFileName), data, 0o644); err != nil {
		return errs.Wrap(errs.IOError, "persist.writeManifest", err)
	}
	return nil
}

// readManifest reads dir/manifest.dat's checkpoint pointer. A missing file
// (a storage directory from before the manifest existed) is not an error:
// callers fall back to the pointer embedded in nodes.dat's own header.
func readManifest(dir string) (uint64, bool, error) {
	raw, err := os.ReadFile(filepath.Join(dir, manifestFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, errs.Wrap(errs.IOError, "persist.readManifest", err)
	}
	m, err := decodeManifest(raw)
	if err != nil {
		return 0, false, err
	}
	return m.LastLSN, true, nil
}
