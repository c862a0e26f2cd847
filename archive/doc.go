// Package archive unpacks architecture specific runtime archives shipped
// inside a container zip.
//
// The container holds one `<component>-<arch>.tar.xz` entry per supported
// architecture. Each archive wraps the whole runtime prefix in a single
// top-level directory, which is stripped while unpacking so the contents
// land directly in the destination.
//
// Entries are never buffered: the zip entry is decompressed and fed to the
// tar unpacker through a pipe, which keeps memory usage flat on devices with
// little of it.
//
// example usage
//
//	container, err := archive.OpenContainer("/data/adb/modules_update/py2droid.zip")
//	if err != nil {
//		return err
//	}
//	defer container.Close()
//
//	extractor := archive.New("cpython", "arm64")
//
//	entry, err := extractor.Locate(container) // errors.Is(err, archive.ErrEntryNotFound)
//	if err != nil {
//		return err
//	}
//
//	// failures are always errors.Is(err, archive.ErrStream)
//	if err := extractor.Extract(ctx, entry, scratchdir); err != nil {
//		return err
//	}
package archive
