package fetcher

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// ExtractZIP extracts the files of a ZIP archive into destDir. Directory
// structure inside the archive is flattened, so a shapefile packed under
// "soho/deaths.shp" lands at destDir/deaths.shp. Returns the extracted paths.
func ExtractZIP(zipPath, destDir string) ([]string, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, eris.Wrap(err, "zip: open archive")
	}
	defer r.Close() //nolint:errcheck

	var extracted []string
	for _, f := range r.File {
		if f.FileInfo().IsDir() || skipEntry(f.Name) {
			continue
		}
		path, err := extractZIPEntry(f, destDir)
		if err != nil {
			return extracted, err
		}
		extracted = append(extracted, path)
	}

	return extracted, nil
}

// skipEntry drops macOS resource forks and hidden files.
func skipEntry(name string) bool {
	base := filepath.Base(name)
	return strings.HasPrefix(name, "__MACOSX/") || strings.HasPrefix(base, ".")
}

// extractZIPEntry writes a single zip.File into destDir under its base name.
func extractZIPEntry(f *zip.File, destDir string) (string, error) {
	if strings.Contains(f.Name, "..") {
		return "", eris.Errorf("zip: illegal path %q (zip slip attempt)", f.Name)
	}
	destPath := filepath.Join(destDir, filepath.Base(f.Name))

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", eris.Wrap(err, "zip: create directory")
	}

	rc, err := f.Open()
	if err != nil {
		return "", eris.Wrap(err, "zip: open entry")
	}
	defer rc.Close() //nolint:errcheck

	out, err := os.Create(destPath)
	if err != nil {
		return "", eris.Wrap(err, "zip: create file")
	}
	defer out.Close() //nolint:errcheck

	if _, err := io.Copy(out, rc); err != nil {
		return "", eris.Wrap(err, "zip: write file")
	}

	return destPath, nil
}
