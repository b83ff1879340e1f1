package fetcher

import (
	"context"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Dataset is a remote file to place in the data directory. Archives are
// unpacked unless Keep is set.
type Dataset struct {
	Name string `yaml:"name" mapstructure:"name"`
	URL  string `yaml:"url" mapstructure:"url"`
	Keep bool   `yaml:"keep" mapstructure:"keep"`
	// Force ignores the remembered ETag.
	Force bool `yaml:"-" mapstructure:"-"`
}

// Result reports what a dataset fetch did.
type Result struct {
	Dataset string   `json:"dataset"`
	Changed bool     `json:"changed"`
	Bytes   int64    `json:"bytes"`
	Files   []string `json:"files"`
}

const etagDir = ".etags"

// FetchDataset downloads ds into dataDir. The server ETag is remembered under
// dataDir/.etags so an unchanged dataset is not downloaded again.
func FetchDataset(ctx context.Context, f Fetcher, ds Dataset, dataDir, tempDir string) (*Result, error) {
	if ds.URL == "" {
		return nil, eris.Errorf("fetcher: dataset %s has no url", ds.Name)
	}
	fileName, err := remoteName(ds.URL)
	if err != nil {
		return nil, err
	}
	etagPath := filepath.Join(dataDir, etagDir, ds.Name)
	etag := ""
	if !ds.Force {
		etag = readETag(etagPath)
	}

	body, newETag, changed, err := f.DownloadIfChanged(ctx, ds.URL, etag)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: dataset %s", ds.Name)
	}
	res := &Result{Dataset: ds.Name, Changed: changed}
	if !changed {
		zap.L().Info("fetcher: dataset unchanged", zap.String("dataset", ds.Name), zap.String("etag", etag))
		return res, nil
	}
	defer body.Close() //nolint:errcheck

	isZip := strings.EqualFold(filepath.Ext(fileName), ".zip") && !ds.Keep
	target := filepath.Join(dataDir, fileName)
	if isZip {
		if tempDir == "" {
			tempDir = os.TempDir()
		}
		target = filepath.Join(tempDir, "geolab-"+ds.Name+".zip")
		defer os.Remove(target) //nolint:errcheck
	}

	if res.Bytes, err = writeFile(target, body); err != nil {
		return nil, eris.Wrapf(err, "fetcher: dataset %s", ds.Name)
	}

	if isZip {
		if res.Files, err = ExtractZIP(target, dataDir); err != nil {
			return nil, eris.Wrapf(err, "fetcher: dataset %s", ds.Name)
		}
	} else {
		res.Files = []string{target}
	}
	slices.Sort(res.Files)

	if newETag != "" {
		if err := writeETag(etagPath, newETag); err != nil {
			return nil, err
		}
	}
	zap.L().Info("fetcher: dataset downloaded",
		zap.String("dataset", ds.Name),
		zap.Int64("bytes", res.Bytes),
		zap.Int("files", len(res.Files)),
	)
	return res, nil
}

// remoteName is the last path element of a URL.
func remoteName(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", eris.Wrapf(err, "fetcher: parse url %s", rawURL)
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" || name == "" {
		return "", eris.Errorf("fetcher: url %s has no file name", rawURL)
	}
	return name, nil
}

func readETag(p string) string {
	data, err := os.ReadFile(p)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func writeETag(p, etag string) error {
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return eris.Wrap(err, "fetcher: create etag directory")
	}
	return eris.Wrap(os.WriteFile(p, []byte(etag+"\n"), 0o644), "fetcher: write etag")
}
