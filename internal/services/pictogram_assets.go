package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"pictocache/internal/config"
	"pictocache/internal/logging"
)

const uncategorizedSlug = "uncategorized"

// AssetMaterializer downloads pictogram images into a category-sliced tree.
// Public paths look like /assets/pictograms/<slug>/<id>.<ext> and map onto
// <asset dir>/<slug>/<id>.<ext> on disk.
type AssetMaterializer struct {
	origin       *OriginClient
	assetDir     string
	publicPrefix string
	logger       *slog.Logger
}

// NewAssetMaterializer creates a materializer writing below cfg.AssetDir
func NewAssetMaterializer(origin *OriginClient, cfg config.PictogramConfig) *AssetMaterializer {
	return &AssetMaterializer{
		origin:       origin,
		assetDir:     cfg.AssetDir,
		publicPrefix: "/" + strings.Trim(cfg.PublicPrefix, "/"),
		logger:       logging.WithComponent("pictogram-assets"),
	}
}

// PublicPrefix is the URL prefix the asset tree is served under
func (m *AssetMaterializer) PublicPrefix() string {
	return m.publicPrefix
}

// SlugifyCategory turns a category hint into a directory segment
func SlugifyCategory(category string) string {
	var b strings.Builder
	b.Grow(len(category))
	for _, r := range strings.ToLower(category) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	slug := strings.Trim(b.String(), "-")
	if slug == "" {
		return uncategorizedSlug
	}
	return slug
}

// PublicPath builds the stable public reference for an asset
func (m *AssetMaterializer) PublicPath(slug string, arasaacID int, ext string) string {
	return fmt.Sprintf("%s/%s/%d.%s", m.publicPrefix, slug, arasaacID, ext)
}

// DiskPath maps a public path back onto the filesystem. It refuses paths
// outside the public prefix or containing traversal segments.
func (m *AssetMaterializer) DiskPath(publicPath string) (string, bool) {
	suffix, ok := strings.CutPrefix(publicPath, m.publicPrefix+"/")
	if !ok || suffix == "" {
		return "", false
	}
	if strings.Contains(suffix, "..") || strings.Contains(suffix, "\\") {
		return "", false
	}
	return filepath.Join(m.assetDir, filepath.FromSlash(path.Clean(suffix))), true
}

// Exists reports whether the file behind a public path is present on disk.
// Callers must use this rather than trusting a stored pointer.
func (m *AssetMaterializer) Exists(publicPath string) bool {
	disk, ok := m.DiskPath(publicPath)
	if !ok {
		return false
	}
	info, err := os.Stat(disk)
	return err == nil && !info.IsDir()
}

// Materialize downloads the best available rendition of a pictogram and
// returns (origin URL, public path). The SVG is used when the origin serves it
// with a vector content type; otherwise the PNG. A PNG the origin refuses
// yields the origin URL with a nil path so metadata can still be cached.
func (m *AssetMaterializer) Materialize(ctx context.Context, arasaacID int, categoryHint *string) (*string, *string, error) {
	slug := uncategorizedSlug
	if categoryHint != nil {
		slug = SlugifyCategory(*categoryHint)
	}
	log := logging.WithPictogram(m.logger, arasaacID)

	svgURL := m.origin.VectorURL(arasaacID)
	svg, err := m.origin.FetchAsset(ctx, svgURL)
	if err != nil {
		log.Debug("SVG download failed, falling back to PNG", "error", err)
	} else if svg.Status >= 200 && svg.Status < 300 && isVectorContentType(svg.ContentType) {
		public := m.PublicPath(slug, arasaacID, "svg")
		if err := m.write(public, svg.Body); err != nil {
			return nil, nil, err
		}
		GetMetrics().RecordAssetDownload("svg")
		return &svgURL, &public, nil
	}

	pngURL := m.origin.RasterURL(arasaacID)
	png, err := m.origin.FetchAsset(ctx, pngURL)
	if err != nil {
		return nil, nil, err
	}
	if png.Status < 200 || png.Status >= 300 {
		log.Debug("PNG not available from origin", "status", png.Status)
		GetMetrics().RecordAssetDownload("missing")
		return &pngURL, nil, nil
	}

	public := m.PublicPath(slug, arasaacID, "png")
	if err := m.write(public, png.Body); err != nil {
		return nil, nil, err
	}
	GetMetrics().RecordAssetDownload("png")
	return &pngURL, &public, nil
}

// HydrateTo downloads a pictogram to an exact, pre-existing public path. The
// path's extension decides the rendition. It reports false when the path is
// not ours or the origin has no such rendition.
func (m *AssetMaterializer) HydrateTo(ctx context.Context, arasaacID int, publicPath string) (bool, error) {
	if _, ok := m.DiskPath(publicPath); !ok {
		return false, nil
	}

	assetURL := m.origin.RasterURL(arasaacID)
	if strings.EqualFold(path.Ext(publicPath), ".svg") {
		assetURL = m.origin.VectorURL(arasaacID)
	}

	resp, err := m.origin.FetchAsset(ctx, assetURL)
	if err != nil {
		return false, err
	}
	if resp.Status < 200 || resp.Status >= 300 {
		return false, nil
	}

	if err := m.write(publicPath, resp.Body); err != nil {
		return false, err
	}
	return true, nil
}

// write stores body at the disk location of publicPath via temp file + rename
// so concurrent writers never leave a torn file behind.
func (m *AssetMaterializer) write(publicPath string, body []byte) error {
	disk, ok := m.DiskPath(publicPath)
	if !ok {
		return internalError(fmt.Sprintf("invalid asset path %q", publicPath), nil)
	}

	dir := filepath.Dir(disk)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return internalError("failed to create pictogram directory", err)
	}

	tmp, err := os.CreateTemp(dir, ".pictogram-*.tmp")
	if err != nil {
		return internalError("failed to create temp pictogram file", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return internalError("failed writing pictogram file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return internalError("failed writing pictogram file", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		m.logger.Debug("chmod on pictogram file failed", "path", tmpName, "error", err)
	}
	if err := os.Rename(tmpName, disk); err != nil {
		os.Remove(tmpName)
		return internalError("failed moving pictogram file into place", err)
	}
	return nil
}

func isVectorContentType(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "svg") || strings.Contains(ct, "xml")
}
