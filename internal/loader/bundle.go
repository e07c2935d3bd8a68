package loader

import (
	"archive/tar"
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/gabriel-vasile/mimetype"
	"github.com/goccy/go-yaml"
	"github.com/klauspost/compress/gzip"
	"golang.org/x/crypto/blake2b"
)

// An application bundle (.eab) is a gzip-compressed tar archive holding
// a manifest and the raw image. The manifest pins the image by digest
// so a bundle fetched over the network cannot swap images undetected.
const (
	BundleExt    = ".eab"
	manifestName = "manifest.yaml"
	imageName    = "app.img"
)

// maxBundleEntry caps how much of a single archive entry is read, so a
// malformed length field cannot balloon memory.
const maxBundleEntry = 16 << 20

var (
	ErrBadBundle      = errors.New("bad bundle")
	ErrDigestMismatch = errors.New("bundle digest mismatch")
)

// Manifest describes the image an .eab bundle carries and how the
// board should install it.
type Manifest struct {
	Name     string `yaml:"name"`
	Version  string `yaml:"version,omitempty"`
	Priority int    `yaml:"priority,omitempty"`
	// Policy is the fault policy name: stop, restart, or panic. Empty
	// takes the board default.
	Policy string `yaml:"policy,omitempty"`
	// Digest is the hex BLAKE2b-256 of app.img.
	Digest string `yaml:"digest"`
}

// Bundle is an unpacked, digest-verified application bundle.
type Bundle struct {
	Manifest Manifest
	Image    []byte
}

// ImageDigest returns the hex BLAKE2b-256 digest of an image.
func ImageDigest(img []byte) string {
	sum := blake2b.Sum256(img)
	return hex.EncodeToString(sum[:])
}

// Pack builds an .eab bundle around a valid image. The manifest's
// digest is computed here; a caller-supplied digest is overwritten.
// An empty manifest name takes the image header's name.
func Pack(img []byte, m Manifest) ([]byte, error) {
	h, err := ParseImage(img)
	if err != nil {
		return nil, err
	}
	if m.Name == "" {
		m.Name = h.Name
	}
	m.Digest = ImageDigest(img)

	manifest, err := yaml.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	for _, entry := range []struct {
		name string
		data []byte
	}{
		{manifestName, manifest},
		{imageName, img},
	} {
		hdr := &tar.Header{
			Name: entry.name,
			Mode: 0644,
			Size: int64(len(entry.data)),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, fmt.Errorf("write %s header: %w", entry.name, err)
		}
		if _, err := tw.Write(entry.data); err != nil {
			return nil, fmt.Errorf("write %s: %w", entry.name, err)
		}
	}

	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("close archive: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("close compressor: %w", err)
	}
	return buf.Bytes(), nil
}

// Unpack reads an .eab bundle, verifies the manifest digest against
// the image, and validates the image header.
func Unpack(b []byte) (*Bundle, error) {
	gz, err := gzip.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadBundle, err)
	}
	defer gz.Close()

	var (
		manifest []byte
		img      []byte
	)
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadBundle, err)
		}
		data, err := io.ReadAll(io.LimitReader(tr, maxBundleEntry))
		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", ErrBadBundle, hdr.Name, err)
		}
		switch hdr.Name {
		case manifestName:
			manifest = data
		case imageName:
			img = data
		}
	}
	if manifest == nil {
		return nil, fmt.Errorf("%w: missing %s", ErrBadBundle, manifestName)
	}
	if img == nil {
		return nil, fmt.Errorf("%w: missing %s", ErrBadBundle, imageName)
	}

	var m Manifest
	if err := yaml.Unmarshal(manifest, &m); err != nil {
		return nil, fmt.Errorf("%w: decode manifest: %v", ErrBadBundle, err)
	}
	if got := ImageDigest(img); got != m.Digest {
		return nil, fmt.Errorf("%w: manifest %s, image %s", ErrDigestMismatch, m.Digest, got)
	}
	if _, err := ParseImage(img); err != nil {
		return nil, err
	}
	return &Bundle{Manifest: m, Image: img}, nil
}

// Open recognizes the two forms images travel in: a gzip stream is
// unpacked as a bundle, anything else is treated as a raw image and
// wrapped in a synthesized manifest.
func Open(b []byte) (*Bundle, error) {
	if mimetype.Detect(b).Is("application/gzip") {
		return Unpack(b)
	}
	h, err := ParseImage(b)
	if err != nil {
		return nil, err
	}
	return &Bundle{
		Manifest: Manifest{Name: h.Name, Digest: ImageDigest(b)},
		Image:    b,
	}, nil
}
