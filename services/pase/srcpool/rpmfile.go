// Copyright (C) 2026 Gustavo Boiko
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the COPYING file for the full license text.

package srcpool

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/cavaliergopher/cpio"
	"github.com/cavaliergopher/rpm"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

var errUnsafePath = errors.New("unsafe path in rpm payload")

// UnpackRPM reads an RPM from r and extracts its payload into dir.
// After the headers, the reader sits at the start of the compressed
// payload; the compression is taken from the package headers. Regular
// files and directories are extracted, other member types are skipped.
func UnpackRPM(r io.Reader, dir string) error {
	pkg, err := rpm.Read(r)
	if err != nil {
		return fmt.Errorf("read rpm headers: %w", err)
	}

	if format := pkg.PayloadFormat(); format != "cpio" {
		return fmt.Errorf("unsupported payload format %q", format)
	}

	var payload io.Reader
	switch compression := pkg.PayloadCompression(); compression {
	case "gzip":
		gz, err := gzip.NewReader(r)
		if err != nil {
			return fmt.Errorf("open gzip payload: %w", err)
		}
		defer gz.Close()
		payload = gz
	case "xz":
		xzr, err := xz.NewReader(r)
		if err != nil {
			return fmt.Errorf("open xz payload: %w", err)
		}
		payload = xzr
	case "zstd":
		zr, err := zstd.NewReader(r)
		if err != nil {
			return fmt.Errorf("open zstd payload: %w", err)
		}
		defer zr.Close()
		payload = zr
	default:
		return fmt.Errorf("unsupported payload compression %q", compression)
	}

	return extractCpio(payload, dir)
}

// extractCpio writes every member of a cpio stream under dir.
func extractCpio(r io.Reader, dir string) error {
	cr := cpio.NewReader(r)
	for {
		hdr, err := cr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read cpio payload: %w", err)
		}

		name, err := safeMemberPath(hdr.Name)
		if err != nil {
			return err
		}
		if name == "" {
			continue
		}

		target := filepath.Join(dir, filepath.FromSlash(name))
		switch {
		case hdr.Mode.IsDir():
			if err := os.MkdirAll(target, 0750); err != nil {
				return fmt.Errorf("create dir %s: %w", target, err)
			}
		case hdr.Mode.IsRegular():
			if err := os.MkdirAll(filepath.Dir(target), 0750); err != nil {
				return fmt.Errorf("create dir for %s: %w", target, err)
			}
			if err := writeMember(target, cr); err != nil {
				return err
			}
		}
	}
}

func writeMember(target string, r io.Reader) error {
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0640)
	if err != nil {
		return fmt.Errorf("create %s: %w", target, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", target, err)
	}
	return f.Close()
}

// safeMemberPath normalizes a cpio member name and rejects anything
// that would escape the extraction directory. The empty result with a
// nil error marks the archive root entry, which has nothing to write.
func safeMemberPath(name string) (string, error) {
	clean := path.Clean(name)
	if clean == "." || clean == "" {
		return "", nil
	}
	if strings.HasPrefix(clean, "/") || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %q", errUnsafePath, name)
	}
	return clean, nil
}
