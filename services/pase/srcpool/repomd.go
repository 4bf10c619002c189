// Copyright (C) 2026 Gustavo Boiko
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the COPYING file for the full license text.

package srcpool

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/url"

	"github.com/klauspost/compress/gzip"
)

// RepoMetadata is the parsed index of an rpm-md repository.
type RepoMetadata struct {
	// Revision is the repository revision from repomd.xml; it changes
	// whenever the repository is republished.
	Revision string

	// Files maps metadata type ("primary", "filelists", ...) to the
	// absolute URL of that metadata file.
	Files map[string]string
}

type repomdXML struct {
	XMLName  xml.Name `xml:"repomd"`
	Revision string   `xml:"revision"`
	Data     []struct {
		Type     string      `xml:"type,attr"`
		Location locationXML `xml:"location"`
	} `xml:"data"`
}

type locationXML struct {
	Href string `xml:"href,attr"`
}

type primaryXML struct {
	XMLName  xml.Name `xml:"metadata"`
	Packages []struct {
		Name    string `xml:"name"`
		Arch    string `xml:"arch"`
		Version struct {
			Epoch string `xml:"epoch,attr"`
			Ver   string `xml:"ver,attr"`
			Rel   string `xml:"rel,attr"`
		} `xml:"version"`
		Location locationXML `xml:"location"`
	} `xml:"package"`
}

// ParseRepoMetadata fetches and parses repodata/repomd.xml under the
// given base URL.
func (p *Pool) ParseRepoMetadata(ctx context.Context, baseURL string) (*RepoMetadata, error) {
	repomdURL, err := resolveURL(baseURL, "repodata/repomd.xml")
	if err != nil {
		return nil, err
	}

	data, err := p.downloadAndUnpack(ctx, repomdURL)
	if err != nil {
		return nil, err
	}

	var parsed repomdXML
	if err := xml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse %s: %w", repomdURL, err)
	}

	md := &RepoMetadata{
		Revision: parsed.Revision,
		Files:    make(map[string]string, len(parsed.Data)),
	}
	for _, d := range parsed.Data {
		abs, err := resolveURL(baseURL, d.Location.Href)
		if err != nil {
			return nil, err
		}
		md.Files[d.Type] = abs
	}
	return md, nil
}

// SourcePackages lists the source packages of the repository at
// baseURL, from its primary metadata. Only arch == "src" entries are
// returned.
func (p *Pool) SourcePackages(ctx context.Context, baseURL string) ([]SourcePackage, error) {
	md, err := p.ParseRepoMetadata(ctx, baseURL)
	if err != nil {
		return nil, err
	}
	return p.SourcePackagesFrom(ctx, md)
}

// SourcePackagesFrom is SourcePackages for already-parsed repository
// metadata, sparing callers that hold a RepoMetadata a second
// repomd.xml fetch.
func (p *Pool) SourcePackagesFrom(ctx context.Context, md *RepoMetadata) ([]SourcePackage, error) {
	primaryURL, ok := md.Files["primary"]
	if !ok {
		return nil, errors.New("repository has no primary metadata")
	}

	data, err := p.downloadAndUnpack(ctx, primaryURL)
	if err != nil {
		return nil, err
	}

	var parsed primaryXML
	if err := xml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse %s: %w", primaryURL, err)
	}

	var packages []SourcePackage
	for _, pkg := range parsed.Packages {
		if pkg.Arch != "src" {
			continue
		}
		packages = append(packages, SourcePackage{
			Name:     pkg.Name,
			Epoch:    pkg.Version.Epoch,
			Version:  pkg.Version.Ver,
			Release:  pkg.Version.Rel,
			Location: pkg.Location.Href,
		})
	}
	return packages, nil
}

// downloadAndUnpack fetches a URL and gunzips the response. Payloads
// that are not actually gzipped come back as-is; repositories serve
// repomd.xml plain but the metadata files compressed.
func (p *Pool) downloadAndUnpack(ctx context.Context, fileURL string) ([]byte, error) {
	p.logger.Debug("downloading repository metadata", "url", fileURL)

	raw, err := p.client.Get(ctx, fileURL)
	if err != nil {
		return nil, err
	}

	gz, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return raw, nil
	}
	defer gz.Close()

	data, err := io.ReadAll(gz)
	if err != nil {
		return nil, fmt.Errorf("decompress %s: %w", fileURL, err)
	}
	return data, nil
}

// resolveURL joins a possibly relative href with the repository base
// URL.
func resolveURL(baseURL, href string) (string, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base URL %s: %w", baseURL, err)
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("parse href %s: %w", href, err)
	}
	return base.ResolveReference(ref).String(), nil
}
