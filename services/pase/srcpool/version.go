// Copyright (C) 2026 Gustavo Boiko
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the COPYING file for the full license text.

package srcpool

import (
	"fmt"
	"strconv"

	"github.com/cavaliergopher/rpm"
)

// SourcePackage is one source package entry from primary metadata.
type SourcePackage struct {
	Name    string
	Epoch   string
	Version string
	Release string

	// Location is the package href relative to the repository base URL.
	Location string
}

// VersionID returns the identifier written to the .version_id marker:
// the full epoch:version-release string.
func (p SourcePackage) VersionID() string {
	epoch := p.Epoch
	if epoch == "" {
		epoch = "0"
	}
	return fmt.Sprintf("%s:%s-%s", epoch, p.Version, p.Release)
}

// evr adapts a SourcePackage to the rpm version comparison interface.
type evr struct {
	epoch   int
	version string
	release string
}

func (v evr) Epoch() int      { return v.epoch }
func (v evr) Version() string { return v.version }
func (v evr) Release() string { return v.release }

func (p SourcePackage) evr() evr {
	epoch, err := strconv.Atoi(p.Epoch)
	if err != nil {
		epoch = 0
	}
	return evr{epoch: epoch, version: p.Version, release: p.Release}
}

// Newest returns whichever of two builds of the same package has the
// higher epoch:version-release, in rpm comparison order. Ties go to a.
func Newest(a, b SourcePackage) SourcePackage {
	if rpm.Compare(a.evr(), b.evr()) >= 0 {
		return a
	}
	return b
}

// NewestOnly reduces a package list to one entry per name, keeping the
// newest build when a repository lists several.
func NewestOnly(packages []SourcePackage) []SourcePackage {
	byName := make(map[string]SourcePackage, len(packages))
	order := make([]string, 0, len(packages))
	for _, p := range packages {
		current, seen := byName[p.Name]
		if !seen {
			byName[p.Name] = p
			order = append(order, p.Name)
			continue
		}
		byName[p.Name] = Newest(current, p)
	}

	result := make([]SourcePackage, 0, len(order))
	for _, name := range order {
		result = append(result, byName[name])
	}
	return result
}
