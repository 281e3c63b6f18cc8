package storage

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// NameLayout is the time layout embedded in recording file names.
const NameLayout = "2006-01-02---15-04-05"

// maxNameSuffix bounds the collision search in UniqueBase.
const maxNameSuffix = 1000

// BaseName is "<tag>---YYYY-MM-DD---HH-MM-SS" for start in its own location.
func BaseName(tag string, start time.Time) string {
	return tag + "---" + start.Format(NameLayout)
}

// FileName is BaseName plus ".<ext>".
func FileName(tag string, start time.Time, ext string) string {
	return BaseName(tag, start) + "." + strings.TrimPrefix(ext, ".")
}

// ParseFileName recovers the tag and start time from a name produced by
// FileName. The time is interpreted in loc.
func ParseFileName(name string, loc *time.Location) (string, time.Time, error) {
	stem := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	i := strings.Index(stem, "---")
	if i < 0 || len(stem) < i+3+len(NameLayout) {
		return "", time.Time{}, fmt.Errorf("not a recording name: %q", name)
	}
	tag := stem[:i]
	ts, err := time.ParseInLocation(NameLayout, stem[i+3:i+3+len(NameLayout)], loc)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("parse time in %q: %w", name, err)
	}
	return tag, ts, nil
}

// UniqueBase returns a base name under dir whose ".<ext>" file does not yet
// exist. Two sessions started within the same second get "-1", "-2", ...
func UniqueBase(fs afero.Fs, dir, tag string, start time.Time, ext string) (string, error) {
	base := BaseName(tag, start)
	candidate := base
	for n := 1; n <= maxNameSuffix; n++ {
		exists, err := afero.Exists(fs, filepath.Join(dir, candidate+"."+ext))
		if err != nil {
			return "", fmt.Errorf("check %s: %w", candidate, err)
		}
		if !exists {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", base, n)
	}
	return "", fmt.Errorf("no free file name for %s after %d attempts", base, maxNameSuffix)
}
