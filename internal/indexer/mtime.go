package indexer

import "os"

// secondsThreshold is the seconds-vs-milliseconds cutover: a persisted mtime below
// this value is from an older seconds-granularity writer (anything before
// ~1973-03-03 in millisecond-space is implausible for a real file).
const secondsThreshold = 100_000_000_000

// NormalizeMtimeMs upconverts a persisted mtime that looks like it was
// written in seconds rather than milliseconds.
func NormalizeMtimeMs(v int64) int64 {
	if v < secondsThreshold {
		return v * 1000
	}
	return v
}

// statMtimeMs returns a file's on-disk mtime in unix milliseconds. New
// writes always use this, never seconds.
func statMtimeMs(absPath string) (int64, error) {
	info, err := os.Stat(absPath)
	if err != nil {
		return 0, err
	}
	return info.ModTime().UnixMilli(), nil
}
