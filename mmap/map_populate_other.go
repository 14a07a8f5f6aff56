//go:build unix && !linux

package mmap

// Prefault is a no-op where MAP_POPULATE does not exist.
const mapPopulate = 0
