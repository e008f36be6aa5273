//go:build !linux

package offsync

func processRSSBytes() (uint64, bool) { return 0, false }
