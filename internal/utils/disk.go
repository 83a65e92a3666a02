package utils

import (
	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/disk"
)

type DiskUsage struct {
	Path        string  `json:"path"`
	Total       uint64  `json:"total"`
	Free        uint64  `json:"free"`
	UsedPercent float64 `json:"used_percent"`
	Human       string  `json:"human"`
}

// GetDiskUsage reports capacity of the filesystem holding path.
func GetDiskUsage(path string) (*DiskUsage, error) {
	stat, err := disk.Usage(path)
	if err != nil {
		return nil, err
	}
	return &DiskUsage{
		Path:        path,
		Total:       stat.Total,
		Free:        stat.Free,
		UsedPercent: stat.UsedPercent,
		Human:       humanize.Bytes(stat.Free) + " free of " + humanize.Bytes(stat.Total),
	}, nil
}
