package kmsg

import (
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/host"
)

// BootTime returns the host's boot time, used to convert kmsg's
// usec_since_boot timestamps to wall-clock time.
func BootTime() (time.Time, error) {
	secs, err := host.BootTime()
	if err != nil {
		return time.Time{}, fmt.Errorf("kmsg: read boot time: %w", err)
	}
	return time.Unix(int64(secs), 0), nil
}
