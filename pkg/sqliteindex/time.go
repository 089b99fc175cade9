package sqliteindex

import "time"

func int64Time(unixSec int64) time.Time {
	if unixSec == 0 {
		return time.Time{}
	}
	return time.Unix(unixSec, 0).UTC()
}
