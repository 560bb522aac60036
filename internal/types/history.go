package types

import "time"

type FeedType string

const (
	FeedTypeManual    FeedType = "manual"
	FeedTypeScheduled FeedType = "scheduled"
	FeedTypeRemote    FeedType = "remote"
)

var feedTypeLabels = map[FeedType]string{
	FeedTypeManual:    "Manual",
	FeedTypeScheduled: "Scheduled",
	FeedTypeRemote:    "Remote API",
}

// Label maps the stored tag to its display label. Unknown tags are
// returned verbatim.
func (f FeedType) Label() string {
	if label, ok := feedTypeLabels[f]; ok {
		return label
	}
	return string(f)
}

func (f FeedType) Valid() bool {
	_, ok := feedTypeLabels[f]
	return ok
}

type HistoryEntry struct {
	ID         int64     `json:"id"`
	DeviceID   int64     `json:"device"`
	DeviceName string    `json:"device_name,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	Portion    int       `json:"portion"`
	FeedType   FeedType  `json:"feed_type"`
}

// HistoryRow is the display form of a history entry.
type HistoryRow struct {
	Date       string `json:"date"`
	Time       string `json:"time"`
	Portion    int    `json:"portion"`
	Type       string `json:"type"`
	DeviceName string `json:"device_name,omitempty"`
}
