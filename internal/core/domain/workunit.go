package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the calendar format used for window bounds in logs and storage.
const DateLayout = "2006-01-02"

// WindowLength is how far past its start date each acquisition window reaches.
const WindowLength = 15 * 24 * time.Hour

// Site is one location of interest read from the site list.
type Site struct {
	ID        string  `json:"site_id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// WorkUnit is one (site, date-window) pair to be searched, ordered and downloaded.
type WorkUnit struct {
	SiteID      string    `json:"site_id"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
}

// Key is the "<lat>_<lon>_<site_id>" triple that names the unit's output folder.
func (u WorkUnit) Key() string {
	return FormatCoordinate(u.Latitude) + "_" + FormatCoordinate(u.Longitude) + "_" + u.SiteID
}

// LabelSuffix is appended to a scene id to label the order placed for this unit.
func (u WorkUnit) LabelSuffix() string {
	return "#" + u.Key()
}

func (u WorkUnit) String() string {
	return fmt.Sprintf("[%q, %s, %s, %q, %q]",
		u.SiteID,
		FormatCoordinate(u.Latitude),
		FormatCoordinate(u.Longitude),
		u.WindowStart.Format(DateLayout),
		u.WindowEnd.Format(DateLayout),
	)
}

// LogAttrs returns the attributes needed to re-submit this unit by hand.
func (u WorkUnit) LogAttrs() []any {
	return []any{
		"site_id", u.SiteID,
		"lat", u.Latitude,
		"lon", u.Longitude,
		"window_start", u.WindowStart.Format(DateLayout),
		"window_end", u.WindowEnd.Format(DateLayout),
	}
}

// FormatCoordinate renders a coordinate the way existing output folders were named:
// shortest exact decimal, always with a fractional part.
func FormatCoordinate(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// BuildWorkUnits expands sites over the date range [start, end]. The first window
// opens on start; every later window opens on the first day of the following month.
// Units are ordered site-major.
func BuildWorkUnits(sites []Site, start, end time.Time) ([]WorkUnit, error) {
	if end.Before(start) {
		return nil, WrapError(ErrInvalidInput, "build work units",
			fmt.Errorf("end date %s is before start date %s", end.Format(DateLayout), start.Format(DateLayout)))
	}

	var windows [][2]time.Time
	for current := start; !current.After(end); {
		windows = append(windows, [2]time.Time{current, current.Add(WindowLength)})
		current = time.Date(current.Year(), current.Month()+1, 1, 0, 0, 0, 0, current.Location())
	}

	units := make([]WorkUnit, 0, len(sites)*len(windows))
	for _, site := range sites {
		for _, w := range windows {
			units = append(units, WorkUnit{
				SiteID:      site.ID,
				Latitude:    site.Latitude,
				Longitude:   site.Longitude,
				WindowStart: w[0],
				WindowEnd:   w[1],
			})
		}
	}
	return units, nil
}
