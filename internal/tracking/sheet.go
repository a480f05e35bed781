// Ostiarius - Field Acquisition Coordination Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ostiarius

package tracking

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tomtom215/ostiarius/internal/daykey"
	"github.com/tomtom215/ostiarius/internal/models"
)

// UnassignedPrefix marks worksheets holding tracker data whose userName
// label did not resolve at push time. The reconciler scans for it.
const UnassignedPrefix = "unassigned-"

// trackingHeaders is the column layout of per-user log worksheets and of
// unassigned worksheets. Order is load-bearing: rows are decoded by
// position.
var trackingHeaders = []string{"date", "time", "latitude", "longitude", "accuracy", "source"}

// LogWorksheet returns the per-user log worksheet name.
func LogWorksheet(username string) string {
	return "log-" + username
}

// UnassignedWorksheet returns the holding worksheet name for an unresolved
// userName label.
func UnassignedWorksheet(userName string) string {
	return UnassignedPrefix + userName
}

// trackRow renders one location point as a worksheet row. Date and time are
// Berlin-local so operators read the sheet in field time.
func trackRow(p models.LocationPoint) []string {
	t := time.UnixMilli(p.TimestampMs).In(daykey.Location())
	accuracy := ""
	if p.Accuracy != nil {
		accuracy = strconv.FormatFloat(*p.Accuracy, 'f', 1, 64)
	}
	return []string{
		t.Format(daykey.Layout),
		t.Format("15:04:05"),
		strconv.FormatFloat(p.Latitude, 'f', 6, 64),
		strconv.FormatFloat(p.Longitude, 'f', 6, 64),
		accuracy,
		p.Source,
	}
}

// parseTrackRow decodes one worksheet row. Rows written by older tracker
// versions through locale-mangling sheets carry comma decimals and
// DD.MM.YYYY dates; both forms are accepted.
func parseTrackRow(row []string) (models.LocationPoint, error) {
	if len(row) < 4 {
		return models.LocationPoint{}, fmt.Errorf("row has %d columns, need at least 4", len(row))
	}

	ts, err := parseLocalTime(row[0], row[1])
	if err != nil {
		return models.LocationPoint{}, err
	}
	lat, err := parseDecimal(row[2])
	if err != nil {
		return models.LocationPoint{}, fmt.Errorf("latitude: %w", err)
	}
	lon, err := parseDecimal(row[3])
	if err != nil {
		return models.LocationPoint{}, fmt.Errorf("longitude: %w", err)
	}

	p := models.LocationPoint{
		TimestampMs: ts.UnixMilli(),
		Latitude:    lat,
		Longitude:   lon,
	}
	if len(row) > 4 && strings.TrimSpace(row[4]) != "" {
		accuracy, err := parseDecimal(row[4])
		if err == nil {
			p.Accuracy = &accuracy
		}
	}
	if len(row) > 5 {
		p.Source = strings.TrimSpace(row[5])
	}
	return p, nil
}

func parseLocalTime(dateCell, timeCell string) (time.Time, error) {
	date := strings.TrimSpace(dateCell)
	clock := strings.TrimSpace(timeCell)

	for _, layout := range []string{
		daykey.Layout + " 15:04:05",
		daykey.Layout + " 15:04",
		"02.01.2006 15:04:05",
		"02.01.2006 15:04",
	} {
		if t, err := time.ParseInLocation(layout, date+" "+clock, daykey.Location()); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q %q", dateCell, timeCell)
}

// parseDecimal reads a float accepting both dot and comma decimal marks.
func parseDecimal(s string) (float64, error) {
	return strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(s), ",", "."), 64)
}
