package tlesync

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/signalsfoundry/across/core"
	"github.com/signalsfoundry/across/model"
)

// Parse reads CelesTrak text: an optional name line followed by lines 1 and
// 2. Element sets that SGP4 rejects are skipped and reported in rejected.
func Parse(r io.Reader) (tles []model.TLE, rejected []error, err error) {
	var lines []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if l := strings.TrimRight(sc.Text(), " \r"); strings.TrimSpace(l) != "" {
			lines = append(lines, l)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, nil, fmt.Errorf("read tle source: %w", err)
	}

	name := ""
	for i := 0; i < len(lines); i++ {
		l := lines[i]
		if !strings.HasPrefix(l, "1 ") || i+1 >= len(lines) || !strings.HasPrefix(lines[i+1], "2 ") {
			name = strings.TrimSpace(strings.TrimPrefix(l, "0 "))
			continue
		}
		line1, line2 := l, lines[i+1]
		i++
		t, err := parseElementSet(name, line1, line2)
		name = ""
		if err != nil {
			rejected = append(rejected, err)
			continue
		}
		tles = append(tles, t)
	}
	return tles, rejected, nil
}

func parseElementSet(name, line1, line2 string) (model.TLE, error) {
	if _, err := core.NewOrbit(line1, line2); err != nil {
		return model.TLE{}, fmt.Errorf("%q: %w", name, err)
	}
	norad, err := strconv.Atoi(strings.TrimSpace(line1[2:7]))
	if err != nil {
		return model.TLE{}, fmt.Errorf("%q: norad id: %w", name, err)
	}
	epoch, err := parseEpoch(line1[18:32])
	if err != nil {
		return model.TLE{}, fmt.Errorf("%q: %w", name, err)
	}
	if name == "" {
		name = strconv.Itoa(norad)
	}
	return model.TLE{NoradID: norad, SatelliteName: name, Epoch: epoch, Line1: line1, Line2: line2}, nil
}

// parseEpoch decodes YYDDD.DDDDDDDD. Two-digit years from 57 are 1900s.
func parseEpoch(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if len(s) < 5 {
		return time.Time{}, fmt.Errorf("epoch %q too short", s)
	}
	yy, err := strconv.Atoi(s[:2])
	if err != nil {
		return time.Time{}, fmt.Errorf("epoch year %q: %w", s[:2], err)
	}
	doy, err := strconv.ParseFloat(s[2:], 64)
	if err != nil || doy < 1 || doy >= 367 {
		return time.Time{}, fmt.Errorf("epoch day %q out of range", s[2:])
	}
	year := 2000 + yy
	if yy >= 57 {
		year = 1900 + yy
	}
	day, frac := math.Modf(doy)
	start := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, int(day)-1)
	offset := time.Duration(math.Round(frac * float64(24*time.Hour) / float64(time.Microsecond)))
	return start.Add(offset * time.Microsecond), nil
}
