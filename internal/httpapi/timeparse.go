package httpapi

import (
	"fmt"
	"strconv"
	"time"
)

// minEpoch is the lower bound a bare number must clear to be accepted
// as an epoch timestamp rather than a malformed duration (§6: "bare
// epoch ≥ 2020-01-01").
var minEpoch = float64(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC).Unix())

// parseSince parses a `since` query value shaped "NNs"/"NNm"/"NNh"/
// "NNd"/"NNw" (relative to now) or a bare epoch-seconds number no
// earlier than 2020-01-01, returning the resolved epoch.
func parseSince(raw string) (float64, error) {
	if raw == "" {
		return 0, fmt.Errorf("empty since value")
	}

	last := raw[len(raw)-1]
	var unit time.Duration
	switch last {
	case 's':
		unit = time.Second
	case 'm':
		unit = time.Minute
	case 'h':
		unit = time.Hour
	case 'd':
		unit = 24 * time.Hour
	case 'w':
		unit = 7 * 24 * time.Hour
	}

	if unit != 0 {
		n, err := strconv.ParseFloat(raw[:len(raw)-1], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid since value %q", raw)
		}
		return float64(time.Now().Add(-time.Duration(n * float64(unit))).Unix()), nil
	}

	epoch, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid since value %q", raw)
	}
	if epoch < minEpoch {
		return 0, fmt.Errorf("since epoch %q predates 2020-01-01", raw)
	}
	return epoch, nil
}
