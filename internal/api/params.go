package api

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/sonroyaalmerol/calendarbot/internal/timeutil"
)

// paramValidator checks one query value. A nil validator accepts anything.
type paramValidator func(value string) error

// paramSchema maps the allowed parameter names of one handler to their
// validators. Parameters outside the schema are rejected.
type paramSchema map[string]paramValidator

// validate checks a query against the schema and flattens it to a map. Only
// the first value of a repeated parameter is considered.
func (s paramSchema) validate(q url.Values) (map[string]string, error) {
	params := make(map[string]string, len(q))
	for key, vals := range q {
		validator, ok := s[key]
		if !ok {
			return nil, fmt.Errorf("unknown query parameter %q", key)
		}
		value := ""
		if len(vals) > 0 {
			value = vals[0]
		}
		if validator != nil {
			if err := validator(value); err != nil {
				return nil, err
			}
		}
		params[key] = value
	}
	return params, nil
}

func timezoneParam(v string) error {
	_, err := timeutil.LoadLocation(v)
	return err
}

func dateParam(v string) error {
	if _, err := time.Parse(time.DateOnly, v); err != nil {
		return fmt.Errorf("invalid date %q, expected YYYY-MM-DD", v)
	}
	return nil
}

func detailLevelParam(v string) error {
	switch v {
	case "brief", "normal", "detailed":
		return nil
	}
	return fmt.Errorf("invalid detail_level %q, expected brief, normal or detailed", v)
}

func maxEventsParam(v string) error {
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 || n > 20 {
		return fmt.Errorf("max_events must be an integer between 1 and 20")
	}
	return nil
}

func tzSchema() paramSchema {
	return paramSchema{"tz": timezoneParam}
}

func morningSchema() paramSchema {
	return paramSchema{
		"date":         dateParam,
		"timezone":     timezoneParam,
		"detail_level": detailLevelParam,
		"prefer_ssml":  nil,
		"max_events":   maxEventsParam,
	}
}
