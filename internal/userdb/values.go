package userdb

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// TimestampFormat is the textual wire format for date-typed changelog columns.
// Values are interpreted as UTC and stored as unix seconds.
const TimestampFormat = "2006-01-02 15:04:05"

func assignString(dst *string, value any) error {
	switch v := value.(type) {
	case string:
		*dst = v
		return nil
	case []byte:
		// MySQL scans text columns into raw bytes.
		*dst = string(v)
		return nil
	default:
		return fmt.Errorf("%w: expected string, got %T", ErrColumnValue, value)
	}
}

func assignStringPtr(dst **string, value any) error {
	if value == nil {
		*dst = nil
		return nil
	}
	var s string
	if err := assignString(&s, value); err != nil {
		return err
	}
	*dst = &s
	return nil
}

func assignInt64(dst *int64, value any) error {
	switch v := value.(type) {
	case int64:
		*dst = v
	case int:
		*dst = int64(v)
	case int32:
		*dst = int64(v)
	case uint64:
		*dst = int64(v)
	case float64:
		*dst = int64(v)
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return fmt.Errorf("%w: %q is not an integer", ErrColumnValue, v.String())
		}
		*dst = n
	case []byte:
		n, err := strconv.ParseInt(string(v), 10, 64)
		if err != nil {
			return fmt.Errorf("%w: %q is not an integer", ErrColumnValue, string(v))
		}
		*dst = n
	default:
		return fmt.Errorf("%w: expected integer, got %T", ErrColumnValue, value)
	}
	return nil
}

func assignInt64Ptr(dst **int64, value any) error {
	if value == nil {
		*dst = nil
		return nil
	}
	var n int64
	if err := assignInt64(&n, value); err != nil {
		return err
	}
	*dst = &n
	return nil
}

// assignTime accepts the textual timestamp format, raw unix seconds, or a
// native time value (authoritative rows arrive typed).
func assignTime(dst *int64, value any) error {
	switch v := value.(type) {
	case string:
		parsed, err := time.ParseInLocation(TimestampFormat, v, time.UTC)
		if err != nil {
			return fmt.Errorf("%w: %q is not a %q timestamp", ErrColumnValue, v, TimestampFormat)
		}
		*dst = parsed.Unix()
		return nil
	case []byte:
		// MySQL scans DATETIME columns into raw bytes of the textual form;
		// integer columns arrive the same way.
		if parsed, err := time.ParseInLocation(TimestampFormat, string(v), time.UTC); err == nil {
			*dst = parsed.Unix()
			return nil
		}
		return assignInt64(dst, value)
	case time.Time:
		*dst = v.Unix()
		return nil
	default:
		return assignInt64(dst, value)
	}
}

func assignTimePtr(dst **int64, value any) error {
	if value == nil {
		*dst = nil
		return nil
	}
	var n int64
	if err := assignTime(&n, value); err != nil {
		return err
	}
	*dst = &n
	return nil
}

func assignBool(dst *bool, value any) error {
	switch v := value.(type) {
	case bool:
		*dst = v
		return nil
	default:
		var n int64
		if err := assignInt64(&n, value); err != nil {
			return fmt.Errorf("%w: expected boolean, got %T", ErrColumnValue, value)
		}
		*dst = n != 0
		return nil
	}
}
