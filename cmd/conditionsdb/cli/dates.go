package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var dateLayouts = []string{"2006-01-02", time.RFC3339, time.RFC3339Nano}

// parseDate accepts a calendar date (midnight UTC) or an RFC 3339 instant.
func parseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD or RFC 3339", s)
}

// dateFlag returns the parsed value of a date flag, or nil if it was not set.
func dateFlag(cmd *cobra.Command, name string) (*time.Time, error) {
	if !cmd.Flags().Changed(name) {
		return nil, nil
	}
	s, _ := cmd.Flags().GetString(name)
	t, err := parseDate(s)
	if err != nil {
		return nil, fmt.Errorf("--%s: %w", name, err)
	}
	return &t, nil
}
