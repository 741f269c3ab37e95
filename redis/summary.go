package redis

import (
	"context"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	summaryPrefix = "netprobe_summary:"
	summaryTTL    = time.Hour
)

// Summary describes a finished download or upload probe.
type Summary struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Result    string    `json:"result"`
	Bytes     int64     `json:"bytes"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

// SetSummary stores s under its ID.
func (c *Client) SetSummary(ctx context.Context, s *Summary) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, summaryPrefix+s.ID, data, summaryTTL).Err()
}

// GetSummary loads the summary stored for id. A missing key yields the
// go-redis Nil error.
func (c *Client) GetSummary(ctx context.Context, id string) (*Summary, error) {
	data, err := c.rdb.Get(ctx, summaryPrefix+id).Bytes()
	if err != nil {
		return nil, err
	}
	var s Summary
	err = json.Unmarshal(data, &s)
	return &s, err
}
