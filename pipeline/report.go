package pipeline

import (
	"encoding/json"
	"fmt"
	"time"

	"wikistats/stats"
	"wikistats/wikipedia/pageviews"
)

type ProjectReport struct {
	Project   string             `json:"Project"`
	Dump      string             `json:"Dump,omitempty"`
	Snapshot  string             `json:"Snapshot"`
	Pages     int                `json:"Articles,omitempty"`
	Merge     *stats.MergeStats  `json:"Merge"`
	Pageviews *pageviews.Metrics `json:"Pageviews,omitempty"`
}

type Report struct {
	Category string           `json:"Category"`
	UpToDate bool             `json:"Up To Date"`
	Window   *Window          `json:"Window,omitempty"`
	Marker   time.Time        `json:"Last Update,omitempty"`
	Projects []*ProjectReport `json:"Projects"`
	Duration time.Duration    `json:"Duration"`
}

func (r *Report) PrintMetrics() error {
	fmt.Printf("\n\n")
	fmt.Printf("Metrics:\n")

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	fmt.Printf("%s\n", string(data))

	return nil
}
