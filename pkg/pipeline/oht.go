package pipeline

import "fmt"

// OHTTrack asks the UDP generator for one vehicle movement.
type OHTTrack struct {
	StartAddress       int    `json:"startAddress"`
	DestinationAddress int    `json:"destinationAddress"`
	OHTID              string `json:"ohtId"`
}

// OHTPair is one row of the track form. Disabled rows are not sent.
type OHTPair struct {
	Start       int
	Destination int
	Enabled     bool
}

// DefaultOHTPairs are the start/destination rows offered for new layouts.
// Only the first vehicle is enabled.
func DefaultOHTPairs() []OHTPair {
	starts := []int{100010, 100510, 101010, 101510, 102010, 102510, 103010, 103510, 104010, 105010}

	pairs := make([]OHTPair, len(starts))
	for i, start := range starts {
		pairs[i] = OHTPair{Start: start, Destination: start + 100, Enabled: i == 0}
	}

	return pairs
}

// TrackRequests keeps the enabled rows with both addresses set and names
// each vehicle by its row index.
func TrackRequests(pairs []OHTPair) []OHTTrack {
	tracks := make([]OHTTrack, 0, len(pairs))

	for i, pair := range pairs {
		if !pair.Enabled || pair.Start == 0 || pair.Destination == 0 {
			continue
		}

		tracks = append(tracks, OHTTrack{
			StartAddress:       pair.Start,
			DestinationAddress: pair.Destination,
			OHTID:              fmt.Sprintf("OHT_%d", i),
		})
	}

	return tracks
}
