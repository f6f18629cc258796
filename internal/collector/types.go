// Package collector polls the public GBFS feed and persists station metadata
// and raw availability samples, the input of the analytics pipeline.
package collector

import "time"

// Station is the metadata row kept in sync from station_information.
type Station struct {
	ID       string
	Name     string
	Lat      float64
	Lon      float64
	Capacity int64
}

// Sample is one raw availability observation. AnchorsFree counts usable open
// docks; RecordedAt is the feed's last_reported instant, normalized to UTC.
type Sample struct {
	StationID      string
	BikesAvailable int64
	AnchorsFree    int64
	RecordedAt     time.Time
}

// gbfsDiscovery is the GBFS auto-discovery document: language -> feed list.
type gbfsDiscovery struct {
	Data map[string]struct {
		Feeds []gbfsFeed `json:"feeds"`
	} `json:"data"`
}

type gbfsFeed struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// gbfsStationInformation is the station_information feed payload.
type gbfsStationInformation struct {
	LastUpdated int64 `json:"last_updated"`
	Data        struct {
		Stations []gbfsStationInfo `json:"stations"`
	} `json:"data"`
}

type gbfsStationInfo struct {
	StationID string  `json:"station_id"`
	Name      string  `json:"name"`
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	Capacity  int64   `json:"capacity"`
}

// gbfsStationStatus is the station_status feed payload.
type gbfsStationStatus struct {
	LastUpdated int64 `json:"last_updated"`
	Data        struct {
		Stations []gbfsStationState `json:"stations"`
	} `json:"data"`
}

type gbfsStationState struct {
	StationID         string `json:"station_id"`
	NumBikesAvailable int64  `json:"num_bikes_available"`
	NumDocksAvailable int64  `json:"num_docks_available"`
	IsInstalled       int    `json:"is_installed"`
	IsRenting         int    `json:"is_renting"`
	IsReturning       int    `json:"is_returning"`
	LastReported      int64  `json:"last_reported"`
}
